// Package simulate provides a UDP-speaking simulated Besmart-family
// thermostat hub, for exercising a running besimd instance end to
// end without real hardware. It is grounded on the teacher's
// PTY-based device simulator (pkg/meshtastic/simulator/device.go):
// same Config/New/Start/Stop shape, a background read loop and a
// background periodic-report loop, adapted from a Meshtastic serial
// framer to the besimd Frame/Wrapper codec over a connected UDP
// socket.
package simulate

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/besim-project/besimd/internal/logging"
	"github.com/besim-project/besimd/pkg/protocol"
)

// RoomState is one simulated room's thermostat state.
type RoomState struct {
	ID              uint32
	Temp            int16
	SetTemp         int16
	T1, T2, T3      int16
	MinSetpoint     int16
	MaxSetpoint     int16
	Mode            byte
	TempCurve       byte
	HeatingSetpoint byte
	Units           byte
	SensorInfluence byte
	Advance         bool
	Winter          bool
	Heating         bool
}

// Config holds a simulated device's identity and reporting behavior.
type Config struct {
	DeviceID       uint32
	ServerAddr     string
	Version        string
	StatusInterval time.Duration
	PingInterval   time.Duration
	Rooms          []RoomState
	Verbose        bool
}

// DefaultConfig returns a single-room device with plausible values.
func DefaultConfig() Config {
	return Config{
		DeviceID:       0x12345678,
		ServerAddr:     "127.0.0.1:6199",
		Version:        "SIM-1.0.0",
		StatusInterval: 60 * time.Second,
		PingInterval:   30 * time.Second,
		Rooms: []RoomState{
			{
				ID: 1, Temp: 205, SetTemp: 210,
				T1: 180, T2: 200, T3: 220,
				MinSetpoint: 100, MaxSetpoint: 300,
				Mode: 2, Winter: true,
			},
		},
	}
}

// Device simulates a thermostat hub speaking the wire protocol over
// a connected UDP socket.
type Device struct {
	config Config
	logger *zap.Logger

	mu      sync.Mutex
	conn    *net.UDPConn
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	rooms   map[uint32]*RoomState
	seq     uint32
}

// New creates a simulated device from config.
func New(config Config) *Device {
	rooms := make(map[uint32]*RoomState, len(config.Rooms))
	for _, r := range config.Rooms {
		room := r
		rooms[room.ID] = &room
	}
	return &Device{
		config: config,
		logger: logging.With(zap.String("component", "simulate"), zap.Uint32("device", config.DeviceID)),
		rooms:  rooms,
	}
}

// Start dials the server address and starts the receive and
// periodic-report loops.
func (d *Device) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", d.config.ServerAddr)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("simulate: resolve %s: %w", d.config.ServerAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("simulate: dial %s: %w", d.config.ServerAddr, err)
	}

	d.conn = conn
	d.running = true
	d.stopCh = make(chan struct{})
	d.seq = uint32(rand.Intn(1 << 30))
	d.mu.Unlock()

	d.wg.Add(2)
	go d.readLoop(ctx)
	go d.reportLoop(ctx)

	d.logger.Info("simulated device started", zap.String("server", d.config.ServerAddr))
	return nil
}

// Stop closes the socket and waits for both background loops to exit.
func (d *Device) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.stopCh)
	conn := d.conn
	d.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	d.wg.Wait()
	return nil
}

func (d *Device) nextSeq() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	return d.seq
}

func (d *Device) send(id protocol.MsgID, response, write bool, body []byte) error {
	wrapped := protocol.EncodeUplink(id, response, write, body)
	frame := &protocol.Frame{Payload: wrapped}
	raw := frame.Encode(d.nextSeq())

	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("simulate: device not running")
	}
	if _, err := conn.Write(raw); err != nil {
		return fmt.Errorf("simulate: write: %w", err)
	}
	return nil
}

func (d *Device) readLoop(ctx context.Context) {
	defer d.wg.Done()

	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		default:
		}

		d.mu.Lock()
		conn := d.conn
		d.mu.Unlock()
		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-d.stopCh:
				return
			default:
				continue
			}
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		d.handleDatagram(datagram)
	}
}

func (d *Device) handleDatagram(datagram []byte) {
	frame, err := protocol.DecodeFrame(datagram)
	if err != nil {
		d.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}
	w, warning, err := protocol.DecodeWrapper(frame.Payload)
	if err != nil {
		d.logger.Warn("dropping malformed message", zap.Error(err))
		return
	}
	if warning != "" {
		d.logger.Debug("unexpected field in downlink", zap.String("detail", warning))
	}

	prefix, rest, err := protocol.DecodeCommonPrefix(w.Body)
	if err != nil {
		d.logger.Warn("dropping message without common prefix", zap.Error(err))
		return
	}

	switch w.MsgID {
	case protocol.MsgRefresh:
		d.sendStatus()
	case protocol.MsgGetProg:
		d.handleGetProg(prefix, rest)
	case protocol.MsgProgram:
		d.handleProgramDownlink(prefix, rest, w)
	case protocol.MsgSWVersion:
		d.handleSWVersionDownlink(prefix, w)
	case protocol.MsgOutsideTemp, protocol.MsgDeviceTime:
		d.ackScalar(prefix, rest, w)
	default:
		if width, ok := w.MsgID.IsSet(); ok {
			d.handleSetDownlink(prefix, rest, w, width)
		} else {
			d.logger.Debug("ignoring unhandled downlink", zap.String("msg", w.MsgID.String()))
		}
	}
}

func (d *Device) handleSetDownlink(prefix protocol.CommonPrefix, rest []byte, w *protocol.Wrapper, width int) {
	if w.Response {
		return
	}

	var room uint32
	var value int16
	var err error

	if width == 2 {
		var v int16
		room, v, err = protocol.DecodeRoomValue16(rest)
		value = v
	} else {
		var v byte
		room, v, err = protocol.DecodeRoomValue8(rest)
		value = int16(v)
	}
	if err != nil {
		d.logger.Warn("malformed set downlink", zap.String("msg", w.MsgID.String()), zap.Error(err))
		return
	}

	d.mu.Lock()
	r, ok := d.rooms[room]
	if !ok {
		r = &RoomState{ID: room}
		d.rooms[room] = r
	}
	switch w.MsgID {
	case protocol.MsgSetT1:
		r.T1 = value
	case protocol.MsgSetT2:
		r.T2 = value
	case protocol.MsgSetT3:
		r.T3 = value
	case protocol.MsgSetMinHeatSetp:
		r.MinSetpoint = value
	case protocol.MsgSetMaxHeatSetp:
		r.MaxSetpoint = value
	case protocol.MsgSetUnits:
		r.Units = byte(value)
	case protocol.MsgSetSeason:
		r.Winter = value != 0
	case protocol.MsgSetSensorInfluence:
		r.SensorInfluence = byte(value)
	case protocol.MsgSetCurve:
		r.TempCurve = byte(value)
	case protocol.MsgSetAdvance:
		r.Advance = value != 0
	case protocol.MsgSetMode:
		r.Mode = byte(value)
	}
	d.mu.Unlock()

	ackPrefix := protocol.EncodeCommonPrefix(prefix)
	var ackBody []byte
	if width == 2 {
		ackBody = protocol.EncodeRoomValue16(room, value)
	} else {
		ackBody = protocol.EncodeRoomValue8(room, byte(value))
	}
	if err := d.send(w.MsgID, true, w.Write, append(ackPrefix, ackBody...)); err != nil {
		d.logger.Error("failed to ack set", zap.String("msg", w.MsgID.String()), zap.Error(err))
	}
}

// handleGetProg acks the request, then streams a week of PROGRAM
// uplinks for room followed by PROG_END, the way spec §4.5 describes
// the embedded device trickling its schedule back.
func (d *Device) handleGetProg(prefix protocol.CommonPrefix, rest []byte) {
	if len(rest) < 4 {
		d.logger.Warn("malformed get_prog downlink")
		return
	}
	room := binary.LittleEndian.Uint32(rest[0:4])

	ackPrefix := protocol.EncodeCommonPrefix(prefix)
	if err := d.send(protocol.MsgGetProg, true, false, append(ackPrefix, rest...)); err != nil {
		d.logger.Error("failed to ack get_prog", zap.Error(err))
		return
	}

	go d.streamProgram(room)
}

func (d *Device) streamProgram(room uint32) {
	var schedule [protocol.ProgramDaySize]byte
	for i := range schedule {
		schedule[i] = 0x16
	}

	for day := uint16(0); day < 7; day++ {
		body := append(protocol.EncodeCommonPrefix(protocol.CommonPrefix{CSeq: protocol.UnusedCSeq, Device: d.config.DeviceID}),
			protocol.EncodeProgramBody(protocol.ProgramBody{Room: room, Day: day, Schedule: schedule})...)
		if err := d.send(protocol.MsgProgram, false, true, body); err != nil {
			d.logger.Error("failed to send program day", zap.Uint16("day", day), zap.Error(err))
			return
		}
		time.Sleep(50 * time.Millisecond)
	}

	endBody := append(protocol.EncodeCommonPrefix(protocol.CommonPrefix{CSeq: protocol.UnusedCSeq, Device: d.config.DeviceID}),
		protocol.EncodeProgEndBody(room)...)
	if err := d.send(protocol.MsgProgEnd, false, false, endBody); err != nil {
		d.logger.Error("failed to send prog_end", zap.Error(err))
	}
}

func (d *Device) handleProgramDownlink(prefix protocol.CommonPrefix, rest []byte, w *protocol.Wrapper) {
	p, err := protocol.DecodeProgramBody(rest)
	if err != nil {
		d.logger.Warn("malformed program downlink", zap.Error(err))
		return
	}
	if w.Response {
		return
	}

	d.mu.Lock()
	if _, ok := d.rooms[p.Room]; !ok {
		d.rooms[p.Room] = &RoomState{ID: p.Room}
	}
	d.mu.Unlock()

	ackPrefix := protocol.EncodeCommonPrefix(prefix)
	body := append(ackPrefix, protocol.EncodeProgramBody(p)...)
	if err := d.send(protocol.MsgProgram, true, w.Write, body); err != nil {
		d.logger.Error("failed to ack program", zap.Error(err))
	}
}

func (d *Device) handleSWVersionDownlink(prefix protocol.CommonPrefix, w *protocol.Wrapper) {
	if w.Response {
		return
	}
	ackPrefix := protocol.EncodeCommonPrefix(prefix)
	body := append(ackPrefix, protocol.EncodeSWVersionBody(d.config.Version)...)
	if err := d.send(protocol.MsgSWVersion, true, w.Write, body); err != nil {
		d.logger.Error("failed to ack swversion", zap.Error(err))
	}
}

// ackScalar handles OUTSIDE_TEMP and DEVICE_TIME downlinks, which the
// sender issues fire-and-forget (spec never waits on their cseq) but
// which the real device still acknowledges on the wire.
func (d *Device) ackScalar(prefix protocol.CommonPrefix, rest []byte, w *protocol.Wrapper) {
	if w.Response {
		return
	}
	ackPrefix := protocol.EncodeCommonPrefix(prefix)
	if err := d.send(w.MsgID, true, w.Write, append(ackPrefix, rest...)); err != nil {
		d.logger.Error("failed to ack scalar", zap.String("msg", w.MsgID.String()), zap.Error(err))
	}
}

func (d *Device) reportLoop(ctx context.Context) {
	defer d.wg.Done()

	statusTicker := time.NewTicker(d.config.StatusInterval)
	defer statusTicker.Stop()
	pingTicker := time.NewTicker(d.config.PingInterval)
	defer pingTicker.Stop()

	d.sendStatus()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-statusTicker.C:
			d.sendStatus()
		case <-pingTicker.C:
			d.sendPing()
		}
	}
}

func (d *Device) sendStatus() {
	d.mu.Lock()
	var slots [protocol.StatusRoomSlotCount]protocol.StatusRoomSlot
	i := 0
	for _, r := range d.rooms {
		if i >= protocol.StatusRoomSlotCount {
			break
		}
		presence := byte(0x83)
		if r.Heating {
			presence = 0x8f
		}
		flags3 := (r.SensorInfluence << 3) | (r.Units << 2)
		if r.Advance {
			flags3 |= 1 << 1
		}
		var flags4 byte
		if r.Winter {
			flags4 |= 1
		}
		slots[i] = protocol.StatusRoomSlot{
			Room: r.ID, Presence: presence, ModeByte: r.Mode << 4,
			Temp: r.Temp, SetTemp: r.SetTemp, T3: r.T3, T2: r.T2, T1: r.T1,
			MaxSetpoint: r.MaxSetpoint, MinSetpoint: r.MinSetpoint,
			Flags3: flags3, Flags4: flags4,
			TempCurve: r.TempCurve, HeatingSetpoint: r.HeatingSetpoint,
		}
		i++
	}
	deviceID := d.config.DeviceID
	d.mu.Unlock()

	var telemetry protocol.StatusTelemetry
	telemetry.BoilerHeating = true
	telemetry.WifiSignal = 200
	telemetry.Values[protocol.TFLOIndex] = 450
	telemetry.Values[protocol.TdHIndex] = 480
	telemetry.Values[protocol.TEStIndex] = 95

	body := protocol.EncodeCommonPrefix(protocol.CommonPrefix{CSeq: protocol.UnusedCSeq, Device: deviceID})
	body = append(body, protocol.EncodeStatusRoomSlots(slots)...)
	body = append(body, protocol.EncodeStatusTelemetry(telemetry)...)

	if err := d.send(protocol.MsgStatus, false, false, body); err != nil {
		d.logger.Error("failed to send status", zap.Error(err))
	}
}

func (d *Device) sendPing() {
	value := make([]byte, 2)
	binary.LittleEndian.PutUint16(value, 1)
	body := append(protocol.EncodeCommonPrefix(protocol.CommonPrefix{CSeq: protocol.UnusedCSeq, Device: d.config.DeviceID}), value...)
	if err := d.send(protocol.MsgPing, false, false, body); err != nil {
		d.logger.Error("failed to send ping", zap.Error(err))
	}
}

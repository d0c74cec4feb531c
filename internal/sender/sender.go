// Package sender implements the typed "send <MSG>(...)" operations the
// HTTP layer uses to command a device: each builds the message body,
// wraps and frames it, transmits to the device's last known address,
// and optionally blocks on the sequence coordinator for a correlated
// reply (spec §4.6).
package sender

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/besim-project/besimd/internal/logging"
	"github.com/besim-project/besimd/internal/shadow"
	"github.com/besim-project/besimd/internal/transport"
	"github.com/besim-project/besimd/pkg/protocol"
)

// Sender issues downlink commands against devices known to store.
type Sender struct {
	socket *transport.Socket
	store  *shadow.Store
	logger *zap.Logger
}

// New returns a Sender that transmits over socket and allocates
// sequence numbers against store.
func New(socket *transport.Socket, store *shadow.Store) *Sender {
	return &Sender{
		socket: socket,
		store:  store,
		logger: logging.With(zap.String("component", "sender")),
	}
}

// ErrUnknownDevice is returned when a send is attempted against a
// device id the store has never observed an address for.
var ErrUnknownDevice = fmt.Errorf("sender: device has no known address")

// dispatch allocates a cseq (or uses UnusedCSeq when wait <= 0, since
// an unsolicited send never expects a correlated reply), transmits,
// and — if wait > 0 — blocks for the result.
func (s *Sender) dispatch(deviceID uint32, id protocol.MsgID, write bool, tail []byte, wait time.Duration) (any, error) {
	addr := s.store.DeviceAddr(deviceID)
	if addr == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDevice, deviceID)
	}

	var cseq byte
	if wait > 0 {
		cseq = s.store.AllocateCSeq(deviceID, true, wait)
	} else {
		cseq = protocol.UnusedCSeq
	}

	body := append(protocol.EncodeCommonPrefix(protocol.CommonPrefix{CSeq: cseq, Device: deviceID}), tail...)
	if err := s.socket.Send(addr, id, false, write, body); err != nil {
		return nil, err
	}

	if wait <= 0 {
		return nil, nil
	}
	return s.store.WaitCSeq(deviceID, cseq), nil
}

// Ping requests a heartbeat ack from the device. PING is device-
// initiated on the wire (spec §4.3); this exists for manual testing
// and the device simulator rather than routine HTTP use.
func (s *Sender) Ping(deviceID uint32) error {
	_, err := s.dispatch(deviceID, protocol.MsgPing, false, nil, 0)
	return err
}

// GetProg requests the weekly program for room and, if wait > 0,
// blocks for the correlated reply. The schedule itself arrives
// separately via PROGRAM uplinks.
func (s *Sender) GetProg(deviceID, room uint32, wait time.Duration) (any, error) {
	return s.dispatch(deviceID, protocol.MsgGetProg, false, protocol.EncodeGetProgBody(room), wait)
}

// SWVersion requests the device's firmware version string.
func (s *Sender) SWVersion(deviceID uint32, wait time.Duration) (string, error) {
	result, err := s.dispatch(deviceID, protocol.MsgSWVersion, false, nil, wait)
	if err != nil {
		return "", err
	}
	version, _ := result.(string)
	return version, nil
}

// Program pushes a 24-hour schedule for (room, day).
func (s *Sender) Program(deviceID, room uint32, day uint16, schedule [protocol.ProgramDaySize]byte, wait time.Duration) (any, error) {
	tail := protocol.EncodeProgramBody(protocol.ProgramBody{Room: room, Day: day, Schedule: schedule})
	return s.dispatch(deviceID, protocol.MsgProgram, true, tail, wait)
}

// RequestStatus asks the device to report its current state. The wire
// protocol has no dedicated downlink STATUS request id — REFRESH is
// the closest documented fit, and the device's reply arrives as an
// ordinary STATUS uplink through the dispatcher (see DESIGN.md).
func (s *Sender) RequestStatus(deviceID uint32) error {
	return s.Refresh(deviceID)
}

// Refresh asks the device to resend its full state.
func (s *Sender) Refresh(deviceID uint32) error {
	_, err := s.dispatch(deviceID, protocol.MsgRefresh, false, nil, 0)
	return err
}

// Set writes a room-scoped scalar setting (SET_T1/T2/T3, SET_MIN/MAX_HEAT_SETP,
// SET_MODE, SET_UNITS, SET_SEASON, SET_SENSOR_INFLUENCE, SET_CURVE,
// SET_ADVANCE). width is looked up from the message registry so the
// caller can't mismatch value encoding. Returns the echoed value on a
// correlated reply.
func (s *Sender) Set(deviceID, room uint32, id protocol.MsgID, value int16, wait time.Duration) (any, error) {
	width, ok := id.IsSet()
	if !ok {
		return nil, fmt.Errorf("sender: %s is not a SET-family message", id)
	}

	var tail []byte
	if width == 2 {
		tail = protocol.EncodeRoomValue16(room, value)
	} else {
		tail = protocol.EncodeRoomValue8(room, byte(value))
	}

	return s.dispatch(deviceID, id, true, tail, wait)
}

// OutsideTemp selects the device's outside-temperature source: 0 off,
// 1 boiler-measured, 2 web (this server's weather fetch).
func (s *Sender) OutsideTemp(deviceID uint32, mode byte) error {
	_, err := s.dispatch(deviceID, protocol.MsgOutsideTemp, true, protocol.EncodeOutsideTempBody(mode), 0)
	return err
}

// DeviceTime pushes the daylight-saving flag to the device.
func (s *Sender) DeviceTime(deviceID uint32, dst byte, trailingPadding int) error {
	_, err := s.dispatch(deviceID, protocol.MsgDeviceTime, true, protocol.EncodeDeviceTimeBody(dst, trailingPadding), 0)
	return err
}

// ProgEnd signals the device that no further PROGRAM messages follow
// for room.
func (s *Sender) ProgEnd(deviceID, room uint32) error {
	_, err := s.dispatch(deviceID, protocol.MsgProgEnd, false, protocol.EncodeProgEndBody(room), 0)
	return err
}

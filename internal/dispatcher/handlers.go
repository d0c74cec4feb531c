package dispatcher

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/besim-project/besimd/internal/shadow"
	"github.com/besim-project/besimd/pkg/protocol"
)

func (d *Dispatcher) handleStatus(addr net.Addr, prefix protocol.CommonPrefix, rest []byte, w *protocol.Wrapper) int {
	slots, after, err := protocol.DecodeStatusRoomSlots(rest)
	if err != nil {
		d.logger.Warn("malformed status room slots", zap.Error(err))
		return len(rest)
	}

	telemetry, teleErr := protocol.DecodeStatusTelemetry(after)
	if teleErr != nil {
		d.logger.Warn("malformed status telemetry block", zap.Error(teleErr))
	}

	now := time.Now()
	var followUps []uint32

	d.withDevice(prefix.Device, addr, func(dev *shadow.Device) {
		dev.LastSeen = now

		if teleErr == nil {
			dev.WifiSignal = telemetry.WifiSignal
			dev.BoilerHeating = telemetry.BoilerHeating
			dev.DHWMode = telemetry.DHWMode
			dev.TFLO = telemetry.Values[protocol.TFLOIndex]
			dev.TdH = telemetry.Values[protocol.TdHIndex]
			dev.TESt = telemetry.Values[protocol.TEStIndex]
		}

		for _, slot := range slots {
			if slot.Presence == 0 {
				continue
			}

			room, ok := dev.Rooms[slot.Room]
			if !ok {
				room = &shadow.Room{ID: slot.Room, Days: make(map[uint16][24]byte)}
				dev.Rooms[slot.Room] = room
			}

			room.Temp = slot.Temp
			room.SetTemp = slot.SetTemp
			room.T3 = slot.T3
			room.T2 = slot.T2
			room.T1 = slot.T1
			room.MaxSetpoint = slot.MaxSetpoint
			// spec §9 open question: one firmware revision overwrites
			// minsetp with maxsetp's value. Preserved, not fixed.
			room.MinSetpoint = slot.MaxSetpoint
			room.Mode = slot.ModeByte >> 4
			room.SensorInfluence = (slot.Flags3 >> 3) & 0xf
			room.Units = (slot.Flags3 >> 2) & 1
			room.Advance = slot.Flags3&(1<<1) != 0
			room.Boost = slot.Flags4&(1<<2) != 0
			room.CmdIssued = slot.Flags4&(1<<1) != 0
			room.Winter = slot.Flags4&1 != 0
			room.TempCurve = slot.TempCurve
			room.HeatingSetpoint = slot.HeatingSetpoint
			room.LastSeen = now

			switch slot.Presence {
			case 0x8f:
				on := true
				room.Heating = &on
			case 0x83:
				off := false
				room.Heating = &off
			default:
				room.Heating = nil
			}

			if len(room.Days) < 7 || w.CloudSyncLost {
				followUps = append(followUps, slot.Room)
			}
		}
	})

	d.send(addr, protocol.MsgStatus, true, false, protocol.EncodeStatusAckBody(now.Unix()))

	if len(followUps) > 0 {
		go d.sendFollowUpGetProgs(addr, prefix.Device, followUps)
	}

	if w.CloudSyncLost && d.resyncOnSyncLost {
		go d.sendResyncSequence(addr, prefix.Device)
	}

	return protocol.StatusRoomSlotsSize + protocol.StatusTelemetrySize
}

// sendResyncSequence re-requests firmware version, full status and
// device time from a device that reported CloudSyncLost, spaced by
// followUpDelay the same way sendFollowUpGetProgs is, since the
// embedded device can't absorb back-to-back requests. Disabled by
// default (dispatcher.resync_on_sync_lost); the original server shipped
// this path commented out pending further field testing.
func (d *Dispatcher) sendResyncSequence(addr net.Addr, deviceID uint32) {
	time.Sleep(followUpDelay)
	cseq := d.store.AllocateCSeq(deviceID, false, 0)
	body := protocol.EncodeCommonPrefix(protocol.CommonPrefix{CSeq: cseq, Device: deviceID})
	d.send(addr, protocol.MsgSWVersion, false, false, body)

	time.Sleep(followUpDelay)
	cseq = d.store.AllocateCSeq(deviceID, false, 0)
	body = protocol.EncodeCommonPrefix(protocol.CommonPrefix{CSeq: cseq, Device: deviceID})
	d.send(addr, protocol.MsgRefresh, false, false, body)

	time.Sleep(followUpDelay)
	cseq = d.store.AllocateCSeq(deviceID, false, 0)
	body = append(protocol.EncodeCommonPrefix(protocol.CommonPrefix{CSeq: cseq, Device: deviceID}), protocol.EncodeDeviceTimeBody(0, 0)...)
	d.send(addr, protocol.MsgDeviceTime, false, true, body)
}

// sendFollowUpGetProgs waits followUpDelay before each fire-and-forget
// GET_PROG in rooms, sent one at a time in this single goroutine, since
// the embedded device cannot keep up with back-to-back requests. Each
// allocated cseq rolls the device's counter forward but parks no
// waiter.
func (d *Dispatcher) sendFollowUpGetProgs(addr net.Addr, deviceID uint32, rooms []uint32) {
	for _, room := range rooms {
		time.Sleep(followUpDelay)

		cseq := d.store.AllocateCSeq(deviceID, false, 0)
		body := append(protocol.EncodeCommonPrefix(protocol.CommonPrefix{CSeq: cseq, Device: deviceID}), protocol.EncodeGetProgBody(room)...)
		d.send(addr, protocol.MsgGetProg, false, false, body)
	}
}

func (d *Dispatcher) handlePing(addr net.Addr, prefix protocol.CommonPrefix, rest []byte) int {
	if _, err := protocol.DecodePingBody(rest); err != nil {
		d.logger.Warn("malformed ping body", zap.Error(err))
		return len(rest)
	}

	d.withDevice(prefix.Device, addr, func(dev *shadow.Device) {
		dev.LastSeen = time.Now()
	})

	ackPrefix := protocol.EncodeCommonPrefix(protocol.CommonPrefix{CSeq: protocol.UnusedCSeq, Device: prefix.Device})
	body := append(ackPrefix, protocol.EncodePingAckBody()...)
	d.send(addr, protocol.MsgPing, true, true, body)

	return 2
}

func (d *Dispatcher) handleProgram(addr net.Addr, prefix protocol.CommonPrefix, rest []byte, w *protocol.Wrapper) int {
	p, err := protocol.DecodeProgramBody(rest)
	if err != nil {
		d.logger.Warn("malformed program body", zap.Error(err))
		return len(rest)
	}

	d.withDevice(prefix.Device, addr, func(dev *shadow.Device) {
		room, ok := dev.Rooms[p.Room]
		if !ok {
			room = &shadow.Room{ID: p.Room, Days: make(map[uint16][24]byte)}
			dev.Rooms[p.Room] = room
		}
		room.Days[p.Day] = p.Schedule
		room.LastSeen = time.Now()
	})

	if !w.Response {
		echoPrefix := protocol.EncodeCommonPrefix(prefix)
		body := append(echoPrefix, protocol.EncodeProgramBody(p)...)
		d.send(addr, protocol.MsgProgram, true, w.Write, body)
	}

	return 4 + 2 + protocol.ProgramDaySize
}

func (d *Dispatcher) handleProgEnd(addr net.Addr, prefix protocol.CommonPrefix, rest []byte, w *protocol.Wrapper) int {
	room, _, err := protocol.DecodeProgEndBody(rest)
	if err != nil {
		d.logger.Warn("malformed prog_end body", zap.Error(err))
		return len(rest)
	}

	if !w.Response {
		echoPrefix := protocol.EncodeCommonPrefix(prefix)
		body := append(echoPrefix, protocol.EncodeProgEndBody(room)...)
		d.send(addr, protocol.MsgProgEnd, true, w.Write, body)
	}

	return 6
}

func (d *Dispatcher) handleSWVersion(addr net.Addr, prefix protocol.CommonPrefix, rest []byte, w *protocol.Wrapper) int {
	version, err := protocol.DecodeSWVersionBody(rest)
	if err != nil {
		d.logger.Warn("malformed swversion body", zap.Error(err))
		return len(rest)
	}

	d.withDevice(prefix.Device, addr, func(dev *shadow.Device) {
		dev.Version = version
	})

	if w.Response {
		d.store.SignalCSeq(prefix.Device, prefix.CSeq, version)
	} else {
		echoPrefix := protocol.EncodeCommonPrefix(prefix)
		d.send(addr, protocol.MsgSWVersion, true, w.Write, echoPrefix)
	}

	return protocol.SWVersionLen
}

// handleScalarReply handles GET_PROG, REFRESH, DEVICE_TIME and
// OUTSIDE_TEMP uplinks, which the spec says only ever arrive as
// responses to a downlink we issued.
func (d *Dispatcher) handleScalarReply(prefix protocol.CommonPrefix, rest []byte, w *protocol.Wrapper) int {
	last := d.store.LastCSeq(prefix.Device)
	if prefix.CSeq != last {
		d.logger.Warn("reply cseq does not match last allocated",
			zap.String("msg", w.MsgID.String()),
			zap.Uint8("got", prefix.CSeq),
			zap.Uint8("want", last))
	}

	var value any
	consumed := 0
	switch w.MsgID {
	case protocol.MsgOutsideTemp:
		v, err := protocol.DecodeOutsideTempBody(rest)
		if err != nil {
			d.logger.Warn("malformed outside_temp reply", zap.Error(err))
			return len(rest)
		}
		value, consumed = v, 1
	default:
		// GET_PROG/REFRESH/DEVICE_TIME replies carry no scalar the
		// dispatcher needs beyond acking the waiter; the actual
		// weekly program arrives via subsequent PROGRAM uplinks.
		value, consumed = struct{}{}, len(rest)
	}

	d.store.SignalCSeq(prefix.Device, prefix.CSeq, value)
	return consumed
}

func (d *Dispatcher) handleSet(addr net.Addr, prefix protocol.CommonPrefix, rest []byte, w *protocol.Wrapper, width int) int {
	var room uint32
	var value int16
	var consumed int
	var err error

	if width == 2 {
		var v int16
		room, v, err = protocol.DecodeRoomValue16(rest)
		value = v
		consumed = 6
	} else {
		var v byte
		room, v, err = protocol.DecodeRoomValue8(rest)
		value = int16(v)
		consumed = 5
	}
	if err != nil {
		d.logger.Warn("malformed set body", zap.String("msg", w.MsgID.String()), zap.Error(err))
		return len(rest)
	}

	d.withDevice(prefix.Device, addr, func(dev *shadow.Device) {
		r, ok := dev.Rooms[room]
		if !ok {
			r = &shadow.Room{ID: room, Days: make(map[uint16][24]byte)}
			dev.Rooms[room] = r
		}
		r.LastSeen = time.Now()

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
	})

	if w.Response {
		d.store.SignalCSeq(prefix.Device, prefix.CSeq, value)
		return consumed
	}

	// The device initiated this change locally; echo it back so the
	// device considers the write acknowledged (spec §4.5).
	echoPrefix := protocol.EncodeCommonPrefix(prefix)
	var echoBody []byte
	if width == 2 {
		echoBody = protocol.EncodeRoomValue16(room, value)
	} else {
		echoBody = protocol.EncodeRoomValue8(room, byte(value))
	}
	d.send(addr, w.MsgID, true, true, append(echoPrefix, echoBody...))

	return consumed
}

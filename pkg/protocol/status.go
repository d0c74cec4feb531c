package protocol

import (
	"encoding/binary"
	"fmt"
)

// StatusRoomSlotCount is the number of fixed-size room slots carried in
// every STATUS body (spec §4.5).
const StatusRoomSlotCount = 8

// statusRoomSlotSize is the wire width of one StatusRoomSlot.
const statusRoomSlotSize = 26

// StatusRoomSlotsSize is the total wire width of the eight room slots.
const StatusRoomSlotsSize = StatusRoomSlotCount * statusRoomSlotSize

// StatusRoomSlot is the decoded form of one of the eight fixed-size
// room slots inside a STATUS body. A slot with Presence == 0 carries
// no room and its other fields are meaningless.
type StatusRoomSlot struct {
	Room            uint32
	Presence        byte
	ModeByte        byte
	Temp            int16
	SetTemp         int16
	T3              int16
	T2              int16
	T1              int16
	MaxSetpoint     int16
	MinSetpoint     int16
	Flags3          byte
	Flags4          byte
	Unk             uint16
	TempCurve       byte
	HeatingSetpoint byte
}

// DecodeStatusRoomSlots reads StatusRoomSlotCount fixed-size slots from
// the front of body and returns them along with whatever bytes follow
// (the OpenTherm telemetry block).
func DecodeStatusRoomSlots(body []byte) ([StatusRoomSlotCount]StatusRoomSlot, []byte, error) {
	var slots [StatusRoomSlotCount]StatusRoomSlot

	need := StatusRoomSlotCount * statusRoomSlotSize
	if len(body) < need {
		return slots, nil, fmt.Errorf("%w: status body has %d bytes, need %d for room slots", ErrMalformedMessage, len(body), need)
	}

	for i := 0; i < StatusRoomSlotCount; i++ {
		b := body[i*statusRoomSlotSize : (i+1)*statusRoomSlotSize]
		slots[i] = StatusRoomSlot{
			Room:            binary.LittleEndian.Uint32(b[0:4]),
			Presence:        b[4],
			ModeByte:        b[5],
			Temp:            int16(binary.LittleEndian.Uint16(b[6:8])),
			SetTemp:         int16(binary.LittleEndian.Uint16(b[8:10])),
			T3:              int16(binary.LittleEndian.Uint16(b[10:12])),
			T2:              int16(binary.LittleEndian.Uint16(b[12:14])),
			T1:              int16(binary.LittleEndian.Uint16(b[14:16])),
			MaxSetpoint:     int16(binary.LittleEndian.Uint16(b[16:18])),
			MinSetpoint:     int16(binary.LittleEndian.Uint16(b[18:20])),
			Flags3:          b[20],
			Flags4:          b[21],
			Unk:             binary.LittleEndian.Uint16(b[22:24]),
			TempCurve:       b[24],
			HeatingSetpoint: b[25],
		}
	}

	return slots, body[need:], nil
}

// EncodeStatusRoomSlots renders slots back to wire form, for the
// device simulator (internal/simulate). Symmetric with
// DecodeStatusRoomSlots.
func EncodeStatusRoomSlots(slots [StatusRoomSlotCount]StatusRoomSlot) []byte {
	buf := make([]byte, StatusRoomSlotCount*statusRoomSlotSize)
	for i, s := range slots {
		b := buf[i*statusRoomSlotSize : (i+1)*statusRoomSlotSize]
		binary.LittleEndian.PutUint32(b[0:4], s.Room)
		b[4] = s.Presence
		b[5] = s.ModeByte
		binary.LittleEndian.PutUint16(b[6:8], uint16(s.Temp))
		binary.LittleEndian.PutUint16(b[8:10], uint16(s.SetTemp))
		binary.LittleEndian.PutUint16(b[10:12], uint16(s.T3))
		binary.LittleEndian.PutUint16(b[12:14], uint16(s.T2))
		binary.LittleEndian.PutUint16(b[14:16], uint16(s.T1))
		binary.LittleEndian.PutUint16(b[16:18], uint16(s.MaxSetpoint))
		binary.LittleEndian.PutUint16(b[18:20], uint16(s.MinSetpoint))
		b[20] = s.Flags3
		b[21] = s.Flags4
		binary.LittleEndian.PutUint16(b[22:24], s.Unk)
		b[24] = s.TempCurve
		b[25] = s.HeatingSetpoint
	}
	return buf
}

// statusTelemetryValueCount is the number of i16 OpenTherm fields
// following the flags byte; only indices 2, 4 and 5 (tFLO, tdH, tESt)
// are named by the spec, the rest are retained opaque.
const statusTelemetryValueCount = 10

// statusTelemetryTrailerSize is the width of the unidentified bytes
// that follow the wifi signal byte.
const statusTelemetryTrailerSize = 9

// StatusTelemetrySize is the total wire width of the OpenTherm/wifi
// block: flags + values + wifi signal + trailer.
const StatusTelemetrySize = 1 + statusTelemetryValueCount*2 + 1 + statusTelemetryTrailerSize

// StatusTelemetry is the OpenTherm/wifi block that follows the eight
// room slots in a STATUS body.
type StatusTelemetry struct {
	BoilerHeating bool
	DHWMode       bool
	Values        [statusTelemetryValueCount]int16
	WifiSignal    byte
}

// TFLO, TdH and TESt index into StatusTelemetry.Values per spec §4.5 /
// GLOSSARY: flow temp, DHW temp, outdoor temp.
const (
	TFLOIndex = 2
	TdHIndex  = 4
	TEStIndex = 5
)

// DecodeStatusTelemetry reads the OpenTherm/wifi block from the tail of
// a STATUS body (whatever DecodeStatusRoomSlots left behind).
func DecodeStatusTelemetry(body []byte) (StatusTelemetry, error) {
	var t StatusTelemetry

	need := 1 + statusTelemetryValueCount*2 + 1 + statusTelemetryTrailerSize
	if len(body) < need {
		return t, fmt.Errorf("%w: status telemetry block has %d bytes, need %d", ErrMalformedMessage, len(body), need)
	}

	flags := body[0]
	t.BoilerHeating = flags&(1<<5) != 0
	t.DHWMode = flags&(1<<6) != 0

	for i := 0; i < statusTelemetryValueCount; i++ {
		off := 1 + i*2
		t.Values[i] = int16(binary.LittleEndian.Uint16(body[off : off+2]))
	}

	t.WifiSignal = body[1+statusTelemetryValueCount*2]

	return t, nil
}

// EncodeStatusTelemetry renders t back to wire form, for the device
// simulator (internal/simulate). The trailer bytes are left zeroed;
// nothing in the dispatcher interprets them (spec §4.5's "unk"
// fields).
func EncodeStatusTelemetry(t StatusTelemetry) []byte {
	buf := make([]byte, StatusTelemetrySize)

	var flags byte
	if t.BoilerHeating {
		flags |= 1 << 5
	}
	if t.DHWMode {
		flags |= 1 << 6
	}
	buf[0] = flags

	for i, v := range t.Values {
		off := 1 + i*2
		binary.LittleEndian.PutUint16(buf[off:off+2], uint16(v))
	}

	buf[1+statusTelemetryValueCount*2] = t.WifiSignal
	return buf
}

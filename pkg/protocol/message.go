package protocol

// MsgID identifies a message body shape inside a Wrapper. It is a
// closed set with a dedicated Unknown arm, the Go expression of the
// Python IntEnum's `_missing_` sentinel fallback.
type MsgID uint8

// Known message ids (see spec §4.3). Names match the wire protocol's
// historical naming, not Go conventions, since they are effectively
// part of the protocol's vocabulary.
const (
	MsgSetMode           MsgID = 0x02
	MsgProgram           MsgID = 0x0a
	MsgSetT3             MsgID = 0x0b
	MsgSetT2             MsgID = 0x0c
	MsgSetT1             MsgID = 0x0d
	MsgSetAdvance        MsgID = 0x12
	MsgSWVersion         MsgID = 0x15
	MsgSetCurve          MsgID = 0x16
	MsgSetMinHeatSetp    MsgID = 0x17
	MsgSetMaxHeatSetp    MsgID = 0x18
	MsgSetUnits          MsgID = 0x19
	MsgSetSeason         MsgID = 0x1a
	MsgSetSensorInfluence MsgID = 0x1b
	MsgRefresh           MsgID = 0x1d
	MsgOutsideTemp       MsgID = 0x20
	MsgPing              MsgID = 0x22
	MsgStatus            MsgID = 0x24
	MsgDeviceTime        MsgID = 0x29
	MsgProgEnd           MsgID = 0x2a
	MsgGetProg           MsgID = 0x2b

	// MsgUnknown is the fallback arm for any id byte not present in
	// the registry below; DecodeWrapper keeps the raw byte in
	// Wrapper.RawType.
	MsgUnknown MsgID = 0xff
)

// Direction describes which side of the link is expected to initiate a
// given message type.
type Direction int

const (
	// DirDownlink: server-initiated only.
	DirDownlink Direction = iota
	// DirUplink: device-initiated only.
	DirUplink
	// DirBoth: either side may initiate (e.g. PROGRAM, SWVERSION).
	DirBoth
)

// registryEntry carries the static metadata the dispatcher and sender
// need about a message type: its human name, which side may initiate
// it, and — for the SET family — how wide its scalar value is on the
// wire.
type registryEntry struct {
	name string
	dir  Direction
	// setWidth is 0 for message types that are not part of the SET
	// family; otherwise the payload width in bytes of the value field.
	setWidth int
}

var registry = map[MsgID]registryEntry{
	MsgSetMode:            {"SET_MODE", DirDownlink, 1},
	MsgProgram:            {"PROGRAM", DirBoth, 0},
	MsgSetT3:              {"SET_T3", DirDownlink, 2},
	MsgSetT2:              {"SET_T2", DirDownlink, 2},
	MsgSetT1:              {"SET_T1", DirDownlink, 2},
	MsgSetAdvance:         {"SET_ADVANCE", DirDownlink, 1},
	MsgSWVersion:          {"SWVERSION", DirBoth, 0},
	MsgSetCurve:           {"SET_CURVE", DirDownlink, 1},
	MsgSetMinHeatSetp:     {"SET_MIN_HEAT_SETP", DirDownlink, 2},
	MsgSetMaxHeatSetp:     {"SET_MAX_HEAT_SETP", DirDownlink, 2},
	MsgSetUnits:           {"SET_UNITS", DirDownlink, 1},
	MsgSetSeason:          {"SET_SEASON", DirDownlink, 1},
	MsgSetSensorInfluence: {"SET_SENSOR_INFLUENCE", DirDownlink, 1},
	MsgRefresh:            {"REFRESH", DirDownlink, 0},
	MsgOutsideTemp:        {"OUTSIDE_TEMP", DirDownlink, 0},
	MsgPing:               {"PING", DirUplink, 0},
	MsgStatus:             {"STATUS", DirUplink, 0},
	MsgDeviceTime:         {"DEVICE_TIME", DirDownlink, 0},
	MsgProgEnd:            {"PROG_END", DirUplink, 0},
	MsgGetProg:            {"GET_PROG", DirDownlink, 0},
}

// LookupMsgID maps a raw wire byte to a MsgID, falling back to
// MsgUnknown for anything the registry doesn't recognize.
func LookupMsgID(b byte) MsgID {
	id := MsgID(b)
	if _, ok := registry[id]; ok {
		return id
	}
	return MsgUnknown
}

// String renders the message name used in logs, e.g. "SET_T1", or
// "UNKNOWN_ID" for an id the registry doesn't know.
func (m MsgID) String() string {
	if e, ok := registry[m]; ok {
		return e.name
	}
	return "UNKNOWN_ID"
}

// IsSet reports whether m is a member of the generic SET_* family and,
// if so, the payload width of its value field.
func (m MsgID) IsSet() (width int, ok bool) {
	e, present := registry[m]
	if !present || e.setWidth == 0 {
		return 0, false
	}
	return e.setWidth, true
}

// UnusedCSeq marks control-plane messages that never solicit a
// correlated reply (PING, STATUS ack, PROGRAM echoes, PROG_END).
const UnusedCSeq = 0xff

// MaxCSeq bounds the rolling control-plane sequence counter.
const MaxCSeq = 0xfd

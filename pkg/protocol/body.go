package protocol

import (
	"encoding/binary"
	"fmt"
)

// CommonPrefixSize is the width of the sequenced-message prefix shared
// by every message that carries a cseq (spec §4.3).
const CommonPrefixSize = 8

// CommonPrefix is the shared header carried by every sequenced message
// body: `cseq (u8), unk1 (u8), unk2 (u16), deviceid (u32)`.
type CommonPrefix struct {
	CSeq    byte
	Unk1    byte
	Unk2    uint16
	Device  uint32
}

// DecodeCommonPrefix reads the common prefix from the front of body and
// returns it along with whatever bytes follow.
func DecodeCommonPrefix(body []byte) (CommonPrefix, []byte, error) {
	if len(body) < CommonPrefixSize {
		return CommonPrefix{}, nil, fmt.Errorf("%w: body has %d bytes, need %d for common prefix", ErrMalformedMessage, len(body), CommonPrefixSize)
	}
	p := CommonPrefix{
		CSeq:   body[0],
		Unk1:   body[1],
		Unk2:   binary.LittleEndian.Uint16(body[2:4]),
		Device: binary.LittleEndian.Uint32(body[4:8]),
	}
	return p, body[CommonPrefixSize:], nil
}

// EncodeCommonPrefix serializes p as the 8-byte sequenced-message prefix.
func EncodeCommonPrefix(p CommonPrefix) []byte {
	buf := make([]byte, CommonPrefixSize)
	buf[0] = p.CSeq
	buf[1] = p.Unk1
	binary.LittleEndian.PutUint16(buf[2:4], p.Unk2)
	binary.LittleEndian.PutUint32(buf[4:8], p.Device)
	return buf
}

// DecodeRoomValue16 reads `room (u32), value (u16)` — the shape shared
// by SET_T1/T2/T3 and SET_MIN/MAX_HEAT_SETP after the common prefix.
func DecodeRoomValue16(rest []byte) (room uint32, value int16, err error) {
	if len(rest) < 6 {
		return 0, 0, fmt.Errorf("%w: room/value16 body has %d bytes, need 6", ErrMalformedMessage, len(rest))
	}
	room = binary.LittleEndian.Uint32(rest[0:4])
	value = int16(binary.LittleEndian.Uint16(rest[4:6]))
	return room, value, nil
}

// EncodeRoomValue16 serializes `room (u32), value (u16)`.
func EncodeRoomValue16(room uint32, value int16) []byte {
	buf := make([]byte, 6)
	binary.LittleEndian.PutUint32(buf[0:4], room)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(value))
	return buf
}

// DecodeRoomValue8 reads `room (u32), value (u8)` — SET_MODE,
// SET_ADVANCE, SET_CURVE, SET_UNITS, SET_SEASON, SET_SENSOR_INFLUENCE.
func DecodeRoomValue8(rest []byte) (room uint32, value byte, err error) {
	if len(rest) < 5 {
		return 0, 0, fmt.Errorf("%w: room/value8 body has %d bytes, need 5", ErrMalformedMessage, len(rest))
	}
	room = binary.LittleEndian.Uint32(rest[0:4])
	value = rest[4]
	return room, value, nil
}

// EncodeRoomValue8 serializes `room (u32), value (u8)`.
func EncodeRoomValue8(room uint32, value byte) []byte {
	buf := make([]byte, 5)
	binary.LittleEndian.PutUint32(buf[0:4], room)
	buf[4] = value
	return buf
}

// ProgramDaySize is the number of hourly schedule bytes in one PROGRAM day.
const ProgramDaySize = 24

// ProgramBody is the decoded form of a PROGRAM message's body after the
// common prefix: `room (u32), day (u16), 24×u8 schedule`.
type ProgramBody struct {
	Room     uint32
	Day      uint16
	Schedule [ProgramDaySize]byte
}

// DecodeProgramBody reads a ProgramBody from rest (body after the
// common prefix).
func DecodeProgramBody(rest []byte) (ProgramBody, error) {
	const need = 4 + 2 + ProgramDaySize
	if len(rest) < need {
		return ProgramBody{}, fmt.Errorf("%w: program body has %d bytes, need %d", ErrMalformedMessage, len(rest), need)
	}
	var p ProgramBody
	p.Room = binary.LittleEndian.Uint32(rest[0:4])
	p.Day = binary.LittleEndian.Uint16(rest[4:6])
	copy(p.Schedule[:], rest[6:6+ProgramDaySize])
	return p, nil
}

// EncodeProgramBody serializes a ProgramBody.
func EncodeProgramBody(p ProgramBody) []byte {
	buf := make([]byte, 4+2+ProgramDaySize)
	binary.LittleEndian.PutUint32(buf[0:4], p.Room)
	binary.LittleEndian.PutUint16(buf[4:6], p.Day)
	copy(buf[6:], p.Schedule[:])
	return buf
}

// ProgEndMarker is the fixed marker value carried by a PROG_END body.
const ProgEndMarker uint16 = 0x0a14

// DecodeProgEndBody reads `room (u32), marker (u16)`.
func DecodeProgEndBody(rest []byte) (room uint32, marker uint16, err error) {
	if len(rest) < 6 {
		return 0, 0, fmt.Errorf("%w: prog_end body has %d bytes, need 6", ErrMalformedMessage, len(rest))
	}
	return binary.LittleEndian.Uint32(rest[0:4]), binary.LittleEndian.Uint16(rest[4:6]), nil
}

// EncodeProgEndBody serializes `room (u32), marker (u16)`.
func EncodeProgEndBody(room uint32) []byte {
	buf := make([]byte, 6)
	binary.LittleEndian.PutUint32(buf[0:4], room)
	binary.LittleEndian.PutUint16(buf[4:6], ProgEndMarker)
	return buf
}

// GetProgMarker is the fixed marker value carried by a GET_PROG request.
const GetProgMarker uint32 = 0x800fe0

// EncodeGetProgBody serializes `room (u32), marker (u32)`.
func EncodeGetProgBody(room uint32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], room)
	binary.LittleEndian.PutUint32(buf[4:8], GetProgMarker)
	return buf
}

// PingMarker is the fixed value the server's PING ack carries.
const PingMarker uint16 = 0xf43c

// DecodePingBody reads the uplink PING's `value (u16)`.
func DecodePingBody(rest []byte) (uint16, error) {
	if len(rest) < 2 {
		return 0, fmt.Errorf("%w: ping body has %d bytes, need 2", ErrMalformedMessage, len(rest))
	}
	return binary.LittleEndian.Uint16(rest[0:2]), nil
}

// EncodePingAckBody serializes the server's PING ack value field.
func EncodePingAckBody() []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, PingMarker)
	return buf
}

// SWVersionLen is the fixed ASCII width of a SWVERSION string on the wire.
const SWVersionLen = 13

// DecodeSWVersionBody reads the fixed-width ASCII version string,
// trimming trailing NUL padding.
func DecodeSWVersionBody(rest []byte) (string, error) {
	if len(rest) < SWVersionLen {
		return "", fmt.Errorf("%w: swversion body has %d bytes, need %d", ErrMalformedMessage, len(rest), SWVersionLen)
	}
	end := SWVersionLen
	for end > 0 && rest[end-1] == 0 {
		end--
	}
	return string(rest[:end]), nil
}

// EncodeSWVersionBody serializes version as the fixed-width,
// NUL-padded ASCII string the device sends on the wire, for the device
// simulator (internal/simulate). version is truncated if it doesn't
// fit in SWVersionLen bytes.
func EncodeSWVersionBody(version string) []byte {
	buf := make([]byte, SWVersionLen)
	copy(buf, version)
	return buf
}

// DecodeOutsideTempBody reads OUTSIDE_TEMP's `value (u8)`.
func DecodeOutsideTempBody(rest []byte) (byte, error) {
	if len(rest) < 1 {
		return 0, fmt.Errorf("%w: outside_temp body has %d bytes, need 1", ErrMalformedMessage, len(rest))
	}
	return rest[0], nil
}

// EncodeOutsideTempBody serializes OUTSIDE_TEMP's mode byte (0 off, 1
// boiler, 2 web).
func EncodeOutsideTempBody(mode byte) []byte {
	return []byte{mode}
}

// EncodeDeviceTimeBody serializes DEVICE_TIME's DST flag plus the
// trailing padding the device expects.
func EncodeDeviceTimeBody(dst byte, padding int) []byte {
	buf := make([]byte, 1+padding)
	buf[0] = dst
	return buf
}

// EncodeStatusAckBody serializes the server's STATUS reply: the wall
// clock epoch (seconds) at the moment the ack is sent.
func EncodeStatusAckBody(epoch int64) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(epoch))
	return buf
}

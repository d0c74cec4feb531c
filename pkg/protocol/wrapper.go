package protocol

import (
	"encoding/binary"
	"fmt"
)

// Wrapper flag bits, as observed on the wire (see spec §4.2).
const (
	flagResponse      = 1 << 0
	flagWrite         = 1 << 1
	flagValid         = 1 << 2
	flagDownlink      = 1 << 3
	flagReservedZero1 = 1 << 4
	flagCloudSyncLost = 1 << 5
	flagReservedOne   = 1 << 6
	flagReservedZero2 = 1 << 7
)

// Wrapper is the per-message header carried inside a Frame's payload.
//
//	off  size  field
//	  0     1  msg type
//	  1     1  flags
//	  2     2  inner length (encoded as real length - 8)
//	  4     L  body
type Wrapper struct {
	MsgID         MsgID
	RawType       byte
	Response      bool
	Write         bool
	Valid         bool
	Downlink      bool
	CloudSyncLost bool
	Body          []byte
}

// DecodeWrapper unwraps an uplink payload (the Frame's payload). It does
// not reject flags it doesn't understand; unexpected reserved bits are
// reported to the caller via the returned warning string so the
// dispatcher can log without aborting the decode (spec's "soft"
// UnexpectedField handling).
func DecodeWrapper(data []byte) (w *Wrapper, warning string, err error) {
	const headerSize = 4
	if len(data) < headerSize {
		return nil, "", fmt.Errorf("%w: wrapper header truncated (%d bytes)", ErrMalformedMessage, len(data))
	}

	msgType := data[0]
	flags := data[1]
	// The wire encodes body length minus 8; spec §4.2 calls this out
	// explicitly so decode and encode stay symmetric with EncodeDownlink.
	bodyLen := int(binary.LittleEndian.Uint16(data[2:4])) + 8

	if headerSize+bodyLen > len(data) {
		return nil, "", fmt.Errorf("%w: body length %d exceeds payload (%d bytes)", ErrMalformedMessage, bodyLen, len(data))
	}

	w = &Wrapper{
		MsgID:         LookupMsgID(msgType),
		RawType:       msgType,
		Response:      flags&flagResponse != 0,
		Write:         flags&flagWrite != 0,
		Valid:         flags&flagValid != 0,
		Downlink:      flags&flagDownlink != 0,
		CloudSyncLost: flags&flagCloudSyncLost != 0,
		Body:          data[headerSize : headerSize+bodyLen],
	}

	if flags&flagReservedZero1 != 0 || flags&flagReservedZero2 != 0 {
		warning = fmt.Sprintf("unexpected reserved bit set in flags %#02x", flags)
	}
	if flags&flagReservedOne == 0 {
		if warning != "" {
			warning += "; "
		}
		warning += fmt.Sprintf("expected reserved bit 6 set in flags %#02x", flags)
	}
	if w.Downlink {
		if warning != "" {
			warning += "; "
		}
		warning += "uplink datagram carries downlink flag"
	}

	return w, warning, nil
}

// EncodeUplink builds the wrapper bytes for a device-originated
// message, as used by the device simulator (internal/simulate). Uplink
// framing clears the downlink flag and sets valid=1; response and
// write are caller-controlled, mirroring EncodeDownlink.
func EncodeUplink(id MsgID, response, write bool, body []byte) []byte {
	flags := byte(flagValid | flagReservedOne)
	if response {
		flags |= flagResponse
	}
	if write {
		flags |= flagWrite
	}

	buf := make([]byte, 4+len(body))
	buf[0] = byte(id)
	buf[1] = flags
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(body)-8))
	copy(buf[4:], body)
	return buf
}

// EncodeDownlink builds the wrapper bytes for a server-originated
// message. Downlink framing always sets downlink=1, valid=1 and clears
// cloud-sync-lost; response and write are caller-controlled.
func EncodeDownlink(id MsgID, response, write bool, body []byte) []byte {
	flags := byte(flagDownlink | flagValid | flagReservedOne)
	if response {
		flags |= flagResponse
	}
	if write {
		flags |= flagWrite
	}

	buf := make([]byte, 4+len(body))
	buf[0] = byte(id)
	buf[1] = flags
	// Symmetric with DecodeWrapper's bodyLen := raw + 8.
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(body)-8))
	copy(buf[4:], body)
	return buf
}

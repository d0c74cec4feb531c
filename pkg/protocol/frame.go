package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/snksoft/crc"
)

// Frame-level constants, little-endian throughout.
const (
	MagicHeader uint16 = 0xd4fa
	MagicFooter uint16 = 0xdf2d

	// FrameOverhead is the number of bytes a Frame adds around its
	// payload: 2 (magic) + 2 (length) + 4 (seq) + 2 (crc) + 2 (magic).
	FrameOverhead = 12

	// DownlinkSeq is placed in the seq field of every server-originated
	// frame; the device does not expect this field to be meaningful
	// on downlink traffic.
	DownlinkSeq uint32 = 0xffffffff

	// MaxDatagramSize is the largest datagram the dispatcher will
	// attempt to read from the UDP socket.
	MaxDatagramSize = 4096
)

var crcTable = crc.NewTable(crc.XMODEM)

// Frame is the outer envelope carried in every UDP datagram:
//
//	off  size  field
//	  0     2  magic header  (0xd4fa)
//	  2     2  payload length
//	  4     4  seq
//	  8     N  payload
//	8+N     2  crc16/xmodem(payload)
//   10+N     2  magic footer (0xdf2d)
type Frame struct {
	Seq     uint32
	Payload []byte
}

// Encode serializes f into a ready-to-send datagram, stamping seq.
func (f *Frame) Encode(seq uint32) []byte {
	f.Seq = seq

	buf := make([]byte, FrameOverhead+len(f.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], MagicHeader)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(f.Payload)))
	binary.LittleEndian.PutUint32(buf[4:8], seq)
	copy(buf[8:8+len(f.Payload)], f.Payload)

	crcVal := crc.CalculateCRC(crcTable, f.Payload)
	binary.LittleEndian.PutUint16(buf[8+len(f.Payload):10+len(f.Payload)], uint16(crcVal))
	binary.LittleEndian.PutUint16(buf[10+len(f.Payload):12+len(f.Payload)], MagicFooter)

	return buf
}

// DecodeFrame validates and unwraps a raw datagram. It never mutates
// caller state and returns ErrMalformedFrame (wrapped with context) for
// every rejection path named in the wire spec: short buffer, bad magic,
// length mismatch, bad CRC.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < FrameOverhead {
		return nil, fmt.Errorf("%w: datagram too short (%d bytes)", ErrMalformedFrame, len(data))
	}

	hdr := binary.LittleEndian.Uint16(data[0:2])
	if hdr != MagicHeader {
		return nil, fmt.Errorf("%w: bad header magic %#04x", ErrMalformedFrame, hdr)
	}

	length := binary.LittleEndian.Uint16(data[2:4])
	seq := binary.LittleEndian.Uint32(data[4:8])

	if len(data) != int(length)+FrameOverhead {
		return nil, fmt.Errorf("%w: declared length %d does not match buffer (%d bytes)", ErrMalformedFrame, length, len(data))
	}

	payload := data[8 : 8+int(length)]

	gotCRC := binary.LittleEndian.Uint16(data[8+int(length) : 10+int(length)])
	wantCRC := uint16(crc.CalculateCRC(crcTable, payload))
	if gotCRC != wantCRC {
		return nil, fmt.Errorf("%w: crc mismatch (got %#04x want %#04x)", ErrMalformedFrame, gotCRC, wantCRC)
	}

	ftr := binary.LittleEndian.Uint16(data[10+int(length) : 12+int(length)])
	if ftr != MagicFooter {
		return nil, fmt.Errorf("%w: bad footer magic %#04x", ErrMalformedFrame, ftr)
	}

	// Copy the payload out so callers can't retain a slice over a
	// buffer the dispatcher may reuse for the next ReadFrom.
	out := make([]byte, len(payload))
	copy(out, payload)

	return &Frame{Seq: seq, Payload: out}, nil
}

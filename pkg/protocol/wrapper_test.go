package protocol

import (
	"bytes"
	"testing"
)

func TestWrapperEncodeDecodeRoundTrip(t *testing.T) {
	body := []byte{0xff, 0x00, 0x00, 0x00, 0x78, 0x56, 0x34, 0x12, 0x3c, 0xf4} // PING-shaped body
	raw := EncodeDownlink(MsgPing, true, true, body)

	w, warning, err := DecodeWrapper(raw)
	if err != nil {
		t.Fatalf("DecodeWrapper failed: %v", err)
	}
	if warning != "" {
		t.Errorf("unexpected warning: %s", warning)
	}

	if w.MsgID != MsgPing {
		t.Errorf("MsgID = %v, want PING", w.MsgID)
	}
	if !w.Response || !w.Write || !w.Valid || !w.Downlink {
		t.Errorf("flags decoded wrong: %+v", w)
	}
	if w.CloudSyncLost {
		t.Errorf("CloudSyncLost should be clear on a downlink encode")
	}
	if !bytes.Equal(w.Body, body) {
		t.Errorf("Body = %v, want %v", w.Body, body)
	}
}

func TestDecodeWrapperFlagsUplink(t *testing.T) {
	// bit6 (reserved-one) set, bit5 (cloud sync lost) set, response clear,
	// write clear, valid set, downlink clear.
	flags := byte(flagValid | flagCloudSyncLost | flagReservedOne)
	body := make([]byte, 12) // common 8-byte prefix + one extra field
	raw := make([]byte, 4)
	raw[0] = byte(MsgStatus)
	raw[1] = flags
	raw[2] = byte(len(body) - 8)
	raw[3] = 0x00
	raw = append(raw, body...)

	w, _, err := DecodeWrapper(raw)
	if err != nil {
		t.Fatalf("DecodeWrapper failed: %v", err)
	}
	if w.Downlink {
		t.Error("Downlink should be false on an uplink-shaped wrapper")
	}
	if !w.CloudSyncLost {
		t.Error("CloudSyncLost should be true")
	}
	if !w.Valid {
		t.Error("Valid should be true")
	}
}

func TestDecodeWrapperRejectsTruncatedHeader(t *testing.T) {
	if _, _, err := DecodeWrapper([]byte{0x01, 0x02}); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestDecodeWrapperRejectsBodyOverrun(t *testing.T) {
	raw := []byte{byte(MsgStatus), 0, 0xff, 0x7f} // absurd declared length
	if _, _, err := DecodeWrapper(raw); err == nil {
		t.Fatal("expected error for body overrun")
	}
}

func TestDecodeWrapperWarnsOnMissingReservedBit(t *testing.T) {
	flags := byte(flagValid) // reserved bit 6 not set
	raw := []byte{byte(MsgPing), flags, 0x00, 0x00} // length field encodes body len 8
	raw = append(raw, make([]byte, 8)...)

	_, warning, err := DecodeWrapper(raw)
	if err != nil {
		t.Fatalf("DecodeWrapper failed: %v", err)
	}
	if warning == "" {
		t.Error("expected a warning about the missing reserved bit")
	}
}

package dispatcher

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/besim-project/besimd/internal/shadow"
	"github.com/besim-project/besimd/internal/transport"
	"github.com/besim-project/besimd/pkg/protocol"
)

// testWrapperFlags mirrors the bit layout documented in wrapper.go,
// duplicated here because those constants are unexported.
const (
	testFlagValid       = 1 << 2
	testFlagCloudSync   = 1 << 5
	testFlagReservedOne = 1 << 6
)

func buildUplink(t *testing.T, id protocol.MsgID, valid, cloudSyncLost bool, body []byte) []byte {
	t.Helper()

	flags := byte(testFlagReservedOne)
	if valid {
		flags |= testFlagValid
	}
	if cloudSyncLost {
		flags |= testFlagCloudSync
	}

	wrapper := make([]byte, 4+len(body))
	wrapper[0] = byte(id)
	wrapper[1] = flags
	binary.LittleEndian.PutUint16(wrapper[2:4], uint16(len(body)-8))
	copy(wrapper[4:], body)

	frame := &protocol.Frame{Payload: wrapper}
	return frame.Encode(1)
}

func commonPrefix(cseq byte, device uint32) []byte {
	return protocol.EncodeCommonPrefix(protocol.CommonPrefix{CSeq: cseq, Device: device})
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *shadow.Store, net.Addr, net.PacketConn) {
	t.Helper()

	sock, err := transport.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("transport.Listen: %v", err)
	}
	t.Cleanup(func() { sock.Close() })

	deviceConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	t.Cleanup(func() { deviceConn.Close() })

	store := shadow.NewStore()
	d := New(sock, store, false)
	return d, store, deviceConn.LocalAddr(), deviceConn
}

func readReply(t *testing.T, conn net.PacketConn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, protocol.MaxDatagramSize)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	return buf[:n]
}

func TestColdStartStatusCreatesDeviceAndRoom(t *testing.T) {
	d, store, addr, conn := newTestDispatcher(t)

	slot := make([]byte, 26)
	binary.LittleEndian.PutUint32(slot[0:4], 0x10) // room
	slot[4] = 0x8f                                  // presence / heating on
	slot[5] = 0x20                                  // modeByte -> mode 2
	binary.LittleEndian.PutUint16(slot[6:8], 205)   // temp
	binary.LittleEndian.PutUint16(slot[8:10], 210)  // settemp

	body := append([]byte{}, commonPrefix(0xff, 0x12345678)...)
	for i := 0; i < protocol.StatusRoomSlotCount; i++ {
		if i == 0 {
			body = append(body, slot...)
		} else {
			body = append(body, make([]byte, 26)...)
		}
	}
	body = append(body, make([]byte, protocol.StatusTelemetrySize)...)

	datagram := buildUplink(t, protocol.MsgStatus, true, false, body)
	if err := d.handleDatagram(addr, datagram); err != nil {
		t.Fatalf("handleDatagram: %v", err)
	}

	room, ok := store.Room(0x12345678, 0x10)
	if !ok {
		t.Fatal("room was not created")
	}
	if room.Heating == nil || !*room.Heating {
		t.Fatalf("Heating = %v, want true", room.Heating)
	}
	if room.Mode != 2 {
		t.Fatalf("Mode = %d, want 2", room.Mode)
	}
	if room.Temp != 205 || room.SetTemp != 210 {
		t.Fatalf("Temp/SetTemp = %d/%d, want 205/210", room.Temp, room.SetTemp)
	}

	reply := readReply(t, conn)
	replyFrame, err := protocol.DecodeFrame(reply)
	if err != nil {
		t.Fatalf("DecodeFrame(reply): %v", err)
	}
	w, _, err := protocol.DecodeWrapper(replyFrame.Payload)
	if err != nil {
		t.Fatalf("DecodeWrapper(reply): %v", err)
	}
	if w.MsgID != protocol.MsgStatus || !w.Response {
		t.Fatalf("reply = %+v, want a STATUS response", w)
	}

	// The follow-up GET_PROG fires ~1s later since Days is empty.
	followUp := readReply(t, conn)
	ff, err := protocol.DecodeFrame(followUp)
	if err != nil {
		t.Fatalf("DecodeFrame(followUp): %v", err)
	}
	fw, _, err := protocol.DecodeWrapper(ff.Payload)
	if err != nil {
		t.Fatalf("DecodeWrapper(followUp): %v", err)
	}
	if fw.MsgID != protocol.MsgGetProg {
		t.Fatalf("follow-up = %v, want GET_PROG", fw.MsgID)
	}
}

func TestStatusWithNoPresenceCreatesNoRooms(t *testing.T) {
	d, store, addr, conn := newTestDispatcher(t)
	_ = conn

	body := append([]byte{}, commonPrefix(0xff, 1)...)
	body = append(body, make([]byte, protocol.StatusRoomSlotsSize)...)
	body = append(body, make([]byte, protocol.StatusTelemetrySize)...)

	datagram := buildUplink(t, protocol.MsgStatus, true, false, body)
	if err := d.handleDatagram(addr, datagram); err != nil {
		t.Fatalf("handleDatagram: %v", err)
	}

	dev, ok := store.Device(1)
	if !ok {
		t.Fatal("device should still be created")
	}
	if len(dev.Rooms) != 0 {
		t.Fatalf("Rooms = %v, want empty", dev.Rooms)
	}
}

func TestPingReplyMatchesSpec(t *testing.T) {
	d, _, addr, conn := newTestDispatcher(t)

	body := append([]byte{}, commonPrefix(0xff, 1)...)
	body = binary.LittleEndian.AppendUint16(body, 1)

	datagram := buildUplink(t, protocol.MsgPing, true, false, body)
	if err := d.handleDatagram(addr, datagram); err != nil {
		t.Fatalf("handleDatagram: %v", err)
	}

	reply := readReply(t, conn)
	frame, err := protocol.DecodeFrame(reply)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	w, _, err := protocol.DecodeWrapper(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeWrapper: %v", err)
	}

	if w.MsgID != protocol.MsgPing || !w.Response || !w.Write || !w.Downlink || !w.Valid {
		t.Fatalf("reply wrapper = %+v, want response/write/downlink/valid all set", w)
	}

	prefix, rest, err := protocol.DecodeCommonPrefix(w.Body)
	if err != nil {
		t.Fatalf("DecodeCommonPrefix: %v", err)
	}
	if prefix.CSeq != protocol.UnusedCSeq || prefix.Device != 1 {
		t.Fatalf("prefix = %+v, want cseq=0xff device=1", prefix)
	}
	value, err := protocol.DecodePingBody(rest)
	if err != nil {
		t.Fatalf("DecodePingBody: %v", err)
	}
	if value != protocol.PingMarker {
		t.Fatalf("ack value = %#x, want %#x", value, protocol.PingMarker)
	}
}

func TestProgramEchoesUnlessAlreadyResponse(t *testing.T) {
	d, store, addr, conn := newTestDispatcher(t)

	var schedule [24]byte
	for i := range schedule {
		schedule[i] = 0x22
	}
	tail := protocol.EncodeProgramBody(protocol.ProgramBody{Room: 0x10, Day: 3, Schedule: schedule})
	body := append(commonPrefix(5, 0x12345678), tail...)

	datagram := buildUplink(t, protocol.MsgProgram, true, false, body)
	if err := d.handleDatagram(addr, datagram); err != nil {
		t.Fatalf("handleDatagram: %v", err)
	}

	room, ok := store.Room(0x12345678, 0x10)
	if !ok {
		t.Fatal("room was not created")
	}
	if room.Days[3] != schedule {
		t.Fatalf("Days[3] = %v, want %v", room.Days[3], schedule)
	}

	reply := readReply(t, conn)
	frame, err := protocol.DecodeFrame(reply)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	w, _, err := protocol.DecodeWrapper(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeWrapper: %v", err)
	}
	if w.MsgID != protocol.MsgProgram || !w.Response {
		t.Fatalf("reply = %+v, want a PROGRAM echo with response=1", w)
	}
}

func TestCRCFailureDropsDatagramWithNoReply(t *testing.T) {
	d, store, addr, conn := newTestDispatcher(t)

	body := append([]byte{}, commonPrefix(0xff, 1)...)
	body = binary.LittleEndian.AppendUint16(body, 1)
	datagram := buildUplink(t, protocol.MsgPing, true, false, body)

	// Flip a payload byte so the CRC no longer matches.
	datagram[8] ^= 0xff

	if err := d.handleDatagram(addr, datagram); err != nil {
		t.Fatalf("handleDatagram: %v", err)
	}

	if _, ok := store.Device(1); ok {
		t.Fatal("no device shadow should be created for a corrupt frame")
	}

	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, protocol.MaxDatagramSize)
	if _, _, err := conn.ReadFrom(buf); err == nil {
		t.Fatal("expected no reply for a CRC-failed datagram")
	}
}

func TestMultiRoomFollowUpGetProgIsSequential(t *testing.T) {
	d, store, addr, conn := newTestDispatcher(t)

	slotA := make([]byte, 26)
	binary.LittleEndian.PutUint32(slotA[0:4], 0x10)
	slotA[4] = 0x8f

	slotB := make([]byte, 26)
	binary.LittleEndian.PutUint32(slotB[0:4], 0x20)
	slotB[4] = 0x8f

	body := append([]byte{}, commonPrefix(0xff, 0x12345678)...)
	body = append(body, slotA...)
	body = append(body, slotB...)
	for i := 2; i < protocol.StatusRoomSlotCount; i++ {
		body = append(body, make([]byte, 26)...)
	}
	body = append(body, make([]byte, protocol.StatusTelemetrySize)...)

	datagram := buildUplink(t, protocol.MsgStatus, true, false, body)
	start := time.Now()
	if err := d.handleDatagram(addr, datagram); err != nil {
		t.Fatalf("handleDatagram: %v", err)
	}

	if _, ok := store.Room(0x12345678, 0x10); !ok {
		t.Fatal("room 0x10 was not created")
	}
	if _, ok := store.Room(0x12345678, 0x20); !ok {
		t.Fatal("room 0x20 was not created")
	}

	// STATUS ack, then each room's GET_PROG follow-up sequentially
	// followUpDelay apart: both rooms must not arrive at the same tick.
	_ = readReply(t, conn)

	var rooms []uint32
	var gaps []time.Duration
	last := start
	for i := 0; i < 2; i++ {
		reply := readReply(t, conn)
		now := time.Now()
		frame, err := protocol.DecodeFrame(reply)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		w, _, err := protocol.DecodeWrapper(frame.Payload)
		if err != nil {
			t.Fatalf("DecodeWrapper: %v", err)
		}
		if w.MsgID != protocol.MsgGetProg {
			t.Fatalf("follow-up %d = %v, want GET_PROG", i, w.MsgID)
		}
		prefix, rest, err := protocol.DecodeCommonPrefix(w.Body)
		if err != nil {
			t.Fatalf("DecodeCommonPrefix: %v", err)
		}
		if len(rest) < 4 {
			t.Fatalf("GET_PROG body has %d bytes, want at least 4", len(rest))
		}
		room := binary.LittleEndian.Uint32(rest[0:4])
		_ = prefix
		rooms = append(rooms, room)
		gaps = append(gaps, now.Sub(last))
		last = now
	}

	if rooms[0] == rooms[1] {
		t.Fatalf("expected two distinct rooms, got %v twice", rooms[0])
	}
	if gaps[1] < followUpDelay/2 {
		t.Fatalf("second follow-up arrived %v after the first, want roughly %v apart (sequential pacing)", gaps[1], followUpDelay)
	}
}

func TestCloudSyncLostTriggersResyncSequence(t *testing.T) {
	sock, err := transport.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("transport.Listen: %v", err)
	}
	t.Cleanup(func() { sock.Close() })

	deviceConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	t.Cleanup(func() { deviceConn.Close() })

	store := shadow.NewStore()
	d := New(sock, store, true)
	addr := deviceConn.LocalAddr()

	body := append([]byte{}, commonPrefix(0xff, 0x12345678)...)
	body = append(body, make([]byte, protocol.StatusRoomSlotsSize)...)
	body = append(body, make([]byte, protocol.StatusTelemetrySize)...)

	datagram := buildUplink(t, protocol.MsgStatus, true, true, body)
	if err := d.handleDatagram(addr, datagram); err != nil {
		t.Fatalf("handleDatagram: %v", err)
	}

	// The STATUS ack arrives immediately; the resync sequence trickles
	// in ~1s apart afterward.
	_ = readReply(t, deviceConn)

	want := []protocol.MsgID{protocol.MsgSWVersion, protocol.MsgRefresh, protocol.MsgDeviceTime}
	for _, id := range want {
		reply := readReply(t, deviceConn)
		frame, err := protocol.DecodeFrame(reply)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		w, _, err := protocol.DecodeWrapper(frame.Payload)
		if err != nil {
			t.Fatalf("DecodeWrapper: %v", err)
		}
		if w.MsgID != id {
			t.Fatalf("resync step = %v, want %v", w.MsgID, id)
		}
	}
}

func TestSetT1UpdatesRoomAndEchoes(t *testing.T) {
	d, store, addr, conn := newTestDispatcher(t)

	tail := protocol.EncodeRoomValue16(0x10, 215)
	body := append(commonPrefix(7, 0x12345678), tail...)
	datagram := buildUplink(t, protocol.MsgSetT1, true, false, body)

	if err := d.handleDatagram(addr, datagram); err != nil {
		t.Fatalf("handleDatagram: %v", err)
	}

	room, ok := store.Room(0x12345678, 0x10)
	if !ok || room.T1 != 215 {
		t.Fatalf("room T1 = %v (ok=%v), want 215", room, ok)
	}

	reply := readReply(t, conn)
	frame, err := protocol.DecodeFrame(reply)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	w, _, err := protocol.DecodeWrapper(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeWrapper: %v", err)
	}
	if w.MsgID != protocol.MsgSetT1 || !w.Response {
		t.Fatalf("reply = %+v, want a SET_T1 echo with response=1", w)
	}
}

package simulate

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/besim-project/besimd/pkg/protocol"
)

// newTestServer binds a UDP listener standing in for besimd and
// returns its address plus the raw connection for reading/writing
// datagrams exchanged with the simulated device.
func newTestServer(t *testing.T) (string, net.PacketConn) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn.LocalAddr().String(), conn
}

func readDatagram(t *testing.T, conn net.PacketConn) ([]byte, net.Addr) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, protocol.MaxDatagramSize)
	n, addr, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	return buf[:n], addr
}

func TestDeviceSendsStatusOnStart(t *testing.T) {
	addr, conn := newTestServer(t)

	cfg := DefaultConfig()
	cfg.ServerAddr = addr
	cfg.StatusInterval = time.Hour
	cfg.PingInterval = time.Hour

	dev := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dev.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer dev.Stop()

	datagram, _ := readDatagram(t, conn)
	frame, err := protocol.DecodeFrame(datagram)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	w, _, err := protocol.DecodeWrapper(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeWrapper: %v", err)
	}
	if w.MsgID != protocol.MsgStatus || w.Downlink {
		t.Fatalf("wrapper = %+v, want an uplink STATUS", w)
	}

	prefix, rest, err := protocol.DecodeCommonPrefix(w.Body)
	if err != nil {
		t.Fatalf("DecodeCommonPrefix: %v", err)
	}
	if prefix.Device != cfg.DeviceID {
		t.Fatalf("prefix.Device = %#x, want %#x", prefix.Device, cfg.DeviceID)
	}

	slots, _, err := protocol.DecodeStatusRoomSlots(rest)
	if err != nil {
		t.Fatalf("DecodeStatusRoomSlots: %v", err)
	}
	if slots[0].Room != cfg.Rooms[0].ID || slots[0].Presence == 0 {
		t.Fatalf("slot[0] = %+v, want room %d present", slots[0], cfg.Rooms[0].ID)
	}
}

func TestDeviceAcksSetDownlink(t *testing.T) {
	addr, conn := newTestServer(t)

	cfg := DefaultConfig()
	cfg.ServerAddr = addr
	cfg.StatusInterval = time.Hour
	cfg.PingInterval = time.Hour

	dev := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dev.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer dev.Stop()

	// Drain the startup STATUS before sending the downlink command.
	_, deviceAddr := readDatagram(t, conn)

	body := append(protocol.EncodeCommonPrefix(protocol.CommonPrefix{CSeq: 1, Device: cfg.DeviceID}),
		protocol.EncodeRoomValue16(cfg.Rooms[0].ID, 215)...)
	wrapped := protocol.EncodeDownlink(protocol.MsgSetT1, false, true, body)
	frame := &protocol.Frame{Payload: wrapped}
	if _, err := conn.WriteTo(frame.Encode(protocol.DownlinkSeq), deviceAddr); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	datagram, _ := readDatagram(t, conn)
	replyFrame, err := protocol.DecodeFrame(datagram)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	w, _, err := protocol.DecodeWrapper(replyFrame.Payload)
	if err != nil {
		t.Fatalf("DecodeWrapper: %v", err)
	}
	if w.MsgID != protocol.MsgSetT1 || !w.Response {
		t.Fatalf("reply wrapper = %+v, want a SET_T1 response", w)
	}

	_, rest, err := protocol.DecodeCommonPrefix(w.Body)
	if err != nil {
		t.Fatalf("DecodeCommonPrefix: %v", err)
	}
	room, value, err := protocol.DecodeRoomValue16(rest)
	if err != nil {
		t.Fatalf("DecodeRoomValue16: %v", err)
	}
	if room != cfg.Rooms[0].ID || value != 215 {
		t.Fatalf("ack = room %d value %d, want room %d value 215", room, value, cfg.Rooms[0].ID)
	}
}

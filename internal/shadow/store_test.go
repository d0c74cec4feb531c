package shadow

import (
	"net"
	"testing"
)

func resolveAddr(t *testing.T, s string) net.Addr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		t.Fatalf("ResolveUDPAddr(%q): %v", s, err)
	}
	return addr
}

func TestGetOrCreateDeviceUpdatesAddrOnReconnect(t *testing.T) {
	s := NewStore()
	addr1 := resolveAddr(t, "127.0.0.1:10001")
	addr2 := resolveAddr(t, "127.0.0.1:10002")

	d := s.GetOrCreateDevice(1, addr1)
	if d.Addr.String() != addr1.String() {
		t.Fatalf("Addr = %v, want %v", d.Addr, addr1)
	}

	d2 := s.GetOrCreateDevice(1, addr2)
	if d2 != d {
		t.Fatal("GetOrCreateDevice should return the same shadow for a known id")
	}
	if d.Addr.String() != addr2.String() {
		t.Fatalf("Addr not updated on reconnect: %v", d.Addr)
	}
}

func TestTouchPeerCreatesOnFirstContact(t *testing.T) {
	s := NewStore()
	addr := resolveAddr(t, "127.0.0.1:10003")

	p := s.TouchPeer(addr, 5)
	if p.LastSeq != 5 {
		t.Fatalf("LastSeq = %d, want 5", p.LastSeq)
	}

	p2 := s.TouchPeer(addr, 6)
	if p2 != p {
		t.Fatal("TouchPeer should return the same Peer for a known address")
	}
	if p.LastSeq != 6 {
		t.Fatalf("LastSeq not updated: %d", p.LastSeq)
	}
}

func TestLinkDeviceAssociatesIDWithPeer(t *testing.T) {
	s := NewStore()
	addr := resolveAddr(t, "127.0.0.1:10004")

	s.TouchPeer(addr, 1)
	s.LinkDevice(addr, 42)

	peers := s.Peers()
	p, ok := peers[addr.String()]
	if !ok {
		t.Fatal("peer not found")
	}
	if _, ok := p.DeviceIDs[42]; !ok {
		t.Fatal("device id 42 not linked to peer")
	}
}

func TestGetOrCreateRoomOnlyMaterializesOnDemand(t *testing.T) {
	s := NewStore()
	if _, ok := s.Room(1, 0); ok {
		t.Fatal("room should not exist before GetOrCreateRoom")
	}

	r := s.GetOrCreateRoom(1, 0)
	r.Temp = 205

	got, ok := s.Room(1, 0)
	if !ok || got.Temp != 205 {
		t.Fatalf("Room() = %+v, %v, want Temp=205, true", got, ok)
	}
}

package shadow

import (
	"net"
	"sync"
	"time"
)

// Store is the single ground-truth for every peer, device, and room the
// dispatcher has observed. Per spec §5, this implementation picks
// option (b): one mutex guards the entire store, including every
// Device's pending-request table, so the documented lock order
// ("shadow first, then pending-request table") is trivially satisfied
// by there being only one lock to take.
type Store struct {
	mu      sync.Mutex
	peers   map[string]*Peer
	devices map[uint32]*Device
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		peers:   make(map[string]*Peer),
		devices: make(map[uint32]*Device),
	}
}

// TouchPeer records that a datagram with the given sequence number was
// received from addr, creating the Peer on first contact. Peers are
// never removed (spec §3).
func (s *Store) TouchPeer(addr net.Addr, seq uint32) *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := addr.String()
	p, ok := s.peers[key]
	if !ok {
		p = &Peer{Addr: addr, DeviceIDs: make(map[uint32]struct{})}
		s.peers[key] = p
	}
	p.LastSeq = seq
	return p
}

// LinkDevice associates a device id with the peer it was most recently
// observed from.
func (s *Store) LinkDevice(addr net.Addr, deviceID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.peers[addr.String()]; ok {
		p.DeviceIDs[deviceID] = struct{}{}
	}
}

// GetOrCreateDevice returns the Device shadow for id, creating it (and
// updating its transport address) if this is the first time it has
// been seen. Every subsequent call updates Addr to the supplied value,
// since the device may reconnect from a new port (spec §3).
func (s *Store) GetOrCreateDevice(id uint32, addr net.Addr) *Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		d = &Device{
			ID:      id,
			Rooms:   make(map[uint32]*Room),
			pending: make(map[uint8]*PendingRequest),
		}
		s.devices[id] = d
	}
	d.Addr = addr
	return d
}

// Device returns the shadow for id without creating it.
func (s *Store) Device(id uint32) (*Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	return d, ok
}

// DeviceIDs returns every device id the store has observed.
func (s *Store) DeviceIDs() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint32, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	return ids
}

// Peers returns a shallow copy of the peer table, safe for a reader to
// range over without holding the store's lock.
func (s *Store) Peers() map[string]*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*Peer, len(s.peers))
	for k, p := range s.peers {
		ids := make(map[uint32]struct{}, len(p.DeviceIDs))
		for id := range p.DeviceIDs {
			ids[id] = struct{}{}
		}
		out[k] = &Peer{Addr: p.Addr, LastSeq: p.LastSeq, DeviceIDs: ids}
	}
	return out
}

// GetOrCreateRoom returns the Room shadow for (deviceID, roomID),
// creating the device and room if necessary. A room is only meant to
// be materialized once a STATUS presence byte is non-zero for it;
// callers are responsible for only calling this from that path (spec
// §3: "A room exists only once its presence byte is non-zero").
func (s *Store) GetOrCreateRoom(deviceID, roomID uint32) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		d = &Device{ID: deviceID, Rooms: make(map[uint32]*Room), pending: make(map[uint8]*PendingRequest)}
		s.devices[deviceID] = d
	}

	r, ok := d.Rooms[roomID]
	if !ok {
		r = &Room{ID: roomID, Days: make(map[uint16][24]byte)}
		d.Rooms[roomID] = r
	}
	return r
}

// Room returns the shadow for (deviceID, roomID) without creating it.
func (s *Store) Room(deviceID, roomID uint32) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return nil, false
	}
	r, ok := d.Rooms[roomID]
	return r, ok
}

// WithDevice runs fn with the store locked and the device's shadow
// passed in, for callers (the dispatcher) that need to perform several
// reads/writes as one atomic unit. fn must not call back into the
// Store.
func (s *Store) WithDevice(id uint32, addr net.Addr, fn func(d *Device)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		d = &Device{ID: id, Rooms: make(map[uint32]*Room), pending: make(map[uint8]*PendingRequest)}
		s.devices[id] = d
	}
	if addr != nil {
		d.Addr = addr
	}
	fn(d)
}

// DeviceAddr returns the transport address most recently observed for
// id, or nil if the device is unknown.
func (s *Store) DeviceAddr(id uint32) net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return nil
	}
	return d.Addr
}

// touchLastSeen stamps d, and r when non-nil, with the current time.
// It has no callers; the dispatcher handlers set LastSeen themselves.
func touchLastSeen(d *Device, r *Room) {
	now := time.Now()
	d.LastSeen = now
	if r != nil {
		r.LastSeen = now
	}
}

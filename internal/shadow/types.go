// Package shadow holds the in-memory state the dispatcher maintains
// for every peer, device, and room it has observed, plus the
// control-plane sequence coordinator used to correlate downlink
// requests with their uplink replies.
package shadow

import (
	"net"
	"time"
)

// Peer is a transport-level address the server has received a
// datagram from. Peers are created on first contact and never removed
// for the lifetime of the process (spec §3).
type Peer struct {
	Addr      net.Addr
	LastSeq   uint32
	DeviceIDs map[uint32]struct{}
}

// Device is the shadow of one physical thermostat controller, keyed by
// its 32-bit device id.
type Device struct {
	ID       uint32
	Addr     net.Addr
	Version  string
	WifiSignal byte
	LastSeen time.Time

	// OpenTherm telemetry, surfaced transparently from STATUS.
	BoilerHeating bool
	DHWMode       bool
	TFLO          int16
	TdH           int16
	TESt          int16

	Rooms map[uint32]*Room

	// cseq is the rolling control-plane sequence counter; see
	// sequence.go for the allocator.
	cseq uint8

	// pending holds in-flight requests keyed by the cseq they were
	// allocated under. At most one entry per key (spec §3 invariant).
	pending map[uint8]*PendingRequest
}

// Room is one thermostat slot (0-7) under a Device. A STATUS uplink
// creates a room only from a slot whose presence byte is non-zero; a
// PROGRAM or SET uplink naming a room not yet in the shadow also
// creates it.
type Room struct {
	ID uint32

	Temp       int16
	SetTemp    int16
	T1, T2, T3 int16
	MaxSetpoint int16
	// MinSetpoint deliberately mirrors the upstream device firmware's
	// bug: the wire handler that populates this field is documented
	// (spec §9 Open Questions) to overwrite it with MaxSetpoint's
	// value rather than MinSetpoint's. Preserved here, not silently
	// fixed; see DESIGN.md.
	MinSetpoint int16

	Mode            byte
	TempCurve       byte
	HeatingSetpoint byte

	SensorInfluence byte
	Units           byte
	Advance         bool
	Boost           bool
	CmdIssued       bool
	Winter          bool

	// Heating is derived from the STATUS presence byte: 1 = on
	// (0x8f), 0 = off (0x83), nil = unrecognized value.
	Heating *bool

	// Days holds the weekly program, day (0-6) -> 24 hourly bytes.
	Days map[uint16][24]byte

	LastSeen time.Time
}

// PendingRequest tracks one in-flight downlink request awaiting its
// correlated uplink reply.
type PendingRequest struct {
	Timeout time.Duration
	done    chan any
}

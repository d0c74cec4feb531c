package shadow

import "time"

// protocolMaxCSeq mirrors protocol.MaxCSeq without importing the
// protocol package here, keeping shadow free of a dependency on the
// wire codec's types.
const protocolMaxCSeq = 0xfd

// AllocateCSeq allocates the next control-plane sequence number for
// device id and returns the value that should be placed on the wire —
// the counter's value *before* incrementing, per spec §4.4. If wait is
// true a PendingRequest is inserted under the returned sequence,
// evicting any stale entry already occupying that slot (spec §3: "at
// most one in-flight request per sequence slot").
func (s *Store) AllocateCSeq(id uint32, wait bool, timeout time.Duration) uint8 {
	var cseq uint8
	s.WithDevice(id, nil, func(d *Device) {
		current := d.cseq
		next := current + 1
		if next > protocolMaxCSeq {
			next = 0
		}
		d.cseq = next

		delete(d.pending, current) // evict any dangling entry under this slot

		if wait {
			d.pending[current] = &PendingRequest{
				Timeout: timeout,
				done:    make(chan any, 1),
			}
		}
		cseq = current
	})
	return cseq
}

// LastCSeq returns the sequence number most recently handed out by
// AllocateCSeq for id, i.e. the value a correlated uplink reply is
// expected to carry.
func (s *Store) LastCSeq(id uint32) uint8 {
	var last uint8
	s.WithDevice(id, nil, func(d *Device) {
		if d.cseq == 0 {
			last = protocolMaxCSeq
			return
		}
		last = d.cseq - 1
	})
	return last
}

// WaitCSeq blocks until the PendingRequest allocated under cseq for
// device id is signalled or its timeout elapses, then removes the
// entry, returning nil on timeout (spec §4.4).
func (s *Store) WaitCSeq(id uint32, cseq uint8) any {
	var pr *PendingRequest
	s.WithDevice(id, nil, func(d *Device) {
		pr = d.pending[cseq]
	})
	if pr == nil {
		return nil
	}

	select {
	case v := <-pr.done:
		return v
	case <-time.After(pr.Timeout):
		s.WithDevice(id, nil, func(d *Device) {
			delete(d.pending, cseq)
		})
		return nil
	}
}

// SignalCSeq delivers val to the waiter parked on cseq for device id,
// if any, and removes the pending entry so WaitCSeq's timeout branch
// never fires after a successful signal.
func (s *Store) SignalCSeq(id uint32, cseq uint8, val any) {
	s.WithDevice(id, nil, func(d *Device) {
		pr, ok := d.pending[cseq]
		if !ok {
			return
		}
		delete(d.pending, cseq)
		select {
		case pr.done <- val:
		default:
		}
	})
}

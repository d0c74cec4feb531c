package shadow

import (
	"net"
	"testing"
	"time"
)

func testAddr(t *testing.T) net.Addr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:6199")
	if err != nil {
		t.Fatalf("ResolveUDPAddr: %v", err)
	}
	return addr
}

func TestAllocateCSeqRollsOverAtMax(t *testing.T) {
	s := NewStore()
	addr := testAddr(t)
	s.GetOrCreateDevice(1, addr)

	var got []uint8
	for i := 0; i < 256; i++ {
		got = append(got, s.AllocateCSeq(1, false, 0))
	}

	for i, v := range got {
		want := uint8(i % (protocolMaxCSeq + 1))
		if v != want {
			t.Fatalf("allocation %d = %d, want %d", i, v, want)
		}
	}
}

func TestAllocateCSeqNeverReturnsReservedValues(t *testing.T) {
	s := NewStore()
	addr := testAddr(t)
	s.GetOrCreateDevice(1, addr)

	for i := 0; i < 1000; i++ {
		v := s.AllocateCSeq(1, false, 0)
		if v > protocolMaxCSeq {
			t.Fatalf("allocation %d returned %#x, exceeds MAX_CSEQ", i, v)
		}
	}
}

func TestAllocateCSeqEvictsStaleEntry(t *testing.T) {
	s := NewStore()
	addr := testAddr(t)
	s.GetOrCreateDevice(1, addr)

	first := s.AllocateCSeq(1, true, time.Second)

	// Allocate MAX_CSEQ+1 more times to wrap the counter back to the
	// same slot without ever signalling the first pending request.
	var last uint8
	for i := 0; i < protocolMaxCSeq+1; i++ {
		last = s.AllocateCSeq(1, false, 0)
	}
	if last != first {
		t.Fatalf("expected wraparound to revisit slot %d, got %d", first, last)
	}

	s.WithDevice(1, nil, func(d *Device) {
		if _, ok := d.pending[first]; ok {
			t.Fatalf("stale pending entry under slot %d was not evicted", first)
		}
	})
}

func TestPendingRequestCountNeverExceedsMaxCSeqPlusOne(t *testing.T) {
	s := NewStore()
	addr := testAddr(t)
	s.GetOrCreateDevice(1, addr)

	for i := 0; i < 1000; i++ {
		s.AllocateCSeq(1, true, time.Minute)
		s.WithDevice(1, nil, func(d *Device) {
			if len(d.pending) > protocolMaxCSeq+1 {
				t.Fatalf("pending table has %d entries, exceeds MAX_CSEQ+1", len(d.pending))
			}
		})
	}
}

func TestWaitCSeqTimesOutWithNilResult(t *testing.T) {
	s := NewStore()
	addr := testAddr(t)
	s.GetOrCreateDevice(1, addr)

	cseq := s.AllocateCSeq(1, true, 10*time.Millisecond)

	start := time.Now()
	result := s.WaitCSeq(1, cseq)
	if result != nil {
		t.Fatalf("expected nil result on timeout, got %v", result)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("WaitCSeq returned before its timeout elapsed (%v)", elapsed)
	}

	s.WithDevice(1, nil, func(d *Device) {
		if _, ok := d.pending[cseq]; ok {
			t.Fatal("pending entry should be removed after timeout")
		}
	})
}

func TestSignalCSeqDeliversResultToWaiter(t *testing.T) {
	s := NewStore()
	addr := testAddr(t)
	s.GetOrCreateDevice(1, addr)

	cseq := s.AllocateCSeq(1, true, time.Second)

	done := make(chan any, 1)
	go func() {
		done <- s.WaitCSeq(1, cseq)
	}()

	time.Sleep(10 * time.Millisecond)
	s.SignalCSeq(1, cseq, "215")

	select {
	case result := <-done:
		if result != "215" {
			t.Fatalf("result = %v, want 215", result)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never received the signalled result")
	}
}

func TestLastCSeqReflectsMostRecentAllocation(t *testing.T) {
	s := NewStore()
	addr := testAddr(t)
	s.GetOrCreateDevice(1, addr)

	allocated := s.AllocateCSeq(1, false, 0)
	if got := s.LastCSeq(1); got != allocated {
		t.Fatalf("LastCSeq() = %d, want %d", got, allocated)
	}
}

package weather

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestTemperatureCachesWithinTTL(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, `{"properties":{"timeseries":[{"data":{"instant":{"details":{"air_temperature":7.5}}}}]}}`)
	}))
	defer srv.Close()

	f := New(srv.URL, time.Hour)

	for i := 0; i < 5; i++ {
		temp, err := f.Temperature()
		if err != nil {
			t.Fatalf("Temperature: %v", err)
		}
		if temp != 7.5 {
			t.Fatalf("temp = %v, want 7.5", temp)
		}
	}

	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("upstream hit %d times, want 1 (cache should absorb repeat calls)", got)
	}
}

func TestTemperatureRefetchesAfterTTL(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, `{"properties":{"timeseries":[{"data":{"instant":{"details":{"air_temperature":3}}}}]}}`)
	}))
	defer srv.Close()

	f := New(srv.URL, 10*time.Millisecond)

	if _, err := f.Temperature(); err != nil {
		t.Fatalf("Temperature: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := f.Temperature(); err != nil {
		t.Fatalf("Temperature: %v", err)
	}

	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("upstream hit %d times, want 2 after TTL expiry", got)
	}
}

func TestCompatStringReturnsE1OnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(srv.URL, time.Hour)
	if got := f.CompatString(); got != "E_1" {
		t.Fatalf("CompatString() = %q, want E_1", got)
	}
}

func TestCompatStringRoundsToInteger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"properties":{"timeseries":[{"data":{"instant":{"details":{"air_temperature":7.6}}}}]}}`)
	}))
	defer srv.Close()

	f := New(srv.URL, time.Hour)
	if got := f.CompatString(); got != "8" {
		t.Fatalf("CompatString() = %q, want 8", got)
	}
}

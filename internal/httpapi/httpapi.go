// Package httpapi exposes the shadow store and sender API over
// HTTP/JSON (spec §6). It is a thin projection: every handler either
// reads the shadow directly or issues one Sender call and waits for
// the correlated reply.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/besim-project/besimd/internal/logging"
	"github.com/besim-project/besimd/internal/persistence"
	"github.com/besim-project/besimd/internal/sender"
	"github.com/besim-project/besimd/internal/shadow"
	"github.com/besim-project/besimd/internal/weather"
	"github.com/besim-project/besimd/pkg/protocol"
)

// RoomFreshWindow is how recently a room must have been seen to be
// included in the `GET .../rooms` listing (spec §6).
const RoomFreshWindow = 600 * time.Second

// WriteTimeout bounds how long a write handler blocks on the sender's
// correlated reply before treating the round-trip as failed.
const WriteTimeout = 5 * time.Second

// Server wires the shadow store and sender API into an HTTP handler.
type Server struct {
	store   *shadow.Store
	sender  *sender.Sender
	persist *persistence.Store
	weather *weather.Fetcher
	logger  *zap.Logger
}

// New returns a Server. persist and weatherFetcher may be nil; history
// and weather routes respond 503 in that case.
func New(store *shadow.Store, snd *sender.Sender, persist *persistence.Store, weatherFetcher *weather.Fetcher) *Server {
	return &Server{
		store:   store,
		sender:  snd,
		persist: persist,
		weather: weatherFetcher,
		logger:  logging.With(zap.String("component", "httpapi")),
	}
}

// Router builds the chi mux for this server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(cors.AllowAll().Handler)

	r.Route("/api/v1.0", func(r chi.Router) {
		r.Get("/peers", s.listPeers)
		r.Get("/devices", s.listDevices)
		r.Get("/devices/{device}", s.getDevice)
		r.Get("/devices/{device}/rooms", s.listRooms)
		r.Get("/devices/{device}/rooms/{room}", s.getRoom)

		for name, p := range roomParams {
			name, p := name, p
			r.Get("/devices/{device}/rooms/{room}/"+name, s.getRoomParam(p))
			if p.writeable {
				r.Put("/devices/{device}/rooms/{room}/"+name, s.putRoomParam(name, p))
			}
		}

		r.Get("/devices/{device}/rooms/{room}/days", s.getDays)
		r.Put("/devices/{device}/rooms/{room}/days", s.putDays)
		r.Get("/devices/{device}/rooms/{room}/days/{day}", s.getDay)
		r.Put("/devices/{device}/rooms/{room}/days/{day}", s.putDay)

		r.Get("/devices/{device}/time", s.getTime)
		r.Put("/devices/{device}/time", s.putTime)
		r.Put("/devices/{device}/outsidetemp", s.putOutsideTemp)

		r.Get("/devices/{device}/rooms/{room}/history", s.roomHistory)
		r.Get("/weather", s.getWeather)
		r.Get("/weather/history", s.weatherHistory)
	})

	// Vendor-compatibility endpoints: hardcoded shapes the vendor's
	// official app still probes for, out of core scope (spec §1).
	r.Get("/fwUpgrade/PR06549/version.txt", vendorFirmwareVersion)
	r.Get("/WifiBoxInterface_vokera/getWebTemperature.php", s.vendorWebTemperature)
	r.Post("/BeSMART_test_on_cloudwarm/v1/api/gateway/boilers/records", vendorBoilerRecords)

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func deviceIDFromPath(r *http.Request) (uint32, bool) {
	v, err := strconv.ParseUint(chi.URLParam(r, "device"), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

func roomIDFromPath(r *http.Request) (uint32, bool) {
	v, err := strconv.ParseUint(chi.URLParam(r, "room"), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

func timeRangeFromQuery(r *http.Request) (from, to time.Time) {
	to = time.Now()
	from = to.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}
	return from, to
}

func (s *Server) listPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Peers())
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.DeviceIDs())
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDFromPath(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid device id")
		return
	}
	dev, ok := s.store.Device(id)
	if !ok {
		writeMessage(w, http.StatusNotFound, "unknown device")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceIDFromPath(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid device id")
		return
	}
	dev, ok := s.store.Device(id)
	if !ok {
		writeMessage(w, http.StatusNotFound, "unknown device")
		return
	}

	cutoff := time.Now().Add(-RoomFreshWindow)
	fresh := make(map[uint32]*shadow.Room)
	for id, room := range dev.Rooms {
		if room.LastSeen.After(cutoff) {
			fresh[id] = room
		}
	}
	writeJSON(w, http.StatusOK, fresh)
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := deviceIDFromPath(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid device id")
		return
	}
	roomID, ok := roomIDFromPath(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid room id")
		return
	}
	room, ok := s.store.Room(deviceID, roomID)
	if !ok {
		writeMessage(w, http.StatusNotFound, "unknown room")
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) roomHistory(w http.ResponseWriter, r *http.Request) {
	if s.persist == nil {
		writeMessage(w, http.StatusServiceUnavailable, "history not configured")
		return
	}
	deviceID, ok := deviceIDFromPath(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid device id")
		return
	}
	roomID, ok := roomIDFromPath(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid room id")
		return
	}
	from, to := timeRangeFromQuery(r)
	rows, err := s.persist.RoomTemperatureHistory(deviceID, roomID, from, to)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "ERROR")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) getWeather(w http.ResponseWriter, r *http.Request) {
	if s.weather == nil {
		writeMessage(w, http.StatusServiceUnavailable, "weather not configured")
		return
	}
	temp, err := s.weather.Temperature()
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "ERROR")
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"temperature": temp})
}

func (s *Server) weatherHistory(w http.ResponseWriter, r *http.Request) {
	if s.persist == nil {
		writeMessage(w, http.StatusServiceUnavailable, "history not configured")
		return
	}
	from, to := timeRangeFromQuery(r)
	rows, err := s.persist.OutsideTemperatureHistory(from, to)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "ERROR")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func vendorFirmwareVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("http://fwupgrade.besmart-home.com/PR06549/firmware.bin\n"))
}

func (s *Server) vendorWebTemperature(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if s.weather == nil {
		_, _ = w.Write([]byte("E_1"))
		return
	}
	_, _ = w.Write([]byte(s.weather.CompatString()))
}

func vendorBoilerRecords(w http.ResponseWriter, r *http.Request) {
	// Accepted and ignored; the vendor cloud app expects 200 OK.
	w.WriteHeader(http.StatusOK)
}

// Package service wires besimd's components — shadow store, UDP
// dispatcher, sender, HTTP surface, persistence, weather, and optional
// MQTT telemetry — into one bootstrapped process, modeled on the
// teacher's internal/relay.Service orchestration.
package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/besim-project/besimd/internal/config"
	"github.com/besim-project/besimd/internal/dispatcher"
	"github.com/besim-project/besimd/internal/httpapi"
	"github.com/besim-project/besimd/internal/logging"
	"github.com/besim-project/besimd/internal/persistence"
	"github.com/besim-project/besimd/internal/sender"
	"github.com/besim-project/besimd/internal/shadow"
	"github.com/besim-project/besimd/internal/telemetry"
	"github.com/besim-project/besimd/internal/transport"
	"github.com/besim-project/besimd/internal/weather"
)

// telemetryInterval is how often the telemetry poller walks the shadow
// store and republishes room state, when MQTT telemetry is enabled.
const telemetryInterval = 30 * time.Second

// purgeInterval is how often the persistence layer's startup purge
// policy is re-applied while the service is running.
const purgeInterval = 24 * time.Hour

// historyInterval is how often room and outside temperatures are
// sampled into the persistence log (spec §4.7).
const historyInterval = 5 * time.Minute

// Service bootstraps and owns every besimd subsystem for the lifetime
// of the process.
type Service struct {
	cfg    *config.Config
	logger *zap.Logger

	store      *shadow.Store
	socket     *transport.Socket
	dispatcher *dispatcher.Dispatcher
	sender     *sender.Sender
	persist    *persistence.Store
	weather    *weather.Fetcher
	telemetry  *telemetry.Publisher
	httpServer *http.Server

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New opens persistence and builds the shadow store, the weather
// fetcher (when coordinates are set) and the telemetry publisher (when
// a broker is set). It binds no sockets and starts no goroutines; Start
// builds the UDP socket, sender, dispatcher and HTTP server.
func New(cfg *config.Config) (*Service, error) {
	logger := logging.With(zap.String("component", "service"))

	persist, err := persistence.Open(cfg.Database.Path, cfg.Database.PurgeAfter)
	if err != nil {
		return nil, fmt.Errorf("service: open persistence: %w", err)
	}

	store := shadow.NewStore()

	var weatherFetcher *weather.Fetcher
	if cfg.Weather.Latitude != 0 || cfg.Weather.Longitude != 0 {
		weatherFetcher = weather.New(cfg.WeatherURL(), cfg.Weather.TTL)
	}

	var telemetryPublisher *telemetry.Publisher
	if cfg.MQTT.Broker != "" {
		telemetryPublisher = telemetry.New(cfg.MQTT)
	}

	return &Service{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		persist:   persist,
		weather:   weatherFetcher,
		telemetry: telemetryPublisher,
	}, nil
}

// Start binds the UDP listener, starts the dispatcher and HTTP server,
// and — if configured — connects telemetry publishing. It returns once
// every subsystem has started; shutdown happens asynchronously via the
// context passed in or a call to Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("service: already running")
	}
	s.running = true
	s.mu.Unlock()

	socket, err := transport.Listen(s.cfg.UDP.Addr)
	if err != nil {
		return fmt.Errorf("service: listen udp: %w", err)
	}
	s.socket = socket
	s.sender = sender.New(socket, s.store)
	s.dispatcher = dispatcher.New(socket, s.store, s.cfg.Dispatcher.ResyncOnSyncLost)

	if s.telemetry != nil {
		if err := s.telemetry.Connect(); err != nil {
			s.logger.Warn("telemetry disabled: could not connect to broker", zap.Error(err))
			s.telemetry = nil
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.dispatcher.Run(runCtx); err != nil && runCtx.Err() == nil {
			s.logger.Error("dispatcher stopped unexpectedly", zap.Error(err))
		}
	}()

	s.wg.Add(1)
	go s.purgeLoop(runCtx)

	s.wg.Add(1)
	go s.historyLoop(runCtx)

	if s.telemetry != nil {
		s.wg.Add(1)
		go s.telemetryLoop(runCtx)
	}

	api := httpapi.New(s.store, s.sender, s.persist, s.weather)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.HTTP.Host, s.cfg.HTTP.Port),
		Handler: api.Router(),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped unexpectedly", zap.Error(err))
		}
	}()

	s.logger.Info("besimd started",
		zap.String("udp_addr", s.cfg.UDP.Addr),
		zap.String("http_addr", s.httpServer.Addr))
	return nil
}

// Stop gracefully shuts down every subsystem started by Start.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping besimd")

	if s.cancel != nil {
		s.cancel()
	}

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http server shutdown", zap.Error(err))
		}
	}

	if s.socket != nil {
		s.socket.Close()
	}
	if s.telemetry != nil {
		s.telemetry.Close()
	}

	s.wg.Wait()

	if s.persist != nil {
		if err := s.persist.Close(); err != nil {
			s.logger.Warn("persistence close", zap.Error(err))
		}
	}

	s.logger.Info("besimd stopped")
	return nil
}

// Store exposes the shadow store for the TUI and simulator tooling.
func (s *Service) Store() *shadow.Store {
	return s.store
}

func (s *Service) purgeLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.cfg.Database.PurgeAfter)
			n, err := s.persist.Purge(cutoff)
			if err != nil {
				s.logger.Warn("purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("purged stale history rows", zap.Int64("count", n))
			}
		}
	}
}

// historyLoop periodically samples every known room's temperature and
// the cached outside temperature into the persistence log, the way a
// real deployment would chart them over time.
func (s *Service) historyLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(historyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleHistory()
		}
	}
}

func (s *Service) sampleHistory() {
	for _, id := range s.store.DeviceIDs() {
		s.store.WithDevice(id, nil, func(d *shadow.Device) {
			for roomID, room := range d.Rooms {
				heating := room.Heating != nil && *room.Heating
				err := s.persist.InsertRoomTemperature(d.ID, roomID, float64(room.Temp)/10, float64(room.SetTemp)/10, heating)
				if err != nil {
					s.logger.Warn("failed to record room history",
						zap.Uint32("device", d.ID), zap.Uint32("room", roomID), zap.Error(err))
				}
			}
		})
	}

	if s.weather == nil {
		return
	}
	temp, err := s.weather.Temperature()
	if err != nil {
		return
	}
	if err := s.persist.InsertOutsideTemperature(temp); err != nil {
		s.logger.Warn("failed to record outside temperature history", zap.Error(err))
	}
}

func (s *Service) telemetryLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(telemetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range s.store.DeviceIDs() {
				s.store.WithDevice(id, nil, func(d *shadow.Device) {
					for roomID, room := range d.Rooms {
						s.telemetry.PublishRoom(d.ID, roomID, room)
					}
				})
			}
		}
	}
}

// Package persistence stores the append-only outside-temperature and
// room-temperature history in a small embedded SQLite database (spec
// §4.7), using gorm as the schema/query layer.
package persistence

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/besim-project/besimd/internal/logging"
)

// schemaVersion is the `user_version` pragma value this build expects.
// A database at version 0 is fresh and gets migrated up; any other
// mismatch is a fatal startup error (spec §4.7: "migration not
// implemented").
const schemaVersion = 1

// OutsideTemperatureSample is one row of the outside-temperature log.
type OutsideTemperatureSample struct {
	ID   uint      `gorm:"primarykey"`
	TS   time.Time `gorm:"index"`
	Temp float64
}

// RoomTemperatureSample is one row of the per-room temperature log.
type RoomTemperatureSample struct {
	ID         uint      `gorm:"primarykey"`
	TS         time.Time `gorm:"index"`
	DeviceID   uint32    `gorm:"index"`
	Thermostat uint32
	Temp       float64
	SetTemp    float64
	Heating    bool
}

// Store is the embedded SQL history log. Per spec §5 it is
// single-writer: every call opens, uses and releases its connection
// without a long-lived transaction.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (creating if necessary) the SQLite database at path,
// checks its schema version, and purges rows older than purgeAfter.
func Open(path string, purgeAfter time.Duration) (*Store, error) {
	logger := logging.With(zap.String("component", "persistence"))

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("persistence: open %s: %w", path, err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, err
	}

	purged, err := s.Purge(time.Now().Add(-purgeAfter))
	if err != nil {
		return nil, fmt.Errorf("persistence: startup purge: %w", err)
	}
	if purged > 0 {
		logger.Info("purged stale history rows", zap.Int64("rows", purged))
	}

	return s, nil
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.Raw("PRAGMA user_version").Scan(&version).Error; err != nil {
		return fmt.Errorf("persistence: read user_version: %w", err)
	}

	switch version {
	case schemaVersion:
		return nil
	case 0:
		if err := s.db.AutoMigrate(&OutsideTemperatureSample{}, &RoomTemperatureSample{}); err != nil {
			return fmt.Errorf("persistence: migrate: %w", err)
		}
		if err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)).Error; err != nil {
			return fmt.Errorf("persistence: set user_version: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("persistence: schema mismatch: database is at version %d, this build expects %d", version, schemaVersion)
	}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertOutsideTemperature appends one outside-temperature sample.
func (s *Store) InsertOutsideTemperature(temp float64) error {
	row := OutsideTemperatureSample{TS: time.Now(), Temp: temp}
	return s.db.Create(&row).Error
}

// OutsideTemperatureHistory returns samples with TS in [from, to].
func (s *Store) OutsideTemperatureHistory(from, to time.Time) ([]OutsideTemperatureSample, error) {
	var rows []OutsideTemperatureSample
	err := s.db.Where("ts BETWEEN ? AND ?", from, to).Order("ts").Find(&rows).Error
	return rows, err
}

// InsertRoomTemperature appends one per-room sample.
func (s *Store) InsertRoomTemperature(deviceID, thermostat uint32, temp, setTemp float64, heating bool) error {
	row := RoomTemperatureSample{
		TS:         time.Now(),
		DeviceID:   deviceID,
		Thermostat: thermostat,
		Temp:       temp,
		SetTemp:    setTemp,
		Heating:    heating,
	}
	return s.db.Create(&row).Error
}

// RoomTemperatureHistory returns samples for (deviceID, thermostat)
// with TS in [from, to].
func (s *Store) RoomTemperatureHistory(deviceID, thermostat uint32, from, to time.Time) ([]RoomTemperatureSample, error) {
	var rows []RoomTemperatureSample
	err := s.db.Where("device_id = ? AND thermostat = ? AND ts BETWEEN ? AND ?", deviceID, thermostat, from, to).
		Order("ts").Find(&rows).Error
	return rows, err
}

// Purge deletes every row older than cutoff from both history tables,
// returning the total number of rows removed.
func (s *Store) Purge(cutoff time.Time) (int64, error) {
	var total int64

	res := s.db.Where("ts < ?", cutoff).Delete(&OutsideTemperatureSample{})
	if res.Error != nil {
		return total, res.Error
	}
	total += res.RowsAffected

	res = s.db.Where("ts < ?", cutoff).Delete(&RoomTemperatureSample{})
	if res.Error != nil {
		return total, res.Error
	}
	total += res.RowsAffected

	return total, nil
}

// Package datastore persists the detection log. Every completed match is
// written as one row so detection history survives restarts.
package datastore

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yasunobu-nonaka/abema-cm-muter/internal/conf"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/detection"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/errors"
	"github.com/yasunobu-nonaka/abema-cm-muter/internal/logging"
)

// DetectionRecord is one completed match in the detection log.
type DetectionRecord struct {
	ID        uint      `gorm:"primaryKey"`
	PatternID string    `gorm:"index"`
	Score     float64   // peak similarity score over the match
	StartedAt time.Time `gorm:"index"`
	EndedAt   time.Time
	Duration  float64 // seconds
	Node      string  // node name from settings, for multi-machine setups
}

// Interface abstracts the detection log for consumers and tests.
type Interface interface {
	Open() error
	Close() error
	SaveDetection(record *DetectionRecord) error
	RecentDetections(limit int) ([]DetectionRecord, error)
}

// SQLiteStore implements Interface over a local SQLite file.
type SQLiteStore struct {
	settings *conf.Settings
	db       *gorm.DB
	log      *slog.Logger
}

// NewSQLiteStore creates an unopened SQLite detection log.
func NewSQLiteStore(settings *conf.Settings) *SQLiteStore {
	return &SQLiteStore{
		settings: settings,
		log:      logging.ForService("datastore"),
	}
}

// Open connects to the SQLite database and migrates the schema.
func (s *SQLiteStore) Open() error {
	path := s.settings.Output.SQLite.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("path", dir).
				Build()
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("path", path).
			Build()
	}
	s.db = db

	if err := db.AutoMigrate(&DetectionRecord{}); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto-migrate").
			Build()
	}

	s.log.Info("detection log open", "path", path)
	return nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveDetection inserts one completed match into the log.
func (s *SQLiteStore) SaveDetection(record *DetectionRecord) error {
	if s.db == nil {
		return errors.Newf("detection log not open").
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	if err := s.db.Create(record).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("pattern", record.PatternID).
			Build()
	}
	return nil
}

// RecentDetections returns the most recent completed matches, newest
// first.
func (s *SQLiteStore) RecentDetections(limit int) ([]DetectionRecord, error) {
	if s.db == nil {
		return nil, errors.Newf("detection log not open").
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	var records []DetectionRecord
	err := s.db.Order("started_at desc").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return records, nil
}

// RecordFromEvent converts a MatchEnd event into a log row.
func RecordFromEvent(ev detection.Event, node string) *DetectionRecord {
	return &DetectionRecord{
		PatternID: ev.PatternID,
		Score:     ev.Score,
		StartedAt: ev.Timestamp.Add(-ev.Duration),
		EndedAt:   ev.Timestamp,
		Duration:  ev.Duration.Seconds(),
		Node:      node,
	}
}

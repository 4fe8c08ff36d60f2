// Package store persists advisories, probe run transitions and invocation
// reports. Advisories are append-only by external identifier.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/user/sploitprobe/pkg/advisory"
)

// AdvisoryRecord is the persisted form of an advisory. Only the fixed field set is kept.
type AdvisoryRecord struct {
	ID         uint   `gorm:"primaryKey"`
	ExternalID string `gorm:"uniqueIndex;not null"`
	Title      string
	Score      float64
	Href       string
	Type       string
	Published  string
	Source     string
	Language   string
	CreatedAt  time.Time
}

// ProbeRun is one state transition of one advisory within one pipeline run.
type ProbeRun struct {
	ID          uint   `gorm:"primaryKey"`
	RunID       string `gorm:"index"`
	AdvisoryID  string `gorm:"index"`
	State       string
	Stage       string
	ProbeName   string
	Mode        string
	Code        string
	Description string
	ErrorKind   string
	Reason      string
	CreatedAt   time.Time
}

// Report is a parsed invocation verdict for one probe against one target.
type Report struct {
	ID          uint   `gorm:"primaryKey"`
	RunID       string `gorm:"index"`
	AdvisoryID  string `gorm:"index"`
	ProbeName   string
	Target      string
	Verdict     string
	Description string
	CreatedAt   time.Time
}

type Store struct {
	db *gorm.DB
}

// Open connects to a SQLite database at dsn (":memory:" for an ephemeral one)
// and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", dsn, err)
	}
	if dsn == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("open store %s: %w", dsn, err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&AdvisoryRecord{}, &ProbeRun{}, &Report{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertIfNew inserts adv when no record with its external identifier exists.
// A repeat sighting is a no-op; inserted reports whether a row was written.
func (s *Store) UpsertIfNew(ctx context.Context, adv advisory.Advisory) (inserted bool, err error) {
	if adv.ID == "" {
		return false, errors.New("upsert advisory: empty identifier")
	}
	rec := AdvisoryRecord{
		ExternalID: adv.ID,
		Title:      adv.Title,
		Score:      adv.Score,
		Href:       adv.Href,
		Type:       adv.Type,
		Published:  adv.Published,
		Source:     adv.Source,
		Language:   adv.Language,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_id"}}, DoNothing: true}).
		Create(&rec)
	if res.Error != nil {
		return false, fmt.Errorf("upsert advisory %s: %w", adv.ID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetAdvisory returns the stored advisory with the given external identifier.
func (s *Store) GetAdvisory(ctx context.Context, id string) (advisory.Advisory, bool, error) {
	var rec AdvisoryRecord
	err := s.db.WithContext(ctx).Where("external_id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return advisory.Advisory{}, false, nil
	}
	if err != nil {
		return advisory.Advisory{}, false, fmt.Errorf("get advisory %s: %w", id, err)
	}
	return rec.toAdvisory(), true, nil
}

// ListAdvisories returns stored advisories, newest first. limit <= 0 means no limit.
func (s *Store) ListAdvisories(ctx context.Context, limit int) ([]advisory.Advisory, error) {
	q := s.db.WithContext(ctx).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []AdvisoryRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list advisories: %w", err)
	}
	out := make([]advisory.Advisory, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toAdvisory())
	}
	return out, nil
}

func (s *Store) CountAdvisories(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&AdvisoryRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count advisories: %w", err)
	}
	return n, nil
}

func (r AdvisoryRecord) toAdvisory() advisory.Advisory {
	return advisory.Advisory{
		ID:        r.ExternalID,
		Title:     r.Title,
		Score:     r.Score,
		Href:      r.Href,
		Type:      r.Type,
		Published: r.Published,
		Source:    r.Source,
		Language:  r.Language,
	}
}

package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// RecordTransition appends one state transition.
func (s *Store) RecordTransition(ctx context.Context, run ProbeRun) error {
	run.ID = 0
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("record transition %s/%s: %w", run.AdvisoryID, run.State, err)
	}
	return nil
}

// LatestState returns the most recent state recorded for an advisory across runs.
func (s *Store) LatestState(ctx context.Context, advisoryID string) (string, bool, error) {
	var run ProbeRun
	err := s.db.WithContext(ctx).
		Where("advisory_id = ?", advisoryID).
		Order("id desc").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("latest state %s: %w", advisoryID, err)
	}
	return run.State, true, nil
}

// Transitions returns the transitions of one run in insertion order.
func (s *Store) Transitions(ctx context.Context, runID string) ([]ProbeRun, error) {
	var runs []ProbeRun
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("id").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list transitions %s: %w", runID, err)
	}
	return runs, nil
}

// SaveReport persists a parsed invocation verdict.
func (s *Store) SaveReport(ctx context.Context, r Report) error {
	r.ID = 0
	if err := s.db.WithContext(ctx).Create(&r).Error; err != nil {
		return fmt.Errorf("save report %s/%s: %w", r.AdvisoryID, r.Target, err)
	}
	return nil
}

// Reports returns all reports for an advisory, oldest first.
func (s *Store) Reports(ctx context.Context, advisoryID string) ([]Report, error) {
	var out []Report
	if err := s.db.WithContext(ctx).Where("advisory_id = ?", advisoryID).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list reports %s: %w", advisoryID, err)
	}
	return out, nil
}

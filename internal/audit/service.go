package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/orun-dev/orun/internal/models"
)

// Service records mutating operator actions and prunes old entries on a
// cron schedule.
type Service struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewService creates a new audit service
func NewService(db *gorm.DB, logger zerolog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Record persists one audit entry. Failures are logged, not propagated: an
// audit write must never fail the operator action it describes.
func (s *Service) Record(actor, action, targetType, targetID string, detail any, succeeded bool) {
	entry := models.AuditEntry{
		Actor:      actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Succeeded:  succeeded,
	}

	if detail != nil {
		if data, err := json.Marshal(detail); err == nil {
			entry.Detail = string(data)
		}
	}

	if err := s.db.Create(&entry).Error; err != nil {
		s.logger.Error().
			Err(err).
			Str("action", action).
			Str("target_id", targetID).
			Msg("Failed to write audit entry")
		return
	}

	s.logger.Debug().
		Str("action", action).
		Str("target_id", targetID).
		Bool("succeeded", succeeded).
		Msg("Audit entry recorded")
}

// Recent returns the most recent audit entries, newest first.
func (s *Service) Recent(limit int) ([]models.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var entries []models.AuditEntry
	err := s.db.Order("created_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

// Prune deletes entries older than the retention window. Returns the number
// of deleted rows.
func (s *Service) Prune(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result := s.db.Where("created_at < ?", cutoff).Delete(&models.AuditEntry{})
	return result.RowsAffected, result.Error
}

// StartPruner runs retention pruning on the given cron schedule until the
// context is cancelled. The schedule uses the standard 5-field format.
func (s *Service) StartPruner(ctx context.Context, schedule string, retentionDays int) {
	next := nextRun(schedule, time.Now())
	if next == nil {
		s.logger.Warn().Str("schedule", schedule).Msg("Invalid audit prune schedule, pruning disabled")
		return
	}

	timer := time.NewTimer(time.Until(*next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			deleted, err := s.Prune(retentionDays)
			if err != nil {
				s.logger.Error().Err(err).Msg("Audit pruning failed")
			} else if deleted > 0 {
				s.logger.Info().Int64("deleted", deleted).Msg("Pruned old audit entries")
			}

			next = nextRun(schedule, time.Now())
			if next == nil {
				return
			}
			timer.Reset(time.Until(*next))
		}
	}
}

// nextRun calculates the next run time from a cron schedule
func nextRun(cronExpr string, from time.Time) *time.Time {
	if cronExpr == "" {
		return nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil
	}

	next := schedule.Next(from)
	return &next
}

package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

// ScheduleService manages schedules.
//
// Contract:
//   - Save: create or update a schedule; a create is replayed as PUT, an
//     update as PATCH.
//   - Delete: drop the schedule with its photos, bundle and queued
//     attachments; the deletion is replayed as DELETE.
type ScheduleService interface {
	Save(ctx context.Context, s *models.Schedule) error
	Get(ctx context.Context, id string) (*models.Schedule, error)
	List(ctx context.Context) ([]*models.Schedule, error)
	Delete(ctx context.Context, id string) (int, error)
}

// AttachmentRemover drops queued attachments with their local files.
type AttachmentRemover interface {
	Remove(ctx context.Context, id string) error
	RemoveBySchedule(ctx context.Context, scheduleID string) (int, error)
}

type scheduleService struct {
	repos repomanager.RepositoryManager
	queue AttachmentRemover
	log   logging.Logger
}

func NewScheduleService(repos repomanager.RepositoryManager, queue AttachmentRemover, log logging.Logger) ScheduleService {
	return &scheduleService{repos: repos, queue: queue, log: log}
}

func (s *scheduleService) Save(ctx context.Context, sc *models.Schedule) error {
	if sc.ID == "" {
		return fmt.Errorf("save schedule: empty id")
	}

	err := s.repos.InTx(ctx, func(tx repomanager.RepositoryManager) error {
		created, err := tx.Schedules().Upsert(ctx, sc)
		if err != nil {
			return err
		}
		op := models.OpPatch
		if created {
			op = models.OpPut
		}
		return recordChange(ctx, tx, op, models.TableSchedules, sc.ID, sc)
	})
	if err != nil {
		return fmt.Errorf("save schedule %s: %w", sc.ID, err)
	}
	return nil
}

func (s *scheduleService) Get(ctx context.Context, id string) (*models.Schedule, error) {
	return s.repos.Schedules().Get(ctx, id)
}

func (s *scheduleService) List(ctx context.Context) ([]*models.Schedule, error) {
	return s.repos.Schedules().List(ctx)
}

// Delete removes the schedule and everything attached to it locally. It
// returns the number of queued attachments that were dropped.
func (s *scheduleService) Delete(ctx context.Context, id string) (int, error) {
	err := s.repos.InTx(ctx, func(tx repomanager.RepositoryManager) error {
		if err := tx.Schedules().Delete(ctx, id); err != nil {
			return err
		}
		photos, err := tx.Photos().ListBySchedule(ctx, id)
		if err != nil {
			return err
		}
		for _, p := range photos {
			if err := tx.Photos().Delete(ctx, p.ID); err != nil {
				return err
			}
		}
		if err := tx.Bundles().Delete(ctx, id); err != nil {
			return err
		}
		return recordChange(ctx, tx, models.OpDelete, models.TableSchedules, id, nil)
	})
	if err != nil {
		return 0, fmt.Errorf("delete schedule %s: %w", id, err)
	}

	removed, err := s.queue.RemoveBySchedule(ctx, id)
	if err != nil {
		// rows without a photo are dropped by the uploader anyway
		s.log.Warn(ctx, "failed to drop queued attachments", "schedule_id", id, "error", err)
	}
	return removed, nil
}

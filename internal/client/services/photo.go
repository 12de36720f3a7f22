package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

// PhotoService manages the photos of a schedule's bundle.
type PhotoService interface {
	// DeletePhoto removes a photo locally, records a delete operation and a
	// delete intent on the bundle, and drops its queued attachment if any.
	DeletePhoto(ctx context.Context, photoID string) error
	// AddInlineSignature stores a PNG signature directly in the bundle. The
	// backend stores it on the next replay and returns its URL.
	AddInlineSignature(ctx context.Context, scheduleID, technicianID string, png []byte) (models.BundlePhoto, error)
	Bundle(ctx context.Context, scheduleID string) (*models.PhotoBundle, error)
}

type photoService struct {
	repos repomanager.RepositoryManager
	queue AttachmentRemover
	log   logging.Logger
	now   func() time.Time
}

func NewPhotoService(repos repomanager.RepositoryManager, queue AttachmentRemover, log logging.Logger) PhotoService {
	return &photoService{repos: repos, queue: queue, log: log, now: time.Now}
}

func (s *photoService) DeletePhoto(ctx context.Context, photoID string) error {
	err := s.repos.InTx(ctx, func(tx repomanager.RepositoryManager) error {
		photo, err := tx.Photos().GetByID(ctx, photoID)
		if err != nil {
			return err
		}
		if err := tx.Operations().InsertDelete(ctx, &models.DeletePhotoOperation{
			ScheduleID:   photo.ScheduleID,
			PhotoID:      photo.ID,
			Timestamp:    s.now().UTC(),
			TechnicianID: photo.TechnicianID,
			Type:         photo.Type,
		}); err != nil {
			return err
		}
		if err := tx.Photos().Delete(ctx, photo.ID); err != nil {
			return err
		}

		bundle, err := tx.Bundles().Load(ctx, photo.ScheduleID)
		if err != nil {
			return err
		}
		removed, inBundle := bundle.Remove(photo.ID)
		url := photo.RemoteURL
		if url == "" {
			url = removed.URL
		}
		if url != "" {
			bundle.Pending = append(bundle.Pending, models.PhotoIntent{
				Kind: models.IntentDelete, PhotoID: photo.ID, URL: url, Type: photo.Type,
			})
		}
		if !inBundle && url == "" {
			// never left the device
			return nil
		}
		if err := tx.Bundles().Save(ctx, bundle); err != nil {
			return err
		}
		return recordChange(ctx, tx, models.OpPatch, models.TablePhotoBundles, photo.ScheduleID,
			models.PhotoIntent{Kind: models.IntentDelete, PhotoID: photo.ID, URL: url})
	})
	if err != nil {
		return fmt.Errorf("delete photo %s: %w", photoID, err)
	}

	if err := s.queue.Remove(ctx, photoID); err != nil && !errors.Is(err, common.ErrNotFound) {
		s.log.Warn(ctx, "failed to drop queued attachment", "photo_id", photoID, "error", err)
	}
	return nil
}

func (s *photoService) AddInlineSignature(ctx context.Context, scheduleID, technicianID string, png []byte) (models.BundlePhoto, error) {
	if scheduleID == "" {
		return models.BundlePhoto{}, fmt.Errorf("%w: empty schedule id", common.ErrIncorrectMetadata)
	}
	if mt := mimetype.Detect(png); !mt.Is("image/png") {
		return models.BundlePhoto{}, fmt.Errorf("%w: signature must be image/png, got %s", common.ErrIncorrectMetadata, mt.String())
	}

	photo := models.BundlePhoto{
		ID:           uuid.NewString(),
		Type:         models.PhotoSignature,
		Data:         "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		TechnicianID: technicianID,
		Timestamp:    s.now().UTC(),
	}

	err := s.repos.InTx(ctx, func(tx repomanager.RepositoryManager) error {
		bundle, err := tx.Bundles().Load(ctx, scheduleID)
		if err != nil {
			return err
		}
		bundle.Upsert(photo)
		bundle.Pending = append(bundle.Pending, models.PhotoIntent{
			Kind: models.IntentAdd, PhotoID: photo.ID, Type: photo.Type,
		})
		if err := tx.Bundles().Save(ctx, bundle); err != nil {
			return err
		}
		return recordChange(ctx, tx, models.OpPatch, models.TablePhotoBundles, scheduleID,
			models.PhotoIntent{Kind: models.IntentAdd, PhotoID: photo.ID, Type: photo.Type})
	})
	if err != nil {
		return models.BundlePhoto{}, fmt.Errorf("add signature to %s: %w", scheduleID, err)
	}
	return photo, nil
}

func (s *photoService) Bundle(ctx context.Context, scheduleID string) (*models.PhotoBundle, error) {
	return s.repos.Bundles().Load(ctx, scheduleID)
}

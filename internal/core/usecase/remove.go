package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/car-vision-api/internal/core/domain"
	"github.com/kirillkom/car-vision-api/internal/core/ports"
)

// RemovePredictionUseCase hard-deletes a record and releases its image. A
// failed image release never rolls the deletion back; it is reported as a
// warning on the receipt.
type RemovePredictionUseCase struct {
	repo    ports.PredictionRepository
	storage ports.ImageStorage
}

func NewRemovePredictionUseCase(repo ports.PredictionRepository, storage ports.ImageStorage) *RemovePredictionUseCase {
	return &RemovePredictionUseCase{repo: repo, storage: storage}
}

func (uc *RemovePredictionUseCase) Remove(ctx context.Context, id int64) (*domain.RemovalReceipt, error) {
	rec, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := uc.repo.Delete(ctx, id); err != nil {
		return nil, err
	}

	receipt := &domain.RemovalReceipt{ID: id, ImageReleased: true}
	if err := uc.storage.Remove(ctx, rec.ImagePath); err != nil {
		slog.Warn("image_release_failed", "prediction_id", id, "image_path", rec.ImagePath, "error", err)
		receipt.ImageReleased = false
		receipt.Warning = fmt.Sprintf("prediction deleted, but image %q was not released: %v", rec.ImagePath, err)
	}
	return receipt, nil
}

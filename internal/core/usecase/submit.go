package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/car-vision-api/internal/core/domain"
	"github.com/kirillkom/car-vision-api/internal/core/ports"
)

// SubmitPredictionUseCase runs the upload flow: store the image, classify
// it, persist the outcome, announce it. If anything after the image save
// fails, the image is released again so no orphan files accumulate.
type SubmitPredictionUseCase struct {
	classifier ports.Classifier
	repo       ports.PredictionRepository
	storage    ports.ImageStorage
	queue      ports.EventQueue
}

func NewSubmitPredictionUseCase(
	classifier ports.Classifier,
	repo ports.PredictionRepository,
	storage ports.ImageStorage,
	queue ports.EventQueue,
) *SubmitPredictionUseCase {
	return &SubmitPredictionUseCase{
		classifier: classifier,
		repo:       repo,
		storage:    storage,
		queue:      queue,
	}
}

func (uc *SubmitPredictionUseCase) Submit(ctx context.Context, filename string, body io.Reader) (*domain.Prediction, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidImage, "read upload", err)
	}
	if len(raw) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidImage, "read upload", errors.New("empty upload body"))
	}

	storageKey := fmt.Sprintf("%s_%s", uuid.NewString(), sanitizeFilename(filename))
	if err := uc.storage.Save(ctx, storageKey, bytes.NewReader(raw)); err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "save uploaded image", err)
	}

	result, err := uc.classifier.Classify(ctx, raw)
	if err != nil {
		uc.releaseImage(ctx, storageKey)
		return nil, domain.WrapError(domain.ErrPredictionFailed, "classify image", err)
	}
	if err := result.Validate(uc.classifier.Labels()); err != nil {
		uc.releaseImage(ctx, storageKey)
		return nil, domain.WrapError(domain.ErrPredictionFailed, "validate classification", err)
	}

	rec, err := uc.repo.Insert(ctx, domain.PredictionDraft{
		ImagePath:    storageKey,
		Label:        result.Label,
		Confidence:   result.Confidence,
		Distribution: result.Distribution,
	})
	if err != nil {
		uc.releaseImage(ctx, storageKey)
		return nil, domain.WrapError(domain.ErrPredictionFailed, "persist prediction", err)
	}

	// Event delivery is best-effort; the prediction itself already stands.
	if err := uc.queue.PublishPredictionCreated(ctx, rec.ID); err != nil {
		slog.Warn("prediction_event_publish_failed", "prediction_id", rec.ID, "error", err)
	}

	return rec, nil
}

func (uc *SubmitPredictionUseCase) releaseImage(ctx context.Context, storageKey string) {
	if err := uc.storage.Remove(ctx, storageKey); err != nil {
		slog.Warn("image_cleanup_failed", "storage_key", storageKey, "error", err)
	}
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "image.bin"
	}
	return base
}

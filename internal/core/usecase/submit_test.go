package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/car-vision-api/internal/core/domain"
)

type classifierFake struct {
	result domain.Classification
	err    error
	calls  int
}

func (f *classifierFake) Classify(context.Context, []byte) (domain.Classification, error) {
	f.calls++
	if f.err != nil {
		return domain.Classification{}, f.err
	}
	return f.result, nil
}

func (f *classifierFake) Labels() []string {
	return []string{"Audi", "BMW"}
}

type repoFake struct {
	inserted  *domain.PredictionDraft
	insertErr error
	nextID    int64
}

func (f *repoFake) Insert(_ context.Context, draft domain.PredictionDraft) (*domain.Prediction, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	copyDraft := draft
	f.inserted = &copyDraft
	f.nextID++
	return &domain.Prediction{
		ID:           f.nextID,
		ImagePath:    draft.ImagePath,
		Label:        draft.Label,
		Confidence:   draft.Confidence,
		Distribution: draft.Distribution,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (f *repoFake) GetByID(context.Context, int64) (*domain.Prediction, error) {
	return nil, errors.New("not implemented")
}
func (f *repoFake) Delete(context.Context, int64) error { return errors.New("not implemented") }
func (f *repoFake) List(context.Context, int, int) ([]domain.Prediction, error) {
	return nil, errors.New("not implemented")
}
func (f *repoFake) CountAll(context.Context) (int64, error) { return 0, errors.New("not implemented") }
func (f *repoFake) AverageConfidence(context.Context) (float64, error) {
	return 0, errors.New("not implemented")
}
func (f *repoFake) CountByLabel(context.Context) (map[string]int64, error) {
	return nil, errors.New("not implemented")
}
func (f *repoFake) CountCreatedBetween(context.Context, time.Time, time.Time) (int64, error) {
	return 0, errors.New("not implemented")
}

type storageFake struct {
	savedKey  string
	savedBody []byte
	removed   []string
	saveErr   error
	removeErr error
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.savedKey = key
	f.savedBody = raw
	return nil
}

func (f *storageFake) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *storageFake) Remove(_ context.Context, key string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, key)
	return nil
}

type queueFake struct {
	published []int64
	err       error
}

func (f *queueFake) PublishPredictionCreated(_ context.Context, predictionID int64) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, predictionID)
	return nil
}

func (f *queueFake) SubscribePredictionCreated(context.Context, func(context.Context, int64) error) error {
	return errors.New("not implemented")
}

func validClassification() domain.Classification {
	dist := domain.Distribution{
		{Label: "Audi", Probability: 0.9},
		{Label: "BMW", Probability: 0.1},
	}
	return domain.Classification{Label: "Audi", Confidence: 0.9, Distribution: dist}
}

func TestSubmitSuccess(t *testing.T) {
	classifier := &classifierFake{result: validClassification()}
	repo := &repoFake{}
	storage := &storageFake{}
	queue := &queueFake{}
	uc := NewSubmitPredictionUseCase(classifier, repo, storage, queue)

	rec, err := uc.Submit(context.Background(), "my car.jpg", bytes.NewBufferString("image-bytes"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rec.ID == 0 {
		t.Fatalf("expected assigned id")
	}
	if rec.Label != "Audi" || rec.Confidence != 0.9 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !strings.HasSuffix(storage.savedKey, "_my_car.jpg") {
		t.Fatalf("expected sanitized storage key, got %q", storage.savedKey)
	}
	if string(storage.savedBody) != "image-bytes" {
		t.Fatalf("unexpected stored body %q", storage.savedBody)
	}
	if repo.inserted == nil || repo.inserted.ImagePath != storage.savedKey {
		t.Fatalf("expected insert with image path %q, got %+v", storage.savedKey, repo.inserted)
	}
	if len(queue.published) != 1 || queue.published[0] != rec.ID {
		t.Fatalf("expected published event for id %d, got %v", rec.ID, queue.published)
	}
	if len(storage.removed) != 0 {
		t.Fatalf("image must not be released on success, got %v", storage.removed)
	}
}

func TestSubmitRejectsEmptyBody(t *testing.T) {
	uc := NewSubmitPredictionUseCase(&classifierFake{}, &repoFake{}, &storageFake{}, &queueFake{})

	_, err := uc.Submit(context.Background(), "car.jpg", bytes.NewBuffer(nil))
	if !domain.IsKind(err, domain.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
}

func TestSubmitReleasesImageOnClassificationFailure(t *testing.T) {
	classifyErr := domain.WrapError(domain.ErrInvalidImage, "decode image", errors.New("bad bytes"))
	classifier := &classifierFake{err: classifyErr}
	repo := &repoFake{}
	storage := &storageFake{}
	uc := NewSubmitPredictionUseCase(classifier, repo, storage, &queueFake{})

	_, err := uc.Submit(context.Background(), "car.jpg", bytes.NewBufferString("not an image"))
	if !domain.IsKind(err, domain.ErrPredictionFailed) {
		t.Fatalf("expected ErrPredictionFailed, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrInvalidImage) {
		t.Fatalf("expected underlying ErrInvalidImage to stay reachable, got %v", err)
	}
	if len(storage.removed) != 1 || storage.removed[0] != storage.savedKey {
		t.Fatalf("expected saved image to be released, got %v", storage.removed)
	}
	if repo.inserted != nil {
		t.Fatalf("no record must be persisted on classification failure")
	}
}

func TestSubmitReleasesImageOnInsertFailure(t *testing.T) {
	classifier := &classifierFake{result: validClassification()}
	repo := &repoFake{insertErr: domain.WrapError(domain.ErrStorage, "insert prediction", errors.New("db down"))}
	storage := &storageFake{}
	uc := NewSubmitPredictionUseCase(classifier, repo, storage, &queueFake{})

	_, err := uc.Submit(context.Background(), "car.jpg", bytes.NewBufferString("image-bytes"))
	if !domain.IsKind(err, domain.ErrPredictionFailed) {
		t.Fatalf("expected ErrPredictionFailed, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrStorage) {
		t.Fatalf("expected underlying ErrStorage to stay reachable, got %v", err)
	}
	if len(storage.removed) != 1 {
		t.Fatalf("expected saved image to be released, got %v", storage.removed)
	}
}

func TestSubmitRejectsInvalidClassifierOutput(t *testing.T) {
	// Distribution sums to 1.2; the record must never be persisted.
	bad := domain.Classification{
		Label:      "Audi",
		Confidence: 0.9,
		Distribution: domain.Distribution{
			{Label: "Audi", Probability: 0.9},
			{Label: "BMW", Probability: 0.3},
		},
	}
	repo := &repoFake{}
	storage := &storageFake{}
	uc := NewSubmitPredictionUseCase(&classifierFake{result: bad}, repo, storage, &queueFake{})

	_, err := uc.Submit(context.Background(), "car.jpg", bytes.NewBufferString("image-bytes"))
	if !domain.IsKind(err, domain.ErrPredictionFailed) {
		t.Fatalf("expected ErrPredictionFailed, got %v", err)
	}
	if repo.inserted != nil {
		t.Fatalf("invalid classification must not be persisted")
	}
	if len(storage.removed) != 1 {
		t.Fatalf("expected saved image to be released, got %v", storage.removed)
	}
}

func TestSubmitSucceedsWhenEventPublishFails(t *testing.T) {
	classifier := &classifierFake{result: validClassification()}
	queue := &queueFake{err: errors.New("nats down")}
	uc := NewSubmitPredictionUseCase(classifier, &repoFake{}, &storageFake{}, queue)

	rec, err := uc.Submit(context.Background(), "car.jpg", bytes.NewBufferString("image-bytes"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rec == nil || rec.ID == 0 {
		t.Fatalf("expected a persisted record despite publish failure")
	}
}

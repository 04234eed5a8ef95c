// Package mock provides the placeholder classifier used until a trained
// model is wired in. Output is random but honors the full classifier
// contract: a complete distribution over the label set, summing to 1, with
// the predicted label at the argmax.
package mock

import (
	"bytes"
	"context"
	"errors"
	"image"
	"math/rand"
	"sync"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"

	"github.com/kirillkom/car-vision-api/internal/core/domain"
)

var errEmptyPayload = errors.New("empty image payload")

// DefaultLabels is the car make label set, in canonical order. Ties anywhere
// in the pipeline break by position in this slice.
var DefaultLabels = []string{
	"Audi",
	"BMW",
	"Mercedes-Benz",
	"Toyota",
	"Honda",
	"Tesla",
	"Ford",
	"Chevrolet",
	"Hyundai",
	"Nissan",
}

type Classifier struct {
	labels []string

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a classifier over the given label set (DefaultLabels when nil).
// The seed makes output reproducible; pass 0 for an arbitrary stream.
func New(labels []string, seed int64) *Classifier {
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	owned := make([]string, len(labels))
	copy(owned, labels)
	return &Classifier{
		labels: owned,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

func (c *Classifier) Labels() []string {
	out := make([]string, len(c.labels))
	copy(out, c.labels)
	return out
}

// Classify rejects empty or undecodable input, then draws a well-formed
// random distribution: one label gets a confidence in [0.75, 0.99), the
// remainder spreads over the rest, and the whole vector is renormalized so
// it sums to 1.
func (c *Classifier) Classify(ctx context.Context, imageBytes []byte) (domain.Classification, error) {
	if err := ctx.Err(); err != nil {
		return domain.Classification{}, err
	}
	if len(imageBytes) == 0 {
		return domain.Classification{}, domain.WrapError(domain.ErrInvalidImage, "classify image", errEmptyPayload)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(imageBytes)); err != nil {
		return domain.Classification{}, domain.WrapError(domain.ErrInvalidImage, "decode image", err)
	}

	c.mu.Lock()
	chosen := c.labels[c.rng.Intn(len(c.labels))]
	confidence := 0.75 + c.rng.Float64()*0.24
	remaining := 1.0 - confidence

	scores := make(map[string]float64, len(c.labels))
	for _, label := range c.labels {
		if label == chosen {
			scores[label] = confidence
			continue
		}
		scores[label] = c.rng.Float64() * remaining / float64(len(c.labels))
	}
	c.mu.Unlock()

	var sum float64
	for _, p := range scores {
		sum += p
	}
	for label, p := range scores {
		scores[label] = p / sum
	}

	dist := domain.NewDistribution(scores, c.labels)
	top := dist.ArgMax()
	p, _ := dist.Get(top)
	return domain.Classification{
		Label:        top,
		Confidence:   p,
		Distribution: dist,
	}, nil
}

package onnx

import (
	"encoding/json"
	"math"
	"testing"
)

func TestSoftmaxProducesSimplex(t *testing.T) {
	scores := softmax([]float32{2.0, 1.0, 0.1, -3.5})

	var sum float64
	for _, p := range scores {
		if p <= 0 {
			t.Fatalf("expected strictly positive probabilities, got %v", scores)
		}
		sum += p
	}
	if math.Abs(sum-1.0) >= 1e-9 {
		t.Fatalf("softmax sums to %.12f", sum)
	}
	for i := 1; i < len(scores); i++ {
		if scores[i] >= scores[i-1] {
			t.Fatalf("softmax must preserve logit order, got %v", scores)
		}
	}
}

func TestSoftmaxIsStableForLargeLogits(t *testing.T) {
	scores := softmax([]float32{1000, 999})
	for _, p := range scores {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			t.Fatalf("softmax overflowed: %v", scores)
		}
	}
	if scores[0] <= scores[1] {
		t.Fatalf("expected first logit to dominate, got %v", scores)
	}
}

func TestMetadataParses(t *testing.T) {
	raw := []byte(`{
		"input_shape": [1, 3, 224, 224],
		"output_shape": [1, 10],
		"classes": ["Audi", "BMW"],
		"image_size": 224
	}`)

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if meta.ImageSize != 224 {
		t.Fatalf("expected image size 224, got %d", meta.ImageSize)
	}
	if len(meta.Classes) != 2 || meta.Classes[0] != "Audi" {
		t.Fatalf("unexpected classes: %v", meta.Classes)
	}
}

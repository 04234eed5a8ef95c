// Package onnx runs a real car-make model through onnxruntime. It satisfies
// the same contract as the mock classifier, so swapping backends is a
// bootstrap-level decision.
package onnx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"
	_ "golang.org/x/image/bmp"

	"github.com/kirillkom/car-vision-api/internal/core/domain"
)

// Metadata describes the exported model: tensor shapes, the label set in
// output order, and the square input size images are resized to.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

type Classifier struct {
	meta Metadata

	// The session reuses one input/output tensor pair, so runs serialize.
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func New(modelPath, metadataPath string) (*Classifier, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnx environment: %w", err)
	}

	rawMeta, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("read model metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, fmt.Errorf("parse model metadata: %w", err)
	}
	if len(meta.Classes) < 2 {
		return nil, fmt.Errorf("model metadata lists %d classes, need at least 2", len(meta.Classes))
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &Classifier{
		meta:         meta,
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (c *Classifier) Labels() []string {
	out := make([]string, len(c.meta.Classes))
	copy(out, c.meta.Classes)
	return out
}

func (c *Classifier) Classify(ctx context.Context, imageBytes []byte) (domain.Classification, error) {
	if err := ctx.Err(); err != nil {
		return domain.Classification{}, err
	}
	if len(imageBytes) == 0 {
		return domain.Classification{}, domain.WrapError(domain.ErrInvalidImage, "classify image",
			fmt.Errorf("empty image payload"))
	}
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return domain.Classification{}, domain.WrapError(domain.ErrInvalidImage, "decode image", err)
	}

	input := c.preprocess(img)

	c.mu.Lock()
	copy(c.inputTensor.GetData(), input)
	runErr := c.session.Run()
	var logits []float32
	if runErr == nil {
		logits = append([]float32(nil), c.outputTensor.GetData()...)
	}
	c.mu.Unlock()
	if runErr != nil {
		return domain.Classification{}, fmt.Errorf("run inference: %w", runErr)
	}
	if len(logits) < len(c.meta.Classes) {
		return domain.Classification{}, fmt.Errorf("model produced %d outputs for %d classes", len(logits), len(c.meta.Classes))
	}

	scores := softmax(logits[:len(c.meta.Classes)])
	byLabel := make(map[string]float64, len(c.meta.Classes))
	for i, label := range c.meta.Classes {
		byLabel[label] = scores[i]
	}

	dist := domain.NewDistribution(byLabel, c.meta.Classes)
	top := dist.ArgMax()
	p, _ := dist.Get(top)
	return domain.Classification{
		Label:        top,
		Confidence:   p,
		Distribution: dist,
	}, nil
}

// preprocess resizes to the model's square input and lays pixels out in CHW
// order scaled to [0, 1].
func (c *Classifier) preprocess(img image.Image) []float32 {
	size := c.meta.ImageSize
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)

	out := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			idx := y*size + x
			out[idx] = float32(r>>8) / 255.0
			out[plane+idx] = float32(g>>8) / 255.0
			out[2*plane+idx] = float32(b>>8) / 255.0
		}
	}
	return out
}

func softmax(logits []float32) []float64 {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	exps := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		exps[i] = math.Exp(float64(v - maxLogit))
		sum += exps[i]
	}
	for i := range exps {
		exps[i] /= sum
	}
	return exps
}

func (c *Classifier) Close() {
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
	}
	if c.session != nil {
		c.session.Destroy()
	}
	ort.DestroyEnvironment()
}

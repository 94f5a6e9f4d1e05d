package model

import "errors"

// Tensor layouts.
const (
	LayoutNHWC = "nhwc"
	LayoutNCHW = "nchw"
)

var (
	ErrShape      = errors.New("model: tensor shape mismatch")
	ErrNoScores   = errors.New("model: empty score vector")
	ErrEmptyImage = errors.New("model: image has no pixels")
)

// Spec describes the input geometry and labels of one model.
type Spec struct {
	Labels     []string
	ImageSize  int
	Layout     string
	InputName  string
	OutputName string
}

// InputShape is the batch-of-one input tensor shape.
func (s Spec) InputShape() []int64 {
	n := int64(s.ImageSize)
	if s.Layout == LayoutNCHW {
		return []int64{1, 3, n, n}
	}
	return []int64{1, n, n, 3}
}

// OutputShape is one score per label.
func (s Spec) OutputShape() []int64 {
	return []int64{1, int64(len(s.Labels))}
}

// InputSize is the number of float32 values in one input tensor.
func (s Spec) InputSize() int {
	return 3 * s.ImageSize * s.ImageSize
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type Prediction struct {
	Label       string             `json:"label"`
	Confidence  float32            `json:"confidence"`
	Predictions map[string]float32 `json:"predictions"`
}

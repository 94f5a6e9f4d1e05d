package model

import (
	"fmt"
	"image"
	"io"
)

// Predictor runs a model on one flat input tensor and returns its scores.
type Predictor interface {
	Predict(input []float32) ([]float32, error)
}

// Decide picks the highest score among the first len(labels) scores. Ties
// go to the lower index.
func Decide(scores []float32, labels []string) (*Prediction, error) {
	if len(scores) == 0 || len(labels) == 0 {
		return nil, ErrNoScores
	}
	if len(scores) < len(labels) {
		return nil, fmt.Errorf("%w: %d scores for %d labels", ErrShape, len(scores), len(labels))
	}

	maxIdx := 0
	maxVal := scores[0]
	predictions := make(map[string]float32, len(labels))

	for i, label := range labels {
		val := scores[i]
		predictions[label] = val
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}

	return &Prediction{
		Label:       labels[maxIdx],
		Confidence:  maxVal,
		Predictions: predictions,
	}, nil
}

// Classifier turns images into predictions for one model.
type Classifier struct {
	spec      Spec
	predictor Predictor
}

func NewClassifier(spec Spec, predictor Predictor) *Classifier {
	return &Classifier{spec: spec, predictor: predictor}
}

func (c *Classifier) Spec() Spec {
	return c.spec
}

func (c *Classifier) Classify(img image.Image) (*Prediction, error) {
	t, err := Preprocess(img, c.spec.ImageSize, c.spec.Layout)
	if err != nil {
		return nil, err
	}
	return c.ClassifyTensor(t.Data)
}

// ClassifyTensor classifies an already preprocessed input.
func (c *Classifier) ClassifyTensor(input []float32) (*Prediction, error) {
	if len(input) != c.spec.InputSize() {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrShape, c.spec.InputSize(), len(input))
	}
	scores, err := c.predictor.Predict(input)
	if err != nil {
		return nil, err
	}
	return Decide(scores, c.spec.Labels)
}

func (c *Classifier) Close() error {
	if closer, ok := c.predictor.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

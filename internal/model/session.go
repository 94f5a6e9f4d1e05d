package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// InitRuntime loads the ONNX Runtime shared library and initializes its
// environment. Safe to call more than once; only the first call has effect.
func InitRuntime(sharedLibPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if sharedLibPath != "" {
		ort.SetSharedLibraryPath(sharedLibPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

func ShutdownRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// Session runs one ONNX model with preallocated input and output tensors.
// Predict is safe for concurrent use.
type Session struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	spec         Spec
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// Open creates a session for the model at path. An error here means the
// file is not a model ONNX Runtime can run with spec's shapes.
func Open(path string, spec Spec) (*Session, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.InputShape()...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.OutputShape()...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{spec.InputName}, []string{spec.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Session{
		session:      session,
		spec:         spec,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (s *Session) Predict(input []float32) ([]float32, error) {
	if len(input) != s.spec.InputSize() {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrShape, s.spec.InputSize(), len(input))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy(s.inputTensor.GetData(), input)
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := s.outputTensor.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inputTensor != nil {
		s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
		s.outputTensor = nil
	}
	if s.session != nil {
		err := s.session.Destroy()
		s.session = nil
		return err
	}
	return nil
}

package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"sort"

	"github.com/Brownie44l1/imgclass-api/internal/model"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Classifier is what the handlers need from a loaded model.
type Classifier interface {
	Spec() model.Spec
	Classify(img image.Image) (*model.Prediction, error)
	ClassifyTensor(input []float32) (*model.Prediction, error)
}

type task struct {
	title      string
	classifier Classifier
}

type TaskInfo struct {
	Name      string   `json:"name"`
	Title     string   `json:"title,omitempty"`
	Labels    []string `json:"labels"`
	ImageSize int      `json:"image_size"`
}

type Handler struct {
	tasks     map[string]task
	maxUpload int64
	log       logrus.FieldLogger
}

func NewHandler(log logrus.FieldLogger, maxUpload int64) *Handler {
	return &Handler{
		tasks:     make(map[string]task),
		maxUpload: maxUpload,
		log:       log,
	}
}

// Register exposes a classifier under name. Not safe to call once serving.
func (h *Handler) Register(name, title string, c Classifier) {
	h.tasks[name] = task{title: title, classifier: c}
}

func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /tasks", h.Tasks)
	mux.HandleFunc("POST /predict/{task}", h.Predict)
	mux.HandleFunc("POST /predict/{task}/image", h.PredictFromImage)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Tasks(w http.ResponseWriter, r *http.Request) {
	infos := make([]TaskInfo, 0, len(h.tasks))
	for name, t := range h.tasks {
		spec := t.classifier.Spec()
		infos = append(infos, TaskInfo{Name: name, Title: t.title, Labels: spec.Labels, ImageSize: spec.ImageSize})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	h.writeJSON(w, r, http.StatusOK, infos)
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	t, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req model.PredictionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxUpload)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	expected := t.classifier.Spec().InputSize()
	if len(req.Image) != expected {
		http.Error(w, fmt.Sprintf("Expected %d values, got %d", expected, len(req.Image)), http.StatusBadRequest)
		return
	}

	result, err := t.classifier.ClassifyTensor(req.Image)
	if err != nil {
		h.predictionFailed(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, result)
}

func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	t, ok := h.lookup(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "No image file provided. Use 'image' as the form field name", http.StatusBadRequest)
		return
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		http.Error(w, "Invalid image format. Supported: JPEG, PNG, GIF, BMP, WebP", http.StatusBadRequest)
		return
	}

	h.log.WithFields(logrus.Fields{
		"task":   r.PathValue("task"),
		"file":   header.Filename,
		"format": format,
		"width":  img.Bounds().Dx(),
		"height": img.Bounds().Dy(),
	}).Debugln("classifying upload")

	result, err := t.classifier.Classify(img)
	if err != nil {
		h.predictionFailed(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, result)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (task, bool) {
	name := r.PathValue("task")
	t, ok := h.tasks[name]
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown task %q", name), http.StatusNotFound)
	}
	return t, ok
}

func (h *Handler) predictionFailed(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, model.ErrShape) || errors.Is(err, model.ErrEmptyImage) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.log.WithField("task", r.PathValue("task")).Errorf("Prediction error: %v", err)
	http.Error(w, "Prediction failed", http.StatusInternalServerError)
}

// writeJSON encodes v before writing any header, so an unencodable value
// (a NaN score, say) becomes a 500 rather than an empty 200.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		h.log.WithField("path", r.URL.Path).Errorf("Encoding response: %v", err)
		http.Error(w, "Encoding response failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// CORS allows browser clients on any origin.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

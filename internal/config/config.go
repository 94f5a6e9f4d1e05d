// Package config loads service settings from a YAML file and resolves
// secret-bearing values such as model share links.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tensor layouts accepted by Task.Layout.
const (
	LayoutNHWC = "nhwc"
	LayoutNCHW = "nchw"
)

// ErrInvalid indicates a configuration that cannot be served.
var ErrInvalid = errors.New("config: invalid configuration")

type Config struct {
	Listen         string `yaml:"listen"`
	ModelsDir      string `yaml:"models_dir"`
	OnnxRuntimeLib string `yaml:"onnxruntime_lib"`
	SecretsFile    string `yaml:"secrets_file"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	Tasks          []Task `yaml:"tasks"`
}

// Task describes one classifier: where its model comes from and the input
// geometry it expects.
type Task struct {
	Name  string `yaml:"name"`
	Title string `yaml:"title"`

	// URLKey is the secrets/environment key holding the share link.
	URLKey string `yaml:"url_key"`
	// URL is used when URLKey resolves to nothing.
	URL string `yaml:"url"`
	// Digest optionally pins the artifact, e.g. "sha256:...".
	Digest string `yaml:"digest"`
	// File is the cache file name, relative to ModelsDir unless absolute.
	File string `yaml:"file"`

	Labels     []string `yaml:"labels"`
	ImageSize  int      `yaml:"image_size"`
	Layout     string   `yaml:"layout"`
	InputName  string   `yaml:"input_name"`
	OutputName string   `yaml:"output_name"`
}

// Default returns the configuration of the two shipped classifiers.
func Default() *Config {
	return &Config{
		Listen:         ":8080",
		ModelsDir:      "models",
		SecretsFile:    "secrets.yaml",
		MaxUploadBytes: 10 << 20,
		Tasks: []Task{
			{
				Name:      "cells",
				Title:     "Malaria infected blood cells",
				URLKey:    "parazited_model_url",
				File:      "cells.onnx",
				Labels:    []string{"healthy", "infected"},
				ImageSize: 50,
			},
			{
				Name:      "pets",
				Title:     "Cats and dogs",
				URLKey:    "dogs_cats_model_url",
				File:      "pets.onnx",
				Labels:    []string{"cat", "dog"},
				ImageSize: 50,
			},
		},
	}
}

// Load reads the YAML file at path. A missing file yields Default().
// Unset fields are filled with defaults and the result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		loaded := &Config{}
		if err := yaml.Unmarshal(data, loaded); err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalid, path, err)
		}
		if len(loaded.Tasks) == 0 {
			loaded.Tasks = cfg.Tasks
		}
		cfg = loaded
	}

	cfg.ApplyEnv(os.LookupEnv)
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides file settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("PORT"); ok && v != "" {
		c.Listen = ":" + v
	}
	if v, ok := lookup("IMGCLASS_LISTEN"); ok && v != "" {
		c.Listen = v
	}
	if v, ok := lookup("IMGCLASS_MODELS_DIR"); ok && v != "" {
		c.ModelsDir = v
	}
	if v, ok := lookup("IMGCLASS_SECRETS_FILE"); ok && v != "" {
		c.SecretsFile = v
	}
	if v, ok := lookup("ONNXRUNTIME_LIB"); ok && v != "" {
		c.OnnxRuntimeLib = v
	}
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.ModelsDir == "" {
		c.ModelsDir = def.ModelsDir
	}
	if c.SecretsFile == "" {
		c.SecretsFile = def.SecretsFile
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = def.MaxUploadBytes
	}
	for i := range c.Tasks {
		t := &c.Tasks[i]
		if t.File == "" {
			t.File = t.Name + ".onnx"
		}
		if t.Layout == "" {
			t.Layout = LayoutNHWC
		}
		t.Layout = strings.ToLower(t.Layout)
		if t.InputName == "" {
			t.InputName = "input"
		}
		if t.OutputName == "" {
			t.OutputName = "output"
		}
	}
}

// Validate reports the first problem that would keep a task from serving.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, t := range c.Tasks {
		switch {
		case t.Name == "":
			return fmt.Errorf("%w: task without a name", ErrInvalid)
		case seen[t.Name]:
			return fmt.Errorf("%w: duplicate task %q", ErrInvalid, t.Name)
		case len(t.Labels) == 0:
			return fmt.Errorf("%w: task %q has no labels", ErrInvalid, t.Name)
		case t.ImageSize <= 0:
			return fmt.Errorf("%w: task %q has image_size %d", ErrInvalid, t.Name, t.ImageSize)
		case t.Layout != LayoutNHWC && t.Layout != LayoutNCHW:
			return fmt.Errorf("%w: task %q has unknown layout %q", ErrInvalid, t.Name, t.Layout)
		case t.URLKey == "" && t.URL == "":
			return fmt.Errorf("%w: task %q has neither url_key nor url", ErrInvalid, t.Name)
		}
		seen[t.Name] = true
	}
	if len(c.Tasks) == 0 {
		return fmt.Errorf("%w: no tasks configured", ErrInvalid)
	}
	return nil
}

// Task returns the named task.
func (c *Config) Task(name string) (Task, bool) {
	for _, t := range c.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return Task{}, false
}

// CachePath returns where the task's model is cached.
func (c *Config) CachePath(t Task) string {
	if filepath.IsAbs(t.File) {
		return t.File
	}
	return filepath.Join(c.ModelsDir, t.File)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnset indicates that no source provided a value for a key.
var ErrUnset = errors.New("config: value not set")

// Origin names where a resolved value came from.
type Origin string

const (
	OriginSecrets Origin = "secrets"
	OriginEnv     Origin = "env"
	OriginConfig  Origin = "config"
)

// Setting is a resolved value together with its origin.
type Setting struct {
	Key    string
	Value  string
	Origin Origin
}

// Resolver looks values up with a fixed precedence: secrets file, then the
// environment (exact key, then upper-cased key), then a config-file
// fallback.
type Resolver struct {
	secrets map[string]string
	lookup  func(string) (string, bool)
}

// NewResolver reads the YAML secrets file at path. A missing file is not an
// error; it simply contributes no values.
func NewResolver(path string) (*Resolver, error) {
	r := &Resolver{secrets: map[string]string{}, lookup: os.LookupEnv}
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets: %w", err)
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing secrets %s: %v", ErrInvalid, path, err)
	}
	for k, v := range raw {
		if v == nil {
			continue
		}
		r.secrets[strings.TrimSpace(k)] = strings.TrimSpace(fmt.Sprint(v))
	}
	return r, nil
}

// NewStaticResolver builds a Resolver from explicit sources, for tests and
// embedding.
func NewStaticResolver(secrets map[string]string, lookup func(string) (string, bool)) *Resolver {
	if secrets == nil {
		secrets = map[string]string{}
	}
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	return &Resolver{secrets: secrets, lookup: lookup}
}

// Lookup resolves key. fallback is the config-file value, used last.
// Returns ErrUnset when every source is empty.
func (r *Resolver) Lookup(key, fallback string) (Setting, error) {
	key = strings.TrimSpace(key)
	if key != "" {
		if v := r.secrets[key]; v != "" {
			return Setting{Key: key, Value: v, Origin: OriginSecrets}, nil
		}
		for _, k := range []string{key, strings.ToUpper(key)} {
			if v, ok := r.lookup(k); ok && strings.TrimSpace(v) != "" {
				return Setting{Key: k, Value: strings.TrimSpace(v), Origin: OriginEnv}, nil
			}
		}
	}
	if fallback != "" {
		return Setting{Key: key, Value: fallback, Origin: OriginConfig}, nil
	}
	return Setting{Key: key}, fmt.Errorf("%w: %q", ErrUnset, key)
}

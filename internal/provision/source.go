package provision

import (
	"fmt"
	"net/url"

	"github.com/opencontainers/go-digest"
)

// Source identifies a model artifact: where to fetch it and where to cache
// it. A Source is immutable once constructed.
type Source struct {
	link   string
	path   string
	digest digest.Digest
}

// SourceOption configures a Source at construction time.
type SourceOption func(*Source)

// WithDigest pins the artifact content. A cached or downloaded file whose
// digest differs is treated as invalid.
func WithDigest(d digest.Digest) SourceOption {
	return func(s *Source) {
		s.digest = d
	}
}

// NewSource builds a Source from a share link and a local cache path.
// Returns ErrUnsupportedSource if the link is not an absolute http(s) URL,
// the path is empty, or a pinned digest is malformed.
func NewSource(link, path string, opts ...SourceOption) (Source, error) {
	u, err := url.Parse(link)
	if err != nil {
		return Source{}, fmt.Errorf("%w: %v", ErrUnsupportedSource, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Source{}, fmt.Errorf("%w: %q is not an http(s) URL", ErrUnsupportedSource, link)
	}
	if path == "" {
		return Source{}, fmt.Errorf("%w: empty cache path", ErrUnsupportedSource)
	}

	s := Source{link: link, path: path}
	for _, opt := range opts {
		opt(&s)
	}
	if s.digest != "" {
		if err := s.digest.Validate(); err != nil {
			return Source{}, fmt.Errorf("%w: pinned digest: %v", ErrUnsupportedSource, err)
		}
	}
	return s, nil
}

// Link returns the share link.
func (s Source) Link() string { return s.link }

// Path returns the local cache path.
func (s Source) Path() string { return s.path }

// Digest returns the pinned digest, or "" when none was set.
func (s Source) Digest() digest.Digest { return s.digest }

func (s Source) String() string {
	return s.link + " -> " + s.path
}

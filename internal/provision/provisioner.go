package provision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Provisioner fetches, validates and caches model artifacts.
type Provisioner struct {
	client   HTTPClient
	log      logrus.FieldLogger
	validate Validator
	drive    DriveOpener
}

// New creates a Provisioner.
func New(opts ...Option) *Provisioner {
	p := &Provisioner{
		client:   http.DefaultClient,
		log:      discardLogger(),
		validate: ValidateONNX,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ensure returns the model for src, loading the cached artifact when it is
// valid and otherwise downloading a fresh one. A cached artifact that fails
// validation or loading is removed before any download. load turns a
// validated file into a usable model; a load error means the artifact is
// corrupt even though it passed structural checks. Errors wrap
// ErrProvisioning together with the underlying cause.
func Ensure[M any](ctx context.Context, p *Provisioner, src Source, load func(path string) (M, error)) (M, error) {
	var zero M
	path := src.Path()
	log := p.log.WithField("path", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return zero, fmt.Errorf("%w: creating cache dir: %w", ErrProvisioning, err)
	}

	lock, err := acquireLock(ctx, path+".lock")
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrProvisioning, err)
	}
	defer lock.release()

	p.removeStaleParts(path, log)

	m, ok, err := loadCached(p, path, src, load, log)
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrProvisioning, err)
	}
	if ok {
		return m, nil
	}

	log.Infoln("downloading model from cloud storage")
	tmp, err := p.download(ctx, src)
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %w", ErrProvisioning, src.Link(), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return zero, fmt.Errorf("%w: moving download into place: %w", ErrProvisioning, err)
	}

	m, err = load(path)
	if err != nil {
		log.Warnf("downloaded model does not load, removing: %v", err)
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Errorf("removing unloadable model: %v", rmErr)
		}
		return zero, fmt.Errorf("%w: %w: loading downloaded model: %v", ErrProvisioning, ErrValidation, err)
	}
	log.Infoln("model downloaded and loaded")
	return m, nil
}

// loadCached returns the cached model when one is present and usable. Any
// cached file that is not usable is removed; failing to remove it is an
// error, since downloading over it would break the cache invariant.
func loadCached[M any](p *Provisioner, path string, src Source, load func(string) (M, error), log logrus.FieldLogger) (M, bool, error) {
	var zero M
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return zero, false, nil
	} else if err != nil {
		return zero, false, err
	}

	if err := p.check(path, src); err != nil {
		log.Warnf("cached model is invalid, removing: %v", err)
		return zero, false, removeCached(path)
	}

	log.Infoln("loading cached model")
	m, err := load(path)
	if err != nil {
		log.Warnf("cached model is corrupted, removing and re-downloading: %v", err)
		return zero, false, removeCached(path)
	}
	return m, true, nil
}

func removeCached(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing invalid cache file: %w", err)
	}
	return nil
}

// download fetches src into a unique temp file next to the cache path and
// validates it. The returned file is ready to be renamed into place; on error
// nothing is left behind.
func (p *Provisioner) download(ctx context.Context, src Source) (string, error) {
	link := ResolveLink(src.Link())
	if link.Provider == ProviderPassthrough {
		p.log.WithField("url", link.Direct).Warnln("unrecognized share link host, using the URL as-is")
	}

	tmp := fmt.Sprintf("%s.%s.part", src.Path(), uuid.NewString())
	if err := p.fetch(ctx, link, tmp); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := p.check(tmp, src); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

func (p *Provisioner) check(path string, src Source) error {
	if err := p.validate(path); err != nil {
		return err
	}
	if d := src.Digest(); d != "" {
		return verifyDigest(path, d)
	}
	return nil
}

// removeStaleParts deletes temp files left by interrupted downloads.
// Partial downloads are never resumed.
func (p *Provisioner) removeStaleParts(path string, log logrus.FieldLogger) {
	parts, err := filepath.Glob(path + ".*.part")
	if err != nil {
		return
	}
	for _, part := range parts {
		if err := os.Remove(part); err == nil {
			log.Debugf("removed stale partial download %s", filepath.Base(part))
		}
	}
}

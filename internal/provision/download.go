package provision

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
)

// progressInterval is how many bytes pass between progress log lines.
const progressInterval = 8 << 20

// fetch streams the artifact behind link into dst, which must not exist.
func (p *Provisioner) fetch(ctx context.Context, link Link, dst string) error {
	log := p.log.WithFields(logrus.Fields{"provider": link.Provider, "url": link.Direct})

	var resp *http.Response
	var err error
	if p.drive != nil && link.Provider == ProviderGoogleDrive && link.FileID != "" {
		log.Debugln("downloading through the Drive API")
		resp, err = p.drive.Open(ctx, link.FileID)
	} else {
		resp, err = p.get(ctx, link.Direct, nil)
	}
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if isHTML(resp) {
		if link.Provider != ProviderGoogleDrive || link.FileID == "" {
			return fmt.Errorf("%w: %s returned an HTML page instead of a file", ErrDownload, link.Direct)
		}
		log.Infoln("got an HTML warning page, looking for a confirmation token")
		var base *url.URL
		if resp.Request != nil {
			base = resp.Request.URL
		}
		next, err := confirmURL(resp.Body, base, resp.Cookies(), link.FileID)
		if err != nil {
			return err
		}
		confirmed, err := p.get(ctx, next, resp.Cookies())
		if err != nil {
			return err
		}
		defer confirmed.Body.Close()
		if isHTML(confirmed) {
			return fmt.Errorf("%w: confirmation was not accepted", ErrDownload)
		}
		resp = confirmed
	}

	return p.writeBody(resp.Body, dst, resp.ContentLength, log)
}

// get issues a GET and fails with ErrDownload on transport errors and
// non-200 responses.
func (p *Provisioner) get(ctx context.Context, rawURL string, cookies []*http.Cookie) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: HTTP %d from %s", ErrDownload, resp.StatusCode, rawURL)
	}
	return resp, nil
}

func (p *Provisioner) writeBody(body io.Reader, dst string, size int64, log logrus.FieldLogger) error {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}

	pw := &progressWriter{log: log, total: size, next: progressInterval}
	n, copyErr := io.Copy(io.MultiWriter(f, pw), body)
	syncErr := f.Sync()
	closeErr := f.Close()
	if copyErr != nil {
		return fmt.Errorf("%w: interrupted after %s: %v", ErrDownload, units.HumanSize(float64(n)), copyErr)
	}
	if syncErr != nil {
		return fmt.Errorf("writing %s: %w", dst, syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("writing %s: %w", dst, closeErr)
	}

	log.Infof("downloaded %s", units.HumanSize(float64(n)))
	return nil
}

func isHTML(resp *http.Response) bool {
	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && mt == "text/html"
}

// progressWriter logs the running byte count every progressInterval bytes.
type progressWriter struct {
	log     logrus.FieldLogger
	total   int64
	written int64
	next    int64
}

func (w *progressWriter) Write(b []byte) (int, error) {
	w.written += int64(len(b))
	if w.written >= w.next {
		if w.total > 0 {
			w.log.Debugf("downloaded %s of %s", units.HumanSize(float64(w.written)), units.HumanSize(float64(w.total)))
		} else {
			w.log.Debugf("downloaded %s", units.HumanSize(float64(w.written)))
		}
		w.next = w.written + progressInterval
	}
	return len(b), nil
}

package provision

import (
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

// HTTPClient is the interface for HTTP operations.
// *http.Client satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithHTTPClient sets the client used for share-link downloads.
// If not set, http.DefaultClient is used. No timeout is imposed beyond the
// caller's context.
func WithHTTPClient(client HTTPClient) Option {
	return func(p *Provisioner) {
		p.client = client
	}
}

// WithLogger sets the logger. If not set, logging is discarded.
func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Provisioner) {
		p.log = log
	}
}

// WithValidator replaces ValidateONNX as the structural check.
func WithValidator(v Validator) Option {
	return func(p *Provisioner) {
		p.validate = v
	}
}

// WithDrive routes Google Drive sources through the given opener instead of
// the public share-link endpoint.
func WithDrive(d DriveOpener) Option {
	return func(p *Provisioner) {
		p.drive = d
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

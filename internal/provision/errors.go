package provision

import "errors"

// Sentinel errors for provisioning. Use errors.Is() to check for them.
var (
	// ErrDownload indicates a non-200 response or a network failure.
	ErrDownload = errors.New("provision: download failed")

	// ErrValidation indicates the file is not a well-formed model container.
	ErrValidation = errors.New("provision: artifact failed validation")

	// ErrConfirmationTokenNotFound indicates a provider interstitial page
	// that carried no usable confirmation token.
	ErrConfirmationTokenNotFound = errors.New("provision: confirmation token not found")

	// ErrProvisioning is terminal: no usable model could be obtained.
	ErrProvisioning = errors.New("provision: no usable model available")

	// ErrUnsupportedSource indicates a share link that is not an absolute
	// http(s) URL.
	ErrUnsupportedSource = errors.New("provision: unsupported source")
)

// Package provision makes sure a usable model artifact exists on local disk.
//
// A Source pairs a cloud share link (OneDrive, Google Drive, Dropbox) with a
// cache path. Ensure validates whatever is cached, loads it, and when the
// cache is missing or corrupt downloads a fresh copy, validates it and only
// then moves it into place.
//
// # Cache invariant
//
// At most one artifact occupies the cache path. Downloads land in a unique
// "<path>.<uuid>.part" file and are renamed over the cache path only after
// validation succeeds. A cached file that fails validation or loading is
// removed before any download is attempted.
//
// # Cross-process safety
//
// Ensure holds an advisory lock on "<path>.lock" for its whole duration, so
// two processes provisioning the same path serialize instead of racing.
package provision

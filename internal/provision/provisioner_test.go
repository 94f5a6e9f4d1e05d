package provision

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSource(t *testing.T, link string, opts ...SourceOption) Source {
	t.Helper()
	src, err := NewSource(link, filepath.Join(t.TempDir(), "models", "model.onnx"), opts...)
	require.NoError(t, err)
	return src
}

func serveBytes(data []byte, hits *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(data)
	}))
}

func assertNoParts(t *testing.T, path string) {
	t.Helper()
	parts, err := filepath.Glob(path + ".*.part")
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestNewSource(t *testing.T) {
	_, err := NewSource("ftp://example.com/model.onnx", "m.onnx")
	assert.ErrorIs(t, err, ErrUnsupportedSource)

	_, err = NewSource("not a url", "m.onnx")
	assert.ErrorIs(t, err, ErrUnsupportedSource)

	_, err = NewSource("https://example.com/m.onnx", "")
	assert.ErrorIs(t, err, ErrUnsupportedSource)

	_, err = NewSource("https://example.com/m.onnx", "m.onnx", WithDigest("sha256:nothex"))
	assert.ErrorIs(t, err, ErrUnsupportedSource)

	d := digest.FromBytes([]byte("x"))
	src, err := NewSource("https://example.com/m.onnx", "m.onnx", WithDigest(d))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/m.onnx", src.Link())
	assert.Equal(t, "m.onnx", src.Path())
	assert.Equal(t, d, src.Digest())
}

func TestEnsure(t *testing.T) {
	ctx := context.Background()

	t.Run("valid cache makes no network call", func(t *testing.T) {
		src := newSource(t, "https://www.dropbox.com/s/abc/model.onnx?dl=0")
		writeFile(t, src.Path(), onnxModel())

		p := New(WithHTTPClient(failingClient{t: t}))
		got, err := Ensure(ctx, p, src, loadPath)
		require.NoError(t, err)
		assert.Equal(t, src.Path(), got)
	})

	t.Run("missing cache is downloaded", func(t *testing.T) {
		var hits atomic.Int32
		srv := serveBytes(onnxModel(), &hits)
		defer srv.Close()

		src := newSource(t, srv.URL+"/model.onnx")
		got, err := Ensure(ctx, New(), src, loadPath)
		require.NoError(t, err)
		assert.Equal(t, src.Path(), got)
		assert.Equal(t, int32(1), hits.Load())

		data, err := os.ReadFile(src.Path())
		require.NoError(t, err)
		assert.Equal(t, onnxModel(), data)
		assertNoParts(t, src.Path())
	})

	t.Run("share link is rewritten before download", func(t *testing.T) {
		var gotQuery string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.RawQuery
			w.Write(onnxModel())
		}))
		defer srv.Close()

		client := newHostRewriter(t, srv)
		src := newSource(t, "https://www.dropbox.com/s/abc/model.onnx?dl=0")
		_, err := Ensure(ctx, New(WithHTTPClient(client)), src, loadPath)
		require.NoError(t, err)
		assert.Equal(t, "dl=1", gotQuery)
		assert.Equal(t, []string{"www.dropbox.com"}, client.hosts)
	})

	t.Run("invalid cache is replaced", func(t *testing.T) {
		var hits atomic.Int32
		srv := serveBytes(onnxModel(), &hits)
		defer srv.Close()

		src := newSource(t, srv.URL+"/model.onnx")
		writeFile(t, src.Path(), []byte("<html>not a model</html>"))

		_, err := Ensure(ctx, New(), src, loadPath)
		require.NoError(t, err)
		assert.Equal(t, int32(1), hits.Load())

		require.NoError(t, ValidateONNX(src.Path()))
	})

	t.Run("invalid cache is removed before the download is attempted", func(t *testing.T) {
		src := newSource(t, "https://example.com/model.onnx")
		writeFile(t, src.Path(), []byte("garbage"))

		var existedDuringRequest bool
		client := clientFunc(func(req *http.Request) (*http.Response, error) {
			_, err := os.Stat(src.Path())
			existedDuringRequest = err == nil
			return nil, errors.New("offline")
		})

		_, err := Ensure(ctx, New(WithHTTPClient(client)), src, loadPath)
		assert.ErrorIs(t, err, ErrProvisioning)
		assert.ErrorIs(t, err, ErrDownload)
		assert.False(t, existedDuringRequest)
	})

	t.Run("permanently invalid source never leaves a stale file", func(t *testing.T) {
		var hits atomic.Int32
		srv := serveBytes([]byte("this is not an onnx model"), &hits)
		defer srv.Close()

		src := newSource(t, srv.URL+"/model.onnx")
		for i := 0; i < 3; i++ {
			_, err := Ensure(ctx, New(), src, loadPath)
			assert.ErrorIs(t, err, ErrProvisioning)
			assert.ErrorIs(t, err, ErrValidation)

			_, statErr := os.Stat(src.Path())
			assert.True(t, errors.Is(statErr, os.ErrNotExist), "cache path must stay empty")
			assertNoParts(t, src.Path())
		}
		assert.Equal(t, int32(3), hits.Load())
	})

	t.Run("cached model that fails to load is re-downloaded", func(t *testing.T) {
		var hits atomic.Int32
		srv := serveBytes(onnxModel(), &hits)
		defer srv.Close()

		src := newSource(t, srv.URL+"/model.onnx")
		writeFile(t, src.Path(), onnxModel())

		var loads int
		load := func(path string) (int, error) {
			loads++
			if loads == 1 {
				return 0, errors.New("corrupt weights")
			}
			return loads, nil
		}

		got, err := Ensure(ctx, New(), src, load)
		require.NoError(t, err)
		assert.Equal(t, 2, got)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("downloaded model that fails to load is removed", func(t *testing.T) {
		var hits atomic.Int32
		srv := serveBytes(onnxModel(), &hits)
		defer srv.Close()

		src := newSource(t, srv.URL+"/model.onnx")
		load := func(path string) (string, error) {
			return "", errors.New("unsupported opset")
		}

		_, err := Ensure(ctx, New(), src, load)
		assert.ErrorIs(t, err, ErrProvisioning)
		_, statErr := os.Stat(src.Path())
		assert.True(t, errors.Is(statErr, os.ErrNotExist))
	})

	t.Run("non-200 is a download error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		src := newSource(t, srv.URL+"/model.onnx")
		_, err := Ensure(ctx, New(), src, loadPath)
		assert.ErrorIs(t, err, ErrProvisioning)
		assert.ErrorIs(t, err, ErrDownload)
		assertNoParts(t, src.Path())
	})

	t.Run("html from a non-drive host is a download error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			io.WriteString(w, "<html><body>login</body></html>")
		}))
		defer srv.Close()

		src := newSource(t, srv.URL+"/model.onnx")
		_, err := Ensure(ctx, New(), src, loadPath)
		assert.ErrorIs(t, err, ErrDownload)
	})

	t.Run("pinned digest mismatch is a validation error", func(t *testing.T) {
		var hits atomic.Int32
		srv := serveBytes(onnxModel(), &hits)
		defer srv.Close()

		src := newSource(t, srv.URL+"/model.onnx", WithDigest(digest.FromString("other")))
		_, err := Ensure(ctx, New(), src, loadPath)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("stale partial downloads are removed", func(t *testing.T) {
		var hits atomic.Int32
		srv := serveBytes(onnxModel(), &hits)
		defer srv.Close()

		src := newSource(t, srv.URL+"/model.onnx")
		writeFile(t, src.Path()+".0b5e.part", []byte("half"))

		_, err := Ensure(ctx, New(), src, loadPath)
		require.NoError(t, err)
		assertNoParts(t, src.Path())
	})
}

func TestEnsureGoogleDriveInterstitial(t *testing.T) {
	ctx := context.Background()

	t.Run("confirm token is followed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "FILEID", r.URL.Query().Get("id"))
			if r.URL.Query().Get("confirm") == "" {
				http.SetCookie(w, &http.Cookie{Name: "session", Value: "s1"})
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				io.WriteString(w, `<html><body><p>Google Drive can't scan this file for viruses.</p>
<a href="/uc?export=download&amp;confirm=T0K&amp;id=FILEID">Download anyway</a></body></html>`)
				return
			}
			assert.Equal(t, "T0K", r.URL.Query().Get("confirm"))
			c, err := r.Cookie("session")
			if assert.NoError(t, err) {
				assert.Equal(t, "s1", c.Value)
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(onnxModel())
		}))
		defer srv.Close()

		client := newHostRewriter(t, srv)
		src := newSource(t, "https://drive.google.com/file/d/FILEID/view?usp=sharing")
		_, err := Ensure(ctx, New(WithHTTPClient(client)), src, loadPath)
		require.NoError(t, err)
		assert.Equal(t, int32(2), client.hits.Load())
		require.NoError(t, ValidateONNX(src.Path()))
	})

	t.Run("missing token fails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			io.WriteString(w, "<html><body>Quota exceeded</body></html>")
		}))
		defer srv.Close()

		src := newSource(t, "https://drive.google.com/file/d/FILEID/view")
		_, err := Ensure(ctx, New(WithHTTPClient(newHostRewriter(t, srv))), src, loadPath)
		assert.ErrorIs(t, err, ErrProvisioning)
		assert.ErrorIs(t, err, ErrConfirmationTokenNotFound)
		_, statErr := os.Stat(src.Path())
		assert.True(t, errors.Is(statErr, os.ErrNotExist))
	})

	t.Run("drive opener bypasses the share link", func(t *testing.T) {
		opener := &fakeDrive{data: onnxModel()}
		src := newSource(t, "https://drive.google.com/file/d/FILEID/view")

		_, err := Ensure(ctx, New(WithHTTPClient(failingClient{t: t}), WithDrive(opener)), src, loadPath)
		require.NoError(t, err)
		assert.Equal(t, []string{"FILEID"}, opener.opened)
	})
}

func TestEnsureWaitsForLock(t *testing.T) {
	src := newSource(t, "https://example.com/model.onnx")
	writeFile(t, src.Path(), onnxModel())

	held, err := acquireLock(context.Background(), src.Path()+".lock")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = Ensure(ctx, New(WithHTTPClient(failingClient{t: t})), src, loadPath)
	assert.ErrorIs(t, err, ErrProvisioning)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, held.release())
	_, err = Ensure(context.Background(), New(WithHTTPClient(failingClient{t: t})), src, loadPath)
	assert.NoError(t, err)
}

func TestEnsureLockFailure(t *testing.T) {
	errNoLocks := errors.New("no locks available")
	swapLockFile(t, func(*os.File) error { return errNoLocks })

	src := newSource(t, "https://example.com/model.onnx")
	writeFile(t, src.Path(), onnxModel())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Ensure(ctx, New(WithHTTPClient(failingClient{t: t})), src, loadPath)
	assert.ErrorIs(t, err, ErrProvisioning)
	assert.ErrorIs(t, err, errNoLocks)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireLockRetriesWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.lock")
	held, err := acquireLock(context.Background(), path)
	require.NoError(t, err)
	other, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	heldErr := tryLockFile(other)
	other.Close()
	require.NoError(t, held.release())
	require.Error(t, heldErr)
	require.True(t, lockHeld(heldErr))

	var calls atomic.Int32
	swapLockFile(t, func(f *os.File) error {
		if calls.Add(1) < 3 {
			return heldErr
		}
		return tryLockFile(f)
	})

	lock, err := acquireLock(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.NoError(t, lock.release())
}

func swapLockFile(t *testing.T, fn func(*os.File) error) {
	t.Helper()
	orig := lockFile
	lockFile = fn
	t.Cleanup(func() { lockFile = orig })
}

type clientFunc func(req *http.Request) (*http.Response, error)

func (f clientFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

type fakeDrive struct {
	data   []byte
	opened []string
}

func (f *fakeDrive) Open(_ context.Context, fileID string) (*http.Response, error) {
	f.opened = append(f.opened, fileID)
	return &http.Response{
		StatusCode:    http.StatusOK,
		Header:        http.Header{"Content-Type": []string{"application/octet-stream"}},
		Body:          io.NopCloser(strings.NewReader(string(f.data))),
		ContentLength: int64(len(f.data)),
	}, nil
}

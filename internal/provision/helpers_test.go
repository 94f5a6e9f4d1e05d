package provision

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// onnxModel returns a minimal well-formed ModelProto.
func onnxModel() []byte {
	graph := protowire.AppendTag(nil, 2, protowire.BytesType)
	graph = protowire.AppendString(graph, "g")

	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 8)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, "imgclass-test")
	b = protowire.AppendTag(b, 7, protowire.BytesType)
	b = protowire.AppendBytes(b, graph)
	return b
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// hostRewriter sends every request to target regardless of the requested
// host, so share links for real providers can be served by httptest.
type hostRewriter struct {
	target *url.URL
	hosts  []string
	hits   atomic.Int32
}

func newHostRewriter(t *testing.T, srv *httptest.Server) *hostRewriter {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return &hostRewriter{target: u}
}

func (h *hostRewriter) Do(req *http.Request) (*http.Response, error) {
	h.hits.Add(1)
	h.hosts = append(h.hosts, req.URL.Host)
	req.URL.Scheme = h.target.Scheme
	req.URL.Host = h.target.Host
	return http.DefaultClient.Do(req)
}

// failingClient fails the test on any request.
type failingClient struct {
	t *testing.T
}

func (f failingClient) Do(req *http.Request) (*http.Response, error) {
	f.t.Errorf("unexpected request to %s", req.URL)
	return nil, os.ErrInvalid
}

func loadPath(path string) (string, error) {
	return path, nil
}

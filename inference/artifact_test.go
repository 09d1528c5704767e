package inference

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveArtifactLocal(t *testing.T) {
	p := modelFile(t)
	got, err := ResolveArtifact(context.Background(), p, "")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = ResolveArtifact(context.Background(), filepath.Join(t.TempDir(), "missing.onnx"), "")
	assert.Error(t, err)

	_, err = ResolveArtifact(context.Background(), "", "")
	assert.Error(t, err)
}

func TestResolveArtifactRemote(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("graph-bytes"))
	}))
	defer srv.Close()

	cache := t.TempDir()
	src := srv.URL + "/models/helmet.onnx"

	got, err := ResolveArtifact(context.Background(), src, cache)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cache, artifactName(src)), got)
	assert.True(t, strings.HasSuffix(got, "-helmet.onnx"), got)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "graph-bytes", string(data))

	// A second resolve is served from the cache.
	before := atomic.LoadInt32(&hits)
	_, err = ResolveArtifact(context.Background(), src, cache)
	require.NoError(t, err)
	assert.Equal(t, before, atomic.LoadInt32(&hits))
}

func TestResolveArtifactRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cache := t.TempDir()
	_, err := ResolveArtifact(context.Background(), srv.URL+"/missing.onnx", cache)
	require.Error(t, err)

	entries, err := os.ReadDir(cache)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial download is left behind")
}

func TestResolveArtifactSameBaseName(t *testing.T) {
	serve := func(body string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
	}
	a := serve("MODEL-A")
	defer a.Close()
	b := serve("MODEL-B")
	defer b.Close()

	cache := t.TempDir()
	pathA, err := ResolveArtifact(context.Background(), a.URL+"/v1/model.onnx", cache)
	require.NoError(t, err)
	pathB, err := ResolveArtifact(context.Background(), b.URL+"/v2/model.onnx", cache)
	require.NoError(t, err)
	assert.NotEqual(t, pathA, pathB)

	data, err := os.ReadFile(pathA)
	require.NoError(t, err)
	assert.Equal(t, "MODEL-A", string(data))

	data, err = os.ReadFile(pathB)
	require.NoError(t, err)
	assert.Equal(t, "MODEL-B", string(data))
}

func TestResolveArtifactConcurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("graph-bytes"))
	}))
	defer srv.Close()

	cache := t.TempDir()
	src := srv.URL + "/helmet.onnx"

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ResolveArtifact(context.Background(), src, cache)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	data, err := os.ReadFile(filepath.Join(cache, artifactName(src)))
	require.NoError(t, err)
	assert.Equal(t, "graph-bytes", string(data))

	entries, err := os.ReadDir(cache)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging dirs are removed")
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "model.tflite", artifactBase("https://example.com/a/model.tflite?x=1"))
	assert.Equal(t, "m.onnx", artifactBase("s3::https://s3.amazonaws.com/bucket/m.onnx"))
	assert.Equal(t, "model", artifactBase("https://example.com/"))

	a := artifactName("https://a.example.com/v1/model.onnx")
	b := artifactName("https://b.example.com/v2/model.onnx")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, "-model.onnx"), a)
	assert.Len(t, a, len("0123456789abcdef-model.onnx"))
	assert.Equal(t, a, artifactName("https://a.example.com/v1/model.onnx"))
}

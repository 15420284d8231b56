package downloader

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"creofinder/internal/auth"
	"creofinder/internal/auth/mocks"
	"creofinder/internal/errors"
	"creofinder/internal/metrics"
	"creofinder/internal/transfer"
)

const testToken = "tok-123"

var testCreds = auth.Credentials{Username: "user", Password: "pass"}

// zipper mimics the download endpoint: GET /download/{id}?token=... serves a body derived from id.
type zipper struct {
	failing  map[string]int
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	requests atomic.Int32
}

func (z *zipper) server(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /download/{id}", func(w http.ResponseWriter, r *http.Request) {
		z.requests.Add(1)
		n := z.inFlight.Add(1)
		defer z.inFlight.Add(-1)
		for {
			seen := z.maxSeen.Load()
			if n <= seen || z.maxSeen.CompareAndSwap(seen, n) {
				break
			}
		}

		if r.URL.Query().Get("token") != testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if z.delay > 0 {
			time.Sleep(z.delay)
		}

		id := r.PathValue("id")
		if code, ok := z.failing[id]; ok {
			w.WriteHeader(code)
			return
		}
		_, _ = w.Write(productBody(id))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func productBody(id string) []byte {
	return bytes.Repeat([]byte(id+";"), 512)
}

func newTestDownloader(t *testing.T, tokens auth.TokenSource, srv *httptest.Server, opts ...Option) *Downloader {
	t.Helper()
	opts = append([]Option{WithBaseURL(srv.URL + "/download")}, opts...)
	return New(tokens, transfer.New(transfer.WithChunkSize(256)), opts...)
}

func expectTokenOnce(t *testing.T) *mocks.MockTokenSource {
	t.Helper()
	ctrl := gomock.NewController(t)
	tokens := mocks.NewMockTokenSource(ctrl)
	tokens.EXPECT().Token(gomock.Any(), testCreds).Return(testToken, nil).Times(1)
	return tokens
}

type countingCounter struct {
	n atomic.Int32
}

func (c *countingCounter) Increment() { c.n.Add(1) }

func TestDownload_IntoDirectory(t *testing.T) {
	srv := (&zipper{}).server(t)
	d := newTestDownloader(t, expectTokenOnce(t), srv)

	dir := t.TempDir()
	path, err := d.Download(context.Background(), "S2A_MSIL1C_1", testCreds, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "S2A_MSIL1C_1.zip"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, productBody("S2A_MSIL1C_1"), data)
}

func TestDownload_IntoFile(t *testing.T) {
	srv := (&zipper{}).server(t)
	d := newTestDownloader(t, expectTokenOnce(t), srv)

	target := filepath.Join(t.TempDir(), "nested", "custom.zip")
	path, err := d.Download(context.Background(), "p1", testCreds, target)
	require.NoError(t, err)
	assert.Equal(t, target, path)
	assert.FileExists(t, target)
	assert.NoFileExists(t, target+transfer.IncompleteSuffix)
}

func TestDownload_WithTokenSkipsTokenSource(t *testing.T) {
	srv := (&zipper{}).server(t)
	// No expectations: any Token call fails the test.
	tokens := mocks.NewMockTokenSource(gomock.NewController(t))
	d := newTestDownloader(t, tokens, srv)

	var written int64
	path, err := d.Download(context.Background(), "p1", testCreds, t.TempDir(),
		WithToken(testToken),
		WithProgress(transfer.SinkFunc(func(n int64) { written += n })),
	)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), written)
}

func TestDownload_TokenFailure(t *testing.T) {
	srv := (&zipper{}).server(t)
	ctrl := gomock.NewController(t)
	tokens := mocks.NewMockTokenSource(ctrl)
	tokens.EXPECT().Token(gomock.Any(), gomock.Any()).
		Return("", errors.NewAuthError(errors.ErrNoAccessToken, "request token", `{"error":"invalid_grant"}`))

	d := newTestDownloader(t, tokens, srv)
	dir := t.TempDir()
	_, err := d.Download(context.Background(), "p1", testCreds, dir)
	require.Error(t, err)
	assert.True(t, errors.IsAuth(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownload_HTTPFailure(t *testing.T) {
	srv := (&zipper{failing: map[string]int{"gone": http.StatusNotFound}}).server(t)
	d := newTestDownloader(t, expectTokenOnce(t), srv)

	dir := t.TempDir()
	_, err := d.Download(context.Background(), "gone", testCreds, dir)
	require.Error(t, err)
	assert.True(t, errors.IsNetwork(err))
	code, ok := errors.GetStatusCode(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotContains(t, err.Error(), testToken)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownload_EmptyID(t *testing.T) {
	d := New(mocks.NewMockTokenSource(gomock.NewController(t)), transfer.New())
	_, err := d.Download(context.Background(), "", testCreds, t.TempDir())
	assert.True(t, errors.IsValidation(err))
}

func TestDownload_RejectsEscapingIDs(t *testing.T) {
	// No expectations: the id is rejected before a token is requested.
	d := New(mocks.NewMockTokenSource(gomock.NewController(t)), transfer.New())

	root := t.TempDir()
	out := filepath.Join(root, "out")
	for _, id := range []string{"../escaped", "a/b", "/abs"} {
		_, err := d.Download(context.Background(), id, testCreds, out)
		assert.True(t, errors.IsValidation(err), "id %q", id)
	}
	assert.NoFileExists(t, filepath.Join(root, "escaped.zip"))
}

func TestDownload_TrailingSeparatorIsDirectory(t *testing.T) {
	srv := (&zipper{}).server(t)
	d := newTestDownloader(t, expectTokenOnce(t), srv)

	dir := filepath.Join(t.TempDir(), "newdir")
	path, err := d.Download(context.Background(), "p1", testCreds, dir+string(filepath.Separator))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "p1.zip"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, productBody("p1"), data)
	assert.NoFileExists(t, filepath.Join(dir, transfer.IncompleteSuffix))
}

func TestURL(t *testing.T) {
	d := New(nil, nil, WithBaseURL("https://zipper.example/download/"))
	assert.Equal(t, "https://zipper.example/download/S1A%20X?token=a%2Bb", d.URL("S1A X", "a+b"))

	assert.Equal(t, DefaultDownloadURL+"/p?token=t", New(nil, nil).URL("p", "t"))
}

func TestDownloadAll_OneTokenPerBatch(t *testing.T) {
	z := &zipper{}
	srv := z.server(t)
	d := newTestDownloader(t, expectTokenOnce(t), srv)

	ids := []string{"a", "b", "c", "d", "e"}
	dir := filepath.Join(t.TempDir(), "out")
	counter := &countingCounter{}

	results, err := d.DownloadAll(context.Background(), ids, testCreds, dir, 10, counter)
	require.NoError(t, err)
	require.Len(t, results, len(ids))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, len(ids))

	for _, id := range ids {
		path := filepath.Join(dir, id+".zip")
		assert.Equal(t, path, results[id])
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, productBody(id), data)
	}
	assert.EqualValues(t, len(ids), counter.n.Load())
	assert.EqualValues(t, len(ids), z.requests.Load())
}

func TestDownloadAll_BoundsConcurrency(t *testing.T) {
	z := &zipper{delay: 30 * time.Millisecond}
	srv := z.server(t)
	d := newTestDownloader(t, expectTokenOnce(t), srv)

	ids := []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7"}
	results, err := d.DownloadAll(context.Background(), ids, testCreds, t.TempDir(), 2, nil)
	require.NoError(t, err)
	assert.Len(t, results, len(ids))
	assert.LessOrEqual(t, z.maxSeen.Load(), int32(2))
}

func TestDownloadAll_PartialFailure(t *testing.T) {
	z := &zipper{failing: map[string]int{"bad1": http.StatusInternalServerError, "bad2": http.StatusForbidden}}
	srv := z.server(t)
	d := newTestDownloader(t, expectTokenOnce(t), srv)

	ids := []string{"ok1", "bad1", "ok2", "bad2", "ok3"}
	dir := t.TempDir()
	counter := &countingCounter{}

	results, err := d.DownloadAll(context.Background(), ids, testCreds, dir, 2, counter)
	require.Error(t, err)

	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, []string{"bad1", "bad2"}, batchErr.IDs())
	assert.True(t, errors.IsNetwork(err))

	assert.Len(t, results, 3)
	for _, id := range []string{"ok1", "ok2", "ok3"} {
		assert.FileExists(t, results[id])
	}
	for _, id := range []string{"bad1", "bad2"} {
		assert.NoFileExists(t, filepath.Join(dir, id+".zip"))
		assert.NoFileExists(t, filepath.Join(dir, id+".zip"+transfer.IncompleteSuffix))
	}
	// every job finished, including the failures
	assert.EqualValues(t, len(ids), counter.n.Load())
}

func TestDownloadAll_TokenFailureAbortsBatch(t *testing.T) {
	z := &zipper{}
	srv := z.server(t)

	ctrl := gomock.NewController(t)
	tokens := mocks.NewMockTokenSource(ctrl)
	tokens.EXPECT().Token(gomock.Any(), gomock.Any()).
		Return("", errors.NewAuthError(errors.ErrNoAccessToken, "request token", "{}")).Times(1)

	d := newTestDownloader(t, tokens, srv)
	results, err := d.DownloadAll(context.Background(), []string{"a", "b"}, testCreds, t.TempDir(), 2, nil)
	assert.Nil(t, results)
	assert.True(t, errors.IsAuth(err))
	assert.Zero(t, z.requests.Load())
}

func TestDownloadAll_InvalidConcurrency(t *testing.T) {
	tokens := mocks.NewMockTokenSource(gomock.NewController(t))
	d := New(tokens, transfer.New())

	for _, c := range []int{0, -1} {
		_, err := d.DownloadAll(context.Background(), []string{"a"}, testCreds, t.TempDir(), c, nil)
		assert.True(t, errors.IsValidation(err), "concurrency %d", c)
	}
}

func TestDownloadAll_RejectsEscapingIDs(t *testing.T) {
	z := &zipper{}
	srv := z.server(t)
	// No expectations: the batch is rejected before a token is requested.
	d := newTestDownloader(t, mocks.NewMockTokenSource(gomock.NewController(t)), srv)

	root := t.TempDir()
	results, err := d.DownloadAll(context.Background(), []string{"a", "../escaped"}, testCreds, filepath.Join(root, "out"), 2, nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Nil(t, results)
	assert.NoFileExists(t, filepath.Join(root, "escaped.zip"))
	assert.EqualValues(t, 0, z.requests.Load())
}

func TestDownloadAll_EmptyBatch(t *testing.T) {
	tokens := mocks.NewMockTokenSource(gomock.NewController(t))
	d := New(tokens, transfer.New())

	results, err := d.DownloadAll(context.Background(), nil, testCreds, t.TempDir(), 3, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDownloadAll_DuplicateIDs(t *testing.T) {
	z := &zipper{}
	srv := z.server(t)
	d := newTestDownloader(t, expectTokenOnce(t), srv)

	results, err := d.DownloadAll(context.Background(), []string{"a", "b", "a", "a"}, testCreds, t.TempDir(), 4, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.EqualValues(t, 2, z.requests.Load())
}

func TestDownloadAll_RecordsMetrics(t *testing.T) {
	z := &zipper{failing: map[string]int{"bad": http.StatusBadGateway}}
	srv := z.server(t)
	rec := &recordingMetrics{}
	d := newTestDownloader(t, expectTokenOnce(t), srv, WithMetrics(rec))

	_, err := d.DownloadAll(context.Background(), []string{"ok", "bad"}, testCreds, t.TempDir(), 2, nil)
	require.Error(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 2, rec.started)
	assert.Equal(t, 1, rec.succeeded)
	assert.Equal(t, 1, rec.failed)
	assert.EqualValues(t, len(productBody("ok")), rec.bytes)
}

type recordingMetrics struct {
	mu        sync.Mutex
	started   int
	succeeded int
	failed    int
	bytes     int64
}

func (r *recordingMetrics) StartDownload(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if source == metrics.SourceHTTPS {
		r.started++
	}
}

func (r *recordingMetrics) FinishDownload(_ string, n int64, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failed++
		return
	}
	r.succeeded++
	r.bytes += n
}

func TestBatchError_Message(t *testing.T) {
	err := &BatchError{Failures: map[string]error{
		"b": errors.New("download b: boom"),
		"a": errors.New("download a: bang"),
	}}
	assert.Equal(t, "2 download(s) failed: download a: bang; download b: boom", err.Error())
	assert.Len(t, err.Unwrap(), 2)
}

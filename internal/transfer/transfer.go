package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"creofinder/internal/errors"
)

const (
	DefaultChunkSize    = 1 << 20 // 1 MiB
	DefaultStallTimeout = 60 * time.Second

	defaultConnectTimeout = 30 * time.Second
	defaultHeaderTimeout  = 60 * time.Second
	defaultIdleTimeout    = 90 * time.Second
	keepAlivePeriod       = 30 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
	maxIdleConns          = 100

	statusBodyLimit = 4 << 10
)

var errStalled = errors.New("no data received")

// Sink receives the size of every chunk written to disk. *mpb.Bar satisfies it.
type Sink interface {
	IncrInt64(n int64)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(n int64)

func (f SinkFunc) IncrInt64(n int64) { f(n) }

type totalSetter interface {
	SetTotal(total int64, complete bool)
}

type Transfer struct {
	client       *http.Client
	chunkSize    int
	stallTimeout time.Duration
	logger       *slog.Logger
}

type Option func(*Transfer)

func WithHTTPClient(c *http.Client) Option {
	return func(t *Transfer) {
		if c != nil {
			t.client = c
		}
	}
}

func WithChunkSize(n int) Option {
	return func(t *Transfer) {
		if n > 0 {
			t.chunkSize = n
		}
	}
}

// WithStallTimeout bounds how long the body may deliver no data before the transfer is aborted.
func WithStallTimeout(d time.Duration) Option {
	return func(t *Transfer) {
		if d > 0 {
			t.stallTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Transfer) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewHTTPClient returns a client whose transport bounds every phase up to the response headers.
// There is no overall timeout since product archives take arbitrarily long to stream.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultConnectTimeout,
			KeepAlive: keepAlivePeriod,
		}).DialContext,
		MaxIdleConns:          maxIdleConns,
		IdleConnTimeout:       defaultIdleTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: defaultHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
	}

	return &http.Client{Transport: transport}
}

func New(opts ...Option) *Transfer {
	t := &Transfer{
		client:       NewHTTPClient(),
		chunkSize:    DefaultChunkSize,
		stallTimeout: DefaultStallTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Fetch streams rawURL into destination and returns the number of bytes written.
//
// The body goes to destination+".incomplete" first and is renamed over destination only after
// the whole stream was written. On any failure the incomplete file is removed and destination
// is left as it was.
func (t *Transfer) Fetch(ctx context.Context, rawURL, destination string, sink Sink) (int64, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	resource := RedactURL(rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return 0, errors.NewValidationError("download", "invalid URL %s: %w", resource, err)
	}

	t.logger.Debug("Starting transfer", "url", resource, "destination", destination)

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, errors.ClassifyNetwork(err, "download", resource)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.logger.Debug("Failed to close response body", "url", resource, "error", err)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, statusBodyLimit))
		return 0, errors.NewStatusError("download", resource, resp.StatusCode, string(body))
	}

	if sink != nil && resp.ContentLength > 0 {
		if ts, ok := sink.(totalSetter); ok {
			ts.SetTotal(resp.ContentLength, false)
		}
	}

	out, err := CreateAtomic(destination)
	if err != nil {
		return 0, err
	}
	defer out.Abort()

	stall := time.AfterFunc(t.stallTimeout, func() { cancel(errStalled) })
	defer stall.Stop()

	written, err := t.copyChunks(out, resp.Body, sink, func() { stall.Reset(t.stallTimeout) })
	if err != nil {
		if errors.Is(context.Cause(ctx), errStalled) {
			err = errors.NewNetworkError(
				fmt.Errorf("%w: %w for %s", errors.ErrTimeout, errStalled, t.stallTimeout), "download", resource, true)
		}
		t.logger.Debug("Transfer failed", "url", resource, "written", written, "error", err)
		return written, err
	}

	if err := out.Commit(); err != nil {
		return written, err
	}

	t.logger.Debug("Transfer completed", "destination", destination, "bytes", written)

	return written, nil
}

func (t *Transfer) copyChunks(out *AtomicFile, body io.Reader, sink Sink, progressed func()) (int64, error) {
	buf := make([]byte, t.chunkSize)
	var written int64

	for {
		n, rerr := body.Read(buf)
		// zero-length reads are keep-alive artifacts, not the end of the stream
		if n > 0 {
			progressed()
			if _, err := out.Write(buf[:n]); err != nil {
				return written, errors.NewFilesystemError(err, "write", out.Name())
			}
			written += int64(n)
			if sink != nil {
				sink.IncrInt64(int64(n))
			}
		}

		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, errors.ClassifyNetwork(rerr, "download", out.Destination())
		}
	}
}

// RedactURL hides the token query parameter so URLs can be logged and returned in errors.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if !q.Has("token") {
		return rawURL
	}
	q.Set("token", "REDACTED")
	u.RawQuery = q.Encode()
	return u.String()
}

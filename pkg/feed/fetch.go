package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"ixf-sync/pkg/version"
)

var tracer = otel.Tracer("ixf-sync.feed")

// maxBody bounds how much of an export is read.
const maxBody = 64 << 20

// Fetcher retrieves and sanitizes member exports.
type Fetcher struct {
	Client  *http.Client
	Cache   Cache
	Limiter *rate.Limiter // shared across LANs, nil disables pacing
	Logger  *slog.Logger
}

// NewFetcher builds a Fetcher. rps <= 0 disables pacing.
func NewFetcher(cache Cache, rps float64, burst int, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{
		Client: &http.Client{},
		Cache:  cache,
		Logger: logger.With("component", "feed"),
	}
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		f.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return f
}

// Fetch downloads url within timeout, sanitizes the document and caches the
// raw body when sanitizing succeeded.
func (f *Fetcher) Fetch(ctx context.Context, url string, timeout time.Duration) (*Document, error) {
	if url == "" {
		return nil, ErrNoURL
	}
	ctx, span := tracer.Start(ctx, "feed.Fetch", trace.WithAttributes(attribute.String("ixf.url", url)))
	defer span.End()

	doc, body, err := f.download(ctx, url, timeout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := Sanitize(doc); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if f.Cache != nil {
		if err := f.Cache.Set(ctx, CacheKey(url), body); err != nil {
			f.Logger.Warn("cache export failed", "url", url, "err", err)
		}
	}
	span.SetAttributes(attribute.Int("ixf.members", len(doc.MemberList)))
	return doc, nil
}

func (f *Fetcher) download(ctx context.Context, url string, timeout time.Duration) (*Document, []byte, error) {
	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, &StatusError{Code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, nil, fmt.Errorf("read export: %w", err)
	}
	doc, err := Parse(body)
	if err != nil {
		f.Logger.Debug("export is not json", "url", url, "err", err)
		return nil, nil, ErrInvalidJSON
	}
	return doc, body, nil
}

// FetchCached returns the last good export of url without network I/O.
func (f *Fetcher) FetchCached(ctx context.Context, url string) (*Document, error) {
	if url == "" {
		return nil, ErrNoURL
	}
	if f.Cache == nil {
		return nil, ErrNotCached
	}
	body, ok, err := f.Cache.Get(ctx, CacheKey(url))
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	if !ok {
		return nil, ErrNotCached
	}
	doc, err := Parse(body)
	if err != nil {
		return nil, ErrInvalidJSON
	}
	if err := Sanitize(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

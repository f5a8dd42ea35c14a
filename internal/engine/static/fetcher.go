package static

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html/charset"

	"github.com/law-makers/deepcrawl/internal/engine"
	"github.com/law-makers/deepcrawl/internal/engine/metadata"
	"github.com/law-makers/deepcrawl/internal/proxy"
	"github.com/law-makers/deepcrawl/pkg/models"
)

// DefaultMaxBodyBytes caps how much of a response body is read.
const DefaultMaxBodyBytes = 10 * 1024 * 1024

// Options configures a Fetcher.
type Options struct {
	Client       *http.Client
	Timeout      time.Duration
	UserAgent    string
	Headers      map[string]string
	Proxies      *proxy.Pool
	MaxBodyBytes int64
}

// Fetcher implements engine.Fetcher with plain HTTP requests and goquery.
type Fetcher struct {
	client       *http.Client
	timeout      time.Duration
	userAgent    string
	headers      map[string]string
	proxies      *proxy.Pool
	maxBodyBytes int64
}

// New creates a Fetcher. When proxies are configured the client's transport
// must route through proxy.FromRequest; NewTransport builds one that does.
func New(opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Transport: NewTransport()}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Fetcher{
		client:       client,
		timeout:      opts.Timeout,
		userAgent:    opts.UserAgent,
		headers:      opts.Headers,
		proxies:      opts.Proxies,
		maxBodyBytes: opts.MaxBodyBytes,
	}
}

// NewTransport returns a keep-alive transport that honours per-request proxies.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy:               proxy.FromRequest,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Name returns the name of this fetcher
func (s *Fetcher) Name() string {
	return "static"
}

// Fetch retrieves a page. Non-2xx responses are returned as unsuccessful
// results with their status code; only transport failures return an error.
func (s *Fetcher) Fetch(ctx context.Context, r models.FetchRequest) (*models.FetchResult, error) {
	start := time.Now()

	log.Debug().
		Str("url", r.URL).
		Str("fetcher", s.Name()).
		Msg("Starting fetch")

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	via := s.proxies.Next()
	if via != nil {
		ctx = proxy.WithProxy(ctx, via)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, engine.NewEngineError(engine.ErrCodeNetworkError, r.URL, "failed to create request", err)
	}

	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for key, value := range s.headers {
		req.Header.Set(key, value)
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if via != nil {
			s.proxies.MarkFailed(via)
			log.Debug().Str("proxy", via.Host).Msg("Proxy benched after failure")
		}
		return nil, engine.Classify(r.URL, err)
	}
	defer resp.Body.Close()
	if via != nil {
		s.proxies.MarkHealthy(via)
	}

	result := &models.FetchResult{
		URL:         r.URL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FetchedAt:   time.Now(),
		Headers:     make(map[string]string),
		Metadata:    make(map[string]string),
	}
	for key, values := range resp.Header {
		if len(values) > 0 {
			result.Headers[key] = values[0]
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		result.ErrorKind = models.ErrKindFetchFailed
		result.Error = fmt.Sprintf("HTTP %s", resp.Status)
		result.ResponseTime = time.Since(start).Milliseconds()
		log.Debug().
			Str("url", r.URL).
			Int("status", resp.StatusCode).
			Msg("Non-success response")
		return result, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodyBytes))
	if err != nil {
		return nil, engine.Classify(r.URL, err)
	}

	switch mt := result.MediaType(); {
	case mt == "application/pdf":
		if !r.PDF {
			result.ErrorKind = models.ErrKindFilterRejected
			result.Error = "pdf responses are disabled"
			break
		}
		result.Success = true
		result.Metadata["document_type"] = "pdf"
		result.Metadata["content_length"] = fmt.Sprint(len(body))
	case result.IsHTML():
		if utf8Body, err := toUTF8(body, result.ContentType); err == nil {
			body = utf8Body
		} else {
			log.Debug().Err(err).Str("url", r.URL).Msg("Charset conversion failed, using raw bytes")
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, engine.NewEngineError(engine.ErrCodeParseError, r.URL, "failed to parse HTML", err)
		}
		result.RawContent = string(body)
		result.Success = true
		metadata.Extract(doc, resp.Request.URL.String(), result)
	default:
		result.RawContent = string(body)
		result.Success = true
	}

	result.ResponseTime = time.Since(start).Milliseconds()

	log.Debug().
		Str("url", r.URL).
		Int("status", resp.StatusCode).
		Str("content_type", result.MediaType()).
		Int64("response_time_ms", result.ResponseTime).
		Int("links", len(result.Links)).
		Msg("Fetch completed")

	return result, nil
}

// toUTF8 decodes body using the charset from contentType, a <meta> charset
// declaration, or content sniffing, in that order.
func toUTF8(body []byte, contentType string) ([]byte, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

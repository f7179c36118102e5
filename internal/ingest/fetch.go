package ingest

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/intake-cli/internal/model"
)

const (
	fetchTimeout = 8 * time.Second
	maxBodyBytes = 1_000_000
	maxRedirects = 3
)

// FetchResult holds one successful fetch.
type FetchResult struct {
	Body        []byte
	ContentType string
	FinalURL    string
	Redirects   int
	Truncated   bool
}

// Fetcher retrieves artifact pages over HTTPS with manual redirect
// following. Every hop is re-validated against the SSRF blocklist, the
// body is capped, and outbound requests share a rate limiter.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter

	// skipHostCheck disables SSRF validation so tests can fetch from
	// httptest loopback servers.
	skipHostCheck bool
}

// NewFetcher creates a Fetcher with the fixed fetch limits and the
// given outbound requests-per-second budget.
func NewFetcher(rps float64) *Fetcher {
	if rps <= 0 {
		rps = 2
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: fetchTimeout,
			// Redirects are followed manually so each hop can be
			// re-validated.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: fetchTimeout,
				}).DialContext,
				TLSHandshakeTimeout: fetchTimeout,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Fetch retrieves the URL, following at most three redirects.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*FetchResult, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "ingest: rate limit wait")
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	current := targetURL
	redirects := 0
	for {
		if err := f.validateHost(ctx, current); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, codedErr(model.IngestErrInvalidURL, "create request: %v", err)
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; IntakeBot/1.0)")
		req.Header.Set("Accept", "text/html, text/plain")

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, codedErr(model.IngestErrFetchTimeout, "fetch %s: %v", current, err)
			}
			return nil, codedErr(model.IngestErrFetchFailed, "fetch %s: %v", current, err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			_ = resp.Body.Close()
			if loc == "" {
				return nil, codedErr(model.IngestErrFetchFailed, "redirect without location from %s", current)
			}
			redirects++
			if redirects > maxRedirects {
				return nil, codedErr(model.IngestErrTooManyHops, "more than %d redirects from %s", maxRedirects, targetURL)
			}
			next, err := resp.Request.URL.Parse(loc)
			if err != nil {
				return nil, codedErr(model.IngestErrInvalidURL, "redirect location %q: %v", loc, err)
			}
			current = next.String()
			zap.L().Debug("ingest: following redirect",
				zap.String("to", current),
				zap.Int("hop", redirects),
			)
			continue
		}

		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 400 {
			return nil, codedErr(model.IngestErrFetchFailed, "status %d from %s", resp.StatusCode, current)
		}

		ct := resp.Header.Get("Content-Type")
		if !acceptableContentType(ct) {
			return nil, codedErr(model.IngestErrBadContentType, "content type %q from %s", ct, current)
		}

		// Read one byte past the cap to learn whether the body was larger.
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
		if err != nil {
			if ctx.Err() != nil {
				return nil, codedErr(model.IngestErrFetchTimeout, "read body from %s: %v", current, err)
			}
			return nil, codedErr(model.IngestErrFetchFailed, "read body from %s: %v", current, err)
		}
		truncated := false
		if len(body) > maxBodyBytes {
			body = body[:maxBodyBytes]
			truncated = true
		}

		return &FetchResult{
			Body:        body,
			ContentType: ct,
			FinalURL:    current,
			Redirects:   redirects,
			Truncated:   truncated,
		}, nil
	}
}

// validateHost re-checks a hop's host by name and by every resolved
// address before any request is sent to it.
func (f *Fetcher) validateHost(ctx context.Context, rawURL string) error {
	if f.skipHostCheck {
		return nil
	}
	canonical, err := Canonicalize(rawURL)
	if err != nil {
		return err
	}
	host := hostOf(canonical)
	if net.ParseIP(host) != nil {
		return nil // literal already checked by Canonicalize
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return codedErr(model.IngestErrFetchFailed, "resolve %s: %v", host, err)
	}
	for _, ip := range ips {
		if err := CheckIP(ip); err != nil {
			return err
		}
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func acceptableContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	return strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "text/plain")
}

// ABOUTME: Reverse proxy forwarding verified requests to the inference engine
// ABOUTME: Injects gateway-derived trusted headers and streams SSE responses

package proxy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/attach-dev/attach-gateway/internal/auth"
)

// ErrUpstreamUnavailable indicates the engine could not be reached. The
// handler layer maps it to 502.
var ErrUpstreamUnavailable = errors.New("upstream engine unavailable")

// streamBufferSize keeps SSE forwarding latency low without per-byte writes.
const streamBufferSize = 4096

// hopByHopHeaders must not be forwarded in either direction.
var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// Proxy forwards verified requests to a single upstream engine.
type Proxy struct {
	upstream *url.URL
	client   *http.Client
	logger   *slog.Logger
}

// New creates a proxy for the engine at upstreamURL.
func New(upstreamURL string) (*Proxy, error) {
	u, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream URL %q must be absolute", upstreamURL)
	}

	// No client timeout: token streams are long-lived. Redirects are relayed
	// to the caller rather than followed.
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Proxy{
		upstream: u,
		client:   client,
		logger:   slog.Default().With("component", "proxy"),
	}, nil
}

// Forward relays the request to the engine on behalf of the verified
// identity. Trusted headers always carry gateway-derived values; whatever
// the caller sent under those names was stripped before verification and is
// overridden again here.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, id *auth.Identity) error {
	start := time.Now()

	target := *p.upstream
	target.Path = singleJoiningSlash(p.upstream.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		return fmt.Errorf("building upstream request: %w", err)
	}

	copyHeaders(req.Header, r.Header)

	req.Header.Set(auth.HeaderUser, id.Subject)
	req.Header.Set(auth.HeaderSession, id.SessionID)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Error("upstream request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		p.stream(w, resp, start)
		return nil
	}

	w.WriteHeader(resp.StatusCode)
	bytes, _ := io.Copy(w, resp.Body)

	p.logger.Info("request proxied",
		"method", r.Method,
		"path", r.URL.Path,
		"status", resp.StatusCode,
		"bytes", bytes,
		"duration", time.Since(start),
	)
	return nil
}

// stream relays an SSE response chunk by chunk, flushing after each read so
// tokens reach the caller as the engine produces them.
func (p *Proxy) stream(w http.ResponseWriter, resp *http.Response, start time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
		return
	}

	w.WriteHeader(resp.StatusCode)
	flusher.Flush()

	buf := make([]byte, streamBufferSize)
	var total int64
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			written, writeErr := w.Write(buf[:n])
			if writeErr != nil {
				p.logger.Warn("client disconnected mid-stream", "bytes_sent", total)
				return
			}
			total += int64(written)
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				p.logger.Warn("upstream error mid-stream", "error", err, "bytes_sent", total)
			}
			break
		}
	}

	p.logger.Info("stream proxied",
		"status", resp.StatusCode,
		"bytes", total,
		"duration", time.Since(start),
	)
}

// copyHeaders copies dst ← src, dropping hop-by-hop and trusted headers.
// Trusted headers are dropped from BOTH directions: caller-supplied values
// never reach the engine, and engine echoes never reach the caller.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopByHopHeaders[strings.ToLower(key)] || isTrustedHeader(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isTrustedHeader(name string) bool {
	for _, h := range auth.TrustedHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

// singleJoiningSlash joins two URL paths with exactly one slash.
func singleJoiningSlash(a, b string) string {
	aSlash := strings.HasSuffix(a, "/")
	bSlash := strings.HasPrefix(b, "/")
	switch {
	case aSlash && bSlash:
		return a + b[1:]
	case !aSlash && !bSlash:
		return a + "/" + b
	}
	return a + b
}

package affiliate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

const (
	maxRedirectHops = 10
	maxBodyBytes    = 256 * 1024
)

// Client follows marketplace redirect chains with a bounded hop count and a
// per-host politeness limiter so short-link resolution does not hammer any
// single storefront.
type Client struct {
	httpClient *http.Client
	userAgent  string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewClient(userAgent string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 8 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirectHops {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		userAgent: userAgent,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (c *Client) hostLimiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	limiter, ok := c.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(500*time.Millisecond), 2)
		c.limiters[host] = limiter
	}
	return limiter
}

// FollowRedirects fetches a URL with a browser-like User-Agent and returns
// the final URL of the redirect chain plus a bounded read of the landing
// page body.
func (c *Client) FollowRedirects(ctx context.Context, rawURL string) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.8")

	if err := c.hostLimiter(req.URL.Host).Wait(ctx); err != nil {
		return "", nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to follow redirects: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.Request.URL.String(), nil, fmt.Errorf("failed to read landing page: %w", err)
	}

	return resp.Request.URL.String(), body, nil
}

// CanonicalURL scans a landing page for a canonical link or og:url meta tag.
// Returns an empty string when neither is present.
func CanonicalURL(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}

	if href, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok && href != "" {
		return href
	}
	if content, ok := doc.Find(`meta[property="og:url"]`).Attr("content"); ok && content != "" {
		return content
	}

	return ""
}

package affiliate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const meliLinkEndpoint = "https://www.mercadolivre.com.br/affiliate-program/api/affiliates/v1/createLink"

var meliItemPattern = regexp.MustCompile(`ML[BA]-?(\d+)`)

// MeliAdapter resolves Mercado Livre links. Monetization uses the affiliate
// program's session endpoint, authenticated by the stored dashboard cookies
// with the CSRF token extracted from the cookie string.
type MeliAdapter struct {
	tag        string
	cookies    func() string
	endpoint   string
	httpClient *http.Client
}

var _ Adapter = (*MeliAdapter)(nil)

// NewMeliAdapter takes the fallback tag and a cookie provider so refreshed
// dashboard cookies are picked up without a restart.
func NewMeliAdapter(tag string, cookies func() string) *MeliAdapter {
	return &MeliAdapter{
		tag:        tag,
		cookies:    cookies,
		endpoint:   meliLinkEndpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *MeliAdapter) Platform() Platform {
	return PlatformMeli
}

func (a *MeliAdapter) Detect(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	return strings.HasSuffix(host, "mercadolivre.com.br") ||
		strings.HasSuffix(host, "mercadolibre.com") ||
		host == "mercadolivre.com"
}

func (a *MeliAdapter) IsShortLink(u *url.URL) bool {
	return strings.HasPrefix(u.Path, "/sec/") || strings.HasPrefix(u.Path, "/social/")
}

func (a *MeliAdapter) ProductID(rawURL string) string {
	if m := meliItemPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ""
}

func (a *MeliAdapter) Monetize(ctx context.Context, resolvedURL string) (string, error) {
	cookieHeader := ""
	if a.cookies != nil {
		cookieHeader = a.cookies()
	}
	if cookieHeader == "" {
		return "", fmt.Errorf("mercadolivre session cookies not configured")
	}

	csrf := extractCSRFToken(cookieHeader)
	if csrf == "" {
		return "", fmt.Errorf("csrf token not found in mercadolivre cookies")
	}

	payload := strings.NewReader(fmt.Sprintf(`{"urls":[%q],"tag":%q}`, resolvedURL, a.tag))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, payload)
	if err != nil {
		return "", fmt.Errorf("failed to create mercadolivre request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", cookieHeader)
	req.Header.Set("X-Csrf-Token", csrf)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("mercadolivre api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mercadolivre api error: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read mercadolivre response: %w", err)
	}

	var parsed struct {
		URLs []struct {
			ShortURL string `json:"short_url"`
		} `json:"urls"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse mercadolivre response: %w", err)
	}
	if len(parsed.URLs) == 0 || parsed.URLs[0].ShortURL == "" {
		return "", fmt.Errorf("mercadolivre api returned no short url")
	}

	return parsed.URLs[0].ShortURL, nil
}

func (a *MeliAdapter) Fallback(resolvedURL string) string {
	return cleanURL(resolvedURL, "matt_word", a.tag)
}

// extractCSRFToken pulls the _csrf value out of a raw Cookie header string.
func extractCSRFToken(cookieHeader string) string {
	for _, part := range strings.Split(cookieHeader, ";") {
		part = strings.TrimSpace(part)
		if value, ok := strings.CutPrefix(part, "_csrf="); ok {
			return value
		}
	}
	return ""
}

package affiliate

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const shopeeAPIEndpoint = "https://open-api.affiliate.shopee.com.br/graphql"

// Shopee product URLs embed the shop and item ids as "-i.<shop>.<item>" or
// "/product/<shop>/<item>".
var (
	shopeeItemPattern    = regexp.MustCompile(`-?i\.(\d+)\.(\d+)`)
	shopeeProductPattern = regexp.MustCompile(`/product/(\d+)/(\d+)`)
)

// ShopeeAdapter resolves Shopee links and monetizes them through the
// affiliate open API using SHA256-signed requests.
type ShopeeAdapter struct {
	appID      string
	appSecret  string
	endpoint   string
	httpClient *http.Client
}

var _ Adapter = (*ShopeeAdapter)(nil)

func NewShopeeAdapter(appID, appSecret string) *ShopeeAdapter {
	return &ShopeeAdapter{
		appID:      appID,
		appSecret:  appSecret,
		endpoint:   shopeeAPIEndpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *ShopeeAdapter) Platform() Platform {
	return PlatformShopee
}

func (a *ShopeeAdapter) Detect(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	return host == "shopee.com.br" || strings.HasSuffix(host, ".shopee.com.br") ||
		host == "shopee.com" || strings.HasSuffix(host, ".shopee.com")
}

func (a *ShopeeAdapter) IsShortLink(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if host == "s.shopee.com.br" || host == "shope.ee" {
		return true
	}
	// Universal-link shares carry an opaque path segment instead of an item id.
	return strings.HasPrefix(u.Path, "/universal-link") && a.ProductID(u.String()) == ""
}

func (a *ShopeeAdapter) ProductID(rawURL string) string {
	if m := shopeeItemPattern.FindStringSubmatch(rawURL); m != nil {
		return m[2]
	}
	if m := shopeeProductPattern.FindStringSubmatch(rawURL); m != nil {
		return m[2]
	}
	return ""
}

// Monetize requests a shortened affiliate link from the Shopee GraphQL API.
// The request is authenticated with a SHA256 signature over
// appID + timestamp + payload + secret.
func (a *ShopeeAdapter) Monetize(ctx context.Context, resolvedURL string) (string, error) {
	if a.appID == "" || a.appSecret == "" {
		return "", fmt.Errorf("shopee credentials not configured")
	}

	payload, err := json.Marshal(map[string]any{
		"query": `mutation{generateShortLink(input:{originUrl:"` + resolvedURL + `"}){shortLink}}`,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal shopee payload: %w", err)
	}

	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	signature := a.sign(timestamp, payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create shopee request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization",
		fmt.Sprintf("SHA256 Credential=%s, Timestamp=%s, Signature=%s", a.appID, timestamp, signature))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("shopee api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("shopee api error: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read shopee response: %w", err)
	}

	var parsed struct {
		Data struct {
			GenerateShortLink struct {
				ShortLink string `json:"shortLink"`
			} `json:"generateShortLink"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse shopee response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return "", fmt.Errorf("shopee api error: %s", parsed.Errors[0].Message)
	}
	if parsed.Data.GenerateShortLink.ShortLink == "" {
		return "", fmt.Errorf("shopee api returned empty short link")
	}

	return parsed.Data.GenerateShortLink.ShortLink, nil
}

// Fallback strips tracking parameters only; Shopee has no tag-based long-form
// attribution, so the cleaned product URL is the safest value.
func (a *ShopeeAdapter) Fallback(resolvedURL string) string {
	return cleanURL(resolvedURL, "", "")
}

func (a *ShopeeAdapter) sign(timestamp string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(a.appID))
	h.Write([]byte(timestamp))
	h.Write(payload)
	h.Write([]byte(a.appSecret))
	return hex.EncodeToString(h.Sum(nil))
}

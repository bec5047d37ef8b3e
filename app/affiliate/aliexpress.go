package affiliate

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
)

const aliExpressAPIEndpoint = "https://api-sg.aliexpress.com/sync"

var aliItemPattern = regexp.MustCompile(`/item/(?:[\w-]+/)?(\d+)\.html`)

// AliExpressAdapter resolves AliExpress links and monetizes them through the
// open platform link-generation API with HMAC-SHA256 request signing.
type AliExpressAdapter struct {
	appKey     string
	appSecret  string
	endpoint   string
	httpClient *http.Client
}

var _ Adapter = (*AliExpressAdapter)(nil)

func NewAliExpressAdapter(appKey, appSecret string) *AliExpressAdapter {
	return &AliExpressAdapter{
		appKey:     appKey,
		appSecret:  appSecret,
		endpoint:   aliExpressAPIEndpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *AliExpressAdapter) Platform() Platform {
	return PlatformAliExpress
}

func (a *AliExpressAdapter) Detect(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	return host == "aliexpress.com" || strings.HasSuffix(host, ".aliexpress.com") ||
		strings.HasSuffix(host, ".aliexpress.us")
}

func (a *AliExpressAdapter) IsShortLink(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	return host == "s.click.aliexpress.com" || host == "a.aliexpress.com"
}

func (a *AliExpressAdapter) ProductID(rawURL string) string {
	if m := aliItemPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ""
}

func (a *AliExpressAdapter) Monetize(ctx context.Context, resolvedURL string) (string, error) {
	if a.appKey == "" || a.appSecret == "" {
		return "", fmt.Errorf("aliexpress credentials not configured")
	}

	params := map[string]string{
		"method":              "aliexpress.affiliate.link.generate",
		"app_key":             a.appKey,
		"timestamp":           fmt.Sprintf("%d", time.Now().UnixMilli()),
		"sign_method":         "sha256",
		"source_values":       resolvedURL,
		"promotion_link_type": "0",
	}
	params["sign"] = a.sign(params)

	form := url.Values{}
	for key, value := range params {
		form.Set(key, value)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create aliexpress request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("aliexpress api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("aliexpress api error: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read aliexpress response: %w", err)
	}

	var parsed struct {
		Resp struct {
			RespResult struct {
				Result struct {
					PromotionLinks struct {
						PromotionLink []struct {
							PromotionLink string `json:"promotion_link"`
						} `json:"promotion_link"`
					} `json:"promotion_links"`
				} `json:"result"`
			} `json:"resp_result"`
		} `json:"aliexpress_affiliate_link_generate_response"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse aliexpress response: %w", err)
	}

	links := parsed.Resp.RespResult.Result.PromotionLinks.PromotionLink
	if len(links) == 0 || links[0].PromotionLink == "" {
		return "", fmt.Errorf("aliexpress api returned no promotion link")
	}

	return links[0].PromotionLink, nil
}

func (a *AliExpressAdapter) Fallback(resolvedURL string) string {
	return cleanURL(resolvedURL, "aff_fcid", a.appKey)
}

// sign computes the open platform signature: HMAC-SHA256 over the
// concatenation of sorted key/value pairs.
func (a *AliExpressAdapter) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		sb.WriteString(key)
		sb.WriteString(params[key])
	}

	mac := hmac.New(sha256.New, []byte(a.appSecret))
	mac.Write([]byte(sb.String()))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

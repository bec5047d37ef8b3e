package affiliate

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var amazonASINPattern = regexp.MustCompile(`/(?:dp|gp/product|gp/aw/d)/([A-Z0-9]{10})`)

// AmazonAdapter resolves Amazon links. There is no private link API in use;
// monetization rewrites the URL with the associate tag.
type AmazonAdapter struct {
	tag string
}

var _ Adapter = (*AmazonAdapter)(nil)

func NewAmazonAdapter(tag string) *AmazonAdapter {
	return &AmazonAdapter{tag: tag}
}

func (a *AmazonAdapter) Platform() Platform {
	return PlatformAmazon
}

func (a *AmazonAdapter) Detect(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	return host == "amazon.com.br" || strings.HasSuffix(host, ".amazon.com.br") ||
		host == "amazon.com" || strings.HasSuffix(host, ".amazon.com") ||
		host == "amzn.to"
}

func (a *AmazonAdapter) IsShortLink(u *url.URL) bool {
	return strings.ToLower(u.Hostname()) == "amzn.to"
}

func (a *AmazonAdapter) ProductID(rawURL string) string {
	if m := amazonASINPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ""
}

func (a *AmazonAdapter) Monetize(ctx context.Context, resolvedURL string) (string, error) {
	if a.tag == "" {
		return "", fmt.Errorf("amazon associate tag not configured")
	}
	return cleanURL(resolvedURL, "tag", a.tag), nil
}

func (a *AmazonAdapter) Fallback(resolvedURL string) string {
	return cleanURL(resolvedURL, "tag", a.tag)
}

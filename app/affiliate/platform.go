package affiliate

import (
	"context"
	"net/url"
)

// Platform identifies a supported marketplace.
type Platform string

const (
	PlatformShopee     Platform = "shopee"
	PlatformMeli       Platform = "mercadolivre"
	PlatformAliExpress Platform = "aliexpress"
	PlatformAmazon     Platform = "amazon"
	PlatformOriginal   Platform = "original"
)

// Adapter is the per-marketplace capability set. Detect matches hostnames,
// IsShortLink matches the platform's affiliate short-link shapes, ProductID
// extracts the numeric product identifier used for resolution validation,
// Monetize calls the platform's affiliate API and Fallback produces the
// long-form monetized URL when the API is unavailable.
type Adapter interface {
	Platform() Platform
	Detect(u *url.URL) bool
	IsShortLink(u *url.URL) bool
	ProductID(rawURL string) string
	Monetize(ctx context.Context, resolvedURL string) (string, error)
	Fallback(resolvedURL string) string
}

// Result is the outcome of resolving a single URL. Tag carries the platform
// name, "original" for unmatched hosts, or "<platform>-disabled" when the
// platform toggle is off.
type Result struct {
	AffiliateURL string
	Tag          string
}

// trackingParams are stripped from resolved URLs before the tag fallback is
// appended.
var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"ref", "ref_", "tag", "aff_fcid", "aff_trace_key", "aff_platform",
	"af_siteid", "pid", "uls_trackid", "spm", "scm", "sp_atk", "xptdk",
	"matt_word", "matt_tool", "forceInApp",
}

// cleanURL strips known tracking parameters and optionally appends a single
// tracking tag query parameter.
func cleanURL(rawURL, tagParam, tagValue string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	query := u.Query()
	for _, param := range trackingParams {
		query.Del(param)
	}
	if tagParam != "" && tagValue != "" {
		query.Set(tagParam, tagValue)
	}
	u.RawQuery = query.Encode()
	u.Fragment = ""

	return u.String()
}

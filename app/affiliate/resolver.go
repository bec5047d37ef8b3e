package affiliate

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/AndradeTK/ofertassertao/app/database"
)

var platformSettingKeys = map[Platform]string{
	PlatformShopee:     database.SettingShopeeEnabled,
	PlatformMeli:       database.SettingMeliEnabled,
	PlatformAliExpress: database.SettingAliExpressEnabled,
	PlatformAmazon:     database.SettingAmazonEnabled,
}

// Resolver dispatches URLs to the registered platform adapters. Resolution is
// best-effort at every step: it never returns an error, falling back to the
// safest known URL value instead.
type Resolver struct {
	adapters []Adapter
	client   *Client
	settings database.SettingRepository
}

func NewResolver(client *Client, settings database.SettingRepository, adapters ...Adapter) *Resolver {
	return &Resolver{
		adapters: adapters,
		client:   client,
		settings: settings,
	}
}

// Resolve turns a shared commerce URL into a monetized affiliate URL.
// Unmatched hosts get one bounded redirect-follow; if the final hop lands on
// a known platform it is re-dispatched, otherwise the URL passes through
// unchanged tagged "original".
func (r *Resolver) Resolve(ctx context.Context, rawURL string) Result {
	u, err := url.Parse(rawURL)
	if err != nil {
		slog.Warn("Unparseable URL, passing through", "url", rawURL, "error", err)
		return Result{AffiliateURL: rawURL, Tag: string(PlatformOriginal)}
	}

	adapter := r.match(u)
	if adapter == nil {
		return r.resolveGeneric(ctx, rawURL)
	}

	return r.resolvePlatform(ctx, adapter, rawURL, u)
}

func (r *Resolver) match(u *url.URL) Adapter {
	for _, adapter := range r.adapters {
		if adapter.Detect(u) || adapter.IsShortLink(u) {
			return adapter
		}
	}
	return nil
}

// resolveGeneric follows redirects for unknown hosts and re-dispatches when
// the chain lands on a known platform.
func (r *Resolver) resolveGeneric(ctx context.Context, rawURL string) Result {
	finalURL, _, err := r.client.FollowRedirects(ctx, rawURL)
	if err != nil {
		slog.Debug("Generic redirect follow failed", "url", rawURL, "error", err)
		return Result{AffiliateURL: rawURL, Tag: string(PlatformOriginal)}
	}

	if finalURL != rawURL {
		if u, err := url.Parse(finalURL); err == nil {
			if adapter := r.match(u); adapter != nil {
				return r.resolvePlatform(ctx, adapter, finalURL, u)
			}
		}
	}

	return Result{AffiliateURL: rawURL, Tag: string(PlatformOriginal)}
}

func (r *Resolver) resolvePlatform(ctx context.Context, adapter Adapter, rawURL string, u *url.URL) Result {
	platform := adapter.Platform()

	resolved := rawURL
	if adapter.IsShortLink(u) {
		resolved = r.resolveShortLink(ctx, adapter, rawURL)
	}

	// Identity validation: a redirect chain must not swap the product out
	// from under the shared link. On mismatch the original URL wins.
	originalID := adapter.ProductID(rawURL)
	resolvedID := adapter.ProductID(resolved)
	if originalID != "" && resolvedID != "" && originalID != resolvedID {
		slog.Warn("Resolution product mismatch, keeping original URL",
			"platform", platform, "original_id", originalID, "resolved_id", resolvedID)
		return Result{AffiliateURL: rawURL, Tag: string(platform)}
	}

	if !r.enabled(platform) {
		return Result{AffiliateURL: resolved, Tag: string(platform) + "-disabled"}
	}

	monetized, err := adapter.Monetize(ctx, resolved)
	if err != nil {
		slog.Warn("Monetization failed, using tag fallback", "platform", platform, "error", err)
		return Result{AffiliateURL: adapter.Fallback(resolved), Tag: string(platform)}
	}

	return Result{AffiliateURL: monetized, Tag: string(platform)}
}

// resolveShortLink follows the short-link redirect chain; when the landing
// page is not a recognizable product page it falls back to the canonical or
// og:url meta tag.
func (r *Resolver) resolveShortLink(ctx context.Context, adapter Adapter, rawURL string) string {
	finalURL, body, err := r.client.FollowRedirects(ctx, rawURL)
	if err != nil {
		slog.Debug("Short-link resolution failed", "url", rawURL, "error", err)
		return rawURL
	}

	if adapter.ProductID(finalURL) == "" && len(body) > 0 {
		if canonical := CanonicalURL(body); canonical != "" && adapter.ProductID(canonical) != "" {
			return canonical
		}
	}

	return finalURL
}

func (r *Resolver) enabled(platform Platform) bool {
	key, ok := platformSettingKeys[platform]
	if !ok {
		return true
	}
	return r.settings.GetBool(key, true)
}

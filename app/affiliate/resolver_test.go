package affiliate

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
)

// fakeSettings implements database.SettingRepository for resolver tests.
type fakeSettings struct {
	values map[string]string
}

func (s *fakeSettings) Get(key string) (string, error) {
	return s.values[key], nil
}

func (s *fakeSettings) Set(key, value string) error {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	return nil
}

func (s *fakeSettings) GetBool(key string, defaultValue bool) bool {
	switch s.values[key] {
	case "true":
		return true
	case "false":
		return false
	}
	return defaultValue
}

// testAdapter matches the test server's host and extracts ids of the form
// "prod-i.<id>".
type testAdapter struct {
	host     string
	monetize func(string) (string, error)
}

var testIDPattern = regexp.MustCompile(`prod-i\.(\d+)`)

func (a *testAdapter) Platform() Platform     { return PlatformShopee }
func (a *testAdapter) Detect(u *url.URL) bool { return u.Host == a.host }

func (a *testAdapter) IsShortLink(u *url.URL) bool {
	return strings.HasPrefix(u.Path, "/s/")
}

func (a *testAdapter) ProductID(rawURL string) string {
	if m := testIDPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ""
}

func (a *testAdapter) Monetize(ctx context.Context, resolvedURL string) (string, error) {
	if a.monetize != nil {
		return a.monetize(resolvedURL)
	}
	return resolvedURL + "?aff=1", nil
}

func (a *testAdapter) Fallback(resolvedURL string) string {
	return cleanURL(resolvedURL, "aff", "fallback-tag")
}

func TestResolver_ProductMismatchKeepsOriginal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/s/"):
			// Crafted redirect landing on a different product.
			http.Redirect(w, r, "/prod-i.99", http.StatusFound)
		default:
			fmt.Fprint(w, "<html><body>product page</body></html>")
		}
	}))
	defer server.Close()

	serverURL, _ := url.Parse(server.URL)
	adapter := &testAdapter{host: serverURL.Host}
	resolver := NewResolver(NewClient("test-agent"), &fakeSettings{}, adapter)

	original := server.URL + "/s/prod-i.42"
	result := resolver.Resolve(context.Background(), original)

	if result.AffiliateURL != original {
		t.Errorf("Expected original URL on product mismatch, got %s", result.AffiliateURL)
	}
}

func TestResolver_ShortLinkResolvedAndMonetized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/s/"):
			http.Redirect(w, r, "/prod-i.42", http.StatusFound)
		default:
			fmt.Fprint(w, "<html><body>product page</body></html>")
		}
	}))
	defer server.Close()

	serverURL, _ := url.Parse(server.URL)
	adapter := &testAdapter{host: serverURL.Host}
	resolver := NewResolver(NewClient("test-agent"), &fakeSettings{}, adapter)

	result := resolver.Resolve(context.Background(), server.URL+"/s/abc123")

	expected := server.URL + "/prod-i.42?aff=1"
	if result.AffiliateURL != expected {
		t.Errorf("Expected monetized resolved URL %s, got %s", expected, result.AffiliateURL)
	}
	if result.Tag != "shopee" {
		t.Errorf("Expected shopee tag, got %s", result.Tag)
	}
}

func TestResolver_CanonicalFallbackOnNonProductLanding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/s/"):
			http.Redirect(w, r, "/landing", http.StatusFound)
		case r.URL.Path == "/landing":
			fmt.Fprintf(w, `<html><head><meta property="og:url" content="%s/prod-i.42"/></head></html>`,
				"http://"+r.Host)
		default:
			fmt.Fprint(w, "<html></html>")
		}
	}))
	defer server.Close()

	serverURL, _ := url.Parse(server.URL)
	adapter := &testAdapter{host: serverURL.Host}
	resolver := NewResolver(NewClient("test-agent"), &fakeSettings{}, adapter)

	result := resolver.Resolve(context.Background(), server.URL+"/s/abc123")

	if adapter.ProductID(result.AffiliateURL) != "42" {
		t.Errorf("Expected canonical product URL, got %s", result.AffiliateURL)
	}
}

func TestResolver_MonetizeFailureUsesFallback(t *testing.T) {
	adapter := &testAdapter{
		host: "shop.test",
		monetize: func(string) (string, error) {
			return "", fmt.Errorf("api quota exceeded")
		},
	}
	resolver := NewResolver(NewClient("test-agent"), &fakeSettings{}, adapter)

	result := resolver.Resolve(context.Background(), "http://shop.test/prod-i.42?utm_source=x&spm=abc")

	u, err := url.Parse(result.AffiliateURL)
	if err != nil {
		t.Fatalf("Unparseable fallback URL: %v", err)
	}
	query := u.Query()
	if query.Get("aff") != "fallback-tag" {
		t.Errorf("Expected fallback tag parameter, got %s", result.AffiliateURL)
	}
	if query.Get("utm_source") != "" || query.Get("spm") != "" {
		t.Errorf("Expected tracking params stripped, got %s", result.AffiliateURL)
	}
}

func TestResolver_DisabledPlatformPassesThrough(t *testing.T) {
	settings := &fakeSettings{values: map[string]string{"shopee_enabled": "false"}}
	adapter := &testAdapter{host: "shop.test"}
	resolver := NewResolver(NewClient("test-agent"), settings, adapter)

	original := "http://shop.test/prod-i.42"
	result := resolver.Resolve(context.Background(), original)

	if result.AffiliateURL != original {
		t.Errorf("Expected unmodified URL for disabled platform, got %s", result.AffiliateURL)
	}
	if result.Tag != "shopee-disabled" {
		t.Errorf("Expected shopee-disabled tag, got %s", result.Tag)
	}
}

func TestResolver_UnknownHostRedispatchesAfterRedirect(t *testing.T) {
	var productHost string
	mux := http.NewServeMux()
	productServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>product</body></html>")
	}))
	defer productServer.Close()
	productURL, _ := url.Parse(productServer.URL)
	productHost = productURL.Host

	mux.HandleFunc("/deal", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, productServer.URL+"/prod-i.42", http.StatusFound)
	})
	shortener := httptest.NewServer(mux)
	defer shortener.Close()

	adapter := &testAdapter{host: productHost}
	resolver := NewResolver(NewClient("test-agent"), &fakeSettings{}, adapter)

	result := resolver.Resolve(context.Background(), shortener.URL+"/deal")

	if result.Tag != "shopee" {
		t.Errorf("Expected re-dispatch to shopee adapter, got tag %s", result.Tag)
	}
	if adapter.ProductID(result.AffiliateURL) != "42" {
		t.Errorf("Expected resolved product URL, got %s", result.AffiliateURL)
	}
}

func TestResolver_UnknownHostNoPlatformReturnsOriginal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>blog post</body></html>")
	}))
	defer server.Close()

	resolver := NewResolver(NewClient("test-agent"), &fakeSettings{})

	original := server.URL + "/post"
	result := resolver.Resolve(context.Background(), original)

	if result.AffiliateURL != original {
		t.Errorf("Expected original URL, got %s", result.AffiliateURL)
	}
	if result.Tag != "original" {
		t.Errorf("Expected original tag, got %s", result.Tag)
	}
}

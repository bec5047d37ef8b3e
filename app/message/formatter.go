package message

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/AndradeTK/ofertassertao/app/classify"
)

// CaptionLimit is the Telegram photo caption hard limit.
const CaptionLimit = 1024

// Promo carries everything the formatter needs to build a caption.
type Promo struct {
	Classification classify.Result
	AffiliateURLs  map[string]string // original URL -> affiliate URL
}

// Formatter builds destination-ready captions. Output is NFC-normalized
// UTF-8 with control characters stripped and is capped at the destination
// caption limit with the footer link always preserved.
type Formatter struct {
	footerURL string
}

func NewFormatter(footerURL string) *Formatter {
	return &Formatter{footerURL: footerURL}
}

func (f *Formatter) Build(promo Promo) string {
	var sb strings.Builder

	c := promo.Classification

	if c.Title != "" {
		sb.WriteString("🔥 ")
		sb.WriteString(c.Title)
		sb.WriteString("\n\n")
	}

	if len(c.Variants) > 0 {
		for _, variant := range c.Variants {
			sb.WriteString(fmt.Sprintf("▪️ %s: %s\n", variant.Label, variant.Price))
		}
		sb.WriteString("\n")
	} else if c.Price != "" {
		sb.WriteString(fmt.Sprintf("💰 %s\n\n", c.Price))
	}

	if c.Coupon != "" {
		sb.WriteString(fmt.Sprintf("🎟 Cupom: %s\n\n", c.Coupon))
	}

	for _, affiliateURL := range orderedURLs(promo.AffiliateURLs) {
		sb.WriteString("🛒 ")
		sb.WriteString(affiliateURL)
		sb.WriteString("\n")
	}

	body := sanitize(sb.String())

	return truncateWithFooter(body, f.footer(), CaptionLimit)
}

func (f *Formatter) footer() string {
	if f.footerURL == "" {
		return ""
	}
	return fmt.Sprintf("\n📢 Mais ofertas: %s", f.footerURL)
}

// orderedURLs returns the affiliate URLs in a stable order: map iteration is
// randomized and captions must be reproducible.
func orderedURLs(urls map[string]string) []string {
	keys := make([]string, 0, len(urls))
	for original := range urls {
		keys = append(keys, original)
	}
	sort.Strings(keys)

	ordered := make([]string, 0, len(keys))
	for _, key := range keys {
		ordered = append(ordered, urls[key])
	}
	return ordered
}

// sanitize strips control characters (newlines excepted) and normalizes to
// composed form so rune counts match what the destination counts.
func sanitize(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	return norm.NFC.String(cleaned)
}

// truncateWithFooter caps the caption at limit runes, trimming the body but
// keeping the footer verbatim at the end.
func truncateWithFooter(body, footer string, limit int) string {
	footerRunes := []rune(footer)
	bodyRunes := []rune(strings.TrimRight(body, "\n"))

	if len(bodyRunes)+len(footerRunes) <= limit {
		return string(bodyRunes) + footer
	}

	available := limit - len(footerRunes) - 1 // room for the ellipsis
	if available < 0 {
		available = 0
	}
	truncated := strings.TrimRight(string(bodyRunes[:available]), "\n ")

	return truncated + "…" + footer
}

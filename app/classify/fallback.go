package classify

import (
	"regexp"
	"strings"
)

const fallbackConfidence = 30

var (
	pricePattern  = regexp.MustCompile(`R\$\s?\d{1,3}(?:\.\d{3})*(?:,\d{2})?`)
	couponPattern = regexp.MustCompile(`(?i)cupom:?\s*([A-Z0-9]{4,20})`)
	urlPattern    = regexp.MustCompile(`https?://\S+`)

	// Marketing shouting that never works as a product title.
	marketingPattern = regexp.MustCompile(`(?i)^(🔥|⚡|🚨|💥|❗|corre|oferta|promoção|promo\b|imperd[ií]vel|aproveita|baixou|menor pre[cç]o|link|cupom|somente hoje|últimas unidades)`)
)

// fallback is the deterministic rule-based extractor used when the AI call
// errors out or keeps returning junk. The result is always flagged for
// manual review.
func (c *Classifier) fallback(title, price, rawText string) Result {
	result := Result{
		Title:         strings.TrimSpace(title),
		Price:         strings.TrimSpace(price),
		Category:      c.keywords.Match(rawText),
		Confidence:    fallbackConfidence,
		NeedsApproval: true,
	}

	if result.Title == "" {
		result.Title = pickTitleLine(rawText)
	}
	if result.Price == "" {
		result.Price = pricePattern.FindString(rawText)
	}
	if m := couponPattern.FindStringSubmatch(rawText); m != nil {
		result.Coupon = strings.ToUpper(m[1])
		if result.Title == "" && result.Price == "" {
			result.IsCouponMessage = true
		}
	}

	return result
}

// pickTitleLine scans the message for the first product-shaped line, skipping
// marketing phrases, bare links, prices and short ALL-CAPS shouts.
func pickTitleLine(rawText string) string {
	for _, line := range strings.Split(rawText, "\n") {
		line = strings.TrimSpace(urlPattern.ReplaceAllString(line, ""))
		line = strings.Trim(line, "*_~ ")
		if line == "" {
			continue
		}
		if marketingPattern.MatchString(line) {
			continue
		}
		if pricePattern.MatchString(line) && len(line) <= len(pricePattern.FindString(line))+6 {
			continue
		}
		if isShortAllCaps(line) {
			continue
		}
		if len([]rune(line)) < 4 {
			continue
		}
		return line
	}

	return ""
}

func isShortAllCaps(line string) bool {
	if len([]rune(line)) > 24 {
		return false
	}
	hasLetter := false
	for _, r := range line {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			hasLetter = true
		}
	}
	return hasLetter
}

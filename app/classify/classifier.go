package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	maxAttempts   = 3 // initial call plus two quality retries
	minTitleRunes = 8
)

const systemPrompt = `Você analisa mensagens de promoções de grupos de ofertas brasileiros.
Responda SOMENTE com um objeto JSON, sem texto adicional:
{"title": string, "price": string, "coupon": string,
 "variants": [{"label": string, "price": string}],
 "category": string, "confidence": number 0-100, "is_coupon": bool}
"is_coupon" é true quando a mensagem anuncia um cupom geral em vez de um produto específico.
"category" deve ser exatamente uma de: %s.`

// Classifier combines the AI call with a deterministic keyword fallback.
// Classify never fails: worst case it returns a low-confidence best-effort
// guess flagged for manual review.
type Classifier struct {
	client           AIClient
	keywords         *KeywordTable
	reviewConfidence int
	retryDelay       time.Duration
}

func NewClassifier(client AIClient, keywords *KeywordTable, reviewConfidence int) *Classifier {
	return &Classifier{
		client:           client,
		keywords:         keywords,
		reviewConfidence: reviewConfidence,
		retryDelay:       2 * time.Second,
	}
}

func (c *Classifier) Classify(ctx context.Context, title, price, rawText string) Result {
	system := fmt.Sprintf(systemPrompt, strings.Join(c.keywords.Categories(), ", "))
	user := fmt.Sprintf("Título conhecido: %s\nPreço conhecido: %s\nMensagem:\n%s", title, price, rawText)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				slog.Warn("Classification cancelled, falling back", "error", ctx.Err())
				return c.fallback(title, price, rawText)
			case <-time.After(c.retryDelay):
			}
		}

		raw, err := c.client.Complete(ctx, system, user)
		if err != nil {
			lastErr = err
			slog.Warn("Classification call failed", "attempt", attempt, "error", err)
			continue
		}

		result, err := parseResult(raw)
		if err != nil {
			lastErr = err
			slog.Warn("Classification response rejected", "attempt", attempt, "error", err)
			continue
		}

		// Quality gate: a stub title or a product with no price at all is
		// usually a sporadic low-quality generation worth one more try.
		// If every attempt fails the gate, the keyword fallback takes over
		// so a confidently-wrong generation never skips manual review.
		if !c.acceptable(result) {
			lastErr = fmt.Errorf("low quality classification")
			slog.Debug("Retrying low quality classification", "attempt", attempt, "title", result.Title)
			continue
		}

		if !c.keywords.Valid(result.Category) {
			result.Category = c.keywords.Match(rawText)
		}
		if result.Confidence < c.reviewConfidence {
			result.NeedsApproval = true
		}

		return result
	}

	slog.Warn("Classification falling back to keyword extraction", "error", lastErr)
	return c.fallback(title, price, rawText)
}

func (c *Classifier) acceptable(result Result) bool {
	if len([]rune(strings.TrimSpace(result.Title))) < minTitleRunes {
		return false
	}
	if result.IsCouponMessage {
		return true
	}
	return result.Price != "" || len(result.Variants) > 0
}

// parseResult decodes the model output: direct JSON first, then the first
// balanced {...} substring. Category and confidence are mandatory.
func parseResult(raw string) (Result, error) {
	var result Result

	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		extracted := extractJSONObject(raw)
		if extracted == "" {
			return Result{}, fmt.Errorf("no JSON object in response")
		}
		if err := json.Unmarshal([]byte(extracted), &result); err != nil {
			return Result{}, fmt.Errorf("failed to parse extracted JSON: %w", err)
		}
	}

	if result.Category == "" {
		return Result{}, fmt.Errorf("response missing category")
	}
	if result.Confidence <= 0 {
		return Result{}, fmt.Errorf("response missing confidence")
	}

	return result, nil
}

// extractJSONObject returns the first balanced top-level {...} substring,
// ignoring braces inside JSON strings.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}

	return ""
}

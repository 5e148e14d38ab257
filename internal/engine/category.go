package engine

import (
	"strings"

	"ragstore/internal/config"
)

// Classifier assigns a category to a piece of text. An empty result means
// no rule matched.
type Classifier interface {
	Classify(text string) string
}

// KeywordClassifier applies ordered keyword rules; the first rule with any
// keyword present wins. Matching is case-insensitive substring search, which
// is deliberately crude: it only steers search filters, never correctness.
type KeywordClassifier struct {
	rules []config.CategoryRule
}

func NewKeywordClassifier(rules []config.CategoryRule) *KeywordClassifier {
	return &KeywordClassifier{rules: rules}
}

func (c *KeywordClassifier) Classify(text string) string {
	lower := strings.ToLower(text)
	for _, rule := range c.rules {
		for _, kw := range rule.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(kw)) {
				return rule.Name
			}
		}
	}
	return ""
}

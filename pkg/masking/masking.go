// Package masking redacts PII (phone numbers, email addresses, free-text
// symptom descriptions) from log output before it reaches a slog handler.
// Grounded on tarsy's pkg/masking: a named, pre-compiled regex pattern per
// PII category, resolved by name from config.MaskingConfig.Patterns.
package masking

import (
	"regexp"

	"github.com/handwerkcall/phoneagent/pkg/config"
)

// CompiledPattern holds a pre-compiled regex and its replacement text.
// Mirrors tarsy's pkg/masking.CompiledPattern shape.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns are the fixed pattern groups this module ships with.
// A real deployment's custom patterns would be loaded the way tarsy loads
// per-MCP-server custom patterns; the core only needs these three groups.
var builtinPatterns = map[string]*CompiledPattern{
	"phone": {
		Name:        "phone",
		Regex:       regexp.MustCompile(`(?:\+49|0)[\d\s/\-()]{6,}\d`),
		Replacement: "[MASKED_PHONE]",
	},
	"email": {
		Name:        "email",
		Regex:       regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
		Replacement: "[MASKED_EMAIL]",
	},
	// free_text masks nothing by regex; it is a marker group whose
	// membership in Patterns tells Service.MaskFreeText to redact a whole
	// field wholesale rather than substring-match it (symptom descriptions
	// carry health information too sensitive to selectively redact).
	"free_text": {
		Name:        "free_text",
		Regex:       nil,
		Replacement: "[MASKED_FREE_TEXT]",
	},
}

// Service applies the configured set of masking patterns to log strings.
type Service struct {
	enabled  bool
	patterns []*CompiledPattern
	freeText bool
}

// NewService builds a Service from masking configuration.
func NewService(cfg *config.MaskingConfig) *Service {
	s := &Service{}
	if cfg == nil || !cfg.Enabled {
		return s
	}
	s.enabled = true
	for _, name := range cfg.Patterns {
		cp, ok := builtinPatterns[name]
		if !ok {
			continue
		}
		if name == "free_text" {
			s.freeText = true
			continue
		}
		s.patterns = append(s.patterns, cp)
	}
	return s
}

// Mask applies every configured regex pattern to s, in order.
func (s *Service) Mask(text string) string {
	if !s.enabled {
		return text
	}
	for _, p := range s.patterns {
		text = p.Regex.ReplaceAllString(text, p.Replacement)
	}
	return text
}

// MaskFreeText redacts an entire free-text field when the "free_text"
// pattern group is enabled, else falls back to substring masking via Mask.
func (s *Service) MaskFreeText(text string) string {
	if !s.enabled {
		return text
	}
	if s.freeText {
		return builtinPatterns["free_text"].Replacement
	}
	return s.Mask(text)
}

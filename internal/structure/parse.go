package structure

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cinedeck/cinedeck/internal/domain"
)

// The AI boundary is an untyped document: slideDoc is the wire shape the
// model is asked for, validated and coerced into domain.SlideSpec here. A
// record that fails validation rejects the whole response; the structurer
// decides whether to retry.

type deckDoc struct {
	Slides      []slideDoc `json:"slides"`
	SuggestedBG string     `json:"suggested_bg_color"`
}

type slideDoc struct {
	Title        string   `json:"title"`
	BulletPoints []string `json:"bullet_points"`
	VisualQuery  string   `json:"visual_query"`
	AccentColor  string   `json:"accent_color"`
}

const (
	defaultAccent     = "6366F1"
	defaultBackground = "0F172A"
)

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")

var hexColorRe = regexp.MustCompile(`^#?[0-9a-fA-F]{6}$`)

// parseResponse extracts and validates the JSON document from a raw model
// response. Models occasionally wrap the object in markdown fences or
// surround it with prose; both are stripped before decoding. Schema
// violations are rejected, never repaired.
func parseResponse(raw string) (*deckDoc, error) {
	jsonStr := raw
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		jsonStr = m[1]
	} else {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start >= 0 && end > start {
			jsonStr = raw[start : end+1]
		}
	}

	var doc deckDoc
	if err := json.Unmarshal([]byte(jsonStr), &doc); err != nil {
		return nil, domain.ExternalError("content service returned malformed JSON", err)
	}
	if doc.Slides == nil {
		return nil, domain.ExternalError(`content service response missing "slides" list`, nil)
	}
	for i, s := range doc.Slides {
		if strings.TrimSpace(s.Title) == "" {
			return nil, domain.ExternalError(fmt.Sprintf("slide %d has no title", i+1), nil)
		}
		if strings.TrimSpace(s.VisualQuery) == "" {
			return nil, domain.ExternalError(fmt.Sprintf("slide %d has no visual_query", i+1), nil)
		}
	}
	return &doc, nil
}

// normalizeColor validates a 6-digit hex color, returning fallback when the
// model produced something unusable.
func normalizeColor(c, fallback string) string {
	c = strings.TrimSpace(c)
	if !hexColorRe.MatchString(c) {
		return fallback
	}
	return strings.ToUpper(strings.TrimPrefix(c, "#"))
}

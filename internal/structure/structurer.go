// Package structure converts extracted points into slide specs through the
// content-structuring service, enforcing the one-record-per-point contract.
package structure

import (
	"context"
	"fmt"
	"strings"

	"github.com/cinedeck/cinedeck/internal/domain"
	"github.com/cinedeck/cinedeck/internal/observability"
)

// Completer is the content service boundary: one prompt in, one text
// response out.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Structurer turns points into a Deck of slide specs.
type Structurer struct {
	llm     Completer
	logger  *observability.Logger
	retries int
}

// New creates a Structurer. retries is the number of correction attempts
// after the initial request when the record count mismatches.
func New(llm Completer, logger *observability.Logger, retries int) *Structurer {
	return &Structurer{llm: llm, logger: logger.WithComponent("structurer"), retries: retries}
}

// Structure requests exactly one slide record per point. maxSlides clamps
// the request, never already-produced output: when the point list exceeds
// the cap, the trailing points are dropped before the request is built, and
// the count contract applies to the clamped list. A response whose record
// count still mismatches after all correction attempts fails with
// StructureCountMismatch; output is never padded or truncated to fit.
func (s *Structurer) Structure(ctx context.Context, pts []domain.Point, maxSlides int) (*domain.Deck, error) {
	if len(pts) == 0 {
		return nil, domain.EmptyInputError("no points to structure")
	}
	if maxSlides > 0 && len(pts) > maxSlides {
		s.logger.Info().Int("points", len(pts)).Int("max_slides", maxSlides).
			Msg("clamping structuring request to slide cap")
		pts = pts[:maxSlides]
	}

	prompt := buildPrompt(pts)
	var lastCount int

	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			prompt = buildCorrectionPrompt(pts, lastCount)
			s.logger.Warn().Int("attempt", attempt).Int("got", lastCount).
				Int("want", len(pts)).Msg("retrying structuring with correction instruction")
		}

		raw, err := s.llm.Complete(ctx, systemPrompt, prompt)
		if err != nil {
			return nil, err
		}

		doc, err := parseResponse(raw)
		if err != nil {
			// Malformed output is retried like a mismatch; the
			// correction prompt restates the full format.
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("rejected malformed structuring response")
			lastCount = 0
			if attempt == s.retries {
				return nil, err
			}
			continue
		}

		if len(doc.Slides) != len(pts) {
			lastCount = len(doc.Slides)
			continue
		}

		return s.buildDeck(doc, pts), nil
	}

	return nil, domain.CountMismatchError(fmt.Sprintf(
		"content service returned %d records for %d points after %d correction attempts",
		lastCount, len(pts), s.retries))
}

// buildDeck coerces a validated response document into the domain model.
// Record i maps to point i; indices carry the source numbering.
func (s *Structurer) buildDeck(doc *deckDoc, pts []domain.Point) *domain.Deck {
	deck := &domain.Deck{
		Slides:     make([]domain.SlideSpec, len(doc.Slides)),
		Background: normalizeColor(doc.SuggestedBG, defaultBackground),
	}
	for i, sd := range doc.Slides {
		kind := classify(pts[i])
		body := sd.BulletPoints
		if kind == domain.KindProblemSolution {
			body = splitProblemBody(body)
		}
		deck.Slides[i] = domain.SlideSpec{
			Index:       pts[i].Index,
			Headline:    strings.TrimSpace(sd.Title),
			BodyLines:   body,
			VisualQuery: strings.TrimSpace(sd.VisualQuery),
			Kind:        kind,
			AccentColor: normalizeColor(sd.AccentColor, defaultAccent),
		}
	}
	DeduplicateQueries(deck.Slides)
	return deck
}

// alternateSubjects replaces colliding visual queries; the concrete-object
// rotation keeps sibling problem slides from converging on identical stock
// imagery before the resolver's hash-level dedup even runs.
var alternateSubjects = []string{
	"geometric compass drawing circles on blueprint",
	"vintage abacus with wooden beads",
	"neon mathematical symbols glowing in dark",
	"graph paper with hand-drawn equations",
	"scientific calculator buttons closeup",
	"protractor measuring angles on desk",
	"chalkboard with colorful chalk formulas",
	"digital LED number display",
	"ruler and pencil on engineering drawing",
	"mathematical textbook open on table",
	"student solving problem on tablet",
	"3D geometric shapes floating",
	"Fibonacci spiral in nature",
	"binary code matrix background",
	"ancient counting stones",
	"math teacher at whiteboard",
	"trigonometry triangle diagram",
	"algebra symbols on paper",
	"statistics graph chart",
	"geometry set tools on desk",
}

// DeduplicateQueries rewrites textually duplicate visual queries in place.
// The image resolver's content-hash dedup remains the authoritative guard;
// this pre-pass just avoids burning search calls on known collisions.
func DeduplicateQueries(slides []domain.SlideSpec) {
	seen := make(map[string]bool, len(slides))
	altIdx := 0
	for i := range slides {
		q := strings.ToLower(strings.TrimSpace(slides[i].VisualQuery))
		if seen[q] {
			replacement := alternateSubjects[altIdx%len(alternateSubjects)]
			altIdx++
			slides[i].VisualQuery = replacement
			q = strings.ToLower(replacement)
		}
		seen[q] = true
	}
}

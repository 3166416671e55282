package structure

import (
	"fmt"
	"strings"

	"github.com/cinedeck/cinedeck/internal/domain"
)

const systemPrompt = "You are a professional presentation designer. You create concise, engaging slide decks."

// buildPrompt constructs the structuring instruction for an exact point
// count. The count mandate is repeated because undershoot is the most common
// model failure and the pipeline never pads output to compensate.
func buildPrompt(pts []domain.Point) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, `Convert the numbered points below into a high-impact slide deck.

STRUCTURE RULES:
1. Create EXACTLY ONE slide for EVERY numbered point. There are %d points, so your response must contain EXACTLY %d slides.
2. Do NOT generate a title slide or summary slide. Start directly with the first point.
3. Do NOT group or summarize points. Omitting a slide is a critical failure.

Output ONLY a valid JSON object with a key "slides" containing a list, and a top-level key "suggested_bg_color" (a deep, dark professional hex color like "0F172A").

Each slide must have:
- "title": a short, punchy heading (max 8 words) that names the core subject of the point (the specific place, person, or concept; never generic).
- "bullet_points": 2-3 brief, impactful lines covering the main details. Never omit key facts like names or places. If the point is a numerical problem or a question, include BOTH the full question and the step-by-step solution; do not summarize the steps.
- "visual_query": a highly specific image description with the main subject plus a style keyword (e.g. "A wind turbine in a field, cinematic lighting"). NEVER use the same or a similar visual_query on two slides; for abstract math points pick a different concrete math object for each slide (compass, abacus, protractor, graph paper, chalkboard).
- "accent_color": a vibrant, high-contrast hex color (e.g. "FDE047" or "22D3EE").

Numbered points to convert:
`, len(pts), len(pts))

	for _, p := range pts {
		fmt.Fprintf(&sb, "%d. %s\n", p.Index, p.RawText)
	}

	sb.WriteString("\nRemember: output ONLY the complete JSON object, nothing else.")
	return sb.String()
}

// buildCorrectionPrompt is sent after a count mismatch, citing the exact
// expected count.
func buildCorrectionPrompt(pts []domain.Point, got int) string {
	return fmt.Sprintf(
		"Your previous response contained %d slides but the input has %d numbered points. "+
			"Regenerate the COMPLETE JSON object with EXACTLY %d slides, one per numbered point, "+
			"in the same format. Output ONLY the JSON object.\n\n%s",
		got, len(pts), len(pts), buildPrompt(pts))
}

package structure

import (
	"regexp"
	"strings"

	"github.com/cinedeck/cinedeck/internal/domain"
)

// numericProblemRe matches arithmetic expressions and worded quantities that
// mark a point as a numeric problem even without a question mark.
var numericProblemRe = regexp.MustCompile(`\d+\s*[-+*/×÷=%]\s*\d+|\bhow (?:much|many)\b|\bfind the\b|\bcalculate\b|\bsolve\b`)

// classify tags a point as ProblemSolution when it carries an explicit
// question or a numeric-problem pattern; everything else is Standard.
func classify(p domain.Point) domain.SlideKind {
	text := strings.ToLower(p.RawText)
	if strings.Contains(text, "?") {
		return domain.KindProblemSolution
	}
	if numericProblemRe.MatchString(text) {
		return domain.KindProblemSolution
	}
	return domain.KindStandard
}

// splitProblemBody reorders a ProblemSolution body into its two segments:
// question lines first, then solution lines. Lines are classified by a
// leading question (contains "?") versus everything after the first
// non-question line; the model is prompted to emit them in that order
// already, so this is a stable pass-through for well-formed output.
func splitProblemBody(lines []string) []string {
	var question, solution []string
	seenSolution := false
	for _, line := range lines {
		if !seenSolution && strings.Contains(line, "?") {
			question = append(question, line)
			continue
		}
		seenSolution = true
		solution = append(solution, line)
	}
	return append(question, solution...)
}

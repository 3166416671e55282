// Package points turns raw input text into the ordered point sequence that
// drives the one-slide-per-point contract.
package points

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cinedeck/cinedeck/internal/domain"
)

// markerRe matches a numbered-list marker at the start of a line: a leading
// integer followed by "." or ")" and whitespace.
var markerRe = regexp.MustCompile(`^\s*(\d+)[.)]\s+`)

// Extract parses text into its numbered points. Text between markers belongs
// to the preceding point. Input with no markers fails with NoStructureFound
// rather than being treated as a single point: downstream stages depend on an
// explicit point count.
func Extract(text string) ([]domain.Point, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.EmptyInputError("input text is empty")
	}

	var pts []domain.Point
	var current *domain.Point

	for _, line := range strings.Split(text, "\n") {
		if m := markerRe.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				// Marker regex only admits digits; overflow is the
				// lone failure mode. The line is kept as continuation
				// text so no content is dropped.
				if current != nil {
					current.RawText += "\n" + line
				}
				continue
			}
			if current != nil {
				current.RawText = strings.TrimSpace(current.RawText)
				pts = append(pts, *current)
			}
			body := strings.TrimSpace(line[len(m[0]):])
			current = &domain.Point{Index: n, RawText: body}
			continue
		}
		if current != nil {
			current.RawText += "\n" + line
		}
	}
	if current != nil {
		current.RawText = strings.TrimSpace(current.RawText)
		pts = append(pts, *current)
	}

	if len(pts) == 0 {
		return nil, domain.NoStructureError("no numbered points found in input")
	}
	return pts, nil
}

// Package deck renders assembled slide records into a presentation file.
package deck

import (
	"github.com/cinedeck/cinedeck/internal/domain"
)

// Builder turns an ordered slide sequence into presentation file bytes.
// Records must already be sorted by ascending slide index.
type Builder interface {
	Build(deck *domain.Deck, records []domain.SlideRecord) ([]byte, error)
}

// Package domain defines the shared data model for the deck generation
// pipeline: extracted points, structured slide specs, resolved images, and
// the assembled slide records handed to the deck builder.
package domain

// Point is one numbered item from the source input. The point count
// established at extraction is the binding contract for every downstream
// stage: exactly one slide is produced per point.
type Point struct {
	// Index is the point's 1-based number as it appears in the source.
	// Points are never renumbered.
	Index   int
	RawText string
}

// SlideKind classifies how a slide's body is rendered.
type SlideKind string

const (
	// KindStandard is a regular bullet slide.
	KindStandard SlideKind = "standard"
	// KindProblemSolution renders a two-part body: question then solution.
	KindProblemSolution SlideKind = "problem_solution"
)

// SlideSpec is the AI-structured content for one slide, before imagery is
// attached. Indices match Point indices exactly. Mutable only inside the
// structurer; read-only afterward.
type SlideSpec struct {
	Index       int       `json:"index"`
	Headline    string    `json:"headline"`
	BodyLines   []string  `json:"body_lines"`
	VisualQuery string    `json:"visual_query"`
	Kind        SlideKind `json:"kind"`
	AccentColor string    `json:"accent_color"`
}

// Deck is the structuring result: one SlideSpec per extracted point plus
// deck-level presentation hints.
type Deck struct {
	Slides     []SlideSpec `json:"slides"`
	Background string      `json:"suggested_bg_color"`
}

// ImageSource identifies which acquisition strategy produced an image.
type ImageSource string

const (
	SourceWebSearch ImageSource = "web_search"
	SourceGenerated ImageSource = "generated"
)

// Expected resolutions. Web search results are normalized 16:9 frames;
// generated images come back at the model's native height, which must be a
// multiple of 64.
const (
	ImageWidth      = 1280
	SearchHeight    = 720
	GeneratedHeight = 704
)

// ImageResult is a validated image accepted for one slide. Hash is the
// hex-encoded SHA-256 of Bytes and keys the per-task dedup set.
type ImageResult struct {
	SlideIndex int
	Source     ImageSource
	Bytes      []byte
	Width      int
	Height     int
	Hash       string
}

// ExpectedHeight returns the height an image from the given source must have
// to be accepted.
func ExpectedHeight(src ImageSource) int {
	if src == SourceGenerated {
		return GeneratedHeight
	}
	return SearchHeight
}

// LayoutSide places a slide's image on the left or right half of the frame.
type LayoutSide string

const (
	ImageLeft  LayoutSide = "image_left"
	ImageRight LayoutSide = "image_right"
)

// SideForIndex returns the layout side for a 1-based slide index. Sides
// alternate strictly by parity starting with ImageLeft at index 1; this is a
// pure function of the index, never stored state.
func SideForIndex(index int) LayoutSide {
	if index%2 == 1 {
		return ImageLeft
	}
	return ImageRight
}

// SlideRecord pairs a finalized spec with its accepted image. The ordered
// record sequence is the deck builder's entire input.
type SlideRecord struct {
	Spec  SlideSpec
	Image ImageResult
}

// Side returns the record's layout side, derived from its spec index.
func (r SlideRecord) Side() LayoutSide {
	return SideForIndex(r.Spec.Index)
}

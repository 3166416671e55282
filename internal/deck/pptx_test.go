package deck

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinedeck/cinedeck/internal/domain"
	"github.com/cinedeck/cinedeck/internal/observability"
)

// pngMagic is enough for content type sniffing in tests.
var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func makeRecords(n int) (*domain.Deck, []domain.SlideRecord) {
	d := &domain.Deck{Background: "0F172A"}
	records := make([]domain.SlideRecord, n)
	for i := 0; i < n; i++ {
		idx := i + 1
		spec := domain.SlideSpec{
			Index:       idx,
			Headline:    fmt.Sprintf("Headline %d", idx),
			BodyLines:   []string{"first line", "second line"},
			VisualQuery: "anything",
			Kind:        domain.KindStandard,
			AccentColor: "6366F1",
		}
		d.Slides = append(d.Slides, spec)
		records[i] = domain.SlideRecord{
			Spec: spec,
			Image: domain.ImageResult{
				SlideIndex: idx,
				Source:     domain.SourceWebSearch,
				Bytes:      append(pngMagic, byte(idx)),
				Width:      domain.ImageWidth,
				Height:     domain.SearchHeight,
				Hash:       fmt.Sprintf("hash-%d", idx),
			},
		}
	}
	return d, records
}

func unzip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	parts := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		parts[f.Name] = content
	}
	return parts
}

func TestBuild_ArchiveStructure(t *testing.T) {
	d, records := makeRecords(3)
	b := NewPPTXBuilder(observability.Nop())

	data, err := b.Build(d, records)
	require.NoError(t, err)

	parts := unzip(t, data)
	for _, name := range []string{
		"[Content_Types].xml",
		"_rels/.rels",
		"ppt/presentation.xml",
		"ppt/_rels/presentation.xml.rels",
		"ppt/slideMasters/slideMaster1.xml",
		"ppt/slideLayouts/slideLayout1.xml",
		"ppt/theme/theme1.xml",
		"ppt/slides/slide1.xml",
		"ppt/slides/slide2.xml",
		"ppt/slides/slide3.xml",
		"ppt/media/image1.png",
		"ppt/media/image2.png",
		"ppt/media/image3.png",
	} {
		assert.Contains(t, parts, name)
	}

	contentTypes := string(parts["[Content_Types].xml"])
	assert.Contains(t, contentTypes, "/ppt/slides/slide3.xml")
	assert.NotContains(t, contentTypes, "/ppt/slides/slide4.xml")

	presentation := string(parts["ppt/presentation.xml"])
	assert.Equal(t, 3, strings.Count(presentation, "<p:sldId "))
}

func TestBuild_SlideContentAndOrder(t *testing.T) {
	d, records := makeRecords(2)
	b := NewPPTXBuilder(observability.Nop())

	data, err := b.Build(d, records)
	require.NoError(t, err)
	parts := unzip(t, data)

	slide1 := string(parts["ppt/slides/slide1.xml"])
	assert.Contains(t, slide1, "Headline 1")
	assert.Contains(t, slide1, "first line")
	assert.Contains(t, slide1, `val="6366F1"`)
	assert.Contains(t, slide1, `val="0F172A"`)

	slide2 := string(parts["ppt/slides/slide2.xml"])
	assert.Contains(t, slide2, "Headline 2")

	assert.Equal(t, append(pngMagic, 1), parts["ppt/media/image1.png"])
	assert.Equal(t, append(pngMagic, 2), parts["ppt/media/image2.png"])
}

func TestBuild_LayoutSidesAlternate(t *testing.T) {
	d, records := makeRecords(4)
	b := NewPPTXBuilder(observability.Nop())

	data, err := b.Build(d, records)
	require.NoError(t, err)
	parts := unzip(t, data)

	// Odd slides carry the image on the left half, even slides on the
	// right. The picture offset is the discriminator.
	for i := 1; i <= 4; i++ {
		slide := string(parts[fmt.Sprintf("ppt/slides/slide%d.xml", i)])
		picAt := func(x int) string { return fmt.Sprintf(`<a:off x="%d" y="0"/><a:ext cx="%d"`, x, halfWidthEMU) }
		if i%2 == 1 {
			assert.Contains(t, slide, picAt(0), "slide %d should have image on the left", i)
		} else {
			assert.Contains(t, slide, picAt(halfWidthEMU), "slide %d should have image on the right", i)
		}
	}
}

func TestBuild_ProblemSolutionStyling(t *testing.T) {
	d, records := makeRecords(1)
	d.Slides[0].Kind = domain.KindProblemSolution
	d.Slides[0].BodyLines = []string{"How many apples are left?", "Start with 10, remove 4, leaving 6."}
	records[0].Spec = d.Slides[0]

	b := NewPPTXBuilder(observability.Nop())
	data, err := b.Build(d, records)
	require.NoError(t, err)
	parts := unzip(t, data)

	slide := string(parts["ppt/slides/slide1.xml"])
	assert.Contains(t, slide, "How many apples are left?")
	assert.Contains(t, slide, "leaving 6.")
	assert.Contains(t, slide, `b="1"`)
}

func TestBuild_EscapesXMLText(t *testing.T) {
	d, records := makeRecords(1)
	d.Slides[0].Headline = `Profit & Loss <Q3> "review"`
	records[0].Spec = d.Slides[0]

	b := NewPPTXBuilder(observability.Nop())
	data, err := b.Build(d, records)
	require.NoError(t, err)
	parts := unzip(t, data)

	slide := string(parts["ppt/slides/slide1.xml"])
	assert.Contains(t, slide, "Profit &amp; Loss &lt;Q3&gt;")
	assert.NotContains(t, slide, "<Q3>")
}

func TestBuild_RejectsEmptyAndMismatched(t *testing.T) {
	b := NewPPTXBuilder(observability.Nop())

	_, err := b.Build(&domain.Deck{}, nil)
	assert.Error(t, err)

	d, records := makeRecords(3)
	_, err = b.Build(d, records[:2])
	assert.Error(t, err)
}

func TestBuild_DeckBackgroundFallback(t *testing.T) {
	d, records := makeRecords(1)
	d.Background = ""

	b := NewPPTXBuilder(observability.Nop())
	data, err := b.Build(d, records)
	require.NoError(t, err)
	parts := unzip(t, data)

	slide := string(parts["ppt/slides/slide1.xml"])
	assert.Contains(t, slide, fallbackBackground)
}

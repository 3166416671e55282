package imaging

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/cinedeck/cinedeck/internal/domain"
)

// minImageBytes rejects tracking pixels and error stubs before decoding.
const minImageBytes = 1024

// inspect decodes image metadata and computes the content hash that keys the
// per-task dedup set. The full pixel data is never decoded; resolution comes
// from the header.
func inspect(data []byte) (width, height int, hash string, err error) {
	if len(data) < minImageBytes {
		return 0, 0, "", fmt.Errorf("image too small (%d bytes)", len(data))
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", fmt.Errorf("undecodable image: %w", err)
	}
	sum := sha256.Sum256(data)
	return cfg.Width, cfg.Height, hex.EncodeToString(sum[:]), nil
}

// checkResolution enforces the exact resolution contract for a source:
// 1280x720 for web search results, 1280x704 for generated images. Anything
// else is rejected so the chain advances; rate-limit placeholder frames come
// back at other sizes and fail here.
func checkResolution(src domain.ImageSource, width, height int) error {
	if width != domain.ImageWidth || height != domain.ExpectedHeight(src) {
		return fmt.Errorf("resolution %dx%d, expected %dx%d",
			width, height, domain.ImageWidth, domain.ExpectedHeight(src))
	}
	return nil
}

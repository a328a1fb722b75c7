// Package similar finds visually similar images with perceptual hashes.
package similar

import (
	"fmt"
	"math/bits"

	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"

	"medup/internal/dedup"
)

// ImageHasher computes DCT perceptual hashes of decoded images. EXIF
// orientation is applied first so rotated copies hash alike.
type ImageHasher struct {
	fsmgr dedup.FilesystemManager
}

// NewImageHasher creates an ImageHasher reading images through fsmgr.
func NewImageHasher(fsmgr dedup.FilesystemManager) *ImageHasher {
	return &ImageHasher{fsmgr: fsmgr}
}

func (h *ImageHasher) Hash(path *dedup.Path) (uint64, error) {
	r, err := h.fsmgr.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer r.Close()

	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return 0, fmt.Errorf("decoding %s: %w", path, err)
	}
	sig, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, fmt.Errorf("hashing %s: %w", path, err)
	}
	return sig.GetHash(), nil
}

// Distance is the Hamming distance between two signatures.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

var _ dedup.PerceptualHasher = (*ImageHasher)(nil)

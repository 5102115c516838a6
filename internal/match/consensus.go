package match

import (
	"errors"

	"github.com/corona10/goimagehash"

	"imagededup/internal/models"
)

// Distance returns the Hamming distance between two fingerprints of the same
// algorithm. Absent fingerprints and mismatched bit widths have no meaningful
// distance and return an error; neither can happen within one run because
// every valid record carries all three hashes at a fixed width.
func Distance(a, b *goimagehash.ExtImageHash) (int, error) {
	if a == nil || b == nil {
		return 0, errors.New("cannot compare absent fingerprints")
	}
	return a.Distance(b)
}

// Similar reports whether two fingerprints are within the Hamming threshold.
// Absent fingerprints are never similar to anything.
func Similar(a, b *goimagehash.ExtImageHash, threshold int) (bool, error) {
	if a == nil || b == nil {
		return false, nil
	}
	dist, err := a.Distance(b)
	if err != nil {
		return false, err
	}
	return dist <= threshold, nil
}

// ConsensusSimilar evaluates all three hash algorithms independently against
// the shared threshold and reports similarity when at least agreement of them
// concur. No single perceptual hash is robust to every transformation, so
// requiring agreement cuts false positives; agreement=1 trades precision for
// recall. Records that failed to fingerprint never match anything.
func ConsensusSimilar(a, b *models.ImageInfo, threshold, agreement int) (bool, error) {
	if !a.Valid() || !b.Valid() {
		return false, nil
	}

	votes := 0
	pairs := [][2]*goimagehash.ExtImageHash{
		{a.AHash, b.AHash},
		{a.DHash, b.DHash},
		{a.PHash, b.PHash},
	}
	for _, pair := range pairs {
		ok, err := Similar(pair[0], pair[1], threshold)
		if err != nil {
			return false, err
		}
		if ok {
			votes++
		}
	}

	return votes >= agreement, nil
}

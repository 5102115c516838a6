package match

import (
	"fmt"
	"sort"

	"imagededup/internal/models"
)

// Selector picks the image to keep from a non-empty group of similar images.
type Selector interface {
	SelectBest(images []*models.ImageInfo) *models.ImageInfo
}

// Grouper partitions fingerprinted images into duplicate groups using
// consensus similarity.
type Grouper struct {
	threshold int
	agreement int
	selector  Selector
}

// GrouperOption configures a Grouper.
type GrouperOption func(*Grouper)

// WithSelector replaces the default representative selection strategy.
func WithSelector(sel Selector) GrouperOption {
	return func(g *Grouper) {
		if sel != nil {
			g.selector = sel
		}
	}
}

// NewGrouper creates a Grouper. The threshold must be non-negative and
// agreement must be between 1 and 3; the width-dependent threshold ceiling is
// checked by hash.ValidateConfig before any fingerprinting.
func NewGrouper(threshold, agreement int, opts ...GrouperOption) (*Grouper, error) {
	if threshold < 0 {
		return nil, fmt.Errorf("threshold must be non-negative, got %d", threshold)
	}
	if agreement < 1 || agreement > 3 {
		return nil, fmt.Errorf("agreement must be between 1 and 3, got %d", agreement)
	}
	g := &Grouper{
		threshold: threshold,
		agreement: agreement,
		selector:  TupleSelector{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// FindGroups partitions the records into duplicate groups.
//
// Grouping is seed-centered: records are walked in input order, each
// unassigned record seeds a group and claims every later unassigned record
// the seed itself matches. Members are never compared with each other, so the
// result is a star-shaped cluster around the seed rather than a transitive
// closure. Two candidates both near the seed end up grouped even if they are
// far apart, and a candidate just outside the seed's threshold stays out even
// when it is close to another member. This is a known approximation, kept
// deliberately for its O(n²) bound and its stable, order-dependent output.
//
// Records carrying a processing error are excluded up front. Groups are
// returned largest first; ties keep discovery order.
func (g *Grouper) FindGroups(records []*models.ImageInfo) ([]*models.DuplicateGroup, error) {
	valid := make([]*models.ImageInfo, 0, len(records))
	for _, rec := range records {
		if rec.Valid() {
			valid = append(valid, rec)
		}
	}
	if len(valid) < 2 {
		return nil, nil
	}

	assigned := make([]bool, len(valid))
	var groups []*models.DuplicateGroup

	for i, seed := range valid {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		members := []*models.ImageInfo{seed}

		for j := i + 1; j < len(valid); j++ {
			if assigned[j] {
				continue
			}
			ok, err := ConsensusSimilar(seed, valid[j], g.threshold, g.agreement)
			if err != nil {
				return nil, err
			}
			if ok {
				members = append(members, valid[j])
				assigned[j] = true
			}
		}

		if len(members) < 2 {
			continue
		}
		groups = append(groups, g.buildGroup(members))
	}

	// Largest groups first; stable sort keeps discovery order on ties.
	sort.SliceStable(groups, func(i, j int) bool {
		return len(groups[i].Images) > len(groups[j].Images)
	})
	for i, group := range groups {
		group.ID = i + 1
	}

	return groups, nil
}

// buildGroup finalizes a member list into a group with its representative.
func (g *Grouper) buildGroup(members []*models.ImageInfo) *models.DuplicateGroup {
	keep := g.selector.SelectBest(members)

	remove := make([]*models.ImageInfo, 0, len(members)-1)
	for _, img := range members {
		if img != keep {
			remove = append(remove, img)
		}
	}

	return &models.DuplicateGroup{
		Images: members,
		Keep:   keep,
		Remove: remove,
	}
}

// Threshold returns the configured Hamming distance ceiling.
func (g *Grouper) Threshold() int {
	return g.threshold
}

// Agreement returns the configured number of algorithms that must concur.
func (g *Grouper) Agreement() int {
	return g.agreement
}

// TupleSelector is the default representative strategy: the lexicographically
// greatest (format rank, pixel area, file size) tuple wins, and the first
// member wins any remaining tie.
type TupleSelector struct{}

// SelectBest implements Selector.
func (TupleSelector) SelectBest(images []*models.ImageInfo) *models.ImageInfo {
	if len(images) == 0 {
		return nil
	}
	best := images[0]
	for _, img := range images[1:] {
		if outranks(img, best) {
			best = img
		}
	}
	return best
}

// outranks reports whether a beats b on the (format, resolution, size) tuple.
func outranks(a, b *models.ImageInfo) bool {
	ar, br := models.FormatRank(a.Format), models.FormatRank(b.Format)
	if ar != br {
		return ar > br
	}
	if a.PixelArea() != b.PixelArea() {
		return a.PixelArea() > b.PixelArea()
	}
	return a.FileSize > b.FileSize
}

// Stats aggregates reporting numbers over a grouping result.
func Stats(groups []*models.DuplicateGroup) models.GroupStats {
	stats := models.GroupStats{TotalGroups: len(groups)}
	if len(groups) == 0 {
		return stats
	}

	for _, group := range groups {
		size := len(group.Images)
		stats.TotalDuplicates += size
		if size > stats.LargestGroupSize {
			stats.LargestGroupSize = size
		}
		stats.ReclaimableBytes += group.ReclaimableSize()
	}
	stats.AverageGroupSize = float64(stats.TotalDuplicates) / float64(len(groups))

	return stats
}

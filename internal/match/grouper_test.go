package match

import (
	"testing"

	"imagededup/internal/models"
)

// sameBits builds a record whose three fingerprints carry the same pattern,
// so consensus similarity reduces to Hamming distance on that pattern.
func sameBits(path string, bits uint64) *models.ImageInfo {
	return record(path, bits, bits, bits)
}

// bitsOn returns a value with the lowest n bits set.
func bitsOn(n int) uint64 {
	return (uint64(1) << n) - 1
}

func mustGrouper(t *testing.T, threshold, agreement int, opts ...GrouperOption) *Grouper {
	t.Helper()
	g, err := NewGrouper(threshold, agreement, opts...)
	if err != nil {
		t.Fatalf("NewGrouper(%d, %d) failed: %v", threshold, agreement, err)
	}
	return g
}

func TestNewGrouper_Validation(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		agreement int
		wantErr   bool
	}{
		{"defaults", 10, 2, false},
		{"zero threshold", 0, 1, false},
		{"unanimous", 64, 3, false},
		{"negative threshold", -1, 2, true},
		{"agreement too low", 10, 0, true},
		{"agreement too high", 10, 4, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGrouper(tt.threshold, tt.agreement)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewGrouper(%d, %d) error = %v, wantErr %v",
					tt.threshold, tt.agreement, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if g.Threshold() != tt.threshold || g.Agreement() != tt.agreement {
				t.Errorf("got threshold %d, agreement %d; want %d, %d",
					g.Threshold(), g.Agreement(), tt.threshold, tt.agreement)
			}
		})
	}
}

func TestFindGroups_TooFewRecords(t *testing.T) {
	g := mustGrouper(t, 10, 2)

	for _, records := range [][]*models.ImageInfo{
		nil,
		{},
		{sameBits("only.jpg", 0)},
		{sameBits("ok.jpg", 0), {Path: "broken.jpg", Error: "decode failed"}},
	} {
		groups, err := g.FindGroups(records)
		if err != nil {
			t.Fatalf("FindGroups failed: %v", err)
		}
		if groups != nil {
			t.Errorf("expected nil groups for %d records, got %d groups", len(records), len(groups))
		}
	}
}

// The seed claims every candidate within its own threshold; members are never
// compared with each other. B sits 4 bits from A and C sits 8 bits from A, so
// with threshold 6 the group seeded at A is {A, B} and C stays out even
// though C is only 4 bits from B. A transitive closure would merge all three.
func TestFindGroups_SeedCentered(t *testing.T) {
	a := sameBits("a.jpg", 0)
	b := sameBits("b.jpg", bitsOn(4))
	c := sameBits("c.jpg", bitsOn(8))

	groups, err := mustGrouper(t, 6, 3).FindGroups([]*models.ImageInfo{a, b, c})
	if err != nil {
		t.Fatalf("FindGroups failed: %v", err)
	}

	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if len(groups[0].Images) != 2 {
		t.Fatalf("expected group of 2, got %d", len(groups[0].Images))
	}
	if groups[0].Images[0] != a || groups[0].Images[1] != b {
		t.Errorf("group members = %s, %s; want a.jpg, b.jpg",
			groups[0].Images[0].Path, groups[0].Images[1].Path)
	}
}

// The flip side of seed-centered grouping: two candidates both within the
// seed's threshold are grouped together even though they are far from each
// other. A–B and A–C are 4 bits, B–C is 8 bits, threshold 5: all three land
// in one group despite B and C not matching.
func TestFindGroups_SeedClaimsMutuallyDistantMembers(t *testing.T) {
	a := sameBits("a.jpg", 0)
	b := sameBits("b.jpg", 0x0F)
	c := sameBits("c.jpg", 0xF0)

	groups, err := mustGrouper(t, 5, 3).FindGroups([]*models.ImageInfo{a, b, c})
	if err != nil {
		t.Fatalf("FindGroups failed: %v", err)
	}

	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if len(groups[0].Images) != 3 {
		t.Fatalf("expected group of 3, got %d", len(groups[0].Images))
	}
	for i, want := range []*models.ImageInfo{a, b, c} {
		if groups[0].Images[i] != want {
			t.Errorf("group member %d = %s, want %s", i, groups[0].Images[i].Path, want.Path)
		}
	}
}

// A later record already claimed by an earlier seed never seeds its own group.
func TestFindGroups_ClaimedRecordsSkipped(t *testing.T) {
	a := sameBits("a.jpg", 0)
	b := sameBits("b.jpg", bitsOn(2))
	c := sameBits("c.jpg", bitsOn(4))

	// threshold 4: A claims both B and C in one pass.
	groups, err := mustGrouper(t, 4, 3).FindGroups([]*models.ImageInfo{a, b, c})
	if err != nil {
		t.Fatalf("FindGroups failed: %v", err)
	}

	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if len(groups[0].Images) != 3 {
		t.Errorf("expected group of 3, got %d", len(groups[0].Images))
	}
}

func TestFindGroups_Disjoint(t *testing.T) {
	records := []*models.ImageInfo{
		sameBits("a1.jpg", 0),
		sameBits("a2.jpg", 1),
		sameBits("b1.jpg", 0xFFFF000000000000),
		sameBits("b2.jpg", 0xFFFF000000000001),
	}

	groups, err := mustGrouper(t, 4, 3).FindGroups(records)
	if err != nil {
		t.Fatalf("FindGroups failed: %v", err)
	}

	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}

	seen := make(map[string]int)
	for _, group := range groups {
		for _, img := range group.Images {
			seen[img.Path]++
		}
	}
	for path, n := range seen {
		if n != 1 {
			t.Errorf("%s appears in %d groups, want 1", path, n)
		}
	}
}

func TestFindGroups_SortedBySizeDescending(t *testing.T) {
	// First discovered group has 2 members, second has 3.
	records := []*models.ImageInfo{
		sameBits("small1.jpg", 0),
		sameBits("small2.jpg", 1),
		sameBits("big1.jpg", 0xFF00000000000000),
		sameBits("big2.jpg", 0xFF00000000000001),
		sameBits("big3.jpg", 0xFF00000000000002),
	}

	groups, err := mustGrouper(t, 4, 3).FindGroups(records)
	if err != nil {
		t.Fatalf("FindGroups failed: %v", err)
	}

	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if len(groups[0].Images) != 3 || len(groups[1].Images) != 2 {
		t.Errorf("group sizes = %d, %d; want 3, 2", len(groups[0].Images), len(groups[1].Images))
	}
	if groups[0].ID != 1 || groups[1].ID != 2 {
		t.Errorf("group IDs = %d, %d; want 1, 2", groups[0].ID, groups[1].ID)
	}
	if groups[0].Images[0].Path != "big1.jpg" {
		t.Errorf("largest group seed = %s, want big1.jpg", groups[0].Images[0].Path)
	}
}

func TestFindGroups_EqualSizesKeepDiscoveryOrder(t *testing.T) {
	records := []*models.ImageInfo{
		sameBits("first1.jpg", 0),
		sameBits("first2.jpg", 1),
		sameBits("second1.jpg", 0xFF00000000000000),
		sameBits("second2.jpg", 0xFF00000000000001),
	}

	groups, err := mustGrouper(t, 4, 3).FindGroups(records)
	if err != nil {
		t.Fatalf("FindGroups failed: %v", err)
	}

	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].Images[0].Path != "first1.jpg" {
		t.Errorf("first group seed = %s, want first1.jpg", groups[0].Images[0].Path)
	}
	if groups[1].Images[0].Path != "second1.jpg" {
		t.Errorf("second group seed = %s, want second1.jpg", groups[1].Images[0].Path)
	}
}

func TestFindGroups_BrokenRecordsExcluded(t *testing.T) {
	a := sameBits("a.jpg", 0)
	broken := &models.ImageInfo{Path: "broken.jpg", Error: "file not found"}
	b := sameBits("b.jpg", 1)

	groups, err := mustGrouper(t, 4, 3).FindGroups([]*models.ImageInfo{a, broken, b})
	if err != nil {
		t.Fatalf("FindGroups failed: %v", err)
	}

	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	for _, img := range groups[0].Images {
		if img.Path == "broken.jpg" {
			t.Error("broken record must not appear in any group")
		}
	}
}

func TestFindGroups_KeepAndRemovePartition(t *testing.T) {
	low := sameBits("low.jpg", 0)
	low.Format = "JPG"
	low.Width, low.Height = 800, 600
	high := sameBits("high.png", 1)
	high.Format = "PNG"
	high.Width, high.Height = 800, 600

	groups, err := mustGrouper(t, 4, 3).FindGroups([]*models.ImageInfo{low, high})
	if err != nil {
		t.Fatalf("FindGroups failed: %v", err)
	}

	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	group := groups[0]
	if group.Keep != high {
		t.Errorf("Keep = %s, want high.png", group.Keep.Path)
	}
	if len(group.Remove) != 1 || group.Remove[0] != low {
		t.Errorf("Remove should contain exactly low.jpg")
	}
	if len(group.Images) != len(group.Remove)+1 {
		t.Errorf("Images (%d) should be Keep plus Remove (%d)", len(group.Images), len(group.Remove))
	}
}

func TestTupleSelector(t *testing.T) {
	img := func(path, format string, w, h int, size int64) *models.ImageInfo {
		return &models.ImageInfo{Path: path, Format: format, Width: w, Height: h, FileSize: size}
	}

	tests := []struct {
		name   string
		images []*models.ImageInfo
		want   string
	}{
		{
			name: "format rank dominates resolution",
			images: []*models.ImageInfo{
				img("big.jpg", "JPG", 4000, 3000, 100),
				img("small.png", "PNG", 800, 600, 100),
			},
			want: "small.png",
		},
		{
			name: "psd over everything",
			images: []*models.ImageInfo{
				img("a.png", "PNG", 800, 600, 100),
				img("b.psd", "PSD", 100, 100, 1),
				img("c.tiff", "TIFF", 8000, 6000, 100),
			},
			want: "b.psd",
		},
		{
			name: "resolution breaks format tie",
			images: []*models.ImageInfo{
				img("small.jpg", "JPG", 800, 600, 500),
				img("big.jpeg", "JPEG", 1600, 1200, 100),
			},
			want: "big.jpeg",
		},
		{
			name: "file size breaks resolution tie",
			images: []*models.ImageInfo{
				img("light.png", "PNG", 800, 600, 100),
				img("heavy.png", "PNG", 800, 600, 200),
			},
			want: "heavy.png",
		},
		{
			name: "full tie keeps first",
			images: []*models.ImageInfo{
				img("first.png", "PNG", 800, 600, 100),
				img("second.png", "PNG", 800, 600, 100),
			},
			want: "first.png",
		},
		{
			name: "unknown format ranks below gif",
			images: []*models.ImageInfo{
				img("a.xyz", "XYZ", 8000, 6000, 900),
				img("b.gif", "GIF", 100, 100, 1),
			},
			want: "b.gif",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TupleSelector{}.SelectBest(tt.images)
			if got == nil || got.Path != tt.want {
				t.Errorf("SelectBest = %v, want %s", got, tt.want)
			}
		})
	}
}

func TestTupleSelector_Empty(t *testing.T) {
	if got := (TupleSelector{}).SelectBest(nil); got != nil {
		t.Errorf("SelectBest(nil) = %v, want nil", got)
	}
}

func TestStats(t *testing.T) {
	img := func(path string, size int64) *models.ImageInfo {
		return &models.ImageInfo{Path: path, FileSize: size}
	}
	groupOf := func(images ...*models.ImageInfo) *models.DuplicateGroup {
		return &models.DuplicateGroup{Images: images, Keep: images[0], Remove: images[1:]}
	}

	groups := []*models.DuplicateGroup{
		groupOf(img("a1", 100), img("a2", 200), img("a3", 300)),
		groupOf(img("b1", 50), img("b2", 70)),
	}

	stats := Stats(groups)
	if stats.TotalGroups != 2 {
		t.Errorf("TotalGroups = %d, want 2", stats.TotalGroups)
	}
	if stats.TotalDuplicates != 5 {
		t.Errorf("TotalDuplicates = %d, want 5", stats.TotalDuplicates)
	}
	if stats.LargestGroupSize != 3 {
		t.Errorf("LargestGroupSize = %d, want 3", stats.LargestGroupSize)
	}
	if stats.AverageGroupSize != 2.5 {
		t.Errorf("AverageGroupSize = %f, want 2.5", stats.AverageGroupSize)
	}
	if stats.ReclaimableBytes != 200+300+70 {
		t.Errorf("ReclaimableBytes = %d, want %d", stats.ReclaimableBytes, 200+300+70)
	}
}

func TestStats_Empty(t *testing.T) {
	stats := Stats(nil)
	if stats.TotalGroups != 0 || stats.TotalDuplicates != 0 || stats.AverageGroupSize != 0 {
		t.Errorf("empty stats not zeroed: %+v", stats)
	}
}

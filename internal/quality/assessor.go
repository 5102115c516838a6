// Package quality implements a richer image quality score than the default
// (format, resolution, size) tuple: a weighted combination of format,
// resolution, file size, an edge-variance sharpness estimate, and a
// corner-watermark penalty, each on a 0-100 scale. It can be wired in as an
// alternative representative-selection strategy but is not part of the
// default decision path.
package quality

import (
	"image"
	"math"

	"github.com/kovidgoyal/imaging"

	"imagededup/internal/models"
)

// Score is the quality assessment of one image.
type Score struct {
	Path                string  `json:"path"`
	Overall             float64 `json:"overall"`
	Format              float64 `json:"format"`
	Resolution          float64 `json:"resolution"`
	Size                float64 `json:"size"`
	Sharpness           float64 `json:"sharpness"`
	HasWatermark        bool    `json:"has_watermark"`
	WatermarkConfidence float64 `json:"watermark_confidence"`
}

// Component weights of the overall score. The watermark weight is a penalty.
const (
	formatWeight     = 0.30
	resolutionWeight = 0.25
	sizeWeight       = 0.20
	sharpnessWeight  = 0.20
	watermarkWeight  = 0.05
)

// formatScores rates formats for quality scoring. It is deliberately not the
// same table as the retention ranking: TIFF and BMP sit closer to PNG here
// because the scale measures fidelity, not editability.
var formatScores = map[string]float64{
	"PSD":  100,
	"PNG":  90,
	"TIFF": 85,
	"TIF":  85,
	"BMP":  80,
	"WEBP": 70,
	"JPG":  60,
	"JPEG": 60,
	"GIF":  40,
}

// sizeMultipliers adjust the file-size score per format: for heavily
// compressed formats a larger file says more about quality than for formats
// that are large by construction.
var sizeMultipliers = map[string]float64{
	"PSD":  1.0,
	"PNG":  1.2,
	"TIFF": 1.0,
	"TIF":  1.0,
	"BMP":  0.8,
	"WEBP": 1.5,
	"JPG":  2.0,
	"JPEG": 2.0,
	"GIF":  1.0,
}

// Assessor scores images on multiple quality criteria.
type Assessor struct{}

// NewAssessor creates an Assessor.
func NewAssessor() *Assessor {
	return &Assessor{}
}

// Assess scores a single image. Records that failed to fingerprint score
// zero across the board. Sharpness and watermark analysis re-open the file;
// if that fails the sharpness falls back to a neutral 50.
func (a *Assessor) Assess(rec *models.ImageInfo) Score {
	if !rec.Valid() {
		return Score{Path: rec.Path}
	}

	score := Score{
		Path:       rec.Path,
		Format:     formatScore(rec.Format),
		Resolution: resolutionScore(rec.Width, rec.Height),
		Size:       sizeScore(rec.FileSize, rec.Format),
	}

	img, err := imaging.Open(rec.Path)
	if err != nil {
		score.Sharpness = 50.0
	} else {
		score.Sharpness = sharpness(img)
		score.HasWatermark, score.WatermarkConfidence = detectWatermark(img)
	}

	penalty := 0.0
	if score.HasWatermark {
		penalty = score.WatermarkConfidence
	}

	score.Overall = score.Format*formatWeight +
		score.Resolution*resolutionWeight +
		score.Size*sizeWeight +
		score.Sharpness*sharpnessWeight -
		penalty*watermarkWeight*100
	if score.Overall < 0 {
		score.Overall = 0
	}

	return score
}

// SelectBest returns the member with the highest overall quality score,
// first occurrence winning ties. It satisfies match.Selector.
func (a *Assessor) SelectBest(images []*models.ImageInfo) *models.ImageInfo {
	if len(images) == 0 {
		return nil
	}
	if len(images) == 1 {
		return images[0]
	}

	best := images[0]
	bestScore := a.Assess(best).Overall
	for _, img := range images[1:] {
		if s := a.Assess(img).Overall; s > bestScore {
			best = img
			bestScore = s
		}
	}
	return best
}

func formatScore(format string) float64 {
	if s, ok := formatScores[format]; ok {
		return s
	}
	return 30
}

// resolutionScore maps the pixel count to 0-100 on a log10 scale so that very
// large images do not dominate. 100 MP is treated as the ceiling.
func resolutionScore(width, height int) float64 {
	if width <= 0 || height <= 0 {
		return 0
	}
	pixels := float64(width) * float64(height)
	if pixels <= 1 {
		return 0
	}
	score := math.Log10(pixels) / 8.0 * 100
	return math.Min(100, score)
}

// sizeScore maps the byte size to 0-100 on a log10 scale, weighted by the
// per-format multiplier. 100 MB is treated as the ceiling.
func sizeScore(size int64, format string) float64 {
	if size <= 0 {
		return 0
	}
	multiplier, ok := sizeMultipliers[format]
	if !ok {
		multiplier = 1.0
	}
	score := math.Log10(math.Max(1, float64(size))) / 8.0 * 100 * multiplier
	return math.Min(100, score)
}

// sharpness estimates edge detail as the variance of a Laplacian filter over
// a grayscale rendering, normalized so a variance of 1000 scores 100. Large
// images are downsampled to 1000px on the long edge first.
func sharpness(img image.Image) float64 {
	gray := imaging.Grayscale(img)

	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if longest := max(w, h); longest > 1000 {
		if w >= h {
			gray = imaging.Resize(gray, 1000, 0, imaging.Lanczos)
		} else {
			gray = imaging.Resize(gray, 0, 1000, imaging.Lanczos)
		}
		w, h = gray.Bounds().Dx(), gray.Bounds().Dy()
	}
	if w < 3 || h < 3 {
		return 50.0
	}

	lum := luminance(gray)

	laplacian := make([]float64, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			laplacian[y*w+x] = 4*lum[y*w+x] -
				lum[(y-1)*w+x] - lum[(y+1)*w+x] -
				lum[y*w+x-1] - lum[y*w+x+1]
		}
	}

	variance := varianceOf(laplacian)
	return math.Min(100, variance/1000.0*100)
}

// detectWatermark looks for high edge density in the four 10% corner crops,
// a crude signal for overlaid text or logos. Returns whether a watermark is
// suspected and the fraction of corners that triggered.
func detectWatermark(img image.Image) (bool, float64) {
	gray := imaging.Grayscale(img)
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	cw, ch := w/10, h/10
	if cw < 10 || ch < 10 {
		return false, 0 // too small to analyze
	}

	corners := []image.Rectangle{
		image.Rect(0, 0, cw, ch),
		image.Rect(w-cw, 0, w, ch),
		image.Rect(0, h-ch, cw, h),
		image.Rect(w-cw, h-ch, w, h),
	}

	indicators := 0
	for _, rect := range corners {
		crop := imaging.Crop(gray, rect)
		if edgeDensity(crop) > 15 {
			indicators++
		}
	}

	confidence := float64(indicators) / float64(len(corners))
	return confidence > 0.25, confidence
}

// edgeDensity is the mean absolute horizontal and vertical gradient.
func edgeDensity(gray *image.NRGBA) float64 {
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 2 || h < 2 {
		return 0
	}

	lum := luminance(gray)

	var sumX, sumY float64
	for y := 0; y < h; y++ {
		for x := 0; x < w-1; x++ {
			sumX += math.Abs(lum[y*w+x+1] - lum[y*w+x])
		}
	}
	for y := 0; y < h-1; y++ {
		for x := 0; x < w; x++ {
			sumY += math.Abs(lum[(y+1)*w+x] - lum[y*w+x])
		}
	}

	meanX := sumX / float64((w-1)*h)
	meanY := sumY / float64(w*(h-1))
	return (meanX + meanY) / 2
}

// luminance flattens a grayscale NRGBA into one float per pixel. All three
// color channels are equal after imaging.Grayscale, so the red channel is
// enough.
func luminance(gray *image.NRGBA) []float64 {
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	lum := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride:]
		for x := 0; x < w; x++ {
			lum[y*w+x] = float64(row[x*4])
		}
	}
	return lum
}

func varianceOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return sq / float64(len(values))
}

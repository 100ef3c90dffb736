package capture

import "math"

// QualityGate scores frame sharpness before it is queued for
// transmission. Frames below Threshold are dropped at the edge rather
// than spending bandwidth on a frame the pipeline would likely reject
// anyway.
type QualityGate struct {
	Threshold int // 0-255 grayscale value; width/height assumed pre-decoded
}

// NewQualityGate builds a gate from a normalized [0,1] threshold, matching
// config.Capture.QualityThreshold.
func NewQualityGate(normalizedThreshold float64) *QualityGate {
	t := int(normalizedThreshold * 255)
	if t < 0 {
		t = 0
	}
	if t > 255 {
		t = 255
	}
	return &QualityGate{Threshold: t}
}

// Score computes a Sobel-gradient sharpness estimate over a grayscale
// image buffer of the given width/height (one byte per pixel). Higher
// values indicate a sharper (less blurred) frame.
func Score(gray []byte, width, height int) float64 {
	if width < 3 || height < 3 || len(gray) < width*height {
		return 0
	}

	var sum float64
	var count int
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			gx := sobelX(gray, width, x, y)
			gy := sobelY(gray, width, x, y)
			mag := magnitude(gx, gy)
			sum += mag
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func at(gray []byte, width, x, y int) int {
	return int(gray[y*width+x])
}

func sobelX(gray []byte, width, x, y int) int {
	return -at(gray, width, x-1, y-1) + at(gray, width, x+1, y-1) +
		-2*at(gray, width, x-1, y) + 2*at(gray, width, x+1, y) +
		-at(gray, width, x-1, y+1) + at(gray, width, x+1, y+1)
}

func sobelY(gray []byte, width, x, y int) int {
	return -at(gray, width, x-1, y-1) - 2*at(gray, width, x, y-1) - at(gray, width, x+1, y-1) +
		at(gray, width, x-1, y+1) + 2*at(gray, width, x, y+1) + at(gray, width, x+1, y+1)
}

func magnitude(gx, gy int) float64 {
	return math.Sqrt(float64(gx*gx + gy*gy))
}

// Passes reports whether a computed score clears the configured threshold.
func (g *QualityGate) Passes(score float64) bool {
	return score >= float64(g.Threshold)
}

package reproject

import (
	"fmt"
	"math"
	"strings"

	"github.com/couchcryptid/geodata-etl/internal/domain"
)

// Resampling selects how output cells are computed from input cells.
type Resampling int

const (
	Nearest Resampling = iota
	Bilinear
)

func (r Resampling) String() string {
	switch r {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	default:
		return fmt.Sprintf("resampling(%d)", int(r))
	}
}

// ParseResampling accepts "nearest" or "bilinear", case-insensitively.
func ParseResampling(s string) (Resampling, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nearest", "near":
		return Nearest, nil
	case "bilinear":
		return Bilinear, nil
	default:
		return 0, fmt.Errorf("unknown resampling %q", s)
	}
}

// sampler reads one band at fractional cell coordinates.
type sampler func(src *domain.Raster, band []float64, col, row float64) (float64, bool)

func (r Resampling) sampler() sampler {
	if r == Bilinear {
		return sampleBilinear
	}
	return sampleNearest
}

func sampleNearest(src *domain.Raster, band []float64, col, row float64) (float64, bool) {
	c, r := int(math.Floor(col)), int(math.Floor(row))
	if c < 0 || r < 0 || c >= src.Width || r >= src.Height {
		return 0, false
	}
	v := band[r*src.Width+c]
	if src.IsNoData(v) {
		return 0, false
	}
	return v, true
}

// sampleBilinear weights the four surrounding cell centres. Nodata
// neighbours are dropped and the remaining weights renormalized.
func sampleBilinear(src *domain.Raster, band []float64, col, row float64) (float64, bool) {
	if col < 0 || row < 0 || col > float64(src.Width) || row > float64(src.Height) {
		return 0, false
	}

	x, y := col-0.5, row-0.5
	x0, y0 := math.Floor(x), math.Floor(y)
	fx, fy := x-x0, y-y0

	var sum, weights float64
	for _, n := range [4]struct {
		dc, dr int
		w      float64
	}{
		{0, 0, (1 - fx) * (1 - fy)},
		{1, 0, fx * (1 - fy)},
		{0, 1, (1 - fx) * fy},
		{1, 1, fx * fy},
	} {
		if n.w == 0 {
			continue
		}
		c := clamp(int(x0)+n.dc, 0, src.Width-1)
		r := clamp(int(y0)+n.dr, 0, src.Height-1)
		v := band[r*src.Width+c]
		if src.IsNoData(v) {
			continue
		}
		sum += v * n.w
		weights += n.w
	}
	if weights == 0 {
		return 0, false
	}
	return sum / weights, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// fitDataType rounds interpolated values for integer pixel types.
func fitDataType(v float64, dataType string) float64 {
	switch dataType {
	case "Byte", "UInt16", "Int16", "UInt32", "Int32", "Int8", "UInt64", "Int64":
		return math.Round(v)
	default:
		return v
	}
}

// Package discovery tiles a search area into nearby-search points so a
// dense city is not capped by a single query's result limit.
package discovery

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-scraper/internal/source"
)

// DegreesPerKM is an approximate conversion factor for latitude degrees to kilometers.
// At mid-latitudes, 1 degree of latitude is approximately 111 km.
const DegreesPerKM = 1.0 / 111.0

// MaxCells bounds one grid. Every cell costs at least one API call.
const MaxCells = 400

// Grid describes a circular area tiled with square cells.
type Grid struct {
	Lat      float64
	Lng      float64
	RadiusKM float64
	CellKM   float64
}

// DefaultCellKM is used when a grid does not name a cell size.
const DefaultCellKM = 2.0

// Points returns one nearby-search point per cell whose center falls inside
// the grid's radius. Each point's radius covers its whole cell.
func (g Grid) Points() ([]source.Point, error) {
	if g.RadiusKM <= 0 {
		return nil, eris.New("grid: radius_km must be positive")
	}
	if g.Lat < -90 || g.Lat > 90 || g.Lng < -180 || g.Lng > 180 {
		return nil, eris.Errorf("grid: center %f,%f out of range", g.Lat, g.Lng)
	}
	cellKM := g.CellKM
	if cellKM == 0 {
		cellKM = DefaultCellKM
	}
	if cellKM < 0 {
		return nil, eris.New("grid: cell_km must be positive")
	}

	steps := int(math.Ceil(g.RadiusKM / cellKM))
	if side := 2*steps + 1; side*side > MaxCells*2 {
		return nil, eris.Errorf("grid: %.1f km radius at %.1f km cells is too many cells", g.RadiusKM, cellKM)
	}

	latStep := cellKM * DegreesPerKM
	// Longitude degrees shrink toward the poles.
	lngStep := latStep / math.Max(math.Cos(g.Lat*math.Pi/180), 0.01)
	radiusM := int(math.Ceil(cellKM * 1000 / math.Sqrt2))

	var pts []source.Point
	for i := -steps; i <= steps; i++ {
		for j := -steps; j <= steps; j++ {
			dy := float64(i) * cellKM
			dx := float64(j) * cellKM
			if math.Hypot(dx, dy) > g.RadiusKM {
				continue
			}
			pts = append(pts, source.Point{
				Lat:     round6(g.Lat + float64(i)*latStep),
				Lng:     round6(g.Lng + float64(j)*lngStep),
				RadiusM: radiusM,
			})
		}
	}
	if len(pts) > MaxCells {
		return nil, eris.Errorf("grid: %d cells exceeds the limit of %d", len(pts), MaxCells)
	}

	zap.L().Debug("discovery: generated grid",
		zap.Float64("lat", g.Lat),
		zap.Float64("lng", g.Lng),
		zap.Float64("radius_km", g.RadiusKM),
		zap.Float64("cell_km", cellKM),
		zap.Int("points", len(pts)),
	)
	return pts, nil
}

func round6(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}

// Package grid implements the origin-anchored fishnet index math: mapping
// points to integer column/row indices and back to cell bounds, formatting
// stable tile identifiers, and validating that a tile size / resolution pair
// yields pixel counts a COG writer can block-align.
package grid

import (
	"fmt"
	"math"

	"github.com/go-spatial/geom"

	"github.com/watergrid/seine/mathhelp"
)

// Eps is the tolerance for ratios that must land on a whole number.
const Eps = 1e-9

const (
	cogBlockSize      = 512
	cogBlockAlignment = 16
)

// Index addresses one fishnet cell. Indices are unbounded signed integers:
// cells left of or below the origin have negative components.
type Index struct {
	Col int64
	Row int64
}

// Scheme fully determines a tiling scheme: every index, bound and identifier
// is a pure function of these three values. The origin is explicit
// configuration, never an ambient default.
type Scheme struct {
	Origin     geom.Point
	TileSize   float64
	Resolution float64
}

// IndexOf maps a point to the cell containing it. Cells are lower-left
// inclusive and upper-right exclusive: a point exactly on the boundary
// origin_x + k*tileSize belongs to column k, not k-1.
func (s Scheme) IndexOf(pt geom.Point) Index {
	return Index{
		Col: mathhelp.FloorDiv(pt.X(), s.Origin.X(), s.TileSize),
		Row: mathhelp.FloorDiv(pt.Y(), s.Origin.Y(), s.TileSize),
	}
}

// CellExtent is the exact inverse of IndexOf on cell corners:
// IndexOf(CellExtent(i).Min()) == i for any index i.
func (s Scheme) CellExtent(idx Index) geom.Extent {
	xmin := s.Origin.X() + float64(idx.Col)*s.TileSize
	ymin := s.Origin.Y() + float64(idx.Row)*s.TileSize
	return geom.Extent{xmin, ymin, xmin + s.TileSize, ymin + s.TileSize}
}

// ColumnRange returns the inclusive column interval covering [xmin, xmax].
// Both ends use the same lower-left-inclusive rule as IndexOf, so a maximum
// that lands exactly on a cell boundary still includes that last cell.
func (s Scheme) ColumnRange(xmin, xmax float64) (lo, hi int64) {
	return mathhelp.FloorDiv(xmin, s.Origin.X(), s.TileSize),
		mathhelp.FloorDiv(xmax, s.Origin.X(), s.TileSize)
}

// RowRange is ColumnRange for the y axis.
func (s Scheme) RowRange(ymin, ymax float64) (lo, hi int64) {
	return mathhelp.FloorDiv(ymin, s.Origin.Y(), s.TileSize),
		mathhelp.FloorDiv(ymax, s.Origin.Y(), s.TileSize)
}

// TileID formats the stable identifier for a cell:
// T{tileSize}_R{resolution}_C{±col}_R{±row} with the indices sign-prefixed
// and zero-padded to 7 digits, so lexicographic order equals numeric order
// within ±9999999. Larger indices widen predictably.
func (s Scheme) TileID(idx Index) string {
	return fmt.Sprintf("T%d_R%d_C%+08d_R%+08d",
		int64(math.Round(s.TileSize)), int64(math.Round(s.Resolution)), idx.Col, idx.Row)
}

// Pixels returns the validated per-axis pixel count of one tile.
func (s Scheme) Pixels() (int64, error) {
	return PixelCount(s.TileSize, s.Resolution)
}

// Validate checks the scheme before any geometry work is done.
func (s Scheme) Validate() error {
	if s.TileSize <= 0 {
		return fmt.Errorf("tile size must be positive, got %v", s.TileSize)
	}
	if s.Resolution <= 0 {
		return fmt.Errorf("resolution must be positive, got %v", s.Resolution)
	}
	_, err := s.Pixels()
	return err
}

// Rule identifies which pixel-count rule a span/cellsize pair violated.
type Rule int

const (
	RuleWholePixels Rule = iota
	RuleBlockSize
	RuleBlockAlignment
)

// RuleViolation reports a span/cellsize pair that cannot be block-aligned,
// naming the violated rule and the offending values.
type RuleViolation struct {
	Rule     Rule
	Span     float64
	CellSize float64
	Pixels   float64
}

func (e RuleViolation) Error() string {
	switch e.Rule {
	case RuleBlockSize:
		return fmt.Sprintf("pixel count (%d) must be divisible by %d (COG block size); span=%v, cellsize=%v",
			int64(math.Round(e.Pixels)), cogBlockSize, e.Span, e.CellSize)
	case RuleBlockAlignment:
		return fmt.Sprintf("pixel count (%d) must be divisible by %d (COG block alignment); span=%v, cellsize=%v",
			int64(math.Round(e.Pixels)), cogBlockAlignment, e.Span, e.CellSize)
	default:
		return fmt.Sprintf("span (%v) / cellsize (%v) = %v pixels, must be a whole number of pixels",
			e.Span, e.CellSize, e.Pixels)
	}
}

// PixelCount turns a linear span and a cell size into a pixel count that is
// legal for COG internal tiling. Rules are checked in order and the first
// failure wins: the count must be a whole number (within Eps), divisible by
// 512 and divisible by 16. Shared by the scheme pre-flight validation and
// the per-axis alignment check on literal raster bounds.
func PixelCount(span, cellSize float64) (int64, error) {
	pixels := span / cellSize
	if !mathhelp.AlmostInt(pixels, Eps) {
		return 0, RuleViolation{Rule: RuleWholePixels, Span: span, CellSize: cellSize, Pixels: pixels}
	}
	n := int64(math.Round(pixels))
	if n%cogBlockSize != 0 {
		return 0, RuleViolation{Rule: RuleBlockSize, Span: span, CellSize: cellSize, Pixels: pixels}
	}
	if n%cogBlockAlignment != 0 {
		return 0, RuleViolation{Rule: RuleBlockAlignment, Span: span, CellSize: cellSize, Pixels: pixels}
	}
	return n, nil
}

// Package fishnet generates origin-anchored tiling schemes over a boundary.
// It takes care of the logistics around buffering, cell enumeration and
// writing to a Target. Not the index math itself, see package grid.
package fishnet

import (
	"fmt"
	"log"

	"github.com/twpayne/go-geos"

	"github.com/watergrid/seine/boundary"
	"github.com/watergrid/seine/faults"
	"github.com/watergrid/seine/geomhelp"
	"github.com/watergrid/seine/grid"
	"github.com/watergrid/seine/griddef"
)

const quadSegs = 8

// Generator produces the tiles of one scheme over one boundary.
type Generator struct {
	Scheme      grid.Scheme
	Def         griddef.GridDefinition
	BufferMiles float64
	Clip        bool
}

func NewGenerator(scheme grid.Scheme, def griddef.GridDefinition, bufferMiles float64, clip bool) *Generator {
	return &Generator{Scheme: scheme, Def: def, BufferMiles: bufferMiles, Clip: clip}
}

// Run validates the scheme, buffers the boundary and streams every surviving
// tile to the target. It consumes the target: every return path has either
// closed or aborted it.
func (g *Generator) Run(b *boundary.Boundary, target Target) error {
	if err := g.Scheme.Validate(); err != nil {
		target.Abort()
		return fmt.Errorf("%w: %w", faults.ErrConfiguration, err)
	}

	log.Println("=== start tiling ===")
	log.Printf("  boundary: %s", b.Path)
	log.Printf("  boundary features: %d", b.Features)
	log.Printf("  buffer: %v miles, clip: %v", g.BufferMiles, g.Clip)

	buffered, err := g.Buffer(b.Geom)
	if err != nil {
		target.Abort()
		return err
	}
	log.Printf("  buffered boundary: %s", geomhelp.GeosWkt(buffered, 100))

	tiles := g.Tiles(buffered)
	log.Printf("  columns %d through %d, rows %d through %d", tiles.colLo, tiles.colHi, tiles.rowLo, tiles.rowHi)

	var count int
	for tiles.Next() {
		if err = target.WriteTile(tiles.Tile()); err != nil {
			target.Abort()
			return err
		}
		count++
	}
	if err = tiles.Err(); err != nil {
		target.Abort()
		return err
	}
	if count == 0 {
		// unreachable while Buffer requires a nonzero area, still guarded
		target.Abort()
		return faults.Inputf("no tiles intersect the boundary")
	}

	written, err := target.Close()
	if err != nil {
		return err
	}
	log.Printf("  tiles written: %d", written)
	log.Println("=== done tiling ===")
	return nil
}

// Buffer grows the dissolved boundary by the configured distance in scheme units.
// A boundary that vanishes after buffering (a negative distance larger than the
// boundary itself) cannot yield tiles and is reported right away.
func (g *Generator) Buffer(b *geos.Geom) (*geos.Geom, error) {
	buffered := b
	if g.BufferMiles != 0 {
		buffered = b.Buffer(g.BufferMiles*g.Def.MileLength(), quadSegs)
	}
	if buffered.IsEmpty() || buffered.Area() == 0 {
		return nil, faults.Inputf("boundary is empty after applying a buffer of %v miles", g.BufferMiles)
	}
	return buffered, nil
}

// Tiles returns an iterator over the cells of the buffered boundary's
// envelope, in row-major order: rows ascending, columns ascending within a
// row. Cells that do not intersect the boundary are skipped, so gaps between
// disjoint boundary parts yield no tiles.
func (g *Generator) Tiles(buffered *geos.Geom) *Iterator {
	bounds := buffered.Bounds()
	colLo, colHi := g.Scheme.ColumnRange(bounds.MinX, bounds.MaxX)
	rowLo, rowHi := g.Scheme.RowRange(bounds.MinY, bounds.MaxY)
	it := &Iterator{
		scheme:   g.Scheme,
		boundary: buffered,
		clip:     g.Clip,
		colLo:    colLo,
		colHi:    colHi,
		rowLo:    rowLo,
		rowHi:    rowHi,
	}
	if g.Clip {
		miles := g.BufferMiles
		it.bufferMiles = &miles
	}
	it.Reset()
	return it
}

// Iterator yields Tile records one at a time, sql.Rows-style:
//
//	for it.Next() {
//		tile := it.Tile()
//	}
//	if err := it.Err(); err != nil { ...
//
// Memory stays bounded however large the envelope is.
type Iterator struct {
	scheme      grid.Scheme
	boundary    *geos.Geom
	clip        bool
	bufferMiles *float64

	colLo, colHi int64
	rowLo, rowHi int64

	col, row int64
	tile     Tile
	err      error
	done     bool
}

// Next advances to the next surviving tile. It returns false when the
// envelope is exhausted or an error occurred, see Err.
func (it *Iterator) Next() (ok bool) {
	if it.err != nil || it.done {
		return false
	}
	// GEOS reports errors by panicking
	defer func() {
		if r := recover(); r != nil {
			it.err = faults.Inputf("geometry operation failed at column %d, row %d: %v", it.col, it.row, r)
			it.done = true
			ok = false
		}
	}()

	for {
		if it.row > it.rowHi {
			it.done = true
			return false
		}
		idx := grid.Index{Col: it.col, Row: it.row}
		it.advance()
		if tile, keep := it.cell(idx); keep {
			it.tile = tile
			return true
		}
	}
}

// Tile returns the record Next advanced to.
func (it *Iterator) Tile() Tile {
	return it.tile
}

func (it *Iterator) Err() error {
	return it.err
}

// Reset rewinds the iterator to the first cell of the envelope.
func (it *Iterator) Reset() {
	it.col = it.colLo
	it.row = it.rowLo
	it.tile = Tile{}
	it.err = nil
	it.done = false
}

func (it *Iterator) advance() {
	it.col++
	if it.col > it.colHi {
		it.col = it.colLo
		it.row++
	}
}

func (it *Iterator) cell(idx grid.Index) (Tile, bool) {
	extent := it.scheme.CellExtent(idx)
	rect := geomhelp.GeosRectangle(extent)
	defer rect.Destroy()

	if !rect.Intersects(it.boundary) {
		return Tile{}, false
	}

	var wkb []byte
	if it.clip {
		clipped := polygonal(rect.Intersection(it.boundary))
		if clipped == nil || clipped.IsEmpty() || clipped.Area() == 0 {
			// the cell only touches the boundary's edge
			return Tile{}, false
		}
		wkb = clipped.ToWKB()
	} else {
		wkb = rect.ToWKB()
	}

	return Tile{
		ID:          it.scheme.TileID(idx),
		Col:         idx.Col,
		Row:         idx.Row,
		Extent:      extent,
		Geometry:    wkb,
		BufferMiles: it.bufferMiles,
	}, true
}

// polygonal reduces an intersection result to its polygonal parts.
// Intersecting a cell with a boundary it merely touches yields points or
// lines, a cell straddling the boundary's edge can yield a mixed collection.
func polygonal(g *geos.Geom) *geos.Geom {
	switch g.TypeID() {
	case geos.TypeIDPolygon, geos.TypeIDMultiPolygon:
		return g
	case geos.TypeIDGeometryCollection:
		var polys []*geos.Geom
		for i := 0; i < g.NumGeometries(); i++ {
			part := g.Geometry(i)
			switch part.TypeID() {
			case geos.TypeIDPolygon:
				polys = append(polys, part.Clone())
			case geos.TypeIDMultiPolygon:
				for j := 0; j < part.NumGeometries(); j++ {
					polys = append(polys, part.Geometry(j).Clone())
				}
			}
		}
		switch len(polys) {
		case 0:
			return nil
		case 1:
			return polys[0]
		default:
			return geos.NewCollection(geos.TypeIDMultiPolygon, polys)
		}
	default:
		return nil
	}
}

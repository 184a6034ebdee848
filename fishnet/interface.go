package fishnet

import (
	"github.com/go-spatial/geom"
)

// Tile is one cell record of a generated tiling scheme.
type Tile struct {
	ID  string
	Col int64
	Row int64
	// Extent is the full unclipped cell square, also when the geometry is clipped
	Extent geom.Extent
	// Geometry is the cell geometry as WKB, intersected with the boundary in clip mode
	Geometry []byte
	// BufferMiles records the applied buffer distance in clip mode, nil otherwise
	BufferMiles *float64
}

// Target consumes a stream of tiles.
type Target interface {
	WriteTile(Tile) error
	// Close finishes the target and returns the number of tiles written
	Close() (int, error)
	// Abort discards everything written so far
	Abort()
}

package geomhelp

import (
	"github.com/go-spatial/geom"
	"github.com/muesli/reflow/truncate"
	"github.com/twpayne/go-geos"
)

// GeosRectangle builds a GEOS polygon covering the extent.
// The ring runs counterclockwise from the lower-left corner and is closed,
// so equal extents always yield byte-identical WKB.
func GeosRectangle(e geom.Extent) *geos.Geom {
	return geos.NewPolygon([][][]float64{{
		{e.MinX(), e.MinY()},
		{e.MaxX(), e.MinY()},
		{e.MaxX(), e.MaxY()},
		{e.MinX(), e.MaxY()},
		{e.MinX(), e.MinY()},
	}})
}

// CloseRing repeats the first position at the end if the ring is not closed already.
// GEOS requires explicitly closed rings, GeoJSON and shapefile sources usually
// provide them but are not guaranteed to.
func CloseRing(ring [][]float64) [][]float64 {
	if len(ring) == 0 {
		return ring
	}
	first, last := ring[0], ring[len(ring)-1]
	if first[0] == last[0] && first[1] == last[1] {
		return ring
	}
	return append(ring, first)
}

// GeosWkt renders a GEOS geometry as WKT for log and error text.
func GeosWkt(g *geos.Geom, maxLen uint) string {
	return truncateWithTail(g.ToWKT(), maxLen)
}

func truncateWithTail(s string, width uint) string {
	if width == 0 {
		return s
	}
	return truncate.StringWithTail(s, width, "...")
}

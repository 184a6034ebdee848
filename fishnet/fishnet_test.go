package fishnet

import (
	"errors"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geos"

	"github.com/watergrid/seine/boundary"
	"github.com/watergrid/seine/faults"
	"github.com/watergrid/seine/geomhelp"
	"github.com/watergrid/seine/grid"
	"github.com/watergrid/seine/griddef"
)

type fakeTarget struct {
	tiles       []Tile
	closed      bool
	aborted     bool
	failOnWrite bool
}

func (f *fakeTarget) WriteTile(tile Tile) error {
	if f.failOnWrite {
		return errors.New("disk full")
	}
	f.tiles = append(f.tiles, tile)
	return nil
}

func (f *fakeTarget) Close() (int, error) {
	f.closed = true
	return len(f.tiles), nil
}

func (f *fakeTarget) Abort() {
	f.aborted = true
}

func (f *fakeTarget) ids() []string {
	ids := make([]string, len(f.tiles))
	for i, tile := range f.tiles {
		ids[i] = tile.ID
	}
	return ids
}

// 2048 ft tiles at 4 ft resolution: 512 px, passes all alignment rules
func testScheme() grid.Scheme {
	return grid.Scheme{Origin: geom.Point{0, 0}, TileSize: 2048, Resolution: 4}
}

func testDef() griddef.GridDefinition {
	return griddef.GridDefinition{ID: "test", Unit: griddef.UnitFoot}
}

func rectBoundary(ext geom.Extent) *boundary.Boundary {
	return &boundary.Boundary{Geom: geomhelp.GeosRectangle(ext), Features: 1, Path: "test"}
}

func TestRunEmitsRowMajorOrder(t *testing.T) {
	gen := NewGenerator(testScheme(), testDef(), 0, false)
	target := &fakeTarget{}

	err := gen.Run(rectBoundary(geom.Extent{100, 100, 3000, 3000}), target)
	require.NoError(t, err)
	assert.True(t, target.closed)
	assert.False(t, target.aborted)

	// rows ascending, columns ascending within a row
	assert.Equal(t, []string{
		"T2048_R4_C+0000000_R+0000000",
		"T2048_R4_C+0000001_R+0000000",
		"T2048_R4_C+0000000_R+0000001",
		"T2048_R4_C+0000001_R+0000001",
	}, target.ids())

	second := target.tiles[1]
	assert.Equal(t, int64(1), second.Col)
	assert.Equal(t, int64(0), second.Row)
	assert.Equal(t, geom.Extent{2048, 0, 4096, 2048}, second.Extent)
	assert.Nil(t, second.BufferMiles)
}

func TestRunNonClipKeepsFullSquares(t *testing.T) {
	gen := NewGenerator(testScheme(), testDef(), 0, false)
	target := &fakeTarget{}

	require.NoError(t, gen.Run(rectBoundary(geom.Extent{100, 100, 3000, 3000}), target))

	for _, tile := range target.tiles {
		g, err := geos.NewGeomFromWKB(tile.Geometry)
		require.NoError(t, err)
		assert.Equal(t, 2048.0*2048.0, g.Area())
	}
}

func TestRunClipGeometriesPartitionTheBoundary(t *testing.T) {
	gen := NewGenerator(testScheme(), testDef(), 0, true)
	target := &fakeTarget{}

	b := rectBoundary(geom.Extent{100, 100, 3000, 3000})
	require.NoError(t, gen.Run(b, target))
	require.Len(t, target.tiles, 4)

	var sum float64
	for _, tile := range target.tiles {
		g, err := geos.NewGeomFromWKB(tile.Geometry)
		require.NoError(t, err)
		assert.Positive(t, g.Area())
		sum += g.Area()

		// bounds stay the full cell even though the geometry is clipped
		assert.Equal(t, 2048.0, tile.Extent.XSpan())
		assert.Equal(t, 2048.0, tile.Extent.YSpan())
	}
	assert.InDelta(t, 2900.0*2900.0, sum, 1e-6)

	miles := 0.0
	assert.Equal(t, &miles, target.tiles[0].BufferMiles)
}

func TestRunSkipsGapsBetweenDisjointParts(t *testing.T) {
	left := geomhelp.GeosRectangle(geom.Extent{0, 0, 2000, 2000})
	right := geomhelp.GeosRectangle(geom.Extent{8192, 0, 10000, 2000})
	b := &boundary.Boundary{
		Geom:     geos.NewCollection(geos.TypeIDMultiPolygon, []*geos.Geom{left, right}),
		Features: 2,
		Path:     "test",
	}

	gen := NewGenerator(testScheme(), testDef(), 0, false)
	target := &fakeTarget{}
	require.NoError(t, gen.Run(b, target))

	// columns 1 through 3 lie in the gap and yield no tiles
	assert.Equal(t, []string{
		"T2048_R4_C+0000000_R+0000000",
		"T2048_R4_C+0000004_R+0000000",
	}, target.ids())
}

func TestRunIncludesCellWhenEnvelopeMaxOnCellBoundary(t *testing.T) {
	// envelope max 4096 lands exactly on the boundary of column/row 2
	b := rectBoundary(geom.Extent{0, 0, 4096, 4096})

	nonClip := &fakeTarget{}
	require.NoError(t, NewGenerator(testScheme(), testDef(), 0, false).Run(b, nonClip))
	assert.Len(t, nonClip.tiles, 9)

	// in clip mode the edge-touching cells produce zero-area intersections
	clip := &fakeTarget{}
	require.NoError(t, NewGenerator(testScheme(), testDef(), 0, true).Run(b, clip))
	assert.Len(t, clip.tiles, 4)
	for _, id := range clip.ids() {
		assert.NotContains(t, id, "C+0000002")
		assert.NotContains(t, id, "R+0000002")
	}
}

func TestRunCoversWholeBufferedBoundary(t *testing.T) {
	lshape := geos.NewPolygon([][][]float64{{
		{0, 0}, {5000, 0}, {5000, 1000}, {1000, 1000}, {1000, 5000}, {0, 5000}, {0, 0},
	}})
	b := &boundary.Boundary{Geom: lshape, Features: 1, Path: "test"}

	gen := NewGenerator(testScheme(), testDef(), 0, false)
	target := &fakeTarget{}
	require.NoError(t, gen.Run(b, target))
	require.Len(t, target.tiles, 5)

	union := geos.NewCollection(geos.TypeIDGeometryCollection, decodeAll(t, target.tiles)).UnaryUnion()
	assert.InDelta(t, 0, lshape.Difference(union).Area(), 1e-9)
}

func decodeAll(t *testing.T, tiles []Tile) []*geos.Geom {
	t.Helper()
	geoms := make([]*geos.Geom, len(tiles))
	for i, tile := range tiles {
		g, err := geos.NewGeomFromWKB(tile.Geometry)
		require.NoError(t, err)
		geoms[i] = g
	}
	return geoms
}

func TestRunRecordsBufferMilesOnlyWhenClipping(t *testing.T) {
	b := rectBoundary(geom.Extent{100, 100, 2000, 2000})

	clip := &fakeTarget{}
	require.NoError(t, NewGenerator(testScheme(), testDef(), 0.01, true).Run(b, clip))
	require.NotEmpty(t, clip.tiles)
	for _, tile := range clip.tiles {
		require.NotNil(t, tile.BufferMiles)
		assert.Equal(t, 0.01, *tile.BufferMiles)
	}

	b = rectBoundary(geom.Extent{100, 100, 2000, 2000})
	nonClip := &fakeTarget{}
	require.NoError(t, NewGenerator(testScheme(), testDef(), 0.01, false).Run(b, nonClip))
	require.NotEmpty(t, nonClip.tiles)
	for _, tile := range nonClip.tiles {
		assert.Nil(t, tile.BufferMiles)
	}
}

func TestRunBufferGrowsCoverage(t *testing.T) {
	// 0.01 miles is 52.8 ft, pushing the envelope below the origin
	b := rectBoundary(geom.Extent{10, 10, 1900, 1900})
	gen := NewGenerator(testScheme(), testDef(), 0.01, false)
	target := &fakeTarget{}
	require.NoError(t, gen.Run(b, target))

	assert.Equal(t, []string{
		"T2048_R4_C-0000001_R-0000001",
		"T2048_R4_C+0000000_R-0000001",
		"T2048_R4_C-0000001_R+0000000",
		"T2048_R4_C+0000000_R+0000000",
	}, target.ids())
}

func TestRunFailsWhenBufferEmptiesBoundary(t *testing.T) {
	// eroding a 1000 ft square by a mile leaves nothing
	b := rectBoundary(geom.Extent{0, 0, 1000, 1000})
	gen := NewGenerator(testScheme(), testDef(), -1, false)
	target := &fakeTarget{}

	err := gen.Run(b, target)
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrInput)
	assert.ErrorContains(t, err, "empty after applying a buffer")
	assert.True(t, target.aborted)
	assert.False(t, target.closed)
	assert.Empty(t, target.tiles)
}

func TestRunFailsOnInvalidSchemeBeforeWriting(t *testing.T) {
	scheme := grid.Scheme{Origin: geom.Point{0, 0}, TileSize: 2048, Resolution: 3}
	gen := NewGenerator(scheme, testDef(), 0, false)
	target := &fakeTarget{}

	err := gen.Run(rectBoundary(geom.Extent{0, 0, 1000, 1000}), target)
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrConfiguration)
	assert.True(t, target.aborted)
	assert.Empty(t, target.tiles)
}

func TestRunPropagatesWriteErrors(t *testing.T) {
	gen := NewGenerator(testScheme(), testDef(), 0, false)
	target := &fakeTarget{failOnWrite: true}

	err := gen.Run(rectBoundary(geom.Extent{0, 0, 1000, 1000}), target)
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")
	assert.True(t, target.aborted)
	assert.False(t, target.closed)
}

func TestRunIsDeterministic(t *testing.T) {
	b := rectBoundary(geom.Extent{100, 100, 3000, 3000})
	gen := NewGenerator(testScheme(), testDef(), 0, true)

	first := &fakeTarget{}
	require.NoError(t, gen.Run(b, first))
	second := &fakeTarget{}
	require.NoError(t, gen.Run(b, second))

	assert.Equal(t, first.tiles, second.tiles)
}

func TestIteratorReset(t *testing.T) {
	gen := NewGenerator(testScheme(), testDef(), 0, false)
	buffered, err := gen.Buffer(geomhelp.GeosRectangle(geom.Extent{0, 0, 3000, 3000}))
	require.NoError(t, err)

	it := gen.Tiles(buffered)
	var firstPass []string
	for it.Next() {
		firstPass = append(firstPass, it.Tile().ID)
	}
	require.NoError(t, it.Err())
	require.Len(t, firstPass, 4)

	// exhausted until rewound
	assert.False(t, it.Next())
	it.Reset()
	var secondPass []string
	for it.Next() {
		secondPass = append(secondPass, it.Tile().ID)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, firstPass, secondPass)
}

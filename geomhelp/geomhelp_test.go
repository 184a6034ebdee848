package geomhelp

import (
	"strings"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeosRectangle(t *testing.T) {
	g := GeosRectangle(geom.Extent{0, 0, 2048, 1024})
	defer g.Destroy()
	assert.False(t, g.IsEmpty())
	assert.Equal(t, 2048.0*1024.0, g.Area())

	// equal extents yield byte-identical WKB
	same := GeosRectangle(geom.Extent{0, 0, 2048, 1024})
	defer same.Destroy()
	assert.Equal(t, g.ToWKB(), same.ToWKB())
}

func TestCloseRing(t *testing.T) {
	open := [][]float64{{0, 0}, {1, 0}, {1, 1}}
	closed := CloseRing(open)
	require.Len(t, closed, 4)
	assert.Equal(t, closed[0], closed[3])

	already := [][]float64{{0, 0}, {1, 0}, {1, 1}, {0, 0}}
	assert.Len(t, CloseRing(already), 4)

	assert.Empty(t, CloseRing(nil))
}

func TestGeosWkt(t *testing.T) {
	g := GeosRectangle(geom.Extent{0, 0, 1, 1})
	defer g.Destroy()
	assert.Contains(t, GeosWkt(g, 0), "POLYGON")
	truncated := GeosWkt(g, 12)
	assert.Len(t, truncated, 12)
	assert.True(t, strings.HasSuffix(truncated, "..."))
}

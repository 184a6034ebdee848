// Package geoparquet writes tiling schemes to GeoParquet datasets.
//
// The dataset is written to a temporary file next to the destination and
// renamed onto it only after a fully successful run, so a crashed or
// aborted run never leaves a half-written file behind.
package geoparquet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/watergrid/seine/faults"
	"github.com/watergrid/seine/fishnet"
	"github.com/watergrid/seine/grid"
	"github.com/watergrid/seine/griddef"
	"github.com/watergrid/seine/mapslicehelp"
	"github.com/watergrid/seine/mathhelp"
)

const DefaultPagesize = 1000

var compressions = orderedmap.New[string, compress.Codec]()

func init() {
	compressions.Set(`zstd`, &parquet.Zstd)
	compressions.Set(`snappy`, &parquet.Snappy)
	compressions.Set(`gzip`, &parquet.Gzip)
	compressions.Set(`none`, &parquet.Uncompressed)
}

// ParseCompression resolves a compression name to its parquet codec.
func ParseCompression(name string) (compress.Codec, error) {
	codec, ok := compressions.Get(name)
	if !ok {
		return nil, faults.Configurationf(`unknown compression %q, valid compressions are: %s`,
			name, strings.Join(CompressionNames(), ", "))
	}
	return codec, nil
}

// CompressionNames lists the valid compression names.
func CompressionNames() []string {
	return mapslicehelp.OrderedMapKeys(compressions)
}

// tileRow is one record in the output dataset. Field order is column order.
type tileRow struct {
	TileID       string   `parquet:"tile_id"`
	TileSizeFt   float64  `parquet:"tile_size_ft"`
	ResolutionFt float64  `parquet:"resolution_ft"`
	OriginX      float64  `parquet:"origin_x"`
	OriginY      float64  `parquet:"origin_y"`
	Col          int64    `parquet:"col"`
	Row          int64    `parquet:"row"`
	XMin         float64  `parquet:"xmin"`
	YMin         float64  `parquet:"ymin"`
	XMax         float64  `parquet:"xmax"`
	YMax         float64  `parquet:"ymax"`
	Width        float64  `parquet:"width"`
	Height       float64  `parquet:"height"`
	Geometry     []byte   `parquet:"geometry"`
	BufferMiles  *float64 `parquet:"buffer_miles,optional"`
}

// Target implements fishnet.Target for a GeoParquet file. Rows are buffered
// and written one page per row group.
type Target struct {
	path     string
	tmp      *os.File
	writer   *parquet.GenericWriter[tileRow]
	scheme   grid.Scheme
	pixels   int64
	pagesize int
	page     []tileRow
	written  int
}

// NewTarget creates the temporary file and the parquet writer for it.
// An existing file at path is a configuration error unless overwrite is set.
func NewTarget(path string, scheme grid.Scheme, def griddef.GridDefinition, codec compress.Codec, pagesize int, overwrite bool) (*Target, error) {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return nil, faults.Configurationf(`%s already exists, use the overwrite option to replace it`, path)
		}
	}
	pixels, err := scheme.Pixels()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", faults.ErrConfiguration, err)
	}
	geo, err := geoMetadata(def)
	if err != nil {
		return nil, err
	}
	if pagesize <= 0 {
		pagesize = DefaultPagesize
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("could not create temporary file for %s: %w", path, err)
	}
	writer := parquet.NewGenericWriter[tileRow](tmp,
		parquet.Compression(codec),
		parquet.KeyValueMetadata("geo", geo),
	)
	return &Target{
		path:     path,
		tmp:      tmp,
		writer:   writer,
		scheme:   scheme,
		pixels:   pixels,
		pagesize: pagesize,
	}, nil
}

// geoMetadata renders the "geo" file metadata value per GeoParquet 1.0.0,
// https://geoparquet.org/releases/v1.0.0/.
func geoMetadata(def griddef.GridDefinition) (string, error) {
	meta := map[string]interface{}{
		"version":        "1.0.0",
		"primary_column": "geometry",
		"columns": map[string]interface{}{
			"geometry": map[string]interface{}{
				"encoding":       "WKB",
				"geometry_types": []string{"Polygon", "MultiPolygon"},
				"crs":            def.CRS.PROJJSON,
			},
		},
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("could not render geo metadata: %w", err)
	}
	return string(b), nil
}

// WriteTile buffers one tile, re-checking that its extent still matches the
// pixel count the scheme was validated for.
func (t *Target) WriteTile(tile fishnet.Tile) error {
	widthPx := tile.Extent.XSpan() / t.scheme.Resolution
	if !mathhelp.AlmostEqual(widthPx, float64(t.pixels), grid.Eps) {
		return faults.Consistencyf(`tile %s is %v pixels wide, the scheme requires %d`, tile.ID, widthPx, t.pixels)
	}
	heightPx := tile.Extent.YSpan() / t.scheme.Resolution
	if !mathhelp.AlmostEqual(heightPx, float64(t.pixels), grid.Eps) {
		return faults.Consistencyf(`tile %s is %v pixels high, the scheme requires %d`, tile.ID, heightPx, t.pixels)
	}
	t.page = append(t.page, tileRow{
		TileID:       tile.ID,
		TileSizeFt:   t.scheme.TileSize,
		ResolutionFt: t.scheme.Resolution,
		OriginX:      t.scheme.Origin.X(),
		OriginY:      t.scheme.Origin.Y(),
		Col:          tile.Col,
		Row:          tile.Row,
		XMin:         tile.Extent.MinX(),
		YMin:         tile.Extent.MinY(),
		XMax:         tile.Extent.MaxX(),
		YMax:         tile.Extent.MaxY(),
		Width:        tile.Extent.XSpan(),
		Height:       tile.Extent.YSpan(),
		Geometry:     tile.Geometry,
		BufferMiles:  tile.BufferMiles,
	})
	if len(t.page)%t.pagesize == 0 {
		return t.flushPage()
	}
	return nil
}

// flushPage writes the buffered rows as one row group.
func (t *Target) flushPage() error {
	if len(t.page) == 0 {
		return nil
	}
	if _, err := t.writer.Write(t.page); err != nil {
		return fmt.Errorf("could not write to %s: %w", t.tmp.Name(), err)
	}
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("could not flush row group to %s: %w", t.tmp.Name(), err)
	}
	t.written += len(t.page)
	t.page = t.page[:0]
	return nil
}

// Close flushes the remaining rows and moves the temporary file onto the
// destination. It returns the number of tiles written.
func (t *Target) Close() (int, error) {
	if err := t.flushPage(); err != nil {
		return t.written, err
	}
	if err := t.writer.Close(); err != nil {
		return t.written, fmt.Errorf("could not finish %s: %w", t.tmp.Name(), err)
	}
	if err := t.tmp.Close(); err != nil {
		return t.written, err
	}
	if err := os.Rename(t.tmp.Name(), t.path); err != nil {
		return t.written, fmt.Errorf("could not move %s into place: %w", t.tmp.Name(), err)
	}
	return t.written, nil
}

// Abort discards the temporary file. An existing file at the destination is
// left untouched.
func (t *Target) Abort() {
	t.writer.Close()
	t.tmp.Close()
	os.Remove(t.tmp.Name())
}

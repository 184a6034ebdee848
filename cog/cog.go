// Package cog checks tile bounds against the alignment contract of cloud
// optimized GeoTIFFs and writes deterministic test rasters to confirm the
// contract end to end.
package cog

import (
	"fmt"
	"log"
	"math"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/go-spatial/geom"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/watergrid/seine/faults"
	"github.com/watergrid/seine/grid"
	"github.com/watergrid/seine/griddef"
	"github.com/watergrid/seine/mapslicehelp"
	"github.com/watergrid/seine/mathhelp"
)

const (
	DefaultBands     = 1
	DefaultBlockSize = 512
	DefaultPredictor = 3
)

// Compression is a GDAL COMPRESS creation option value.
type Compression string

const DefaultCompression = Compression(`DEFLATE`)

var compressions = orderedmap.New[string, Compression]()

func init() {
	compressions.Set(`DEFLATE`, `DEFLATE`)
	compressions.Set(`LZW`, `LZW`)
	compressions.Set(`ZSTD`, `ZSTD`)
}

// ParseCompression resolves a compression name to its creation option value.
func ParseCompression(name string) (Compression, error) {
	c, ok := compressions.Get(name)
	if !ok {
		return "", faults.Configurationf(`unknown compression %q, valid compressions are: %s`,
			name, strings.Join(CompressionNames(), ", "))
	}
	return c, nil
}

// CompressionNames lists the valid compression names.
func CompressionNames() []string {
	return mapslicehelp.OrderedMapKeys(compressions)
}

// Alignment is the per-axis pixel count of bounds that passed all rules.
type Alignment struct {
	Width  int64
	Height int64
}

// CheckAlignment applies the pixel count rules independently per axis.
// Width and height may differ, each has to pass on its own.
func CheckAlignment(ext geom.Extent, cellSize float64) (Alignment, error) {
	if cellSize <= 0 {
		return Alignment{}, fmt.Errorf("cellsize must be positive, got %v", cellSize)
	}
	if ext.XSpan() <= 0 || ext.YSpan() <= 0 {
		return Alignment{}, fmt.Errorf("bounds are inverted or empty: (%v %v, %v %v)",
			ext.MinX(), ext.MinY(), ext.MaxX(), ext.MaxY())
	}
	width, err := grid.PixelCount(ext.XSpan(), cellSize)
	if err != nil {
		return Alignment{}, fmt.Errorf("raster width: %w", err)
	}
	height, err := grid.PixelCount(ext.YSpan(), cellSize)
	if err != nil {
		return Alignment{}, fmt.Errorf("raster height: %w", err)
	}
	return Alignment{Width: width, Height: height}, nil
}

// OriginAligned reports whether the left and top edges fall on the pixel
// lattice anchored at (0,0). Misalignment is worth a warning, not an error.
func OriginAligned(ext geom.Extent, cellSize float64) bool {
	return mathhelp.AlmostInt(ext.MinX()/cellSize, grid.Eps) &&
		mathhelp.AlmostInt(ext.MaxY()/cellSize, grid.Eps)
}

// RasterSpec describes a test raster. The zero value of Bands, BlockSize and
// Compression means the default; a Predictor of 0 writes none.
type RasterSpec struct {
	Extent      geom.Extent
	CellSize    float64
	Bands       int
	BlockSize   int
	Compression Compression
	Predictor   int
	Overviews   bool
}

func (s RasterSpec) withDefaults() RasterSpec {
	if s.Bands == 0 {
		s.Bands = DefaultBands
	}
	if s.BlockSize == 0 {
		s.BlockSize = DefaultBlockSize
	}
	if s.Compression == "" {
		s.Compression = DefaultCompression
	}
	return s
}

// BuildTestData renders the gradient for one band, row-major. The value is a
// pure function of pixel row, column and band, so identical inputs always
// produce identical rasters.
func BuildTestData(width, height, band int) []float32 {
	data := make([]float32, width*height)
	for r := 0; r < height; r++ {
		base := float64(r)*0.1 + math.Sin(float64(r)/25.0)*0.5 + float64(band)
		for c := 0; c < width; c++ {
			data[r*width+c] = float32(base + float64(c)*0.01)
		}
	}
	return data
}

var registerDrivers sync.Once

// WriteTestRaster writes a float32 GeoTIFF exactly covering spec.Extent and
// reads it back to confirm GDAL stored what was asked for.
func WriteTestRaster(path string, spec RasterSpec, def griddef.GridDefinition) error {
	spec = spec.withDefaults()
	alignment, err := CheckAlignment(spec.Extent, spec.CellSize)
	if err != nil {
		return fmt.Errorf("%w: %w", faults.ErrConfiguration, err)
	}
	if _, err := ParseCompression(string(spec.Compression)); err != nil {
		return err
	}
	if !mathhelp.BetweenInc(spec.Predictor, 0, 3) {
		return faults.Configurationf(`predictor must be between 0 and 3, got %d`, spec.Predictor)
	}
	if spec.Bands < 1 {
		return faults.Configurationf(`band count must be positive, got %d`, spec.Bands)
	}

	log.Println("=== start test raster ===")
	log.Printf("  bounds: (%v %v, %v %v)", spec.Extent.MinX(), spec.Extent.MinY(), spec.Extent.MaxX(), spec.Extent.MaxY())
	log.Printf("  raster: %d x %d px of %v, %d band(s), %d px blocks, compression %s",
		alignment.Width, alignment.Height, spec.CellSize, spec.Bands, spec.BlockSize, spec.Compression)
	if !OriginAligned(spec.Extent, spec.CellSize) {
		log.Printf("  warning: bounds are not on the pixel lattice anchored at (0,0)")
	}

	registerDrivers.Do(godal.RegisterInternalDrivers)

	options := []string{
		"TILED=YES",
		fmt.Sprintf("BLOCKXSIZE=%d", spec.BlockSize),
		fmt.Sprintf("BLOCKYSIZE=%d", spec.BlockSize),
		fmt.Sprintf("COMPRESS=%s", spec.Compression),
	}
	if spec.Predictor > 0 {
		options = append(options, fmt.Sprintf("PREDICTOR=%d", spec.Predictor))
	}
	width := int(alignment.Width)
	height := int(alignment.Height)
	ds, err := godal.Create(godal.GTiff, path, spec.Bands, godal.Float32, width, height,
		godal.CreationOption(options...))
	if err != nil {
		return fmt.Errorf("could not create %s: %w", path, err)
	}
	// north-up, anchored at the top left corner
	err = ds.SetGeoTransform([6]float64{spec.Extent.MinX(), spec.CellSize, 0, spec.Extent.MaxY(), 0, -spec.CellSize})
	if err != nil {
		ds.Close()
		return err
	}
	sr, err := godal.NewSpatialRefFromWKT(def.CRS.WKT)
	if err != nil {
		ds.Close()
		return err
	}
	err = ds.SetSpatialRef(sr)
	sr.Close()
	if err != nil {
		ds.Close()
		return err
	}
	for i, band := range ds.Bands() {
		if err := band.Write(0, 0, BuildTestData(width, height, i), width, height); err != nil {
			ds.Close()
			return fmt.Errorf("could not write band %d: %w", i+1, err)
		}
	}
	if spec.Overviews {
		if err := ds.BuildOverviews(godal.Levels(2, 4, 8, 16), godal.Resampling(godal.Average)); err != nil {
			ds.Close()
			return fmt.Errorf("could not build overviews: %w", err)
		}
	}
	if err := ds.Close(); err != nil {
		return fmt.Errorf("could not finish %s: %w", path, err)
	}

	if err := verifyRaster(path, spec, alignment); err != nil {
		return err
	}
	log.Println("=== done test raster ===")
	return nil
}

// verifyRaster reopens the file and compares what GDAL stored against what
// was asked for.
func verifyRaster(path string, spec RasterSpec, alignment Alignment) error {
	ds, err := godal.Open(path)
	if err != nil {
		return fmt.Errorf("could not reopen %s: %w", path, err)
	}
	defer ds.Close()

	structure := ds.Structure()
	if int64(structure.SizeX) != alignment.Width || int64(structure.SizeY) != alignment.Height {
		return faults.Consistencyf(`%s is %d x %d px, expected %d x %d`,
			path, structure.SizeX, structure.SizeY, alignment.Width, alignment.Height)
	}
	if structure.NBands != spec.Bands {
		return faults.Consistencyf(`%s has %d bands, expected %d`, path, structure.NBands, spec.Bands)
	}
	if structure.BlockSizeX != spec.BlockSize || structure.BlockSizeY != spec.BlockSize {
		return faults.Consistencyf(`%s has %d x %d px blocks, expected %d`,
			path, structure.BlockSizeX, structure.BlockSizeY, spec.BlockSize)
	}
	gt, err := ds.GeoTransform()
	if err != nil {
		return fmt.Errorf("could not read the geotransform of %s: %w", path, err)
	}
	if !mathhelp.AlmostEqual(gt[1], spec.CellSize, grid.Eps) || !mathhelp.AlmostEqual(-gt[5], spec.CellSize, grid.Eps) {
		return faults.Consistencyf(`%s has a pixel size of %v x %v, expected %v`, path, gt[1], -gt[5], spec.CellSize)
	}
	left := gt[0]
	top := gt[3]
	right := left + float64(structure.SizeX)*gt[1]
	bottom := top + float64(structure.SizeY)*gt[5]
	if !mathhelp.AlmostEqual(left, spec.Extent.MinX(), grid.Eps) ||
		!mathhelp.AlmostEqual(bottom, spec.Extent.MinY(), grid.Eps) ||
		!mathhelp.AlmostEqual(right, spec.Extent.MaxX(), grid.Eps) ||
		!mathhelp.AlmostEqual(top, spec.Extent.MaxY(), grid.Eps) {
		return faults.Consistencyf(`%s covers (%v %v, %v %v), expected (%v %v, %v %v)`,
			path, left, bottom, right, top,
			spec.Extent.MinX(), spec.Extent.MinY(), spec.Extent.MaxX(), spec.Extent.MaxY())
	}
	log.Printf("  read-back bounds match: (%v %v, %v %v)", left, bottom, right, top)
	return nil
}

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/carlmjohnson/versioninfo"
	"github.com/go-spatial/geom"
	"github.com/iancoleman/strcase"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/watergrid/seine/boundary"
	"github.com/watergrid/seine/cog"
	"github.com/watergrid/seine/faults"
	"github.com/watergrid/seine/fishnet"
	"github.com/watergrid/seine/geoparquet"
	"github.com/watergrid/seine/grid"
	"github.com/watergrid/seine/griddef"
)

const BOUNDARY string = `boundary`
const LAYER string = `layer`
const GRIDDEF string = `griddefinition`
const TILESIZE string = `tileSize`
const RESOLUTION string = `resolution`
const ORIGINX string = `originX`
const ORIGINY string = `originY`
const BUFFERMILES string = `bufferMiles`
const CLIP string = `clip`
const TARGET string = `targetParquet`
const COMPRESSION string = `compression`
const PAGESIZE string = `pagesize`
const OVERWRITE string = `overwrite`

const XMIN string = `xmin`
const YMIN string = `ymin`
const XMAX string = `xmax`
const YMAX string = `ymax`
const CELLSIZE string = `cellsize`
const TARGETTIF string = `targetTif`
const BLOCKSIZE string = `blocksize`
const COGCOMPRESSION string = `compress`
const PREDICTOR string = `predictor`
const BANDS string = `bands`
const OVERVIEWS string = `overviews`

//nolint:funlen
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	app := cli.NewApp()
	app.Name = "seine"
	app.Usage = "A fishnet tiling scheme generator for COG-aligned raster processing"
	app.Version = versioninfo.Short()

	app.Commands = []*cli.Command{
		{
			Name:  "scheme",
			Usage: "Generate a tiling scheme over a boundary and write it to GeoParquet",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     BOUNDARY,
					Aliases:  []string{"b"},
					Usage:    "Boundary file (GeoPackage, GeoJSON or shapefile)",
					Required: true,
					EnvVars:  []string{strcase.ToScreamingSnake(BOUNDARY)},
				},
				&cli.StringFlag{
					Name:     LAYER,
					Aliases:  []string{"l"},
					Usage:    "Layer in the boundary file, required when a GeoPackage has more than one",
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(LAYER)},
				},
				&cli.StringFlag{
					Name:     GRIDDEF,
					Aliases:  []string{"g"},
					Usage:    `ID of a built-in grid definition. E.g.: ConusAlbersFeet`,
					Value:    `ConusAlbersFeet`,
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(GRIDDEF)},
				},
				&cli.Float64Flag{
					Name:     TILESIZE,
					Usage:    "Tile size in the grid definition's unit. E.g.: 98304",
					Required: true,
					EnvVars:  []string{strcase.ToScreamingSnake(TILESIZE)},
				},
				&cli.Float64Flag{
					Name:     RESOLUTION,
					Aliases:  []string{"r"},
					Usage:    "Pixel resolution in the grid definition's unit. E.g.: 4",
					Required: true,
					EnvVars:  []string{strcase.ToScreamingSnake(RESOLUTION)},
				},
				&cli.Float64Flag{
					Name:     ORIGINX,
					Usage:    "Override the grid definition's origin x",
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(ORIGINX)},
				},
				&cli.Float64Flag{
					Name:     ORIGINY,
					Usage:    "Override the grid definition's origin y",
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(ORIGINY)},
				},
				&cli.Float64Flag{
					Name:     BUFFERMILES,
					Usage:    "Buffer distance around the boundary in miles, 0 disables",
					Value:    10,
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(BUFFERMILES)},
				},
				&cli.BoolFlag{
					Name:     CLIP,
					Usage:    "Clip tile geometries to the buffered boundary",
					Value:    true,
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(CLIP)},
				},
				&cli.StringFlag{
					Name:     TARGET,
					Aliases:  []string{"t"},
					Usage:    "Target GeoParquet file",
					Required: true,
					EnvVars:  []string{strcase.ToScreamingSnake(TARGET)},
				},
				&cli.StringFlag{
					Name:     COMPRESSION,
					Aliases:  []string{"c"},
					Usage:    "Parquet compression: zstd, snappy, gzip or none",
					Value:    `zstd`,
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(COMPRESSION)},
				},
				&cli.IntFlag{
					Name:     PAGESIZE,
					Aliases:  []string{"p"},
					Usage:    "Page size, how many tiles are written per row group to the target",
					Value:    geoparquet.DefaultPagesize,
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(PAGESIZE)},
				},
				&cli.BoolFlag{
					Name:     OVERWRITE,
					Aliases:  []string{"o"},
					Usage:    "Overwrite the target file if it exists",
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(OVERWRITE)},
				},
			},
			Action: schemeAction,
		},
		{
			Name:  "testcog",
			Usage: "Write a deterministic float32 COG snapped to explicit tile bounds",
			Flags: []cli.Flag{
				&cli.Float64Flag{
					Name:     XMIN,
					Usage:    "Tile xmin in the grid definition's unit",
					Required: true,
					EnvVars:  []string{strcase.ToScreamingSnake(XMIN)},
				},
				&cli.Float64Flag{
					Name:     YMIN,
					Usage:    "Tile ymin in the grid definition's unit",
					Required: true,
					EnvVars:  []string{strcase.ToScreamingSnake(YMIN)},
				},
				&cli.Float64Flag{
					Name:     XMAX,
					Usage:    "Tile xmax in the grid definition's unit",
					Required: true,
					EnvVars:  []string{strcase.ToScreamingSnake(XMAX)},
				},
				&cli.Float64Flag{
					Name:     YMAX,
					Usage:    "Tile ymax in the grid definition's unit",
					Required: true,
					EnvVars:  []string{strcase.ToScreamingSnake(YMAX)},
				},
				&cli.Float64Flag{
					Name:     CELLSIZE,
					Usage:    "Pixel size in the grid definition's unit",
					Value:    4,
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(CELLSIZE)},
				},
				&cli.StringFlag{
					Name:     TARGETTIF,
					Aliases:  []string{"t"},
					Usage:    "Target GeoTIFF file",
					Required: true,
					EnvVars:  []string{strcase.ToScreamingSnake(TARGETTIF)},
				},
				&cli.StringFlag{
					Name:     GRIDDEF,
					Aliases:  []string{"g"},
					Usage:    `ID of a built-in grid definition, provides the CRS. E.g.: ConusAlbersFeet`,
					Value:    `ConusAlbersFeet`,
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(GRIDDEF)},
				},
				&cli.IntFlag{
					Name:     BLOCKSIZE,
					Usage:    "Internal tile/block size in pixels",
					Value:    cog.DefaultBlockSize,
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(BLOCKSIZE)},
				},
				&cli.StringFlag{
					Name:     COGCOMPRESSION,
					Usage:    "Raster compression: DEFLATE, LZW or ZSTD",
					Value:    string(cog.DefaultCompression),
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(COGCOMPRESSION)},
				},
				&cli.IntFlag{
					Name:     PREDICTOR,
					Usage:    "Compression predictor, 3 suits float32, 0 disables",
					Value:    cog.DefaultPredictor,
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(PREDICTOR)},
				},
				&cli.IntFlag{
					Name:     BANDS,
					Usage:    "Number of bands",
					Value:    cog.DefaultBands,
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(BANDS)},
				},
				&cli.BoolFlag{
					Name:     OVERVIEWS,
					Usage:    "Build internal overviews after writing",
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(OVERVIEWS)},
				},
				&cli.BoolFlag{
					Name:     OVERWRITE,
					Aliases:  []string{"o"},
					Usage:    "Overwrite the target file if it exists",
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(OVERWRITE)},
				},
			},
			Action: testcogAction,
		},
		{
			Name:   "grids",
			Usage:  "List the built-in grid definitions",
			Action: gridsAction,
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func schemeAction(c *cli.Context) error {
	def, err := griddef.LoadEmbeddedGridDefinition(c.String(GRIDDEF))
	if err != nil {
		return err
	}

	origin := def.OriginPoint()
	if c.IsSet(ORIGINX) {
		origin[0] = c.Float64(ORIGINX)
	}
	if c.IsSet(ORIGINY) {
		origin[1] = c.Float64(ORIGINY)
	}
	scheme := grid.Scheme{
		Origin:     origin,
		TileSize:   c.Float64(TILESIZE),
		Resolution: c.Float64(RESOLUTION),
	}
	if err := scheme.Validate(); err != nil {
		return fmt.Errorf("%w: %w", faults.ErrConfiguration, err)
	}
	codec, err := geoparquet.ParseCompression(c.String(COMPRESSION))
	if err != nil {
		return err
	}

	b, err := boundary.Load(c.String(BOUNDARY), c.String(LAYER))
	if err != nil {
		return err
	}
	// the target is handed to Run right away, which closes or aborts it
	target, err := geoparquet.NewTarget(c.String(TARGET), scheme, def, codec, c.Int(PAGESIZE), c.Bool(OVERWRITE))
	if err != nil {
		return err
	}
	return fishnet.NewGenerator(scheme, def, c.Float64(BUFFERMILES), c.Bool(CLIP)).Run(b, target)
}

func testcogAction(c *cli.Context) error {
	def, err := griddef.LoadEmbeddedGridDefinition(c.String(GRIDDEF))
	if err != nil {
		return err
	}
	compression, err := cog.ParseCompression(c.String(COGCOMPRESSION))
	if err != nil {
		return err
	}
	path := c.String(TARGETTIF)
	if !c.Bool(OVERWRITE) {
		if _, err := os.Stat(path); err == nil {
			return faults.Configurationf(`%s already exists, use the overwrite option to replace it`, path)
		}
	}

	spec := cog.RasterSpec{
		Extent:      geom.Extent{c.Float64(XMIN), c.Float64(YMIN), c.Float64(XMAX), c.Float64(YMAX)},
		CellSize:    c.Float64(CELLSIZE),
		Bands:       c.Int(BANDS),
		BlockSize:   c.Int(BLOCKSIZE),
		Compression: compression,
		Predictor:   c.Int(PREDICTOR),
		Overviews:   c.Bool(OVERVIEWS),
	}
	return cog.WriteTestRaster(path, spec, def)
}

func gridsAction(*cli.Context) error {
	for _, id := range griddef.EmbeddedGridDefinitionIDs() {
		def, err := griddef.LoadEmbeddedGridDefinition(id)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", def.ID, def.Title)
	}
	return nil
}

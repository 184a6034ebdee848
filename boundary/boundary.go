// Package boundary reads a polygonal study area from a vector file and
// dissolves it into a single GEOS geometry.
package boundary

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ctgeom "github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/gpkg"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/twpayne/go-geos"

	"github.com/watergrid/seine/faults"
	"github.com/watergrid/seine/geomhelp"
)

var supportedExtensions = []string{".geojson", ".gpkg", ".json", ".shp"}

// Boundary is a dissolved study area.
type Boundary struct {
	// Geom is the union of all polygonal features, repaired where invalid
	Geom *geos.Geom
	// Features is the number of features that went into the union
	Features int
	Path     string
	Layer    string
}

// Load reads the polygonal features of a vector file and dissolves them.
// The layer selects a GeoPackage table and is ignored for other formats.
func Load(path, layer string) (b *Boundary, err error) {
	// GEOS reports errors by panicking
	defer func() {
		if r := recover(); r != nil {
			b = nil
			err = faults.Inputf("invalid geometry in %s: %v", path, r)
		}
	}()

	if _, err := os.Stat(path); err != nil {
		return nil, faults.Inputf("could not open boundary %s: %v", path, err)
	}

	var parts []*geos.Geom
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gpkg":
		parts, err = readGeopackage(path, layer)
	case ".geojson", ".json":
		parts, err = readGeoJSON(path)
	case ".shp":
		parts, err = readShapefile(path)
	default:
		return nil, faults.Inputf("unsupported boundary format %q, supported formats are: %s",
			filepath.Ext(path), strings.Join(supportedExtensions, ", "))
	}
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, faults.Inputf("no features found in %s", path)
	}

	return &Boundary{Geom: dissolve(parts), Features: len(parts), Path: path, Layer: layer}, nil
}

// dissolve unions all features into one geometry.
// Each feature is repaired first so one self-intersecting ring cannot fail the union.
func dissolve(parts []*geos.Geom) *geos.Geom {
	repaired := make([]*geos.Geom, len(parts))
	for i, part := range parts {
		repaired[i] = part.MakeValidWithParams(geos.MakeValidLinework, geos.MakeValidDiscardCollapsed)
	}
	union := geos.NewCollection(geos.TypeIDGeometryCollection, repaired).UnaryUnion()
	if !union.IsValid() {
		union = union.Buffer(0, 8)
	}
	return union
}

func readGeopackage(path, layer string) ([]*geos.Geom, error) {
	handle, err := gpkg.Open(path)
	if err != nil {
		return nil, faults.Inputf("error opening GeoPackage %s: %v", path, err)
	}
	defer handle.Close()

	table, gcolumn, err := selectLayer(handle, layer)
	if err != nil {
		return nil, err
	}

	query := `SELECT "` + gcolumn + `" FROM "` + table + `" WHERE "` + gcolumn + `" IS NOT NULL;`
	rows, err := handle.Query(query)
	if err != nil {
		return nil, fmt.Errorf("error reading features from %s: %w", table, err)
	}
	defer rows.Close()

	var parts []*geos.Geom
	for rows.Next() {
		var blob []byte
		if err = rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("error reading feature row: %w", err)
		}
		sb, err := gpkg.DecodeGeometry(blob)
		if err != nil {
			return nil, faults.Inputf("error decoding geometry in layer %s: %v", table, err)
		}
		switch g := sb.Geometry.(type) {
		case geom.Polygon:
			parts = append(parts, geosFromGeomPolygon(g))
		case geom.MultiPolygon:
			parts = append(parts, geosFromGeomMultiPolygon(g))
		default:
			return nil, faults.Inputf("unsupported geometry type %T in layer %s, only Polygon and MultiPolygon are supported", g, table)
		}
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return parts, nil
}

// selectLayer resolves which feature table to read.
// Without an explicit layer the GeoPackage must contain exactly one.
func selectLayer(handle *gpkg.Handle, layer string) (table, gcolumn string, err error) {
	rows, err := handle.Query(`SELECT table_name, column_name FROM gpkg_geometry_columns;`)
	if err != nil {
		return "", "", fmt.Errorf("error reading gpkg_geometry_columns: %w", err)
	}
	defer rows.Close()

	gcolumns := make(map[string]string)
	var names []string
	for rows.Next() {
		var name, gcol string
		if err = rows.Scan(&name, &gcol); err != nil {
			return "", "", err
		}
		gcolumns[name] = gcol
		names = append(names, name)
	}
	if err = rows.Err(); err != nil {
		return "", "", err
	}
	sort.Strings(names)

	if layer == "" {
		if len(names) == 1 {
			return names[0], gcolumns[names[0]], nil
		}
		return "", "", faults.Inputf("GeoPackage has %d layers, select one with the layer option: %s",
			len(names), strings.Join(names, ", "))
	}
	gcol, ok := gcolumns[layer]
	if !ok {
		return "", "", faults.Inputf("layer %q not found, available layers are: %s", layer, strings.Join(names, ", "))
	}
	return layer, gcol, nil
}

func readGeoJSON(path string) ([]*geos.Geom, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.Inputf("could not read %s: %v", path, err)
	}

	var geometries []orb.Geometry
	if fc, fcErr := geojson.UnmarshalFeatureCollection(data); fcErr == nil {
		for _, feat := range fc.Features {
			geometries = append(geometries, feat.Geometry)
		}
	} else if feat, featErr := geojson.UnmarshalFeature(data); featErr == nil {
		geometries = append(geometries, feat.Geometry)
	} else if g, geomErr := geojson.UnmarshalGeometry(data); geomErr == nil {
		geometries = append(geometries, g.Geometry())
	} else {
		return nil, faults.Inputf("could not parse %s as GeoJSON: %v", path, fcErr)
	}

	var parts []*geos.Geom
	for _, og := range geometries {
		switch g := og.(type) {
		case orb.Polygon:
			parts = append(parts, geosFromOrbPolygon(g))
		case orb.MultiPolygon:
			parts = append(parts, geosFromOrbMultiPolygon(g))
		default:
			return nil, faults.Inputf("unsupported geometry type %s in %s, only Polygon and MultiPolygon are supported",
				og.GeoJSONType(), path)
		}
	}
	return parts, nil
}

func readShapefile(path string) ([]*geos.Geom, error) {
	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, faults.Inputf("could not open shapefile %s: %v", path, err)
	}
	defer d.Close()

	var parts []*geos.Geom
	for {
		g, _, more := d.DecodeRowFields()
		if !more {
			break
		}
		switch t := g.(type) {
		case ctgeom.Polygon:
			parts = append(parts, geosFromShpPolygon(t))
		case ctgeom.MultiPolygon:
			polys := make([]*geos.Geom, len(t))
			for i, p := range t {
				polys[i] = geosFromShpPolygon(p)
			}
			parts = append(parts, geos.NewCollection(geos.TypeIDMultiPolygon, polys))
		default:
			return nil, faults.Inputf("unsupported geometry type %T in %s, only Polygon and MultiPolygon are supported", g, path)
		}
	}
	if err := d.Error(); err != nil {
		return nil, faults.Inputf("could not read shapefile %s: %v", path, err)
	}
	return parts, nil
}

func geosFromGeomPolygon(p geom.Polygon) *geos.Geom {
	rings := make([][][]float64, len(p))
	for i, ring := range p {
		coords := make([][]float64, len(ring))
		for j, pt := range ring {
			coords[j] = []float64{pt[0], pt[1]}
		}
		rings[i] = geomhelp.CloseRing(coords)
	}
	return geos.NewPolygon(rings)
}

func geosFromGeomMultiPolygon(mp geom.MultiPolygon) *geos.Geom {
	polys := make([]*geos.Geom, len(mp))
	for i, p := range mp {
		polys[i] = geosFromGeomPolygon(p)
	}
	return geos.NewCollection(geos.TypeIDMultiPolygon, polys)
}

func geosFromOrbPolygon(p orb.Polygon) *geos.Geom {
	rings := make([][][]float64, len(p))
	for i, ring := range p {
		coords := make([][]float64, len(ring))
		for j, pt := range ring {
			coords[j] = []float64{pt[0], pt[1]}
		}
		rings[i] = geomhelp.CloseRing(coords)
	}
	return geos.NewPolygon(rings)
}

func geosFromOrbMultiPolygon(mp orb.MultiPolygon) *geos.Geom {
	polys := make([]*geos.Geom, len(mp))
	for i, p := range mp {
		polys[i] = geosFromOrbPolygon(p)
	}
	return geos.NewCollection(geos.TypeIDMultiPolygon, polys)
}

func geosFromShpPolygon(p ctgeom.Polygon) *geos.Geom {
	rings := make([][][]float64, len(p))
	for i, ring := range p {
		coords := make([][]float64, len(ring))
		for j, pt := range ring {
			coords[j] = []float64{pt.X, pt.Y}
		}
		rings[i] = geomhelp.CloseRing(coords)
	}
	return geos.NewPolygon(rings)
}

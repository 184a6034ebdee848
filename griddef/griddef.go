// Package griddef loads named grid definitions: a planar CRS plus the anchor
// point that tiling schemes in that CRS are counted from.
package griddef

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/go-spatial/geom"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"github.com/perimeterx/marshmallow"

	"github.com/watergrid/seine/faults"
)

// Linear units a grid definition can be expressed in.
const (
	UnitFoot  = "foot"
	UnitMetre = "metre"
)

const (
	feetPerMile   = 5280.0
	metresPerMile = 1609.344
)

var (
	//go:embed griddefinitions
	embeddedGridDefinitionsFS    embed.FS
	embeddedGridDefinitionsCache = make(map[string]*GridDefinition)
)

// LoadEmbeddedGridDefinition returns the embedded grid definition with the given id.
// An unknown id is a configuration error that names the available ids.
func LoadEmbeddedGridDefinition(id string) (GridDefinition, error) {
	var def GridDefinition
	cached, ok := embeddedGridDefinitionsCache[id]
	if ok {
		return *cached, nil
	}
	defJSON, err := embeddedGridDefinitionsFS.ReadFile("griddefinitions/" + id + ".json")
	if err != nil {
		return def, faults.Configurationf(`unknown grid definition %q, embedded grid definitions are: %s`,
			id, strings.Join(EmbeddedGridDefinitionIDs(), ", "))
	}
	err = json.Unmarshal(defJSON, &def)
	if err != nil {
		return def, err
	}
	embeddedGridDefinitionsCache[id] = &def
	return def, nil
}

// EmbeddedGridDefinitionIDs lists the ids of all embedded grid definitions, sorted.
func EmbeddedGridDefinitionIDs() []string {
	matches, err := fs.Glob(embeddedGridDefinitionsFS, "griddefinitions/*.json")
	if err != nil {
		panic(err) // the pattern is fixed
	}
	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, strings.TrimSuffix(path.Base(match), ".json"))
	}
	sort.Strings(ids)
	return ids
}

// GridDefinition names a planar CRS and the anchor point grid indices are counted from.
type GridDefinition struct {
	// Grid definition identifier, also the basename of the embedded definition document.
	// Implementation of 'identifier'
	ID string `validate:"required" json:"id"`
	// Title of this grid definition, normally used for display to a human
	Title string `json:"title,omitempty"`
	// Brief narrative description of this grid definition, normally available for display to a human
	Description string `json:"description,omitempty"`
	// Unordered list of one or more commonly used or formalized word(s) or phrase(s) used to describe this grid definition
	Keywords []string `json:"keywords,omitempty"`
	// Linear unit of the CRS axes. Determines the ground length of a mile when buffering
	Unit string `validate:"required,oneof=foot metre" default:"foot" json:"unit"`
	// Precise position in CRS coordinates that column and row numbering is anchored to.
	// This position is the lower-left corner of the (0, 0) tile
	Origin TwoDPoint `json:"origin"`
	// Coordinate Reference System (CRS)
	CRS CRS `validate:"required" json:"-"`
}

func (d *GridDefinition) UnmarshalJSON(data []byte) error {
	err := defaults.Set(d)
	if err != nil {
		return err
	}

	specials, err := marshmallow.Unmarshal(data, d, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	// CRS
	rawCrs, ok := specials["crs"]
	if !ok {
		return fmt.Errorf(`missing key "crs"`)
	}
	d.CRS, err = unmarshalCRS(rawCrs)
	if err != nil {
		return err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(d)
}

// MileLength returns the length of one statute mile in the definition's linear unit.
func (d *GridDefinition) MileLength() float64 {
	if d.Unit == UnitMetre {
		return metresPerMile
	}
	return feetPerMile
}

// OriginPoint returns the grid anchor in CRS coordinates.
func (d *GridDefinition) OriginPoint() geom.Point {
	return geom.Point(d.Origin)
}

// A 2D Point in the CRS indicated elsewhere
type TwoDPoint [2]float64

func (p TwoDPoint) XY() [2]float64 {
	return p
}

// CRS is a coordinate reference system in its two interchange encodings.
// Definition documents reference both as side files next to the document.
type CRS struct {
	// Name of the CRS, normally used for display to a human
	Name string `validate:"required"`
	// Well-known text representation (OGC WKT 1)
	WKT string `validate:"required"`
	// PROJJSON representation, kept verbatim for embedding in output metadata
	PROJJSON json.RawMessage `validate:"required"`
}

func unmarshalCRS(rawCrs interface{}) (CRS, error) {
	var crs CRS
	rawCrsMap, ok := rawCrs.(map[string]interface{})
	if !ok {
		return crs, fmt.Errorf(`wrong type for key "crs": %T`, rawCrs)
	}

	crs.Name, ok = rawCrsMap["name"].(string)
	if !ok {
		return crs, fmt.Errorf(`missing or non-string key "name" in crs`)
	}

	wktFile, ok := rawCrsMap["wktFile"].(string)
	if !ok {
		return crs, fmt.Errorf(`missing or non-string key "wktFile" in crs`)
	}
	wkt, err := embeddedGridDefinitionsFS.ReadFile("griddefinitions/" + wktFile)
	if err != nil {
		return crs, fmt.Errorf(`could not read wkt file %q: %w`, wktFile, err)
	}
	crs.WKT = strings.TrimSpace(string(wkt))

	projjsonFile, ok := rawCrsMap["projjsonFile"].(string)
	if !ok {
		return crs, fmt.Errorf(`missing or non-string key "projjsonFile" in crs`)
	}
	projjson, err := embeddedGridDefinitionsFS.ReadFile("griddefinitions/" + projjsonFile)
	if err != nil {
		return crs, fmt.Errorf(`could not read projjson file %q: %w`, projjsonFile, err)
	}
	if !json.Valid(projjson) {
		return crs, fmt.Errorf(`projjson file %q does not contain valid JSON`, projjsonFile)
	}
	crs.PROJJSON = json.RawMessage(projjson)

	return crs, nil
}

// Package clip loads the study-area polygon and reduces rasters to a padded
// bounding box around it.
package clip

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"
)

// BoundsMargin is the fraction each side of the study-area extent is scaled
// outward from its center. It exists to keep boundary pixels and vertices
// that land exactly on the extent from being clipped by resampling error.
const BoundsMargin = 0.05

// Boundary is the study-area polygon, reprojected once at load time and
// read-only afterwards.
type Boundary struct {
	polygons []geom.Polygonal
	bounds   *geom.Bounds
	cropBox  *geom.Bounds
}

// LoadBoundary reads the single shapefile in dir and reprojects its
// geometries into the coordinate reference system described by the proj4
// string targetSRS. The padded crop box is computed here, once, and reused
// for every raster.
func LoadBoundary(dir, targetSRS string) (*Boundary, error) {
	path, err := findShapefile(dir)
	if err != nil {
		return nil, err
	}

	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shapefile %s: %w", path, err)
	}
	defer dec.Close()

	srcSR, err := dec.SR()
	if err != nil {
		return nil, fmt.Errorf("failed to read shapefile projection for %s: %w", path, err)
	}
	dstSR, err := proj.Parse(targetSRS)
	if err != nil {
		return nil, fmt.Errorf("invalid target SRS %q: %w", targetSRS, err)
	}
	trans, err := srcSR.NewTransform(dstSR)
	if err != nil {
		return nil, fmt.Errorf("failed to build transform to %q: %w", targetSRS, err)
	}

	b := &Boundary{bounds: geom.NewBounds()}
	for {
		g, _, more := dec.DecodeRowFields()
		if !more {
			break
		}
		gg, err := g.Transform(trans)
		if err != nil {
			return nil, fmt.Errorf("failed to reproject boundary geometry: %w", err)
		}
		poly, ok := gg.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("boundary geometry must be polygonal, got %T", gg)
		}
		b.polygons = append(b.polygons, poly)
		b.bounds.Extend(poly.Bounds())
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("failed to decode shapefile %s: %w", path, err)
	}
	if len(b.polygons) == 0 {
		return nil, fmt.Errorf("shapefile %s contains no geometries", path)
	}

	b.cropBox = PaddedBounds(b.bounds, BoundsMargin)
	return b, nil
}

// Bounds returns the study area's extent in the target coordinate system.
func (b *Boundary) Bounds() *geom.Bounds {
	return b.bounds
}

// CropBox returns the padded bounding box every raster is cropped to.
func (b *Boundary) CropBox() *geom.Bounds {
	return b.cropBox
}

// PaddedBounds scales each side of b outward from its center by margin.
func PaddedBounds(b *geom.Bounds, margin float64) *geom.Bounds {
	cx := (b.Min.X + b.Max.X) / 2
	cy := (b.Min.Y + b.Max.Y) / 2
	halfX := (b.Max.X - b.Min.X) / 2 * (1 + margin)
	halfY := (b.Max.Y - b.Min.Y) / 2 * (1 + margin)
	return &geom.Bounds{
		Min: geom.Point{X: cx - halfX, Y: cy - halfY},
		Max: geom.Point{X: cx + halfX, Y: cy + halfY},
	}
}

// findShapefile returns the single .shp file in dir. The shapefile's
// .dbf/.shx/.prj neighbors are required companions of the format, not
// candidates of their own.
func findShapefile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read boundary directory %s: %w", dir, err)
	}

	var shapefiles []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".shp") {
			shapefiles = append(shapefiles, e.Name())
		}
	}

	switch len(shapefiles) {
	case 1:
		return filepath.Join(dir, shapefiles[0]), nil
	case 0:
		return "", fmt.Errorf("no shapefile found in %s", dir)
	default:
		return "", fmt.Errorf("expected exactly one shapefile in %s, found %d", dir, len(shapefiles))
	}
}

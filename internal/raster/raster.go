// Package raster wraps the GDAL bindings for the raster operations the
// pipeline needs: open, reproject, crop and re-encode in the provider's BIL
// (binary grid plus header) layout. Intermediate transforms stay on the
// in-memory driver; only SaveBIL touches disk.
package raster

import (
	"fmt"
	"math"
	"strconv"

	"github.com/airbusgeo/godal"
	"github.com/ctessum/geom"
)

// Register initializes the GDAL driver registry. Call once at startup.
func Register() {
	godal.RegisterAll()
}

// Grid is an open raster dataset.
type Grid struct {
	ds *godal.Dataset
}

// Open loads the raster at path.
func Open(path string) (*Grid, error) {
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raster %s: %w", path, err)
	}
	return &Grid{ds: ds}, nil
}

// Close releases the dataset.
func (g *Grid) Close() error {
	return g.ds.Close()
}

// Extent returns the raster's bounds in its own coordinate reference system.
func (g *Grid) Extent() (*geom.Bounds, error) {
	b, err := g.ds.Bounds()
	if err != nil {
		return nil, fmt.Errorf("failed to compute raster bounds: %w", err)
	}
	return &geom.Bounds{
		Min: geom.Point{X: b[0], Y: b[1]},
		Max: geom.Point{X: b[2], Y: b[3]},
	}, nil
}

// InSRS reports whether the raster is already in the coordinate reference
// system described by the proj4 string srs.
func (g *Grid) InSRS(srs string) (bool, error) {
	target, err := godal.NewSpatialRefFromProj4(srs)
	if err != nil {
		return false, fmt.Errorf("invalid target SRS %q: %w", srs, err)
	}
	defer target.Close()

	current := g.ds.SpatialRef()
	if current == nil {
		return false, nil
	}
	return current.IsSame(target), nil
}

// Reproject warps the raster into the coordinate reference system described
// by the proj4 string srs, returning a new in-memory grid. The receiver is
// left untouched.
func (g *Grid) Reproject(srs string) (*Grid, error) {
	warped, err := g.ds.Warp("", []string{
		"-of", "MEM",
		"-t_srs", srs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reproject raster to %q: %w", srs, err)
	}
	return &Grid{ds: warped}, nil
}

// Crop cuts the raster down to the part of box it covers, returning a new
// in-memory grid whose extent is the intersection of the raster extent and
// box. An empty intersection is an error.
func (g *Grid) Crop(box *geom.Bounds) (*Grid, error) {
	extent, err := g.Extent()
	if err != nil {
		return nil, err
	}

	win := intersect(extent, box)
	if win == nil {
		return nil, fmt.Errorf("crop box %v does not intersect raster extent %v", box, extent)
	}

	cropped, err := g.ds.Translate("", []string{
		"-of", "MEM",
		"-projwin",
		formatCoord(win.Min.X), formatCoord(win.Max.Y),
		formatCoord(win.Max.X), formatCoord(win.Min.Y),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to crop raster: %w", err)
	}
	return &Grid{ds: cropped}, nil
}

// SaveBIL encodes the grid at path in the provider's BIL sub-format,
// overwriting any existing file of the same name.
func (g *Grid) SaveBIL(path string) error {
	out, err := g.ds.Translate(path, []string{"-of", "EHdr"})
	if err != nil {
		return fmt.Errorf("failed to write raster %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to finalize raster %s: %w", path, err)
	}
	return nil
}

// intersect returns the overlap of a and b, or nil when they are disjoint.
func intersect(a, b *geom.Bounds) *geom.Bounds {
	minX := math.Max(a.Min.X, b.Min.X)
	minY := math.Max(a.Min.Y, b.Min.Y)
	maxX := math.Min(a.Max.X, b.Max.X)
	maxY := math.Min(a.Max.Y, b.Max.Y)
	if minX >= maxX || minY >= maxY {
		return nil
	}
	return &geom.Bounds{
		Min: geom.Point{X: minX, Y: minY},
		Max: geom.Point{X: maxX, Y: maxY},
	}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

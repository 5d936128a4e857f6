package clip

import (
	"fmt"

	"github.com/ctessum/geom"

	"github.com/rkm/prism-clip/internal/raster"
)

// Clipper reduces raster files against a fixed crop box. It satisfies the
// pipeline's Reducer and carries no per-file state, so one instance serves
// every dataset in a run.
type Clipper struct {
	targetSRS string
	box       *geom.Bounds
}

// NewClipper builds a Clipper for the study area's padded crop box.
func NewClipper(boundary *Boundary, targetSRS string) *Clipper {
	return &Clipper{
		targetSRS: targetSRS,
		box:       boundary.CropBox(),
	}
}

// ReduceFile reads the raster at src, reprojects and crops it, and writes
// the result to dst in the provider's BIL sub-format.
func (c *Clipper) ReduceFile(src, dst string) error {
	grid, err := raster.Open(src)
	if err != nil {
		return err
	}
	defer grid.Close()

	reduced, err := Reduce(grid, c.targetSRS, c.box)
	if err != nil {
		return fmt.Errorf("reducing %s: %w", src, err)
	}
	defer reduced.Close()

	return reduced.SaveBIL(dst)
}

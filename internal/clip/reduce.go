package clip

import (
	"fmt"

	"github.com/ctessum/geom"

	"github.com/rkm/prism-clip/internal/raster"
)

// Reduce reprojects grid into targetSRS if it is not already there, then
// crops it to box. Both steps are in-memory transforms; the raster file on
// disk is never modified. The caller owns the returned grid.
func Reduce(grid *raster.Grid, targetSRS string, box *geom.Bounds) (*raster.Grid, error) {
	inTarget, err := grid.InSRS(targetSRS)
	if err != nil {
		return nil, err
	}

	src := grid
	if !inTarget {
		warped, err := grid.Reproject(targetSRS)
		if err != nil {
			return nil, err
		}
		defer warped.Close()
		src = warped
	}

	cropped, err := src.Crop(box)
	if err != nil {
		return nil, fmt.Errorf("crop to study area failed: %w", err)
	}
	return cropped, nil
}

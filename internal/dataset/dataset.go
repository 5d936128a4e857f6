// Package dataset understands the provider's on-disk dataset layout: one
// directory per (variable, period) holding exactly one primary raster plus
// metadata sidecars.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrMalformedDataset is returned when a dataset directory does not contain
// exactly one primary raster.
var ErrMalformedDataset = errors.New("malformed dataset directory")

// Kind classifies a dataset directory entry.
type Kind int

const (
	// KindUnknown marks entries that match no recognized pattern.
	KindUnknown Kind = iota
	// KindPrimaryRaster is the single binary grid holding the measurement.
	KindPrimaryRaster
	// KindRasterCompanion is a file that is part of the raster encoding
	// itself (header, projection, statistics block). Companions are
	// regenerated when the cropped raster is written, never copied.
	KindRasterCompanion
	// KindSidecar is a metadata file that travels with the raster unmodified.
	KindSidecar
)

func (k Kind) String() string {
	switch k {
	case KindPrimaryRaster:
		return "primary-raster"
	case KindRasterCompanion:
		return "raster-companion"
	case KindSidecar:
		return "metadata-sidecar"
	default:
		return "unknown"
	}
}

// companionExts are the BIL encoding's own files, keyed by lowercase extension.
var companionExts = map[string]bool{
	".hdr": true,
	".prj": true,
	".stx": true,
}

// sidecarExts are the recognized metadata sidecar extensions.
var sidecarExts = map[string]bool{
	".txt": true,
	".csv": true,
	".xml": true,
}

// Classify tags a directory entry by file name. It is a pure function;
// callers dispatch on the returned Kind instead of re-matching patterns.
func Classify(name string) Kind {
	lower := strings.ToLower(name)

	// .bil.aux.xml describes the raster but is not part of the grid encoding.
	if strings.HasSuffix(lower, ".aux.xml") {
		return KindSidecar
	}

	ext := filepath.Ext(lower)
	switch {
	case ext == ".bil":
		return KindPrimaryRaster
	case companionExts[ext]:
		return KindRasterCompanion
	case sidecarExts[ext]:
		return KindSidecar
	default:
		return KindUnknown
	}
}

// PrimaryRaster returns the name of the single primary raster in dir.
// Zero or multiple matches violate the provider's layout invariant and are
// reported as a malformed dataset.
func PrimaryRaster(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read dataset directory %s: %w", dir, err)
	}

	var rasters []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if Classify(e.Name()) == KindPrimaryRaster {
			rasters = append(rasters, e.Name())
		}
	}

	switch len(rasters) {
	case 1:
		return rasters[0], nil
	case 0:
		return "", fmt.Errorf("%w: no primary raster in %s", ErrMalformedDataset, dir)
	default:
		return "", fmt.Errorf("%w: %d primary rasters in %s", ErrMalformedDataset, len(rasters), dir)
	}
}

// Sidecars returns the metadata sidecar file names in dir, in directory order.
func Sidecars(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset directory %s: %w", dir, err)
	}

	var sidecars []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if Classify(e.Name()) == KindSidecar {
			sidecars = append(sidecars, e.Name())
		}
	}
	return sidecars, nil
}

// Stem strips the raster extension from a file name; the result names the
// mirrored output subdirectory for the dataset.
func Stem(rasterName string) string {
	return strings.TrimSuffix(rasterName, filepath.Ext(rasterName))
}

// List enumerates the dataset directories under root, in name order.
// A missing root yields an empty list: nothing was fetched.
func List(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read raw root %s: %w", root, err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs, nil
}

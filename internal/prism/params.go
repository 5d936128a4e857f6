package prism

import (
	"fmt"
	"strings"

	"github.com/rkm/prism-clip/internal/config"
)

// AnnualNormalMonth is the provider's month code for the aggregated 30-year
// annual summary layer served alongside the monthly normals.
const AnnualNormalMonth = 14

// DownloadParams identifies a single dataset archive on the provider.
// Daily requests key by full date, monthly by year and month, annual by
// year, and normals by month plus a spatial-resolution tier.
type DownloadParams struct {
	Variable   string
	Resolution config.Resolution

	// Date keys daily requests (YYYYMMDD).
	Date config.Date

	// Year keys monthly and annual requests.
	Year int
	// Month keys monthly and normal requests (1-12, or AnnualNormalMonth).
	Month int

	// SpatialRes is the resolution tier for normal requests, e.g. "4km".
	SpatialRes string
}

// Path returns the provider URL path for the archive download.
func (p *DownloadParams) Path() (string, error) {
	key, err := p.periodKey()
	if err != nil {
		return "", err
	}
	if p.Resolution == config.ResolutionNormal {
		return fmt.Sprintf("/prism/data/public/normals/%s/%s/%s", p.SpatialRes, p.Variable, key), nil
	}
	return fmt.Sprintf("/prism/data/public/4km/%s/%s", p.Variable, key), nil
}

// ReleasePath returns the provider URL path for the release probe of the
// same archive.
func (p *DownloadParams) ReleasePath() (string, error) {
	key, err := p.periodKey()
	if err != nil {
		return "", err
	}
	if p.Resolution == config.ResolutionNormal {
		return fmt.Sprintf("/prism/releaseDate/normals/%s/%s/%s", p.SpatialRes, p.Variable, key), nil
	}
	return fmt.Sprintf("/prism/releaseDate/%s/%s", p.Variable, key), nil
}

// periodKey builds the date segment of the request path.
func (p *DownloadParams) periodKey() (string, error) {
	switch p.Resolution {
	case config.ResolutionDaily:
		if p.Date.IsZero() {
			return "", fmt.Errorf("daily request requires a date")
		}
		return p.Date.Time().Format("20060102"), nil
	case config.ResolutionMonthly:
		if p.Year == 0 || p.Month < 1 || p.Month > 12 {
			return "", fmt.Errorf("monthly request requires a year and a month 1-12, got year=%d month=%d", p.Year, p.Month)
		}
		return fmt.Sprintf("%04d%02d", p.Year, p.Month), nil
	case config.ResolutionAnnual:
		if p.Year == 0 {
			return "", fmt.Errorf("annual request requires a year")
		}
		return fmt.Sprintf("%04d", p.Year), nil
	case config.ResolutionNormal:
		if p.Month < 1 || (p.Month > 12 && p.Month != AnnualNormalMonth) {
			return "", fmt.Errorf("normal request requires a month 1-12 or %d, got %d", AnnualNormalMonth, p.Month)
		}
		if p.SpatialRes == "" {
			return "", fmt.Errorf("normal request requires a spatial resolution tier")
		}
		return fmt.Sprintf("%02d", p.Month), nil
	default:
		return "", fmt.Errorf("unsupported temporal resolution %q", p.Resolution)
	}
}

// String describes the request for log and error context.
func (p *DownloadParams) String() string {
	key, err := p.periodKey()
	if err != nil {
		key = "?"
	}
	parts := []string{p.Variable, string(p.Resolution), key}
	return strings.Join(parts, "/")
}

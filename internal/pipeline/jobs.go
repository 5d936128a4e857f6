package pipeline

import (
	"github.com/rkm/prism-clip/internal/config"
	"github.com/rkm/prism-clip/internal/prism"
)

// FetchJob is the unit of fetch-stage isolation: one variable's archive
// requests. A failed request aborts the rest of its job but never the jobs
// of other variables.
type FetchJob struct {
	Variable string
	Requests []prism.DownloadParams
}

// Jobs expands the configuration into one fetch job per variable.
//
// Monthly, annual and normal fetches key by whole calendar years derived
// from the date range, so a sub-year range widens to every year it touches.
// That widening is the documented contract, kept as-is.
func Jobs(cfg *config.Config) []FetchJob {
	jobs := make([]FetchJob, 0, len(cfg.Fetch.Variables))
	for _, variable := range cfg.Fetch.Variables {
		jobs = append(jobs, FetchJob{
			Variable: variable,
			Requests: requestsFor(cfg, variable),
		})
	}
	return jobs
}

func requestsFor(cfg *config.Config, variable string) []prism.DownloadParams {
	var reqs []prism.DownloadParams

	switch cfg.Fetch.Resolution {
	case config.ResolutionDaily:
		for _, d := range DatesInRange(cfg.Fetch.StartDate, cfg.Fetch.EndDate) {
			reqs = append(reqs, prism.DownloadParams{
				Variable:   variable,
				Resolution: config.ResolutionDaily,
				Date:       d,
			})
		}

	case config.ResolutionMonthly:
		for _, year := range YearsInRange(cfg.Fetch.StartDate, cfg.Fetch.EndDate) {
			for _, month := range cfg.Fetch.Months {
				reqs = append(reqs, prism.DownloadParams{
					Variable:   variable,
					Resolution: config.ResolutionMonthly,
					Year:       year,
					Month:      month,
				})
			}
		}

	case config.ResolutionAnnual:
		for _, year := range YearsInRange(cfg.Fetch.StartDate, cfg.Fetch.EndDate) {
			reqs = append(reqs, prism.DownloadParams{
				Variable:   variable,
				Resolution: config.ResolutionAnnual,
				Year:       year,
			})
		}

	case config.ResolutionNormal:
		// Normals are a fixed 30-year product: the month subset at the
		// configured resolution tier plus the aggregated annual layer.
		months := append(append([]int{}, cfg.Fetch.Months...), prism.AnnualNormalMonth)
		for _, month := range months {
			reqs = append(reqs, prism.DownloadParams{
				Variable:   variable,
				Resolution: config.ResolutionNormal,
				Month:      month,
				SpatialRes: cfg.Provider.SpatialRes,
			})
		}
	}

	return reqs
}

// YearsInRange returns the sorted, deduplicated calendar years overlapping
// the inclusive date range.
func YearsInRange(start, end config.Date) []int {
	var years []int
	for y := start.Year(); y <= end.Year(); y++ {
		years = append(years, y)
	}
	return years
}

// DatesInRange returns every calendar date in the inclusive range.
func DatesInRange(start, end config.Date) []config.Date {
	var dates []config.Date
	for t := start.Time(); !t.After(end.Time()); t = t.AddDate(0, 0, 1) {
		dates = append(dates, config.NewDate(t.Year(), t.Month(), t.Day()))
	}
	return dates
}

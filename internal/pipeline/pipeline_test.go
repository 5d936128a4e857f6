package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rkm/prism-clip/internal/config"
	"github.com/rkm/prism-clip/internal/fsutil"
	"github.com/rkm/prism-clip/internal/prism"
)

// copyReducer stands in for the GDAL-backed clipper: it copies the raster
// bytes through, optionally failing for datasets whose path contains fail.
type copyReducer struct {
	fail string
}

func (r *copyReducer) ReduceFile(src, dst string) error {
	if r.fail != "" && strings.Contains(src, r.fail) {
		return fmt.Errorf("simulated reduce failure for %s", src)
	}
	return fsutil.CopyFile(src, dst)
}

// mockProvider serves release probes and zip archives the way the download
// service does, recording how many archives were actually served.
type mockProvider struct {
	downloads int
	failVars  map[string]bool
}

func (m *mockProvider) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

		switch {
		case len(parts) == 4 && parts[1] == "releaseDate":
			variable, key := parts[2], parts[3]
			if m.failVars[variable] {
				http.Error(w, "provider outage", http.StatusBadGateway)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(prism.Release{
				Name:        datasetBase(variable, key),
				ReleaseDate: "2020-05-01",
			})

		case len(parts) == 6 && parts[1] == "data":
			variable, key := parts[4], parts[5]
			if m.failVars[variable] {
				http.Error(w, "provider outage", http.StatusBadGateway)
				return
			}
			m.downloads++
			base := datasetBase(variable, key)
			w.Header().Set("Content-Type", "application/zip")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", base+".zip"))
			w.Write(archiveFor(t, base))

		default:
			t.Errorf("unexpected provider path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	})
}

func datasetBase(variable, key string) string {
	return fmt.Sprintf("PRISM_%s_stable_4kmM3_%s_bil", variable, key)
}

func archiveFor(t *testing.T, base string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	files := map[string]string{
		base + ".bil":       "raster-bytes-" + base,
		base + ".hdr":       "NROWS 10\nNCOLS 10\n",
		base + ".info.txt":  "descriptive text for " + base,
		base + ".stats.csv": "min,max\n0,100\n",
	}
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(f, content); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func pipelineConfig(t *testing.T, serverURL string) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		Fetch: config.FetchConfig{
			StartDate:  config.NewDate(2020, time.January, 1),
			EndDate:    config.NewDate(2020, time.March, 31),
			Resolution: config.ResolutionMonthly,
			Variables:  []string{"ppt"},
			Months:     []int{1, 2, 3},
		},
		Provider: config.ProviderConfig{
			BaseURL:    serverURL,
			Timeout:    10 * time.Second,
			SpatialRes: "4km",
		},
		Paths: config.PathConfig{
			RawRoot:     filepath.Join(root, "raw"),
			OutRoot:     filepath.Join(root, "out"),
			BoundaryDir: filepath.Join(root, "boundary"),
		},
		Clip: config.ClipConfig{TargetSRS: "+proj=longlat +datum=NAD83 +no_defs"},
	}
}

func newTestPipeline(cfg *config.Config, reducer Reducer) *Pipeline {
	client := prism.NewClient(cfg.Provider.BaseURL, cfg.Provider.Timeout)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, client, reducer, logger)
}

func TestRun_EndToEnd(t *testing.T) {
	provider := &mockProvider{}
	server := httptest.NewServer(provider.handler(t))
	defer server.Close()

	cfg := pipelineConfig(t, server.URL)
	p := newTestPipeline(cfg, &copyReducer{})

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if summary.Fetched != 3 {
		t.Errorf("expected 3 fetched archives, got %d", summary.Fetched)
	}
	if provider.downloads != 3 {
		t.Errorf("expected 3 provider downloads, got %d", provider.downloads)
	}
	if summary.Materialized != 3 {
		t.Errorf("expected 3 materialized datasets, got %d", summary.Materialized)
	}
	if summary.Deleted != 3 {
		t.Errorf("expected 3 deleted raw directories, got %d", summary.Deleted)
	}

	// Output root mirrors the dataset naming, one directory per month.
	outDirs, err := os.ReadDir(cfg.Paths.OutRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(outDirs) != 3 {
		t.Fatalf("expected 3 output directories, got %d", len(outDirs))
	}

	// Each output holds the raster plus the three sidecars; the .hdr is part
	// of the raster encoding and is not copied separately by the fake
	// reducer.
	first := filepath.Join(cfg.Paths.OutRoot, "PRISM_ppt_stable_4kmM3_202001_bil")
	for _, name := range []string{
		"PRISM_ppt_stable_4kmM3_202001_bil.bil",
		"PRISM_ppt_stable_4kmM3_202001_bil.info.txt",
		"PRISM_ppt_stable_4kmM3_202001_bil.stats.csv",
	} {
		if _, err := os.Stat(filepath.Join(first, name)); err != nil {
			t.Errorf("missing output file %s: %v", name, err)
		}
	}

	// Sidecars are byte-identical copies.
	info, err := os.ReadFile(filepath.Join(first, "PRISM_ppt_stable_4kmM3_202001_bil.info.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(info) != "descriptive text for PRISM_ppt_stable_4kmM3_202001_bil" {
		t.Errorf("sidecar content mismatch: %q", info)
	}

	// Retention is off, so the raw root is empty afterwards.
	rawDirs, err := os.ReadDir(cfg.Paths.RawRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(rawDirs) != 0 {
		t.Errorf("expected empty raw root, found %d entries", len(rawDirs))
	}

	if summary.BytesSaved() <= 0 {
		t.Errorf("expected positive bytes saved, got %d", summary.BytesSaved())
	}
}

func TestRun_RetainRawData(t *testing.T) {
	provider := &mockProvider{}
	server := httptest.NewServer(provider.handler(t))
	defer server.Close()

	cfg := pipelineConfig(t, server.URL)
	cfg.Fetch.RetainRaw = true
	p := newTestPipeline(cfg, &copyReducer{})

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if summary.Deleted != 0 {
		t.Errorf("expected no deletions with retention on, got %d", summary.Deleted)
	}
	rawDirs, err := os.ReadDir(cfg.Paths.RawRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(rawDirs) != 3 {
		t.Errorf("expected 3 retained raw directories, got %d", len(rawDirs))
	}
}

func TestRun_SkipsExistingDatasets(t *testing.T) {
	provider := &mockProvider{}
	server := httptest.NewServer(provider.handler(t))
	defer server.Close()

	cfg := pipelineConfig(t, server.URL)
	cfg.Fetch.RetainRaw = true

	// First run downloads everything.
	p := newTestPipeline(cfg, &copyReducer{})
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}
	if provider.downloads != 3 {
		t.Fatalf("expected 3 downloads on first run, got %d", provider.downloads)
	}

	// Second run probes, finds everything on disk, downloads nothing.
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}
	if provider.downloads != 3 {
		t.Errorf("expected no new downloads on re-run, total is %d", provider.downloads)
	}
	if summary.Skipped != 3 {
		t.Errorf("expected 3 skipped datasets, got %d", summary.Skipped)
	}
}

func TestRun_WriteFailureRetainsRawData(t *testing.T) {
	provider := &mockProvider{}
	server := httptest.NewServer(provider.handler(t))
	defer server.Close()

	cfg := pipelineConfig(t, server.URL)
	p := newTestPipeline(cfg, &copyReducer{fail: "202002"})

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if summary.Failed != 1 {
		t.Errorf("expected 1 failed dataset, got %d", summary.Failed)
	}
	if summary.Materialized != 2 {
		t.Errorf("expected 2 materialized datasets, got %d", summary.Materialized)
	}

	// The failed dataset's raw directory survives; the others are deleted.
	failed := filepath.Join(cfg.Paths.RawRoot, "PRISM_ppt_stable_4kmM3_202002_bil")
	if _, err := os.Stat(failed); err != nil {
		t.Errorf("raw directory for failed dataset should survive: %v", err)
	}
	succeeded := filepath.Join(cfg.Paths.RawRoot, "PRISM_ppt_stable_4kmM3_202001_bil")
	if _, err := os.Stat(succeeded); !os.IsNotExist(err) {
		t.Errorf("raw directory for succeeded dataset should be deleted")
	}
}

func TestRun_MalformedDatasetIsIsolated(t *testing.T) {
	provider := &mockProvider{}
	server := httptest.NewServer(provider.handler(t))
	defer server.Close()

	cfg := pipelineConfig(t, server.URL)

	// A leftover directory with no primary raster from an interrupted run.
	stale := filepath.Join(cfg.Paths.RawRoot, "PRISM_ppt_partial_bil")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stale, "leftover.hdr"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	p := newTestPipeline(cfg, &copyReducer{})
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if summary.Failed != 1 {
		t.Errorf("expected the malformed directory to fail, got %d failures", summary.Failed)
	}
	if summary.Materialized != 3 {
		t.Errorf("expected the well-formed datasets to materialize, got %d", summary.Materialized)
	}
	if _, err := os.Stat(stale); err != nil {
		t.Errorf("malformed directory must be retained: %v", err)
	}
}

func TestRun_FetchFailureIsolatedPerVariable(t *testing.T) {
	provider := &mockProvider{failVars: map[string]bool{"tmin": true}}
	server := httptest.NewServer(provider.handler(t))
	defer server.Close()

	cfg := pipelineConfig(t, server.URL)
	cfg.Fetch.Variables = []string{"tmin", "ppt"}

	p := newTestPipeline(cfg, &copyReducer{})
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if summary.FetchErrors != 1 {
		t.Errorf("expected 1 fetch error, got %d", summary.FetchErrors)
	}
	// ppt's job ran to completion despite tmin's outage.
	if summary.Fetched != 3 {
		t.Errorf("expected ppt's 3 archives fetched, got %d", summary.Fetched)
	}
	if summary.Materialized != 3 {
		t.Errorf("expected 3 materialized datasets, got %d", summary.Materialized)
	}
}

func TestRun_Cancellation(t *testing.T) {
	provider := &mockProvider{}
	server := httptest.NewServer(provider.handler(t))
	defer server.Close()

	cfg := pipelineConfig(t, server.URL)
	p := newTestPipeline(cfg, &copyReducer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Run(ctx); err == nil {
		t.Fatal("expected error from canceled context")
	}
}

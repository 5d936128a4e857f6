// Package prism implements the client for the PRISM archive download service.
package prism

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrFetch is returned when a provider request fails. Failures are surfaced
// per unit of work, never retried automatically.
var ErrFetch = errors.New("provider fetch failed")

// Client handles communication with the PRISM download service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new PRISM service client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the client.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// Release describes what the provider currently serves for a dataset key.
type Release struct {
	// Name is the dataset directory name the archive extracts to.
	Name string `json:"name"`
	// ReleaseDate is the provider's publication date for the dataset.
	ReleaseDate string `json:"release_date"`
}

// Release probes the provider for the dataset an archive request would
// return, without downloading it. The probe backs the skip-if-downloaded
// check: a local directory matching the released name means the archive has
// already been fetched.
func (c *Client) Release(ctx context.Context, params *DownloadParams) (*Release, error) {
	path, err := params.ReleasePath()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	probeURL, err := c.buildURL(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	c.logger.DebugContext(ctx, "probing release",
		slog.String("dataset", params.String()),
		slog.String("url", probeURL),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "prism-clip/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: release probe for %s: %v", ErrFetch, params, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: release probe for %s returned status %d: %s", ErrFetch, params, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("%w: failed to decode release probe for %s: %v", ErrFetch, params, err)
	}
	if release.Name == "" {
		return nil, fmt.Errorf("%w: release probe for %s returned no dataset name", ErrFetch, params)
	}

	return &release, nil
}

// Download fetches the archive for params and extracts it into a dataset
// directory under destRoot, returning the directory path. The transport zip
// is discarded immediately after extraction.
func (c *Client) Download(ctx context.Context, params *DownloadParams, destRoot string) (string, error) {
	path, err := params.Path()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	archiveURL, err := c.buildURL(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}

	c.logger.DebugContext(ctx, "downloading archive",
		slog.String("dataset", params.String()),
		slog.String("url", archiveURL),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, archiveURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", "prism-clip/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: download of %s: %v", ErrFetch, params, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: download of %s returned status %d: %s", ErrFetch, params, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// Spool the archive to a temp file; zip needs random access.
	tmp, err := os.CreateTemp("", "prism-clip-*.zip")
	if err != nil {
		return "", fmt.Errorf("%w: failed to create temp archive: %v", ErrFetch, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	size, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: download of %s interrupted: %v", ErrFetch, params, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: failed to flush temp archive: %v", ErrFetch, err)
	}

	name := datasetName(resp, params)
	destDir := filepath.Join(destRoot, name)
	if err := extractZip(tmpName, destDir); err != nil {
		return "", fmt.Errorf("%w: extract of %s: %v", ErrFetch, params, err)
	}

	c.logger.InfoContext(ctx, "archive extracted",
		slog.String("dataset", params.String()),
		slog.String("dir", destDir),
		slog.Int64("archive_bytes", size),
	)

	return destDir, nil
}

// buildURL joins the base URL with a request path.
func (c *Client) buildURL(path string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	base.Path = path
	return base.String(), nil
}

// datasetName derives the dataset directory name from the archive response,
// preferring the provider's Content-Disposition filename.
func datasetName(resp *http.Response, params *DownloadParams) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, p, err := mime.ParseMediaType(cd); err == nil {
			if filename := p["filename"]; filename != "" {
				return strings.TrimSuffix(filename, filepath.Ext(filename))
			}
		}
	}
	// Fallback: synthesize from the request key.
	return strings.ReplaceAll(params.String(), "/", "_")
}

// extractZip unpacks archive into destDir, flattening any directory entries
// and rejecting names that escape the destination.
func extractZip(archive, destDir string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", destDir, err)
	}

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(f.Name)
		if name == "." || name == ".." || name == "/" {
			return fmt.Errorf("archive entry %q has no usable name", f.Name)
		}
		if err := extractEntry(f, filepath.Join(destDir, name)); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(f *zip.File, dest string) error {
	in, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", f.Name, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return out.Close()
}

package dump

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	slogctx "github.com/veqryn/slog-context"

	"github.com/delve-search/delve/app/storage"
)

// Extracted dumps are directories named like `2024-01-10-020047` (UTC). The
// format is fixed-width and zero-padded, so lexicographic order on the names
// matches chronological order; the resolver relies on that for comparisons.
const folderDateLayout = "2006-01-02-150405"

// Resolver decides which extracted dump, if any, the next cycle should
// import. It probes the remote archive for freshness, reuses local
// extractions when possible, garbage-collects stale ones, and downloads a
// new archive as a last resort.
type Resolver struct {
	store  storage.Store
	client *http.Client
	url    string
	dir    string
	// How long an extracted dump counts as fresh after its timestamp.
	freshFor time.Duration
}

func NewResolver(store storage.Store, url string, dir string, freshFor time.Duration) *Resolver {
	return &Resolver{
		store:    store,
		client:   &http.Client{},
		url:      url,
		dir:      dir,
		freshFor: freshFor,
	}
}

// Resolve returns the directory of the dump to import, or ok=false when the
// last imported dump is already at least as recent as the best available
// one. Probe failures abort the cycle without mutating any state.
func (r *Resolver) Resolve(ctx context.Context) (string, bool, error) {
	state, err := r.store.GetImportState()
	if err != nil {
		return "", false, err
	}

	lastModified, err := r.probe(ctx)
	if err != nil {
		return "", false, err
	}
	newDumpAvailable := state.DownloadedLastModified == "" || state.DownloadedLastModified < lastModified

	// When the remote isn't newer, the latest local extraction is acceptable
	// even past strict freshness.
	latest, err := r.scanExtracted(!newDumpAvailable)
	if err != nil {
		return "", false, err
	}

	if latest != "" {
		if state.LastDumpImported != "" && state.LastDumpImported >= latest {
			return "", false, nil
		}
		state.DownloadedLastModified = lastModified
		if err := r.saveState(state); err != nil {
			return "", false, err
		}
		return filepath.Join(r.dir, latest), true, nil
	}

	name, downloadedLastModified, err := r.download(ctx)
	if err != nil {
		return "", false, err
	}
	state.DownloadedLastModified = downloadedLastModified
	if err := r.saveState(state); err != nil {
		return "", false, err
	}
	return filepath.Join(r.dir, name), true, nil
}

// saveState persists the import state immediately so a crash mid-cycle
// resumes correctly.
func (r *Resolver) saveState(state *storage.ImportState) error {
	return r.store.Apply([]storage.Op{storage.PutImportState{State: *state}})
}

// probe issues a HEAD request for the dump's Last-Modified marker.
func (r *Resolver) probe(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("dump probe returned status %v", resp.Status)
	}
	lastModified := resp.Header.Get("Last-Modified")
	if lastModified == "" {
		return "", fmt.Errorf("dump is missing its Last-Modified header")
	}
	return lastModified, nil
}

// scanExtracted finds the most recent extracted dump directory and deletes
// stale non-latest ones to reclaim disk. It returns "" when nothing usable
// exists; the latest extraction is usable when it is fresh, or always when
// allowStale is set.
func (r *Resolver) scanExtracted(allowStale bool) (string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	latest := ""
	timestamps := map[string]time.Time{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		extractedAt, ok := parseFolderDate(entry.Name())
		if !ok {
			continue
		}
		timestamps[entry.Name()] = extractedAt
		if entry.Name() > latest {
			latest = entry.Name()
		}
	}

	for name, extractedAt := range timestamps {
		if name == latest {
			continue
		}
		if extractedAt.Add(r.freshFor).Before(now) {
			if err := os.RemoveAll(filepath.Join(r.dir, name)); err != nil {
				return "", err
			}
		}
	}

	if latest == "" {
		return "", nil
	}
	if allowStale || !timestamps[latest].Add(r.freshFor).Before(now) {
		return latest, nil
	}
	return "", nil
}

func parseFolderDate(name string) (time.Time, bool) {
	if len(name) != len(folderDateLayout) {
		return time.Time{}, false
	}
	extractedAt, err := time.Parse(folderDateLayout, name)
	if err != nil {
		return time.Time{}, false
	}
	return extractedAt, true
}

// download fetches and extracts a new archive, returning the name of the
// freshest extracted directory and the archive's Last-Modified marker.
func (r *Resolver) download(ctx context.Context) (string, string, error) {
	slogctx.Info(ctx, "Downloading new dump", "url", r.url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("dump download returned status %v", resp.Status)
	}
	lastModified := resp.Header.Get("Last-Modified")
	if lastModified == "" {
		return "", "", fmt.Errorf("dump is missing its Last-Modified header")
	}

	archive := filepath.Join(r.dir, fmt.Sprintf("db-dump-%v.tar.gz", uuid.New()))
	file, err := os.Create(archive)
	if err != nil {
		return "", "", err
	}
	defer os.Remove(archive)

	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		return "", "", err
	}
	if err := file.Close(); err != nil {
		return "", "", err
	}

	if err := extractTarGz(archive, r.dir); err != nil {
		return "", "", fmt.Errorf("error extracting dump: %w", err)
	}

	latest, err := r.scanExtracted(true)
	if err != nil {
		return "", "", err
	}
	if latest == "" {
		return "", "", fmt.Errorf("archive contained no dated export directory")
	}
	return latest, lastModified, nil
}

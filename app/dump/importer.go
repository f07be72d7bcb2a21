package dump

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	slogctx "github.com/veqryn/slog-context"

	"github.com/delve-search/delve/app/fulltext"
	"github.com/delve-search/delve/app/storage"
)

// Importer streams one extracted dump's flat files, diffs every row against
// the store and emits a minimal operation log. Reruns on unchanged input are
// idempotent: identical rows emit nothing.
type Importer struct {
	store storage.Store
	dir   string
	// Download rows within this many days before the newest previously
	// imported date are re-imported to pick up revised counts.
	reimportWindowDays int

	changed []fulltext.Doc
}

func NewImporter(store storage.Store, dir string, reimportWindowDays int) *Importer {
	return &Importer{store: store, dir: dir, reimportWindowDays: reimportWindowDays}
}

// ChangedCrates returns the full-text docs for every crate the log inserted
// or updated, valid after Run returns.
func (imp *Importer) ChangedCrates() []fulltext.Doc {
	return imp.changed
}

// Run parses the dump in dependency order and sends ops to the committer.
// Any malformed or referentially inconsistent row is a hard error that
// aborts the whole cycle.
func (imp *Importer) Run(ctx context.Context, ops chan<- storage.Op) error {
	data := filepath.Join(imp.dir, "data")

	if err := imp.importCrates(ctx, data, ops); err != nil {
		return err
	}
	if err := imp.importKeywords(ctx, data, ops); err != nil {
		return err
	}
	if err := imp.importCategories(ctx, data, ops); err != nil {
		return err
	}
	versionCrates, err := imp.importVersions(ctx, data, ops)
	if err != nil {
		return err
	}
	if err := imp.importVersionDownloads(ctx, data, ops, versionCrates); err != nil {
		return err
	}

	// Record the imported dump in the same op stream so it commits with (or
	// after) the data it describes.
	state, err := imp.store.GetImportState()
	if err != nil {
		return err
	}
	state.LastDumpImported = filepath.Base(imp.dir)
	return send(ctx, ops, storage.PutImportState{State: *state})
}

func send(ctx context.Context, ops chan<- storage.Op, op storage.Op) error {
	select {
	case ops <- op:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (imp *Importer) importCrates(ctx context.Context, data string, ops chan<- storage.Op) error {
	slogctx.Info(ctx, "Parsing crate keywords")
	keywordsByCrate, err := loadCrateKeywords(data)
	if err != nil {
		return err
	}
	slogctx.Info(ctx, "Parsing crate categories")
	categoriesByCrate, err := loadCrateCategories(data)
	if err != nil {
		return err
	}
	slogctx.Info(ctx, "Parsing crate owners")
	ownersByCrate, err := loadCrateOwners(data)
	if err != nil {
		return err
	}

	slogctx.Info(ctx, "Parsing crates")
	table, err := openTable(filepath.Join(data, "crates.csv"))
	if err != nil {
		return err
	}
	defer table.Close()

	id := table.column("id")
	name := table.column("name")
	description := table.column("description")
	documentation := table.column("documentation")
	homepage := table.column("homepage")
	repository := table.column("repository")
	readme := table.column("readme")
	downloads := table.column("downloads")
	maxUploadSize := table.column("max_upload_size")
	createdAt := table.column("created_at")
	updatedAt := table.column("updated_at")

	return table.each(func(row []string) error {
		crateID, err := parseID(row[id])
		if err != nil {
			return fmt.Errorf("crates.csv: %w", err)
		}
		crateDownloads, err := parseOptionalInt(row[downloads])
		if err != nil {
			return fmt.Errorf("crates.csv: crate %d: %w", crateID, err)
		}
		uploadSize, err := parseOptionalInt(row[maxUploadSize])
		if err != nil {
			return fmt.Errorf("crates.csv: crate %d: %w", crateID, err)
		}

		// Absent membership sets default to empty; that's the one permissive
		// case in the model.
		crate := storage.Crate{
			ID:            crateID,
			Name:          row[name],
			Description:   row[description],
			Documentation: row[documentation],
			Homepage:      row[homepage],
			Repository:    row[repository],
			Readme:        row[readme],
			Downloads:     crateDownloads,
			MaxUploadSize: uploadSize,
			CreatedAt:     row[createdAt],
			UpdatedAt:     row[updatedAt],
			Keywords:      keywordsByCrate[crateID],
			Categories:    categoriesByCrate[crateID],
			Owners:        ownersByCrate[crateID],
		}

		existing, err := imp.store.GetCrate(crateID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Equal(&crate) {
			return nil
		}

		imp.changed = append(imp.changed, fulltext.Doc{
			ID:          crate.ID,
			Name:        crate.Name,
			Description: crate.Description,
			Readme:      crate.Readme,
		})
		return send(ctx, ops, storage.PutCrate{Crate: crate})
	})
}

func loadCrateKeywords(data string) (map[int64][]int64, error) {
	return loadMemberships(filepath.Join(data, "crates_keywords.csv"), "keyword_id")
}

func loadCrateCategories(data string) (map[int64][]int64, error) {
	return loadMemberships(filepath.Join(data, "crates_categories.csv"), "category_id")
}

// loadMemberships reads a (crate_id, member_id) table fully into memory as
// sorted id sets keyed by crate id.
func loadMemberships(path string, memberColumn string) (map[int64][]int64, error) {
	table, err := openTable(path)
	if err != nil {
		return nil, err
	}
	defer table.Close()

	crateID := table.column("crate_id")
	memberID := table.column(memberColumn)

	members := map[int64][]int64{}
	err = table.each(func(row []string) error {
		crate, err := parseID(row[crateID])
		if err != nil {
			return fmt.Errorf("%v: %w", filepath.Base(path), err)
		}
		member, err := parseID(row[memberID])
		if err != nil {
			return fmt.Errorf("%v: %w", filepath.Base(path), err)
		}
		members[crate] = append(members[crate], member)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for crate, ids := range members {
		slices.Sort(ids)
		members[crate] = slices.Compact(ids)
	}
	return members, nil
}

func loadCrateOwners(data string) (map[int64][]storage.Owner, error) {
	table, err := openTable(filepath.Join(data, "crate_owners.csv"))
	if err != nil {
		return nil, err
	}
	defer table.Close()

	crateID := table.column("crate_id")
	ownerID := table.column("owner_id")
	ownerKind := table.column("owner_kind")

	owners := map[int64][]storage.Owner{}
	err = table.each(func(row []string) error {
		crate, err := parseID(row[crateID])
		if err != nil {
			return fmt.Errorf("crate_owners.csv: %w", err)
		}
		id, err := parseID(row[ownerID])
		if err != nil {
			return fmt.Errorf("crate_owners.csv: %w", err)
		}
		kindTag, err := parseID(row[ownerKind])
		if err != nil {
			return fmt.Errorf("crate_owners.csv: %w", err)
		}
		kind, err := storage.ParseOwnerKind(kindTag)
		if err != nil {
			return fmt.Errorf("crate_owners.csv: crate %d: %w", crate, err)
		}
		owners[crate] = append(owners[crate], storage.Owner{Kind: kind, ID: id})
		return nil
	})
	if err != nil {
		return nil, err
	}

	for crate, set := range owners {
		storage.SortOwners(set)
		owners[crate] = slices.Compact(set)
	}
	return owners, nil
}

func (imp *Importer) importKeywords(ctx context.Context, data string, ops chan<- storage.Op) error {
	existing, err := imp.store.AllKeywords()
	if err != nil {
		return err
	}

	table, err := openTable(filepath.Join(data, "keywords.csv"))
	if err != nil {
		return err
	}
	defer table.Close()

	id := table.column("id")
	keyword := table.column("keyword")

	return table.each(func(row []string) error {
		keywordID, err := parseID(row[id])
		if err != nil {
			return fmt.Errorf("keywords.csv: %w", err)
		}
		parsed := storage.Keyword{ID: keywordID, Keyword: row[keyword]}
		if current, ok := existing[keywordID]; ok && current == parsed {
			return nil
		}
		return send(ctx, ops, storage.PutKeyword{Keyword: parsed})
	})
}

func (imp *Importer) importCategories(ctx context.Context, data string, ops chan<- storage.Op) error {
	existing, err := imp.store.AllCategories()
	if err != nil {
		return err
	}

	table, err := openTable(filepath.Join(data, "categories.csv"))
	if err != nil {
		return err
	}
	defer table.Close()

	id := table.column("id")
	category := table.column("category")
	slug := table.column("slug")
	path := table.column("path")
	description := table.column("description")
	createdAt := table.column("created_at")

	return table.each(func(row []string) error {
		categoryID, err := parseID(row[id])
		if err != nil {
			return fmt.Errorf("categories.csv: %w", err)
		}
		parsed := storage.Category{
			ID:          categoryID,
			Category:    row[category],
			Slug:        row[slug],
			Path:        row[path],
			Description: row[description],
			CreatedAt:   row[createdAt],
		}
		if current, ok := existing[categoryID]; ok && current == parsed {
			return nil
		}
		return send(ctx, ops, storage.PutCategory{Category: parsed})
	})
}

// importVersions diffs the versions table and returns the version -> crate
// mapping used to attribute download rows.
func (imp *Importer) importVersions(ctx context.Context, data string, ops chan<- storage.Op) (map[int64]int64, error) {
	slogctx.Info(ctx, "Parsing versions")
	existing, err := imp.store.AllVersions()
	if err != nil {
		return nil, err
	}

	table, err := openTable(filepath.Join(data, "versions.csv"))
	if err != nil {
		return nil, err
	}
	defer table.Close()

	id := table.column("id")
	crateID := table.column("crate_id")
	num := table.column("num")
	checksum := table.column("checksum")
	license := table.column("license")
	features := table.column("features")
	links := table.column("links")
	crateSize := table.column("crate_size")
	downloads := table.column("downloads")
	publishedBy := table.column("published_by")
	yanked := table.column("yanked")
	createdAt := table.column("created_at")
	updatedAt := table.column("updated_at")

	versionCrates := make(map[int64]int64, len(existing))
	err = table.each(func(row []string) error {
		versionID, err := parseID(row[id])
		if err != nil {
			return fmt.Errorf("versions.csv: %w", err)
		}
		versionCrate, err := parseID(row[crateID])
		if err != nil {
			return fmt.Errorf("versions.csv: version %d: %w", versionID, err)
		}
		versionCrates[versionID] = versionCrate

		size, err := parseOptionalInt(row[crateSize])
		if err != nil {
			return fmt.Errorf("versions.csv: version %d: %w", versionID, err)
		}
		versionDownloads, err := parseOptionalInt(row[downloads])
		if err != nil {
			return fmt.Errorf("versions.csv: version %d: %w", versionID, err)
		}
		publisher, err := parseOptionalInt(row[publishedBy])
		if err != nil {
			return fmt.Errorf("versions.csv: version %d: %w", versionID, err)
		}

		parsed := storage.Version{
			ID:          versionID,
			CrateID:     versionCrate,
			Num:         row[num],
			Checksum:    row[checksum],
			License:     row[license],
			Features:    row[features],
			Links:       row[links],
			CrateSize:   size,
			Downloads:   versionDownloads,
			PublishedBy: publisher,
			Yanked:      row[yanked] == "t",
			CreatedAt:   row[createdAt],
			UpdatedAt:   row[updatedAt],
		}
		if current, ok := existing[versionID]; ok && current == parsed {
			return nil
		}
		return send(ctx, ops, storage.PutVersion{Version: parsed})
	})
	if err != nil {
		return nil, err
	}
	return versionCrates, nil
}

func (imp *Importer) importVersionDownloads(ctx context.Context, data string, ops chan<- storage.Op, versionCrates map[int64]int64) error {
	slogctx.Info(ctx, "Parsing version downloads")

	// Only recent download counts are interesting: the reimport window before
	// the newest previously-imported date is re-applied to pick up revised
	// numbers, everything older is already stable and skipped. Download rows
	// are upserts, never diffed.
	latest, err := imp.store.LatestDownloadDate()
	if err != nil {
		return err
	}
	var cutoff storage.CalendarDate
	if latest != 0 {
		cutoff = latest.SubDays(imp.reimportWindowDays)
	}

	table, err := openTable(filepath.Join(data, "version_downloads.csv"))
	if err != nil {
		return err
	}
	defer table.Close()

	versionID := table.column("version_id")
	date := table.column("date")
	downloads := table.column("downloads")

	return table.each(func(row []string) error {
		version, err := parseID(row[versionID])
		if err != nil {
			return fmt.Errorf("version_downloads.csv: %w", err)
		}
		day, err := storage.ParseDate(row[date])
		if err != nil {
			return fmt.Errorf("version_downloads.csv: version %d: %w", version, err)
		}
		if cutoff != 0 && day < cutoff {
			return nil
		}

		count, err := parseID(row[downloads])
		if err != nil {
			return fmt.Errorf("version_downloads.csv: version %d: %w", version, err)
		}
		crate, ok := versionCrates[version]
		if !ok {
			return fmt.Errorf("invalid version download: unknown version id %d", version)
		}

		return send(ctx, ops, storage.PutVersionDownload{Download: storage.VersionDownload{
			Date:      day,
			VersionID: version,
			CrateID:   crate,
			Downloads: count,
		}})
	})
}

// table reads one header-driven CSV file from the dump.
type table struct {
	file    *os.File
	reader  *csv.Reader
	columns map[string]int
	missing []string
}

func openTable(path string) (*table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	// Rows outlive the iteration (ops are queued for a concurrent committer),
	// so the reader must not reuse record buffers.
	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%v: reading header: %w", filepath.Base(path), err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[name] = i
	}
	return &table{file: file, reader: reader, columns: columns}, nil
}

// column resolves a header name to its index. Missing columns are collected
// and reported on the first call to each, so callers can resolve all columns
// up front without per-column error handling.
func (t *table) column(name string) int {
	index, ok := t.columns[name]
	if !ok {
		t.missing = append(t.missing, name)
		return 0
	}
	return index
}

func (t *table) each(fn func(row []string) error) error {
	if len(t.missing) > 0 {
		return fmt.Errorf("%v: missing columns %v", filepath.Base(t.file.Name()), t.missing)
	}
	for {
		row, err := t.reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%v: %w", filepath.Base(t.file.Name()), err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

func (t *table) Close() error {
	return t.file.Close()
}

func parseID(value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric field %q", value)
	}
	return id, nil
}

// parseOptionalInt treats an empty field as zero; several dump columns are
// nullable counters.
func parseOptionalInt(value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	return parseID(value)
}

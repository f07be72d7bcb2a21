package storage

import (
	"fmt"
	"slices"
	"strings"
)

// Crate is the primary record for one package, merged from `crates.csv` and
// the per-crate keyword/category/owner membership tables. Crates are created
// and updated by the importer and never deleted; the dump carries no deletion
// signal.
type Crate struct {
	ID            int64
	Name          string
	Description   string
	Documentation string
	Homepage      string
	Repository    string
	Readme        string
	Downloads     int64
	MaxUploadSize int64
	CreatedAt     string
	UpdatedAt     string

	// Sorted id sets, kept ordered so two records compare with slices.Equal.
	Keywords   []int64
	Categories []int64
	Owners     []Owner
}

// NormalizedName lowercases a crate name and folds `-` to `_`, the same
// transformation applied to query tokens before name matching.
func NormalizedName(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' {
			return '_'
		}
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, name)
}

func (c *Crate) Equal(other *Crate) bool {
	return c.ID == other.ID &&
		c.Name == other.Name &&
		c.Description == other.Description &&
		c.Documentation == other.Documentation &&
		c.Homepage == other.Homepage &&
		c.Repository == other.Repository &&
		c.Readme == other.Readme &&
		c.Downloads == other.Downloads &&
		c.MaxUploadSize == other.MaxUploadSize &&
		c.CreatedAt == other.CreatedAt &&
		c.UpdatedAt == other.UpdatedAt &&
		slices.Equal(c.Keywords, other.Keywords) &&
		slices.Equal(c.Categories, other.Categories) &&
		slices.Equal(c.Owners, other.Owners)
}

// OwnerKind discriminates the two owner identities in the dump's
// `crate_owners.csv` (0=user, 1=team). Any other tag is a hard import error.
type OwnerKind int8

const (
	OwnerUser OwnerKind = 0
	OwnerTeam OwnerKind = 1
)

type Owner struct {
	Kind OwnerKind
	ID   int64
}

// ParseOwnerKind validates the numeric kind tag from the dump.
func ParseOwnerKind(kind int64) (OwnerKind, error) {
	switch kind {
	case 0:
		return OwnerUser, nil
	case 1:
		return OwnerTeam, nil
	default:
		return 0, fmt.Errorf("unexpected owner kind: %d", kind)
	}
}

// SortOwners orders owners by (kind, id) so owner sets compare predictably.
func SortOwners(owners []Owner) {
	slices.SortFunc(owners, func(a, b Owner) int {
		if a.Kind != b.Kind {
			return int(a.Kind) - int(b.Kind)
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

type Keyword struct {
	ID      int64
	Keyword string
}

type Category struct {
	ID          int64
	Category    string
	Slug        string
	Path        string
	Description string
	CreatedAt   string
}

// Version exists to resolve version id to crate id for download attribution,
// but the full row is kept so the diff against the next dump stays exact.
type Version struct {
	ID          int64
	CrateID     int64
	Num         string
	Checksum    string
	License     string
	Features    string
	Links       string
	CrateSize   int64
	Downloads   int64
	PublishedBy int64
	Yanked      bool
	CreatedAt   string
	UpdatedAt   string
}

// VersionDownload records one (date, version) download count. The composite
// key is date-first so range scans by date are contiguous.
type VersionDownload struct {
	Date      CalendarDate
	VersionID int64
	CrateID   int64
	Downloads int64
}

// ImportState is a singleton tracking dump freshness across restarts. It is
// persisted immediately after a successful download and again after a
// successful import so a crash mid-cycle resumes correctly.
type ImportState struct {
	// The remote archive's Last-Modified header as of the latest download.
	DownloadedLastModified string
	// The directory name (`<date>-<HHMMSS>`) of the last imported dump.
	LastDumpImported string
}

// CrateSummary is the denormalized per-crate row produced by the
// name-ordered crate view, consumed by the cache.
type CrateSummary struct {
	ID             int64
	Name           string
	NormalizedName string
	Description    string
	Downloads      int64
	Keywords       []int64
}

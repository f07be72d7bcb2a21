package storage

// Store is the collection/view contract the rest of the system consumes. The
// importer uses the point and bulk reads to diff dump rows against current
// state and Apply to commit its operation log; the cache and the ranking
// engine depend only on the four view query shapes at the bottom.
type Store interface {
	// Create tables if they don't exist.
	Setup() error
	Close() error

	// GetImportState returns the singleton import state, or a zero value if
	// none has been persisted yet.
	GetImportState() (*ImportState, error)

	// GetCrate returns nil (no error) when the id is not present.
	GetCrate(id int64) (*Crate, error)
	// Full collection loads used by the importer's diff passes.
	AllKeywords() (map[int64]Keyword, error)
	AllCategories() (map[int64]Category, error)
	AllVersions() (map[int64]Version, error)
	// LatestDownloadDate returns the newest version-download date, or zero if
	// no downloads have been imported.
	LatestDownloadDate() (CalendarDate, error)

	// Apply commits a batch of operations as one atomic transaction.
	Apply(ops []Op) error
	// Compact reclaims space from superseded record versions.
	Compact() error

	// Full scan of crates ordered by normalized name.
	CrateSummaries() ([]CrateSummary, error)
	// Prefix query over keyword text.
	KeywordsWithPrefix(prefix string) ([]Keyword, error)
	// Exact-key membership lookup on the crate-by-keyword index.
	CrateIDsWithKeyword(keywordID int64) ([]int64, error)
	// Range query over download dates, reduced to a per-crate sum.
	RecentDownloads(since CalendarDate) (map[int64]int64, error)
}

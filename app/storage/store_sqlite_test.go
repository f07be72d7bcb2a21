package storage

import (
	"path/filepath"
	"reflect"
	"slices"
	"testing"
)

// newTestStore creates an in-memory store with the schema applied.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := SQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.Setup(); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func testCrate() Crate {
	return Crate{
		ID:          1,
		Name:        "serde-derive",
		Description: "Macros for serde",
		Downloads:   500,
		CreatedAt:   "2015-01-01 00:00:00",
		UpdatedAt:   "2024-01-01 00:00:00",
		Keywords:    []int64{10, 11},
		Categories:  []int64{20},
		Owners:      []Owner{{Kind: OwnerUser, ID: 3}, {Kind: OwnerTeam, ID: 4}},
	}
}

func TestGetCrateRoundTrip(t *testing.T) {
	store := newTestStore(t)

	missing, err := store.GetCrate(1)
	if err != nil {
		t.Fatalf("GetCrate() error: %v", err)
	}
	if missing != nil {
		t.Fatalf("GetCrate() on empty store = %+v, want nil", missing)
	}

	want := testCrate()
	if err := store.Apply([]Op{PutCrate{want}}); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	got, err := store.GetCrate(1)
	if err != nil {
		t.Fatalf("GetCrate() error: %v", err)
	}
	if got == nil || !got.Equal(&want) {
		t.Errorf("GetCrate() = %+v, want %+v", got, want)
	}
}

func TestApplyIsAtomic(t *testing.T) {
	store := newTestStore(t)

	// An unknown op type fails the whole batch; the valid crate op that
	// precedes it must not be visible afterwards.
	err := store.Apply([]Op{PutCrate{testCrate()}, nil})
	if err == nil {
		t.Fatal("Apply() with a bad op did not return an error")
	}

	got, err := store.GetCrate(1)
	if err != nil {
		t.Fatalf("GetCrate() error: %v", err)
	}
	if got != nil {
		t.Errorf("crate from a rolled-back batch is visible: %+v", got)
	}
}

func TestCrateSummariesOrderedByNormalizedName(t *testing.T) {
	store := newTestStore(t)

	err := store.Apply([]Op{
		PutCrate{Crate{ID: 1, Name: "Zeta", Downloads: 1}},
		PutCrate{Crate{ID: 2, Name: "alpha-two", Downloads: 2, Keywords: []int64{7}}},
		PutCrate{Crate{ID: 3, Name: "alpha_one", Downloads: 3}},
	})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	summaries, err := store.CrateSummaries()
	if err != nil {
		t.Fatalf("CrateSummaries() error: %v", err)
	}

	var names []string
	for _, s := range summaries {
		names = append(names, s.NormalizedName)
	}
	want := []string{"alpha_one", "alpha_two", "zeta"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("summary order = %v, want %v", names, want)
	}
	if !slices.Equal(summaries[1].Keywords, []int64{7}) {
		t.Errorf("summary keywords = %v, want [7]", summaries[1].Keywords)
	}
}

func TestKeywordsWithPrefix(t *testing.T) {
	store := newTestStore(t)

	err := store.Apply([]Op{
		PutKeyword{Keyword{ID: 1, Keyword: "serialization"}},
		PutKeyword{Keyword{ID: 2, Keyword: "serde"}},
		PutKeyword{Keyword{ID: 3, Keyword: "parser"}},
	})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	keywords, err := store.KeywordsWithPrefix("ser")
	if err != nil {
		t.Fatalf("KeywordsWithPrefix() error: %v", err)
	}
	var texts []string
	for _, k := range keywords {
		texts = append(texts, k.Keyword)
	}
	want := []string{"serde", "serialization"}
	if !reflect.DeepEqual(texts, want) {
		t.Errorf("KeywordsWithPrefix(ser) = %v, want %v", texts, want)
	}

	// LIKE metacharacters in the prefix must be treated literally.
	keywords, err = store.KeywordsWithPrefix("%")
	if err != nil {
		t.Fatalf("KeywordsWithPrefix() error: %v", err)
	}
	if len(keywords) != 0 {
		t.Errorf("KeywordsWithPrefix(%%) = %v, want none", keywords)
	}
}

func TestCrateIDsWithKeyword(t *testing.T) {
	store := newTestStore(t)

	err := store.Apply([]Op{
		PutCrate{Crate{ID: 1, Name: "serde", Keywords: []int64{10, 11}}},
		PutCrate{Crate{ID: 2, Name: "serde_json", Keywords: []int64{10}}},
		PutCrate{Crate{ID: 3, Name: "rand", Keywords: []int64{12}}},
	})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	ids, err := store.CrateIDsWithKeyword(10)
	if err != nil {
		t.Fatalf("CrateIDsWithKeyword() error: %v", err)
	}
	slices.Sort(ids)
	if !slices.Equal(ids, []int64{1, 2}) {
		t.Errorf("CrateIDsWithKeyword(10) = %v, want [1 2]", ids)
	}

	// Updating the crate replaces its membership rows.
	if err := store.Apply([]Op{PutCrate{Crate{ID: 1, Name: "serde", Keywords: []int64{11}}}}); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	ids, err = store.CrateIDsWithKeyword(10)
	if err != nil {
		t.Fatalf("CrateIDsWithKeyword() error: %v", err)
	}
	if !slices.Equal(ids, []int64{2}) {
		t.Errorf("CrateIDsWithKeyword(10) after update = %v, want [2]", ids)
	}
}

func TestRecentDownloadsGroupedSum(t *testing.T) {
	store := newTestStore(t)

	day := func(s string) CalendarDate {
		t.Helper()
		date, err := ParseDate(s)
		if err != nil {
			t.Fatalf("ParseDate(%q) error: %v", s, err)
		}
		return date
	}

	err := store.Apply([]Op{
		PutVersionDownload{VersionDownload{Date: day("2024-01-01"), VersionID: 1, CrateID: 1, Downloads: 5}},
		PutVersionDownload{VersionDownload{Date: day("2024-01-08"), VersionID: 1, CrateID: 1, Downloads: 7}},
		PutVersionDownload{VersionDownload{Date: day("2024-01-08"), VersionID: 2, CrateID: 1, Downloads: 2}},
		PutVersionDownload{VersionDownload{Date: day("2024-01-09"), VersionID: 3, CrateID: 2, Downloads: 11}},
	})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	latest, err := store.LatestDownloadDate()
	if err != nil {
		t.Fatalf("LatestDownloadDate() error: %v", err)
	}
	if latest != day("2024-01-09") {
		t.Errorf("LatestDownloadDate() = %v, want 2024-01-09", latest)
	}

	downloads, err := store.RecentDownloads(day("2024-01-08"))
	if err != nil {
		t.Fatalf("RecentDownloads() error: %v", err)
	}
	want := map[int64]int64{1: 9, 2: 11}
	if !reflect.DeepEqual(downloads, want) {
		t.Errorf("RecentDownloads() = %v, want %v", downloads, want)
	}

	// Upserting the same (date, version) key overwrites, not accumulates.
	err = store.Apply([]Op{
		PutVersionDownload{VersionDownload{Date: day("2024-01-08"), VersionID: 1, CrateID: 1, Downloads: 100}},
	})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	downloads, err = store.RecentDownloads(day("2024-01-08"))
	if err != nil {
		t.Fatalf("RecentDownloads() error: %v", err)
	}
	if downloads[1] != 102 {
		t.Errorf("downloads for crate 1 after overwrite = %d, want 102", downloads[1])
	}
}

func TestReadsDoNotBlockOnWriteTransaction(t *testing.T) {
	// File-backed so the connection pool is not capped; reads must run on
	// their own connection against the last committed WAL snapshot while a
	// write transaction is open.
	store, err := SQLite(filepath.Join(t.TempDir(), "delve.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.Setup(); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})

	if err := store.Apply([]Op{PutKeyword{Keyword{ID: 1, Keyword: "serde"}}}); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	// Take the write lock the way a long import batch does.
	tx, err := store.conn.Begin()
	if err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	if _, err := tx.Exec("REPLACE INTO keywords (id, keyword) VALUES (2, 'serialization');"); err != nil {
		t.Fatalf("write inside transaction failed: %v", err)
	}

	keywords, err := store.KeywordsWithPrefix("ser")
	if err != nil {
		t.Fatalf("KeywordsWithPrefix() during open transaction: %v", err)
	}
	if len(keywords) != 1 || keywords[0].Keyword != "serde" {
		t.Errorf("read during open transaction = %v, want only the committed keyword", keywords)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	keywords, err = store.KeywordsWithPrefix("ser")
	if err != nil {
		t.Fatalf("KeywordsWithPrefix() error: %v", err)
	}
	if len(keywords) != 2 {
		t.Errorf("read after commit = %v, want both keywords", keywords)
	}
}

func TestImportStatePersistence(t *testing.T) {
	store := newTestStore(t)

	state, err := store.GetImportState()
	if err != nil {
		t.Fatalf("GetImportState() error: %v", err)
	}
	if state.DownloadedLastModified != "" || state.LastDumpImported != "" {
		t.Errorf("fresh store returned non-zero state: %+v", state)
	}

	want := ImportState{DownloadedLastModified: "Wed, 10 Jan 2024 02:00:47 GMT", LastDumpImported: "2024-01-10-020047"}
	if err := store.Apply([]Op{PutImportState{want}}); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	state, err = store.GetImportState()
	if err != nil {
		t.Fatalf("GetImportState() error: %v", err)
	}
	if *state != want {
		t.Errorf("GetImportState() = %+v, want %+v", *state, want)
	}
}

package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements the Store contract on a single SQLite database.
// Collections are plain tables keyed by the dump's stable numeric ids; the
// view query shapes are served by secondary indexes declared in the setup
// script.
type SQLiteStore struct {
	conn *sql.DB
}

//go:embed store_sqlite_setup.sql
var setupCommands string

// SQLite opens (or creates) a store at the given path. Use `:memory:` for an
// ephemeral database in tests.
func SQLite(connectionString string) (*SQLiteStore, error) {
	// WAL (enabled in Setup) lets readers run against the last committed
	// snapshot while an import batch commits; the busy timeout covers the
	// rare writer-writer collision (import batch vs. state persistence).
	dsn := connectionString
	if strings.Contains(dsn, "?") {
		dsn += "&_busy_timeout=10000"
	} else {
		dsn += "?_busy_timeout=10000"
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	// Every connection to :memory: opens its own empty database, so tests
	// must stay on a single shared connection.
	if strings.Contains(connectionString, ":memory:") {
		conn.SetMaxOpenConns(1)
	}

	return &SQLiteStore{conn}, nil
}

func (s *SQLiteStore) Setup() error {
	_, err := s.conn.Exec(setupCommands)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) GetImportState() (*ImportState, error) {
	row := s.conn.QueryRow("SELECT downloaded_last_modified, last_dump_imported FROM import_state WHERE id = 1;")

	state := &ImportState{}
	err := row.Scan(&state.DownloadedLastModified, &state.LastDumpImported)
	if err == sql.ErrNoRows {
		return &ImportState{}, nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *SQLiteStore) GetCrate(id int64) (*Crate, error) {
	row := s.conn.QueryRow(`
		SELECT id, name, description, documentation, homepage, repository, readme,
		       downloads, max_upload_size, created_at, updated_at, keywords, categories, owners
		FROM crates WHERE id = ?;`, id)

	c := &Crate{}
	var keywords, categories, owners string
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Documentation, &c.Homepage, &c.Repository,
		&c.Readme, &c.Downloads, &c.MaxUploadSize, &c.CreatedAt, &c.UpdatedAt,
		&keywords, &categories, &owners)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(keywords), &c.Keywords); err != nil {
		return nil, fmt.Errorf("crate %d has corrupt keyword set: %w", id, err)
	}
	if err := json.Unmarshal([]byte(categories), &c.Categories); err != nil {
		return nil, fmt.Errorf("crate %d has corrupt category set: %w", id, err)
	}
	if err := json.Unmarshal([]byte(owners), &c.Owners); err != nil {
		return nil, fmt.Errorf("crate %d has corrupt owner set: %w", id, err)
	}
	return c, nil
}

func (s *SQLiteStore) AllKeywords() (map[int64]Keyword, error) {
	rows, err := s.conn.Query("SELECT id, keyword FROM keywords;")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keywords := map[int64]Keyword{}
	for rows.Next() {
		var k Keyword
		if err := rows.Scan(&k.ID, &k.Keyword); err != nil {
			return nil, err
		}
		keywords[k.ID] = k
	}
	return keywords, rows.Err()
}

func (s *SQLiteStore) AllCategories() (map[int64]Category, error) {
	rows, err := s.conn.Query("SELECT id, category, slug, path, description, created_at FROM categories;")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := map[int64]Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Category, &c.Slug, &c.Path, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		categories[c.ID] = c
	}
	return categories, rows.Err()
}

func (s *SQLiteStore) AllVersions() (map[int64]Version, error) {
	rows, err := s.conn.Query(`
		SELECT id, crate_id, num, checksum, license, features, links,
		       crate_size, downloads, published_by, yanked, created_at, updated_at
		FROM versions;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := map[int64]Version{}
	for rows.Next() {
		var v Version
		if err := rows.Scan(&v.ID, &v.CrateID, &v.Num, &v.Checksum, &v.License, &v.Features, &v.Links,
			&v.CrateSize, &v.Downloads, &v.PublishedBy, &v.Yanked, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		versions[v.ID] = v
	}
	return versions, rows.Err()
}

func (s *SQLiteStore) LatestDownloadDate() (CalendarDate, error) {
	row := s.conn.QueryRow("SELECT COALESCE(MAX(date), 0) FROM version_downloads;")
	var date uint32
	if err := row.Scan(&date); err != nil {
		return 0, err
	}
	return CalendarDate(date), nil
}

func (s *SQLiteStore) Apply(ops []Op) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}

	for _, op := range ops {
		if err := applyOp(tx, op); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return rbErr
			}
			return err
		}
	}

	return tx.Commit()
}

func applyOp(tx *sql.Tx, op Op) error {
	switch op := op.(type) {
	case PutCrate:
		return applyPutCrate(tx, &op.Crate)
	case PutKeyword:
		_, err := tx.Exec("REPLACE INTO keywords (id, keyword) VALUES (?, ?);", op.Keyword.ID, op.Keyword.Keyword)
		return err
	case PutCategory:
		c := &op.Category
		_, err := tx.Exec("REPLACE INTO categories (id, category, slug, path, description, created_at) VALUES (?, ?, ?, ?, ?, ?);",
			c.ID, c.Category, c.Slug, c.Path, c.Description, c.CreatedAt)
		return err
	case PutVersion:
		v := &op.Version
		_, err := tx.Exec(`
			REPLACE INTO versions (id, crate_id, num, checksum, license, features, links,
			                       crate_size, downloads, published_by, yanked, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			v.ID, v.CrateID, v.Num, v.Checksum, v.License, v.Features, v.Links,
			v.CrateSize, v.Downloads, v.PublishedBy, v.Yanked, v.CreatedAt, v.UpdatedAt)
		return err
	case PutVersionDownload:
		d := &op.Download
		_, err := tx.Exec("REPLACE INTO version_downloads (date, version_id, crate_id, downloads) VALUES (?, ?, ?, ?);",
			uint32(d.Date), d.VersionID, d.CrateID, d.Downloads)
		return err
	case PutImportState:
		_, err := tx.Exec(`
			INSERT INTO import_state (id, downloaded_last_modified, last_dump_imported) VALUES (1, ?, ?)
			ON CONFLICT (id) DO UPDATE SET downloaded_last_modified = excluded.downloaded_last_modified,
			                               last_dump_imported = excluded.last_dump_imported;`,
			op.State.DownloadedLastModified, op.State.LastDumpImported)
		return err
	default:
		return fmt.Errorf("unknown operation type %T", op)
	}
}

func applyPutCrate(tx *sql.Tx, c *Crate) error {
	keywords, err := json.Marshal(c.Keywords)
	if err != nil {
		return err
	}
	categories, err := json.Marshal(c.Categories)
	if err != nil {
		return err
	}
	owners, err := json.Marshal(c.Owners)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		REPLACE INTO crates (id, name, normalized_name, description, documentation, homepage, repository,
		                     readme, downloads, max_upload_size, created_at, updated_at, keywords, categories, owners)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		c.ID, c.Name, NormalizedName(c.Name), c.Description, c.Documentation, c.Homepage, c.Repository,
		c.Readme, c.Downloads, c.MaxUploadSize, c.CreatedAt, c.UpdatedAt,
		string(keywords), string(categories), string(owners))
	if err != nil {
		return err
	}

	// Rebuild the keyword membership index for this crate.
	if _, err := tx.Exec("DELETE FROM crate_keywords WHERE crate_id = ?;", c.ID); err != nil {
		return err
	}
	for _, keywordID := range c.Keywords {
		if _, err := tx.Exec("INSERT INTO crate_keywords (crate_id, keyword_id) VALUES (?, ?);", c.ID, keywordID); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Compact() error {
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	if _, err := s.conn.Exec("VACUUM;"); err != nil {
		return fmt.Errorf("vacuum failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CrateSummaries() ([]CrateSummary, error) {
	rows, err := s.conn.Query(`
		SELECT id, name, normalized_name, description, downloads, keywords
		FROM crates ORDER BY normalized_name;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []CrateSummary
	for rows.Next() {
		var summary CrateSummary
		var keywords string
		if err := rows.Scan(&summary.ID, &summary.Name, &summary.NormalizedName, &summary.Description,
			&summary.Downloads, &keywords); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(keywords), &summary.Keywords); err != nil {
			return nil, fmt.Errorf("crate %d has corrupt keyword set: %w", summary.ID, err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *SQLiteStore) KeywordsWithPrefix(prefix string) ([]Keyword, error) {
	rows, err := s.conn.Query(`SELECT id, keyword FROM keywords WHERE keyword LIKE ? ESCAPE '\' ORDER BY keyword;`,
		likeEscaper.Replace(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keywords []Keyword
	for rows.Next() {
		var k Keyword
		if err := rows.Scan(&k.ID, &k.Keyword); err != nil {
			return nil, err
		}
		keywords = append(keywords, k)
	}
	return keywords, rows.Err()
}

func (s *SQLiteStore) CrateIDsWithKeyword(keywordID int64) ([]int64, error) {
	rows, err := s.conn.Query("SELECT crate_id FROM crate_keywords WHERE keyword_id = ?;", keywordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) RecentDownloads(since CalendarDate) (map[int64]int64, error) {
	rows, err := s.conn.Query(`
		SELECT crate_id, SUM(downloads) FROM version_downloads
		WHERE date >= ? GROUP BY crate_id;`, uint32(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	downloads := map[int64]int64{}
	for rows.Next() {
		var crateID, total int64
		if err := rows.Scan(&crateID, &total); err != nil {
			return nil, err
		}
		downloads[crateID] = total
	}
	return downloads, rows.Err()
}

// Package fulltext wraps a bleve index over crate descriptions and readmes.
// It is an optional collaborator: the store and the index are separate
// systems, reconciled only through the crate id.
package fulltext

import (
	"fmt"
	"os"
	"strconv"

	"github.com/blevesearch/bleve/v2"
)

// Doc is what the import cycle feeds the index for every changed crate.
type Doc struct {
	ID          int64
	Name        string `json:"name"`
	Description string `json:"description"`
	Readme      string `json:"readme"`
}

// Hit is one ranked match from a query.
type Hit struct {
	ID    int64
	Score float64
}

type Index struct {
	idx bleve.Index
}

// Open opens the index at path, creating it if it doesn't exist.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist || os.IsNotExist(err) {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("error opening fulltext index at %v: %w", path, err)
	}
	return &Index{idx}, nil
}

// OpenMemory creates an ephemeral in-memory index, used in tests.
func OpenMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{idx}, nil
}

// IndexCrates indexes the given docs in one batch, replacing any previous
// document stored under the same crate id.
func (i *Index) IndexCrates(docs []Doc) error {
	batch := i.idx.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(strconv.FormatInt(doc.ID, 10), doc); err != nil {
			return err
		}
	}
	return i.idx.Batch(batch)
}

// Query runs the raw query text against the indexed content and returns
// ranked hits. Ids that fail to parse should be impossible (we only ever
// index formatted int64s) and are reported as errors rather than skipped.
func (i *Index) Query(text string, limit int) ([]Hit, error) {
	query := bleve.NewMatchQuery(text)
	request := bleve.NewSearchRequest(query)
	request.Size = limit

	result, err := i.idx.Search(request)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("fulltext index contains non-numeric doc id %q", hit.ID)
		}
		hits = append(hits, Hit{ID: id, Score: hit.Score})
	}
	return hits, nil
}

func (i *Index) Close() error {
	return i.idx.Close()
}

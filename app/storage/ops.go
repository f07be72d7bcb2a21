package storage

// Op is one entry in the importer's operation log. The committer groups ops
// into batches and applies each batch as a single transaction. All ops are
// upserts; the dump never signals deletions.
type Op interface {
	op()
}

type PutCrate struct {
	Crate Crate
}

type PutKeyword struct {
	Keyword Keyword
}

type PutCategory struct {
	Category Category
}

type PutVersion struct {
	Version Version
}

type PutVersionDownload struct {
	Download VersionDownload
}

type PutImportState struct {
	State ImportState
}

func (PutCrate) op()           {}
func (PutKeyword) op()         {}
func (PutCategory) op()        {}
func (PutVersion) op()         {}
func (PutVersionDownload) op() {}
func (PutImportState) op()     {}

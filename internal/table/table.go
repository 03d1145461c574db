// Package table defines destination indexes: named tables owning a
// key-value store, a path pattern, and optional record validation and
// preprocessing.
package table

import (
	"encoding/json"
	"time"

	"github.com/jimpick/webdb/internal/glob"
	"github.com/jimpick/webdb/internal/store"
)

// Validator decides whether a parsed record belongs in the table. A
// record that stops validating is retracted from the store.
type Validator func(record json.RawMessage) bool

// PreprocessFunc transforms a record before storage. Returning nil or an
// empty message keeps the original record.
type PreprocessFunc func(record json.RawMessage) json.RawMessage

// Table is one destination index.
type Table struct {
	// Name uniquely identifies the table.
	Name string

	// Pattern selects the archive paths this table indexes, e.g.
	// "/tables/foo/*.json". A "**" segment matches any number of path
	// segments.
	Pattern string

	// Store holds the table's indexed records.
	Store store.Store

	// Validator, when set, gates records. Optional.
	Validator Validator

	// Preprocess, when set, rewrites records before storage. Optional.
	Preprocess PreprocessFunc
}

// Record is the stored representation of one indexed source file.
type Record struct {
	URL       string          `json:"url"`    // archiveURL + filePath
	Origin    string          `json:"origin"` // archiveURL
	IndexedAt time.Time       `json:"indexedAt"`
	Record    json.RawMessage `json:"record"`
}

// RecordFile names one stored record file belonging to a table.
type RecordFile struct {
	Table     string
	RecordURL string
}

// IsRecordFile reports whether path belongs to this table.
func (t *Table) IsRecordFile(path string) bool {
	return glob.Match(t.Pattern, path)
}

// ListRecordFiles returns the record files currently stored for the
// given archive. The key prefix narrows the scan; the stored origin
// decides membership, so an archive whose URL is a prefix of another's
// never sees the other's records.
func (t *Table) ListRecordFiles(archiveURL string) ([]RecordFile, error) {
	var out []RecordFile
	err := t.Store.ScanPrefix(archiveURL, func(key string, value []byte) error {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil || rec.Origin != archiveURL {
			return nil
		}
		out = append(out, RecordFile{Table: t.Name, RecordURL: key})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

package store

import (
	"encoding/json"
	"fmt"
)

// metaPrefix namespaces archive meta records inside the system store, so
// other engine bookkeeping (table schema fingerprints) can share it.
const metaPrefix = "archive!"

// IndexMeta is the durable bookkeeping record for one managed archive,
// keyed by archive URL. Version is the watermark: the highest archive
// version fully reflected in every table.
type IndexMeta struct {
	URL        string `json:"url"`
	Version    uint64 `json:"version"`
	IsWritable bool   `json:"isWritable"`
	LocalPath  string `json:"localPath,omitempty"`
}

// MetaStore persists IndexMeta records in a dedicated Store.
type MetaStore struct {
	store Store
}

// NewMetaStore wraps a Store as the archive meta store.
func NewMetaStore(s Store) *MetaStore {
	return &MetaStore{store: s}
}

// Get returns the meta record for url, or nil when none is persisted.
func (m *MetaStore) Get(url string) (*IndexMeta, error) {
	data, err := m.store.Get(metaPrefix + url)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var meta IndexMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode meta for %s: %w", url, err)
	}
	return &meta, nil
}

// Put writes the meta record, keyed by its URL.
func (m *MetaStore) Put(meta *IndexMeta) error {
	if meta.URL == "" {
		return fmt.Errorf("meta record has no url")
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return m.store.Put(metaPrefix+meta.URL, data)
}

// Delete removes the meta record for url. Absent records are not an error.
func (m *MetaStore) Delete(url string) error {
	return m.store.Delete(metaPrefix + url)
}

// List returns every persisted meta record in key order.
func (m *MetaStore) List() ([]*IndexMeta, error) {
	var out []*IndexMeta
	err := m.store.ScanPrefix(metaPrefix, func(key string, value []byte) error {
		var meta IndexMeta
		if err := json.Unmarshal(value, &meta); err != nil {
			return fmt.Errorf("decode meta for %s: %w", key, err)
		}
		out = append(out, &meta)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

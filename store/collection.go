package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"hibikido/logger"
)

// Entity is anything a Collection can persist: records carry an integer id
// assigned on insert.
type Entity interface {
	GetID() int64
	SetID(int64)
}

// Collection is a durable set of records backed by a single JSON document
// (an array of records). Writes go to a temp file in the same directory and
// are renamed into place, so the on-disk state is always a complete document.
type Collection[T Entity] struct {
	mu     sync.RWMutex
	path   string
	items  map[int64]T
	nextID int64
}

// OpenCollection loads the JSON document at path, creating an empty
// collection if the file does not exist.
func OpenCollection[T Entity](path string) (*Collection[T], error) {
	c := &Collection[T]{
		path:   path,
		items:  make(map[int64]T),
		nextID: 1,
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read collection %s: %w", path, err)
	}
	if len(raw) == 0 {
		return c, nil
	}

	var records []T
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse collection %s: %w", path, err)
	}
	for _, rec := range records {
		id := rec.GetID()
		c.items[id] = rec
		if id >= c.nextID {
			c.nextID = id + 1
		}
	}

	logger.Debug("collection loaded",
		logger.String("path", path),
		logger.Int("records", len(records)))
	return c, nil
}

// Insert assigns the next id, persists, and returns the id.
func (c *Collection[T]) Insert(item T) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	item.SetID(id)
	c.items[id] = item
	if err := c.flushLocked(); err != nil {
		delete(c.items, id)
		return 0, err
	}
	c.nextID++
	return id, nil
}

// Update replaces the record with the item's id. The record must exist.
func (c *Collection[T]) Update(item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := item.GetID()
	prev, ok := c.items[id]
	if !ok {
		return fmt.Errorf("update %s: no record with id %d", c.path, id)
	}
	c.items[id] = item
	if err := c.flushLocked(); err != nil {
		c.items[id] = prev
		return err
	}
	return nil
}

// Get returns the record with the given id.
func (c *Collection[T]) Get(id int64) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	return item, ok
}

// All returns every record ordered by id.
func (c *Collection[T]) All() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]T, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetID() < out[j].GetID() })
	return out
}

// Find returns the first record (in id order) satisfying pred.
func (c *Collection[T]) Find(pred func(T) bool) (T, bool) {
	for _, item := range c.All() {
		if pred(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Count returns the number of records.
func (c *Collection[T]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Flush rewrites the on-disk document.
func (c *Collection[T]) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

func (c *Collection[T]) flushLocked() error {
	records := make([]T, 0, len(c.items))
	for _, item := range c.items {
		records = append(records, item)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].GetID() < records[j].GetID() })

	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode collection %s: %w", c.path, err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", c.path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", c.path, err)
	}
	return nil
}

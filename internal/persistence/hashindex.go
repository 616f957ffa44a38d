// SPDX-License-Identifier: MIT

package persistence

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/copernicusai/copernicus/internal/fsutil"
	"github.com/copernicusai/copernicus/internal/log"
	"github.com/copernicusai/copernicus/internal/metrics"
)

const hashIndexFile = "hash_index.json"

// HashIndex maps SHA-256 content hashes to task ids so re-uploads of the
// same recording are answered from the existing task. Stale entries, whose
// task directory has been removed out-of-band, are evicted lazily on lookup.
type HashIndex struct {
	mu    sync.Mutex
	store *Store
	index map[string]string
}

// NewHashIndex loads hash_index.json from the store root; a missing or
// corrupt file starts an empty index.
func NewHashIndex(store *Store) *HashIndex {
	h := &HashIndex{store: store, index: map[string]string{}}

	data, err := os.ReadFile(h.path()) // #nosec G304
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			store.logger.Warn().Err(err).Msg("hash index unreadable, starting empty")
		}
		return h
	}
	if err := json.Unmarshal(data, &h.index); err != nil {
		store.logger.Warn().Err(err).Msg("hash index corrupt, starting empty")
		h.index = map[string]string{}
	}
	return h
}

// Lookup returns the task id recorded for hash. A hit whose task directory
// no longer exists is dropped and the index rewritten.
func (h *HashIndex) Lookup(hash string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	taskID, ok := h.index[hash]
	if !ok {
		return "", false
	}

	if _, err := os.Stat(filepath.Join(h.store.root, taskID)); err != nil {
		delete(h.index, hash)
		h.saveLocked()
		h.store.logger.Info().
			Str(log.FieldTaskID, taskID).
			Msg("stale hash index entry evicted")
		return "", false
	}

	metrics.HashDedupHits.Inc()
	return taskID, true
}

// Record stores the hash -> task id mapping and persists the index.
func (h *HashIndex) Record(hash, taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.index[hash] = taskID
	h.saveLocked()
}

// Forget drops a mapping, typically when a task is deleted.
func (h *HashIndex) Forget(hash string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.index[hash]; !ok {
		return
	}
	delete(h.index, hash)
	h.saveLocked()
}

func (h *HashIndex) path() string {
	return filepath.Join(h.store.root, hashIndexFile)
}

func (h *HashIndex) saveLocked() {
	data, err := json.MarshalIndent(h.index, "", "  ")
	if err != nil {
		h.store.logger.Error().Err(err).Msg("hash index marshal failed")
		return
	}
	if err := fsutil.WriteAtomic(h.path(), data); err != nil {
		h.store.logger.Error().Err(err).Msg("hash index write failed")
	}
}

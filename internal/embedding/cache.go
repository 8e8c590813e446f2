package embedding

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/intelligencedev/coremem/internal/atomicfile"
)

var sanitisePattern = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// diskCache is the content-addressable embedding cache named in the
// persisted-state layout: D/embedding_cache/<sanitised-model-name>_cache.json,
// a flat {hash: vector} map flushed to disk every flushEvery insertions.
type diskCache struct {
	mu         sync.RWMutex
	path       string
	flushEvery int
	entries    map[string][]float32
}

func newDiskCache(dataDir, modelName string, flushEvery int) *diskCache {
	if flushEvery <= 0 {
		flushEvery = 100
	}
	name := sanitisePattern.ReplaceAllString(modelName, "_")
	if name == "" {
		name = "default"
	}
	return &diskCache{
		path:       filepath.Join(dataDir, "embedding_cache", name+"_cache.json"),
		flushEvery: flushEvery,
		entries:    make(map[string][]float32),
	}
}

func (c *diskCache) load() error {
	b, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var m map[string][]float32
	if err := json.Unmarshal(b, &m); err != nil {
		// Corrupt cache at load: per spec §7 kind 4, truncate to empty and
		// continue serving rather than fail startup.
		c.entries = make(map[string][]float32)
		return err
	}
	c.entries = m
	return nil
}

func (c *diskCache) save() error {
	c.mu.RLock()
	snapshot := make(map[string][]float32, len(c.entries))
	for k, v := range c.entries {
		snapshot[k] = v
	}
	c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	return atomicfile.WriteJSON(c.path, snapshot, atomicfile.SecretPerm)
}

func (c *diskCache) get(hash string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[hash]
	return v, ok
}

func (c *diskCache) put(hash string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[hash] = vec
}

func (c *diskCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

package patternstore

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// catalog is a JSON sidecar tracking pattern IDs and their canonical
// questions. The vector database has no enumeration primitive, so the
// low-performer sweep walks this index instead. An empty path disables
// persistence (in-memory stores).
type catalog struct {
	mu      sync.Mutex
	path    string
	entries map[string]string
}

func loadCatalog(path string) (*catalog, error) {
	c := &catalog{path: path, entries: make(map[string]string)}
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return c, nil
}

func (c *catalog) put(id, question string) {
	c.mu.Lock()
	c.entries[id] = question
	c.mu.Unlock()
	_ = c.flush()
}

func (c *catalog) remove(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
	_ = c.flush()
}

func (c *catalog) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for id := range c.entries {
		out = append(out, id)
	}
	return out
}

// flush writes the catalog atomically via rename.
func (c *catalog) flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replacing catalog: %w", err)
	}
	return nil
}

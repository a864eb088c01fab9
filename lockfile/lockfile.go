// Package lockfile implements txpull.lock, which records per resource and
// language the service revision, master checksum and output checksum of
// the last pull. A language whose three values still match is not
// downloaded again.
//
// The lock file is stored alongside txpull.yaml.
package lockfile

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileName is the default lock file name.
const FileName = "txpull.lock"

// Version is the lock file format version.
const Version = 1

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Entry is the recorded state of one pulled file.
type Entry struct {
	// LastUpdate is the service's last_update of the translation.
	LastUpdate string `yaml:"last_update"`
	// Master is the checksum of the master file the output was merged with.
	Master string `yaml:"master"`
	// Output is the checksum of the written file.
	Output string `yaml:"output"`
}

// LockFile represents the txpull.lock file structure.
type LockFile struct {
	Version   int                         `yaml:"version"`
	Resources map[string]map[string]Entry `yaml:"resources"` // resource -> local lang -> entry

	mu   sync.Mutex `yaml:"-"`
	path string     `yaml:"-"`
}

// ---------------------------------------------------------------------------
// Loading and saving
// ---------------------------------------------------------------------------

// Load reads a lock file from the given directory.
// Returns an empty lock file if the file doesn't exist.
func Load(dir string) (*LockFile, error) {
	path := filepath.Join(dir, FileName)
	lf := &LockFile{
		Version:   Version,
		Resources: make(map[string]map[string]Entry),
		path:      path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lf, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, lf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	lf.path = path

	if lf.Version != Version {
		// Unknown layout: start over rather than trust it.
		lf.Version = Version
		lf.Resources = nil
	}
	if lf.Resources == nil {
		lf.Resources = make(map[string]map[string]Entry)
	}

	return lf, nil
}

// Save writes the lock file to disk.
func (lf *LockFile) Save() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.path == "" {
		return fmt.Errorf("lock file path not set")
	}

	data, err := yaml.Marshal(lf)
	if err != nil {
		return fmt.Errorf("marshaling lock file: %w", err)
	}

	if err := os.WriteFile(lf.path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", lf.path, err)
	}

	return nil
}

// Path returns the lock file path.
func (lf *LockFile) Path() string {
	return lf.path
}

// ---------------------------------------------------------------------------
// Entry operations
// ---------------------------------------------------------------------------

// Hash computes the MD5 hex digest of data.
func Hash(data []byte) string {
	return fmt.Sprintf("%x", md5.Sum(data))
}

// IsCurrent reports whether the recorded entry for resource and lang
// equals want. An empty LastUpdate is never current.
func (lf *LockFile) IsCurrent(resource, lang string, want Entry) bool {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if want.LastUpdate == "" {
		return false
	}
	got, ok := lf.Resources[resource][lang]
	return ok && got == want
}

// Update records the state of a pulled file.
func (lf *LockFile) Update(resource, lang string, e Entry) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.Resources[resource] == nil {
		lf.Resources[resource] = make(map[string]Entry)
	}
	lf.Resources[resource][lang] = e
}

// Clean removes languages of resource that are no longer pulled.
func (lf *LockFile) Clean(resource string, currentLangs []string) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	existing := lf.Resources[resource]
	if existing == nil {
		return
	}

	valid := make(map[string]bool, len(currentLangs))
	for _, l := range currentLangs {
		valid[l] = true
	}

	for l := range existing {
		if !valid[l] {
			delete(existing, l)
		}
	}
}

// Reset forgets every entry, forcing the next pull to download everything.
func (lf *LockFile) Reset() {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	lf.Resources = make(map[string]map[string]Entry)
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats returns the number of resources and total entries in the lock file.
func (lf *LockFile) Stats() (resources, entries int) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	resources = len(lf.Resources)
	for _, m := range lf.Resources {
		entries += len(m)
	}
	return
}

// ResourceIDs returns the sorted list of recorded resources.
func (lf *LockFile) ResourceIDs() []string {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	ids := make([]string, 0, len(lf.Resources))
	for id := range lf.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Summary returns a human-readable summary string.
func (lf *LockFile) Summary() string {
	resources, entries := lf.Stats()
	if resources == 0 {
		return "empty"
	}

	var parts []string
	for _, id := range lf.ResourceIDs() {
		parts = append(parts, fmt.Sprintf("%s: %d languages", id, len(lf.Resources[id])))
	}
	return fmt.Sprintf("%d resources, %d languages (%s)", resources, entries, strings.Join(parts, ", "))
}

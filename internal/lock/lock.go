// Package lock implements C3: loading, querying, and atomically
// persisting the JSON lockfile that records the exact source revision
// used for each plugin (spec §3 LockEntry, §4.3, §6).
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	rerrors "github.com/gw31415/rsplug.nvim/internal/errors"
)

// RevType identifies which kind of ref a LockEntry's Rev was resolved
// from.
type RevType string

const (
	RevTag    RevType = "tag"
	RevBranch RevType = "branch"
	RevCommit RevType = "commit"
)

// Entry is one plugin's locked revision (spec §3 LockEntry).
type Entry struct {
	Repo string  `json:"repo"`
	Type RevType `json:"type"`
	Rev  string  `json:"rev"`
	// Ref is the resolved tag or branch name; present for Type tag and for
	// a named branch, omitted for commit and for a branch entry recorded
	// from the remote's default HEAD (its branch name is not resolved).
	Ref string `json:"ref,omitempty"`
}

const fileVersion = 1

type fileFormat struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// Store is the in-memory, mutable view of the lockfile, keyed by plugin
// id.
type Store struct {
	path    string
	entries map[string]Entry
}

// Load reads the lockfile at path. A missing file is treated as an empty
// lockfile (spec §4.3: "Read tolerates missing file").
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-controlled (--lockfile / cache root)
	if os.IsNotExist(err) {
		return &Store{path: path, entries: map[string]Entry{}}, nil
	}
	if err != nil {
		return nil, rerrors.NewInternalError(
			"Cannot read lockfile",
			fmt.Sprintf("failed to read %s", path),
			"Check file permissions",
			err,
		)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, rerrors.NewInternalError(
			"Invalid lockfile",
			fmt.Sprintf("%s is not valid JSON: %v", path, err),
			"Delete or fix the lockfile, or point --lockfile elsewhere",
			err,
		)
	}
	if f.Entries == nil {
		f.Entries = map[string]Entry{}
	}
	return &Store{path: path, entries: f.Entries}, nil
}

// Get returns the locked entry for id, if any.
func (s *Store) Get(id string) (Entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// Put records or replaces the locked entry for id.
func (s *Store) Put(id string, e Entry) {
	s.entries[id] = e
}

// Delete removes any locked entry for id. Per spec §1 Non-goals, pruning
// entries for plugins no longer in the configuration is not performed
// automatically by the engine; Delete exists for callers (e.g. a future
// explicit prune command) that want to do it deliberately.
func (s *Store) Delete(id string) {
	delete(s.entries, id)
}

// Ids returns every id currently present in the store, in no particular
// order.
func (s *Store) Ids() []string {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// Serialize renders the lockfile to its canonical JSON form: version 1,
// entries keyed by id (Go's encoding/json sorts string map keys, so this
// is deterministic without extra bookkeeping), two-space indented, ending
// with a trailing newline (spec §6).
func (s *Store) Serialize() ([]byte, error) {
	f := fileFormat{Version: fileVersion, Entries: s.entries}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Save atomically persists the lockfile: write to "<path>.tmp" then
// rename over path (spec §4.3, §5 — the lockfile write is one of the two
// final, atomic operations of a run).
func (s *Store) Save() error {
	data, err := s.Serialize()
	if err != nil {
		return rerrors.NewInternalError(
			"Cannot encode lockfile",
			"JSON marshaling failed unexpectedly",
			"This is a bug; please report it",
			err,
		)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return rerrors.NewAssemblyIOError(
			"Cannot create lockfile directory",
			fmt.Sprintf("failed to create %s", dir),
			"Check permissions on the cache root",
			err,
		)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return rerrors.NewAssemblyIOError(
			"Cannot write lockfile",
			fmt.Sprintf("failed to write %s", tmp),
			"Check permissions and available disk space",
			err,
		)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return rerrors.NewAssemblyIOError(
			"Cannot finalize lockfile",
			fmt.Sprintf("failed to rename %s to %s", tmp, s.path),
			"Check permissions on the cache root",
			err,
		)
	}
	return nil
}

// Path returns the lockfile path this Store was loaded from.
func (s *Store) Path() string { return s.path }

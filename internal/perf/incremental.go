package perf

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"genforge/internal/logging"
)

// =============================================================================
// INCREMENTAL COMPILATION MANAGER
// =============================================================================
//
// Persists content checksums per (artifact, dependency-set) so that
// unchanged artifacts can skip regeneration. The checksum covers the
// artifact's content and modification time plus the same for every
// dependency, with dependencies sorted so input order never changes the
// hash. Any read failure fails open toward recompilation, never toward
// silently skipping.

// checksumFileName is the flat JSON document inside the cache directory.
const checksumFileName = "checksums.json"

// IncrementalManager decides whether regeneration can be skipped.
type IncrementalManager struct {
	mu sync.Mutex

	cacheDir  string
	checksums map[string]string
}

// NewIncrementalManager creates a manager rooted at cacheDir.
func NewIncrementalManager(cacheDir string) *IncrementalManager {
	return &IncrementalManager{
		cacheDir:  cacheDir,
		checksums: make(map[string]string),
	}
}

// Initialize ensures the cache directory exists and loads the persisted
// checksum map. A missing or corrupt file starts an empty map; only a
// directory that cannot be created is fatal.
func (m *IncrementalManager) Initialize() error {
	if err := os.MkdirAll(m.cacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", m.cacheDir, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.checksumPath())
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Get(logging.CategoryCompile).Warn("could not read checksum file, starting empty: %v", err)
		}
		m.checksums = make(map[string]string)
		return nil
	}

	loaded := make(map[string]string)
	if err := json.Unmarshal(data, &loaded); err != nil {
		logging.Get(logging.CategoryCompile).Warn("corrupt checksum file, starting empty: %v", err)
		m.checksums = make(map[string]string)
		return nil
	}

	m.checksums = loaded
	logging.Compile("IncrementalManager: loaded %d checksum records", len(loaded))
	return nil
}

func (m *IncrementalManager) checksumPath() string {
	return filepath.Join(m.cacheDir, checksumFileName)
}

// ShouldRecompile reports whether the artifact needs regeneration: true
// when the current checksum differs from the stored record, when no
// record exists, or when any dependency read fails.
func (m *IncrementalManager) ShouldRecompile(artifactPath string, dependencies []string) bool {
	sum, err := m.computeChecksum(artifactPath, dependencies)
	if err != nil {
		logging.Compile("ShouldRecompile: %s -> true (checksum failed: %v)", artifactPath, err)
		return true
	}

	m.mu.Lock()
	stored, ok := m.checksums[artifactPath]
	m.mu.Unlock()

	recompile := !ok || stored != sum
	logging.Get(logging.CategoryCompile).Debug("ShouldRecompile: %s -> %v", artifactPath, recompile)
	return recompile
}

// MarkCompiled recomputes the artifact's checksum, stores it, and
// persists the full map back to disk.
func (m *IncrementalManager) MarkCompiled(artifactPath string, dependencies []string) error {
	sum, err := m.computeChecksum(artifactPath, dependencies)
	if err != nil {
		return fmt.Errorf("failed to checksum %s: %w", artifactPath, err)
	}

	m.mu.Lock()
	m.checksums[artifactPath] = sum
	err = m.persistLocked()
	m.mu.Unlock()

	return err
}

// ClearCache empties the in-memory map and persists the empty state.
func (m *IncrementalManager) ClearCache() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checksums = make(map[string]string)
	return m.persistLocked()
}

// RecordCount returns the number of stored checksum records.
func (m *IncrementalManager) RecordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.checksums)
}

func (m *IncrementalManager) persistLocked() error {
	data, err := json.MarshalIndent(m.checksums, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checksums: %w", err)
	}
	if err := os.WriteFile(m.checksumPath(), data, 0644); err != nil {
		return fmt.Errorf("failed to write checksum file: %w", err)
	}
	return nil
}

// computeChecksum hashes the artifact plus its sorted dependencies. The
// orchestrator passes virtual identifiers on both sides: artifact ids
// derived from cache keys and dependency lists of task ids, none of
// which exist on disk. A path that does not exist contributes a stable
// "absent" marker; a path that exists but cannot be read is an error
// (the caller fails open toward recompilation). A real file that later
// disappears flips its stamp from content to marker, so the checksum
// still changes and regeneration still fires.
func (m *IncrementalManager) computeChecksum(artifactPath string, dependencies []string) (string, error) {
	h := sha256.New()

	if err := writeFileStamp(h, artifactPath); err != nil {
		return "", err
	}

	sorted := make([]string, len(dependencies))
	copy(sorted, dependencies)
	sort.Strings(sorted)

	for _, dep := range sorted {
		if err := writeFileStamp(h, dep); err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeFileStamp feeds path, modification time, and content into the hash.
func writeFileStamp(h hash.Hash, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(h, "absent:%s;", path)
			return nil
		}
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	h.Write([]byte(path))
	h.Write([]byte(strconv.FormatInt(info.ModTime().UnixNano(), 10)))
	h.Write(data)
	return nil
}

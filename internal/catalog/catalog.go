// Package catalog holds the authoritative app catalog: the published
// AppInfo entries, their bundle files, the store frontend bundle, and the
// change serial.
//
// On-disk layout under the data dir:
//
//	store.xdc    the frontend bundle
//	apps.json    the catalog index
//	xdcs/        imported app bundles
//
// The catalog is loaded once at process start. Import runs as a separate
// CLI invocation against the same data dir while the server is stopped;
// the server picks the result up on restart.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/user/xdcstore/internal/bundle"
	"github.com/user/xdcstore/internal/types"
)

const (
	frontendFile = "store.xdc"
	indexFile    = "apps.json"
	bundleDir    = "xdcs"
)

// ErrAppNotFound means a download referenced an id with no catalog entry.
var ErrAppNotFound = errors.New("app not found")

// entry is the on-disk index record: the published AppInfo plus the bundle
// file name under xdcs/.
type entry struct {
	types.AppInfo
	File string `json:"file"`
}

// Catalog is the in-memory catalog, single writer (load and import),
// read-mostly for the chat traffic path.
type Catalog struct {
	mu  sync.RWMutex
	dir string

	entries []entry
	serial  int64

	frontendPath    string
	frontendVersion string
}

// Load reads the index and frontend bundle from dir. The serial starts at
// 0: a freshly loaded catalog is the bootstrap state regardless of how many
// entries it has.
func Load(dir string) (*Catalog, error) {
	c := &Catalog{dir: dir, frontendPath: filepath.Join(dir, frontendFile)}

	fb, err := bundle.Parse(c.frontendPath)
	if err != nil {
		return nil, fmt.Errorf("load frontend bundle: %w", err)
	}
	c.frontendVersion = fb.Version

	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read catalog index: %w", err)
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		return nil, fmt.Errorf("unmarshal catalog index: %w", err)
	}

	for _, e := range c.entries {
		if _, err := os.Stat(c.bundlePath(e.File)); err != nil {
			return nil, fmt.Errorf("bundle for app %d (%s): %w", e.ID, e.Name, err)
		}
	}
	return c, nil
}

func (c *Catalog) indexPath() string {
	return filepath.Join(c.dir, indexFile)
}

func (c *Catalog) bundlePath(file string) string {
	return filepath.Join(c.dir, bundleDir, file)
}

// saveIndex writes apps.json atomically. Caller must hold the write lock.
func (c *Catalog) saveIndex() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog index: %w", err)
	}

	tmp := c.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := os.Rename(tmp, c.indexPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp index: %w", err)
	}
	return nil
}

// nextSerial bumps the change serial. Caller must hold the write lock.
// Serials are process-local: 0 is reserved for "freshly loaded".
func (c *Catalog) nextSerial() int64 {
	c.serial++
	return c.serial
}

// Snapshot returns the full catalog and its current serial.
func (c *Catalog) Snapshot() ([]types.AppInfo, int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	apps := make([]types.AppInfo, 0, len(c.entries))
	for _, e := range c.entries {
		apps = append(apps, e.AppInfo)
	}
	return apps, c.serial
}

// DeltaSince returns what changed since the given serial. The protocol
// always resends the full list; a true incremental delta would change the
// wire contract and is deliberately not implemented.
func (c *Catalog) DeltaSince(_ int64) ([]types.AppInfo, int64) {
	return c.Snapshot()
}

// LookupApp returns the catalog entry for id.
func (c *Catalog) LookupApp(id types.AppID) (types.AppInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, e := range c.entries {
		if e.ID == id {
			return e.AppInfo, true
		}
	}
	return types.AppInfo{}, false
}

// LookupBundle returns the bundle bytes for id, or ErrAppNotFound.
func (c *Catalog) LookupBundle(id types.AppID) ([]byte, error) {
	c.mu.RLock()
	var file string
	for _, e := range c.entries {
		if e.ID == id {
			file = e.File
			break
		}
	}
	c.mu.RUnlock()

	if file == "" {
		return nil, fmt.Errorf("%w: %d", ErrAppNotFound, id)
	}
	data, err := os.ReadFile(c.bundlePath(file))
	if err != nil {
		return nil, fmt.Errorf("read bundle for app %d: %w", id, err)
	}
	return data, nil
}

// FrontendPath returns the path of the store frontend bundle.
func (c *Catalog) FrontendPath() string {
	return c.frontendPath
}

// FrontendVersion returns the version embedded in the frontend bundle's
// manifest, fixed for the process lifetime.
func (c *Catalog) FrontendVersion() string {
	return c.frontendVersion
}

// Import parses the bundle at path, copies it into the data dir, and
// publishes it. A bundle whose name matches an existing entry replaces that
// entry and keeps its id; otherwise a fresh id is assigned. Either way the
// serial is bumped. A failed parse never mutates the catalog.
func (c *Catalog) Import(path string) (types.AppInfo, error) {
	b, err := bundle.Parse(path)
	if err != nil {
		return types.AppInfo{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return types.AppInfo{}, fmt.Errorf("read bundle: %w", err)
	}
	file := filepath.Base(path)
	if err := os.MkdirAll(filepath.Join(c.dir, bundleDir), 0o755); err != nil {
		return types.AppInfo{}, fmt.Errorf("create bundle dir: %w", err)
	}
	if err := os.WriteFile(c.bundlePath(file), data, 0o644); err != nil {
		return types.AppInfo{}, fmt.Errorf("copy bundle: %w", err)
	}

	info := types.AppInfo{
		Name:        b.Name,
		Description: b.Description,
		Icon:        b.Icon,
		Version:     b.Version,
		Size:        b.Size,
	}

	replaced := false
	for i, e := range c.entries {
		if e.Name == b.Name {
			info.ID = e.ID
			c.entries[i] = entry{AppInfo: info, File: file}
			replaced = true
			break
		}
	}
	if !replaced {
		info.ID = c.maxID() + 1
		c.entries = append(c.entries, entry{AppInfo: info, File: file})
	}

	if err := c.saveIndex(); err != nil {
		return types.AppInfo{}, err
	}
	c.nextSerial()
	return info, nil
}

// maxID returns the highest id ever assigned. Caller must hold the lock.
func (c *Catalog) maxID() types.AppID {
	var max types.AppID
	for _, e := range c.entries {
		if e.ID > max {
			max = e.ID
		}
	}
	return max
}

// ImportResult is the per-bundle outcome of a directory import.
type ImportResult struct {
	Path string
	App  types.AppInfo
	Err  error
}

// ImportDir imports every *.xdc file in dir independently. One bundle's
// failure never aborts the batch; each outcome is reported.
func (c *Catalog) ImportDir(dir string) ([]ImportResult, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read import dir: %w", err)
	}

	var paths []string
	for _, f := range files {
		if f.Type().IsRegular() && strings.HasSuffix(f.Name(), ".xdc") {
			paths = append(paths, filepath.Join(dir, f.Name()))
		}
	}
	sort.Strings(paths)

	results := make([]ImportResult, 0, len(paths))
	for _, p := range paths {
		app, err := c.Import(p)
		results = append(results, ImportResult{Path: p, App: app, Err: err})
	}
	return results, nil
}

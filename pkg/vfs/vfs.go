// Package vfs is an in-memory hierarchical filesystem used as agent scratch space.
//
// Entries are keyed by normalised POSIX-style paths and partitioned into two zones.
// The transient zone is wiped between runs; the persistent zone lives as long as the FS.
package vfs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Zone names a partition of the filesystem.
type Zone string

const (
	Transient  Zone = "transient"
	Persistent Zone = "persistent"
)

// Errors returned by FS operations.
var (
	ErrNotFound     = errors.New("no such file or directory")
	ErrIsDirectory  = errors.New("is a directory")
	ErrNotDirectory = errors.New("not a directory")
	ErrInvalidPath  = errors.New("invalid path")
)

// Entry describes a stored file or directory.
type Entry struct {
	Path       string    `json:"path"`
	Content    string    `json:"content,omitempty"`
	IsDir      bool      `json:"is_dir"`
	Size       int       `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

type stored struct {
	content    string
	isDir      bool
	createdAt  time.Time
	modifiedAt time.Time
}

// partition holds one zone's entries under its own lock.
type partition struct {
	mu      sync.RWMutex
	entries map[string]*stored
}

func newPartition() *partition {
	return &partition{entries: map[string]*stored{}}
}

// FS is safe for concurrent use.
type FS struct {
	transient  *partition
	persistent *partition
	now        func() time.Time
}

type opOptions struct {
	zone Zone
}

// Option adjusts a single operation.
type Option func(*opOptions)

// WithZone selects the zone an operation applies to. The default is Transient.
func WithZone(z Zone) Option {
	return func(o *opOptions) { o.zone = z }
}

func resolve(opts []Option) opOptions {
	o := opOptions{zone: Transient}
	for _, fn := range opts {
		fn(&o)
	}
	if o.zone != Persistent {
		o.zone = Transient
	}
	return o
}

// New creates an empty filesystem.
func New() *FS {
	return &FS{transient: newPartition(), persistent: newPartition(), now: time.Now}
}

// Scratch returns a filesystem that shares the persistent zone of fs but has a fresh
// transient zone of its own. ClearTransient on either leaves the other's scratch alone.
func (fs *FS) Scratch() *FS {
	return &FS{transient: newPartition(), persistent: fs.persistent, now: fs.now}
}

func (fs *FS) partition(z Zone) *partition {
	if z == Persistent {
		return fs.persistent
	}
	return fs.transient
}

// Normalize converts p to the canonical key form: forward slashes, no repeated,
// leading or trailing separators, no "." segments. ".." is rejected.
// The root is the empty string.
func Normalize(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, seg := range parts {
		switch seg {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: %q escapes its root", ErrInvalidPath, p)
		}
		out = append(out, seg)
	}
	return strings.Join(out, "/"), nil
}

func parent(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

func toEntry(p string, s *stored) Entry {
	return Entry{
		Path:       p,
		Content:    s.content,
		IsDir:      s.isDir,
		Size:       len(s.content),
		CreatedAt:  s.createdAt,
		ModifiedAt: s.modifiedAt,
	}
}

// Read returns the content of the file at p.
func (fs *FS) Read(p string, opts ...Option) (string, error) {
	key, err := Normalize(p)
	if err != nil {
		return "", err
	}
	o := resolve(opts)

	if key == "" {
		return "", fmt.Errorf("read /: %w", ErrIsDirectory)
	}
	part := fs.partition(o.zone)
	part.mu.RLock()
	defer part.mu.RUnlock()
	s, ok := part.entries[key]
	if !ok {
		return "", fmt.Errorf("read %s: %w", key, ErrNotFound)
	}
	if s.isDir {
		return "", fmt.Errorf("read %s: %w", key, ErrIsDirectory)
	}
	return s.content, nil
}

// Write creates or overwrites the file at p, materialising every missing ancestor
// directory. Overwriting keeps the original creation time.
func (fs *FS) Write(p, content string, opts ...Option) error {
	key, err := Normalize(p)
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("write /: %w", ErrIsDirectory)
	}
	o := resolve(opts)

	part := fs.partition(o.zone)
	part.mu.Lock()
	defer part.mu.Unlock()
	zone := part.entries
	now := fs.now()

	if s, ok := zone[key]; ok {
		if s.isDir {
			return fmt.Errorf("write %s: %w", key, ErrIsDirectory)
		}
		s.content = content
		s.modifiedAt = now
		return nil
	}

	// Check the ancestor chain before mutating anything.
	var missing []string
	for dir := parent(key); dir != ""; dir = parent(dir) {
		s, ok := zone[dir]
		if !ok {
			missing = append(missing, dir)
			continue
		}
		if !s.isDir {
			return fmt.Errorf("write %s: %s: %w", key, dir, ErrNotDirectory)
		}
		break
	}
	for _, dir := range missing {
		zone[dir] = &stored{isDir: true, createdAt: now, modifiedAt: now}
	}
	zone[key] = &stored{content: content, createdAt: now, modifiedAt: now}
	return nil
}

// Mkdir creates the directory p and its ancestors. Existing directories are left alone.
func (fs *FS) Mkdir(p string, opts ...Option) error {
	key, err := Normalize(p)
	if err != nil {
		return err
	}
	o := resolve(opts)

	part := fs.partition(o.zone)
	part.mu.Lock()
	defer part.mu.Unlock()
	zone := part.entries
	now := fs.now()
	for dir := key; dir != ""; dir = parent(dir) {
		if s, ok := zone[dir]; ok {
			if !s.isDir {
				return fmt.Errorf("mkdir %s: %s: %w", key, dir, ErrNotDirectory)
			}
			continue
		}
		zone[dir] = &stored{isDir: true, createdAt: now, modifiedAt: now}
	}
	return nil
}

// Exists reports whether p names a file or directory. The root always exists.
func (fs *FS) Exists(p string, opts ...Option) bool {
	key, err := Normalize(p)
	if err != nil {
		return false
	}
	if key == "" {
		return true
	}
	o := resolve(opts)
	part := fs.partition(o.zone)
	part.mu.RLock()
	defer part.mu.RUnlock()
	_, ok := part.entries[key]
	return ok
}

// Stat returns metadata (and content, for files) of p.
func (fs *FS) Stat(p string, opts ...Option) (Entry, error) {
	key, err := Normalize(p)
	if err != nil {
		return Entry{}, err
	}
	if key == "" {
		return Entry{Path: "", IsDir: true}, nil
	}
	o := resolve(opts)
	part := fs.partition(o.zone)
	part.mu.RLock()
	defer part.mu.RUnlock()
	s, ok := part.entries[key]
	if !ok {
		return Entry{}, fmt.Errorf("stat %s: %w", key, ErrNotFound)
	}
	return toEntry(key, s), nil
}

// Delete removes p and, when p is a directory, every descendant.
func (fs *FS) Delete(p string, opts ...Option) error {
	key, err := Normalize(p)
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("delete /: %w", ErrInvalidPath)
	}
	o := resolve(opts)

	part := fs.partition(o.zone)
	part.mu.Lock()
	defer part.mu.Unlock()
	zone := part.entries
	s, ok := zone[key]
	if !ok {
		return fmt.Errorf("delete %s: %w", key, ErrNotFound)
	}
	delete(zone, key)
	if s.isDir {
		prefix := key + "/"
		for k := range zone {
			if strings.HasPrefix(k, prefix) {
				delete(zone, k)
			}
		}
	}
	return nil
}

// ListOptions controls List.
type ListOptions struct {
	Recursive     bool
	MaxDepth      int // with Recursive, limits depth below p; 0 means unlimited
	IncludeHidden bool
}

// List returns the children of directory p sorted by path. Hidden entries are those
// with a segment starting with "." below p.
func (fs *FS) List(p string, lo ListOptions, opts ...Option) ([]Entry, error) {
	key, err := Normalize(p)
	if err != nil {
		return nil, err
	}
	o := resolve(opts)

	part := fs.partition(o.zone)
	part.mu.RLock()
	defer part.mu.RUnlock()
	zone := part.entries
	if key != "" {
		s, ok := zone[key]
		if !ok {
			return nil, fmt.Errorf("list %s: %w", key, ErrNotFound)
		}
		if !s.isDir {
			return nil, fmt.Errorf("list %s: %w", key, ErrNotDirectory)
		}
	}

	maxDepth := 1
	if lo.Recursive {
		maxDepth = lo.MaxDepth
	}
	prefix := ""
	if key != "" {
		prefix = key + "/"
	}

	var out []Entry
	for k, s := range zone {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rel := k[len(prefix):]
		segs := strings.Split(rel, "/")
		if maxDepth > 0 && len(segs) > maxDepth {
			continue
		}
		if !lo.IncludeHidden && hidden(segs) {
			continue
		}
		out = append(out, toEntry(k, s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func hidden(segs []string) bool {
	for _, s := range segs {
		if strings.HasPrefix(s, ".") {
			return true
		}
	}
	return false
}

// ClearTransient wipes the transient zone only.
func (fs *FS) ClearTransient() {
	fs.transient.mu.Lock()
	defer fs.transient.mu.Unlock()
	fs.transient.entries = map[string]*stored{}
}

// Snapshot returns a copy of every file's content in zone.
func (fs *FS) Snapshot(z Zone) map[string]string {
	part := fs.partition(z)
	part.mu.RLock()
	defer part.mu.RUnlock()
	out := make(map[string]string)
	for k, s := range part.entries {
		if !s.isDir {
			out[k] = s.content
		}
	}
	return out
}

// files returns the sorted file keys of zone. Callers hold its read lock.
func files(zone map[string]*stored) []string {
	keys := make([]string, 0, len(zone))
	for k, s := range zone {
		if !s.isDir {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

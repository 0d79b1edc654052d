// Package cache provides the read-through cache for vulnerability feed lookups.
//
// Keys have the form "ecosystem:name:version". A miss is always a valid
// answer; callers fall through to the feed.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// DefaultTTL is the default cache time-to-live
const DefaultTTL = 24 * time.Hour

// DefaultSize is the default number of in-memory entries
const DefaultSize = 4096

// Cache stores feed responses by lookup key
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, data []byte) error
}

// Memory is an in-process LRU with per-entry expiry. It is safe for concurrent use.
type Memory struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemory creates an in-memory cache
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Get retrieves data if present and not expired
func (m *Memory) Get(key string) ([]byte, bool) {
	return m.lru.Get(key)
}

// Set stores data
func (m *Memory) Set(key string, data []byte) error {
	m.lru.Add(key, data)
	return nil
}

// Len returns the number of live entries
func (m *Memory) Len() int {
	return m.lru.Len()
}

// Disk provides file-based caching that survives between runs
type Disk struct {
	Fs  afero.Fs
	Dir string
	TTL time.Duration
}

// New creates a disk cache under the user cache directory for appName
func New(appName string, ttl time.Duration) (*Disk, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewDisk(afero.NewOsFs(), filepath.Join(homeDir, ".cache", appName), ttl)
}

// NewDisk creates a disk cache in dir on fs
func NewDisk(fs afero.Fs, dir string, ttl time.Duration) (*Disk, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create cache directory")
	}

	if ttl == 0 {
		ttl = DefaultTTL
	}

	return &Disk{
		Fs:  fs,
		Dir: dir,
		TTL: ttl,
	}, nil
}

// keyToFilename converts a key to a safe filename
func (c *Disk) keyToFilename(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16]) + ".json"
}

// Path returns the full path to the cache file for a key
func (c *Disk) Path(key string) string {
	return filepath.Join(c.Dir, c.keyToFilename(key))
}

// Get retrieves data from cache if it exists and is not expired
func (c *Disk) Get(key string) ([]byte, bool) {
	path := c.Path(key)

	info, err := c.Fs.Stat(path)
	if err != nil {
		return nil, false
	}

	if time.Since(info.ModTime()) > c.TTL {
		return nil, false
	}

	data, err := afero.ReadFile(c.Fs, path)
	if err != nil {
		return nil, false
	}

	return data, true
}

// Set stores data in the cache
func (c *Disk) Set(key string, data []byte) error {
	return afero.WriteFile(c.Fs, c.Path(key), data, 0644)
}

// Clear removes all cached files and returns how many were removed
func (c *Disk) Clear() (int, error) {
	entries, err := afero.ReadDir(c.Fs, c.Dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := c.Fs.Remove(filepath.Join(c.Dir, entry.Name())); err != nil {
			return removed, errors.Wrapf(err, "failed to remove %s", entry.Name())
		}
		removed++
	}
	return removed, nil
}

// Tiered reads through its layers in order and writes to all of them.
// A hit in a later layer is copied into the earlier ones.
type Tiered []Cache

// Get returns the first hit
func (t Tiered) Get(key string) ([]byte, bool) {
	for i, layer := range t {
		if data, ok := layer.Get(key); ok {
			for _, front := range t[:i] {
				_ = front.Set(key, data)
			}
			return data, true
		}
	}
	return nil, false
}

// Set writes to every layer, returning the first error
func (t Tiered) Set(key string, data []byte) error {
	var first error
	for _, layer := range t {
		if err := layer.Set(key, data); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop never stores anything
type Nop struct{}

// Get always misses
func (Nop) Get(string) ([]byte, bool) { return nil, false }

// Set discards data
func (Nop) Set(string, []byte) error { return nil }

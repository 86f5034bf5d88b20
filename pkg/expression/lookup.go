package expression

import (
	"io"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
)

// LookupStore is the small key/value store behind the SEO and meta
// transforms. scope is usually a category id.
type LookupStore interface {
	Lookup(scope, key string) (string, bool)
}

// NoLookups never finds anything.
type NoLookups struct{}

func (NoLookups) Lookup(string, string) (string, bool) { return "", false }

// MapLookupStore is an in-memory store keyed by scope, then key.
type MapLookupStore map[string]map[string]string

func (m MapLookupStore) Lookup(scope, key string) (string, bool) {
	v, ok := m[scope][key]
	return v, ok
}

// FileLookupStore reads `<base>/<scope>/<key>.txt` from a billy filesystem.
// Results, including misses, are cached for the lifetime of the store.
type FileLookupStore struct {
	fs    billy.Filesystem
	base  string
	cache map[string]*string
	mu    sync.Mutex
}

func NewFileLookupStore(fs billy.Filesystem, base string) *FileLookupStore {
	return &FileLookupStore{
		fs:    fs,
		base:  base,
		cache: make(map[string]*string),
	}
}

func (s *FileLookupStore) Lookup(scope, key string) (string, bool) {
	if scope == "" || key == "" || strings.ContainsAny(scope+key, `/\`) || strings.Contains(scope+key, "..") {
		return "", false
	}

	p := s.fs.Join(s.base, scope, key+".txt")

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[p]; ok {
		if cached == nil {
			return "", false
		}
		return *cached, true
	}

	value, ok := s.read(p)
	if !ok {
		s.cache[p] = nil
		return "", false
	}
	s.cache[p] = &value
	return value, true
}

func (s *FileLookupStore) read(p string) (string, bool) {
	f, err := s.fs.Open(p)
	if err != nil {
		return "", false
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return "", false
	}
	return strings.TrimRight(string(b), "\r\n"), true
}

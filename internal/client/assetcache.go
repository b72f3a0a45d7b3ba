package client

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrCacheMiss means the asset has never been stored in this generation.
var ErrCacheMiss = errors.New("asset not cached")

// CacheTransport serves same-origin GET assets network-first: a fresh 200
// refreshes the cache, a network failure falls back to the stored copy.
// Other methods, other origins and non-200 replies pass through untouched.
type CacheTransport struct {
	store  *DiskStore
	origin *url.URL
	base   http.RoundTripper
}

func NewCacheTransport(store *DiskStore, origin string, base http.RoundTripper) (*CacheTransport, error) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, pkgerrors.Wrapf(err, "cache origin %q", origin)
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return &CacheTransport{store: store, origin: u, base: base}, nil
}

func (t *CacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || !t.sameOrigin(req.URL) {
		return t.base.RoundTrip(req)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return t.fromCache(req, err)
	}
	if resp.StatusCode == http.StatusOK {
		// DumpResponse leaves the body readable for the caller.
		if raw, dumpErr := httputil.DumpResponse(resp, true); dumpErr == nil {
			if err := t.store.Put(req.URL.String(), raw); err != nil {
				// The live response still serves; only the offline copy is lost.
				log.WithError(err).WithField("url", req.URL.String()).Warn("asset cache store failed")
			}
		}
	}
	return resp, nil
}

func (t *CacheTransport) fromCache(req *http.Request, cause error) (*http.Response, error) {
	raw, err := t.store.Get(req.URL.String())
	if err != nil {
		return nil, cause
	}
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), req)
	if err != nil {
		return nil, cause
	}
	return resp, nil
}

func (t *CacheTransport) sameOrigin(u *url.URL) bool {
	return u.Scheme == t.origin.Scheme && u.Host == t.origin.Host
}

// DiskStore keeps raw responses under one generation directory. Activating
// a generation removes every other one, so stale asset sets cannot pile up.
type DiskStore struct {
	dir        string
	generation string
}

func NewDiskStore(dir, generation string) *DiskStore {
	return &DiskStore{dir: dir, generation: generation}
}

func (s *DiskStore) Put(rawURL string, data []byte) error {
	path := s.path(rawURL)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pkgerrors.Wrap(err, "create cache dir")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "asset-*")
	if err != nil {
		return pkgerrors.Wrap(err, "stage asset")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return pkgerrors.Wrap(err, "write asset")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return pkgerrors.Wrap(err, "close asset")
	}
	return os.Rename(tmp.Name(), path)
}

func (s *DiskStore) Get(rawURL string) ([]byte, error) {
	data, err := os.ReadFile(s.path(rawURL))
	if os.IsNotExist(err) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "read asset")
	}
	return data, nil
}

// Activate makes this generation the only one on disk.
func (s *DiskStore) Activate() error {
	if err := os.MkdirAll(filepath.Join(s.dir, s.generation), 0o755); err != nil {
		return pkgerrors.Wrap(err, "create generation dir")
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return pkgerrors.Wrap(err, "list generations")
	}
	for _, entry := range entries {
		if entry.Name() == s.generation {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, entry.Name())); err != nil {
			return pkgerrors.Wrapf(err, "purge generation %s", entry.Name())
		}
	}
	return nil
}

func (s *DiskStore) path(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(s.dir, s.generation, hex.EncodeToString(sum[:]))
}

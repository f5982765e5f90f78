package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrHashMismatch is returned by RegisterArtifact when the recomputed SHA-256 of the
// artifact bytes does not match the caller-supplied expected hash.
var ErrHashMismatch = errors.New("registry: artifact hash mismatch")

// ArtifactStore holds raw WASM bytes keyed by their verified content hash.
type ArtifactStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{data: make(map[string][]byte)}
}

// RegisterArtifact recomputes SHA-256 over bytes and rejects on mismatch.
func (s *ArtifactStore) RegisterArtifact(expectedHash string, bytes []byte) error {
	sum := sha256.Sum256(bytes)
	actual := hex.EncodeToString(sum[:])
	if actual != expectedHash {
		return fmt.Errorf("%w: expected=%s actual=%s", ErrHashMismatch, expectedHash, actual)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[expectedHash] = append([]byte(nil), bytes...)
	return nil
}

func (s *ArtifactStore) Get(hash string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[hash]
	return b, ok
}

// CompiledArtifact is an opaque compiled-module handle cached by the sandbox engine.
type CompiledArtifact struct {
	EngineFingerprint string
	WasmHash          string
	Bytes             []byte // serialized compiled module, engine-specific
}

// ArtifactCache layers a bounded in-process LRU over an optional on-disk compiled
// artifact cache keyed by (engine_fingerprint, sanitized_hash) (spec.md §4.3).
type ArtifactCache struct {
	mu      sync.Mutex
	lru     *lru.Cache[string, *CompiledArtifact]
	diskDir string // empty disables the disk tier
}

func NewArtifactCache(capacity int, diskDir string) (*ArtifactCache, error) {
	if capacity <= 0 {
		capacity = 1
	}
	c, err := lru.New[string, *CompiledArtifact](capacity)
	if err != nil {
		return nil, fmt.Errorf("registry: new lru: %w", err)
	}
	return &ArtifactCache{lru: c, diskDir: diskDir}, nil
}

func cacheKey(fingerprint, hash string) string {
	return fingerprint + "/" + sanitizeHash(hash)
}

func sanitizeHash(hash string) string {
	out := make([]byte, 0, len(hash))
	for i := 0; i < len(hash); i++ {
		c := hash[i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			out = append(out, c)
		}
	}
	return string(out)
}

// GetOrCompile returns a cached compiled artifact for (fingerprint, wasmHash), falling
// back to the disk cache, and finally invoking compile() on a full miss. Corrupt disk
// entries are deleted and treated as a miss.
func (c *ArtifactCache) GetOrCompile(fingerprint, wasmHash string, compile func() (*CompiledArtifact, error)) (*CompiledArtifact, error) {
	key := cacheKey(fingerprint, wasmHash)

	c.mu.Lock()
	if hit, ok := c.lru.Get(key); ok {
		c.mu.Unlock()
		return hit, nil
	}
	c.mu.Unlock()

	if c.diskDir != "" {
		if art, ok := c.loadDisk(key); ok {
			c.mu.Lock()
			c.lru.Add(key, art)
			c.mu.Unlock()
			return art, nil
		}
	}

	art, err := compile()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.lru.Add(key, art)
	c.mu.Unlock()
	if c.diskDir != "" {
		_ = c.writeDisk(key, art) // write-through best-effort; a failed write just misses next time
	}
	return art, nil
}

func (c *ArtifactCache) diskPath(key string) string {
	return filepath.Join(c.diskDir, key+".bin")
}

func (c *ArtifactCache) loadDisk(key string) (*CompiledArtifact, bool) {
	path := c.diskPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	art, ok := decodeCompiledArtifact(data)
	if !ok {
		_ = os.Remove(path) // corrupt entry: delete and treat as a miss
		return nil, false
	}
	return art, true
}

func (c *ArtifactCache) writeDisk(key string, art *CompiledArtifact) error {
	if err := os.MkdirAll(c.diskDir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.diskDir, "artifact-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(encodeCompiledArtifact(art)); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, c.diskPath(key))
}

// encodeCompiledArtifact/decodeCompiledArtifact use a trivial length-prefixed framing;
// the compiled bytes themselves are opaque to this package.
func encodeCompiledArtifact(art *CompiledArtifact) []byte {
	fp := []byte(art.EngineFingerprint)
	wh := []byte(art.WasmHash)
	out := make([]byte, 0, 8+len(fp)+len(wh)+len(art.Bytes))
	out = appendUvarint(out, uint64(len(fp)))
	out = append(out, fp...)
	out = appendUvarint(out, uint64(len(wh)))
	out = append(out, wh...)
	out = append(out, art.Bytes...)
	return out
}

func decodeCompiledArtifact(data []byte) (*CompiledArtifact, bool) {
	fp, rest, ok := readUvarintPrefixed(data)
	if !ok {
		return nil, false
	}
	wh, rest2, ok := readUvarintPrefixed(rest)
	if !ok {
		return nil, false
	}
	return &CompiledArtifact{EngineFingerprint: string(fp), WasmHash: string(wh), Bytes: rest2}, true
}

func appendUvarint(buf []byte, v uint64) []byte {
	tmp := make([]byte, 10)
	n := 0
	for v >= 0x80 {
		tmp[n] = byte(v) | 0x80
		v >>= 7
		n++
	}
	tmp[n] = byte(v)
	n++
	return append(buf, tmp[:n]...)
}

func readUvarintPrefixed(data []byte) (field []byte, rest []byte, ok bool) {
	var v uint64
	var shift uint
	i := 0
	for {
		if i >= len(data) {
			return nil, nil, false
		}
		b := data[i]
		v |= uint64(b&0x7f) << shift
		i++
		if b < 0x80 {
			break
		}
		shift += 7
	}
	if uint64(i)+v > uint64(len(data)) {
		return nil, nil, false
	}
	field = data[i : i+int(v)]
	rest = data[i+int(v):]
	return field, rest, true
}

package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ibeckermayer/newsdigest/internal/types"
)

// BlobStore keeps raw payloads (page HTML, summary text, run records) on
// disk. A blob reference is the slash-separated key relative to the root.
type BlobStore struct {
	root string
	now  func() time.Time
}

// NewBlobStore creates the root directory if needed.
func NewBlobStore(root string) (*BlobStore, error) {
	if root == "" {
		return nil, fmt.Errorf("blob root is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob dir: %w", err)
	}
	return &BlobStore{root: root, now: time.Now}, nil
}

// Root returns the directory blobs are written under.
func (b *BlobStore) Root() string {
	return b.root
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func cleanSegment(s string) string {
	s = unsafeKeyChars.ReplaceAllString(strings.TrimSpace(s), "_")
	s = strings.Trim(s, "._")
	if s == "" {
		return "unknown"
	}
	return s
}

// timestamp creates a filename-safe timestamp.
func timestamp(t time.Time) string {
	return t.UTC().Format("20060102T150405")
}

// PutHTML stores a page under html/<source>/<ts>_<urlhash>.html.
func (b *BlobStore) PutHTML(source, url, html string) (string, error) {
	sum := sha256.Sum256([]byte(url))
	key := fmt.Sprintf("html/%s/%s_%s.html", cleanSegment(source), timestamp(b.now()), hex.EncodeToString(sum[:])[:12])
	return key, b.write(key, []byte(html))
}

// PutSummary stores summary text under summaries/<date>_<slot>.txt.
func (b *BlobStore) PutSummary(date string, slot types.Slot, text string) (string, error) {
	key := fmt.Sprintf("summaries/%s_%s.txt", cleanSegment(date), cleanSegment(string(slot)))
	return key, b.write(key, []byte(text))
}

// SaveJSON serializes data to dir/<name>.json and returns its key.
func SaveJSON[T any](b *BlobStore, dir, name string, data T) (string, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal blob: %w", err)
	}

	parts := strings.Split(dir, "/")
	for i := range parts {
		parts[i] = cleanSegment(parts[i])
	}
	key := strings.Join(append(parts, cleanSegment(name)+".json"), "/")
	return key, b.write(key, jsonData)
}

// LoadJSON decodes the blob at key.
func LoadJSON[T any](b *BlobStore, key string) (T, error) {
	var data T

	raw, err := b.Get(key)
	if err != nil {
		return data, err
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, fmt.Errorf("failed to unmarshal blob %s: %w", key, err)
	}
	return data, nil
}

// Get reads the blob at key.
func (b *BlobStore) Get(key string) ([]byte, error) {
	path, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return data, nil
}

// Latest returns the newest key under dir (names sort chronologically).
func (b *BlobStore) Latest(dir string) (string, error) {
	path, err := b.path(dir)
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no blobs under %s", dir)
		}
		return "", err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no blobs under %s", dir)
	}

	return strings.TrimSuffix(dir, "/") + "/" + files[len(files)-1], nil
}

func (b *BlobStore) write(key string, data []byte) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create blob dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	return nil
}

func (b *BlobStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(b.root, clean), nil
}

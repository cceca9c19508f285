package vault

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// BlobStore persists encrypted blobs on the filesystem, one JSON file per
// (owner, context_uri) pair. The store is a secondary sink: the vault record
// in the Service remains authoritative for lookups.
type BlobStore struct {
	dir string
}

// NewBlobStore returns a store rooted at dir. An empty dir disables the
// store; Store and Fetch become no-ops.
func NewBlobStore(dir string) *BlobStore {
	return &BlobStore{dir: dir}
}

// Enabled reports whether a storage directory is configured.
func (b *BlobStore) Enabled() bool {
	return b != nil && b.dir != ""
}

type blobFile struct {
	Owner         string          `json:"owner"`
	ContextURI    string          `json:"context_uri"`
	EncryptedBlob json.RawMessage `json:"encrypted_blob"`
}

func (b *BlobStore) path(owner, contextURI string) string {
	key := hex.EncodeToString([]byte(owner + ":" + contextURI))
	return filepath.Join(b.dir, key+".json")
}

// Store writes the blob and returns the file location.
func (b *BlobStore) Store(owner, contextURI string, blob json.RawMessage) (string, error) {
	if !b.Enabled() {
		return "", nil
	}
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(blobFile{Owner: owner, ContextURI: contextURI, EncryptedBlob: blob}, "", "  ")
	if err != nil {
		return "", err
	}
	path := b.path(owner, contextURI)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Fetch reads a stored blob. Returns nil without error when the blob is
// absent or the store is disabled.
func (b *BlobStore) Fetch(owner, contextURI string) (json.RawMessage, error) {
	if !b.Enabled() {
		return nil, nil
	}
	data, err := os.ReadFile(b.path(owner, contextURI))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var f blobFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f.EncryptedBlob, nil
}

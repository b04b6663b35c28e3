package persistence

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/felixbrock/papersummarizer/internal/domain"
	bolt "go.etcd.io/bbolt"
)

type boltCommit struct {
	Hash      string          `json:"commit_hash"`
	Parent    string          `json:"parent_commit,omitempty"`
	Manifest  json.RawMessage `json:"manifest"`
	CreatedAt time.Time       `json:"created_at"`
}

// BoltHub is a local prompt hub. Each prompt name gets a bucket whose keys
// are increasing sequence numbers, so the last key is the latest commit.
// Manifests use the same encoding as the remote hub.
type BoltHub struct {
	db *bolt.DB
}

func NewBoltHub(path string) (*BoltHub, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open prompt hub %s: %w", path, err)
	}
	return &BoltHub{db: db}, nil
}

func (h *BoltHub) Close() error {
	return h.db.Close()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func commitHash(name string, parent string, manifest []byte, at time.Time) string {
	sum := sha256.New()
	sum.Write([]byte(name))
	sum.Write([]byte(parent))
	sum.Write(manifest)
	sum.Write([]byte(at.Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum.Sum(nil))[:8]
}

func (h *BoltHub) ListCommits(ctx context.Context, name string, limit int) ([]domain.PromptCommit, error) {
	var commits []domain.PromptCommit
	err := h.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(name))
		if b == nil {
			return fmt.Errorf("%s: %w", name, domain.ErrPromptNotFound)
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(commits) < limit; k, v = c.Prev() {
			var rec boltCommit
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode commit of %s: %w", name, err)
			}
			commits = append(commits, domain.PromptCommit{Hash: rec.Hash, CreatedAt: rec.CreatedAt})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commits, nil
}

func (h *BoltHub) Pull(ctx context.Context, name string, version string) (*domain.PromptTemplate, error) {
	var found *boltCommit
	err := h.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(name))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec boltCommit
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode commit of %s: %w", name, err)
			}
			if version == "" || version == "latest" || rec.Hash == version {
				found = &rec
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%s:%s: %w", name, version, domain.ErrPromptNotFound)
	}

	msgs, err := decodeManifest(found.Manifest)
	if err != nil {
		return nil, fmt.Errorf("pull %s:%s: %w", name, version, err)
	}

	return &domain.PromptTemplate{Name: name, Version: found.Hash, Messages: msgs}, nil
}

func (h *BoltHub) Push(ctx context.Context, name string, tmpl domain.PromptTemplate) (string, error) {
	manifest, err := encodeManifest(tmpl)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}

	var hash string
	err = h.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return err
		}

		rec := boltCommit{Manifest: manifest, CreatedAt: time.Now().UTC()}
		if _, last := b.Cursor().Last(); last != nil {
			var parent boltCommit
			if err := json.Unmarshal(last, &parent); err != nil {
				return err
			}
			rec.Parent = parent.Hash
		}
		rec.Hash = commitHash(name, rec.Parent, manifest, rec.CreatedAt)
		hash = rec.Hash

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		enc, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), enc)
	})
	if err != nil {
		return "", fmt.Errorf("push %s: %w", name, err)
	}

	return hash, nil
}

// Seed pushes tmpl under name when the hub has no commits for it yet.
func (h *BoltHub) Seed(ctx context.Context, name string, tmpl domain.PromptTemplate) error {
	_, err := h.ListCommits(ctx, name, 1)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return err
	}
	_, err = h.Push(ctx, name, tmpl)
	return err
}

package persister

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketChanges = []byte("changes")
	bucketDoc     = []byte("document")
	bucketSync    = []byte("sync")
)

const documentKey = "snapshot"

// BoltPersister is the embedded single-file backend, `persister=sled` in
// the original design's terms — Go has no sled binding, so bbolt is the
// grounded substitute (DESIGN.md "persister=sled"); it is the
// recommended production choice, same role bbolt plays for warren's own
// control-plane state.
type BoltPersister struct {
	db *bolt.DB
}

// NewBoltPersister opens (creating if absent) a bbolt-backed Persister
// rooted at dataDir/dismerge.db.
func NewBoltPersister(dataDir string) (*BoltPersister, error) {
	path := filepath.Join(dataDir, "dismerge.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("persister: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketChanges, bucketDoc, bucketSync} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("persister: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltPersister{db: db}, nil
}

func changeBucketKey(actor string, seq uint64) []byte {
	return []byte(actor + "\x00" + strconv.FormatUint(seq, 10))
}

func (p *BoltPersister) GetChanges() ([]ChangeRecord, error) {
	var out []ChangeRecord
	err := p.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChanges)
		return b.ForEach(func(k, v []byte) error {
			actor, seq, ok := splitChangeBucketKey(k)
			if !ok {
				return nil
			}
			cp := append([]byte(nil), v...)
			out = append(out, ChangeRecord{Actor: actor, Seq: seq, Bytes: cp})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("persister: get changes: %w", err)
	}
	return out, nil
}

func splitChangeBucketKey(k []byte) (actor string, seq uint64, ok bool) {
	s := string(k)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == 0 {
			n, err := strconv.ParseUint(s[i+1:], 10, 64)
			if err != nil {
				return "", 0, false
			}
			return s[:i], n, true
		}
	}
	return "", 0, false
}

func (p *BoltPersister) InsertChanges(records []ChangeRecord) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChanges)
		for _, r := range records {
			key := changeBucketKey(r.Actor, r.Seq)
			if b.Get(key) != nil {
				continue // idempotent
			}
			if err := b.Put(key, r.Bytes); err != nil {
				return fmt.Errorf("persister: put change: %w", err)
			}
		}
		return nil
	})
}

func (p *BoltPersister) RemoveChanges(records []ChangeRecord) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChanges)
		for _, r := range records {
			if err := b.Delete(changeBucketKey(r.Actor, r.Seq)); err != nil {
				return fmt.Errorf("persister: delete change: %w", err)
			}
		}
		return nil
	})
}

func (p *BoltPersister) GetDocument() ([]byte, error) {
	var doc []byte
	err := p.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketDoc).Get([]byte(documentKey))
		if v != nil {
			doc = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persister: get document: %w", err)
	}
	return doc, nil
}

func (p *BoltPersister) SetDocument(doc []byte) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDoc).Put([]byte(documentKey), doc)
	})
}

func (p *BoltPersister) GetSyncState(peerID uint64) ([]byte, error) {
	var state []byte
	err := p.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSync).Get(peerSyncKey(peerID))
		if v != nil {
			state = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persister: get sync state: %w", err)
	}
	return state, nil
}

func (p *BoltPersister) SetSyncState(peerID uint64, state []byte) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSync).Put(peerSyncKey(peerID), state)
	})
}

func peerSyncKey(peerID uint64) []byte {
	return []byte(strconv.FormatUint(peerID, 10))
}

// Flush writes nothing itself: bbolt fsyncs on every committed Update by
// default, so durability is already guaranteed as of each call above
// returning; Flush here exists to satisfy the Persister contract and
// report size.
func (p *BoltPersister) Flush() (int64, error) {
	sizes, err := p.Sizes()
	if err != nil {
		return 0, err
	}
	return sizes.TotalBytes, nil
}

func (p *BoltPersister) Sizes() (Sizes, error) {
	var changeBytes, docBytes int64
	err := p.db.View(func(tx *bolt.Tx) error {
		changeBytes = int64(tx.Bucket(bucketChanges).Stats().LeafInuse)
		if v := tx.Bucket(bucketDoc).Get([]byte(documentKey)); v != nil {
			docBytes = int64(len(v))
		}
		return nil
	})
	if err != nil {
		return Sizes{}, fmt.Errorf("persister: sizes: %w", err)
	}
	total := changeBytes + docBytes
	if info, err := os.Stat(p.db.Path()); err == nil {
		total = info.Size()
	}
	return Sizes{ChangeLogBytes: changeBytes, DocumentBytes: docBytes, TotalBytes: total}, nil
}

func (p *BoltPersister) Close() error {
	return p.db.Close()
}

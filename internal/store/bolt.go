package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/warren/internal/coreerrors"
	"github.com/cuemby/warren/internal/entry"
	"github.com/cuemby/warren/internal/identity"
	"github.com/cuemby/warren/internal/operation"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketEntries         = []byte("entries")
	bucketEntriesByHash   = []byte("entries_by_hash")
	bucketLogs            = []byte("logs")
	bucketLogsByDocument  = []byte("logs_by_document")
	bucketOperations      = []byte("operations")
	bucketOpsByDocument   = []byte("operations_by_document")
	bucketDocuments       = []byte("documents")
	bucketDocsBySchema    = []byte("documents_by_schema")
	bucketDocumentViews   = []byte("document_views")
	bucketTasks           = []byte("tasks")
)

// BoltStore implements Store using an embedded BoltDB file, following
// the same bucket-per-table, JSON-row pattern used throughout this
// node's storage layer.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) a BoltDB-backed log store
// under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "node.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", coreerrors.ErrStorage, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketEntries, bucketEntriesByHash,
			bucketLogs, bucketLogsByDocument,
			bucketOperations, bucketOpsByDocument,
			bucketDocuments, bucketDocsBySchema,
			bucketDocumentViews,
			bucketTasks,
		}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrStorage, err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// entryKey builds the fixed-width, order-preserving key
// author(32) || logID(8 BE) || seqNum(8 BE) used for the entries bucket,
// so that ListEntriesAfter can cursor-scan in seq_num order.
func entryKey(pub identity.PublicKey, logID entry.LogID, seq entry.SeqNum) []byte {
	k := make([]byte, identity.PublicKeySize+16)
	copy(k, pub[:])
	binary.BigEndian.PutUint64(k[identity.PublicKeySize:], uint64(logID))
	binary.BigEndian.PutUint64(k[identity.PublicKeySize+8:], uint64(seq))
	return k
}

func logPrefix(pub identity.PublicKey, logID entry.LogID) []byte {
	k := make([]byte, identity.PublicKeySize+8)
	copy(k, pub[:])
	binary.BigEndian.PutUint64(k[identity.PublicKeySize:], uint64(logID))
	return k
}

func logRecordKey(pub identity.PublicKey, logID entry.LogID) []byte {
	return logPrefix(pub, logID)
}

func (s *BoltStore) GetEntry(pub identity.PublicKey, logID entry.LogID, seq entry.SeqNum) (*entry.Entry, error) {
	var out *entry.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		data := b.Get(entryKey(pub, logID, seq))
		if data == nil {
			return ErrNotFound
		}
		e, err := entry.Decode(data)
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

func (s *BoltStore) GetEntryByHash(h identity.Hash) (*entry.Entry, error) {
	var out *entry.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketEntriesByHash)
		key := idx.Get(h[:])
		if key == nil {
			return ErrNotFound
		}
		data := tx.Bucket(bucketEntries).Get(key)
		if data == nil {
			return ErrNotFound
		}
		e, err := entry.Decode(data)
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

func (s *BoltStore) LatestEntry(pub identity.PublicKey, logID entry.LogID) (*entry.Entry, error) {
	var out *entry.Entry
	prefix := logPrefix(pub, logID)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		var lastKey, lastVal []byte
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			lastKey, lastVal = k, v
		}
		if lastKey == nil {
			return ErrNotFound
		}
		e, err := entry.Decode(lastVal)
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

func (s *BoltStore) ListEntriesAfter(pub identity.PublicKey, logID entry.LogID, after entry.SeqNum, limit int) ([]*entry.Entry, error) {
	var out []*entry.Entry
	prefix := logPrefix(pub, logID)
	start := entryKey(pub, logID, after+1)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.Seek(start); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			if len(out) >= limit {
				break
			}
			e, err := entry.Decode(v)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) NextLogID(pub identity.PublicKey) (entry.LogID, error) {
	used := make(map[entry.LogID]struct{})
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLogs).Cursor()
		for k, _ := c.Seek(pub[:]); k != nil && hasPrefix(k, pub[:]); k, _ = c.Next() {
			logID := entry.LogID(binary.BigEndian.Uint64(k[identity.PublicKeySize:]))
			used[logID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for i := entry.LogID(0); ; i++ {
		if _, ok := used[i]; !ok {
			return i, nil
		}
	}
}

func (s *BoltStore) GetLog(pub identity.PublicKey, logID entry.LogID) (*LogRecord, error) {
	var rec LogRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLogs).Get(logRecordKey(pub, logID))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListLogsForSchemas returns every log whose schema is in schemaIDs, used
// by the replication engine to build its Have set for a session's target
// set (spec §4.7 "log-height strategy").
func (s *BoltStore) ListLogsForSchemas(schemaIDs []string) ([]*LogRecord, error) {
	want := make(map[string]struct{}, len(schemaIDs))
	for _, id := range schemaIDs {
		want[id] = struct{}{}
	}
	var out []*LogRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLogs).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec LogRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if _, ok := want[rec.SchemaID]; ok {
				out = append(out, &rec)
			}
		}
		return nil
	})
	return out, err
}

func logByDocumentKey(pub identity.PublicKey, docID DocumentID) []byte {
	k := make([]byte, identity.PublicKeySize+identity.HashSize)
	copy(k, pub[:])
	copy(k[identity.PublicKeySize:], docID[:])
	return k
}

func (s *BoltStore) LogForDocument(pub identity.PublicKey, docID DocumentID) (*LogRecord, error) {
	var rec LogRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		logKey := tx.Bucket(bucketLogsByDocument).Get(logByDocumentKey(pub, docID))
		if logKey == nil {
			return ErrNotFound
		}
		data := tx.Bucket(bucketLogs).Get(logKey)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

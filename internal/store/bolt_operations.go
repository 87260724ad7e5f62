package store

import (
	"encoding/json"
	"sort"

	"github.com/cuemby/warren/internal/operation"
	bolt "go.etcd.io/bbolt"
)

func (s *BoltStore) GetOperation(id OperationID) (*OperationRecord, error) {
	var rec OperationRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketOperations).Get(id[:])
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

func (s *BoltStore) ListOperationsForDocument(docID DocumentID) ([]*OperationRecord, error) {
	var recs []*OperationRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOpsByDocument).Cursor()
		ops := tx.Bucket(bucketOperations)
		for k, v := c.Seek(docID[:]); k != nil && hasPrefix(k, docID[:]); k, v = c.Next() {
			data := ops.Get(v)
			if data == nil {
				continue
			}
			var rec OperationRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			recs = append(recs, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].SortedIndex != recs[j].SortedIndex {
			return recs[i].SortedIndex < recs[j].SortedIndex
		}
		return recs[i].OperationID.Less(recs[j].OperationID)
	})
	return recs, nil
}

func (s *BoltStore) SetSortedIndex(opID OperationID, idx int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOperations)
		data := b.Get(opID[:])
		if data == nil {
			return ErrNotFound
		}
		var rec OperationRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		rec.SortedIndex = idx
		updated, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return b.Put(opID[:], updated)
	})
}

func (s *BoltStore) DocumentForOperation(opID OperationID) (DocumentID, error) {
	rec, err := s.GetOperation(opID)
	if err != nil {
		return DocumentID{}, err
	}
	return rec.DocumentID, nil
}

// DocumentForViewID resolves a document id from the view's operation
// ids: every operation id in a view belongs to the same document, so
// any one resolves it (spec §4.2 "intersection of the view's operation
// ids").
func (s *BoltStore) DocumentForViewID(v operation.ViewID) (DocumentID, error) {
	if len(v) == 0 {
		return DocumentID{}, ErrNotFound
	}
	var docID DocumentID
	err := s.db.View(func(tx *bolt.Tx) error {
		ops := tx.Bucket(bucketOperations)
		for i, opID := range v {
			data := ops.Get(opID[:])
			if data == nil {
				return ErrNotFound
			}
			var rec OperationRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			if i == 0 {
				docID = rec.DocumentID
			} else if rec.DocumentID != docID {
				return ErrNotFound
			}
		}
		return nil
	})
	if err != nil {
		return DocumentID{}, err
	}
	return docID, nil
}

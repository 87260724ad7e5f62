package store

import (
	"encoding/json"

	"github.com/cuemby/warren/internal/operation"
	bolt "go.etcd.io/bbolt"
)

func (s *BoltStore) GetDocument(docID DocumentID) (*Document, error) {
	var doc Document
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDocuments).Get(docID[:])
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &doc)
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *BoltStore) DocumentsBySchema(schemaID string) ([]*Document, error) {
	var docs []*Document
	prefix := append([]byte(schemaID), 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDocsBySchema).Cursor()
		documents := tx.Bucket(bucketDocuments)
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			data := documents.Get(v)
			if data == nil {
				continue
			}
			var doc Document
			if err := json.Unmarshal(data, &doc); err != nil {
				return err
			}
			docs = append(docs, &doc)
		}
		return nil
	})
	return docs, err
}

func documentViewKey(v operation.ViewID) []byte {
	k := make([]byte, 0, len(v)*32)
	for _, id := range v {
		k = append(k, id[:]...)
	}
	return k
}

// PutDocumentView persists view and advances the owning document's
// current_view_id, idempotently on (document_id, view_id): writing the
// same view twice is a no-op on the view row (spec §4.5 step 4).
func (s *BoltStore) PutDocumentView(view *DocumentView) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := documentViewKey(view.ViewID)
		data, err := json.Marshal(view)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDocumentViews).Put(key, data); err != nil {
			return err
		}

		docs := tx.Bucket(bucketDocuments)
		docData := docs.Get(view.DocumentID[:])
		if docData == nil {
			return ErrNotFound
		}
		var doc Document
		if err := json.Unmarshal(docData, &doc); err != nil {
			return err
		}
		doc.CurrentViewID = view.ViewID
		updated, err := json.Marshal(&doc)
		if err != nil {
			return err
		}
		return docs.Put(view.DocumentID[:], updated)
	})
}

// ListDocumentViews returns every persisted document view, used by the
// garbage task to find views no document still points to as its
// current_view_id.
func (s *BoltStore) ListDocumentViews() ([]*DocumentView, error) {
	var views []*DocumentView
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDocumentViews).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var view DocumentView
			if err := json.Unmarshal(v, &view); err != nil {
				return err
			}
			views = append(views, &view)
		}
		return nil
	})
	return views, err
}

// DeleteDocumentView removes a view row outright. Only safe to call on
// a view that is not any document's current_view_id.
func (s *BoltStore) DeleteDocumentView(viewID operation.ViewID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDocumentViews).Delete(documentViewKey(viewID))
	})
}

func (s *BoltStore) GetDocumentView(viewID operation.ViewID) (*DocumentView, error) {
	var view DocumentView
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDocumentViews).Get(documentViewKey(viewID))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &view)
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// MarkDocumentDeleted tombstones a document: its id and owner persist,
// but PutDocumentView for the terminal view still records empty fields.
func (s *BoltStore) MarkDocumentDeleted(docID DocumentID, viewID operation.ViewID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		data := docs.Get(docID[:])
		if data == nil {
			return ErrNotFound
		}
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		doc.Deleted = true
		doc.CurrentViewID = viewID
		updated, err := json.Marshal(&doc)
		if err != nil {
			return err
		}
		return docs.Put(docID[:], updated)
	})
}

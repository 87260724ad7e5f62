package store

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/warren/internal/entry"
	"github.com/cuemby/warren/internal/identity"
	"github.com/cuemby/warren/internal/operation"
	bolt "go.etcd.io/bbolt"
)

// PublishEntry inserts e and op as one atomic unit: the entry row, its
// hash index, the operation row, optional new log/document rows, and a
// deduplicated `reduce` task — all within a single bbolt transaction, so
// readers never observe a partially-inserted entry (spec §4.2
// "Concurrency").
func (s *BoltStore) PublishEntry(e *entry.Entry, op *operation.Operation, opID OperationID, docID DocumentID, newLog, newDocument bool) (bool, error) {
	var reduceEnqueued bool

	err := s.db.Update(func(tx *bolt.Tx) error {
		encodedEntry, err := entry.Encode(e)
		if err != nil {
			return err
		}

		key := entryKey(e.PublicKey, e.LogID, e.SeqNum)
		if err := tx.Bucket(bucketEntries).Put(key, encodedEntry); err != nil {
			return err
		}
		entryHash, err := e.Hash()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketEntriesByHash).Put(entryHash[:], key); err != nil {
			return err
		}

		if newLog {
			logRec := &LogRecord{PublicKey: e.PublicKey, LogID: e.LogID, DocumentID: docID, SchemaID: op.SchemaID}
			logData, err := json.Marshal(logRec)
			if err != nil {
				return err
			}
			lrKey := logRecordKey(e.PublicKey, e.LogID)
			if err := tx.Bucket(bucketLogs).Put(lrKey, logData); err != nil {
				return err
			}
			if err := tx.Bucket(bucketLogsByDocument).Put(logByDocumentKey(e.PublicKey, docID), lrKey); err != nil {
				return err
			}
		} else {
			lrData := tx.Bucket(bucketLogs).Get(logRecordKey(e.PublicKey, e.LogID))
			if lrData == nil {
				return fmt.Errorf("store: no log record for existing log")
			}
		}

		if newDocument {
			doc := &Document{ID: docID, SchemaID: op.SchemaID, Owner: e.PublicKey}
			docData, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketDocuments).Put(docID[:], docData); err != nil {
				return err
			}
			if err := addToSchemaIndexTx(tx, op.SchemaID, docID); err != nil {
				return err
			}
		}

		opRec := &OperationRecord{
			OperationID: opID,
			DocumentID:  docID,
			SchemaID:    op.SchemaID,
			Action:      op.Action,
			Previous:    op.Previous,
		}
		encodedOp, err := operation.Encode(op)
		if err != nil {
			return err
		}
		opRec.Encoded = encodedOp
		opData, err := json.Marshal(opRec)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketOperations).Put(opID[:], opData); err != nil {
			return err
		}
		if err := tx.Bucket(bucketOpsByDocument).Put(opsByDocumentKey(docID, opID), opID[:]); err != nil {
			return err
		}

		enqueued, err := enqueueTaskTx(tx, "reduce", TaskInput{Kind: DocumentInput, DocumentID: docID})
		if err != nil {
			return err
		}
		reduceEnqueued = enqueued
		return nil
	})

	return reduceEnqueued, err
}

func opsByDocumentKey(docID DocumentID, opID OperationID) []byte {
	k := make([]byte, 0, identity.HashSize*2)
	k = append(k, docID[:]...)
	k = append(k, opID[:]...)
	return k
}

func addToSchemaIndexTx(tx *bolt.Tx, schemaID string, docID DocumentID) error {
	k := schemaIndexKey(schemaID, docID)
	return tx.Bucket(bucketDocsBySchema).Put(k, docID[:])
}

func schemaIndexKey(schemaID string, docID DocumentID) []byte {
	k := make([]byte, 0, len(schemaID)+1+identity.HashSize)
	k = append(k, []byte(schemaID)...)
	k = append(k, 0)
	k = append(k, docID[:]...)
	return k
}

package store

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"
)

func taskKey(worker string, input TaskInput) []byte {
	h := input.Hash()
	k := make([]byte, 0, len(worker)+1+len(h))
	k = append(k, []byte(worker)...)
	k = append(k, 0)
	k = append(k, h[:]...)
	return k
}

func enqueueTaskTx(tx *bolt.Tx, worker string, input TaskInput) (bool, error) {
	b := tx.Bucket(bucketTasks)
	key := taskKey(worker, input)
	if b.Get(key) != nil {
		return false, nil
	}
	data, err := json.Marshal(&Task{Worker: worker, Input: input})
	if err != nil {
		return false, err
	}
	if err := b.Put(key, data); err != nil {
		return false, err
	}
	return true, nil
}

// EnqueueTask inserts a `(worker, input)` task row iff one is not
// already pending, deduplicating on `(worker, input_hash)` (spec §4.2,
// §4.6, testable property 9).
func (s *BoltStore) EnqueueTask(worker string, input TaskInput) (bool, error) {
	var enqueued bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		enqueued, err = enqueueTaskTx(tx, worker, input)
		return err
	})
	return enqueued, err
}

// RemoveTask deletes a task row once a worker has consumed it.
func (s *BoltStore) RemoveTask(worker string, input TaskInput) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Delete(taskKey(worker, input))
	})
}

// ListTasks returns every currently pending task for worker, used to
// warm-start the scheduler's in-memory queues after a restart.
func (s *BoltStore) ListTasks(worker string) ([]TaskInput, error) {
	var inputs []TaskInput
	prefix := append([]byte(worker), 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTasks).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var t Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			inputs = append(inputs, t.Input)
		}
		return nil
	})
	return inputs, err
}

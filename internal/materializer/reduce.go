// Package materializer implements the four cooperating workers that
// rebuild document views, resolve dependencies, assemble user schemas,
// and reconstruct blobs from the log store's raw operations (spec §4.5).
package materializer

import (
	"context"
	"fmt"
	"sort"

	"github.com/cuemby/warren/internal/coreerrors"
	"github.com/cuemby/warren/internal/log"
	"github.com/cuemby/warren/internal/operation"
	"github.com/cuemby/warren/internal/scheduler"
	"github.com/cuemby/warren/internal/schema"
	"github.com/cuemby/warren/internal/store"
)

// Materializer holds the dependencies every worker needs: the log
// store, the live schema registry, and where reconstructed blobs land
// on disk.
type Materializer struct {
	Store         store.Store
	Registry      *schema.Registry
	BlobsBasePath string
}

// New builds a Materializer over s and registry, writing reconstructed
// blobs under blobsBasePath (spec §6 "blobs_base_path").
func New(s store.Store, registry *schema.Registry, blobsBasePath string) *Materializer {
	return &Materializer{Store: s, Registry: registry, BlobsBasePath: blobsBasePath}
}

// Reduce rebuilds a document's current view from its full operation
// history (spec §4.5 "reduce"). input.Kind is DocumentInput or
// ViewInput; a ViewInput resolves its document from the view and
// bounds the fold to that view's ancestor set.
func (m *Materializer) Reduce(_ context.Context, input store.TaskInput) (scheduler.Result, error) {
	logger := log.WithComponent("materializer.reduce")

	docID := input.DocumentID
	if input.Kind == store.ViewInput {
		resolved, err := m.Store.DocumentForViewID(input.ViewID)
		if err != nil {
			return scheduler.Result{}, fmt.Errorf("%w: resolve document for view: %v", coreerrors.ErrTaskRetryable, err)
		}
		docID = resolved
	}

	ops, err := m.Store.ListOperationsForDocument(docID)
	if err != nil {
		return scheduler.Result{}, fmt.Errorf("%w: list operations: %v", coreerrors.ErrTaskRetryable, err)
	}
	if len(ops) == 0 {
		return scheduler.Result{}, fmt.Errorf("%w: no operations found for document %s", coreerrors.ErrTaskRetryable, docID)
	}

	ordered, err := topoSort(ops)
	if err != nil {
		return scheduler.Result{}, fmt.Errorf("%w: %v", coreerrors.ErrTaskCritical, err)
	}

	var ancestors map[operation.OperationID]struct{}
	if input.Kind == store.ViewInput {
		ancestors, err = ancestorSet(ops, input.ViewID)
		if err != nil {
			return scheduler.Result{}, fmt.Errorf("%w: %v", coreerrors.ErrTaskRetryable, err)
		}
	}

	fields := make(map[string]operation.FieldValue)
	deleted := false
	var tips []operation.OperationID

	hasSuccessor := make(map[operation.OperationID]bool, len(ordered))

	for idx, rec := range ordered {
		if err := m.Store.SetSortedIndex(rec.OperationID, idx); err != nil {
			return scheduler.Result{}, fmt.Errorf("%w: persist sorted index: %v", coreerrors.ErrTaskRetryable, err)
		}
		if ancestors != nil {
			if _, ok := ancestors[rec.OperationID]; !ok {
				continue
			}
		}
		op, err := rec.Decode()
		if err != nil {
			return scheduler.Result{}, fmt.Errorf("%w: decode operation %s: %v", coreerrors.ErrTaskCritical, rec.OperationID, err)
		}
		switch op.Action {
		case operation.ActionCreate:
			fields = make(map[string]operation.FieldValue, len(op.Fields))
			for k, v := range op.Fields {
				fields[k] = v
			}
			deleted = false
		case operation.ActionUpdate:
			for k, v := range op.Fields {
				fields[k] = v
			}
		case operation.ActionDelete:
			deleted = true
			fields = nil
		}
		for _, prev := range rec.Previous {
			hasSuccessor[prev] = true
		}
	}

	for _, rec := range ordered {
		if ancestors != nil {
			if _, ok := ancestors[rec.OperationID]; !ok {
				continue
			}
		}
		if !hasSuccessor[rec.OperationID] {
			tips = append(tips, rec.OperationID)
		}
	}
	viewID := operation.NewViewID(tips)

	view := &store.DocumentView{
		ViewID:     viewID,
		DocumentID: docID,
		SchemaID:   ordered[0].SchemaID,
		Fields:     make(map[string]operation.OperationID, len(fields)),
	}
	for name := range fields {
		// The fold keeps only field values, not who set them, so
		// re-walk the ordered operations to record the id of the
		// operation that last set each field.
		view.Fields[name] = lastSetter(ordered, ancestors, name)
	}
	if deleted {
		if err := m.Store.MarkDocumentDeleted(docID, viewID); err != nil {
			return scheduler.Result{}, fmt.Errorf("%w: mark document deleted: %v", coreerrors.ErrTaskRetryable, err)
		}
	}
	if err := m.Store.PutDocumentView(view); err != nil {
		return scheduler.Result{}, fmt.Errorf("%w: persist view: %v", coreerrors.ErrTaskRetryable, err)
	}

	logger.Debug().Str("document_id", docID.String()).Int("ops", len(ordered)).Msg("document reduced")

	return scheduler.Result{FollowUps: []scheduler.Task{
		{Name: "dependency", Input: store.TaskInput{Kind: store.DocumentInput, DocumentID: docID}},
	}}, nil
}

// lastSetter finds the last (in topological order) Create/Update
// operation within the ancestor bound that declared name, so the view's
// field->operation provenance map is accurate.
func lastSetter(ordered []*store.OperationRecord, ancestors map[operation.OperationID]struct{}, name string) operation.OperationID {
	var setter operation.OperationID
	for _, rec := range ordered {
		if ancestors != nil {
			if _, ok := ancestors[rec.OperationID]; !ok {
				continue
			}
		}
		op, err := rec.Decode()
		if err != nil {
			continue
		}
		if op.Action == operation.ActionDelete {
			continue
		}
		if _, has := op.Fields[name]; has {
			setter = rec.OperationID
		}
	}
	return setter
}

// topoSort orders ops by their previous-operation edges, tie-breaking
// deterministically by operation id (spec §4.5 step 2).
func topoSort(ops []*store.OperationRecord) ([]*store.OperationRecord, error) {
	byID := make(map[operation.OperationID]*store.OperationRecord, len(ops))
	indegree := make(map[operation.OperationID]int, len(ops))
	for _, rec := range ops {
		byID[rec.OperationID] = rec
		if _, ok := indegree[rec.OperationID]; !ok {
			indegree[rec.OperationID] = 0
		}
	}
	children := make(map[operation.OperationID][]operation.OperationID)
	for _, rec := range ops {
		for _, prev := range rec.Previous {
			if _, ok := byID[prev]; !ok {
				// Ingest stores an operation only after its previous
				// operations, so a missing one is a broken invariant;
				// Reduce reports it as a critical failure.
				return nil, fmt.Errorf("previous operation %s not loaded", prev)
			}
			indegree[rec.OperationID]++
			children[prev] = append(children[prev], rec.OperationID)
		}
	}

	var ready []operation.OperationID
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sortIDs(ready)

	var ordered []*store.OperationRecord
	for len(ready) > 0 {
		sortIDs(ready)
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byID[next])
		for _, child := range children[next] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}
	if len(ordered) != len(ops) {
		return nil, fmt.Errorf("operation graph contains a cycle or missing predecessor")
	}
	return ordered, nil
}

func sortIDs(ids []operation.OperationID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

// ancestorSet computes the set of operation ids reachable by walking
// Previous edges backward from viewID's tips, inclusive, so Reduce can
// stop folding at a historical view (spec §4.5 step 3).
func ancestorSet(ops []*store.OperationRecord, viewID operation.ViewID) (map[operation.OperationID]struct{}, error) {
	byID := make(map[operation.OperationID]*store.OperationRecord, len(ops))
	for _, rec := range ops {
		byID[rec.OperationID] = rec
	}
	seen := make(map[operation.OperationID]struct{})
	var walk func(id operation.OperationID) error
	walk = func(id operation.OperationID) error {
		if _, ok := seen[id]; ok {
			return nil
		}
		rec, ok := byID[id]
		if !ok {
			return fmt.Errorf("ancestor operation %s not loaded", id)
		}
		seen[id] = struct{}{}
		for _, prev := range rec.Previous {
			if err := walk(prev); err != nil {
				return err
			}
		}
		return nil
	}
	for _, tip := range viewID {
		if err := walk(tip); err != nil {
			return nil, err
		}
	}
	return seen, nil
}

package materializer

import (
	"context"
	"fmt"

	"github.com/cuemby/warren/internal/coreerrors"
	"github.com/cuemby/warren/internal/log"
	"github.com/cuemby/warren/internal/operation"
	"github.com/cuemby/warren/internal/schema"
	"github.com/cuemby/warren/internal/scheduler"
	"github.com/cuemby/warren/internal/store"
)

// Dependency ensures every relation field of a document's current view
// points to a document already known locally (spec §4.5 "dependency").
// Missing targets each get a reduce task enqueued and this task reports
// a retryable failure so it is retried once they materialize; once every
// target resolves, a schema task is emitted for schema_definition_v1
// documents and a blob task for blob_v1 documents.
func (m *Materializer) Dependency(_ context.Context, input store.TaskInput) (scheduler.Result, error) {
	logger := log.WithComponent("materializer.dependency")

	doc, err := m.Store.GetDocument(input.DocumentID)
	if err != nil {
		return scheduler.Result{}, fmt.Errorf("%w: load document: %v", coreerrors.ErrTaskRetryable, err)
	}
	if doc.Deleted || len(doc.CurrentViewID) == 0 {
		return scheduler.Result{}, nil
	}

	view, err := m.Store.GetDocumentView(doc.CurrentViewID)
	if err != nil {
		return scheduler.Result{}, fmt.Errorf("%w: load current view: %v", coreerrors.ErrTaskRetryable, err)
	}

	fields := m.reconstructFields(view)

	var followUps []scheduler.Task
	missing := 0
	for _, value := range fields {
		switch value.Type {
		case operation.FieldRelation:
			if !m.documentExists(value.Relation) {
				missing++
				followUps = append(followUps, scheduler.Task{Name: "reduce", Input: store.TaskInput{Kind: store.DocumentInput, DocumentID: value.Relation}})
			}
		case operation.FieldPinnedRelation:
			if !m.viewExists(value.PinnedRelation) {
				missing++
				followUps = append(followUps, scheduler.Task{Name: "reduce", Input: store.TaskInput{Kind: store.ViewInput, ViewID: value.PinnedRelation}})
			}
		case operation.FieldRelationList:
			for _, docID := range value.RelationList {
				if !m.documentExists(docID) {
					missing++
					followUps = append(followUps, scheduler.Task{Name: "reduce", Input: store.TaskInput{Kind: store.DocumentInput, DocumentID: docID}})
				}
			}
		case operation.FieldPinnedRelationList:
			for _, v := range value.PinnedRelationList {
				if !m.viewExists(v) {
					missing++
					followUps = append(followUps, scheduler.Task{Name: "reduce", Input: store.TaskInput{Kind: store.ViewInput, ViewID: v}})
				}
			}
		}
	}

	if missing > 0 {
		logger.Debug().Str("document_id", input.DocumentID.String()).Int("missing", missing).Msg("relation targets not yet materialized")
		return scheduler.Result{FollowUps: followUps}, fmt.Errorf("%w: %d relation target(s) not yet materialized", coreerrors.ErrTaskRetryable, missing)
	}

	if doc.SchemaID == schema.SchemaDefinitionV1 {
		return scheduler.Result{FollowUps: []scheduler.Task{
			{Name: "schema", Input: store.TaskInput{Kind: store.DocumentInput, DocumentID: input.DocumentID}},
		}}, nil
	}
	if doc.SchemaID == schema.BlobV1 {
		return scheduler.Result{FollowUps: []scheduler.Task{
			{Name: "blob", Input: store.TaskInput{Kind: store.DocumentInput, DocumentID: input.DocumentID}},
		}}, nil
	}
	// garbage is a best-effort supplement (spec §4.5) and is not
	// emitted here.
	return scheduler.Result{}, nil
}

// reconstructFields re-derives the view's field values by decoding every
// operation it references, used when the view's setter map alone
// doesn't identify a representative operation to decode whole.
func (m *Materializer) reconstructFields(view *store.DocumentView) map[string]operation.FieldValue {
	fields := make(map[string]operation.FieldValue, len(view.Fields))
	for name, opID := range view.Fields {
		rec, err := m.Store.GetOperation(opID)
		if err != nil {
			continue
		}
		op, err := rec.Decode()
		if err != nil {
			continue
		}
		if v, ok := op.Fields[name]; ok {
			fields[name] = v
		}
	}
	return fields
}

func (m *Materializer) documentExists(id operation.DocumentID) bool {
	_, err := m.Store.GetDocument(id)
	return err == nil
}

func (m *Materializer) viewExists(id operation.ViewID) bool {
	_, err := m.Store.GetDocumentView(id)
	return err == nil
}

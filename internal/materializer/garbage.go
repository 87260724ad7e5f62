package materializer

import (
	"context"

	"github.com/cuemby/warren/internal/coreerrors"
	"github.com/cuemby/warren/internal/log"
	"github.com/cuemby/warren/internal/scheduler"
	"github.com/cuemby/warren/internal/store"
)

// Garbage prunes document_views rows that no document references as its
// current_view_id (an aquadoggo materializer task variant the spec names
// but does not otherwise detail). input.DocumentID is ignored; the task
// always sweeps the whole view table, since a stale view can be left
// behind by any prior reduce regardless of which document triggered
// this run. Best-effort: a view whose document row cannot be loaded is
// skipped rather than treated as an error. A tombstoned document keeps
// its row, so its views other than the current one are pruned too.
func (m *Materializer) Garbage(_ context.Context, _ store.TaskInput) (scheduler.Result, error) {
	logger := log.WithComponent("materializer.garbage")

	views, err := m.Store.ListDocumentViews()
	if err != nil {
		return scheduler.Result{}, coreerrors.ErrTaskRetryable
	}

	pruned := 0
	for _, view := range views {
		doc, err := m.Store.GetDocument(view.DocumentID)
		if err != nil {
			continue
		}
		if doc.CurrentViewID.Equal(view.ViewID) {
			continue
		}
		if err := m.Store.DeleteDocumentView(view.ViewID); err != nil {
			continue
		}
		pruned++
	}
	if pruned > 0 {
		logger.Debug().Int("pruned", pruned).Msg("orphaned document views pruned")
	}
	return scheduler.Result{}, nil
}

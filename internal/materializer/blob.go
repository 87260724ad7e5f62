package materializer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/warren/internal/coreerrors"
	"github.com/cuemby/warren/internal/log"
	"github.com/cuemby/warren/internal/schema"
	"github.com/cuemby/warren/internal/scheduler"
	"github.com/cuemby/warren/internal/store"
)

// Blob reassembles a blob_v1 document's ordered pieces into one byte
// sequence and writes it under BlobsBasePath/<document_id>/<view_id>,
// updating a <document_id>.latest symlink to point at the latest view (spec
// §4.5 "blob", §6 "blobs_base_path"). Only runs for blob_v1 documents; a
// missing piece is a retryable failure.
func (m *Materializer) Blob(_ context.Context, input store.TaskInput) (scheduler.Result, error) {
	logger := log.WithComponent("materializer.blob")

	doc, err := m.Store.GetDocument(input.DocumentID)
	if err != nil {
		return scheduler.Result{}, fmt.Errorf("%w: load blob document: %v", coreerrors.ErrTaskRetryable, err)
	}
	if doc.SchemaID != schema.BlobV1 {
		return scheduler.Result{}, fmt.Errorf("%w: document %s is not a blob_v1 document", coreerrors.ErrTaskCritical, input.DocumentID)
	}
	if len(doc.CurrentViewID) == 0 {
		return scheduler.Result{}, fmt.Errorf("%w: blob document %s not yet reduced", coreerrors.ErrTaskRetryable, input.DocumentID)
	}

	view, err := m.Store.GetDocumentView(doc.CurrentViewID)
	if err != nil {
		return scheduler.Result{}, fmt.Errorf("%w: load blob view: %v", coreerrors.ErrTaskRetryable, err)
	}
	fields := m.reconstructFields(view)
	pieceViews := fields["pieces"].PinnedRelationList

	var buf bytes.Buffer
	for _, pieceViewID := range pieceViews {
		pieceView, err := m.Store.GetDocumentView(pieceViewID)
		if err != nil {
			return scheduler.Result{}, fmt.Errorf("%w: blob piece view %s missing: %v", coreerrors.ErrTaskRetryable, pieceViewID, err)
		}
		pieceFields := m.reconstructFields(pieceView)
		buf.Write(pieceFields["data"].Bytes)
	}

	viewDir := filepath.Join(m.BlobsBasePath, input.DocumentID.String())
	if err := os.MkdirAll(viewDir, 0o755); err != nil {
		return scheduler.Result{}, fmt.Errorf("%w: create blob directory: %v", coreerrors.ErrTaskRetryable, err)
	}
	viewPath := filepath.Join(viewDir, doc.CurrentViewID.String())
	if err := os.WriteFile(viewPath, buf.Bytes(), 0o644); err != nil {
		return scheduler.Result{}, fmt.Errorf("%w: write blob contents: %v", coreerrors.ErrTaskRetryable, err)
	}

	// Named <document_id>.latest rather than bare <document_id> since
	// that name is already the reassembled-pieces directory.
	symlinkPath := filepath.Join(m.BlobsBasePath, input.DocumentID.String()+".latest")
	_ = os.Remove(symlinkPath)
	if err := os.Symlink(viewPath, symlinkPath); err != nil {
		return scheduler.Result{}, fmt.Errorf("%w: update latest-view symlink: %v", coreerrors.ErrTaskRetryable, err)
	}

	logger.Debug().Str("document_id", input.DocumentID.String()).Int("bytes", buf.Len()).Msg("blob reassembled")
	return scheduler.Result{}, nil
}

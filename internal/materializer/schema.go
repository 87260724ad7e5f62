package materializer

import (
	"context"
	"fmt"

	"github.com/cuemby/warren/internal/coreerrors"
	"github.com/cuemby/warren/internal/log"
	"github.com/cuemby/warren/internal/schema"
	"github.com/cuemby/warren/internal/scheduler"
	"github.com/cuemby/warren/internal/store"
)

// Schema attempts to assemble a complete user schema from a
// schema_definition_v1 document and its referenced
// schema_field_definition_v1 documents (spec §4.5 "schema"). Success
// registers the new schema and fires a registry change event. A missing
// field document is a retryable failure — the task is retried once it
// arrives.
func (m *Materializer) Schema(_ context.Context, input store.TaskInput) (scheduler.Result, error) {
	logger := log.WithComponent("materializer.schema")

	doc, err := m.Store.GetDocument(input.DocumentID)
	if err != nil {
		return scheduler.Result{}, fmt.Errorf("%w: load schema_definition document: %v", coreerrors.ErrTaskRetryable, err)
	}
	if doc.SchemaID != schemaDefinitionID() {
		return scheduler.Result{}, fmt.Errorf("%w: document %s is not a schema_definition", coreerrors.ErrTaskCritical, input.DocumentID)
	}

	view, err := m.Store.GetDocumentView(doc.CurrentViewID)
	if err != nil {
		return scheduler.Result{}, fmt.Errorf("%w: load schema_definition view: %v", coreerrors.ErrTaskRetryable, err)
	}
	fields := m.reconstructFields(view)

	name := fields["name"].Str
	description := fields["description"].Str
	fieldRefs := fields["fields"].RelationList

	built := make([]schema.FieldDef, 0, len(fieldRefs))
	for _, fieldDocID := range fieldRefs {
		fieldDoc, err := m.Store.GetDocument(fieldDocID)
		if err != nil {
			return scheduler.Result{}, fmt.Errorf("%w: field definition document %s not found: %v", coreerrors.ErrTaskRetryable, fieldDocID, err)
		}
		if fieldDoc.CurrentViewID == nil {
			return scheduler.Result{}, fmt.Errorf("%w: field definition document %s not yet reduced", coreerrors.ErrTaskRetryable, fieldDocID)
		}
		fieldView, err := m.Store.GetDocumentView(fieldDoc.CurrentViewID)
		if err != nil {
			return scheduler.Result{}, fmt.Errorf("%w: field definition view %s not found: %v", coreerrors.ErrTaskRetryable, fieldDocID, err)
		}
		fieldFields := m.reconstructFields(fieldView)
		fieldType, ok := parseFieldType(fieldFields["type"].Str)
		if !ok {
			return scheduler.Result{}, fmt.Errorf("%w: field definition %s names an unknown type %q", coreerrors.ErrTaskCritical, fieldDocID, fieldFields["type"].Str)
		}
		built = append(built, schema.FieldDef{Name: fieldFields["name"].Str, Type: fieldType})
	}

	newSchema := &schema.Schema{
		ID:          fmt.Sprintf("%s_%s", name, doc.CurrentViewID.String()),
		Name:        name,
		Description: description,
		Fields:      built,
	}
	m.Registry.Add(newSchema)
	logger.Info().Str("schema_id", newSchema.ID).Msg("user schema assembled")

	return scheduler.Result{}, nil
}

func schemaDefinitionID() schema.ID {
	return schema.SchemaDefinitionV1
}

func parseFieldType(name string) (schema.FieldType, bool) {
	switch name {
	case "bool":
		return schema.TypeBool, true
	case "int":
		return schema.TypeInt, true
	case "float":
		return schema.TypeFloat, true
	case "string":
		return schema.TypeString, true
	case "bytes":
		return schema.TypeBytes, true
	case "relation":
		return schema.TypeRelation, true
	case "pinned_relation":
		return schema.TypePinnedRelation, true
	case "relation_list":
		return schema.TypeRelationList, true
	case "pinned_relation_list":
		return schema.TypePinnedRelationList, true
	default:
		return 0, false
	}
}

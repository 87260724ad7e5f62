package schema

// Well-known system schema ids that bootstrap the schema registry. User
// schemas are themselves documents built from these (spec §2.4, §4.5
// "schema" task; aquadoggo's db/stores/schema.rs bootstrap set).
const (
	SchemaDefinitionV1      ID = "schema_definition_v1"
	SchemaFieldDefinitionV1 ID = "schema_field_definition_v1"
	BlobV1                  ID = "blob_v1"
	BlobPieceV1             ID = "blob_piece_v1"
)

// IsSystemSchema reports whether id names one of the bootstrap schemas
// that exist before any user schema is materialized.
func IsSystemSchema(id ID) bool {
	switch id {
	case SchemaDefinitionV1, SchemaFieldDefinitionV1, BlobV1, BlobPieceV1:
		return true
	default:
		return false
	}
}

// schemaDefinitionSchema describes the fields of a schema_definition_v1
// document: name, description, and an ordered list of field references.
var schemaDefinitionSchema = &Schema{
	ID:          SchemaDefinitionV1,
	Name:        "schema_definition",
	Description: "Defines a user schema's name and description.",
	Fields: []FieldDef{
		{Name: "name", Type: TypeString},
		{Name: "description", Type: TypeString},
		{Name: "fields", Type: TypeRelationList},
	},
}

// schemaFieldDefinitionSchema describes the fields of a
// schema_field_definition_v1 document: a field's name and declared type.
var schemaFieldDefinitionSchema = &Schema{
	ID:          SchemaFieldDefinitionV1,
	Name:        "schema_field_definition",
	Description: "Defines one field of a user schema.",
	Fields: []FieldDef{
		{Name: "name", Type: TypeString},
		{Name: "type", Type: TypeString},
	},
}

// blobSchema describes the fields of a blob_v1 document: the ordered
// list of blob-piece documents that reassemble into the blob's bytes.
var blobSchema = &Schema{
	ID:          BlobV1,
	Name:        "blob",
	Description: "An ordered sequence of blob pieces reassembled into one byte sequence.",
	Fields: []FieldDef{
		{Name: "pieces", Type: TypePinnedRelationList},
		{Name: "length", Type: TypeInt},
	},
}

// blobPieceSchema describes the fields of a blob_piece_v1 document: one
// chunk of raw bytes.
var blobPieceSchema = &Schema{
	ID:          BlobPieceV1,
	Name:        "blob_piece",
	Description: "One chunk of a blob's byte sequence.",
	Fields: []FieldDef{
		{Name: "data", Type: TypeBytes},
	},
}

// bootstrapSchemas returns the fixed set of system schemas present in
// every registry from construction.
func bootstrapSchemas() []*Schema {
	return []*Schema{schemaDefinitionSchema, schemaFieldDefinitionSchema, blobSchema, blobPieceSchema}
}

package iceberg

// SchemaField is one top-level column of the current schema.
type SchemaField struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Required bool    `json:"required"`
	Doc      *string `json:"doc"`
}

// PartitionField is one field of the default partition spec.
type PartitionField struct {
	FieldID   int64  `json:"fieldId"`
	SourceID  int64  `json:"sourceId"`
	Name      string `json:"name"`
	Transform string `json:"transform"`
}

// SortField is one field of the default sort order.
type SortField struct {
	SourceID  int64  `json:"sourceId"`
	Transform string `json:"transform"`
	Direction string `json:"direction"`
	NullOrder string `json:"nullOrder"`
}

// CurrentSchema returns the fields of the schema matching current-schema-id,
// else of the legacy singular schema, else nothing.
func CurrentSchema(md *TableMetadata) []SchemaField {
	if fields, ok := findByID(md.Schemas, "schema-id", int64(md.CurrentSchemaID)); ok {
		return schemaFields(fields, false)
	}
	if md.Schema != nil {
		return schemaFields(legacyFields(md.Schema), true)
	}
	return []SchemaField{}
}

// DefaultPartitionSpec returns the fields of the spec matching default-spec-id,
// else of the legacy singular spec, else nothing.
func DefaultPartitionSpec(md *TableMetadata) []PartitionField {
	fields, ok := findByID(md.PartitionSpecs, "spec-id", int64(md.DefaultSpecID))
	if !ok {
		fields = legacyFields(md.PartitionSpec)
	}
	out := make([]PartitionField, 0, len(fields))
	for _, raw := range fields {
		f, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, PartitionField{
			FieldID:   intAttr(f, "field-id"),
			SourceID:  intAttr(f, "source-id"),
			Name:      stringAttr(f, "name", ""),
			Transform: stringAttr(f, "transform", ""),
		})
	}
	return out
}

// DefaultSortOrder returns the fields of the sort order matching
// default-sort-order-id, else of the legacy singular order, else nothing.
func DefaultSortOrder(md *TableMetadata) []SortField {
	fields, ok := findByID(md.SortOrders, "order-id", int64(md.DefaultSortOrderID))
	if !ok {
		fields = legacyFields(md.SortOrder)
	}
	out := make([]SortField, 0, len(fields))
	for _, raw := range fields {
		f, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, SortField{
			SourceID:  intAttr(f, "source-id"),
			Transform: stringAttr(f, "transform", "identity"),
			Direction: stringAttr(f, "direction", "asc"),
			NullOrder: stringAttr(f, "null-order", "nulls-first"),
		})
	}
	return out
}

func findByID(items []map[string]interface{}, idKey string, id int64) ([]interface{}, bool) {
	for _, item := range items {
		got, ok := toInt64(item[idKey])
		if !ok || got != id {
			continue
		}
		fields, _ := item["fields"].([]interface{})
		return fields, true
	}
	return nil, false
}

// legacyFields accepts an object with "fields" or a bare field array.
func legacyFields(v interface{}) []interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		fields, _ := t["fields"].([]interface{})
		return fields
	case []interface{}:
		return t
	default:
		return nil
	}
}

// schemaFields renders field types. Legacy schemas mark fields "optional"
// instead of "required".
func schemaFields(fields []interface{}, legacy bool) []SchemaField {
	out := make([]SchemaField, 0, len(fields))
	for _, raw := range fields {
		f, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		field := SchemaField{
			ID:   intAttr(f, "id"),
			Name: stringAttr(f, "name", ""),
			Type: TypeString(f["type"]),
		}
		if required, ok := f["required"].(bool); ok {
			field.Required = required
		} else if optional, ok := f["optional"].(bool); ok && legacy {
			field.Required = !optional
		}
		if doc, ok := f["doc"].(string); ok {
			field.Doc = &doc
		}
		out = append(out, field)
	}
	return out
}

// TypeString renders an Iceberg type for display: primitives as-is, lists as
// list<element>, maps as map<key,value> and other nested types by their
// "type" name.
func TypeString(t interface{}) string {
	switch v := t.(type) {
	case string:
		return v
	case map[string]interface{}:
		if _, ok := v["element-id"]; ok {
			return "list<" + TypeString(firstOf(v, "element", "element-type")) + ">"
		}
		if _, ok := v["key-id"]; ok {
			return "map<" + TypeString(firstOf(v, "key", "key-type")) + "," + TypeString(firstOf(v, "value", "value-type")) + ">"
		}
		if name, ok := v["type"].(string); ok {
			return name
		}
		return "string"
	case nil:
		return "string"
	default:
		return ValueOf(v).String()
	}
}

func firstOf(m map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func intAttr(m map[string]interface{}, key string) int64 {
	n, _ := toInt64(m[key])
	return n
}

func stringAttr(m map[string]interface{}, key, def string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return def
}

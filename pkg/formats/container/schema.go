package container

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	jsonpkg "github.com/Vadoid/iceberg-explorer/pkg/json"
)

var avroPrimitives = map[string]bool{
	"null":    true,
	"boolean": true,
	"int":     true,
	"long":    true,
	"float":   true,
	"double":  true,
	"bytes":   true,
	"string":  true,
}

// Schema normalizes datums decoded with one Avro writer schema. Single entry
// maps are unwrapped only where the schema declares a union and the key names
// one of that union's members, so named members such as a fixed decimal_9_2
// partition unwrap while a record whose only field is called "long" does not.
type Schema struct {
	root  interface{}
	named map[string]map[string]interface{}
}

// ParseSchema parses the JSON form of an Avro schema, typically the writer
// schema embedded in an object container file.
func ParseSchema(schema string) (*Schema, error) {
	var root interface{}
	if err := jsonpkg.Unmarshal([]byte(schema), &root); err != nil {
		return nil, fmt.Errorf("failed to parse Avro schema: %w", err)
	}
	s := &Schema{root: root, named: make(map[string]map[string]interface{})}
	s.collect(root, "")
	return s, nil
}

// NormalizerFor returns the schema-guided normalizer for schema, or the
// schema-less Normalize when schema cannot be parsed.
func NormalizerFor(schema string) func(interface{}) interface{} {
	s, err := ParseSchema(schema)
	if err != nil {
		return Normalize
	}
	return s.Normalize
}

// Normalize unwraps the union values of a datum decoded with s. Fixed values
// with the uuid logical type become canonical UUID strings.
func (s *Schema) Normalize(v interface{}) interface{} {
	return s.value(s.root, "", v)
}

func (s *Schema) collect(node interface{}, ns string) {
	switch n := node.(type) {
	case []interface{}:
		for _, member := range n {
			s.collect(member, ns)
		}
	case map[string]interface{}:
		switch typ := n["type"].(type) {
		case string:
			switch typ {
			case "record", "error", "enum", "fixed":
				full := fullName(n, ns)
				s.named[full] = n
				if typ == "record" || typ == "error" {
					fields, _ := n["fields"].([]interface{})
					for _, f := range fields {
						if field, ok := f.(map[string]interface{}); ok {
							s.collect(field["type"], namespaceOf(full))
						}
					}
				}
			case "array":
				s.collect(n["items"], ns)
			case "map":
				s.collect(n["values"], ns)
			}
		default:
			s.collect(typ, ns)
		}
	}
}

func (s *Schema) lookup(name, ns string) (map[string]interface{}, string) {
	if def, ok := s.named[name]; ok {
		return def, name
	}
	if ns != "" && !strings.Contains(name, ".") {
		full := ns + "." + name
		if def, ok := s.named[full]; ok {
			return def, full
		}
	}
	return nil, ""
}

func (s *Schema) value(node interface{}, ns string, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	switch n := node.(type) {
	case string:
		if avroPrimitives[n] {
			return v
		}
		if def, full := s.lookup(n, ns); def != nil {
			return s.value(def, namespaceOf(full), v)
		}
		return v
	case []interface{}:
		return s.union(n, ns, v)
	case map[string]interface{}:
		typ, ok := n["type"].(string)
		if !ok {
			return s.value(n["type"], ns, v)
		}
		switch typ {
		case "record", "error":
			return s.record(n, ns, v)
		case "array":
			list, ok := v.([]interface{})
			if !ok {
				return v
			}
			out := make([]interface{}, len(list))
			for i, item := range list {
				out[i] = s.value(n["items"], ns, item)
			}
			return out
		case "map":
			m, ok := v.(map[string]interface{})
			if !ok {
				return v
			}
			out := make(map[string]interface{}, len(m))
			for k, item := range m {
				out[k] = s.value(n["values"], ns, item)
			}
			return out
		case "fixed":
			if lt, _ := n["logicalType"].(string); lt == "uuid" {
				if b, ok := v.([]byte); ok {
					if id, err := uuid.FromBytes(b); err == nil {
						return id.String()
					}
				}
			}
			return v
		case "enum":
			return v
		default:
			if avroPrimitives[typ] {
				return v
			}
			return s.value(typ, ns, v)
		}
	}
	return v
}

func (s *Schema) record(n map[string]interface{}, ns string, v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	childNS := namespaceOf(fullName(n, ns))
	out := make(map[string]interface{}, len(m))
	for k, inner := range m {
		out[k] = inner
	}
	fields, _ := n["fields"].([]interface{})
	for _, f := range fields {
		field, ok := f.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := field["name"].(string)
		if inner, present := m[name]; present {
			out[name] = s.value(field["type"], childNS, inner)
		}
	}
	return out
}

// union unwraps goavro's {"<member name>": value} encoding.
func (s *Schema) union(members []interface{}, ns string, v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok || len(m) != 1 {
		return v
	}
	for key, inner := range m {
		for _, member := range members {
			if s.memberName(member, ns, key) {
				return s.value(member, ns, inner)
			}
		}
	}
	return v
}

// memberName reports whether goavro keys values of union member by key. Named
// types use their full name; primitives carrying a logical type use
// "<type>.<logicalType>".
func (s *Schema) memberName(member interface{}, ns, key string) bool {
	switch n := member.(type) {
	case string:
		if avroPrimitives[n] {
			return key == n
		}
		_, full := s.lookup(n, ns)
		return key == full || key == n
	case map[string]interface{}:
		typ, ok := n["type"].(string)
		if !ok {
			return s.memberName(n["type"], ns, key)
		}
		switch typ {
		case "record", "error", "enum", "fixed":
			name, _ := n["name"].(string)
			return key == fullName(n, ns) || key == name
		case "array", "map":
			return key == typ
		default:
			if key == typ {
				return true
			}
			lt, _ := n["logicalType"].(string)
			return lt != "" && key == typ+"."+lt
		}
	}
	return false
}

func fullName(n map[string]interface{}, ns string) string {
	name, _ := n["name"].(string)
	if strings.Contains(name, ".") {
		return name
	}
	if explicit, _ := n["namespace"].(string); explicit != "" {
		return explicit + "." + name
	}
	if ns != "" {
		return ns + "." + name
	}
	return name
}

func namespaceOf(full string) string {
	if i := strings.LastIndexByte(full, '.'); i >= 0 {
		return full[:i]
	}
	return ""
}

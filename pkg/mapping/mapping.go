// Package mapping loads the declarative adapter document that tells the
// extractors, per entity kind, which output columns to build and where in a
// source record each one comes from.
//
// The document is JSON or YAML:
//
//	disease:
//	  fields: {":ID": id, Name: name, ":LABEL": Disease}
//	  required_fields: [id]
//	evidence:
//	  folder_keys:
//	    chembl: [targetId, diseaseId, drugId, datasourceId, score, urls]
//
// Field and folder order is preserved; it becomes column order downstream.
package mapping

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrConfig is the kind shared by every configuration failure
	ErrConfig = errors.New("adapter configuration error")
	// ErrConfigNotFound is returned when the document cannot be opened
	ErrConfigNotFound = fmt.Errorf("%w: not found", ErrConfig)
	// ErrConfigParse is returned when the document is malformed
	ErrConfigParse = fmt.Errorf("%w: malformed", ErrConfig)
	// ErrUnknownAdapterKind is returned for a kind with no section
	ErrUnknownAdapterKind = fmt.Errorf("%w: unknown adapter kind", ErrConfig)
)

// Adapter kinds known to the pipeline
const (
	KindDisease  = "disease"
	KindTargets  = "targets"
	KindMolecule = "molecule"
	KindEvidence = "evidence"
)

// LabelField holds a constant instead of a source path
const LabelField = ":LABEL"

// PathSeparator splits nested source paths
const PathSeparator = "."

// FieldSource maps one output column to a source path (or constant)
type FieldSource struct {
	Name string
	Path string
}

// Nested reports whether the source path traverses nested objects
func (f FieldSource) Nested() bool {
	return strings.Contains(f.Path, PathSeparator)
}

// Segments splits the source path into traversal keys
func (f FieldSource) Segments() []string {
	return strings.Split(f.Path, PathSeparator)
}

// SourceKeys lists the record keys extracted for one evidence source
type SourceKeys struct {
	Source string
	Keys   []string
}

// Has reports whether key is among the declared keys
func (s SourceKeys) Has(key string) bool {
	for _, k := range s.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// Spec is the adapter section for one kind
type Spec struct {
	Kind       string
	Fields     []FieldSource
	Required   []string
	FolderKeys []SourceKeys
}

// FieldNames returns the output columns in declared order
func (s *Spec) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Field looks up an output column by name
func (s *Spec) Field(name string) (FieldSource, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSource{}, false
}

// Label returns the constant configured for the label column
func (s *Spec) Label() string {
	f, _ := s.Field(LabelField)
	return f.Path
}

// Digest identifies the spec contents. Cached extraction results are keyed by it.
func (s *Spec) Digest() string {
	h := sha256.New()
	fmt.Fprintf(h, "kind=%s\n", s.Kind)
	for _, f := range s.Fields {
		fmt.Fprintf(h, "field=%s=%s\n", f.Name, f.Path)
	}
	for _, r := range s.Required {
		fmt.Fprintf(h, "required=%s\n", r)
	}
	for _, fk := range s.FolderKeys {
		fmt.Fprintf(h, "folder=%s=%s\n", fk.Source, strings.Join(fk.Keys, ","))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Document is a loaded adapter configuration. It is read-only after Load.
type Document struct {
	path  string
	kinds []string
	specs map[string]*Spec
}

// Load reads and parses the adapter document at path
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigNotFound, path, err)
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	doc.path = path
	return doc, nil
}

// Parse builds a Document from raw JSON or YAML. Valid JSON is decoded as
// JSON, since a few JSON string escapes are not legal in YAML.
func Parse(data []byte) (*Document, error) {
	var root yaml.Node
	if json.Valid(data) {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		top, err := jsonNode(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
		}
		root = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{top}}
	} else if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrConfigParse)
	}

	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping", ErrConfigParse)
	}

	doc := &Document{specs: make(map[string]*Spec)}
	for i := 0; i+1 < len(top.Content); i += 2 {
		kind := top.Content[i].Value
		spec, err := parseSection(kind, top.Content[i+1])
		if err != nil {
			return nil, err
		}
		if _, dup := doc.specs[kind]; !dup {
			doc.kinds = append(doc.kinds, kind)
		}
		doc.specs[kind] = spec
	}

	return doc, nil
}

// jsonNode reads one JSON value into the node tree yaml.v3 would have built,
// keeping object key order.
func jsonNode(dec *json.Decoder) (*yaml.Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			for dec.More() {
				key, err := dec.Token()
				if err != nil {
					return nil, err
				}
				name, ok := key.(string)
				if !ok {
					return nil, fmt.Errorf("object key %v is not a string", key)
				}
				val, err := jsonNode(dec)
				if err != nil {
					return nil, err
				}
				node.Content = append(node.Content,
					&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}, val)
			}
			_, err := dec.Token()
			return node, err
		case '[':
			node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
			for dec.More() {
				item, err := jsonNode(dec)
				if err != nil {
					return nil, err
				}
				node.Content = append(node.Content, item)
			}
			_, err := dec.Token()
			return node, err
		}
		return nil, fmt.Errorf("unexpected %v", v)
	case string:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}, nil
	case json.Number:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: v.String()}, nil
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v)}, nil
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	}
}

func parseSection(kind string, node *yaml.Node) (*Spec, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: section %q must be a mapping", ErrConfigParse, kind)
	}

	spec := &Spec{Kind: kind}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]

		switch key {
		case "fields":
			pairs, err := scalarPairs(val)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.fields: %v", ErrConfigParse, kind, err)
			}
			for _, p := range pairs {
				spec.Fields = append(spec.Fields, FieldSource{Name: p[0], Path: p[1]})
			}
		case "required_fields":
			list, err := scalarList(val)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.required_fields: %v", ErrConfigParse, kind, err)
			}
			spec.Required = list
		case "folder_keys":
			if val.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("%w: %s.folder_keys must be a mapping", ErrConfigParse, kind)
			}
			for j := 0; j+1 < len(val.Content); j += 2 {
				source := val.Content[j].Value
				keys, err := scalarList(val.Content[j+1])
				if err != nil {
					return nil, fmt.Errorf("%w: %s.folder_keys.%s: %v", ErrConfigParse, kind, source, err)
				}
				spec.FolderKeys = append(spec.FolderKeys, SourceKeys{Source: source, Keys: keys})
			}
		}
	}

	return spec, nil
}

func scalarPairs(node *yaml.Node) ([][2]string, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping")
	}
	out := make([][2]string, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("entry %q must map a name to a string", k.Value)
		}
		out = append(out, [2]string{k.Value, v.Value})
	}
	return out, nil
}

func scalarList(node *yaml.Node) ([]string, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("expected a list")
	}
	out := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("list items must be strings")
		}
		out = append(out, item.Value)
	}
	return out, nil
}

// Adapter returns the section for kind
func (d *Document) Adapter(kind string) (*Spec, error) {
	spec, ok := d.specs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapterKind, kind)
	}
	return spec, nil
}

// Kinds returns the declared sections in document order
func (d *Document) Kinds() []string {
	out := make([]string, len(d.kinds))
	copy(out, d.kinds)
	return out
}

// Path returns the file the document was loaded from, if any
func (d *Document) Path() string {
	return d.path
}

// Package yamlfile implements reading and writing of YAML translation files.
//
// Translation documents pulled from the service use the Rails i18n layout,
// with the language code as the single top-level key:
//
//	fr:
//	  CANCEL: Annuler
//	  nav:
//	    home: Accueil
//
// Plain nested maps without a language root are accepted as well. Leaves are
// addressed by dot-joined paths ("nav.home"); dots and backslashes inside a
// key are escaped with a backslash, so the flat key "menu.file" is the path
// `menu\.file` (see Path). Null leaves count as empty strings; numbers and
// booleans are not translatable and are skipped. A language root with a null
// value ("fr:" with nothing translated) becomes a mapping on the first Set.
// Key order and scalar styles survive a Parse/Marshal round-trip.
package yamlfile

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// File model
// ---------------------------------------------------------------------------

// File represents a parsed YAML translation file.
type File struct {
	doc *yaml.Node
	// body is the mapping that holds the translations: the value of the
	// language root key, or the document root when there is none.
	body *yaml.Node
	// localeKey is the root key node for Rails i18n style files.
	localeKey *yaml.Node
	// leaves maps path → scalar value node.
	leaves map[string]*yaml.Node
	// order lists leaf paths in document order.
	order []string
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

// ParseFile reads and parses a YAML translation file.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse parses YAML data into a File.
func Parse(data []byte) (*File, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	f := &File{doc: &doc}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		// Empty document: start a fresh mapping so keys can be added.
		doc.Kind = yaml.DocumentNode
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("YAML root must be a mapping, got kind %d", root.Kind)
	}

	f.body = root
	// Rails i18n style: single top-level key whose value is a mapping, or
	// null when the language has no translations at all.
	if len(root.Content) == 2 {
		keyNode, valNode := root.Content[0], root.Content[1]
		if keyNode.Kind == yaml.ScalarNode && (valNode.Kind == yaml.MappingNode || isNull(valNode)) {
			f.localeKey = keyNode
			f.body = valNode
		}
	}

	f.reindex()
	return f, nil
}

// reindex rebuilds the leaf index from the node tree.
func (f *File) reindex() {
	f.leaves = make(map[string]*yaml.Node)
	f.order = f.order[:0]
	f.collect(f.body, "")
}

func (f *File) collect(node *yaml.Node, prefix string) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		path := joinPath(prefix, node.Content[i].Value)
		valNode := node.Content[i+1]

		switch valNode.Kind {
		case yaml.MappingNode:
			f.collect(valNode, path)
		case yaml.ScalarNode:
			switch valNode.Tag {
			case "!!bool", "!!int", "!!float":
				continue
			}
			f.leaves[path] = valNode
			f.order = append(f.order, path)
		}
	}
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, ".", `\.`)

// Path joins key segments into a leaf path, escaping dots and backslashes
// inside the segments.
func Path(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = keyEscaper.Replace(s)
	}
	return strings.Join(escaped, ".")
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return Path(key)
	}
	return prefix + "." + Path(key)
}

// splitPath is the inverse of Path.
func splitPath(path string) []string {
	var (
		segments []string
		cur      strings.Builder
	)
	for i := 0; i < len(path); i++ {
		switch c := path[i]; {
		case c == '\\' && i+1 < len(path):
			i++
			cur.WriteByte(path[i])
		case c == '.':
			segments = append(segments, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(segments, cur.String())
}

// ---------------------------------------------------------------------------
// Querying
// ---------------------------------------------------------------------------

// Locale returns the language root key, or "" for files without one.
func (f *File) Locale() string {
	if f.localeKey == nil {
		return ""
	}
	return f.localeKey.Value
}

// SetLocale renames the language root key.
func (f *File) SetLocale(lang string) error {
	if f.localeKey == nil {
		return fmt.Errorf("document has no language root key")
	}
	f.localeKey.Value = lang
	return nil
}

// Keys returns all leaf paths in document order.
func (f *File) Keys() []string {
	return append([]string(nil), f.order...)
}

// Get returns the value for the given path. Null leaves read as "".
func (f *File) Get(path string) (string, bool) {
	node, ok := f.leaves[path]
	if !ok {
		return "", false
	}
	if node.Tag == "!!null" {
		return "", true
	}
	return node.Value, true
}

// Set stores value at path, creating the key (and any intermediate
// mappings) at the end of its parent when it does not exist yet.
func (f *File) Set(path, value string) error {
	node, ok := f.leaves[path]
	if !ok {
		var err error
		node, err = f.insert(path)
		if err != nil {
			return err
		}
	}

	node.Tag = "!!str"
	node.Value = value
	if value == "" {
		node.Style = yaml.DoubleQuotedStyle
	}
	return nil
}

// insert creates the mapping chain for path and returns the new leaf node.
func (f *File) insert(path string) (*yaml.Node, error) {
	parts := splitPath(path)
	parent := f.body
	if isNull(parent) {
		*parent = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Line: parent.Line, Column: parent.Column}
	}
	prefix := ""
	for i, key := range parts {
		prefix = joinPath(prefix, key)
		last := i == len(parts)-1

		child := lookupChild(parent, key)
		if child == nil {
			// Keep JSON-like flow documents quoted the way they came in.
			var style yaml.Style
			if parent.Style == yaml.FlowStyle {
				style = yaml.DoubleQuotedStyle
			}
			child = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", Style: parent.Style}
			if last {
				child = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Style: style}
			}
			parent.Content = append(parent.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key, Style: style}, child)
		}

		if last {
			if child.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("cannot set %q: not a leaf", path)
			}
			f.leaves[path] = child
			f.order = append(f.order, path)
			return child, nil
		}
		if child.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("cannot set %q: %q is not a mapping", path, prefix)
		}
		parent = child
	}
	return nil, fmt.Errorf("empty path")
}

func lookupChild(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

// Marshal serialises the document with two-space indentation, preserving key
// order and scalar styles.
func (f *File) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f.doc); err != nil {
		return nil, fmt.Errorf("marshaling YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshaling YAML: %w", err)
	}
	return buf.Bytes(), nil
}

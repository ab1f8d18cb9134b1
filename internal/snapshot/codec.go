package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/arbor/internal/activity"
	"github.com/roach88/arbor/internal/attr"
)

// FormatVersion is written into every encoded snapshot.
const FormatVersion = 1

type document struct {
	Version int        `json:"version"`
	Root    nodeRecord `json:"root"`
}

type nodeRecord struct {
	Name     string                     `json:"name"`
	Attrs    map[string]json.RawMessage `json:"attrs,omitempty"`
	Children []nodeRecord               `json:"children,omitempty"`
}

// Encode serializes the runtime state of root's subtree.
//
// Only attributes that are neither Metadata nor NonSerialized are
// written; structure and authoring data come back from the definition
// when decoding.
func (s *Session) Encode(root *activity.Node) ([]byte, error) {
	if root == nil {
		return nil, errors.New("snapshot: encode of nil node")
	}
	rec, err := s.encodeNode(root)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	doc := map[string]any{
		"version": FormatVersion,
		"root":    rec,
	}
	if err := marshalCanonical(&buf, doc); err != nil {
		return nil, fmt.Errorf("snapshot: encode %q: %w", root.Name(), err)
	}
	return buf.Bytes(), nil
}

func (s *Session) encodeNode(n *activity.Node) (map[string]any, error) {
	if s.visiting[n] {
		return nil, fmt.Errorf("%w at %q", ErrCycle, n.Name())
	}
	s.visiting[n] = true
	defer delete(s.visiting, n)

	attrs := make(map[string]any)
	var encErr error
	n.Attrs().Each(func(d *attr.Descriptor, v any) {
		if encErr != nil || d.Is(attr.NonSerialized) || d.Is(attr.Metadata) {
			return
		}
		g, err := toGeneric(v)
		if err != nil {
			encErr = fmt.Errorf("attribute %s of %q: %w", d.Name(), n.Name(), err)
			return
		}
		attrs[d.Name()] = g
	})
	if encErr != nil {
		return nil, encErr
	}

	rec := map[string]any{"name": n.Name()}
	if len(attrs) > 0 {
		rec["attrs"] = attrs
	}
	children := n.Children()
	if len(children) > 0 {
		list := make([]any, 0, len(children))
		for _, c := range children {
			cr, err := s.encodeNode(c)
			if err != nil {
				return nil, err
			}
			list = append(list, cr)
		}
		rec["children"] = list
	}
	return rec, nil
}

// Decode rebuilds a subtree encoded by Encode.
//
// template is the definition node the subtree was instantiated from. Its
// structure, behaviors and metadata seed the result; the encoded runtime
// attributes are applied on top. The result is bound to template's parent.
func (s *Session) Decode(data []byte, template *activity.Node) (*activity.Node, error) {
	if template == nil {
		return nil, errors.New("snapshot: decode without template")
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("snapshot: unsupported format version %d", doc.Version)
	}

	root, err := s.Clone(template)
	if err != nil {
		return nil, err
	}
	if err := s.apply(root, doc.Root); err != nil {
		return nil, err
	}
	return root, nil
}

func (s *Session) apply(n *activity.Node, rec nodeRecord) error {
	if norm.NFC.String(n.Name()) != rec.Name {
		return fmt.Errorf("snapshot: node %q does not match definition %q", rec.Name, n.Name())
	}
	for name, raw := range rec.Attrs {
		d, ok := s.registry.Lookup(name)
		if !ok {
			return fmt.Errorf("snapshot: %q: unknown attribute %q", rec.Name, name)
		}
		if d.Is(attr.NonSerialized) || d.Is(attr.Metadata) {
			continue
		}
		v, err := d.Decode(raw)
		if err != nil {
			return fmt.Errorf("snapshot: %q: %w", rec.Name, err)
		}
		n.Attrs().Seed(d, v)
	}

	children := n.Children()
	if len(children) != len(rec.Children) {
		return fmt.Errorf("snapshot: %q has %d children, definition has %d", rec.Name, len(rec.Children), len(children))
	}
	for i, c := range children {
		if err := s.apply(c, rec.Children[i]); err != nil {
			return err
		}
	}
	return nil
}

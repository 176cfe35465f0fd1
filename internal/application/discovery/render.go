package discovery

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// WriteYAML renders the report as a mapping-file fragment: a fields list
// whose entries parse under the mapping loader once pasted in. Every entry
// ships with allow: false so nothing syncs until the operator opts in; the
// observed evidence travels as a comment above each entry.
func (r *Report) WriteYAML(w io.Writer) error {
	fields := &yaml.Node{Kind: yaml.SequenceNode}
	for _, sg := range r.Attributes {
		fields.Content = append(fields.Content, r.entryNode(sg))
	}
	for _, sg := range r.Texts {
		fields.Content = append(fields.Content, r.entryNode(sg))
	}

	root := &yaml.Node{
		Kind:        yaml.MappingNode,
		HeadComment: fmt.Sprintf("Suggested mapping entries from %d sampled feed product(s).", r.Sampled),
	}
	appendKeyed(root, "fields", fields)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return fmt.Errorf("discovery: render suggestions: %w", err)
	}
	return enc.Close()
}

func (r *Report) entryNode(sg Suggestion) *yaml.Node {
	entry := &yaml.Node{Kind: yaml.MappingNode, HeadComment: evidenceComment(sg, r.Sampled)}
	appendKeyed(entry, "source", scalar(sg.Source))
	appendKeyed(entry, "target", scalar(sg.Target))
	appendKeyed(entry, "kind", scalar(sg.Kind.String()))
	appendKeyed(entry, "mode", scalar("coerce"))
	appendKeyed(entry, "allow", boolScalar(false))
	if sg.Multi {
		appendKeyed(entry, "multi", boolScalar(true))
	}
	if len(sg.Transforms) > 0 {
		list := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for _, t := range sg.Transforms {
			list.Content = append(list.Content, scalar(t))
		}
		appendKeyed(entry, "transforms", list)
	}
	return entry
}

// evidenceComment summarizes why the entry was suggested.
func evidenceComment(sg Suggestion, sampled int) string {
	parts := []string{fmt.Sprintf("seen in %d of %d sampled product(s)", sg.Seen, sampled)}
	if len(sg.Cultures) > 0 {
		parts = append(parts, "cultures: "+strings.Join(sg.Cultures, ", "))
	}
	if len(sg.Samples) > 0 {
		quoted := make([]string, len(sg.Samples))
		for i, s := range sg.Samples {
			quoted[i] = fmt.Sprintf("%q", s)
		}
		parts = append(parts, "values: "+strings.Join(quoted, ", "))
	}
	return strings.Join(parts, "; ")
}

func appendKeyed(m *yaml.Node, key string, value *yaml.Node) {
	m.Content = append(m.Content, scalar(key), value)
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: v}
}

func boolScalar(v bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: fmt.Sprintf("%t", v)}
}

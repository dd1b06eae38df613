package config

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Node is a statement of the configuration tree: a leaf terminated by ';'
// or a block with children in braces.
type Node struct {
	// Keys is the sequence of words forming this node's identity:
	//   "vtn tenant1"          -> ["vtn", "tenant1"]
	//   "flow-filter input"    -> ["flow-filter", "input"]
	//   "set-dl-src 00:00:..." -> ["set-dl-src", "00:00:..."]
	Keys []string

	// Children are the nodes within this block's braces, nil for leaves.
	Children []*Node

	IsLeaf bool

	Line   int
	Column int
}

// Name returns the first key of the node.
func (n *Node) Name() string {
	if len(n.Keys) == 0 {
		return ""
	}
	return n.Keys[0]
}

// Arg returns key i (after the name), or "" when absent.
func (n *Node) Arg(i int) string {
	if i+1 < len(n.Keys) {
		return n.Keys[i+1]
	}
	return ""
}

// KeyPath returns the full key path as a single string.
func (n *Node) KeyPath() string {
	return strings.Join(n.Keys, " ")
}

// FindChild returns the first child whose first key matches name.
func (n *Node) FindChild(name string) *Node {
	return findChild(n.Children, name)
}

// FindChildren returns all children whose first key matches name.
func (n *Node) FindChildren(name string) []*Node {
	var result []*Node
	for _, child := range n.Children {
		if child.Name() == name {
			result = append(result, child)
		}
	}
	return result
}

func findChild(nodes []*Node, name string) *Node {
	for _, child := range nodes {
		if child.Name() == name {
			return child
		}
	}
	return nil
}

// ConfigTree is the root of a parsed configuration.
type ConfigTree struct {
	Children []*Node
}

// FindChild returns the first top-level child matching name.
func (t *ConfigTree) FindChild(name string) *Node {
	return findChild(t.Children, name)
}

// Clone creates a deep copy of the config tree.
func (t *ConfigTree) Clone() *ConfigTree {
	if t == nil {
		return nil
	}
	return &ConfigTree{Children: cloneNodes(t.Children)}
}

func cloneNodes(nodes []*Node) []*Node {
	if nodes == nil {
		return nil
	}
	result := make([]*Node, len(nodes))
	for i, n := range nodes {
		c := *n
		c.Keys = slices.Clone(n.Keys)
		c.Children = cloneNodes(n.Children)
		result[i] = &c
	}
	return result
}

// ValueHint identifies what kind of dynamic value is expected at a schema
// position.
type ValueHint int

const (
	ValueHintNone      ValueHint = iota
	ValueHintTenant              // vtn <name>
	ValueHintNode                // vbridge/vterminal <name>
	ValueHintInterface           // interface <name>
	ValueHintCondition           // condition <name>
	ValueHintDirection           // flow-filter <input|output>
)

// ValueProvider returns possible values for a given hint.
type ValueProvider func(hint ValueHint) []string

// schemaNode defines a container keyword of the hierarchy. It tells SetPath
// how to group flat path tokens into the tree.
type schemaNode struct {
	args      int                    // extra tokens consumed as part of this node's key
	children  map[string]*schemaNode // known container children
	valueHint ValueHint              // dynamic value completion when args > 0
	leaves    []string               // leaf keywords offered for completion
}

var matchLeaves = []string{
	"source-mac", "destination-mac", "ether-type", "vlan-priority",
	"source-address", "destination-address", "ip-protocol", "dscp",
	"source-port", "destination-port", "icmp-type", "icmp-code",
}

var actionLeaves = []string{
	"set-dl-src", "set-dl-dst", "set-vlan-pcp", "set-inet4-src", "set-inet4-dst",
	"set-inet-dscp", "set-tp-src", "set-tp-dst", "set-icmp-type", "set-icmp-code",
	"push-vlan", "pop-vlan",
}

var flowFilterSchema = &schemaNode{args: 1, valueHint: ValueHintDirection, children: map[string]*schemaNode{
	"filter": {args: 1, leaves: []string{"condition", "pass", "drop", "description"}, children: map[string]*schemaNode{
		"redirect": {leaves: []string{"destination", "direction"}},
		"action":   {leaves: actionLeaves},
	}},
}}

func nodeSchema() *schemaNode {
	return &schemaNode{args: 1, valueHint: ValueHintNode, leaves: []string{"description"}, children: map[string]*schemaNode{
		"interface": {args: 1, valueHint: ValueHintInterface, leaves: []string{"description", "disable"}, children: map[string]*schemaNode{
			"flow-filter": flowFilterSchema,
		}},
		"flow-filter": flowFilterSchema,
	}}
}

// setSchema defines the configuration hierarchy. Keywords present in the
// schema at a given depth are containers; any other keyword starts a leaf
// whose Keys are all remaining tokens.
var setSchema = &schemaNode{children: map[string]*schemaNode{
	"system": {leaves: []string{"max-redirections", "trace-buffer-size"}, children: map[string]*schemaNode{
		"traceoptions": {leaves: []string{"file", "file-size", "file-count", "flag"}},
	}},
	"flow-conditions": {children: map[string]*schemaNode{
		"condition": {args: 1, valueHint: ValueHintCondition, children: map[string]*schemaNode{
			"match": {args: 1, leaves: matchLeaves},
		}},
	}},
	"vtn": {args: 1, valueHint: ValueHintTenant, leaves: []string{"description"}, children: map[string]*schemaNode{
		"vbridge":   nodeSchema(),
		"vterminal": nodeSchema(),
	}},
}}

// lookup resolves keyword in s.
func (s *schemaNode) lookup(keyword string) *schemaNode {
	if s == nil {
		return nil
	}
	return s.children[keyword]
}

// SetPath inserts a node at the given path in the tree. Intermediate blocks
// are created as needed. A leaf replaces an existing leaf of the same name
// in the same block.
func (t *ConfigTree) SetPath(path []string) error {
	if len(path) == 0 {
		return fmt.Errorf("empty path")
	}

	current := &t.Children
	schema := setSchema
	for i := 0; i < len(path); {
		childSchema := schema.lookup(path[i])
		if childSchema == nil {
			setLeaf(current, path[i:], func(n *Node) bool { return n.Name() == path[i] })
			return nil
		}

		nodeKeyCount := 1 + childSchema.args
		if i+nodeKeyCount > len(path) {
			return fmt.Errorf("%s: missing name", path[i])
		}
		nodeKeys := path[i : i+nodeKeyCount]
		i += nodeKeyCount

		if i >= len(path) {
			// A bare container ("interface if2") is stored as a leaf
			// unless the block already exists.
			for _, n := range *current {
				if keysEqual(n.Keys, nodeKeys) {
					return nil
				}
			}
			*current = append(*current, &Node{Keys: slices.Clone(nodeKeys), IsLeaf: true})
			return nil
		}

		var next *Node
		for _, n := range *current {
			if keysEqual(n.Keys, nodeKeys) {
				next = n
				break
			}
		}
		if next == nil {
			next = &Node{Keys: slices.Clone(nodeKeys)}
			*current = append(*current, next)
		}
		// A leaf gains children when something is set below it.
		next.IsLeaf = false
		current = &next.Children
		schema = childSchema
	}
	return nil
}

func setLeaf(nodes *[]*Node, keys []string, same func(*Node) bool) {
	leaf := &Node{Keys: slices.Clone(keys), IsLeaf: true}
	for i, n := range *nodes {
		if n.IsLeaf && same(n) {
			(*nodes)[i] = leaf
			return
		}
	}
	*nodes = append(*nodes, leaf)
}

// DeletePath removes the node at path. A leaf may be named by a prefix of
// its keys ("delete ... set-dl-src").
func (t *ConfigTree) DeletePath(path []string) error {
	if len(path) == 0 {
		return fmt.Errorf("empty path")
	}
	return deletePath(&t.Children, path, setSchema)
}

func deletePath(current *[]*Node, path []string, schema *schemaNode) error {
	childSchema := schema.lookup(path[0])
	if childSchema == nil {
		return removeMatchingNode(current, path)
	}

	nodeKeyCount := 1 + childSchema.args
	if nodeKeyCount > len(path) {
		return removeMatchingNode(current, path)
	}
	nodeKeys := path[:nodeKeyCount]
	if nodeKeyCount == len(path) {
		return removeMatchingNode(current, nodeKeys)
	}
	for _, n := range *current {
		if !n.IsLeaf && keysEqual(n.Keys, nodeKeys) {
			return deletePath(&n.Children, path[nodeKeyCount:], childSchema)
		}
	}
	return fmt.Errorf("path not found: %q does not exist", strings.Join(nodeKeys, " "))
}

// removeMatchingNode removes the first node whose keys start with
// targetKeys.
func removeMatchingNode(nodes *[]*Node, targetKeys []string) error {
	for i, n := range *nodes {
		if keysMatch(n.Keys, targetKeys) {
			*nodes = slices.Delete(*nodes, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("path not found: no node matching %q", strings.Join(targetKeys, " "))
}

// keysMatch returns true if nodeKeys starts with all elements of targetKeys.
func keysMatch(nodeKeys, targetKeys []string) bool {
	return len(targetKeys) <= len(nodeKeys) && slices.Equal(nodeKeys[:len(targetKeys)], targetKeys)
}

func keysEqual(a, b []string) bool {
	return slices.Equal(a, b)
}

// CompleteSetPath returns possible completions for a partial set/delete
// path.
func CompleteSetPath(tokens []string) []string {
	return CompleteSetPathWithValues(tokens, nil)
}

// CompleteSetPathWithValues is like CompleteSetPath but uses provider to
// suggest names where the schema expects one.
func CompleteSetPathWithValues(tokens []string, provider ValueProvider) []string {
	schema := setSchema
	for i := 0; i < len(tokens); {
		childSchema := schema.lookup(tokens[i])
		if childSchema == nil {
			return nil
		}
		i += 1 + childSchema.args
		if i > len(tokens) {
			if provider != nil && childSchema.valueHint != ValueHintNone {
				return provider(childSchema.valueHint)
			}
			return nil
		}
		schema = childSchema
	}

	completions := slices.Clone(schema.leaves)
	for name := range schema.children {
		completions = append(completions, name)
	}
	sort.Strings(completions)
	return completions
}

// Format renders the tree as hierarchical configuration text.
func (t *ConfigTree) Format() string {
	var b strings.Builder
	formatNodes(&b, t.Children, 0)
	return b.String()
}

func formatNodes(b *strings.Builder, nodes []*Node, indent int) {
	prefix := strings.Repeat("    ", indent)
	for _, n := range nodes {
		keys := quoteKeys(n.Keys)
		if n.IsLeaf {
			fmt.Fprintf(b, "%s%s;\n", prefix, keys)
			continue
		}
		fmt.Fprintf(b, "%s%s {\n", prefix, keys)
		formatNodes(b, n.Children, indent+1)
		fmt.Fprintf(b, "%s}\n", prefix)
	}
}

// FormatSet renders the tree as flat "set" commands.
func (t *ConfigTree) FormatSet() string {
	var b strings.Builder
	formatSetNodes(&b, t.Children, nil)
	return b.String()
}

func formatSetNodes(b *strings.Builder, nodes []*Node, prefix []string) {
	for _, n := range nodes {
		path := append(slices.Clone(prefix), n.Keys...)
		if n.IsLeaf || len(n.Children) == 0 {
			fmt.Fprintf(b, "set %s\n", quoteKeys(path))
			continue
		}
		formatSetNodes(b, n.Children, path)
	}
}

func quoteKeys(keys []string) string {
	out := make([]string, len(keys))
	for i, k := range keys {
		if k == "" || strings.IndexFunc(k, func(r rune) bool { return !IsIdentRune(r) }) >= 0 {
			out[i] = fmt.Sprintf("%q", k)
		} else {
			out[i] = k
		}
	}
	return strings.Join(out, " ")
}

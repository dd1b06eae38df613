// Package cmdtree defines the CLI command trees shared by the local shell
// (pkg/cli) and the remote client (cmd/vtnctl), with the completion and
// help helpers built on them.
package cmdtree

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/psaab/vtnflow/pkg/config"
	"github.com/psaab/vtnflow/pkg/filter"
)

// Node defines a completion tree node with description, children, and optional dynamic values.
type Node struct {
	Desc      string
	Children  map[string]*Node
	DynamicFn func(cfg *config.Config) []string
	// Options marks a node whose children are keyword/value pairs that may
	// be given in any order. A child with Value set consumes the next word.
	Options bool
	Value   bool
}

// Candidate holds a command name and its description for display.
type Candidate struct {
	Name string
	Desc string
}

// TenantNames lists configured tenants.
func TenantNames(cfg *config.Config) []string {
	if cfg == nil {
		return nil
	}
	names := make([]string, 0, len(cfg.Tenants))
	for _, t := range cfg.Tenants {
		names = append(names, t.Name)
	}
	return names
}

// ConditionNames lists configured flow conditions.
func ConditionNames(cfg *config.Config) []string {
	if cfg == nil {
		return nil
	}
	names := make([]string, 0, len(cfg.Conditions))
	for _, c := range cfg.Conditions {
		names = append(names, c.Name)
	}
	return names
}

func nodeNames(kind filter.NodeKind) func(*config.Config) []string {
	return func(cfg *config.Config) []string {
		if cfg == nil {
			return nil
		}
		var names []string
		for _, t := range cfg.Tenants {
			for _, n := range t.Nodes {
				if n.Kind == kind {
					names = append(names, n.Name)
				}
			}
		}
		return names
	}
}

func interfaceNames(cfg *config.Config) []string {
	if cfg == nil {
		return nil
	}
	seen := map[string]bool{}
	var names []string
	for _, t := range cfg.Tenants {
		for _, n := range t.Nodes {
			for _, i := range n.Interfaces {
				if !seen[i.Name] {
					seen[i.Name] = true
					names = append(names, i.Name)
				}
			}
		}
	}
	return names
}

func fixed(values ...string) func(*config.Config) []string {
	return func(*config.Config) []string { return values }
}

// PacketFields are the header field keywords accepted by "test flow-filter".
var PacketFields = map[string]*Node{
	"src-mac":       {Desc: "Source MAC address", Value: true},
	"dst-mac":       {Desc: "Destination MAC address", Value: true},
	"vlan":          {Desc: "VLAN ID of an 802.1Q tag (repeatable, outermost first)", Value: true},
	"vlan-priority": {Desc: "Priority of the last given VLAN tag", Value: true},
	"ether-type":    {Desc: "Ethernet type (ipv4, ipv6, arp or number)", Value: true, DynamicFn: fixed("ipv4", "ipv6", "arp")},
	"src-ip":        {Desc: "Source IP address", Value: true},
	"dst-ip":        {Desc: "Destination IP address", Value: true},
	"protocol":      {Desc: "IP protocol (tcp, udp, icmp or number)", Value: true, DynamicFn: fixed("tcp", "udp", "icmp")},
	"dscp":          {Desc: "DSCP value", Value: true},
	"src-port":      {Desc: "Source transport port", Value: true},
	"dst-port":      {Desc: "Destination transport port", Value: true},
	"icmp-type":     {Desc: "ICMP type", Value: true},
	"icmp-code":     {Desc: "ICMP code", Value: true},
}

func testFlowFilterOptions() map[string]*Node {
	opts := map[string]*Node{
		"tenant":    {Desc: "Tenant (VTN) name", Value: true, DynamicFn: TenantNames},
		"vbridge":   {Desc: "Virtual bridge name", Value: true, DynamicFn: nodeNames(filter.VBridge)},
		"vterminal": {Desc: "Virtual terminal name", Value: true, DynamicFn: nodeNames(filter.VTerminal)},
		"interface": {Desc: "Virtual interface name (omit for the node list)", Value: true, DynamicFn: interfaceNames},
		"direction": {Desc: "Filter list direction", Value: true, DynamicFn: fixed("input", "output")},
	}
	for k, v := range PacketFields {
		opts[k] = v
	}
	return opts
}

// OperationalTree defines tab completion for operational mode.
var OperationalTree = map[string]*Node{
	"configure": {Desc: "Enter configuration mode"},
	"show": {Desc: "Show information", Children: map[string]*Node{
		"configuration": {Desc: "Show active configuration"},
		"flow-filter": {Desc: "Show flow filter lists", Options: true, Children: map[string]*Node{
			"tenant":     {Desc: "Limit to one tenant", Value: true, DynamicFn: TenantNames},
			"statistics": {Desc: "Show decision counters"},
			"trace": {Desc: "Show recent flow decisions", Options: true, Children: map[string]*Node{
				"count":   {Desc: "Number of records to show", Value: true},
				"tenant":  {Desc: "Limit to one tenant", Value: true, DynamicFn: TenantNames},
				"verdict": {Desc: "Limit to one verdict", Value: true, DynamicFn: fixed("pass", "drop")},
				"reason":  {Desc: "Limit to a drop reason", Value: true, DynamicFn: fixed("filter", "redirect-loop", "unresolved-destination")},
			}},
		}},
		"flow-conditions": {Desc: "Show flow conditions", DynamicFn: ConditionNames},
		"system": {Desc: "Show system information", Children: map[string]*Node{
			"commit":   {Desc: "Show commit history"},
			"warnings": {Desc: "Show configuration warnings"},
		}},
	}},
	"test": {Desc: "Run a diagnostic", Children: map[string]*Node{
		"flow-filter": {Desc: "Evaluate flow filters for a packet", Options: true, Children: testFlowFilterOptions()},
	}},
	"quit": {Desc: "Exit CLI"},
	"exit": {Desc: "Exit CLI"},
}

// ConfigTopLevel defines tab completion for config mode top-level commands.
var ConfigTopLevel = map[string]*Node{
	"set":    {Desc: "Set a configuration value"},
	"delete": {Desc: "Delete a configuration element"},
	"show":   {Desc: "Show candidate configuration"},
	"commit": {Desc: "Commit configuration", Children: map[string]*Node{
		"check":   {Desc: "Validate without applying"},
		"comment": {Desc: "Add comment to commit"},
	}},
	"load": {Desc: "Load configuration from a file", Children: map[string]*Node{
		"override": {Desc: "Replace candidate with file contents"},
		"merge":    {Desc: "Merge file contents into candidate"},
	}},
	"rollback": {Desc: "Revert candidate to a previous configuration"},
	"run":      {Desc: "Run operational command"},
	"exit":     {Desc: "Exit configuration mode"},
	"quit":     {Desc: "Exit configuration mode"},
}

// ShowPipes are the "show |" modifiers of configuration mode.
var ShowPipes = map[string]*Node{
	"compare": {Desc: "Compare candidate with active or a rollback", Children: map[string]*Node{
		"rollback": {Desc: "Compare with rollback N"},
	}},
	"display": {Desc: "Show additional kinds of information", Children: map[string]*Node{
		"set": {Desc: "Show as set commands"},
	}},
}

// KeysFromTree returns a sorted list of keys from a Node map.
func KeysFromTree(tree map[string]*Node) []string {
	keys := make([]string, 0, len(tree))
	for k := range tree {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HelpCandidates returns Candidates from a tree's children for help display.
func HelpCandidates(tree map[string]*Node) []Candidate {
	candidates := make([]Candidate, 0, len(tree))
	for name, node := range tree {
		candidates = append(candidates, Candidate{Name: name, Desc: node.Desc})
	}
	return candidates
}

// CompleteFromTree walks the tree to find completion candidates for the given words and partial.
func CompleteFromTree(tree map[string]*Node, words []string, partial string, cfg *config.Config) []string {
	cands := CompleteFromTreeWithDesc(tree, words, partial, cfg)
	names := make([]string, len(cands))
	for i, c := range cands {
		names[i] = c.Name
	}
	sort.Strings(names)
	return names
}

// CompleteFromTreeWithDesc walks the tree returning name+description pairs.
func CompleteFromTreeWithDesc(tree map[string]*Node, words []string, partial string, cfg *config.Config) []Candidate {
	current := tree
	var currentNode *Node
	for i := 0; i < len(words); i++ {
		if currentNode != nil && currentNode.Options {
			return completeOptions(currentNode, words[i:], partial, cfg)
		}
		node, ok := current[words[i]]
		if !ok {
			// A dynamic value leaves us at the same level.
			if currentNode != nil && currentNode.DynamicFn != nil {
				continue
			}
			return nil
		}
		currentNode = node
		if node.Children == nil && !node.Options {
			if node.DynamicFn != nil && i == len(words)-1 {
				return dynamicCandidates(node, partial, cfg)
			}
			return nil
		}
		current = node.Children
	}
	if currentNode != nil && currentNode.Options {
		return completeOptions(currentNode, nil, partial, cfg)
	}
	cands := prefixCandidates(current, partial)
	if currentNode != nil && currentNode.DynamicFn != nil {
		cands = append(cands, dynamicCandidates(currentNode, partial, cfg)...)
	}
	return cands
}

// completeOptions completes keyword/value pairs below an Options node.
// Keywords without Value may still open a subtree.
func completeOptions(node *Node, words []string, partial string, cfg *config.Config) []Candidate {
	for i := 0; i < len(words); i++ {
		opt, ok := node.Children[words[i]]
		if !ok {
			return nil
		}
		switch {
		case opt.Value && i == len(words)-1:
			return dynamicCandidates(opt, partial, cfg)
		case opt.Value:
			i++
		case opt.Children != nil:
			return CompleteFromTreeWithDesc(map[string]*Node{words[i]: opt}, words[i:], partial, cfg)
		}
	}
	return prefixCandidates(node.Children, partial)
}

func prefixCandidates(tree map[string]*Node, partial string) []Candidate {
	var cands []Candidate
	for name, n := range tree {
		if strings.HasPrefix(name, partial) {
			cands = append(cands, Candidate{Name: name, Desc: n.Desc})
		}
	}
	return cands
}

func dynamicCandidates(node *Node, partial string, cfg *config.Config) []Candidate {
	if node.DynamicFn == nil {
		return nil
	}
	var cands []Candidate
	for _, name := range node.DynamicFn(cfg) {
		if strings.HasPrefix(name, partial) {
			cands = append(cands, Candidate{Name: name, Desc: "(configured)"})
		}
	}
	return cands
}

// WriteHelp prints aligned completion candidates to w.
// The entire output is built as a single string and written in one call
// so that readline's wrapWriter triggers only one Refresh cycle.
func WriteHelp(w io.Writer, candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })
	maxWidth := 20
	for _, c := range candidates {
		if len(c.Name)+2 > maxWidth {
			maxWidth = len(c.Name) + 2
		}
	}
	var sb strings.Builder
	sb.WriteString("Possible completions:\n")
	for _, c := range candidates {
		if c.Desc != "" {
			fmt.Fprintf(&sb, "  %-*s %s\n", maxWidth, c.Name, c.Desc)
		} else {
			fmt.Fprintf(&sb, "  %s\n", c.Name)
		}
	}
	io.WriteString(w, sb.String())
}

// CommonPrefix returns the longest shared prefix among the given strings.
func CommonPrefix(items []string) string {
	if len(items) == 0 {
		return ""
	}
	prefix := items[0]
	for _, s := range items[1:] {
		for !strings.HasPrefix(s, prefix) {
			prefix = prefix[:len(prefix)-1]
			if prefix == "" {
				return ""
			}
		}
	}
	return prefix
}

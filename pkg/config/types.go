package config

import (
	"github.com/psaab/vtnflow/pkg/condition"
	"github.com/psaab/vtnflow/pkg/filter"
	"github.com/psaab/vtnflow/pkg/flow"
)

// Config is the compiled, typed configuration.
type Config struct {
	System     SystemConfig
	Conditions []condition.Condition
	Tenants    []*TenantConfig
}

// SystemConfig holds global settings.
type SystemConfig struct {
	// MaxRedirections bounds redirect hops per packet (1..1000).
	MaxRedirections int
	// TraceBufferSize is the number of decisions kept for "show flow-filter
	// trace".
	TraceBufferSize int
	Traceoptions    *Traceoptions
}

// Traceoptions configures the decision trace file.
type Traceoptions struct {
	File      string
	FileSize  int64 // bytes
	FileCount int
	Flags     []string // all, decision, drop, redirect, log
}

const (
	DefaultMaxRedirections = 100
	MaxMaxRedirections     = 1000
	DefaultTraceBufferSize = 1024
)

// TenantConfig is one VTN.
type TenantConfig struct {
	Name        string
	Description string
	Nodes       []*NodeConfig
}

// NodeConfig is a vBridge or vTerminal.
type NodeConfig struct {
	Kind        filter.NodeKind
	Name        string
	Description string
	Interfaces  []*InterfaceConfig
	FlowFilters FlowFilterSet
}

// InterfaceConfig is a virtual interface of a node.
type InterfaceConfig struct {
	Name        string
	Description string
	Disabled    bool
	FlowFilters FlowFilterSet
}

// FlowFilterSet holds the filter lists of a node or interface per
// direction.
type FlowFilterSet struct {
	Input  []*FilterConfig
	Output []*FilterConfig
}

// Get returns the filters for dir.
func (s *FlowFilterSet) Get(dir filter.Direction) []*FilterConfig {
	if dir == filter.Output {
		return s.Output
	}
	return s.Input
}

// FilterConfig is a flow filter as written. Values are validated when the
// filter is built, so a bad value invalidates only this filter.
type FilterConfig struct {
	// Index is 0 when omitted.
	Index       int
	Condition   string
	Description string
	// Type is "pass", "drop" or "redirect".
	Type     string
	Redirect *RedirectConfig
	Actions  []ActionConfig
	Line     int
}

// RedirectConfig is the destination of a redirect filter.
type RedirectConfig struct {
	NodeKind  filter.NodeKind
	Node      string
	Interface string
	Output    bool
}

// ActionConfig is one flow action with its raw argument.
type ActionConfig struct {
	Kind  flow.Kind
	Order int
	Value string
}

// Tenant returns the named tenant.
func (c *Config) Tenant(name string) *TenantConfig {
	for _, t := range c.Tenants {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Node returns the named node of the tenant.
func (t *TenantConfig) Node(kind filter.NodeKind, name string) *NodeConfig {
	for _, n := range t.Nodes {
		if n.Kind == kind && n.Name == name {
			return n
		}
	}
	return nil
}

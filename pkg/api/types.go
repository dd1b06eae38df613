// Package api implements the HTTP REST API and Prometheus metrics endpoint.
package api

// Response is the standard JSON response envelope.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse holds daemon status information.
type StatusResponse struct {
	Uptime          string `json:"uptime"`
	ConfigLoaded    bool   `json:"config_loaded"`
	Generation      uint64 `json:"generation"`
	TenantCount     int    `json:"tenant_count"`
	FilterListCount int    `json:"filter_list_count"`
	WarningCount    int    `json:"warning_count"`
	MaxRedirections int    `json:"max_redirections"`
	Decisions       uint64 `json:"decisions"`
}

// LocationJSON names a filter list owner on the wire. An empty Interface
// refers to the node itself.
type LocationJSON struct {
	Tenant    string `json:"tenant"`
	NodeType  string `json:"node_type"` // "vbridge", "vterminal"
	Node      string `json:"node"`
	Interface string `json:"interface,omitempty"`
	Direction string `json:"direction"` // "input", "output"
}

// VlanJSON is one 802.1Q tag, outermost first.
type VlanJSON struct {
	TPID uint16 `json:"tpid"`
	ID   uint16 `json:"id"`
	PCP  uint8  `json:"pcp"`
}

// FieldsJSON holds packet header fields. Addresses are strings; zero values
// are omitted.
type FieldsJSON struct {
	SrcMAC    string     `json:"src_mac,omitempty"`
	DstMAC    string     `json:"dst_mac,omitempty"`
	Vlans     []VlanJSON `json:"vlans,omitempty"`
	EtherType uint16     `json:"ether_type,omitempty"`
	SrcIP     string     `json:"src_ip,omitempty"`
	DstIP     string     `json:"dst_ip,omitempty"`
	Protocol  uint8      `json:"protocol,omitempty"`
	DSCP      uint8      `json:"dscp,omitempty"`
	SrcPort   uint16     `json:"src_port,omitempty"`
	DstPort   uint16     `json:"dst_port,omitempty"`
	ICMPType  uint8      `json:"icmp_type,omitempty"`
	ICMPCode  uint8      `json:"icmp_code,omitempty"`
}

// DecideRequest asks for the flow filter decision of one packet arriving at
// Location. Exactly one of Fields and Frame (hex encoded Ethernet frame) is
// required.
type DecideRequest struct {
	Location LocationJSON `json:"location"`
	Fields   *FieldsJSON  `json:"fields,omitempty"`
	Frame    string       `json:"frame,omitempty"`
}

// HitJSON is the filter selected at one location.
type HitJSON struct {
	Location string `json:"location"`
	Index    int    `json:"index"`
	Verdict  string `json:"verdict"`
}

// DecisionResponse is the outcome of a DecideRequest. Frame is set when the
// request carried a frame and the packet was not dropped.
type DecisionResponse struct {
	Verdict string     `json:"verdict"`
	Reason  string     `json:"reason,omitempty"`
	Hops    int        `json:"hops"`
	Path    []string   `json:"path"`
	Hits    []HitJSON  `json:"hits,omitempty"`
	Fields  FieldsJSON `json:"fields"`
	Frame   string     `json:"frame,omitempty"`
}

// ActionInfo is one flow action of a filter.
type ActionInfo struct {
	Order int    `json:"order"`
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"`
}

// FilterInfo describes one flow filter and its hit counter.
type FilterInfo struct {
	Index       int          `json:"index"`
	Condition   string       `json:"condition"`
	Type        string       `json:"type"`
	Destination string       `json:"destination,omitempty"`
	Direction   string       `json:"direction,omitempty"`
	Actions     []ActionInfo `json:"actions,omitempty"`
	Valid       bool         `json:"valid"`
	Error       string       `json:"error,omitempty"`
	Hits        uint64       `json:"hits"`
}

// FilterListInfo is the flow filter list of one location.
type FilterListInfo struct {
	Location string       `json:"location"`
	Tenant   string       `json:"tenant"`
	Filters  []FilterInfo `json:"filters"`
}

// ConditionInfo describes one flow condition.
type ConditionInfo struct {
	Name    string   `json:"name"`
	Matches []string `json:"matches,omitempty"`
}

// WarningInfo is a non-fatal problem found while building the active
// configuration.
type WarningInfo struct {
	Location string `json:"location"`
	Index    int    `json:"index"`
	Message  string `json:"message"`
}

// ConfigModeStatus holds config mode status.
type ConfigModeStatus struct {
	InConfigMode bool `json:"in_config_mode"`
	Dirty        bool `json:"dirty"`
}

// ConfigSetRequest holds a config set/delete input.
type ConfigSetRequest struct {
	Input string `json:"input"`
}

// ConfigCommitRequest holds an optional commit comment.
type ConfigCommitRequest struct {
	Comment string `json:"comment,omitempty"`
}

// ConfigRollbackRequest holds a rollback index.
type ConfigRollbackRequest struct {
	N int `json:"n"`
}

// ConfigLoadRequest holds a config load request.
type ConfigLoadRequest struct {
	Mode    string `json:"mode"`    // "override", "merge"
	Content string `json:"content"` // config text (hierarchical or set format)
}

// HistoryEntry holds a commit history entry.
type HistoryEntry struct {
	Index      int    `json:"index"`
	Generation uint64 `json:"generation"`
	Timestamp  string `json:"timestamp"`
	Comment    string `json:"comment,omitempty"`
}

// CommitResult is returned by a successful commit or commit check.
type CommitResult struct {
	Generation uint64        `json:"generation"`
	Warnings   []WarningInfo `json:"warnings,omitempty"`
}

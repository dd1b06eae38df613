package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/psaab/vtnflow/pkg/api"
	"github.com/psaab/vtnflow/pkg/cli"
	"github.com/psaab/vtnflow/pkg/cmdtree"
	"github.com/psaab/vtnflow/pkg/config"
	"github.com/psaab/vtnflow/pkg/grpcapi"
	"github.com/psaab/vtnflow/pkg/logging"
)

var errExit = errors.New("exit")

// ctl is the remote shell. Configuration changes are collected locally and
// sent in one Commit call.
type ctl struct {
	client     *grpcapi.Client
	out        io.Writer
	timeout    time.Duration
	hostname   string
	username   string
	configMode bool
	pending    []string
}

func newCtl(client *grpcapi.Client, out io.Writer) *ctl {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "vtnflow"
	}
	username := os.Getenv("USER")
	if username == "" {
		username = "remote"
	}
	return &ctl{
		client:   client,
		out:      out,
		timeout:  5 * time.Second,
		hostname: hostname,
		username: username,
	}
}

func (c *ctl) prompt() string {
	if c.configMode {
		return fmt.Sprintf("[edit]\n%s@%s# ", c.username, c.hostname)
	}
	return fmt.Sprintf("%s@%s> ", c.username, c.hostname)
}

func (c *ctl) dispatch(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.HasSuffix(line, "?") {
		c.showContextHelp(strings.TrimSuffix(line, "?"))
		return nil
	}
	words, err := config.Words(line)
	if err != nil {
		return fmt.Errorf("syntax error: %w", err)
	}
	if c.configMode {
		return c.dispatchConfig(words)
	}
	return c.dispatchOperational(words)
}

func (c *ctl) dispatchOperational(words []string) error {
	switch words[0] {
	case "configure":
		c.configMode = true
		fmt.Fprintln(c.out, "Entering configuration mode")
		return nil

	case "show":
		return c.handleShow(words[1:])

	case "test":
		if len(words) < 2 || words[1] != "flow-filter" {
			return fmt.Errorf("test: expected flow-filter")
		}
		req, err := cli.ParseTestArgs(words[2:])
		if err != nil {
			return err
		}
		var resp api.DecisionResponse
		if err := c.call(c.client.Decide, req, &resp); err != nil {
			return err
		}
		cli.WriteDecision(c.out, &resp)
		return nil

	case "quit", "exit":
		return errExit

	default:
		return fmt.Errorf("unknown command: %s", words[0])
	}
}

func (c *ctl) dispatchConfig(words []string) error {
	switch words[0] {
	case "set", "delete":
		if len(words) < 2 {
			return fmt.Errorf("%s: missing path", words[0])
		}
		c.pending = append(c.pending, strings.Join(quoteArgs(words), " "))
		return nil

	case "show":
		if len(words) >= 3 && words[1] == "|" && words[2] == "compare" {
			if len(c.pending) == 0 {
				fmt.Fprintln(c.out, "[no changes]")
			}
			for _, p := range c.pending {
				fmt.Fprintln(c.out, p)
			}
			return nil
		}
		return c.showStatus()

	case "commit":
		req := grpcapi.CommitRequest{Commands: c.pending}
		switch {
		case len(words) > 1 && words[1] == "check":
			req.Check = true
		case len(words) > 2 && words[1] == "comment":
			req.Comment = strings.Join(words[2:], " ")
		}
		var res api.CommitResult
		if err := c.call(c.client.Commit, req, &res); err != nil {
			return fmt.Errorf("commit failed: %w", err)
		}
		cli.WriteWarnings(c.out, res.Warnings)
		if req.Check {
			fmt.Fprintln(c.out, "configuration check succeeds")
			return nil
		}
		c.pending = nil
		fmt.Fprintf(c.out, "commit complete (generation %d)\n", res.Generation)
		return nil

	case "rollback":
		if len(words) > 1 && words[1] != "0" {
			return fmt.Errorf("rollback: only rollback 0 is supported remotely")
		}
		c.pending = nil
		fmt.Fprintln(c.out, "load complete")
		return nil

	case "run":
		if len(words) < 2 {
			return fmt.Errorf("run: missing command")
		}
		return c.dispatchOperational(words[1:])

	case "exit", "quit":
		if len(c.pending) > 0 {
			fmt.Fprintln(c.out, "warning: uncommitted changes will be discarded")
			c.pending = nil
		}
		c.configMode = false
		fmt.Fprintln(c.out, "Exiting configuration mode")
		return nil

	default:
		return fmt.Errorf("unknown command: %s (in configuration mode)", words[0])
	}
}

func (c *ctl) handleShow(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("show: expected flow-filter or system status")
	}
	switch args[0] {
	case "flow-filter":
		if len(args) >= 2 && args[1] == "trace" {
			count, f, err := cli.ParseTraceArgs(args[2:])
			if err != nil {
				return err
			}
			var resp struct {
				Records []logging.TraceRecord `json:"records"`
			}
			req := grpcapi.ShowTraceRequest{Limit: count, Tenant: f.Tenant, Verdict: f.Verdict, Reason: f.Reason}
			if err := c.call(c.client.ShowTrace, req, &resp); err != nil {
				return err
			}
			cli.WriteTrace(c.out, resp.Records)
			return nil
		}
		var req grpcapi.ShowFiltersRequest
		if len(args) >= 3 && args[1] == "tenant" {
			req.Tenant = args[2]
		}
		var resp struct {
			Lists []api.FilterListInfo `json:"lists"`
		}
		if err := c.call(c.client.ShowFilters, req, &resp); err != nil {
			return err
		}
		cli.WriteFilterLists(c.out, resp.Lists)
		return nil

	case "system":
		return c.showStatus()
	}
	return fmt.Errorf("unknown show target: %s", args[0])
}

// showStatus prints the daemon status. Configuration text is served by
// the HTTP API only.
func (c *ctl) showStatus() error {
	var st api.StatusResponse
	if err := c.call(c.client.Status, struct{}{}, &st); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "  %-20s %s\n", "Uptime:", st.Uptime)
	fmt.Fprintf(c.out, "  %-20s %d\n", "Generation:", st.Generation)
	fmt.Fprintf(c.out, "  %-20s %d\n", "Tenants:", st.TenantCount)
	fmt.Fprintf(c.out, "  %-20s %d\n", "Filter lists:", st.FilterListCount)
	fmt.Fprintf(c.out, "  %-20s %d\n", "Warnings:", st.WarningCount)
	fmt.Fprintf(c.out, "  %-20s %d\n", "Max redirections:", st.MaxRedirections)
	fmt.Fprintf(c.out, "  %-20s %d\n", "Decisions:", st.Decisions)
	return nil
}

type rpc func(context.Context, *structpb.Struct, ...grpc.CallOption) (*structpb.Struct, error)

// call encodes req, invokes fn and decodes the reply into resp.
func (c *ctl) call(fn rpc, req, resp any) error {
	in, err := grpcapi.Encode(req)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	out, err := fn(ctx, in)
	if err != nil {
		if s, ok := status.FromError(err); ok {
			return errors.New(s.Message())
		}
		return err
	}
	return grpcapi.Decode(out, resp)
}

// remoteTree is the subset of the operational tree served over gRPC.
var remoteTree = map[string]*cmdtree.Node{
	"configure": cmdtree.OperationalTree["configure"],
	"show": {Desc: "Show information", Children: map[string]*cmdtree.Node{
		"flow-filter": cmdtree.OperationalTree["show"].Children["flow-filter"],
		"system":      {Desc: "Show daemon status"},
	}},
	"test": cmdtree.OperationalTree["test"],
	"exit": cmdtree.OperationalTree["exit"],
}

var remoteConfigTree = map[string]*cmdtree.Node{
	"set":      cmdtree.ConfigTopLevel["set"],
	"delete":   cmdtree.ConfigTopLevel["delete"],
	"show":     {Desc: "Show pending changes (| compare) or status"},
	"commit":   cmdtree.ConfigTopLevel["commit"],
	"rollback": {Desc: "Discard pending changes"},
	"run":      cmdtree.ConfigTopLevel["run"],
	"exit":     cmdtree.ConfigTopLevel["exit"],
}

func (c *ctl) candidates(words []string, partial string) []cmdtree.Candidate {
	if !c.configMode {
		return cmdtree.CompleteFromTreeWithDesc(remoteTree, words, partial, nil)
	}
	if len(words) > 0 {
		switch words[0] {
		case "run":
			return cmdtree.CompleteFromTreeWithDesc(remoteTree, words[1:], partial, nil)
		case "set", "delete":
			var cands []cmdtree.Candidate
			for _, name := range config.CompleteSetPath(words[1:]) {
				if strings.HasPrefix(name, partial) {
					cands = append(cands, cmdtree.Candidate{Name: name})
				}
			}
			return cands
		}
	}
	return cmdtree.CompleteFromTreeWithDesc(remoteConfigTree, words, partial, nil)
}

func (c *ctl) showContextHelp(prefix string) {
	words := strings.Fields(prefix)
	partial := ""
	if prefix != "" && !strings.HasSuffix(prefix, " ") && len(words) > 0 {
		partial = words[len(words)-1]
		words = words[:len(words)-1]
	}
	cands := c.candidates(words, partial)
	if len(cands) == 0 {
		fmt.Fprintln(c.out, "No completions")
		return
	}
	cmdtree.WriteHelp(c.out, cands)
}

type remoteCompleter struct {
	ctl *ctl
}

func (rc *remoteCompleter) Do(line []rune, pos int) ([][]rune, int) {
	text := string(line[:pos])
	words := strings.Fields(text)
	partial := ""
	if text != "" && text[len(text)-1] != ' ' && len(words) > 0 {
		partial = words[len(words)-1]
		words = words[:len(words)-1]
	}
	cands := rc.ctl.candidates(words, partial)
	if len(cands) == 0 {
		return nil, 0
	}
	out := make([][]rune, len(cands))
	for i, cand := range cands {
		suffix := cand.Name[len(partial):]
		if len(cands) == 1 {
			suffix += " "
		}
		out[i] = []rune(suffix)
	}
	return out, len(partial)
}

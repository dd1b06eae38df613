// Package cli implements the Junos-style interactive CLI for vtnflow.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/psaab/vtnflow/pkg/api"
	"github.com/psaab/vtnflow/pkg/cmdtree"
	"github.com/psaab/vtnflow/pkg/config"
	"github.com/psaab/vtnflow/pkg/configstore"
	"github.com/psaab/vtnflow/pkg/logging"
	"github.com/psaab/vtnflow/pkg/redirect"
)

// ErrExit is returned by Execute when the user leaves the CLI.
var ErrExit = errors.New("exit")

// CLI is the interactive command-line interface.
type CLI struct {
	rl       *readline.Instance
	store    *configstore.Store
	engine   *redirect.Engine
	trace    *logging.TraceBuffer
	out      io.Writer
	hostname string
	username string
}

// New creates a new CLI writing to stdout.
func New(store *configstore.Store, engine *redirect.Engine, trace *logging.TraceBuffer) *CLI {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "vtnflow"
	}
	username := os.Getenv("USER")
	if username == "" {
		username = "root"
	}

	return &CLI{
		store:    store,
		engine:   engine,
		trace:    trace,
		out:      os.Stdout,
		hostname: hostname,
		username: username,
	}
}

// SetOutput redirects command output to w.
func (c *CLI) SetOutput(w io.Writer) { c.out = w }

// Run starts the interactive CLI loop.
func (c *CLI) Run() error {
	var err error
	c.rl, err = readline.NewEx(&readline.Config{
		Prompt:          c.prompt(),
		HistoryFile:     filepath.Join(os.TempDir(), "vtnflow_history"),
		AutoComplete:    &completer{cli: c},
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer c.rl.Close()
	c.out = c.rl.Stdout()

	fmt.Fprintln(c.out, "vtnflow - virtual network flow filter engine")
	fmt.Fprintln(c.out, "Type '?' for help")
	fmt.Fprintln(c.out)

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				break
			}
			return err
		}
		if err := c.Execute(line); err != nil {
			if err == ErrExit {
				return nil
			}
			fmt.Fprintf(c.rl.Stderr(), "error: %v\n", err)
		}
		c.rl.SetPrompt(c.prompt())
	}
	return nil
}

// Execute runs one command line in the current mode.
func (c *CLI) Execute(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.HasSuffix(line, "?") {
		c.showHelp(strings.TrimSuffix(line, "?"))
		return nil
	}
	words, err := config.Words(line)
	if err != nil {
		return fmt.Errorf("syntax error: %w", err)
	}
	if c.store.InConfigMode() {
		return c.dispatchConfig(words)
	}
	return c.dispatchOperational(words)
}

func (c *CLI) dispatchOperational(words []string) error {
	switch words[0] {
	case "configure":
		if err := c.store.EnterConfigure(); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Entering configuration mode")
		return nil

	case "show":
		return c.handleShow(words[1:])

	case "test":
		if len(words) < 2 || words[1] != "flow-filter" {
			return fmt.Errorf("test: expected flow-filter")
		}
		return c.testFlowFilter(words[2:])

	case "quit", "exit":
		return ErrExit

	case "help":
		c.showHelp("")
		return nil

	default:
		return fmt.Errorf("unknown command: %s", words[0])
	}
}

func (c *CLI) dispatchConfig(words []string) error {
	switch words[0] {
	case "set":
		if len(words) < 2 {
			return fmt.Errorf("set: missing path")
		}
		return c.store.SetFromInput(joinWords(words[1:]))

	case "delete":
		if len(words) < 2 {
			return fmt.Errorf("delete: missing path")
		}
		return c.store.DeleteFromInput(joinWords(words[1:]))

	case "show":
		return c.handleConfigShow(words[1:])

	case "commit":
		return c.handleCommit(words[1:])

	case "rollback":
		n := 0
		if len(words) >= 2 {
			var err error
			if n, err = strconv.Atoi(words[1]); err != nil {
				return fmt.Errorf("rollback: invalid number %q", words[1])
			}
		}
		if err := c.store.Rollback(n); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "load complete")
		return nil

	case "load":
		return c.handleLoad(words[1:])

	case "run":
		if len(words) < 2 {
			return fmt.Errorf("run: missing command")
		}
		return c.dispatchOperational(words[1:])

	case "exit", "quit":
		if c.store.IsDirty() {
			fmt.Fprintln(c.out, "warning: uncommitted changes will be discarded")
		}
		c.store.ExitConfigure()
		fmt.Fprintln(c.out, "Exiting configuration mode")
		return nil

	case "help":
		c.showHelp("")
		return nil

	default:
		return fmt.Errorf("unknown command: %s (in configuration mode)", words[0])
	}
}

// joinWords rebuilds an input line, quoting words that would not survive
// tokenizing again.
func joinWords(words []string) string {
	out := make([]string, len(words))
	for i, w := range words {
		if w == "" || strings.ContainsAny(w, " \t;{}\"#") {
			out[i] = strconv.Quote(w)
		} else {
			out[i] = w
		}
	}
	return strings.Join(out, " ")
}

func (c *CLI) handleShow(args []string) error {
	if len(args) == 0 {
		cmdtree.WriteHelp(c.out, cmdtree.HelpCandidates(cmdtree.OperationalTree["show"].Children))
		return nil
	}

	switch args[0] {
	case "configuration":
		if len(args) >= 4 && args[1] == "|" && args[2] == "display" && args[3] == "set" {
			fmt.Fprint(c.out, c.store.ShowActiveSet())
			return nil
		}
		fmt.Fprint(c.out, c.store.ShowActive())
		return nil

	case "flow-filter":
		return c.handleShowFlowFilter(args[1:])

	case "flow-conditions":
		name := ""
		if len(args) > 1 {
			name = args[1]
		}
		return c.showConditions(name)

	case "system":
		if len(args) < 2 {
			return fmt.Errorf("show system: expected commit or warnings")
		}
		switch args[1] {
		case "commit":
			c.showCommitHistory()
			return nil
		case "warnings":
			c.showWarnings()
			return nil
		}
		return fmt.Errorf("show system: unknown item %q", args[1])

	default:
		return fmt.Errorf("unknown show target: %s", args[0])
	}
}

func (c *CLI) handleShowFlowFilter(args []string) error {
	if len(args) == 0 {
		return c.showFilterLists("")
	}
	switch args[0] {
	case "statistics":
		return c.showStatistics()
	case "trace":
		return c.showTrace(args[1:])
	case "tenant":
		if len(args) < 2 {
			return fmt.Errorf("show flow-filter tenant: missing name")
		}
		return c.showFilterLists(args[1])
	}
	return fmt.Errorf("show flow-filter: unknown option %q", args[0])
}

func (c *CLI) handleConfigShow(args []string) error {
	if len(args) >= 2 && args[0] == "|" {
		switch args[1] {
		case "compare":
			if len(args) >= 4 && args[2] == "rollback" {
				n, err := strconv.Atoi(args[3])
				if err != nil {
					return fmt.Errorf("compare: invalid rollback %q", args[3])
				}
				diff, err := c.store.ShowCompareRollback(n)
				if err != nil {
					return err
				}
				fmt.Fprint(c.out, diff)
				return nil
			}
			fmt.Fprint(c.out, c.store.ShowCompare())
			return nil
		case "display":
			if len(args) >= 3 && args[2] == "set" {
				fmt.Fprint(c.out, c.store.ShowCandidateSet())
				return nil
			}
		}
		return fmt.Errorf("show: unknown pipe %q", strings.Join(args[1:], " "))
	}

	fmt.Fprint(c.out, c.store.ShowCandidate())
	return nil
}

func (c *CLI) handleCommit(args []string) error {
	if len(args) > 0 && args[0] == "check" {
		snap, err := c.store.CommitCheck()
		if err != nil {
			return fmt.Errorf("commit check failed: %w", err)
		}
		c.printWarnings(api.Warnings(snap))
		fmt.Fprintln(c.out, "configuration check succeeds")
		return nil
	}

	comment := ""
	if len(args) > 0 && args[0] == "comment" {
		if len(args) < 2 {
			return fmt.Errorf("commit comment: missing text")
		}
		comment = strings.Join(args[1:], " ")
	}

	snap, err := c.store.Commit(comment)
	if err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	c.printWarnings(api.Warnings(snap))
	fmt.Fprintln(c.out, "commit complete")
	return nil
}

func (c *CLI) handleLoad(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("load: usage: load (override|merge) <file>")
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	switch args[0] {
	case "override":
		err = c.store.LoadOverride(string(data))
	case "merge":
		err = c.store.LoadMerge(string(data))
	default:
		return fmt.Errorf("load: unknown mode %q", args[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, "load complete")
	return nil
}

func (c *CLI) prompt() string {
	if c.store.InConfigMode() {
		return fmt.Sprintf("[edit]\n%s@%s# ", c.username, c.hostname)
	}
	return fmt.Sprintf("%s@%s> ", c.username, c.hostname)
}

// showHelp lists what may follow the words typed before a '?'.
func (c *CLI) showHelp(prefix string) {
	words := strings.Fields(prefix)
	partial := ""
	if len(prefix) > 0 && !strings.HasSuffix(prefix, " ") && len(words) > 0 {
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

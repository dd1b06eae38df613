package cli

import (
	"strings"

	"github.com/psaab/vtnflow/pkg/cmdtree"
	"github.com/psaab/vtnflow/pkg/config"
)

// completer implements readline.AutoCompleter over the command trees.
type completer struct {
	cli *CLI
}

func (cm *completer) Do(line []rune, pos int) ([][]rune, int) {
	text := string(line[:pos])
	words := strings.Fields(text)
	partial := ""
	if len(text) > 0 && text[len(text)-1] != ' ' && len(words) > 0 {
		partial = words[len(words)-1]
		words = words[:len(words)-1]
	}

	cands := cm.cli.candidates(words, partial)
	if len(cands) == 0 {
		return nil, 0
	}
	if len(cands) == 1 {
		return [][]rune{[]rune(cands[0].Name[len(partial):] + " ")}, len(partial)
	}

	names := make([]string, len(cands))
	for i, c := range cands {
		names[i] = c.Name
	}
	if common := cmdtree.CommonPrefix(names); len(common) > len(partial) {
		return [][]rune{[]rune(common[len(partial):])}, len(partial)
	}
	out := make([][]rune, len(names))
	for i, n := range names {
		out[i] = []rune(n[len(partial):])
	}
	return out, len(partial)
}

// candidates returns what may follow words in the current mode, filtered
// by partial.
func (c *CLI) candidates(words []string, partial string) []cmdtree.Candidate {
	cfg := c.store.ActiveConfig()
	if !c.store.InConfigMode() {
		return cmdtree.CompleteFromTreeWithDesc(cmdtree.OperationalTree, words, partial, cfg)
	}
	if len(words) == 0 {
		return cmdtree.CompleteFromTreeWithDesc(cmdtree.ConfigTopLevel, nil, partial, cfg)
	}
	switch words[0] {
	case "set", "delete":
		var cands []cmdtree.Candidate
		for _, name := range config.CompleteSetPathWithValues(words[1:], valueProvider(cfg)) {
			if strings.HasPrefix(name, partial) {
				cands = append(cands, cmdtree.Candidate{Name: name})
			}
		}
		return cands
	case "run":
		return cmdtree.CompleteFromTreeWithDesc(cmdtree.OperationalTree, words[1:], partial, cfg)
	case "show":
		if len(words) >= 2 && words[1] == "|" {
			return cmdtree.CompleteFromTreeWithDesc(cmdtree.ShowPipes, words[2:], partial, cfg)
		}
		if len(words) == 1 && strings.HasPrefix("|", partial) {
			return []cmdtree.Candidate{{Name: "|", Desc: "Pipe through a command"}}
		}
		return nil
	}
	return cmdtree.CompleteFromTreeWithDesc(cmdtree.ConfigTopLevel, words, partial, cfg)
}

// valueProvider suggests names from the active configuration.
func valueProvider(cfg *config.Config) config.ValueProvider {
	return func(hint config.ValueHint) []string {
		switch hint {
		case config.ValueHintTenant:
			return cmdtree.TenantNames(cfg)
		case config.ValueHintCondition:
			return cmdtree.ConditionNames(cfg)
		case config.ValueHintDirection:
			return []string{"input", "output"}
		case config.ValueHintNode, config.ValueHintInterface:
			if cfg == nil {
				return nil
			}
			seen := map[string]bool{}
			var names []string
			for _, t := range cfg.Tenants {
				for _, n := range t.Nodes {
					if hint == config.ValueHintNode {
						if !seen[n.Name] {
							seen[n.Name] = true
							names = append(names, n.Name)
						}
						continue
					}
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
		return nil
	}
}

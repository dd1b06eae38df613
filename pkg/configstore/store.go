// Package configstore implements candidate/active configuration management
// with commit and rollback, and publishes the compiled flow filter snapshot
// used by the forwarding path.
package configstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/psaab/vtnflow/pkg/config"
	"github.com/psaab/vtnflow/pkg/redirect"
	"github.com/psaab/vtnflow/pkg/vtn"
)

// DefaultHistorySize is the number of previous commits kept for rollback.
const DefaultHistorySize = 50

var errNotConfiguring = errors.New("not in configuration mode")

// Store manages the candidate and active configuration. The active
// configuration is also kept as a built vtn.Snapshot that readers load
// without locking; a commit swaps it atomically.
type Store struct {
	mu        sync.RWMutex
	active    *config.ConfigTree
	candidate *config.ConfigTree
	compiled  *config.Config
	history   *History
	dirty     bool
	filePath  string

	// commit time and comment of the active configuration
	activeTime    time.Time
	activeComment string

	snap      atomic.Pointer[vtn.Snapshot]
	listeners []func(*vtn.Snapshot)
}

var _ redirect.Source = (*Store)(nil)

// New creates a store persisted at filePath. An empty path disables
// persistence.
func New(filePath string) *Store {
	s := &Store{
		active:   &config.ConfigTree{},
		history:  NewHistory(DefaultHistorySize),
		filePath: filePath,
	}
	s.snap.Store(vtn.Empty())
	return s
}

// OnCommit registers fn to be called with every newly published snapshot.
func (s *Store) OnCommit(fn func(*vtn.Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Current returns the active snapshot.
func (s *Store) Current() *vtn.Snapshot {
	return s.snap.Load()
}

// Snapshot implements redirect.Source.
func (s *Store) Snapshot() redirect.Snapshot {
	return s.snap.Load()
}

// Load reads and activates the configuration file. A missing file leaves
// the store empty.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return s.LoadText(string(data))
}

// LoadText parses, compiles and activates text (hierarchical or set
// format) without going through configuration mode.
func (s *Store) LoadText(text string) error {
	tree, err := parseText(text)
	if err != nil {
		return err
	}
	compiled, snap, err := build(tree)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.active = tree
	s.compiled = compiled
	s.activeTime = time.Now()
	snap = s.publishLocked(snap)
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	logWarnings(snap)
	for _, fn := range listeners {
		fn(snap)
	}
	return nil
}

// Save persists the active configuration to disk.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.filePath == "" {
		return nil
	}
	return os.WriteFile(s.filePath, []byte(s.active.Format()), 0644)
}

// EnterConfigure enters configuration mode by cloning the active config.
func (s *Store) EnterConfigure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.candidate != nil {
		return fmt.Errorf("already in configuration mode")
	}
	s.candidate = s.active.Clone()
	s.dirty = false
	return nil
}

// ExitConfigure exits configuration mode, discarding the candidate.
func (s *Store) ExitConfigure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidate = nil
	s.dirty = false
}

// InConfigMode returns true if currently in configuration mode.
func (s *Store) InConfigMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.candidate != nil
}

// IsDirty returns true if the candidate has uncommitted changes.
func (s *Store) IsDirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Set applies a "set" path to the candidate configuration.
func (s *Store) Set(path []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.candidate == nil {
		return errNotConfiguring
	}
	if err := s.candidate.SetPath(path); err != nil {
		return err
	}
	s.dirty = true
	return nil
}

// SetFromInput parses the arguments of a "set" command and applies them.
func (s *Store) SetFromInput(input string) error {
	path, err := config.ParseSetCommand("set " + input)
	if err != nil {
		return err
	}
	return s.Set(path)
}

// Delete removes the node at path from the candidate configuration.
func (s *Store) Delete(path []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.candidate == nil {
		return errNotConfiguring
	}
	if err := s.candidate.DeletePath(path); err != nil {
		return err
	}
	s.dirty = true
	return nil
}

// DeleteFromInput parses the arguments of a "delete" command and applies them.
func (s *Store) DeleteFromInput(input string) error {
	path, err := config.ParseSetCommand("delete " + input)
	if err != nil {
		return err
	}
	return s.Delete(path)
}

// LoadOverride replaces the candidate with text.
func (s *Store) LoadOverride(text string) error {
	tree, err := parseText(text)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.candidate == nil {
		return errNotConfiguring
	}
	s.candidate = tree
	s.dirty = true
	return nil
}

// LoadMerge applies every statement of text on top of the candidate.
func (s *Store) LoadMerge(text string) error {
	tree, err := parseText(text)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.candidate == nil {
		return errNotConfiguring
	}
	merged := s.candidate.Clone()
	for _, line := range splitLines(tree.FormatSet()) {
		path, err := config.ParseSetCommand(line)
		if err != nil {
			return err
		}
		if err := merged.SetPath(path); err != nil {
			return fmt.Errorf("merge %q: %w", line, err)
		}
	}
	s.candidate = merged
	s.dirty = true
	return nil
}

// CommitCheck compiles and builds the candidate without activating it.
// The returned snapshot carries any per-filter warnings.
func (s *Store) CommitCheck() (*vtn.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.candidate == nil {
		return nil, errNotConfiguring
	}
	_, snap, err := build(s.candidate)
	return snap, err
}

// Commit validates and activates the candidate configuration. The previous
// active configuration is pushed to the rollback history.
func (s *Store) Commit(comment string) (*vtn.Snapshot, error) {
	s.mu.Lock()
	if s.candidate == nil {
		s.mu.Unlock()
		return nil, errNotConfiguring
	}
	compiled, snap, err := build(s.candidate)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("commit check failed: %w", err)
	}

	s.history.Push(&HistoryEntry{
		Config:     s.active,
		Generation: s.snap.Load().Generation(),
		Timestamp:  s.activeTime,
		Comment:    s.activeComment,
	})
	s.active = s.candidate
	s.candidate = s.active.Clone()
	s.compiled = compiled
	s.dirty = false
	s.activeTime = time.Now()
	s.activeComment = comment
	snap = s.publishLocked(snap)

	if err := s.saveLocked(); err != nil {
		slog.Warn("failed to save config", "path", s.filePath, "err", err)
	}
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	slog.Info("configuration committed", "generation", snap.Generation(),
		"warnings", len(snap.Warnings()), "comment", comment)
	logWarnings(snap)
	for _, fn := range listeners {
		fn(snap)
	}
	return snap, nil
}

// publishLocked stamps snap with the next generation and makes it current.
func (s *Store) publishLocked(snap *vtn.Snapshot) *vtn.Snapshot {
	snap = snap.WithGeneration(s.snap.Load().Generation() + 1)
	s.snap.Store(snap)
	return snap
}

// Rollback reverts the candidate to a previous configuration.
// n=0 reverts to active; n>0 reverts to the nth previous commit.
func (s *Store) Rollback(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.candidate == nil {
		return errNotConfiguring
	}
	if n == 0 {
		s.candidate = s.active.Clone()
		s.dirty = false
		return nil
	}
	entry, err := s.history.Get(n - 1)
	if err != nil {
		return err
	}
	s.candidate = entry.Config.Clone()
	s.dirty = true
	return nil
}

// ShowRollback returns the nth previous configuration as hierarchical text.
func (s *Store) ShowRollback(n int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n == 0 {
		return s.active.Format(), nil
	}
	entry, err := s.history.Get(n - 1)
	if err != nil {
		return "", err
	}
	return entry.Config.Format(), nil
}

// CommitInfo describes one entry of the commit history.
type CommitInfo struct {
	Rollback   int       `json:"rollback"`
	Generation uint64    `json:"generation"`
	Timestamp  time.Time `json:"timestamp"`
	Comment    string    `json:"comment,omitempty"`
}

// ListHistory returns the rollback history, most recent first.
func (s *Store) ListHistory() []CommitInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history.List()
	out := make([]CommitInfo, len(entries))
	for i, e := range entries {
		out[i] = CommitInfo{Rollback: i + 1, Generation: e.Generation, Timestamp: e.Timestamp, Comment: e.Comment}
	}
	return out
}

// ShowCandidate returns the candidate configuration as hierarchical text.
func (s *Store) ShowCandidate() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.candidate != nil {
		return s.candidate.Format()
	}
	return ""
}

// ShowActive returns the active configuration as hierarchical text.
func (s *Store) ShowActive() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.Format()
}

// ShowCandidateSet returns the candidate configuration as set commands.
func (s *Store) ShowCandidateSet() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.candidate != nil {
		return s.candidate.FormatSet()
	}
	return ""
}

// ShowActiveSet returns the active configuration as set commands.
func (s *Store) ShowActiveSet() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.FormatSet()
}

// ActiveConfig returns the compiled active configuration.
func (s *Store) ActiveConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compiled
}

// ExportJSON exports the compiled active config as JSON.
func (s *Store) ExportJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.MarshalIndent(s.compiled, "", "  ")
}

// ShowCompare returns the difference between the active and candidate
// configurations as set commands, "-" for removed and "+" for added lines.
func (s *Store) ShowCompare() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.candidate == nil {
		return ""
	}
	return compare(s.active, s.candidate)
}

// ShowCompareRollback compares the candidate with the nth previous commit.
func (s *Store) ShowCompareRollback(n int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.candidate == nil {
		return "", errNotConfiguring
	}
	entry, err := s.history.Get(n - 1)
	if err != nil {
		return "", err
	}
	return compare(entry.Config, s.candidate), nil
}

func compare(from, to *config.ConfigTree) string {
	fromLines := splitLines(from.FormatSet())
	toLines := splitLines(to.FormatSet())

	fromSet := make(map[string]bool, len(fromLines))
	for _, line := range fromLines {
		fromSet[line] = true
	}
	toSet := make(map[string]bool, len(toLines))
	for _, line := range toLines {
		toSet[line] = true
	}

	var b strings.Builder
	for _, line := range fromLines {
		if !toSet[line] {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	for _, line := range toLines {
		if !fromSet[line] {
			fmt.Fprintf(&b, "+ %s\n", line)
		}
	}
	if b.Len() == 0 {
		return "[no changes]\n"
	}
	return b.String()
}

// build compiles tree and builds its snapshot.
func build(tree *config.ConfigTree) (*config.Config, *vtn.Snapshot, error) {
	compiled, err := config.CompileConfig(tree)
	if err != nil {
		return nil, nil, err
	}
	snap, err := vtn.Build(compiled)
	if err != nil {
		return nil, nil, err
	}
	return compiled, snap, nil
}

// parseText accepts either the hierarchical format or a list of set
// commands.
func parseText(text string) (*config.ConfigTree, error) {
	lines := splitLines(text)
	isSet := false
	for _, line := range lines {
		if strings.HasPrefix(line, "#") {
			continue
		}
		isSet = strings.HasPrefix(line, "set ")
		break
	}
	if isSet {
		var cmds []string
		for _, line := range lines {
			if !strings.HasPrefix(line, "#") {
				cmds = append(cmds, line)
			}
		}
		return config.ParseSetCommands(cmds)
	}

	tree, errs := config.NewParser(text).Parse()
	if len(errs) > 0 {
		return nil, fmt.Errorf("parse config: %w", errs[0])
	}
	return tree, nil
}

func logWarnings(snap *vtn.Snapshot) {
	for _, w := range snap.Warnings() {
		slog.Warn("flow filter warning", "location", w.Location.String(), "index", w.Index, "err", w.Err)
	}
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

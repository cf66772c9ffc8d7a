// Package history is the append-only record of command invocations. Each
// command kind ("config", "up", "down", "remote") owns a directory of
// immutable entries numbered from zero; redaction of sensitive values happens
// before persistence, so no sensitive plaintext is ever durably stored.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nbdeploy/nbdeploy/pkg/deployerr"
)

// DirName is the history directory under the project metadata directory.
const DirName = "history"

// DefaultKeep is the per-kind retention applied by Prune.
const DefaultKeep = 20

// ErrNotFound is wrapped into the error returned when a requested entry does
// not exist.
var ErrNotFound = errors.New("history entry not found")

// Entry is one immutable command invocation record.
type Entry struct {
	// Kind is the command kind, e.g. "config" or "up".
	Kind string `json:"kind"`

	// Seq is the per-kind sequence number, ascending from 0.
	Seq int `json:"seq"`

	// StartedAt and EndedAt bound the invocation.
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	// ExitCode is the invocation's exit status.
	ExitCode int `json:"exit_code"`

	// Output is the captured output, line-addressable.
	Output []string `json:"output"`
}

// Summary describes one stored entry without its output.
type Summary struct {
	Kind      string    `json:"kind"`
	Seq       int       `json:"seq"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	ExitCode  int       `json:"exit_code"`
	Lines     int       `json:"lines"`
}

// Store reads and appends history entries for one project.
type Store struct {
	dir      string
	redactor *Redactor
}

// NewStore creates a history store rooted at the given history directory.
// The redactor, when non-nil, scrubs every output line before persistence;
// it may be replaced as sensitive variables change.
func NewStore(dir string, redactor *Redactor) *Store {
	return &Store{dir: dir, redactor: redactor}
}

// SetRedactor replaces the store's redactor.
func (s *Store) SetRedactor(r *Redactor) {
	s.redactor = r
}

func (s *Store) kindDir(kind string) string {
	return filepath.Join(s.dir, kind)
}

// Append records a completed invocation and returns its sequence number.
// The entry's Kind, Seq, and redacted Output are set by the store; entries
// are never mutated after this point.
func (s *Store) Append(kind string, e Entry) (int, error) {
	dir := s.kindDir(kind)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return 0, deployerr.NewStateCorruption("cannot create history directory", err)
	}

	files, err := entryFiles(dir)
	if err != nil {
		return 0, err
	}
	seq := 0
	if len(files) > 0 {
		seq = files[len(files)-1].seq + 1
	}

	e.Kind = kind
	e.Seq = seq
	if s.redactor != nil {
		e.Output = s.redactor.RedactAll(e.Output)
	}

	raw, err := json.MarshalIndent(&e, "", "  ")
	if err != nil {
		return 0, deployerr.NewStateCorruption("cannot serialize history entry", err)
	}

	name := fmt.Sprintf("%06d-%s.json", seq, e.StartedAt.UTC().Format("20060102-150405"))
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return 0, deployerr.NewStateCorruption("cannot create history entry file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return 0, deployerr.NewStateCorruption("cannot write history entry file", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, deployerr.NewStateCorruption("cannot finalize history entry file", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return 0, deployerr.NewStateCorruption("cannot place history entry file", err)
	}
	return seq, nil
}

// List returns entry summaries for a kind, oldest first (most recent last).
// A kind with no entries yields an empty list, not an error.
func (s *Store) List(kind string) ([]Summary, error) {
	files, err := entryFiles(s.kindDir(kind))
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(files))
	for _, f := range files {
		e, err := s.readFile(f.path)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, Summary{
			Kind:      e.Kind,
			Seq:       e.Seq,
			StartedAt: e.StartedAt,
			EndedAt:   e.EndedAt,
			ExitCode:  e.ExitCode,
			Lines:     len(e.Output),
		})
	}
	return summaries, nil
}

// Get returns the entry at offsetFromLatest (0 = most recent). It fails with
// an ErrNotFound-wrapping error when the offset exceeds the number of stored
// entries for the kind.
func (s *Store) Get(kind string, offsetFromLatest int) (*Entry, error) {
	if offsetFromLatest < 0 {
		return nil, deployerr.NewValidation("history offset must be non-negative", nil)
	}
	files, err := entryFiles(s.kindDir(kind))
	if err != nil {
		return nil, err
	}
	idx := len(files) - 1 - offsetFromLatest
	if idx < 0 {
		return nil, deployerr.NewValidation(
			fmt.Sprintf("no %q history entry at offset %d (%d stored)", kind, offsetFromLatest, len(files)),
			ErrNotFound)
	}
	return s.readFile(files[idx].path)
}

// Read returns a line range of an entry's output as text. lineCount <= 0
// means all remaining lines from lineStart.
func (s *Store) Read(kind string, offsetFromLatest, lineStart, lineCount int) (string, error) {
	e, err := s.Get(kind, offsetFromLatest)
	if err != nil {
		return "", err
	}
	if lineStart < 0 || lineStart > len(e.Output) {
		return "", deployerr.NewValidation(
			fmt.Sprintf("line start %d out of range (entry has %d lines)", lineStart, len(e.Output)), nil)
	}
	lines := e.Output[lineStart:]
	if lineCount > 0 && lineCount < len(lines) {
		lines = lines[:lineCount]
	}
	return strings.Join(lines, "\n"), nil
}

// Prune removes the oldest entries of a kind beyond keep. Entries that
// survive keep their sequence numbers.
func (s *Store) Prune(kind string, keep int) (removed int, err error) {
	if keep < 0 {
		keep = 0
	}
	files, err := entryFiles(s.kindDir(kind))
	if err != nil {
		return 0, err
	}
	if len(files) <= keep {
		return 0, nil
	}
	for _, f := range files[:len(files)-keep] {
		if err := os.Remove(f.path); err != nil {
			return removed, deployerr.NewStateCorruption("cannot remove old history entry", err)
		}
		removed++
	}
	return removed, nil
}

func (s *Store) readFile(path string) (*Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, deployerr.NewStateCorruption("cannot read history entry", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, deployerr.NewStateCorruption("history entry is not valid JSON", err)
	}
	return &e, nil
}

type entryFile struct {
	seq  int
	path string
}

// entryFiles lists a kind directory's entries sorted by sequence number.
// Filenames are %06d-<timestamp>.json, so lexicographic order matches
// sequence order; the seq prefix is still parsed for gap-free numbering.
func entryFiles(dir string) ([]entryFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, deployerr.NewStateCorruption("cannot read history directory", err)
	}

	var files []entryFile
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "-")
		if !ok {
			continue
		}
		seq, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		files = append(files, entryFile{seq: seq, path: filepath.Join(dir, name)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].seq < files[j].seq })
	return files, nil
}

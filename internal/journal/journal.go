// Package journal keeps a human-readable, append-only record of every run
// per network under .lattice/journal. It complements the registry: the
// registry holds current state, the journal holds how it got there.
package journal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kingrea/lattice-deploy/internal/engine"
)

// Level represents the severity of a journal entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Journal writes one file per network.
type Journal struct {
	dir string
	mu  sync.Mutex
}

// New creates a journal rooted at dir.
func New(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: ensure dir: %w", err)
	}
	return &Journal{dir: dir}, nil
}

// Path returns the file backing network's journal.
func (j *Journal) Path(network string) string {
	if j == nil {
		return ""
	}
	return filepath.Join(j.dir, network+".log")
}

// Append writes a single entry. Write failures are dropped; the journal is
// never allowed to fail a deployment.
func (j *Journal) Append(network string, at time.Time, level Level, message string) {
	if j == nil {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	line := fmt.Sprintf("%s %-5s %s\n",
		at.UTC().Format(time.RFC3339),
		string(level),
		strings.TrimSpace(message),
	)
	j.mu.Lock()
	defer j.mu.Unlock()
	file, err := os.OpenFile(j.Path(network), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line)
}

// Tail returns up to maxLines of the most recent entries for network along
// with the total number of entries.
func (j *Journal) Tail(network string, maxLines int) ([]string, int) {
	if j == nil || maxLines <= 0 {
		return nil, 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	file, err := os.Open(j.Path(network))
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	total := len(lines)
	if total > maxLines {
		lines = lines[total-maxLines:]
	}
	return lines, total
}

// OnEvent records engine events, so a Journal can be passed to
// engine.WithObserver.
func (j *Journal) OnEvent(ev engine.Event) {
	level, message := describe(ev)
	if message == "" {
		return
	}
	j.Append(ev.Network, ev.At, level, fmt.Sprintf("run=%s %s", shortRun(ev.RunID), message))
}

func describe(ev engine.Event) (Level, string) {
	switch ev.Kind {
	case engine.EventRunStarted:
		return LevelInfo, "run started"
	case engine.EventVerdict:
		msg := fmt.Sprintf("%s verdict=%s address=%s", ev.Artifact, ev.Verdict, ev.Address.Hex())
		if ev.Previous != zeroAddress && ev.Previous != ev.Address {
			return LevelWarn, msg + " previous=" + ev.Previous.Hex()
		}
		return LevelInfo, msg
	case engine.EventCommitted:
		msg := fmt.Sprintf("%s committed address=%s", ev.Artifact, ev.Address.Hex())
		if ev.TxHash != zeroHash {
			msg += " tx=" + ev.TxHash.Hex()
		}
		return LevelInfo, msg
	case engine.EventProxy:
		if ev.Proxy == nil {
			return LevelInfo, ""
		}
		msg := fmt.Sprintf("%s proxy state=%s action=%s implementation=%s",
			ev.Artifact, ev.Proxy.State, ev.Proxy.Decision.Action, ev.Proxy.Decision.Implementation.Hex())
		if ev.Proxy.Previous != zeroAddress {
			msg += " previous=" + ev.Proxy.Previous.Hex()
		}
		if ev.Proxy.Transacted() {
			msg += " tx=" + ev.Proxy.TxHash.Hex()
		}
		if ev.Err != nil {
			return LevelError, msg + " err=" + ev.Err.Error()
		}
		return LevelInfo, msg
	case engine.EventFailed:
		return LevelError, fmt.Sprintf("%s failed: %v", ev.Artifact, ev.Err)
	case engine.EventRunFinished:
		if ev.Err != nil {
			return LevelError, fmt.Sprintf("run halted: %v", ev.Err)
		}
		return LevelInfo, "run finished"
	}
	return LevelInfo, ""
}

func shortRun(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var (
	zeroAddress common.Address
	zeroHash    common.Hash
)

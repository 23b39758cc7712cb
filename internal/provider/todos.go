package provider

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"refinery/internal/config"
	"refinery/internal/signal"
	"refinery/internal/workspace"
)

// todoPattern matches TODO/FIXME/BUG/HACK/XXX markers behind # or //
// comment leaders.
var todoPattern = regexp.MustCompile(`(?i)(?:#|//)\s*(TODO|FIXME|BUG|HACK|XXX)[:\s]+(.+)`)

// Todos scans the workspace for in-code annotation markers. A filesystem
// watcher marks the tree dirty on changes so unchanged trees skip the
// rescan; if the watcher cannot be established every poll rescans.
type Todos struct {
	cfg  config.TodosConfig
	root string
	log  *zap.Logger

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	dirty   bool
	scanned bool
}

// NewTodos creates the annotation scanner rooted at the workspace.
func NewTodos(cfg config.TodosConfig, root string, log *zap.Logger) *Todos {
	t := &Todos{cfg: cfg, root: root, log: log}
	t.startWatcher()
	return t
}

func (t *Todos) Name() string { return string(signal.SourceTodo) }

// Configured requires only a workspace root that exists.
func (t *Todos) Configured() bool {
	if t.root == "" {
		return false
	}
	info, err := os.Stat(t.root)
	return err == nil && info.IsDir()
}

func (t *Todos) Enabled() bool { return t.cfg.Enabled }

func (t *Todos) PollInterval() time.Duration {
	return config.ParseDuration(t.cfg.PollInterval, 5*time.Minute)
}

func (t *Todos) Fetch(ctx context.Context, since string) ([]signal.Signal, error) {
	t.mu.Lock()
	skip := t.watcher != nil && t.scanned && !t.dirty
	t.mu.Unlock()
	if skip {
		return nil, nil
	}

	signals, err := t.scan(ctx)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.scanned = true
	t.dirty = false
	t.mu.Unlock()
	return signals, nil
}

// Close stops the filesystem watcher.
func (t *Todos) Close() error {
	if t.watcher != nil {
		return t.watcher.Close()
	}
	return nil
}

func (t *Todos) scan(ctx context.Context) ([]signal.Signal, error) {
	exts := t.cfg.Extensions
	if len(exts) == 0 {
		exts = []string{".go", ".py", ".ts", ".tsx", ".js", ".jsx", ".rs"}
	}
	extSet := make(map[string]bool, len(exts))
	for _, e := range exts {
		extSet[e] = true
	}

	now := signal.Now()
	var signals []signal.Signal
	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, relErr := filepath.Rel(t.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if workspace.Skipped(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !extSet[filepath.Ext(path)] {
			return nil
		}
		signals = append(signals, t.scanFile(path, rel, now)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return signals, nil
}

func (t *Todos) scanFile(path, rel, now string) []signal.Signal {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var signals []signal.Signal
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		m := todoPattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		tag := strings.ToUpper(m[1])
		content := strings.TrimSpace(m[2])
		priority := signal.PriorityDefault
		if tag == "BUG" || tag == "FIXME" {
			priority = 2
		}
		signals = append(signals, signal.Signal{
			ID:         "todo-" + shortID(),
			Source:     signal.SourceTodo,
			ExternalID: fmt.Sprintf("%s:%d:%s", rel, lineNo, tag),
			Title:      fmt.Sprintf("%s in %s:%d", tag, rel, lineNo),
			Content:    content,
			FilePath:   rel,
			LineNumber: lineNo,
			Priority:   priority,
			ProviderMetadata: map[string]any{
				"tag": tag,
			},
			CreatedAt: now,
			UpdatedAt: now,
			FetchedAt: now,
		})
	}
	return signals
}

// startWatcher registers the workspace directory tree for change
// notification. Watch failures degrade to rescanning every poll.
func (t *Todos) startWatcher() {
	if t.root == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.log.Debug("todo watcher unavailable", zap.Error(err))
		return
	}

	added := 0
	walkErr := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(t.root, path)
		if relErr != nil {
			return nil
		}
		if workspace.Skipped(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err == nil {
			added++
		}
		return nil
	})
	if walkErr != nil || added == 0 {
		watcher.Close()
		return
	}

	t.watcher = watcher
	t.dirty = true
	go func() {
		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				t.mu.Lock()
				t.dirty = true
				t.mu.Unlock()
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

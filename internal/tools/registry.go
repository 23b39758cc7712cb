package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry holds the registered tool set. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// NewDefault creates a registry with the full whitelisted tool surface
// rooted at the given workspace directory.
func NewDefault(root string) *Registry {
	r := NewRegistry()
	r.MustRegister(ReadFileTool(root))
	r.MustRegister(WriteFileTool(root))
	r.MustRegister(ListFilesTool(root))
	r.MustRegister(SearchTextTool(root))
	r.MustRegister(RunCommandTool(root))
	return r
}

// Register adds a tool, rejecting duplicates and invalid definitions.
func (r *Registry) Register(t *Tool) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// MustRegister registers a tool and panics on failure. Used for the
// built-in set, where a registration error is a programming bug.
func (r *Registry) MustRegister(t *Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the named tool after validating required arguments.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	for _, key := range t.Required {
		if _, present := args[key]; !present {
			return nil, fmt.Errorf("%w: %s requires %q", ErrMissingArgument, name, key)
		}
	}
	return t.Execute(ctx, args)
}

// Package runtime defines the language-runtime contract used by the sandbox
// and its registry of available implementations. Each execution gets a fresh
// Context; contexts are never reused across executions.
package runtime

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnsupportedLanguage is returned for languages no runtime handles.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Feature names a host capability a tier can grant to guest code.
type Feature string

const (
	FeatureConsole Feature = "console"
	FeatureDate    Feature = "date"
	FeatureRandom  Feature = "random"
)

// Options configures one execution context.
type Options struct {
	// Features lists the host capabilities exposed to the guest. Anything
	// not listed is removed or stubbed.
	Features []Feature

	// MaxLogBytes caps the total bytes the guest can emit through the
	// injected console before further output is dropped.
	MaxLogBytes int
}

// Allows reports whether f was granted.
func (o Options) Allows(f Feature) bool {
	for _, g := range o.Features {
		if g == f {
			return true
		}
	}
	return false
}

// Runtime produces execution contexts for one language.
type Runtime interface {
	// Name is the language identifier requests select by, e.g. "javascript".
	Name() string

	// Validate rejects code the runtime cannot accept before a context is
	// built, e.g. source that is not valid UTF-8.
	Validate(code string) error

	// NewContext builds a fresh, isolated context for one execution.
	NewContext(opts Options) (Context, error)
}

// Context is a single-use execution environment.
type Context interface {
	// Compile parses and compiles the source without running it.
	Compile(code string) error

	// Run executes the compiled program and returns its final value rendered
	// as a string. Run blocks until completion or interrupt.
	Run() (string, error)

	// Interrupt stops a running program with the given cause. Safe to call
	// from another goroutine; Run returns an error wrapping cause.
	Interrupt(cause error)

	// Logs returns everything the guest wrote through the injected console,
	// already capped at MaxLogBytes.
	Logs() string

	// Close releases the context. The context is unusable afterwards.
	Close() error
}

// Registry maps language names to runtimes.
type Registry struct {
	mu       sync.RWMutex
	runtimes map[string]Runtime
}

func NewRegistry() *Registry {
	return &Registry{runtimes: make(map[string]Runtime)}
}

func (r *Registry) Register(rt Runtime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtimes[rt.Name()] = rt
}

func (r *Registry) Get(language string) (Runtime, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[language]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	return rt, nil
}

// Languages returns the registered language names.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.runtimes))
	for name := range r.runtimes {
		names = append(names, name)
	}
	return names
}

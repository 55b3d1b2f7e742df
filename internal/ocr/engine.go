package ocr

import (
	"context"
	"sync"

	"github.com/joseph-ayodele/docscan/constants"
)

// DefaultEngine is the engine every preference list falls back to.
const DefaultEngine = "tesseract"

// Engine turns a document into text. Implementations wrap one concrete
// recognition backend; the bundled Extractor shells out to poppler and
// tesseract.
type Engine interface {
	Name() string
	Extract(ctx context.Context, path string, format constants.Format) (ExtractionResult, error)
}

// Registry holds named engines. Workers resolve a preference order against
// it per job.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

// Register adds or replaces an engine under its own name.
func (r *Registry) Register(e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.Name()] = e
}

// Get returns the engine registered under name.
func (r *Registry) Get(name string) (Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	return e, ok
}

// Names lists registered engine names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for n := range r.engines {
		names = append(names, n)
	}
	return names
}

// Resolve maps a preference list to registered engines, keeping order and
// dropping duplicates and unknown names. The default engine is appended when
// the list does not already include it, so recognition always has a last
// resort. An empty list resolves to just the default.
func (r *Registry) Resolve(preferred []string) []Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(preferred)+1)
	var out []Engine
	add := func(name string) {
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		if e, ok := r.engines[name]; ok {
			out = append(out, e)
		}
	}
	for _, name := range preferred {
		add(name)
	}
	add(DefaultEngine)
	return out
}

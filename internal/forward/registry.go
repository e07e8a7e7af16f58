package forward

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrUnknownVersion = errors.New("unknown forward model version")
	ErrVersionExists  = errors.New("forward model version already registered")
)

// Options configure a model implementation at construction time.
type Options struct {
	Command     string
	Args        []string
	Timeout     time.Duration
	ScratchDir  string
	KeepScratch bool
}

type Factory func(opts Options) (Model, error)

var registry = struct {
	mu sync.RWMutex
	m  map[int]Factory
}{
	m: make(map[int]Factory),
}

func init() {
	initializeBuiltInModels()
}

func initializeBuiltInModels() {
	MustRegister(DALECGrassVersion, newDALECGrassExec)
}

func Register(version int, factory Factory) error {
	if factory == nil {
		return errors.New("factory is required")
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.m[version]; ok {
		return fmt.Errorf("%w: %d", ErrVersionExists, version)
	}
	registry.m[version] = factory
	return nil
}

// MustRegister is Register for built-in versions; it panics on failure.
func MustRegister(version int, factory Factory) {
	if err := Register(version, factory); err != nil {
		panic(fmt.Errorf("register forward model version %d: %w", version, err))
	}
}

// New constructs the implementation registered for version.
func New(version int, opts Options) (Model, error) {
	registry.mu.RLock()
	factory, ok := registry.m[version]
	registry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
	return factory(opts)
}

func Versions() []int {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	out := make([]int, 0, len(registry.m))
	for v := range registry.m {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

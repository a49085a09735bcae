// Package notify declares typed notification channels.
//
// A Type pairs the wire-level method name of a server notification with the
// Go type its params decode into. Declarations go through a Registry so that
// two parts of the program cannot disagree about the payload of one method.
package notify

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

var (
	ErrShapeMismatch = errors.New("notification already declared with a different payload")
	ErrSealed        = errors.New("notification registry is sealed")
	ErrEmptyName     = errors.New("notification name is required")
)

// Type identifies a notification method carrying payload P.
type Type[P any] struct {
	name string
}

func (t Type[P]) Name() string { return t.name }

// Shape returns the payload type of t.
func (t Type[P]) Shape() reflect.Type {
	return reflect.TypeFor[P]()
}

func (t Type[P]) String() string {
	return fmt.Sprintf("%s(%s)", t.name, t.Shape())
}

// Registry holds every declared notification name and its payload shape.
type Registry struct {
	mu     sync.RWMutex
	shapes map[string]reflect.Type
	sealed bool
}

func NewRegistry() *Registry {
	return &Registry{shapes: make(map[string]reflect.Type)}
}

// Types is the process-wide registry used by package-level declarations.
var Types = NewRegistry()

// Declare records name with payload P. Declaring the same name with the same
// payload again returns the existing type.
func Declare[P any](r *Registry, name string) (Type[P], error) {
	if name == "" {
		return Type[P]{}, ErrEmptyName
	}
	shape := reflect.TypeFor[P]()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.shapes[name]; ok {
		if existing != shape {
			return Type[P]{}, fmt.Errorf("%w: %s is %s, not %s", ErrShapeMismatch, name, existing, shape)
		}
		return Type[P]{name: name}, nil
	}
	if r.sealed {
		return Type[P]{}, fmt.Errorf("%w: cannot declare %s", ErrSealed, name)
	}

	r.shapes[name] = shape
	return Type[P]{name: name}, nil
}

// MustDeclare is like Declare but panics on a configuration error.
// Use it for package-level declarations.
func MustDeclare[P any](r *Registry, name string) Type[P] {
	t, err := Declare[P](r, name)
	if err != nil {
		panic(err)
	}
	return t
}

// Seal forbids new declarations.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Lookup(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	shape, ok := r.shapes[name]
	return shape, ok
}

// Names returns the declared names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.shapes))
	for name := range r.shapes {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

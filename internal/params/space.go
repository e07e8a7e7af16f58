package params

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"mdfcal/internal/model"
)

var ErrInvalidBounds = errors.New("invalid parameter bounds")

// Bound is one named, closed parameter interval.
type Bound struct {
	Name        string  `json:"name" yaml:"name"`
	Lower       float64 `json:"lower" yaml:"lower"`
	Upper       float64 `json:"upper" yaml:"upper"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
}

func (b Bound) Width() float64 { return b.Upper - b.Lower }

func (b Bound) Mid() float64 { return b.Lower + b.Width()/2 }

// Space is an immutable, validated table of parameter bounds.
type Space struct {
	bounds []Bound
	index  map[string]int
}

func NewSpace(bounds []Bound) (*Space, error) {
	if len(bounds) == 0 {
		return nil, fmt.Errorf("%w: empty table", ErrInvalidBounds)
	}
	index := make(map[string]int, len(bounds))
	for i, b := range bounds {
		if b.Name == "" {
			return nil, fmt.Errorf("%w: parameter %d has no name", ErrInvalidBounds, i)
		}
		if _, dup := index[b.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate parameter %s", ErrInvalidBounds, b.Name)
		}
		if math.IsNaN(b.Lower) || math.IsNaN(b.Upper) || math.IsInf(b.Lower, 0) || math.IsInf(b.Upper, 0) {
			return nil, fmt.Errorf("%w: %s has non-finite bound", ErrInvalidBounds, b.Name)
		}
		if b.Lower >= b.Upper {
			return nil, fmt.Errorf("%w: %s lower %g >= upper %g", ErrInvalidBounds, b.Name, b.Lower, b.Upper)
		}
		index[b.Name] = i
	}
	return &Space{bounds: append([]Bound(nil), bounds...), index: index}, nil
}

// MustSpace is NewSpace for compiled-in tables.
func MustSpace(bounds []Bound) *Space {
	s, err := NewSpace(bounds)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Space) Len() int { return len(s.bounds) }

func (s *Space) Bounds() []Bound { return append([]Bound(nil), s.bounds...) }

func (s *Space) Bound(i int) Bound { return s.bounds[i] }

func (s *Space) Names() []string {
	names := make([]string, len(s.bounds))
	for i, b := range s.bounds {
		names[i] = b.Name
	}
	return names
}

func (s *Space) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Sample draws every component independently and uniformly from its bound.
func (s *Space) Sample(rng *rand.Rand) model.ParameterVector {
	out := make(model.ParameterVector, len(s.bounds))
	for i, b := range s.bounds {
		out[i] = b.Lower + rng.Float64()*b.Width()
	}
	return out
}

func (s *Space) Midpoint() model.ParameterVector {
	out := make(model.ParameterVector, len(s.bounds))
	for i, b := range s.bounds {
		out[i] = b.Mid()
	}
	return out
}

// Clip returns a copy of v with every component clamped into its bound.
func (s *Space) Clip(v model.ParameterVector) model.ParameterVector {
	out := v.Clone()
	for i, b := range s.bounds {
		out[i] = math.Min(math.Max(out[i], b.Lower), b.Upper)
	}
	return out
}

func (s *Space) Contains(v model.ParameterVector) bool {
	if len(v) != len(s.bounds) {
		return false
	}
	for i, b := range s.bounds {
		if !(v[i] >= b.Lower && v[i] <= b.Upper) {
			return false
		}
	}
	return true
}

// WithOverrides returns a new space with the named bounds replaced. An
// override naming an unknown parameter is an error.
func (s *Space) WithOverrides(overrides []Bound) (*Space, error) {
	bounds := s.Bounds()
	for _, o := range overrides {
		i, ok := s.index[o.Name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown parameter %s", ErrInvalidBounds, o.Name)
		}
		o.Description = bounds[i].Description
		bounds[i] = o
	}
	return NewSpace(bounds)
}

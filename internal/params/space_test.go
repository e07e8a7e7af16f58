package params

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestDALECGrassTable(t *testing.T) {
	space := DALECGrass()
	if space.Len() != DALECGrassCount {
		t.Fatalf("expected %d parameters, got %d", DALECGrassCount, space.Len())
	}
	checks := map[int]string{
		TORLitter:  "tor_litter",
		TORSOM:     "tor_som",
		GSIMinTemp: "gsi_min_temp",
		GSIMaxTemp: "gsi_max_temp",
		GrazeDMMin: "graze_dm_min",
		CutDMMin:   "cut_dm_min",
		InitSOM:    "init_som",
	}
	for idx, name := range checks {
		if got := space.Bound(idx).Name; got != name {
			t.Fatalf("index %d: expected %s, got %s", idx, name, got)
		}
	}
}

func TestSampleWithinBounds(t *testing.T) {
	space := DALECGrass()
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		v := space.Sample(rng)
		if !space.Contains(v) {
			t.Fatalf("draw %d outside bounds: %v", i, v)
		}
	}
}

func TestNewSpaceRejectsMalformedTable(t *testing.T) {
	cases := []struct {
		name   string
		bounds []Bound
	}{
		{"empty", nil},
		{"equal", []Bound{{Name: "a", Lower: 1, Upper: 1}}},
		{"inverted", []Bound{{Name: "a", Lower: 2, Upper: 1}}},
		{"nan", []Bound{{Name: "a", Lower: math.NaN(), Upper: 1}}},
		{"duplicate", []Bound{{Name: "a", Lower: 0, Upper: 1}, {Name: "a", Lower: 0, Upper: 1}}},
		{"unnamed", []Bound{{Lower: 0, Upper: 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSpace(tc.bounds)
			if !errors.Is(err, ErrInvalidBounds) {
				t.Fatalf("expected ErrInvalidBounds, got %v", err)
			}
		})
	}
}

func TestClipAndMidpoint(t *testing.T) {
	space := MustSpace([]Bound{{Name: "a", Lower: 0, Upper: 10}, {Name: "b", Lower: -1, Upper: 1}})
	clipped := space.Clip([]float64{12, -3})
	if clipped[0] != 10 || clipped[1] != -1 {
		t.Fatalf("unexpected clip: %v", clipped)
	}
	mid := space.Midpoint()
	if mid[0] != 5 || mid[1] != 0 {
		t.Fatalf("unexpected midpoint: %v", mid)
	}
}

func TestWithOverrides(t *testing.T) {
	space := DALECGrass()
	out, err := space.WithOverrides([]Bound{{Name: "init_som", Lower: 5000, Upper: 10000}})
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if b := out.Bound(InitSOM); b.Lower != 5000 || b.Upper != 10000 || b.Description == "" {
		t.Fatalf("unexpected override result: %+v", b)
	}
	if space.Bound(InitSOM).Lower != 19000 {
		t.Fatal("override mutated the source space")
	}
	if _, err := space.WithOverrides([]Bound{{Name: "nope", Lower: 0, Upper: 1}}); !errors.Is(err, ErrInvalidBounds) {
		t.Fatalf("expected unknown parameter error, got %v", err)
	}
	if _, err := space.WithOverrides([]Bound{{Name: "init_som", Lower: 3, Upper: 1}}); !errors.Is(err, ErrInvalidBounds) {
		t.Fatalf("expected inverted bound error, got %v", err)
	}
}

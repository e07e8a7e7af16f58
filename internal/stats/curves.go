package stats

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"mdfcal/internal/model"
)

type PlotPoint struct {
	Index int     `json:"index"`
	Value float64 `json:"value"`
}

// CurveTracker follows the best feasible score of one chain and keeps a point
// every Every iterations once a feasible sample has been seen. It is not safe
// for concurrent use; each chain owns one.
type CurveTracker struct {
	Every  int
	best   model.Score
	points []PlotPoint
}

func (c *CurveTracker) Observe(s model.Sample) {
	if s.Score.Better(c.best) {
		c.best = s.Score
	}
	every := c.Every
	if every <= 0 {
		every = 1
	}
	if s.Iteration%every == 0 && c.best.Feasible {
		c.points = append(c.points, PlotPoint{Index: s.Iteration, Value: c.best.Value})
	}
}

func (c *CurveTracker) Points() []PlotPoint {
	return append([]PlotPoint(nil), c.points...)
}

// BestCurve replays samples of one chain, in iteration order, through a
// CurveTracker.
func BestCurve(samples []model.Sample, every int) []PlotPoint {
	c := CurveTracker{Every: every}
	for _, s := range samples {
		c.Observe(s)
	}
	return c.Points()
}

// MeanCurve averages the curves of several chains at every checkpoint that at
// least one chain reached.
func MeanCurve(curves [][]PlotPoint) []PlotPoint {
	byIndex := make(map[int][]float64)
	var order []int
	for _, curve := range curves {
		for _, p := range curve {
			if _, ok := byIndex[p.Index]; !ok {
				order = append(order, p.Index)
			}
			byIndex[p.Index] = append(byIndex[p.Index], p.Value)
		}
	}
	sort.Ints(order)
	out := make([]PlotPoint, 0, len(order))
	for _, idx := range order {
		out = append(out, PlotPoint{Index: idx, Value: stat.Mean(byIndex[idx], nil)})
	}
	return out
}

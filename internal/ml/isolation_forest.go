package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

const eulerGamma = 0.5772156649015329

// IsolationForestConfig parameterizes FitIsolationForest
type IsolationForestConfig struct {
	Trees         int     `json:"trees" yaml:"trees"`
	MaxSamples    int     `json:"max_samples" yaml:"max_samples"`
	Contamination float64 `json:"contamination" yaml:"contamination"`
	Seed          int64   `json:"seed" yaml:"seed"`
}

// DefaultIsolationForestConfig returns 100 trees, 256 samples, 10% contamination, seed 42
func DefaultIsolationForestConfig() IsolationForestConfig {
	return IsolationForestConfig{Trees: 100, MaxSamples: 256, Contamination: 0.1, Seed: 42}
}

func (c IsolationForestConfig) validate() error {
	if c.Trees <= 0 || c.MaxSamples <= 1 {
		return fmt.Errorf("%w: isolation forest needs trees > 0 and max_samples > 1", ErrInvalidInput)
	}
	if !(c.Contamination > 0 && c.Contamination <= 0.5) {
		return fmt.Errorf("%w: contamination must be in (0, 0.5]", ErrInvalidInput)
	}
	return nil
}

type isolationNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"` // -1 on leaves
	Right     int     `json:"r"`
	Size      int     `json:"n"` // samples reaching a leaf
}

type isolationTree struct {
	Nodes []isolationNode `json:"nodes"`
}

// IsolationForest scores points by how quickly random axis-aligned splits
// isolate them. Scores follow the usual convention: score_samples is
// -2^(-E[h]/c(n)) and the decision function subtracts the contamination
// percentile of the training scores, so negative decisions are outliers.
type IsolationForest struct {
	Trees      []isolationTree       `json:"trees"`
	SampleSize int                   `json:"sample_size"`
	Features   int                   `json:"features"`
	Offset     float64               `json:"offset"`
	Config     IsolationForestConfig `json:"config"`
}

// FitIsolationForest grows the forest on X and calibrates the decision offset
func FitIsolationForest(X [][]float64, cfg IsolationForestConfig) (*IsolationForest, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(X) < 2 {
		return nil, fmt.Errorf("%w: isolation forest needs at least 2 samples, got %d", ErrInvalidInput, len(X))
	}
	width := len(X[0])
	for i, row := range X {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d features, expected %d", ErrInvalidInput, i, len(row), width)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: row %d is not finite", ErrInvalidInput, i)
			}
		}
	}

	sampleSize := cfg.MaxSamples
	if sampleSize > len(X) {
		sampleSize = len(X)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize))))

	rng := rand.New(rand.NewSource(cfg.Seed))
	forest := &IsolationForest{
		Trees:      make([]isolationTree, cfg.Trees),
		SampleSize: sampleSize,
		Features:   width,
		Config:     cfg,
	}
	for t := range forest.Trees {
		idx := rng.Perm(len(X))[:sampleSize]
		b := treeBuilder{X: X, rng: rng, maxDepth: maxDepth, width: width}
		b.grow(idx, 0)
		forest.Trees[t] = isolationTree{Nodes: b.nodes}
	}

	scores := make([]float64, len(X))
	for i, row := range X {
		scores[i] = forest.ScoreSamples(row)
	}
	forest.Offset = percentile(scores, cfg.Contamination*100)
	return forest, nil
}

type treeBuilder struct {
	X        [][]float64
	rng      *rand.Rand
	maxDepth int
	width    int
	nodes    []isolationNode
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, isolationNode{Left: -1, Right: -1, Size: len(idx)})
	if depth >= b.maxDepth || len(idx) <= 1 {
		return id
	}

	var candidates []int
	lo := make([]float64, b.width)
	hi := make([]float64, b.width)
	for f := 0; f < b.width; f++ {
		lo[f], hi[f] = math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := b.X[i][f]
			lo[f] = math.Min(lo[f], v)
			hi[f] = math.Max(hi[f], v)
		}
		if hi[f] > lo[f] {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return id
	}

	f := candidates[b.rng.Intn(len(candidates))]
	thr := lo[f] + b.rng.Float64()*(hi[f]-lo[f])
	var left, right []int
	for _, i := range idx {
		if b.X[i][f] < thr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[id] = isolationNode{Feature: f, Threshold: thr, Left: l, Right: r}
	return id
}

// validate checks a decoded forest can be scored. Children always sit after
// their parent, so every walk from the root ends at a leaf.
func (f *IsolationForest) validate() error {
	if len(f.Trees) == 0 || f.Features <= 0 {
		return fmt.Errorf("%w: malformed isolation forest", ErrInvalidInput)
	}
	if f.SampleSize < 2 {
		return fmt.Errorf("%w: isolation forest sample size %d, need at least 2", ErrInvalidInput, f.SampleSize)
	}
	if math.IsNaN(f.Offset) || math.IsInf(f.Offset, 0) {
		return fmt.Errorf("%w: isolation forest offset is not finite", ErrInvalidInput)
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("%w: isolation tree %d is empty", ErrInvalidInput, ti)
		}
		for i, n := range t.Nodes {
			if n.Left == -1 && n.Right == -1 {
				if n.Size < 0 {
					return fmt.Errorf("%w: isolation tree %d leaf %d has negative size", ErrInvalidInput, ti, i)
				}
				continue
			}
			if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("%w: isolation tree %d node %d has invalid children", ErrInvalidInput, ti, i)
			}
			if n.Feature < 0 || n.Feature >= f.Features || math.IsNaN(n.Threshold) {
				return fmt.Errorf("%w: isolation tree %d node %d splits on an invalid feature", ErrInvalidInput, ti, i)
			}
		}
	}
	return nil
}

func (t isolationTree) pathLength(x []float64) float64 {
	node, depth := 0, 0
	for {
		n := t.Nodes[node]
		if n.Left < 0 {
			return float64(depth) + averagePathLength(n.Size)
		}
		if x[n.Feature] < n.Threshold {
			node = n.Left
		} else {
			node = n.Right
		}
		depth++
	}
}

// ScoreSamples returns -2^(-E[h(x)]/c(n)); lower is more anomalous
func (f *IsolationForest) ScoreSamples(x []float64) float64 {
	var sum float64
	for _, t := range f.Trees {
		sum += t.pathLength(x)
	}
	mean := sum / float64(len(f.Trees))
	return -math.Pow(2, -mean/averagePathLength(f.SampleSize))
}

// DecisionFunction returns ScoreSamples(x) - Offset; negative means outlier
func (f *IsolationForest) DecisionFunction(x []float64) float64 {
	return f.ScoreSamples(x) - f.Offset
}

// averagePathLength is c(n), the mean unsuccessful-search path length of a
// binary search tree with n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// percentile uses linear interpolation between closest ranks
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

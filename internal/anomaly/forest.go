package anomaly

import (
	"math"
	"math/rand/v2"
)

const eulerGamma = 0.5772156649015329

// node is one split in an isolation tree. Leaves have no children and
// record how many training samples reached them.
type node struct {
	Feature int     `json:"feature"`
	Split   float64 `json:"split,omitempty"`
	Size    int     `json:"size,omitempty"`
	Left    *node   `json:"left,omitempty"`
	Right   *node   `json:"right,omitempty"`
}

func (n *node) leaf() bool { return n.Left == nil }

// buildTree isolates the idx rows of X by recursive random splits
// until the depth limit or single samples.
func buildTree(X [][]float64, idx []int, depth, limit int, rng *rand.Rand) *node {
	if depth >= limit || len(idx) <= 1 {
		return &node{Feature: -1, Size: len(idx)}
	}
	feat, lo, hi, ok := pickSplitFeature(X, idx, rng)
	if !ok {
		return &node{Feature: -1, Size: len(idx)}
	}
	split := lo + rng.Float64()*(hi-lo)
	var left, right []int
	for _, i := range idx {
		if X[i][feat] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return &node{
		Feature: feat,
		Split:   split,
		Left:    buildTree(X, left, depth+1, limit, rng),
		Right:   buildTree(X, right, depth+1, limit, rng),
	}
}

// pickSplitFeature draws features in random order until it finds one
// with spread among the rows. A constant region cannot be split.
func pickSplitFeature(X [][]float64, idx []int, rng *rand.Rand) (feat int, lo, hi float64, ok bool) {
	for _, f := range rng.Perm(len(X[0])) {
		lo, hi = X[idx[0]][f], X[idx[0]][f]
		for _, i := range idx[1:] {
			v := X[i][f]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi > lo {
			return f, lo, hi, true
		}
	}
	return 0, 0, 0, false
}

// pathLength walks x down the tree. External nodes contribute the
// expected remaining depth for the samples they hold.
func pathLength(n *node, x []float64) float64 {
	var depth float64
	for !n.leaf() {
		if x[n.Feature] < n.Split {
			n = n.Left
		} else {
			n = n.Right
		}
		depth++
	}
	return depth + avgPathLength(n.Size)
}

// avgPathLength is the expected path length of an unsuccessful binary
// search tree lookup over n samples.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	return 2*(math.Log(float64(n-1))+eulerGamma) - 2*float64(n-1)/float64(n)
}

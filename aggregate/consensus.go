package aggregate

import (
	"context"
	"math"

	"github.com/hupe1980/conclave/core"
)

// CheckConsensus reports whether a strict majority of responses agree.
//
// Every pair is scored with sim. Responses are clustered greedily in
// submission order: each response joins the first cluster whose members all
// score at least threshold against it, or starts a new one, so every pair
// inside a cluster clears the threshold. When the largest cluster (earliest
// on ties) holds more than half of the responses, its medoid (the member
// with the highest mean similarity to the other members, earliest on ties)
// is returned with true.
//
// A comparison that errors, panics or returns NaN counts as 0. A threshold
// outside (0,1] never yields consensus. A single response is its own
// majority.
func CheckConsensus(ctx context.Context, responses []string, sim core.SimilarityFunc, threshold float64) (string, bool) {
	n := len(responses)
	if n == 0 || sim == nil || !(threshold > 0 && threshold <= 1) {
		return "", false
	}
	if n == 1 {
		return responses[0], true
	}

	scores := make([][]float64, n)
	for i := range scores {
		scores[i] = make([]float64, n)
		scores[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := safeSimilarity(ctx, sim, responses[i], responses[j])
			scores[i][j], scores[j][i] = s, s
		}
	}

	largest := largestCluster(cluster(n, scores, threshold))
	if 2*len(largest) <= n {
		return "", false
	}

	return responses[medoid(largest, scores)], true
}

// cluster groups indexes 0..n-1 into complete-link clusters.
func cluster(n int, scores [][]float64, threshold float64) [][]int {
	var clusters [][]int
	for i := 0; i < n; i++ {
		placed := false
		for c, members := range clusters {
			if agreesWithAll(i, members, scores, threshold) {
				clusters[c] = append(members, i)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, []int{i})
		}
	}
	return clusters
}

func agreesWithAll(i int, members []int, scores [][]float64, threshold float64) bool {
	for _, j := range members {
		if scores[i][j] < threshold {
			return false
		}
	}
	return true
}

func largestCluster(clusters [][]int) []int {
	var largest []int
	for _, c := range clusters {
		if len(c) > len(largest) {
			largest = c
		}
	}
	return largest
}

func medoid(members []int, scores [][]float64) int {
	best, bestMean := members[0], math.Inf(-1)
	for _, i := range members {
		sum := 0.0
		for _, j := range members {
			if i != j {
				sum += scores[i][j]
			}
		}
		mean := sum / float64(len(members)-1)
		if mean > bestMean {
			best, bestMean = i, mean
		}
	}
	return best
}

func safeSimilarity(ctx context.Context, sim core.SimilarityFunc, a, b string) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			score = 0
		}
	}()

	s, err := sim(ctx, a, b)
	if err != nil || math.IsNaN(s) {
		return 0
	}

	return math.Max(0, math.Min(1, s))
}

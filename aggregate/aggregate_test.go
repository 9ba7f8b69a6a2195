package aggregate

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/conclave/core"
	"github.com/hupe1980/conclave/internal/testutil"
)

func okResult(contents ...string) core.DispatchResult {
	res := make(core.DispatchResult, len(contents))
	for i, c := range contents {
		res[i] = core.NewOKEntry(string(rune('a'+i)), c, 0)
	}
	return res
}

func TestMajorityVote(t *testing.T) {
	d := MajorityVote(okResult("A", "A", "B"))

	require.NotNil(t, d.Winner)
	assert.Equal(t, "A", *d.Winner)
	assert.Equal(t, map[string]int{"A": 2, "B": 1}, d.VoteCounts)
	assert.Equal(t, core.PathMajority, d.Path)
	assert.True(t, d.Consensus)
}

func TestMajorityVote_TieGoesToEarliest(t *testing.T) {
	for i := 0; i < 20; i++ {
		d := MajorityVote(okResult("A", "B"))
		require.NotNil(t, d.Winner)
		assert.Equal(t, "A", *d.Winner)
		assert.False(t, d.Consensus)
	}

	d := MajorityVote(okResult("B", "A", "A", "B", "C"))
	assert.Equal(t, "B", d.WinnerText())
}

func TestMajorityVote_NormalizesWhitespace(t *testing.T) {
	d := MajorityVote(okResult(" yes", "yes\n", "no"))

	assert.Equal(t, "yes", d.WinnerText())
	assert.Equal(t, 2, d.VoteCounts["yes"])
}

func TestMajorityVote_IgnoresFailures(t *testing.T) {
	res := core.DispatchResult{
		core.NewErrEntry("x", core.ErrTimeout, 0),
		core.NewOKEntry("y", "B", 0),
		core.NewErrEntry("z", core.ErrAgentFailure, 0),
	}

	d := MajorityVote(res)

	assert.Equal(t, "B", d.WinnerText())
	assert.Equal(t, map[string]int{"B": 1}, d.VoteCounts)

	sum := 0
	for _, c := range d.VoteCounts {
		sum += c
	}
	assert.Equal(t, res.OKCount(), sum)
}

func TestMajorityVote_ZeroOK(t *testing.T) {
	d := MajorityVote(core.DispatchResult{core.NewErrEntry("x", core.ErrTimeout, 0)})

	assert.Nil(t, d.Winner)
	assert.Equal(t, core.PathUnresolved, d.Path)
	assert.False(t, d.Consensus)
	assert.Empty(t, d.VoteCounts)
}

func TestMajorityVote_Quorum(t *testing.T) {
	res := okResult("A", "A", "B")

	d := MajorityVote(res, func(o *VoteOptions) { o.Quorum = 0.7 })
	assert.Equal(t, "A", d.WinnerText())
	assert.False(t, d.Consensus)
}

func TestCheckConsensus_Agreement(t *testing.T) {
	responses := []string{"r1", "r2", "r3"}

	winner, ok := CheckConsensus(context.Background(), responses, testutil.ConstantSimilarity(0.95), 0.9)

	require.True(t, ok)
	assert.Contains(t, responses, winner)
}

func TestCheckConsensus_Disagreement(t *testing.T) {
	_, ok := CheckConsensus(context.Background(), []string{"r1", "r2", "r3"}, testutil.ConstantSimilarity(0.1), 0.9)
	assert.False(t, ok)
}

func TestCheckConsensus_Medoid(t *testing.T) {
	sim := testutil.SimilarityMatrix{}.
		Set("a", "b", 0.95).
		Set("a", "c", 0.91).
		Set("b", "c", 0.95).
		Set("d", "a", 0.1).
		Set("d", "b", 0.1).
		Set("d", "c", 0.1)

	winner, ok := CheckConsensus(context.Background(), []string{"a", "b", "c", "d"}, sim.Func(), 0.9)

	// b has the highest mean similarity inside {a,b,c}.
	require.True(t, ok)
	assert.Equal(t, "b", winner)
}

func TestCheckConsensus_NoChaining(t *testing.T) {
	sim := testutil.SimilarityMatrix{}.
		Set("A", "B", 0.95).
		Set("B", "C", 0.95).
		Set("A", "C", 0.1)

	// A and C disagree, so no cluster holds all three.
	_, ok := CheckConsensus(context.Background(), []string{"A", "B", "C"}, sim.Func(), 0.9)
	assert.False(t, ok)
}

func TestCheckConsensus_EveryPairClearsThreshold(t *testing.T) {
	sim := testutil.SimilarityMatrix{}.
		Set("a", "b", 0.95).
		Set("a", "c", 0.85).
		Set("b", "c", 0.92).
		Set("a", "d", 0.1).
		Set("b", "d", 0.1).
		Set("c", "d", 0.93).
		Set("a", "e", 0.95).
		Set("b", "e", 0.91).
		Set("c", "e", 0.1).
		Set("d", "e", 0.1)

	// {a,b,e} is the only cluster of three; c and d pair up.
	winner, ok := CheckConsensus(context.Background(), []string{"a", "b", "c", "d", "e"}, sim.Func(), 0.9)
	require.True(t, ok)
	assert.Equal(t, "a", winner)
}

func TestCheckConsensus_NoStrictMajority(t *testing.T) {
	sim := testutil.SimilarityMatrix{}.Set("a", "b", 0.99).Set("c", "d", 0.99)

	_, ok := CheckConsensus(context.Background(), []string{"a", "b", "c", "d"}, sim.Func(), 0.9)
	assert.False(t, ok)
}

func TestCheckConsensus_FailingComparisonsCountAsZero(t *testing.T) {
	_, ok := CheckConsensus(context.Background(), []string{"a", "b", "c"}, testutil.FailingSimilarity, 0.5)
	assert.False(t, ok)

	panicky := func(context.Context, string, string) (float64, error) { panic("boom") }
	_, ok = CheckConsensus(context.Background(), []string{"a", "b"}, panicky, 0.5)
	assert.False(t, ok)

	nan := func(context.Context, string, string) (float64, error) { return math.NaN(), nil }
	_, ok = CheckConsensus(context.Background(), []string{"a", "b"}, nan, 0.5)
	assert.False(t, ok)
}

func TestCheckConsensus_PartialFailures(t *testing.T) {
	sim := func(_ context.Context, a, b string) (float64, error) {
		if a == "c" || b == "c" {
			return 0, assert.AnError
		}
		return 0.95, nil
	}

	winner, ok := CheckConsensus(context.Background(), []string{"a", "b", "c"}, sim, 0.9)

	require.True(t, ok)
	assert.Equal(t, "a", winner)
}

func TestCheckConsensus_Edges(t *testing.T) {
	ctx := context.Background()

	_, ok := CheckConsensus(ctx, nil, testutil.ConstantSimilarity(1), 0.5)
	assert.False(t, ok)

	w, ok := CheckConsensus(ctx, []string{"only"}, testutil.ConstantSimilarity(0), 0.5)
	assert.True(t, ok)
	assert.Equal(t, "only", w)

	for _, th := range []float64{0, -0.1, 1.5, math.NaN()} {
		_, ok := CheckConsensus(ctx, []string{"a", "b"}, testutil.ConstantSimilarity(1), th)
		assert.False(t, ok, "threshold %v", th)
	}

	_, ok = CheckConsensus(ctx, []string{"a", "b"}, nil, 0.5)
	assert.False(t, ok)
}

package aggregate

import "github.com/hupe1980/conclave/core"

// DefaultQuorum is the fraction of successful votes the winner must exceed
// for the decision to count as consensus.
const DefaultQuorum = 0.5

// VoteOptions configures MajorityVote.
type VoteOptions struct {
	// Quorum in [0,1). The winner reaches consensus when its share of the
	// successful votes is strictly greater than Quorum.
	Quorum float64
}

// MajorityVote tallies the successful entries of result.
//
// Failed entries are excluded from the tally but stay in result for
// diagnostics. Contents are compared after core.Normalize. When several
// contents share the maximal count, the one whose first occurrence comes
// earliest in submission order wins. Zero successful entries yield an
// unresolved decision with a nil Winner.
func MajorityVote(result core.DispatchResult, optFns ...func(o *VoteOptions)) core.Decision {
	opts := VoteOptions{Quorum: DefaultQuorum}
	for _, fn := range optFns {
		fn(&opts)
	}

	counts := make(map[string]int)
	var order []string
	total := 0

	for _, e := range result {
		if !e.OK() {
			continue
		}
		key := core.Normalize(e.Content)
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key]++
		total++
	}

	if total == 0 {
		return core.Decision{VoteCounts: counts, Path: core.PathUnresolved}
	}

	// order holds first occurrences, so a strict comparison keeps the earliest.
	winner := order[0]
	for _, key := range order[1:] {
		if counts[key] > counts[winner] {
			winner = key
		}
	}

	return core.Decision{
		Winner:     &winner,
		VoteCounts: counts,
		Consensus:  float64(counts[winner])/float64(total) > opts.Quorum,
		Path:       core.PathMajority,
	}
}

// services/payout.go
package services

import (
	"math/big"
	"sort"

	"startup-fantasy-core/models"
)

// The payout math lives here as pure functions of (lineups, per-startup
// totals, prize pool). The same figures must be derivable bit-for-bit by the
// on-chain settlement check, so everything is integer arithmetic: no floats,
// no rounding modes, floor division only.

// ScoreLineup computes one entrant's score from five card snapshots and a
// per-startup points table. A startup absent from the table counts as zero
// activity; the other cards still contribute.
func ScoreLineup(cards []models.CardSnapshot, points map[int64]int64) (int64, []models.CardContribution) {
	var total int64
	breakdown := make([]models.CardContribution, 0, len(cards))
	for _, card := range cards {
		base := points[card.StartupID]
		earned := base * card.RarityMultiplier
		total += earned
		breakdown = append(breakdown, models.CardContribution{
			TokenID:          card.TokenID,
			StartupID:        card.StartupID,
			BasePoints:       base,
			RarityMultiplier: card.RarityMultiplier,
			Points:           earned,
		})
	}
	return total, breakdown
}

// EntrantScore pairs an entrant with their final recomputed score.
type EntrantScore struct {
	EntrantID string
	Score     int64
}

// Allocation is one entrant's settled share.
type Allocation struct {
	EntrantID string
	Score     int64
	Prize     int64
}

// ComputeAllocations splits the prize pool proportionally:
//
//	prize = floor(score × pool / totalScore)
//
// The flooring remainder is not redistributed; it stays in the pool. With
// totalScore 0 every allocation is 0. Amounts are computed with big.Int so
// score × pool cannot overflow int64 mid-calculation. Output order is by
// entrant id, a total order independent of map iteration.
func ComputeAllocations(scores []EntrantScore, prizePool int64) (allocs []Allocation, totalScore, distributed int64) {
	sorted := make([]EntrantScore, len(scores))
	copy(sorted, scores)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EntrantID < sorted[j].EntrantID })

	for _, s := range sorted {
		totalScore += s.Score
	}

	allocs = make([]Allocation, 0, len(sorted))
	if totalScore == 0 {
		for _, s := range sorted {
			allocs = append(allocs, Allocation{EntrantID: s.EntrantID, Score: s.Score})
		}
		return allocs, 0, 0
	}

	pool := big.NewInt(prizePool)
	total := big.NewInt(totalScore)
	for _, s := range sorted {
		amount := new(big.Int).Mul(big.NewInt(s.Score), pool)
		amount.Quo(amount, total)
		prize := amount.Int64()
		distributed += prize
		allocs = append(allocs, Allocation{EntrantID: s.EntrantID, Score: s.Score, Prize: prize})
	}
	return allocs, totalScore, distributed
}

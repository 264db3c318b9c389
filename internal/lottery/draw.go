package lottery

import (
	"sort"

	"github.com/samber/lo"

	"github.com/zy54321/after-school/internal/model"
)

// TotalWeight sums the prize weights.
func TotalWeight(prizes []model.Prize) int64 {
	return lo.SumBy(prizes, func(p model.Prize) int64 { return p.Weight })
}

// Pick returns the first prize whose cumulative weight exceeds roll, where
// roll is uniform in [0, TotalWeight(prizes)).
func Pick(prizes []model.Prize, roll int64) model.Prize {
	cumulative := make([]int64, len(prizes))
	var sum int64
	for i, p := range prizes {
		sum += p.Weight
		cumulative[i] = sum
	}
	i := sort.Search(len(cumulative), func(i int) bool { return cumulative[i] > roll })
	if i == len(prizes) {
		i = len(prizes) - 1
	}
	return prizes[i]
}

// guaranteePrize returns the version's guarantee prize when the pity rule
// applies to a spin with the given consecutive count.
func guaranteePrize(v *model.DrawPoolVersion, count int64) (model.Prize, bool) {
	if v.MinGuaranteeCount == nil || v.GuaranteePrizeID == nil || count < *v.MinGuaranteeCount {
		return model.Prize{}, false
	}
	return lo.Find(v.Prizes, func(p model.Prize) bool { return p.ID == *v.GuaranteePrizeID })
}

package service

import (
	"context"

	"discussion_forum/internal/domain/discussion/repository"

	"github.com/shopspring/decimal"
)

const (
	minRating = 1
	maxRating = 5
)

// meanRating 平均分保留两位小数，没有评分时为 null
func meanRating(ratings []int) decimal.NullDecimal {
	if len(ratings) == 0 {
		return decimal.NullDecimal{}
	}
	sum := decimal.Zero
	for _, r := range ratings {
		sum = sum.Add(decimal.NewFromInt(int64(r)))
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(ratings)))).Round(2)
	return decimal.NullDecimal{Decimal: mean, Valid: true}
}

// recomputeRating 重新计算并写回讨论串评分，调用方需已锁定讨论串
func recomputeRating(ctx context.Context, tx repository.DiscussionRepository, threadID string) (decimal.NullDecimal, error) {
	ratings, err := tx.TopLevelRatings(ctx, threadID)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	rating := meanRating(ratings)
	if err := tx.UpdateThreadRating(ctx, threadID, rating); err != nil {
		return decimal.NullDecimal{}, err
	}
	return rating, nil
}

func validRating(r int) bool {
	return r >= minRating && r <= maxRating
}

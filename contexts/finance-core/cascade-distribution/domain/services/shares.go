package services

import (
	"math/bits"

	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
)

type Share struct {
	Recipient string
	ShareBps  int
	Amount    int64
}

// ShareOf returns floor(pool * bps / 10000) without intermediate overflow.
// A bps above the denominator is treated as the whole pool.
func ShareOf(pool int64, bps int) int64 {
	if pool <= 0 || bps <= 0 {
		return 0
	}
	if bps > entities.BasisPointsDenominator {
		bps = entities.BasisPointsDenominator
	}
	hi, lo := bits.Mul64(uint64(pool), uint64(bps))
	quo, _ := bits.Div64(hi, lo, entities.BasisPointsDenominator)
	return int64(quo)
}

// ComputeShares applies the split rule to pool in recipient order. Zero shares
// and shares below minimum (when minimum > 0) are left out; they stay with the
// owner on the settlement side.
func ComputeShares(pool int64, recipients []entities.Recipient, minimum int64) []Share {
	shares := make([]Share, 0, len(recipients))
	for _, recipient := range recipients {
		amount := ShareOf(pool, recipient.ShareBps)
		if amount == 0 {
			continue
		}
		if minimum > 0 && amount < minimum {
			continue
		}
		shares = append(shares, Share{
			Recipient: recipient.Identifier,
			ShareBps:  recipient.ShareBps,
			Amount:    amount,
		})
	}
	return shares
}

func TotalOf(shares []Share) int64 {
	var total int64
	for _, share := range shares {
		total += share.Amount
	}
	return total
}

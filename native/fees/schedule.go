// Package fees computes the platform and processor shares of a payment.
// All rates are basis points applied to the gross amount; splits therefore
// reproduce exactly on replay.
package fees

import (
	"errors"
	"strings"

	"fanzcore/core/types"
)

// ErrNegativeRate reports a schedule configured with a negative rate.
var ErrNegativeRate = errors.New("fees: negative rate")

// Schedule carries the configured fee rates.
type Schedule struct {
	PlatformRateBps   int64
	ProcessorRateBps  map[string]int64
	DefaultProcessor  int64
	PayoutFeeBps      map[string]int64
	PayoutFeeBpsOther int64
}

// NewSchedule validates and normalises a schedule.
func NewSchedule(platformBps int64, processorBps map[string]int64, defaultProcessorBps int64) (*Schedule, error) {
	if platformBps < 0 || defaultProcessorBps < 0 {
		return nil, ErrNegativeRate
	}
	normalized := make(map[string]int64, len(processorBps))
	for processor, bps := range processorBps {
		if bps < 0 {
			return nil, ErrNegativeRate
		}
		normalized[strings.ToLower(strings.TrimSpace(processor))] = bps
	}
	return &Schedule{
		PlatformRateBps:  platformBps,
		ProcessorRateBps: normalized,
		DefaultProcessor: defaultProcessorBps,
	}, nil
}

// Split is the fee breakdown for one payment.
type Split struct {
	Platform  types.Amount
	Processor types.Amount
	Creator   types.Amount
}

// Apply computes the split of gross between platform, processor and
// creator. Creator takes the remainder so the three parts always sum to
// gross exactly.
func (s *Schedule) Apply(gross types.Amount, processor string) Split {
	platform := gross.BasisPoints(s.PlatformRateBps)
	rate, ok := s.ProcessorRateBps[strings.ToLower(strings.TrimSpace(processor))]
	if !ok {
		rate = s.DefaultProcessor
	}
	procFee := gross.BasisPoints(rate)
	creator := types.NewAmount(gross.Units-platform.Units-procFee.Units, gross.Currency)
	return Split{Platform: platform, Processor: procFee, Creator: creator}
}

// PayoutFee computes the rail fee withheld from a payout.
func (s *Schedule) PayoutFee(amount types.Amount, method string) types.Amount {
	rate, ok := s.PayoutFeeBps[strings.ToLower(strings.TrimSpace(method))]
	if !ok {
		rate = s.PayoutFeeBpsOther
	}
	return amount.BasisPoints(rate)
}

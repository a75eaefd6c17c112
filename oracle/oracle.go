// Package oracle maintains a fixed-size circular buffer of price observations
// and computes time-weighted average prices over a lookback window. The
// buffer capacity and wraparound behavior are load-bearing invariants: slots
// are overwritten in write order and never grow.
package oracle

import (
	"errors"

	"github.com/holiman/uint256"
)

// DefaultCapacity is the number of observation slots a market keeps.
const DefaultCapacity = 24

var (
	ErrStaleData             = errors.New("observation timestamp not after last update")
	ErrInsufficientLiquidity = errors.New("not enough observations in window")
	ErrZeroCapacity          = errors.New("capacity must be greater than zero")
)

// PriceObservation is one recorded point: a Q64.64 square-root price, the
// cumulative volume counters at that moment, and a strictly increasing
// timestamp (unix seconds).
type PriceObservation struct {
	SqrtPrice *uint256.Int
	CumVol0   *uint256.Int
	CumVol1   *uint256.Int
	Timestamp uint64
}

// TWAPOracle accumulates observations for a single market. It is not safe
// for concurrent use; the caller serializes access per market.
type TWAPOracle struct {
	observations []PriceObservation
	writeIndex   int
	count        int
	lastUpdate   uint64
}

// New creates an oracle with the given slot capacity.
func New(capacity int) (*TWAPOracle, error) {
	if capacity <= 0 {
		return nil, ErrZeroCapacity
	}
	return &TWAPOracle{
		observations: make([]PriceObservation, capacity),
	}, nil
}

// Capacity returns the fixed number of slots.
func (o *TWAPOracle) Capacity() int { return len(o.observations) }

// Count returns the number of valid observations, at most Capacity.
func (o *TWAPOracle) Count() int { return o.count }

// LastUpdate returns the timestamp of the most recent observation, zero when
// empty.
func (o *TWAPOracle) LastUpdate() uint64 { return o.lastUpdate }

// Observe records a price observation. Timestamps must be strictly
// increasing; a non-increasing timestamp fails with ErrStaleData and leaves
// the buffer untouched.
func (o *TWAPOracle) Observe(sqrtPrice, cumVol0, cumVol1 *uint256.Int, timestamp uint64) error {
	// Staleness is only checked against a recorded observation: an empty
	// buffer accepts any first timestamp, including zero.
	if o.count > 0 && timestamp <= o.lastUpdate {
		return ErrStaleData
	}

	o.observations[o.writeIndex] = PriceObservation{
		SqrtPrice: new(uint256.Int).Set(sqrtPrice),
		CumVol0:   new(uint256.Int).Set(cumVol0),
		CumVol1:   new(uint256.Int).Set(cumVol1),
		Timestamp: timestamp,
	}
	o.writeIndex = (o.writeIndex + 1) % len(o.observations)
	if o.count < len(o.observations) {
		o.count++
	}
	o.lastUpdate = timestamp
	return nil
}

// TWAP returns the time-weighted average price over the window ending at now.
// The price of an observation is its squared sqrt price divided once by the
// Q64 scale, so the result is a Q64.64 linear price.
//
// The walk starts at the most recent entry and moves backward; each entry is
// weighted by the time until the next newer entry (or until now, for the most
// recent one), clipped to the window. It fails with ErrInsufficientLiquidity
// when the buffer is empty or no observation time overlaps the window.
func (o *TWAPOracle) TWAP(windowSeconds, now uint64) (*uint256.Int, error) {
	if o.count == 0 {
		return nil, ErrInsufficientLiquidity
	}

	windowStart := uint64(0)
	if now > windowSeconds {
		windowStart = now - windowSeconds
	}

	weighted := new(uint256.Int)
	price := new(uint256.Int)
	term := new(uint256.Int)
	var totalTime uint64

	// upper is the exclusive end of the current entry's weight interval.
	upper := now
	for i := 0; i < o.count; i++ {
		idx := (o.writeIndex - 1 - i + 2*len(o.observations)) % len(o.observations)
		obs := o.observations[idx]

		lower := obs.Timestamp
		if i == o.count-1 || lower < windowStart {
			// Oldest reachable entry, or the first entry beyond the window:
			// extend its price back to the window start.
			lower = windowStart
		}
		if upper <= lower {
			if obs.Timestamp <= windowStart {
				break
			}
			upper = obs.Timestamp
			continue
		}

		weight := upper - lower
		observationPrice(price, obs.SqrtPrice)
		term.Mul(price, term.SetUint64(weight))
		weighted.Add(weighted, term)
		totalTime += weight

		if obs.Timestamp <= windowStart {
			break
		}
		upper = obs.Timestamp
	}

	if totalTime == 0 {
		return nil, ErrInsufficientLiquidity
	}
	return weighted.Div(weighted, term.SetUint64(totalTime)), nil
}

// observationPrice writes sqrtPrice^2 >> 64 into dest.
func observationPrice(dest, sqrtPrice *uint256.Int) {
	dest.Mul(sqrtPrice, sqrtPrice)
	dest.Rsh(dest, 64)
}

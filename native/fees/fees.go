package fees

import "math/big"

// BpsDenominator is the per-mille denominator used for platform fees. A policy
// of 25 bps therefore charges 2.5% of the gross amount.
const BpsDenominator = 1_000

// DefaultPlatformBps is the platform fee applied when no policy override is
// configured.
const DefaultPlatformBps uint32 = 25

// Policy captures the fee configuration applied to marketplace payouts.
type Policy struct {
	Bps       uint32
	Collector [20]byte
}

// Valid reports whether the policy charges at most the full amount.
func (p Policy) Valid() bool {
	return p.Bps <= BpsDenominator
}

// Result summarises the computed fee and the resulting net payout.
type Result struct {
	Fee *big.Int
	Net *big.Int
}

// Apply computes the fee obligation for the supplied gross amount. The fee is
// floored, so Fee+Net always equals the gross amount.
func Apply(policy Policy, gross *big.Int) Result {
	result := Result{Fee: big.NewInt(0), Net: big.NewInt(0)}
	if gross == nil || gross.Sign() <= 0 {
		return result
	}
	result.Net = new(big.Int).Set(gross)
	if policy.Bps == 0 {
		return result
	}
	fee := new(big.Int).Mul(gross, big.NewInt(int64(policy.Bps)))
	fee.Div(fee, big.NewInt(BpsDenominator))
	if fee.Sign() <= 0 {
		return result
	}
	if fee.Cmp(result.Net) >= 0 {
		result.Fee = new(big.Int).Set(result.Net)
		result.Net = big.NewInt(0)
		return result
	}
	result.Fee = fee
	result.Net = new(big.Int).Sub(result.Net, fee)
	return result
}

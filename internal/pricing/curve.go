// Package pricing reimplements the shares contract bonding curve with
// arbitrary-precision integer math, so computed trade costs match the
// on-chain arithmetic exactly.
package pricing

import (
	"math/big"

	"github.com/shares-tracker/internal/protocol"
)

var (
	weiPerShareUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	curveDivisor    = big.NewInt(protocol.CurveDivisor)
	feeNumerator    = big.NewInt(2 * protocol.FeeBps)
	bpsDenominator  = big.NewInt(10000)
	six             = big.NewInt(6)
	one             = big.NewInt(1)
)

// squareSum returns 1^2 + 2^2 + ... + n^2 = n(n+1)(2n+1)/6.
func squareSum(n uint64) *big.Int {
	bn := new(big.Int).SetUint64(n)
	sum := new(big.Int).Add(bn, one)
	sum.Mul(sum, bn)
	twoN1 := new(big.Int).Lsh(bn, 1)
	twoN1.Add(twoN1, one)
	sum.Mul(sum, twoN1)
	return sum.Div(sum, six)
}

// Curve returns the pre-fee cost, in wei, of moving a subject's supply
// from supply to supply+amount. It evaluates the contract's closed form:
// the difference of two square sums, scaled by 1e18 and divided by the
// curve divisor. The supply==0 special cases mirror the contract, which
// defines the very first share as free.
func Curve(supply, amount uint64) *big.Int {
	if amount == 0 {
		return new(big.Int)
	}

	var sum1 *big.Int
	if supply == 0 {
		sum1 = new(big.Int)
	} else {
		sum1 = squareSum(supply - 1)
	}

	var sum2 *big.Int
	if supply == 0 && amount == 1 {
		sum2 = new(big.Int)
	} else {
		sum2 = squareSum(supply + amount - 1)
	}

	summation := sum2.Sub(sum2, sum1)
	summation.Mul(summation, weiPerShareUnit)
	return summation.Div(summation, curveDivisor)
}

// BuyPrice returns the pre-fee wei cost of buying amount shares when the
// subject's supply is at supply.
func BuyPrice(supply, amount uint64) *big.Int {
	return Curve(supply, amount)
}

// SellPrice returns the pre-fee wei proceeds of selling amount shares
// when the subject's supply is at supply. The curve is evaluated at the
// post-sale boundary, matching the contract's sell path. An oversold
// amount (amount > supply) cannot occur in a consistent chain state; it
// is priced from the curve floor rather than underflowing.
func SellPrice(supply, amount uint64) *big.Int {
	if amount > supply {
		return Curve(0, amount)
	}
	return Curve(supply-amount, amount)
}

// ApplyFees overlays the protocol and subject fees on a pre-fee cost.
// Buys pay cost plus fees, sells receive cost minus fees.
func ApplyFees(base *big.Int, isBuy bool) *big.Int {
	fee := new(big.Int).Mul(base, feeNumerator)
	fee.Div(fee, bpsDenominator)

	total := new(big.Int).Set(base)
	if isBuy {
		return total.Add(total, fee)
	}
	return total.Sub(total, fee)
}

// BuyPriceAfterFee returns the wei cost of a buy including both fees.
func BuyPriceAfterFee(supply, amount uint64) *big.Int {
	return ApplyFees(BuyPrice(supply, amount), true)
}

// SellPriceAfterFee returns the wei proceeds of a sell net of both fees.
func SellPriceAfterFee(supply, amount uint64) *big.Int {
	return ApplyFees(SellPrice(supply, amount), false)
}

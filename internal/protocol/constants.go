// Package protocol holds the on-chain constants of the shares contract.
package protocol

const (
	// ContractAddress is the shares contract on Base, lowercased because
	// every address comparison in the tracker is done on lowercase hex.
	ContractAddress = "0xcf205808ed36593aa40a44f10c7f7c2f67d4a4d4"

	// DeployBlock is the block the shares contract was deployed at. The
	// sync cursor is floored at DeployBlock-1.
	DeployBlock uint64 = 2430440

	// BuySelector and SellSelector are the 4-byte calldata prefixes of
	// buyShares(address,uint256) and sellShares(address,uint256).
	BuySelector  = "0x6945b123"
	SellSelector = "0xb51d0534"

	// FeeBps is the protocol fee in basis points. The subject fee is
	// charged at the same rate, so every trade carries 2*FeeBps.
	FeeBps = 500

	// CurveDivisor normalizes the square-sum bonding curve. Matches the
	// divisor in the contract's getPrice.
	CurveDivisor = 16000
)

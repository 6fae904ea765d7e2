package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Chain represents a blockchain network identifier
type Chain string

const (
	ChainBitcoin  Chain = "bitcoin:mainnet"
	ChainEthereum Chain = "eip155:1"
	ChainSolana   Chain = "solana:mainnet"

	// ChainManual marks donations recorded off-chain by an admin
	ChainManual Chain = "manual"
)

// Currency represents a donated asset symbol
type Currency string

const (
	CurrencyBTC  Currency = "BTC"
	CurrencyETH  Currency = "ETH"
	CurrencySOL  Currency = "SOL"
	CurrencyUSDC Currency = "USDC"
	CurrencyUSDT Currency = "USDT"
	CurrencyDAI  Currency = "DAI"

	// CurrencyManual is the unit for admin recorded off-chain donations,
	// denominated directly in USD
	CurrencyManual Currency = "MANUAL"
)

// IsStablecoin reports whether the currency is pegged 1:1 to USD
func (c Currency) IsStablecoin() bool {
	switch c {
	case CurrencyUSDC, CurrencyUSDT, CurrencyDAI:
		return true
	default:
		return false
	}
}

// CoinGeckoID maps the currency to its CoinGecko coin identifier
func (c Currency) CoinGeckoID() string {
	switch c {
	case CurrencyBTC:
		return "bitcoin"
	case CurrencyETH:
		return "ethereum"
	case CurrencySOL:
		return "solana"
	case CurrencyUSDC:
		return "usd-coin"
	case CurrencyUSDT:
		return "tether"
	case CurrencyDAI:
		return "dai"
	default:
		return ""
	}
}

// ParseAssetHint resolves a user supplied asset hint (e.g. "eth", "USDC_SPL")
// into a currency and the chain responsible for verifying it. Plain "USDC"
// routes to Ethereum; the "_SPL" suffix selects the Solana side.
func ParseAssetHint(hint string) (Currency, Chain, error) {
	upper := strings.ToUpper(strings.TrimSpace(hint))
	spl := strings.HasSuffix(upper, "_SPL")
	upper = strings.TrimSuffix(upper, "_SPL")

	switch Currency(upper) {
	case CurrencyBTC:
		return CurrencyBTC, ChainBitcoin, nil
	case CurrencyETH, CurrencyUSDT, CurrencyDAI:
		return Currency(upper), ChainEthereum, nil
	case CurrencyUSDC:
		if spl {
			return CurrencyUSDC, ChainSolana, nil
		}
		return CurrencyUSDC, ChainEthereum, nil
	case CurrencySOL:
		return CurrencySOL, ChainSolana, nil
	default:
		return "", "", ErrUnsupportedAsset
	}
}

// NormalizeAddress lowercases an address for use as a canonical lookup key.
// The original casing must be preserved separately for display since Solana
// addresses are case sensitive.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// CandidateTransfer is a treasury-bound transfer observed on chain before it
// has been priced and committed as a donation
type CandidateTransfer struct {
	TxHash    string
	Sender    string
	Amount    float64
	Currency  Currency
	Chain     Chain
	Timestamp time.Time
	Raw       json.RawMessage
}

// DonationID derives the ledger primary key for the transfer
func (t *CandidateTransfer) DonationID() string {
	return t.TxHash + "-" + string(t.Currency)
}

package domain

const (
	// Treasury addresses watched for inbound donations
	ETH_TREASURY_ADDRESS = "0x8262ab131e3f52315d700308152e166909ecfa47"
	SOL_TREASURY_ADDRESS = "2n8etcRuK49GUMXWi2QRtQ8YwS6nTDEUjfX7LcvKFyiV"
	BTC_LEGACY_ADDRESS   = "1Kr3GkJnBZeeQZZoiYjHoxhZjDsSby9d4p"
	BTC_SEGWIT_ADDRESS   = "bc1qu7suxfua5x46e59e7a56vd8wuj3a8qj06qr42j"
	BTC_TAPROOT_ADDRESS  = "bc1pl6sq6srs5vuczd7ard896cc57gg4h3mdnvjsg4zp5zs2rawqmtgsp4hh08"

	// SOL_USDC_MINT is the mainnet USDC mint used to detect SPL donations
	SOL_USDC_MINT = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

	// UNKNOWN_BTC_SENDER is recorded when no non-treasury input owner can be attributed
	UNKNOWN_BTC_SENDER = "unknown_btc_sender"
)

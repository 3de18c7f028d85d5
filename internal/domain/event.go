package domain

// BuyEvent represents an observed buy by a tracked copy-trading wallet.
// Corresponds to buy_events table in PostgreSQL.
// Immutable once recorded; uniqueness enforced on tx_signature.
type BuyEvent struct {
	TxSignature  string   // PRIMARY KEY, Solana transaction signature
	WalletID     string   // tracked wallet address
	TokenMint    string   // token mint address
	TokenSymbol  string   // symbol reported by ingestion (may be empty)
	ObservedAtMs int64    // Unix timestamp in milliseconds
	EntryPrice   float64  // price in SOL at observation
	MarketCap    *float64 // market cap at observation (nullable)
	RecordedAtMs int64    // record creation timestamp (ms)
}

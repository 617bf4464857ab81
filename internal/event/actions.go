package event

// Payload structs for each emitted event, JSON-encoded into the envelope.
// Amounts are decimal strings in the asset's native units; USD values are
// decimal strings in 1e18 scale.

type SupplyExecuted struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
	Receipt string `json:"receipt"`
}

type BorrowExecuted struct {
	Account      string `json:"account"`
	Asset        string `json:"asset"`
	Amount       string `json:"amount"`
	HealthFactor string `json:"health_factor"`
}

type RepayExecuted struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type WithdrawExecuted struct {
	Account      string `json:"account"`
	Asset        string `json:"asset"`
	Amount       string `json:"amount"`
	HealthFactor string `json:"health_factor"`
}

type SwapExecuted struct {
	Account   string `json:"account"`
	AssetIn   string `json:"asset_in"`
	AssetOut  string `json:"asset_out"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
	Fee       string `json:"fee"`
}

type Staked struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type Unstaked struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
	Rewards string `json:"rewards"`
}

type RewardsClaimed struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type LiquidationExecuted struct {
	Liquidator       string `json:"liquidator"`
	Borrower         string `json:"borrower"`
	DebtAsset        string `json:"debt_asset"`
	CollateralAsset  string `json:"collateral_asset"`
	DebtCovered      string `json:"debt_covered"`
	CollateralSeized string `json:"collateral_seized"`
}

type ProtectionExecuted struct {
	Account   string `json:"account"`
	DebtAsset string `json:"debt_asset"`
	Repaid    string `json:"repaid"`
}

type AssetAdded struct {
	Symbol   string `json:"symbol"`
	Contract string `json:"contract"`
	LTVBps   uint32 `json:"ltv_bps"`
}

type AssetRemoved struct {
	Symbol string `json:"symbol"`
}

type ExchangeRateUpdated struct {
	AssetIn  string `json:"asset_in"`
	AssetOut string `json:"asset_out"`
	Rate     string `json:"rate"`
}

type RewardRateUpdated struct {
	Asset string `json:"asset"`
	Rate  string `json:"rate"`
}

type EmergencyWithdraw struct {
	Admin  string `json:"admin"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

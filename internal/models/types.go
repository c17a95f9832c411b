package models

import "encoding/json"

// Account represents one counterparty's ledger state on this node.
// Balance is denominated in the account's native unit (AssetScale fractional
// digits). A negative balance means this node owes the counterparty.
type Account struct {
	ID                  int64  `json:"id"`
	AssetCode           string `json:"asset_code"`
	AssetScale          uint8  `json:"asset_scale"`
	Balance             int64  `json:"balance"`
	PrepaidAmount       int64  `json:"prepaid_amount"`
	MinBalance          int64  `json:"min_balance"`
	SettlementEngineURL string `json:"settlement_engine_url,omitempty"`
}

// CreateAccountParams is the payload for account creation.
type CreateAccountParams struct {
	AssetCode           string `json:"asset_code"`
	AssetScale          uint8  `json:"asset_scale"`
	MinBalance          int64  `json:"min_balance"`
	SettlementEngineURL string `json:"settlement_engine_url,omitempty"`
}

// SettlementRequest is the DTO for an incoming settlement notification.
// Amount is a decimal string because settlement engines may report magnitudes
// wider than 64 bits at very fine scales.
type SettlementRequest struct {
	Amount string `json:"amount"`
	Scale  uint8  `json:"scale"`
}

// SettlementResponse is the canonical response for a settlement or withdrawal.
type SettlementResponse struct {
	AccountID     int64 `json:"account_id"`
	Balance       int64 `json:"balance"`
	PrepaidAmount int64 `json:"prepaid_amount"`
}

// WithdrawalRequest is the DTO for withdrawing prepaid/settled funds.
type WithdrawalRequest struct {
	Amount int64 `json:"amount"`
}

// IdempotentData holds the stored outcome of a previously seen request key.
// Entries are written once and never updated.
type IdempotentData struct {
	Key            string          `json:"key"`
	InputHash      string          `json:"input_hash"`
	ResponseStatus int             `json:"response_status"`
	ResponseBody   json.RawMessage `json:"response_body,omitempty"`
}

// SettlementEngine maps an asset code to a default settlement-engine endpoint.
type SettlementEngine struct {
	AssetCode string `json:"asset_code"`
	URL       string `json:"url"`
}

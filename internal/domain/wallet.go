package domain

// Balances are the wallet's live holdings in display units.
type Balances struct {
	Address    string  `json:"address"`
	Native     float64 `json:"pol"`
	Collateral float64 `json:"usdc_e"`
}

// Approval is one allowance or operator grant the exchanges need.
type Approval struct {
	Token    string `json:"token"`
	Spender  string `json:"spender"`
	Kind     string `json:"kind"` // "allowance" or "operator"
	Approved bool   `json:"approved"`
	TxHash   string `json:"tx_hash,omitempty"`
}

package ws

// PricesMsg is the live feed frame: {"type":"prices","data":[...]}.
type PricesMsg struct {
	Type string     `json:"type"`
	Data []PriceDTO `json:"data"`
}

type PriceDTO struct {
	Ts     string  `json:"ts"` // RFC3339Nano, UTC
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

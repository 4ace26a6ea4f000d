package domain

// Bar represents one raw daily OHLCV record for a security.
// Primary key is (TsCode, TradeDate). The *Qfq fields hold forward-adjusted
// prices and stay nil until the adjustment calculator fills them in.
type Bar struct {
	TsCode    string  `json:"ts_code"`
	TradeDate string  `json:"trade_date"` // canonical YYYYMMDD
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Vol       float64 `json:"vol"`
	Amount    float64 `json:"amount"`

	OpenQfq  *float64 `json:"open_qfq,omitempty"`
	HighQfq  *float64 `json:"high_qfq,omitempty"`
	LowQfq   *float64 `json:"low_qfq,omitempty"`
	CloseQfq *float64 `json:"close_qfq,omitempty"`
}

// AdjustmentEvent is a corporate-action adjustment factor, present only on
// the dates the factor changed. Sorted by TradeDate it forms a step function
// valid from each date until superseded by the next event.
type AdjustmentEvent struct {
	TsCode    string  `json:"ts_code"`
	TradeDate string  `json:"trade_date"` // canonical YYYYMMDD
	AdjFactor float64 `json:"adj_factor"` // always > 0 for valid events
}

// TradingDay is one calendar entry for one exchange. Sourced from the
// provider's trading calendar and never mutated by this module.
type TradingDay struct {
	Exchange string `json:"exchange"`
	CalDate  string `json:"cal_date"` // canonical YYYYMMDD
	IsOpen   bool   `json:"is_open"`
}

// DateRange is an inclusive [Start, End] range of canonical dates.
type DateRange struct {
	Start string
	End   string
}

// Contains reports whether date falls inside the range. Canonical dates
// compare correctly as strings.
func (r DateRange) Contains(date string) bool {
	return date >= r.Start && date <= r.End
}

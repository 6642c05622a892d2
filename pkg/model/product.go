package model

import "time"

// Product is one venue listing from the reference catalog.
type Product struct {
	VenueCode        string    `json:"venue_code"`        // e.g. "KRAKEN"
	InstrumentSymbol string    `json:"instrument_symbol"` // e.g. "ETH/BTC"
	ProductName      string    `json:"product_name,omitempty"`
	IsBlocked        bool      `json:"is_blocked"`
	AsOf             time.Time `json:"as_of,omitempty"`
}

// Package catalog seeds the market graph with the listings known to the
// reference catalog, so the first sweep can run before any price arrives.
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadInstrument is returned for symbols that do not name a base and a quote.
var ErrBadInstrument = errors.New("bad instrument symbol")

// Instrument is a listing split into the traded asset and the hub it is quoted in.
type Instrument struct {
	Market string
	Hub    string
}

// ParseInstrument splits "ETH/BTC", "ETH-BTC" or "eth_btc" into market ETH quoted in hub BTC.
func ParseInstrument(symbol string) (Instrument, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	idx := strings.IndexAny(s, "/-_")
	if idx <= 0 || idx == len(s)-1 {
		return Instrument{}, fmt.Errorf("%w: %q", ErrBadInstrument, symbol)
	}
	in := Instrument{Market: s[:idx], Hub: s[idx+1:]}
	if strings.ContainsAny(in.Hub, "/-_") {
		return Instrument{}, fmt.Errorf("%w: %q", ErrBadInstrument, symbol)
	}
	if in.Market == in.Hub {
		return Instrument{}, fmt.Errorf("%w: %q quoted against itself", ErrBadInstrument, symbol)
	}
	return in, nil
}

func (i Instrument) String() string { return i.Market + "/" + i.Hub }

package arb

import (
	"fmt"
	"strings"
)

// Type classifies a relationship between two markets.
type Type int

const (
	TypeSimple Type = iota
	TypeComplex
	TypeNone
)

func (t Type) String() string {
	switch t {
	case TypeSimple:
		return "SIMPLE"
	case TypeComplex:
		return "COMPLEX"
	case TypeNone:
		return "NONE"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// ConversionType tells which side of a complex relationship can re-express
// prices in the other side's hub currency.
type ConversionType int

const (
	ConversionBuySide ConversionType = iota
	ConversionSellSide
	ConversionEitherSide
	ConversionNone
)

func (c ConversionType) String() string {
	switch c {
	case ConversionBuySide:
		return "BUY_SIDE"
	case ConversionSellSide:
		return "SELL_SIDE"
	case ConversionEitherSide:
		return "EITHER_SIDE"
	case ConversionNone:
		return "NONE"
	default:
		return fmt.Sprintf("ConversionType(%d)", int(c))
	}
}

func (c ConversionType) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// ParseType accepts the names produced by Type.String, case-insensitively.
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(s) {
	case "SIMPLE":
		return TypeSimple, nil
	case "COMPLEX":
		return TypeComplex, nil
	case "NONE":
		return TypeNone, nil
	}
	return TypeNone, fmt.Errorf("unknown arb type %q", s)
}

package model

import (
	"fmt"
	"time"
)

// InstructionType names the path an execution instruction follows.
type InstructionType int

const (
	InstructionDirect InstructionType = iota
	InstructionOriginConversion
	InstructionDestinationConversion
)

var instructionTypeNames = map[InstructionType]string{
	InstructionDirect:                "DIRECT",
	InstructionOriginConversion:      "ORIGIN_CONVERSION",
	InstructionDestinationConversion: "DESTINATION_CONVERSION",
}

func (t InstructionType) String() string {
	if s, ok := instructionTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("InstructionType(%d)", int(t))
}

// MarshalText encodes the type by name so JSON carries "DIRECT" rather than 0.
func (t InstructionType) MarshalText() ([]byte, error) {
	s, ok := instructionTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown instruction type %d", int(t))
	}
	return []byte(s), nil
}

func (t *InstructionType) UnmarshalText(b []byte) error {
	for k, v := range instructionTypeNames {
		if v == string(b) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown instruction type %q", string(b))
}

// ParseInstructionType maps a wire name ("DIRECT", ...) back to its type.
func ParseInstructionType(s string) (InstructionType, error) {
	var t InstructionType
	err := t.UnmarshalText([]byte(s))
	return t, err
}

// InitiationType tells downstream executors whether legs are placed as
// resting (maker) or crossing (taker) orders.
type InitiationType string

const (
	InitiationMaker InitiationType = "MAKER"
	InitiationTaker InitiationType = "TAKER"
)

// ExecutionOperation is one leg (buy, sell or convert) of a realizable trade.
type ExecutionOperation struct {
	Venue    string  `json:"venue"`
	Hub      string  `json:"hub"`
	Market   string  `json:"market"`
	Price    float64 `json:"price"`
	Duration int64   `json:"duration"` // VWAP window, milliseconds
}

// NewOperation builds an operation, converting the statistic window to milliseconds.
func NewOperation(venue, hub, market string, price float64, window time.Duration) ExecutionOperation {
	return ExecutionOperation{
		Venue:    venue,
		Hub:      hub,
		Market:   market,
		Price:    price,
		Duration: window.Milliseconds(),
	}
}

// ExecutionInstruction is the engine's output. Spread is a fraction of the
// buy-side cost. Values are recomputed on every price update, never mutated.
type ExecutionInstruction struct {
	ID      string              `json:"id"`
	Spread  float64             `json:"spread"`
	Type    InstructionType     `json:"type"`
	Buy     ExecutionOperation  `json:"buy"`
	Sell    ExecutionOperation  `json:"sell"`
	Convert *ExecutionOperation `json:"convert,omitempty"`
}

// Present reports whether the instruction carries an id and can be forwarded.
func (i ExecutionInstruction) Present() bool {
	return i.ID != ""
}

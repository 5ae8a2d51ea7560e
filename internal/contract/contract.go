// Package contract handles event symbol parsing and validation. An event
// symbol encodes the underlying pair and the settlement instant, e.g.
// BTC_USDT_25_Dec_2026_14_30: "does BTC/USDT print at or above the strike
// at 14:30 on 25 Dec 2026".
package contract

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// symbolRegex matches: {BASE}_{QUOTE}_{DD}_{Mon}_{YYYY}_{HH}_{MM}
// Example: BTC_USDT_25_Dec_2026_14_30
var symbolRegex = regexp.MustCompile(
	`^([A-Z0-9]+)_([A-Z0-9]+)_(\d{1,2})_([A-Z][a-z]{2})_(\d{4})_(\d{1,2})_(\d{1,2})$`,
)

var (
	ErrInvalidSymbol = errors.New("contract: invalid event symbol")
)

// Event is a parsed event symbol.
type Event struct {
	Symbol    string    `json:"symbol"`
	Base      string    `json:"base"`
	Quote     string    `json:"quote"`
	SettlesAt time.Time `json:"settles_at"`
}

// Parse parses and validates an event symbol.
// Format: {BASE}_{QUOTE}_{DD}_{Mon}_{YYYY}_{HH}_{MM}
func Parse(symbol string) (*Event, error) {
	matches := symbolRegex.FindStringSubmatch(symbol)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected BASE_QUOTE_DD_Mon_YYYY_HH_MM)",
			ErrInvalidSymbol, symbol)
	}

	settles, err := time.Parse("2_Jan_2006_15_4",
		fmt.Sprintf("%s_%s_%s_%s_%s", matches[3], matches[4], matches[5], matches[6], matches[7]))
	if err != nil {
		return nil, fmt.Errorf("%w: bad settlement time in %s", ErrInvalidSymbol, symbol)
	}

	return &Event{
		Symbol:    symbol,
		Base:      matches[1],
		Quote:     matches[2],
		SettlesAt: settles.UTC(),
	}, nil
}

// Validate reports whether the symbol is well-formed.
func Validate(symbol string) error {
	_, err := Parse(symbol)
	return err
}

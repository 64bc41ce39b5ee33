// Package candle defines the OHLCV bar shared by providers, the validator and the selector.
package candle

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is the bucket size of a candle (e.g. "1h", "1d").
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe1d  Timeframe = "1d"
	Timeframe1w  Timeframe = "1w"
)

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	switch tf {
	case Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe1d, Timeframe1w:
		return true
	}
	return false
}

// Candle is one OHLCV bar. Adapters construct it once per response and
// nothing mutates it afterwards.
type Candle struct {
	OpenTime time.Time       `json:"open_time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   int64           `json:"volume"`
}

// New builds a candle from float prices, as most JSON providers deliver them.
func New(openTime time.Time, open, high, low, close float64, volume int64) Candle {
	return Candle{
		OpenTime: openTime.UTC(),
		Open:     decimal.NewFromFloat(open),
		High:     decimal.NewFromFloat(high),
		Low:      decimal.NewFromFloat(low),
		Close:    decimal.NewFromFloat(close),
		Volume:   volume,
	}
}

// Raw is a candle whose numeric fields have not been parsed yet, e.g. a row
// read back from storage or a provider that encodes numbers as strings.
type Raw struct {
	OpenTime time.Time
	Open     string
	High     string
	Low      string
	Close    string
	Volume   string
}

// ParseError reports a field that could not be converted to a number.
type ParseError struct {
	Field string
	Value string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s %q: %v", e.Field, e.Value, e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Parse converts a Raw candle into a Candle. Volume may carry a fractional
// part ("1200.0"); it is truncated toward zero.
func Parse(r Raw) (Candle, error) {
	fields := []struct {
		name string
		val  string
		dst  *decimal.Decimal
	}{
		{"open", r.Open, new(decimal.Decimal)},
		{"high", r.High, new(decimal.Decimal)},
		{"low", r.Low, new(decimal.Decimal)},
		{"close", r.Close, new(decimal.Decimal)},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(strings.TrimSpace(f.val))
		if err != nil {
			return Candle{}, &ParseError{Field: f.name, Value: f.val, Cause: err}
		}
		*f.dst = d
	}

	vol, err := parseVolume(r.Volume)
	if err != nil {
		return Candle{}, &ParseError{Field: "volume", Value: r.Volume, Cause: err}
	}

	return Candle{
		OpenTime: r.OpenTime.UTC(),
		Open:     *fields[0].dst,
		High:     *fields[1].dst,
		Low:      *fields[2].dst,
		Close:    *fields[3].dst,
		Volume:   vol,
	}, nil
}

func parseVolume(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.IntPart(), nil
}

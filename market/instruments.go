// market/instruments.go
package market

import (
	"fmt"
	"math"
)

// InstrumentMeta carries the contract details sizing and stop placement
// depend on. Lots are standard lots of ContractSize base units.
type InstrumentMeta struct {
	Name          string
	BaseCurrency  string
	QuoteCurrency string
	PipLocation   int
	Digits        int
	ContractSize  float64
	MinLot        float64
	LotStep       float64
	MaxLot        float64

	// StopsLevel is the minimum distance, in points, between the market
	// price and a stop the broker will accept.
	StopsLevel int
}

var Instruments = map[string]InstrumentMeta{
	"EUR_USD": {
		Name:          "EUR_USD",
		BaseCurrency:  "EUR",
		QuoteCurrency: "USD",
		PipLocation:   -4,
		Digits:        5,
		ContractSize:  100_000,
		MinLot:        0.01,
		LotStep:       0.01,
		MaxLot:        100,
		StopsLevel:    10,
	},
	"GBP_USD": {
		Name:          "GBP_USD",
		BaseCurrency:  "GBP",
		QuoteCurrency: "USD",
		PipLocation:   -4,
		Digits:        5,
		ContractSize:  100_000,
		MinLot:        0.01,
		LotStep:       0.01,
		MaxLot:        100,
		StopsLevel:    10,
	},
	"USD_JPY": {
		Name:          "USD_JPY",
		BaseCurrency:  "USD",
		QuoteCurrency: "JPY",
		PipLocation:   -2,
		Digits:        3,
		ContractSize:  100_000,
		MinLot:        0.01,
		LotStep:       0.01,
		MaxLot:        100,
		StopsLevel:    10,
	},
}

func LookupInstrument(name string) (InstrumentMeta, error) {
	meta, ok := Instruments[name]
	if !ok {
		return InstrumentMeta{}, fmt.Errorf("unknown instrument %q", name)
	}
	return meta, nil
}

// Point is the smallest quoted price increment, e.g. 0.00001 for EUR_USD.
func (m InstrumentMeta) Point() float64 {
	return math.Pow10(-m.Digits)
}

// size of 1 pip in price units, e.g. EUR_USD: 0.0001, USD_JPY: 0.01
func (m InstrumentMeta) PipSize() float64 {
	return math.Pow10(m.PipLocation)
}

// MinStopDistance is StopsLevel expressed in price units.
func (m InstrumentMeta) MinStopDistance() float64 {
	return float64(m.StopsLevel) * m.Point()
}

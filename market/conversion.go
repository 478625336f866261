package market

import "fmt"

// QuoteToAccountRate returns the factor converting an amount in the
// instrument's quote currency into the account currency. mid is the
// instrument's current mid price, needed when the account currency is the
// base currency (USD_JPY in a USD account).
func QuoteToAccountRate(meta InstrumentMeta, accountCurrency string, mid float64) (float64, error) {
	// Case 1: quote currency == account currency (EUR_USD, GBP_USD, etc.)
	if meta.QuoteCurrency == accountCurrency {
		return 1.0, nil
	}

	// Case 2: account currency is base (USD_JPY, USD_CHF, etc.)
	if meta.BaseCurrency == accountCurrency {
		if mid <= 0 {
			return 0, fmt.Errorf("quote conversion for %s: no mid price", meta.Name)
		}
		// USD_JPY mid gives JPY per USD; we want USD per JPY
		return 1.0 / mid, nil
	}

	return 0, fmt.Errorf(
		"cross conversion not implemented for %s → %s",
		meta.QuoteCurrency,
		accountCurrency,
	)
}

// ValuePerLot is the account-currency value of a one-unit price move on
// one lot.
func ValuePerLot(meta InstrumentMeta, accountCurrency string, mid float64) (float64, error) {
	rate, err := QuoteToAccountRate(meta, accountCurrency, mid)
	if err != nil {
		return 0, err
	}
	return meta.ContractSize * rate, nil
}

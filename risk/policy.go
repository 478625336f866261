package risk

// Policy holds the account-level risk settings. Percentages are in
// percent, so 0.5 means half a percent.
type Policy struct {
	AccountCurrency string

	// BaseRiskPct is the equity risked on one new trade.
	BaseRiskPct float64
	// MaxDrawdownPct blocks new trades once drawdown from peak reaches it.
	MaxDrawdownPct float64
	// VaRPct is the base daily risk budget as a share of equity.
	VaRPct float64
	// MaxCorrelatedRiskMult caps combined same-direction risk as a
	// multiple of the base risk amount. The default of 1 holds the group
	// to a single trade's base risk.
	MaxCorrelatedRiskMult float64
}

func DefaultPolicy() Policy {
	return Policy{
		AccountCurrency:       "USD",
		BaseRiskPct:           0.5,
		MaxDrawdownPct:        10,
		VaRPct:                2,
		MaxCorrelatedRiskMult: 1,
	}
}

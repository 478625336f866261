package risk

import "fmt"

// Veto codes.
const (
	CodeDailyLoss   = "DAILY_LOSS_LIMIT"
	CodeMaxDrawdown = "MAX_DRAWDOWN"
	CodeVaR         = "VAR_LIMIT"
)

type Violation struct {
	Code string
	Msg  string
}

// Decision is the outcome of an admission check. A veto is a normal
// result, not an error.
type Decision struct {
	Allowed    bool
	Violations []Violation
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Codes lists the violation codes in order.
func (d Decision) Codes() []string {
	out := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		out = append(out, v.Code)
	}
	return out
}

// evaluate applies the three independent vetoes to s.
func evaluate(p Policy, s State) Decision {
	d := Decision{Allowed: true}

	dayLimit := 2 * p.BaseRiskPct / 100 * s.InitialEquity
	if s.DailyLoss >= dayLimit {
		d.add(CodeDailyLoss,
			fmt.Sprintf("daily loss %.2f >= limit %.2f", s.DailyLoss, dayLimit))
	}

	if s.CurrentDrawdownPct >= p.MaxDrawdownPct {
		d.add(CodeMaxDrawdown,
			fmt.Sprintf("drawdown %.2f%% >= max %.2f%%", s.CurrentDrawdownPct, p.MaxDrawdownPct))
	}

	if s.OpenRisk+s.DailyLoss > s.VaRLimit {
		d.add(CodeVaR,
			fmt.Sprintf("open risk %.2f + daily loss %.2f > VaR %.2f", s.OpenRisk, s.DailyLoss, s.VaRLimit))
	}

	return d
}

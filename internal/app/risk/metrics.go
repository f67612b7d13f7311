// Package risk computes the exact cash aggregates of a snapshot and the
// risk assessment the decision stage works from.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/finly-network/finly/internal/domain"
)

// NoOutflowCoverage is reported as burn-rate coverage when nothing is due.
const NoOutflowCoverage = 999

// ComputeMetrics derives the financial metrics. These numbers are the
// source of truth every later stage quotes.
func ComputeMetrics(s domain.Snapshot) domain.FinancialMetrics {
	var inflow, outflow int64
	for _, r := range s.Receivables {
		inflow += r.Amount
	}
	for _, ob := range s.Obligations() {
		outflow += ob.Amount
	}

	projected := s.CashBalance - outflow
	m := domain.FinancialMetrics{
		TotalInflow:      inflow,
		TotalOutflow:     outflow,
		ProjectedBalance: projected,
		LiquidityStatus:  domain.LiquiditySurplus,
		NetPosition:      s.CashBalance + inflow - outflow,
		BurnRateCoverage: NoOutflowCoverage,
	}
	if projected < 0 {
		m.LiquidityStatus = domain.LiquidityDeficit
	}
	if outflow > 0 {
		m.BurnRateCoverage = decimal.NewFromInt(s.CashBalance).
			Div(decimal.NewFromInt(outflow)).
			Round(2).
			InexactFloat64()
	}
	return m
}

// Scenario names.
const (
	ScenarioBest     = "best_case"
	ScenarioExpected = "expected_case"
	ScenarioWorst    = "worst_case"
)

// Simulate projects net cash under three collection outcomes. The expected
// case discounts each receivable by its client's risk modifier.
func Simulate(s domain.Snapshot, profiles map[string]domain.ClientTrustProfile) []domain.Scenario {
	cash := decimal.NewFromInt(s.CashBalance)
	var outflow int64
	for _, ob := range s.Obligations() {
		outflow += ob.Amount
	}
	base := cash.Sub(decimal.NewFromInt(outflow))

	all := decimal.Zero
	adjusted := decimal.Zero
	for _, r := range s.Receivables {
		amt := decimal.NewFromInt(r.Amount)
		all = all.Add(amt)

		modifier := 1.0
		if p, ok := profiles[r.ClientID]; ok && p.RiskModifier > 0 {
			modifier = p.RiskModifier
		}
		adjusted = adjusted.Add(amt.DivRound(decimal.NewFromFloat(modifier), 4))
	}

	return []domain.Scenario{
		{Name: ScenarioBest, Description: "All clients pay on time", NetCash: base.Add(all).Round(2).InexactFloat64()},
		{Name: ScenarioExpected, Description: "Risk-adjusted by client payment history", NetCash: base.Add(adjusted).Round(2).InexactFloat64()},
		{Name: ScenarioWorst, Description: "No receivable arrives before obligations fall due", NetCash: base.Round(2).InexactFloat64()},
	}
}

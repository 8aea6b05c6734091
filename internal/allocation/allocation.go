// Package allocation computes per-participant balances from an initial
// allocation and accumulated cost. Pure functions, no I/O.
package allocation

import "github.com/shopspring/decimal"

// Split is the pair of allocations after applying accrued cost to the
// initial allocation.
type Split struct {
	Participant  decimal.Decimal
	Counterparty decimal.Decimal
}

// CurrentBalance returns what remains of the initial allocation after
// totalCost has been spent. It clamps at zero instead of failing: the value
// is derived for display and accounting, not a gate.
func CurrentBalance(initial, totalCost decimal.Decimal) decimal.Decimal {
	balance := initial.Sub(totalCost)
	if balance.IsNegative() {
		return decimal.Zero
	}
	return balance
}

// SettlementSplit divides the initial allocation between the two parties.
// As long as totalCost <= initial (the enforced cap), the two amounts sum to
// exactly the initial allocation - conservation of funds.
func SettlementSplit(initial, totalCost decimal.Decimal) Split {
	participant := initial.Sub(totalCost)
	if participant.IsNegative() {
		participant = decimal.Zero
	}

	counterparty := totalCost
	if counterparty.GreaterThan(initial) {
		counterparty = initial
	}

	return Split{Participant: participant, Counterparty: counterparty}
}

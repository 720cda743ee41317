package engine

import (
	"sort"

	"risk-manager/internal/types"
)

// ledger is the in-memory position view. It is a performance cache over
// the durable fills record; reconciliation treats the store as
// authoritative. Access is serialized by the engine mutex.
type ledger struct {
	positions map[string]*types.Position
}

func newLedger() *ledger {
	return &ledger{positions: make(map[string]*types.Position)}
}

// applyFill updates the net position for the fill's symbol. BUY fills
// blend the average price as a quantity-weighted cost; SELL fills reduce
// quantity but keep the average price unchanged (cost basis is not
// reduced on partial exits). A position that returns to exactly zero
// quantity is removed.
func (l *ledger) applyFill(f types.Fill) {
	p, ok := l.positions[f.Symbol]
	if !ok {
		p = &types.Position{Symbol: f.Symbol}
		l.positions[f.Symbol] = p
	}

	switch f.Action {
	case "BUY":
		newQty := p.Quantity + f.Quantity
		if newQty == 0 {
			delete(l.positions, f.Symbol)
			return
		}
		total := p.AveragePrice*float64(p.Quantity) + f.Price*float64(f.Quantity)
		p.Quantity = newQty
		p.AveragePrice = total / float64(newQty)
	case "SELL":
		p.Quantity -= f.Quantity
		if p.Quantity == 0 {
			delete(l.positions, f.Symbol)
			return
		}
		if p.AveragePrice == 0 {
			// First fill for the symbol opened a short.
			p.AveragePrice = f.Price
		}
	}
}

// get returns a zero-valued position for unknown symbols; it never fails.
func (l *ledger) get(symbol string) types.Position {
	if p, ok := l.positions[symbol]; ok {
		return *p
	}
	return types.Position{Symbol: symbol}
}

func (l *ledger) all() []types.Position {
	out := make([]types.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (l *ledger) totalExposure() float64 {
	var total float64
	for _, p := range l.positions {
		total += p.Exposure()
	}
	return total
}

// discrepancy records one correction made during reconciliation.
type discrepancy struct {
	Symbol  string
	Memory  types.Position
	Durable types.Position // zero-valued when the symbol was dropped
	Dropped bool
}

// reconcile overwrites the in-memory view with the durable one. Symbols
// that differ are corrected, and symbols present only in memory are
// dropped. The returned list describes every correction made.
func (l *ledger) reconcile(durable map[string]types.Position) []discrepancy {
	var fixes []discrepancy

	for symbol, mem := range l.positions {
		d, ok := durable[symbol]
		if !ok {
			fixes = append(fixes, discrepancy{Symbol: symbol, Memory: *mem, Dropped: true})
			delete(l.positions, symbol)
			continue
		}
		if mem.Quantity != d.Quantity || mem.AveragePrice != d.AveragePrice {
			fixes = append(fixes, discrepancy{Symbol: symbol, Memory: *mem, Durable: d})
			cp := d
			l.positions[symbol] = &cp
		}
	}
	for symbol, d := range durable {
		if _, ok := l.positions[symbol]; !ok {
			fixes = append(fixes, discrepancy{Symbol: symbol, Durable: d})
			cp := d
			l.positions[symbol] = &cp
		}
	}
	return fixes
}

// snapshotPositions returns value copies keyed by symbol for rule
// evaluation.
func (l *ledger) snapshotPositions() map[string]types.Position {
	out := make(map[string]types.Position, len(l.positions))
	for symbol, p := range l.positions {
		out[symbol] = *p
	}
	return out
}

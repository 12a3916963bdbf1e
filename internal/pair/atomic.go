package pair

import "PairLedger/internal/event"

// atomic runs fn as one transaction: on error the pair state, the vault
// and the pending events are restored to what they were before fn ran.
// Nested calls (operations invoked from cook) join the outer transaction.
//
// The vault journal owns the transaction. When another contract's
// transaction is already open on it (a cook CALL into this pair), the
// commit is provisional: the state is restored if that transaction
// reverts, and events are published only once it commits.
func (p *Pair) atomic(op string, fn func() error) error {
	if p.depth > 0 {
		p.depth++
		defer func() { p.depth-- }()
		return fn()
	}

	j := p.vault()
	saved := p.st.clone()
	snap := j.Snapshot()
	p.pending = p.pending[:0]
	p.depth = 1

	err := fn()
	p.depth = 0

	if err != nil {
		p.st = saved
		j.RevertToSnapshot(snap)
		p.pending = p.pending[:0]
		if m := p.metrics(); m != nil {
			m.PairTxReverted.WithLabelValues(p.address.Hex(), op, KindOf(err).String()).Inc()
		}
		p.log.Debug().Str("op", op).Err(err).Msg("transaction reverted")
		return err
	}

	events := p.pending
	p.pending = nil
	j.DiscardSnapshot(snap)
	j.OnRevert(func() {
		p.st = saved
		p.log.Debug().Str("op", op).Msg("enclosing transaction reverted")
	})
	j.OnCommit(func() {
		p.publish(events)
		p.observe()
	})
	return nil
}

func (p *Pair) emit(e event.Event) {
	p.pending = append(p.pending, e)
}

// flush hands pending events to the sink in emission order.
func (p *Pair) flush() {
	events := p.pending
	p.pending = nil
	p.publish(events)
}

func (p *Pair) publish(events []event.Event) {
	if p.env.Sink == nil {
		return
	}
	for _, e := range events {
		p.env.Sink.Emit(e)
	}
}

// observe publishes the pair gauges after a committed transaction.
func (p *Pair) observe() {
	m := p.metrics()
	if m == nil {
		return
	}
	label := p.address.Hex()
	m.PairInterestPerSecond.WithLabelValues(label).Set(float64(p.st.accrue.InterestPerSecond))
	m.PairTotalBorrow.WithLabelValues(label).Set(p.st.totalBorrow.Elastic.Float64())
	m.PairTotalAsset.WithLabelValues(label).Set(p.st.totalAsset.Elastic.Float64())
	m.PairExchangeRate.WithLabelValues(label).Set(p.st.exchangeRate.Float64())
	if u := p.utilization(); u != nil {
		m.PairUtilization.WithLabelValues(label).Set(u.Float64() / ExchangeRatePrecision)
	}
}

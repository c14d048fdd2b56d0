package mempool

// failoverCoordinator moves a peer to an alternate network instance once
// its active instance has failed threshold consecutive times.
type failoverCoordinator struct {
	threshold int
}

// maybeFailover switches p to its next untried instance, in round-robin
// order after the active one, when the active instance crossed the
// threshold. The new instance starts Idle from the old instance's cursor;
// the old instance keeps its backoff. It reports whether p switched. With
// every instance tried, p stays on its active instance.
func (f failoverCoordinator) maybeFailover(p *peerState) bool {
	cur := p.current()
	if cur.failures < f.threshold {
		return false
	}

	n := len(p.instances)
	for i := 1; i < n; i++ {
		next := (p.active + i) % n
		if p.tried[next] {
			continue
		}

		p.tried[next] = true
		p.instances[next].reset(cur.cursor.Clone())
		p.active = next
		return true
	}

	return false
}

// succeeded clears the tried set after an acknowledged batch so that a
// later failure streak may fail over again.
func (f failoverCoordinator) succeeded(p *peerState) {
	for i := range p.tried {
		p.tried[i] = i == p.active
	}
}

package progress

// RecentSeconds sums the time spent in range i over the stored history plus
// the interval in progress.
func (e *Engine) RecentSeconds(i int) float64 {
	if i < 0 || i >= len(e.current) {
		return 0
	}
	sum := e.current[i]
	for _, ev := range e.history.valid() {
		if i < len(ev.Seconds) {
			sum += ev.Seconds[i]
		}
	}
	return sum
}

// RecentCount counts stored dispenses triggered from range i.
func (e *Engine) RecentCount(i int) int {
	n := 0
	for _, ev := range e.history.valid() {
		if ev.RangeIndex == i {
			n++
		}
	}
	return n
}

// RecentTotalSeconds sums RecentSeconds over all ranges.
func (e *Engine) RecentTotalSeconds() float64 {
	total := 0.0
	for i := range e.current {
		total += e.RecentSeconds(i)
	}
	return total
}

// UsagePercent is the share of recent riding time spent in range i.
func (e *Engine) UsagePercent(i int) float64 {
	total := e.RecentTotalSeconds()
	if total <= 0 {
		return 0
	}
	return e.RecentSeconds(i) / total * 100
}

// HistoryLen returns the number of stored events.
func (e *Engine) HistoryLen() int {
	return len(e.history.valid())
}

package progress

// HistorySize is the number of dispense events kept for statistics.
const HistorySize = 20

// Event is one history entry: the range that triggered the dispense and the
// seconds spent in every range since the previous dispense.
type Event struct {
	RangeIndex int       `yaml:"range_index" json:"rangeIndex"`
	Seconds    []float64 `yaml:"seconds" json:"seconds"`
}

// History is a fixed-capacity ring buffer. It only feeds read-side
// statistics and never influences triggering.
type History struct {
	Head    int                `yaml:"head" json:"head"`
	Count   int                `yaml:"count" json:"count"`
	Entries [HistorySize]Event `yaml:"entries" json:"entries"`
}

// NewHistory returns an empty buffer with every slot marked unused.
func NewHistory() History {
	var h History
	for i := range h.Entries {
		h.Entries[i].RangeIndex = -1
	}
	return h
}

// Push stores an entry at Head and advances it, overwriting the oldest once
// the buffer is full.
func (h *History) Push(e Event) {
	if h.Head < 0 || h.Head >= HistorySize {
		h.Head = 0
	}
	h.Entries[h.Head] = e
	h.Head = (h.Head + 1) % HistorySize
	if h.Count < HistorySize {
		h.Count++
	}
}

func (h *History) valid() []Event {
	n := h.Count
	if n > HistorySize {
		n = HistorySize
	}
	if n < 0 {
		n = 0
	}
	// Slots [0, n) are exactly the filled ones: the buffer fills from 0 and,
	// once full, n covers the whole array.
	return h.Entries[:n]
}

package session

const (
	maxHistoryRows = 200
	speakerUser    = "user"
)

type HistoryRow struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// history is a bounded transcript; the oldest rows fall off first.
type history struct {
	limit int
	rows  []HistoryRow
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = maxHistoryRows
	}
	return &history{limit: limit, rows: make([]HistoryRow, 0, 16)}
}

func (h *history) appendUser(text string) {
	h.append(HistoryRow{Speaker: speakerUser, Text: text})
}

func (h *history) appendLine(speaker, text string) {
	h.append(HistoryRow{Speaker: speaker, Text: text})
}

func (h *history) append(row HistoryRow) {
	if len(h.rows) >= h.limit {
		copy(h.rows, h.rows[1:])
		h.rows = h.rows[:len(h.rows)-1]
	}
	h.rows = append(h.rows, row)
}

func (h *history) snapshot() []HistoryRow {
	out := make([]HistoryRow, len(h.rows))
	copy(out, h.rows)
	return out
}

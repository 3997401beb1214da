package stats

import "time"

func (r *SessionRecord) applyOpened(at time.Time) {
	if r.FirstOpened.IsZero() {
		r.FirstOpened = at
	}
	r.LastOpened = at
	r.Opens++
	r.CloseReason = ""
}

func (r *SessionRecord) applyActivity(a Activity) {
	r.Reconciliations += a.Reconciliations
	r.Resets += a.Resets
	r.BytesDelivered += a.Bytes
	r.LinesDelivered += a.Lines
	if a.Subscribers > r.PeakSubscribers {
		r.PeakSubscribers = a.Subscribers
	}
}

func (r *SessionRecord) applyClosed(at time.Time, reason string, err error) {
	r.LastClosed = at
	r.CloseReason = reason
	if err != nil {
		r.LastError = err.Error()
	}
}

// lastActivity is the later of the last open and close.
func (r *SessionRecord) lastActivity() time.Time {
	if r.LastClosed.After(r.LastOpened) {
		return r.LastClosed
	}
	return r.LastOpened
}

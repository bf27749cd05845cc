package classify

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// lateMinutes is the lateness tolerated before a notification is flagged.
	lateMinutes    = 15
	halfDayMinutes = 12 * 60
)

// timing computes lateness for a specific-train message. It returns nil when
// the delta is not computable: wrong type, a status without a departure
// reference, no declared time, no delay minutes or no send time.
func (c *Classifier) timing(in Input, typ MessageType, e Extraction) *Timing {
	if typ != TypeTrain || e.Time == "" || in.SentAt.IsZero() {
		return nil
	}
	if e.Status == nil {
		return nil
	}
	switch e.Status.Name {
	case StatusReduced, StatusInterrupted, StatusConditional, StatusRestored:
		return nil
	}
	cancel := e.Status.Name == StatusCancel || e.Status.Name == StatusSuspend
	if !cancel && e.Status.Minutes == 0 {
		return nil
	}

	hh, mm, ok := splitClock(e.Time)
	if !ok {
		return nil
	}

	sent := in.SentAt.In(c.loc)
	ref := time.Date(sent.Year(), sent.Month(), sent.Day(), hh, mm, 0, 0, c.loc)
	delay := 0
	if !cancel {
		delay = e.Status.Minutes
		ref = ref.Add(time.Duration(delay) * time.Minute)
	}

	delta := sent.Sub(ref).Minutes()
	// the declared time carries no date, pick the nearest occurrence
	for delta > halfDayMinutes {
		delta -= 2 * halfDayMinutes
	}
	for delta <= -halfDayMinutes {
		delta += 2 * halfDayMinutes
	}

	return &Timing{
		LatenessMinutes: math.Round(delta*10) / 10,
		Declared:        e.Time,
		DelayMinutes:    delay,
		Reference:       ref.Format("15:04"),
		Sent:            sent.Format("15:04:05"),
		Cancellation:    cancel,
	}
}

func timingFindings(t *Timing) []Finding {
	if t == nil {
		return nil
	}
	if t.LatenessMinutes <= lateMinutes {
		return nil
	}
	return []Finding{newFinding("notificacion_tardia", int(math.Round(t.LatenessMinutes)))}
}

func splitClock(s string) (int, int, bool) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, false
	}
	hh, err1 := strconv.Atoi(h)
	mm, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return hh, mm, true
}

// Package clock computes authoritative elapsed/remaining/grace time for an
// attempt. The server is the source of truth: clients may run a display-only
// countdown between polls but must reconcile with the values computed here.
package clock

import (
	"time"
)

type WarningLevel string

const (
	WarningNone     WarningLevel = "none"
	WarningNotice   WarningLevel = "notice"
	WarningWarning  WarningLevel = "warning"
	WarningCritical WarningLevel = "critical"
	WarningEnded    WarningLevel = "ended"
)

// Warning thresholds in seconds of remaining time.
const (
	noticeThreshold   = 600
	warningThreshold  = 300
	criticalThreshold = 60
)

// TimeStatus is derived deterministically from (now, started_at, duration,
// grace) and never persisted.
type TimeStatus struct {
	RemainingSeconds      int          `json:"remaining_seconds"`
	GraceRemainingSeconds int          `json:"grace_remaining_seconds"`
	ElapsedSeconds        int          `json:"elapsed_seconds"`
	WarningLevel          WarningLevel `json:"warning_level"`
	InGracePeriod         bool         `json:"in_grace_period"`
	TestEnded             bool         `json:"test_ended"`
}

// Severity orders warning levels so pollers can detect upward transitions.
func (w WarningLevel) Severity() int {
	switch w {
	case WarningNotice:
		return 1
	case WarningWarning:
		return 2
	case WarningCritical:
		return 3
	case WarningEnded:
		return 4
	}
	return 0
}

// Compute returns the time status for an attempt started at startedAt with the
// given nominal duration and grace period. It is a pure function of its
// arguments: RemainingSeconds is non-increasing in now, and once TestEnded is
// true it stays true for any later now.
func Compute(now, startedAt time.Time, durationMinutes, graceSeconds int) TimeStatus {
	elapsed := int(now.Sub(startedAt).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}
	limit := durationMinutes * 60

	st := TimeStatus{ElapsedSeconds: elapsed}

	if elapsed < limit {
		st.RemainingSeconds = limit - elapsed
		st.WarningLevel = levelFor(st.RemainingSeconds)
		return st
	}

	overtime := elapsed - limit
	if overtime < graceSeconds {
		st.InGracePeriod = true
		st.GraceRemainingSeconds = graceSeconds - overtime
		st.WarningLevel = WarningCritical
		return st
	}

	st.TestEnded = true
	st.WarningLevel = WarningEnded
	return st
}

func levelFor(remaining int) WarningLevel {
	switch {
	case remaining <= criticalThreshold:
		return WarningCritical
	case remaining <= warningThreshold:
		return WarningWarning
	case remaining <= noticeThreshold:
		return WarningNotice
	default:
		return WarningNone
	}
}

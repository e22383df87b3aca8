package regime

import "time"

// Thresholds collects the tuning constants of the regime engine. They have
// been retuned before and are expected to be again, so they are injected
// rather than hardcoded at call sites.
type Thresholds struct {
	// SnoozeResumeWindow: a snooze that expired less than this long ago
	// auto-resumes a fresh fasting window; older snoozes are dropped.
	SnoozeResumeWindow time.Duration
	// ManualEndHold: after a manual end/skip/snooze, the regime keeps
	// reporting eating for this long even if the declared schedule still
	// covers the ended window.
	ManualEndHold time.Duration
	// SkipCutoff: a regime fast abandoned within this much of its start is
	// recorded as skipped rather than earlyEnd.
	SkipCutoff time.Duration
	// RecordedMarkerSlack: a ledger recorded-window marker within this much
	// of a window's end blocks a second auto-record.
	RecordedMarkerSlack time.Duration
	// DuplicateProximity: an existing session whose start and end are both
	// within this much of a window's boundaries counts as that window.
	DuplicateProximity time.Duration
	// EarlyEndPromptRatio: below this fraction of target, an ended session
	// qualifies for the continue-previous-fast prompt.
	EarlyEndPromptRatio float64
	// ContinueWindow: how long after ending the continue-previous-fast
	// prompt stays available.
	ContinueWindow time.Duration
	// StaleGrace: an active session this far past its target duration is
	// treated as orphaned and routed to recovery.
	StaleGrace time.Duration
	// RecordRetryDelay: pause before the single auto-record retry.
	RecordRetryDelay time.Duration
	// MissedWindowLookback: how far back the first observation of a plan
	// searches for a window that completed while nobody was watching.
	MissedWindowLookback time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		SnoozeResumeWindow:   5 * time.Minute,
		ManualEndHold:        time.Hour,
		SkipCutoff:           time.Hour,
		RecordedMarkerSlack:  60 * time.Second,
		DuplicateProximity:   5 * time.Minute,
		EarlyEndPromptRatio:  0.25,
		ContinueWindow:       60 * time.Minute,
		StaleGrace:           24 * time.Hour,
		RecordRetryDelay:     2 * time.Second,
		MissedWindowLookback: 48 * time.Hour,
	}
}

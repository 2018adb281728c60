// this file reconciles distributed playback time reports into one clock
package main

import "time"

// TimeReport is one device's claim about the current playback position.
type TimeReport struct {
	Value      float64
	ReporterID string // connection id of the reporter
	At         time.Time
}

// ClockReconciler merges time-update reports into a single authoritative
// playback position. Only the designated source (normally the device
// rendering audio) may move the clock; everyone else just contributes an
// observed-drift measurement. Without this split every client's optimistic
// local echo would fight over the shared clock.
//
// Applied updates are rate limited per source. Reports arriving inside the
// interval are coalesced, last value wins, and the survivor is applied on
// the next Flush.
type ClockReconciler struct {
	interval    time.Duration
	sourceID    string
	lastApplied time.Time
	pending     *TimeReport
	drift       float64

	now func() time.Time
}

func NewClockReconciler(interval time.Duration) *ClockReconciler {
	return &ClockReconciler{
		interval: interval,
		now:      time.Now,
	}
}

// SetSource designates the connection whose reports move the clock.
func (c *ClockReconciler) SetSource(connectionID string) {
	c.sourceID = connectionID
	c.pending = nil
}

func (c *ClockReconciler) SourceID() string { return c.sourceID }

// ClearSource drops the designation, e.g. when the source disconnects.
func (c *ClockReconciler) ClearSource(connectionID string) {
	if c.sourceID == connectionID {
		c.sourceID = ""
		c.pending = nil
	}
}

// Observe feeds one report into the reconciler. It returns the new clock
// value and whether the report was applied. current is the clock's present
// value; regressions while playing are recorded as drift, never applied.
func (c *ClockReconciler) Observe(report TimeReport, current float64, isPlaying bool) (float64, bool) {
	if c.sourceID == "" || report.ReporterID != c.sourceID {
		c.drift = report.Value - current
		return current, false
	}
	if isPlaying && report.Value < current {
		c.drift = report.Value - current
		return current, false
	}
	if c.now().Sub(c.lastApplied) < c.interval {
		r := report
		c.pending = &r
		return current, false
	}
	c.lastApplied = c.now()
	c.pending = nil
	return report.Value, true
}

// Flush applies a coalesced report once the rate-limit interval has passed.
// Called periodically by the session worker.
func (c *ClockReconciler) Flush(current float64, isPlaying bool) (float64, bool) {
	if c.pending == nil || c.now().Sub(c.lastApplied) < c.interval {
		return current, false
	}
	report := *c.pending
	c.pending = nil
	if isPlaying && report.Value < current {
		c.drift = report.Value - current
		return current, false
	}
	c.lastApplied = c.now()
	return report.Value, true
}

// ObservedDrift reports the last measured gap between a rejected report and
// the authoritative clock, in seconds.
func (c *ClockReconciler) ObservedDrift() float64 { return c.drift }

// Package leakage hard-blocks future data from contaminating a decision:
// no field present in a record may be one that only exists after the race
// is run, and no data row may carry a timestamp later than the decision
// timestamp. Grounded on app/ml/leakage_firewall.py.
package leakage

import (
	"sort"
	"time"

	"github.com/racelock/veloengine/internal/errs"
)

// DefaultBlockedFields lists field names that only exist post-race and must
// never reach a pre-race feature set.
var DefaultBlockedFields = []string{
	"pos", "pos_num", "sp", "bfsp",
	"in_running_low", "in_running_high",
	"result", "finish_time", "winner", "placed",
}

// Firewall enforces the blocked-field and timestamp-bound contract.
type Firewall struct {
	blocked map[string]struct{}
}

// New builds a Firewall seeded with DefaultBlockedFields plus any extra
// fields supplied by a feature schema.
func New(extra ...string) *Firewall {
	set := make(map[string]struct{}, len(DefaultBlockedFields)+len(extra))
	for _, f := range DefaultBlockedFields {
		set[f] = struct{}{}
	}
	for _, f := range extra {
		set[f] = struct{}{}
	}
	return &Firewall{blocked: set}
}

// ColumnCheck reports which of a feature set's field names are blocked vs
// allowed, both sorted for deterministic audit output.
type ColumnCheck struct {
	Blocked []string
	Allowed []string
}

// CheckColumns partitions fields into blocked/allowed against the firewall.
func (f *Firewall) CheckColumns(fields []string) ColumnCheck {
	var blocked, allowed []string
	for _, field := range fields {
		if _, bad := f.blocked[field]; bad {
			blocked = append(blocked, field)
		} else {
			allowed = append(allowed, field)
		}
	}
	sort.Strings(blocked)
	sort.Strings(allowed)
	return ColumnCheck{Blocked: blocked, Allowed: allowed}
}

// ValidateColumns fails fast (returns an error) when strict and any blocked
// field is present; in non-strict mode it returns false instead of erroring.
func (f *Firewall) ValidateColumns(fields []string, strict bool) (bool, error) {
	check := f.CheckColumns(fields)
	if len(check.Blocked) == 0 {
		return true, nil
	}
	if strict {
		return false, errs.New(errs.InvalidProfile, "leakage detected: blocked fields present", map[string]any{
			"blocked_fields": check.Blocked,
		})
	}
	return false, nil
}

// ValidateTimestamps fails fast when strict and any timestamp exceeds
// decisionTime; non-strict mode returns false without an error.
func (f *Firewall) ValidateTimestamps(timestamps []time.Time, decisionTime time.Time, strict bool) (bool, error) {
	futureCount := 0
	for _, ts := range timestamps {
		if ts.After(decisionTime) {
			futureCount++
		}
	}
	if futureCount == 0 {
		return true, nil
	}
	if strict {
		return false, errs.New(errs.InvalidProfile, "leakage detected: timestamps after decision time", map[string]any{
			"future_rows":       futureCount,
			"decision_timestamp": decisionTime,
		})
	}
	return false, nil
}

// CleanRow returns a copy of row with every blocked field removed.
func (f *Firewall) CleanRow(row map[string]any) map[string]any {
	clean := make(map[string]any, len(row))
	for k, v := range row {
		if _, bad := f.blocked[k]; bad {
			continue
		}
		clean[k] = v
	}
	return clean
}

// AuditLog is the per-check evidence bundle recorded alongside each
// EngineRun (C13) for after-the-fact inspection.
type AuditLog struct {
	GeneratedAt        time.Time
	DecisionTimestamp  *time.Time
	TotalFields        int
	ColumnCheck        ColumnCheck
	BlockedFieldsConfig []string
	FutureRows         *int
	TimestampsValid    *bool
}

// BuildAuditLog assembles the audit record for a single check.
func (f *Firewall) BuildAuditLog(fields []string, timestamps []time.Time, decisionTime *time.Time, now time.Time) AuditLog {
	cfg := make([]string, 0, len(f.blocked))
	for k := range f.blocked {
		cfg = append(cfg, k)
	}
	sort.Strings(cfg)

	audit := AuditLog{
		GeneratedAt:         now,
		DecisionTimestamp:   decisionTime,
		TotalFields:         len(fields),
		ColumnCheck:         f.CheckColumns(fields),
		BlockedFieldsConfig: cfg,
	}

	if decisionTime != nil && len(timestamps) > 0 {
		future := 0
		for _, ts := range timestamps {
			if ts.After(*decisionTime) {
				future++
			}
		}
		valid := future == 0
		audit.FutureRows = &future
		audit.TimestampsValid = &valid
	}

	return audit
}

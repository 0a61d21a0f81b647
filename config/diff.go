package config

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/samber/lo"

	"go.mycodo.org/mycodo/input"
	"go.mycodo.org/mycodo/method"
	"go.mycodo.org/mycodo/output"
	"go.mycodo.org/mycodo/pid"
)

// SectionDiff lists the ids added, modified and removed in one section of the configuration.
type SectionDiff struct {
	Added    []string
	Modified []string
	Removed  []string
}

// Empty reports whether nothing changed.
func (d SectionDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0
}

// A Diff is the difference between two configs, left and right, where left is usually old and
// right is new.
type Diff struct {
	Left, Right *Config
	Outputs     SectionDiff
	Inputs      SectionDiff
	Methods     SectionDiff
	PIDs        SectionDiff
	// DaemonEqual is false when the daemon settings changed. Those only apply on restart, except
	// log patterns.
	DaemonEqual bool
}

// Equal reports whether the configs are the same.
func (d *Diff) Equal() bool {
	return d.DaemonEqual && d.Outputs.Empty() && d.Inputs.Empty() && d.Methods.Empty() && d.PIDs.Empty()
}

// DiffConfigs returns the difference between the two given configs from left to right.
func DiffConfigs(left, right *Config) *Diff {
	return &Diff{
		Left:  left,
		Right: right,
		Outputs: diffSection(left.Outputs, right.Outputs, func(o output.Config) string {
			return o.ID
		}),
		Inputs: diffSection(left.Inputs, right.Inputs, func(in input.Config) string {
			return in.ID
		}),
		Methods: diffSection(
			lo.Compact(left.Methods), lo.Compact(right.Methods), func(m *method.Method) string { return m.ID },
		),
		PIDs: diffSection(left.PIDs, right.PIDs, func(p pid.Config) string {
			return p.ID
		}),
		DaemonEqual: cmp.Equal(left.Daemon, right.Daemon, cmpopts.EquateEmpty()),
	}
}

// If left contains something right does not => removed.
// If right contains something left does not => added.
// If both contain it and they are not equal => modified. Nil and empty collections are equal.
func diffSection[T any](left, right []T, id func(T) string) SectionDiff {
	var diff SectionDiff
	leftByID := lo.KeyBy(left, id)
	rightByID := lo.KeyBy(right, id)
	for _, l := range left {
		r, ok := rightByID[id(l)]
		switch {
		case !ok:
			diff.Removed = append(diff.Removed, id(l))
		case !cmp.Equal(l, r, cmpopts.EquateEmpty()):
			diff.Modified = append(diff.Modified, id(l))
		}
	}
	for _, r := range right {
		if _, ok := leftByID[id(r)]; !ok {
			diff.Added = append(diff.Added, id(r))
		}
	}
	return diff
}

// PIDsUsingMethods returns the PIDs of right tracking one of the given methods.
func (d *Diff) PIDsUsingMethods(methodIDs []string) []string {
	return lo.FilterMap(d.Right.PIDs, func(p pid.Config, _ int) (string, bool) {
		return p.ID, p.Tracking() == pid.TrackMethod && lo.Contains(methodIDs, p.SetpointTrackingID)
	})
}

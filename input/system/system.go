// Package system reports host load, memory and disk usage as input measurements.
package system

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/multierr"

	"go.mycodo.org/mycodo/input"
	"go.mycodo.org/mycodo/logging"
	"go.mycodo.org/mycodo/options"
)

// ModelName is the registered model name.
const ModelName = "system"

// Measurement ids.
const (
	CPUPercent    = "cpu_percent"
	MemoryPercent = "memory_percent"
	Load1         = "load_1m"
	Load5         = "load_5m"
	Load15        = "load_15m"
	DiskFree      = "disk_free"
)

const bytesPerMB = 1 << 20

func init() {
	input.RegisterModel(input.Model{
		Name:        ModelName,
		Description: "host cpu, load, memory and disk usage",
		Measurements: []input.Measurement{
			{ID: CPUPercent, Unit: "percent"},
			{ID: MemoryPercent, Unit: "percent"},
			{ID: Load1},
			{ID: Load5},
			{ID: Load15},
			{ID: DiskFree, Unit: "MB"},
		},
		Schema: options.Schema{
			{ID: "path", Name: "Disk path", Type: options.Text, Default: "/"},
		},
		Constructor: func(ctx context.Context, cfg input.Config, opts options.Values, logger logging.Logger) (input.Sensor, error) {
			path, _ := opts["path"].(string)
			return New(path), nil
		},
	})
}

// Stats is where a Sensor gets its numbers from.
type Stats interface {
	CPUPercent(ctx context.Context) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
	Load(ctx context.Context) (*load.AvgStat, error)
	DiskFree(ctx context.Context, path string) (uint64, error)
}

// Sensor reads host statistics.
type Sensor struct {
	path  string
	stats Stats
}

// New returns a Sensor reporting free space of the filesystem holding path.
func New(path string) *Sensor {
	return NewWithStats(path, hostStats{})
}

// NewWithStats returns a Sensor reading from stats.
func NewWithStats(path string, stats Stats) *Sensor {
	if path == "" {
		path = "/"
	}
	return &Sensor{path: path, stats: stats}
}

// Readings implements input.Sensor. Statistics that cannot be read are left out; an error is
// returned only when none could be read.
func (s *Sensor) Readings(ctx context.Context) (map[string]float64, error) {
	out := map[string]float64{}
	var errs error
	if v, err := s.stats.CPUPercent(ctx); err == nil {
		out[CPUPercent] = v
	} else {
		errs = multierr.Append(errs, errors.Wrap(err, "cpu"))
	}
	if v, err := s.stats.MemoryPercent(ctx); err == nil {
		out[MemoryPercent] = v
	} else {
		errs = multierr.Append(errs, errors.Wrap(err, "memory"))
	}
	if avg, err := s.stats.Load(ctx); err == nil {
		out[Load1], out[Load5], out[Load15] = avg.Load1, avg.Load5, avg.Load15
	} else {
		errs = multierr.Append(errs, errors.Wrap(err, "load"))
	}
	if free, err := s.stats.DiskFree(ctx, s.path); err == nil {
		out[DiskFree] = float64(free) / bytesPerMB
	} else {
		errs = multierr.Append(errs, errors.Wrapf(err, "disk %s", s.path))
	}
	if len(out) == 0 {
		return nil, errs
	}
	return out, nil
}

// Close implements input.Sensor.
func (s *Sensor) Close(ctx context.Context) error {
	return nil
}

type hostStats struct{}

func (hostStats) CPUPercent(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, errors.New("no cpu statistics")
	}
	return pct[0], nil
}

func (hostStats) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func (hostStats) Load(ctx context.Context) (*load.AvgStat, error) {
	return load.AvgWithContext(ctx)
}

func (hostStats) DiskFree(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

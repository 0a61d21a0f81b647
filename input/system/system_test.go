package system_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/load"
	"go.viam.com/test"

	"go.mycodo.org/mycodo/input/system"
)

type fakeStats struct {
	fail bool
}

func (f fakeStats) CPUPercent(ctx context.Context) (float64, error) {
	if f.fail {
		return 0, errors.New("no /proc")
	}
	return 12.5, nil
}

func (f fakeStats) MemoryPercent(ctx context.Context) (float64, error) {
	if f.fail {
		return 0, errors.New("no /proc")
	}
	return 40, nil
}

func (f fakeStats) Load(ctx context.Context) (*load.AvgStat, error) {
	if f.fail {
		return nil, errors.New("no /proc")
	}
	return &load.AvgStat{Load1: 0.5, Load5: 0.25, Load15: 0.125}, nil
}

func (f fakeStats) DiskFree(ctx context.Context, path string) (uint64, error) {
	if path != "/data" {
		return 0, errors.Errorf("unexpected path %s", path)
	}
	return 3 << 20, nil
}

func TestReadings(t *testing.T) {
	readings, err := system.NewWithStats("/data", fakeStats{}).Readings(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, readings, test.ShouldResemble, map[string]float64{
		system.CPUPercent:    12.5,
		system.MemoryPercent: 40,
		system.Load1:         0.5,
		system.Load5:         0.25,
		system.Load15:        0.125,
		system.DiskFree:      3,
	})

	readings, err = system.NewWithStats("/data", fakeStats{fail: true}).Readings(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, readings, test.ShouldResemble, map[string]float64{system.DiskFree: 3})

	_, err = system.NewWithStats("", fakeStats{fail: true}).Readings(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "disk /")
}

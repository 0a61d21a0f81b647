package cputemp_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.mycodo.org/mycodo/input/cputemp"
)

func TestReadings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temp")
	test.That(t, os.WriteFile(path, []byte("48312\n"), 0o600), test.ShouldBeNil)

	readings, err := cputemp.New(path).Readings(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, readings[cputemp.MeasurementID], test.ShouldAlmostEqual, 48.312)

	test.That(t, os.WriteFile(path, []byte("hot"), 0o600), test.ShouldBeNil)
	_, err = cputemp.New(path).Readings(context.Background())
	test.That(t, err, test.ShouldNotBeNil)

	_, err = cputemp.New(filepath.Join(t.TempDir(), "missing")).Readings(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
}

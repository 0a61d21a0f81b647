package logging

import (
	"os"
	"testing"

	"go.viam.com/test"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	return string(data)
}

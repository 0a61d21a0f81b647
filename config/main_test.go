package config_test

import (
	"testing"

	"go.mycodo.org/mycodo/testutils"
)

func TestMain(m *testing.M) {
	testutils.VerifyTestMain(m)
}

package daemon_test

import (
	"encoding/json"
	"os"
	"testing"

	"go.mycodo.org/mycodo/config"
	"go.mycodo.org/mycodo/testutils"
)

func TestMain(m *testing.M) {
	testutils.VerifyTestMain(m)
}

func writeConfig(path string, cfg *config.Config) error {
	buf, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o600)
}

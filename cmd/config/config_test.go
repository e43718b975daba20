package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"alkanes/internal/testutil"
)

func TestLoadConfigDefault(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")
	if AppConfig.Network.Name != "mainnet" {
		t.Fatalf("unexpected network name: %s", AppConfig.Network.Name)
	}
	if AppConfig.Fuel.BlockBudget != 5000000000 {
		t.Fatalf("unexpected block budget: %d", AppConfig.Fuel.BlockBudget)
	}
}

func TestLoadConfigOverride(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(".."); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("bootstrap")
	if AppConfig.Fuel.BlockBudget != 500000000 {
		t.Fatalf("expected overridden block budget 500000000, got %d", AppConfig.Fuel.BlockBudget)
	}
	if AppConfig.Storage.DBPath != "./alkanes-bootstrap-data" {
		t.Fatalf("expected overridden db path")
	}
	if AppConfig.Logging.Level != "debug" {
		t.Fatalf("expected overridden log level")
	}
}

func TestLoadConfigSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("config"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	data := []byte("network:\n  name: regtest\n  genesis_height: 7\n")
	if err := sb.WriteFile("config/default.yaml", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	LoadConfig("")

	if AppConfig.Network.Name != "regtest" {
		t.Fatalf("expected network name regtest, got %s", AppConfig.Network.Name)
	}
	if AppConfig.Network.GenesisHeight != 7 {
		t.Fatalf("expected genesis height 7, got %d", AppConfig.Network.GenesisHeight)
	}
}

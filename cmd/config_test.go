package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lkarlslund/msgrelay/pkg/config"
)

func TestConfigCommandPrintsRedactedConfig(t *testing.T) {
	for _, k := range []string{config.EnvPort, config.EnvTargetAPIURL, config.EnvLogLevel, config.EnvDefaultUserID, config.EnvForceDefaultAPIKey} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv(config.EnvDefaultAPIKey, "sk-ant-very-secret")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(os.Stdout)
	rootCmd.SetArgs([]string{"config", "--config", filepath.Join(t.TempDir(), "none.toml"), "--port", "4100"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	s := out.String()
	if strings.Contains(s, "very-secret") {
		t.Fatalf("config output leaked the api key:\n%s", s)
	}
	if !strings.Contains(s, "sk-ant***") {
		t.Fatalf("expected masked key in output:\n%s", s)
	}
	if !strings.Contains(s, "port = 4100") {
		t.Fatalf("expected port flag override in output:\n%s", s)
	}
}

func TestConfigCommandWritesStarterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "msgrelay.toml")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(os.Stdout)
	rootCmd.SetArgs([]string{"config", "--write", path})
	defer rootCmd.SetArgs(nil)
	defer func() { configWritePath = "" }()

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read written config: %v", err)
	}
	if !strings.Contains(string(b), "target_api_url = ") {
		t.Fatalf("unexpected starter file:\n%s", b)
	}
}

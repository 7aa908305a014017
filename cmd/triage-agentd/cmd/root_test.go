package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestTriageAgentdCLI(t *testing.T) {
	t.Run("Help flag works", func(t *testing.T) {
		cmd := &cobra.Command{
			Use:   "triage-agentd",
			Short: "Email triage agent daemon",
			Long:  "Test help command",
		}
		cmd.SetArgs([]string{"--help"})

		var buf bytes.Buffer
		cmd.SetOut(&buf)

		if err := cmd.Execute(); err != nil {
			t.Fatalf("Help command failed: %v", err)
		}

		output := buf.String()
		if !strings.Contains(output, "Test help command") {
			t.Errorf("Help output missing expected content, got: %s", output)
		}
	})

	t.Run("Version flag works", func(t *testing.T) {
		cmd := &cobra.Command{
			Use:     "triage-agentd",
			Version: Version,
		}
		cmd.SetArgs([]string{"--version"})

		var buf bytes.Buffer
		cmd.SetOut(&buf)

		if err := cmd.Execute(); err != nil {
			t.Fatalf("Version command failed: %v", err)
		}
	})

	t.Run("Root command exposes --config flag", func(t *testing.T) {
		flag := rootCmd.PersistentFlags().Lookup("config")
		if flag == nil {
			t.Fatal("expected --config persistent flag to be registered")
		}
		if flag.DefValue != "" {
			t.Errorf("expected --config to default to empty, got %q", flag.DefValue)
		}
	})

	t.Run("Root command metadata matches the daemon", func(t *testing.T) {
		if rootCmd.Use != "triage-agentd" {
			t.Errorf("expected Use %q, got %q", "triage-agentd", rootCmd.Use)
		}
		if rootCmd.Version != Version {
			t.Errorf("expected Version %q, got %q", Version, rootCmd.Version)
		}
		if rootCmd.RunE == nil {
			t.Error("expected RunE to be set")
		}
	})
}

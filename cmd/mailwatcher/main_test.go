package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "once"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %s not registered: %v", name, err)
		}
	}
}

func TestOnce_FailsOnMissingConfig(t *testing.T) {
	for _, k := range []string{"EWS_URL", "EWS_USER", "MAIL_USER", "EWS_PASS", "MAIL_PASS", "SLACK_TOKEN"} {
		t.Setenv(k, "")
	}

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"once", "--config-dir", t.TempDir()})

	err := root.Execute()
	if err == nil {
		t.Fatal("expected config validation error")
	}
	if !strings.Contains(err.Error(), "ews.url") {
		t.Errorf("error should list missing keys: %v", err)
	}
}

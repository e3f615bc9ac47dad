package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckCommand(t *testing.T) {
	t.Parallel()
	out, err := execute(t, "check", "10 6,2,4 * * *", "--from", "32503680000", "-n", "2")
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	for _, want := range []string{
		"canonical: 10 2,4,6 * * *",
		"hour:",
		"prev: 2999-12-31 06:10 Tue",
		"next: 3000-01-01 02:10 Wed",
		"next: 3000-01-01 04:10 Wed",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCheckCommandRejects(t *testing.T) {
	t.Parallel()
	if _, err := execute(t, "check", "* * * *"); err == nil {
		t.Fatal("malformed expression accepted")
	}
	if _, err := execute(t, "check", "* * * * *", "--from", "yesterday"); err == nil {
		t.Fatal("bad --from accepted")
	}
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := filepath.Join(dir, "c.json")
	if err := os.WriteFile(p, []byte(`{"jobs":[{"target":"log:a","cron":"@daily"}]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "validate", "--config", p, "--env-file", filepath.Join(dir, "none.env")); err == nil {
		t.Fatal("descriptor cron accepted for a job")
	}
	if err := os.WriteFile(p, []byte(`{"jobs":[{"target":"log:a","cron":"0 0 * * *"}]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "validate", "--config", p, "--env-file", filepath.Join(dir, "none.env"))
	if err != nil || !strings.Contains(out, "ok: 1 job(s)") {
		t.Fatalf("validate = %v\n%s", err, out)
	}
}

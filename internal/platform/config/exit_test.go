package config

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
)

// TestExitf_ExitsWithCode1 uses the subprocess pattern because os.Exit cannot
// be intercepted in-process.
func TestExitf_ExitsWithCode1(t *testing.T) {
	if os.Getenv("TEST_EXITF_SUBPROCESS") == "1" {
		Exitf("fatal: %s", "something broke")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestExitf_ExitsWithCode1$")
	cmd.Env = append(os.Environ(), "TEST_EXITF_SUBPROCESS=1")

	out, err := cmd.CombinedOutput()

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		t.Fatalf("expected *exec.ExitError, got %T: %v", err, err)
	}
	if exitErr.ExitCode() != 1 {
		t.Fatalf("expected exit code 1, got %d", exitErr.ExitCode())
	}
	if !strings.Contains(string(out), "fatal: something broke") {
		t.Fatalf("expected stderr to contain %q, got %q", "fatal: something broke", string(out))
	}
}

func TestExitOnError(t *testing.T) {
	var buf bytes.Buffer
	codes := []int{}
	origStderr, origExit := stderr, exit
	stderr = &buf
	exit = func(code int) { codes = append(codes, code) }
	t.Cleanup(func() {
		stderr, exit = origStderr, origExit
	})

	ExitOnError("parse flags", nil)
	if len(codes) != 0 {
		t.Fatalf("expected no exit for nil error, got %v", codes)
	}

	ExitOnError("parse flags", errors.New("bad flag"))
	if len(codes) != 1 || codes[0] != 1 {
		t.Fatalf("exit codes = %v, want [1]", codes)
	}
	if got := buf.String(); got != "parse flags: bad flag\n" {
		t.Fatalf("stderr = %q", got)
	}
}

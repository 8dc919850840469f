package container

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"testing"
)

type (
	// mockCommandRecorder captures the commands an engine runs and answers
	// them through TestHelperProcess.
	mockCommandRecorder struct {
		mu          sync.Mutex
		invocations []mockInvocation
		// exitCodes maps a subcommand (run, pull, version, image) to the exit
		// status the helper process returns for it.
		exitCodes map[string]int
		stdout    string
	}

	mockInvocation struct {
		Name string
		Args []string
	}
)

func newMockCommandRecorder() *mockCommandRecorder {
	return &mockCommandRecorder{exitCodes: make(map[string]int)}
}

func (m *mockCommandRecorder) commandFunc(t *testing.T) ExecCommandFunc {
	t.Helper()
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		m.mu.Lock()
		m.invocations = append(m.invocations, mockInvocation{Name: name, Args: args})
		code := 0
		if len(args) > 0 {
			code = m.exitCodes[args[0]]
		}
		m.mu.Unlock()

		cs := []string{"-test.run=TestHelperProcess", "--", name}
		cs = append(cs, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = []string{
			"GO_WANT_HELPER_PROCESS=1",
			"GO_HELPER_EXIT_CODE=" + strconv.Itoa(code),
			"GO_HELPER_STDOUT=" + m.stdout,
		}
		return cmd
	}
}

func (m *mockCommandRecorder) calls() []mockInvocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockInvocation(nil), m.invocations...)
}

// TestHelperProcess is not a real test; it stands in for the engine binary.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	fmt.Fprint(os.Stdout, os.Getenv("GO_HELPER_STDOUT"))
	code, _ := strconv.Atoi(os.Getenv("GO_HELPER_EXIT_CODE"))
	os.Exit(code)
}

// Package dispatch implements the agent-dispatch pipelines (spec.md §4.2):
// the subprocess invoker that shells out to the external agent CLI, the
// temperature→thinking-tier mapping, and the think/plan/adhoc/ask/
// prompt-dry pipelines built on top of it.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Result is the outcome of one subprocess invocation.
type Result struct {
	Output   string
	Err      error
	TimedOut bool
	Duration time.Duration
}

// Invoker launches the external agent CLI (and other blocking external
// subprocesses, per spec.md §5) and enforces an explicit timeout. Grounded
// on the teacher's Dispatcher.Dispatch (internal/dispatch/dispatch.go):
// the prompt is passed directly as the --message argument of the exec'd
// process, so no shell ever parses it, and the command runs through
// exec.CommandContext for direct timeout cancellation instead
// of the teacher's background PID-polling monitor (the pipelines here
// already run inside their own goroutine and can block on cmd.Wait).
type Invoker struct {
	AgentCLI string
}

// NewInvoker returns an Invoker bound to the configured agent CLI binary.
func NewInvoker(agentCLI string) *Invoker {
	return &Invoker{AgentCLI: agentCLI}
}

// InvokeAgent runs the agent CLI with the given agent role, prompt, timeout,
// and thinking tier, and returns its combined stdout+stderr.
func (inv *Invoker) InvokeAgent(ctx context.Context, agent, prompt string, timeout time.Duration, thinking string) Result {
	argv, err := AgentCommand(inv.AgentCLI, agent, prompt, int(timeout.Seconds()), thinking)
	if err != nil {
		return Result{Err: fmt.Errorf("invoke agent: %w", err)}
	}
	return inv.run(ctx, timeout, argv[0], argv[1:]...)
}

// Invoke runs an arbitrary external command with the invoker's timeout
// discipline. Used by callers that need a blocking subprocess outside the
// agent-CLI shape (e.g. the add-tasks helper script; the task-manager
// script is started with FireAndForget instead).
func (inv *Invoker) Invoke(ctx context.Context, timeout time.Duration, name string, args ...string) Result {
	return inv.run(ctx, timeout, name, args...)
}

func (inv *Invoker) run(ctx context.Context, timeout time.Duration, name string, args ...string) Result {
	start := time.Now()

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	duration := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{Output: buf.String(), Err: fmt.Errorf("timed out after %.0fs", timeout.Seconds()), TimedOut: true, Duration: duration}
	}
	if err != nil {
		return Result{Output: buf.String(), Err: fmt.Errorf("subprocess %s: %w", name, err), Duration: duration}
	}
	return Result{Output: buf.String(), Duration: duration}
}

// FireAndForget starts name/args detached from the invoker's lifetime and
// does not wait for completion, matching spec.md §4.2's plan-pipeline step
// "start the external task-manager script as a fire-and-forget child".
func FireAndForget(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("fire-and-forget %s: %w", name, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// WritePromptFile writes prompt to a fresh temp file, avoiding shell
// escaping issues for large or oddly quoted prompts.
func WritePromptFile(prompt string) (string, error) {
	f, err := os.CreateTemp("", "ashleyd-prompt-*.txt")
	if err != nil {
		return "", fmt.Errorf("write prompt file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(prompt); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write prompt file: %w", err)
	}
	return f.Name(), nil
}

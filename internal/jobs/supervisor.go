package jobs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Supervisor is a thin exec.CommandContext wrapper over `systemctl --user`,
// per spec.md §6.5/SPEC_FULL.md §5.10.
type Supervisor struct {
	Timeout time.Duration
}

// NewSupervisor returns a Supervisor with a sane default timeout.
func NewSupervisor() *Supervisor {
	return &Supervisor{Timeout: 10 * time.Second}
}

func (s *Supervisor) run(ctx context.Context, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "systemctl", append([]string{"--user"}, args...)...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	out := strings.TrimSpace(buf.String())
	if err != nil {
		return out, fmt.Errorf("systemctl --user %s: %s: %w", strings.Join(args, " "), out, err)
	}
	return out, nil
}

// DaemonReload reloads the user systemd manager's unit files.
func (s *Supervisor) DaemonReload(ctx context.Context) error {
	_, err := s.run(ctx, "daemon-reload")
	return err
}

// EnableNow enables and starts a timer unit.
func (s *Supervisor) EnableNow(ctx context.Context, unit string) error {
	_, err := s.run(ctx, "enable", "--now", unit)
	return err
}

// DisableNow disables and stops a timer unit.
func (s *Supervisor) DisableNow(ctx context.Context, unit string) error {
	_, err := s.run(ctx, "disable", "--now", unit)
	return err
}

// IsActive reports a timer unit's active state ("active"/"inactive"/etc).
func (s *Supervisor) IsActive(ctx context.Context, unit string) string {
	out, _ := s.run(ctx, "is-active", unit)
	if out == "" {
		return "inactive"
	}
	return out
}

// NextElapse returns the timer's NextElapseUSecRealtime property, empty on
// failure (e.g. unit not loaded).
func (s *Supervisor) NextElapse(ctx context.Context, unit string) string {
	out, _ := s.run(ctx, "show", unit, "--property=NextElapseUSecRealtime", "--value")
	return out
}

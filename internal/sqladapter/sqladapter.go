// Package sqladapter invokes the external psql-compatible CLI to reach the
// relational store (autonomous_tasks, pending_questions, blocked_reasons,
// memories), per spec.md §6.6/§9: a single subprocess per call, values
// bound as psql query variables rather than concatenated into the SQL
// text, rows returned delimited by the ASCII unit separator (0x1F) so
// content containing "|" or newlines parses unambiguously. Grounded on the
// teacher's exec.CommandContext discipline in internal/dispatch/dispatch.go
// (timeout-bound subprocess, combined-output capture) rather than on the
// teacher's database/sql usage, which this system deliberately does not
// carry (see DESIGN.md).
package sqladapter

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/nrlabs/ashleyd/internal/config"
)

// UnitSeparator is the ASCII field delimiter psql is asked to emit rows
// with, per spec.md §4.5/§9.
const UnitSeparator = "\x1f"

const defaultTimeout = 15 * time.Second

// Client invokes psql against one configured database.
type Client struct {
	cfg     config.Postgres
	psqlBin string
	timeout time.Duration
}

// New returns a Client bound to cfg. psqlBin defaults to "psql" on PATH.
func New(cfg config.Postgres) *Client {
	return &Client{cfg: cfg, psqlBin: "psql", timeout: defaultTimeout}
}

// WithBinary overrides the psql executable path (tests use a stub script).
func (c *Client) WithBinary(path string) *Client {
	c.psqlBin = path
	return c
}

// WithTimeout overrides the per-call subprocess timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

// EscapeLiteral doubles embedded single quotes, for the rare literal that
// cannot be passed as a bind variable (e.g. inside a constructed ::vector
// literal). Prefer Query's binds parameter wherever the value is not
// already a validated numeric literal.
func EscapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// VectorLiteral renders a float slice as a pgvector literal, per spec.md
// §4.5 ("vector literals are [v1,v2,…]::vector"). Values come from the
// embedder, not user input, so no quoting is needed.
func VectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", f)
	}
	b.WriteString("]::vector")
	return b.String()
}

// Query runs sql with binds exposed as psql variables (referenced in sql as
// :'name'), and returns the result rows split on the unit separator. binds
// values are passed via -v, never interpolated into the SQL text.
func (c *Client) Query(ctx context.Context, sql string, binds map[string]string) ([][]string, error) {
	out, err := c.run(ctx, sql, binds)
	if err != nil {
		return nil, err
	}
	return parseRows(out), nil
}

// Exec runs sql for its side effects (INSERT/UPDATE/DELETE) and returns the
// raw combined output, useful for a single RETURNING column.
func (c *Client) Exec(ctx context.Context, sql string, binds map[string]string) (string, error) {
	return c.run(ctx, sql, binds)
}

func (c *Client) run(ctx context.Context, sql string, binds map[string]string) (string, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := []string{
		"-X", "-q", "-t", "-A",
		"--field-separator=" + UnitSeparator,
		"-v", "ON_ERROR_STOP=1",
	}
	if c.cfg.Host != "" {
		args = append(args, "-h", c.cfg.Host)
	}
	if c.cfg.Port != 0 {
		args = append(args, "-p", fmt.Sprintf("%d", c.cfg.Port))
	}
	if c.cfg.User != "" {
		args = append(args, "-U", c.cfg.User)
	}
	if c.cfg.Database != "" {
		args = append(args, "-d", c.cfg.Database)
	}

	names := make([]string, 0, len(binds))
	for name := range binds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		args = append(args, "-v", fmt.Sprintf("%s=%s", name, binds[name]))
	}
	args = append(args, "-c", sql)

	cmd := exec.CommandContext(runCtx, c.psqlBin, args...)
	if c.cfg.Password != "" {
		cmd.Env = append(cmd.Environ(), "PGPASSWORD="+c.cfg.Password)
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("sqladapter: query timed out: %s", strings.TrimSpace(buf.String()))
	}
	if err != nil {
		return "", fmt.Errorf("sqladapter: psql failed: %s: %w", strings.TrimSpace(buf.String()), err)
	}
	return buf.String(), nil
}

func parseRows(output string) [][]string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	rows := make([][]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		rows = append(rows, strings.Split(line, UnitSeparator))
	}
	return rows
}

// Package tasks provides read-mostly access to the external
// autonomous_tasks table, per spec.md §3: the core only reads task rows
// and, on question-answer, appends to solution; unblock operations may
// reset status back to TODO, READY_FOR_TESTING or IN_PROGRESS.
package tasks

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nrlabs/ashleyd/internal/sqladapter"
)

// Status enumerates autonomous_tasks.status, per spec.md §3.
type Status string

const (
	StatusTODO             Status = "TODO"
	StatusInProgress       Status = "IN_PROGRESS"
	StatusReadyForTesting  Status = "READY_FOR_TESTING"
	StatusBlocked          Status = "BLOCKED"
	StatusComplete         Status = "COMPLETE"
)

// Task is one autonomous_tasks row.
type Task struct {
	ID                 string
	Name               string
	Status             Status
	Priority           int
	Phase              string
	AssignedAgent      string
	Project            string
	ImplementationPlan string
	Notes              string
	Solution           string
	BlockedReason      string
	CreatedAt          time.Time
	CompletedAt        time.Time
}

// Counts is the {todo, in_progress, ready, blocked, complete} summary the
// /tasks local command reports.
type Counts struct {
	TODO             int
	InProgress       int
	ReadyForTesting  int
	Blocked          int
	Complete         int
}

const selectColumns = `id, name, status, priority, COALESCE(phase, ''), COALESCE(assigned_agent, ''),
	COALESCE(project, ''), COALESCE(implementation_plan, ''), COALESCE(notes, ''),
	COALESCE(solution, ''), COALESCE(blocked_reason, ''), created_at, COALESCE(completed_at::text, '')`

// Store is the tasks client, backed by the relational store.
type Store struct {
	sql *sqladapter.Client
}

// New returns a Store bound to sql.
func New(sql *sqladapter.Client) *Store {
	return &Store{sql: sql}
}

// Get returns a single task by id.
func (s *Store) Get(ctx context.Context, id string) (Task, bool, error) {
	sql := fmt.Sprintf("SELECT %s FROM autonomous_tasks WHERE id = :'id'", selectColumns)
	rows, err := s.sql.Query(ctx, sql, map[string]string{"id": id})
	if err != nil {
		return Task{}, false, fmt.Errorf("tasks: get: %w", err)
	}
	ts := parseTasks(rows)
	if len(ts) == 0 {
		return Task{}, false, nil
	}
	return ts[0], true, nil
}

// ListByStatus returns up to limit rows with the given status, ordered by
// priority descending then created_at ascending, per the top-20 listings
// named in spec.md §4.6.
func (s *Store) ListByStatus(ctx context.Context, status Status, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 20
	}
	sql := fmt.Sprintf(
		"SELECT %s FROM autonomous_tasks WHERE status = :'status' ORDER BY priority DESC, created_at ASC LIMIT %d",
		selectColumns, limit,
	)
	rows, err := s.sql.Query(ctx, sql, map[string]string{"status": string(status)})
	if err != nil {
		return nil, fmt.Errorf("tasks: list by status: %w", err)
	}
	return parseTasks(rows), nil
}

// Counts returns the three-counter summary named in spec.md §4.6.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	sql := `SELECT status, count(*) FROM autonomous_tasks GROUP BY status`
	rows, err := s.sql.Query(ctx, sql, nil)
	if err != nil {
		return Counts{}, fmt.Errorf("tasks: counts: %w", err)
	}
	var c Counts
	for _, r := range rows {
		if len(r) < 2 {
			continue
		}
		n, _ := strconv.Atoi(strings.TrimSpace(r[1]))
		switch Status(strings.TrimSpace(r[0])) {
		case StatusTODO:
			c.TODO = n
		case StatusInProgress:
			c.InProgress = n
		case StatusReadyForTesting:
			c.ReadyForTesting = n
		case StatusBlocked:
			c.Blocked = n
		case StatusComplete:
			c.Complete = n
		}
	}
	return c, nil
}

// CountCompletedSince returns the number of tasks completed on or after
// since, used by the /weeklyreview aggregator.
func (s *Store) CountCompletedSince(ctx context.Context, since time.Time) (int, error) {
	sql := `SELECT count(*) FROM autonomous_tasks WHERE status = 'COMPLETE' AND completed_at >= :'since'`
	rows, err := s.sql.Query(ctx, sql, map[string]string{"since": since.UTC().Format("2006-01-02 15:04:05")})
	if err != nil {
		return 0, fmt.Errorf("tasks: count completed since: %w", err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	n, _ := strconv.Atoi(strings.TrimSpace(rows[0][0]))
	return n, nil
}

// ListByProject groups BLOCKED tasks by project for the /digest local
// command, grounded on the project-tagging concept chat-router.py's
// project-note parsing introduces for autonomous_tasks.project.
func (s *Store) ListByProject(ctx context.Context, status Status, limit int) (map[string][]Task, error) {
	rows, err := s.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]Task)
	for _, t := range rows {
		key := t.Project
		if key == "" {
			key = "(no project)"
		}
		grouped[key] = append(grouped[key], t)
	}
	return grouped, nil
}

// AppendSolution appends a delimited owner-answer block to a task's
// solution field, per spec.md §4.3 step 4.
func (s *Store) AppendSolution(ctx context.Context, taskID, questionID, answer string) error {
	block := fmt.Sprintf("\n--- Owner Answer (Q#%s) ---\n%s\n", questionID, answer)
	sql := `UPDATE autonomous_tasks SET solution = COALESCE(solution, '') || :'block' WHERE id = :'id'`
	if _, err := s.sql.Exec(ctx, sql, map[string]string{"id": taskID, "block": block}); err != nil {
		return fmt.Errorf("tasks: append solution: %w", err)
	}
	return nil
}

// UnblockStatusAliases maps the status alias tokens accepted by the
// /unblock local command, per spec.md §4.6.
var UnblockStatusAliases = map[string]Status{
	"todo":                   StatusTODO,
	"ready":                  StatusReadyForTesting,
	"ready_for_testing":      StatusReadyForTesting,
	"ready-for-testing":      StatusReadyForTesting,
	"ready for testing":      StatusReadyForTesting,
	"in_progress":            StatusInProgress,
	"in-progress":            StatusInProgress,
	"inprogress":             StatusInProgress,
}

// Unblock resets a single BLOCKED task to newStatus (default TODO),
// clearing blocked_reason/error_log/assigned_agent/pid/started_at/
// attempt_count and, if note is non-empty, assigning it as the solution.
// Only rows currently BLOCKED are affected. Returns whether a row changed.
func (s *Store) Unblock(ctx context.Context, taskID string, newStatus Status, note string) (bool, error) {
	if newStatus == "" {
		newStatus = StatusTODO
	}
	sql := `UPDATE autonomous_tasks SET status = :'status', blocked_reason = NULL,
	        error_log = NULL, assigned_agent = NULL, pid = NULL, started_at = NULL,
	        attempt_count = 0, solution = CASE WHEN :'note' = '' THEN solution ELSE :'note' END
	        WHERE id = :'id' AND status = 'BLOCKED' RETURNING id`
	out, err := s.sql.Exec(ctx, sql, map[string]string{
		"id": taskID, "status": string(newStatus), "note": note,
	})
	if err != nil {
		return false, fmt.Errorf("tasks: unblock: %w", err)
	}
	changed := strings.TrimSpace(out) != ""
	if changed {
		if err := s.deleteBlockedReason(ctx, taskID); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

// UnblockAll applies Unblock to every BLOCKED task and returns the count
// actually changed.
func (s *Store) UnblockAll(ctx context.Context, newStatus Status, note string) (int, error) {
	if newStatus == "" {
		newStatus = StatusTODO
	}
	sql := `UPDATE autonomous_tasks SET status = :'status', blocked_reason = NULL,
	        error_log = NULL, assigned_agent = NULL, pid = NULL, started_at = NULL,
	        attempt_count = 0, solution = CASE WHEN :'note' = '' THEN solution ELSE :'note' END
	        WHERE status = 'BLOCKED' RETURNING id`
	out, err := s.sql.Exec(ctx, sql, map[string]string{"status": string(newStatus), "note": note})
	if err != nil {
		return 0, fmt.Errorf("tasks: unblock all: %w", err)
	}
	count := 0
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	if count > 0 {
		if err := s.deleteBlockedReason(ctx, ""); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (s *Store) deleteBlockedReason(ctx context.Context, taskID string) error {
	sql := "DELETE FROM blocked_reasons WHERE task_id = :'id'"
	if taskID == "" {
		sql = "DELETE FROM blocked_reasons WHERE task_id NOT IN (SELECT id FROM autonomous_tasks WHERE status = 'BLOCKED')"
	}
	_, err := s.sql.Exec(ctx, sql, map[string]string{"id": taskID})
	if err != nil {
		return fmt.Errorf("tasks: delete blocked reason: %w", err)
	}
	return nil
}

func parseTasks(rows [][]string) []Task {
	out := make([]Task, 0, len(rows))
	for _, r := range rows {
		if len(r) < 13 {
			continue
		}
		priority, _ := strconv.Atoi(strings.TrimSpace(r[3]))
		created, _ := time.Parse("2006-01-02 15:04:05", strings.TrimSpace(r[11]))
		var completed time.Time
		if v := strings.TrimSpace(r[12]); v != "" {
			completed, _ = time.Parse("2006-01-02 15:04:05", v)
		}
		out = append(out, Task{
			ID:                 strings.TrimSpace(r[0]),
			Name:               r[1],
			Status:             Status(strings.TrimSpace(r[2])),
			Priority:           priority,
			Phase:              r[4],
			AssignedAgent:      r[5],
			Project:            r[6],
			ImplementationPlan: r[7],
			Notes:              r[8],
			Solution:           r[9],
			BlockedReason:      r[10],
			CreatedAt:          created,
			CompletedAt:        completed,
		})
	}
	return out
}

// Package rendezvous implements the question–answer protocol of spec.md
// §4.3: a background agent parks a question in the pending_questions
// table and the daemon binds the next owner reply to the oldest pending
// row, FIFO, with opportunistic 60-minute expiration.
package rendezvous

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nrlabs/ashleyd/internal/sqladapter"
)

// Status enumerates pending_questions.status, per spec.md §3.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAnswered Status = "answered"
	StatusExpired  Status = "expired"
)

// TTL is the question expiration window named in spec.md §3/§4.3.
const TTL = 60 * time.Minute

// Question is one pending_questions row.
type Question struct {
	ID         string
	Agent      string
	TaskID     string
	Question   string
	Answer     string
	Status     Status
	CreatedAt  time.Time
	AnsweredAt time.Time
}

// Store is the rendezvous client, backed by the relational store.
type Store struct {
	sql *sqladapter.Client
}

// New returns a Store bound to sql.
func New(sql *sqladapter.Client) *Store {
	return &Store{sql: sql}
}

// ExpireStale transitions any pending row older than TTL to expired. It is
// run opportunistically at the top of every list/ask/answer operation, per
// spec.md §4.3 — there is no dedicated reaper (spec.md §9 Open Questions).
func (s *Store) ExpireStale(ctx context.Context) error {
	cutoff := time.Now().Add(-TTL).UTC().Format("2006-01-02 15:04:05")
	sql := `UPDATE pending_questions SET status = 'expired'
	        WHERE status = 'pending' AND created_at < :'cutoff'`
	_, err := s.sql.Exec(ctx, sql, map[string]string{"cutoff": cutoff})
	if err != nil {
		return fmt.Errorf("rendezvous: expire stale: %w", err)
	}
	return nil
}

// Create expires stale questions, inserts a new pending row, and returns
// its id. Notifying the owner is the caller's responsibility (spec.md
// §4.3 step 3 is performed by the router, which owns the chat transport).
func (s *Store) Create(ctx context.Context, agent, taskID, question string) (string, error) {
	if err := s.ExpireStale(ctx); err != nil {
		return "", err
	}
	sql := `INSERT INTO pending_questions (agent, task_id, question, status, created_at)
	        VALUES (:'agent', NULLIF(:'task_id', ''), :'question', 'pending', now())
	        RETURNING id`
	out, err := s.sql.Exec(ctx, sql, map[string]string{
		"agent":    agent,
		"task_id":  taskID,
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("rendezvous: create: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// List expires stale questions and returns all non-expired rows, oldest
// first.
func (s *Store) List(ctx context.Context) ([]Question, error) {
	if err := s.ExpireStale(ctx); err != nil {
		return nil, err
	}
	sql := `SELECT id, agent, COALESCE(task_id::text, ''), question, COALESCE(answer, ''),
	        status, created_at, COALESCE(answered_at::text, '')
	        FROM pending_questions WHERE status != 'expired' ORDER BY created_at ASC`
	rows, err := s.sql.Query(ctx, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: list: %w", err)
	}
	return parseQuestions(rows), nil
}

// OldestPending returns the oldest row with status=pending, or ok=false if
// none exists.
func (s *Store) OldestPending(ctx context.Context) (Question, bool, error) {
	if err := s.ExpireStale(ctx); err != nil {
		return Question{}, false, err
	}
	sql := `SELECT id, agent, COALESCE(task_id::text, ''), question, COALESCE(answer, ''),
	        status, created_at, COALESCE(answered_at::text, '')
	        FROM pending_questions WHERE status = 'pending' ORDER BY created_at ASC LIMIT 1`
	rows, err := s.sql.Query(ctx, sql, nil)
	if err != nil {
		return Question{}, false, fmt.Errorf("rendezvous: oldest pending: %w", err)
	}
	qs := parseQuestions(rows)
	if len(qs) == 0 {
		return Question{}, false, nil
	}
	return qs[0], true, nil
}

// Count returns the number of currently pending (non-expired, unanswered)
// questions.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.ExpireStale(ctx); err != nil {
		return 0, err
	}
	rows, err := s.sql.Query(ctx, "SELECT count(*) FROM pending_questions WHERE status = 'pending'", nil)
	if err != nil {
		return 0, fmt.Errorf("rendezvous: count: %w", err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	n, _ := strconv.Atoi(strings.TrimSpace(rows[0][0]))
	return n, nil
}

// Answer marks the oldest pending question answered, sets answered_at, and
// returns the updated row. If task_id is set, the caller is responsible
// for appending the answer block to autonomous_tasks.solution
// (internal/tasks).
func (s *Store) Answer(ctx context.Context, answer string) (Question, bool, error) {
	q, ok, err := s.OldestPending(ctx)
	if err != nil || !ok {
		return Question{}, ok, err
	}
	sql := `UPDATE pending_questions SET status = 'answered', answer = :'answer', answered_at = now()
	        WHERE id = :'id'`
	if _, err := s.sql.Exec(ctx, sql, map[string]string{"id": q.ID, "answer": answer}); err != nil {
		return Question{}, false, fmt.Errorf("rendezvous: answer: %w", err)
	}
	q.Answer = answer
	q.Status = StatusAnswered
	q.AnsweredAt = time.Now()
	return q, true, nil
}

func parseQuestions(rows [][]string) []Question {
	out := make([]Question, 0, len(rows))
	for _, r := range rows {
		if len(r) < 8 {
			continue
		}
		created, _ := time.Parse("2006-01-02 15:04:05", strings.TrimSpace(r[6]))
		var answered time.Time
		if v := strings.TrimSpace(r[7]); v != "" {
			answered, _ = time.Parse("2006-01-02 15:04:05", v)
		}
		out = append(out, Question{
			ID:         strings.TrimSpace(r[0]),
			Agent:      r[1],
			TaskID:     strings.TrimSpace(r[2]),
			Question:   r[3],
			Answer:     r[4],
			Status:     Status(strings.TrimSpace(r[5])),
			CreatedAt:  created,
			AnsweredAt: answered,
		})
	}
	return out
}

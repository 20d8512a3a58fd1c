// Package memory implements the vector-memory substrate and the bounded
// conversation ring described in spec.md §3/§4.5: semantically retrieved
// prior context that enriches planner prompts. Relational access goes
// through internal/sqladapter, never a vector-database driver, per
// spec.md §6.6.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nrlabs/ashleyd/internal/sqladapter"
)

// Category enumerates the memory row categories named in spec.md §3.
type Category string

const (
	CategoryConversation   Category = "conversation"
	CategoryLesson         Category = "lesson"
	CategoryNote           Category = "note"
	CategoryBookmark       Category = "bookmark"
	CategoryFact           Category = "fact"
	CategoryPreference     Category = "preference"
	CategoryProject        Category = "project"
	CategoryGeneral        Category = "general"
	defaultMinSimilarity   = 0.3
	recallContentTruncate  = 300
	recallPrefix           = "Relevant memories:"
)

// Row is one memories table record as returned by Search.
type Row struct {
	ID         string
	Content    string
	Category   Category
	Source     string
	Metadata   string
	CreatedAt  time.Time
	Similarity float64
}

// CategoryCount is one entry of Categories' aggregate result.
type CategoryCount struct {
	Category Category
	Count    int
}

// Store is the vector-memory client, backed by the relational store via
// the SQL adapter and a pluggable Embedder.
type Store struct {
	sql      *sqladapter.Client
	embedder Embedder
}

// New returns a Store using sql for persistence and embedder for vector
// generation. A zero-value Embedder is invalid; callers without a real
// embedding model should pass HashEmbedder{}.
func New(sql *sqladapter.Client, embedder Embedder) *Store {
	return &Store{sql: sql, embedder: embedder}
}

// Store embeds content and inserts a new memories row, returning its id.
func (s *Store) Store(ctx context.Context, content string, category Category, source, metadata string) (string, error) {
	vec := s.embedder.Embed(content)
	sql := fmt.Sprintf(
		`INSERT INTO memories (content, category, source, metadata, embedding, created_at)
		 VALUES (:'content', :'category', :'source', COALESCE(NULLIF(:'metadata', ''), '{}')::jsonb, %s, now())
		 RETURNING id`,
		sqladapter.VectorLiteral(vec),
	)
	binds := map[string]string{
		"content":  content,
		"category": string(category),
		"source":   source,
		"metadata": metadata,
	}
	out, err := s.sql.Exec(ctx, sql, binds)
	if err != nil {
		return "", fmt.Errorf("memory: store: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Search returns rows ordered by descending similarity, thresholded at
// minSimilarity (spec.md §4.5's default is 0.3; pass <= 0 to use it).
func (s *Store) Search(ctx context.Context, query string, limit int, category Category, minSimilarity float64) ([]Row, error) {
	if minSimilarity <= 0 {
		minSimilarity = defaultMinSimilarity
	}
	if limit <= 0 {
		limit = 5
	}
	vec := s.embedder.Embed(query)
	vecLit := sqladapter.VectorLiteral(vec)

	var b strings.Builder
	fmt.Fprintf(&b, `SELECT id, content, category, source, metadata, created_at,
		1 - (embedding <=> %s) AS similarity
		FROM memories`, vecLit)

	binds := map[string]string{}
	if category != "" {
		b.WriteString(" WHERE category = :'category'")
		binds["category"] = string(category)
	}
	fmt.Fprintf(&b, " ORDER BY embedding <=> %s ASC LIMIT %d", vecLit, limit)

	rows, err := s.sql.Query(ctx, b.String(), binds)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}

	results := make([]Row, 0, len(rows))
	for _, r := range rows {
		if len(r) < 7 {
			continue
		}
		sim, err := strconv.ParseFloat(strings.TrimSpace(r[6]), 64)
		if err != nil || sim < minSimilarity {
			continue
		}
		created, _ := time.Parse("2006-01-02 15:04:05", strings.TrimSpace(r[5]))
		results = append(results, Row{
			ID:         strings.TrimSpace(r[0]),
			Content:    r[1],
			Category:   Category(r[2]),
			Source:     r[3],
			Metadata:   r[4],
			CreatedAt:  created,
			Similarity: sim,
		})
	}
	return results, nil
}

// Recall returns a formatted string for prompt enrichment, per spec.md §4.5.
func (s *Store) Recall(ctx context.Context, query string, limit int) (string, error) {
	rows, err := s.Search(ctx, query, limit, "", 0)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString(recallPrefix)
	for _, r := range rows {
		content := r.Content
		if len(content) > recallContentTruncate {
			content = content[:recallContentTruncate]
		}
		fmt.Fprintf(&b, "\n  [%s] (%d%% match) %s", r.Category, int(r.Similarity*100), content)
	}
	return b.String(), nil
}

// StoreConversation, StoreLesson, StoreNote, StoreBookmark, StoreFact, and
// StoreProjectContext are the category-specific wrappers named in
// spec.md §4.5.
func (s *Store) StoreConversation(ctx context.Context, content, source string) (string, error) {
	return s.Store(ctx, content, CategoryConversation, source, "")
}

func (s *Store) StoreLesson(ctx context.Context, content, source string) (string, error) {
	return s.Store(ctx, content, CategoryLesson, source, "")
}

func (s *Store) StoreNote(ctx context.Context, content, source string) (string, error) {
	return s.Store(ctx, content, CategoryNote, source, "")
}

func (s *Store) StoreBookmark(ctx context.Context, content, source string) (string, error) {
	return s.Store(ctx, content, CategoryBookmark, source, "")
}

func (s *Store) StoreFact(ctx context.Context, content, source string) (string, error) {
	return s.Store(ctx, content, CategoryFact, source, "")
}

func (s *Store) StoreProjectContext(ctx context.Context, project, content string) (string, error) {
	return s.Store(ctx, content, CategoryProject, project, "")
}

// Delete removes a memories row by id.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	out, err := s.sql.Exec(ctx, "DELETE FROM memories WHERE id = :'id' RETURNING id", map[string]string{"id": id})
	if err != nil {
		return false, fmt.Errorf("memory: delete: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// Count returns the number of rows, optionally filtered by category.
func (s *Store) Count(ctx context.Context, category Category) (int, error) {
	sql := "SELECT count(*) FROM memories"
	binds := map[string]string{}
	if category != "" {
		sql += " WHERE category = :'category'"
		binds["category"] = string(category)
	}
	rows, err := s.sql.Query(ctx, sql, binds)
	if err != nil {
		return 0, fmt.Errorf("memory: count: %w", err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	n, _ := strconv.Atoi(strings.TrimSpace(rows[0][0]))
	return n, nil
}

// Categories returns the category/count aggregate named in SPEC_FULL.md §6,
// grounded on original_source/'s vector-memory categories() query.
func (s *Store) Categories(ctx context.Context) ([]CategoryCount, error) {
	rows, err := s.sql.Query(ctx, "SELECT category, count(*) FROM memories GROUP BY category ORDER BY category", nil)
	if err != nil {
		return nil, fmt.Errorf("memory: categories: %w", err)
	}
	out := make([]CategoryCount, 0, len(rows))
	for _, r := range rows {
		if len(r) < 2 {
			continue
		}
		n, _ := strconv.Atoi(strings.TrimSpace(r[1]))
		out = append(out, CategoryCount{Category: Category(strings.TrimSpace(r[0])), Count: n})
	}
	return out, nil
}

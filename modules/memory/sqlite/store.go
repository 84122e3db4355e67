package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/flemzord/chatpilot/internal/memory"
)

// factStore implements memory.Store backed by SQLite with FTS5.
type factStore struct {
	db *sql.DB

	retention       time.Duration
	cleanupInterval time.Duration

	mu          sync.Mutex
	lastCleanup time.Time
}

// Index stores or updates a fact. If a fact with the same ID exists,
// it is replaced (the FTS5 index is updated via triggers).
func (s *factStore) Index(ctx context.Context, fact memory.Fact) error {
	tagsJSON, err := json.Marshal(fact.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: marshal tags: %w", err)
	}

	createdAt := fact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO facts (id, conversation_id, content, tags, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		fact.ID, fact.ConversationID, fact.Content,
		string(tagsJSON),
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: index fact: %w", err)
	}

	s.maybeCleanup(ctx)
	return nil
}

// Search retrieves up to topK facts for the conversation matching the
// query using FTS5 full-text search, best matches first.
func (s *factStore) Search(ctx context.Context, conversationID, query string, topK int) ([]memory.Fact, error) {
	match := ftsQuery(query)
	if match == "" || topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.conversation_id, f.content, f.tags, f.created_at
		FROM facts_fts
		JOIN facts f ON f.rowid = facts_fts.rowid
		WHERE facts_fts MATCH ? AND f.conversation_id = ?
		ORDER BY rank
		LIMIT ?`,
		match, conversationID, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search facts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanFacts(rows)
}

// Delete removes a fact by ID. Returns memory.ErrFactNotFound if the
// fact does not exist.
func (s *factStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM facts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: delete fact: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return memory.ErrFactNotFound
	}

	return nil
}

// Len returns the total number of stored facts.
func (s *factStore) Len() int {
	var count int
	if err := s.db.QueryRowContext(context.TODO(), "SELECT COUNT(*) FROM facts").Scan(&count); err != nil {
		return 0
	}
	return count
}

// maybeCleanup expires facts past the retention window. Sweeps are
// opportunistic: at most one per cleanupInterval, triggered by writes.
func (s *factStore) maybeCleanup(ctx context.Context) {
	if s.retention <= 0 {
		return
	}

	s.mu.Lock()
	now := time.Now()
	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		s.mu.Unlock()
		return
	}
	s.lastCleanup = now
	s.mu.Unlock()

	cutoff := now.UTC().Add(-s.retention).Format(time.RFC3339Nano)
	_, _ = s.db.ExecContext(ctx, "DELETE FROM facts WHERE created_at < ?", cutoff)
}

// ftsQuery turns free user text into a safe FTS5 match expression:
// each word token becomes a quoted term, joined with OR. Punctuation
// that FTS5 would parse as syntax is dropped.
func ftsQuery(query string) string {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		return ""
	}

	terms := make([]string, len(words))
	for i, w := range words {
		terms[i] = `"` + w + `"`
	}
	return strings.Join(terms, " OR ")
}

func scanFacts(rows *sql.Rows) ([]memory.Fact, error) {
	var facts []memory.Fact
	for rows.Next() {
		var (
			fact         memory.Fact
			tagsJSON     string
			createdAtStr string
		)

		if err := rows.Scan(&fact.ID, &fact.ConversationID, &fact.Content, &tagsJSON, &createdAtStr); err != nil {
			return nil, fmt.Errorf("sqlite: scan fact: %w", err)
		}

		if tagsJSON != "" && tagsJSON != "[]" && tagsJSON != "null" {
			if err := json.Unmarshal([]byte(tagsJSON), &fact.Tags); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal tags: %w", err)
			}
		}

		if createdAtStr != "" {
			t, err := time.Parse(time.RFC3339Nano, createdAtStr)
			if err != nil {
				return nil, fmt.Errorf("sqlite: parse created_at %q: %w", createdAtStr, err)
			}
			fact.CreatedAt = t
		}

		facts = append(facts, fact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scan facts rows: %w", err)
	}

	return facts, nil
}

package rag

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"atui/chat"
)

// maxChunks bounds how many chunks one turn may inject.
const maxChunks = 4

// Store is a sqlite-backed chunk store scored by keyword overlap. Chunks
// tagged with an agent name are only visible to that agent; untagged chunks
// are visible to everyone.
type Store struct {
	db *sql.DB
}

func NewStore(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "context.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		agent TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_agent ON chunks(agent);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Add stores one chunk. An empty agent makes the chunk visible to all agents.
func (s *Store) Add(ctx context.Context, agent, source, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("chunk content cannot be empty")
	}

	query := `
	INSERT INTO chunks (id, agent, source, content, created_at)
	VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.New().String(),
		agent,
		source,
		content,
		time.Now(),
	)
	return err
}

// BuildContext implements Retriever: score stored chunks against the query
// terms and join the best matches. No match means an empty Context, never an
// error.
func (s *Store) BuildContext(ctx context.Context, agent chat.Agent, query, server string) (Context, error) {
	terms := Terms(query)
	if len(terms) == 0 {
		return Context{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT source, content FROM chunks
	WHERE agent = '' OR agent = ?
	ORDER BY created_at DESC
	`, agent.Name)
	if err != nil {
		return Context{}, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	type scored struct {
		source  string
		content string
		score   int
	}

	var hits []scored
	for rows.Next() {
		var sc scored
		if err := rows.Scan(&sc.source, &sc.content); err != nil {
			continue
		}
		sc.score = Score(sc.content, terms)
		if sc.score > 0 {
			hits = append(hits, sc)
		}
	}
	if err := rows.Err(); err != nil {
		return Context{}, fmt.Errorf("failed to read chunks: %w", err)
	}
	if len(hits) == 0 {
		return Context{}, nil
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > maxChunks {
		hits = hits[:maxChunks]
	}

	parts := make([]string, len(hits))
	sources := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = h.content
		sources[i] = h.source
	}

	return Context{
		Text:    strings.Join(parts, "\n\n---\n\n"),
		Sources: sources,
	}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// stopTerms are tokens too common to carry signal.
var stopTerms = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "has": true,
	"how": true, "what": true, "when": true, "where": true, "why": true,
	"does": true, "with": true, "this": true, "that": true, "from": true,
}

// Terms splits a query into lowercase keyword terms, dropping short tokens
// and stop words that would match everywhere.
func Terms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 3 && !stopTerms[f] {
			terms = append(terms, f)
		}
	}
	return terms
}

// Score counts how many times the terms occur in the content,
// case-insensitively.
func Score(content string, terms []string) int {
	lowered := strings.ToLower(content)
	score := 0
	for _, t := range terms {
		score += strings.Count(lowered, t)
	}
	return score
}

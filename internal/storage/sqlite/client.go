package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kbsearch/backend/internal/storage/models"
	"github.com/kbsearch/backend/internal/toolerr"
	"github.com/kbsearch/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Serialized writers avoid SQLITE_BUSY under concurrent upserts.
	db.SetMaxOpenConns(1)

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping() error {
	return c.db.Ping()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		parent_id TEXT,
		provider_config TEXT NOT NULL,
		chunking_config TEXT NOT NULL,
		retrieval_config TEXT NOT NULL,
		generation_config TEXT NOT NULL,
		system_config TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 0,
		created_by TEXT,
		created_at INTEGER NOT NULL,
		UNIQUE(name, version)
	);
	CREATE INDEX IF NOT EXISTS idx_profiles_name ON profiles(name);

	CREATE TABLE IF NOT EXISTS profile_changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		profile_id TEXT NOT NULL,
		parameter_path TEXT NOT NULL,
		old_value TEXT,
		new_value TEXT,
		reason TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (profile_id) REFERENCES profiles(id)
	);
	CREATE INDEX IF NOT EXISTS idx_profile_changes_profile ON profile_changes(profile_id);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		embedding TEXT NOT NULL,
		terms TEXT NOT NULL,
		metadata TEXT,
		profile_id TEXT NOT NULL DEFAULT '',
		avg_feedback_score REAL NOT NULL DEFAULT 0,
		num_feedback INTEGER NOT NULL DEFAULT 0,
		retrieval_count INTEGER NOT NULL DEFAULT 0,
		click_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(fingerprint, profile_id)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_profile ON chunks(profile_id);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		query_text TEXT NOT NULL,
		profile_id TEXT,
		profile_snapshot TEXT,
		response TEXT,
		allowed INTEGER NOT NULL DEFAULT 0,
		user_id TEXT,
		session_id TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_user ON query_history(user_id);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);

	CREATE TABLE IF NOT EXISTS query_chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		chunk_id TEXT NOT NULL,
		rank INTEGER NOT NULL,
		score REAL,
		source_url TEXT,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_query_chunks_query ON query_chunks(query_id);
	CREATE INDEX IF NOT EXISTS idx_query_chunks_chunk ON query_chunks(chunk_id);

	CREATE TABLE IF NOT EXISTS query_metrics (
		query_id TEXT PRIMARY KEY,
		embedding_latency_ms INTEGER,
		retrieval_latency_ms INTEGER,
		generation_latency_ms INTEGER,
		total_latency_ms INTEGER,
		embedding_cost_usd REAL,
		generation_cost_usd REAL,
		chunks_retrieved INTEGER,
		chunks_used INTEGER,
		avg_chunk_score REAL,
		tokens_used INTEGER,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		score INTEGER NOT NULL,
		comment TEXT,
		user_id TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_query ON feedback(query_id);
	CREATE INDEX IF NOT EXISTS idx_feedback_created ON feedback(created_at);

	CREATE TABLE IF NOT EXISTS profile_rollups (
		profile_id TEXT PRIMARY KEY,
		query_count INTEGER NOT NULL,
		allowed_count INTEGER NOT NULL,
		avg_latency_ms REAL,
		avg_chunk_score REAL,
		avg_feedback_score REAL,
		feedback_count INTEGER,
		total_cost_usd REAL,
		computed_at INTEGER NOT NULL
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertProfile(p *models.Profile) error {
	provider, _ := json.Marshal(p.Provider)
	chunking, _ := json.Marshal(p.Chunking)
	retrieval, _ := json.Marshal(p.Retrieval)
	generation, _ := json.Marshal(p.Generation)
	system, _ := json.Marshal(p.System)

	active := 0
	if p.Active {
		active = 1
	}

	query := `
		INSERT INTO profiles (id, name, version, parent_id, provider_config, chunking_config,
			retrieval_config, generation_config, system_config, active, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		p.ID,
		p.Name,
		p.Version,
		p.ParentID,
		string(provider),
		string(chunking),
		string(retrieval),
		string(generation),
		string(system),
		active,
		p.CreatedBy,
		p.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}

	logger.Info("Profile created",
		zap.String("profile_id", p.ID),
		zap.String("name", p.Name),
		zap.String("version", p.Version),
	)

	return nil
}

func (c *Client) scanProfile(row *sql.Row) (*models.Profile, error) {
	var p models.Profile
	var parentID, createdBy sql.NullString
	var provider, chunking, retrieval, generation, system string
	var active int
	var createdAt int64

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Version,
		&parentID,
		&provider,
		&chunking,
		&retrieval,
		&generation,
		&system,
		&active,
		&createdBy,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	p.ParentID = parentID.String
	p.CreatedBy = createdBy.String
	p.Active = active == 1
	p.CreatedAt = time.Unix(createdAt, 0)

	json.Unmarshal([]byte(provider), &p.Provider)
	json.Unmarshal([]byte(chunking), &p.Chunking)
	json.Unmarshal([]byte(retrieval), &p.Retrieval)
	json.Unmarshal([]byte(generation), &p.Generation)
	json.Unmarshal([]byte(system), &p.System)

	return &p, nil
}

const profileColumns = `id, name, version, parent_id, provider_config, chunking_config,
	retrieval_config, generation_config, system_config, active, created_by, created_at`

func (c *Client) GetProfile(id string) (*models.Profile, error) {
	row := c.db.QueryRow(`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)

	p, err := c.scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, toolerr.NewNotFound("profile", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return p, nil
}

func (c *Client) GetActiveProfile(name string) (*models.Profile, error) {
	row := c.db.QueryRow(
		`SELECT `+profileColumns+` FROM profiles WHERE name = ? AND active = 1 ORDER BY created_at DESC LIMIT 1`,
		name,
	)

	p, err := c.scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, toolerr.NewNotFound("active profile", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active profile: %w", err)
	}

	return p, nil
}

func (c *Client) DeactivateProfiles(name string) error {
	_, err := c.db.Exec(`UPDATE profiles SET active = 0 WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to deactivate profiles: %w", err)
	}
	return nil
}

// ProfileReferenced reports whether any chunk or query pins the profile.
func (c *Client) ProfileReferenced(id string) (bool, error) {
	var n int
	err := c.db.QueryRow(
		`SELECT (SELECT COUNT(*) FROM chunks WHERE profile_id = ?) +
			(SELECT COUNT(*) FROM query_history WHERE profile_id = ?)`,
		id, id,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count profile references: %w", err)
	}
	return n > 0, nil
}

func (c *Client) InsertProfileChange(change *models.ProfileChange) error {
	query := `
		INSERT INTO profile_changes (profile_id, parameter_path, old_value, new_value, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		change.ProfileID,
		change.ParameterPath,
		change.OldValue,
		change.NewValue,
		change.Reason,
		time.Now().Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert profile change: %w", err)
	}

	return nil
}

// UpsertChunk inserts the chunk unless one with the same (fingerprint,
// profile) already exists, and returns the surviving row either way. The
// conditional insert makes concurrent upserts of identical content resolve
// to a single chunk without surfacing a uniqueness violation.
func (c *Client) UpsertChunk(chunk *models.Chunk) (*models.Chunk, bool, error) {
	embedding, _ := json.Marshal(chunk.Embedding)
	terms, _ := json.Marshal(chunk.Terms)
	metadata, _ := json.Marshal(chunk.Metadata)

	query := `
		INSERT INTO chunks (id, text, fingerprint, embedding, terms, metadata, profile_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint, profile_id) DO NOTHING
	`

	res, err := c.db.Exec(
		query,
		chunk.ID,
		chunk.Text,
		chunk.Fingerprint,
		string(embedding),
		string(terms),
		string(metadata),
		chunk.ProfileID,
		chunk.CreatedAt.Unix(),
		chunk.UpdatedAt.Unix(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert chunk: %w", err)
	}

	inserted, _ := res.RowsAffected()

	existing, err := c.GetChunkByFingerprint(chunk.Fingerprint, chunk.ProfileID)
	if err != nil {
		return nil, false, err
	}

	return existing, inserted > 0, nil
}

const chunkColumns = `id, text, fingerprint, embedding, terms, metadata, profile_id,
	avg_feedback_score, num_feedback, retrieval_count, click_count, created_at, updated_at`

func scanChunk(scan func(dest ...interface{}) error) (*models.Chunk, error) {
	var ch models.Chunk
	var embedding, terms string
	var metadata sql.NullString
	var createdAt, updatedAt int64

	err := scan(
		&ch.ID,
		&ch.Text,
		&ch.Fingerprint,
		&embedding,
		&terms,
		&metadata,
		&ch.ProfileID,
		&ch.AvgFeedbackScore,
		&ch.NumFeedback,
		&ch.RetrievalCount,
		&ch.ClickCount,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(embedding), &ch.Embedding)
	json.Unmarshal([]byte(terms), &ch.Terms)
	if metadata.Valid {
		json.Unmarshal([]byte(metadata.String), &ch.Metadata)
	}
	ch.CreatedAt = time.Unix(createdAt, 0)
	ch.UpdatedAt = time.Unix(updatedAt, 0)

	return &ch, nil
}

func (c *Client) GetChunk(id string) (*models.Chunk, error) {
	row := c.db.QueryRow(`SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)

	ch, err := scanChunk(row.Scan)
	if err == sql.ErrNoRows {
		return nil, toolerr.NewNotFound("chunk", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}

	return ch, nil
}

func (c *Client) GetChunkByFingerprint(fingerprint, profileID string) (*models.Chunk, error) {
	row := c.db.QueryRow(
		`SELECT `+chunkColumns+` FROM chunks WHERE fingerprint = ? AND profile_id = ?`,
		fingerprint, profileID,
	)

	ch, err := scanChunk(row.Scan)
	if err == sql.ErrNoRows {
		return nil, toolerr.NewNotFound("chunk", fingerprint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk by fingerprint: %w", err)
	}

	return ch, nil
}

// ListChunks returns every chunk visible to the profile: rows owned by it
// plus profile-agnostic rows.
func (c *Client) ListChunks(profileID string) ([]*models.Chunk, error) {
	rows, err := c.db.Query(
		`SELECT `+chunkColumns+` FROM chunks WHERE profile_id = ? OR profile_id = '' ORDER BY id`,
		profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		ch, err := scanChunk(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, ch)
	}

	return chunks, rows.Err()
}

func (c *Client) CountChunks(profileID string) (int, error) {
	var n int
	err := c.db.QueryRow(
		`SELECT COUNT(*) FROM chunks WHERE profile_id = ? OR profile_id = ''`, profileID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (c *Client) IncrementRetrievalCounts(chunkIDs []string) error {
	for _, id := range chunkIDs {
		_, err := c.db.Exec(
			`UPDATE chunks SET retrieval_count = retrieval_count + 1, updated_at = ? WHERE id = ?`,
			time.Now().Unix(), id,
		)
		if err != nil {
			return fmt.Errorf("failed to bump retrieval count: %w", err)
		}
	}
	return nil
}

func (c *Client) InsertQueryRecord(record *models.QueryRecord) error {
	snapshot, _ := json.Marshal(record.ProfileSnapshot)

	allowed := 0
	if record.Allowed {
		allowed = 1
	}

	query := `
		INSERT INTO query_history (id, query_text, profile_id, profile_snapshot, response,
			allowed, user_id, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		record.ID,
		record.QueryText,
		record.ProfileID,
		string(snapshot),
		record.Response,
		allowed,
		record.UserID,
		record.SessionID,
		record.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Info("Query recorded",
		zap.String("query_id", record.ID),
		zap.Bool("allowed", record.Allowed),
	)

	return nil
}

func (c *Client) QueryExists(id string) (bool, error) {
	var n int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM query_history WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check query: %w", err)
	}
	return n > 0, nil
}

func (c *Client) InsertQueryChunks(queryID string, refs []models.QueryChunk) error {
	for _, ref := range refs {
		_, err := c.db.Exec(
			`INSERT INTO query_chunks (query_id, chunk_id, rank, score, source_url) VALUES (?, ?, ?, ?, ?)`,
			queryID, ref.ChunkID, ref.Rank, ref.Score, ref.SourceURL,
		)
		if err != nil {
			return fmt.Errorf("failed to insert query chunk: %w", err)
		}
	}
	return nil
}

func (c *Client) GetQueryChunkIDs(queryID string) ([]string, error) {
	rows, err := c.db.Query(
		`SELECT chunk_id FROM query_chunks WHERE query_id = ? ORDER BY rank`, queryID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get query chunks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (c *Client) InsertQueryMetrics(m *models.QueryMetrics) error {
	query := `
		INSERT INTO query_metrics (query_id, embedding_latency_ms, retrieval_latency_ms,
			generation_latency_ms, total_latency_ms, embedding_cost_usd, generation_cost_usd,
			chunks_retrieved, chunks_used, avg_chunk_score, tokens_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		m.QueryID,
		m.EmbeddingLatencyMS,
		m.RetrievalLatencyMS,
		m.GenerationLatencyMS,
		m.TotalLatencyMS,
		m.EmbeddingCostUSD,
		m.GenerationCostUSD,
		m.ChunksRetrieved,
		m.ChunksUsed,
		m.AvgChunkScore,
		m.TokensUsed,
		m.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert query metrics: %w", err)
	}

	return nil
}

func (c *Client) GetQueryMetrics(queryID string) (*models.QueryMetrics, error) {
	row := c.db.QueryRow(
		`SELECT query_id, embedding_latency_ms, retrieval_latency_ms, generation_latency_ms,
			total_latency_ms, embedding_cost_usd, generation_cost_usd, chunks_retrieved,
			chunks_used, avg_chunk_score, tokens_used
		 FROM query_metrics WHERE query_id = ?`,
		queryID,
	)

	var m models.QueryMetrics
	err := row.Scan(
		&m.QueryID,
		&m.EmbeddingLatencyMS,
		&m.RetrievalLatencyMS,
		&m.GenerationLatencyMS,
		&m.TotalLatencyMS,
		&m.EmbeddingCostUSD,
		&m.GenerationCostUSD,
		&m.ChunksRetrieved,
		&m.ChunksUsed,
		&m.AvgChunkScore,
		&m.TokensUsed,
	)
	if err == sql.ErrNoRows {
		return nil, toolerr.NewNotFound("query metrics", queryID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get query metrics: %w", err)
	}

	return &m, nil
}

func (c *Client) InsertFeedback(f *models.Feedback) error {
	query := `INSERT INTO feedback (query_id, score, comment, user_id, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.Exec(
		query,
		f.QueryID,
		f.Score,
		f.Comment,
		f.UserID,
		time.Now().Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}

	logger.Info("Feedback stored",
		zap.String("query_id", f.QueryID),
		zap.Int("score", f.Score),
	)

	return nil
}

// RecomputeChunkFeedback rebuilds the chunk's quality stats from every
// feedback row on every query that retrieved it. The read and write run in
// one transaction; callers serialize per chunk.
func (c *Client) RecomputeChunkFeedback(chunkID string) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var avg sql.NullFloat64
	var count int
	err = tx.QueryRow(
		`SELECT AVG(f.score), COUNT(f.id)
		 FROM feedback f
		 WHERE f.query_id IN (SELECT query_id FROM query_chunks WHERE chunk_id = ?)`,
		chunkID,
	).Scan(&avg, &count)
	if err != nil {
		return fmt.Errorf("failed to aggregate feedback: %w", err)
	}

	_, err = tx.Exec(
		`UPDATE chunks SET avg_feedback_score = ?, num_feedback = ?, updated_at = ? WHERE id = ?`,
		avg.Float64, count, time.Now().Unix(), chunkID,
	)
	if err != nil {
		return fmt.Errorf("failed to update chunk stats: %w", err)
	}

	return tx.Commit()
}

func (c *Client) GetQueryHistory(userID string, limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT id, query_text, response, allowed, created_at
		FROM query_history
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var allowed int
		var createdAt int64

		err := rows.Scan(&r.ID, &r.QueryText, &r.Response, &allowed, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Allowed = allowed == 1
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, rows.Err()
}

// RecomputeRollups rebuilds the per-profile analytics aggregates from the
// ledger. It replaces whole rows, so a crashed run leaves the previous
// aggregate intact.
func (c *Client) RecomputeRollups() error {
	query := `
		INSERT OR REPLACE INTO profile_rollups (profile_id, query_count, allowed_count,
			avg_latency_ms, avg_chunk_score, avg_feedback_score, feedback_count,
			total_cost_usd, computed_at)
		SELECT
			q.profile_id,
			COUNT(DISTINCT q.id),
			SUM(q.allowed),
			AVG(m.total_latency_ms),
			AVG(m.avg_chunk_score),
			(SELECT AVG(f.score) FROM feedback f
				WHERE f.query_id IN (SELECT id FROM query_history WHERE profile_id = q.profile_id)),
			(SELECT COUNT(*) FROM feedback f
				WHERE f.query_id IN (SELECT id FROM query_history WHERE profile_id = q.profile_id)),
			SUM(COALESCE(m.embedding_cost_usd, 0) + COALESCE(m.generation_cost_usd, 0)),
			?
		FROM query_history q
		LEFT JOIN query_metrics m ON m.query_id = q.id
		WHERE q.profile_id IS NOT NULL AND q.profile_id != ''
		GROUP BY q.profile_id
	`

	_, err := c.db.Exec(query, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to recompute rollups: %w", err)
	}

	return nil
}

func (c *Client) ListRollups() ([]models.ProfileRollup, error) {
	rows, err := c.db.Query(
		`SELECT profile_id, query_count, allowed_count, avg_latency_ms, avg_chunk_score,
			avg_feedback_score, feedback_count, total_cost_usd, computed_at
		 FROM profile_rollups ORDER BY profile_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rollups: %w", err)
	}
	defer rows.Close()

	var rollups []models.ProfileRollup
	for rows.Next() {
		var r models.ProfileRollup
		var avgLatency, avgScore, avgFeedback, totalCost sql.NullFloat64
		var feedbackCount sql.NullInt64
		var computedAt int64

		err := rows.Scan(&r.ProfileID, &r.QueryCount, &r.AllowedCount, &avgLatency,
			&avgScore, &avgFeedback, &feedbackCount, &totalCost, &computedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.AvgLatencyMS = avgLatency.Float64
		r.AvgChunkScore = avgScore.Float64
		r.AvgFeedbackScore = avgFeedback.Float64
		r.FeedbackCount = int(feedbackCount.Int64)
		r.TotalCostUSD = totalCost.Float64
		r.ComputedAt = time.Unix(computedAt, 0)
		rollups = append(rollups, r)
	}

	return rollups, rows.Err()
}

package catalog

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	_ "modernc.org/sqlite"

	"github.com/hurttlocker/cvegs/internal/normalize"
)

// Store reads catalog snapshots from the external catalog database.
// The codifier never writes to it.
type Store interface {
	// LatestVersion returns the newest version whose status is active or
	// loaded. Returns ErrNoActiveVersion when the table is empty.
	LatestVersion(ctx context.Context) (int64, error)
	// LoadVersion returns every record of the given version, with text
	// fields normalized and embeddings L2-normalized.
	LoadVersion(ctx context.Context, version int64) ([]Record, error)
	Close() error
}

// ErrNoActiveVersion indicates the catalog store has no usable snapshot.
var ErrNoActiveVersion = fmt.Errorf("catalog: no active version")

// SQLiteStore implements Store over a sqlite catalog file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenStore opens the catalog database. Pass ":memory:" for tests.
func OpenStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("catalog db path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging catalog database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring catalog schema: %w", err)
	}
	return s, nil
}

// ensureSchema creates the catalog tables when absent, so a fresh local
// database (tests, dev) is queryable. Production databases are produced by
// the catalog ETL with the same shape.
func (s *SQLiteStore) ensureSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS catalog_versions (
			version INTEGER PRIMARY KEY,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS catalog_records (
			cvegs TEXT NOT NULL,
			marca TEXT NOT NULL DEFAULT '',
			submarca TEXT NOT NULL DEFAULT '',
			tipveh TEXT NOT NULL DEFAULT '',
			modelo INTEGER NOT NULL,
			descveh TEXT NOT NULL DEFAULT '',
			embedding BLOB,
			catalog_version INTEGER NOT NULL,
			PRIMARY KEY (catalog_version, cvegs)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_catalog_records_version_modelo
			ON catalog_records(catalog_version, modelo)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the underlying handle for test fixtures.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// LatestVersion picks the largest qualifying version.
func (s *SQLiteStore) LatestVersion(ctx context.Context) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM catalog_versions
		 WHERE status IN ('active', 'loaded')
		 ORDER BY version DESC LIMIT 1`,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, ErrNoActiveVersion
	}
	if err != nil {
		return 0, fmt.Errorf("querying latest catalog version: %w", err)
	}
	return version, nil
}

// LoadVersion streams all rows of a version into memory.
func (s *SQLiteStore) LoadVersion(ctx context.Context, version int64) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cvegs, marca, submarca, tipveh, modelo, descveh, embedding
		 FROM catalog_records WHERE catalog_version = ?`,
		version,
	)
	if err != nil {
		return nil, fmt.Errorf("querying catalog version %d: %w", version, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var blob []byte
		if err := rows.Scan(&r.CVEGS, &r.Marca, &r.Submarca, &r.Tipveh, &r.Modelo, &r.Descveh, &blob); err != nil {
			return nil, fmt.Errorf("scanning catalog record: %w", err)
		}
		r.Version = version
		r.Marca = normalize.Text(r.Marca)
		r.Submarca = normalize.Text(r.Submarca)
		r.Tipveh = normalize.Text(r.Tipveh)
		r.Descveh = normalize.Text(r.Descveh)
		if len(blob) > 0 {
			r.Embedding = l2Normalize(bytesToFloat32(blob))
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating catalog records: %w", err)
	}
	return records, nil
}

// Float32ToBytes encodes a vector as little-endian float32s, the format the
// catalog ETL writes. Exported for test fixtures.
func Float32ToBytes(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func bytesToFloat32(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

// l2Normalize scales a vector to unit length so cosine similarity reduces to
// a dot product. Zero vectors are returned unchanged.
func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1.0 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

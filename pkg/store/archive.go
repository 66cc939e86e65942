package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/Electron-Labs/nitro-attestation/pkg/types"
)

// ErrEmptyArchive is returned by Latest before anything has been recorded.
var ErrEmptyArchive = fmt.Errorf("%w: archive has no records", types.ErrLookup)

// Record is one archived fetch.
type Record struct {
	ID           int64
	FetchedAt    time.Time
	Addr         types.Address
	ModuleID     string
	DocTimestamp uint64
	PCRIndex     uint
	PCR          []byte
	Document     []byte
}

// Archive keeps every fetched document in a SQLite database.
type Archive struct {
	db *sql.DB
}

// OpenArchive creates or opens the SQLite database at filename.
func OpenArchive(filename string) (*Archive, error) {
	connector, err := (&driver.SQLite{}).OpenConnector("file:" + filepath.Clean(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := Init(db); err != nil {
		return nil, err
	}
	return NewArchive(db), nil
}

// NewArchive wraps an already initialized database.
func NewArchive(db *sql.DB) *Archive { return &Archive{db: db} }

// Init creates the archive tables. It does not check the schema of tables
// that already exist.
func Init(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS attestations
			( id INTEGER PRIMARY KEY AUTOINCREMENT
			, fetched_at INTEGER NOT NULL
			, cid INTEGER NOT NULL
			, port INTEGER NOT NULL
			, module_id TEXT NOT NULL
			, doc_timestamp INTEGER NOT NULL
			, pcr_index INTEGER NOT NULL
			, pcr BLOB NOT NULL
			, document BLOB NOT NULL
			)`,
		`CREATE INDEX IF NOT EXISTS attestations_fetched_at
			ON attestations(fetched_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (a *Archive) Close() error { return a.db.Close() }

// Record stores rec and returns its row id. A zero FetchedAt is set to now.
func (a *Archive) Record(ctx context.Context, rec Record) (int64, error) {
	if rec.FetchedAt.IsZero() {
		rec.FetchedAt = time.Now()
	}
	res, err := a.db.ExecContext(ctx,
		`INSERT INTO attestations
			(fetched_at, cid, port, module_id, doc_timestamp, pcr_index, pcr, document)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.FetchedAt.UnixMilli(),
		int64(rec.Addr.CID),
		int64(rec.Addr.Port),
		rec.ModuleID,
		int64(rec.DocTimestamp),
		int64(rec.PCRIndex),
		rec.PCR,
		rec.Document,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert attestation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted row id: %w", err)
	}
	return id, nil
}

// Latest returns the most recently recorded fetch.
func (a *Archive) Latest(ctx context.Context) (*Record, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT id, fetched_at, cid, port, module_id, doc_timestamp, pcr_index, pcr, document
			FROM attestations
			ORDER BY fetched_at DESC, id DESC
			LIMIT 1`)

	var rec Record
	var fetchedAt, cid, port, docTS, pcrIndex int64
	err := row.Scan(&rec.ID, &fetchedAt, &cid, &port, &rec.ModuleID, &docTS, &pcrIndex, &rec.PCR, &rec.Document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmptyArchive
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest attestation: %w", err)
	}

	rec.FetchedAt = time.UnixMilli(fetchedAt)
	rec.Addr = types.Address{CID: uint32(cid), Port: uint32(port)}
	rec.DocTimestamp = uint64(docTS)
	rec.PCRIndex = uint(pcrIndex)
	return &rec, nil
}

// Count returns the number of archived fetches.
func (a *Archive) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attestations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count attestations: %w", err)
	}
	return n, nil
}

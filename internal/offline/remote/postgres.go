package remote

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/koinonia-app/koinonia/internal/offline/schema"
)

const (
	postgresDevotionalsTable = "devotionals"
	postgresDefaultTimeout   = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// Postgres writes devotionals over a direct database connection.
type Postgres struct {
	dsn     string
	timeout time.Duration
	openDB  sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgres returns a store for dsn. The connection is opened lazily on
// first use. A zero timeout uses a five second default per operation.
func NewPostgres(dsn string, timeout time.Duration) (*Postgres, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("remote: postgres dsn is required")
	}
	if timeout <= 0 {
		timeout = postgresDefaultTimeout
	}
	return &Postgres{dsn: dsn, timeout: timeout, openDB: sql.Open}, nil
}

// NewPostgresFromDB wraps an existing pool.
func NewPostgresFromDB(db *sql.DB, timeout time.Duration) *Postgres {
	if timeout <= 0 {
		timeout = postgresDefaultTimeout
	}
	p := &Postgres{db: db, timeout: timeout}
	p.initOnce.Do(func() {})
	return p
}

func (p *Postgres) ensureReady() error {
	p.initOnce.Do(func() {
		db, err := p.openDB("postgres", p.dsn)
		if err != nil {
			p.initErr = err
			return
		}
		db.SetMaxOpenConns(4)
		db.SetConnMaxIdleTime(time.Minute)
		p.db = db
	})
	return p.initErr
}

// Ping reads one row id from the devotionals table.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	query := fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", postgresQuoteIdentifier(postgresDevotionalsTable))
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	return rows.Err()
}

// InsertDevotional inserts row and lets the database assign the id.
func (p *Postgres) InsertDevotional(ctx context.Context, row schema.Row) (schema.Record, error) {
	if err := p.ensureReady(); err != nil {
		return schema.Record{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (title, content, date, scripture, image_src, transmission_link, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, '')::uuid, $8, $9)
		RETURNING id::text, title, content, date::text, scripture, COALESCE(image_src, ''),
			transmission_link, COALESCE(user_id::text, ''), created_at, updated_at`,
		postgresQuoteIdentifier(postgresDevotionalsTable))

	var rec schema.Record
	err := p.db.QueryRowContext(ctx, query,
		row.Title, row.Content, row.Date, row.Scripture, row.ImageSrc,
		row.TransmissionLink, row.UserID, row.CreatedAt, row.UpdatedAt,
	).Scan(
		&rec.ID, &rec.Title, &rec.Content, &rec.Date, &rec.Scripture, &rec.ImageSrc,
		&rec.TransmissionLink, &rec.UserID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return schema.Record{}, err
	}
	return rec, nil
}

func (p *Postgres) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func postgresQuoteIdentifier(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

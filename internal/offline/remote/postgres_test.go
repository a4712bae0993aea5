package remote

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"os"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koinonia-app/koinonia/internal/offline/schema"
)

// stubConnector is a database/sql connector that records every query and
// answers from canned rows.
type stubConnector struct {
	mu      gosync.Mutex
	queries []string
	args    [][]driver.Value

	columns []string
	rows    [][]driver.Value
	err     error
}

func (c *stubConnector) Connect(context.Context) (driver.Conn, error) { return &stubConn{c: c}, nil }
func (c *stubConnector) Driver() driver.Driver { return stubDriver{} }

func (c *stubConnector) lastArgs() []driver.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.args) == 0 {
		return nil
	}
	return c.args[len(c.args)-1]
}

func (c *stubConnector) lastQuery() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queries) == 0 {
		return ""
	}
	return c.queries[len(c.queries)-1]
}

type stubDriver struct{}

func (stubDriver) Open(string) (driver.Conn, error) { return nil, errors.New("use the connector") }

type stubConn struct{ c *stubConnector }

func (s *stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("prepare not supported") }
func (s *stubConn) Close() error { return nil }
func (s *stubConn) Begin() (driver.Tx, error) { return nil, errors.New("transactions not supported") }

func (s *stubConn) QueryContext(_ context.Context, query string, named []driver.NamedValue) (driver.Rows, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	args := make([]driver.Value, len(named))
	for i, nv := range named {
		args[i] = nv.Value
	}
	s.c.queries = append(s.c.queries, query)
	s.c.args = append(s.c.args, args)
	if s.c.err != nil {
		return nil, s.c.err
	}
	return &stubRows{columns: s.c.columns, rows: s.c.rows}, nil
}

type stubRows struct {
	columns []string
	rows    [][]driver.Value
	next    int
}

func (r *stubRows) Columns() []string { return r.columns }
func (r *stubRows) Close() error { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.next >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.next])
	r.next++
	return nil
}

func newStubPostgres(t *testing.T, c *stubConnector) *Postgres {
	t.Helper()
	db := sql.OpenDB(c)
	p := NewPostgresFromDB(db, time.Second)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

var insertColumns = []string{
	"id", "title", "content", "date", "scripture", "image_src",
	"transmission_link", "user_id", "created_at", "updated_at",
}

func TestPostgres_InsertDevotional(t *testing.T) {
	stamp := time.Date(2024, 1, 6, 8, 0, 0, 0, time.UTC)
	c := &stubConnector{
		columns: insertColumns,
		rows: [][]driver.Value{{
			"42", "Morning", "Psalm 23", "2024-01-07", "Psalm 23:1", "",
			"https://live.example.org/1", "", stamp, stamp,
		}},
	}
	p := newStubPostgres(t, c)

	row := schema.Row{
		Title:            "Morning",
		Content:          "Psalm 23",
		Date:             "2024-01-07",
		Scripture:        "Psalm 23:1",
		TransmissionLink: "https://live.example.org/1",
		CreatedAt:        stamp,
		UpdatedAt:        stamp,
	}
	rec, err := p.InsertDevotional(context.Background(), row)
	require.NoError(t, err)

	assert.Equal(t, "42", rec.ID)
	assert.Equal(t, "Morning", rec.Title)
	assert.Equal(t, "Psalm 23", rec.Content)
	assert.Equal(t, "2024-01-07", rec.Date)
	assert.Equal(t, "https://live.example.org/1", rec.TransmissionLink)
	assert.Empty(t, rec.ImageSrc)
	assert.Empty(t, rec.UserID)
	assert.True(t, stamp.Equal(rec.CreatedAt))

	query := c.lastQuery()
	assert.Contains(t, query, `INSERT INTO "devotionals"`)
	assert.Contains(t, query, `NULLIF($5, '')`)
	assert.Contains(t, query, `NULLIF($7, '')::uuid`)
	assert.Contains(t, query, "RETURNING id::text")

	args := c.lastArgs()
	require.Len(t, args, 9)
	assert.Equal(t, []driver.Value{
		"Morning", "Psalm 23", "2024-01-07", "Psalm 23:1", "",
		"https://live.example.org/1", "",
	}, args[:7])
	assert.Equal(t, stamp, args[7])
	assert.Equal(t, stamp, args[8])
}

func TestPostgres_InsertNoRows(t *testing.T) {
	p := newStubPostgres(t, &stubConnector{columns: insertColumns})

	_, err := p.InsertDevotional(context.Background(), schema.Row{Title: "T", Content: "body"})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestPostgres_Ping(t *testing.T) {
	c := &stubConnector{columns: []string{"?column?"}, rows: [][]driver.Value{{int64(1)}}}
	p := newStubPostgres(t, c)

	require.NoError(t, p.Ping(context.Background()))
	assert.Equal(t, `SELECT 1 FROM "devotionals" LIMIT 1`, c.lastQuery())
}

func TestPostgres_ErrorsClassifyThroughWriter(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"unique violation", &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}, KindConflict},
		{"not null violation", &pq.Error{Code: "23502", Message: "null value in column"}, KindValidation},
		{"insufficient privilege", &pq.Error{Code: "42501", Message: "permission denied"}, KindPermission},
		{"bad connection", driver.ErrBadConn, KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newStubPostgres(t, &stubConnector{err: tt.err})
			w := NewWriter(p, nil)

			_, err := w.WriteOne(context.Background(), schema.Draft{Title: "T", Text: "body"})
			require.Error(t, err)
			assert.Equal(t, tt.want, Classify(err))
		})
	}
}

func TestNewPostgres_LazyOpen(t *testing.T) {
	c := &stubConnector{columns: []string{"?column?"}, rows: [][]driver.Value{{int64(1)}}}
	p, err := NewPostgres("postgres://localhost/koinonia", 0)
	require.NoError(t, err)
	assert.Equal(t, postgresDefaultTimeout, p.timeout)

	opened := 0
	p.openDB = func(driverName, dsn string) (*sql.DB, error) {
		opened++
		assert.Equal(t, "postgres", driverName)
		assert.Equal(t, "postgres://localhost/koinonia", dsn)
		return sql.OpenDB(c), nil
	}
	defer p.Close()

	require.NoError(t, p.Ping(context.Background()))
	require.NoError(t, p.Ping(context.Background()))
	assert.Equal(t, 1, opened, "the pool is opened once")

	_, err = NewPostgres("  ", 0)
	assert.Error(t, err)
}

func TestNewPostgres_OpenFailure(t *testing.T) {
	p, err := NewPostgres("postgres://localhost/koinonia", time.Second)
	require.NoError(t, err)
	p.openDB = func(string, string) (*sql.DB, error) { return nil, errors.New("boom") }

	assert.EqualError(t, p.Ping(context.Background()), "boom")
	_, err = p.InsertDevotional(context.Background(), schema.Row{})
	assert.EqualError(t, err, "boom")
}

// TestPostgres_Live runs against a real database when
// KOINONIA_TEST_POSTGRES_DSN points at one with a devotionals table.
func TestPostgres_Live(t *testing.T) {
	dsn := os.Getenv("KOINONIA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("KOINONIA_TEST_POSTGRES_DSN not set")
	}

	p, err := NewPostgres(dsn, 5*time.Second)
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Ping(ctx))

	now := time.Now().UTC().Truncate(time.Second)
	rec, err := p.InsertDevotional(ctx, schema.Row{
		Title:     "live test " + now.Format(time.RFC3339),
		Content:   "body",
		Date:      now.Format(schema.DateLayout),
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.True(t, strings.HasPrefix(rec.Title, "live test "))
	assert.Empty(t, rec.UserID)
}

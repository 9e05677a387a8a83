package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rhuss/crane/pkg/api"
	"github.com/rhuss/crane/pkg/server"
	"github.com/rhuss/crane/pkg/storage"
	"github.com/rhuss/crane/pkg/storage/postgres"
	"github.com/rhuss/crane/pkg/storage/sqlite"
	"github.com/rhuss/crane/pkg/transport"
)

type note struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

var errNoteNotFound = errors.New("note not found")

// noteStore runs queries on the connection bound to the request context.
type noteStore interface {
	Migrate(ctx context.Context) error
	Insert(ctx context.Context, text string) (note, error)
	Get(ctx context.Context, id int64) (note, error)
	List(ctx context.Context) ([]note, error)
	DeleteAll(ctx context.Context) (int64, error)
}

func newNoteStore(driver string) noteStore {
	if driver == storage.DriverPostgres {
		return pgNotes{}
	}
	return sqliteNotes{}
}

func registerRoutes(srv *server.Server, notes noteStore) {
	srv.Get("/ping", func(c *transport.Context) error {
		return c.Text(http.StatusOK, "pong")
	})
	if notes == nil {
		return
	}

	h := noteHandlers{store: notes}
	srv.Get("/notes", h.list)
	srv.Get("/note", h.get)
	srv.PostTransactional("/notes", h.create)
	srv.PostTransactional("/notes/batch", h.createBatch)
	srv.DeleteTransactional("/notes", h.deleteAll)
}

type noteHandlers struct {
	store noteStore
}

type createNoteRequest struct {
	Text string `json:"text"`
}

func (h noteHandlers) list(c *transport.Context) error {
	notes, err := h.store.List(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, api.OK(notes))
}

func (h noteHandlers) get(c *transport.Context) error {
	id, err := strconv.ParseInt(c.QueryParam("id"), 10, 64)
	if err != nil {
		return api.NewInvalidRequestError("id", "must be an integer")
	}
	n, err := h.store.Get(c.Context(), id)
	if errors.Is(err, errNoteNotFound) {
		return c.JSON(http.StatusNotFound, api.NotFound())
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, api.OK(n))
}

func (h noteHandlers) create(c *transport.Context) error {
	var req createNoteRequest
	if err := c.BindJSON(&req); err != nil {
		return err
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return api.NewInvalidRequestError("text", "must not be empty")
	}

	n, err := h.store.Insert(c.Context(), text)
	if errors.Is(err, storage.ErrConflict) {
		// Returned rather than written so the transaction rolls back.
		return api.NewInvalidRequestError("text", "already exists")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, api.Saved(n))
}

// createBatch inserts every note or none of them.
func (h noteHandlers) createBatch(c *transport.Context) error {
	var req []createNoteRequest
	if err := c.BindJSON(&req); err != nil {
		return err
	}

	saved := make([]note, 0, len(req))
	for i, r := range req {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			return api.NewInvalidRequestError("["+strconv.Itoa(i)+"].text", "must not be empty")
		}
		n, err := h.store.Insert(c.Context(), text)
		if errors.Is(err, storage.ErrConflict) {
			return api.NewInvalidRequestError("["+strconv.Itoa(i)+"].text", "already exists")
		}
		if err != nil {
			return err
		}
		saved = append(saved, n)
	}
	return c.JSON(http.StatusCreated, api.Saved(saved))
}

func (h noteHandlers) deleteAll(c *transport.Context) error {
	if _, err := h.store.DeleteAll(c.Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, api.Deleted())
}

type pgNotes struct{}

func (pgNotes) Migrate(ctx context.Context) error {
	conn, err := postgres.FromContext(ctx)
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS notes (
		id         BIGSERIAL PRIMARY KEY,
		body       TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	return err
}

func (pgNotes) Insert(ctx context.Context, text string) (note, error) {
	conn, err := postgres.FromContext(ctx)
	if err != nil {
		return note{}, err
	}
	if _, err := conn.Exec(ctx, `INSERT INTO notes (body) VALUES ($1)`, text); err != nil {
		return note{}, err
	}
	n := note{Text: text}
	err = conn.QueryRow(ctx, `SELECT id, created_at FROM notes WHERE body = $1`, text).Scan(&n.ID, &n.CreatedAt)
	return n, err
}

func (pgNotes) Get(ctx context.Context, id int64) (note, error) {
	conn, err := postgres.FromContext(ctx)
	if err != nil {
		return note{}, err
	}
	n := note{ID: id}
	err = conn.QueryRow(ctx, `SELECT body, created_at FROM notes WHERE id = $1`, id).Scan(&n.Text, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return note{}, errNoteNotFound
	}
	return n, err
}

func (pgNotes) List(ctx context.Context) ([]note, error) {
	conn, err := postgres.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.Query(ctx, `SELECT id, body, created_at FROM notes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (note, error) {
		var n note
		err := row.Scan(&n.ID, &n.Text, &n.CreatedAt)
		return n, err
	})
}

func (pgNotes) DeleteAll(ctx context.Context) (int64, error) {
	conn, err := postgres.FromContext(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := conn.Exec(ctx, `DELETE FROM notes`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type sqliteNotes struct{}

func (sqliteNotes) Migrate(ctx context.Context) error {
	conn, err := sqlite.FromContext(ctx)
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS notes (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		body       TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func (sqliteNotes) Insert(ctx context.Context, text string) (note, error) {
	conn, err := sqlite.FromContext(ctx)
	if err != nil {
		return note{}, err
	}
	now := time.Now().UTC()
	res, err := conn.Exec(ctx, `INSERT INTO notes (body, created_at) VALUES (?, ?)`, text, now)
	if err != nil {
		return note{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return note{}, err
	}
	return note{ID: id, Text: text, CreatedAt: now}, nil
}

func (sqliteNotes) Get(ctx context.Context, id int64) (note, error) {
	conn, err := sqlite.FromContext(ctx)
	if err != nil {
		return note{}, err
	}
	row, err := conn.QueryRow(ctx, `SELECT body, created_at FROM notes WHERE id = ?`, id)
	if err != nil {
		return note{}, err
	}
	n := note{ID: id}
	err = row.Scan(&n.Text, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return note{}, errNoteNotFound
	}
	return n, err
}

func (sqliteNotes) List(ctx context.Context) ([]note, error) {
	conn, err := sqlite.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.Query(ctx, `SELECT id, body, created_at FROM notes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notes := []note{}
	for rows.Next() {
		var n note
		if err := rows.Scan(&n.ID, &n.Text, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (sqliteNotes) DeleteAll(ctx context.Context) (int64, error) {
	conn, err := sqlite.FromContext(ctx)
	if err != nil {
		return 0, err
	}
	res, err := conn.Exec(ctx, `DELETE FROM notes`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

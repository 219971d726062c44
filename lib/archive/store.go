// Package archive persists assembled chapters and the structural index
// they came from. Chapter writes are idempotent upserts keyed by
// (book, index), which is what makes reruns resumable.
package archive

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"

	"novelarc/lib/chrono"
	"novelarc/lib/scrapers/novel"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

var ErrNotFound = errors.New("not found in archive")

type Store struct {
	db    *sql.DB
	clock chrono.API
}

// Open opens (creating if necessary) an archive database at path.
func Open(path string) (Store, error) {
	database, err := sql.Open("sqlite", path)
	if err != nil {
		return Store{}, err
	}
	return NewStore(database)
}

func NewStore(database *sql.DB) (Store, error) {
	_, err := database.Exec(Schema)
	if err != nil {
		return Store{}, err
	}
	return Store{db: database, clock: chrono.NewStandardImpl()}, nil
}

func (s Store) Close() error {
	return s.db.Close()
}

func (s Store) Exists(ctx context.Context, bookID string, index int) (bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		"SELECT COUNT(*) FROM chapter WHERE book_id = ? AND idx = ?",
		bookID, index,
	)
	var count int
	err := row.Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s Store) WriteChapter(ctx context.Context, bookID string, index int, title, content string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO chapter (book_id, idx, title, content, written_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (book_id, idx) DO UPDATE SET
		   title = excluded.title,
		   content = excluded.content,
		   written_at = excluded.written_at`,
		bookID, index, title, content, s.clock.Now().Unix(),
	)
	return err
}

type StoredChapter struct {
	Index   int
	Title   string
	Content string
}

func (s Store) ReadChapter(ctx context.Context, bookID string, index int) (StoredChapter, error) {
	row := s.db.QueryRowContext(
		ctx,
		"SELECT idx, title, content FROM chapter WHERE book_id = ? AND idx = ?",
		bookID, index,
	)
	var out StoredChapter
	err := row.Scan(&out.Index, &out.Title, &out.Content)
	if err == sql.ErrNoRows {
		return StoredChapter{}, ErrNotFound
	}
	if err != nil {
		return StoredChapter{}, err
	}
	return out, nil
}

// Indexes lists the archived chapter indexes of a book in order.
func (s Store) Indexes(ctx context.Context, bookID string) ([]int, error) {
	rows, err := s.db.QueryContext(
		ctx,
		"SELECT idx FROM chapter WHERE book_id = ? ORDER BY idx",
		bookID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

// SaveBook persists the structural index so later runs can resume
// resolution and assembly without refetching the catalog.
func (s Store) SaveBook(ctx context.Context, book *novel.Book) error {
	structure, err := json.Marshal(book)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO book (id, structure, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   structure = excluded.structure,
		   updated_at = excluded.updated_at`,
		book.ID, string(structure), s.clock.Now().Unix(),
	)
	return err
}

func (s Store) LoadBook(ctx context.Context, bookID string) (*novel.Book, error) {
	row := s.db.QueryRowContext(
		ctx,
		"SELECT structure FROM book WHERE id = ?",
		bookID,
	)
	var structure string
	err := row.Scan(&structure)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var book novel.Book
	err = json.Unmarshal([]byte(structure), &book)
	if err != nil {
		return nil, err
	}
	return &book, nil
}

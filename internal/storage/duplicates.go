package storage

import (
	"errors"

	"github.com/justyntemme/bookshelf/internal/models"
)

// GetBookByISBN finds a book whose ISBN-10 or ISBN-13 equals isbn
func (d *Database) GetBookByISBN(isbn string) (*models.Book, error) {
	if isbn == "" {
		return nil, ErrNotFound
	}
	return scanBook(d.db.QueryRow(`
		SELECT `+bookColumns+` FROM books b
		WHERE b.isbn10 = ? OR b.isbn13 = ?
		LIMIT 1`, isbn, isbn))
}

// findByISBNs returns the first book matching any of the non-empty ISBNs
func (d *Database) findByISBNs(isbns ...string) (*models.Book, error) {
	for _, isbn := range isbns {
		if isbn == "" {
			continue
		}
		book, err := d.GetBookByISBN(isbn)
		if err == nil {
			return book, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// CreateBookOnce inserts book unless one with the same ISBN-10 or ISBN-13
// exists, in which case the existing row is returned. The unique indexes
// settle races between concurrent inserts.
func (d *Database) CreateBookOnce(book *models.Book) (*models.Book, bool, error) {
	if existing, err := d.findByISBNs(book.ISBN10, book.ISBN13); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	err := d.CreateBook(book)
	if errors.Is(err, ErrAlreadyExists) {
		existing, findErr := d.findByISBNs(book.ISBN10, book.ISBN13)
		if findErr != nil {
			return nil, false, findErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return book, true, nil
}

// ISBNTaken reports whether a book other than exceptID uses isbn
func (d *Database) ISBNTaken(isbn, exceptID string) (bool, error) {
	if isbn == "" {
		return false, nil
	}
	var count int
	err := d.db.QueryRow(`
		SELECT COUNT(*) FROM books
		WHERE (isbn10 = ? OR isbn13 = ?) AND id <> ?`, isbn, isbn, exceptID,
	).Scan(&count)
	return count > 0, err
}

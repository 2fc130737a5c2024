package storage

import (
	"database/sql"
	"strings"
	"time"

	"github.com/justyntemme/bookshelf/internal/models"
)

// Sort columns accepted by ListUserBooks
const (
	SortTitle = iota
	SortSubtitle
	SortAuthor
	SortPublishDate
	SortCreated
)

var sortColumns = map[int]string{
	SortTitle:       "b.title",
	SortSubtitle:    "b.subtitle",
	SortAuthor:      "b.author",
	SortPublishDate: "b.publish_date",
	SortCreated:     "ub.created_at",
}

// ListOptions filters and pages a user's shelf
type ListOptions struct {
	Limit      int
	Offset     int
	SortColumn int
	Asc        bool
	Search     string
	Read       *bool
	TagID      string
}

const bookColumns = `b.id, b.title, b.subtitle, b.author, b.description, b.isbn10, b.isbn13,
	b.page_count, b.language, b.publish_date, b.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// bookDest returns scan targets for bookColumns and a func that copies them into book
func bookDest(book *models.Book) ([]any, func()) {
	var isbn10, isbn13 sql.NullString
	var published sql.NullTime
	dest := []any{&book.ID, &book.Title, &book.Subtitle, &book.Author, &book.Description,
		&isbn10, &isbn13, &book.PageCount, &book.Language, &published, &book.CreatedAt}
	return dest, func() {
		book.ISBN10 = isbn10.String
		book.ISBN13 = isbn13.String
		book.PublishDate = timePtr(published)
	}
}

func scanBook(row rowScanner) (*models.Book, error) {
	book := &models.Book{}
	dest, finish := bookDest(book)
	if err := row.Scan(dest...); err != nil {
		return nil, notFound(err)
	}
	finish()
	return book, nil
}

// CreateBook inserts a new book. An ISBN already in use yields ErrAlreadyExists.
func (d *Database) CreateBook(book *models.Book) error {
	_, err := d.db.Exec(`
		INSERT INTO books (id, title, subtitle, author, description, isbn10, isbn13, page_count, language, publish_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		book.ID, book.Title, book.Subtitle, book.Author, book.Description,
		nullString(book.ISBN10), nullString(book.ISBN13), book.PageCount, book.Language,
		nullTime(book.PublishDate), book.CreatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

// GetBook retrieves a book by ID
func (d *Database) GetBook(id string) (*models.Book, error) {
	return scanBook(d.db.QueryRow(`SELECT `+bookColumns+` FROM books b WHERE b.id = ?`, id))
}

// UpdateBook rewrites the bibliographic fields of a book
func (d *Database) UpdateBook(book *models.Book) error {
	res, err := d.db.Exec(`
		UPDATE books SET title = ?, subtitle = ?, author = ?, description = ?, isbn10 = ?, isbn13 = ?,
			page_count = ?, language = ?, publish_date = ?
		WHERE id = ?`,
		book.Title, book.Subtitle, book.Author, book.Description,
		nullString(book.ISBN10), nullString(book.ISBN13), book.PageCount, book.Language,
		nullTime(book.PublishDate), book.ID,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return affected(res, err)
}

// User book operations

// CreateUserBook puts a book on a user's shelf. A book already there yields ErrAlreadyExists.
func (d *Database) CreateUserBook(ub *models.UserBook) error {
	_, err := d.db.Exec(`
		INSERT INTO user_books (id, user_id, book_id, created_at, read_at)
		VALUES (?, ?, ?, ?, ?)`,
		ub.ID, ub.UserID, ub.Book.ID, ub.CreatedAt.UTC(), nullTime(ub.ReadAt),
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

// GetUserBook retrieves one shelf entry of a user with its book and tags
func (d *Database) GetUserBook(userID, id string) (*models.UserBook, error) {
	row := d.db.QueryRow(`
		SELECT ub.id, ub.user_id, ub.created_at, ub.read_at, `+bookColumns+`
		FROM user_books ub JOIN books b ON b.id = ub.book_id
		WHERE ub.user_id = ? AND ub.id = ?`, userID, id)

	ub, err := scanUserBook(row)
	if err != nil {
		return nil, err
	}
	tags, err := d.tagsForUserBooks([]string{ub.ID})
	if err != nil {
		return nil, err
	}
	ub.Tags = tags[ub.ID]
	if ub.Tags == nil {
		ub.Tags = []models.Tag{}
	}
	return ub, nil
}

// GetUserBookID returns the shelf entry id of bookID for userID
func (d *Database) GetUserBookID(userID, bookID string) (string, error) {
	var id string
	err := d.db.QueryRow(`SELECT id FROM user_books WHERE user_id = ? AND book_id = ?`, userID, bookID).Scan(&id)
	return id, notFound(err)
}

// UserBookBookID returns the book behind a shelf entry of any user
func (d *Database) UserBookBookID(id string) (string, error) {
	var bookID string
	err := d.db.QueryRow(`SELECT book_id FROM user_books WHERE id = ?`, id).Scan(&bookID)
	return bookID, notFound(err)
}

func scanUserBook(row rowScanner) (*models.UserBook, error) {
	ub := &models.UserBook{}
	var readAt sql.NullTime
	dest, finish := bookDest(&ub.Book)
	dest = append([]any{&ub.ID, &ub.UserID, &ub.CreatedAt, &readAt}, dest...)
	if err := row.Scan(dest...); err != nil {
		return nil, notFound(err)
	}
	finish()
	ub.ReadAt = timePtr(readAt)
	return ub, nil
}

// DeleteUserBook removes a book from a user's shelf
func (d *Database) DeleteUserBook(userID, id string) error {
	res, err := d.db.Exec(`DELETE FROM user_books WHERE user_id = ? AND id = ?`, userID, id)
	return affected(res, err)
}

// SetRead marks a shelf entry read at the given time, or unread when at is nil
func (d *Database) SetRead(userID, id string, at *time.Time) error {
	res, err := d.db.Exec(`UPDATE user_books SET read_at = ? WHERE user_id = ? AND id = ?`, nullTime(at), userID, id)
	return affected(res, err)
}

// SetUserBookTags replaces the tags of a shelf entry
func (d *Database) SetUserBookTags(userBookID string, tagIDs []string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM user_book_tags WHERE user_book_id = ?`, userBookID); err != nil {
		return err
	}
	for _, tagID := range tagIDs {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO user_book_tags (user_book_id, tag_id) VALUES (?, ?)`, userBookID, tagID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListUserBooks returns one page of a user's shelf and the total match count
func (d *Database) ListUserBooks(userID string, opts ListOptions) (*models.BookPage, error) {
	where := []string{"ub.user_id = ?"}
	args := []any{userID}

	if s := strings.TrimSpace(opts.Search); s != "" {
		like := "%" + escapeLike(s) + "%"
		where = append(where, `(b.title LIKE ? ESCAPE '\' OR b.subtitle LIKE ? ESCAPE '\' OR b.author LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}
	if opts.Read != nil {
		if *opts.Read {
			where = append(where, "ub.read_at IS NOT NULL")
		} else {
			where = append(where, "ub.read_at IS NULL")
		}
	}
	if opts.TagID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM user_book_tags t WHERE t.user_book_id = ub.id AND t.tag_id = ?)")
		args = append(args, opts.TagID)
	}

	from := " FROM user_books ub JOIN books b ON b.id = ub.book_id WHERE " + strings.Join(where, " AND ")

	page := &models.BookPage{Books: []models.UserBook{}}
	if err := d.db.QueryRow("SELECT COUNT(*)"+from, args...).Scan(&page.Total); err != nil {
		return nil, err
	}

	column, ok := sortColumns[opts.SortColumn]
	if !ok {
		column = sortColumns[SortTitle]
	}
	order := "DESC"
	if opts.Asc {
		order = "ASC"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	rows, err := d.db.Query(`SELECT ub.id, ub.user_id, ub.created_at, ub.read_at, `+bookColumns+from+
		` ORDER BY `+column+` `+order+`, ub.id LIMIT ? OFFSET ?`,
		append(args, limit, max(opts.Offset, 0))...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		ub, err := scanUserBook(rows)
		if err != nil {
			return nil, err
		}
		page.Books = append(page.Books, *ub)
		ids = append(ids, ub.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tags, err := d.tagsForUserBooks(ids)
	if err != nil {
		return nil, err
	}
	for i := range page.Books {
		page.Books[i].Tags = tags[page.Books[i].ID]
		if page.Books[i].Tags == nil {
			page.Books[i].Tags = []models.Tag{}
		}
	}
	return page, nil
}

// escapeLike escapes LIKE wildcards in user input
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

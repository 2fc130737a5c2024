package api

import (
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/justyntemme/bookshelf/internal/books"
	"github.com/justyntemme/bookshelf/internal/metadata"
)

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	colorRegex    = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	noSpaceRegex  = regexp.MustCompile(`^\S+$`)
	isbn10Regex   = regexp.MustCompile(`^[0-9]{9}[0-9Xx]$`)
	isbn13Regex   = regexp.MustCompile(`^[0-9]{13}$`)
)

// RegisterRequest creates an account
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username,
			validation.Required.Error("username is required"),
			validation.Length(3, 50).Error("username must be 3-50 characters"),
			validation.Match(usernameRegex).Error("username may only contain letters, digits and underscores"),
		),
		validation.Field(&r.Email,
			validation.Required.Error("email is required"),
			is.Email.Error("invalid email format"),
			validation.Length(1, 100),
		),
		validation.Field(&r.Password,
			validation.Required.Error("password is required"),
			validation.Length(8, 50).Error("password must be 8-50 characters"),
		),
	)
}

// LoginRequest opens a session
type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	LongLasted bool   `json:"long_lasted"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required.Error("username is required")),
		validation.Field(&r.Password, validation.Required.Error("password is required")),
	)
}

// UpdateUserRequest changes the current user's email and/or password
type UpdateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r UpdateUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, is.Email.Error("invalid email format"), validation.Length(1, 100)),
		validation.Field(&r.Password, validation.Length(8, 50).Error("password must be 8-50 characters")),
	)
}

// TagRequest creates or updates a tag
type TagRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (r TagRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name,
			validation.Required.Error("name is required"),
			validation.RuneLength(1, 36).Error("name must be 1-36 characters"),
			validation.Match(noSpaceRegex).Error("name must not contain spaces"),
		),
		validation.Field(&r.Color,
			validation.Required.Error("color is required"),
			validation.Match(colorRegex).Error("color must be #rrggbb"),
		),
	)
}

// AddBookRequest adds a book by ISBN
type AddBookRequest struct {
	ISBN string `json:"isbn"`
}

func (r AddBookRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ISBN, validation.Required.Error("isbn is required")),
	)
}

// BookRequest carries manually entered book fields. Pointers distinguish
// absent fields on update.
type BookRequest struct {
	Title       *string   `json:"title"`
	Subtitle    *string   `json:"subtitle"`
	Author      *string   `json:"author"`
	Description *string   `json:"description"`
	ISBN10      *string   `json:"isbn10"`
	ISBN13      *string   `json:"isbn13"`
	PageCount   *int      `json:"page_count"`
	Language    *string   `json:"language"`
	PublishDate *string   `json:"publish_date"`
	Tags        *[]string `json:"tags"`

	publishDate *time.Time
}

// ValidateCreate checks a request for a new book
func (r *BookRequest) ValidateCreate() error {
	if err := validation.ValidateStruct(r,
		validation.Field(&r.Title, validation.Required.Error("title is required")),
		validation.Field(&r.Author, validation.Required.Error("author is required")),
	); err != nil {
		return err
	}
	return r.validateFields()
}

// ValidateUpdate checks a partial update
func (r *BookRequest) ValidateUpdate() error {
	if err := validation.ValidateStruct(r,
		validation.Field(&r.Title, validation.NilOrNotEmpty.Error("title must not be empty")),
		validation.Field(&r.Author, validation.NilOrNotEmpty.Error("author must not be empty")),
	); err != nil {
		return err
	}
	return r.validateFields()
}

func (r *BookRequest) validateFields() error {
	r.ISBN10 = normalizeISBN(r.ISBN10)
	r.ISBN13 = normalizeISBN(r.ISBN13)

	err := validation.ValidateStruct(r,
		validation.Field(&r.Title, validation.Length(0, 255)),
		validation.Field(&r.Subtitle, validation.Length(0, 255)),
		validation.Field(&r.Author, validation.Length(0, 255)),
		validation.Field(&r.Description, validation.Length(0, 4000)),
		validation.Field(&r.ISBN10, validation.When(r.ISBN10 != nil && *r.ISBN10 != "",
			validation.Match(isbn10Regex).Error("isbn10 must be 10 characters"))),
		validation.Field(&r.ISBN13, validation.When(r.ISBN13 != nil && *r.ISBN13 != "",
			validation.Match(isbn13Regex).Error("isbn13 must be 13 digits"))),
		validation.Field(&r.PageCount, validation.Min(0)),
		validation.Field(&r.Language, validation.Length(0, 2)),
	)
	if err != nil {
		return err
	}

	if r.PublishDate != nil && *r.PublishDate != "" {
		r.publishDate = metadata.ParseDate(*r.PublishDate)
		if r.publishDate == nil {
			return validation.Errors{"publish_date": validation.NewError("validation_date", "publish_date is not a date")}
		}
	}
	return nil
}

func normalizeISBN(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(*s), "-", ""))
	return &v
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// Input converts a validated create request
func (r *BookRequest) Input() books.BookInput {
	return books.BookInput{
		Title:       deref(r.Title),
		Subtitle:    deref(r.Subtitle),
		Author:      deref(r.Author),
		Description: deref(r.Description),
		ISBN10:      deref(r.ISBN10),
		ISBN13:      deref(r.ISBN13),
		PageCount:   deref(r.PageCount),
		Language:    deref(r.Language),
		PublishDate: r.publishDate,
		TagIDs:      deref(r.Tags),
	}
}

// Update converts a validated update request
func (r *BookRequest) Update() books.BookUpdate {
	return books.BookUpdate{
		Title:       r.Title,
		Subtitle:    r.Subtitle,
		Author:      r.Author,
		Description: r.Description,
		ISBN10:      r.ISBN10,
		ISBN13:      r.ISBN13,
		PageCount:   r.PageCount,
		Language:    r.Language,
		PublishDate: r.publishDate,
		TagIDs:      r.Tags,
	}
}

// CoverRequest points at a new cover image
type CoverRequest struct {
	URL string `json:"url"`
}

func (r CoverRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.URL, validation.Required.Error("url is required"), is.URL.Error("url is invalid")),
	)
}

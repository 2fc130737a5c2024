package models

import "time"

// User represents a registered user
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is one login of a user. The auth token carries its ID.
type Session struct {
	ID               string    `json:"id"`
	UserID           string    `json:"-"`
	LongLasted       bool      `json:"long_lasted"`
	IP               string    `json:"ip,omitempty"`
	UserAgent        string    `json:"user_agent,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	LastConnectionAt time.Time `json:"last_connection_at"`
	Current          bool      `json:"current"`
}

// Book is the shared bibliographic entry, one per ISBN across all users
type Book struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Subtitle    string     `json:"subtitle,omitempty"`
	Author      string     `json:"author"`
	Description string     `json:"description,omitempty"`
	ISBN10      string     `json:"isbn10,omitempty"`
	ISBN13      string     `json:"isbn13,omitempty"`
	PageCount   int        `json:"page_count,omitempty"`
	Language    string     `json:"language,omitempty"`
	PublishDate *time.Time `json:"publish_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// UserBook is a book on a user's shelf
type UserBook struct {
	ID        string     `json:"id"`
	UserID    string     `json:"-"`
	Book      Book       `json:"book"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	Tags      []Tag      `json:"tags"`
}

// Tag is a user-defined colored label
type Tag struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// BookPage is one page of a user's shelf
type BookPage struct {
	Total int        `json:"total"`
	Books []UserBook `json:"books"`
}

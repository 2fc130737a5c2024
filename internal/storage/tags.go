package storage

import (
	"strings"

	"github.com/justyntemme/bookshelf/internal/models"
)

// CreateTag inserts a tag. A name already used by the same user yields ErrAlreadyExists.
func (d *Database) CreateTag(tag *models.Tag) error {
	_, err := d.db.Exec(`
		INSERT INTO tags (id, user_id, name, color, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		tag.ID, tag.UserID, tag.Name, tag.Color, tag.CreatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

// GetTag retrieves a tag owned by userID
func (d *Database) GetTag(userID, id string) (*models.Tag, error) {
	tag := &models.Tag{}
	err := d.db.QueryRow(`
		SELECT id, user_id, name, color, created_at
		FROM tags WHERE user_id = ? AND id = ?`, userID, id,
	).Scan(&tag.ID, &tag.UserID, &tag.Name, &tag.Color, &tag.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return tag, nil
}

// ListTags returns a user's tags sorted by name
func (d *Database) ListTags(userID string) ([]models.Tag, error) {
	rows, err := d.db.Query(`
		SELECT id, user_id, name, color, created_at
		FROM tags WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := []models.Tag{}
	for rows.Next() {
		var tag models.Tag
		if err := rows.Scan(&tag.ID, &tag.UserID, &tag.Name, &tag.Color, &tag.CreatedAt); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// UpdateTag renames or recolors a tag
func (d *Database) UpdateTag(tag *models.Tag) error {
	res, err := d.db.Exec(`UPDATE tags SET name = ?, color = ? WHERE user_id = ? AND id = ?`,
		tag.Name, tag.Color, tag.UserID, tag.ID)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return affected(res, err)
}

// DeleteTag removes a tag and its links to books
func (d *Database) DeleteTag(userID, id string) error {
	res, err := d.db.Exec(`DELETE FROM tags WHERE user_id = ? AND id = ?`, userID, id)
	return affected(res, err)
}

// tagsForUserBooks loads tags for several shelf entries keyed by entry id
func (d *Database) tagsForUserBooks(userBookIDs []string) (map[string][]models.Tag, error) {
	result := make(map[string][]models.Tag, len(userBookIDs))
	if len(userBookIDs) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(userBookIDs)), ",")
	args := make([]any, len(userBookIDs))
	for i, id := range userBookIDs {
		args[i] = id
	}

	rows, err := d.db.Query(`
		SELECT ubt.user_book_id, t.id, t.user_id, t.name, t.color, t.created_at
		FROM user_book_tags ubt JOIN tags t ON t.id = ubt.tag_id
		WHERE ubt.user_book_id IN (`+placeholders+`)
		ORDER BY t.name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ubID string
		var tag models.Tag
		if err := rows.Scan(&ubID, &tag.ID, &tag.UserID, &tag.Name, &tag.Color, &tag.CreatedAt); err != nil {
			return nil, err
		}
		result[ubID] = append(result[ubID], tag)
	}
	return result, rows.Err()
}

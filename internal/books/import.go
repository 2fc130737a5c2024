package books

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/justyntemme/bookshelf/internal/metadata"
	"github.com/justyntemme/bookshelf/internal/models"
)

// Goodreads library export columns
const (
	colTitle    = "Title"
	colISBN     = "ISBN"
	colISBN13   = "ISBN13"
	colDateRead = "Date Read"
	colShelf    = "Exclusive Shelf"
)

var ErrInvalidImport = errors.New("invalid import file")

// ImportEntry is one book of a Goodreads library export
type ImportEntry struct {
	Title string
	ISBNs []string // ISBN13 first
	Read  bool
}

// ParseGoodreadsCSV reads a Goodreads library export. Columns are found by
// header name. Rows without any ISBN are skipped.
func ParseGoodreadsCSV(r io.Reader) ([]ImportEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrInvalidImport, err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	_, has10 := cols[colISBN]
	_, has13 := cols[colISBN13]
	if !has10 && !has13 {
		return nil, fmt.Errorf("%w: no ISBN column", ErrInvalidImport)
	}

	field := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var entries []ImportEntry
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Msg("Error reading import record")
			continue
		}

		var isbns []string
		for _, name := range []string{colISBN13, colISBN} {
			if isbn := cleanISBN(field(record, name)); isbn != "" {
				isbns = append(isbns, isbn)
			}
		}
		if len(isbns) == 0 {
			log.Debug().Str("title", field(record, colTitle)).Msg("Skipping import record without ISBN")
			continue
		}

		entries = append(entries, ImportEntry{
			Title: field(record, colTitle),
			ISBNs: isbns,
			Read:  field(record, colDateRead) != "" || field(record, colShelf) == "read",
		})
	}
	return entries, nil
}

// cleanISBN strips the ="..." spreadsheet guard Goodreads puts around ISBNs
func cleanISBN(value string) string {
	return strings.TrimSuffix(strings.TrimPrefix(value, `="`), `"`)
}

// Import shelves every book of a Goodreads export for the user. The file is
// parsed before Import returns, the lookups then run in the background
// through the resolution queue.
func (s *Service) Import(ctx context.Context, userID string, r io.Reader) (int, error) {
	entries, err := ParseGoodreadsCSV(r)
	if err != nil {
		return 0, err
	}

	ctx = context.WithoutCancel(ctx)
	s.imports.Add(1)
	go func() {
		defer s.imports.Done()
		s.runImport(ctx, userID, entries)
	}()

	log.Info().Str("user_id", userID).Int("books", len(entries)).Msg("Import started")
	return len(entries), nil
}

// WaitImports blocks until every background import has returned
func (s *Service) WaitImports() {
	s.imports.Wait()
}

func (s *Service) runImport(ctx context.Context, userID string, entries []ImportEntry) {
	var added, skipped, failed int
	for i, entry := range entries {
		err := s.importEntry(ctx, userID, entry)
		switch {
		case err == nil:
			added++
		case errors.Is(err, ErrAlreadyAdded):
			skipped++
		case errors.Is(err, metadata.ErrShuttingDown):
			log.Warn().
				Str("user_id", userID).
				Int("remaining", len(entries)-i).
				Msg("Import interrupted by shutdown")
			return
		default:
			failed++
			log.Warn().
				Err(err).
				Str("user_id", userID).
				Str("title", entry.Title).
				Strs("isbns", entry.ISBNs).
				Msg("Failed to import book")
		}
	}

	log.Info().
		Str("user_id", userID).
		Int("added", added).
		Int("skipped", skipped).
		Int("failed", failed).
		Msg("Import finished")
}

// importEntry tries each ISBN of the entry until one resolves
func (s *Service) importEntry(ctx context.Context, userID string, entry ImportEntry) error {
	var err error
	for _, isbn := range entry.ISBNs {
		var ub *models.UserBook
		ub, err = s.AddByISBN(ctx, userID, isbn)
		if errors.Is(err, metadata.ErrBookNotFound) || errors.Is(err, metadata.ErrInvalidISBN) {
			continue
		}
		if err != nil {
			return err
		}
		if entry.Read {
			return s.SetRead(userID, ub.ID, true)
		}
		return nil
	}
	return err
}

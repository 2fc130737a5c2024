// Package sniff classifies content from its leading bytes.
package sniff

import (
	"bufio"
	"errors"
	"io"

	"github.com/gabriel-vasile/mimetype"
)

// Type is one of the MIME types this package can report
type Type string

const (
	JPEG    Type = "image/jpeg"
	PNG     Type = "image/png"
	GIF     Type = "image/gif"
	ICO     Type = "image/x-icon"
	ZIP     Type = "application/zip"
	PDF     Type = "application/pdf"
	Unknown Type = "application/octet-stream"
)

// HeaderSize is the number of leading bytes inspected.
const HeaderSize = 3072

var known = []Type{JPEG, PNG, GIF, ICO, ZIP, PDF}

// NewReader wraps r in a reader whose buffer can hold a full header.
func NewReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, HeaderSize)
}

// Detect peeks at the head of r and classifies it. Nothing is consumed, so the
// caller can still read the whole stream afterwards. Short streams are fine;
// any other read error is returned as is.
func Detect(r *bufio.Reader) (Type, error) {
	head, err := r.Peek(HeaderSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return Unknown, err
	}
	return Classify(head), nil
}

// Classify maps a header to a Type. Formats built on top of a known container
// (docx, epub, jar...) report the container.
func Classify(head []byte) Type {
	if len(head) == 0 {
		return Unknown
	}
	for m := mimetype.Detect(head); m != nil; m = m.Parent() {
		for _, t := range known {
			if m.Is(string(t)) {
				return t
			}
		}
	}
	return Unknown
}

// IsImage reports whether t is one of the image types.
func (t Type) IsImage() bool {
	switch t {
	case JPEG, PNG, GIF, ICO:
		return true
	}
	return false
}

package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID represents a domain identifier
type ID string

// NewID creates a new unique identifier using UUID v7 for time-ordered generation
func NewID() ID {
	// Falls back to v4 if v7 generation fails
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return ID(id.String())
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsEmpty checks if the ID is empty
func (id ID) IsEmpty() bool {
	return id == ""
}

// Domain-specific ID types
type (
	SubjectID ID
	ExampleID ID
	SeriesID  ID
)

// String conversions for domain IDs
func (id SubjectID) String() string { return ID(id).String() }
func (id ExampleID) String() string { return ID(id).String() }
func (id SeriesID) String() string  { return ID(id).String() }

// NewSeriesID creates a time-ordered series identifier
func NewSeriesID() SeriesID {
	return SeriesID(NewID())
}

// ParseSubjectID parses a string into SubjectID. Surrounding whitespace is
// dropped because subject ids come from line-oriented files.
func ParseSubjectID(s string) (SubjectID, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", fmt.Errorf("subject ID cannot be empty")
	}
	return SubjectID(trimmed), nil
}

// ParseExampleID parses a string into ExampleID
func ParseExampleID(s string) (ExampleID, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", fmt.Errorf("example ID cannot be empty")
	}
	return ExampleID(trimmed), nil
}

// ParseSeriesID parses a string into SeriesID
func ParseSeriesID(s string) (SeriesID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("series ID cannot be empty")
	}
	return SeriesID(s), nil
}

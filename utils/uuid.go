package utils

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// GenerateID returns a new unique identifier string
func GenerateID() string {
	return uuid.New().String()
}

// GenerateSortableID returns a lexicographically time-ordered identifier,
// used where records are listed newest-first by ID.
func GenerateSortableID() string {
	return ulid.Make().String()
}

package renderer

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// IDLength is the number of hex characters in a render id.
const IDLength = 12

var idPattern = regexp.MustCompile(`^[0-9a-f]{12}$`)

// NewID returns a random render id taken from a version 4 UUID.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:IDLength]
}

// ValidID reports whether id has the shape produced by NewID.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// VideoKey is the artifact store key for a render id.
func VideoKey(id string) string {
	return id + ".mp4"
}

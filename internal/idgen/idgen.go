// Package idgen generates short, URL-safe take identifiers backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// TakePrefix is prepended to every take ID.
var TakePrefix = "tk-"

// Alphabet is the character set of the random portion.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters (excluding the prefix).
var Length = 10

// Generate returns a new take ID.
func Generate() (string, error) {
	return GenerateWithPrefix(TakePrefix)
}

// GenerateWithPrefix returns a new ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

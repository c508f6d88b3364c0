package services

import (
	"fmt"
	"strings"

	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	ghostPrefix   = "ghost-"
	ghostAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	ghostLength   = 12
)

// newGhostID returns a client-local id that can never collide with a server record id.
func newGhostID() (string, error) {
	id, err := nanoid.Generate(ghostAlphabet, ghostLength)
	if err != nil {
		return "", fmt.Errorf("ghost id: %w", err)
	}
	return ghostPrefix + id, nil
}

func IsGhostID(id string) bool {
	return strings.HasPrefix(id, ghostPrefix)
}

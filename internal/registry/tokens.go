package registry

import (
	"fmt"

	"github.com/google/uuid"
)

// uuidTokens issues UUIDv7 submission tokens. Time-ordered, so tokens
// sort roughly by submission time even though ordering authority stays
// with the logical clock.
type uuidTokens struct{}

// NewUUIDTokens returns the production token generator.
func NewUUIDTokens() TokenGenerator {
	return uuidTokens{}
}

func (uuidTokens) NewToken() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return id.String(), nil
}

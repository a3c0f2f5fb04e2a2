// Package modal parses, stores, and validates modal configurations: the
// persisted form definitions the builder edits and the renderer consumes.
package modal

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/proposehq/formbff/model"
)

// StoredModal is a modal configuration together with its platform record
// identity. The config itself is stored by the platform as an opaque JSON
// string field.
type StoredModal struct {
	ID        string             `json:"id"`
	Config    *model.ModalConfig `json:"config"`
	Checksum  string             `json:"checksum"`
	CreatedAt time.Time          `json:"created_at,omitempty"`
	UpdatedAt time.Time          `json:"updated_at,omitempty"`
}

// ParseConfig parses a persisted configuration document. Legacy spellings
// (the "field" condition key, underscore operators) are accepted as-is;
// nothing is rewritten, so a parse/serialize round trip reproduces the
// document's meaning and ordering exactly.
func ParseConfig(data []byte) (*model.ModalConfig, error) {
	var cfg model.ModalConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing modal config: %w", err)
	}
	return &cfg, nil
}

// SerializeConfig renders a configuration back to its persisted document.
func SerializeConfig(cfg *model.ModalConfig) ([]byte, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("serializing modal config: %w", err)
	}
	return data, nil
}

// Checksum computes the SHA-256 of a serialized configuration, used for
// change detection on save.
func Checksum(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// DefaultConfig returns the configuration a newly created modal starts from.
func DefaultConfig() *model.ModalConfig {
	return &model.ModalConfig{
		Name:        "Untitled Modal",
		Description: "",
		Fields:      []model.Field{},
		Steps:       []model.Step{},
	}
}

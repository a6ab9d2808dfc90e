package persistence

import (
	"github.com/ektasahyog/sahyog-relay/config"
	"github.com/ektasahyog/sahyog-relay/types"
)

// Persister is the message store contract: the relay only appends and
// queries, it never mutates or deletes entries.
type Persister interface {
	StoreMessage(types.Message) error
	// GetRoomHistory returns up to limit messages for the given room in
	// ascending order of creation time.
	GetRoomHistory(room string, limit int) ([]types.Message, error)
	// Maintain performs backend-specific housekeeping (compaction etc.).
	Maintain() error
	Close() error
}

// NewPersister creates the configured persister. It returns nil (and no
// error) when no persistence is configured, the relay then runs in
// broadcast-only mode.
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.PersistenceConfig.Type {
	case "buntdb":
		return NewBuntPersister(cfg)
	case "sqlite", "postgres":
		return NewGormPersister(cfg)
	}
	return nil, nil
}

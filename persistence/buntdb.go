package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/ektasahyog/sahyog-relay/config"
	"github.com/ektasahyog/sahyog-relay/globals"
	"github.com/ektasahyog/sahyog-relay/types"
	"github.com/tidwall/buntdb"
)

type BuntDBPersist struct {
	db *buntdb.DB
}

func NewBuntPersister(cfg *config.Config) (Persister, error) {
	db, err := setupBuntDB(cfg)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, nil // no or wrong configuration, ignore the persister
	}
	return &BuntDBPersist{db}, nil
}

func setupBuntDB(cfg *config.Config) (*buntdb.DB, error) {
	var db *buntdb.DB
	if cfg.PersistenceConfig.BuntDBConfig.Name != "" {
		fileName := cfg.PersistenceConfig.BuntDBConfig.Name
		var err error
		db, err = buntdb.Open(fileName)
		if err != nil {
			return nil, err
		}
		err = db.CreateIndex("messagests", "message:*", buntdb.IndexJSON("created"))
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func (p *BuntDBPersist) StoreMessage(message types.Message) error {
	if message.Id == "" {
		return fmt.Errorf("no message id")
	}
	m, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set("message:"+message.Id, string(m), nil)
		return err
	})
}

// GetRoomHistory walks the time index newest-first, keeps up to limit
// messages of the requested room and returns them oldest-first.
func (p *BuntDBPersist) GetRoomHistory(room string, limit int) ([]types.Message, error) {
	messages := make([]types.Message, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.Descend("messagests", func(key, val string) bool {
			message := types.Message{}
			if err := json.Unmarshal([]byte(val), &message); err != nil {
				globals.AppLogger.Error("could not unmarshal message", "key", key, "error", err)
				return true
			}
			if message.Room != room {
				return true
			}
			messages = append(messages, message)
			return limit <= 0 || len(messages) < limit
		})
	})
	if err != nil {
		return nil, err
	}
	// reverse into ascending creation-time order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (p *BuntDBPersist) Maintain() error {
	return p.db.Shrink()
}

func (p *BuntDBPersist) Close() error {
	return p.db.Close()
}

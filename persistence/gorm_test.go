package persistence

import (
	"fmt"
	"testing"
	"time"

	"github.com/ektasahyog/sahyog-relay/config"
	"github.com/stretchr/testify/assert"
)

func newTestGormPersister(t *testing.T) Persister {
	cfg := &config.Config{}
	cfg.PersistenceConfig.Type = "sqlite"
	cfg.PersistenceConfig.DSN = ":memory:"
	p, err := NewGormPersister(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestGormGetRoomHistoryOrdering(t *testing.T) {
	p := newTestGormPersister(t)
	defer p.Close()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	// store out of order
	storeAt(t, p, "global", "second", base.Add(time.Minute))
	storeAt(t, p, "global", "first", base)
	storeAt(t, p, "global", "third", base.Add(2*time.Minute))

	messages, err := p.GetRoomHistory("global", 50)
	assert.NoError(t, err)
	assert.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Text)
	assert.Equal(t, "second", messages[1].Text)
	assert.Equal(t, "third", messages[2].Text)
}

func TestGormGetRoomHistoryLimitKeepsNewest(t *testing.T) {
	p := newTestGormPersister(t)
	defer p.Close()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		storeAt(t, p, "global", fmt.Sprintf("msg-%d", i), base.Add(time.Duration(i)*time.Minute))
	}

	messages, err := p.GetRoomHistory("global", 2)
	assert.NoError(t, err)
	assert.Len(t, messages, 2)
	assert.Equal(t, "msg-3", messages[0].Text)
	assert.Equal(t, "msg-4", messages[1].Text)
}

func TestGormGetRoomHistoryScopedToRoom(t *testing.T) {
	p := newTestGormPersister(t)
	defer p.Close()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	storeAt(t, p, "global", "hello global", base)
	storeAt(t, p, "kerala", "hello kerala", base.Add(time.Second))

	messages, err := p.GetRoomHistory("global", 50)
	assert.NoError(t, err)
	assert.Len(t, messages, 1)
	assert.Equal(t, "hello global", messages[0].Text)

	messages, err = p.GetRoomHistory("nosuchroom", 50)
	assert.NoError(t, err)
	assert.Len(t, messages, 0)
}

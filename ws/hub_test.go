package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ektasahyog/sahyog-relay/ai"
	"github.com/ektasahyog/sahyog-relay/config"
	"github.com/ektasahyog/sahyog-relay/persistence"
	"github.com/ektasahyog/sahyog-relay/types"
	"github.com/stretchr/testify/assert"
)

type stubModerator struct {
	verdict ai.Verdict
	err     error
}

func (s stubModerator) Classify(ctx context.Context, text string) (ai.Verdict, error) {
	return s.verdict, s.err
}

type stubTranslator struct {
	mu     sync.Mutex
	result string
	err    error
	calls  int
}

func (s *stubTranslator) ToBridge(ctx context.Context, text, sourceLanguage string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.result, s.err
}

func (s *stubTranslator) ToLanguage(ctx context.Context, text, targetLanguage string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.result, s.err
}

func (s *stubTranslator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubAnalyzer struct {
	sentiment types.Sentiment
	err       error
}

func (s stubAnalyzer) Analyze(ctx context.Context, text string) (types.Sentiment, error) {
	return s.sentiment, s.err
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.AiConfig.BridgeLanguage = "en"
	return cfg
}

func newTestHub(t *testing.T, moderator ai.Moderator, translator ai.Translator, analyzer ai.Analyzer) *Hub {
	cfg := testConfig()
	cfg.PersistenceConfig.Type = "buntdb"
	cfg.PersistenceConfig.BuntDBConfig.Name = ":memory:"
	persister, err := persistence.NewBuntPersister(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { persister.Close() })
	h := NewHub(cfg, persister, moderator, translator, analyzer)
	go h.Run()
	return h
}

func addClient(t *testing.T, h *Hub, room, name string) *Client {
	c := NewClient(h, nil, make(chan struct{}))
	c.setIdentity(room, name)
	want := h.NoClients() + 1
	h.Register <- c
	deadline := time.Now().Add(2 * time.Second)
	for h.NoClients() < want {
		if time.Now().After(deadline) {
			t.Fatal("client did not register")
		}
		time.Sleep(time.Millisecond)
	}
	return c
}

func recvWire(t *testing.T, c *Client) types.WebsocketMessage {
	t.Helper()
	select {
	case data := <-c.Send:
		msg := types.WebsocketMessage{}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("could not unmarshal wire message: %s", err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
	return types.WebsocketMessage{}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected message: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPipelineBlocksUnsafeMessage(t *testing.T) {
	h := newTestHub(t, stubModerator{verdict: ai.Verdict{Unsafe: true, Reason: "insult"}}, &stubTranslator{}, stubAnalyzer{})
	sender := addClient(t, h, "global", "Asha")
	other := addClient(t, h, "global", "Ravi")

	h.RunPipeline(sender, types.SendRequest{Room: "global", DisplayName: "Asha", Text: "you are worthless"})

	msg := recvWire(t, sender)
	assert.Equal(t, types.WireEventMessageBlocked, msg.Event)
	notice := types.BlockNotice{}
	assert.NoError(t, json.Unmarshal(msg.Data, &notice))
	assert.Equal(t, "insult", notice.Reason)

	assertSilent(t, other)

	history, err := h.Persister.GetRoomHistory("global", 50)
	assert.NoError(t, err)
	assert.Len(t, history, 0)
}

func TestPipelineFailsOpenOnModerationError(t *testing.T) {
	h := newTestHub(t, stubModerator{err: fmt.Errorf("upstream down")}, &stubTranslator{}, stubAnalyzer{sentiment: types.Sentiment{Score: 0.5, Label: types.SentimentPositive}})
	sender := addClient(t, h, "global", "Asha")
	other := addClient(t, h, "global", "Ravi")

	h.RunPipeline(sender, types.SendRequest{Room: "global", DisplayName: "Asha", Text: "Hello everyone", SourceLanguage: "en-US"})

	for _, c := range []*Client{sender, other} {
		msg := recvWire(t, c)
		assert.Equal(t, types.WireEventMessageReceived, msg.Event)
	}
}

func TestPipelineBridgeSkipRule(t *testing.T) {
	translator := &stubTranslator{result: "Hello everyone!"}
	h := newTestHub(t, stubModerator{}, translator, stubAnalyzer{sentiment: types.NeutralSentiment()})
	sender := addClient(t, h, "global", "Asha")

	// bridge-language source: adapter must not be called
	h.RunPipeline(sender, types.SendRequest{Room: "global", DisplayName: "Asha", Text: "Hello everyone", SourceLanguage: "en-US"})
	msg := recvWire(t, sender)
	delivered := types.Message{}
	assert.NoError(t, json.Unmarshal(msg.Data, &delivered))
	assert.Equal(t, "", delivered.BridgeTranslation)
	assert.Equal(t, 0, translator.callCount())

	// absent source tag: also skipped
	h.RunPipeline(sender, types.SendRequest{Room: "global", DisplayName: "Asha", Text: "Hello again"})
	recvWire(t, sender)
	assert.Equal(t, 0, translator.callCount())

	// non-English source: adapter invoked exactly once
	h.RunPipeline(sender, types.SendRequest{Room: "global", DisplayName: "Asha", Text: "¡Hola a todos!", SourceLanguage: "es-ES"})
	msg = recvWire(t, sender)
	delivered = types.Message{}
	assert.NoError(t, json.Unmarshal(msg.Data, &delivered))
	assert.Equal(t, "Hello everyone!", delivered.BridgeTranslation)
	assert.Equal(t, 1, translator.callCount())
}

func TestPipelineBridgeFailureDegrades(t *testing.T) {
	translator := &stubTranslator{err: fmt.Errorf("quota exceeded")}
	h := newTestHub(t, stubModerator{}, translator, stubAnalyzer{sentiment: types.NeutralSentiment()})
	sender := addClient(t, h, "global", "Asha")

	h.RunPipeline(sender, types.SendRequest{Room: "global", DisplayName: "Asha", Text: "¡Hola!", SourceLanguage: "es-ES"})
	msg := recvWire(t, sender)
	assert.Equal(t, types.WireEventMessageReceived, msg.Event)
	delivered := types.Message{}
	assert.NoError(t, json.Unmarshal(msg.Data, &delivered))
	assert.Equal(t, "", delivered.BridgeTranslation)
}

func TestPipelineSentimentDefaultsOnError(t *testing.T) {
	h := newTestHub(t, stubModerator{}, &stubTranslator{}, stubAnalyzer{err: fmt.Errorf("upstream down")})
	sender := addClient(t, h, "global", "Asha")

	h.RunPipeline(sender, types.SendRequest{Room: "global", DisplayName: "Asha", Text: "Hello"})
	msg := recvWire(t, sender)
	delivered := types.Message{}
	assert.NoError(t, json.Unmarshal(msg.Data, &delivered))
	assert.Equal(t, types.SentimentNeutral, delivered.Sentiment.Label)
	assert.Equal(t, float64(0), delivered.Sentiment.Score)
}

func TestPipelineStoresHistory(t *testing.T) {
	h := newTestHub(t, stubModerator{}, &stubTranslator{}, stubAnalyzer{sentiment: types.Sentiment{Score: 0.9, Label: types.SentimentPositive}})
	sender := addClient(t, h, "global", "Asha")

	h.RunPipeline(sender, types.SendRequest{Room: "global", DisplayName: "Asha", Text: "Hello everyone", SourceLanguage: "en-US"})
	recvWire(t, sender)

	history, err := h.Persister.GetRoomHistory("global", 50)
	assert.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, "Hello everyone", history[0].Text)
	assert.Equal(t, "Asha", history[0].AuthorDisplayName)
	assert.Equal(t, types.SentimentPositive, history[0].Sentiment.Label)
}

func TestPipelineScopesBroadcastToRoom(t *testing.T) {
	h := newTestHub(t, stubModerator{}, &stubTranslator{}, stubAnalyzer{})
	sender := addClient(t, h, "global", "Asha")
	elsewhere := addClient(t, h, "kerala", "Ravi")

	h.RunPipeline(sender, types.SendRequest{Room: "global", DisplayName: "Asha", Text: "Hello"})
	recvWire(t, sender)
	assertSilent(t, elsewhere)
}

func TestPipelineRejectsEmptyInput(t *testing.T) {
	h := newTestHub(t, stubModerator{}, &stubTranslator{}, stubAnalyzer{})
	sender := addClient(t, h, "global", "Asha")

	h.RunPipeline(sender, types.SendRequest{Room: "global", DisplayName: "Asha", Text: "   "})
	msg := recvWire(t, sender)
	assert.Equal(t, types.WireEventError, msg.Event)

	h.RunPipeline(sender, types.SendRequest{Room: "", DisplayName: "Asha", Text: "hello"})
	msg = recvWire(t, sender)
	assert.Equal(t, types.WireEventError, msg.Event)

	history, err := h.Persister.GetRoomHistory("global", 50)
	assert.NoError(t, err)
	assert.Len(t, history, 0)
}

func TestTranslateReplyOnlyToRequester(t *testing.T) {
	translator := &stubTranslator{result: "Bonjour à tous"}
	h := newTestHub(t, stubModerator{}, translator, stubAnalyzer{})
	requester := addClient(t, h, "global", "Asha")
	other := addClient(t, h, "global", "Ravi")

	h.RunTranslateRequest(requester, types.TranslateRequest{Text: "Hello everyone", TargetLanguage: "fr", CorrelationId: "42"})

	msg := recvWire(t, requester)
	assert.Equal(t, types.WireEventTranslated, msg.Event)
	reply := types.TranslationReply{}
	assert.NoError(t, json.Unmarshal(msg.Data, &reply))
	assert.Equal(t, "42", reply.CorrelationId)
	assert.Equal(t, "Bonjour à tous", reply.TranslatedText)
	assert.Equal(t, "fr", reply.TargetLanguage)

	assertSilent(t, other)
}

func TestTranslateFailureIsSilent(t *testing.T) {
	translator := &stubTranslator{err: fmt.Errorf("upstream down")}
	h := newTestHub(t, stubModerator{}, translator, stubAnalyzer{})
	requester := addClient(t, h, "global", "Asha")

	h.RunTranslateRequest(requester, types.TranslateRequest{Text: "Hello", TargetLanguage: "fr", CorrelationId: "42"})
	assertSilent(t, requester)
}

func waitForPresence(t *testing.T, c *Client, want []string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-c.Send:
			msg := types.WebsocketMessage{}
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("could not unmarshal wire message: %s", err)
			}
			if msg.Event != types.WireEventPresenceUpdated {
				continue
			}
			update := types.PresenceUpdate{}
			if err := json.Unmarshal(msg.Data, &update); err != nil {
				t.Fatalf("could not unmarshal presence update: %s", err)
			}
			if assert.ObjectsAreEqual(sorted(want), sorted(update.Users)) {
				return
			}
		case <-deadline:
			t.Fatalf("presence snapshot %v never arrived", want)
		}
	}
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func TestPresenceBroadcastOnJoinAndLeave(t *testing.T) {
	h := newTestHub(t, stubModerator{}, &stubTranslator{}, stubAnalyzer{})
	c1 := addClient(t, h, "", "")
	c2 := addClient(t, h, "", "")

	h.Join <- &joinEvent{client: c1, request: types.JoinRequest{Room: "global", DisplayName: "Asha"}}
	h.Join <- &joinEvent{client: c2, request: types.JoinRequest{Room: "global", DisplayName: "Ravi"}}
	waitForPresence(t, c2, []string{"Asha", "Ravi"})

	h.Unregister <- c1
	waitForPresence(t, c2, []string{"Ravi"})
}

func TestJoinSwitchesRoom(t *testing.T) {
	h := newTestHub(t, stubModerator{}, &stubTranslator{}, stubAnalyzer{})
	c := addClient(t, h, "", "")

	h.Join <- &joinEvent{client: c, request: types.JoinRequest{Room: "global", DisplayName: "Asha"}}
	waitForPresence(t, c, []string{"Asha"})
	assert.Equal(t, "global", c.Room())

	h.Join <- &joinEvent{client: c, request: types.JoinRequest{Room: "kerala", DisplayName: "Asha"}}
	waitForPresence(t, c, []string{"Asha"})
	assert.Equal(t, "kerala", c.Room())
	// re-join keeps a single presence entry
	assert.Equal(t, 1, h.Presence.Count())
}

func TestRequestPresenceRepliesOnlyToRequester(t *testing.T) {
	h := newTestHub(t, stubModerator{}, &stubTranslator{}, stubAnalyzer{})
	requester := addClient(t, h, "", "")
	other := addClient(t, h, "", "")

	h.Join <- &joinEvent{client: requester, request: types.JoinRequest{Room: "global", DisplayName: "Asha"}}
	waitForPresence(t, requester, []string{"Asha"})
	waitForPresence(t, other, []string{"Asha"})

	h.sendPresence(requester)

	msg := recvWire(t, requester)
	assert.Equal(t, types.WireEventPresenceUpdated, msg.Event)
	update := types.PresenceUpdate{}
	assert.NoError(t, json.Unmarshal(msg.Data, &update))
	assert.Equal(t, []string{"Asha"}, update.Users)

	assertSilent(t, other)
}

func TestQueuePresenceBroadcastDoesNotBlock(t *testing.T) {
	// the Run loop is deliberately not started: with a full Broadcast
	// buffer and no consumer, queueing must still return
	h := NewHub(testConfig(), nil, stubModerator{}, &stubTranslator{}, stubAnalyzer{})
	for i := 0; i < broadcastChannelSize; i++ {
		h.Broadcast <- []byte("{}")
	}

	done := make(chan struct{})
	go func() {
		h.queuePresenceBroadcast()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queuePresenceBroadcast blocked on a full Broadcast channel")
	}
}

func TestJoinGeneratesGuestName(t *testing.T) {
	h := newTestHub(t, stubModerator{}, &stubTranslator{}, stubAnalyzer{})
	c := addClient(t, h, "", "")

	h.Join <- &joinEvent{client: c, request: types.JoinRequest{Room: "global"}}
	deadline := time.Now().Add(2 * time.Second)
	for c.DisplayName() == "" {
		if time.Now().After(deadline) {
			t.Fatal("no guest name assigned")
		}
		time.Sleep(time.Millisecond)
	}
	assert.Contains(t, c.DisplayName(), "(guest)")
}

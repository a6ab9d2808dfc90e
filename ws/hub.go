package ws

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ektasahyog/sahyog-relay/ai"
	"github.com/ektasahyog/sahyog-relay/config"
	"github.com/ektasahyog/sahyog-relay/globals"
	"github.com/ektasahyog/sahyog-relay/persistence"
	"github.com/ektasahyog/sahyog-relay/presence"
	"github.com/ektasahyog/sahyog-relay/types"
	"github.com/folkengine/goname"
)

const (
	maxMessageSize       = 4096
	pongWait             = 2 * time.Minute
	pingPeriod           = time.Minute
	writeWait            = 10 * time.Second
	broadcastChannelSize = 1000
	joinChannelSize      = 100
)

type joinEvent struct {
	client  *Client
	request types.JoinRequest
}

type roomEnvelope struct {
	room string
	data []byte
}

// Hub is the process-wide relay. It owns the registered clients, each
// client's current room, the presence tracker and the per-message enrichment
// pipeline. Rooms are pure broadcast keys, there is no stored room entity.
type Hub struct {
	// Registered clients.
	clients map[*Client]struct{}

	// Broadcast raw payloads to all clients.
	Broadcast chan []byte

	// Broadcast a payload to the clients joined to one room.
	BroadcastRoom chan *roomEnvelope

	// Join requests (room switch + presence registration).
	Join chan *joinEvent

	// Register a new client to the hub.
	Register chan *Client

	// Unregister a client from the hub.
	Unregister chan *Client

	// Presence is the global connected-names set, owned by this hub.
	Presence *presence.Tracker

	// global configuration
	Cfg *config.Config

	// persistence
	Persister persistence.Persister

	// enrichment adapters
	Moderator  ai.Moderator
	Translator ai.Translator
	Analyzer   ai.Analyzer

	// mutex for manipulating the clients
	sync.RWMutex
}

func NewHub(cfg *config.Config, persister persistence.Persister, moderator ai.Moderator, translator ai.Translator, analyzer ai.Analyzer) *Hub {
	return &Hub{
		clients:       make(map[*Client]struct{}),
		Broadcast:     make(chan []byte, broadcastChannelSize),
		BroadcastRoom: make(chan *roomEnvelope, broadcastChannelSize),
		Join:          make(chan *joinEvent, joinChannelSize),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		Presence:      presence.NewTracker(),
		Cfg:           cfg,
		Persister:     persister,
		Moderator:     moderator,
		Translator:    translator,
		Analyzer:      analyzer,
	}
}

// NoClients returns the number of clients registered
func (h *Hub) NoClients() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.clients)
}

// Run is the main hub event loop handling register, unregister, join and
// broadcast events. Presence is mutated and snapshotted in the same step
// that handles the join/leave, so every presence broadcast reflects the
// event that triggered it.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			globals.AppLogger.Debug("register new client", "conn", client.Id())
			h.Lock()
			h.clients[client] = struct{}{}
			h.Unlock()

		case client := <-h.Unregister:
			go func() {
				h.RLock()
				if _, ok := h.clients[client]; ok {
					h.RUnlock()
					globals.AppLogger.Debug("unregister client", "conn", client.Id())

					h.Lock()
					delete(h.clients, client)
					client.closeConn()
					// wait for all loops and write operations to be finished,
					// then it is safe to close the send channel (see
					// https://go101.org/article/channel-closing.html for the
					// trade-offs of closing under lock vs. draining)
					client.Wait()
					close(client.Send)
					h.Unlock()
					h.Presence.Leave(client.Id())
					h.queuePresenceBroadcast()
				} else {
					h.RUnlock()
				}
			}()

		case evt := <-h.Join:
			displayName := evt.request.DisplayName
			if displayName == "" {
				displayName = goname.New(goname.FantasyMap).FirstLast() + " (guest)"
			}
			globals.AppLogger.Debug("join", "conn", evt.client.Id(), "room", evt.request.Room, "name", displayName)
			// a re-join switches the current room
			evt.client.setIdentity(evt.request.Room, displayName)
			h.Presence.Join(evt.client.Id(), displayName)
			h.queuePresenceBroadcast()

		case message := <-h.Broadcast:
			go func() {
				var wg sync.WaitGroup
				h.RLock()
				for client := range h.clients {
					wg.Add(1)
					client.Add(1)
					go func(c *Client) {
						defer wg.Done()
						defer c.Done()
						c.Send <- message
					}(client)
				}
				wg.Wait()
				h.RUnlock()
			}()

		case envelope := <-h.BroadcastRoom:
			go func() {
				var wg sync.WaitGroup
				h.RLock()
				for client := range h.clients {
					if client.Room() != envelope.room {
						continue
					}
					wg.Add(1)
					client.Add(1)
					go func(c *Client) {
						defer wg.Done()
						defer c.Done()
						c.Send <- envelope.data
					}(client)
				}
				wg.Wait()
				h.RUnlock()
			}()
		}
	}
}

// RunPipeline handles one send request: moderate, enrich, persist,
// broadcast. Moderation fails open; translation and sentiment are
// best-effort; a persistence error is logged but the message is still
// delivered to live clients.
//
// The broadcast targets the room named in the request, not the room the
// connection last joined (kept as documented behavior).
func (h *Hub) RunPipeline(c *Client, req types.SendRequest) {
	if strings.TrimSpace(req.Text) == "" || req.Room == "" {
		h.sendError(c, "empty message or room")
		return
	}

	verdict, err := h.classify(req.Text)
	if err != nil {
		globals.AppLogger.Warn("moderation unavailable, failing open", "error", err)
		verdict = ai.Verdict{}
	}
	if verdict.Unsafe {
		h.notifyBlocked(c, verdict.Reason)
		return
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = c.DisplayName()
	}
	msg := types.Message{
		Room:              req.Room,
		AuthorId:          req.UserId,
		AuthorDisplayName: displayName,
		Text:              req.Text,
		SourceLanguage:    req.SourceLanguage,
		CreatedAt:         time.Now().UTC(),
	}
	if err := msg.CreateId(); err != nil {
		globals.AppLogger.Error("could not hash message", "error", err)
		return
	}

	if h.Translator != nil && ai.NeedsBridge(req.SourceLanguage, h.bridgeLanguage()) {
		ctx, cancel := h.aiContext()
		translated, err := h.Translator.ToBridge(ctx, req.Text, req.SourceLanguage)
		cancel()
		if err != nil {
			globals.AppLogger.Warn("bridge translation failed", "error", err)
		} else {
			msg.BridgeTranslation = translated
		}
	}

	msg.Sentiment = types.NeutralSentiment()
	if h.Analyzer != nil {
		ctx, cancel := h.aiContext()
		sentiment, err := h.Analyzer.Analyze(ctx, req.Text)
		cancel()
		if err != nil {
			globals.AppLogger.Warn("sentiment analysis failed", "error", err)
		} else {
			msg.Sentiment = sentiment
		}
	}

	if h.Persister != nil {
		if err := h.Persister.StoreMessage(msg); err != nil {
			// live delivery does not depend on successful persistence
			globals.AppLogger.Error("could not persist message", "error", err)
		}
	}

	data, err := types.NewWireMessage(types.WireEventMessageReceived, msg)
	if err != nil {
		globals.AppLogger.Error("could not marshal message", "error", err)
		return
	}
	h.BroadcastRoom <- &roomEnvelope{room: req.Room, data: data}
}

// RunTranslateRequest serves an on-demand translation, replying only to the
// requesting connection. On failure no reply is sent.
func (h *Hub) RunTranslateRequest(c *Client, req types.TranslateRequest) {
	if req.Text == "" || req.TargetLanguage == "" || h.Translator == nil {
		return
	}
	ctx, cancel := h.aiContext()
	translated, err := h.Translator.ToLanguage(ctx, req.Text, req.TargetLanguage)
	cancel()
	if err != nil {
		globals.AppLogger.Warn("on-demand translation failed", "correlation_id", req.CorrelationId, "error", err)
		return
	}
	reply := types.TranslationReply{
		CorrelationId:  req.CorrelationId,
		TranslatedText: translated,
		TargetLanguage: req.TargetLanguage,
	}
	data, err := types.NewWireMessage(types.WireEventTranslated, reply)
	if err != nil {
		globals.AppLogger.Error("could not marshal translation reply", "error", err)
		return
	}
	h.sendToClient(c, data)
}

func (h *Hub) classify(text string) (ai.Verdict, error) {
	if h.Moderator == nil {
		return ai.Verdict{}, nil
	}
	ctx, cancel := h.aiContext()
	defer cancel()
	return h.Moderator.Classify(ctx, text)
}

func (h *Hub) aiContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.Cfg.AiConfig.Timeout())
}

func (h *Hub) bridgeLanguage() string {
	return h.Cfg.AiConfig.BridgeLanguage
}

func (h *Hub) notifyBlocked(c *Client, reason string) {
	data, err := types.NewWireMessage(types.WireEventMessageBlocked, types.BlockNotice{Reason: reason})
	if err != nil {
		globals.AppLogger.Error("could not marshal block notice", "error", err)
		return
	}
	h.sendToClient(c, data)
}

func (h *Hub) sendError(c *Client, reason string) {
	data, err := types.NewWireMessage(types.WireEventError, types.ErrorNotice{Reason: reason})
	if err != nil {
		globals.AppLogger.Error("could not marshal error notice", "error", err)
		return
	}
	h.sendToClient(c, data)
}

// sendPresence replies with the current snapshot to one client only.
func (h *Hub) sendPresence(c *Client) {
	data, err := types.NewWireMessage(types.WireEventPresenceUpdated, types.PresenceUpdate{Users: h.Presence.Snapshot()})
	if err != nil {
		globals.AppLogger.Error("could not marshal presence", "error", err)
		return
	}
	h.sendToClient(c, data)
}

// queuePresenceBroadcast snapshots presence and queues it for delivery to
// all clients, room membership does not matter for presence. The queueing
// must never block: this is also called from inside the Run loop, which is
// the consumer of the Broadcast channel.
func (h *Hub) queuePresenceBroadcast() {
	data, err := types.NewWireMessage(types.WireEventPresenceUpdated, types.PresenceUpdate{Users: h.Presence.Snapshot()})
	if err != nil {
		globals.AppLogger.Error("could not marshal presence", "error", err)
		return
	}
	select {
	case h.Broadcast <- data:
	default:
		// buffer full, hand off so the Run loop can keep draining
		go func() {
			h.Broadcast <- data
		}()
	}
}

func (h *Hub) sendToClient(c *Client, data []byte) {
	h.RLock()
	defer h.RUnlock()
	if _, ok := h.clients[c]; ok {
		c.Add(1)
		c.Send <- data
		c.Done()
	}
}

package main

import (
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/ektasahyog/sahyog-relay/ai"
	"github.com/ektasahyog/sahyog-relay/config"
	"github.com/ektasahyog/sahyog-relay/globals"
	"github.com/ektasahyog/sahyog-relay/persistence"
	"github.com/ektasahyog/sahyog-relay/types"
	"github.com/ektasahyog/sahyog-relay/ws"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8000", "ws service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert for websocket (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key for websocket (optional)")

	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	hub          *ws.Hub
	persister    persistence.Persister
	globalConfig *config.Config
)

func main() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		<-c
		globals.AppLogger.Info("interrupted, shutting down")
		if persister != nil {
			persister.Close()
		}
		os.Exit(0)
	}()

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	var err error
	globalConfig, err = config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}

	if globalConfig.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	}

	persister, err = persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	if persister != nil {
		defer persister.Close()
	} else {
		globals.AppLogger.Warn("no persistence configured, history will be empty")
	}

	moderator := ai.NewHTTPModerator(globalConfig.AiConfig)
	if globalConfig.AiConfig.ModerationUrl == "" {
		globals.AppLogger.Warn("no moderation endpoint configured, all messages pass")
	}
	var translator ai.Translator
	if globalConfig.AiConfig.ProjectId != "" {
		t, err := ai.NewGoogleTranslator(globalConfig.AiConfig)
		if err != nil {
			panic(err)
		}
		translator = t
	} else {
		globals.AppLogger.Warn("no translation project configured, bridge translation disabled")
	}
	analyzer := ai.NewGoogleAnalyzer()

	hub = ws.NewHub(globalConfig, persister, moderator, translator, analyzer)
	go hub.Run()

	cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if persister != nil {
		_, err := cronRunner.AddFunc("0 * * * *", func() {
			if err := persister.Maintain(); err != nil {
				globals.AppLogger.Error("store maintenance failed", "error", err)
			}
		})
		if err != nil {
			panic(err)
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	setupRoutes()
	// start HTTP server
	if *sslCert != "" && *sslKey != "" {
		err = http.ListenAndServeTLS(*addr, *sslCert, *sslKey, nil)
	} else {
		err = http.ListenAndServe(*addr, nil)
	}
	globals.AppLogger.Error("stopped listening", "error", err)
}

func setupRoutes() {
	router := mux.NewRouter()
	router.HandleFunc("/chat", websocketHandler).Methods(http.MethodGet)
	router.HandleFunc("/history/{room}", historyHandler).Methods(http.MethodGet)
	http.Handle("/", router)
}

// Handle incoming websockets. Room membership and presence are driven by
// "join" events on the connection, not by the URL.
func websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		globals.AppLogger.Error("websocket upgrade error", "error", err)
		return
	}

	// When this frame returns close the Websocket
	defer conn.Close() //nolint

	doneChan := make(chan struct{})
	c := ws.NewClient(hub, conn, doneChan)
	hub.Register <- c
	defer func() {
		hub.Unregister <- c
	}()
	c.Add(2)
	go c.ReadLoop()
	go c.WriteLoop()

	<-doneChan
	globals.AppLogger.Debug("doneChan closed, exiting ws handler", "conn", c.Id())
}

// historyHandler serves the read path: up to the configured limit of
// persisted messages for one room, oldest first.
func historyHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	room := vars["room"]
	if room == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	entries := make([]types.HistoryEntry, 0)
	if persister != nil {
		messages, err := persister.GetRoomHistory(room, globalConfig.HistoryLimit())
		if err != nil {
			globals.AppLogger.Error("could not load history", "room", room, "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		for _, m := range messages {
			entries = append(entries, types.NewHistoryEntry(m))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		globals.AppLogger.Error("could not write history response", "error", err)
	}
}

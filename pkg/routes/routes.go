package routes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kabili207/mesh-chess/internal/web"
	"github.com/kabili207/mesh-chess/pkg/broker"
	"github.com/kabili207/mesh-chess/pkg/events"
	"github.com/kabili207/mesh-chess/pkg/game"
	"github.com/kabili207/mesh-chess/pkg/meshtastic"
	"github.com/kabili207/mesh-chess/pkg/models"
	"github.com/kabili207/mesh-chess/pkg/nodes"
	"github.com/kabili207/mesh-chess/pkg/router"
	"github.com/kabili207/mesh-chess/pkg/rules"
)

type NodeDirectory interface {
	Get(id meshtastic.NodeID) (models.Node, bool)
	ByProximity(ref *models.Position, exclude meshtastic.NodeID) []nodes.Neighbor
}

type ChatLog interface {
	Keys() []models.ChatKey
	Messages(key models.ChatKey) []models.ChatMessage
}

type TextSender interface {
	SendText(text string, target router.Target) error
}

type GameController interface {
	Snapshot() game.Snapshot
	SendInvite(target meshtastic.NodeID) error
	AcceptInvite() error
	DeclineInvite() error
	CancelInvite() error
	ProposeMove(from, to, promotion string) (rules.Move, error)
	Resign() error
}

type TraceService interface {
	Record(dest meshtastic.NodeID) (models.TraceRecord, bool)
	RequestTrace(ctx context.Context, dest meshtastic.NodeID) error
}

type ClientLister interface {
	Clients() []broker.ClientDetails
}

type EventSource interface {
	Subscribe() chan events.Event
	Unsubscribe(ch chan events.Event)
}

type Options struct {
	Self         meshtastic.NodeID
	SelfPosition *models.Position
	Channels     []models.ChannelInfo

	Nodes  NodeDirectory
	Chats  ChatLog
	Sender TextSender
	Game   GameController
	Traces TraceService
	Events EventSource
	// Clients is nil when the embedded broker is disabled.
	Clients ClientLister
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Log      *slog.Logger
}

type WebRouter struct {
	opts Options
	log  *slog.Logger
}

func NewWebRouter(opts Options) *WebRouter {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &WebRouter{opts: opts, log: log.With("component", "web")}
}

// Handler builds the HTTP handler with all routes and middleware.
func (wr *WebRouter) Handler() http.Handler {
	myRouter := mux.NewRouter().StrictSlash(true)

	api := myRouter.PathPrefix("/api").Subrouter()
	api.HandleFunc("/nodes", wr.getNodes).Methods("GET")
	api.HandleFunc("/nodes/{id}", wr.getNode).Methods("GET")
	api.HandleFunc("/channels", wr.getChannels).Methods("GET")
	api.HandleFunc("/chats", wr.getChats).Methods("GET")
	api.HandleFunc("/chats/{key}", wr.getChat).Methods("GET")
	api.HandleFunc("/chats/{key}", wr.postChat).Methods("POST")
	api.HandleFunc("/game", wr.getGame).Methods("GET")
	api.HandleFunc("/game/invite", wr.postInvite).Methods("POST")
	api.HandleFunc("/game/accept", wr.gameAction(wr.opts.Game.AcceptInvite)).Methods("POST")
	api.HandleFunc("/game/decline", wr.gameAction(wr.opts.Game.DeclineInvite)).Methods("POST")
	api.HandleFunc("/game/cancel", wr.gameAction(wr.opts.Game.CancelInvite)).Methods("POST")
	api.HandleFunc("/game/resign", wr.gameAction(wr.opts.Game.Resign)).Methods("POST")
	api.HandleFunc("/game/move", wr.postMove).Methods("POST")
	api.HandleFunc("/traces/{id}", wr.getTrace).Methods("GET")
	api.HandleFunc("/traces/{id}", wr.postTrace).Methods("POST")
	api.HandleFunc("/broker/clients", wr.getBrokerClients).Methods("GET")
	api.HandleFunc("/events", wr.eventsSSE).Methods("GET")

	myRouter.Handle("/metrics", promhttp.HandlerFor(wr.opts.Gatherer, promhttp.HandlerOpts{}))

	staticFS := web.StaticFS()
	myRouter.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServerFS(staticFS)))
	myRouter.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, staticFS, "index.html")
	})

	myRouter.Use(handlers.ProxyHeaders)
	myRouter.Use(wr.RequestLogger)
	h := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))

	return h(myRouter)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (wr *WebRouter) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           wr.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		wr.log.Info("web interface listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (wr *WebRouter) RequestLogger(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		wr.log.Debug("endpoint hit", "method", r.Method, "path", r.URL.Path, "remote_host", r.RemoteAddr, "user_agent", r.UserAgent())
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kabili207/mesh-chess/internal/web/components"
	"github.com/kabili207/mesh-chess/pkg/game"
	"github.com/kabili207/mesh-chess/pkg/meshtastic"
	"github.com/kabili207/mesh-chess/pkg/models"
	"github.com/kabili207/mesh-chess/pkg/router"
	"github.com/kabili207/mesh-chess/pkg/rules"
	"github.com/kabili207/mesh-chess/pkg/traceroute"
)

type NodesResponse struct {
	Self  string                `json:"self"`
	Nodes []components.NodeData `json:"nodes"`
}

type ChatsResponse struct {
	Chats []components.ChatData `json:"chats"`
}

type MessagesResponse struct {
	Key      models.ChatKey       `json:"key"`
	Title    string               `json:"title"`
	Messages []models.ChatMessage `json:"messages"`
}

type SendTextRequest struct {
	Text string `json:"text"`
}

type InviteRequest struct {
	Peer string `json:"peer"`
}

type MoveRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

type GameResponse struct {
	game.Snapshot
	Board string `json:"board,omitempty"`
}

func (wr *WebRouter) referencePosition() *models.Position {
	if self, ok := wr.opts.Nodes.Get(wr.opts.Self); ok && self.HasPosition() {
		return self.Position
	}
	return wr.opts.SelfPosition
}

func (wr *WebRouter) getNodes(w http.ResponseWriter, r *http.Request) {
	neighbors := wr.opts.Nodes.ByProximity(wr.referencePosition(), wr.opts.Self)
	out := make([]components.NodeData, 0, len(neighbors))
	for _, n := range neighbors {
		out = append(out, components.NewNodeData(n))
	}
	writeJSON(w, http.StatusOK, NodesResponse{Self: wr.opts.Self.String(), Nodes: out})
}

func nodeIDVar(r *http.Request) (meshtastic.NodeID, error) {
	return meshtastic.ParseNodeID(mux.Vars(r)["id"])
}

func (wr *WebRouter) getNode(w http.ResponseWriter, r *http.Request) {
	id, err := nodeIDVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, ok := wr.opts.Nodes.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("node %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (wr *WebRouter) getChannels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"channels": wr.opts.Channels})
}

func (wr *WebRouter) chatTitle(key models.ChatKey) string {
	if key.IsDirect() {
		if n, ok := wr.opts.Nodes.Get(key.Peer); ok {
			return n.GetDisplayName()
		}
		return key.Peer.String()
	}
	for _, ch := range wr.opts.Channels {
		if ch.Index == key.Channel {
			return ch.Name
		}
	}
	return fmt.Sprintf("Channel %d", key.Channel)
}

func (wr *WebRouter) getChats(w http.ResponseWriter, r *http.Request) {
	keys := wr.opts.Chats.Keys()
	seen := make(map[models.ChatKey]bool, len(keys))
	out := make([]components.ChatData, 0, len(keys)+len(wr.opts.Channels))
	for _, key := range keys {
		msgs := wr.opts.Chats.Messages(key)
		c := components.ChatData{Key: key, Title: wr.chatTitle(key), IsDirect: key.IsDirect(), Count: len(msgs)}
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			c.LastMessage = &last
		}
		seen[key] = true
		out = append(out, c)
	}
	// Configured channels are listed even before anything was said on them.
	for _, ch := range wr.opts.Channels {
		key := models.ChannelKey(ch.Index)
		if !seen[key] {
			out = append(out, components.ChatData{Key: key, Title: ch.Name})
		}
	}
	components.SortChats(out)
	writeJSON(w, http.StatusOK, ChatsResponse{Chats: out})
}

func chatKeyVar(r *http.Request) (models.ChatKey, error) {
	return models.ParseChatKey(mux.Vars(r)["key"])
}

func (wr *WebRouter) getChat(w http.ResponseWriter, r *http.Request) {
	key, err := chatKeyVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	msgs := wr.opts.Chats.Messages(key)
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, MessagesResponse{Key: key, Title: wr.chatTitle(key), Messages: msgs})
}

func (wr *WebRouter) postChat(w http.ResponseWriter, r *http.Request) {
	key, err := chatKeyVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req SendTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request"))
		return
	}

	target := router.ChannelTarget(key.Channel)
	if key.IsDirect() {
		target = router.PeerTarget(key.Peer)
	}
	if err := wr.opts.Sender.SendText(req.Text, target); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
}

func (wr *WebRouter) gameResponse() GameResponse {
	snap := wr.opts.Game.Snapshot()
	resp := GameResponse{Snapshot: snap}
	if snap.FEN != "" {
		if pos, err := rules.FromFEN(snap.FEN); err == nil {
			resp.Board = pos.Board()
		}
	}
	return resp
}

func (wr *WebRouter) getGame(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wr.gameResponse())
}

// gameStatus maps session errors to HTTP statuses.
func gameStatus(err error) int {
	switch {
	case errors.Is(err, game.ErrInvalidTarget), errors.Is(err, game.ErrIllegalMove):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrSessionActive), errors.Is(err, game.ErrNoPendingInvite),
		errors.Is(err, game.ErrNoInviteSent), errors.Is(err, game.ErrNotActive),
		errors.Is(err, game.ErrNotYourTurn):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (wr *WebRouter) gameAction(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			writeError(w, gameStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, wr.gameResponse())
	}
}

func (wr *WebRouter) postInvite(w http.ResponseWriter, r *http.Request) {
	var req InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request"))
		return
	}
	peer, err := meshtastic.ParseNodeID(req.Peer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := wr.opts.Game.SendInvite(peer); err != nil {
		writeError(w, gameStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, wr.gameResponse())
}

func (wr *WebRouter) postMove(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request"))
		return
	}
	if _, err := wr.opts.Game.ProposeMove(req.From, req.To, req.Promotion); err != nil {
		writeError(w, gameStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, wr.gameResponse())
}

func (wr *WebRouter) getTrace(w http.ResponseWriter, r *http.Request) {
	id, err := nodeIDVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, ok := wr.opts.Traces.Record(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no route recorded for %s", id))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (wr *WebRouter) postTrace(w http.ResponseWriter, r *http.Request) {
	id, err := nodeIDVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := wr.opts.Traces.RequestTrace(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, traceroute.ErrInvalidDestination) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
}

func (wr *WebRouter) getBrokerClients(w http.ResponseWriter, r *http.Request) {
	if wr.opts.Clients == nil {
		writeError(w, http.StatusNotFound, errors.New("embedded broker is not running"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": wr.opts.Clients.Clients()})
}

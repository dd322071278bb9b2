package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	pb "github.com/kabili207/meshtastic-go/core/proto"
	"google.golang.org/protobuf/proto"

	"github.com/kabili207/mesh-chess/pkg/chat"
	"github.com/kabili207/mesh-chess/pkg/meshtastic"
	"github.com/kabili207/mesh-chess/pkg/metrics"
	"github.com/kabili207/mesh-chess/pkg/models"
)

// MaxTextLength is the largest text payload that fits in a single mesh packet.
const MaxTextLength = 228

const defaultSendTimeout = 30 * time.Second

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message too long for a single packet")
	ErrInvalidTarget  = errors.New("invalid message target")
)

// Transport is the mesh connection the router sends through and receives from.
type Transport interface {
	SendText(ctx context.Context, text string, to meshtastic.NodeID, channel uint32) error
	OnPacketReceived(fn func(pkt *pb.MeshPacket))
	LocalNode() meshtastic.NodeID
}

// TraceHandler consumes traceroute responses.
type TraceHandler interface {
	HandleRouteDiscovery(pkt *pb.MeshPacket, data *pb.Data, disco *pb.RouteDiscovery) bool
}

// PayloadHandler receives a structured payload embedded in a text message.
type PayloadHandler func(from meshtastic.NodeID, payload json.RawMessage)

type Options struct {
	Transport   Transport
	Chats       *chat.Store
	Traces      TraceHandler
	Metrics     *metrics.Metrics
	Log         *slog.Logger
	SendTimeout time.Duration
}

// Router classifies inbound packets into chat logs, sub-protocol handlers and
// the trace tracker, and is the single path for outbound text.
type Router struct {
	transport   Transport
	chats       *chat.Store
	traces      TraceHandler
	metrics     *metrics.Metrics
	log         *slog.Logger
	sendTimeout time.Duration

	subLock     sync.RWMutex
	subscribers map[string][]PayloadHandler
}

func New(opts Options) *Router {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Router{
		transport:   opts.Transport,
		chats:       opts.Chats,
		traces:      opts.Traces,
		metrics:     opts.Metrics,
		log:         log.With("component", "router"),
		sendTimeout: timeout,
		subscribers: make(map[string][]PayloadHandler),
	}
}

// Attach registers the router as the transport's packet handler.
func (r *Router) Attach() {
	r.transport.OnPacketReceived(r.HandleInbound)
}

// Subscribe registers fn for text payloads that are JSON objects containing key.
func (r *Router) Subscribe(key string, fn PayloadHandler) {
	r.subLock.Lock()
	defer r.subLock.Unlock()
	r.subscribers[key] = append(r.subscribers[key], fn)
}

// HandleInbound processes a single decoded packet. Malformed packets are dropped.
func (r *Router) HandleInbound(pkt *pb.MeshPacket) {
	data := pkt.GetDecoded()
	if data == nil || pkt.GetFrom() == 0 {
		r.metrics.RecordPacket(metrics.KindDropped)
		return
	}

	switch data.GetPortnum() {
	case pb.PortNum_TEXT_MESSAGE_APP:
		r.handleText(pkt, data)
	case pb.PortNum_TRACEROUTE_APP:
		r.handleTraceroute(pkt, data)
	}
}

func (r *Router) handleText(pkt *pb.MeshPacket, data *pb.Data) {
	payload := data.GetPayload()
	if len(payload) == 0 || !utf8.Valid(payload) {
		r.metrics.RecordPacket(metrics.KindDropped)
		return
	}
	text := string(payload)
	from := meshtastic.NodeID(pkt.GetFrom())
	to := meshtastic.NodeID(pkt.GetTo())

	var key models.ChatKey
	if to.IsBroadcast() {
		key = models.ChannelKey(pkt.GetChannel())
	} else {
		key = models.DirectKey(from)
	}

	received := time.Now()
	if rx := pkt.GetRxTime(); rx != 0 {
		received = time.Unix(int64(rx), 0)
	}

	r.chats.Append(key, models.ChatMessage{
		From:    from,
		To:      to,
		Channel: pkt.GetChannel(),
		Text:    text,
		Time:    received,
		IsSelf:  false,
	})

	if r.dispatch(from, text) {
		r.metrics.RecordPacket(metrics.KindSubprotocol)
		return
	}
	r.metrics.RecordPacket(metrics.KindChat)
}

// dispatch delivers text to every subscriber whose key is present in it.
func (r *Router) dispatch(from meshtastic.NodeID, text string) bool {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}

	r.subLock.RLock()
	candidates := make(map[string][]PayloadHandler)
	for key, handlers := range r.subscribers {
		if strings.Contains(trimmed, `"`+key+`"`) {
			candidates[key] = handlers
		}
	}
	r.subLock.RUnlock()
	if len(candidates) == 0 {
		return false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return false
	}

	delivered := false
	for key, handlers := range candidates {
		if _, ok := fields[key]; !ok {
			continue
		}
		for _, fn := range handlers {
			fn(from, json.RawMessage(trimmed))
			delivered = true
		}
	}
	return delivered
}

func (r *Router) handleTraceroute(pkt *pb.MeshPacket, data *pb.Data) {
	if r.traces == nil || data.GetRequestId() == 0 {
		return
	}
	var disco pb.RouteDiscovery
	if err := proto.Unmarshal(data.GetPayload(), &disco); err != nil {
		r.metrics.RecordPacket(metrics.KindDropped)
		return
	}
	if r.traces.HandleRouteDiscovery(pkt, data, &disco) {
		r.metrics.RecordPacket(metrics.KindTraceroute)
		r.metrics.RecordTraceResponse()
	}
}

// SendText mirrors text into the target's chat log and hands it to the
// transport in the background. It never waits on the network.
func (r *Router) SendText(text string, target Target) error {
	if text == "" {
		return ErrEmptyMessage
	}
	if len(text) > MaxTextLength {
		return ErrMessageTooLong
	}
	if !target.valid() {
		return ErrInvalidTarget
	}

	r.chats.Append(target.Key(), models.ChatMessage{
		From:    r.transport.LocalNode(),
		To:      target.Destination(),
		Channel: target.Channel,
		Text:    text,
		Time:    time.Now(),
		IsSelf:  true,
	})

	go func(text string, target Target) {
		ctx, cancel := context.WithTimeout(context.Background(), r.sendTimeout)
		defer cancel()
		err := r.transport.SendText(ctx, text, target.Destination(), target.Channel)
		r.metrics.RecordSend(err)
		if err != nil {
			r.log.Error("error sending message", "target", target.String(), "error", err)
		}
	}(text, target)

	return nil
}

// SendPayload serializes v as JSON and sends it as text.
func (r *Router) SendPayload(v any, target Target) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.SendText(string(raw), target)
}

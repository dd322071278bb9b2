package game

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kabili207/mesh-chess/pkg/meshtastic"
	"github.com/kabili207/mesh-chess/pkg/metrics"
	"github.com/kabili207/mesh-chess/pkg/router"
	"github.com/kabili207/mesh-chess/pkg/rules"
)

// Transmitter sends a game message to a peer.
type Transmitter interface {
	SendPayload(v any, target router.Target) error
}

// Subscriber delivers structured payloads addressed to a protocol key.
type Subscriber interface {
	Subscribe(key string, fn router.PayloadHandler)
}

// Listener is notified after every session state change.
type Listener interface {
	SessionStateChanged(s Snapshot)
}

type Options struct {
	Transmitter Transmitter
	Engine      rules.Engine
	Listener    Listener
	Metrics     *metrics.Metrics
	Log         *slog.Logger
	// Self is the local node. Invites to it are refused.
	Self meshtastic.NodeID
}

// Session is the single game this node can take part in at a time.
type Session struct {
	mu sync.Mutex

	id       uuid.UUID
	state    State
	color    rules.Color
	opponent meshtastic.NodeID
	pending  meshtastic.NodeID
	pos      rules.Position
	history  []string
	result   Result
	reason   string
	desynced bool
	updated  time.Time

	tx       Transmitter
	engine   rules.Engine
	listener Listener
	metrics  *metrics.Metrics
	log      *slog.Logger
	self     meshtastic.NodeID
}

func NewSession(opts Options) *Session {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	engine := opts.Engine
	if engine == nil {
		engine = rules.Chess()
	}
	return &Session{
		state:    Idle,
		tx:       opts.Transmitter,
		engine:   engine,
		listener: opts.Listener,
		metrics:  opts.Metrics,
		log:      log.With("component", "game"),
		self:     opts.Self,
		updated:  time.Now(),
	}
}

// Attach subscribes the session to inbound game messages.
func (s *Session) Attach(sub Subscriber) {
	sub.Subscribe(ProtocolKey, s.HandlePayload)
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:    s.state,
		Color:    s.color,
		Opponent: s.opponent,
		Pending:  s.pending,
		Moves:    append([]string{}, s.history...),
		Result:   s.result,
		Reason:   s.reason,
		Desynced: s.desynced,
		Updated:  s.updated,
	}
	if s.id != uuid.Nil {
		snap.ID = s.id.String()
	}
	if s.pos != nil {
		snap.FEN = s.pos.String()
		snap.Turn = s.pos.Turn()
		snap.YourTurn = s.state == Active && snap.Turn == s.color
	}
	return snap
}

// resetLocked clears everything belonging to a previous game.
func (s *Session) resetLocked() {
	s.id = uuid.Nil
	s.color = rules.NoColor
	s.opponent = 0
	s.pending = 0
	s.pos = nil
	s.history = nil
	s.result = ResultNone
	s.reason = ""
	s.desynced = false
}

func (s *Session) touchLocked() Snapshot {
	s.updated = time.Now()
	return s.snapshotLocked()
}

// commit runs after the lock is released: it transmits msg (if any) and emits the new snapshot.
func (s *Session) commit(snap Snapshot, msg *Message, to meshtastic.NodeID) error {
	var err error
	if msg != nil {
		s.metrics.RecordGameEvent(string(msg.Kind), false)
		if err = s.tx.SendPayload(msg, router.PeerTarget(to)); err != nil {
			s.log.Error("error sending game message", "kind", msg.Kind, "to", to, "error", err)
			err = fmt.Errorf("sending %s: %w", msg.Kind, err)
		}
	}
	if s.listener != nil {
		s.listener.SessionStateChanged(snap)
	}
	return err
}

// SendInvite invites target to a new game with the local player as white.
// Any earlier invite, sent or received, is abandoned.
func (s *Session) SendInvite(target meshtastic.NodeID) error {
	if target == 0 || target.IsBroadcast() || (s.self != 0 && target == s.self) {
		return ErrInvalidTarget
	}

	s.mu.Lock()
	if s.state == Active {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.resetLocked()
	s.id = uuid.New()
	s.state = InviteSent
	s.opponent = target
	s.color = rules.White
	snap := s.touchLocked()
	s.mu.Unlock()

	s.log.Info("sent game invite", "opponent", target)
	return s.commit(snap, &Message{Kind: KindInvite}, target)
}

// AcceptInvite starts a game against the pending inviter with the local player as black.
func (s *Session) AcceptInvite() error {
	s.mu.Lock()
	if s.state != InvitePending || s.pending == 0 {
		s.mu.Unlock()
		return ErrNoPendingInvite
	}
	s.opponent = s.pending
	s.pending = 0
	s.color = rules.Black
	s.pos = s.engine.Start()
	s.history = nil
	s.state = Active
	opponent := s.opponent
	snap := s.touchLocked()
	s.mu.Unlock()

	s.log.Info("accepted game invite", "opponent", opponent)
	return s.commit(snap, &Message{Kind: KindAccept}, opponent)
}

// DeclineInvite drops the pending invite without telling the inviter.
func (s *Session) DeclineInvite() error {
	s.mu.Lock()
	if s.state != InvitePending {
		s.mu.Unlock()
		return ErrNoPendingInvite
	}
	inviter := s.pending
	s.resetLocked()
	s.state = Idle
	snap := s.touchLocked()
	s.mu.Unlock()

	s.log.Info("declined game invite", "inviter", inviter)
	return s.commit(snap, nil, 0)
}

// CancelInvite abandons an invite the local player sent.
func (s *Session) CancelInvite() error {
	s.mu.Lock()
	if s.state != InviteSent {
		s.mu.Unlock()
		return ErrNoInviteSent
	}
	s.resetLocked()
	s.state = Idle
	snap := s.touchLocked()
	s.mu.Unlock()

	return s.commit(snap, nil, 0)
}

// ProposeMove plays a local move. Squares are in algebraic form ("e2");
// promotion is a piece letter and defaults to a queen when one is required.
func (s *Session) ProposeMove(from, to, promotion string) (rules.Move, error) {
	m := rules.Move{
		From:      strings.ToLower(strings.TrimSpace(from)),
		To:        strings.ToLower(strings.TrimSpace(to)),
		Promotion: strings.ToLower(strings.TrimSpace(promotion)),
	}

	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return rules.Move{}, ErrNotActive
	}
	if s.pos.Turn() != s.color {
		s.mu.Unlock()
		return rules.Move{}, ErrNotYourTurn
	}
	if m.Promotion == "" && !rules.IsLegal(s.pos, m) {
		queen := m
		queen.Promotion = "q"
		if rules.IsLegal(s.pos, queen) {
			m = queen
		}
	}
	next, err := s.pos.Apply(m)
	if err != nil {
		s.mu.Unlock()
		return rules.Move{}, fmt.Errorf("%w: %s", ErrIllegalMove, m)
	}

	encoded := s.pos.Encode(m)
	s.pos = next
	s.history = append(s.history, encoded)
	msg := &Message{Kind: KindMove, Move: encoded, Ply: len(s.history)}
	s.finishIfTerminalLocked(true)
	opponent := s.opponent
	snap := s.touchLocked()
	s.mu.Unlock()

	return m, s.commit(snap, msg, opponent)
}

// Resign concedes the current game.
func (s *Session) Resign() error {
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return ErrNotActive
	}
	s.state = Ended
	s.result = ResultLoss
	s.reason = ReasonResigned
	opponent := s.opponent
	snap := s.touchLocked()
	s.mu.Unlock()

	s.log.Info("resigned game", "opponent", opponent)
	return s.commit(snap, &Message{Kind: KindResign}, opponent)
}

// finishIfTerminalLocked ends the game when the position is checkmate or stalemate.
// localMoved tells whether the move that produced the position was ours.
func (s *Session) finishIfTerminalLocked(localMoved bool) {
	switch s.pos.Outcome() {
	case rules.Checkmate:
		s.state = Ended
		s.reason = ReasonCheckmate
		if localMoved {
			s.result = ResultWin
		} else {
			s.result = ResultLoss
		}
	case rules.Stalemate:
		s.state = Ended
		s.reason = ReasonStalemate
		s.result = ResultDraw
	}
}

// HandlePayload applies a game message received from a peer. Messages that do
// not fit the current state are dropped without changing it.
func (s *Session) HandlePayload(from meshtastic.NodeID, raw json.RawMessage) {
	msg, err := DecodeMessage(raw)
	if err != nil {
		s.log.Debug("ignoring game message", "from", from, "error", err)
		s.metrics.RecordRejected("malformed")
		return
	}
	s.metrics.RecordGameEvent(string(msg.Kind), true)

	s.mu.Lock()
	var changed bool
	switch msg.Kind {
	case KindInvite:
		changed = s.handleInviteLocked(from)
	case KindAccept:
		changed = s.handleAcceptLocked(from)
	case KindMove:
		changed = s.handleMoveLocked(from, msg)
	case KindResign:
		changed = s.handleResignLocked(from)
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	snap := s.touchLocked()
	s.mu.Unlock()

	s.commit(snap, nil, 0)
}

func (s *Session) handleInviteLocked(from meshtastic.NodeID) bool {
	if s.state == Active || s.state == InviteSent {
		s.log.Debug("ignoring invite while bound", "from", from, "state", s.state)
		s.metrics.RecordRejected("unexpected")
		return false
	}
	if s.state == InvitePending && s.pending == from {
		return false
	}
	s.resetLocked()
	s.id = uuid.New()
	s.state = InvitePending
	s.pending = from
	s.log.Info("received game invite", "from", from)
	return true
}

func (s *Session) handleAcceptLocked(from meshtastic.NodeID) bool {
	if s.state != InviteSent || from != s.opponent {
		s.log.Debug("ignoring unexpected accept", "from", from, "state", s.state)
		s.metrics.RecordRejected("unexpected")
		return false
	}
	s.pos = s.engine.Start()
	s.history = nil
	s.color = rules.White
	s.state = Active
	s.log.Info("game invite accepted", "opponent", from)
	return true
}

func (s *Session) handleMoveLocked(from meshtastic.NodeID, msg Message) bool {
	if s.state != Active || from != s.opponent {
		s.log.Debug("ignoring move outside of game", "from", from, "state", s.state)
		s.metrics.RecordRejected("not_opponent")
		return false
	}
	if s.pos.Turn() != s.color.Other() {
		s.log.Warn("ignoring move out of turn", "from", from, "move", msg.Move)
		s.metrics.RecordRejected("out_of_turn")
		return false
	}
	m, err := s.pos.Decode(msg.Move)
	if err != nil {
		s.log.Warn("ignoring undecodable move", "from", from, "move", msg.Move, "error", err)
		s.metrics.RecordRejected("malformed")
		return false
	}
	next, err := s.pos.Apply(m)
	if err != nil {
		s.log.Warn("ignoring illegal move", "from", from, "move", msg.Move)
		s.metrics.RecordRejected("illegal")
		return false
	}

	expected := len(s.history) + 1
	if msg.Ply != 0 && msg.Ply != expected {
		s.log.Warn("move ply mismatch, game may be out of sync", "from", from, "ply", msg.Ply, "expected", expected)
		s.desynced = true
	}

	s.history = append(s.history, s.pos.Encode(m))
	s.pos = next
	s.finishIfTerminalLocked(false)
	return true
}

func (s *Session) handleResignLocked(from meshtastic.NodeID) bool {
	if s.state != Active || from != s.opponent {
		s.metrics.RecordRejected("not_opponent")
		return false
	}
	s.state = Ended
	s.result = ResultWin
	s.reason = ReasonOpponentResigned
	s.log.Info("opponent resigned", "opponent", from)
	return true
}

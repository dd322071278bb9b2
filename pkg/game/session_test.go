package game

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kabili207/mesh-chess/pkg/meshtastic"
	"github.com/kabili207/mesh-chess/pkg/router"
	"github.com/kabili207/mesh-chess/pkg/rules"
)

const (
	self     = meshtastic.NodeID(0x0000aaaa)
	opponent = meshtastic.NodeID(0x0000bbbb)
	stranger = meshtastic.NodeID(0x0000cccc)
)

type sentMessage struct {
	msg    Message
	target router.Target
}

type fakeTransmitter struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeTransmitter) SendPayload(v any, target router.Target) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg, err := DecodeMessage(raw)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{msg: msg, target: target})
	return nil
}

func (f *fakeTransmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransmitter) last() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *snapshotRecorder) SessionStateChanged(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func newTestSession(t *testing.T) (*Session, *fakeTransmitter, *snapshotRecorder) {
	t.Helper()
	tx := &fakeTransmitter{}
	rec := &snapshotRecorder{}
	s := NewSession(Options{Transmitter: tx, Engine: rules.Chess(), Listener: rec, Self: self})
	return s, tx, rec
}

func inbound(t *testing.T, s *Session, from meshtastic.NodeID, msg Message) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	s.HandlePayload(from, raw)
}

// activeAsWhite returns a session in an active game where the local player is white.
func activeAsWhite(t *testing.T) (*Session, *fakeTransmitter, *snapshotRecorder) {
	s, tx, rec := newTestSession(t)
	require.NoError(t, s.SendInvite(opponent))
	inbound(t, s, opponent, Message{Kind: KindAccept})
	require.Equal(t, Active, s.Snapshot().State)
	return s, tx, rec
}

// activeAsBlack returns a session in an active game where the local player is black.
func activeAsBlack(t *testing.T) (*Session, *fakeTransmitter, *snapshotRecorder) {
	s, tx, rec := newTestSession(t)
	inbound(t, s, opponent, Message{Kind: KindInvite})
	require.NoError(t, s.AcceptInvite())
	return s, tx, rec
}

func TestInviteAcceptedBecomesWhite(t *testing.T) {
	s, tx, rec := newTestSession(t)

	require.NoError(t, s.SendInvite(opponent))
	snap := s.Snapshot()
	require.Equal(t, InviteSent, snap.State)
	require.Equal(t, opponent, snap.Opponent)
	require.NotEmpty(t, snap.ID)

	sent := tx.last()
	require.Equal(t, KindInvite, sent.msg.Kind)
	require.Equal(t, router.PeerTarget(opponent), sent.target)

	inbound(t, s, opponent, Message{Kind: KindAccept})
	snap = s.Snapshot()
	require.Equal(t, Active, snap.State)
	require.Equal(t, rules.White, snap.Color)
	require.True(t, snap.YourTurn)
	require.Equal(t, rules.Chess().Start().String(), snap.FEN)
	require.Len(t, rec.snaps, 2)
}

func TestAcceptingInviteBecomesBlack(t *testing.T) {
	s, tx, _ := newTestSession(t)

	inbound(t, s, opponent, Message{Kind: KindInvite})
	snap := s.Snapshot()
	require.Equal(t, InvitePending, snap.State)
	require.Equal(t, opponent, snap.Pending)
	require.Zero(t, tx.count(), "invites are never auto-accepted")

	require.NoError(t, s.AcceptInvite())
	snap = s.Snapshot()
	require.Equal(t, Active, snap.State)
	require.Equal(t, rules.Black, snap.Color)
	require.Equal(t, opponent, snap.Opponent)
	require.False(t, snap.YourTurn)

	sent := tx.last()
	require.Equal(t, KindAccept, sent.msg.Kind)
	require.Equal(t, opponent, sent.target.Peer)
}

func TestAcceptFromStrangerIgnored(t *testing.T) {
	s, _, rec := newTestSession(t)
	require.NoError(t, s.SendInvite(opponent))

	inbound(t, s, stranger, Message{Kind: KindAccept})
	require.Equal(t, InviteSent, s.Snapshot().State)
	require.Len(t, rec.snaps, 1)
}

func TestAcceptWithoutInviteIgnored(t *testing.T) {
	s, _, _ := newTestSession(t)
	inbound(t, s, opponent, Message{Kind: KindAccept})
	require.Equal(t, Idle, s.Snapshot().State)
}

func TestInviteWhileBoundIgnored(t *testing.T) {
	s, _, _ := activeAsWhite(t)
	before := s.Snapshot()

	inbound(t, s, stranger, Message{Kind: KindInvite})
	after := s.Snapshot()
	require.Equal(t, before.State, after.State)
	require.Equal(t, before.Opponent, after.Opponent)
	require.Zero(t, after.Pending)

	s2, _, _ := newTestSession(t)
	require.NoError(t, s2.SendInvite(opponent))
	inbound(t, s2, stranger, Message{Kind: KindInvite})
	require.Equal(t, InviteSent, s2.Snapshot().State)
	require.Equal(t, opponent, s2.Snapshot().Opponent)
}

func TestNewerInviteReplacesPending(t *testing.T) {
	s, _, _ := newTestSession(t)
	inbound(t, s, opponent, Message{Kind: KindInvite})
	inbound(t, s, stranger, Message{Kind: KindInvite})
	require.Equal(t, stranger, s.Snapshot().Pending)
}

func TestLocalActionsInWrongState(t *testing.T) {
	s, tx, _ := newTestSession(t)

	require.ErrorIs(t, s.AcceptInvite(), ErrNoPendingInvite)
	require.ErrorIs(t, s.DeclineInvite(), ErrNoPendingInvite)
	require.ErrorIs(t, s.CancelInvite(), ErrNoInviteSent)
	require.ErrorIs(t, s.Resign(), ErrNotActive)
	_, err := s.ProposeMove("e2", "e4", "")
	require.ErrorIs(t, err, ErrNotActive)
	require.ErrorIs(t, s.SendInvite(meshtastic.BROADCAST_ID), ErrInvalidTarget)
	require.ErrorIs(t, s.SendInvite(self), ErrInvalidTarget)
	require.Zero(t, tx.count())

	active, _, _ := activeAsWhite(t)
	require.ErrorIs(t, active.SendInvite(stranger), ErrSessionActive)
}

func TestDeclineAndCancel(t *testing.T) {
	s, tx, _ := newTestSession(t)

	inbound(t, s, opponent, Message{Kind: KindInvite})
	require.NoError(t, s.DeclineInvite())
	require.Equal(t, Idle, s.Snapshot().State)
	require.Zero(t, s.Snapshot().Pending)

	require.NoError(t, s.SendInvite(opponent))
	require.NoError(t, s.CancelInvite())
	snap := s.Snapshot()
	require.Equal(t, Idle, snap.State)
	require.Zero(t, snap.Opponent)

	// Only the invite itself went out.
	require.Equal(t, 1, tx.count())
}

func TestProposeMove(t *testing.T) {
	s, tx, _ := activeAsWhite(t)

	m, err := s.ProposeMove("E2", "e4", "")
	require.NoError(t, err)
	require.Equal(t, rules.Move{From: "e2", To: "e4"}, m)

	sent := tx.last()
	require.Equal(t, KindMove, sent.msg.Kind)
	require.Equal(t, "e2e4", sent.msg.Move)
	require.Equal(t, 1, sent.msg.Ply)
	require.Equal(t, opponent, sent.target.Peer)

	snap := s.Snapshot()
	require.Equal(t, []string{"e2e4"}, snap.Moves)
	require.Equal(t, rules.Black, snap.Turn)
	require.False(t, snap.YourTurn)
}

func TestProposeMoveOffTurnIsNoop(t *testing.T) {
	s, tx, rec := activeAsBlack(t)
	before := s.Snapshot()
	sentBefore := tx.count()
	eventsBefore := len(rec.snaps)

	_, err := s.ProposeMove("e7", "e5", "")
	require.ErrorIs(t, err, ErrNotYourTurn)

	require.Equal(t, sentBefore, tx.count())
	require.Equal(t, eventsBefore, len(rec.snaps))
	require.Equal(t, before.FEN, s.Snapshot().FEN)
}

func TestProposeIllegalMove(t *testing.T) {
	s, tx, _ := activeAsWhite(t)
	sentBefore := tx.count()

	_, err := s.ProposeMove("e2", "e5", "")
	require.ErrorIs(t, err, ErrIllegalMove)
	require.Equal(t, sentBefore, tx.count())
	require.Empty(t, s.Snapshot().Moves)
}

func TestInboundIllegalMoveLeavesPositionUnchanged(t *testing.T) {
	s, _, _ := activeAsBlack(t)
	before := s.Snapshot().FEN

	inbound(t, s, opponent, Message{Kind: KindMove, Move: "e2e5"})
	require.Equal(t, before, s.Snapshot().FEN)

	inbound(t, s, opponent, Message{Kind: KindMove, Move: "zz99"})
	require.Equal(t, before, s.Snapshot().FEN)
}

func TestInboundMoveFromStrangerIgnored(t *testing.T) {
	s, _, _ := activeAsBlack(t)
	before := s.Snapshot().FEN

	inbound(t, s, stranger, Message{Kind: KindMove, Move: "e2e4"})
	require.Equal(t, before, s.Snapshot().FEN)
}

func TestInboundMoveOutOfTurnIgnored(t *testing.T) {
	// White to move locally; the opponent (black) must not be able to move white's pieces.
	s, _, _ := activeAsWhite(t)
	before := s.Snapshot().FEN

	inbound(t, s, opponent, Message{Kind: KindMove, Move: "e2e4"})
	require.Equal(t, before, s.Snapshot().FEN)
}

func TestExchangeMoves(t *testing.T) {
	s, _, _ := activeAsBlack(t)

	inbound(t, s, opponent, Message{Kind: KindMove, Move: "e2e4", Ply: 1})
	require.True(t, s.Snapshot().YourTurn)

	_, err := s.ProposeMove("e7", "e5", "")
	require.NoError(t, err)

	inbound(t, s, opponent, Message{Kind: KindMove, Move: "g1f3", Ply: 3})
	snap := s.Snapshot()
	require.Equal(t, []string{"e2e4", "e7e5", "g1f3"}, snap.Moves)
	require.False(t, snap.Desynced)
}

func TestPlyGapFlagsDesync(t *testing.T) {
	s, _, _ := activeAsBlack(t)

	inbound(t, s, opponent, Message{Kind: KindMove, Move: "e2e4", Ply: 3})
	snap := s.Snapshot()
	require.True(t, snap.Desynced)
	// The move itself was legal here and is still applied.
	require.Equal(t, []string{"e2e4"}, snap.Moves)
}

func TestResign(t *testing.T) {
	s, tx, _ := activeAsWhite(t)
	require.NoError(t, s.Resign())

	snap := s.Snapshot()
	require.Equal(t, Ended, snap.State)
	require.Equal(t, ResultLoss, snap.Result)
	require.Equal(t, KindResign, tx.last().msg.Kind)

	// A new game may be started once the previous one has ended.
	require.NoError(t, s.SendInvite(stranger))
	require.Equal(t, InviteSent, s.Snapshot().State)
	require.Empty(t, s.Snapshot().Moves)
}

func TestOpponentResigns(t *testing.T) {
	s, _, _ := activeAsBlack(t)

	inbound(t, s, stranger, Message{Kind: KindResign})
	require.Equal(t, Active, s.Snapshot().State)

	inbound(t, s, opponent, Message{Kind: KindResign})
	snap := s.Snapshot()
	require.Equal(t, Ended, snap.State)
	require.Equal(t, ResultWin, snap.Result)
	require.Equal(t, ReasonOpponentResigned, snap.Reason)
}

func TestCheckmateEndsGame(t *testing.T) {
	s, _, _ := activeAsBlack(t)

	inbound(t, s, opponent, Message{Kind: KindMove, Move: "f2f3"})
	_, err := s.ProposeMove("e7", "e5", "")
	require.NoError(t, err)
	inbound(t, s, opponent, Message{Kind: KindMove, Move: "g2g4"})
	_, err = s.ProposeMove("d8", "h4", "")
	require.NoError(t, err)

	snap := s.Snapshot()
	require.Equal(t, Ended, snap.State)
	require.Equal(t, ResultWin, snap.Result)
	require.Equal(t, ReasonCheckmate, snap.Reason)

	_, err = s.ProposeMove("a7", "a6", "")
	require.ErrorIs(t, err, ErrNotActive)
}

func TestMalformedPayloadsIgnored(t *testing.T) {
	s, _, rec := newTestSession(t)
	for _, raw := range []string{
		`{"chess":"castle"}`,
		`{"chess":"move"}`,
		`{"chess":42}`,
		`not json`,
	} {
		s.HandlePayload(opponent, json.RawMessage(raw))
	}
	require.Equal(t, Idle, s.Snapshot().State)
	require.Empty(t, rec.snaps)
}

type fakeSubscriber struct {
	key string
	fn  router.PayloadHandler
}

func (f *fakeSubscriber) Subscribe(key string, fn router.PayloadHandler) {
	f.key = key
	f.fn = fn
}

func TestAttachSubscribesProtocolKey(t *testing.T) {
	s, _, _ := newTestSession(t)
	sub := &fakeSubscriber{}
	s.Attach(sub)

	require.Equal(t, ProtocolKey, sub.key)
	sub.fn(opponent, json.RawMessage(`{"chess":"invite"}`))
	require.Equal(t, InvitePending, s.Snapshot().State)
}

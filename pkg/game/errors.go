package game

import "errors"

var (
	ErrSessionActive   = errors.New("a game is already in progress")
	ErrNoPendingInvite = errors.New("no pending invite")
	ErrNoInviteSent    = errors.New("no outstanding invite")
	ErrNotActive       = errors.New("no game in progress")
	ErrNotYourTurn     = errors.New("not your turn")
	ErrIllegalMove     = errors.New("illegal move")
	ErrInvalidTarget   = errors.New("invalid opponent")
)

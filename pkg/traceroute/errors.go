package traceroute

import "errors"

var (
	ErrInvalidDestination = errors.New("trace destination must be a single node")
	ErrNoRequester        = errors.New("no trace requester configured")
)

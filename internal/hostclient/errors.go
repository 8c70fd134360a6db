package hostclient

import "errors"

// ErrUnavailable is returned by request operations when no connection is
// currently established (Connecting/Reconnecting/Closed) or the in-flight
// request could not be satisfied before the client moved off Ready.
var ErrUnavailable = errors.New("hostclient: unavailable")

// ErrRequestTimeout is returned when a request's 5s internal deadline
// elapses without a matching ack.
var ErrRequestTimeout = errors.New("hostclient: request timeout")

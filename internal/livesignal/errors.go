package livesignal

import "errors"

// ErrSinkFull is returned by ChannelSink when the consumer is behind.
var ErrSinkFull = errors.New("livesignal: sink channel full")

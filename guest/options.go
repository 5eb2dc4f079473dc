package guest

import "github.com/rs/zerolog"

// Ref is an optional process keepalive handle. The guest acquires it when
// in-flight work transitions from zero to nonzero and releases it on the
// reverse transition. Acquire and release always pair one to one.
type Ref interface {
	Acquire()
	Release()
}

type options struct {
	retry        bool
	ref          Ref
	onFlush      func()
	log          zerolog.Logger
	maxFrameSize int
}

// Option configures a Guest.
type Option func(*options)

var defaultOptions = options{
	log: zerolog.Nop(),
}

// WithRetry preserves pending requests and live iterators across a transport
// disconnect; they replay on the next attachment instead of failing with
// ErrConnectionLost.
func WithRetry() Option {
	return func(o *options) { o.retry = true }
}

// WithRef installs a keepalive handle tracking whether RPC work is in flight.
func WithRef(ref Ref) Option {
	return func(o *options) { o.ref = ref }
}

// WithOnFlush installs a hook fired each time the guest transitions to having
// no pending requests and no live iterators.
func WithOnFlush(fn func()) Option {
	return func(o *options) { o.onFlush = fn }
}

// WithLogger routes protocol-level diagnostics to log.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMaxFrameSize bounds inbound frame payloads; larger frames fail the
// transport.
func WithMaxFrameSize(n int) Option {
	return func(o *options) { o.maxFrameSize = n }
}

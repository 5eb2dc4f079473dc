package host

import "github.com/rs/zerolog"

type options struct {
	batchSize    int
	maxFrameSize int
	log          zerolog.Logger
}

// Option configures a Host.
type Option func(*options)

var defaultOptions = options{
	batchSize: 64,
	log:       zerolog.Nop(),
}

// WithBatchSize caps the number of entries carried per iterator data frame.
// After each frame the host waits for the guest's ack before sending more.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
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

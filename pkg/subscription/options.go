package subscription

import (
	"log/slog"
	"time"

	"github.com/getmockd/gqlws/pkg/subprotocol"
)

// Defaults for Handler options.
const (
	DefaultKeepAlive             = 12 * time.Second
	DefaultConnectionInitTimeout = 3 * time.Second
	DefaultReadLimit             = 1 << 20
)

// Option configures a Handler.
type Option func(*options)

type options struct {
	keepAlive          time.Duration
	initTimeout        time.Duration
	writeTimeout       time.Duration
	readLimit          int64
	protocols          []subprotocol.Protocol
	originPatterns     []string
	insecureSkipVerify bool
	build              ContextBuilder
	logger             *slog.Logger
}

func defaultOptions() options {
	return options{
		keepAlive:    DefaultKeepAlive,
		initTimeout:  DefaultConnectionInitTimeout,
		writeTimeout: DefaultWriteTimeout,
		readLimit:    DefaultReadLimit,
		protocols:    subprotocol.All(),
	}
}

// WithKeepAlive sets the keep-alive interval. Zero disables keep-alive.
func WithKeepAlive(d time.Duration) Option {
	return func(o *options) {
		o.keepAlive = d
	}
}

// WithConnectionInitTimeout sets how long a client has to send
// connection_init before the socket is closed with 4408. Zero disables the
// deadline.
func WithConnectionInitTimeout(d time.Duration) Option {
	return func(o *options) {
		o.initTimeout = d
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// WithReadLimit sets the maximum inbound message size in bytes.
func WithReadLimit(n int64) Option {
	return func(o *options) {
		o.readLimit = n
	}
}

// WithProtocols restricts the sub-protocols offered during negotiation, in
// preference order.
func WithProtocols(protocols ...subprotocol.Protocol) Option {
	return func(o *options) {
		if len(protocols) > 0 {
			o.protocols = protocols
		}
	}
}

// WithOriginPatterns allows cross-origin upgrades from hosts matching the
// given patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(o *options) {
		o.originPatterns = patterns
	}
}

// WithInsecureSkipVerify disables the origin check.
func WithInsecureSkipVerify(skip bool) Option {
	return func(o *options) {
		o.insecureSkipVerify = skip
	}
}

// WithContextBuilder sets the per-operation context builder.
func WithContextBuilder(build ContextBuilder) Option {
	return func(o *options) {
		o.build = build
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

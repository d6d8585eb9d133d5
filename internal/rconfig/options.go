// Package rconfig implements the multiplexer's external configuration
// surface of spec.md §6: the comma-separated connection-string grammar,
// an OptionsProvider match-list (§9's replacement for the reference's
// provider-subclass hierarchy), a ReconnectRetryPolicy satisfying
// bridge.ReconnectPolicy, and a YAML file loader for static deployments.
// The connection-string scanner reuses internal/config/parser.go's
// line-tokenize-then-parse technique, adapted from YAML's indent grammar
// to a flat comma/equals grammar; the Options struct and its
// ApplyDefaults/Validate split mirrors internal/config/config.go's
// Config/ApplyDefaults/Validate/ValidationError pattern.
package rconfig

import (
	"fmt"
	"strings"
	"time"
)

// Proxy names a wire-compatible proxy in front of the real servers, which
// disables commands the proxy itself does not support (§6).
type Proxy string

const (
	ProxyNone       Proxy = ""
	ProxyTwemproxy  Proxy = "twemproxy"
	ProxyEnvoyproxy Proxy = "envoyproxy"
)

// Options is the parsed, defaulted, validated form of a connection string
// or YAML document (§6).
type Options struct {
	Endpoints []string

	User     string
	Password string

	SSL     bool
	SSLHost string

	AbortConnect bool
	AllowAdmin   bool

	SyncTimeout    time.Duration
	AsyncTimeout   time.Duration
	ConnectTimeout time.Duration
	KeepAlive      time.Duration

	DefaultDatabase int
	ServiceName     string
	TieBreaker      string
	ChannelPrefix   string
	Proxy           Proxy
	RESP3           bool

	// Unknown carries keys the parser didn't recognize (§6's
	// forward-compat contract: "unknown keys are accepted with a
	// warning").
	Unknown map[string]string
}

// ApplyDefaults fills every unset field with spec.md §5's documented
// hard defaults.
func (o *Options) ApplyDefaults() {
	if o.SyncTimeout <= 0 {
		o.SyncTimeout = 5 * time.Second
	}
	if o.AsyncTimeout <= 0 {
		o.AsyncTimeout = 5 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = time.Second
	}
}

// ValidationError collects every problem found by Validate, mirroring the
// teacher's multi-error config.ValidationError rather than fail-fast on
// the first issue.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid redismux configuration:")
	for _, err := range e.Errors {
		b.WriteString("\n - ")
		b.WriteString(err)
	}
	return b.String()
}

// Validate checks Options for contradictions the parser itself cannot
// catch (empty endpoint list, an unrecognised proxy name, …).
func (o *Options) Validate() error {
	var errs []string

	if len(o.Endpoints) == 0 {
		errs = append(errs, "at least one host[:port] endpoint is required")
	}
	switch o.Proxy {
	case ProxyNone, ProxyTwemproxy, ProxyEnvoyproxy:
	default:
		errs = append(errs, fmt.Sprintf("proxy=%q is not one of twemproxy|envoyproxy", o.Proxy))
	}
	if o.SSLHost != "" && !o.SSL {
		errs = append(errs, "sslHost set without ssl=true")
	}
	if o.SyncTimeout < 0 || o.AsyncTimeout < 0 || o.ConnectTimeout < 0 || o.KeepAlive < 0 {
		errs = append(errs, "timeouts and keepAlive must not be negative")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// Summary returns a concise, log-friendly one-liner, mirroring the
// teacher's Config.Summary.
func (o *Options) Summary() string {
	return fmt.Sprintf("endpoints=%v user=%q ssl=%t resp3=%t proxy=%q db=%d tieBreaker=%q",
		o.Endpoints, o.User, o.SSL, o.RESP3, o.Proxy, o.DefaultDatabase, o.TieBreaker)
}

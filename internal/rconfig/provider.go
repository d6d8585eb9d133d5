package rconfig

// OptionsProvider is spec.md §9's replacement for the reference's
// DefaultOptionsProvider→AzureOptionsProvider subclass chain: a trait
// tried in declaration order, where the first whose IsMatch(endpoints)
// returns true wins, and whose Options may leave fields unset (the zero
// value) to cascade to the next provider and finally to ApplyDefaults.
type OptionsProvider interface {
	// IsMatch reports whether this provider should apply to a
	// multiplexer configured against the given endpoints.
	IsMatch(endpoints []string) bool
	// Options returns the (possibly partial) overrides this provider
	// contributes; zero-valued fields are left for the next provider or
	// the hard-coded defaults to fill in.
	Options() Options
}

// Resolve walks providers in order and returns the Options of the first
// match, merged over base with base's explicit fields taking precedence
// (base is assumed to already carry whatever the caller parsed from a
// connection string or YAML document; providers only fill gaps).
func Resolve(base Options, providers []OptionsProvider) Options {
	for _, p := range providers {
		if !p.IsMatch(base.Endpoints) {
			continue
		}
		merge(&base, p.Options())
		break
	}
	return base
}

// merge copies every zero-valued field of dst from src, leaving dst's
// already-set fields untouched.
func merge(dst *Options, src Options) {
	if dst.User == "" {
		dst.User = src.User
	}
	if dst.Password == "" {
		dst.Password = src.Password
	}
	if !dst.SSL {
		dst.SSL = src.SSL
	}
	if dst.SSLHost == "" {
		dst.SSLHost = src.SSLHost
	}
	if !dst.AbortConnect {
		dst.AbortConnect = src.AbortConnect
	}
	if !dst.AllowAdmin {
		dst.AllowAdmin = src.AllowAdmin
	}
	if dst.SyncTimeout == 0 {
		dst.SyncTimeout = src.SyncTimeout
	}
	if dst.AsyncTimeout == 0 {
		dst.AsyncTimeout = src.AsyncTimeout
	}
	if dst.ConnectTimeout == 0 {
		dst.ConnectTimeout = src.ConnectTimeout
	}
	if dst.KeepAlive == 0 {
		dst.KeepAlive = src.KeepAlive
	}
	if dst.DefaultDatabase == 0 {
		dst.DefaultDatabase = src.DefaultDatabase
	}
	if dst.ServiceName == "" {
		dst.ServiceName = src.ServiceName
	}
	if dst.TieBreaker == "" {
		dst.TieBreaker = src.TieBreaker
	}
	if dst.ChannelPrefix == "" {
		dst.ChannelPrefix = src.ChannelPrefix
	}
	if dst.Proxy == ProxyNone {
		dst.Proxy = src.Proxy
	}
	if !dst.RESP3 {
		dst.RESP3 = src.RESP3
	}
}

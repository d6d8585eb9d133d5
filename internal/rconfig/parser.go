package rconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/boomballa/redismux/internal/rerr"
)

// item is one comma-separated token of a connection string, already
// trimmed: either an endpoint (host[:port]) or a key=value option. This
// mirrors internal/config/parser.go's yamlLine — a single tokenize pass
// up front, then a second pass that classifies and consumes each token —
// adapted from indent-delimited YAML lines to comma-delimited items.
type item struct {
	raw   string
	key   string // "" when raw is an endpoint
	value string
}

// ParseConnectionString parses spec.md §6's grammar: comma-separated
// items, each either `host[:port]` (default port 6379) or `key=value`.
// Duplicate endpoints are deduplicated; unknown keys are recorded in
// Options.Unknown rather than rejected.
func ParseConnectionString(s string) (Options, error) {
	items, err := tokenize(s)
	if err != nil {
		return Options{}, err
	}

	var opts Options
	opts.Unknown = map[string]string{}
	seen := map[string]bool{}

	for _, it := range items {
		if it.key == "" {
			addr, err := normalizeEndpoint(it.raw)
			if err != nil {
				return Options{}, err
			}
			if seen[addr] {
				continue
			}
			seen[addr] = true
			opts.Endpoints = append(opts.Endpoints, addr)
			continue
		}
		if err := applyOption(&opts, it.key, it.value); err != nil {
			return Options{}, err
		}
	}

	return opts, nil
}

// tokenize splits s on commas, tolerating surrounding whitespace, and
// classifies each piece as an endpoint or a key=value pair.
func tokenize(s string) ([]item, error) {
	var items []item
	for _, piece := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(piece)
		if trimmed == "" {
			continue
		}
		if eq := strings.IndexByte(trimmed, '='); eq >= 0 {
			key := strings.TrimSpace(trimmed[:eq])
			if key == "" {
				return nil, rerr.New(rerr.Configuration, fmt.Sprintf("empty option name in %q", trimmed), nil)
			}
			items = append(items, item{raw: trimmed, key: key, value: strings.TrimSpace(trimmed[eq+1:])})
			continue
		}
		items = append(items, item{raw: trimmed})
	}
	return items, nil
}

func normalizeEndpoint(raw string) (string, error) {
	host, port := raw, "6379"
	if strings.HasPrefix(raw, "[") {
		end := strings.IndexByte(raw, ']')
		if end < 0 {
			return "", rerr.New(rerr.Configuration, fmt.Sprintf("unterminated IPv6 literal %q", raw), nil)
		}
		host = raw[:end+1]
		rest := raw[end+1:]
		if strings.HasPrefix(rest, ":") {
			port = rest[1:]
		}
	} else if idx := strings.LastIndexByte(raw, ':'); idx >= 0 && !strings.Contains(raw[idx+1:], ":") {
		host, port = raw[:idx], raw[idx+1:]
	}
	if host == "" {
		return "", rerr.New(rerr.Configuration, fmt.Sprintf("empty host in endpoint %q", raw), nil)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return "", rerr.New(rerr.Configuration, fmt.Sprintf("invalid port in endpoint %q: %v", raw, err), nil)
	}
	return host + ":" + port, nil
}

func applyOption(o *Options, key, value string) error {
	switch key {
	case "user":
		o.User = value
	case "password":
		o.Password = value
	case "ssl":
		b, err := parseBool(key, value)
		if err != nil {
			return err
		}
		o.SSL = b
	case "sslHost":
		o.SSLHost = value
	case "abortConnect":
		b, err := parseBool(key, value)
		if err != nil {
			return err
		}
		o.AbortConnect = b
	case "allowAdmin":
		b, err := parseBool(key, value)
		if err != nil {
			return err
		}
		o.AllowAdmin = b
	case "syncTimeout":
		d, err := parseMillis(key, value)
		if err != nil {
			return err
		}
		o.SyncTimeout = d
	case "asyncTimeout":
		d, err := parseMillis(key, value)
		if err != nil {
			return err
		}
		o.AsyncTimeout = d
	case "connectTimeout":
		d, err := parseMillis(key, value)
		if err != nil {
			return err
		}
		o.ConnectTimeout = d
	case "keepAlive":
		secs, err := parseInt(key, value)
		if err != nil {
			return err
		}
		o.KeepAlive = time.Duration(secs) * time.Second
	case "defaultDatabase":
		n, err := parseInt(key, value)
		if err != nil {
			return err
		}
		o.DefaultDatabase = n
	case "serviceName":
		o.ServiceName = value
	case "tieBreaker":
		o.TieBreaker = value
	case "channelPrefix":
		o.ChannelPrefix = value
	case "proxy":
		o.Proxy = Proxy(value)
	case "resp3":
		b, err := parseBool(key, value)
		if err != nil {
			return err
		}
		o.RESP3 = b
	default:
		o.Unknown[key] = value
	}
	return nil
}

func parseBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, rerr.New(rerr.Configuration, fmt.Sprintf("option %s: %q is not a bool", key, value), nil)
	}
	return b, nil
}

func parseInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, rerr.New(rerr.Configuration, fmt.Sprintf("option %s: %q is not an integer", key, value), nil)
	}
	return n, nil
}

func parseMillis(key, value string) (time.Duration, error) {
	n, err := parseInt(key, value)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}

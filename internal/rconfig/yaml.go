package rconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boomballa/redismux/internal/rerr"
	"gopkg.in/yaml.v3"
)

// yamlDoc is the on-disk shape for LoadFile; it mirrors Options field for
// field but uses plain ints (milliseconds/seconds) for durations the way
// a YAML document naturally expresses them.
type yamlDoc struct {
	Endpoints       []string          `yaml:"endpoints"`
	User            string            `yaml:"user"`
	Password        string            `yaml:"password"`
	SSL             bool              `yaml:"ssl"`
	SSLHost         string            `yaml:"sslHost"`
	AbortConnect    bool              `yaml:"abortConnect"`
	AllowAdmin      bool              `yaml:"allowAdmin"`
	SyncTimeoutMS   int               `yaml:"syncTimeoutMs"`
	AsyncTimeoutMS  int               `yaml:"asyncTimeoutMs"`
	ConnectTimeoutM int               `yaml:"connectTimeoutMs"`
	KeepAliveSec    int               `yaml:"keepAliveSeconds"`
	DefaultDatabase int               `yaml:"defaultDatabase"`
	ServiceName     string            `yaml:"serviceName"`
	TieBreaker      string            `yaml:"tieBreaker"`
	ChannelPrefix   string            `yaml:"channelPrefix"`
	Proxy           string            `yaml:"proxy"`
	RESP3           bool              `yaml:"resp3"`
	Extra           map[string]string `yaml:"extra"`
}

// LoadFile reads a YAML configuration document (the static-deployment
// counterpart to ParseConnectionString), applies defaults and validates
// the result — the same Load→ApplyDefaults→Validate flow as the teacher's
// internal/config.Load, with gopkg.in/yaml.v3 standing in for the
// teacher's hand-rolled recursive-descent YAML parser since this
// configuration surface has no migration-tool-specific nested structure
// that parser was built to handle.
func LoadFile(path string) (Options, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Options{}, rerr.New(rerr.Configuration, fmt.Sprintf("resolving config path: %v", err), nil)
	}
	raw, err := os.ReadFile(absPath)
	if err != nil {
		return Options{}, rerr.New(rerr.Configuration, fmt.Sprintf("reading config file %s: %v", absPath, err), nil)
	}

	var doc yamlDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Options{}, rerr.New(rerr.Configuration, fmt.Sprintf("parsing YAML in %s: %v", absPath, err), nil)
	}

	opts := Options{
		Endpoints:       doc.Endpoints,
		User:            doc.User,
		Password:        doc.Password,
		SSL:             doc.SSL,
		SSLHost:         doc.SSLHost,
		AbortConnect:    doc.AbortConnect,
		AllowAdmin:      doc.AllowAdmin,
		SyncTimeout:     time.Duration(doc.SyncTimeoutMS) * time.Millisecond,
		AsyncTimeout:    time.Duration(doc.AsyncTimeoutMS) * time.Millisecond,
		ConnectTimeout:  time.Duration(doc.ConnectTimeoutM) * time.Millisecond,
		KeepAlive:       time.Duration(doc.KeepAliveSec) * time.Second,
		DefaultDatabase: doc.DefaultDatabase,
		ServiceName:     doc.ServiceName,
		TieBreaker:      doc.TieBreaker,
		ChannelPrefix:   doc.ChannelPrefix,
		Proxy:           Proxy(doc.Proxy),
		RESP3:           doc.RESP3,
		Unknown:         doc.Extra,
	}
	if opts.Unknown == nil {
		opts.Unknown = map[string]string{}
	}

	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

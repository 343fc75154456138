package statusapi

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/stepflow/internal/config"
)

const (
	// DefaultHost is the loopback interface used when no host override is provided.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the default TCP port for the status API.
	DefaultPort = 8080
	// DefaultReadTimeout guards hung clients.
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds handler writes. Step execution runs inside
	// the request, so this also caps how long an action may take over HTTP.
	DefaultWriteTimeout = 2 * time.Minute
	// DefaultIdleTimeout bounds keep-alive connections.
	DefaultIdleTimeout = 60 * time.Second
)

// Settings captures runtime configuration for the status API server.
type Settings struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultSettings returns loopback settings on DefaultPort.
func DefaultSettings() Settings {
	s := Settings{Host: DefaultHost, Port: DefaultPort}
	s.normalize()
	return s
}

// SettingsFromConfig builds Settings from .stepflow/config.yaml and the
// STEPFLOW_API_HOST / STEPFLOW_API_PORT environment overrides.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := Settings{Host: DefaultHost, Port: DefaultPort}
	if cfg != nil {
		if host := strings.TrimSpace(cfg.Project.Server.Host); host != "" {
			settings.Host = host
		}
		if isValidPort(cfg.Project.Server.Port) {
			settings.Port = cfg.Project.Server.Port
		}
	}
	settings.applyEnvOverrides()
	settings.normalize()
	return settings
}

// ParseAddr applies a host:port override such as ":9090".
func (s Settings) ParseAddr(addr string) (Settings, error) {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return s, err
	}
	if host != "" {
		s.Host = host
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return s, err
	}
	s.Port = p
	return s, nil
}

func (s *Settings) applyEnvOverrides() {
	if host := strings.TrimSpace(os.Getenv("STEPFLOW_API_HOST")); host != "" {
		s.Host = host
	}
	if port := strings.TrimSpace(os.Getenv("STEPFLOW_API_PORT")); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil && isValidPort(parsed) {
			s.Port = parsed
		}
	}
}

func (s *Settings) normalize() {
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = DefaultHost
	}
	// port 0 binds an ephemeral port
	if s.Port < 0 || s.Port > 65535 {
		s.Port = DefaultPort
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the HTTP base URL for the server.
func (s Settings) URL() string {
	return "http://" + s.Address()
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}

package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/romashorodok/conferencing-platform/internal/micstate"
	"github.com/spf13/pflag"
)

var (
	ErrEmptyServerURL = errors.New("server url is empty")
	ErrEmptyRoom      = errors.New("room is empty")
)

// Client is the configuration of the mic client agent. Environment variables
// are read first and command line flags override them.
type Client struct {
	ServerURL  string `env:"MIC_CLIENT_SERVER_URL" envDefault:"http://localhost:8080"`
	Room       string `env:"MIC_CLIENT_ROOM"       envDefault:"test"`
	Identity   string `env:"MIC_CLIENT_IDENTITY"`
	Name       string `env:"MIC_CLIENT_NAME"`
	Role       string `env:"MIC_CLIENT_ROLE"       envDefault:"member"`
	AdminToken string `env:"MIC_CLIENT_ADMIN_TOKEN"`
	// Cookies is a Cookie header value forwarded with admin calls.
	Cookies string `env:"MIC_CLIENT_COOKIES"`

	PollInterval       time.Duration `env:"MIC_CLIENT_POLL_INTERVAL"      envDefault:"5s"`
	SettleDelay        time.Duration `env:"MIC_CLIENT_SETTLE_DELAY"       envDefault:"1500ms"`
	RoomInfoInterval   time.Duration `env:"MIC_CLIENT_ROOM_INFO_INTERVAL" envDefault:"10s"`
	HTTPTimeout        time.Duration `env:"MIC_CLIENT_HTTP_TIMEOUT"       envDefault:"10s"`
	DefaultMaxMicSlots int           `env:"MIC_CLIENT_DEFAULT_MAX_MIC_SLOTS" envDefault:"4"`

	// Publish attaches a real webrtc audio sender instead of a no-op one.
	Publish  bool   `env:"MIC_CLIENT_PUBLISH"   envDefault:"false"`
	LogLevel string `env:"MIC_CLIENT_LOG_LEVEL" envDefault:"info"`
}

// LoadClient parses the environment and then args.
func LoadClient(args []string) (Client, error) {
	var cfg Client
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	flagSet := pflag.NewFlagSet("mic-client", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "room backend address")
	flagSet.StringVar(&cfg.Room, "room", cfg.Room, "room to join")
	flagSet.StringVar(&cfg.Identity, "identity", cfg.Identity, "participant identity (generated when empty)")
	flagSet.StringVar(&cfg.Name, "name", cfg.Name, "display name")
	flagSet.StringVar(&cfg.Role, "role", cfg.Role, "guest, member, host or admin")
	flagSet.StringVar(&cfg.AdminToken, "admin-token", cfg.AdminToken, "bearer token for admin calls")
	flagSet.StringVar(&cfg.Cookies, "cookies", cfg.Cookies, "cookie header forwarded with admin calls")
	flagSet.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "mic state consistency poll interval")
	flagSet.DurationVar(&cfg.SettleDelay, "settle-delay", cfg.SettleDelay, "wait before re-checking a repaired mic state")
	flagSet.DurationVar(&cfg.RoomInfoInterval, "room-info-interval", cfg.RoomInfoInterval, "room info poll interval")
	flagSet.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "admin call timeout")
	flagSet.IntVar(&cfg.DefaultMaxMicSlots, "default-max-mic-slots", cfg.DefaultMaxMicSlots, "mic slots assumed until the room reports its own")
	flagSet.BoolVar(&cfg.Publish, "publish", cfg.Publish, "attach a webrtc audio sender")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")

	if err := flagSet.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Client) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return ErrEmptyServerURL
	}
	if strings.TrimSpace(c.Room) == "" {
		return ErrEmptyRoom
	}
	return nil
}

func (c Client) ParsedRole() micstate.Role {
	return micstate.ParseRole(c.Role)
}

func (c Client) HTTPCookies() ([]*http.Cookie, error) {
	if strings.TrimSpace(c.Cookies) == "" {
		return nil, nil
	}
	return http.ParseCookie(c.Cookies)
}

// Header is sent with the replication websocket handshake.
func (c Client) Header() http.Header {
	header := http.Header{}
	if c.Cookies != "" {
		header.Set("Cookie", c.Cookies)
	}
	return header
}

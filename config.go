/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

const (
	storageMemory   = "memory"
	storagePostgres = "postgres"
)

type Config struct {
	allowedOrigins    []string
	bind              string
	databaseURL       string
	minPlayers        int
	playerTimeout     time.Duration
	port              int
	prefix            string
	profile           bool
	rateBurst         int
	rateLimit         float64
	reapInterval      time.Duration
	roomTTL           time.Duration
	storage           string
	tlsCert           string
	tlsKey            string
	trustProxyHeaders bool
	verbose           bool
	version           bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	switch c.storage {
	case storageMemory:
	case storagePostgres:
		if c.databaseURL == "" {
			return errors.New("--database-url is required when --storage=postgres")
		}
	default:
		return fmt.Errorf("invalid storage backend (must be %s or %s): %q", storageMemory, storagePostgres, c.storage)
	}
	if c.roomTTL <= 0 {
		return fmt.Errorf("invalid room ttl (must be positive): %s", c.roomTTL)
	}
	if c.reapInterval <= 0 {
		return fmt.Errorf("invalid reap interval (must be positive): %s", c.reapInterval)
	}
	if c.playerTimeout < 0 {
		return fmt.Errorf("invalid player timeout (must not be negative): %s", c.playerTimeout)
	}
	if c.minPlayers < 0 {
		return fmt.Errorf("invalid minimum player count (must not be negative): %d", c.minPlayers)
	}
	if c.rateLimit <= 0 || c.rateBurst < 1 {
		return errors.New("--rate-limit must be positive and --rate-burst at least 1")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) limit() rate.Limit {
	return rate.Limit(c.rateLimit)
}

// bindEnv lets every flag in fs be set from IMPOSTOR_<FLAG>.
func bindEnv(fs *pflag.FlagSet) {
	v := viper.New()
	v.SetEnvPrefix("IMPOSTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			if s, ok := val.([]string); ok {
				val = strings.Join(s, ",")
			}
			_ = fs.Set(f.Name, fmt.Sprintf("%v", val))
		}
	})
}

func newCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "impostor",
		Short:         "Room server for a word-based impostor party game.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.StringSliceVar(&cfg.allowedOrigins, "allowed-origins", []string{"*"}, "origins allowed to call the api (env: IMPOSTOR_ALLOWED_ORIGINS)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: IMPOSTOR_BIND)")
	fs.StringVar(&cfg.databaseURL, "database-url", "", "postgres connection string (env: IMPOSTOR_DATABASE_URL)")
	fs.IntVar(&cfg.minPlayers, "min-players", 0, "players required to start a game, 0 to leave it to clients (env: IMPOSTOR_MIN_PLAYERS)")
	fs.DurationVar(&cfg.playerTimeout, "player-timeout", 10*time.Minute, "time before disconnected players are removed, 0 to disable (env: IMPOSTOR_PLAYER_TIMEOUT)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: IMPOSTOR_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: IMPOSTOR_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: IMPOSTOR_PROFILE)")
	fs.IntVar(&cfg.rateBurst, "rate-burst", 5, "burst of room creations and joins allowed per client (env: IMPOSTOR_RATE_BURST)")
	fs.Float64Var(&cfg.rateLimit, "rate-limit", 1, "room creations and joins per second allowed per client (env: IMPOSTOR_RATE_LIMIT)")
	fs.DurationVar(&cfg.reapInterval, "reap-interval", 5*time.Minute, "time between sweeps of expired rooms (env: IMPOSTOR_REAP_INTERVAL)")
	fs.DurationVar(&cfg.roomTTL, "room-ttl", 3*time.Hour, "time before untouched rooms expire (env: IMPOSTOR_ROOM_TTL)")
	fs.StringVar(&cfg.storage, "storage", storageMemory, "room storage backend, memory or postgres (env: IMPOSTOR_STORAGE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: IMPOSTOR_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: IMPOSTOR_TLS_KEY)")
	fs.BoolVar(&cfg.trustProxyHeaders, "trust-proxy-headers", false, "rate limit on CF-Connecting-IP and X-Real-IP instead of the peer address (env: IMPOSTOR_TRUST_PROXY_HEADERS)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: IMPOSTOR_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: IMPOSTOR_VERSION)")

	bindEnv(fs)

	cmd.AddCommand(newPlayCmd())

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("impostor v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

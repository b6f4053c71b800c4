// ABOUTME: Entry point for localslackirc, an IRC server backed by Slack or Rocket.Chat
// ABOUTME: Resolves configuration, wires the backend and runs the IRC and health servers

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/TinLe/localslackirc/internal/cache"
	"github.com/TinLe/localslackirc/internal/chat"
	"github.com/TinLe/localslackirc/internal/config"
	"github.com/TinLe/localslackirc/internal/dedupe"
	"github.com/TinLe/localslackirc/internal/gateway"
	"github.com/TinLe/localslackirc/internal/health"
	"github.com/TinLe/localslackirc/internal/irc"
	"github.com/TinLe/localslackirc/internal/rocket"
	"github.com/TinLe/localslackirc/internal/server"
	"github.com/TinLe/localslackirc/internal/slack"
	"github.com/TinLe/localslackirc/internal/status"
	"github.com/TinLe/localslackirc/internal/stream"
)

// Version is set at build time.
var version = "dev"

const banner = `
 _                 _     _            _    _
| | ___   ___ __ _| |___| | __ _  ___| | _(_)_ __ ___
| |/ _ \ / __/ _' | / __| |/ _' |/ __| |/ / | '__/ __|
| | (_) | (_| (_| | \__ \ | (_| | (__|   <| | | | (__
|_|\___/ \___\__,_|_|___/_|\__,_|\___|_|\_\_|_|  \___|
`

// flags holds the command line values. Only flags the user set are applied.
type flags struct {
	configPath string
	port       int
	ip         string
	tokenFile  string
	cookieFile string
	noUserList bool
	autoJoin   bool
	override   bool
	rocketURL  string
	statusFile string
	logSuffix  string
}

// getConfigPath returns the config file to read and whether it must exist.
// Priority: --config > LOCALSLACKIRC_CONFIG > XDG_CONFIG_HOME/localslackirc/config.yaml
func getConfigPath(flagPath string) (string, bool) {
	if flagPath != "" {
		return flagPath, true
	}
	if envPath := os.Getenv("LOCALSLACKIRC_CONFIG"); envPath != "" {
		return envPath, true
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", false
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "localslackirc", "config.yaml"), false
}

func main() {
	cmd, _ := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() (*cobra.Command, *flags) {
	f := &flags{}
	cmd := &cobra.Command{
		Use:           "localslackirc",
		Short:         "IRC server that talks to Slack or Rocket.Chat",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := dropPrivileges(os.Getenv("PROCESS_OWNER")); err != nil {
				return err
			}
			cfg, path, err := resolveConfig(cmd, f, os.LookupEnv)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer cancel()
			return runServe(ctx, cfg, path)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "configuration file (yaml or toml)")
	fl.IntVarP(&f.port, "port", "p", config.DefaultPort, "set port number")
	fl.StringVarP(&f.ip, "ip", "i", config.DefaultIP, "set ip address")
	fl.StringVarP(&f.tokenFile, "tokenfile", "t", "", "set the token file (default ~/.localslackirc)")
	fl.StringVarP(&f.cookieFile, "cookiefile", "c", "", "set the cookie file (for slack only, for xoxc tokens)")
	fl.BoolVarP(&f.noUserList, "nouserlist", "u", false, "don't display userlist")
	fl.BoolVarP(&f.autoJoin, "autojoin", "j", false, "automatically join all remote channels")
	fl.BoolVarP(&f.override, "override", "o", false, "allow non 127. addresses, this is potentially dangerous")
	fl.StringVar(&f.rocketURL, "rc-url", "", "the Rocket.Chat URL; setting this selects Rocket.Chat instead of Slack")
	fl.StringVarP(&f.statusFile, "status-file", "f", "", "path to the file keeping the internal status")
	fl.StringVar(&f.logSuffix, "log-suffix", "", "instance name added to every log line")
	return cmd, f
}

// resolveConfig layers defaults, the config file, the environment and the
// flags the user set, then reads secret files and validates the result.
func resolveConfig(cmd *cobra.Command, f *flags, lookup func(string) (string, bool)) (*config.Config, string, error) {
	path, required := getConfigPath(f.configPath)
	if !required {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, "", fmt.Errorf("environment: %w", err)
	}
	applyFlags(cmd, f, cfg)

	if err := cfg.ResolveSecrets(); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	return cfg, path, nil
}

func applyFlags(cmd *cobra.Command, f *flags, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("port") {
		cfg.Server.Port = f.port
	}
	if set("ip") {
		cfg.Server.IP = f.ip
	}
	if set("override") {
		cfg.Server.OverrideLocalIP = f.override
	}
	// An explicit file wins over a token or cookie from the environment.
	if set("tokenfile") {
		cfg.Slack.TokenFile = f.tokenFile
		cfg.Slack.Token = ""
	}
	if set("cookiefile") {
		cfg.Slack.CookieFile = f.cookieFile
		cfg.Slack.Cookie = ""
	}
	if set("nouserlist") {
		cfg.Gateway.NoUserList = f.noUserList
	}
	if set("autojoin") {
		cfg.Gateway.AutoJoin = f.autoJoin
	}
	if set("rc-url") {
		cfg.Rocket.URL = f.rocketURL
	}
	if set("status-file") {
		cfg.Status.Path = f.statusFile
	}
	if set("log-suffix") {
		cfg.Logging.Suffix = f.logSuffix
	}
}

func runServe(ctx context.Context, cfg *config.Config, configPath string) error {
	printBanner(os.Stdout, cfg, configPath)
	logger := setupLogger(cfg.Logging, os.Stdout)

	store, err := status.Open(ctx, status.Options{
		Driver:    cfg.Status.Driver,
		Path:      cfg.Status.Path,
		RedisAddr: cfg.Status.RedisAddr,
		RedisKey:  cfg.Status.RedisKey,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("opening status store: %w", err)
	}
	defer store.Close()

	previous, err := store.Load(ctx)
	if err != nil {
		logger.Warn("ignoring unreadable status", "error", err)
	}

	b, err := newBackend(cfg, logger)
	if err != nil {
		return err
	}

	queue := stream.NewQueue()
	entities := cache.New(b.remote, queue, cache.Options{DirectPrefix: b.directPrefix, Logger: logger})
	sent := dedupe.New[chat.TS](dedupe.DefaultTTL, 0)
	engine := stream.NewEngine(b.transport, entities, queue, sent, stream.Options{
		Ignore:        b.ignore,
		LastTimestamp: chat.TS(previous.LastTimestamp),
		Logger:        logger,
	})
	defer engine.Close()

	client := gateway.New(gateway.Options{
		Remote: b.remote,
		Cache:  entities,
		Stream: engine,
		Sent:   sent,
		Logger: logger,
	})

	srv := server.New(engine, func(w io.Writer) server.Session {
		return irc.NewSession(w, client, irc.Options{
			AutoJoin:      cfg.Gateway.AutoJoin,
			NoUserList:    cfg.Gateway.NoUserList,
			MPIMHideDelay: cfg.Gateway.MPIMHideDelay,
			PasswordHash:  cfg.Server.PasswordHash,
			Logger:        logger,
		})
	}, server.Options{
		PollInterval: cfg.Server.PollInterval,
		Logger:       logger,
	})

	listen := server.TCPListener(cfg.ListenAddr())
	if cfg.Tailscale.Enabled {
		tn := server.NewTailnet(server.TailnetOptions{
			Hostname:  cfg.Tailscale.Hostname,
			AuthKey:   cfg.Tailscale.AuthKey,
			StateDir:  cfg.Tailscale.StateDir,
			Ephemeral: cfg.Tailscale.Ephemeral,
			Port:      cfg.Server.Port,
			Logger:    logger,
		})
		defer tn.Close()
		listen = tn.Listen
	}

	logger.Info("starting localslackirc",
		"provider", b.remote.Provider().String(),
		"addr", cfg.ListenAddr(),
		"last_timestamp", previous.LastTimestamp,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, listen) })
	if cfg.Health.Addr != "" {
		hs := health.NewServer(cfg.Health.Addr, health.NewRouter(engine, srv), logger)
		g.Go(func() error { return hs.Run(gctx) })
	}
	runErr := g.Wait()

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	last := status.Status{LastTimestamp: float64(engine.LastTimestamp())}
	if err := store.Save(saveCtx, last); err != nil {
		logger.Error("saving status", "error", err)
		runErr = errors.Join(runErr, err)
	} else {
		logger.Info("status saved", "last_timestamp", last.LastTimestamp)
	}
	return runErr
}

// backend is one provider's half of the wiring.
type backend struct {
	remote       gateway.Remote
	transport    stream.Transport
	directPrefix string
	ignore       []string
}

func newBackend(cfg *config.Config, logger *slog.Logger) (backend, error) {
	if cfg.IsRocket() {
		rc, err := rocket.New(rocket.Options{URL: cfg.Rocket.URL, Token: cfg.RocketToken(), Logger: logger})
		if err != nil {
			return backend{}, fmt.Errorf("creating rocket.chat client: %w", err)
		}
		return backend{remote: rc, transport: rc}, nil
	}
	sc := slack.NewClient(slack.Options{Token: cfg.Slack.Token, Cookie: cfg.Slack.Cookie, Logger: logger})
	return backend{
		remote:       sc,
		transport:    slack.NewRTM(sc),
		directPrefix: "D",
		ignore:       slack.IgnoredEvents,
	}, nil
}

func printBanner(w io.Writer, cfg *config.Config, configPath string) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(w, banner)
	gray.Fprintf(w, "    version: %s\n\n", version)

	line := func(key, value string) {
		green.Fprint(w, "    ▶ ")
		fmt.Fprintf(w, "%-10s %s\n", key+":", value)
	}
	if configPath != "" {
		line("Config", configPath)
	}
	if cfg.IsRocket() {
		line("Backend", "rocket.chat "+cfg.Rocket.URL)
	} else {
		line("Backend", "slack")
	}
	line("IRC", cfg.ListenAddr())
	if cfg.Status.Path != "" || cfg.Status.Driver == status.DriverRedis {
		line("Status", cfg.Status.Driver+" "+cfg.Status.Path+cfg.Status.RedisAddr)
	}
	if cfg.Health.Addr != "" {
		line("Health", cfg.Health.Addr)
	}
	if cfg.Tailscale.Enabled {
		green.Fprint(w, "    ▶ ")
		fmt.Fprint(w, "Tailscale: ")
		cyan.Fprint(w, cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Fprint(w, " (ephemeral)")
		}
		fmt.Fprintln(w)
	}
	if cfg.Server.OverrideLocalIP {
		yellow.Fprintln(w, "    ! listening on a non local address without encryption")
	}
	fmt.Fprintln(w)
}

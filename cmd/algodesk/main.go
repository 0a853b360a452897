package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"algodesk/internal/broker"
	"algodesk/internal/config"
	"algodesk/internal/logger"
	"algodesk/internal/session"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "algodesk",
		Usage: "Upstox login and live market dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the secrets `FILE` (TOML)",
				Sources: cli.EnvVars("CONFIG_FILE"),
			},
		},
		Action: serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the dashboard server",
				Action: serveAction,
			},
			{
				Name:   "login-url",
				Usage:  "print the broker authorization dialog address",
				Action: loginURLAction,
			},
			{
				Name:   "logout",
				Usage:  "delete the persisted access token",
				Action: logoutAction,
			},
			{
				Name:  "status",
				Usage: "report whether a persisted token exists and still works",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "offline", Usage: "skip the profile check against the broker"},
				},
				Action: statusAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("algodesk")
	}
}

// loadConfig fails on any config problem unless lenient is set, in which
// case missing broker secrets are tolerated.
func loadConfig(cmd *cli.Command, lenient bool) (config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		var cfgErr *config.ConfigError
		if !lenient || !errors.As(err, &cfgErr) {
			return cfg, err
		}
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

func tokenStore(cfg config.Config) *session.TokenStore {
	if cfg.TokenPassphrase != "" {
		return session.NewSealedTokenStore(cfg.TokenFile, cfg.TokenPassphrase)
	}
	return session.NewTokenStore(cfg.TokenFile)
}

func brokerClient(cfg config.Config) *broker.Client {
	return broker.NewClient(cfg.BaseURL, cfg.APIKey, cfg.APISecret, cfg.RedirectURI,
		broker.WithTimeout(cfg.BrokerTimeout),
		broker.WithLogger(log.Logger.With().Str("component", "broker").Logger()),
	)
}

func loginURLAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	fmt.Println(brokerClient(cfg).LoginURL(""))
	return nil
}

func logoutAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}
	store := tokenStore(cfg)
	if err := store.Clear(); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	fmt.Printf("removed %s\n", store.Path())
	return nil
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}
	store := tokenStore(cfg)
	saved, err := store.Load()
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if saved.IsNone() {
		fmt.Println("logged out: no token at", store.Path())
		return nil
	}
	fmt.Println("token found at", store.Path())
	if cmd.Bool("offline") || cfg.APIKey == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	profile, err := brokerClient(cfg).FetchProfile(ctx, saved.Unwrap().AccessToken)
	if err != nil {
		fmt.Println("token rejected:", err)
		return nil
	}
	fmt.Printf("logged in as %s <%s> (%s)\n", profile.Name, profile.Email, profile.UserID)
	return nil
}

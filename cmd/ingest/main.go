package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/Michaelasereo/mylinnk-sub001/internal/app"
	"github.com/Michaelasereo/mylinnk-sub001/internal/config"
	"github.com/Michaelasereo/mylinnk-sub001/internal/http/api"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if errRun := run(ctx, os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		stop()
		os.Exit(1)
	}
}

// run parses flags, loads config, and either issues a token or serves the API.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	port := fs.Int("port", 0, "server port override")
	issueToken := fs.Uint64("issue-token", 0, "print a bearer token for the given user id and exit")
	tokenTTL := fs.Duration("token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	if errEnv := godotenv.Load(); errEnv != nil && !errors.Is(errEnv, os.ErrNotExist) {
		log.WithError(errEnv).Warn("unable to load .env file")
	}

	cfg, errLoad := config.Load(*cfgPath)
	if errLoad != nil {
		return errLoad
	}
	configureLogging(cfg.LogLevel)

	if *port != 0 {
		if errValidate := validatePort(*port); errValidate != nil {
			return errValidate
		}
		cfg.Server.Port = *port
	}

	if *issueToken != 0 {
		token, errIssue := api.IssueIdentityToken(cfg.JWT.Secret, *issueToken, *tokenTTL)
		if errIssue != nil {
			return errIssue
		}
		fmt.Println(token)
		return nil
	}

	return app.RunServer(ctx, cfg)
}

func configureLogging(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	parsed, errParse := log.ParseLevel(strings.TrimSpace(level))
	if errParse != nil {
		log.WithField("level", level).Warn("unknown log level, using info")
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}

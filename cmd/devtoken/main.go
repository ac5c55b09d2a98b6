// devtoken mints a bearer credential for local testing. It signs with the
// configured shared secret, so it only works against a server sharing that
// configuration.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	jwttoken "consentvault/internal/jwt_token"
	"consentvault/internal/platform/config"
	"consentvault/pkg/domain"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, subjectFlag string
	var ttl time.Duration

	flags := pflag.NewFlagSet("devtoken", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to YAML config (default: $CONFIG_PATH or ./config.yaml)")
	flags.StringVar(&subjectFlag, "subject", "", "subject id the credential is issued to (required)")
	flags.DurationVar(&ttl, "ttl", 0, "credential lifetime (default: auth.dev_token_ttl)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	subject, err := domain.ParseSubjectID(subjectFlag)
	if err != nil {
		return fmt.Errorf("--subject: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = cfg.Auth.DevTokenTTL
	}

	token, err := jwttoken.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.ClockSkew).
		GenerateAccessToken(subject, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

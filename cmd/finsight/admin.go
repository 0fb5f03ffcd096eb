package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/finsight-ai/finsight/internal/adapter/postgres"
	"github.com/finsight-ai/finsight/internal/config"
)

// runAdmin dispatches admin subcommands (hash-secret, migrate).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "hash-secret":
		return runAdminHashSecret(args[1:])
	case "migrate":
		return runAdminMigrate(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: finsight admin <command> [options]

Commands:
  hash-secret   Generate a bcrypt hash for the action gate secret
  migrate       Apply pending database migrations
  help          Show this help message

Examples:
  finsight admin hash-secret
  finsight admin hash-secret --secret 'trade-approval-secret'
  finsight admin migrate
`)
}

func runAdminHashSecret(args []string) error {
	fs := flag.NewFlagSet("hash-secret", flag.ContinueOnError)
	secret := fs.String("secret", "", "gate secret (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}

	s := *secret
	if s == "" {
		var err error
		s, err = promptSecret("Gate secret: ")
		if err != nil {
			return fmt.Errorf("read secret: %w", err)
		}
		confirm, err := promptSecret("Confirm secret: ")
		if err != nil {
			return fmt.Errorf("read secret: %w", err)
		}
		if s != confirm {
			return fmt.Errorf("secrets do not match")
		}
	}
	if s == "" {
		return fmt.Errorf("secret must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash secret: %w", err)
	}

	fmt.Fprintln(os.Stderr, "Set this as gate.secret_hash (or FINSIGHT_GATE_SECRET_HASH):")
	fmt.Println(string(hash))
	return nil
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	fmt.Fprintln(os.Stderr, "Migrations applied successfully")
	return nil
}

// promptSecret reads a secret from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

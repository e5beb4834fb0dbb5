// Command accountsctl administers an accounts deployment: it migrates the
// Postgres schema, inspects password versions and runs the operator-side
// engine operations (status changes, unlocks, token purges, deletions).
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/studydeck/accounts"
	"github.com/studydeck/accounts/internal/stores/postgres"
	"github.com/studydeck/accounts/password"
)

const usage = `usage: accountsctl [-config file] <command> [flags]

commands:
  versions                        list password hashing versions
  hash-password -version V -password P
  migrate                         apply the Postgres schema
  set-status -user ID -status S   change a user's status
  unlock -user ID                 clear the sign-in attempt counter
  purge-tokens -user ID           delete expired persistent tokens
  delete -user ID                 delete a user and its verifications
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "accountsctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("accountsctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", os.Getenv(envPrefix+"CONFIG"), "path to a YAML config file")
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "versions":
		return runVersions(cfg, stdout)
	case "hash-password":
		return runHashPassword(cfg, rest, stdout, stderr)
	case "migrate":
		return runMigrate(ctx, cfg, stdout)
	case "set-status", "unlock", "purge-tokens", "delete":
		return runUserCommand(ctx, cfg, cmd, rest, stdout, stderr)
	default:
		global.Usage()
		return errors.Errorf("unknown command %q", cmd)
	}
}

func runVersions(cfg *fileConfig, w io.Writer) error {
	current := cfg.engineConfig().Password.CurrentVersion
	registry := password.NewRegistry()
	for _, name := range registry.Names() {
		v, err := registry.Resolve(name)
		if err != nil {
			return err
		}
		marker := " "
		if name == current {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s\t%s\titerations=%d key=%d salt=%d\n",
			marker, v.Name, v.Algorithm, v.Iterations, v.KeyLength, v.SaltLength)
	}
	return nil
}

func runHashPassword(cfg *fileConfig, args []string, w, stderr io.Writer) error {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	fs.SetOutput(stderr)
	version := fs.String("version", "", "version name (default: configured current version)")
	plain := fs.String("password", "", "password to hash")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *version == "" {
		*version = cfg.engineConfig().Password.CurrentVersion
	}

	hasher, err := password.NewHasher(nil, *version, nil)
	if err != nil {
		return errors.Wrapf(err, "version %s", *version)
	}
	h, err := hasher.HashPassword(*plain, nil, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "version=%s salt=%s hash=%s\n", h.Version, hex.EncodeToString(h.Salt), hex.EncodeToString(h.Hash))
	return nil
}

func runMigrate(ctx context.Context, cfg *fileConfig, w io.Writer) error {
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	db, err := postgres.Open(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	fmt.Fprintln(w, "schema up to date")
	return nil
}

func runUserCommand(ctx context.Context, cfg *fileConfig, cmd string, args []string, w, stderr io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	userID := fs.String("user", "", "user id")
	status := fs.String("status", "", "target status (set-status only)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*userID) == "" {
		return errors.New("-user is required")
	}

	engine, closeFn, err := openEngine(ctx, cfg, stderr)
	if err != nil {
		return err
	}
	defer closeFn()

	switch cmd {
	case "set-status":
		s, err := accounts.ParseUserStatus(*status)
		if err != nil {
			return errors.Wrapf(err, "status %q", *status)
		}
		if err := engine.SetUserStatus(ctx, *userID, s); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: status %s\n", *userID, s)
	case "unlock":
		if err := engine.UnlockSignIn(ctx, *userID); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: unlocked\n", *userID)
	case "purge-tokens":
		n, err := engine.PurgeExpiredTokens(ctx, *userID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: purged %d tokens\n", *userID, n)
	case "delete":
		if err := engine.DeleteAccount(ctx, *userID); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: deleted\n", *userID)
	}
	return nil
}

// openEngine builds an Engine for the configured backend. Redis, when an
// address is set, also serves as the rate cache.
func openEngine(ctx context.Context, cfg *fileConfig, logOut io.Writer) (*accounts.Engine, func(), error) {
	engineCfg := cfg.engineConfig()
	b := accounts.New().WithLogger(newLogger(cfg.Log.Level, logOut))

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = client.Close() })
		b.WithRedis(client)
	} else if cfg.Backend == "redis" {
		return nil, nil, errors.New("redis.addr is required for the redis backend")
	} else {
		engineCfg.SignIn.MaxPasswordAttempts = 0
	}

	if cfg.Backend == "postgres" {
		if cfg.Postgres.DSN == "" {
			closeAll()
			return nil, nil, errors.New("postgres.dsn is required for the postgres backend")
		}
		db, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		b.WithPostgres(db)
	}

	engine, err := b.WithConfig(engineCfg).Build()
	if err != nil {
		closeAll()
		return nil, nil, errors.Wrap(err, "build engine")
	}
	closers = append(closers, engine.Close)
	return engine, closeAll, nil
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}

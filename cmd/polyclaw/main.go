// Command polyclaw acquires Polymarket positions by splitting collateral and
// hedging the unwanted side, and later redeems the winners.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/alanyoungcy/polyclaw/internal/app"
	"github.com/alanyoungcy/polyclaw/internal/config"
	"github.com/alanyoungcy/polyclaw/internal/domain"
	"github.com/alanyoungcy/polyclaw/internal/service"
)

const usage = `usage: polyclaw [--config path] <command> [args]

commands:
  buy <market_id> <YES|NO> <amount> [--skip-sell] [--json]
  scan [--onchain] [--json]
  execute [--dry-run] [--onchain] [--json]
  positions [--open] [--json]
  approve [--check] [--json]
  balance [--json]
  encrypt-key [--out path]
`

// errUsage marks a command line that could not be parsed.
var errUsage = errors.New("usage error")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("polyclaw", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := global.String("config", "config.toml", "path to configuration file")
	if err := global.Parse(args); err != nil {
		return 1
	}
	if global.NArg() == 0 {
		global.Usage()
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: load config %s: %v\n", *configPath, err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Logs go to stderr so --json output on stdout stays parseable.
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, rest := global.Arg(0), global.Args()[1:]
	if err := dispatch(ctx, cmd, rest, cfg, logger, stdout, stderr); err != nil {
		switch {
		case errors.Is(err, errUsage):
			fmt.Fprintf(stderr, "Error: %v\n\n%s", err, usage)
		case errors.Is(err, domain.ErrConfiguration):
			fmt.Fprintf(stderr, "Error: %v\nSet POLYCLAW_PRIVATE_KEY and CHAINSTACK_NODE.\n", err)
		case errors.Is(err, app.ErrTradeFailed):
			// Already rendered.
		default:
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		logger.Debug("command failed", slog.String("command", cmd), slog.String("error", err.Error()))
		return 1
	}
	return 0
}

func dispatch(ctx context.Context, cmd string, args []string, cfg *config.Config, logger *slog.Logger, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "print JSON instead of text")

	switch cmd {
	case "buy":
		skipSell := fs.Bool("skip-sell", false, "keep both sides instead of selling the unwanted one")
		pos, err := parseInterspersed(fs, args)
		if err != nil {
			return err
		}
		if len(pos) != 3 {
			return fmt.Errorf("%w: buy needs <market_id> <YES|NO> <amount>", errUsage)
		}
		amount, err := strconv.ParseFloat(pos[2], 64)
		if err != nil {
			return fmt.Errorf("%w: amount %q is not a number", errUsage, pos[2])
		}
		req := domain.TradeRequest{
			MarketID: pos[0],
			Side:     domain.Side(strings.ToUpper(pos[1])),
			Amount:   amount,
			SkipSell: *skipSell,
		}
		return app.New(cfg, logger, stdout, *asJSON).Buy(ctx, req)

	case "scan":
		onchain := fs.Bool("onchain", false, "also query the positions API for redeemable positions")
		if err := parseNoArgs(fs, args); err != nil {
			return err
		}
		return app.New(cfg, logger, stdout, *asJSON).Scan(ctx, *onchain)

	case "execute":
		dryRun := fs.Bool("dry-run", false, "show what would be redeemed without sending transactions")
		onchain := fs.Bool("onchain", false, "also redeem positions found through the positions API")
		if err := parseNoArgs(fs, args); err != nil {
			return err
		}
		return app.New(cfg, logger, stdout, *asJSON).Execute(ctx, service.ExecuteOptions{DryRun: *dryRun, Onchain: *onchain})

	case "positions":
		openOnly := fs.Bool("open", false, "only open positions")
		if err := parseNoArgs(fs, args); err != nil {
			return err
		}
		return app.New(cfg, logger, stdout, *asJSON).Positions(ctx, *openOnly)

	case "approve":
		check := fs.Bool("check", false, "only report the approval state")
		if err := parseNoArgs(fs, args); err != nil {
			return err
		}
		return app.New(cfg, logger, stdout, *asJSON).Approve(ctx, *check)

	case "balance":
		if err := parseNoArgs(fs, args); err != nil {
			return err
		}
		return app.New(cfg, logger, stdout, *asJSON).Balance(ctx)

	case "encrypt-key":
		out := fs.String("out", defaultKeyPath(cfg), "where to write the encrypted key file")
		if err := parseNoArgs(fs, args); err != nil {
			return err
		}
		return app.New(cfg, logger, stdout, false).EncryptKey(*out, cfg.Wallet.KeyPassword)

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

// parseInterspersed parses flags that may appear before, between or after
// positional arguments.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, fmt.Errorf("%w: %v", errUsage, err)
		}
		if fs.NArg() == 0 {
			return pos, nil
		}
		pos = append(pos, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func parseNoArgs(fs *flag.FlagSet, args []string) error {
	pos, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(pos) > 0 {
		return fmt.Errorf("%w: unexpected argument %q", errUsage, pos[0])
	}
	return nil
}

func defaultKeyPath(cfg *config.Config) string {
	if cfg.Wallet.EncryptedKeyPath != "" {
		return cfg.Wallet.EncryptedKeyPath
	}
	return filepath.Join(filepath.Dir(config.DefaultStoragePath()), "key.json")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

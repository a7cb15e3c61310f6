// Package app wires polyclaw's stores, clients and services for one command
// run and renders the outcome.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/alanyoungcy/polyclaw/internal/cache/redis"
	"github.com/alanyoungcy/polyclaw/internal/config"
	"github.com/alanyoungcy/polyclaw/internal/crypto"
	"github.com/alanyoungcy/polyclaw/internal/domain"
	"github.com/alanyoungcy/polyclaw/internal/service"
)

// ErrTradeFailed is returned by Buy when nothing happened on chain. The
// result has already been rendered.
var ErrTradeFailed = errors.New("trade failed")

// App runs one command.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
	json   bool
}

// New creates an App writing command output to out.
func New(cfg *config.Config, logger *slog.Logger, out io.Writer, asJSON bool) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		out:    out,
		json:   asJSON,
	}
}

// Buy runs the trade saga.
func (a *App) Buy(ctx context.Context, req domain.TradeRequest) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger, WireOptions{Chain: true})
	if err != nil {
		return err
	}
	defer cleanup()

	var res domain.TradeResult
	err = a.withSagaLock(ctx, deps, func(ctx context.Context) error {
		var buyErr error
		res, buyErr = deps.TradeService(a.cfg, a.logger).Buy(ctx, req)
		return buyErr
	})
	if err != nil && res.Error == "" {
		res.Error = err.Error()
	}
	if res.Success {
		a.snapshot(ctx, deps)
	}
	if rerr := a.render(res, func(w io.Writer) { renderTrade(w, res) }); rerr != nil {
		return rerr
	}
	if err != nil {
		if errors.Is(err, domain.ErrConfiguration) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrTradeFailed, err)
	}
	return nil
}

// Scan lists settled positions without acting on them.
func (a *App) Scan(ctx context.Context, onchain bool) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger, WireOptions{Chain: true})
	if err != nil {
		return err
	}
	defer cleanup()

	svc := deps.RedeemService(a.logger)
	var report service.ScanReport
	if onchain {
		report, err = svc.ScanAll(ctx)
	} else {
		report, err = svc.ScanLocal(ctx)
	}
	if err != nil {
		return err
	}
	return a.render(report, func(w io.Writer) { renderScan(w, report) })
}

// Execute redeems winners and resolves losers.
func (a *App) Execute(ctx context.Context, opts service.ExecuteOptions) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger, WireOptions{Chain: true})
	if err != nil {
		return err
	}
	defer cleanup()

	var report service.RedeemReport
	err = a.withSagaLock(ctx, deps, func(ctx context.Context) error {
		var execErr error
		report, execErr = deps.RedeemService(a.logger).Execute(ctx, opts)
		return execErr
	})
	if !opts.DryRun && len(report.Results) > 0 {
		a.snapshot(ctx, deps)
	}
	// Items already redeemed are shown even when the run stopped early.
	if len(report.Results) > 0 || err == nil {
		if rerr := a.render(report, func(w io.Writer) { renderRedeem(w, report) }); rerr != nil {
			return rerr
		}
	}
	return err
}

// Positions lists stored records.
func (a *App) Positions(ctx context.Context, openOnly bool) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger, WireOptions{})
	if err != nil {
		return err
	}
	defer cleanup()

	var recs []domain.PositionRecord
	if openOnly {
		recs, err = deps.Positions.GetOpen(ctx)
	} else {
		recs, err = deps.Positions.LoadAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("app: list positions: %w", err)
	}
	if recs == nil {
		recs = []domain.PositionRecord{}
	}
	return a.render(recs, func(w io.Writer) { renderPositions(w, recs) })
}

// Balance shows native and collateral balances plus the approval state.
func (a *App) Balance(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger, WireOptions{Chain: true})
	if err != nil {
		return err
	}
	defer cleanup()

	bal, err := deps.Wallet.Balances(ctx)
	if err != nil {
		return err
	}
	approvals, all, err := deps.Wallet.CheckApprovals(ctx)
	if err != nil {
		return err
	}
	view := balanceView{Address: bal.Address, Balances: &bal, Approved: all, Approvals: approvals}
	return a.render(view, func(w io.Writer) { renderBalance(w, view) })
}

// Approve checks the exchange approvals and, unless checkOnly, grants the
// missing ones.
func (a *App) Approve(ctx context.Context, checkOnly bool) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger, WireOptions{Chain: true})
	if err != nil {
		return err
	}
	defer cleanup()

	approvals, all, err := deps.Wallet.CheckApprovals(ctx)
	if err != nil {
		return err
	}
	if !checkOnly && !all {
		checked := approvals
		err = a.withSagaLock(ctx, deps, func(ctx context.Context) error {
			var setErr error
			approvals, setErr = deps.Wallet.SetApprovals(ctx)
			return setErr
		})
		if err != nil {
			approvals = mergeApprovals(checked, approvals)
		}
		all = true
		for _, ap := range approvals {
			all = all && ap.Approved
		}
	}
	view := balanceView{Address: deps.Wallet.Address(), Approved: all, Approvals: approvals}
	if rerr := a.render(view, func(w io.Writer) { renderApprovals(w, view) }); rerr != nil {
		return rerr
	}
	return err
}

// EncryptKey writes the configured raw key to path, encrypted with password.
func (a *App) EncryptKey(path, password string) error {
	if a.cfg.Wallet.PrivateKey == "" {
		return fmt.Errorf("%w: POLYCLAW_PRIVATE_KEY not set", domain.ErrConfiguration)
	}
	if password == "" {
		return fmt.Errorf("app: a password is required")
	}
	if err := crypto.WriteEncryptedKey(path, a.cfg.Wallet.PrivateKey, password); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Encrypted key written to %s\n", path)
	return nil
}

// withSagaLock runs fn under the wallet's cross-process lock when Redis is
// configured.
func (a *App) withSagaLock(ctx context.Context, deps *Dependencies, fn func(context.Context) error) error {
	if deps.Locks == nil || deps.Wallet == nil {
		return fn(ctx)
	}
	key := redis.SagaKey(deps.Wallet.Address())
	release, err := deps.Locks.Acquire(ctx, key, a.cfg.Redis.LockTTLDuration())
	if err != nil {
		return fmt.Errorf("app: another polyclaw run holds %s: %w", key, err)
	}
	defer release()
	return fn(ctx)
}

// mergeApprovals overlays the grants a partial SetApprovals run reported on
// the state checked before it. Both lists follow the same grant order.
func mergeApprovals(checked, done []domain.Approval) []domain.Approval {
	out := append([]domain.Approval(nil), checked...)
	for i, ap := range done {
		if i < len(out) {
			out[i] = ap
		}
	}
	return out
}

func (a *App) snapshot(ctx context.Context, deps *Dependencies) {
	if deps.Snapshots == nil {
		return
	}
	if _, err := deps.Snapshots.Archive(context.WithoutCancel(ctx)); err != nil {
		a.logger.WarnContext(ctx, "positions snapshot failed", slog.String("error", err.Error()))
	}
}

package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/polyclaw/internal/blob/s3"
	"github.com/alanyoungcy/polyclaw/internal/cache/redis"
	"github.com/alanyoungcy/polyclaw/internal/chain"
	"github.com/alanyoungcy/polyclaw/internal/config"
	"github.com/alanyoungcy/polyclaw/internal/crypto"
	"github.com/alanyoungcy/polyclaw/internal/domain"
	"github.com/alanyoungcy/polyclaw/internal/notify"
	"github.com/alanyoungcy/polyclaw/internal/platform/polymarket"
	"github.com/alanyoungcy/polyclaw/internal/service"
	"github.com/alanyoungcy/polyclaw/internal/store/jsonfile"
	"github.com/alanyoungcy/polyclaw/internal/store/postgres"
	"github.com/alanyoungcy/polyclaw/internal/wallet"
)

// Dependencies bundles what the commands need. Chain-facing fields are nil
// unless Wire was asked for them.
type Dependencies struct {
	Positions domain.PositionStore
	Markets   *polymarket.GammaClient
	Feed      *polymarket.DataClient

	Wallet *wallet.Wallet
	Chain  *chain.Client
	Clob   *polymarket.ClobClient
	Seller *polymarket.Seller

	Locks     domain.LockManager
	Snapshots *service.SnapshotArchiver
	Notifier  *notify.Notifier
}

// WireOptions says which optional parts a command needs.
type WireOptions struct {
	// Chain requires a key and an RPC endpoint and builds the chain client,
	// wallet and order-book clients.
	Chain bool
}

// Wire builds the dependencies for one command run and returns a cleanup
// function releasing them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts WireOptions) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Markets:  polymarket.NewGammaClient(cfg.Polymarket.GammaHost, cfg.Clob.HTTPTimeoutDuration()),
		Notifier: notify.FromConfig(cfg.Notify, logger),
	}

	// --- Position store ---
	switch cfg.Storage.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Positions = postgres.NewPositionStore(pgClient.Pool())
	default:
		store, err := jsonfile.Open(cfg.Storage.Path, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: position store: %w", err))
		}
		deps.Positions = store
	}

	// --- Chain, wallet and order book ---
	if opts.Chain {
		if err := cfg.RequireWallet(); err != nil {
			return fail(fmt.Errorf("%w: %s", domain.ErrConfiguration, err.Error()))
		}
		key, err := wallet.LoadKey(cfg.Wallet)
		if err != nil {
			return fail(err)
		}

		chainClient, closeChain, err := chain.Dial(ctx, cfg.Chain.RPCURL, key, chain.Config{
			ChainID:         cfg.Chain.ChainID,
			SplitGasLimit:   cfg.Chain.SplitGasLimit,
			ApproveGasLimit: cfg.Chain.ApproveGasLimit,
			GasPriceBumpPct: cfg.Chain.GasPriceBumpPct,
			ReceiptTimeout:  cfg.Chain.ReceiptTimeoutDuration(),
			ReceiptPoll:     cfg.Chain.ReceiptPollDuration(),
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		closers = append(closers, closeChain)
		deps.Chain = chainClient
		deps.Wallet = wallet.New(key, chainClient)
		closers = append(closers, deps.Wallet.Lock)
		signingKey, err := deps.Wallet.Key()
		if err != nil {
			return fail(err)
		}

		factory := polymarket.DefaultTransportFactory(cfg.Clob.HTTPTimeoutDuration())
		if cfg.Clob.ProxyURL != "" {
			factory, err = polymarket.ProxyTransportFactory(cfg.Clob.ProxyURL, cfg.Clob.HTTPTimeoutDuration())
			if err != nil {
				return fail(fmt.Errorf("wire: %w", err))
			}
		}
		deps.Clob = polymarket.NewClobClient(cfg.Polymarket.ClobHost, crypto.NewSigner(signingKey, cfg.Chain.ChainID), factory)
		deps.Clob.SetSignatureType(cfg.Polymarket.SignatureType)
		deps.Seller = polymarket.NewSeller(deps.Clob, polymarket.SellerConfig{
			MaxRetries:      cfg.Clob.MaxRetries,
			RetryPause:      cfg.Clob.RetryPauseDuration(),
			Discount:        cfg.Clob.HedgeDiscount,
			ProxyConfigured: cfg.Clob.ProxyURL != "",
		}, logger)

		deps.Feed = polymarket.NewDataClient(cfg.Polymarket.DataHost,
			polymarket.DefaultTransportFactory(cfg.Clob.HTTPTimeoutDuration())())
	}

	// --- Saga lock ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ConfigFrom(cfg.Redis))
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Locks = redis.NewLockManager(rc, logger)
	}

	// --- Snapshots ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ConfigFrom(cfg.S3))
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		deps.Snapshots = service.NewSnapshotArchiver(deps.Positions, s3blob.NewWriter(sc), cfg.S3.Prefix, logger)
	}

	return deps, cleanup, nil
}

// TradeService builds the buy saga from deps. Without a wallet the service
// still exists and reports domain.ErrConfiguration on Buy.
func (d *Dependencies) TradeService(cfg *config.Config, logger *slog.Logger) *service.TradeService {
	var (
		splitter service.Splitter
		balances service.BalanceSource
		seller   service.HedgeSeller
	)
	// Interface values stay untyped nil when the concrete pointer is nil.
	if d.Chain != nil {
		splitter = d.Chain
	}
	if d.Wallet != nil {
		balances = d.Wallet
	}
	if d.Seller != nil {
		seller = d.Seller
	}
	return service.NewTradeService(d.Markets, splitter, balances, seller, d.Positions,
		cfg.Trade.SettleDelayDuration(), logger).WithNotifier(d.Notifier)
}

// RedeemService builds the redemption saga from deps.
func (d *Dependencies) RedeemService(logger *slog.Logger) *service.RedeemService {
	var (
		rc   service.RedeemChain
		feed service.PositionsFeed
		addr string
	)
	if d.Chain != nil {
		rc = d.Chain
	}
	if d.Feed != nil {
		feed = d.Feed
	}
	if d.Wallet != nil {
		addr = d.Wallet.Address()
	}
	return service.NewRedeemService(d.Positions, d.Markets, rc, feed, addr, logger).WithNotifier(d.Notifier)
}

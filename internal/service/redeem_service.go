package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyclaw/internal/chain"
	"github.com/alanyoungcy/polyclaw/internal/domain"
	"github.com/alanyoungcy/polyclaw/internal/notify"
	"github.com/alanyoungcy/polyclaw/internal/platform/polymarket"
)

// redeemIndexSets covers both outcome slots of a binary condition.
var redeemIndexSets = []int64{1, 2}

// RedeemChain is the on-chain surface the redemption saga needs.
// *chain.Client satisfies it.
type RedeemChain interface {
	TokenBalance(ctx context.Context, tokenID string) (*big.Int, error)
	IsResolved(ctx context.Context, conditionID string) (bool, error)
	Redeem(ctx context.Context, conditionID string, sets []int64) (string, error)
}

// PositionsFeed lists the wallet's positions as seen by the indexer.
// *polymarket.DataClient satisfies it.
type PositionsFeed interface {
	AllPositions(ctx context.Context, user string, filter polymarket.PositionFilter) ([]polymarket.APIPosition, error)
}

// ScanReport is the output of a redemption scan.
type ScanReport struct {
	Candidates []domain.RedeemCandidate `json:"candidates"`
	Failures   []domain.ScanFailure     `json:"scan_failures"`
}

// ExecuteOptions controls a redemption run.
type ExecuteOptions struct {
	DryRun  bool
	Onchain bool
}

// RedeemReport summarises a redemption run.
type RedeemReport struct {
	DryRun      bool                  `json:"dry_run"`
	Scan        ScanReport            `json:"scan"`
	Results     []domain.RedeemResult `json:"results"`
	Redeemed    int                   `json:"redeemed"`
	RedeemedUSD float64               `json:"redeemed_usd"`
	Resolved    int                   `json:"resolved"`
	Failed      []domain.RedeemResult `json:"failed"`
}

func (r *RedeemReport) add(res domain.RedeemResult) {
	r.Results = append(r.Results, res)
	switch {
	case !res.Success:
		r.Failed = append(r.Failed, res)
	case res.IsWinner:
		r.Redeemed++
		r.RedeemedUSD += res.RedeemedUSD
	default:
		r.Resolved++
	}
}

// RedeemService finds settled positions and converts winning tokens back
// into collateral. Scans only read the store; every write happens in Execute
// after the scan has finished.
type RedeemService struct {
	positions domain.PositionStore
	markets   MarketProvider
	chain     RedeemChain
	feed      PositionsFeed
	wallet    string
	notifier  EventNotifier
	logger    *slog.Logger

	now func() time.Time
}

// NewRedeemService creates a RedeemService. feed may be nil when on-chain
// discovery is not wanted. Without chainClient every scan fails with
// domain.ErrConfiguration.
func NewRedeemService(
	positions domain.PositionStore,
	markets MarketProvider,
	chainClient RedeemChain,
	feed PositionsFeed,
	walletAddress string,
	logger *slog.Logger,
) *RedeemService {
	return &RedeemService{
		positions: positions,
		markets:   markets,
		chain:     chainClient,
		feed:      feed,
		wallet:    walletAddress,
		logger:    logger.With(slog.String("component", "redeem_service")),
		now:       time.Now,
	}
}

// WithNotifier attaches a notifier for position_redeemed and redeem_failed.
func (s *RedeemService) WithNotifier(n EventNotifier) *RedeemService {
	s.notifier = n
	return s
}

// ScanLocal evaluates every open stored position. A position whose market or
// chain state cannot be read becomes a ScanFailure and the scan moves on.
func (s *RedeemService) ScanLocal(ctx context.Context) (ScanReport, error) {
	var report ScanReport

	open, err := s.positions.GetOpen(ctx)
	if err != nil {
		return report, fmt.Errorf("redeem_service: load open positions: %w", err)
	}
	if s.chain == nil {
		return report, fmt.Errorf("redeem_service: %w: chain client not configured", domain.ErrConfiguration)
	}

	for _, rec := range open {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		cand, ok, err := s.evaluate(ctx, rec)
		if err != nil {
			s.logger.WarnContext(ctx, "scan skipped position",
				slog.String("position_id", rec.PositionID),
				slog.String("market_id", rec.MarketID),
				slog.String("error", err.Error()),
			)
			report.Failures = append(report.Failures, domain.ScanFailure{
				PositionID: rec.PositionID,
				MarketID:   rec.MarketID,
				Err:        err,
			})
			continue
		}
		if ok {
			report.Candidates = append(report.Candidates, cand)
		}
	}
	return report, nil
}

// evaluate classifies one open record. ok is false when the position is not
// ready for redemption yet.
func (s *RedeemService) evaluate(ctx context.Context, rec domain.PositionRecord) (domain.RedeemCandidate, bool, error) {
	market, err := s.markets.GetMarket(ctx, rec.MarketID)
	if err != nil {
		return domain.RedeemCandidate{}, false, fmt.Errorf("fetch market: %w", err)
	}
	if !market.Resolved || market.Outcome == "" {
		return domain.RedeemCandidate{}, false, nil
	}

	cand := domain.RedeemCandidate{
		PositionID:    rec.PositionID,
		MarketID:      rec.MarketID,
		Question:      rec.Question,
		Position:      string(rec.Position),
		TokenID:       rec.TokenID,
		ConditionID:   rec.ConditionID,
		IsWinner:      rec.Position == market.Outcome,
		MarketOutcome: string(market.Outcome),
		Source:        domain.SourceLocal,
	}
	if cand.Question == "" {
		cand.Question = market.Question
	}
	if cand.ConditionID == "" {
		cand.ConditionID = market.ConditionID
	}
	if !cand.IsWinner {
		return cand, true, nil
	}

	if rec.TokenID == "" {
		return domain.RedeemCandidate{}, false, nil
	}
	bal, err := s.chain.TokenBalance(ctx, rec.TokenID)
	if err != nil {
		return domain.RedeemCandidate{}, false, fmt.Errorf("token balance: %w", err)
	}
	if bal.Sign() <= 0 {
		return domain.RedeemCandidate{}, false, nil
	}
	if cand.ConditionID == "" {
		return domain.RedeemCandidate{}, false, errors.New("market has no condition id")
	}
	settled, err := s.chain.IsResolved(ctx, cand.ConditionID)
	if err != nil {
		return domain.RedeemCandidate{}, false, fmt.Errorf("resolution check: %w", err)
	}
	if !settled {
		return domain.RedeemCandidate{}, false, nil
	}

	cand.OnChainBalance = bal.Uint64()
	cand.RedeemableUSD = chain.FromBaseUnits(bal)
	return cand, true, nil
}

// ScanOnchain asks the positions feed for redeemable and mergeable positions
// held by the wallet. The feed is trusted: every item is a winner.
func (s *RedeemService) ScanOnchain(ctx context.Context) ([]domain.RedeemCandidate, error) {
	if s.feed == nil {
		return nil, fmt.Errorf("redeem_service: %w: positions feed not configured", domain.ErrConfiguration)
	}
	if s.wallet == "" {
		return nil, fmt.Errorf("redeem_service: %w: wallet address unknown", domain.ErrConfiguration)
	}

	redeemable, err := s.feed.AllPositions(ctx, s.wallet, polymarket.PositionFilter{Redeemable: true})
	if err != nil {
		return nil, fmt.Errorf("redeem_service: redeemable positions: %w", err)
	}
	mergeable, err := s.feed.AllPositions(ctx, s.wallet, polymarket.PositionFilter{Mergeable: true})
	if err != nil {
		return nil, fmt.Errorf("redeem_service: mergeable positions: %w", err)
	}

	var out []domain.RedeemCandidate
	seen := make(map[string]struct{})
	for _, p := range redeemable {
		if c, ok := onchainCandidate(p); ok {
			seen[c.ConditionID] = struct{}{}
			out = append(out, c)
		}
	}
	for _, p := range mergeable {
		c, ok := onchainCandidate(p)
		if !ok {
			continue
		}
		if _, dup := seen[c.ConditionID]; dup {
			continue
		}
		seen[c.ConditionID] = struct{}{}
		out = append(out, c)
	}

	s.logger.InfoContext(ctx, "on-chain scan complete",
		slog.Int("redeemable", len(redeemable)),
		slog.Int("mergeable", len(mergeable)),
		slog.Int("candidates", len(out)),
	)
	return out, nil
}

func onchainCandidate(p polymarket.APIPosition) (domain.RedeemCandidate, bool) {
	cid := p.Condition()
	size := float64(p.Size)
	if cid == "" || size <= 0 {
		return domain.RedeemCandidate{}, false
	}
	position := strings.ToUpper(p.Outcome)
	if position == "" {
		position = "UNKNOWN"
	}
	prefix := cid
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	units, err := chain.ToBaseUnits(size)
	var balance uint64
	if err == nil {
		balance = units.Uint64()
	}
	return domain.RedeemCandidate{
		PositionID:     "onchain-" + prefix,
		MarketID:       cid,
		Question:       p.Title,
		Position:       position,
		TokenID:        p.Asset,
		ConditionID:    cid,
		IsWinner:       true,
		OnChainBalance: balance,
		RedeemableUSD:  size,
		Source:         domain.SourceDataAPI,
	}, true
}

// ScanAll runs the local and on-chain scans concurrently and merges them.
// A failure of the on-chain feed fails the whole scan.
func (s *RedeemService) ScanAll(ctx context.Context) (ScanReport, error) {
	var (
		local   ScanReport
		onchain []domain.RedeemCandidate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		local, err = s.ScanLocal(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		onchain, err = s.ScanOnchain(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return ScanReport{}, err
	}

	return ScanReport{
		Candidates: MergeCandidates(local.Candidates, onchain),
		Failures:   local.Failures,
	}, nil
}

// MergeCandidates keeps every local candidate and appends on-chain ones whose
// condition is not already present.
func MergeCandidates(local, onchain []domain.RedeemCandidate) []domain.RedeemCandidate {
	out := make([]domain.RedeemCandidate, 0, len(local)+len(onchain))
	seen := make(map[string]struct{}, len(local)+len(onchain))
	for _, c := range local {
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}
	for _, c := range onchain {
		if _, ok := seen[c.Key()]; ok {
			continue
		}
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Execute scans and then acts on every candidate: winners are redeemed,
// local losers are marked resolved. One item failing does not stop the rest.
// A dry run returns the scan without sending transactions or writing.
func (s *RedeemService) Execute(ctx context.Context, opts ExecuteOptions) (RedeemReport, error) {
	report := RedeemReport{DryRun: opts.DryRun}

	var err error
	if opts.Onchain {
		report.Scan, err = s.ScanAll(ctx)
	} else {
		report.Scan, err = s.ScanLocal(ctx)
	}
	if err != nil {
		return report, err
	}
	if opts.DryRun || len(report.Scan.Candidates) == 0 {
		return report, nil
	}

	// One redemption pays out every token of a condition, so later holders
	// of the same condition reuse the first transaction.
	redeemed := make(map[string]string)
	for _, c := range report.Scan.Candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		var res domain.RedeemResult
		if c.IsWinner {
			res = s.redeemWinner(ctx, c, redeemed)
		} else {
			res = s.resolveLoser(ctx, c)
		}
		report.add(res)
	}

	s.logger.InfoContext(ctx, "redemption run complete",
		slog.Int("redeemed", report.Redeemed),
		slog.Float64("redeemed_usd", report.RedeemedUSD),
		slog.Int("resolved", report.Resolved),
		slog.Int("failed", len(report.Failed)),
	)
	return report, nil
}

func (s *RedeemService) redeemWinner(ctx context.Context, c domain.RedeemCandidate, redeemed map[string]string) domain.RedeemResult {
	res := resultFor(c)
	res.TokenCount = c.RedeemableUSD

	tx, shared := redeemed[c.Key()]
	if shared {
		res.Note = "covered by earlier redemption of the same condition"
	} else {
		if c.ConditionID == "" {
			res.Error = "no condition id"
			s.redeemFailed(ctx, c, errors.New(res.Error))
			return res
		}
		var err error
		tx, err = s.chain.Redeem(ctx, c.ConditionID, redeemIndexSets)
		if err != nil {
			res.Error = err.Error()
			var execErr *domain.ChainExecutionError
			if errors.As(err, &execErr) {
				res.TxHash = execErr.TxHash
			}
			s.redeemFailed(ctx, c, err)
			return res
		}
		redeemed[c.Key()] = tx
		res.RedeemedUSD = c.RedeemableUSD
	}

	res.Success = true
	res.TxHash = tx
	s.logger.InfoContext(ctx, "position redeemed",
		slog.String("position_id", c.PositionID),
		slog.String("condition_id", c.ConditionID),
		slog.String("tx", tx),
		slog.Float64("usd", res.RedeemedUSD),
	)

	if c.Source == domain.SourceLocal {
		// The payout is final on chain, so the bookkeeping must not be lost
		// to a cancelled caller.
		persistCtx := context.WithoutCancel(ctx)
		note := fmt.Sprintf("Redeemed $%.2f | TX: %s | %s", res.RedeemedUSD, tx, s.now().UTC().Format(time.RFC3339))
		if err := s.finalize(persistCtx, c.PositionID, domain.PositionStatusRedeemed, note); err != nil {
			// The payout happened; only the bookkeeping is behind.
			res.Note = "redeemed on chain, store update failed: " + err.Error()
			s.logger.ErrorContext(ctx, "redeemed position not marked in store",
				slog.String("position_id", c.PositionID),
				slog.String("tx", tx),
				slog.String("error", err.Error()),
			)
		}
	}

	if !shared {
		s.notify(ctx, notify.EventPositionRedeemed, "Position redeemed",
			fmt.Sprintf("%s %s: $%.2f\ntx %s", c.Position, c.Question, res.RedeemedUSD, tx))
	}
	return res
}

func (s *RedeemService) resolveLoser(ctx context.Context, c domain.RedeemCandidate) domain.RedeemResult {
	res := resultFor(c)
	if c.Source != domain.SourceLocal {
		res.Success = true
		return res
	}
	if err := s.positions.UpdateStatus(context.WithoutCancel(ctx), c.PositionID, domain.PositionStatusResolved); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Note = "Losing position - marked as resolved"
	return res
}

// finalize moves the record to status and appends note below any notes
// already on it.
func (s *RedeemService) finalize(ctx context.Context, id string, status domain.PositionStatus, note string) error {
	rec, err := s.positions.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.positions.UpdateStatus(ctx, id, status); err != nil {
		return err
	}
	return s.positions.UpdateNotes(ctx, id, appendNote(rec.Notes, note))
}

func appendNote(prev *string, note string) string {
	if prev == nil || *prev == "" {
		return note
	}
	return *prev + "\n" + note
}

func (s *RedeemService) redeemFailed(ctx context.Context, c domain.RedeemCandidate, err error) {
	s.logger.ErrorContext(ctx, "redemption failed",
		slog.String("position_id", c.PositionID),
		slog.String("condition_id", c.ConditionID),
		slog.String("error", err.Error()),
	)
	s.notify(ctx, notify.EventRedeemFailed, "Redemption failed",
		fmt.Sprintf("%s %s: %v", c.Position, c.Question, err))
}

func (s *RedeemService) notify(ctx context.Context, event notify.Event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("event", string(event)),
			slog.String("error", err.Error()),
		)
	}
}

func resultFor(c domain.RedeemCandidate) domain.RedeemResult {
	return domain.RedeemResult{
		PositionID: c.PositionID,
		MarketID:   c.MarketID,
		Question:   c.Question,
		Position:   c.Position,
		IsWinner:   c.IsWinner,
	}
}

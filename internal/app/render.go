package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/alanyoungcy/polyclaw/internal/domain"
	"github.com/alanyoungcy/polyclaw/internal/service"
)

// balanceView is the output of the balance and approve commands.
type balanceView struct {
	Address   string            `json:"address"`
	Balances  *domain.Balances  `json:"balances,omitempty"`
	Approved  bool              `json:"all_approved"`
	Approvals []domain.Approval `json:"approvals"`
}

// render writes v as indented JSON in --json mode and as text otherwise.
func (a *App) render(v any, text func(w io.Writer)) error {
	if a.json {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("app: encode output: %w", err)
		}
		return nil
	}
	text(a.out)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

func renderTrade(w io.Writer, res domain.TradeResult) {
	if !res.Success {
		fmt.Fprintf(w, "Trade failed: %s\n", res.Error)
		return
	}
	fmt.Fprintf(w, "Bought %s on market %s for $%.2f\n", res.Position, res.MarketID, res.Amount)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  Question:\t%s\n", res.Question)
	fmt.Fprintf(tw, "  Entry price:\t%.2f\n", res.EntryPrice)
	fmt.Fprintf(tw, "  Split TX:\t%s\n", res.SplitTx)
	switch {
	case res.ClobFilled:
		fmt.Fprintf(tw, "  Hedge:\tfilled (order %s)\n", res.ClobOrderID)
	case res.ClobOrderID != "":
		fmt.Fprintf(tw, "  Hedge:\tnot filled (order %s)\n", res.ClobOrderID)
	default:
		fmt.Fprintf(tw, "  Hedge:\tnot filled\n")
	}
	if res.PositionID != "" {
		fmt.Fprintf(tw, "  Position ID:\t%s\n", res.PositionID)
	}
	_ = tw.Flush()
	if res.Error != "" {
		fmt.Fprintf(w, "Warning: %s\n", res.Error)
	}
	if res.PersistError != "" {
		fmt.Fprintf(w, "Position NOT saved (%s). Record the split TX above manually.\n", res.PersistError)
	}
}

func renderScan(w io.Writer, report service.ScanReport) {
	if len(report.Candidates) == 0 && len(report.Failures) == 0 {
		fmt.Fprintln(w, "No settled positions found.")
		return
	}

	var winners, losers []domain.RedeemCandidate
	for _, c := range report.Candidates {
		if c.IsWinner {
			winners = append(winners, c)
		} else {
			losers = append(losers, c)
		}
	}

	if len(winners) > 0 {
		fmt.Fprintf(w, "Winning positions ready to redeem (%d):\n", len(winners))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSide\tAmount\tSource\tMarket")
		var total float64
		for _, c := range winners {
			total += c.RedeemableUSD
			fmt.Fprintf(tw, "%s\t%s\t$%.2f\t%s\t%s\n", shortID(c.PositionID), c.Position, c.RedeemableUSD, c.Source, clip(c.Question, 40))
		}
		_ = tw.Flush()
		fmt.Fprintf(w, "Total redeemable: $%.2f USDC.e\n", total)
		fmt.Fprintln(w, "Run 'polyclaw execute' to claim.")
	} else {
		fmt.Fprintln(w, "No winning positions to redeem.")
	}

	if len(losers) > 0 {
		fmt.Fprintf(w, "\nLosing resolved positions (%d):\n", len(losers))
		for _, c := range losers {
			fmt.Fprintf(w, "  %s | %s | %s | Outcome: %s\n", shortID(c.PositionID), c.Position, clip(c.Question, 40), c.MarketOutcome)
		}
	}
	renderScanFailures(w, report.Failures)
}

func renderScanFailures(w io.Writer, failures []domain.ScanFailure) {
	if len(failures) == 0 {
		return
	}
	fmt.Fprintf(w, "\nCould not check %d position(s):\n", len(failures))
	for _, f := range failures {
		fmt.Fprintf(w, "  %s: %v\n", shortID(f.PositionID), f.Err)
	}
}

func renderRedeem(w io.Writer, report service.RedeemReport) {
	if report.DryRun {
		renderScan(w, report.Scan)
		fmt.Fprintln(w, "\n[DRY RUN] No transactions submitted.")
		return
	}
	if len(report.Scan.Candidates) == 0 {
		fmt.Fprintln(w, "No redeemable positions found.")
		renderScanFailures(w, report.Scan.Failures)
		return
	}

	for _, r := range report.Results {
		switch {
		case !r.Success:
			fmt.Fprintf(w, "%s  FAILED    %s\n", shortID(r.PositionID), r.Error)
		case r.IsWinner:
			fmt.Fprintf(w, "%s  redeemed  $%.2f  tx %s\n", shortID(r.PositionID), r.RedeemedUSD, r.TxHash)
		default:
			fmt.Fprintf(w, "%s  resolved  %s\n", shortID(r.PositionID), r.Note)
		}
	}

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 60))
	fmt.Fprintln(w, "Redemption Summary:")
	if report.Redeemed > 0 {
		fmt.Fprintf(w, "  Redeemed: %d position(s) for $%.2f USDC.e\n", report.Redeemed, report.RedeemedUSD)
	}
	if report.Resolved > 0 {
		fmt.Fprintf(w, "  Resolved (losing): %d position(s)\n", report.Resolved)
	}
	if len(report.Failed) > 0 {
		fmt.Fprintf(w, "  Failed: %d position(s)\n", len(report.Failed))
		for _, r := range report.Failed {
			fmt.Fprintf(w, "    %s: %s\n", shortID(r.PositionID), r.Error)
		}
	}
	renderScanFailures(w, report.Scan.Failures)
}

func renderPositions(w io.Writer, recs []domain.PositionRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No positions.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSide\tAmount\tEntry\tHedged\tStatus\tMarket")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t$%.2f\t%.2f\t%v\t%s\t%s\n",
			shortID(r.PositionID), r.Position, r.EntryAmount, r.EntryPrice, r.ClobFilled, r.Status, clip(r.Question, 40))
	}
	_ = tw.Flush()
}

func renderBalance(w io.Writer, v balanceView) {
	fmt.Fprintf(w, "Wallet: %s\n", v.Address)
	if v.Balances != nil {
		fmt.Fprintf(w, "  POL:    %.4f\n", v.Balances.Native)
		fmt.Fprintf(w, "  USDC.e: %.2f\n", v.Balances.Collateral)
	}
	renderApprovals(w, v)
}

func renderApprovals(w io.Writer, v balanceView) {
	if v.Balances == nil {
		fmt.Fprintf(w, "Wallet: %s\n", v.Address)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  Token\tSpender\tKind\tApproved\tTX")
	for _, ap := range v.Approvals {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%v\t%s\n", ap.Token, ap.Spender, ap.Kind, ap.Approved, ap.TxHash)
	}
	_ = tw.Flush()
	if v.Approved {
		fmt.Fprintln(w, "All approvals in place.")
	} else {
		fmt.Fprintln(w, "Approvals missing. Run 'polyclaw approve' to grant them.")
	}
}

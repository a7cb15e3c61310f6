package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/alanyoungcy/polyclaw/internal/domain"
)

// unlimitedAllowance is the threshold above which an ERC-20 allowance counts
// as the usual max-uint approval.
var unlimitedAllowance = new(big.Int).Lsh(big.NewInt(1), 255)

type grant struct {
	kind    string // "allowance" or "operator"
	token   common.Address
	spender common.Address
	label   string
}

// exchangeGrants lists the six approvals trading needs: USDC.e allowances
// for the CTF and both exchanges, and CTF operator rights for both exchanges
// and the neg-risk adapter.
var exchangeGrants = []grant{
	{"allowance", CollateralAddress, CTFAddress, "CTF"},
	{"allowance", CollateralAddress, CTFExchangeAddress, "CTF Exchange"},
	{"allowance", CollateralAddress, NegRiskCTFExchangeAddress, "Neg Risk CTF Exchange"},
	{"operator", CTFAddress, CTFExchangeAddress, "CTF Exchange"},
	{"operator", CTFAddress, NegRiskCTFExchangeAddress, "Neg Risk CTF Exchange"},
	{"operator", CTFAddress, NegRiskAdapterAddress, "Neg Risk Adapter"},
}

func (g grant) view(approved bool, tx string) domain.Approval {
	token := "USDC.e"
	if g.kind == "operator" {
		token = "CTF"
	}
	return domain.Approval{Token: token, Spender: g.label, Kind: g.kind, Approved: approved, TxHash: tx}
}

func (c *Client) granted(ctx context.Context, g grant) (bool, error) {
	if g.kind == "operator" {
		return c.callBool(ctx, ctfABI, g.token, "isApprovedForAll", c.from, g.spender)
	}
	allowance, err := c.callUint(ctx, erc20ABI, g.token, "allowance", c.from, g.spender)
	if err != nil {
		return false, err
	}
	return allowance.Cmp(unlimitedAllowance) >= 0, nil
}

// CheckApprovals reads the current state of every exchange approval.
func (c *Client) CheckApprovals(ctx context.Context) ([]domain.Approval, error) {
	out := make([]domain.Approval, 0, len(exchangeGrants))
	for _, g := range exchangeGrants {
		ok, err := c.granted(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("chain: check %s %s: %w", g.kind, g.label, err)
		}
		out = append(out, g.view(ok, ""))
	}
	return out, nil
}

// SetApprovals submits every approval that is not yet in place, one after
// the other on consecutive nonces. It stops at the first failure and returns
// what was done so far.
func (c *Client) SetApprovals(ctx context.Context) ([]domain.Approval, error) {
	out := make([]domain.Approval, 0, len(exchangeGrants))
	for _, g := range exchangeGrants {
		ok, err := c.granted(ctx, g)
		if err != nil {
			return out, fmt.Errorf("chain: check %s %s: %w", g.kind, g.label, err)
		}
		if ok {
			out = append(out, g.view(true, ""))
			continue
		}

		var data []byte
		if g.kind == "operator" {
			data, err = ctfABI.Pack("setApprovalForAll", g.spender, true)
		} else {
			data, err = erc20ABI.Pack("approve", g.spender, math.MaxBig256)
		}
		if err != nil {
			return out, fmt.Errorf("chain: pack approval: %w", err)
		}

		tx, err := c.transact(ctx, "approve", g.token, data, c.cfg.ApproveGasLimit, false)
		if err != nil {
			return append(out, g.view(false, tx)), err
		}
		c.logger.InfoContext(ctx, "approval granted",
			slog.String("kind", g.kind),
			slog.String("spender", g.label),
			slog.String("tx", tx),
		)
		out = append(out, g.view(true, tx))
	}
	return out, nil
}

// allowance 持币方工具：批量 approve 给结算 delegate，或撤销已授予的 allowance。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"delegate-relay-sol/internal/logic/allowance"
	"delegate-relay-sol/internal/logic/core"
	"delegate-relay-sol/internal/logic/ledger"
	"delegate-relay-sol/internal/logic/signer"
	"delegate-relay-sol/internal/logic/submit"
	"delegate-relay-sol/internal/logic/variant"
	"delegate-relay-sol/internal/pkg/logger"
	"delegate-relay-sol/internal/types"

	"github.com/zeromicro/go-zero/core/jsonx"
)

const usage = `usage:
  allowance approve -keypair holder.json -delegate D -entry ACCOUNT:MINT:AMOUNT [-entry ...]
  allowance revoke  -keypair holder.json -account A [-account ...]`

type listFlag []string

func (l *listFlag) String() string     { return strings.Join(*l, ",") }
func (l *listFlag) Set(v string) error { *l = append(*l, v); return nil }

type commonFlags struct {
	keypair  string
	rpc      string
	timeout  time.Duration
	maxIxs   int
	logLevel string
}

func (c *commonFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&c.keypair, "keypair", "", "holder keypair file (solana-keygen JSON)")
	fs.StringVar(&c.rpc, "rpc", "https://api.mainnet-beta.solana.com", "solana rpc endpoint")
	fs.DurationVar(&c.timeout, "timeout", 90*time.Second, "overall timeout")
	fs.IntVar(&c.maxIxs, "max-instructions", 0, "instruction limit per transaction (0 = default)")
	fs.StringVar(&c.logLevel, "log-level", "warn", "log level")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd string, args []string, out io.Writer) error {
	var (
		common   commonFlags
		delegate string
		entries  listFlag
		accounts listFlag
	)
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	common.bind(fs)
	switch cmd {
	case "approve":
		fs.StringVar(&delegate, "delegate", "", "delegate public key")
		fs.Var(&entries, "entry", "ACCOUNT:MINT:AMOUNT, repeatable; AMOUNT in minimal units")
	case "revoke":
		fs.Var(&accounts, "account", "token account to revoke, repeatable")
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := logger.Init(logger.LogOption{Format: "console", Level: common.logLevel}); err != nil {
		return err
	}
	defer logger.Sync()

	holder, err := signer.LoadKeypairFile(common.keypair)
	if err != nil {
		return err
	}
	rpc, err := ledger.NewRpcLedger(ledger.RpcOption{Endpoint: common.rpc})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), common.timeout)
	defer cancel()
	limits := core.Limits{MaxInstructions: common.maxIxs}

	if cmd == "approve" {
		d, err := types.TryPubkeyFromBase58(delegate)
		if err != nil {
			return fmt.Errorf("-delegate: %w", err)
		}
		grants, err := parseEntries(entries)
		if err != nil {
			return err
		}
		return approve(ctx, rpc, holder, d, grants, limits, out)
	}

	refs, err := parseAccounts(accounts)
	if err != nil {
		return err
	}
	return revoke(ctx, rpc, holder, refs, limits, out)
}

// parseEntry 解析 ACCOUNT:MINT:AMOUNT
func parseEntry(s string) (allowance.GrantEntry, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return allowance.GrantEntry{}, fmt.Errorf("entry %q: want ACCOUNT:MINT:AMOUNT", s)
	}
	account, err := types.TryPubkeyFromBase58(parts[0])
	if err != nil {
		return allowance.GrantEntry{}, fmt.Errorf("entry %q: account: %w", s, err)
	}
	mint, err := types.TryPubkeyFromBase58(parts[1])
	if err != nil {
		return allowance.GrantEntry{}, fmt.Errorf("entry %q: mint: %w", s, err)
	}
	amount, err := types.ParseAmount(parts[2])
	if err != nil {
		return allowance.GrantEntry{}, fmt.Errorf("entry %q: %w", s, err)
	}
	return allowance.GrantEntry{Account: account, Mint: mint, Amount: amount}, nil
}

func parseEntries(list []string) ([]allowance.GrantEntry, error) {
	if len(list) == 0 {
		return nil, errors.New("at least one -entry is required")
	}
	out := make([]allowance.GrantEntry, 0, len(list))
	for _, s := range list {
		e, err := parseEntry(s)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func parseAccounts(list []string) ([]types.Pubkey, error) {
	if len(list) == 0 {
		return nil, errors.New("at least one -account is required")
	}
	out := make([]types.Pubkey, 0, len(list))
	for _, s := range list {
		pk, err := types.TryPubkeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("-account: %w", err)
		}
		out = append(out, pk)
	}
	return out, nil
}

type approveOutput struct {
	Signature string               `json:"signature"`
	Outcome   string               `json:"outcome"`
	Manifest  []core.ManifestEntry `json:"manifest"`
}

// approve 构建并提交批量 approve，成功后输出交给结算中继的清单
func approve(ctx context.Context, client ledger.Client, holder signer.Signer, delegate types.Pubkey,
	entries []allowance.GrantEntry, limits core.Limits, out io.Writer) error {
	detector := variant.NewDetector(client, nil)
	batch, err := allowance.NewGrantBuilder(detector, limits).BuildApprovalBatch(ctx, holder.PublicKey(), delegate, entries)
	if err != nil {
		return err
	}
	outcome := submit.NewEngine(client, submit.Option{}).Submit(ctx, batch.Plan, holder)
	batch.MarkSubmitted(outcome.OK())
	if !outcome.OK() {
		return outcome.Error()
	}
	return writeJSON(out, approveOutput{
		Signature: outcome.Signature,
		Outcome:   outcome.Kind.String(),
		Manifest:  batch.Manifest,
	})
}

type revokeOutput struct {
	Signature string   `json:"signature"`
	Outcome   string   `json:"outcome"`
	Accounts  []string `json:"accounts"`
}

func revoke(ctx context.Context, client ledger.Client, holder signer.Signer, accounts []types.Pubkey,
	limits core.Limits, out io.Writer) error {
	detector := variant.NewDetector(client, nil)
	batch, err := allowance.NewRevokeBuilder(detector, limits).BuildRevokeBatch(ctx, holder.PublicKey(), accounts)
	if err != nil {
		return err
	}
	outcome := submit.NewEngine(client, submit.Option{}).Submit(ctx, batch.Plan, holder)
	if !outcome.OK() {
		return outcome.Error()
	}
	res := revokeOutput{Signature: outcome.Signature, Outcome: outcome.Kind.String()}
	for _, ref := range batch.Accounts {
		res.Accounts = append(res.Accounts, ref.Address.String())
	}
	return writeJSON(out, res)
}

func writeJSON(out io.Writer, v any) error {
	data, err := jsonx.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

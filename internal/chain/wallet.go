package chain

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
)

const DefaultConfigURL = "https://ton.org/global.config.json"

// Wallet is the chain-facing side of the operator wallet.
type Wallet interface {
	Address() *address.Address
	Seqno(ctx context.Context) (uint64, error)
	State(ctx context.Context) (active bool, balance tlb.Coins, err error)
	Send(ctx context.Context, msg *wallet.Message) error
}

type tonWallet struct {
	api ton.APIClientWrapped
	w   *wallet.Wallet
}

// Connect opens a lite-server pool from the global network config.
func Connect(ctx context.Context, configURL string) (ton.APIClientWrapped, error) {
	if configURL == "" {
		configURL = DefaultConfigURL
	}
	pool := liteclient.NewConnectionPool()
	if err := pool.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
		return nil, fmt.Errorf("chain: connect lite servers: %w", err)
	}
	return ton.NewAPIClient(pool, ton.ProofCheckPolicyFast).WithRetry(), nil
}

// ParseVersion maps a configured wallet version name to its contract config.
func ParseVersion(name string) (wallet.VersionConfig, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "v4", "v4r2":
		return wallet.V4R2, nil
	case "v3", "v3r2":
		return wallet.V3R2, nil
	case "v5", "v5r1":
		return wallet.ConfigV5R1Final{NetworkGlobalID: wallet.MainnetGlobalID}, nil
	}
	return nil, fmt.Errorf("chain: unsupported wallet version %q", name)
}

// SplitMnemonic normalizes a seed phrase into words and checks its length.
func SplitMnemonic(mnemonic string) ([]string, error) {
	words := strings.Fields(strings.ToLower(mnemonic))
	if len(words) != 12 && len(words) != 24 {
		return nil, fmt.Errorf("chain: seed phrase must have 12 or 24 words, got %d", len(words))
	}
	return words, nil
}

// openWallet derives the wallet deterministically from the seed phrase.
// 24 words use the native derivation, 12 words are treated as BIP39.
func openWallet(api ton.APIClientWrapped, words []string, version wallet.VersionConfig) (*wallet.Wallet, error) {
	return wallet.FromSeed(api, words, version, len(words) == 12)
}

func (t *tonWallet) Address() *address.Address {
	return t.w.WalletAddress()
}

// Seqno reports 0 for a wallet that is not active on chain yet.
func (t *tonWallet) Seqno(ctx context.Context) (uint64, error) {
	block, err := t.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: masterchain info: %w", err)
	}
	acc, err := t.api.GetAccount(ctx, block, t.Address())
	if err != nil {
		return 0, fmt.Errorf("chain: get account: %w", err)
	}
	if !acc.IsActive {
		return 0, nil
	}
	res, err := t.api.RunGetMethod(ctx, block, t.Address(), "seqno")
	if err != nil {
		return 0, fmt.Errorf("chain: run seqno: %w", err)
	}
	seqno, err := res.Int(0)
	if err != nil {
		return 0, fmt.Errorf("chain: parse seqno: %w", err)
	}
	return seqno.Uint64(), nil
}

func (t *tonWallet) State(ctx context.Context) (bool, tlb.Coins, error) {
	block, err := t.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return false, tlb.ZeroCoins, fmt.Errorf("chain: masterchain info: %w", err)
	}
	acc, err := t.api.GetAccount(ctx, block, t.Address())
	if err != nil {
		return false, tlb.ZeroCoins, fmt.Errorf("chain: get account: %w", err)
	}
	if !acc.IsActive || acc.State == nil {
		return false, tlb.ZeroCoins, nil
	}
	return true, acc.State.Balance, nil
}

func (t *tonWallet) Send(ctx context.Context, msg *wallet.Message) error {
	return t.w.Send(ctx, msg, false)
}

func publicKey(w *wallet.Wallet) ed25519.PublicKey {
	return w.PrivateKey().Public().(ed25519.PublicKey)
}

// NewMnemonic generates a fresh 24-word seed phrase.
func NewMnemonic() string {
	return strings.Join(wallet.NewSeed(), " ")
}

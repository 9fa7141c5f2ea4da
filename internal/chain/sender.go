package chain

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
)

// MainnetChainID is the chain id the provider expects in account descriptors.
const MainnetChainID = "-239"

// ErrWalletNotDeployed means the wallet has never sent a transaction and
// likely needs funding before it can pay.
var ErrWalletNotDeployed = errors.New("chain: wallet not deployed yet, fund it first")

type Transfer struct {
	To         string
	AmountNano uint64
	Payload    string
}

type Receipt struct {
	Seqno  uint64
	Wallet string
}

// Account is the public descriptor of the operator wallet.
type Account struct {
	Address         string
	Chain           string
	PublicKey       string
	WalletStateInit string
}

type Info struct {
	Address string `json:"address"`
	Active  bool   `json:"active"`
	Balance string `json:"balance"`
	Seqno   uint64 `json:"seqno"`
}

// Sender signs and submits value transfers from the operator wallet.
type Sender struct {
	wallet  Wallet
	account Account
}

// NewSender derives the wallet from the seed phrase.
func NewSender(api ton.APIClientWrapped, mnemonic, version string) (*Sender, error) {
	words, err := SplitMnemonic(mnemonic)
	if err != nil {
		return nil, err
	}
	ver, err := ParseVersion(version)
	if err != nil {
		return nil, err
	}
	w, err := openWallet(api, words, ver)
	if err != nil {
		return nil, fmt.Errorf("chain: derive wallet: %w", err)
	}
	account, err := describe(w.WalletAddress(), publicKey(w), ver)
	if err != nil {
		return nil, err
	}
	log.Printf("chain: wallet %s ready", w.WalletAddress().String())
	return newSender(&tonWallet{api: api, w: w}, account), nil
}

func newSender(w Wallet, account Account) *Sender {
	return &Sender{wallet: w, account: account}
}

func describe(addr *address.Address, pub ed25519.PublicKey, ver wallet.VersionConfig) (Account, error) {
	stateInit, err := wallet.GetStateInit(pub, ver, wallet.DefaultSubwallet)
	if err != nil {
		return Account{}, fmt.Errorf("chain: build state init: %w", err)
	}
	c, err := tlb.ToCell(stateInit)
	if err != nil {
		return Account{}, fmt.Errorf("chain: serialize state init: %w", err)
	}
	return Account{
		Address:         addr.StringRaw(),
		Chain:           MainnetChainID,
		PublicKey:       hex.EncodeToString(pub),
		WalletStateInit: base64.StdEncoding.EncodeToString(c.ToBOC()),
	}, nil
}

// Account returns the descriptor presented to the provider. It never
// contains key material beyond the public key.
func (s *Sender) Account() Account {
	return s.account
}

func (s *Sender) Address() string {
	return s.wallet.Address().String()
}

// Transfer submits one transfer. It does not retry.
func (s *Sender) Transfer(ctx context.Context, t Transfer) (*Receipt, error) {
	body, err := NormalizePayload(t.Payload)
	if err != nil {
		return nil, err
	}
	if t.AmountNano == 0 {
		return nil, errors.New("chain: transfer amount must be positive")
	}
	to, err := address.ParseAddr(t.To)
	if err != nil {
		return nil, fmt.Errorf("chain: bad destination %q: %w", t.To, err)
	}

	seqno, err := s.wallet.Seqno(ctx)
	if err != nil {
		return nil, err
	}

	msg := &wallet.Message{
		Mode: wallet.PayGasSeparately,
		InternalMessage: &tlb.InternalMessage{
			IHRDisabled: true,
			Bounce:      false,
			DstAddr:     to,
			Amount:      tlb.FromNanoTONU(t.AmountNano),
			Body:        body,
		},
	}
	if err := s.wallet.Send(ctx, msg); err != nil {
		if seqno == 0 {
			return nil, fmt.Errorf("%w: %v", ErrWalletNotDeployed, err)
		}
		return nil, fmt.Errorf("chain: send transfer: %w", err)
	}

	log.Printf("chain: sent %d nano to %s (seqno %d)", t.AmountNano, t.To, seqno)
	return &Receipt{Seqno: seqno, Wallet: s.Address()}, nil
}

// Info reports the wallet's on-chain state.
func (s *Sender) Info(ctx context.Context) (*Info, error) {
	active, balance, err := s.wallet.State(ctx)
	if err != nil {
		return nil, err
	}
	info := &Info{Address: s.Address(), Active: active, Balance: balance.String()}
	if active {
		if info.Seqno, err = s.wallet.Seqno(ctx); err != nil {
			return nil, err
		}
	}
	return info, nil
}

package chain

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

type fakeWallet struct {
	addr    *address.Address
	seqno   uint64
	active  bool
	sendErr error
	sent    []*wallet.Message
}

func (f *fakeWallet) Address() *address.Address { return f.addr }

func (f *fakeWallet) Seqno(ctx context.Context) (uint64, error) { return f.seqno, nil }

func (f *fakeWallet) State(ctx context.Context) (bool, tlb.Coins, error) {
	if !f.active {
		return false, tlb.ZeroCoins, nil
	}
	return true, tlb.MustFromTON("1.5"), nil
}

func (f *fakeWallet) Send(ctx context.Context, msg *wallet.Message) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func testAddr(b byte) *address.Address {
	data := make([]byte, 32)
	data[31] = b
	return address.NewAddress(0, 0, data)
}

func TestTransfer_SendsPayloadAndAmount(t *testing.T) {
	fw := &fakeWallet{addr: testAddr(1), seqno: 7, active: true}
	s := newSender(fw, Account{})
	dest := testAddr(2)

	receipt, err := s.Transfer(context.Background(), Transfer{To: dest.String(), AmountNano: 5_000_000_000, Payload: "deadbeef"})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), receipt.Seqno)

	require.Len(t, fw.sent, 1)
	msg := fw.sent[0].InternalMessage
	assert.Equal(t, dest.String(), msg.DstAddr.String())
	assert.Equal(t, uint64(5_000_000_000), msg.Amount.Nano().Uint64())
	assert.False(t, msg.Bounce)
	data, err := msg.Body.BeginParse().LoadBinarySnake()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, data)
}

func TestTransfer_RequiresPayload(t *testing.T) {
	fw := &fakeWallet{addr: testAddr(1), seqno: 3, active: true}
	s := newSender(fw, Account{})

	_, err := s.Transfer(context.Background(), Transfer{To: testAddr(2).String(), AmountNano: 1})
	assert.ErrorIs(t, err, ErrPayloadRequired)
	assert.Empty(t, fw.sent, "nothing is submitted without a payload")
}

func TestTransfer_UndeployedWallet(t *testing.T) {
	fw := &fakeWallet{addr: testAddr(1), seqno: 0, sendErr: errors.New("external message rejected")}
	s := newSender(fw, Account{})

	_, err := s.Transfer(context.Background(), Transfer{To: testAddr(2).String(), AmountNano: 1, Payload: "x"})
	assert.ErrorIs(t, err, ErrWalletNotDeployed)

	fw.seqno = 4
	_, err = s.Transfer(context.Background(), Transfer{To: testAddr(2).String(), AmountNano: 1, Payload: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrWalletNotDeployed)
}

func TestTransfer_BadDestination(t *testing.T) {
	s := newSender(&fakeWallet{addr: testAddr(1)}, Account{})
	_, err := s.Transfer(context.Background(), Transfer{To: "not-an-address", AmountNano: 1, Payload: "x"})
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	addr, err := wallet.AddressFromPubKey(pub, wallet.V4R2, wallet.DefaultSubwallet)
	require.NoError(t, err)

	acc, err := describe(addr, pub, wallet.V4R2)
	require.NoError(t, err)

	assert.Equal(t, MainnetChainID, acc.Chain)
	assert.Equal(t, addr.StringRaw(), acc.Address)
	assert.Equal(t, hex.EncodeToString(pub), acc.PublicKey)
	boc, err := base64.StdEncoding.DecodeString(acc.WalletStateInit)
	require.NoError(t, err)
	_, err = cell.FromBOC(boc)
	assert.NoError(t, err)
}

const bip39Phrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestNewSender_DerivesFromSeedPhrase(t *testing.T) {
	phrases := map[string]string{
		"12 words": bip39Phrase,
		"24 words": NewMnemonic(),
	}
	for name, phrase := range phrases {
		t.Run(name, func(t *testing.T) {
			s, err := NewSender(nil, phrase, "v4r2")
			require.NoError(t, err)
			again, err := NewSender(nil, "  "+strings.ToUpper(phrase)+" ", "")
			require.NoError(t, err)
			assert.Equal(t, s.Account(), again.Account(), "derivation is deterministic")

			pub, err := hex.DecodeString(s.Account().PublicKey)
			require.NoError(t, err)
			addr, err := wallet.AddressFromPubKey(ed25519.PublicKey(pub), wallet.V4R2, wallet.DefaultSubwallet)
			require.NoError(t, err)
			assert.Equal(t, addr.StringRaw(), s.Account().Address)
		})
	}

	twelve, err := NewSender(nil, bip39Phrase, "v4r2")
	require.NoError(t, err)
	v3, err := NewSender(nil, bip39Phrase, "v3r2")
	require.NoError(t, err)
	assert.Equal(t, twelve.Account().PublicKey, v3.Account().PublicKey)
	assert.NotEqual(t, twelve.Account().Address, v3.Account().Address, "the contract version changes the address")
}

func TestNewSender_RejectsBadPhrase(t *testing.T) {
	_, err := NewSender(nil, "one two three", "v4r2")
	assert.Error(t, err)
	_, err = NewSender(nil, bip39Phrase, "v9")
	assert.Error(t, err)
}

func TestInfo(t *testing.T) {
	fw := &fakeWallet{addr: testAddr(1), seqno: 9, active: true}
	info, err := newSender(fw, Account{}).Info(context.Background())
	require.NoError(t, err)
	assert.True(t, info.Active)
	assert.Equal(t, tlb.MustFromTON("1.5").String(), info.Balance)
	assert.Equal(t, uint64(9), info.Seqno)
}

func TestSplitMnemonic(t *testing.T) {
	_, err := SplitMnemonic("one two three")
	assert.Error(t, err)

	words, err := SplitMnemonic("  A b c d e f g h i j k l ")
	require.NoError(t, err)
	assert.Len(t, words, 12)
	assert.Equal(t, "a", words[0])
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("")
	require.NoError(t, err)
	assert.Equal(t, wallet.V4R2, v)

	_, err = ParseVersion("v9")
	assert.Error(t, err)
}

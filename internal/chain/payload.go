package chain

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/xssnick/tonutils-go/tvm/cell"
)

// bocPrefix is how a base64-encoded bag of cells always starts.
const bocPrefix = "te6"

// ErrPayloadRequired means the provider supplied no payload; without one the
// transfer could not be matched to the pending request.
var ErrPayloadRequired = errors.New("chain: transfer payload is required")

// NormalizePayload turns a provider payload into a message body cell.
// A base64 bag of cells is decoded as is; an even-length hex string becomes
// raw bytes; anything else is stored as UTF-8 bytes.
func NormalizePayload(payload string) (*cell.Cell, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, ErrPayloadRequired
	}

	if strings.HasPrefix(payload, bocPrefix) {
		raw, err := decodeBase64(payload)
		if err != nil {
			return nil, fmt.Errorf("chain: decode payload: %w", err)
		}
		c, err := cell.FromBOC(raw)
		if err != nil {
			return nil, fmt.Errorf("chain: parse payload boc: %w", err)
		}
		return c, nil
	}

	data := []byte(payload)
	if isHex(payload) {
		b, err := hex.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("chain: decode hex payload: %w", err)
		}
		data = b
	}

	b := cell.BeginCell()
	if err := b.StoreBinarySnake(data); err != nil {
		return nil, fmt.Errorf("chain: store payload: %w", err)
	}
	return b.EndCell(), nil
}

func decodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("not valid base64")
}

func isHex(s string) bool {
	if len(s)%2 != 0 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

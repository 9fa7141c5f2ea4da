package gateway

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

const signatureField = "signature"

// Sign computes the gateway signature: the lowercase hex MD5 of every
// non-empty field except the signature, sorted by key and joined as
// key=value pairs with '&', followed by the shared token.
func Sign(fields map[string]string, token string) string {
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if k == signatureField || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	b.WriteString(token)

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Verify checks the signature field against the other fields.
func Verify(fields map[string]string, token string) bool {
	got := strings.ToLower(fields[signatureField])
	if got == "" {
		return false
	}
	want := Sign(fields, token)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

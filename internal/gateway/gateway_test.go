package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "secret-token"

func TestSign_OrderIndependent(t *testing.T) {
	a := map[string]string{}
	b := map[string]string{}
	keys := []string{"order_id", "amount", "status", "trade_id"}
	vals := []string{"ord-1", "12.50", "2", "T123"}
	for i := range keys {
		a[keys[i]] = vals[i]
	}
	for i := len(keys) - 1; i >= 0; i-- {
		b[keys[i]] = vals[i]
	}
	assert.Equal(t, Sign(a, testToken), Sign(b, testToken))
}

func TestSign_KnownVector(t *testing.T) {
	// md5("amount=1.00&order_id=x" + "k")
	got := Sign(map[string]string{"order_id": "x", "amount": "1.00", "empty": "", "signature": "ignored"}, "k")
	assert.Equal(t, "c1f95d6f52b487691af2031218a73fe0", got)
	assert.Equal(t, Sign(map[string]string{"order_id": "x", "amount": "1.00"}, "k"), got)
}

func TestSign_AnyFieldChangeChangesSignature(t *testing.T) {
	base := map[string]string{"order_id": "ord-1", "amount": "12.50", "status": "2"}
	sig := Sign(base, testToken)
	for k := range base {
		changed := map[string]string{}
		for kk, v := range base {
			changed[kk] = v
		}
		changed[k] = base[k] + "0"
		assert.NotEqual(t, sig, Sign(changed, testToken), k)
	}
	assert.NotEqual(t, sig, Sign(base, "other-token"))
}

func TestVerify(t *testing.T) {
	fields := map[string]string{"order_id": "ord-1", "status": "2"}
	fields["signature"] = Sign(fields, testToken)
	assert.True(t, Verify(fields, testToken))

	fields["status"] = "3"
	assert.False(t, Verify(fields, testToken))
	assert.False(t, Verify(map[string]string{"order_id": "ord-1"}, testToken))
}

func TestCreateTransaction(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, createPath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status_code":200,"message":"success","data":{
			"trade_id":"T1","order_id":"ord-1","amount":12.5,"actual_amount":12.61,
			"token":"TAddr","expiration_time":1767225600,"payment_url":"https://pay.example/T1"}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", Token: testToken, NotifyURL: "https://bot.example/gateway/notify", HTTPClient: srv.Client()})
	s, err := c.CreateTransaction(context.Background(), "ord-1", decimal.RequireFromString("12.5"))
	require.NoError(t, err)

	assert.Equal(t, "T1", s.TradeID)
	assert.Equal(t, "12.61", s.ActualAmount)
	assert.Equal(t, "https://pay.example/T1", s.PaymentURL)
	assert.Equal(t, int64(1767225600), s.ExpirationTime)

	assert.Equal(t, "ord-1", got["order_id"])
	assert.Equal(t, 12.5, got["amount"])
	_, hasRedirect := got["redirect_url"]
	assert.False(t, hasRedirect)
	want := Sign(map[string]string{
		"order_id":   "ord-1",
		"amount":     "12.50",
		"notify_url": "https://bot.example/gateway/notify",
	}, testToken)
	assert.Equal(t, want, got["signature"])
}

func TestCreateTransaction_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status_code":400,"message":"amount too small"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: testToken, NotifyURL: "https://bot.example/n", HTTPClient: srv.Client()})
	_, err := c.CreateTransaction(context.Background(), "ord-1", decimal.NewFromInt(1))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Code)
	assert.Contains(t, apiErr.Error(), "amount too small")

	assert.False(t, New(Config{BaseURL: srv.URL}).Enabled())
}

type fakeProcessor struct {
	got []Notification
	err error
}

func (f *fakeProcessor) ProcessNotification(ctx context.Context, n Notification) error {
	f.got = append(f.got, n)
	return f.err
}

func signedBody(t *testing.T, fields map[string]interface{}) string {
	t.Helper()
	flat := map[string]string{}
	for k, v := range fields {
		b, _ := json.Marshal(v)
		flat[k] = strings.Trim(string(b), `"`)
	}
	fields["signature"] = Sign(flat, testToken)
	b, err := json.Marshal(fields)
	require.NoError(t, err)
	return string(b)
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/gateway/notify", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestWebhook_Paid(t *testing.T) {
	p := &fakeProcessor{}
	body := signedBody(t, map[string]interface{}{
		"trade_id": "T1", "order_id": "ord-1", "amount": 12.5, "actual_amount": 12.61, "status": 2,
	})

	w := post(NewWebhook(testToken, p), body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	require.Len(t, p.got, 1)
	assert.Equal(t, StatusPaid, p.got[0].Status)
	assert.Equal(t, "ord-1", p.got[0].OrderID)
	assert.Equal(t, "12.61", p.got[0].ActualAmount)
}

func TestWebhook_BadSignature(t *testing.T) {
	p := &fakeProcessor{}
	w := post(NewWebhook(testToken, p), `{"order_id":"ord-1","status":2,"signature":"00ff"}`)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid signature")
	assert.Empty(t, p.got, "no state change on a bad signature")
}

func TestWebhook_UnknownOrderIsAcknowledged(t *testing.T) {
	p := &fakeProcessor{err: ErrUnknownOrder}
	w := post(NewWebhook(testToken, p), signedBody(t, map[string]interface{}{"order_id": "gone", "status": 2}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestWebhook_InternalFailure(t *testing.T) {
	p := &fakeProcessor{err: errors.New("boom")}
	w := post(NewWebhook(testToken, p), signedBody(t, map[string]interface{}{"order_id": "ord-1", "status": 2}))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

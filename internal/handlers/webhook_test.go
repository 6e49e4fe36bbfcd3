package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btall/core-africare-identity-sub001/internal/stream"
	"github.com/btall/core-africare-identity-sub001/internal/verifier"
)

const testSecret = "whsec_test"

func setupWebhook(t *testing.T, allowed []string) (*stream.Log, *WebhookHandler) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := stream.New(client, stream.Options{
		ClaimIdleTimeout: 20 * time.Millisecond,
		BaseBackoff:      time.Millisecond,
		BlockInterval:    10 * time.Millisecond,
	})
	require.NoError(t, log.EnsureGroup(context.Background()))

	v := verifier.New(verifier.Config{
		Secret:           testSecret,
		AllowedClientIDs: allowed,
	})

	return log, NewWebhookHandler(v, log, nil)
}

func signedRequest(t *testing.T, body string, ts int64) *http.Request {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/identity", bytes.NewBufferString(body))
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Signature", verifier.Sign(testSecret, ts, []byte(body)))
	return req
}

func registerBody(clientID, userID string) string {
	return fmt.Sprintf(`{"type":"register","client_id":%q,"data":{"user_id":%q,"email":"a@b.org","full_name":"Awa Diop"}}`, clientID, userID)
}

func TestHandleEvent_AcceptsValidDelivery(t *testing.T) {
	log, h := setupWebhook(t, nil)

	rec := httptest.NewRecorder()
	h.HandleEvent(rec, signedRequest(t, registerBody("patient-portal", "usr-1"), time.Now().Unix()))

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["entry_id"])

	n, err := log.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestHandleEvent_BadSignature(t *testing.T) {
	log, h := setupWebhook(t, nil)

	body := registerBody("patient-portal", "usr-1")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/identity", bytes.NewBufferString(body))
	req.Header.Set("X-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("X-Signature", verifier.Sign("wrong-secret", time.Now().Unix(), []byte(body)))

	rec := httptest.NewRecorder()
	h.HandleEvent(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	n, err := log.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestHandleEvent_MissingTimestampHeader(t *testing.T) {
	_, h := setupWebhook(t, nil)

	body := registerBody("patient-portal", "usr-1")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/identity", bytes.NewBufferString(body))
	req.Header.Set("X-Signature", verifier.Sign(testSecret, 0, []byte(body)))

	rec := httptest.NewRecorder()
	h.HandleEvent(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleEvent_StaleTimestamp(t *testing.T) {
	_, h := setupWebhook(t, nil)

	stale := time.Now().Add(-40 * 24 * time.Hour).Unix()
	rec := httptest.NewRecorder()
	h.HandleEvent(rec, signedRequest(t, registerBody("patient-portal", "usr-1"), stale))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleEvent_SchemaViolation(t *testing.T) {
	_, h := setupWebhook(t, nil)

	// register without the required email
	body := `{"type":"register","client_id":"patient-portal","data":{"user_id":"usr-1"}}`
	rec := httptest.NewRecorder()
	h.HandleEvent(rec, signedRequest(t, body, time.Now().Unix()))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEvent_FilteredClient(t *testing.T) {
	log, h := setupWebhook(t, []string{"patient-portal"})

	rec := httptest.NewRecorder()
	h.HandleEvent(rec, signedRequest(t, registerBody("unknown-app", "usr-1"), time.Now().Unix()))

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "filtered", resp["status"])

	// Nothing appended.
	n, err := log.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestHandleEvent_DeleteBypassesFilter(t *testing.T) {
	log, h := setupWebhook(t, []string{"patient-portal"})

	body := `{"type":"delete","client_id":"unknown-app","data":{"user_id":"usr-1"}}`
	rec := httptest.NewRecorder()
	h.HandleEvent(rec, signedRequest(t, body, time.Now().Unix()))

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["entry_id"])

	n, err := log.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestHandleEvent_MethodNotAllowed(t *testing.T) {
	_, h := setupWebhook(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/identity", nil)
	rec := httptest.NewRecorder()
	h.HandleEvent(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

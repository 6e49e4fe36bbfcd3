package verifier

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btall/core-africare-identity-sub001/pkg/lifecycle"
)

const testSecret = "shh-integration-secret"

func newTestVerifier(t *testing.T, allowed ...string) (*Verifier, time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	v := New(Config{
		Secret:           testSecret,
		MaxPastWindow:    30 * 24 * time.Hour,
		MaxFutureSkew:    time.Hour,
		AllowedClientIDs: allowed,
	}).WithClock(func() time.Time { return now })
	return v, now
}

func signedRaw(body string, ts int64) RawEvent {
	return RawEvent{
		Body:      []byte(body),
		Signature: Sign(testSecret, ts, []byte(body)),
		Timestamp: ts,
	}
}

func TestVerify_ValidEvent(t *testing.T) {
	v, now := newTestVerifier(t, "patient-portal")

	body := `{"type":"register","client_id":"patient-portal","data":{"user_id":"u-1","email":"amina@example.org","full_name":"Amina Diallo"}}`
	evt, err := v.Verify(signedRaw(body, now.Unix()))
	require.NoError(t, err)

	assert.Equal(t, lifecycle.EventRegister, evt.Type)
	assert.Equal(t, "patient-portal", evt.ClientID)
	assert.Equal(t, now.Unix(), evt.OccurredAt.Unix())
	assert.Equal(t, "u-1", evt.UserID())
}

func TestVerify_SignatureInvalid(t *testing.T) {
	v, now := newTestVerifier(t)

	body := `{"type":"register","client_id":"patient-portal","data":{"user_id":"u-1","email":"a@b.c","full_name":"A B"}}`
	raw := signedRaw(body, now.Unix())
	raw.Signature = Sign("wrong-secret", now.Unix(), []byte(body))

	_, err := v.Verify(raw)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerify_SignatureNotHex(t *testing.T) {
	v, now := newTestVerifier(t)

	raw := signedRaw(`{"type":"delete","data":{"user_id":"u-1"}}`, now.Unix())
	raw.Signature = "zzzz-not-hex"

	_, err := v.Verify(raw)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerify_TamperedBody(t *testing.T) {
	v, now := newTestVerifier(t)

	body := `{"type":"delete","client_id":"x","data":{"user_id":"u-1"}}`
	raw := signedRaw(body, now.Unix())
	raw.Body = []byte(`{"type":"delete","client_id":"x","data":{"user_id":"u-2"}}`)

	_, err := v.Verify(raw)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerify_TimestampWindow(t *testing.T) {
	v, now := newTestVerifier(t)
	body := `{"type":"delete","client_id":"x","data":{"user_id":"u-1"}}`

	tests := []struct {
		name    string
		ts      int64
		wantErr error
	}{
		{
			name: "just inside past window",
			ts:   now.Add(-29 * 24 * time.Hour).Unix(),
		},
		{
			name:    "40 days in the past",
			ts:      now.Add(-40 * 24 * time.Hour).Unix(),
			wantErr: ErrTimestampOutOfWindow,
		},
		{
			name: "30 minutes in the future",
			ts:   now.Add(30 * time.Minute).Unix(),
		},
		{
			name:    "2 hours in the future",
			ts:      now.Add(2 * time.Hour).Unix(),
			wantErr: ErrTimestampOutOfWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(signedRaw(body, tt.ts))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerify_SchemaInvalid(t *testing.T) {
	v, now := newTestVerifier(t)

	tests := []struct {
		name string
		body string
	}{
		{
			name: "not json",
			body: `not-json`,
		},
		{
			name: "unknown event type",
			body: `{"type":"promote","client_id":"x","data":{"user_id":"u-1"}}`,
		},
		{
			name: "register missing required fields",
			body: `{"type":"register","client_id":"x","data":{"user_id":"u-1"}}`,
		},
		{
			name: "merge missing target",
			body: `{"type":"merge","client_id":"x","data":{"user_id":"u-1"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(signedRaw(tt.body, now.Unix()))
			assert.ErrorIs(t, err, ErrSchemaInvalid)
		})
	}
}

func TestVerify_AllowListFiltering(t *testing.T) {
	v, now := newTestVerifier(t, "patient-portal")

	body := `{"type":"update","client_id":"admin-console","data":{"user_id":"u-1","email":"new@example.org"}}`
	_, err := v.Verify(signedRaw(body, now.Unix()))
	assert.ErrorIs(t, err, ErrFiltered)
}

func TestVerify_DeleteBypassesAllowList(t *testing.T) {
	v, now := newTestVerifier(t, "patient-portal")

	// admin-console is not allow-listed, but deletion events always pass.
	body := `{"type":"delete","client_id":"admin-console","data":{"user_id":"u-1"}}`
	evt, err := v.Verify(signedRaw(body, now.Unix()))
	require.NoError(t, err)
	assert.Equal(t, lifecycle.EventDelete, evt.Type)
	assert.Equal(t, "admin-console", evt.ClientID)
}

func TestVerify_EmptyAllowListAcceptsAll(t *testing.T) {
	v, now := newTestVerifier(t)

	body := `{"type":"update","client_id":"anything","data":{"user_id":"u-1","phone":"+221770000000"}}`
	_, err := v.Verify(signedRaw(body, now.Unix()))
	assert.NoError(t, err)
}

func TestVerify_CheckOrder(t *testing.T) {
	// A bad signature must be reported before schema problems are looked at.
	v, now := newTestVerifier(t)

	raw := RawEvent{
		Body:      []byte(`garbage`),
		Signature: "deadbeef",
		Timestamp: now.Unix(),
	}
	_, err := v.Verify(raw)
	assert.True(t, errors.Is(err, ErrSignatureInvalid))
}

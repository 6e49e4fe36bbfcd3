package adminclient

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListQuarantine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/quarantine", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"entries":[{"entry_id":"1700000000000-0","event_type":"update","reason":"max attempts exceeded"}],"count":1}`))
	}))
	defer srv.Close()

	resp, err := New(srv.URL).ListQuarantine(5)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "1700000000000-0", resp.Entries[0].EntryID)
}

func TestReprocess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/admin/quarantine/1700000000000-0/reprocess", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"entry_id":"1700000000000-0","new_entry_id":"1700000000099-0"}`))
	}))
	defer srv.Close()

	resp, err := New(srv.URL).Reprocess("1700000000000-0")
	require.NoError(t, err)
	assert.Equal(t, "1700000000099-0", resp.NewEntryID)
}

func TestReprocess_NotFoundSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no quarantined entry with that id"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Reprocess("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no quarantined entry")
}

func TestGetStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/stats", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"stream_length":12,"pending_count":3,"quarantine_length":1}`))
	}))
	defer srv.Close()

	stats, err := New(srv.URL).GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.StreamLength)
	assert.Equal(t, int64(3), stats.PendingCount)
	assert.Equal(t, int64(1), stats.QuarantineLength)
}

package provider_test

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"net/http/httptest"
	"regexp"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tartampluch/go-untis-sync/internal/config"
	"github.com/tartampluch/go-untis-sync/internal/engine"
	"github.com/tartampluch/go-untis-sync/internal/provider"
)

// fakeGoogle emulates the token endpoint and the subset of the Calendar API the provider uses.
type fakeGoogle struct {
	mu       sync.Mutex
	events   map[string]map[string]any
	requests []string
	pages    int
}

func newFakeGoogle() *fakeGoogle {
	return &fakeGoogle{events: map[string]map[string]any{}}
}

func (f *fakeGoogle) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("refresh_token") != "good-refresh" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
			return
		}
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-1","expires_in":3599,"token_type":"Bearer"}`))
	})

	authorized := func(w http.ResponseWriter, r *http.Request) bool {
		f.mu.Lock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		f.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer access-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		return true
	}

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("GET /calendars/{cal}/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		f.mu.Lock()
		ev, ok := f.events[r.PathValue("id")]
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"code": 404, "message": "Not Found"}})
			return
		}
		writeJSON(w, http.StatusOK, ev)
	})

	mux.HandleFunc("POST /calendars/{cal}/events", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		var ev map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		id, _ := ev["id"].(string)
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, exists := f.events[id]; exists {
			writeJSON(w, http.StatusConflict, map[string]any{"error": map[string]any{"code": 409, "message": "The requested identifier already exists."}})
			return
		}
		f.events[id] = ev
		writeJSON(w, http.StatusOK, ev)
	})

	mux.HandleFunc("PUT /calendars/{cal}/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		var ev map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		ev["id"] = r.PathValue("id")
		f.mu.Lock()
		f.events[r.PathValue("id")] = ev
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, ev)
	})

	mux.HandleFunc("DELETE /calendars/{cal}/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.events[r.PathValue("id")]; !ok {
			w.WriteHeader(http.StatusGone)
			return
		}
		delete(f.events, r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /calendars/{cal}/events", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		assert.Equal(t, "untisSync=1", r.URL.Query().Get("privateExtendedProperty"))
		assert.NotEmpty(t, r.URL.Query().Get("timeMin"))

		f.mu.Lock()
		ids := slices.Sorted(maps.Keys(f.events))
		items := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			items = append(items, f.events[id])
		}
		f.pages++
		f.mu.Unlock()

		// Serve one event per page to exercise pagination.
		page := 0
		if tok := r.URL.Query().Get("pageToken"); tok != "" {
			page = len(tok)
		}
		resp := map[string]any{"items": []map[string]any{}}
		if page < len(items) {
			resp["items"] = items[page : page+1]
			if page+1 < len(items) {
				resp["nextPageToken"] = strings.Repeat("p", page+1)
			}
		}
		writeJSON(w, http.StatusOK, resp)
	})

	return mux
}

func newGoogle(t *testing.T, fake *fakeGoogle) *provider.GoogleProvider {
	t.Helper()
	ts := httptest.NewServer(fake.handler(t))
	t.Cleanup(ts.Close)
	return provider.NewGoogleProvider(config.GoogleSettings{
		ClientID:     "client",
		ClientSecret: "shh",
		CalendarID:   "primary",
		RefreshToken: "good-refresh",
		TokenURL:     ts.URL + "/token",
		APIURL:       ts.URL,
	})
}

func TestRemoteID(t *testing.T) {
	id := provider.RemoteID("block-101-20250310")
	assert.Equal(t, id, provider.RemoteID("block-101-20250310"), "deterministic")
	assert.NotEqual(t, id, provider.RemoteID("block-102-20250310"))
	assert.Regexp(t, regexp.MustCompile(`^[a-v0-9]{5,1024}$`), id)
	assert.Regexp(t, regexp.MustCompile(`^[a-v0-9]{5,1024}$`), provider.RemoteID("a"))
}

func TestGoogleProvider_Authenticate(t *testing.T) {
	fake := newFakeGoogle()
	p := newGoogle(t, fake)
	require.NoError(t, p.Authenticate(context.Background()))

	ts := httptest.NewServer(fake.handler(t))
	defer ts.Close()
	bad := provider.NewGoogleProvider(config.GoogleSettings{
		ClientID:     "client",
		RefreshToken: "revoked",
		CalendarID:   "primary",
		TokenURL:     ts.URL + "/token",
		APIURL:       ts.URL,
	})
	err := bad.Authenticate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.ErrTokenRefresh)
	assert.Contains(t, err.Error(), "invalid_grant")

	missing := provider.NewGoogleProvider(config.GoogleSettings{CalendarID: "primary"})
	assert.EqualError(t, missing.Authenticate(context.Background()), config.ErrGoogleIncomplete)
}

func TestGoogleProvider_UpsertLifecycle(t *testing.T) {
	ctx := context.Background()
	fake := newFakeGoogle()
	p := newGoogle(t, fake)
	require.NoError(t, p.Authenticate(ctx))

	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	ev := engine.CalendarEvent{
		ID:          "block-101-20250310",
		Title:       "Math",
		Description: "Teachers: MUE\nRooms: A1",
		Location:    "A1",
		Start:       start,
		End:         start.Add(45 * time.Minute),
	}
	window := engine.Window{From: ev.Start, To: ev.End}

	found, err := p.FindExisting(ctx, window, ev.ID)
	require.NoError(t, err)
	assert.Nil(t, found)

	created, err := p.Create(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, provider.RemoteID(ev.ID), created.RemoteID)
	assert.Equal(t, ev.ID, created.SyncID)

	stored := fake.events[created.RemoteID]
	props := stored["extendedProperties"].(map[string]any)["private"].(map[string]any)
	assert.Equal(t, ev.ID, props["untisSyncId"])
	assert.Equal(t, "1", props["untisSync"])

	found, err = p.FindExisting(ctx, window, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.RemoteID, found.RemoteID)
	assert.True(t, start.Equal(found.Start))

	ev.Title = "Physics"
	updated, err := p.Update(ctx, found.RemoteID, ev)
	require.NoError(t, err)
	assert.Equal(t, "Physics", updated.Title)

	// Creating the same id twice is rejected by the API.
	_, err = p.Create(ctx, ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")

	require.NoError(t, p.Delete(ctx, created.RemoteID))
	require.NoError(t, p.Delete(ctx, created.RemoteID), "already deleted counts as success")
}

func TestGoogleProvider_ListManagedPages(t *testing.T) {
	ctx := context.Background()
	fake := newFakeGoogle()
	p := newGoogle(t, fake)
	require.NoError(t, p.Authenticate(ctx))

	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b", "c"} {
		_, err := p.Create(ctx, engine.CalendarEvent{ID: id, Title: id, Start: start, End: start.Add(time.Hour)})
		require.NoError(t, err)
	}

	list, err := p.ListManaged(ctx, engine.Window{From: start, To: start.Add(24 * time.Hour)})
	require.NoError(t, err)

	ids := make([]string, 0, len(list))
	for _, r := range list {
		ids = append(ids, r.SyncID)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, 3, fake.pages)
}

func TestGoogleProvider_Unauthorized(t *testing.T) {
	p := newGoogle(t, newFakeGoogle())

	// No Authenticate call: the API rejects the request.
	_, err := p.FindExisting(context.Background(), engine.Window{}, "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.ErrGoogleRequest)
	assert.Contains(t, err.Error(), "401")
}

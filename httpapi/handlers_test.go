package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/hindsight/hlc"
	"github.com/tomyedwab/hindsight/store"
)

func setupServer(t *testing.T, opts ...Option) (*Server, *http.ServeMux) {
	t.Helper()
	st := store.New(store.NewMemoryStore(), nil)
	t.Cleanup(func() { st.Dispose() })

	clock := hlc.NewGeneratorWithClock("server", func() time.Time {
		return time.UnixMilli(1000)
	})
	srv := NewServer(st, clock, opts...)
	mux := http.NewServeMux()
	srv.Register(mux)
	return srv, mux
}

func publish(t *testing.T, mux *http.ServeMux, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/publish", strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestStatusEndpoint(t *testing.T) {
	_, mux := setupServer(t)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/api/status", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestPublishStampsMissingID(t *testing.T) {
	_, mux := setupServer(t)

	w := publish(t, mux, `{"type":"Increment","data":{"amount":1}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, "1000:0:server", resp["id"])
}

func TestPublishKeepsClientID(t *testing.T) {
	_, mux := setupServer(t)

	w := publish(t, mux, `{"id":"42:7:client","type":"Increment","data":{"amount":1}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "42:7:client", resp["id"])
}

func TestPublishRejectsMissingType(t *testing.T) {
	_, mux := setupServer(t)
	w := publish(t, mux, `{"data":{"amount":1}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublishRejectsNonPost(t *testing.T) {
	_, mux := setupServer(t)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/api/publish", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestEventsSnapshot(t *testing.T) {
	_, mux := setupServer(t)

	publish(t, mux, `{"id":"100:0:a","type":"Increment","data":{}}`)
	publish(t, mux, `{"id":"200:0:a","type":"Decrement","data":{}}`)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/api/events", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Events []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "100:0:a", resp.Events[0].ID)
	assert.Equal(t, "200:0:a", resp.Events[1].ID)
}

func TestEventLookup(t *testing.T) {
	_, mux := setupServer(t)
	publish(t, mux, `{"id":"100:0:a","type":"Increment","data":{"amount":3}}`)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/api/event?id=100:0:a", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Increment", resp.Type)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/api/event?id=999:0:a", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/api/event?id=garbage", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPollReturnsImmediatelyFromSnapshot(t *testing.T) {
	_, mux := setupServer(t)
	publish(t, mux, `{"id":"100:0:a","type":"Increment","data":{}}`)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/api/poll?after=50:0:a", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "100:0:a", resp["id"])
}

func TestPollTimesOut(t *testing.T) {
	_, mux := setupServer(t, WithPollTimeout(50*time.Millisecond))
	publish(t, mux, `{"id":"100:0:a","type":"Increment","data":{}}`)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/api/poll?after=100:0:a", nil))
	assert.Equal(t, http.StatusNotModified, w.Code)
}

func TestPollWakesOnNewEvent(t *testing.T) {
	_, mux := setupServer(t, WithPollTimeout(5*time.Second))
	publish(t, mux, `{"id":"100:0:a","type":"Increment","data":{}}`)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest("GET", "/api/poll?after=100:0:a", nil))
		done <- w
	}()

	// Give the poller time to subscribe, then publish the event it waits on.
	time.Sleep(50 * time.Millisecond)
	publish(t, mux, `{"id":"200:0:a","type":"Increment","data":{}}`)

	select {
	case w := <-done:
		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "200:0:a", resp["id"])
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not wake on the new event")
	}
}

func TestAuthRequiredWhenSecretConfigured(t *testing.T) {
	secret := []byte("test-secret")
	_, mux := setupServer(t, WithAuthSecret(secret))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/api/events", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tester",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/events", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThomasHoins/Intunewin/pkg/models"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestClient(url string) *Client {
	return NewClient(url,
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "t"}),
		WithBackoff(func() retry.Backoff { return retry.WithMaxRetries(2, retry.NewConstant(time.Millisecond)) }),
	)
}

func TestClient_RetriesThrottling(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		assert.NotEmpty(t, r.Header.Get("client-request-id"))
		assert.Equal(t, "intunewin/test", r.Header.Get("User-Agent"))
		w.Write([]byte(`{"id":"app-1","displayName":"X"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	WithUserAgent("intunewin/test")(c)
	app, err := c.GetApp(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, "app-1", app.ID)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"ResourceNotFound","message":"app missing"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetApp(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHTTPStatus))
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
	assert.Contains(t, err.Error(), "ResourceNotFound: app missing")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetApp(context.Background(), "a")
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
}

func TestClient_TokenFailure(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", failingTokens{})
	_, err := c.GetApp(context.Background(), "a")
	assert.True(t, errors.Is(err, ErrAuthFailed))
}

type failingTokens struct{}

func (failingTokens) Token() (*oauth2.Token, error) { return nil, errors.New("invalid_client") }

func TestFindAppByDisplayName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "displayName eq 'Bob''s Tool'", r.URL.Query().Get("$filter"))
		w.Write([]byte(`{"value":[
			{"@odata.type":"#microsoft.graph.windowsMobileMSI","id":"m1","displayName":"Bob's Tool"},
			{"@odata.type":"#microsoft.graph.win32LobApp","id":"w1","displayName":"Bob's Tool"}
		]}`))
	}))
	defer srv.Close()

	app, err := newTestClient(srv.URL).FindAppByDisplayName(context.Background(), "Bob's Tool")
	require.NoError(t, err)
	require.NotNil(t, app)
	assert.Equal(t, "w1", app.ID)
}

func TestFindAppByDisplayName_None(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":[]}`))
	}))
	defer srv.Close()

	app, err := newTestClient(srv.URL).FindAppByDisplayName(context.Background(), "X")
	require.NoError(t, err)
	assert.Nil(t, app)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "https://acct.blob.core.windows.net/c/b", redact("https://acct.blob.core.windows.net/c/b?sig=secret"))
}

// appStore persists every app POST, then answers the first failStores of
// them with 502 as a gateway that lost the response would.
type appStore struct {
	mu         sync.Mutex
	apps       []map[string]interface{}
	failStores int
	lookups    int
}

func (s *appStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodPost:
		var app map[string]interface{}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &app)
		app["id"] = fmt.Sprintf("app-%d", len(s.apps)+1)
		s.apps = append(s.apps, app)
		if s.failStores > 0 {
			s.failStores--
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(app)
	case http.MethodGet:
		s.lookups++
		json.NewEncoder(w).Encode(map[string]interface{}{"value": s.apps})
	}
}

func createTestDescriptor() *models.AppDescriptor {
	return &models.AppDescriptor{
		DisplayName:          "Notepad++",
		InstallCommandLine:   "install.bat",
		UninstallCommandLine: "uninstall.bat",
	}
}

func TestCreateApp_LostResponseDoesNotDuplicate(t *testing.T) {
	store := &appStore{failStores: 1}
	srv := httptest.NewServer(store)
	defer srv.Close()

	app, err := newTestClient(srv.URL).CreateApp(context.Background(), createTestDescriptor())
	require.NoError(t, err)
	assert.Len(t, store.apps, 1, "one app record per CreateApp call")
	assert.Equal(t, "app-1", app.ID)
	assert.Equal(t, 1, store.lookups)
}

func TestCreateApp_PostsAgainWhenNothingStored(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`{"value":[]}`))
			return
		}
		if atomic.AddInt32(&posts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"@odata.type":"#microsoft.graph.win32LobApp","id":"app-9","displayName":"Notepad++"}`))
	}))
	defer srv.Close()

	app, err := newTestClient(srv.URL).CreateApp(context.Background(), createTestDescriptor())
	require.NoError(t, err)
	assert.Equal(t, "app-9", app.ID)
	assert.EqualValues(t, 2, atomic.LoadInt32(&posts))
}

func TestCreateContentVersion_ServerErrorNotResent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).CreateContentVersion(context.Background(), "app-1")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, StatusCode(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCreateFile_RetriesThrottling(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"file-1","uploadState":"azureStorageUriRequestPending"}`))
	}))
	defer srv.Close()

	f, err := newTestClient(srv.URL).CreateFile(context.Background(), "app-1", "1", "install.intunewin", 10, 48)
	require.NoError(t, err)
	assert.Equal(t, "file-1", f.ID)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

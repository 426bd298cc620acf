package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
)

// fakeGraph emulates the Intune app and content endpoints plus one blob.
type fakeGraph struct {
	t   *testing.T
	srv *httptest.Server

	mu          sync.Mutex
	apps        map[string]map[string]interface{}
	nextApp     int
	creates     int
	patches     []map[string]interface{}
	fileState   string
	pendingLeft int
	pendingEach int
	failState   string // returned instead of commitFileSuccess when set
	fileGets    int
	commitBody  []byte
	renewals    int
	blob        []byte
	blocks      map[string][]byte
	blockList   []byte
	blobURIs    []string
	failPatch   bool
	// status for file entry requests rejected as already committed
	rejectFile  int
	authHeaders []string
}

func newFakeGraph(t *testing.T) *fakeGraph {
	f := &fakeGraph{t: t, apps: map[string]map[string]interface{}{}, blocks: map[string][]byte{}, pendingEach: 2}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGraph) client() *Client {
	return NewClient(f.srv.URL+"/beta",
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}),
		WithBackoff(func() retry.Backoff { return retry.WithMaxRetries(3, retry.NewConstant(time.Millisecond)) }),
	)
}

func (f *fakeGraph) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (f *fakeGraph) fileJSON() map[string]interface{} {
	return map[string]interface{}{
		"id":              "file-1",
		"uploadState":     f.fileState,
		"azureStorageUri": fmt.Sprintf("%s/blob/payload?sv=2020&sig=s%d", f.srv.URL, f.renewals),
	}
}

// advance moves a pending stage forward after pendingEach polls.
func (f *fakeGraph) advance() {
	if !strings.HasSuffix(f.fileState, "Pending") {
		return
	}
	if f.pendingLeft > 0 {
		f.pendingLeft--
		return
	}
	stage := strings.TrimSuffix(f.fileState, "Pending")
	if stage == StageCommitFile && f.failState != "" {
		f.fileState = f.failState
		return
	}
	f.fileState = stage + "Success"
}

func (f *fakeGraph) enter(state string) {
	f.fileState = state
	f.pendingLeft = f.pendingEach
}

func (f *fakeGraph) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	path := r.URL.Path

	if strings.HasPrefix(path, "/blob/") {
		f.blobURIs = append(f.blobURIs, r.URL.RawQuery)
		switch r.URL.Query().Get("comp") {
		case "block":
			f.blocks[r.URL.Query().Get("blockid")] = body
		case "blocklist":
			f.blockList = body
		default:
			if r.Header.Get("x-ms-blob-type") != "BlockBlob" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.blob = body
		}
		w.WriteHeader(http.StatusCreated)
		return
	}

	f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
	path = strings.TrimPrefix(path, "/beta/deviceAppManagement/mobileApps")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case path == "" && r.Method == http.MethodGet:
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Query().Get("$filter"), "displayName eq '"), "'")
		name = strings.ReplaceAll(name, "''", "'")
		var value []interface{}
		for _, app := range f.apps {
			if app["displayName"] == name {
				value = append(value, app)
			}
		}
		f.writeJSON(w, 200, map[string]interface{}{"value": value})

	case path == "" && r.Method == http.MethodPost:
		var app map[string]interface{}
		json.Unmarshal(body, &app)
		f.nextApp++
		f.creates++
		id := fmt.Sprintf("app-%d", f.nextApp)
		app["id"] = id
		app["committedContentVersion"] = ""
		f.apps[id] = app
		f.writeJSON(w, 201, app)

	case len(parts) == 1 && r.Method == http.MethodGet:
		app, ok := f.apps[parts[0]]
		if !ok {
			f.writeJSON(w, 404, map[string]interface{}{"error": map[string]string{"code": "NotFound", "message": "no app"}})
			return
		}
		f.writeJSON(w, 200, app)

	case len(parts) == 1 && r.Method == http.MethodPatch:
		var patch map[string]interface{}
		json.Unmarshal(body, &patch)
		f.patches = append(f.patches, patch)
		if f.failPatch && patch["displayVersion"] != nil {
			f.writeJSON(w, 400, map[string]interface{}{"error": map[string]string{"code": "BadRequest", "message": "nope"}})
			return
		}
		for k, v := range patch {
			f.apps[parts[0]][k] = v
		}
		w.WriteHeader(http.StatusNoContent)

	case strings.HasSuffix(path, "/contentVersions") && r.Method == http.MethodPost:
		f.writeJSON(w, 201, map[string]string{"id": "1"})

	case strings.HasSuffix(path, "/files") && r.Method == http.MethodPost:
		if f.rejectFile != 0 {
			f.writeJSON(w, f.rejectFile, map[string]interface{}{"error": map[string]string{
				"code":    "BadRequest",
				"message": "The content version has already been committed.",
			}})
			return
		}
		f.enter(StageAzureStorageURIRequest + "Pending")
		f.writeJSON(w, 201, f.fileJSON())

	case strings.HasSuffix(path, "/files/file-1") && r.Method == http.MethodGet:
		f.fileGets++
		resp := f.fileJSON()
		f.advance()
		f.writeJSON(w, 200, resp)

	case strings.HasSuffix(path, "/renewUpload") && r.Method == http.MethodPost:
		f.renewals++
		f.enter(StageAzureStorageURIRenewal + "Pending")
		w.WriteHeader(http.StatusNoContent)

	case strings.HasSuffix(path, "/commit") && r.Method == http.MethodPost:
		f.commitBody = body
		f.enter(StageCommitFile + "Pending")
		w.WriteHeader(http.StatusOK)

	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL)
		w.WriteHeader(http.StatusNotImplemented)
	}
}

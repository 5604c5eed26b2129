package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/petal-labs/monkeyml/bus"
	mlotel "github.com/petal-labs/monkeyml/otel"
	"github.com/petal-labs/monkeyml/session"
)

// writeRoot creates a served directory containing files.
func writeRoot(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return root
}

// testServer creates a Server over root with an in-memory event store.
func testServer(t *testing.T, root string) (*Server, *bus.MemEventStore) {
	t.Helper()
	store := bus.NewMemEventStore()
	srv := NewServer(ServerConfig{
		Root:          root,
		Workers:       2,
		EventStore:    store,
		SessionEvents: bus.NewStoreSubscriber(store, nil).Handle,
		MaxBody:       1 << 10,
	})
	t.Cleanup(srv.Close)
	return srv, store
}

func serve(srv *Server, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, t.TempDir())
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/-/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("got status %q, want %q", body["status"], "ok")
	}
}

func TestFile_IndexTemplate(t *testing.T) {
	root := writeRoot(t, map[string]string{
		"index.ml": "<h1>hi</h1>\n<%\nlet x = 2 * 21\nprintln(x)\n%>\n<p>bye</p>\n",
	})
	srv, _ := testServer(t, root)
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type = %q", ct)
	}
	if got, want := w.Body.String(), "<h1>hi</h1>\n42\n<p>bye</p>\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFile_QueryParams(t *testing.T) {
	root := writeRoot(t, map[string]string{
		"hello.ml": "<%\nprintln(\"hello \" + get[\"name\"])\nprintln(get[\"n\"] + 1)\nprintln(post)\n%>\n",
	})
	srv, _ := testServer(t, root)
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/hello.ml?name=ada&n=41", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", w.Code, w.Body.String())
	}
	if got, want := w.Body.String(), "hello ada\n42\n{}\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFile_PostForm(t *testing.T) {
	root := writeRoot(t, map[string]string{
		"form.ml": "<%\nprintln(post[\"who\"])\nprintln(post[\"ok\"] == true)\n%>\n",
	})
	srv, _ := testServer(t, root)

	form := url.Values{"who": {"grace"}, "ok": {"true"}}
	r := httptest.NewRequest(http.MethodPost, "/form.ml", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := serve(srv, r)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", w.Code, w.Body.String())
	}
	if got, want := w.Body.String(), "grace\ntrue\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFile_PostBodyTooLarge(t *testing.T) {
	root := writeRoot(t, map[string]string{"form.ml": "x\n"})
	srv, _ := testServer(t, root)

	body := "v=" + strings.Repeat("a", 4096)
	r := httptest.NewRequest(http.MethodPost, "/form.ml", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := serve(srv, r)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestFile_StaticFile(t *testing.T) {
	root := writeRoot(t, map[string]string{"css/site.css": "body { color: red }"})
	srv, _ := testServer(t, root)
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/css/site.css", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/css") {
		t.Fatalf("content type = %q", ct)
	}
	if w.Body.String() != "body { color: red }" {
		t.Fatalf("got %q", w.Body.String())
	}
}

func TestFile_NotFound(t *testing.T) {
	outside := writeRoot(t, map[string]string{"secret.txt": "top secret"})
	root := writeRoot(t, map[string]string{"dir/a.txt": "a"})
	if err := os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	srv, _ := testServer(t, root)

	tests := []struct {
		name   string
		method string
		target string
	}{
		{"missing", http.MethodGet, "/nope.ml"},
		{"missing index", http.MethodGet, "/"},
		{"directory", http.MethodGet, "/dir"},
		{"symlink escape", http.MethodGet, "/link.txt"},
		{"method", http.MethodPut, "/dir/a.txt"},
		{"delete", http.MethodDelete, "/dir/a.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/", nil)
			r.URL.Path = tt.target
			w := serve(srv, r)
			if w.Code != http.StatusNotFound {
				t.Fatalf("got status %d, want %d", w.Code, http.StatusNotFound)
			}
			if w.Body.String() != "Not found\r\n" {
				t.Fatalf("got body %q", w.Body.String())
			}
		})
	}
}

func TestResolve_StaysInsideRoot(t *testing.T) {
	parent := writeRoot(t, map[string]string{"secret.txt": "s", "public/a.txt": "a"})
	srv, _ := testServer(t, filepath.Join(parent, "public"))

	if _, err := srv.resolve("/a.txt"); err != nil {
		t.Fatalf("resolve inside root: %v", err)
	}
	for _, p := range []string{"/../secret.txt", "../secret.txt", "/./../secret.txt"} {
		if got, err := srv.resolve(p); err == nil {
			t.Fatalf("resolve(%q) = %q, want error", p, got)
		}
	}
}

func TestFile_FaultIs500(t *testing.T) {
	root := writeRoot(t, map[string]string{
		"boom.ml":   "<p>before</p>\n<%\nlet x = 1 / 0\n%>\n",
		"broken.ml": "<%\nlet = 1\n%>\n",
	})
	srv, store := testServer(t, root)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/boom.ml", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("fault: got status %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "before") {
		t.Fatalf("partial output leaked: %q", w.Body.String())
	}

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/broken.ml", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("parse error: got status %d, want 500", w.Code)
	}

	ids, err := store.SessionIDs(context.Background())
	if err != nil {
		t.Fatalf("SessionIDs: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("got %d sessions, want 1 (parse errors never start one)", len(ids))
	}
	events, _ := store.List(context.Background(), ids[0], 0, 0)
	last := events[len(events)-1]
	if last.Kind != session.EventSessionFinished || last.PayloadString("status") != session.StatusFailed {
		t.Fatalf("last event = %s %v", last.Kind, last.Payload)
	}
}

func TestFile_RequestsAreIsolated(t *testing.T) {
	root := writeRoot(t, map[string]string{
		"count.ml": "<%\nlet n = get[\"n\"]\nprintln(n)\n%>\n",
	})
	srv, _ := testServer(t, root)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/count.ml?n=1", nil))
	if w.Body.String() != "1\n" {
		t.Fatalf("first: got %q", w.Body.String())
	}
	w = serve(srv, httptest.NewRequest(http.MethodGet, "/count.ml", nil))
	if w.Body.String() != "null\n" {
		t.Fatalf("second: got %q", w.Body.String())
	}
}

func TestSessionsEndpoints(t *testing.T) {
	root := writeRoot(t, map[string]string{"index.ml": "hi\n"})
	srv, _ := testServer(t, root)
	serve(srv, httptest.NewRequest(http.MethodGet, "/", nil))

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/-/sessions", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list: got status %d", w.Code)
	}
	var list struct {
		Sessions []string `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list.Sessions) != 1 {
		t.Fatalf("got sessions %v", list.Sessions)
	}

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/-/sessions/"+list.Sessions[0]+"/events?after=1&limit=2", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("events: got status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		SessionID string          `json:"session_id"`
		Events    []EventResponse `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(resp.Events))
	}
	if resp.Events[0].Seq != 2 || resp.Events[0].Kind != string(session.EventEvalStarted) {
		t.Fatalf("first event = %+v", resp.Events[0])
	}
	if resp.Events[1].Origin != string(session.OriginHTTP) {
		t.Fatalf("origin = %q", resp.Events[1].Origin)
	}

	w = serve(srv, httptest.NewRequest(http.MethodGet, "/-/sessions/missing/events", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing session: got status %d", w.Code)
	}
	w = serve(srv, httptest.NewRequest(http.MethodGet, "/-/sessions/x/events?limit=-1", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: got status %d", w.Code)
	}
}

func TestSessionsEndpoints_NoStore(t *testing.T) {
	srv := NewServer(ServerConfig{Root: t.TempDir()})
	t.Cleanup(srv.Close)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/-/sessions", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	tel, err := mlotel.Setup(context.Background(), mlotel.Config{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	root := writeRoot(t, map[string]string{"index.ml": "hi\n"})
	srv := NewServer(ServerConfig{
		Root:          root,
		SessionEvents: tel.Handler(),
		EmitDecorator: tel.Decorator(),
		MetricsReader: tel.Reader,
	})
	t.Cleanup(srv.Close)

	serve(srv, httptest.NewRequest(http.MethodGet, "/", nil))
	w := serve(srv, httptest.NewRequest(http.MethodGet, "/-/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Metrics []mlotel.MetricSnapshot `json:"metrics"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	found := false
	for _, m := range body.Metrics {
		if m.Name == mlotel.MetricEvalCount && len(m.Points) == 1 && m.Points[0].Value == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("eval count missing from %+v", body.Metrics)
	}
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	srv := NewServer(ServerConfig{Root: t.TempDir()})
	t.Cleanup(srv.Close)

	w := serve(srv, httptest.NewRequest(http.MethodGet, "/-/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", w.Code)
	}
}

func TestSessionStream_ReplaysFinishedSession(t *testing.T) {
	root := writeRoot(t, map[string]string{"index.ml": "hi\n"})
	store := bus.NewMemEventStore()
	eb := bus.NewMemBus(bus.MemBusConfig{})
	t.Cleanup(func() { _ = eb.Close() })
	srv := NewServer(ServerConfig{
		Root:          root,
		Bus:           eb,
		EventStore:    store,
		SessionEvents: bus.NewStoreSubscriber(store, nil).Handle,
	})
	t.Cleanup(srv.Close)

	serve(srv, httptest.NewRequest(http.MethodGet, "/", nil))
	ids, _ := store.SessionIDs(context.Background())
	if len(ids) != 1 {
		t.Fatalf("got sessions %v", ids)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	resp, err := http.Get(ts.URL + "/-/sessions/" + ids[0] + "/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(body), "\nevent: "); got != 4 {
		t.Fatalf("got %d events:\n%s", got, body)
	}
	if !strings.Contains(string(body), "event: session.finished") {
		t.Fatalf("stream did not end with session.finished:\n%s", body)
	}
}

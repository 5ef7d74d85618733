package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/petal-labs/nodeschema/bus"
	nsotel "github.com/petal-labs/nodeschema/otel"
	"github.com/petal-labs/nodeschema/registry"
	"github.com/petal-labs/nodeschema/runtime"
)

const editorConfig = `{
  "portTypes": [
    {"type": "number", "label": "Number", "color": "blue",
     "controls": [{"type": "float", "name": "value", "label": "Value"}]}
  ],
  "nodeTypes": [
    {"type": "add", "label": "Add", "category": "Math",
     "inputs": [{"type": "number", "name": "a"}, {"type": "number", "name": "b"}],
     "outputs": [{"type": "number", "name": "sum"}]},
    {"type": "template", "label": "Template",
     "inputs": {"path": "template_ports"},
     "outputs": [{"type": "str", "name": "text"}]},
    {"type": "pinned", "label": "Pinned", "deletable": false,
     "outputs": [{"type": "number", "name": "n"}]},
    {"type": "hidden", "label": "Hidden", "addable": false}
  ]
}`

const editorConfigYAML = `
portTypes:
  - type: number
    label: Number
    color: blue
    controls:
      - {type: float, name: value, label: Value}
nodeTypes:
  - type: add
    label: Add
    category: Math
    inputs:
      - {type: number, name: a}
      - {type: number, name: b}
    outputs:
      - {type: number, name: sum}
  - type: template
    label: Template
    inputs: {path: template_ports}
    outputs:
      - {type: str, name: text}
  - type: pinned
    label: Pinned
    deletable: false
    outputs:
      - {type: number, name: n}
  - type: hidden
    label: Hidden
    addable: false
`

type testEnv struct {
	handler http.Handler
	engine  *runtime.Engine
	bus     *bus.MemBus
	store   *bus.SQLiteEventStore
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv wires a server the way serve does, with events persisted
// synchronously so tests can read them back at once.
func newTestEnv(t *testing.T, maxBody int64) *testEnv {
	t.Helper()
	store := newTestEventStore(t)
	eb := bus.NewMemBus(bus.MemBusConfig{})
	t.Cleanup(func() { _ = eb.Close() })

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := nsotel.NewMetricsHandler(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetricsHandler: %v", err)
	}

	persist := bus.NewStoreSubscriber(store, discardLogger())
	engine := runtime.NewEngine(runtime.EngineConfig{
		EventBus:     eb,
		EventHandler: runtime.MultiEventHandler(persist.Handle, metrics.Handle),
		Logger:       discardLogger(),
	})

	n := 0
	srv := NewServer(ServerConfig{
		Engine:        engine,
		Bus:           eb,
		EventStore:    store,
		MetricsReader: reader,
		NewNodeID: func() string {
			n++
			return fmt.Sprintf("n%d", n)
		},
		CORSOrigin: "*",
		MaxBody:    maxBody,
		Logger:     discardLogger(),
	})
	return &testEnv{handler: srv.Handler(), engine: engine, bus: eb, store: store}
}

func loadedEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t, 0)
	if w := env.do(t, http.MethodPut, "/api/config", editorConfig); w.Code != http.StatusOK {
		t.Fatalf("PUT /api/config = %d: %s", w.Code, w.Body.String())
	}
	return env
}

// do sends a request. A string body is sent as is; anything else is
// encoded as JSON.
func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	r := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[apiError](t, w).Error.Code
}

func portNames(ports []registry.PortInstance) []string {
	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, p.Name)
	}
	return names
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 0)
	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusOK)
	}
	body := decode[map[string]string](t, w)
	if body["status"] != "ok" || body["config_id"] != "" {
		t.Fatalf("body = %v", body)
	}

	env.do(t, http.MethodPut, "/api/config", editorConfig)
	body = decode[map[string]string](t, env.do(t, http.MethodGet, "/health", nil))
	if body["config_id"] != env.engine.Current().ID {
		t.Fatalf("config_id = %q, want %q", body["config_id"], env.engine.Current().ID)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, 0)

	w := env.do(t, http.MethodGet, "/health", nil)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("CORS origin = %q, want %q", got, "*")
	}

	w = env.do(t, http.MethodOptions, "/api/config", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("OPTIONS status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestNotLoaded(t *testing.T) {
	env := newTestEnv(t, 0)
	for _, path := range []string{"/api/config", "/api/port-types", "/api/node-types", "/api/nodes", "/api/connections", "/api/events"} {
		t.Run(path, func(t *testing.T) {
			w := env.do(t, http.MethodGet, path, nil)
			if w.Code != http.StatusNotFound || errorCode(t, w) != "NOT_LOADED" {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestPutConfig_ReusesIdenticalYAML(t *testing.T) {
	env := newTestEnv(t, 0)

	w := env.do(t, http.MethodPut, "/api/config", editorConfig, "Content-Type", "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("PUT JSON = %d: %s", w.Code, w.Body.String())
	}
	first := decode[PutConfigResponse](t, w)
	if first.Reused || first.Config.Compiled == nil || first.Config.NodeTypes != 4 {
		t.Fatalf("first response = %+v", first)
	}

	w = env.do(t, http.MethodPut, "/api/config", editorConfigYAML, "Content-Type", "application/yaml")
	if w.Code != http.StatusOK {
		t.Fatalf("PUT YAML = %d: %s", w.Code, w.Body.String())
	}
	second := decode[PutConfigResponse](t, w)
	if !second.Reused || second.Config.ID != first.Config.ID {
		t.Fatalf("second response reused=%v id=%q, want reuse of %q", second.Reused, second.Config.ID, first.Config.ID)
	}

	got := decode[ConfigSummary](t, env.do(t, http.MethodGet, "/api/config", nil))
	if got.ID != first.Config.ID || got.Hash != first.Config.Hash {
		t.Errorf("GET /api/config = %+v", got)
	}
}

func TestPutConfig_Rejected(t *testing.T) {
	env := newTestEnv(t, 64)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
		wantDetail string
	}{
		{
			name:       "unsupported version",
			body:       `{"version": "9.0.0", "portTypes": [{"type": "a"}]}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "VALIDATION_ERROR",
			wantDetail: "CF-001 version",
		},
		{
			name:       "malformed",
			body:       `{"portTypes": [`,
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "VALIDATION_ERROR",
			wantDetail: "CF-000",
		},
		{
			name:       "too large",
			body:       `{"portTypes": [], "nodeTypes": [], "padding": "` + strings.Repeat("x", 128) + `"}`,
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   "BODY_TOO_LARGE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPut, "/api/config", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			body := decode[apiError](t, w)
			if body.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Error.Code, tt.wantCode)
			}
			if tt.wantDetail != "" && (len(body.Error.Details) == 0 || !strings.HasPrefix(body.Error.Details[0], tt.wantDetail)) {
				t.Errorf("details = %v, want prefix %q", body.Error.Details, tt.wantDetail)
			}
		})
	}
	if env.engine.Current() != nil {
		t.Error("rejected configuration was published")
	}
}

func TestPutConfig_SkipsBadEntries(t *testing.T) {
	env := newTestEnv(t, 0)
	w := env.do(t, http.MethodPut, "/api/config", `{
  "portTypes": [{"type": "num", "label": "Number"}, {"label": "nameless"}],
  "nodeTypes": [
    {"type": "good", "label": "Good", "inputs": [{"type": "num"}]},
    {"type": "bad", "label": "Bad", "inputs": [{"type": "missing"}]}
  ]
}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	resp := decode[PutConfigResponse](t, w)
	if resp.Config.NodeTypes != 1 {
		t.Errorf("node types = %d, want 1", resp.Config.NodeTypes)
	}
	var got []string
	for _, d := range resp.Config.Compiled.Diagnostics {
		got = append(got, d.Code)
	}
	want := []string{"PT-001", "NT-003"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("diagnostics (-want +got):\n%s", diff)
	}

	cur := env.engine.Current()
	if cur == nil || !cur.Registry.HasNodeType("good") || cur.Registry.HasNodeType("bad") {
		t.Fatal("want only the good node type published")
	}
}

func TestPutConfig_Warnings(t *testing.T) {
	env := newTestEnv(t, 0)
	w := env.do(t, http.MethodPut, "/api/config", `{"portTypes": [{"type": "a"}, {"type": "a"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	resp := decode[PutConfigResponse](t, w)
	if len(resp.Warnings) != 1 || resp.Warnings[0].Code != "PT-002" {
		t.Errorf("warnings = %+v", resp.Warnings)
	}
}

func TestPortAndNodeTypes(t *testing.T) {
	env := loadedEnv(t)

	ports := decode[[]registry.PortType](t, env.do(t, http.MethodGet, "/api/port-types", nil))
	ids := map[string]bool{}
	for _, p := range ports {
		ids[p.Type] = true
	}
	for _, want := range []string{"number", "str", "object"} {
		if !ids[want] {
			t.Errorf("port type %q missing", want)
		}
	}

	var typeIDs []string
	for _, nt := range decode[[]registry.NodeType](t, env.do(t, http.MethodGet, "/api/node-types?addable=true", nil)) {
		typeIDs = append(typeIDs, nt.Type)
	}
	if diff := cmp.Diff([]string{"add", "template", "pinned"}, typeIDs); diff != "" {
		t.Errorf("addable node types (-want +got):\n%s", diff)
	}

	if w := env.do(t, http.MethodGet, "/api/node-types?addable=maybe", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad addable status = %d", w.Code)
	}
}

func TestResolvePorts(t *testing.T) {
	env := loadedEnv(t)

	tests := []struct {
		name        string
		path        string
		body        any
		wantStatus  int
		wantInputs  []string
		wantOutputs []string
	}{
		{
			name:        "template placeholders",
			path:        "/api/node-types/template/ports",
			body:        ResolvePortsRequest{InputData: registry.InputData{"template": {"str": "Hi {name}, {greeting}"}}},
			wantStatus:  http.StatusOK,
			wantInputs:  []string{"template", "name", "greeting"},
			wantOutputs: []string{"text"},
		},
		{
			name:        "empty body",
			path:        "/api/node-types/template/ports",
			wantStatus:  http.StatusOK,
			wantInputs:  []string{"template"},
			wantOutputs: []string{"text"},
		},
		{
			name:        "static node",
			path:        "/api/node-types/add/ports",
			body:        "{}",
			wantStatus:  http.StatusOK,
			wantInputs:  []string{"a", "b"},
			wantOutputs: []string{"sum"},
		},
		{
			name:       "unknown node type",
			path:       "/api/node-types/ghost/ports",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "malformed body",
			path:       "/api/node-types/add/ports",
			body:       "{",
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			resp := decode[ResolvePortsResponse](t, w)
			if diff := cmp.Diff(tt.wantInputs, portNames(resp.Inputs)); diff != "" {
				t.Errorf("inputs (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantOutputs, portNames(resp.Outputs)); diff != "" {
				t.Errorf("outputs (-want +got):\n%s", diff)
			}
			if len(resp.Errors) != 0 {
				t.Errorf("errors = %v", resp.Errors)
			}
		})
	}
}

func TestEditControl(t *testing.T) {
	env := loadedEnv(t)

	w := env.do(t, http.MethodPost, "/api/port-types/number/controls/value/edit", EditRequest{Value: 2.5})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	got := decode[map[string]any](t, w)
	if got["control"] != "value" || got["value"] != 2.5 {
		t.Errorf("value changed = %v", got)
	}

	tests := []struct {
		name       string
		path       string
		value      any
		wantStatus int
		wantCode   string
	}{
		{name: "invalid value", path: "/api/port-types/number/controls/value/edit", value: "abc", wantStatus: http.StatusUnprocessableEntity, wantCode: "INVALID_VALUE"},
		{name: "label control", path: "/api/port-types/object/controls/object/edit", value: "x", wantStatus: http.StatusConflict, wantCode: "NOT_EDITABLE"},
		{name: "unknown control", path: "/api/port-types/number/controls/ghost/edit", value: 1, wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND"},
		{name: "unknown port type", path: "/api/port-types/ghost/controls/value/edit", value: 1, wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, EditRequest{Value: tt.value})
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if code := errorCode(t, w); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestListEvents(t *testing.T) {
	env := loadedEnv(t)
	if w := env.do(t, http.MethodPost, "/api/nodes", AddNodeRequest{Type: "add"}); w.Code != http.StatusCreated {
		t.Fatalf("add node = %d: %s", w.Code, w.Body.String())
	}

	w := env.do(t, http.MethodGet, "/api/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	resp := decode[EventsResponse](t, w)
	if resp.ConfigID != env.engine.Current().ID {
		t.Errorf("configId = %q", resp.ConfigID)
	}
	kinds := map[string]int{}
	for _, e := range resp.Events {
		kinds[e.Kind]++
	}
	if kinds["config.compiled"] != 1 || kinds["node.added"] != 1 {
		t.Errorf("event kinds = %v", kinds)
	}
	if last := resp.Events[len(resp.Events)-1]; resp.LastSeq != last.Seq {
		t.Errorf("lastSeq = %d, want %d", resp.LastSeq, last.Seq)
	}

	page := decode[EventsResponse](t, env.do(t, http.MethodGet, "/api/events?limit=1&after=0", nil))
	if len(page.Events) != 1 || page.Events[0].Kind != "config.compiled" {
		t.Errorf("first page = %+v", page.Events)
	}

	for _, path := range []string{"/api/events?after=x", "/api/events?limit=0"} {
		if w := env.do(t, http.MethodGet, path, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", path, w.Code)
		}
	}
}

func TestMetrics(t *testing.T) {
	env := loadedEnv(t)
	env.do(t, http.MethodPut, "/api/config", editorConfig)
	env.do(t, http.MethodPost, "/api/nodes", AddNodeRequest{Type: "template"})

	points := decode[[]MetricPoint](t, env.do(t, http.MethodGet, "/api/metrics", nil))
	values := map[string]float64{}
	for _, p := range points {
		values[p.Name] += p.Value
	}
	want := map[string]float64{
		"nodeschema.config.compiles": 1,
		"nodeschema.config.reuses":   1,
		"nodeschema.session.edits":   1,
	}
	for name, v := range want {
		if values[name] != v {
			t.Errorf("%s = %v, want %v", name, values[name], v)
		}
	}
	if values["nodeschema.resolver.runs"] < 1 {
		t.Errorf("resolver runs = %v, want at least 1", values["nodeschema.resolver.runs"])
	}
}

func TestEventStream_EndsOnReplacement(t *testing.T) {
	env := loadedEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events/stream", nil)
	if err != nil {
		t.Fatal(err)
	}

	bodyCh := make(chan string, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			bodyCh <- "error: " + err.Error()
			return
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		bodyCh <- string(data)
	}()

	for env.bus.SubscriberCount() == 0 {
		if ctx.Err() != nil {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(time.Millisecond)
	}
	replacement := strings.Replace(editorConfig, `"label": "Add"`, `"label": "Sum"`, 1)
	if w := env.do(t, http.MethodPut, "/api/config", replacement); w.Code != http.StatusOK {
		t.Fatalf("PUT = %d: %s", w.Code, w.Body.String())
	}

	body := <-bodyCh
	if got := strings.Count(body, "event: config.compiled"); got != 2 {
		t.Fatalf("config.compiled events = %d, want 2 in:\n%s", got, body)
	}
}

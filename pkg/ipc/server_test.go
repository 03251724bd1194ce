package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/odvcencio/vegabridge/pkg/telemetry"
	"github.com/odvcencio/vegabridge/pkg/widget"
)

type testServer struct {
	*httptest.Server
	registry *Registry
	hub      *Hub
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	hub := NewHub(metrics)
	registry := NewRegistry(
		func(id string) widget.Channel { return hub.Endpoint(id) },
		WithRelease(hub.Remove),
		WithRegistryMetrics(metrics),
		WithStore(newMemoryStore()),
	)
	srv := NewServer(cfg, hub, registry, WithGatherer(reg))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, registry: registry, hub: hub}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (ts *testServer) create(t *testing.T, body string) string {
	t.Helper()
	resp, data := ts.do(t, http.MethodPost, "/api/widgets", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	return out.ID
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) widget.Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg widget.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestServerWidgetLifecycle(t *testing.T) {
	ts := newTestServer(t, Config{})
	id := ts.create(t, `{"spec":{"mark":"bar"},"opt":{"actions":false}}`)

	resp, data := ts.do(t, http.MethodGet, "/api/widgets/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail widgetDetail
	require.NoError(t, json.Unmarshal(data, &detail))
	assert.JSONEq(t, `{"mark":"bar"}`, string(detail.Spec))
	assert.JSONEq(t, `{"actions":false}`, string(detail.Opt))
	assert.False(t, detail.Live)
	assert.Empty(t, detail.Pending)

	resp, _ = ts.do(t, http.MethodPut, "/api/widgets/"+id+"/spec", `{"mark":"line"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, data = ts.do(t, http.MethodGet, "/api/widgets", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), id)

	resp, _ = ts.do(t, http.MethodDelete, "/api/widgets/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, data = ts.do(t, http.MethodGet, "/api/widgets/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(data), "WIDGET_NOT_FOUND")
}

func TestServerBuffersUpdatesUntilDisplay(t *testing.T) {
	ts := newTestServer(t, Config{})
	id := ts.create(t, `{"spec":{"mark":"point"}}`)

	resp, data := ts.do(t, http.MethodPost, "/api/widgets/"+id+"/updates", `{"key":"table","insert":[{"x":1}]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"live":false,"pending":1}`, string(data))
	ts.do(t, http.MethodPost, "/api/widgets/"+id+"/updates", `{"key":"table","remove":"datum.x < 1"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/widgets/" + id
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	state := readMessage(t, ctx, conn)
	assert.Equal(t, widget.MessageState, state.Type)
	assert.JSONEq(t, `{"mark":"point"}`, state.State[widget.PropSpecSource].(string))

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"display"}`)))
	flushed := readMessage(t, ctx, conn)
	require.Equal(t, widget.MessageUpdate, flushed.Type)
	require.Len(t, flushed.Updates, 2)
	assert.Len(t, flushed.Updates[0].Rows(), 1)
	assert.Equal(t, "datum.x < 1", flushed.Updates[1].Remove)

	resp, data = ts.do(t, http.MethodPost, "/api/widgets/"+id+"/updates", `{"key":"table","insert":[]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"live":true,"pending":0}`, string(data))

	direct := readMessage(t, ctx, conn)
	require.Len(t, direct.Updates, 1)
	assert.NotNil(t, direct.Updates[0].Insert)
}

func TestServerDataFrameAndHistogram(t *testing.T) {
	ts := newTestServer(t, Config{HistogramChunkCells: 4})
	id := ts.create(t, `{"spec":{}}`)

	resp, data := ts.do(t, http.MethodPost, "/api/widgets/"+id+"/dataframe",
		`{"columns":["a","b"],"rows":[[1,2],[3,4]],"remove":"true"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(data))

	resp, data = ts.do(t, http.MethodPost, "/api/widgets/"+id+"/dataframe",
		`{"columns":["a"],"rows":[[1,2]]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(data))

	resp, data = ts.do(t, http.MethodPost, "/api/widgets/"+id+"/histogram2d",
		`{"columns":["x","y","v"],"values":[[1,2],[3,4],[5,6]]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(data))

	w, err := ts.registry.Get(id)
	require.NoError(t, err)
	pending := w.PendingUpdates()
	require.Len(t, pending, 2)
	ref, ok := pending[1].Bulk()
	require.True(t, ok)
	assert.Equal(t, widget.BulkHistogram2D, ref)
	// Four cells per chunk over two-column rows.
	assert.Equal(t, []widget.ChunkRange{{Start: 0, End: 2}, {Start: 2, End: 3}}, pending[1].Chunks)

	resp, _ = ts.do(t, http.MethodPost, "/api/widgets/"+id+"/histogram2d",
		`{"columns":["x","y"],"values":[[1]]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/widgets/"+id+"/histogram2d",
		`{"columns":["x","y","v"],"values":[[1,2],[3]]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerRejectsBadUpdates(t *testing.T) {
	ts := newTestServer(t, Config{})
	id := ts.create(t, `{"spec":{}}`)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"missing key", "/api/widgets/" + id + "/updates", `{"insert":[]}`, http.StatusBadRequest},
		{"insert not rows", "/api/widgets/" + id + "/updates", `{"key":"k","insert":"@dataframe"}`, http.StatusBadRequest},
		{"unknown widget", "/api/widgets/missing/updates", `{"key":"k"}`, http.StatusNotFound},
		{"empty spec body", "/api/widgets/" + id + "/spec", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodPost
			if strings.HasSuffix(tt.path, "/spec") {
				method = http.MethodPut
			}
			resp, data := ts.do(t, method, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode, string(data))
		})
	}
}

func TestServerRateLimitsUpdates(t *testing.T) {
	ts := newTestServer(t, Config{UpdateRate: 0.001, UpdateBurst: 1})
	id := ts.create(t, `{"spec":{}}`)

	resp, _ := ts.do(t, http.MethodPost, "/api/widgets/"+id+"/updates", `{"key":"k"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/api/widgets/"+id+"/updates", `{"key":"k"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Document changes are not rate limited.
	resp, _ = ts.do(t, http.MethodPut, "/api/widgets/"+id+"/opt", `{}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestServerWebSocketLimitsAndUnknownWidget(t *testing.T) {
	ts := newTestServer(t, Config{MaxClients: 1})
	id := ts.create(t, `{"spec":{}}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	base := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/widgets/"

	_, resp, err := websocket.Dial(ctx, base+"missing", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn, _, err := websocket.Dial(ctx, base+id, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	readMessage(t, ctx, conn)

	_, resp, err = websocket.Dial(ctx, base+id, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestServerHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, Config{})
	id := ts.create(t, `{"spec":{}}`)
	ts.do(t, http.MethodPost, "/api/widgets/"+id+"/updates", `{"key":"k"}`)

	resp, data := ts.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"widgets": 1`)

	resp, data = ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, bytes.Contains(data, []byte("vegabridge_updates_queued_total 1")), string(data))
	assert.True(t, bytes.Contains(data, []byte("vegabridge_widgets 1")))
}

func TestMetricsRequireLoopbackUnlessPublic(t *testing.T) {
	srv := NewServer(Config{}, NewHub(nil), NewRegistry(nil), WithGatherer(prometheus.NewRegistry()))
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	srv = NewServer(Config{PublicMetrics: true}, NewHub(nil), NewRegistry(nil), WithGatherer(prometheus.NewRegistry()))
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMatrixFromRows(t *testing.T) {
	m, err := matrixFromRows([][]float32{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	assert.Equal(t, widget.Matrix{Rows: 2, Cols: 3, Data: []float32{1, 2, 3, 4, 5, 6}}, m)

	m, err = matrixFromRows(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Rows)
}

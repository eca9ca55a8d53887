package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/haystack/session"
)

const readGrid = "ver:\"3.0\"\n" +
	"id,dis,curVal\n" +
	"@p1,\"Meter\",72.5°F\n" +
	"@p2,\"Other\",1\n"

type haystackServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies map[string][]string
}

func newHaystackServer(t *testing.T) *haystackServer {
	t.Helper()
	hs := &haystackServer{bodies: make(map[string][]string)}
	hs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		op := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api"), "/")

		hs.mu.Lock()
		hs.bodies[op] = append(hs.bodies[op], string(body))
		hs.mu.Unlock()

		w.Header().Set("Content-Type", "text/zinc; charset=utf-8")
		switch {
		case op == "read" && strings.Contains(string(body), "missing"):
			io.WriteString(w, "ver:\"3.0\" err dis:\"no such entity\"\nempty\n")
		case op == "read":
			io.WriteString(w, readGrid)
		case op == "about":
			io.WriteString(w, "ver:\"3.0\"\nserverName\n\"fake\"\n")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(hs.Close)
	return hs
}

func (hs *haystackServer) lastBody(op string) string {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	bodies := hs.bodies[op]
	if len(bodies) == 0 {
		return ""
	}
	return bodies[len(bodies)-1]
}

func newTestProvider(t *testing.T, m *Metrics) (*Provider, *haystackServer) {
	t.Helper()
	hs := newHaystackServer(t)
	return NewProvider(session.Config{URI: hs.URL + "/api"}, nil, m), hs
}

func TestFetchOp(t *testing.T) {
	p, hs := newTestProvider(t, nil)
	ctx := context.Background()

	res := p.FetchOp(ctx, "post", "about", "")
	assert.Equal(t, StatusOK, res.Status)
	assert.Empty(t, res.Error)
	assert.Contains(t, res.Response, "serverName")

	res = p.FetchOp(ctx, "", "read", "filter=missing")
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "no such entity", res.Error)
	assert.Contains(t, hs.lastBody("read"), "\"missing\"")

	res = p.FetchOp(ctx, "", "nope", "")
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Error, "404")
}

func TestFetchDataset(t *testing.T) {
	p, hs := newTestProvider(t, nil)
	ctx := context.Background()

	res := p.FetchDataset(ctx, "filter=point;dis,curVal")
	assert.Equal(t, DatasetResult{Status: StatusOK, Labels: "dis,curVal", Values: "Meter,72.5°F"}, res)
	assert.Contains(t, hs.lastBody("read"), "filter\n\"point\"\n")

	res = p.FetchDataset(ctx, "filter=point")
	assert.Equal(t, "id,dis,curVal", res.Labels)
	assert.Equal(t, "@p1,Meter,72.5°F", res.Values)

	res = p.FetchDataset(ctx, "filter=missing")
	assert.Equal(t, StatusError, res.Status)
	assert.Empty(t, res.Labels)
}

func TestFetchValue(t *testing.T) {
	p, _ := newTestProvider(t, nil)
	ctx := context.Background()

	res := p.FetchValue(ctx, "id=@p1;curVal")
	assert.Equal(t, ValueResult{Status: StatusOK, Value: "72.5°F"}, res)

	res = p.FetchValue(ctx, "id=missing")
	assert.Equal(t, ValueResult{Status: StatusError, Value: "no such entity"}, res)
}

func TestFetchUnreachableServer(t *testing.T) {
	hs := newHaystackServer(t)
	uri := hs.URL + "/api"
	hs.Close()

	p := NewProvider(session.Config{URI: uri}, nil, nil)
	res := p.FetchValue(context.Background(), "id=@p1")
	assert.Equal(t, StatusError, res.Status)
	assert.NotEmpty(t, res.Value)
}

func TestHandlers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	p, _ := newTestProvider(t, m)
	ctx := context.Background()

	t.Run("value", func(t *testing.T) {
		out, err := p.HandleValue(ctx, []byte(`{"id":"id=@p1;dis"}`))
		require.NoError(t, err)
		var res ValueResult
		require.NoError(t, json.Unmarshal(out, &res))
		assert.Equal(t, ValueResult{Status: StatusOK, Value: "Meter"}, res)
	})

	t.Run("dataset", func(t *testing.T) {
		out, err := p.HandleDataset(ctx, []byte(`{"filter":"filter=point;curVal"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":"ok","labels":"curVal","values":"72.5°F"}`, string(out))
	})

	t.Run("op", func(t *testing.T) {
		out, err := p.HandleOp(ctx, []byte(`{"method":"post","op":"about"}`))
		require.NoError(t, err)
		var res OpResult
		require.NoError(t, json.Unmarshal(out, &res))
		assert.Equal(t, StatusOK, res.Status)
	})

	t.Run("already processed", func(t *testing.T) {
		in := []byte(`{"op":"about","status":"ok"}`)
		out, err := p.HandleOp(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("invalid json", func(t *testing.T) {
		out, err := p.HandleDataset(ctx, []byte(`{`))
		require.NoError(t, err)
		var res DatasetResult
		require.NoError(t, json.Unmarshal(out, &res))
		assert.Equal(t, StatusError, res.Status)
		assert.Contains(t, res.Error, "invalid request")
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("value", StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("dataset", StatusError)))
}

type fakeResponder struct {
	subjects []string
	handlers map[string]func(context.Context, []byte) ([]byte, error)
}

func (r *fakeResponder) SubscribeForRequests(_ context.Context, subject string,
	handler func(ctx context.Context, data []byte) ([]byte, error)) (*natsclient.Subscription, error) {
	r.subjects = append(r.subjects, subject)
	r.handlers[subject] = handler
	return nil, nil
}

func TestServe(t *testing.T) {
	p, _ := newTestProvider(t, nil)
	r := &fakeResponder{handlers: make(map[string]func(context.Context, []byte) ([]byte, error))}

	require.NoError(t, p.Serve(context.Background(), r, "bms"))
	assert.Equal(t, []string{"bms.op", "bms.dataset", "bms.value"}, r.subjects)

	out, err := r.handlers["bms.value"](context.Background(), []byte(`{"id":"id=@p1;curVal"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","value":"72.5°F"}`, string(out))
}

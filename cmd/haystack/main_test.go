package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/c360studio/haystack/codec"
	"github.com/c360studio/haystack/config"
	"github.com/c360studio/haystack/grid"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.name); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestResolveLevel(t *testing.T) {
	o := &options{}
	if got := o.resolveLevel("warn"); got != slog.LevelWarn {
		t.Errorf("fallback level = %v, want warn", got)
	}
	o.logLevel = "error"
	if got := o.resolveLevel("warn"); got != slog.LevelError {
		t.Errorf("flag level = %v, want error", got)
	}
	o.debug = true
	if got := o.resolveLevel("warn"); got != slog.LevelDebug {
		t.Errorf("debug level = %v, want debug", got)
	}
}

func TestBuildRequest(t *testing.T) {
	o := &options{get: true, raw: true}
	req := o.buildRequest([]string{"http://host/api", "read", "filter=dis==\"a=b\"", "limit=10", "=skipped"})

	if req.Op != "read" {
		t.Errorf("op = %q, want read", req.Op)
	}
	if req.Method != "GET" {
		t.Errorf("method = %q, want GET", req.Method)
	}
	if !req.Raw {
		t.Error("raw not set")
	}
	if got := req.Grid.Names(); !slices.Equal(got, []string{"filter", "limit"}) {
		t.Fatalf("columns = %v, want [filter limit]", got)
	}
	if got := req.Grid.Display(0, 0); got != "dis==\"a=b\"" {
		t.Errorf("filter = %q", got)
	}
	if got := req.Grid.Raw(1, 0).Kind(); got != grid.KindNumber {
		t.Errorf("limit kind = %v, want number", got)
	}

	req = (&options{}).buildRequest([]string{"http://host/api"})
	if req.Op != "" || req.Method != "" || req.Grid != nil {
		t.Errorf("uri only request = %+v, want session defaults", req)
	}
}

func TestApplyFlags(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Username = "from-file"

	o := &options{password: "secret", content: "json", version: "4.0"}
	o.applyFlags(cfg, "http://other/api")

	if cfg.Server.URI != "http://other/api" {
		t.Errorf("uri = %q", cfg.Server.URI)
	}
	if cfg.Server.Username != "from-file" {
		t.Errorf("username = %q, want file value kept", cfg.Server.Username)
	}
	if cfg.Server.Password != "secret" {
		t.Errorf("password = %q", cfg.Server.Password)
	}
	if cfg.Server.Content != codec.ContentJSON {
		t.Errorf("content = %q, want %q", cfg.Server.Content, codec.ContentJSON)
	}
	if cfg.Server.Accept != "" {
		t.Errorf("accept = %q, want unset", cfg.Server.Accept)
	}
	if cfg.Server.Version != "4.0" {
		t.Errorf("version = %q", cfg.Server.Version)
	}
}

func TestDiffIDs(t *testing.T) {
	added, removed := diffIDs([]string{"@a", "b", "c"}, []string{"a", "c", "d", "d"})
	if !slices.Equal(added, []string{"d"}) {
		t.Errorf("added = %v, want [d]", added)
	}
	if !slices.Equal(removed, []string{"b"}) {
		t.Errorf("removed = %v, want [b]", removed)
	}

	added, removed = diffIDs(nil, nil)
	if added != nil || removed != nil {
		t.Errorf("empty diff = %v, %v", added, removed)
	}
}

type recordingServer struct {
	*httptest.Server
	mu   sync.Mutex
	body string
}

func newRecordingServer(t *testing.T) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		op := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api"), "/")

		if op == "read" {
			rs.mu.Lock()
			rs.body = string(body)
			rs.mu.Unlock()
		}

		w.Header().Set("Content-Type", "text/zinc; charset=utf-8")
		switch op {
		case "read":
			io.WriteString(w, pointsGrid)
		case "about":
			io.WriteString(w, "ver:\"3.0\"\nserverName\n\"fake\"\n")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) readBody() string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.body
}

func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, env := range []string{config.EnvURI, config.EnvUser, config.EnvPass, config.EnvToken,
		config.EnvVersion, config.EnvFormat, config.EnvLogLevel} {
		t.Setenv(env, "")
	}
	t.Chdir(t.TempDir())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRequestCommand(t *testing.T) {
	isolateConfig(t)
	rs := newRecordingServer(t)

	out, err := execute(t, "-m", "-n", "dis,curVal", rs.URL+"/api", "read", "filter=point")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "Meter") || !strings.Contains(out, "72.5°F") {
		t.Errorf("output = %q, want table rows", out)
	}
	if strings.Contains(out, "@p1") {
		t.Errorf("output = %q, id column should be dropped", out)
	}
	if body := rs.readBody(); !strings.Contains(body, "filter\n\"point\"\n") {
		t.Errorf("request body = %q", body)
	}
}

func TestRequestCommandIndexOutOfRange(t *testing.T) {
	isolateConfig(t)
	rs := newRecordingServer(t)

	_, err := execute(t, "-m", "-i", "7", rs.URL+"/api", "read", "filter=point")
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Errorf("Execute() error = %v, want out of range", err)
	}
}

func TestRequestCommandStatusError(t *testing.T) {
	isolateConfig(t)
	rs := newRecordingServer(t)

	_, err := execute(t, "-m", rs.URL+"/api", "nope")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("Execute() error = %v, want 404", err)
	}
}

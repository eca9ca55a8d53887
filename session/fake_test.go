package session

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/haystack/codec"
	"github.com/c360studio/haystack/grid"
	"github.com/c360studio/haystack/transport"
)

const testURI = "http://haystack.test/api"

type call struct {
	Method string
	URL    string
	Op     string
	Auth   string
	Accept string
	Type   string
	Body   string
}

type opHandler func(c call, req *grid.Grid) *transport.Response

// fakeServer plays a Haystack server: PLAINTEXT login, bearer token checks
// and per-op handlers.
type fakeServer struct {
	mu         sync.Mutex
	calls      []call
	valid      string
	issued     int
	loginDelay time.Duration
	handlers   map[string]opHandler
}

func newFakeServer() *fakeServer {
	f := &fakeServer{handlers: make(map[string]opHandler)}
	f.handle(DefaultOp, func(call, *grid.Grid) *transport.Response {
		return zinc("ver:\"3.0\"\nserverName,productName\n\"test\",\"fake\"\n")
	})
	f.handle(OpClose, func(call, *grid.Grid) *transport.Response {
		return zinc("ver:\"3.0\"\nempty\n")
	})
	f.handle(OpWatchUnsub, func(call, *grid.Grid) *transport.Response {
		return zinc("ver:\"3.0\"\nempty\n")
	})
	f.handle(OpWatchSub, func(_ call, req *grid.Grid) *transport.Response {
		var b strings.Builder
		b.WriteString("ver:\"3.0\" watchId:\"w-1\" lease:30s\nid,curVal\n")
		idx := req.Index("id")
		for y := 0; y < req.Rows(); y++ {
			id := req.Raw(idx, y).Text()
			b.WriteString("@" + id + " \"" + strings.ToUpper(id) + "\"," + strconv.Itoa(y+1) + "\n")
		}
		return zinc(b.String())
	})
	f.handle(OpWatchPoll, func(call, *grid.Grid) *transport.Response {
		return zinc("ver:\"3.0\" watchId:\"w-1\"\nid,curVal\n@a,10\n")
	})
	return f
}

func (f *fakeServer) handle(op string, h opHandler) {
	f.mu.Lock()
	f.handlers[op] = h
	f.mu.Unlock()
}

// expire invalidates the current token.
func (f *fakeServer) expire() {
	f.mu.Lock()
	f.valid = "revoked"
	f.mu.Unlock()
}

func (f *fakeServer) callsFor(op string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeServer) tokensIssued() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issued
}

func (f *fakeServer) Send(_ context.Context, method, url string, header http.Header, body string) (*transport.Response, error) {
	path := strings.TrimPrefix(url, testURI+"/")
	op, _, _ := strings.Cut(path, "/")
	c := call{
		Method: method,
		URL:    url,
		Op:     op,
		Auth:   header.Get("Authorization"),
		Accept: header.Get("Accept"),
		Type:   header.Get("Content-Type"),
		Body:   body,
	}

	f.mu.Lock()
	f.calls = append(f.calls, c)
	valid := f.valid
	handler := f.handlers[op]
	delay := f.loginDelay
	f.mu.Unlock()

	switch {
	case strings.HasPrefix(c.Auth, "HELLO "):
		return &transport.Response{
			StatusCode: http.StatusUnauthorized,
			Status:     "Unauthorized",
			Header:     http.Header{"Www-Authenticate": {"PLAINTEXT"}},
		}, nil
	case strings.HasPrefix(c.Auth, "PLAINTEXT "):
		time.Sleep(delay)
		f.mu.Lock()
		f.issued++
		f.valid = "tok-" + strconv.Itoa(f.issued)
		token := f.valid
		f.mu.Unlock()
		return &transport.Response{
			StatusCode: http.StatusOK,
			Status:     "OK",
			Header:     http.Header{"Authentication-Info": {"authToken=" + token + ", hash=SHA-256"}},
		}, nil
	}

	if valid != "" && c.Auth != "BEARER authToken="+valid {
		return &transport.Response{StatusCode: http.StatusForbidden, Status: "Forbidden", Header: http.Header{}}, nil
	}
	if handler == nil {
		return &transport.Response{StatusCode: http.StatusNotFound, Status: "Not Found", Header: http.Header{}}, nil
	}

	req := grid.New()
	if method == http.MethodPost && body != "" {
		if g, _, err := (codec.Zinc{}).Decode(body); err == nil {
			req = g
		}
	}
	return handler(c, req), nil
}

func zinc(body string) *transport.Response {
	return &transport.Response{
		StatusCode: http.StatusOK,
		Status:     "OK",
		Header:     http.Header{"Content-Type": {"text/zinc; charset=utf-8"}},
		Body:       body,
	}
}

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/haystack/grid"
	"github.com/c360studio/haystack/session"
)

// Result statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// OpRequest asks for one Haystack operation. Request holds name=value pairs.
type OpRequest struct {
	Method  string `json:"method,omitempty"`
	Op      string `json:"op"`
	Request string `json:"request,omitempty"`
	Status  string `json:"status,omitempty"`
}

// OpResult carries the raw response body of an operation.
type OpResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Response string `json:"response,omitempty"`
}

// DatasetRequest reads entities matching Filter, written as
// "name=value,...;col1,col2" where the part after ; selects columns.
type DatasetRequest struct {
	Filter string `json:"filter"`
	Status string `json:"status,omitempty"`
}

// DatasetResult holds the column names and the first row's values, both
// comma separated.
type DatasetResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Labels string `json:"labels"`
	Values string `json:"values"`
}

// ValueRequest reads one entity, using the DatasetRequest filter syntax.
type ValueRequest struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// ValueResult holds the first row's values, or the error message.
type ValueResult struct {
	Status string `json:"status"`
	Value  string `json:"value"`
}

// Responder registers request/reply handlers. *natsclient.Client
// satisfies it; cancelling ctx removes the subscription.
type Responder interface {
	SubscribeForRequests(ctx context.Context, subject string,
		handler func(ctx context.Context, data []byte) ([]byte, error)) (*natsclient.Subscription, error)
}

// Provider answers one-shot requests, each with its own session.
type Provider struct {
	cfg     session.Config
	opts    []session.Option
	logger  *slog.Logger
	metrics *Metrics
}

// NewProvider creates a Provider. opts are applied to every session it opens.
func NewProvider(cfg session.Config, logger *slog.Logger, metrics *Metrics, opts ...session.Option) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		cfg:     cfg,
		opts:    append([]session.Option{session.WithLogger(logger)}, opts...),
		logger:  logger,
		metrics: metrics,
	}
}

// run opens a session, sends one request and ends the session.
func (p *Provider) run(ctx context.Context, method, op, pairs string) (*session.Response, error) {
	s, err := session.New(p.cfg, p.opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := s.End(context.WithoutCancel(ctx)); err != nil {
			p.logger.Debug("Failed to end provider session", "error", err)
		}
	}()

	return s.Request(ctx, session.Request{
		Op:     op,
		Method: strings.ToUpper(method),
		Grid:   grid.Parse(pairs),
	})
}

// FetchOp runs op with the name=value pairs in request.
func (p *Provider) FetchOp(ctx context.Context, method, op, request string) OpResult {
	res, err := p.run(ctx, method, op, request)
	switch {
	case err != nil:
		return OpResult{Status: StatusError, Error: err.Error()}
	case res.Err != "":
		return OpResult{Status: StatusError, Error: res.Err, Response: res.Body}
	}
	return OpResult{Status: StatusOK, Response: res.Body}
}

// splitFilter separates "pairs;col1,col2" into pairs and column names.
func splitFilter(filter string) (string, []string) {
	pairs, cols, ok := strings.Cut(filter, ";")
	if !ok {
		return pairs, nil
	}
	return pairs, strings.Split(cols, ",")
}

// firstRow joins the display values of row 0.
func firstRow(g *grid.Grid) string {
	if g.Rows() == 0 {
		return ""
	}
	values := make([]string, g.Cols())
	for x := range values {
		values[x] = g.Display(x, 0)
	}
	return strings.Join(values, ",")
}

func (p *Provider) read(ctx context.Context, filter string) (*grid.Grid, error) {
	pairs, cols := splitFilter(filter)
	res, err := p.run(ctx, "", "read", pairs)
	if err != nil {
		return nil, err
	}
	if res.Err != "" {
		return nil, errors.New(res.Err)
	}
	if cols != nil {
		res.Grid.Project(cols...)
	}
	return res.Grid, nil
}

// FetchDataset reads the entities matching filter.
func (p *Provider) FetchDataset(ctx context.Context, filter string) DatasetResult {
	g, err := p.read(ctx, filter)
	if err != nil {
		return DatasetResult{Status: StatusError, Error: err.Error()}
	}
	return DatasetResult{
		Status: StatusOK,
		Labels: strings.Join(g.Names(), ","),
		Values: firstRow(g),
	}
}

// FetchValue reads one entity.
func (p *Provider) FetchValue(ctx context.Context, id string) ValueResult {
	g, err := p.read(ctx, id)
	if err != nil {
		return ValueResult{Status: StatusError, Value: err.Error()}
	}
	return ValueResult{Status: StatusOK, Value: firstRow(g)}
}

// processed reports whether a request already carries a result status.
func processed(status string) bool {
	return status == StatusOK || status == StatusError
}

// HandleOp is the request/reply handler for OpRequest.
func (p *Provider) HandleOp(ctx context.Context, data []byte) ([]byte, error) {
	var req OpRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return p.reply("op", OpResult{Status: StatusError, Error: "invalid request: " + err.Error()})
	}
	if processed(req.Status) {
		return data, nil
	}
	p.logger.Debug("Provider op request", "op", req.Op, "method", req.Method)
	return p.reply("op", p.FetchOp(ctx, req.Method, req.Op, req.Request))
}

// HandleDataset is the request/reply handler for DatasetRequest.
func (p *Provider) HandleDataset(ctx context.Context, data []byte) ([]byte, error) {
	var req DatasetRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return p.reply("dataset", DatasetResult{Status: StatusError, Error: "invalid request: " + err.Error()})
	}
	if processed(req.Status) {
		return data, nil
	}
	p.logger.Debug("Provider dataset request", "filter", req.Filter)
	return p.reply("dataset", p.FetchDataset(ctx, req.Filter))
}

// HandleValue is the request/reply handler for ValueRequest.
func (p *Provider) HandleValue(ctx context.Context, data []byte) ([]byte, error) {
	var req ValueRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return p.reply("value", ValueResult{Status: StatusError, Value: "invalid request: " + err.Error()})
	}
	if processed(req.Status) {
		return data, nil
	}
	p.logger.Debug("Provider value request", "id", req.ID)
	return p.reply("value", p.FetchValue(ctx, req.ID))
}

func (p *Provider) reply(kind string, result any) ([]byte, error) {
	status := StatusError
	switch r := result.(type) {
	case OpResult:
		status = r.Status
	case DatasetResult:
		status = r.Status
	case ValueResult:
		status = r.Status
	}
	p.metrics.request(kind, status)
	return json.Marshal(result)
}

// Serve registers the handlers on <prefix>.op, <prefix>.dataset and
// <prefix>.value. They stay registered until ctx is cancelled.
func (p *Provider) Serve(ctx context.Context, r Responder, prefix string) error {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	handlers := []struct {
		subject string
		fn      func(context.Context, []byte) ([]byte, error)
	}{
		{prefix + ".op", p.HandleOp},
		{prefix + ".dataset", p.HandleDataset},
		{prefix + ".value", p.HandleValue},
	}
	for _, h := range handlers {
		if _, err := r.SubscribeForRequests(ctx, h.subject, h.fn); err != nil {
			return fmt.Errorf("subscribe to %s: %w", h.subject, err)
		}
		p.logger.Info("Provider listening", "subject", h.subject)
	}
	return nil
}

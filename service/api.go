package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/timzifer/cronrule/cron"
	"github.com/timzifer/cronrule/ephemeris"
	"github.com/timzifer/cronrule/trigger"
)

const (
	statusOK    = "OK"
	statusError = "ERROR"

	defaultCount = 5
	maxBodyBytes = 1 << 20
)

// Envelope wraps every API response.
type Envelope struct {
	Status  string  `json:"status"`
	Content Content `json:"content"`
}

// Content carries either the error message or the result.
type Content struct {
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// ParseResult is the structured form of an expression.
type ParseResult struct {
	Expression string         `json:"expression"`
	Year       bool           `json:"year"`
	Fields     [][]cron.Part  `json:"fields"`
	Blocks     [][]cron.Block `json:"blocks"`
}

// AssembleRequest is the body of the assemble endpoint. Either Fields or
// Blocks is used; Blocks wins when both are present.
type AssembleRequest struct {
	Fields [][]cron.Part `json:"fields,omitempty"`
	Blocks []cron.Block  `json:"blocks,omitempty"`
	Year   bool          `json:"year"`
}

// badRequest marks errors caused by malformed parameters.
type badRequest struct{ error }

func badRequestf(format string, args ...any) error {
	return badRequest{fmt.Errorf(format, args...)}
}

type apiFunc func(r *http.Request) (any, error)

type apiServer struct {
	logger zerolog.Logger
	server *http.Server
	ln     net.Listener
}

func newAPIHandler(s *Service) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/cron/parse", s.endpoint("parse", http.MethodGet, s.handleParse))
	mux.HandleFunc("/api/cron/assemble", s.endpoint("assemble", http.MethodPost, s.handleAssemble))
	mux.HandleFunc("/api/cron/describe", s.endpoint("describe", http.MethodGet, s.handleDescribe))
	mux.HandleFunc("/api/cron/check", s.endpoint("check", http.MethodGet, s.handleCheck))
	mux.HandleFunc("/api/cron/next", s.endpoint("next", http.MethodGet, s.handleNext))
	mux.HandleFunc("/api/cron/keywords", s.endpoint("keywords", http.MethodGet, s.handleKeywords))
	mux.HandleFunc("/api/rules", s.endpoint("rules", http.MethodGet, s.handleRules))
	mux.HandleFunc("/api/rules/preview", s.endpoint("preview", http.MethodGet, s.handlePreview))
	mux.HandleFunc("/api/rules/fire", s.endpoint("fire", http.MethodPost, s.handleFire))
	mux.HandleFunc("/healthz", s.endpoint("health", http.MethodGet, func(*http.Request) (any, error) {
		return "ok", nil
	}))
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func newAPIServer(listen string, handler http.Handler, logger zerolog.Logger) (*apiServer, error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	server := &apiServer{logger: logger, server: srv, ln: ln}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("api server stopped")
		}
	}()

	logger.Info().Str("listen", ln.Addr().String()).Msg("api started")
	return server, nil
}

func (s *apiServer) close() {
	if s == nil || s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil && err != context.Canceled {
		s.logger.Error().Err(err).Msg("shutdown api")
	}
}

// endpoint wraps fn with the method check, the envelope and request telemetry.
// Domain errors are reported with status 200, malformed parameters with 400.
func (s *Service) endpoint(name, method string, fn apiFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		start := time.Now()
		code := http.StatusOK
		env := Envelope{Status: statusOK}

		result, err := fn(r)
		if err == nil {
			env.Content.Result, err = json.Marshal(result)
		}
		if err != nil {
			env = Envelope{Status: statusError, Content: Content{Error: err.Error()}}
			var bad badRequest
			if errors.As(err, &bad) {
				code = http.StatusBadRequest
			}
		}

		s.telemetry.ObserveRequest(name, env.Status, time.Since(start))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(env); err != nil {
			s.logger.Error().Err(err).Str("endpoint", name).Msg("encode api response")
		}
	}
}

func requireParam(r *http.Request, name string) (string, error) {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	if value == "" {
		return "", badRequestf("parameter %q is required", name)
	}
	return value, nil
}

func (s *Service) handleParse(r *http.Request) (any, error) {
	text, err := requireParam(r, "expr")
	if err != nil {
		return nil, err
	}
	expr, err := cron.Parse(text)
	if err != nil {
		return nil, err
	}
	blocks, err := cron.Blocks(expr)
	if err != nil {
		return nil, err
	}
	fields := make([][]cron.Part, 0, expr.Len())
	for _, f := range cron.Fields()[:expr.Len()] {
		fields = append(fields, expr.Field(f))
	}
	return ParseResult{Expression: expr.String(), Year: expr.HasYear(), Fields: fields, Blocks: blocks}, nil
}

func (s *Service) handleAssemble(r *http.Request) (any, error) {
	var req AssembleRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, badRequestf("invalid request: %v", err)
	}
	if len(req.Fields) > cron.FieldCount {
		return nil, badRequestf("at most %d fields", cron.FieldCount)
	}

	var draft cron.Draft
	if len(req.Blocks) > 0 {
		d, err := cron.DraftFromBlocks(req.Blocks, req.Year)
		if err != nil {
			return nil, err
		}
		draft = d
	} else {
		draft.Year = req.Year
		for i, parts := range req.Fields {
			draft.Fields[i] = parts
		}
	}

	assembly := cron.Assemble(draft)
	if assembly.Valid {
		if _, err := cron.Parse(assembly.Text); err != nil {
			return nil, err
		}
	}
	return assembly, nil
}

func (s *Service) handleDescribe(r *http.Request) (any, error) {
	text, err := requireParam(r, "expr")
	if err != nil {
		return nil, err
	}
	locale := s.locale
	if requested := strings.TrimSpace(r.URL.Query().Get("locale")); requested != "" {
		locale = requested
	}
	return s.describer.Describe(text, locale), nil
}

func (s *Service) handleCheck(r *http.Request) (any, error) {
	text, err := requireParam(r, "expr")
	if err != nil {
		return nil, err
	}
	raw, err := requireParam(r, "date")
	if err != nil {
		return nil, err
	}
	date, err := trigger.ParseDate(raw, s.resolver.Location)
	if err != nil {
		return nil, badRequest{err}
	}
	trig, err := s.resolver.Resolve(text)
	if err != nil {
		return nil, err
	}
	return trig.Check(s.now(), date), nil
}

func (s *Service) handleNext(r *http.Request) (any, error) {
	text, err := requireParam(r, "expr")
	if err != nil {
		return nil, err
	}
	count, err := countParam(r)
	if err != nil {
		return nil, err
	}
	from := s.now().In(s.resolver.Location)
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		if from, err = trigger.ParseDate(raw, s.resolver.Location); err != nil {
			return nil, badRequest{err}
		}
	}
	trig, err := s.resolver.Resolve(text)
	if err != nil {
		return nil, err
	}
	times, err := trig.Next(from, count)
	if err != nil {
		return nil, err
	}
	result := make([]string, 0, len(times))
	for _, t := range times {
		result = append(result, t.Format(time.RFC3339))
	}
	return result, nil
}

func countParam(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("count"))
	if raw == "" {
		return defaultCount, nil
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 1 || count > ephemeris.MaxCount {
		return 0, badRequestf("count must be between 1 and %d", ephemeris.MaxCount)
	}
	return count, nil
}

// Keywords lists the keywords accepted in place of a cron expression.
type Keywords struct {
	Ephemeris  []string `json:"ephemeris"`
	Predefined []string `json:"predefined"`
	Locales    []string `json:"locales"`
}

func (s *Service) handleKeywords(*http.Request) (any, error) {
	return Keywords{
		Ephemeris:  cron.EphemerisKeywords(),
		Predefined: cron.PredefinedKeywords(),
		Locales:    cron.SupportedLocales(),
	}, nil
}

func (s *Service) handleRules(*http.Request) (any, error) {
	return s.runner.Status(), nil
}

func (s *Service) handlePreview(r *http.Request) (any, error) {
	count, err := countParam(r)
	if err != nil {
		return nil, err
	}
	return s.Preview(r.Context(), count)
}

// FireResult reports a manual rule execution.
type FireResult struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
}

func (s *Service) handleFire(r *http.Request) (any, error) {
	id, err := requireParam(r, "id")
	if err != nil {
		return nil, err
	}
	rule, ok := s.runner.Rule(id)
	if !ok {
		return nil, fmt.Errorf("unknown rule %q", id)
	}
	outcome := s.runner.Fire(r.Context(), rule, s.now().In(s.resolver.Location))
	return FireResult{ID: id, Outcome: string(outcome)}, nil
}

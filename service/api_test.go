package service

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/cronrule/config"
	"github.com/timzifer/cronrule/cron"
	"github.com/timzifer/cronrule/telemetry"
)

type requestRecorder struct {
	telemetry.Collector
	mu       sync.Mutex
	observed []string
}

func (r *requestRecorder) ObserveRequest(endpoint, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, endpoint+":"+status)
}

func (r *requestRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.observed...)
}

func newAPITestServer(t *testing.T, cfg *config.Config, opts ...Option) (*Service, *recordingPublisher, *httptest.Server) {
	t.Helper()
	svc, pub := newTestService(t, cfg, opts...)
	server := httptest.NewServer(svc.Handler())
	t.Cleanup(server.Close)
	return svc, pub, server
}

func getEnvelope(t *testing.T, server *httptest.Server, path string, params url.Values) (int, Envelope) {
	t.Helper()
	target := server.URL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	resp, err := http.Get(target)
	require.NoError(t, err)
	return decodeEnvelope(t, resp)
}

func decodeEnvelope(t *testing.T, resp *http.Response) (int, Envelope) {
	t.Helper()
	defer resp.Body.Close()
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var env Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func requireResult(t *testing.T, env Envelope, out any) {
	t.Helper()
	require.Equal(t, statusOK, env.Status, env.Content.Error)
	require.NoError(t, json.Unmarshal(env.Content.Result, out))
}

func TestParseEndpoint(t *testing.T) {
	_, _, server := newAPITestServer(t, testConfig())

	code, env := getEnvelope(t, server, "/api/cron/parse", url.Values{"expr": {"*/5 0 L * ? 2030"}})
	require.Equal(t, http.StatusOK, code)
	var result ParseResult
	requireResult(t, env, &result)
	require.Equal(t, "0/5 0 L * ? 2030", result.Expression)
	require.True(t, result.Year)
	require.Len(t, result.Fields, cron.FieldCount)
	require.Equal(t, []cron.Part{{Kind: cron.EachFrom, Values: []int{0, 5}}}, result.Fields[0])
	require.Equal(t, cron.BlockDayLast, result.Blocks[2][0].Type)

	code, env = getEnvelope(t, server, "/api/cron/parse", url.Values{"expr": {"60 * * * *"}})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, statusError, env.Status)
	require.Equal(t, "Error in field 'minute' value (60) out of range 0 to 59", env.Content.Error)

	code, env = getEnvelope(t, server, "/api/cron/parse", nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, statusError, env.Status)
	require.Contains(t, env.Content.Error, `"expr"`)
}

func TestAssembleEndpoint(t *testing.T) {
	_, _, server := newAPITestServer(t, testConfig())
	post := func(body string) (int, Envelope) {
		resp, err := http.Post(server.URL+"/api/cron/assemble", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		return decodeEnvelope(t, resp)
	}

	_, env := post(`{"fields":[[{"kind":"at","values":[5]}]]}`)
	var assembly cron.Assembly
	requireResult(t, env, &assembly)
	require.Equal(t, cron.Assembly{Text: "5", Valid: false, Missing: "hour"}, assembly)

	_, env = post(`{"fields":[[{"kind":"at","values":[0]}],[{"kind":"from_to","values":[8,18]}],[{"kind":"all"}],[{"kind":"all"}],[{"kind":"no_specific"}]]}`)
	assembly = cron.Assembly{}
	requireResult(t, env, &assembly)
	require.Equal(t, cron.Assembly{Text: "0 8-18 * * ?", Valid: true}, assembly)

	_, env = post(`{"blocks":[
		{"type":"cron_minute_at","field":"minute","kind":"at","values":{"value":15}},
		{"type":"cron_hour_all","field":"hour","kind":"all"},
		{"type":"cron_day_nospecific","field":"day_of_month","kind":"no_specific"},
		{"type":"cron_month_all","field":"month","kind":"all"},
		{"type":"cron_dow_nth","field":"day_of_week","kind":"nth_weekday_of_month","values":{"weekday":1,"occurrence":3}}
	]}`)
	requireResult(t, env, &assembly)
	require.Equal(t, "15 * ? * 1#3", assembly.Text)

	_, env = post(`{"fields":[[{"kind":"at","values":[0]}],[{"kind":"at","values":[0]}],[{"kind":"no_specific"}],[{"kind":"all"}],[{"kind":"no_specific"}]]}`)
	require.Equal(t, statusError, env.Status)

	code, env := post(`{"fields":`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, env.Content.Error, "invalid request")

	code, _ = post(`{"unknown":true}`)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestDescribeEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Locale = "de"
	_, _, server := newAPITestServer(t, cfg)

	var desc cron.Description
	_, env := getEnvelope(t, server, "/api/cron/describe", url.Values{"expr": {"0 12 * * *"}})
	requireResult(t, env, &desc)
	require.Equal(t, cron.Description{Regime: cron.RegimeCron, Text: "de: 0 12 * * *"}, desc)

	_, env = getEnvelope(t, server, "/api/cron/describe", url.Values{"expr": {"0 12 * * *"}, "locale": {"fr"}})
	requireResult(t, env, &desc)
	require.Equal(t, "fr: 0 12 * * *", desc.Text)

	_, env = getEnvelope(t, server, "/api/cron/describe", url.Values{"expr": {"@fullmoon"}})
	requireResult(t, env, &desc)
	require.Equal(t, cron.RegimeEphemeris, desc.Regime)

	_, env = getEnvelope(t, server, "/api/cron/describe", url.Values{"expr": {"every tuesday"}})
	requireResult(t, env, &desc)
	require.Equal(t, cron.Description{Regime: cron.RegimeUnknown, Text: cron.FallbackDescription}, desc)
}

func TestCheckEndpoint(t *testing.T) {
	_, _, server := newAPITestServer(t, testConfig())

	var check struct {
		Now  bool `json:"now"`
		Date bool `json:"date"`
	}
	_, env := getEnvelope(t, server, "/api/cron/check", url.Values{"expr": {"0 12 * * 6"}, "date": {"2024,6,17,12,0"}})
	requireResult(t, env, &check)
	require.True(t, check.Now)
	require.False(t, check.Date)

	_, env = getEnvelope(t, server, "/api/cron/check", url.Values{"expr": {"@daily"}, "date": {"2024,6,17,0,0"}})
	requireResult(t, env, &check)
	require.False(t, check.Now)
	require.True(t, check.Date)

	code, env := getEnvelope(t, server, "/api/cron/check", url.Values{"expr": {"0 12 * * 6"}, "date": {"2024,2,30,0,0"}})
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, env.Content.Error, "invalid date")

	code, env = getEnvelope(t, server, "/api/cron/check", url.Values{"expr": {"@sometimes"}, "date": {"2024,2,3,0,0"}})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, statusError, env.Status)
}

func TestNextEndpoint(t *testing.T) {
	_, _, server := newAPITestServer(t, testConfig())

	var times []string
	_, env := getEnvelope(t, server, "/api/cron/next", url.Values{"expr": {"0 12 * * *"}, "count": {"2"}})
	requireResult(t, env, &times)
	require.Equal(t, []string{"2024-06-16T12:00:00Z", "2024-06-17T12:00:00Z"}, times)

	_, env = getEnvelope(t, server, "/api/cron/next", url.Values{"expr": {"@hourly"}, "date": {"2025,1,1,10,30"}})
	requireResult(t, env, &times)
	require.Len(t, times, defaultCount)
	require.Equal(t, "2025-01-01T11:00:00Z", times[0])

	_, env = getEnvelope(t, server, "/api/cron/next", url.Values{"expr": {"0 0 30 2 *"}})
	require.Equal(t, statusError, env.Status)
	require.Equal(t, "no next date", env.Content.Error)

	_, env = getEnvelope(t, server, "/api/cron/next", url.Values{"expr": {"@sunrise"}})
	require.Equal(t, statusError, env.Status)

	for _, count := range []string{"0", "101", "many"} {
		code, _ := getEnvelope(t, server, "/api/cron/next", url.Values{"expr": {"@hourly"}, "count": {count}})
		require.Equal(t, http.StatusBadRequest, code, count)
	}
}

func TestNextEndpointEphemeris(t *testing.T) {
	cfg := testConfig()
	cfg.Location = config.LocationConfig{Name: "Berlin", Latitude: coordinate("52.52"), Longitude: coordinate("13.405"), TimeZone: "Europe/Berlin"}
	_, _, server := newAPITestServer(t, cfg)

	var times []string
	_, env := getEnvelope(t, server, "/api/cron/next", url.Values{"expr": {"@sunset"}, "count": {"3"}})
	requireResult(t, env, &times)
	require.Len(t, times, 3)
	first, err := time.Parse(time.RFC3339, times[0])
	require.NoError(t, err)
	require.Equal(t, 2024, first.Year())
	require.Equal(t, time.June, first.Month())
	require.Equal(t, 15, first.Day())
	require.True(t, strings.HasSuffix(times[0], "+02:00"), times[0])
}

func TestRulesEndpoints(t *testing.T) {
	_, pub, server := newAPITestServer(t, testConfig())

	var status []map[string]any
	_, env := getEnvelope(t, server, "/api/rules", nil)
	requireResult(t, env, &status)
	require.Len(t, status, 3)
	require.Equal(t, "noon", status[0]["id"])
	require.Equal(t, "2024-06-16T12:00:00Z", status[0]["next"])

	resp, err := http.Post(server.URL+"/api/rules/fire?id=noon", "application/json", nil)
	require.NoError(t, err)
	_, env = decodeEnvelope(t, resp)
	var fired FireResult
	requireResult(t, env, &fired)
	require.Equal(t, FireResult{ID: "noon", Outcome: string(telemetry.OutcomeFired)}, fired)
	sent := pub.sent()
	require.Len(t, sent, 1)
	require.Equal(t, "home/noon", sent[0].Topic)

	resp, err = http.Post(server.URL+"/api/rules/fire?id=weekdays", "application/json", nil)
	require.NoError(t, err)
	_, env = decodeEnvelope(t, resp)
	requireResult(t, env, &fired)
	require.Equal(t, string(telemetry.OutcomeSkipped), fired.Outcome)

	resp, err = http.Post(server.URL+"/api/rules/fire?id=ghost", "application/json", nil)
	require.NoError(t, err)
	_, env = decodeEnvelope(t, resp)
	require.Equal(t, `unknown rule "ghost"`, env.Content.Error)

	var previews []RulePreview
	_, env = getEnvelope(t, server, "/api/rules/preview", url.Values{"count": {"1"}})
	requireResult(t, env, &previews)
	require.Len(t, previews, 3)
	require.Len(t, previews[0].Next, 1)
}

func TestKeywordsAndHealth(t *testing.T) {
	_, _, server := newAPITestServer(t, testConfig())

	var keywords Keywords
	_, env := getEnvelope(t, server, "/api/cron/keywords", nil)
	requireResult(t, env, &keywords)
	require.Contains(t, keywords.Ephemeris, "@fullmoon")
	require.Contains(t, keywords.Predefined, "@hourly")
	require.Contains(t, keywords.Locales, "en")

	var health string
	_, env = getEnvelope(t, server, "/healthz", nil)
	requireResult(t, env, &health)
	require.Equal(t, "ok", health)
}

func TestMethodNotAllowed(t *testing.T) {
	_, _, server := newAPITestServer(t, testConfig())
	resp, err := http.Post(server.URL+"/api/cron/parse?expr=*", "application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(server.URL + "/api/cron/assemble")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRequestTelemetryAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "cronrule_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	recorder := &requestRecorder{Collector: telemetry.Noop()}
	_, _, server := newAPITestServer(t, testConfig(), WithTelemetry(recorder), WithGatherer(reg))

	getEnvelope(t, server, "/api/cron/parse", url.Values{"expr": {"* * * * *"}})
	getEnvelope(t, server, "/api/cron/parse", url.Values{"expr": {"x * * * *"}})
	require.Equal(t, []string{"parse:OK", "parse:ERROR"}, recorder.list())

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "cronrule_test_total 1")
}

func TestMetricsDisabledWithoutTelemetry(t *testing.T) {
	_, _, server := newAPITestServer(t, testConfig())
	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

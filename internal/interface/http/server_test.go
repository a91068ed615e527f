package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alem-hub/class-grouper/internal/application/command"
	"github.com/alem-hub/class-grouper/internal/application/query"
	"github.com/alem-hub/class-grouper/internal/domain/grouping"
	"github.com/alem-hub/class-grouper/internal/domain/shared"
	"github.com/alem-hub/class-grouper/internal/domain/student"
	"github.com/alem-hub/class-grouper/internal/infrastructure/ratelimit"
	"github.com/alem-hub/class-grouper/internal/interface/http/handlers"
	"github.com/alem-hub/class-grouper/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

type memRosters map[string][]student.Record

func (m memRosters) Load(_ context.Context, id string) ([]student.Record, error) {
	r, ok := m[id]
	if !ok {
		return nil, shared.ErrRosterNotFound
	}
	return r, nil
}

func (m memRosters) List(context.Context) ([]student.RosterInfo, error) {
	out := make([]student.RosterInfo, 0, len(m))
	for id, r := range m {
		out = append(out, student.RosterInfo{ID: id, Name: id, StudentCount: len(r), Source: "memory"})
	}
	return out, nil
}

func (m memRosters) Name() string { return "memory" }

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis down")
}

type stubChecker struct{ status handlers.HealthStatus }

func (s stubChecker) Check(context.Context) handlers.HealthStatus { return s.status }

func makeStudents(n int) []student.Record {
	out := make([]student.Record, n)
	for i := range out {
		out[i] = student.Record{
			student.FieldStudentID: strconv.Itoa(i + 1),
			student.FieldAge:       strconv.Itoa(8 + i%6),
		}
	}
	return out
}

type serverOption func(*Config, *Dependencies)

func newTestServer(t *testing.T, opts ...serverOption) *Server {
	t.Helper()

	rosters := memRosters{"winter": makeStudents(7)}
	engine := grouping.NewEngine(grouping.WithClusterer(&grouping.KMeans{
		MaxIterations: grouping.DefaultMaxIterations,
		Tolerance:     grouping.DefaultTolerance,
		Seed:          7,
	}))

	cfg := DefaultConfig()
	deps := Dependencies{
		GroupStudentsHandler: command.NewGroupStudentsHandler(engine, rosters,
			command.GroupStudentsConfig{DefaultGroupSize: 3, MaxStudents: 100}, logger.Nop()),
		GetRosterHandler:   query.NewGetRosterHandler(rosters),
		ListRostersHandler: query.NewListRostersHandler(rosters),
		Logger:             logger.Nop(),
		Version:            "test",
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	return NewServer(cfg, deps)
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	Meta      *ResponseMeta   `json:"meta"`
	RequestID string          `json:"request_id"`
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func studentsJSON(t *testing.T, n int) string {
	t.Helper()
	b, err := json.Marshal(makeStudents(n))
	require.NoError(t, err)
	return string(b)
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUPING
// ══════════════════════════════════════════════════════════════════════════════

func TestLegacyGroupStudents(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/group-students",
		`{"students":`+studentsJSON(t, 5)+`,"groupSize":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp LegacyGroupsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Groups, 3)
	assert.Len(t, resp.Groups[0], 2)
	assert.Len(t, resp.Groups[1], 2)
	assert.Len(t, resp.Groups[2], 1)

	seen := map[string]bool{}
	for _, g := range resp.Groups {
		for _, st := range g {
			seen[st.ID()] = true
		}
	}
	assert.Len(t, seen, 5)
}

func TestLegacyGroupStudents_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero group size", `{"students":[{"Student_ID":"1"}],"groupSize":0}`},
		{"missing group size", `{"students":[{"Student_ID":"1"}]}`},
		{"empty roster", `{"students":[],"groupSize":3}`},
		{"malformed json", `{"students":`},
		{"nested field", `{"students":[{"Age":{"years":3}}],"groupSize":3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := do(t, s, http.MethodPost, "/api/group-students", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp LegacyErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "invalid_argument", resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestGroupStudents_Envelope(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/groups",
		strings.NewReader(`{"students":`+studentsJSON(t, 7)+`,"groupSize":3}`))
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, "req-1", env.RequestID)

	var view GroupsView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, 7, view.StudentCount)
	assert.Equal(t, 3, view.GroupSize)
	require.Len(t, view.Groups, 3)
	for i, g := range view.Groups {
		assert.Equal(t, strconv.Itoa(i), g.Key)
		assert.Equal(t, "Group "+strconv.Itoa(i+1), g.GroupID)
		assert.Equal(t, len(g.Students), g.Size)
	}
	assert.Equal(t, []int{3, 3, 1}, []int{view.Groups[0].Size, view.Groups[1].Size, view.Groups[2].Size})
	assert.Len(t, view.Diagnostics.ClusterSizes, 3)
}

func TestGroupStudents_RequestIDGenerated(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/groups", `{"students":`+studentsJSON(t, 2)+`,"groupSize":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	id := rec.Header().Get("X-Request-ID")
	assert.Len(t, id, 36)
	assert.Equal(t, id, decodeEnvelope(t, rec).RequestID)
}

func TestGroupStudents_InvalidArgument(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/groups", `{"students":[{"Age":"9"}],"groupSize":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_argument", env.Error.Code)
}

func TestGroupRoster(t *testing.T) {
	s := newTestServer(t)

	t.Run("default size", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/v1/rosters/winter/groups", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var view GroupsView
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &view))
		assert.Equal(t, "winter", view.RosterID)
		assert.Equal(t, 3, view.GroupSize)
		assert.Len(t, view.Groups, 3)
	})

	t.Run("explicit size", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/v1/rosters/winter/groups?size=7", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var view GroupsView
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &view))
		require.Len(t, view.Groups, 1)
		assert.Equal(t, 7, view.Groups[0].Size)
	})

	t.Run("bad size", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/v1/rosters/winter/groups?size=abc", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown roster", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/v1/rosters/summer/groups", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeEnvelope(t, rec).Error.Code)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ROSTERS
// ══════════════════════════════════════════════════════════════════════════════

func TestListRosters(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/v1/rosters", "")
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	var rosters []student.RosterInfo
	require.NoError(t, json.Unmarshal(env.Data, &rosters))
	require.Len(t, rosters, 1)
	assert.Equal(t, "winter", rosters[0].ID)
	assert.Equal(t, 7, rosters[0].StudentCount)
	assert.Equal(t, 1, env.Meta.TotalCount)
}

func TestGetRoster(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/v1/rosters/winter/students?page=2&page_size=5", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	env := decodeEnvelope(t, rec)
	var page query.RosterPage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 7, page.Total)
	assert.False(t, page.HasMore)
	require.Len(t, page.Students, 2)
	assert.Equal(t, "6", page.Students[0].ID())

	rec = do(t, s, http.MethodGet, "/api/v1/rosters/winter/students?page_size=7", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/rosters/winter/students?page=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRosters_NoSource(t *testing.T) {
	s := newTestServer(t, func(_ *Config, d *Dependencies) {
		d.GroupStudentsHandler = command.NewGroupStudentsHandler(nil, nil,
			command.GroupStudentsConfig{DefaultGroupSize: 3}, logger.Nop())
		d.GetRosterHandler = nil
		d.ListRostersHandler = nil
	})

	assert.Equal(t, http.StatusNotImplemented, do(t, s, http.MethodGet, "/api/v1/rosters", "").Code)
	assert.Equal(t, http.StatusNotImplemented, do(t, s, http.MethodGet, "/api/v1/rosters/winter/students", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodPost, "/api/v1/rosters/winter/groups", "").Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(_ *Config, d *Dependencies) {
		d.RateLimiter = ratelimit.NewLocal(1, time.Minute)
	})

	first := do(t, s, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

	second := do(t, s, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decodeEnvelope(t, second).Error.Code)
}

func TestRateLimit_FailsOpen(t *testing.T) {
	s := newTestServer(t, func(_ *Config, d *Dependencies) {
		d.RateLimiter = failingLimiter{}
	})

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/live", "").Code)
}

func TestRateLimit_IgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	s := newTestServer(t, func(_ *Config, d *Dependencies) {
		d.RateLimiter = ratelimit.NewLocal(1, time.Minute)
	})

	codes := make([]int, 0, 3)
	for i := range 3 {
		req := httptest.NewRequest(http.MethodGet, "/live", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		req.Header.Set("X-Forwarded-For", "198.51.100."+strconv.Itoa(i+1))
		req.Header.Set("X-Real-IP", "198.51.100."+strconv.Itoa(i+10))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestRateLimit_TrustedProxyForwardsClient(t *testing.T) {
	s := newTestServer(t, func(c *Config, d *Dependencies) {
		c.TrustedProxies = []string{"10.0.0.0/8"}
		d.RateLimiter = ratelimit.NewLocal(1, time.Minute)
	})

	send := func(xff string) int {
		req := httptest.NewRequest(http.MethodGet, "/live", nil)
		req.RemoteAddr = "10.1.2.3:4000"
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("198.51.100.1"))
	assert.Equal(t, http.StatusOK, send("198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.1"))
	// A prepended entry does not change the hop the proxy appended.
	assert.Equal(t, http.StatusTooManyRequests, send("192.0.2.77, 198.51.100.2"))
}

func TestServer_ClientIP(t *testing.T) {
	s := newTestServer(t, func(c *Config, _ *Dependencies) {
		c.TrustedProxies = []string{"10.0.0.0/8", "192.168.1.1", "not-an-ip"}
	})

	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{"untrusted peer", "203.0.113.9:1", "198.51.100.1", "198.51.100.2", "203.0.113.9"},
		{"trusted peer xff", "10.0.0.5:1", "198.51.100.1", "", "198.51.100.1"},
		{"trusted chain", "10.0.0.5:1", "198.51.100.1, 10.0.0.7", "", "198.51.100.1"},
		{"spoofed prefix", "10.0.0.5:1", "1.2.3.4, 198.51.100.1", "", "198.51.100.1"},
		{"all hops trusted", "10.0.0.5:1", "10.0.0.8, 10.0.0.7", "", "10.0.0.8"},
		{"trusted single ip real ip", "192.168.1.1:1", "", "198.51.100.3", "198.51.100.3"},
		{"trusted peer no headers", "10.0.0.5:1", "", "", "10.0.0.5"},
		{"no port", "203.0.113.9", "", "", "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, s.clientIP(req))
		})
	}
}

func TestRequestSizeLimit(t *testing.T) {
	s := newTestServer(t, func(c *Config, _ *Dependencies) {
		c.MaxBodyBytes = 64
	})

	rec := do(t, s, http.MethodPost, "/api/v1/groups", `{"students":`+studentsJSON(t, 10)+`,"groupSize":2}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/groups", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	s := newTestServer(t)
	h := s.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/", "/health", "/healthz", "/ready", "/live"} {
		rec := do(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/missing", "").Code)
}

func TestHealth_Unhealthy(t *testing.T) {
	s := newTestServer(t, func(_ *Config, d *Dependencies) {
		d.HealthChecker = stubChecker{status: handlers.HealthStatus{Message: "Some checks failed: postgres"}}
	})

	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/health", "").Code)

	rec := do(t, s, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "postgres")
}

func TestServer_Lifecycle(t *testing.T) {
	s := newTestServer(t, func(c *Config, _ *Dependencies) {
		c.Host = "127.0.0.1"
		c.Port = 0
	})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	require.Eventually(t, s.IsRunning, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, <-errCh)
	assert.False(t, s.IsRunning())
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(300*time.Millisecond))
	assert.Equal(t, 50, retryAfterSeconds(50*time.Second))
	assert.Equal(t, 51, retryAfterSeconds(50*time.Second+time.Millisecond))
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/alem-hub/class-grouper/internal/application/command"
	"github.com/alem-hub/class-grouper/internal/application/query"
	"github.com/alem-hub/class-grouper/internal/domain/shared"
	"github.com/alem-hub/class-grouper/internal/domain/student"
	"github.com/alem-hub/class-grouper/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":        "Class Grouper API",
		"version":     s.deps.Version,
		"description": "Groups students into balanced classes of similar ability",
		"endpoints": map[string]string{
			"health":          "/health",
			"group_students":  "/api/group-students",
			"groups":          "/api/v1/groups",
			"rosters":         "/api/v1/rosters",
			"roster_groups":   "/api/v1/rosters/{id}/groups",
			"roster_students": "/api/v1/rosters/{id}/students",
		},
	}

	writeJSON(w, r, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		status.Version = s.deps.Version
		if !status.Healthy {
			writeJSON(w, r, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, r, http.StatusOK, status)
		return
	}

	// Default health response
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": s.deps.Version,
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUPING HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// GroupRequest is the body of the grouping endpoints.
type GroupRequest struct {
	Students  []student.Record `json:"students"`
	GroupSize int              `json:"groupSize"`
}

// LegacyGroupsResponse is the bare response of POST /api/group-students.
type LegacyGroupsResponse struct {
	Groups [][]student.Record `json:"groups"`
}

// LegacyErrorResponse is the error body of POST /api/group-students.
type LegacyErrorResponse struct {
	Error APIError `json:"error"`
}

// handleGroupStudentsLegacy handles POST /api/group-students. It keeps the
// original front end's contract: bare {"groups": [...]} on success and only
// 400 or 500 on failure.
func (s *Server) handleGroupStudentsLegacy(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeRaw(w, http.StatusBadRequest, LegacyErrorResponse{
			Error: APIError{Code: "invalid_argument", Message: err.Error()},
		})
		return
	}

	result, err := s.group(r.Context(), command.GroupStudentsCommand{
		Students:  req.Students,
		GroupSize: req.GroupSize,
	})
	if err != nil {
		status, code, message := http.StatusInternalServerError, "internal_error", "Failed to group students"
		if shared.IsInvalidArgument(err) {
			status, code, message = http.StatusBadRequest, "invalid_argument", err.Error()
		}
		writeRaw(w, status, LegacyErrorResponse{Error: APIError{Code: code, Message: message}})
		return
	}

	groups := make([][]student.Record, len(result.Groups))
	for i, g := range result.Groups {
		groups[i] = g
	}
	writeRaw(w, http.StatusOK, LegacyGroupsResponse{Groups: groups})
}

// handleGroupStudents handles POST /api/v1/groups
func (s *Server) handleGroupStudents(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.group(r.Context(), command.GroupStudentsCommand{
		Students:  req.Students,
		GroupSize: req.GroupSize,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, presentGroups(result))
}

// handleGroupRoster handles POST /api/v1/rosters/{id}/groups?size=n
func (s *Server) handleGroupRoster(w http.ResponseWriter, r *http.Request) {
	size, ok := getQueryParamInt(r, "size", s.deps.GroupStudentsHandler.DefaultGroupSize())
	if !ok {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_argument", "size must be an integer")
		return
	}

	result, err := s.group(r.Context(), command.GroupStudentsCommand{
		RosterID:  r.PathValue("id"),
		GroupSize: size,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, presentGroups(result))
}

// group runs the grouping command with the request ID as correlation ID.
func (s *Server) group(ctx context.Context, cmd command.GroupStudentsCommand) (*command.GroupStudentsResult, error) {
	cmd.CorrelationID = getRequestID(ctx)
	return s.deps.GroupStudentsHandler.Handle(ctx, cmd)
}

// ─────────────────────────────────────────────────────────────────────────────
// Presenter
// ─────────────────────────────────────────────────────────────────────────────

// GroupView is one numbered group as shown in the groups table.
type GroupView struct {
	Key      string           `json:"key"`
	GroupID  string           `json:"group_id"`
	Size     int              `json:"size"`
	Students []student.Record `json:"students"`
}

// GroupsView is the response body of the v1 grouping endpoints.
type GroupsView struct {
	RosterID     string          `json:"roster_id,omitempty"`
	GroupSize    int             `json:"group_size"`
	StudentCount int             `json:"student_count"`
	Groups       []GroupView     `json:"groups"`
	Diagnostics  DiagnosticsView `json:"diagnostics"`
}

// DiagnosticsView describes how the clustering went.
type DiagnosticsView struct {
	ClusterSizes []int `json:"cluster_sizes"`
	Iterations   int   `json:"iterations"`
	Converged    bool  `json:"converged"`
	Degraded     bool  `json:"degraded"`
	DurationMS   int64 `json:"duration_ms"`
}

// presentGroups numbers groups from 1 in partition order.
func presentGroups(result *command.GroupStudentsResult) GroupsView {
	groups := make([]GroupView, len(result.Groups))
	for i, g := range result.Groups {
		groups[i] = GroupView{
			Key:      strconv.Itoa(i),
			GroupID:  "Group " + strconv.Itoa(i+1),
			Size:     len(g),
			Students: g,
		}
	}

	return GroupsView{
		RosterID:     result.RosterID,
		GroupSize:    result.GroupSize,
		StudentCount: result.StudentCount,
		Groups:       groups,
		Diagnostics: DiagnosticsView{
			ClusterSizes: result.ClusterSizes,
			Iterations:   result.Iterations,
			Converged:    result.Converged,
			Degraded:     result.Degraded,
			DurationMS:   result.Duration.Milliseconds(),
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListRosters handles GET /api/v1/rosters
func (s *Server) handleListRosters(w http.ResponseWriter, r *http.Request) {
	if s.deps.ListRostersHandler == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Roster source not configured")
		return
	}

	rosters, err := s.deps.ListRostersHandler.Handle(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, rosters, &ResponseMeta{TotalCount: len(rosters)})
}

// handleGetRoster handles GET /api/v1/rosters/{id}/students
func (s *Server) handleGetRoster(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetRosterHandler == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Roster source not configured")
		return
	}

	page, ok := getQueryParamInt(r, "page", 1)
	if !ok {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_argument", "page must be an integer")
		return
	}
	pageSize, ok := getQueryParamInt(r, "page_size", query.DefaultPageSize)
	if !ok {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_argument", "page_size must be an integer")
		return
	}

	result, err := s.deps.GetRosterHandler.Handle(r.Context(), query.GetRosterQuery{
		RosterID: r.PathValue("id"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, result, &ResponseMeta{
		TotalCount: result.Total,
		Page:       result.Page,
		PageSize:   result.PageSize,
		HasMore:    result.HasMore,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeError maps err onto a status code and error envelope. Internal error
// details are logged, not returned.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &tooLarge):
		writeJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
	case shared.IsInvalidArgument(err):
		writeJSONError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
	case shared.IsNotFound(err):
		writeJSONError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, shared.ErrServiceUnavailable):
		writeJSONError(w, r, http.StatusServiceUnavailable, "unavailable", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSONError(w, r, http.StatusServiceUnavailable, "unavailable", "Request cancelled")
	default:
		logger.FromContext(r.Context()).Error("request failed",
			logger.String("path", r.URL.Path),
			logger.Err(err),
		)
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

// decodeJSON decodes the request body into v. Malformed bodies are invalid
// arguments; oversized ones keep the *http.MaxBytesError in the chain.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return shared.WrapError("http", "Decode", shared.ErrValueOutOfRange, "request body too large", err)
		}
		if shared.IsInvalidArgument(err) {
			return err
		}
		return shared.WrapError("http", "Decode", shared.ErrInvalidFormat, "request body must be a JSON object", err)
	}
	return nil
}

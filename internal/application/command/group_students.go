// Package command contains write-side use cases (CQRS - Commands).
// Grouping writes nothing; it lives here because it runs the engine on
// caller-supplied input rather than reading stored state.
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/class-grouper/internal/domain/grouping"
	"github.com/alem-hub/class-grouper/internal/domain/shared"
	"github.com/alem-hub/class-grouper/internal/domain/student"
	"github.com/alem-hub/class-grouper/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GROUP STUDENTS COMMAND
// Partitions a roster into groups of similar students. The roster comes
// either inline with the request or from the configured roster source.
// ══════════════════════════════════════════════════════════════════════════════

// GroupStudentsCommand contains the data to group a roster.
type GroupStudentsCommand struct {
	// Students is the inline roster. Mutually exclusive with RosterID.
	Students []student.Record

	// RosterID names a roster in the configured source.
	RosterID string

	// GroupSize is the target number of students per group.
	GroupSize int

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c GroupStudentsCommand) Validate() error {
	if c.RosterID != "" && len(c.Students) > 0 {
		return shared.NewDomainError("grouping", "Group", shared.ErrInvalidArgument,
			"students and roster ID are mutually exclusive")
	}
	if c.RosterID != "" {
		if err := student.ValidateRosterID(c.RosterID); err != nil {
			return err
		}
	}
	if c.GroupSize <= 0 {
		return shared.ErrInvalidGroupSize
	}
	return nil
}

// GroupStudentsResult contains the grouping and its diagnostics.
type GroupStudentsResult struct {
	// Groups is the ordered partition of the roster.
	Groups grouping.Partition

	// RosterID is set when the roster came from a source.
	RosterID string

	StudentCount int
	GroupSize    int

	// ClusterSizes are the k-means cluster sizes before balancing.
	ClusterSizes []int
	Iterations   int
	Converged    bool

	// Degraded is set when clustering failed and students were chunked
	// in input order.
	Degraded bool

	Duration time.Duration
}

// GroupStudentsConfig holds limits applied by the handler.
type GroupStudentsConfig struct {
	// DefaultGroupSize is offered to callers that omit a size.
	DefaultGroupSize int

	// MaxStudents caps the roster size (0 = unlimited).
	MaxStudents int
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GroupStudentsHandler handles the GroupStudentsCommand.
type GroupStudentsHandler struct {
	engine  *grouping.Engine
	rosters student.RosterSource // Optional, needed for RosterID commands
	config  GroupStudentsConfig
	logger  *logger.Logger
}

// NewGroupStudentsHandler creates a new GroupStudentsHandler.
func NewGroupStudentsHandler(
	engine *grouping.Engine,
	rosters student.RosterSource,
	config GroupStudentsConfig,
	log *logger.Logger,
) *GroupStudentsHandler {
	if engine == nil {
		engine = grouping.NewEngine()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GroupStudentsHandler{
		engine:  engine,
		rosters: rosters,
		config:  config,
		logger:  log.With(logger.Component("group_students")),
	}
}

// DefaultGroupSize returns the configured default group size.
func (h *GroupStudentsHandler) DefaultGroupSize() int {
	return h.config.DefaultGroupSize
}

// Handle executes the group students command.
func (h *GroupStudentsHandler) Handle(
	ctx context.Context,
	cmd GroupStudentsCommand,
) (*GroupStudentsResult, error) {
	start := time.Now()

	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	records := cmd.Students
	if cmd.RosterID != "" {
		if h.rosters == nil {
			return nil, shared.NewDomainError("roster", "Load", shared.ErrServiceUnavailable,
				"no roster source configured")
		}

		var err error
		records, err = h.rosters.Load(ctx, cmd.RosterID)
		if err != nil {
			return nil, fmt.Errorf("load roster %s: %w", cmd.RosterID, err)
		}
	}

	if err := student.ValidateRecords(records); err != nil {
		return nil, err
	}
	if h.config.MaxStudents > 0 && len(records) > h.config.MaxStudents {
		return nil, shared.WrapError("grouping", "Group", shared.ErrInvalidArgument,
			fmt.Sprintf("%d students exceeds the limit of %d", len(records), h.config.MaxStudents),
			shared.ErrTooManyStudents)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := h.engine.Run(records, cmd.GroupSize)
	if err != nil {
		return nil, err
	}

	result := &GroupStudentsResult{
		Groups:       out.Partition,
		RosterID:     cmd.RosterID,
		StudentCount: len(records),
		GroupSize:    cmd.GroupSize,
		ClusterSizes: out.ClusterSizes,
		Iterations:   out.Iterations,
		Converged:    out.Converged,
		Degraded:     out.Degraded,
		Duration:     time.Since(start),
	}

	log := h.logger.With(
		logger.String("correlation_id", cmd.CorrelationID),
		logger.StudentCount(result.StudentCount),
		logger.GroupSize(result.GroupSize),
	)
	if cmd.RosterID != "" {
		log = log.With(logger.RosterID(cmd.RosterID))
	}

	if out.Degraded {
		log.Warn("clustering degraded, groups follow input order",
			logger.String("reason", out.DegradeReason),
		)
	}

	log.Info("students grouped",
		logger.Int("groups", len(result.Groups)),
		logger.Ints("cluster_sizes", result.ClusterSizes),
		logger.Int("iterations", result.Iterations),
		logger.Bool("converged", result.Converged),
		logger.Latency(result.Duration),
	)

	return result, nil
}

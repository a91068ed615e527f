package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alem-hub/class-grouper/internal/application/command"
	"github.com/alem-hub/class-grouper/internal/domain/shared"
	"github.com/alem-hub/class-grouper/internal/domain/student"
	"github.com/alem-hub/class-grouper/internal/infrastructure/messaging"
	"github.com/alem-hub/class-grouper/internal/infrastructure/roster/csvsource"
)

// Output formats accepted by --output.
const (
	outputJSON = "json"
	outputYAML = "yaml"
)

var (
	groupCSV    string
	groupRoster string
	groupSize   int
	groupOutput string
	groupSeed   uint64
	groupRemote bool
)

// groupCmd groups a CSV roster and prints the result.
var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Group a roster and print the groups",
	Long: `Group a roster and print the groups as JSON or YAML.

The roster comes from a CSV file with a header row (--csv) or from the
configured roster source (--roster). With --remote the request is sent to a
running service over NATS instead of being computed locally.`,
	Args: cobra.NoArgs,
	RunE: runGroup,
}

func init() {
	f := groupCmd.Flags()
	f.StringVar(&groupCSV, "csv", "", "path to a roster CSV file")
	f.StringVar(&groupRoster, "roster", "", "ID of a roster in the configured source")
	f.IntVar(&groupSize, "size", 0, "students per group (default GROUPING_DEFAULT_SIZE)")
	f.StringVarP(&groupOutput, "output", "o", outputJSON, "output format: json or yaml")
	f.Uint64Var(&groupSeed, "seed", 0, "k-means seed for reproducible groups (default GROUPING_SEED)")
	f.BoolVar(&groupRemote, "remote", false, "send the request to the NATS responder")
	groupCmd.MarkFlagsMutuallyExclusive("csv", "roster")
	groupCmd.MarkFlagsOneRequired("csv", "roster")
}

func runGroup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if groupOutput != outputJSON && groupOutput != outputYAML {
		return shared.NewDomainError("cli", "Group", shared.ErrInvalidArgument,
			fmt.Sprintf("unknown output format %q, want json or yaml", groupOutput))
	}

	size := groupSize
	if size == 0 {
		size = cfg.Grouping.DefaultGroupSize
	}

	var students []student.Record
	if groupCSV != "" {
		records, err := csvsource.ReadFile(groupCSV)
		if err != nil {
			return err
		}
		students = records
	}

	var in infra
	defer in.close()

	var groups [][]student.Record
	if groupRemote {
		if err := in.openNATS(ctx, cfg, log); err != nil {
			return err
		}
		if in.nc == nil {
			return fmt.Errorf("--remote needs NATS_URL")
		}

		res, err := messaging.NewClient(in.nc, natsConfig(cfg)).Group(ctx, messaging.GroupRequest{
			Students:  students,
			RosterID:  groupRoster,
			GroupSize: size,
		})
		if err != nil {
			return err
		}
		groups = res
	} else {
		if groupRoster != "" {
			if err := in.openRosterSource(ctx, cfg, log); err != nil {
				return err
			}
		}

		handler := newGroupStudentsHandler(cfg, groupSeed, in.rosters, log)
		res, err := handler.Handle(ctx, command.GroupStudentsCommand{
			Students:  students,
			RosterID:  groupRoster,
			GroupSize: size,
		})
		if err != nil {
			return err
		}
		for _, g := range res.Groups {
			groups = append(groups, g)
		}
	}

	return writeGroups(cmd.OutOrStdout(), groupOutput, groups)
}

// groupOut is one group as printed by the CLI.
type groupOut struct {
	Group    string           `json:"group" yaml:"group"`
	Size     int              `json:"size" yaml:"size"`
	Students []student.Record `json:"students" yaml:"students"`
}

// writeGroups prints groups numbered from 1 in the given format.
func writeGroups(w io.Writer, format string, groups [][]student.Record) error {
	out := make([]groupOut, len(groups))
	for i, g := range groups {
		out[i] = groupOut{
			Group:    "Group " + strconv.Itoa(i+1),
			Size:     len(g),
			Students: g,
		}
	}

	switch format {
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
}

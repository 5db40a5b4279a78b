package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04"

func newListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show waiting patients in queue order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.queue()
			if err != nil {
				return err
			}
			entries, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No patients waiting")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					strconv.Itoa(e.ActualPosition),
					e.ID.String(),
					e.Name,
					e.Examination,
					strconv.Itoa(e.PatientsAhead),
					formatTime(e.CreatedAt),
				})
			}
			fmt.Fprint(out, renderTable([]column{
				right("#"), left("ID"), left("Name"), left("Examination"), right("Ahead"), left("Waiting since"),
			}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newCompletedCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "completed",
		Short: "Show completed patients, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.queue()
			if err != nil {
				return err
			}
			patients, err := svc.ListCompleted(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, patients)
			}
			if len(patients) == 0 {
				fmt.Fprintln(out, "No completed patients")
				return nil
			}

			rows := make([][]string, 0, len(patients))
			for _, p := range patients {
				completed := ""
				if p.CompletedAt != nil {
					completed = formatTime(*p.CompletedAt)
				}
				rows = append(rows, []string{p.ID.String(), p.Name, p.Examination, completed})
			}
			fmt.Fprint(out, renderTable([]column{
				left("ID"), left("Name"), left("Examination"), left("Completed at"),
			}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add NAME EXAMINATION",
		Short: "Add a patient to the end of the queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.queue()
			if err != nil {
				return err
			}
			patient, err := svc.Add(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s) at position %d\n", patient.Name, patient.ID, patient.QueuePosition)
			return nil
		},
	}
}

func newUpdateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "update ID NAME EXAMINATION",
		Short: "Change a patient's name and examination",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := ctx.queue()
			if err != nil {
				return err
			}
			if err := svc.Update(cmd.Context(), id, args[1], args[2]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", id)
			return nil
		},
	}
}

func newCompleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "complete ID",
		Short: "Mark a waiting patient as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := ctx.queue()
			if err != nil {
				return err
			}
			patient, err := svc.MarkCompleted(cmd.Context(), id)
			if err != nil {
				return err
			}
			if patient == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "No waiting patient with id %s\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Completed %s\n", patient.Name)
			return nil
		},
	}
}

func newRestoreCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restore ID",
		Short: "Put a completed patient back at the end of the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := ctx.queue()
			if err != nil {
				return err
			}
			patient, err := svc.RestorePatient(cmd.Context(), id)
			if err != nil {
				return err
			}
			if patient == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "No completed patient with id %s\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s at position %d\n", patient.Name, patient.QueuePosition)
			return nil
		},
	}
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Delete a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := ctx.queue()
			if err != nil {
				return err
			}
			if err := svc.Remove(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
			return nil
		},
	}
}

func newMoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "move ID POSITION",
		Short: "Move a waiting patient to a new position",
		Long:  "Move a waiting patient to a new position. Positions outside the queue are clamped to the first or last place.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			position, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid position %q", args[1])
			}
			svc, err := ctx.queue()
			if err != nil {
				return err
			}
			if err := svc.Reorder(cmd.Context(), id, position); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Moved %s\n", id)
			return nil
		},
	}
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	var completedOnly bool
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every patient, or only completed ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear without --yes")
			}
			svc, err := ctx.queue()
			if err != nil {
				return err
			}
			if completedOnly {
				if err := svc.ClearCompleted(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cleared completed patients")
				return nil
			}
			if err := svc.ClearAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cleared the queue")
			return nil
		},
	}

	cmd.Flags().BoolVar(&completedOnly, "completed", false, "Only delete completed patients")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm the deletion")
	return cmd
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid patient id %q", raw)
	}
	return id, nil
}

func formatTime(t time.Time) string {
	return t.Local().Format(timeLayout)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

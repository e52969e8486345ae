package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cuongbtq/site-audit/internal/api/dto"
	"github.com/cuongbtq/site-audit/internal/domain"
	"github.com/spf13/cobra"
)

func newSubmitCommand(opts *options) *cobra.Command {
	var wait bool
	var pollInterval time.Duration
	var waitTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Submit a URL for auditing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			ctx := cmd.Context()

			resp, err := client.submit(ctx, args[0])
			if err != nil {
				return err
			}

			if !wait {
				if opts.json {
					return writeJSON(cmd, resp)
				}
				state := "created"
				if resp.Reused {
					state = "reused"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Audit %s %s (status %s)\n", resp.ID, state, resp.Status)
				return nil
			}

			audit, err := waitForAudit(ctx, client, resp.ID, pollInterval, waitTimeout)
			if err != nil {
				return err
			}
			return printAudit(cmd, opts, audit)
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until the audit finishes")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 2*time.Second, "Delay between polls")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 5*time.Minute, "Give up waiting after this long")

	return cmd
}

func newGetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <audit-id>",
		Short: "Show one audit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			audit, err := opts.client().get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printAudit(cmd, opts, audit)
		},
	}
}

func newRecentCommand(opts *options) *cobra.Command {
	var limit int
	var cursor string

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recently updated audits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().recent(cmd.Context(), limit, cursor)
			if err != nil {
				return err
			}

			if opts.json {
				return writeJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			if len(resp.Audits) == 0 {
				fmt.Fprintln(out, "No audits")
				return nil
			}

			rows := make([][]string, 0, len(resp.Audits))
			for _, a := range resp.Audits {
				rows = append(rows, []string{a.ID, a.URL, a.Status, formatScore(a.Score), strconv.Itoa(a.IssueCount), a.UpdatedAt})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "URL", "Status", "Score", "Issues", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			if resp.NextCursor != "" {
				fmt.Fprintf(out, "Next page: --cursor %s\n", resp.NextCursor)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of audits to show")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor from a previous page")

	return cmd
}

func waitForAudit(ctx context.Context, client *apiClient, id string, interval, timeout time.Duration) (dto.AuditDTO, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		audit, err := client.get(ctx, id)
		if err != nil {
			return dto.AuditDTO{}, err
		}
		if domain.Status(audit.Status).IsTerminal() {
			return audit, nil
		}

		select {
		case <-ctx.Done():
			return dto.AuditDTO{}, fmt.Errorf("audit %s still %s: %w", id, audit.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

func printAudit(cmd *cobra.Command, opts *options, audit dto.AuditDTO) error {
	if opts.json {
		return writeJSON(cmd, audit)
	}

	out := cmd.OutOrStdout()
	rows := [][]string{
		{"ID", audit.ID},
		{"URL", audit.URL},
		{"Status", audit.Status},
		{"Created", audit.CreatedAt},
		{"Updated", audit.UpdatedAt},
	}
	if audit.DesktopScreenshot != nil {
		rows = append(rows, []string{"Desktop", *audit.DesktopScreenshot})
	}
	if audit.MobileScreenshot != nil {
		rows = append(rows, []string{"Mobile", *audit.MobileScreenshot})
	}
	if audit.Findings != nil {
		rows = append(rows,
			[]string{"Score", formatScore(audit.Findings.Score)},
			[]string{"Summary", audit.Findings.Summary},
		)
	}
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, nil))

	if audit.Findings != nil && len(audit.Findings.Issues) > 0 {
		issues := make([][]string, 0, len(audit.Findings.Issues))
		for _, issue := range audit.Findings.Issues {
			issues = append(issues, []string{string(issue.Severity), issue.Category, issue.Title})
		}
		fmt.Fprintln(out, renderTable([]string{"Severity", "Category", "Issue"}, issues, nil))
	}

	return nil
}

func formatScore(score *int) string {
	if score == nil {
		return "-"
	}
	return strconv.Itoa(*score)
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"strconv"

	"github.com/civicpulse/engine/internal/domain/issue"
	"github.com/civicpulse/engine/internal/registry"
	"github.com/spf13/cobra"
)

func parseID(arg string) (int64, error) {
	return strconv.ParseInt(arg, 10, 64)
}

func newReportCmd(a *app) *cobra.Command {
	var req issue.CreateRequest
	var lat, lng float64

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report a new issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("lat") {
				req.Latitude = &lat
			}
			if cmd.Flags().Changed("lng") {
				req.Longitude = &lng
			}

			created, err := a.eng.Issues.Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			cmd.Printf("Issue #%d reported (%s)\n", created.ID, created.Status)
			return printJSON(cmd, created)
		},
	}

	cmd.Flags().StringVar(&req.Title, "title", "", "short title")
	cmd.Flags().StringVar(&req.Description, "description", "", "what is wrong and where")
	cmd.Flags().StringVar((*string)(&req.Category), "category", "", "roads, waste, water, streetlight or other")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().StringVar(&req.ImageURL, "image", "", "photo URL")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("category")

	return cmd
}

func newIssuesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issues",
		Short: "Browse issues",
	}

	cmd.AddCommand(newIssuesListCmd(a), newIssuesGetCmd(a), newIssuesSearchCmd(a))
	return cmd
}

func newIssuesListCmd(a *app) *cobra.Command {
	var (
		status, category, query string
		mine                    bool
		page, perPage           int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues (citizens see their own)",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := issue.ListFilter{Mine: mine, Page: page, PerPage: perPage}
			if status != "" {
				st := issue.Status(status)
				filter.Status = &st
			}
			if category != "" {
				cat := issue.Category(category)
				filter.Category = &cat
			}
			if query != "" {
				filter.Query = &query
			}

			result, err := a.eng.Issues.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			for _, i := range result.Issues {
				cmd.Printf("#%-5d %-12s %-12s %3d votes  %s\n",
					i.ID, i.Status, i.Category, i.Upvotes(), i.Title)
			}
			cmd.Printf("page %d/%d (%d total)\n",
				result.Pagination.Page, result.Pagination.TotalPages, result.Pagination.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().StringVar(&query, "query", "", "text search")
	cmd.Flags().BoolVar(&mine, "mine", false, "only my issues")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&perPage, "per-page", 20, "page size")

	return cmd
}

func newIssuesGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			got, err := a.eng.Issues.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, got)
		},
	}
}

func newIssuesSearchCmd(a *app) *cobra.Command {
	var req registry.SearchRequest
	var category, status string
	var minUpvotes int

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			if category != "" {
				cat := issue.Category(category)
				req.Category = &cat
			}
			if status != "" {
				st := issue.Status(status)
				req.Status = &st
			}
			if cmd.Flags().Changed("min-upvotes") {
				req.MinUpvotes = &minUpvotes
			}

			result, err := a.eng.Issues.Search(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}

	cmd.Flags().StringVar(&req.Query, "query", "", "text to match")
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&minUpvotes, "min-upvotes", 0, "minimum vote count")

	return cmd
}

func newVoteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "vote ISSUE_ID",
		Short: "Upvote an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.eng.Issues.Vote(cmd.Context(), id); err != nil {
				return err
			}
			cmd.Printf("Voted for issue #%d\n", id)
			return nil
		},
	}
}

func newUnvoteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unvote ISSUE_ID",
		Short: "Withdraw your vote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.eng.Issues.Unvote(cmd.Context(), id); err != nil {
				return err
			}
			cmd.Printf("Vote withdrawn from issue #%d\n", id)
			return nil
		},
	}
}

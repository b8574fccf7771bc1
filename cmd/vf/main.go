package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"verifika/internal/app"
	"verifika/internal/config"
	"verifika/internal/db"
	"verifika/internal/domain"
	"verifika/internal/engine"
	"verifika/internal/repo"
	"verifika/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "vf",
	Short: "Verifika CLI",
	Long: `Verifika runs the validation workflow for completed work activities.
- Activities: the work a technician delivers; once completed they become reviewable.
- Validations: one review per activity, moving pending_review -> in_review -> approved/rejected,
  with escalation to a supervisor when deadlines slip and reopening when an approval is contested.
- Comments: threaded discussion on a validation, nested up to the configured depth.
- Sweeper: auto-escalates overdue reviews and reminds reviewers before deadlines hit.
- Notifications: email or in-app depending on what happened and how urgent it is.
- Event log: diary of every workflow change, view with 'vf log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("VERIFIKA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(validationCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(notificationCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			ac, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer ac.Close()
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", cfgPath)
			}
			fmt.Println("workspace ready:", db.Path(workspace))
			return nil
		},
	}
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(userCreateCmd())
	user.AddCommand(userListCmd())
	return user
}

func userCreateCmd() *cobra.Command {
	var id, name, email, role, clientID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				u := domain.User{ID: id, Name: name, Email: email, Role: role}
				if clientID != "" {
					u.ClientID = &clientID
				}
				created, err := ac.Engine.CreateUser(ctx, u)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", "", "admin|reviewer|supervisor|technician|client")
	cmd.Flags().StringVar(&clientID, "client-id", "", "client the user belongs to")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				users, err := ac.Engine.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Role", "Client"})
				for _, u := range users {
					client := ""
					if u.ClientID != nil {
						client = *u.ClientID
					}
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.Role, client})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func activityCmd() *cobra.Command {
	act := &cobra.Command{Use: "activity", Short: "Manage activities"}
	act.AddCommand(activityCreateCmd())
	act.AddCommand(activityListCmd())
	act.AddCommand(activityStatusCmd())
	return act
}

func activityCreateCmd() *cobra.Command {
	var id, title, desc, technicianID, clientID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				a, err := ac.Engine.CreateActivity(ctx, domain.Activity{
					ID:           id,
					Title:        title,
					Description:  desc,
					TechnicianID: technicianID,
					ClientID:     clientID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "activity id (generated when empty)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&technicianID, "technician-id", "", "technician user id")
	cmd.Flags().StringVar(&clientID, "client-id", "", "client id")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("technician-id")
	_ = cmd.MarkFlagRequired("client-id")
	return cmd
}

func activityListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				items, err := ac.Engine.Repo.ListActivities(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Technician", "Client", "Status"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Title, a.TechnicianID, a.ClientID, a.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func activityStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "status <activity-id>",
		Short: "Set activity status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				a, err := ac.Engine.SetActivityStatus(ctx, args[0], status)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending|in_progress|completed")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func validationCmd() *cobra.Command {
	val := &cobra.Command{Use: "validation", Short: "Manage validations"}
	val.AddCommand(validationCreateCmd())
	val.AddCommand(validationListCmd())
	val.AddCommand(validationShowCmd())
	val.AddCommand(validationStartCmd())
	val.AddCommand(validationApproveCmd())
	val.AddCommand(validationRejectCmd())
	val.AddCommand(validationEscalateCmd())
	val.AddCommand(validationReopenCmd())
	return val
}

func validationCreateCmd() *cobra.Command {
	var id, activityID, reviewerID string
	var deadlineDays int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a validation for a completed activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				v, err := ac.Engine.CreateValidation(ctx, engine.ValidationCreateOptions{
					ID:           id,
					ActivityID:   activityID,
					ReviewerID:   reviewerID,
					DeadlineDays: deadlineDays,
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "validation id (generated when empty)")
	cmd.Flags().StringVar(&activityID, "activity-id", "", "activity to review")
	cmd.Flags().StringVar(&reviewerID, "reviewer-id", "", "assigned reviewer")
	cmd.Flags().IntVar(&deadlineDays, "deadline-days", 0, "override the configured deadline window")
	_ = cmd.MarkFlagRequired("activity-id")
	_ = cmd.MarkFlagRequired("reviewer-id")
	return cmd
}

func validationListCmd() *cobra.Command {
	var status []string
	var clientID, technicianID, reviewerID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List validations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				items, err := ac.Engine.Repo.ListValidations(ctx, repo.ValidationFilters{
					Status:       status,
					ClientID:     clientID,
					TechnicianID: technicianID,
					ReviewerID:   reviewerID,
					Limit:        limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Activity", "Reviewer", "Status", "Deadline", "Score"})
				for _, v := range items {
					score := ""
					if v.Score != nil {
						score = fmt.Sprintf("%d", *v.Score)
					}
					tw.AppendRow(table.Row{v.ID, v.ActivityID, v.ReviewerID, v.Status, v.DeadlineAt, score})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&status, "status", nil, "status filter (repeatable)")
	cmd.Flags().StringVar(&clientID, "client-id", "", "client filter")
	cmd.Flags().StringVar(&technicianID, "technician-id", "", "technician filter")
	cmd.Flags().StringVar(&reviewerID, "reviewer-id", "", "reviewer filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func validationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <validation-id>",
		Short: "Show a validation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				v, err := ac.Engine.GetValidation(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
}

func validationStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <validation-id>",
		Short: "Start reviewing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				v, err := ac.Engine.StartReview(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
}

func validationApproveCmd() *cobra.Command {
	var score, satisfaction int
	var comment, impact string
	var positives, improvements []string
	var criteria []string
	cmd := &cobra.Command{
		Use:   "approve <validation-id>",
		Short: "Approve a validation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				opts := engine.ValidateOptions{
					ValidationID:   args[0],
					Score:          score,
					PrimaryComment: comment,
					Positives:      positives,
					Improvements:   improvements,
					BusinessImpact: impact,
					ActorID:        viper.GetString("actor-id"),
				}
				if cmd.Flags().Changed("satisfaction") {
					opts.Satisfaction = &satisfaction
				}
				if len(criteria) > 0 {
					scores, err := parseCriteria(criteria)
					if err != nil {
						return err
					}
					opts.CriteriaScores = scores
				}
				v, err := ac.Engine.Validate(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().IntVar(&score, "score", 0, "overall score 1-10")
	cmd.Flags().IntVar(&satisfaction, "satisfaction", 0, "satisfaction 1-5")
	cmd.Flags().StringVar(&comment, "comment", "", "review comment")
	cmd.Flags().StringVar(&impact, "business-impact", "", "business impact notes")
	cmd.Flags().StringSliceVar(&positives, "positive", nil, "positive point (repeatable)")
	cmd.Flags().StringSliceVar(&improvements, "improvement", nil, "improvement point (repeatable)")
	cmd.Flags().StringSliceVar(&criteria, "criteria", nil, "criteria score name=1..10 (repeatable)")
	_ = cmd.MarkFlagRequired("score")
	return cmd
}

func parseCriteria(pairs []string) (map[string]int, error) {
	scores := make(map[string]int, len(pairs))
	for _, p := range pairs {
		name, val, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("criteria %q must be name=score", p)
		}
		var n int
		if _, err := fmt.Sscanf(val, "%d", &n); err != nil {
			return nil, fmt.Errorf("criteria %q has a non-numeric score", p)
		}
		scores[name] = n
	}
	return scores, nil
}

func validationRejectCmd() *cobra.Command {
	var comment string
	var changes, improvements []string
	var priority string
	cmd := &cobra.Command{
		Use:   "reject <validation-id>",
		Short: "Reject a validation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				required := make([]domain.RequiredChange, 0, len(changes))
				for _, c := range changes {
					required = append(required, domain.RequiredChange{Description: c, Priority: priority})
				}
				v, err := ac.Engine.Reject(ctx, engine.RejectOptions{
					ValidationID:    args[0],
					PrimaryComment:  comment,
					RequiredChanges: required,
					Improvements:    improvements,
					ActorID:         viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "why the work is rejected")
	cmd.Flags().StringSliceVar(&changes, "change", nil, "required change (repeatable)")
	cmd.Flags().StringVar(&priority, "priority", "normal", "priority of the required changes")
	cmd.Flags().StringSliceVar(&improvements, "improvement", nil, "improvement point (repeatable)")
	_ = cmd.MarkFlagRequired("comment")
	_ = cmd.MarkFlagRequired("change")
	return cmd
}

func validationEscalateCmd() *cobra.Command {
	var supervisorID, reason, urgency string
	cmd := &cobra.Command{
		Use:   "escalate <validation-id>",
		Short: "Escalate to a supervisor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				v, err := ac.Engine.Escalate(ctx, engine.EscalateOptions{
					ValidationID: args[0],
					SupervisorID: supervisorID,
					Reason:       reason,
					Urgency:      urgency,
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&supervisorID, "supervisor-id", "", "escalate to this user instead of the client's supervisor")
	cmd.Flags().StringVar(&reason, "reason", "", "why this needs a supervisor")
	cmd.Flags().StringVar(&urgency, "urgency", "normal", "normal|high|critical")
	return cmd
}

func validationReopenCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reopen <validation-id>",
		Short: "Reopen an approved validation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				v, err := ac.Engine.Reopen(ctx, engine.ReopenOptions{
					ValidationID: args[0],
					Reason:       reason,
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the approval is contested")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func commentCmd() *cobra.Command {
	c := &cobra.Command{Use: "comment", Short: "Discuss validations"}
	c.AddCommand(commentAddCmd())
	c.AddCommand(commentListCmd())
	c.AddCommand(commentEditCmd())
	c.AddCommand(commentDeleteCmd())
	return c
}

func commentAddCmd() *cobra.Command {
	var validationID, parentID, body, ctype string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a comment or reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				c, err := ac.Engine.CreateComment(ctx, engine.CommentCreateOptions{
					ValidationID: validationID,
					ParentID:     parentID,
					AuthorID:     viper.GetString("actor-id"),
					Body:         body,
					Type:         ctype,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&validationID, "validation-id", "", "validation to comment on")
	cmd.Flags().StringVar(&parentID, "parent-id", "", "reply to this comment")
	cmd.Flags().StringVar(&body, "body", "", "comment text")
	cmd.Flags().StringVar(&ctype, "type", "general", "general|question|suggestion|correction|approval")
	_ = cmd.MarkFlagRequired("validation-id")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func commentListCmd() *cobra.Command {
	var validationID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the comment thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				thread, err := ac.Engine.ListThread(ctx, validationID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(thread)
				}
				printThread(thread, 0)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&validationID, "validation-id", "", "validation id")
	_ = cmd.MarkFlagRequired("validation-id")
	return cmd
}

func printThread(comments []domain.Comment, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, c := range comments {
		edited := ""
		if c.Edited {
			edited = " (edited)"
		}
		fmt.Printf("%s[%s] %s%s: %s\n", indent, c.CreatedAt, c.AuthorID, edited, c.Body)
		printThread(c.Replies, depth+1)
	}
}

func commentEditCmd() *cobra.Command {
	var body string
	cmd := &cobra.Command{
		Use:   "edit <comment-id>",
		Short: "Edit your comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				c, err := ac.Engine.EditComment(ctx, engine.CommentEditOptions{
					CommentID: args[0],
					AuthorID:  viper.GetString("actor-id"),
					Body:      body,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "new comment text")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func commentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <comment-id>",
		Short: "Delete your comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				if err := ac.Engine.DeleteComment(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("deleted")
				return nil
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	var daemon bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Escalate overdue validations and send deadline reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				if daemon {
					runner := engine.NewRunner(ac.Engine)
					runner.Start(ctx)
					fmt.Printf("sweeping every %s, ctrl-c to stop\n", runner.Interval)
					<-ctx.Done()
					return nil
				}
				res, err := ac.Engine.Sweep(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().BoolVar(&daemon, "daemon", false, "keep sweeping on the configured interval")
	return cmd
}

func dashboardCmd() *cobra.Command {
	var clientID, reviewerID string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Validation rollup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				d, err := ac.Engine.Dashboard(ctx, engine.DashboardFilters{
					ClientID:   clientID,
					ReviewerID: reviewerID,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Metric", "Value"})
				tw.AppendRows([]table.Row{
					{"total", d.Total},
					{"pending_review", d.PendingReview},
					{"in_review", d.InReview},
					{"approved", d.Approved},
					{"rejected", d.Rejected},
					{"escalated", d.Escalated},
					{"reopened", d.Reopened},
					{"due_within_24h", d.DueWithin24h},
					{"overdue", d.Overdue},
					{"completed_today", d.CompletedToday},
					{"avg_review_hours", d.AvgReviewHours},
					{"avg_score", d.AvgScore},
					{"approval_rate", d.ApprovalRate},
				})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "client filter")
	cmd.Flags().StringVar(&reviewerID, "reviewer-id", "", "reviewer filter")
	return cmd
}

func reportCmd() *cobra.Command {
	report := &cobra.Command{Use: "report", Short: "Quality reports"}
	var clientID string
	tech := &cobra.Command{
		Use:   "technicians",
		Short: "Per-technician review outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				rows, err := ac.Engine.TechnicianReport(ctx, clientID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Technician", "Total", "Approved", "Rejected", "Avg Score", "Approval Rate", "Auto-Escalations"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.TechnicianName, r.Total, r.Approved, r.Rejected, r.AvgScore, r.ApprovalRate, r.AutoEscalations})
				}
				tw.Render()
				return nil
			})
		},
	}
	tech.Flags().StringVar(&clientID, "client-id", "", "client filter")
	report.AddCommand(tech)
	return report
}

func notificationCmd() *cobra.Command {
	n := &cobra.Command{Use: "notification", Short: "Inbox"}
	n.AddCommand(notificationListCmd())
	n.AddCommand(notificationReadCmd())
	return n
}

func notificationListCmd() *cobra.Command {
	var unread bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				items, err := ac.Notifier.ListByRecipient(ctx, viper.GetString("actor-id"), unread, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Channel", "Urgency", "Read", "Title"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Kind, it.Channel, it.Urgency, it.Read, it.Title})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "unread only")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func notificationReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				var id int64
				if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
					return fmt.Errorf("notification id must be numeric")
				}
				return ac.Notifier.MarkRead(ctx, id)
			})
		},
	}
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				raw := make([]byte, 32)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				key := "vfk_" + hex.EncodeToString(raw)
				id := hex.EncodeToString(raw[:8])
				if err := ac.Engine.Repo.InsertAPIKey(ctx, nil, domain.APIKey{
					ID:      id,
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(key),
				}); err != nil {
					return err
				}
				fmt.Println("api key (store it now, it is not shown again):", key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "for-actor", "", "actor the key authenticates")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("for-actor")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				keys, err := ac.Engine.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "for-actor", "", "filter by actor")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				return ac.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of every workflow change: transitions, comments, escalations.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				events, err := ac.Engine.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var sweepDaemon bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			ac, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer ac.Close()
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("VERIFIKA_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("VERIFIKA_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   ac.Engine,
				Notifier: ac.Notifier,
				BasePath: basePath,
				Auth:     authCfg,
			})
			if err != nil {
				return err
			}
			if sweepDaemon {
				engine.NewRunner(ac.Engine).Start(cmd.Context())
			}
			ac.Notifier.StartDeliveryLoop(cmd.Context(), 0)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Verifika API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&sweepDaemon, "sweep", true, "run the deadline sweeper in-process")
	return cmd
}

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	ac, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer ac.Close()
	return fn(ctx, ac)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/studyforge/internal/client"
	"github.com/ashureev/studyforge/internal/domain"
	"github.com/ashureev/studyforge/internal/poller"
	"github.com/ashureev/studyforge/internal/storage"
)

// profileFlags describe a learner profile inline, without an assessment.
type profileFlags struct {
	subject string
	level   string
	goals   string
	style   string
	time    string
}

func (f *profileFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.subject, "subject", "", "subject to learn")
	cmd.Flags().StringVar(&f.level, "level", "", "experience level: beginner, intermediate or advanced")
	cmd.Flags().StringVar(&f.goals, "goals", "", "learning goals")
	cmd.Flags().StringVar(&f.style, "style", "", "learning style, e.g. hands_on")
	cmd.Flags().StringVar(&f.time, "time", "", "time budget, e.g. \"5 hours per week\"")
}

func (f *profileFlags) set() bool {
	return f.subject != "" || f.level != "" || f.goals != ""
}

func (f *profileFlags) profile() (*domain.LearnerProfile, error) {
	level, ok := domain.ParseExperienceLevel(f.level)
	if !ok {
		return nil, fmt.Errorf("--level must be beginner, intermediate or advanced")
	}
	p := &domain.LearnerProfile{
		Subject:         f.subject,
		ExperienceLevel: level,
		Goals:           f.goals,
		LearningStyle:   f.style,
		TimeConstraint:  f.time,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func newPlanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Create and inspect curriculum plans",
	}
	cmd.AddCommand(newPlanCreateCmd(a), newPlanShowCmd(a))
	return cmd
}

func newPlanCreateCmd(a *app) *cobra.Command {
	var session string
	var pf profileFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Build a plan from an assessment or an inline profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.PlanRequest{SessionID: session, Goals: pf.goals, TimeConstraint: pf.time}
			if session == "" {
				p, err := pf.profile()
				if err != nil {
					return err
				}
				req.Profile = p
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			plan, err := a.client().CreatePlan(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to create plan: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Plan: %s\n\n", plan.PlanID)
			printTopics(out, plan.Topics)
			fmt.Fprintf(out, "\nNext: notebookctl generate --plan %s --wait\n", plan.PlanID)
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "completed assessment session id")
	pf.bind(cmd)
	return cmd
}

func newPlanShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show a saved plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			plan, err := a.client().GetPlan(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load plan: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Plan: %s (%s, %s)\n\n", plan.ID, plan.Subject, plan.Profile.ExperienceLevel)
			printTopics(out, plan.Topics)
			return nil
		},
	}
}

func printTopics(w io.Writer, topics []domain.Topic) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTOPIC\tDIFFICULTY\tREQUIRES")
	for i, t := range topics {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", i+1, t.Name, t.Difficulty, strings.Join(t.Prerequisites, ", "))
	}
	_ = tw.Flush()
}

func newGenerateCmd(a *app) *cobra.Command {
	var (
		planID     string
		noProgress bool
		noXRef     bool
		wait       bool
		interval   time.Duration
		pf         profileFlags
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a notebook from a plan or an inline profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.GenerateRequest{
				PlanID:  planID,
				Options: &domain.JobOptions{IncludeProgressTracking: !noProgress, IncludeCrossReferences: !noXRef},
			}
			if planID == "" {
				if !pf.set() {
					return fmt.Errorf("either --plan or --subject/--level/--goals is required")
				}
				p, err := pf.profile()
				if err != nil {
					return err
				}
				req.Profile = p
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			jobID, err := a.client().Generate(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to start generation: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job: %s\n", jobID)
			if !wait {
				return nil
			}
			return watch(cmd, a, jobID, poller.Policy{Interval: interval, MaxAttempts: 300, Multiplier: 1})
		},
	}
	cmd.Flags().StringVar(&planID, "plan", "", "saved plan id")
	cmd.Flags().BoolVar(&noProgress, "no-progress-tracking", false, "skip PROGRESS.md")
	cmd.Flags().BoolVar(&noXRef, "no-cross-references", false, "skip section links in README.md")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval with --wait")
	pf.bind(cmd)
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			job, err := a.client().GetJob(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load job: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job:      %s\n", job.ID)
			fmt.Fprintf(out, "Subject:  %s\n", job.Subject)
			fmt.Fprintf(out, "Status:   %s\n", job.Status)
			fmt.Fprintf(out, "Progress: %d%%\n", job.Progress)
			if job.CurrentStep != "" {
				fmt.Fprintf(out, "Step:     %s\n", job.CurrentStep)
			}
			if job.Error != "" {
				fmt.Fprintf(out, "Error:    %s\n", job.Error)
			}
			for _, art := range job.Artifacts {
				fmt.Fprintf(out, "  %s  %s (%d bytes)\n", art.TopicSlug, art.Path, art.Size)
			}
			return nil
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config <job-id>",
		Short: "Show the inputs a job was generated from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			cfg, err := a.client().Config(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load job config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job:        %s\n", cfg.JobID)
			if cfg.PlanID != "" {
				fmt.Fprintf(out, "Plan:       %s\n", cfg.PlanID)
			}
			fmt.Fprintf(out, "Progress tracking: %t\n", cfg.Options.IncludeProgressTracking)
			fmt.Fprintf(out, "Cross references:  %t\n", cfg.Options.IncludeCrossReferences)
			if cfg.Profile != nil {
				fmt.Fprintln(out)
				printProfile(out, cfg.Profile)
			}
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var opts client.ListOptions
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your notebooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Status = domain.JobStatus(status)
			ctx, cancel := a.context(cmd)
			defer cancel()
			jobs, total, err := a.client().ListJobs(ctx, opts)
			if err != nil {
				return fmt.Errorf("failed to list notebooks: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No notebooks.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tSUBJECT\tSTATUS\tPROGRESS\tUPDATED")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\n", j.ID, j.Subject, j.Status, j.Progress, formatAge(j.UpdatedAt))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d of %d\n", len(jobs), total)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "filter by subject")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "page size")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "page offset")
	return cmd
}

// formatAge returns a human-readable relative time string.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func newWatchCmd(a *app) *cobra.Command {
	policy := poller.DefaultPolicy()
	cmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Poll a job until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(cmd, a, args[0], policy)
		},
	}
	cmd.Flags().DurationVar(&policy.Interval, "interval", policy.Interval, "time between checks")
	cmd.Flags().IntVar(&policy.MaxAttempts, "attempts", policy.MaxAttempts, "maximum number of checks")
	cmd.Flags().Float64Var(&policy.Multiplier, "backoff", policy.Multiplier, "interval growth per check")
	cmd.Flags().DurationVar(&policy.MaxInterval, "max-interval", 0, "cap on the interval when backing off")
	return cmd
}

var (
	errJobFailed    = errors.New("generation failed")
	errJobNotFound  = errors.New("job not found")
	errStillRunning = errors.New("job still running")
)

func watch(cmd *cobra.Command, a *app, jobID string, policy poller.Policy) error {
	out := cmd.OutOrStdout()
	p := poller.New(a.client())
	p.Policy = policy
	last := -1
	p.OnUpdate = func(j *domain.Job) {
		if j.Progress == last {
			return
		}
		last = j.Progress
		fmt.Fprintf(out, "[%3d%%] %-10s %s\n", j.Progress, j.Status, j.CurrentStep)
	}

	outcome, job, err := p.Poll(cmd.Context(), jobID)
	switch outcome {
	case poller.OutcomeComplete:
		fmt.Fprintf(out, "Notebook ready: %d sections. Browse with: notebookctl tree %s\n", len(job.Artifacts), jobID)
		return nil
	case poller.OutcomeFailed:
		return fmt.Errorf("%w: %s", errJobFailed, job.Error)
	case poller.OutcomeNotFound:
		return fmt.Errorf("%w: %s", errJobNotFound, jobID)
	case poller.OutcomeExhausted:
		return fmt.Errorf("%w after %d checks; run notebookctl watch %s to keep waiting", errStillRunning, policy.MaxAttempts, jobID)
	}
	return err
}

func newTreeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <job-id>",
		Short: "Show the folders and files of a notebook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			root, err := a.client().Tree(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load tree: %w", err)
			}
			printTree(cmd.OutOrStdout(), root, 0)
			return nil
		},
	}
}

func printTree(w io.Writer, n *storage.Node, depth int) {
	if n == nil {
		return
	}
	name := n.Name
	if n.Type == storage.NodeFolder {
		name += "/"
	}
	fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), name)
	for _, c := range n.Children {
		printTree(w, c, depth+1)
	}
}

func newCatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <job-id> <path>",
		Short: "Print a notebook file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			text, err := a.client().ReadFile(ctx, args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[1], err)
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func newURLCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "url <job-id> <path>",
		Short: "Print a time-limited download URL for a notebook file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			u, err := a.client().FileURL(ctx, args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to sign %s: %w", args[1], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a notebook and its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := a.client().DeleteJob(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

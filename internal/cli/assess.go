package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/studyforge/internal/domain"
)

func newAssessCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Run a learner assessment",
	}
	cmd.AddCommand(newAssessStartCmd(a), newAssessSendCmd(a), newAssessProfileCmd(a))
	return cmd
}

func newAssessStartCmd(a *app) *cobra.Command {
	var subject, goals string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Open an assessment session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			start, err := a.client().StartAssessment(ctx, subject, goals)
			if err != nil {
				return fmt.Errorf("failed to start assessment: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session: %s (expires %s)\n\n", start.SessionID, start.ExpiresAt.Local().Format("2006-01-02 15:04"))
			fmt.Fprintln(out, start.InitialMessage)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject to learn")
	cmd.Flags().StringVar(&goals, "goals", "", "initial learning goals")
	return cmd
}

func newAssessSendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <session-id> <message...>",
		Short: "Answer the assessment",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			reply, err := a.client().SendMessage(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return fmt.Errorf("failed to send message: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, reply.ReplyText)
			if reply.ProfileComplete {
				fmt.Fprintln(out)
				printProfile(out, reply.Profile)
				fmt.Fprintf(out, "\nNext: notebookctl plan create --session %s\n", args[0])
			}
			return nil
		},
	}
}

func newAssessProfileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "profile <session-id>",
		Short: "Show the profile captured by an assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			p, err := a.client().Profile(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load profile: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status: %s\n", p.Status)
			if p.Profile != nil {
				printProfile(out, p.Profile)
			}
			return nil
		},
	}
}

func printProfile(w io.Writer, p *domain.LearnerProfile) {
	if p == nil {
		return
	}
	fmt.Fprintf(w, "Subject:    %s\n", p.Subject)
	fmt.Fprintf(w, "Level:      %s\n", p.ExperienceLevel)
	fmt.Fprintf(w, "Goals:      %s\n", p.Goals)
	if p.LearningStyle != "" {
		fmt.Fprintf(w, "Style:      %s\n", p.LearningStyle)
	}
	if p.TimeConstraint != "" {
		fmt.Fprintf(w, "Time:       %s\n", p.TimeConstraint)
	}
}

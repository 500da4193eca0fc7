// Package cli implements notebookctl, a command line client for the notebook API.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/studyforge/internal/client"
)

// app holds the persistent flags shared by every command.
type app struct {
	server  string
	user    string
	timeout time.Duration
}

func (a *app) client() *client.Client {
	return client.New(a.server, a.user)
}

// context bounds a single API call. Long-running commands such as watch use
// their own deadline.
func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewRootCmd builds the notebookctl command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "notebookctl",
		Short:         "Drive the StudyForge notebook API",
		Long:          `notebookctl runs learner assessments, builds curriculum plans and generates study notebooks through a StudyForge server.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.server, "server", envOr("STUDYFORGE_URL", "http://localhost:8080"), "API base URL")
	root.PersistentFlags().StringVar(&a.user, "user", envOr("STUDYFORGE_USER", "cli"), "user id sent as X-User-ID")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 2*time.Minute, "per-request timeout")

	root.AddCommand(
		newAssessCmd(a),
		newPlanCmd(a),
		newGenerateCmd(a),
		newStatusCmd(a),
		newConfigCmd(a),
		newListCmd(a),
		newWatchCmd(a),
		newTreeCmd(a),
		newCatCmd(a),
		newURLCmd(a),
		newDeleteCmd(a),
	)
	return root
}

// Execute runs notebookctl with os.Args.
func Execute(ctx context.Context) error {
	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironsession/session"
)

var (
	createID  string
	createTTL time.Duration
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and maintain stored sessions",
}

var sessionsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print a live session and its variables",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return getSession(cmd.Context(), cmd.OutOrStdout(), a.Sessions, args[0])
	},
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an empty session and print its id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return createSession(cmd.Context(), cmd.OutOrStdout(), a.Sessions, createID, createTTL)
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.Sessions.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
		return nil
	},
}

var sessionsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove expired and unreadable sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		n, err := a.Sessions.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d session(s) from %s\n", n, a.StorePath())
		return nil
	},
}

func getSession(ctx context.Context, out io.Writer, store *session.Store, id string) error {
	rec, err := store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("session %s: %w", id, err)
	}
	fmt.Fprintf(out, "ID:       %s\n", rec.ID)
	fmt.Fprintf(out, "Created:  %s\n", time.Unix(rec.CreatedAt, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "Expires:  %s\n", time.Unix(rec.ExpiresAt, 0).UTC().Format(time.RFC3339))
	if rec.Vars.Len() == 0 {
		fmt.Fprintln(out, "Variables: none")
		return nil
	}
	fmt.Fprintln(out, "Variables:")
	for k, v := range rec.Vars.All() {
		fmt.Fprintf(out, "  %s = %q\n", k, v)
	}
	return nil
}

func createSession(ctx context.Context, out io.Writer, store *session.Store, id string, ttl time.Duration) error {
	rec, err := store.Create(ctx, id, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, rec.ID)
	return nil
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsGetCmd, sessionsCreateCmd, sessionsDeleteCmd, sessionsGCCmd)
	sessionsCreateCmd.Flags().StringVar(&createID, "id", "", "Session id (generated when empty)")
	sessionsCreateCmd.Flags().DurationVar(&createTTL, "ttl", 0, "Lifetime (store default when zero)")
}

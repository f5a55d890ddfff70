package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironsession/internal/app"
	"github.com/jmcleod/ironsession/key"
)

var rotateConfirmed bool

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the field encryption key",
	Long:  `Commands for creating, inspecting and rotating the key file that encrypts stored sessions.`,
}

var keyInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the key file if it does not exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		return initKey(cmd.OutOrStdout(), key.NewManager(cfg.Store.KeyFile, key.WithLogger(logger)))
	},
}

var keyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the key file exists and is usable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		return keyStatus(cmd.OutOrStdout(), key.NewManager(cfg.Store.KeyFile, key.WithLogger(logger)))
	},
}

var keyRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Replace the key and discard every stored session",
	Long: `Generates a new key file. Sessions encrypted under the old key can no
longer be read, so the store is emptied as well. Requires --yes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !rotateConfirmed {
			return errors.New("rotating the key discards every session; rerun with --yes")
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return rotateKey(cmd.Context(), cmd.OutOrStdout(), a)
	},
}

func initKey(out io.Writer, m *key.Manager) error {
	existed := m.Exists()
	if err := m.CreateIfAbsent(); err != nil {
		return err
	}
	if existed {
		fmt.Fprintf(out, "Key file already exists: %s\n", m.Path())
		return nil
	}
	fmt.Fprintf(out, "Created key file: %s\n", m.Path())
	return nil
}

func keyStatus(out io.Writer, m *key.Manager) error {
	if !m.Exists() {
		fmt.Fprintf(out, "Key file: %s (missing)\n", m.Path())
		return nil
	}
	// Key would create a missing file, so existence is checked first.
	if _, err := m.Key(); err != nil {
		fmt.Fprintf(out, "Key file: %s (unusable)\n", m.Path())
		return err
	}
	fmt.Fprintf(out, "Key file: %s (ok)\n", m.Path())
	return nil
}

func rotateKey(ctx context.Context, out io.Writer, a *app.App) error {
	if err := a.Keys.Rotate(); err != nil {
		return err
	}
	if err := a.ResetStore(ctx); err != nil {
		return fmt.Errorf("key rotated but clearing the store failed: %w", err)
	}
	fmt.Fprintf(out, "Rotated key file: %s\n", a.Keys.Path())
	fmt.Fprintf(out, "Cleared sessions in: %s\n", a.StorePath())
	return nil
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyInitCmd, keyStatusCmd, keyRotateCmd)
	keyRotateCmd.Flags().BoolVar(&rotateConfirmed, "yes", false, "Confirm that every stored session is discarded")
}

// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package cli holds the command line plumbing shared by the arke
// binaries.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"charm.land/lipgloss/v2"
	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/colorprofile"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/internal/compat"
	"github.com/arke-messenger/arke/server"
)

// ExecuteWithFang executes cmd using fang with the arke options.
func ExecuteWithFang(cmd *cobra.Command) {
	if err := fang.Execute(
		context.Background(),
		cmd,
		fang.WithVersion(versioninfo.Short()),
		fang.WithErrorHandler(ErrorHandlerWithUsage(cmd)),
	); err != nil {
		os.Exit(1)
	}
}

// ErrorHandlerWithUsage prints err, followed by the usage for argument
// errors or a pointer to --help for everything else.
func ErrorHandlerWithUsage(cmd *cobra.Command) fang.ErrorHandler {
	return func(w io.Writer, styles fang.Styles, err error) {
		_, _ = fmt.Fprintln(w, styles.ErrorHeader.String())
		_, _ = fmt.Fprintln(w, styles.ErrorText.Render(err.Error()+"."))
		_, _ = fmt.Fprintln(w)

		if isUsageError(err) {
			if helpFunc := cmd.HelpFunc(); helpFunc != nil {
				_ = colorprofile.NewWriter(w, nil)
				helpFunc(cmd, []string{})
			}
			return
		}
		_, _ = fmt.Fprintln(w, lipgloss.JoinHorizontal(
			lipgloss.Left,
			styles.ErrorText.UnsetWidth().Render("Try"),
			styles.Program.Flag.Render("--help"),
			styles.ErrorText.UnsetWidth().UnsetMargins().UnsetTransform().PaddingLeft(1).Render("for usage."),
		))
		_, _ = fmt.Fprintln(w)
	}
}

func isUsageError(err error) bool {
	s := err.Error()
	for _, prefix := range []string{
		"flag needs an argument:",
		"unknown flag:",
		"unknown shorthand flag:",
		"unknown command",
		"invalid argument",
		"required flag",
		"accepts",
		"arg(s), received",
		"failed to load config file",
	} {
		if strings.Contains(s, prefix) {
			return true
		}
	}
	return false
}

// ServerFlags are the flags every server binary takes.
type ServerFlags struct {
	ConfigFile string
	GenOnly    bool
}

// ServerCommand returns the root command of a server binary that runs
// role with newHandler.
func ServerCommand(use, role, short, long string, newHandler server.NewHandlerFn) *cobra.Command {
	var flags ServerFlags

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Example: fmt.Sprintf(`  # Start with the default configuration file
  %[1]s

  # Start with a custom configuration file
  %[1]s -f /etc/arke/%[2]s.toml

  # Generate the key material and exit
  %[1]s -f /etc/arke/%[2]s.toml --generate-only`, use, role),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunServer(flags, role, newHandler)
		},
	}

	cmd.Flags().StringVarP(&flags.ConfigFile, "config", "f", "arke-"+role+".toml",
		"path to the configuration file (TOML format)")
	cmd.Flags().BoolVarP(&flags.GenOnly, "generate-only", "g", false,
		"generate the key material and exit")

	return cmd
}

// RunServer loads the configuration, starts the server and blocks until
// it is halted by a signal or a fatal error.
func RunServer(flags ServerFlags, role string, newHandler server.NewHandlerFn) error {
	// Set the umask to something "paranoid".
	compat.Umask(0077)

	cfg, err := config.LoadFile(flags.ConfigFile, flags.GenOnly)
	if err != nil {
		return fmt.Errorf("failed to load config file '%v': %v", flags.ConfigFile, err)
	}
	if got := cfg.Role(); got != role {
		return fmt.Errorf("failed to load config file '%v': role is '%v', expected '%v'", flags.ConfigFile, got, role)
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)

	svr, err := server.New(cfg, newHandler)
	if err != nil {
		if errors.Is(err, server.ErrGenerateOnly) {
			return nil
		}
		return fmt.Errorf("failed to spawn %s instance: %v", role, err)
	}
	defer svr.Shutdown()

	// Halt gracefully on SIGINT/SIGTERM.
	go func() {
		<-ch
		svr.Shutdown()
	}()

	// Rotate logs upon SIGHUP.
	go func() {
		for range rotateCh {
			svr.RotateLog()
		}
	}()

	svr.Wait()
	return nil
}

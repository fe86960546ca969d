// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/arke-messenger/arke/client"
	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/internal/cli"
	"github.com/arke-messenger/arke/internal/compat"
)

const passphraseEnv = "ARKE_PASSPHRASE"

type globalFlags struct {
	ConfigFile string
}

func main() {
	cli.ExecuteWithFang(newRootCommand())
}

func newRootCommand() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   "arke",
		Short: "Arke messaging client",
		Long: `arke obtains an identity based credential from the Arke authorities and
exchanges end to end encrypted messages with contacts over dead drops.

The client state lives in the configured DataDir, encrypted with a
passphrase read from the terminal or from the ` + passphraseEnv + ` environment
variable.`,
		Example: `  # Obtain a credential for an identity
  arke -f client.toml issue alice0001

  # Discover a contact and send a message
  arke -f client.toml discover bob00002
  arke -f client.toml send bob00002 "hello"

  # Chat interactively
  arke -f client.toml chat bob00002`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.ConfigFile, "config", "f", "arke.toml",
		"path to the client configuration file (TOML format)")

	cmd.AddCommand(
		issueCommand(&flags),
		dealtCommand(&flags),
		discoverCommand(&flags),
		removeCommand(&flags),
		sendCommand(&flags),
		receiveCommand(&flags),
		inboxCommand(&flags),
		groupCommand(&flags),
		chatCommand(&flags),
	)
	return cmd
}

func readPassphrase() ([]byte, error) {
	if p := os.Getenv(passphraseEnv); p != "" {
		return []byte(p), nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("no terminal to read the passphrase from, set %v", passphraseEnv)
	}
	fmt.Fprint(os.Stderr, "Passphrase: ")
	p, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// withClient opens the client state and runs fn with a context that is
// cancelled on SIGINT/SIGTERM.
func withClient(flags *globalFlags, fn func(ctx context.Context, c *client.Client) error) error {
	// Set the umask to something "paranoid".
	compat.Umask(0077)

	cfg, err := config.LoadFile(flags.ConfigFile, false)
	if err != nil {
		return fmt.Errorf("failed to load config file '%v': %v", flags.ConfigFile, err)
	}
	if cfg.Client == nil {
		return fmt.Errorf("failed to load config file '%v': no Client section", flags.ConfigFile)
	}
	passphrase, err := readPassphrase()
	if err != nil {
		return err
	}
	c, err := client.New(cfg, passphrase)
	if err != nil {
		return err
	}
	defer c.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, c)
}

func issueCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "issue <identity>",
		Short: "Register an identity and obtain its credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				cred, err := c.Issue(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Issued credential for %v (%d-of-%d).\n", cred.Identity, cred.Threshold+1, cred.N)
				return nil
			})
		},
	}
}

func dealtCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dealt <identity> <peer>",
		Short: "Fetch a dealer computed credential (development deployments)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				cred, err := c.FetchDealtCredential(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Fetched credential for %v.\n", cred.Identity)
				return nil
			})
		},
	}
}

func discoverCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "discover <peer>",
		Short: "Look up a peer and derive the shared dead-drop address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				rec, err := c.Discover(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %v at %v.\n", rec.Peer, rec.Address.Hex())
				return nil
			})
		},
	}
}

func removeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <peer>",
		Short: "Remove a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(_ context.Context, c *client.Client) error {
				return c.Remove(args[0])
			})
		},
	}
}

func sendCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "send <peer> <text>",
		Short: "Write a message to a contact's dead drop",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				overwrote, err := c.Send(ctx, args[0], []byte(args[1]))
				if err != nil {
					return err
				}
				if overwrote {
					fmt.Fprintln(cmd.ErrOrStderr(), "Replaced a message the peer had not read yet.")
				}
				return nil
			})
		},
	}
}

func printMessage(cmd *cobra.Command, msg *client.Message) {
	out := cmd.OutOrStdout()
	switch {
	case msg.Invite != nil:
		fmt.Fprintf(out, "%v invited you to group %v.\n", msg.From, msg.Invite.Name)
	case msg.Group != "":
		fmt.Fprintf(out, "[%v] %v: %s\n", msg.Group, msg.From, msg.Text)
	default:
		fmt.Fprintf(out, "%v: %s\n", msg.From, msg.Text)
	}
}

func receiveCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "receive <peer>",
		Short: "Read the pending message from a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				msg, err := c.Receive(ctx, args[0])
				if errors.Is(err, client.ErrNoMessage) {
					fmt.Fprintln(cmd.OutOrStdout(), "No message.")
					return nil
				}
				if err != nil {
					return err
				}
				if msg.Invite != nil {
					if _, err = c.JoinGroup(msg.Invite); err != nil {
						return err
					}
				}
				printMessage(cmd, msg)
				return nil
			})
		},
	}
}

func inboxCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inbox",
		Short: "Read the pending messages of every contact and group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				msgs, err := c.Inbox(ctx)
				for _, msg := range msgs {
					if msg.Invite != nil {
						if _, jerr := c.JoinGroup(msg.Invite); jerr != nil {
							err = errors.Join(err, jerr)
						}
					}
					printMessage(cmd, msg)
				}
				return err
			})
		},
	}
}

func groupCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage and message groups",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create <name> <member>...",
			Short: "Create a group and invite its members",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(flags, func(ctx context.Context, c *client.Client) error {
					g, err := c.CreateGroup(ctx, args[0], args[1:])
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Created %v at %v.\n", g.Name, g.Address.Hex())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "send <name> <text>",
			Short: "Write a message to a group's dead drop",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(flags, func(ctx context.Context, c *client.Client) error {
					_, err := c.SendGroup(ctx, args[0], []byte(args[1]))
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "receive <name>",
			Short: "Read the pending message of a group",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(flags, func(ctx context.Context, c *client.Client) error {
					msg, err := c.ReceiveGroup(ctx, args[0])
					if errors.Is(err, client.ErrNoMessage) {
						fmt.Fprintln(cmd.OutOrStdout(), "No message.")
						return nil
					}
					if err != nil {
						return err
					}
					printMessage(cmd, msg)
					return nil
				})
			},
		},
	)
	return cmd
}

func chatCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <peer|group>",
		Short: "Chat with a contact or group until " + client.QuitCommand + " is entered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				err := c.Converse(ctx, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}

// Package ctl implements classifyctl, the operator command line of the
// classification service.
package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/server/models"
	"github.com/dmitrijs2005/classifyd/internal/server/services"
	"github.com/dmitrijs2005/classifyd/internal/shared"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Operator is what the commands need from a connected service instance.
type Operator interface {
	Migrate(ctx context.Context) error
	CreateUser(ctx context.Context, in services.NewUser) (*models.User, error)
	IssueAPIKey(ctx context.Context, in services.NewAPIKey) (*models.IssuedAPIKey, error)
	Reconcile(ctx context.Context) (int, error)
	RateLimitTotals(ctx context.Context) (map[string]int64, error)
	QueueDepth(ctx context.Context) (int64, error)
	Close() error
}

// Opener connects to the service stores.
type Opener func(ctx context.Context) (Operator, error)

// CLI holds the command dependencies.
type CLI struct {
	open Opener
	// readPassword is a test seam for term.ReadPassword on stdin.
	readPassword func() ([]byte, error)
}

func New(open Opener) *CLI {
	return &CLI{
		open: open,
		readPassword: func() ([]byte, error) {
			return term.ReadPassword(int(os.Stdin.Fd()))
		},
	}
}

// withOperator opens the stores for the duration of fn.
func (c *CLI) withOperator(cmd *cobra.Command, fn func(ctx context.Context, op Operator) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	op, err := c.open(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer op.Close()
	return fn(ctx, op)
}

// Command builds the classifyctl command tree.
func (c *CLI) Command() *cobra.Command {
	root := &cobra.Command{
		Use:           "classifyctl",
		Short:         "Operate the classification service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	// Read by the config loader straight from the process arguments.
	root.PersistentFlags().StringP("config", "c", "", "JSON config file")

	root.AddCommand(c.migrateCommand())
	root.AddCommand(c.userCommand())
	root.AddCommand(c.apiKeyCommand())
	root.AddCommand(c.reconcileCommand())
	root.AddCommand(c.statsCommand())
	return root
}

func (c *CLI) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withOperator(cmd, func(ctx context.Context, op Operator) error {
				if err := op.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func (c *CLI) userCommand() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage user accounts"}

	var (
		in       services.NewUser
		fullName string
		role     string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user, prompting for the password",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.OutOrStdout(), "Enter password: ")
			pw, err := c.readPassword()
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			defer shared.WipeByteArray(pw)
			if len(pw) == 0 {
				return errors.New("password must not be empty")
			}

			in.Password = string(pw)
			in.Role = models.Role(role)
			if fullName != "" {
				in.FullName = &fullName
			}

			return c.withOperator(cmd, func(ctx context.Context, op Operator) error {
				u, err := op.CreateUser(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created user %d (%s, %s)\n", u.ID, u.UserName, u.Role)
				return nil
			})
		},
	}
	create.Flags().StringVar(&in.UserName, "username", "", "user name")
	create.Flags().StringVar(&in.Email, "email", "", "email address")
	create.Flags().StringVar(&fullName, "full-name", "", "full name")
	create.Flags().StringVar(&role, "role", string(models.RoleNormal), "role: normal, verified or admin")
	_ = create.MarkFlagRequired("username")
	_ = create.MarkFlagRequired("email")

	user.AddCommand(create)
	return user
}

func (c *CLI) apiKeyCommand() *cobra.Command {
	apikey := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var (
		owner   int64
		expires string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key and print its secret once",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := services.NewAPIKey{OwnerID: owner}
			if expires != "" {
				t, err := time.Parse(time.RFC3339, expires)
				if err != nil {
					return fmt.Errorf("--expires must be RFC 3339: %w", err)
				}
				in.ExpiresAt = &t
			}

			return c.withOperator(cmd, func(ctx context.Context, op Operator) error {
				k, err := op.IssueAPIKey(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "key %d for user %d\n%s\n", k.ID, k.OwnerID, k.Secret)
				return nil
			})
		},
	}
	create.Flags().Int64Var(&owner, "owner", 0, "owning user id")
	create.Flags().StringVar(&expires, "expires", "", "expiry instant (RFC 3339); default is the configured validity")
	_ = create.MarkFlagRequired("owner")

	apikey.AddCommand(create)
	return apikey
}

func (c *CLI) reconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Fail tasks stuck in processing past the deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withOperator(cmd, func(ctx context.Context, op Operator) error {
				n, err := op.Reconcile(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "failed %d stuck tasks\n", n)
				return nil
			})
		},
	}
}

func (c *CLI) statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show rate limiter counters and queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withOperator(cmd, func(ctx context.Context, op Operator) error {
				totals, err := op.RateLimitTotals(ctx)
				if err != nil {
					return err
				}
				depth, err := op.QueueDepth(ctx)
				if err != nil {
					return err
				}
				printStats(cmd.OutOrStdout(), totals, depth)
				return nil
			})
		},
	}
}

func printStats(w io.Writer, totals map[string]int64, depth int64) {
	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(w, "queue depth: %d\n", depth)
	if len(keys) == 0 {
		fmt.Fprintln(w, "no rate limit decisions recorded")
		return
	}
	for _, k := range keys {
		fmt.Fprintf(w, "ratelimit %-20s %d\n", strings.ReplaceAll(k, ":", " "), totals[k])
	}
}

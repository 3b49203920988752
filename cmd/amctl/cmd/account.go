package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/donaldgifford/automarket/internal/session"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

func (a *app) loginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long: "Sign in and store the session so later commands run as you. The\n" +
			"password is read from stdin when --password is not given.",
		Example: `  amctl login --email seller@example.com
  echo "$PASSWORD" | amctl login --email seller@example.com`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			pw, err := passwordOrStdin(password, cmd.InOrStdin())
			if err != nil {
				return err
			}

			p, err := a.provider()
			if err != nil {
				return err
			}
			ctx := context.Background()
			if _, err := p.SignInWithPassword(ctx, email, pw); err != nil {
				return err
			}

			st, err := a.state(ctx, p)
			if err != nil {
				return err
			}
			return a.printSession(cmd.OutOrStdout(), "Signed in", st)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (read from stdin when empty)")
	return cmd
}

func (a *app) signupCmd() *cobra.Command {
	var email, password, name string
	var seller bool

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Long: "Create an account and sign in. With --seller (development only,\n" +
			"requires --allow-debug) the account is granted the SELLER role and the\n" +
			"session is refreshed so the role applies immediately.",
		Example: `  amctl signup --email new@example.com --name "Nina"
  amctl signup --email seller@example.com --seller --allow-debug`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			if seller {
				if err := a.requireDebug(); err != nil {
					return err
				}
			}
			pw, err := passwordOrStdin(password, cmd.InOrStdin())
			if err != nil {
				return err
			}

			p, c, err := a.sessionClient()
			if err != nil {
				return err
			}
			ctx := context.Background()
			u, err := p.SignUp(ctx, email, pw, name)
			if err != nil {
				return err
			}

			if seller {
				if err := c.SetRole(ctx, u.UID, domain.RoleSeller); err != nil {
					return fmt.Errorf("assigning seller role: %w", err)
				}
			}

			st, err := a.state(ctx, p)
			if err != nil {
				return err
			}
			return a.printSession(cmd.OutOrStdout(), "Account created", st)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (read from stdin when empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().BoolVar(&seller, "seller", false, "register as a seller (development only)")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.provider()
			if err != nil {
				return err
			}
			if err := p.SignOut(context.Background()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user, the role claim and the backend's view",
		Example: `  amctl whoami
  amctl whoami --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, c, err := a.sessionClient()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := a.state(ctx, p)
			if err != nil {
				return err
			}

			var who *domain.WhoAmI
			if st.IsAuthed {
				who, err = c.WhoAmI(ctx)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput() {
				return outputJSON(out, map[string]any{"session": st, "server": who})
			}
			if !st.IsAuthed {
				fmt.Fprintln(out, "Not signed in.")
				return nil
			}
			return printWhoAmI(out, st, who)
		},
	}
}

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the listings API is up",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := a.anonClient().Health(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func (a *app) adminCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "admin",
		Short: "Development-only administration",
	}

	root.AddCommand(&cobra.Command{
		Use:     "set-role <uid> <role>",
		Short:   "Assign a role to a user (requires --allow-debug)",
		Example: `  amctl admin set-role 4kq2... SELLER --allow-debug`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireDebug(); err != nil {
				return err
			}
			role, err := parseRoleArg(args[1])
			if err != nil {
				return err
			}

			p, c, err := a.sessionClient()
			if err != nil {
				return err
			}
			ctx := context.Background()
			if err := c.SetRole(ctx, args[0], role); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Role of %s set to %s.\n", args[0], role)

			if u := p.CurrentUser(); u != nil && u.UID == args[0] {
				st, err := a.state(ctx, p)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session refreshed, role is now %s.\n", st.Role)
			}
			return nil
		},
	})

	return root
}

func (a *app) printSession(w io.Writer, verb string, st session.State) error {
	if a.jsonOutput() {
		return outputJSON(w, st)
	}
	_, err := fmt.Fprintf(w, "%s as %s (%s).\n", verb, st.Email, st.Role)
	return err
}

func parseRoleArg(v string) (domain.Role, error) {
	r := domain.Role(strings.ToUpper(strings.TrimSpace(v)))
	for _, known := range domain.Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q (want USER, SELLER or ADMIN)", v)
}

func passwordOrStdin(flag string, in io.Reader) (string, error) {
	if flag != "" {
		return flag, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", fmt.Errorf("password is required")
	}
	return pw, nil
}

// Package cmd implements the amctl CLI commands.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/donaldgifford/automarket/internal/api/client"
	"github.com/donaldgifford/automarket/internal/gating"
	"github.com/donaldgifford/automarket/internal/identity"
	"github.com/donaldgifford/automarket/internal/session"
	"github.com/donaldgifford/automarket/internal/upload"
	"github.com/donaldgifford/automarket/pkg/logger"
)

// app holds the configuration shared by every command of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	log     *slog.Logger
}

// Root returns a new root command for documentation generation.
func Root() *cobra.Command {
	return newRootCmd()
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "amctl",
		Short: "CLI client for the AutoMarket vehicle marketplace",
		Long: "amctl is a command-line client for AutoMarket.\n" +
			"It signs you in, browses and searches car listings and lets sellers\n" +
			"create, update and delete their listings and upload images.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initConfig(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default $HOME/.amctl.yaml)")
	pf.String("api-url", "http://localhost:8080/api", "listings API base URL")
	pf.String("api-key", "", "identity provider API key")
	pf.String("identity-url", "https://identitytoolkit.googleapis.com", "identity toolkit base URL")
	pf.String("token-url", "https://securetoken.googleapis.com", "secure token base URL")
	pf.String("storage-url", "", "object storage base URL (enables uploads)")
	pf.String("storage-key", "", "object storage API key")
	pf.String("bucket", "cars", "object storage bucket")
	pf.String("credentials", "", "where the session is stored (default $XDG_CONFIG_HOME/amctl/credentials.json)")
	pf.String("output", "table", "output format (table, json)")
	pf.String("log-level", "warn", "log level (debug, info, warn, error)")
	pf.Bool("allow-debug", false, "enable development-only commands such as role assignment")

	for _, name := range []string{
		"api-url", "api-key", "identity-url", "token-url", "storage-url", "storage-key",
		"bucket", "credentials", "output", "log-level", "allow-debug",
	} {
		cobra.CheckErr(a.v.BindPFlag(name, pf.Lookup(name)))
	}

	root.AddCommand(
		a.loginCmd(),
		a.signupCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.healthCmd(),
		a.carsCmd(),
		a.uploadCmd(),
		a.adminCmd(),
		versionCmd(),
	)

	return root
}

func (a *app) initConfig(cmd *cobra.Command) error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			a.v.AddConfigPath(home)
		}
		a.v.SetConfigType("yaml")
		a.v.SetConfigName(".amctl")
	}

	a.v.SetEnvPrefix("AMCTL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err == nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Using config file:", a.v.ConfigFileUsed())
	} else if a.cfgFile != "" {
		return fmt.Errorf("reading config: %w", err)
	}

	if a.v.GetString("credentials") == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("locating config dir: %w", err)
		}
		a.v.Set("credentials", filepath.Join(dir, "amctl", "credentials.json"))
	}

	a.log = logger.NewWithWriter(cmd.ErrOrStderr(), a.v.GetString("log-level"), "text")
	return nil
}

func (a *app) jsonOutput() bool {
	return a.v.GetString("output") == "json"
}

func (a *app) provider() (*identity.FirebaseProvider, error) {
	key := a.v.GetString("api-key")
	if key == "" {
		return nil, fmt.Errorf("--api-key (or AMCTL_API_KEY) is required")
	}
	p, err := identity.NewFirebaseProvider(key,
		identity.WithIdentityURL(a.v.GetString("identity-url")),
		identity.WithTokenURL(a.v.GetString("token-url")),
		identity.WithCredentialStore(identity.NewFileStore(a.v.GetString("credentials"))),
		identity.WithLogger(a.log),
	)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return p, nil
}

// anonClient returns a client that never sends credentials.
func (a *app) anonClient() *client.Client {
	return client.New(a.v.GetString("api-url"), client.WithLogger(a.log), client.WithUserAgent("amctl/"+Version))
}

// sessionClient returns the provider of the stored session and a client
// that authenticates with it.
func (a *app) sessionClient() (*identity.FirebaseProvider, *client.Client, error) {
	p, err := a.provider()
	if err != nil {
		return nil, nil, err
	}
	c := client.New(a.v.GetString("api-url"),
		client.WithTokenSource(p),
		client.WithLogger(a.log),
		client.WithUserAgent("amctl/"+Version),
	)
	return p, c, nil
}

// state derives the session from a fresh token, the same way the storefront
// does.
func (a *app) state(ctx context.Context, p identity.Provider) (session.State, error) {
	obs := session.NewObserver(ctx, p, a.log)
	defer obs.Close()
	if err := obs.Wait(ctx); err != nil {
		return session.State{}, fmt.Errorf("deriving session: %w", err)
	}
	return obs.State(), nil
}

// requireSeller fails unless the stored session may manage listings.
func (a *app) requireSeller(ctx context.Context, p identity.Provider) (session.State, error) {
	st, err := a.state(ctx, p)
	if err != nil {
		return st, err
	}
	switch gating.SellerOnly.Decide(st) {
	case gating.Allowed:
		return st, nil
	case gating.Loading:
		return st, fmt.Errorf("session is still loading, try again")
	default:
		if !st.IsAuthed {
			return st, fmt.Errorf("not signed in, run 'amctl login' first")
		}
		return st, fmt.Errorf("role %s cannot manage listings (SELLER or ADMIN required)", st.Role)
	}
}

func (a *app) uploader() (*upload.Uploader, error) {
	base := a.v.GetString("storage-url")
	if base == "" {
		return nil, fmt.Errorf("--storage-url is required for uploads")
	}
	key := a.v.GetString("storage-key")
	if key == "" {
		key = a.v.GetString("api-key")
	}
	storage := upload.NewSupabaseStorage(base, key, a.v.GetString("bucket"))
	return upload.NewUploader(storage, upload.WithLogger(a.log)), nil
}

func (a *app) requireDebug() error {
	if !a.v.GetBool("allow-debug") {
		return fmt.Errorf("role assignment is a development feature, pass --allow-debug to use it")
	}
	return nil
}

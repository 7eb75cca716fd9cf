package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/al-bashkir/implicit-session/internal/auth"
	"github.com/al-bashkir/implicit-session/internal/claims"
	"github.com/al-bashkir/implicit-session/internal/config"
	"github.com/al-bashkir/implicit-session/internal/daemon"
	"github.com/al-bashkir/implicit-session/internal/httpserver"
	"github.com/al-bashkir/implicit-session/internal/oidc"
	"github.com/al-bashkir/implicit-session/internal/session"
)

// Version information (set via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
	jsonOutput bool
)

// Exit codes
const (
	ExitSuccess   = 0
	ExitError     = 1
	ExitConfig    = 3
	ExitNoSession = 4 // status, submit, fragment: nobody is signed in
)

// stdin is read by "submit -"
var stdin io.Reader = os.Stdin

var rootCmd = &cobra.Command{
	Use:   "implicit-session",
	Short: "OAuth implicit-flow session daemon",
	Long: `Signs a user in through an OAuth 2.0 implicit-flow redirect and keeps
the resulting session across restarts.

The identity provider redirects the browser to /redirect with the tokens in
the URL fragment. The daemon reads the access token's subject and email
claims, holds the session in memory, and persists it so the next start is
already signed in.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session daemon",
	Long: `Start the daemon.

The daemon:
  - Restores the persisted session, once, before serving anything
  - Serves the login link, the redirect page, and session status over HTTP
  - Listens on a Unix socket for status and submit requests from the CLI
  - Persists sessions derived from redirects`,
	RunE: runServe,
}

// overrideExitCode is set by subcommands so main() can call os.Exit()
// after cobra finishes.  This avoids calling os.Exit() inside RunE which
// would bypass deferred functions.  -1 means "use default".
var overrideExitCode = -1

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show who is signed in to the running daemon",
	Long: `Ask the running daemon for the current session.

Exit codes:
  0 = Signed in
  1 = Daemon unreachable or error
  4 = Not signed in`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var submitCmd = &cobra.Command{
	Use:   "submit <redirect-url|fragment|->",
	Short: "Hand a pasted redirect URL to the running daemon",
	Long: `Sign in without the browser script: paste the full address the identity
provider redirected to, or just its fragment. Use "-" to read it from stdin.

The daemon handles it exactly like a browser redirect. A URL without tokens
signs the current user out.

Exit codes:
  0 = Signed in
  1 = Invalid input, daemon unreachable, or error
  4 = The redirect did not yield a session`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var fragmentCmd = &cobra.Command{
	Use:   "fragment <raw-fragment>",
	Short: "Decode a redirect fragment offline",
	Long: `Derive a session from a raw fragment without contacting the daemon or
touching storage. Useful for checking what a provider actually sends.

Exit codes:
  0 = The fragment yields a session
  4 = It does not`,
	Args: cobra.ExactArgs(1),
	RunE: runFragment,
}

var loginURLCmd = &cobra.Command{
	Use:   "login-url",
	Short: "Print the identity provider login URL",
	Args:  cobra.NoArgs,
	RunE:  runLoginURL,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display version, commit hash, and build date.`,
	Run:   runVersion,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration file",
	Long: `Load and validate the configuration file without starting the daemon.

Checks for:
  - Valid YAML syntax
  - Required fields present
  - Valid URLs and storage settings

Exit codes:
  0 = Configuration is valid
  3 = Configuration error`,
	RunE: runCheckConfig,
}

func init() {
	// Global flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "/etc/implicit-session/config.yaml",
		"Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error) - overrides config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format (json, text) - overrides config file")

	for _, c := range []*cobra.Command{statusCmd, submitCmd, fragmentCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "Print the session summary as JSON")
	}

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(fragmentCmd)
	rootCmd.AddCommand(loginURLCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}

	// If a subcommand set a specific exit code, use it.
	// This is done outside RunE so deferred functions run properly.
	if overrideExitCode >= 0 {
		os.Exit(overrideExitCode)
	}
}

// applyLogFlags overrides log settings from flags if provided
func applyLogFlags(cfg *config.LogConfig) {
	if logLevel != "" {
		cfg.Level = logLevel
	}
	if logFormat != "" {
		cfg.Format = logFormat
	}
}

// loadClientConfig loads the configuration for commands that talk to the
// daemon. A missing or invalid file falls back to the defaults, which
// include the default socket path. Client commands log warnings and up to
// stderr unless --log-level says otherwise.
func loadClientConfig() *config.Config {
	cfg, err := config.Load(configFile)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	logCfg := config.LogConfig{Level: "warn", Format: "text"}
	applyLogFlags(&logCfg)
	config.SetupLogging(&logCfg)

	if err != nil {
		slog.Debug("using default configuration", "error", err)
	}
	return cfg
}

// runServe starts the daemon
func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	applyLogFlags(&cfg.Log)

	// Initialize structured logging based on config
	config.SetupLogging(&cfg.Log)

	httpserver.Version = version

	slog.Info("starting implicit-session daemon",
		"version", version,
		"commit", commit,
		"build_date", buildDate,
		"config", configFile,
	)

	// Create and run daemon
	d, err := daemon.New(cfg)
	if err != nil {
		slog.Error("failed to create daemon", "error", err)
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	return d.Run()
}

func newControlHandler(cfg *config.Config) *auth.Handler {
	h := auth.NewHandler(cfg.Listen.Socket)
	h.SetJSON(jsonOutput)
	return h
}

// runStatus asks the daemon who is signed in
func runStatus(cmd *cobra.Command, args []string) error {
	cfg := loadClientConfig()

	// Exit code is applied in main() after cobra finishes
	overrideExitCode = newControlHandler(cfg).Status(context.Background())
	return nil
}

// runSubmit hands a pasted redirect to the daemon
func runSubmit(cmd *cobra.Command, args []string) error {
	cfg := loadClientConfig()

	input := args[0]
	if input == "-" {
		data, err := io.ReadAll(io.LimitReader(stdin, httpserver.MaxFragmentBytes+1))
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		input = string(data)
	}

	overrideExitCode = newControlHandler(cfg).Submit(context.Background(), input)
	return nil
}

// runFragment derives a session from a fragment without the daemon
func runFragment(cmd *cobra.Command, args []string) error {
	cfg := loadClientConfig()

	raw, err := auth.ExtractFragment(args[0])
	if err != nil {
		return err
	}

	extractor := claims.NewExtractor(cfg.Claims.Subject, cfg.Claims.Email)
	sess, ok := session.Derive(raw, extractor)

	if err := auth.WriteSummary(os.Stdout, session.Summarize(sess, ok), jsonOutput); err != nil {
		return err
	}

	if !ok {
		overrideExitCode = ExitNoSession
	}
	return nil
}

// runLoginURL prints the identity provider login URL
func runLoginURL(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		overrideExitCode = ExitConfig
		return nil
	}

	applyLogFlags(&cfg.Log)
	config.SetupLogging(&cfg.Log)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.OIDC.DiscoveryTimeout)*time.Second)
	defer cancel()

	provider, err := oidc.NewProvider(ctx, &cfg.OIDC)
	if err != nil {
		return err
	}

	fmt.Println(provider.LoginURL())
	return nil
}

// runVersion displays version information
func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("implicit-session version %s\n", version)
	fmt.Printf("  Commit:     %s\n", commit)
	fmt.Printf("  Build date: %s\n", buildDate)
	fmt.Printf("  Go version: %s\n", getGoVersion())
}

// runCheckConfig validates the configuration
func runCheckConfig(cmd *cobra.Command, args []string) error {
	if code := checkConfig(os.Stdout, os.Stderr, configFile); code != ExitSuccess {
		overrideExitCode = code // exit code handled via overrideExitCode
	}
	return nil
}

// checkConfig prints a redacted summary of the config at path, or one line
// per validation problem, and returns the exit code.
func checkConfig(stdout, stderr io.Writer, path string) int {
	_, _ = fmt.Fprintf(stdout, "Checking configuration: %s\n\n", path)

	loaded, err := config.Load(path)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "❌ Configuration validation failed:")
		for _, line := range strings.Split(err.Error(), "\n") {
			_, _ = fmt.Fprintf(stderr, "   %s\n", line)
		}
		return ExitConfig
	}
	cfg := loaded.Redact()

	rows := [][2]string{}
	if cfg.OIDC.AuthorizeURL != "" {
		rows = append(rows, [2]string{"Authorize URL", cfg.OIDC.AuthorizeURL})
	} else {
		rows = append(rows, [2]string{"OIDC Issuer", cfg.OIDC.Issuer + " (discovery)"})
	}
	rows = append(rows,
		[2]string{"Client ID", cfg.OIDC.ClientID},
		[2]string{"Redirect URI", cfg.OIDC.RedirectURI},
		[2]string{"Scopes", strings.Join(cfg.OIDC.Scopes, " ")},
		[2]string{"Claims", fmt.Sprintf("subject=%s email=%s", cfg.Claims.Subject, cfg.Claims.Email)},
		[2]string{"Storage", storageSummary(&cfg.Storage)},
		[2]string{"Session Key", cfg.Storage.Key},
		[2]string{"HTTP Listen", cfg.Listen.HTTP},
		[2]string{"Unix Socket", cfg.Listen.Socket},
		[2]string{"Log", cfg.Log.Level + " / " + cfg.Log.Format},
		[2]string{"TLS Enabled", fmt.Sprint(cfg.TLS.Enabled)},
	)

	_, _ = fmt.Fprintln(stdout, "✅ Configuration is valid")
	_, _ = fmt.Fprintln(stdout, "\nConfiguration summary:")
	for _, r := range rows {
		_, _ = fmt.Fprintf(stdout, "  %-16s %s\n", r[0]+":", r[1])
	}
	_, _ = fmt.Fprintln(stdout, "\n✅ Ready to start daemon")

	return ExitSuccess
}

func storageSummary(s *config.StorageConfig) string {
	switch s.Driver {
	case config.DriverRedis:
		password := "[NOT SET]"
		if s.Redis.Password != "" {
			password = "[SET]"
		}
		return fmt.Sprintf("redis (%s, db %d, password %s)", s.Redis.Addr, s.Redis.DB, password)
	case config.DriverMemory:
		return "memory (not persisted)"
	default:
		return fmt.Sprintf("%s (%s)", s.Driver, s.Path)
	}
}

// getGoVersion returns the Go version used to build the binary
func getGoVersion() string {
	return runtime.Version()
}

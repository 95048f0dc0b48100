package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/pdfstamp/internal/config"
	"github.com/lehigh-university-libraries/pdfstamp/internal/oplog"
)

// globals carries the persistent flags and the resolved configuration
type globals struct {
	apiURL       string
	apiKey       string
	sessionID    string
	sessionToken string
	logFormat    string
	verbose      bool

	cfg config.Config
}

func NewRootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   "pdfstamp",
		Short: "Place images on PDF pages through an append-only edit log",
		Long: `pdfstamp edits PDFs by stamping raster images onto their pages.

Every placement, move and deletion is recorded in a per-session operation log on
the editing backend, so a session can be reopened, replayed and committed into
an edited PDF at any time.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			g.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&g.apiURL, "api-url", config.DefaultAPIURL, "Editing backend base URL (PDFSTAMP_API_URL)")
	flags.StringVar(&g.apiKey, "api-key", "", "API key for file and session creation (PDFSTAMP_API_KEY)")
	flags.StringVar(&g.sessionID, "session", "", "Session id (PDFSTAMP_SESSION_ID)")
	flags.StringVar(&g.sessionToken, "token", "", "Session token (PDFSTAMP_SESSION_TOKEN)")
	flags.StringVar(&g.logFormat, "log-format", "text", "Log format (text or json)")
	flags.BoolVarP(&g.verbose, "verbose", "v", false, "Verbose logging")

	// Add subcommands
	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newUploadCmd(g))
	cmd.AddCommand(newSessionCmd(g))
	cmd.AddCommand(newOpsCmd(g))
	cmd.AddCommand(newEditCmd(g))
	cmd.AddCommand(newDownloadCmd(g))
	cmd.AddCommand(newReplayCmd(g))

	return cmd
}

// load reads the environment and lets explicitly set flags override it
func (g *globals) load(cmd *cobra.Command) {
	g.cfg = config.Load()
	flags := cmd.Flags()
	if flags.Changed("api-url") {
		g.cfg.APIURL = g.apiURL
	}
	if flags.Changed("api-key") {
		g.cfg.APIKey = g.apiKey
	}
	if flags.Changed("session") {
		g.cfg.SessionID = g.sessionID
	}
	if flags.Changed("token") {
		g.cfg.SessionToken = g.sessionToken
	}
	setupLogging(g.verbose, g.logFormat)
}

func (g *globals) client() *oplog.Client {
	return oplog.NewClient(g.cfg.APIURL, g.cfg.APIKey, g.cfg.HTTPTimeout)
}

// session returns the session id and token, both required
func (g *globals) session() (string, string, error) {
	if g.cfg.SessionID == "" || g.cfg.SessionToken == "" {
		return "", "", fmt.Errorf("--session and --token are required (or PDFSTAMP_SESSION_ID and PDFSTAMP_SESSION_TOKEN)")
	}
	return g.cfg.SessionID, g.cfg.SessionToken, nil
}

func setupLogging(verbose bool, format string) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

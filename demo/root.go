package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wiki-saikou/mwapi-go/mwapi"
)

var (
	cfgFile    string
	dotenvFile string
	showStats  bool

	cfg      *Config
	logger   zerolog.Logger
	client   *mwapi.Client
	registry *prometheus.Registry
)

var rootCmd = &cobra.Command{
	Use:   "mwapi-demo",
	Short: "Talk to a MediaWiki Action API endpoint",
	Long: `mwapi-demo exercises the mwapi client against a real wiki: paginated queries,
tokens, bot-password or OAuth sessions, site info and SPARQL lookups.

Settings come from MW_* environment variables, an optional mwapi.yaml config file
and a .env file in the working directory.`,
	SilenceUsage:       true,
	PersistentPreRunE:  initializeApp,
	PersistentPostRunE: reportStats,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./mwapi.yaml)")
	rootCmd.PersistentFlags().StringVar(&dotenvFile, "env-file", ".env", "dotenv file with MW_* settings")
	rootCmd.PersistentFlags().BoolVar(&showStats, "stats", false, "log request counters before exiting")

	rootCmd.AddCommand(editDemoCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(siteInfoCmd)
	rootCmd.AddCommand(sparqlCmd)
}

func initializeApp(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = LoadConfig(cfgFile, dotenvFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger = setupLogger(cfg.Log)
	registry = prometheus.NewRegistry()

	client, err = newClient(cfg, logger, registry)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

func newClient(cfg *Config, logger zerolog.Logger, reg prometheus.Registerer) (*mwapi.Client, error) {
	opts := []mwapi.Option{
		mwapi.WithUserAgent(cfg.UserAgent),
		mwapi.WithTimeout(cfg.Timeout),
		mwapi.WithMaxLag(cfg.MaxLag),
		mwapi.WithEditRate(cfg.EditInterval),
		mwapi.WithLogger(logger.With().Str("component", "mwapi").Logger()),
		mwapi.WithMetrics(reg),
	}
	if cfg.OAuth.Enabled() {
		opts = append(opts, mwapi.WithOAuth(mwapi.OAuthCredentials{
			ConsumerKey:    cfg.OAuth.ConsumerKey,
			ConsumerSecret: cfg.OAuth.ConsumerSecret,
			TokenKey:       cfg.OAuth.TokenKey,
			TokenSecret:    cfg.OAuth.TokenSecret,
		}))
	}
	return mwapi.NewClient(cfg.APIEndpoint, opts...)
}

// ensureSession logs in with the bot password when one is configured.
// OAuth clients are already authenticated on every request.
func ensureSession(ctx context.Context) error {
	if cfg.OAuth.Enabled() {
		logger.Debug().Msg("using OAuth credentials")
		return nil
	}
	if cfg.Username == "" {
		logger.Warn().Msg("no credentials configured, continuing anonymously")
		return nil
	}
	res, err := client.Login(ctx, cfg.Username, cfg.Password)
	if err != nil {
		return err
	}
	logger.Info().Str("user", res.LgName).Int("id", res.LgUserID).Msg("login ok")
	return nil
}

func reportStats(cmd *cobra.Command, args []string) error {
	if !showStats || registry == nil {
		return nil
	}
	families, err := registry.Gather()
	if err != nil {
		return err
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	for _, mf := range families {
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		logger.Info().Str("metric", mf.GetName()).Float64("value", total).Msg("stats")
	}
	return nil
}

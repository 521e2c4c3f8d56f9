package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/mkarev/realtor-outreach/internal/config"
	"github.com/mkarev/realtor-outreach/internal/dispatch"
	"github.com/mkarev/realtor-outreach/internal/domain"
	httpapi "github.com/mkarev/realtor-outreach/internal/http"
	"github.com/mkarev/realtor-outreach/internal/mailer"
	"github.com/mkarev/realtor-outreach/internal/matching"
	"github.com/mkarev/realtor-outreach/internal/metrics"
	"github.com/mkarev/realtor-outreach/internal/outreach"
	"github.com/mkarev/realtor-outreach/internal/platform/logger"
	"github.com/mkarev/realtor-outreach/internal/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "outreach",
		Short:         "Relationship outreach engine for real-estate agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config YAML (optional)")

	root.AddCommand(newServeCmd(&cfgPath))
	root.AddCommand(newSweepCmd(&cfgPath))
	root.AddCommand(newMatchCmd(&cfgPath))
	root.AddCommand(newSeedCmd(&cfgPath))
	return root
}

// app bundles everything the subcommands share.
type app struct {
	cfg     config.Config
	log     *logger.Logger
	store   *storage.Store
	svc     *outreach.Service
	metrics *metrics.Metrics
}

func buildApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	store, err := storage.Open(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.EnsureSchema(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	var sender mailer.Sender
	if cfg.Mail.APIKey != "" {
		sender, err = mailer.NewSendGrid(log, mailer.SendGridConfig{
			APIKey:    cfg.Mail.APIKey,
			BaseURL:   cfg.Mail.BaseURL,
			FromEmail: cfg.Mail.FromEmail,
			FromName:  cfg.Mail.FromName,
			Timeout:   cfg.Mail.Timeout(),
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("build sender: %w", err)
		}
	} else {
		log.Warn("no mail api key configured; sends will be logged and dropped")
		sender = logSender{log: log}
	}

	m := metrics.New()
	d := dispatch.New(sender, cfg.Dispatch.Concurrency, log, m)
	engine := matching.NewEngine(cfg.Matching)
	svc := outreach.NewService(store, engine, d, mailer.TemplateDrafter{}, log, m, cfg.Milestones.HorizonDays)

	return &app{cfg: cfg, log: log, store: store, svc: svc, metrics: m}, nil
}

func (a *app) close() {
	_ = a.store.Close()
	a.log.Sync()
}

// logSender stands in for the mail provider in local development.
type logSender struct {
	log *logger.Logger
}

func (l logSender) Send(_ context.Context, msg mailer.Message) (string, error) {
	l.log.Info("would send email", "to", msg.To, "subject", msg.Subject)
	return "dev-" + time.Now().UTC().Format("20060102150405.000000000"), nil
}

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			srv := &http.Server{
				Addr:    a.cfg.Server.Address,
				Handler: httpapi.NewServer(a.svc, a.store, a.log, a.metrics).Router(),
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("api listening", "address", a.cfg.Server.Address)
				errCh <- srv.ListenAndServe()
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case <-stop:
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newSweepCmd(cfgPath *string) *cobra.Command {
	var every time.Duration
	var todayFlag string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a milestone sweep (once, or periodically with --every)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			runOnce := func(ctx context.Context) error {
				today := domain.Today()
				if todayFlag != "" {
					d, err := domain.ParseDate(todayFlag)
					if err != nil {
						return err
					}
					today = d
				}
				res, err := a.svc.SweepMilestones(ctx, today)
				if err != nil {
					return err
				}
				a.log.Info("sweep finished",
					"sent", len(res.Sent), "failed", len(res.Failed), "already_sent", len(res.AlreadySent))
				return nil
			}

			if every <= 0 {
				return runOnce(cmd.Context())
			}

			c := cron.New()
			if _, err := c.AddFunc(fmt.Sprintf("@every %s", every), func() {
				if err := runOnce(context.Background()); err != nil {
					a.log.Error("sweep failed", "err", err)
				}
			}); err != nil {
				return err
			}
			a.log.Info("sweep scheduler started", "every", every.String())
			c.Start()
			defer c.Stop()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop
			return nil
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "run periodically at this interval (e.g. 1h)")
	cmd.Flags().StringVar(&todayFlag, "today", "", "treat this date (YYYY-MM-DD) as today")
	return cmd
}

func newMatchCmd(cfgPath *string) *cobra.Command {
	var accountID string
	var limit int

	cmd := &cobra.Command{
		Use:   "match <client-id>",
		Short: "Generate matches for one client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			matches, err := a.svc.GenerateMatches(cmd.Context(), accountID, args[0], limit)
			if err != nil {
				return err
			}
			for _, m := range matches {
				fmt.Printf("%.2f  %s  %v\n", m.Score, m.ListingID, m.Reasons)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "owning account id")
	cmd.Flags().IntVar(&limit, "limit", 0, "max matches (0 = configured default)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newSeedCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <seed-file.json>",
		Short: "Load clients and listings from a JSON seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			seed, err := storage.LoadSeedFile(args[0])
			if err != nil {
				return err
			}
			if err := a.store.Seed(cmd.Context(), seed); err != nil {
				return err
			}
			a.log.Info("seed loaded", "clients", len(seed.Clients), "listings", len(seed.Listings))
			return nil
		},
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/config"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/loader"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/manifest"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/metrics"
)

const allProviders = "all"

type runOptions struct {
	dryRun   bool
	failFast bool
	strict   bool
	months   []string
	since    string
	// pushgatewayURL overrides the configured Pushgateway.
	pushgatewayURL string
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run <provider>... | all",
	Short: "loads new billing exports of the given providers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := setupSignals()
		defer cancel()
		return runProviders(ctx, logger, cfg, args, runOpts)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOpts.dryRun, "dry-run", false, "log what would be loaded without touching the warehouse or the state")
	runCmd.Flags().BoolVar(&runOpts.failFast, "fail-fast", false, "stop a provider at its first failed manifest")
	runCmd.Flags().BoolVar(&runOpts.strict, "strict", false, "exit with status 2 when any manifest failed")
	runCmd.Flags().StringSliceVar(&runOpts.months, "months", nil, "only load these billing months (YYYY-MM)")
	runCmd.Flags().StringVar(&runOpts.since, "since", "", "only load billing months at or after this one (YYYY-MM)")
	runCmd.Flags().StringVar(&runOpts.pushgatewayURL, "pushgateway-url", "", "push run metrics to this Prometheus Pushgateway")
}

// providerNames expands "all" and rejects providers missing from cfg.
func providerNames(cfg *config.Config, args []string) ([]string, error) {
	var names []string
	seen := make(map[string]bool)
	for _, arg := range args {
		expanded := []string{arg}
		if arg == allProviders {
			expanded = cfg.ProviderNames()
		}
		for _, name := range expanded {
			if _, ok := cfg.Providers[name]; !ok {
				return nil, fmt.Errorf("provider %q is not configured", name)
			}
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names, nil
}

func (o runOptions) filters() ([]manifest.Filter, error) {
	var filters []manifest.Filter
	for _, m := range o.months {
		if _, err := time.Parse(manifest.BillingMonthLayout, m); err != nil {
			return nil, fmt.Errorf("invalid month %q in --months, expected YYYY-MM", m)
		}
	}
	if len(o.months) > 0 {
		filters = append(filters, manifest.MonthsFilter(o.months...))
	}
	if o.since != "" {
		if _, err := time.Parse(manifest.BillingMonthLayout, o.since); err != nil {
			return nil, fmt.Errorf("invalid month %q in --since, expected YYYY-MM", o.since)
		}
		filters = append(filters, manifest.SinceFilter(o.since))
	}
	return filters, nil
}

// runProviders runs every provider concurrently. A fatal error of one
// provider does not stop the others.
func runProviders(ctx context.Context, logger log.FieldLogger, cfg *config.Config, args []string, opts runOptions) error {
	names, err := providerNames(cfg, args)
	if err != nil {
		return err
	}
	filters, err := opts.filters()
	if err != nil {
		return err
	}

	m := metrics.New()
	var (
		g       errgroup.Group
		mu      sync.Mutex
		reports []*loader.Report
	)
	for _, name := range names {
		name := name
		g.Go(func() error {
			report, err := runProvider(ctx, logger.WithField("provider", name), cfg, name, m, loader.Options{
				DryRun:   opts.dryRun,
				FailFast: opts.failFast,
				Filters:  filters,
			})
			if report != nil {
				mu.Lock()
				reports = append(reports, report)
				mu.Unlock()
			}
			if err != nil {
				return fmt.Errorf("provider %s: %w", name, err)
			}
			return nil
		})
	}
	fatal := g.Wait()

	for _, r := range reports {
		logSummary(logger, r)
	}

	url := opts.pushgatewayURL
	if url == "" {
		url = cfg.Metrics.PushgatewayURL
	}
	if url != "" && !opts.dryRun {
		if err := m.Push(context.WithoutCancel(ctx), url, cfg.Metrics.Job); err != nil {
			logger.WithError(err).Warn("could not push metrics")
		}
	}

	if fatal != nil {
		return &exitError{code: exitFatal, err: fatal}
	}
	if opts.strict {
		for _, r := range reports {
			if r.Failed() {
				return &exitError{code: exitStrict, err: errors.New("some manifests failed to load")}
			}
		}
	}
	return nil
}

func runProvider(ctx context.Context, logger log.FieldLogger, cfg *config.Config, name string, m *metrics.Metrics, opts loader.Options) (*loader.Report, error) {
	p, err := cfg.Provider(name)
	if err != nil {
		return nil, err
	}
	store, err := cfg.Store(ctx, cfg.Bucket(name))
	if err != nil {
		return nil, err
	}
	wh, err := cfg.OpenWarehouse(ctx, logger, logQueries)
	if err != nil {
		return nil, err
	}
	defer wh.Close()
	states, release, err := cfg.StateStore(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	opts.Table = cfg.Table(name)
	return loader.New(logger, p, store, wh, states, m, opts).Run(ctx)
}

func logSummary(logger log.FieldLogger, r *loader.Report) {
	logger = logger.WithFields(log.Fields{"provider": r.Provider, "run_id": r.RunID})
	for _, res := range r.Results {
		entry := logger.WithFields(log.Fields{
			"billing_month": res.BillingMonth,
			"execution_id":  res.ExecutionID,
			"outcome":       res.Outcome,
		})
		switch res.Outcome {
		case loader.OutcomeFailed:
			entry.WithError(res.Err).Warnf("%s failed", res.Path)
		case loader.OutcomeSkipped:
			entry.Debugf("%s skipped: %s", res.Path, res.Reason)
		default:
			entry.Infof("%s %s: %d files, %d rows", res.Path, res.Outcome, res.FileCount, res.RowsLoaded)
		}
	}
	for _, invalid := range r.Invalid {
		logger.WithError(invalid.Err).Warnf("%s is not a valid manifest", invalid.Key)
	}
	logger.Infof("%s: %d loaded, %d skipped, %d failed, %d planned, %d invalid manifests, %d rows in %s",
		r.Table, r.Count(loader.OutcomeLoaded), r.Count(loader.OutcomeSkipped), r.Count(loader.OutcomeFailed),
		r.Count(loader.OutcomePlanned), len(r.Invalid), r.RowsLoaded(), r.Finished.Sub(r.Started).Round(time.Millisecond))
}

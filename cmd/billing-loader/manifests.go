package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/config"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/manifest"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/partition"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/provider"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/state"
	"github.com/JGrubb/open-finops-pipelines-bigquery/pkg/storage"
)

var checkWarehouse bool

var manifestsCmd = &cobra.Command{
	Use:   "manifests",
	Short: "inspects staged manifests",
}

var manifestsListCmd = &cobra.Command{
	Use:   "list <provider>",
	Short: "lists the manifests of a provider, newest first, with their load status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := setupSignals()
		defer cancel()
		return listManifests(ctx, cmd.OutOrStdout(), logger, cfg, args[0])
	},
}

func init() {
	manifestsListCmd.Flags().BoolVar(&checkWarehouse, "check-warehouse", false, "also report whether each billing month has rows in the warehouse")
	manifestsCmd.AddCommand(manifestsListCmd)
}

type manifestRow struct {
	manifest *manifest.Manifest
	files    int
	loaded   bool
	// inWarehouse is nil when the warehouse was not checked.
	inWarehouse *bool
}

func listManifests(ctx context.Context, out io.Writer, logger log.FieldLogger, cfg *config.Config, name string) error {
	p, err := cfg.Provider(name)
	if err != nil {
		return err
	}
	store, err := cfg.Store(ctx, cfg.Bucket(name))
	if err != nil {
		return err
	}
	states, release, err := cfg.StateStore(ctx)
	if err != nil {
		return err
	}
	defer release()

	table := cfg.Table(name)
	loaded, err := states.Load(ctx, state.Key(name, table))
	if err != nil {
		return err
	}
	rows, invalid, err := discoverRows(ctx, logger, p, store, loaded)
	if err != nil {
		return err
	}

	if checkWarehouse {
		wh, err := cfg.OpenWarehouse(ctx, logger, logQueries)
		if err != nil {
			return err
		}
		defer wh.Close()
		partitions := partition.NewManager(logger, wh)
		for i := range rows {
			exists, err := partitions.PartitionExists(ctx, table, p.PartitionColumn(), rows[i].manifest.PartitionValue())
			if err != nil {
				return err
			}
			rows[i].inWarehouse = &exists
		}
	}

	if err := writeManifestRows(out, rows); err != nil {
		return err
	}
	for _, e := range invalid {
		logger.WithError(e.Err).Warnf("%s is not a valid manifest", e.Key)
	}
	return nil
}

func discoverRows(ctx context.Context, logger log.FieldLogger, p provider.Provider, store storage.Store, loaded state.State) ([]manifestRow, []*manifest.ParseError, error) {
	d := manifest.NewDiscoverer(logger, store, p.ListPrefix(), p.ManifestPattern(), manifest.ParserFunc(p.Parse))
	res, err := d.Discover(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows := make([]manifestRow, len(res.Manifests))
	for i, m := range res.Manifests {
		rows[i] = manifestRow{
			manifest: m,
			files:    len(m.DataFiles),
			loaded:   loaded.Has(m.BillingMonth(), m.ExecutionID),
		}
	}
	return rows, res.Errors, nil
}

func writeManifestRows(out io.Writer, rows []manifestRow) error {
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "MONTH\tEXECUTION\tFORMAT\tFILES\tLOADED\tIN WAREHOUSE\tMANIFEST")
	for _, r := range rows {
		inWarehouse := "-"
		if r.inWarehouse != nil {
			inWarehouse = fmt.Sprint(*r.inWarehouse)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\t%s\n",
			r.manifest.BillingMonth(), r.manifest.ExecutionID, r.manifest.Format, r.files, r.loaded, inWarehouse, r.manifest.Path)
	}
	return w.Flush()
}

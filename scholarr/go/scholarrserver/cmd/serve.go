package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/scholarr/scholarr/go/alogin/proxylogin"
	"github.com/scholarr/scholarr/go/eventbus"
	"github.com/scholarr/scholarr/go/httputils"
	"github.com/scholarr/scholarr/go/metrics2"
	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sklog"
	"github.com/scholarr/scholarr/go/sser"
	"github.com/scholarr/scholarr/scholarr/go/config"
	"github.com/scholarr/scholarr/scholarr/go/continuation"
	"github.com/scholarr/scholarr/scholarr/go/continuation/sqlcontinuationstore"
	"github.com/scholarr/scholarr/scholarr/go/enrich"
	"github.com/scholarr/scholarr/scholarr/go/enrich/arxiv"
	"github.com/scholarr/scholarr/scholarr/go/enrich/crossref"
	"github.com/scholarr/scholarr/scholarr/go/enrich/openalex"
	"github.com/scholarr/scholarr/scholarr/go/events"
	"github.com/scholarr/scholarr/scholarr/go/frontend"
	"github.com/scholarr/scholarr/scholarr/go/gateway"
	"github.com/scholarr/scholarr/scholarr/go/namesearch"
	"github.com/scholarr/scholarr/scholarr/go/pager"
	"github.com/scholarr/scholarr/scholarr/go/pdf"
	"github.com/scholarr/scholarr/scholarr/go/pdf/sqlpdfstore"
	"github.com/scholarr/scholarr/scholarr/go/processor"
	"github.com/scholarr/scholarr/scholarr/go/publication/sqlpublicationstore"
	"github.com/scholarr/scholarr/scholarr/go/runner"
	"github.com/scholarr/scholarr/scholarr/go/runs/sqlrunstore"
	"github.com/scholarr/scholarr/scholarr/go/safety"
	"github.com/scholarr/scholarr/scholarr/go/safety/sqlsafetystore"
	"github.com/scholarr/scholarr/scholarr/go/scheduler"
	"github.com/scholarr/scholarr/scholarr/go/scholars/sqlscholarstore"
	"github.com/scholarr/scholarr/scholarr/go/scholarsource"
	"github.com/scholarr/scholarr/scholarr/go/users/sqluserstore"
)

// pdfWorkerTick is how often the PDF queue is polled for due items.
const pdfWorkerTick = 30 * time.Second

var serveFlags struct {
	configFile string
}

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Scholarr server.",
	Long: `Runs the REST API, the run scheduler and the PDF resolution
workers as one process.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.InstanceConfigFromFile(serveFlags.configFile)
		if err != nil {
			return err
		}

		metrics2.InitPrometheus(cfg.PromPort)

		cmd.LocalFlags().VisitAll(func(f *pflag.Flag) {
			sklog.Infof("Flags: --%s=%v", f.Name, f.Value)
		})

		ctx := context.Background()
		db, err := pgxpool.Connect(ctx, cfg.ConnectionString)
		if err != nil {
			return skerr.Wrapf(err, "connecting to %q", cfg.ConnectionString)
		}

		userStore := sqluserstore.New(db)
		scholarStore := sqlscholarstore.New(db)
		runStore := sqlrunstore.New(db)
		pubStore := sqlpublicationstore.New(db)
		contStore := sqlcontinuationstore.New(db, continuation.PolicyFromConfig(cfg))
		safetyCtl := safety.New(sqlsafetystore.New(db), cfg)

		// The gateway owns scrape retry policy, so its client must not retry
		// on its own.
		scrapeClient := httputils.DefaultClientConfig().WithoutRetries().Client()
		scrapeGw := gateway.New(scrapeClient, time.Duration(cfg.MinRequestDelaySeconds)*time.Second, scholarsource.DetectBlock)
		pg := pager.New(scrapeGw, cfg)
		proc := processor.New(pg, pubStore)

		// Metadata providers get their own gateway; their pacing is a polite
		// QPS rather than the scrape gap, and their failures never count
		// against the scrape safety thresholds.
		metaClient := httputils.DefaultClientConfig().Client()
		metaGw := gateway.NewWithLimiter(metaClient, cfg.EnrichProviderQPS)
		enricher := enrich.New(pubStore,
			openalex.New(metaGw, cfg.OpenAlexURL),
			crossref.New(metaGw, cfg.CrossrefURL),
			arxiv.New(metaGw, cfg.ArxivURL),
		)

		var resolvers []pdf.Resolver
		if cfg.UnpaywallEmail != "" {
			resolvers = append(resolvers, pdf.NewUnpaywallResolver(metaGw, cfg.UnpaywallURL, cfg.UnpaywallEmail))
		} else {
			sklog.Infof("unpaywall_email is not set; skipping Unpaywall PDF resolution.")
		}
		resolvers = append(resolvers, pdf.NewArxivResolver(cfg.ArxivURL))
		pdfWorker := pdf.NewWorker(sqlpdfstore.New(db, pdf.PolicyFromConfig(cfg)), pubStore, resolvers, pdf.PolicyFromConfig(cfg), cfg.PdfWorkerCount)
		pdfWorker.Start(ctx, pdfWorkerTick)

		bus := eventbus.New()
		sseServer := sser.New()
		if err := sseServer.Start(ctx); err != nil {
			return skerr.Wrap(err)
		}

		run := runner.New(runner.Params{
			Config:        cfg,
			Bus:           bus,
			Streams:       func(runID int64) func() { return events.Bridge(ctx, bus, sseServer, runID) },
			Processor:     proc,
			Runs:          runStore,
			Users:         userStore,
			Scholars:      scholarStore,
			Publications:  pubStore,
			Safety:        safetyCtl,
			Continuations: contStore,
			Enricher:      enricher,
			Pdf:           pdfWorker,
		})

		scheduler.New(cfg, run, userStore, runStore, contStore).Start(ctx)

		searcher, err := namesearch.New(scrapeGw, cfg)
		if err != nil {
			return skerr.Wrap(err)
		}

		app := frontend.New(frontend.Params{
			Config:       cfg,
			BaseCtx:      ctx,
			Login:        proxylogin.NewWithDefaults(),
			Users:        userStore,
			Scholars:     scholarStore,
			Runs:         runStore,
			Publications: pubStore,
			Safety:       safetyCtl,
			Submitter:    run,
			Searcher:     searcher,
			Pdf:          pdfWorker,
			Meta:         pg,
			SSE:          sseServer,
		})

		sklog.Infof("Ready to serve on port %s", cfg.Port)
		return http.ListenAndServe(cfg.Port, app.Router())
	},
}

func serveInit() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveFlags.configFile, "config", "", "Instance config file. Must be supplied.")
	_ = serveCmd.MarkFlagRequired("config")
}

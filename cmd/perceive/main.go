// Command perceive is the thin CLI entrypoint over the ingestion pipeline
// and search index: flag-based subcommands wiring config, store, sources,
// model, pipeline, and index together.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/dimfeld/perceive/internal/cli"
	"github.com/dimfeld/perceive/internal/config"
	"github.com/dimfeld/perceive/internal/index"
	"github.com/dimfeld/perceive/internal/model"
	"github.com/dimfeld/perceive/internal/pipeline"
	"github.com/dimfeld/perceive/internal/source"
	"github.com/dimfeld/perceive/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("received shutdown signal, cancelling...")
		cancel()
	}()

	var err error
	switch os.Args[1] {
	case "add-source":
		err = runAddSource(ctx, cfg, os.Args[2:])
	case "scan":
		err = runScan(ctx, cfg, os.Args[2:])
	case "reprocess":
		err = runReprocess(ctx, cfg, os.Args[2:])
	case "search":
		err = runSearch(ctx, cfg, os.Args[2:])
	case "hide", "unhide":
		err = runSetHidden(ctx, cfg, os.Args[1] == "hide", os.Args[2:])
	case "list-sources":
		err = runListSources(ctx, cfg)
	case "delete-source":
		err = runDeleteSource(ctx, cfg, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: perceive <add-source|list-sources|delete-source|scan|reprocess|search|hide|unhide> [flags]")
}

func openStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(cfg.DBPath)
}

func buildModel(cfg *config.Config, modelID, modelVersion uint) model.Model {
	identity := model.Identity{ModelID: model.ID(modelID), Version: uint32(modelVersion)}
	return model.NewHTTPClient(cfg.EmbeddingServiceURL, identity, time.Duration(cfg.EmbeddingTimeout)*time.Second, cfg.EmbeddingMaxRetries)
}

func runAddSource(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("add-source", flag.ExitOnError)
	name := fs.String("name", "", "unique source name")
	location := fs.String("location", "", "root path (fs) or profile file (chromium-*)")
	kind := fs.String("kind", "fs", "fs|chromium-history|chromium-bookmarks")
	globs := fs.String("globs", "", "comma-separated glob patterns (fs only)")
	skipDomains := fs.String("skip-domains", "", "comma-separated domains to skip (chromium-* only)")
	strategy := fs.String("compare-strategy", "mtime_and_content", "mtime_and_content|mtime|content|force")
	fs.Parse(args)

	if *name == "" || *location == "" {
		return fmt.Errorf("-name and -location are required")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sourceCfg := source.Config{Kind: parseKind(*kind), Globs: splitNonEmpty(*globs), SkipDomains: splitNonEmpty(*skipDomains)}
	configJSON, err := source.MarshalConfig(sourceCfg)
	if err != nil {
		return err
	}
	statusJSON, err := source.MarshalStatus(source.Status{State: "new"})
	if err != nil {
		return err
	}

	id, err := st.CreateSource(ctx, store.SourceRow{
		Name:            *name,
		Location:        *location,
		ConfigJSON:      configJSON,
		CompareStrategy: strings.ToLower(*strategy),
		StatusJSON:      statusJSON,
	})
	if err != nil {
		return err
	}
	fmt.Printf("created source %q (id=%d)\n", *name, id)
	return nil
}

func parseKind(s string) source.Kind {
	switch s {
	case "chromium-history":
		return source.KindChromiumHistory
	case "chromium-bookmarks":
		return source.KindChromiumBookmarks
	default:
		return source.KindFs
	}
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadSource resolves a persisted source row plus its Scanner.
func loadSource(row *store.SourceRow, fetch *source.FetchClient) (source.Config, source.Scanner, error) {
	cfg, err := source.UnmarshalConfig(row.ConfigJSON)
	if err != nil {
		return source.Config{}, nil, err
	}
	return cfg, source.New(row.Location, cfg, fetch), nil
}

func runScan(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	name := fs.String("name", "", "source name")
	modelID := fs.Uint("model-id", 0, "embedding model id")
	modelVersion := fs.Uint("model-version", 0, "embedding model version")
	fs.Parse(args)
	if *name == "" {
		return fmt.Errorf("-name is required")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	row, err := st.GetSourceByName(ctx, *name)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("no such source %q", *name)
	}

	_, scanner, err := loadSource(row, source.NewFetchClient(time.Duration(cfg.HTTPTimeoutSeconds)*time.Second))
	if err != nil {
		return err
	}

	strategy := source.ParseCompareStrategy(row.CompareStrategy)
	indexVersion, err := st.BeginScan(ctx, row.ID, mustStatus(source.IndexingStatus(time.Now())))
	if err != nil {
		return err
	}

	ui := cli.New(false)
	ui.StartPhase(*name)

	stats := &pipeline.Stats{}
	m := buildModel(cfg, *modelID, *modelVersion)

	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetDescription("[cyan]scanning...[reset]"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWriter(os.Stdout),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSpinnerType(14),
	)
	barCtx, cancelBar := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-barCtx.Done():
				return
			case <-ticker.C:
				bar.Set64(stats.Scanned.Load())
				bar.Describe(fmt.Sprintf("[cyan]scanning[reset] added:%d changed:%d unchanged:%d",
					stats.Added.Load(), stats.Changed.Load(), stats.Unchanged.Load()))
			}
		}
	}()

	runErr := pipeline.Run(ctx, pipeline.Options{
		Scanner:            scanner,
		Store:              st,
		Model:              m,
		SourceID:           row.ID,
		IndexVersion:       indexVersion,
		Strategy:           strategy,
		ModelID:            uint32(*modelID),
		ModelVersion:       uint32(*modelVersion),
		ReaderWorkers:      cfg.ReaderWorkers,
		EmbeddingBatch:     cfg.EmbeddingBatchSize,
		ReconcilerCapacity: cfg.ReconcilerChannelCapacity,
		WriterCapacity:     cfg.WriterChannelCapacity,
	}, stats)

	cancelBar()
	bar.Finish()

	duration := ui.EndPhase()
	scanned := int(stats.Added.Load() + stats.Changed.Load() + stats.Unchanged.Load())

	var statusJSON string
	if runErr != nil {
		statusJSON = mustStatus(source.ErrorStatus(runErr.Error()))
	} else {
		statusJSON = mustStatus(source.ReadyStatus(scanned, duration))
	}
	if err := st.EndScan(ctx, row.ID, statusJSON, time.Now().Unix()); err != nil {
		return err
	}

	ui.Summary(*name, map[string]string{
		"added":     fmt.Sprint(stats.Added.Load()),
		"changed":   fmt.Sprint(stats.Changed.Load()),
		"unchanged": fmt.Sprint(stats.Unchanged.Load()),
	})
	return runErr
}

func mustStatus(s source.Status) string {
	j, err := source.MarshalStatus(s)
	if err != nil {
		// Status always marshals; a failure here means a programming error
		// in the Status struct, not a runtime condition to recover from.
		panic(err)
	}
	return j
}

func runReprocess(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("reprocess", flag.ExitOnError)
	name := fs.String("name", "", "source name")
	modelID := fs.Uint("model-id", 0, "embedding model id")
	modelVersion := fs.Uint("model-version", 0, "embedding model version")
	fs.Parse(args)
	if *name == "" {
		return fmt.Errorf("-name is required")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	row, err := st.GetSourceByName(ctx, *name)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("no such source %q", *name)
	}

	_, scanner, err := loadSource(row, source.NewFetchClient(time.Duration(cfg.HTTPTimeoutSeconds)*time.Second))
	if err != nil {
		return err
	}

	m := buildModel(cfg, *modelID, *modelVersion)
	return pipeline.Reprocess(ctx, pipeline.ReprocessOptions{
		Scanner:        scanner,
		Store:          st,
		Model:          m,
		SourceID:       row.ID,
		IndexVersion:   row.IndexVersion,
		ModelID:        uint32(*modelID),
		ModelVersion:   uint32(*modelVersion),
		Workers:        cfg.ReaderWorkers,
		EmbeddingBatch: cfg.EmbeddingBatchSize,
	})
}

func runSearch(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	query := fs.String("query", "", "search text")
	sources := fs.String("sources", "", "comma-separated source names (default: all)")
	k := fs.Int("k", 10, "max results")
	modelID := fs.Uint("model-id", 0, "embedding model id")
	modelVersion := fs.Uint("model-version", 0, "embedding model version")
	fs.Parse(args)
	if *query == "" {
		return fmt.Errorf("-query is required")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	all, err := st.ListSources(ctx)
	if err != nil {
		return err
	}
	var sourceIDs []int64
	wanted := make(map[string]bool)
	for _, n := range splitNonEmpty(*sources) {
		wanted[n] = true
	}
	for _, row := range all {
		if len(wanted) == 0 || wanted[row.Name] {
			sourceIDs = append(sourceIDs, row.ID)
		}
	}

	m := buildModel(cfg, *modelID, *modelVersion)
	searcher := index.NewSearcher(st, m.Identity())
	if err := searcher.Build(ctx); err != nil {
		return err
	}

	vectors, err := m.Encode(ctx, []string{*query})
	if err != nil {
		return err
	}
	if len(vectors) == 0 {
		return fmt.Errorf("embedding service returned no vector for query")
	}

	results, err := searcher.SearchAndRetrieve(ctx, sourceIDs, *k, vectors[0])
	if err != nil {
		return err
	}

	contents := make([]string, len(results))
	for i, r := range results {
		contents[i] = r.Item.Content
	}
	highlights, err := model.Highlight(ctx, m, *query, contents, cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return fmt.Errorf("highlight results: %w", err)
	}

	for i, r := range results {
		fmt.Printf("%.4f\t%s\t%s\n", r.Score, r.Item.ExternalID, r.Item.Name.String)
		if snippet := highlights[i].Text(contents[i]); snippet != "" {
			fmt.Printf("\t%s\n", snippet)
		}
	}
	return nil
}

func runListSources(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rows, err := st.ListSources(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		status, err := source.UnmarshalStatus(row.StatusJSON)
		if err != nil {
			status = source.Status{State: "unknown"}
		}
		fmt.Printf("%d\t%s\t%s\t%s\tv%d\n", row.ID, row.Name, row.Location, status.State, row.IndexVersion)
	}
	return nil
}

func runDeleteSource(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("delete-source", flag.ExitOnError)
	name := fs.String("name", "", "source name")
	fs.Parse(args)
	if *name == "" {
		return fmt.Errorf("-name is required")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	row, err := st.GetSourceByName(ctx, *name)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("no such source %q", *name)
	}
	if err := st.SoftDeleteSource(ctx, row.ID, time.Now().Unix()); err != nil {
		return err
	}
	fmt.Printf("deleted source %q (items retained)\n", *name)
	return nil
}

func runSetHidden(ctx context.Context, cfg *config.Config, hidden bool, args []string) error {
	fs := flag.NewFlagSet("hide", flag.ExitOnError)
	itemID := fs.Int64("item", 0, "item id")
	fs.Parse(args)
	if *itemID == 0 {
		return fmt.Errorf("-item is required")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var ts sql.NullInt64
	if hidden {
		ts = sql.NullInt64{Int64: time.Now().Unix(), Valid: true}
	}
	return st.SetHidden(ctx, *itemID, ts)
}

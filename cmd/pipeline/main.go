// Command pipeline runs the trajectory pipeline offline: subsetting the raw
// corpus, importing it, cleaning, matching, aggregating and reporting.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	flag "github.com/spf13/pflag"

	"github.com/jengzang/porto-trajectory-go/internal/analysis"
	"github.com/jengzang/porto-trajectory-go/internal/analysis/foundation"
	"github.com/jengzang/porto-trajectory-go/internal/analysis/matching"
	"github.com/jengzang/porto-trajectory-go/internal/analysis/traversal"
	"github.com/jengzang/porto-trajectory-go/internal/config"
	"github.com/jengzang/porto-trajectory-go/internal/database"
	"github.com/jengzang/porto-trajectory-go/internal/dataset"
	"github.com/jengzang/porto-trajectory-go/internal/metrics"
	"github.com/jengzang/porto-trajectory-go/internal/middleware"
	"github.com/jengzang/porto-trajectory-go/internal/models"
	"github.com/jengzang/porto-trajectory-go/internal/osmdata"
	"github.com/jengzang/porto-trajectory-go/internal/report"
	"github.com/jengzang/porto-trajectory-go/internal/repository"
	"github.com/jengzang/porto-trajectory-go/internal/service"
	"github.com/jengzang/porto-trajectory-go/internal/spatial"
)

type command struct {
	usage string
	run   func(ctx context.Context, cfg *config.Config, args []string) error
}

// commands is filled in init: the run functions reach it through newFlagSet
var commands map[string]command

func init() {
	commands = map[string]command{
		"subset":    {"subset --in train.csv --out subset.csv [--limit N]", runSubset},
		"import":    {"import --trips subset.csv [--network edges.csv]", runImport},
		"clean":     {"clean [--full]", runClean},
		"match":     {"match [--full] [--table matches.csv]", runMatch},
		"aggregate": {"aggregate", runAggregate},
		"report":    {"report [--by count|avg_time] [--k N] [--kind WAY|EDGE] [--csv f] [--geojson f] [--png f]", runReport},
		"token":     {"token [--subject name] [--ttl 24h]", runToken},
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [flags]\n\nCommands:\n", os.Args[0])
	for _, name := range []string{"subset", "import", "clean", "match", "aggregate", "report", "token"} {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, cfg, os.Args[2:]); err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s %s\n", os.Args[0], commands[name].usage)
		fs.PrintDefaults()
	}
	return fs
}

func runSubset(_ context.Context, _ *config.Config, args []string) error {
	fs := newFlagSet("subset")
	in := fs.StringP("in", "i", "", "trips CSV of the full corpus")
	out := fs.StringP("out", "o", "", "output CSV")
	limit := fs.IntP("limit", "n", 1500, "number of distinct trips to keep")
	sortByTime := fs.Bool("sort", false, "keep the earliest trips instead of the first in file order")
	collapse := fs.Bool("collapse", true, "merge repeated fixes before single-fix trips are dropped")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		fs.Usage()
		return errors.New("--in and --out are required")
	}

	src, err := os.Open(*in)
	if err != nil {
		return err
	}
	defer src.Close()

	trips, rowErrs, err := dataset.ReadTrips(src)
	if err != nil {
		return err
	}
	for _, e := range rowErrs {
		log.Printf("[subset] skipped row: %v", e)
	}

	selected, st := dataset.Subset(trips, dataset.SubsetOptions{
		Limit:              *limit,
		SortByTimestamp:    *sortByTime,
		CollapseDuplicates: *collapse,
	})

	dst, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := dataset.WriteTrips(dst, selected); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return printJSON(st)
}

func runImport(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("import")
	tripsPath := fs.StringP("trips", "t", "", "trips CSV")
	networkPath := fs.StringP("network", "n", "", "road network edges CSV")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tripsPath == "" && *networkPath == "" {
		fs.Usage()
		return errors.New("nothing to import")
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if *tripsPath != "" {
		f, err := os.Open(*tripsPath)
		if err != nil {
			return err
		}
		trips, rowErrs, err := dataset.ReadTrips(f)
		f.Close()
		if err != nil {
			return err
		}
		for _, e := range rowErrs {
			log.Printf("[import] skipped row: %v", e)
		}
		if err := repository.NewTripRepository(db).UpsertBatch(ctx, trips); err != nil {
			return err
		}
		log.Printf("[import] Imported %d trips (%d rows skipped)", len(trips), len(rowErrs))
	}

	if *networkPath != "" {
		f, err := os.Open(*networkPath)
		if err != nil {
			return err
		}
		edges, err := dataset.ReadNetwork(f)
		f.Close()
		if err != nil {
			return err
		}
		if err := repository.NewEdgeRepository(db).ReplaceAll(ctx, edges); err != nil {
			return err
		}
		log.Printf("[import] Imported %d edges", len(edges))
	}
	return nil
}

func runClean(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("clean")
	full := fs.Bool("full", false, "recompute every trip")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withEnv(cfg, func(env *analysis.Env) error {
		return runAnalyzer(ctx, env, foundation.NewCleaningAnalyzer(env), models.SkillTrajectoryCleaning, *full)
	})
}

func runMatch(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("match")
	full := fs.Bool("full", false, "rematch every trip")
	table := fs.String("table", "", "precomputed match table instead of Valhalla")
	workers := fs.Int("workers", cfg.MatchWorkers, "concurrent match requests")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var matcher matching.Matcher = matching.NewValhallaMatcher(cfg.ValhallaURL, cfg.HTTPTimeout)
	if *table != "" {
		f, err := os.Open(*table)
		if err != nil {
			return err
		}
		paths, rowErrs, err := dataset.ReadMatchTable(f)
		f.Close()
		if err != nil {
			return err
		}
		for _, e := range rowErrs {
			log.Printf("[match] skipped row: %v", e)
		}
		matcher = matching.NewTableMatcher(paths)
		log.Printf("[match] Loaded %d precomputed paths", len(paths))
	}

	return withEnv(cfg, func(env *analysis.Env) error {
		a := matching.NewMatchingAnalyzerWith(env, matcher)
		a.Workers = *workers
		return runAnalyzer(ctx, env, a, models.SkillMapMatching, *full)
	})
}

func runAggregate(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("aggregate")
	noWays := fs.Bool("no-ways", false, "skip way lookups and only aggregate network edges")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withEnv(cfg, func(env *analysis.Env) error {
		a := traversal.NewTraversalAnalyzer(env).(*traversal.TraversalAnalyzer)
		if *noWays {
			a.Ways = nil
		}
		return runAnalyzer(ctx, env, a, models.SkillEdgeTraversal, true)
	})
}

func runReport(ctx context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("report")
	by := fs.String("by", models.RankByCount, "ranking metric: count or avg_time")
	k := fs.Int("k", cfg.TopK, "number of entries")
	kind := fs.String("kind", models.StatKindWay, "statistics kind: WAY or EDGE")
	csvPath := fs.String("csv", "", "write the table as CSV (default stdout)")
	geojsonPath := fs.String("geojson", "", "write the ranked geometries as GeoJSON")
	pngPath := fs.String("png", "", "render the ranked geometries over map tiles")
	zoom := fs.Int("zoom", 14, "tile zoom level")
	padding := fs.Float64("padding", 0.0005, "frame padding in degrees")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	m := metrics.NewCollector()

	ranked, err := service.NewEdgeStatService(repository.NewEdgeStatRepository(db), cfg.TopK).
		TopEdges(ctx, models.TopEdgesFilter{By: *by, K: *k, Kind: *kind})
	if err != nil {
		return err
	}
	rows, err := report.Build(ranked, *by, nil)
	if err != nil {
		return err
	}

	if *csvPath == "" {
		if err := report.WriteCSV(os.Stdout, rows); err != nil {
			return err
		}
	} else if err := writeFile(*csvPath, func(f *os.File) error { return report.WriteCSV(f, rows) }); err != nil {
		return err
	}

	if *geojsonPath == "" && *pngPath == "" {
		return nil
	}

	geometry, err := rowGeometry(ctx, cfg, db, m, rows)
	if err != nil {
		return err
	}

	if *geojsonPath != "" {
		if err := writeFile(*geojsonPath, func(f *os.File) error { return report.WriteGeoJSON(f, rows, geometry) }); err != nil {
			return err
		}
	}

	if *pngPath != "" {
		var bounds []orb.Bound
		for _, r := range rows {
			if points, ok := geometry(r.Key); ok {
				bounds = append(bounds, spatial.PaddedBoundingBox(points, *padding))
			}
		}
		if len(bounds) == 0 {
			return errors.New("no geometry to render")
		}

		tiles := osmdata.NewTileFetcher(cfg.TileURL, cfg.UserAgent, cfg.HTTPTimeout, osmdata.NewMemoryCache[spatial.Tile, []byte](0), m)
		base, extent, err := tiles.Stitch(ctx, spatial.MergeBounds(bounds...), *zoom)
		var fetchErr *osmdata.ExternalFetchError
		if errors.As(err, &fetchErr) {
			log.Printf("[report] %v", fetchErr)
		} else if err != nil {
			return err
		}

		overlay := report.NewOverlay(base, extent)
		overlay.DrawRows(rows, geometry, *padding)
		if err := writeFile(*pngPath, func(f *os.File) error { return report.WritePNG(f, overlay.Image()) }); err != nil {
			return err
		}
	}
	return nil
}

// rowGeometry looks up way geometry on Overpass or edge geometry in the
// imported network, depending on the kind of the rows
func rowGeometry(ctx context.Context, cfg *config.Config, db *sql.DB, m *metrics.Collector, rows []report.Row) (report.GeometryFunc, error) {
	geoms := make(map[int64][]spatial.Point)

	if len(rows) > 0 && rows[0].Kind == models.StatKindEdge {
		edges, err := repository.NewEdgeRepository(db).All(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			geoms[int64(e.ID)] = e.Geometry
		}
	} else {
		ids := make([]osm.WayID, len(rows))
		for i, r := range rows {
			ids[i] = osm.WayID(r.Key)
		}
		fetcher := osmdata.NewWayFetcher(cfg.OverpassURL, cfg.UserAgent, cfg.HTTPTimeout, osmdata.NewWayCache(cfg), m)
		ways, err := fetcher.Ways(ctx, ids)
		var fetchErr *osmdata.ExternalFetchError
		if errors.As(err, &fetchErr) {
			log.Printf("[report] %v", fetchErr)
		} else if err != nil {
			return nil, err
		}
		for id, w := range ways {
			geoms[int64(id)] = w.Geometry
		}
	}

	return func(key int64) ([]spatial.Point, bool) {
		points, ok := geoms[key]
		return points, ok && len(points) > 0
	}, nil
}

func runToken(_ context.Context, cfg *config.Config, args []string) error {
	fs := newFlagSet("token")
	subject := fs.String("subject", "admin", "operator name stored in the token")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	token, err := middleware.IssueToken(cfg.JWTSecret, *subject, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	return database.Open(database.Config{Path: cfg.DBPath})
}

func withEnv(cfg *config.Config, fn func(env *analysis.Env) error) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(&analysis.Env{DB: db, Config: cfg, Metrics: metrics.NewCollector()})
}

// runAnalyzer records a task for the run and executes the analyzer in the foreground
func runAnalyzer(ctx context.Context, env *analysis.Env, a analysis.Analyzer, skill string, full bool) error {
	tasks := repository.NewAnalysisTaskRepository(env.DB)
	task := &models.AnalysisTask{
		SkillName: skill,
		TaskType:  models.TaskTypeIncremental,
		Status:    models.TaskStatusPending,
		CreatedBy: "pipeline",
	}
	mode := analysis.ModeIncremental
	if full {
		task.TaskType = models.TaskTypeFullRecompute
		mode = analysis.ModeFull
	}
	if err := tasks.Create(ctx, task); err != nil {
		return err
	}

	if err := a.Analyze(ctx, task.ID, mode); err != nil {
		_ = tasks.MarkAsFailed(context.Background(), task.ID, fmt.Sprintf("Analysis failed: %v", err))
		return err
	}

	done, err := tasks.GetByID(ctx, task.ID)
	if err != nil {
		return err
	}
	return printJSON(done)
}

func writeFile(path string, fn func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"tradelab/internal/analysis"
	"tradelab/internal/config"
	"tradelab/internal/store"
	"tradelab/internal/strategy"
	"tradelab/internal/strategy/builtins"
	"tradelab/internal/util"
)

const version = "0.1.0"

const dateLayout = "2006-01-02"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: tradelab-backtest <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run          Backtest a strategy over stored bars and save the run\n")
	fmt.Fprintf(os.Stderr, "  walkforward  Backtest consecutive windows in parallel\n")
	fmt.Fprintf(os.Stderr, "  strategies   List available strategies\n")
	fmt.Fprintf(os.Stderr, "  version      Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "\nRun 'tradelab-backtest <command> -h' for command options.\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("tradelab-backtest %s\n", version)

	case "strategies":
		for _, name := range builtins.Names() {
			fmt.Println(name)
		}

	case "run":
		if err := run(os.Args[2:]); err != nil {
			log.Fatalf("run: %v", err)
		}

	case "walkforward":
		if err := walkForward(os.Args[2:]); err != nil {
			log.Fatalf("walkforward: %v", err)
		}

	case "-h", "-help", "--help", "help":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

// runFlags are the options shared by run and walkforward.
type runFlags struct {
	fs       *flag.FlagSet
	strategy *string
	symbol   *string
	market   *string
	start    *string
	end      *string
	capital  *float64
}

func newRunFlags(name string) *runFlags {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &runFlags{
		fs:       fs,
		strategy: fs.String("strategy", "", "strategy name (default: strategy.name from config)"),
		symbol:   fs.String("symbol", "", "symbol to backtest (required)"),
		market:   fs.String("market", "fx", "market directory under the data dir"),
		start:    fs.String("start", "", "first day, "+dateLayout+" (required)"),
		end:      fs.String("end", "", "last day inclusive, "+dateLayout+" (required)"),
		capital:  fs.Float64("capital", 0, "initial capital override"),
	}
}

// runEnv is everything a command needs once flags and config are parsed.
type runEnv struct {
	cfg    *config.Config
	log    *slog.Logger
	bars   *store.ParquetStore
	bt     *strategy.Backtester
	name   string
	start  time.Time
	end    time.Time
	symbol string
	market string
}

func (f *runFlags) setup(args []string) (*runEnv, error) {
	if err := f.fs.Parse(args); err != nil {
		return nil, err
	}
	if *f.symbol == "" || *f.start == "" || *f.end == "" {
		f.fs.Usage()
		return nil, fmt.Errorf("-symbol, -start and -end are required")
	}
	start, err := time.Parse(dateLayout, *f.start)
	if err != nil {
		return nil, fmt.Errorf("parsing -start: %w", err)
	}
	end, err := time.Parse(dateLayout, *f.end)
	if err != nil {
		return nil, fmt.Errorf("parsing -end: %w", err)
	}
	end = end.Add(24*time.Hour - time.Nanosecond)

	cfg, err := config.Load(config.Path())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if *f.capital > 0 {
		cfg.Backtest.InitialCapital = *f.capital
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	registry := strategy.NewRegistry()
	if err := builtins.Register(registry, cfg.RiskParams(), cfg.StrategyParams(), logger); err != nil {
		return nil, err
	}
	name := *f.strategy
	if name == "" {
		name = cfg.Strategy.Name
	}

	ps := store.NewParquetStore(cfg.Storage.DataDir)
	return &runEnv{
		cfg:    cfg,
		log:    logger,
		bars:   ps,
		bt:     strategy.NewBacktester(ps, registry, cfg.BacktestConfig(), logger),
		name:   name,
		start:  start,
		end:    end,
		symbol: *f.symbol,
		market: *f.market,
	}, nil
}

func run(args []string) error {
	f := newRunFlags("run")
	noSave := f.fs.Bool("no-save", false, "do not persist the run")
	asJSON := f.fs.Bool("json", false, "print the full result as JSON")
	s, err := f.setup(args)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := s.bt.Run(ctx, s.name, s.symbol, s.market, s.start, s.end, s.cfg.Instrument(s.symbol))
	if err != nil {
		return err
	}

	if !*noSave {
		rec := res.Record(s.market)
		db, err := store.NewSQLiteStore(s.cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening result store: %w", err)
		}
		defer db.Close()
		if err := db.SaveRun(ctx, rec, res.Trades); err != nil {
			return fmt.Errorf("saving run: %w", err)
		}
		if err := s.bars.WriteCurves(ctx, rec.ID, res.Curves()); err != nil {
			return fmt.Errorf("exporting curves: %w", err)
		}
		if err := s.bars.WriteTrades(ctx, rec.ID, res.Trades); err != nil {
			return fmt.Errorf("exporting trades: %w", err)
		}
		s.log.Info("run saved", "run_id", rec.ID, "db", s.cfg.Storage.SQLitePath)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printSummary(res)
	return nil
}

func walkForward(args []string) error {
	f := newRunFlags("walkforward")
	windows := f.fs.Int("windows", 4, "number of consecutive windows")
	s, err := f.setup(args)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bars, err := s.bars.ReadBars(ctx, s.symbol, s.market, s.start, s.end)
	if err != nil {
		return fmt.Errorf("reading bars: %w", err)
	}
	results, err := s.bt.RunWindows(ctx, s.name, bars, s.cfg.Instrument(s.symbol), *windows)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WINDOW\tFROM\tTO\tTRADES\tRETURN %\tMAX DD %\tWIN RATE %\tSHARPE")
	for i, r := range results {
		n := len(r.Timestamps)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%.2f\t%.2f\t%.1f\t%.2f\n",
			i+1,
			r.Timestamps[0].Format(dateLayout),
			r.Timestamps[n-1].Format(dateLayout),
			len(r.Trades),
			(r.FinalCapital/r.InitialCapital-1)*100,
			r.Metrics[analysis.MaxDrawdownKey]*100,
			r.Metrics[analysis.WinRate]*100,
			r.Metrics[analysis.SharpeRatio],
		)
	}
	return tw.Flush()
}

func printSummary(res *strategy.BacktestResult) {
	fmt.Printf("%s on %s", res.Strategy, res.Symbol)
	if res.RunID != "" {
		fmt.Printf(" (run %s)", res.RunID)
	}
	fmt.Println()
	fmt.Printf("capital %.2f -> %.2f (%+.2f%%)\n\n",
		res.InitialCapital, res.FinalCapital, (res.FinalCapital/res.InitialCapital-1)*100)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, k := range res.Metrics.Keys() {
		fmt.Fprintf(tw, "%s\t%.4f\n", k, res.Metrics[k])
	}
	if len(res.Advanced) > 0 {
		fmt.Fprintln(tw, "\t")
		for _, k := range res.Advanced.Keys() {
			fmt.Fprintf(tw, "%s\t%.4f\n", k, res.Advanced[k])
		}
	}
	tw.Flush()
}

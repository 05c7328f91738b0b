package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"equity_valuation/pkg/app"
	"equity_valuation/pkg/config"
	"equity_valuation/pkg/core/report"
	"equity_valuation/pkg/core/valuation"
	"equity_valuation/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type options struct {
	ticker     string
	peers      string
	configPath string
	format     string
	source     string
	dataDir    string
	narrate    bool
	details    bool
	logLevel   string

	growth, discount, terminal float64
	years                      int
}

func parseFlags(args []string, stderr io.Writer) (*options, map[string]bool, error) {
	var o options
	fs := flag.NewFlagSet("valuate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.ticker, "ticker", "", "Ticker to value (prompted when empty)")
	fs.StringVar(&o.peers, "peers", "", "Comma-separated comparable tickers")
	fs.StringVar(&o.configPath, "config", os.Getenv("CONFIG_PATH"), "YAML config file")
	fs.StringVar(&o.format, "format", "", "Output format: markdown, html or json")
	fs.StringVar(&o.source, "source", "", "Dataset source: file or eodhd")
	fs.StringVar(&o.dataDir, "data", "", "Dataset directory for the file source")
	fs.BoolVar(&o.narrate, "narrate", false, "Add LLM commentary (needs GEMINI_API_KEY)")
	fs.BoolVar(&o.details, "details", false, "Include per-method inputs and figures")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.Float64Var(&o.growth, "growth", 0, "DCF growth rate, e.g. 0.05")
	fs.Float64Var(&o.discount, "discount", 0, "DCF discount rate, e.g. 0.10")
	fs.Float64Var(&o.terminal, "terminal-growth", 0, "DCF terminal growth rate, e.g. 0.02")
	fs.IntVar(&o.years, "years", 0, "DCF projection years")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return &o, set, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	o, set, err := parseFlags(args, stderr)
	if err != nil {
		return 2
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if o.source != "" {
		cfg.Data.Source = o.source
	}
	if o.dataDir != "" {
		cfg.Data.Dir = o.dataDir
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.format != "" {
		cfg.Format = o.format
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	format, err := report.ParseFormat(cfg.Format)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	lc := cfg.Logger()
	lc.Output = stderr
	log := logger.New(lc)

	req, err := buildRequest(o, set, cfg, stdin, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer a.Close()

	rep, err := a.Evaluator.Evaluate(ctx, req)
	if err != nil {
		report.RenderUnavailable(stdout, strings.ToUpper(req.Ticker), err, format)
		return 1
	}

	opts := report.Options{Details: o.details}
	if o.narrate {
		if a.Narrator == nil {
			fmt.Fprintln(stderr, "narrative disabled: GEMINI_API_KEY is not set")
		}
		opts.Commentary = a.Describe(ctx, rep)
	}
	if err := report.Render(stdout, rep, format, opts); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

// buildRequest fills the ticker and peers from flags, prompting on stdin for whatever is missing.
func buildRequest(o *options, set map[string]bool, cfg *config.Config, stdin io.Reader, prompt io.Writer) (valuation.Request, error) {
	req := valuation.Request{Ticker: o.ticker, Peers: splitTickers(o.peers)}

	if req.Ticker == "" {
		in := bufio.NewScanner(stdin)
		ask := func(q string) string {
			fmt.Fprint(prompt, q)
			if !in.Scan() {
				return ""
			}
			return strings.TrimSpace(in.Text())
		}

		req.Ticker = ask("Ticker symbol (e.g. AAPL): ")
		if req.Ticker == "" {
			return req, fmt.Errorf("no ticker given")
		}
		if !set["peers"] && strings.EqualFold(ask("Use comparable companies? (y/n): "), "y") {
			req.Peers = splitTickers(ask("Comparable tickers, comma-separated: "))
		}
	}

	if set["growth"] || set["discount"] || set["terminal-growth"] || set["years"] {
		p := cfg.Valuation.DCF
		if set["growth"] {
			p.GrowthRate = o.growth
		}
		if set["discount"] {
			p.DiscountRate = o.discount
		}
		if set["terminal-growth"] {
			p.TerminalGrowthRate = o.terminal
		}
		if set["years"] {
			p.ProjectionYears = o.years
		}
		req.DCF = &p
	}
	return req, nil
}

func splitTickers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

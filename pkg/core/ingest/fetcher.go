package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"equity_valuation/pkg/core/dataset"
	"equity_valuation/pkg/core/utils"
)

// FileFetcher serves datasets from <Dir>/<TICKER>.{json,hjson,yaml,yml}.
// JSON documents go through utils.SmartParse so hand-edited fixtures with trailing commas or
// unquoted keys still load; .hjson files are parsed as Hjson directly.
type FileFetcher struct {
	Dir string
}

// fileDataset is the document layout of a dataset file.
type fileDataset struct {
	Ticker   string                `json:"ticker" yaml:"ticker"`
	Name     string                `json:"long_name" yaml:"long_name"`
	Prices   []filePrice           `json:"prices" yaml:"prices"`
	Income   map[string][]*float64 `json:"income_statement" yaml:"income_statement"`
	Balance  map[string][]*float64 `json:"balance_sheet" yaml:"balance_sheet"`
	CashFlow map[string][]*float64 `json:"cash_flow" yaml:"cash_flow"`
	Profile  map[string]float64    `json:"profile" yaml:"profile"`
}

type filePrice struct {
	Date  string  `json:"date" yaml:"date"`
	Close float64 `json:"close" yaml:"close"`
}

var fileExtensions = []string{".json", ".hjson", ".yaml", ".yml"}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"}

// Fetch implements dataset.Fetcher.
func (f *FileFetcher) Fetch(ctx context.Context, ticker string) (*dataset.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, &dataset.FetchError{Ticker: ticker, Err: err}
	}
	ticker = dataset.NormalizeTicker(ticker)
	if ticker == "" || strings.ContainsAny(ticker, `/\`) || strings.Contains(ticker, "..") {
		return nil, &dataset.FetchError{Ticker: ticker, Err: dataset.ErrNotFound}
	}

	for _, ext := range fileExtensions {
		path := filepath.Join(f.Dir, ticker+ext)
		raw, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, &dataset.FetchError{Ticker: ticker, Err: err}
		}

		doc, err := decodeFile(ext, raw)
		if err != nil {
			return nil, &dataset.FetchError{Ticker: ticker, Err: fmt.Errorf("%s: %w", filepath.Base(path), err)}
		}
		snap, err := doc.snapshot(ticker)
		if err != nil {
			return nil, &dataset.FetchError{Ticker: ticker, Err: fmt.Errorf("%s: %w", filepath.Base(path), err)}
		}
		if info, err := os.Stat(path); err == nil {
			snap.FetchedAt = info.ModTime().UTC()
		}
		return dataset.FromSnapshot(snap), nil
	}
	return nil, &dataset.FetchError{Ticker: ticker, Err: dataset.ErrNotFound}
}

func decodeFile(ext string, raw []byte) (*fileDataset, error) {
	var doc fileDataset
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
	case ".hjson":
		converted, err := utils.ParseHJSON(string(raw))
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(converted), &doc); err != nil {
			return nil, fmt.Errorf("failed to decode hjson: %w", err)
		}
	default:
		if _, err := utils.SmartParse(string(raw), &doc); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}

func (d *fileDataset) snapshot(ticker string) (dataset.Snapshot, error) {
	if d.Ticker != "" && dataset.NormalizeTicker(d.Ticker) != ticker {
		return dataset.Snapshot{}, fmt.Errorf("file declares ticker %q", d.Ticker)
	}

	snap := dataset.Snapshot{
		Ticker:   ticker,
		Name:     d.Name,
		Income:   d.Income,
		Balance:  d.Balance,
		CashFlow: d.CashFlow,
		Profile:  make(map[dataset.ProfileField]float64, len(d.Profile)),
	}
	for k, v := range d.Profile {
		snap.Profile[dataset.ProfileField(k)] = v
	}
	for _, p := range d.Prices {
		date, err := parseDate(p.Date)
		if err != nil {
			return dataset.Snapshot{}, err
		}
		snap.Prices = append(snap.Prices, dataset.PricePoint{Date: date, Close: p.Close})
	}
	return snap, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised price date %q", s)
}

package narrative

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"equity_valuation/pkg/core/llm"
	"equity_valuation/pkg/core/utils"
	"equity_valuation/pkg/core/valuation"
)

// Commentary is the model's reading of a valuation report.
type Commentary struct {
	Headline   string   `json:"headline" validate:"required"`
	Commentary string   `json:"commentary" validate:"required"`
	Caveats    []string `json:"caveats"`
}

const systemPrompt = `You are an equity research assistant. You explain valuation results; you never invent numbers.
Respond with a single JSON object: {"headline": string, "commentary": string, "caveats": [string]}.
The headline is one sentence. The commentary is at most two short paragraphs that refer only to figures in the input.
List unavailable methods and any excluded peers as caveats.`

// Narrator asks an LLM provider to comment on reports.
type Narrator struct {
	provider llm.Provider
	log      zerolog.Logger
}

// New creates a Narrator. A nil provider yields a Narrator whose Describe returns llm.ErrNotConfigured.
func New(provider llm.Provider, log zerolog.Logger) *Narrator {
	return &Narrator{provider: provider, log: log.With().Str("component", "narrative").Logger()}
}

// Describe returns commentary for r. Empty reports are described without calling the provider.
func (n *Narrator) Describe(ctx context.Context, r *valuation.Report) (*Commentary, error) {
	if r == nil {
		return nil, errors.New("no report to describe")
	}
	if r.Empty() {
		return &Commentary{
			Headline:   fmt.Sprintf("No valuation method produced an estimate for %s.", r.Ticker),
			Commentary: "Every method lacked the inputs it needs, so there is nothing to compare with the current price.",
			Caveats:    skippedCaveats(r),
		}, nil
	}
	if n == nil || n.provider == nil {
		return nil, llm.ErrNotConfigured
	}

	raw, err := n.provider.GenerateResponse(ctx, Prompt(r), systemPrompt, llm.Options{JSON: true})
	if err != nil {
		return nil, fmt.Errorf("narrative generation failed: %w", err)
	}
	c, strategy, err := Parse(raw)
	if err != nil {
		n.log.Warn().Err(err).Str("ticker", r.Ticker).Msg("unparseable commentary")
		return nil, err
	}
	n.log.Debug().Str("ticker", r.Ticker).Str("strategy", string(strategy)).Msg("commentary parsed")
	return c, nil
}

// Parse decodes a model response, tolerating code fences and malformed JSON.
func Parse(raw string) (*Commentary, utils.Strategy, error) {
	var c Commentary
	strategy, err := utils.SmartParseValid(utils.StripCodeFence(raw), &c)
	if err != nil {
		return nil, "", fmt.Errorf("invalid commentary: %w", err)
	}
	c.Headline = strings.TrimSpace(c.Headline)
	c.Commentary = strings.TrimSpace(c.Commentary)
	return &c, strategy, nil
}

// Prompt lays out the report as plain text for the model.
func Prompt(r *valuation.Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Company: %s (%s)\n", r.CompanyName, r.Ticker)
	fmt.Fprintf(&sb, "Current price: %s (%s)\n\n", money(r.CurrentPrice), r.PriceSource)

	sb.WriteString("Estimates per share:\n")
	for _, v := range r.Verdicts {
		fmt.Fprintf(&sb, "- %s: %s (%+.2f%%, %s)", v.Method, money(v.PerShare), v.DeviationPct, v.Status)
		if v.Multiple != nil {
			fmt.Fprintf(&sb, " using %s %.2f from %s", v.Multiple.Name, v.Multiple.Value, v.Multiple.Source)
		}
		sb.WriteString("\n")
	}
	if r.Average != nil {
		dev, status := valuation.Classify(*r.Average, r.CurrentPrice)
		fmt.Fprintf(&sb, "- Average: %s (%+.2f%%, %s)\n", money(*r.Average), dev, status)
	}

	fmt.Fprintf(&sb, "\nDCF assumptions: growth %.1f%%, discount %.1f%%, terminal growth %.1f%%, %d years\n",
		r.DCF.GrowthRate*100, r.DCF.DiscountRate*100, r.DCF.TerminalGrowthRate*100, r.DCF.ProjectionYears)
	if len(r.Peers) > 0 {
		fmt.Fprintf(&sb, "Peers: %s\n", strings.Join(r.Peers, ", "))
	}
	if len(r.FailedPeers) > 0 {
		fmt.Fprintf(&sb, "Excluded peers: %s\n", strings.Join(r.FailedPeers, ", "))
	}
	for _, c := range skippedCaveats(r) {
		fmt.Fprintf(&sb, "Unavailable: %s\n", c)
	}
	return sb.String()
}

func skippedCaveats(r *valuation.Report) []string {
	out := make([]string, 0, len(r.Skipped))
	for _, s := range r.Skipped {
		out = append(out, fmt.Sprintf("%s unavailable: %s", s.Method, s.Reason))
	}
	return out
}

func money(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', 2, 64)
}

package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"equity_valuation/pkg/core/narrative"
	"equity_valuation/pkg/core/utils"
	"equity_valuation/pkg/core/valuation"
)

// Format selects a renderer.
type Format string

const (
	Markdown Format = "markdown"
	HTML     Format = "html"
	JSON     Format = "json"
)

// Messages shown when there is nothing to tabulate.
const (
	NoResultsMessage = "No valuation methods succeeded."
	NoReportMessage  = "Valuation could not be performed. Check the ticker symbol."
)

// ParseFormat accepts a format name, case-insensitively. "md" is an alias for markdown.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case Markdown, HTML, JSON:
		return f, nil
	case "md", "":
		return Markdown, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// Options adds optional sections to a rendering.
type Options struct {
	Details    bool // per-method inputs, multiples and intermediate figures
	Commentary *narrative.Commentary
}

// Document is the JSON rendering.
type Document struct {
	*valuation.Report
	Commentary *narrative.Commentary `json:"commentary,omitempty"`
}

// Render writes r in format f.
func Render(w io.Writer, r *valuation.Report, f Format, opts Options) error {
	switch f {
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(Document{Report: r, Commentary: opts.Commentary})
	case HTML:
		page, err := RenderHTML(r, opts)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, page)
		return err
	default:
		_, err := io.WriteString(w, RenderMarkdown(r, opts))
		return err
	}
}

// RenderUnavailable writes the no-report message for a valuation that could not start.
func RenderUnavailable(w io.Writer, ticker string, cause error, f Format) error {
	switch f {
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{"ticker": ticker, "error": NoReportMessage, "cause": errString(cause)})
	case HTML:
		page, err := htmlPage("Valuation unavailable", "<p class=\"unavailable\"></p>")
		if err != nil {
			return err
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
		if err != nil {
			return err
		}
		doc.Find("p.unavailable").SetText(NoReportMessage + " " + ticker + ": " + errString(cause))
		out, err := doc.Html()
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	default:
		_, err := fmt.Fprintf(w, "%s\n%s: %s\n", NoReportMessage, ticker, errString(cause))
		return err
	}
}

// RenderMarkdown lays r out as a GitHub-flavoured Markdown document.
func RenderMarkdown(r *valuation.Report, opts Options) string {
	var sb strings.Builder
	title := r.Ticker
	if r.CompanyName != "" {
		title = fmt.Sprintf("%s (%s)", escape(r.CompanyName), r.Ticker)
	}
	fmt.Fprintf(&sb, "# Valuation: %s\n\n", title)
	fmt.Fprintf(&sb, "Current price: **%s** (%s)\n\n", money(r.CurrentPrice), r.PriceSource)

	if c := opts.Commentary; c != nil {
		fmt.Fprintf(&sb, "> **%s**\n>\n> %s\n\n", escape(c.Headline), strings.ReplaceAll(c.Commentary, "\n", "\n> "))
	}

	if r.Empty() {
		sb.WriteString(NoResultsMessage + "\n\n")
	} else {
		sb.WriteString("| Method | Value per share | Deviation | Status |\n")
		sb.WriteString("|---|---:|---:|---|\n")
		for _, v := range r.Verdicts {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", escape(string(v.Method)), money(v.PerShare), percent(v.DeviationPct), statusLabel(v.Status))
		}
		if r.Average != nil {
			dev, status := valuation.Classify(*r.Average, r.CurrentPrice)
			fmt.Fprintf(&sb, "| **Average** | **%s** | %s | %s |\n", money(*r.Average), percent(dev), statusLabel(status))
		}
		sb.WriteString("\n")
	}

	if len(r.Skipped) > 0 {
		sb.WriteString("Unavailable methods:\n\n")
		for _, s := range r.Skipped {
			fmt.Fprintf(&sb, "- %s: %s\n", escape(string(s.Method)), escape(s.Reason))
		}
		sb.WriteString("\n")
	}
	if len(r.Peers) > 0 {
		fmt.Fprintf(&sb, "Peers: %s\n\n", strings.Join(r.Peers, ", "))
	}
	if len(r.FailedPeers) > 0 {
		fmt.Fprintf(&sb, "Excluded peers: %s\n\n", strings.Join(r.FailedPeers, ", "))
	}

	if opts.Details {
		writeDetails(&sb, r)
	}
	if c := opts.Commentary; c != nil && len(c.Caveats) > 0 {
		sb.WriteString("## Caveats\n\n")
		for _, cv := range c.Caveats {
			fmt.Fprintf(&sb, "- %s\n", escape(cv))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func writeDetails(sb *strings.Builder, r *valuation.Report) {
	sb.WriteString("## Details\n\n")
	fmt.Fprintf(sb, "DCF assumptions: growth %s, discount %s, terminal growth %s, %d years.\n\n",
		percent(r.DCF.GrowthRate*100), percent(r.DCF.DiscountRate*100), percent(r.DCF.TerminalGrowthRate*100), r.DCF.ProjectionYears)

	for _, v := range r.Verdicts {
		fmt.Fprintf(sb, "### %s\n\n", escape(string(v.Method)))
		if m := v.Multiple; m != nil {
			fmt.Fprintf(sb, "Multiple: %s %s (%s", m.Name, number(m.Value), m.Source)
			if m.PeerCount > 0 {
				fmt.Fprintf(sb, ", %d peers", m.PeerCount)
			}
			sb.WriteString(")\n\n")
		}
		if len(v.Inputs) == 0 && len(v.Figures) == 0 {
			continue
		}
		sb.WriteString("| Item | Value | Source |\n|---|---:|---|\n")
		for _, in := range v.Inputs {
			fmt.Fprintf(sb, "| %s | %s | %s |\n", escape(string(in.Concept)), number(in.Value), escape(in.Source))
		}
		for _, f := range v.Figures {
			fmt.Fprintf(sb, "| %s | %s |  |\n", escape(f.Label), number(f.Value))
		}
		sb.WriteString("\n")
	}
}

// RenderHTML renders the Markdown document to a standalone HTML page. Result rows carry an
// "undervalued" or "overvalued" class so the page colours them like the console status.
func RenderHTML(r *valuation.Report, opts Options) (string, error) {
	body, err := utils.MarkdownToHTML(RenderMarkdown(r, opts))
	if err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	page, err := htmlPage("Valuation: "+r.Ticker, body)
	if err != nil {
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("failed to parse rendered html: %w", err)
	}
	doc.Find("table").First().AddClass("verdicts").Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		switch strings.TrimSpace(tr.Find("td").Last().Text()) {
		case statusLabel(valuation.Undervalued):
			tr.AddClass("undervalued")
		case statusLabel(valuation.Overvalued):
			tr.AddClass("overvalued")
		}
	})
	doc.Find("body").SetAttr("data-report-id", r.ID)
	return doc.Html()
}

const pageStyle = `body{font-family:sans-serif;max-width:56rem;margin:2rem auto}
table{border-collapse:collapse}td,th{padding:.3rem .8rem;border-bottom:1px solid #ddd}
tr.undervalued td{color:#1a7f37}tr.overvalued td{color:#cf222e}`

func htmlPage(title, body string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		"<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title></title><style></style></head><body></body></html>"))
	if err != nil {
		return "", err
	}
	doc.Find("title").SetText(title)
	doc.Find("style").SetHtml(pageStyle)
	doc.Find("body").SetHtml(body)
	return doc.Html()
}

func statusLabel(s valuation.Status) string {
	return strings.ToUpper(string(s))
}

func money(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', 2, 64)
}

func percent(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + "%"
}

// number prints large magnitudes in millions to keep statement figures readable.
func number(v float64) string {
	if v >= 1e6 || v <= -1e6 {
		return strconv.FormatFloat(v/1e6, 'f', 2, 64) + "M"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

package utils

import (
	"strings"
	"testing"
)

type fixture struct {
	Ticker  string  `json:"ticker" validate:"required"`
	Revenue float64 `json:"revenue"`
}

func TestSmartParse(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		strategy Strategy
	}{
		{
			name:     "Valid JSON",
			input:    `{"ticker": "AAPL", "revenue": 150000.5}`,
			strategy: StrategyJSON,
		},
		{
			name:     "Needs repair",
			input:    `{ticker: 'AAPL', revenue: 150000.5,}`,
			strategy: StrategyRepaired,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var data fixture
			got, err := SmartParse(tc.input, &data)
			if err != nil {
				t.Fatalf("SmartParse failed: %v", err)
			}
			if got != tc.strategy {
				t.Errorf("Expected strategy %s, got %s", tc.strategy, got)
			}
			if data.Ticker != "AAPL" || data.Revenue != 150000.5 {
				t.Errorf("Unexpected data: %+v", data)
			}
		})
	}
}

func TestSmartParse_Hjson(t *testing.T) {
	input := `{
		# dataset fixture
		ticker: AAPL
		revenue: 150000.5
	}`
	var data fixture
	if _, err := SmartParse(input, &data); err != nil {
		t.Fatalf("SmartParse failed: %v", err)
	}
}

func TestParseHJSON(t *testing.T) {
	out, err := ParseHJSON("{\n  // comment\n  ticker: AAPL\n  name: \"Apple\" // trailing comment\n  revenue: 1\n}")
	if err != nil {
		t.Fatalf("ParseHJSON failed: %v", err)
	}
	for _, want := range []string{`"ticker":"AAPL"`, `"name":"Apple"`, `"revenue":1`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in %s", want, out)
		}
	}
}

// A quoteless Hjson string runs to the end of the line, comment markers included.
func TestParseHJSON_QuotelessStringKeepsComment(t *testing.T) {
	out, err := ParseHJSON("{\n  ticker: AAPL // comment\n}")
	if err != nil {
		t.Fatalf("ParseHJSON failed: %v", err)
	}
	if !strings.Contains(out, `"ticker":"AAPL // comment"`) {
		t.Errorf("Expected the comment inside the value, got %s", out)
	}
}

func TestSmartParseValid(t *testing.T) {
	var data fixture
	_, err := SmartParseValid(`{"revenue": 1}`, &data)
	if err == nil {
		t.Fatal("Expected schema violation for missing ticker")
	}
	if !strings.Contains(err.Error(), "JSON_SCHEMA_VIOLATION") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```":   `{"a":1}`,
		"```markdown\n# Title\n```": "# Title",
		"```{\"a\":1}```":           `{"a":1}`,
		"  plain text  ":            "plain text",
	}
	for in, want := range cases {
		if got := StripCodeFence(in); got != want {
			t.Errorf("StripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMarkdownToHTML_Tables(t *testing.T) {
	html, err := MarkdownToHTML("| a | b |\n|---|---|\n| 1 | 2 |\n")
	if err != nil {
		t.Fatalf("MarkdownToHTML failed: %v", err)
	}
	if !strings.Contains(html, "<table>") {
		t.Errorf("Expected a table, got %s", html)
	}
}

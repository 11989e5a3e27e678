package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pulsetrader/internal/analysis"
	"pulsetrader/pkg/model"
)

// Markdown renders the analysis result as a report document: latest
// indicator snapshot, divergence events and trend-signal history. The
// narrative and chart collaborators consume this boundary.
func Markdown(result *analysis.Result) string {
	var b strings.Builder
	sec := result.Security

	fmt.Fprintf(&b, "# %s (%s) — %s\n\n", sec.Name, sec.Code, sec.Market.DisplayName())
	fmt.Fprintf(&b, "Generated %s, run `%s`, %d bars analyzed.\n\n",
		time.Now().Format("2006-01-02 15:04"), result.RunID, len(result.Bars))

	if s := result.Summary; s != nil {
		fmt.Fprintf(&b, "## Latest snapshot (%s)\n\n", s.Date.Format("2006-01-02"))
		b.WriteString("| Close | Change | RSI14 | MA10 | Band value | Trend |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		fmt.Fprintf(&b, "| %.2f | %s%% | %s | %s | %s | %s |\n\n",
			s.LatestClose, cell(s.Latest.ChangePct), cell(s.Latest.RSI14),
			cell(s.Latest.MA10), cell(s.Latest.BandValue), trendLabel(s.Latest.Trend))

		if v := s.Latest.Volume; v.Low || v.High || v.Spike {
			b.WriteString("Volume: ")
			b.WriteString(strings.Join(volumeLabels(v), ", "))
			b.WriteString("\n\n")
		}
	}

	b.WriteString("## Divergences\n\n")
	if len(result.Divergences) == 0 {
		b.WriteString("No divergence events detected.\n\n")
	} else {
		b.WriteString("| Date | Kind | Timeframe | Confidence | RSI change | Price change |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, d := range result.Divergences {
			fmt.Fprintf(&b, "| %s | %s | %s | %.1f | %.1f | %.1f%% |\n",
				d.Date.Format("2006-01-02"), d.Kind, d.Timeframe,
				d.Confidence, d.RSIChange, d.PriceChangePct)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Trend signals\n\n")
	if len(result.Signals) == 0 {
		b.WriteString("No trend changes in the window.\n")
	} else {
		b.WriteString("| Date | Signal | Price | Band value |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, sig := range result.Signals {
			fmt.Fprintf(&b, "| %s | %s | %.2f | %.2f |\n",
				sig.Date.Format("2006-01-02"), sig.Kind, sig.Price, sig.BandValue)
		}
	}
	return b.String()
}

// Write renders the report and saves it under dir, returning the file path.
func Write(dir string, result *analysis.Result) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating report dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s_%s.md",
		result.Security.Code, time.Now().Format("20060102"), result.RunID)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(Markdown(result)), 0644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

func cell(f model.Float) string {
	if f.IsNaN() {
		return "-"
	}
	return fmt.Sprintf("%.2f", float64(f))
}

func trendLabel(trend int) string {
	switch trend {
	case 1:
		return "up"
	case -1:
		return "down"
	}
	return "neutral"
}

func volumeLabels(v model.VolumeFlags) []string {
	var labels []string
	if v.Low {
		labels = append(labels, "extreme low")
	}
	if v.High {
		labels = append(labels, "breakout high")
	}
	if v.Spike {
		labels = append(labels, "spike")
	}
	return labels
}

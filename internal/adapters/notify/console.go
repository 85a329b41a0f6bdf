package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/polywatch/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Format es el formato de salida de la consola.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Console implementa ports.Notifier.
type Console struct {
	out     io.Writer
	format  Format
	table   bool
	verbose bool
	now     func() time.Time
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(format Format, table, verbose bool) *Console {
	return NewConsoleWriter(os.Stdout, format, table, verbose)
}

// NewConsoleWriter crea un notificador que escribe en w (tests).
func NewConsoleWriter(w io.Writer, format Format, table, verbose bool) *Console {
	if format == "" {
		format = FormatText
	}
	return &Console{out: w, format: format, table: table, verbose: verbose, now: time.Now}
}

// Notify imprime el resultado de un batch en el modo configurado.
func (c *Console) Notify(_ context.Context, result domain.BatchResult) error {
	if c.format == FormatJSON {
		return c.printJSON(result)
	}

	ts := c.now().Format("15:04:05")
	if len(result.Groups) == 0 {
		fmt.Fprintf(c.out, "[%s] no coordinated groups found (%d wallets, %d pairs)\n",
			ts, result.WalletsAnalyzed, result.PairsCompared)
		c.printWarnings(result.FailedPairs, result.ExcludedWallets, result.Incomplete)
		return nil
	}

	if c.table {
		fmt.Fprintf(c.out, "\n[%s] %d groups — %d wallets coordinated of %d, highest risk %s (%dms)\n",
			ts, len(result.Groups), result.CoordinatedWalletCount, result.WalletsAnalyzed,
			result.HighestRisk, result.ProcessingTimeMs())
		c.printGroups(result.Groups)
	} else {
		c.printCompact(ts, result)
	}
	c.printWarnings(result.FailedPairs, result.ExcludedWallets, result.Incomplete)
	return nil
}

// NotifyAnalysis imprime el análisis de una wallet.
func (c *Console) NotifyAnalysis(_ context.Context, result domain.AnalysisResult) error {
	if c.format == FormatJSON {
		return c.printJSON(result)
	}

	ts := c.now().Format("15:04:05")
	cached := ""
	if result.FromCache {
		cached = " (cached)"
	}
	if !result.IsCoordinated {
		fmt.Fprintf(c.out, "[%s] %s: not coordinated — compared against %d wallets%s\n",
			ts, shortWallet(result.Wallet), result.WalletsCompared, cached)
		c.printWarnings(result.FailedPairs, nil, false)
		return nil
	}

	fmt.Fprintf(c.out, "[%s] %s: COORDINATED risk %s — compared against %d wallets%s\n",
		ts, shortWallet(result.Wallet), result.HighestRisk, result.WalletsCompared, cached)
	c.printGroups(result.Groups)
	if c.verbose {
		for _, g := range result.Groups {
			c.printEdges(g.Edges)
		}
	}
	c.printWarnings(result.FailedPairs, nil, false)
	return nil
}

// PrintPair imprime el detalle de las cinco señales de un par.
func (c *Console) PrintPair(res domain.PairResult) error {
	if c.format == FormatJSON {
		return c.printJSON(res)
	}
	verdict := "independent"
	if res.IsLikelyCoordinated {
		verdict = "LIKELY COORDINATED"
	}
	fmt.Fprintf(c.out, "%s ↔ %s: score %.2f → %s\n",
		shortWallet(res.WalletA), shortWallet(res.WalletB), res.SimilarityScore, verdict)
	c.printEdges([]domain.PairResult{res})
	return nil
}

// PrintSummary imprime los totales del engine.
func (c *Console) PrintSummary(s domain.Summary) error {
	if c.format == FormatJSON {
		return c.printJSON(s)
	}
	fmt.Fprintf(c.out, "store: %d trades, %d wallets, %d markets (%d rejected) | cache: %d entries, hit rate %.0f%% | analyses: %d, batches: %d, groups: %d\n",
		s.Store.Trades, s.Store.Wallets, s.Store.Markets, s.Store.Rejected,
		s.Cache.Entries, s.Cache.HitRate()*100,
		s.Analyses, s.Batches, s.GroupsDetected)
	return nil
}

// PrintHistory imprime los grupos persistidos, el más reciente primero.
func (c *Console) PrintHistory(groups []domain.Group) error {
	if c.format == FormatJSON {
		if groups == nil {
			groups = []domain.Group{}
		}
		return c.printJSON(groups)
	}
	if len(groups) == 0 {
		fmt.Fprintln(c.out, "no groups in history")
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Detected", "Risk", "Score", "Members", "Wallets", "Flags")
	for _, g := range groups {
		table.Append(
			g.DetectedAt.Local().Format("2006-01-02 15:04"),
			riskIcon(g.RiskLevel)+" "+g.RiskLevel.String(),
			fmt.Sprintf("%.2f", g.CoordinationScore),
			fmt.Sprintf("%d", g.MemberCount()),
			membersLabel(g.Members),
			g.Flags.String(),
		)
	}
	table.Render()
	return nil
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(ts string, result domain.BatchResult) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %d wallets → %d groups, %d coordinated, risk %s",
		ts, result.WalletsAnalyzed, len(result.Groups), result.CoordinatedWalletCount, result.HighestRisk)

	for i, g := range result.Groups {
		if i >= 4 {
			fmt.Fprintf(&sb, " | +%d more", len(result.Groups)-i)
			break
		}
		fmt.Fprintf(&sb, " | %s %.1f %s×%d", riskIcon(g.RiskLevel), g.CoordinationScore,
			shortWallet(g.Members[0]), g.MemberCount())
	}
	fmt.Fprintln(c.out, sb.String())
}

// printGroups imprime una fila por grupo.
func (c *Console) printGroups(groups []domain.Group) {
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Risk", "Score", "Members", "Wallets", "Flags")

	for i, g := range groups {
		table.Append(
			fmt.Sprintf("%d", i+1),
			riskIcon(g.RiskLevel)+" "+g.RiskLevel.String(),
			fmt.Sprintf("%.2f", g.CoordinationScore),
			fmt.Sprintf("%d", g.MemberCount()),
			membersLabel(g.Members),
			g.Flags.String(),
		)
	}
	table.Render()
}

// printEdges imprime las señales de cada par.
func (c *Console) printEdges(edges []domain.PairResult) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Wallet A", "Wallet B", "Score", "Overlap", "Timing", "Direction", "Size", "WinRate", "Matched", "Flags")

	for _, e := range edges {
		table.Append(
			shortWallet(e.WalletA),
			shortWallet(e.WalletB),
			fmt.Sprintf("%.2f", e.SimilarityScore),
			fmt.Sprintf("%.1f%%", e.MarketOverlap),
			fmt.Sprintf("%.2f", e.TimingCorrelation),
			fmt.Sprintf("%.2f", e.DirectionAlignment),
			fmt.Sprintf("%.2f", e.SizeSimilarity),
			fmt.Sprintf("%.2f", e.WinRateSimilarity),
			fmt.Sprintf("%d", e.MatchedPairs),
			e.Flags.String(),
		)
	}
	table.Render()
}

func (c *Console) printWarnings(failed int, excluded []string, incomplete bool) {
	if failed > 0 {
		fmt.Fprintf(c.out, "  ⚠ %d pairs failed and were skipped\n", failed)
	}
	if len(excluded) > 0 {
		fmt.Fprintf(c.out, "  ⚠ %d invalid wallets excluded: %s\n", len(excluded), strings.Join(excluded, ", "))
	}
	if incomplete {
		fmt.Fprintln(c.out, "  ⚠ time budget exhausted: results are INCOMPLETE")
	}
}

func (c *Console) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("notify.printJSON: %w", err)
	}
	return nil
}

func riskIcon(r domain.RiskLevel) string {
	switch r {
	case domain.RiskCritical:
		return "[!!]"
	case domain.RiskHigh:
		return "[!]"
	case domain.RiskMedium:
		return "[~]"
	case domain.RiskLow:
		return "[.]"
	default:
		return "[ ]"
	}
}

func membersLabel(members []string) string {
	const maxShown = 3
	parts := make([]string, 0, maxShown+1)
	for i, m := range members {
		if i == maxShown {
			parts = append(parts, fmt.Sprintf("+%d", len(members)-maxShown))
			break
		}
		parts = append(parts, shortWallet(m))
	}
	return strings.Join(parts, " ")
}

// shortWallet abrevia una dirección a 0x1234...abcd.
func shortWallet(w string) string {
	if len(w) <= 13 {
		return w
	}
	return w[:6] + "..." + w[len(w)-4:]
}

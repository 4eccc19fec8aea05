package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/ethereum/go-ethereum/common"

	"github.com/kingrea/lattice-deploy/internal/engine"
	"github.com/kingrea/lattice-deploy/internal/fleet"
	"github.com/kingrea/lattice-deploy/internal/registry"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

// RenderReport formats a fleet result, one table per network.
func RenderReport(result fleet.Result) string {
	sections := make([]string, 0, len(result.Outcomes)+1)
	for _, outcome := range result.Outcomes {
		sections = append(sections, renderOutcome(outcome))
	}
	failed := len(result.Failed())
	summary := fmt.Sprintf("%d network(s) · %d transaction(s)", len(result.Outcomes), result.Transactions())
	if failed > 0 {
		summary += " · " + labelStyleBlocked.Render(fmt.Sprintf("%d failed", failed))
	}
	sections = append(sections, detailTextStyle.Render(summary))
	return strings.Join(sections, "\n\n") + "\n"
}

func renderOutcome(outcome fleet.Outcome) string {
	report := outcome.Report
	status := labelStyleReady.Render("ok")
	if outcome.Err != nil {
		status = labelStyleBlocked.Render("failed")
	}
	title := fmt.Sprintf("%s · %s", titleStyle.Render(outcome.Network), status)
	if report.DryRun {
		title += " · " + labelStyleGate.Render("plan")
	}
	if report.RunID != "" {
		title += detailTextStyle.Render(" · run " + shortID(report.RunID))
	}
	lines := []string{title}
	if len(report.Results) > 0 {
		t := newTable("Artifact", "Verdict", "Address", "Tx", "Proxy")
		for _, result := range report.Results {
			t.Row(result.Name, verdictCell(result), result.Address.Hex(), txCell(result), proxyCell(result))
		}
		lines = append(lines, t.Render())
	}
	counts := fmt.Sprintf("%d deploy · %d adopt · %d skip · %d transaction(s)",
		report.Count(engine.VerdictDeploy), report.Count(engine.VerdictAdopt), report.Count(engine.VerdictSkip), report.Transactions)
	lines = append(lines, detailTextStyle.Render(counts))
	if outcome.Err != nil {
		lines = append(lines, labelStyleBlocked.Render("error: "+outcome.Err.Error()))
	}
	if len(report.Aborted) > 0 {
		lines = append(lines, labelStyleGate.Render("aborted: "+strings.Join(report.Aborted, ", ")))
	}
	return strings.Join(lines, "\n")
}

func verdictCell(result engine.Result) string {
	label := friendlyLabel(string(result.Verdict))
	if result.Observed {
		label += " (observed)"
	}
	if result.Previous != (common.Address{}) && result.Previous != result.Address {
		label += " ← " + shortAddress(result.Previous)
	}
	return label
}

func txCell(result engine.Result) string {
	if result.TxHash == (common.Hash{}) {
		return "-"
	}
	return shortHash(result.TxHash)
}

func proxyCell(result engine.Result) string {
	if result.Proxy == nil {
		return "-"
	}
	cell := string(result.Proxy.State) + "/" + string(result.Proxy.Decision.Action)
	if result.Proxy.Transacted() {
		cell += " " + shortHash(result.Proxy.TxHash)
	}
	return cell
}

// RenderPredictions formats offline address predictions.
func RenderPredictions(factory common.Address, predictions []engine.Prediction) string {
	t := newTable("Artifact", "Address", "Salt", "Init code hash")
	for _, p := range predictions {
		t.Row(p.Name, p.Address.Hex(), shortHash(common.Hash(p.Salt)), shortHash(p.InitCodeHash))
	}
	title := titleStyle.Render("Predicted addresses") + detailTextStyle.Render(" · factory "+factory.Hex())
	return title + "\n" + t.Render() + "\n"
}

// RenderRegistry formats one network's registry section.
func RenderRegistry(record registry.NetworkRecord) string {
	t := newTable("Artifact", "Address", "Code hash")
	for _, name := range record.Names() {
		address := "-"
		if addr, ok := record.Get(name); ok {
			address = addr.Hex()
		}
		hash := "-"
		if h, ok := record.CodeHash(name); ok {
			hash = shortHash(h)
		}
		t.Row(name, address, hash)
	}
	return titleStyle.Render(record.Network) + "\n" + t.Render() + "\n"
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func shortHash(h common.Hash) string {
	hex := h.Hex()
	return hex[:10] + "…" + hex[len(hex)-4:]
}

func shortAddress(a common.Address) string {
	hex := a.Hex()
	return hex[:8] + "…" + hex[len(hex)-4:]
}

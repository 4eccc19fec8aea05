package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/ethereum/go-ethereum/common"

	"github.com/kingrea/lattice-deploy/internal/engine"
	"github.com/kingrea/lattice-deploy/internal/proxy"
)

var (
	labelStyleReady   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleBlocked = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleGate    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	labelStyleSkipped = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	labelStyleDefault = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	networkBoxStyle   = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("#444444")).
				Padding(0, 1)
)

type rowLabel struct {
	text  string
	style lipgloss.Style
}

func (p *Progress) renderNetwork(n *networkProgress) string {
	status := labelStyleDefault.Render("Waiting")
	switch {
	case n.finished && n.err != nil:
		status = labelStyleBlocked.Render("Failed")
	case n.finished:
		status = labelStyleReady.Render("Done")
	case n.runID != "":
		status = p.spinner.View() + " " + labelStyleRunning.Render("Running")
	}
	title := fmt.Sprintf("%s · %s", lipgloss.NewStyle().Bold(true).Render(n.name), status)
	if n.runID != "" {
		title += detailTextStyle.Render(fmt.Sprintf(" · run %s", shortID(n.runID)))
	}
	lines := []string{title}
	for _, row := range n.rows {
		lines = append(lines, renderRow(row))
		if row.err != nil {
			lines = append(lines, labelStyleBlocked.Render("    "+row.err.Error()))
		}
	}
	summary := fmt.Sprintf("%d artifacts · %d transactions", len(n.rows), n.txs)
	if n.finished && !n.started.IsZero() {
		summary += " · started " + n.started.Format(time.Kitchen)
	}
	lines = append(lines, detailTextStyle.Render(summary))
	if n.finished && n.err != nil && len(n.rows) == 0 {
		lines = append(lines, labelStyleBlocked.Render(n.err.Error()))
	}
	box := networkBoxStyle
	if p.width > 4 {
		box = box.Width(p.width - 4)
	}
	return box.Render(strings.Join(lines, "\n"))
}

func renderRow(row *artifactRow) string {
	indicator := " "
	switch row.state {
	case rowRunning:
		indicator = labelStyleRunning.Render("›")
	case rowDone:
		indicator = labelStyleReady.Render("✓")
	case rowFailed:
		indicator = labelStyleBlocked.Render("✗")
	}
	rendered := make([]string, 0, 3)
	for _, label := range rowLabels(row) {
		rendered = append(rendered, label.style.Render(label.text))
	}
	line := fmt.Sprintf("%s %s", indicator, row.name)
	if len(rendered) > 0 {
		line += fmt.Sprintf(" · [%s]", strings.Join(rendered, ", "))
	}
	if row.address != (common.Address{}) {
		line += detailTextStyle.Render(" " + row.address.Hex())
	}
	return line
}

func rowLabels(row *artifactRow) []rowLabel {
	var labels []rowLabel
	if row.verdict != "" {
		labels = append(labels, rowLabel{text: friendlyLabel(string(row.verdict)), style: labelStyleForVerdict(row.verdict)})
	}
	if row.previous != (common.Address{}) && row.previous != row.address {
		labels = append(labels, rowLabel{text: "Drifted", style: labelStyleGate})
	}
	if row.proxy != nil {
		labels = append(labels, rowLabel{text: "Proxy " + friendlyLabel(string(row.proxy.Decision.Action)), style: labelStyleForAction(row.proxy.Decision.Action)})
	}
	return labels
}

func labelStyleForVerdict(verdict engine.Verdict) lipgloss.Style {
	switch verdict {
	case engine.VerdictDeploy:
		return labelStyleRunning
	case engine.VerdictAdopt:
		return labelStyleGate
	case engine.VerdictSkip:
		return labelStyleSkipped
	default:
		return labelStyleDefault
	}
}

func labelStyleForAction(action proxy.Action) lipgloss.Style {
	switch action {
	case proxy.NoOpAlreadyCurrent, proxy.DeployImplementation:
		return labelStyleSkipped
	case proxy.RetargetProxyOnly, proxy.DeployAndRetarget:
		return labelStyleGate
	default:
		return labelStyleDefault
	}
}

func (p *Progress) renderFooter() string {
	text := "ctrl+c=cancel"
	switch {
	case p.done && p.err != nil:
		text = labelStyleBlocked.Render("Deployment finished with failures")
	case p.done:
		text = labelStyleReady.Render("Deployment finished")
	case p.interrupted:
		text = labelStyleGate.Render("Cancelling… waiting for in-flight transactions")
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(text)
}

func friendlyLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	replacer := strings.NewReplacer("_", " ", "-", " ")
	words := strings.Fields(replacer.Replace(strings.ToLower(value)))
	if len(words) == 0 {
		return ""
	}
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

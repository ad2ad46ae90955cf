package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/debemdeboas/postdeck/internal/model"
	"github.com/debemdeboas/postdeck/internal/render"
)

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

var statusColors = map[model.Status]lipgloss.Color{
	model.StatusDraft:     "245",
	model.StatusQueued:    "63",
	model.StatusScheduled: "214",
	model.StatusPosted:    "42",
}

func statusBadge(s model.Status) string {
	return lipgloss.NewStyle().Foreground(statusColors[s]).Bold(true).Render(strings.ToUpper(string(s)))
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04 MST")
}

func postsTable(posts []model.Post) string {
	rows := make([][]string, 0, len(posts))
	for _, p := range posts {
		when := p.ScheduledAt
		if p.PostedAt != nil {
			when = p.PostedAt
		}
		rows = append(rows, []string{string(p.ID), p.DisplayTitle(), statusBadge(p.Status), formatTime(when)})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(labelStyle).
		Headers("ID", "TITLE", "STATUS", "WHEN").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Render()
}

func field(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-12s", label)) + " " + value
}

func postDetail(p *model.Post) string {
	metrics := render.ComputeMetrics(p.Content)
	excerpt, more := render.FeedExcerpt(p.Content)
	if more {
		excerpt += "\n" + labelStyle.Render("...see more")
	}

	lines := []string{
		titleStyle.Render(p.DisplayTitle()),
		field("Post", p.Key().String()),
		field("Status", statusBadge(p.Status)),
		field("Scheduled", formatTime(p.ScheduledAt)),
		field("Posted", formatTime(p.PostedAt)),
	}
	if p.ExternalPostID != "" {
		lines = append(lines, field("LinkedIn", p.ExternalPostID))
	}
	if p.Attachment != nil {
		lines = append(lines, field("Attachment", string(p.Attachment.Kind())))
	}
	lines = append(lines, field("Length", metrics.Label), "", excerpt)

	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// Package ui holds the lipgloss styles and render helpers shared by the
// dialog CLI commands.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/futurepaul/dialog-final-v2/internal/note"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	tagStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("135"))
	unreadStyle = lipgloss.NewStyle().Bold(true)
)

// RenderPass renders success markers.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders warning markers.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderError renders error markers.
func RenderError(s string) string { return errorStyle.Render(s) }

// RenderAccent renders highlighted text.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderMuted renders de-emphasized text.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderTag renders a hashtag.
func RenderTag(s string) string { return tagStyle.Render("#" + s) }

// RenderNote formats one note as a single list line: timestamp, sync and
// read markers, text, and tags. Unread notes are bold.
func RenderNote(n note.Note) string {
	ts := time.Unix(n.CreatedAt, 0).Local().Format("2006-01-02 15:04")

	syncMark := RenderWarn("○")
	if n.IsSynced {
		syncMark = RenderPass("●")
	}

	text := n.Text
	if !n.IsRead {
		text = unreadStyle.Render(text)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s  %s", RenderMuted(ts), syncMark, RenderMuted(shortID(n.ID)), text)
	if len(n.Tags) > 0 {
		rendered := make([]string, len(n.Tags))
		for i, t := range n.Tags {
			rendered[i] = RenderTag(t)
		}
		fmt.Fprintf(&b, "  %s", strings.Join(rendered, " "))
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

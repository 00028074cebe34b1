package views

import (
	"fmt"
	"time"

	"github.com/pmelo/unibox/internal/model"
	"github.com/rivo/tview"
)

// ConversationList is the unified inbox table.
type ConversationList struct {
	*tview.Table
	conversations []model.ConversationSummary
	selectedFn    func() (int, int)
}

// NewConversationList creates the inbox table.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Inbox ")

	cl := &ConversationList{Table: table}
	cl.selectedFn = table.GetSelection
	return cl
}

// Update refreshes the table with a new snapshot.
func (cl *ConversationList) Update(conversations []model.ConversationSummary) {
	cl.conversations = conversations
	cl.Clear()

	cl.SetCell(0, 0, tview.NewTableCell(" Src").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Name").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 3, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, c := range conversations {
		row := i + 1

		src := "P"
		if c.Source == model.SourceWeb {
			src = "W"
		}

		name := sanitizeForTerminal(c.DisplayName)
		if c.UnreadCount > 0 {
			name = fmt.Sprintf("* %s (%d)", name, c.UnreadCount)
		}
		if c.NeedsAttention {
			name = "[red]" + tview.Escape(name) + "[-]"
		}

		online := " "
		if c.IsOnline {
			online = "[green]+[-]"
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+src+online).SetMaxWidth(4))
		cl.SetCell(row, 1, tview.NewTableCell(" "+name).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(row, 2, tview.NewTableCell(" "+sanitizeForTerminal(c.LastMessagePreview)).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(row, 3, tview.NewTableCell(" "+formatTimestamp(c.LastMessageAt)).SetMaxWidth(12))
	}
}

// SelectedConversation returns the id of the highlighted row, "" when
// the cursor is on the header or the table is empty.
func (cl *ConversationList) SelectedConversation() string {
	row, _ := cl.selectedFn()
	idx := row - 1
	if idx >= 0 && idx < len(cl.conversations) {
		return cl.conversations[idx].ID
	}
	return ""
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

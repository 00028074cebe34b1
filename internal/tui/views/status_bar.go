package views

import (
	"fmt"
	"sync"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays the workspace, realtime channel state, active
// filter, and transient flash messages.
type StatusBar struct {
	*tview.TextView

	mu        sync.Mutex
	workspace string
	conn      string
	filter    string
	flash     string
}

// NewStatusBar creates the status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, conn: "DISCONNECTED"}
}

// SetWorkspace updates the workspace name display.
func (sb *StatusBar) SetWorkspace(name string) {
	sb.mu.Lock()
	sb.workspace = name
	sb.mu.Unlock()
	sb.render()
}

// SetConnection updates the realtime channel indicator.
func (sb *StatusBar) SetConnection(state string) {
	sb.mu.Lock()
	sb.conn = state
	sb.mu.Unlock()
	sb.render()
}

// SetFilter updates the active filter display.
func (sb *StatusBar) SetFilter(name string) {
	sb.mu.Lock()
	sb.filter = name
	sb.mu.Unlock()
	sb.render()
}

// SetFlash sets a temporary message, "" clears it.
func (sb *StatusBar) SetFlash(msg string) {
	sb.mu.Lock()
	sb.flash = msg
	sb.mu.Unlock()
	sb.render()
}

func (sb *StatusBar) render() {
	sb.mu.Lock()
	workspace, conn, filter, flash := sb.workspace, sb.conn, sb.filter, sb.flash
	sb.mu.Unlock()

	var icon string
	switch conn {
	case "CONNECTED":
		icon = "[green]●[-]"
	case "CONNECTING":
		icon = "[yellow]◐[-]"
	default:
		icon = "[red]○[-]"
	}

	clock := time.Now().Format("15:04")

	sb.Clear()
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s %s | %s | %s", workspace, icon, conn, filter, clock)
	if flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", tview.Escape(flash))
	}
	_, _ = fmt.Fprint(sb, line)
}

package views

import (
	"fmt"

	"github.com/pmelo/unibox/internal/model"
	"github.com/pmelo/unibox/internal/presence"
	"github.com/rivo/tview"
)

// SessionsView lists linked device sessions and renders the pairing QR
// for any session waiting on a scan.
type SessionsView struct {
	*tview.TextView
}

// NewSessionsView creates the sessions page.
func NewSessionsView() *SessionsView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true).SetTitle(" Sessions ")

	return &SessionsView{TextView: tv}
}

// Update re-renders the session table.
func (sv *SessionsView) Update(records []model.ConnectionRecord) {
	sv.Clear()

	if len(records) == 0 {
		_, _ = fmt.Fprint(sv, "\n  No linked devices.")
		return
	}

	for _, r := range records {
		line := fmt.Sprintf("\n  [::b]%s[-:-:-]  %s", tview.Escape(r.SessionID), statusLabel(r.Status))
		if r.PhoneNumber != "" {
			line += "  " + tview.Escape(r.PhoneNumber)
		}
		_, _ = fmt.Fprintln(sv, line)

		if r.Status == model.SessionQRPending && r.QRPayload != "" {
			art, err := presence.RenderQR(r.QRPayload)
			if err != nil {
				_, _ = fmt.Fprintf(sv, "  (QR render failed: %v)\n", err)
				continue
			}
			_, _ = fmt.Fprintf(sv, "\n  Scan to link this device:\n\n%s\n", art)
		}
	}
}

func statusLabel(s model.SessionStatus) string {
	switch s {
	case model.SessionReady:
		return "[green]ready[-]"
	case model.SessionQRPending:
		return "[yellow]waiting for scan[-]"
	case model.SessionError:
		return "[red]error[-]"
	default:
		return "initializing"
	}
}

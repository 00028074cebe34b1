package views

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/pmelo/unibox/internal/model"
	"github.com/rivo/tview"
)

// MessageThread displays the open transcript and its composer. It also
// serves as the scroll viewport: offsets and heights are in text rows.
type MessageThread struct {
	*tview.Flex
	messages    *tview.TextView
	composer    *tview.InputField
	contactName string
	onSend      func(text string)

	mu        sync.Mutex
	lineCount int
}

// NewMessageThread creates the transcript view.
func NewMessageThread() *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true).SetTitle(" Messages ")

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true).SetTitle(" Compose (i to focus) ")

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		messages: messages,
		composer: composer,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && mt.onSend != nil {
			text := composer.GetText()
			if text != "" {
				mt.onSend(text)
				composer.SetText("")
			}
		}
	})

	return mt
}

// SetContactName updates the transcript title.
func (mt *MessageThread) SetContactName(name string) {
	mt.contactName = name
	mt.messages.SetTitle(fmt.Sprintf(" %s ", name))
}

// SetOnSend sets the callback for composer submits.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// Update re-renders the transcript. Scroll position is left alone; the
// scroll controller moves the view separately.
func (mt *MessageThread) Update(msgs []model.Message) {
	mt.messages.Clear()

	var b strings.Builder
	for _, m := range msgs {
		sender := mt.contactName
		marks := ""
		if m.IsOwn {
			sender = "You"
			marks = " " + statusMarks(m.Status)
		}
		fmt.Fprintf(&b, "[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n\n",
			tview.Escape(sanitizeForTerminal(sender)), formatTimestamp(m.Timestamp), marks,
			tview.Escape(sanitizeForTerminal(m.Content)))
	}
	text := b.String()
	_, _ = fmt.Fprint(mt.messages, text)

	mt.mu.Lock()
	mt.lineCount = strings.Count(text, "\n")
	mt.mu.Unlock()
}

func statusMarks(s model.MessageStatus) string {
	switch s {
	case model.StatusRead:
		return "[blue]✓✓[-]"
	case model.StatusDelivered:
		return "✓✓"
	default:
		return "✓"
	}
}

// ContentHeight returns the rendered transcript height in rows. Word
// wrap can add rows beyond this count, so near-bottom math treats it as
// a lower bound.
func (mt *MessageThread) ContentHeight() int {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.lineCount
}

// Offset returns the first visible row.
func (mt *MessageThread) Offset() int {
	row, _ := mt.messages.GetScrollOffset()
	return row
}

// ViewportHeight returns the visible height of the transcript area.
func (mt *MessageThread) ViewportHeight() int {
	_, _, _, height := mt.messages.GetInnerRect()
	return height
}

// ScrollToEnd moves the transcript to its tail.
func (mt *MessageThread) ScrollToEnd() {
	mt.messages.ScrollToEnd()
}

// Messages returns the transcript text view for focus management.
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field for focus management.
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}

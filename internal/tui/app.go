// Package tui is the terminal front end: a conversation list, the open
// transcript, and a sessions page, all driven by bus events.
package tui

import (
	"context"
	"errors"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/pmelo/unibox/internal/bus"
	"github.com/pmelo/unibox/internal/inbox"
	"github.com/pmelo/unibox/internal/presence"
	"github.com/pmelo/unibox/internal/realtime"
	"github.com/pmelo/unibox/internal/scroll"
	"github.com/pmelo/unibox/internal/transcript"
	"github.com/pmelo/unibox/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const flashDuration = 5 * time.Second

// App is the TUI application shell.
type App struct {
	app    *tview.Application
	pages  *tview.Pages
	bus    *bus.Bus
	inbox  *inbox.Synchronizer
	thread *transcript.Synchronizer
	track  *presence.Tracker
	logger *zap.Logger

	list      *views.ConversationList
	transView *views.MessageThread
	sessions  *views.SessionsView
	statusBar *views.StatusBar
	search    *tview.InputField
	flash     flash

	ctx    context.Context
	cancel context.CancelFunc
}

// uiScroller routes scroll decisions through the tview event loop so
// the view is only mutated on the UI goroutine.
type uiScroller struct {
	app  *tview.Application
	ctrl *scroll.Controller
}

func (u *uiScroller) ScrollInstant() { u.app.QueueUpdateDraw(u.ctrl.ScrollInstant) }
func (u *uiScroller) ScrollSmooth()  { u.app.QueueUpdateDraw(u.ctrl.ScrollSmooth) }

// NewApp creates the TUI application and attaches the scroll controller
// to the transcript synchronizer.
func NewApp(workspace string, b *bus.Bus, ibx *inbox.Synchronizer, tsc *transcript.Synchronizer, track *presence.Tracker, logger *zap.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		bus:       b,
		inbox:     ibx,
		thread:    tsc,
		track:     track,
		logger:    logger,
		list:      views.NewConversationList(),
		transView: views.NewMessageThread(),
		sessions:  views.NewSessionsView(),
		statusBar: views.NewStatusBar(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetWorkspace(workspace)
	a.statusBar.SetFilter(string(inbox.FilterAll))

	ctrl := scroll.New(a.transView, 0)
	tsc.AttachView(ctrl, &uiScroller{app: a.app, ctrl: ctrl})

	a.setupSearch()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupSearch() {
	a.search = tview.NewInputField().
		SetLabel(" / ").
		SetFieldWidth(0)
	a.search.SetChangedFunc(func(text string) {
		a.inbox.SetSearch(text)
	})
	a.search.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEscape {
			a.search.SetText("")
			a.inbox.SetSearch("")
		}
		a.app.SetFocus(a.list)
	})
}

func (a *App) setupCallbacks() {
	a.list.SetSelectedFunc(func(row, col int) {
		if id := a.list.SelectedConversation(); id != "" {
			a.openConversation(id)
		}
	})

	a.transView.SetOnSend(func(text string) {
		go func() {
			err := a.thread.Send(a.ctx, text)
			switch {
			case errors.Is(err, transcript.ErrSendInFlight):
				a.flash.set("Still sending the previous message", flashDuration)
			case err != nil:
				a.flash.set("Send failed: "+err.Error(), flashDuration)
			}
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetFlash(a.flash.get())
			})
		}()
	})
}

func (a *App) setupLayout() {
	inboxPage := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.search, 1, 0, false).
		AddItem(a.list, 0, 1, true)

	a.pages.AddPage("inbox", inboxPage, true, true)
	a.pages.AddPage("chat", a.transView, true, false)
	a.pages.AddPage("sessions", a.sessions, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)
	a.app.SetInputCapture(a.handleKey)
}

func (a *App) handleKey(event *tcell.EventKey) *tcell.EventKey {
	// Any keypress counts as operator activity for the poll cadence.
	a.inbox.Touch()

	currentPage, _ := a.pages.GetFrontPage()

	if event.Key() == tcell.KeyEscape {
		switch currentPage {
		case "chat":
			a.closeConversation()
			return nil
		case "sessions":
			a.showInbox()
			return nil
		}
	}

	// Text inputs consume everything else themselves.
	if _, ok := a.app.GetFocus().(*tview.InputField); ok {
		return event
	}

	if event.Key() != tcell.KeyRune {
		return event
	}

	switch event.Rune() {
	case 'q':
		a.app.Stop()
		return nil
	case '/':
		if currentPage == "inbox" {
			a.app.SetFocus(a.search)
			return nil
		}
	case 'i':
		if currentPage == "chat" {
			a.app.SetFocus(a.transView.Composer())
			return nil
		}
	case 's':
		if currentPage == "inbox" {
			a.sessions.Update(a.track.Records())
			a.pages.SwitchToPage("sessions")
			return nil
		}
	case '1', '2', '3', '4':
		if currentPage == "inbox" {
			a.applyFilter(event.Rune())
			return nil
		}
	}

	return event
}

func (a *App) applyFilter(r rune) {
	filters := map[rune]inbox.Filter{
		'1': inbox.FilterAll,
		'2': inbox.FilterPhone,
		'3': inbox.FilterWeb,
		'4': inbox.FilterAttention,
	}
	f := filters[r]
	a.inbox.SetFilter(f)
	a.statusBar.SetFilter(string(f))
}

func (a *App) openConversation(id string) {
	name := id
	for _, c := range a.inbox.Snapshot() {
		if c.ID == id {
			name = c.DisplayName
			break
		}
	}

	go func() {
		if err := a.thread.Open(a.ctx, id); err != nil {
			a.logger.Warn("open conversation failed", zap.String("conversation", id), zap.Error(err))
			a.flash.set("Load failed: "+err.Error(), flashDuration)
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetFlash(a.flash.get())
			})
			return
		}
		a.inbox.Select(a.ctx, id)
		a.app.QueueUpdateDraw(func() {
			a.transView.SetContactName(name)
			a.transView.Update(a.thread.Messages())
			a.pages.SwitchToPage("chat")
			a.app.SetFocus(a.transView.Messages())
		})
	}()
}

func (a *App) closeConversation() {
	a.thread.Close()
	a.inbox.ClearOpen()
	a.showInbox()
}

func (a *App) showInbox() {
	a.list.Update(a.inbox.Snapshot())
	a.pages.SwitchToPage("inbox")
	a.app.SetFocus(a.list)
}

// Run starts the event loops and blocks in the tview main loop.
func (a *App) Run() error {
	go a.consumeEvents()
	go a.tickStatus()

	a.list.Update(a.inbox.Snapshot())
	a.sessions.Update(a.track.Records())

	return a.app.Run()
}

// consumeEvents translates bus events into view updates on the UI
// goroutine.
func (a *App) consumeEvents() {
	events, unsub := a.bus.Subscribe("", 128)
	defer unsub()

	for {
		select {
		case <-a.ctx.Done():
			return
		case evt := <-events:
			a.handleEvent(evt)
		}
	}
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindInboxUpdated:
		a.app.QueueUpdateDraw(func() {
			if page, _ := a.pages.GetFrontPage(); page == "inbox" {
				a.list.Update(a.inbox.Snapshot())
			}
		})
	case bus.KindTranscriptLoaded, bus.KindTranscriptUpdated:
		a.app.QueueUpdateDraw(func() {
			a.transView.Update(a.thread.Messages())
		})
	case bus.KindTranscriptSendFailed:
		a.flash.set("Send failed, message not delivered", flashDuration)
	case bus.KindTranscriptBotDisabled:
		a.flash.set("Chatbot disabled for this conversation", flashDuration)
	case bus.KindPresenceUpdated:
		a.app.QueueUpdateDraw(func() {
			a.sessions.Update(a.track.Records())
		})
	case bus.KindPresenceNotice:
		if msg, ok := evt.Payload.(string); ok && msg != "" {
			a.flash.set(msg, flashDuration)
		}
	case bus.KindRealtimeState:
		if sc, ok := evt.Payload.(realtime.StateChange); ok {
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetConnection(string(sc.To))
			})
		}
	}
}

// tickStatus refreshes the clock and expires flash messages.
func (a *App) tickStatus() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetFlash(a.flash.get())
			})
		}
	}
}

// Stop shuts the TUI down.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// Package tray provides a system tray menu for the natya practice server.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"
)

// Tray is the system tray menu. It shows the latest live score and lets the
// dancer open the practice page, stop the running live session or quit.
type Tray struct {
	onOpen func()
	onStop func()
	onQuit func()
	live   bool
	last   string
	mu     sync.RWMutex

	menuStatus *systray.MenuItem
	menuLast   *systray.MenuItem
	menuStop   *systray.MenuItem
}

// New creates a Tray with no live session.
func New() *Tray {
	return &Tray{}
}

// OnOpen sets the callback for the "Open Practice..." item.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnStop sets the callback for the "Stop Live Session" item.
func (t *Tray) OnStop(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStop = fn
}

// OnQuit sets the callback for the "Quit" item.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray. It blocks until Quit is clicked.
func (t *Tray) Run() {
	systray.Run(t.onReady, func() {})
}

// Quit closes the tray and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("Natya")
	systray.SetTooltip("Natya Dance Practice")

	t.mu.Lock()
	t.menuStatus = systray.AddMenuItem(statusTitle(t.live), "Live session state")
	t.menuStatus.Disable()
	t.menuLast = systray.AddMenuItem(lastTitle(t.last), "Latest live score")
	t.menuLast.Disable()
	systray.AddSeparator()
	t.menuStop = systray.AddMenuItem("Stop Live Session", "Stop sampling the camera")
	if !t.live {
		t.menuStop.Disable()
	}
	t.mu.Unlock()

	menuOpen := systray.AddMenuItem("Open Practice...", "Open the practice page in a browser")
	systray.AddSeparator()
	menuQuit := systray.AddMenuItem("Quit", "Quit Natya")

	go func() {
		for {
			select {
			case <-menuOpen.ClickedCh:
				t.call(func() func() { return t.onOpen })
			case <-t.menuStop.ClickedCh:
				t.call(func() func() { return t.onStop })
			case <-menuQuit.ClickedCh:
				t.call(func() func() { return t.onQuit })
				systray.Quit()
				return
			}
		}
	}()
}

// call runs a callback outside the lock.
func (t *Tray) call(get func() func()) {
	t.mu.RLock()
	fn := get()
	t.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// SetLive updates the live session state shown in the menu.
func (t *Tray) SetLive(live bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live = live
	if !live {
		t.last = ""
	}
	if t.menuStatus == nil {
		return
	}
	t.menuStatus.SetTitle(statusTitle(live))
	t.menuLast.SetTitle(lastTitle(t.last))
	if live {
		t.menuStop.Enable()
	} else {
		t.menuStop.Disable()
	}
}

// SetLastResult shows the latest live score.
func (t *Tray) SetLastResult(score float64, feedback string, noPose bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if noPose {
		t.last = "no pose"
	} else {
		t.last = fmt.Sprintf("%.2f %s", score, feedback)
	}
	if t.menuLast != nil {
		t.menuLast.SetTitle(lastTitle(t.last))
	}
}

// Live reports whether a live session is shown as running.
func (t *Tray) Live() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

// LastResult returns the text of the latest score item.
func (t *Tray) LastResult() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return lastTitle(t.last)
}

func statusTitle(live bool) string {
	if live {
		return "● Live"
	}
	return "○ Idle"
}

func lastTitle(last string) string {
	if last == "" {
		return "Last: none"
	}
	return "Last: " + last
}

package platform

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/exp/maps"

	c "tempbeacon/config"
	"tempbeacon/logging"
	u "tempbeacon/util"
)

// lcdRows is the number of text lines the simulated LCD keeps.
const lcdRows = 6

// countdownDisplayMin is the shortest deep sleep that gets a visible
// countdown; the restart nap is too quick to bother drawing.
const countdownDisplayMin = 300 * time.Millisecond

// tuiCentralName identifies the pretend central driven by the keyboard.
const tuiCentralName = "tui-central"

// TUIPlatform simulates the device for development away from the
// hardware: a pane for the LCD, keyboard-driven buttons, a pretend BLE
// central and an interruptible countdown standing in for deep sleep. The
// log pane takes over the slog output once the TUI is drawn.
type TUIPlatform struct {
	*AbstractPlatform
	tviewapp       *tview.Application
	intro          *tview.TextView
	lcd            *tview.TextView
	statusView     *tview.TextView
	logView        *tview.TextView
	ossignalChan   chan os.Signal
	power          *processPowerUnit
	logFlushOnce   sync.Once
	readyChan      chan bool
	statusWg       sync.WaitGroup
	statusStopChan chan bool

	// Guards the simulation state below
	mu         sync.Mutex
	lcdLines   []string
	connected  bool
	onAir      bool
	statusVals map[string]string
}

func NewTUIPlatform(conf *c.Config, ossignalchan chan os.Signal, restarts *u.AtomicEvent[string]) *TUIPlatform {
	inst := &TUIPlatform{
		ossignalChan:   ossignalchan,
		power:          newProcessPowerUnit(restarts),
		readyChan:      make(chan bool),
		statusStopChan: make(chan bool),
		statusVals:     make(map[string]string),
	}
	inst.AbstractPlatform = newAbstractPlatform(conf)
	return inst
}

func (s *TUIPlatform) Ready() <-chan bool {
	return s.readyChan
}

func (s *TUIPlatform) Start() error {
	if s.handler == nil {
		return fmt.Errorf("no BLE handler registered")
	}
	s.initSimulationTUI(s.ossignalChan)

	s.statusWg.Add(1)
	go s.statusDriver()

	s.mu.Lock()
	s.onAir = true
	s.mu.Unlock()
	return nil
}

func (s *TUIPlatform) Stop() {
	s.setInShutdown()

	// Signal the status driver to exit and wait for it
	close(s.statusStopChan)
	s.statusWg.Wait()

	if s.tviewapp != nil {
		s.tviewapp.Stop()
	}
}

// DeepSleep blocks like the real thing would, drawing a countdown in the
// LCD pane. The w key (or any button key) fires the wake source and cuts
// the nap short.
func (s *TUIPlatform) DeepSleep(d time.Duration) {
	s.mu.Lock()
	s.onAir = false
	until := time.Now().Add(d)
	s.mu.Unlock()

	stopCountdown := make(chan struct{})
	if d >= countdownDisplayMin {
		go s.countdownDriver(until, stopCountdown)
	}
	s.power.deepSleep(d)
	close(stopCountdown)
	s.renderLCD()
}

func (s *TUIPlatform) PowerCycle() {
	slog.Info("Power cycling the device (simulated)")
	s.power.powerCycle()
}

func (s *TUIPlatform) Readvertise() error {
	s.mu.Lock()
	s.onAir = true
	s.mu.Unlock()
	slog.Debug("Advertising restarted (simulated)")
	return nil
}

func (s *TUIPlatform) Advertising() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onAir
}

func (s *TUIPlatform) ShowReading(v int16) {
	s.appendLCD(fmt.Sprintf("[#00ff00]%d°C[-]", v))
}

func (s *TUIPlatform) ShowMessage(msg string) {
	s.appendLCD(msg)
}

func (s *TUIPlatform) ClearDisplay() {
	s.mu.Lock()
	s.lcdLines = nil
	s.mu.Unlock()
	s.renderLCD()
}

func (s *TUIPlatform) appendLCD(line string) {
	s.mu.Lock()
	s.lcdLines = append(s.lcdLines, line)
	if len(s.lcdLines) > lcdRows {
		s.lcdLines = s.lcdLines[len(s.lcdLines)-lcdRows:]
	}
	s.mu.Unlock()
	s.renderLCD()
}

func (s *TUIPlatform) renderLCD() {
	s.mu.Lock()
	text := strings.Join(s.lcdLines, "\n")
	s.mu.Unlock()
	s.queueDraw(func() { s.lcd.SetText(text) })
}

// queueDraw schedules a widget update on the TUI thread unless the
// platform is already shutting down.
func (s *TUIPlatform) queueDraw(update func()) {
	s.shutdownMutex.RLock()
	defer s.shutdownMutex.RUnlock()
	if s.isShuttingDown {
		return
	}
	s.tviewapp.QueueUpdateDraw(update)
}

// countdownDriver redraws the remaining sleep time until the nap ends.
func (s *TUIPlatform) countdownDriver(until time.Time, stop chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			remaining := time.Until(until).Round(100 * time.Millisecond)
			if remaining < 0 {
				remaining = 0
			}
			s.mu.Lock()
			lines := append(append([]string{}, s.lcdLines...),
				fmt.Sprintf("[#5f5fff]deep sleep: wake in %s[-]", remaining))
			text := strings.Join(lines, "\n")
			s.mu.Unlock()
			s.queueDraw(func() { s.lcd.SetText(text) })
		}
	}
}

// statusDriver feeds the status pane from the fields the device pushes.
func (s *TUIPlatform) statusDriver() {
	defer s.statusWg.Done()
	for {
		select {
		case <-s.statusStopChan:
			slog.Info("Ending StatusDriver go-routine...")
			return
		case <-s.status.Channel():
			vals := s.status.ConsumeValues()
			s.mu.Lock()
			for k, v := range vals {
				s.statusVals[k] = v
			}
			text := renderStatusText(s.statusVals)
			s.mu.Unlock()
			s.queueDraw(func() { s.statusView.SetText(text) })
		}
	}
}

func renderStatusText(vals map[string]string) string {
	keys := maps.Keys(vals)
	sort.Strings(keys)
	var buf strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&buf, "[#ffff00]%-12s[-] %s\n", k, vals[k])
	}
	return buf.String()
}

// getIntroText generates the text for the top info pane.
func (s *TUIPlatform) getIntroText() string {
	line1 := fmt.Sprintf("Buttons: [blue]a[-]/[blue]b[-]/[blue]c[-] tap | [blue]B[-]/[blue]C[-] hold (%d polls)", s.config.Buttons.HoldCount)
	line2 := "Central: [blue]n[-] connect | [blue]d[-] disconnect | [blue]t[-] read temperature"
	line3 := "Hit [#ff0000]w[-] to wake, [#ff0000]q[-] to exit, [#ff0000]r[-] to reload, [#ff0000]Up/Down[-] to scroll logs"
	return fmt.Sprintf("%s\n%s\n%s", line1, line2, line3)
}

func (s *TUIPlatform) initSimulationTUI(ossignal chan os.Signal) {
	s.tviewapp = tview.NewApplication()

	// --- Intro Pane ---
	s.intro = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	s.intro.SetText(s.getIntroText())
	s.intro.SetBorder(true).SetTitle(" TEMPBEACON Simulation ").SetTitleColor(tcell.ColorLightBlue)
	s.intro.SetBackgroundColor(tcell.NewRGBColor(20, 20, 20))

	// --- LCD Pane ---
	s.lcd = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	s.lcd.SetBorder(true).SetTitle(" LCD ").SetTitleColor(tcell.ColorLightBlue)
	s.lcd.SetBackgroundColor(tcell.NewRGBColor(30, 30, 30))

	// --- Status Pane ---
	s.statusView = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	s.statusView.SetBorder(true).SetTitle(" Status ").SetTitleColor(tcell.ColorLightBlue)
	s.statusView.SetBackgroundColor(tcell.NewRGBColor(30, 30, 30))

	// --- Log Pane ---
	s.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetChangedFunc(func() {
			s.logView.ScrollToEnd()
			s.tviewapp.Draw()
		})
	s.logView.SetBorder(true).SetTitle(" Logs ").SetTitleColor(tcell.ColorLightBlue)
	s.logView.SetBackgroundColor(tcell.NewRGBColor(40, 40, 40))

	// --- Layout ---
	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(s.intro, 5, 0, false).
		AddItem(tview.NewFlex().
			AddItem(s.lcd, 0, 1, false).
			AddItem(s.statusView, 0, 1, false), lcdRows+4, 0, false).
		AddItem(s.logView, 0, 1, true) // Flexible height, gets focus

	// --- Flush logs after first draw ---
	s.tviewapp.SetAfterDrawFunc(func(screen tcell.Screen) {
		s.logFlushOnce.Do(func() {
			logWriter := tview.ANSIWriter(s.logView)
			logging.SetOutput(logWriter)
			close(s.readyChan) // Signal that the TUI is ready
		})
	})

	// --- Input Handling ---
	s.tviewapp.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			s.tviewapp.Stop()
			ossignal <- os.Interrupt
			return nil
		case tcell.KeyRune:
			switch string(event.Rune()) {
			case "a", "A":
				s.pressButton(c.ButtonA, 1)
				return nil
			case "b":
				s.pressButton(c.ButtonB, 1)
				return nil
			case "B":
				s.pressButton(c.ButtonB, s.config.Buttons.HoldCount)
				return nil
			case "c":
				s.pressButton(c.ButtonC, 1)
				return nil
			case "C":
				s.pressButton(c.ButtonC, s.config.Buttons.HoldCount)
				return nil
			case "n":
				s.centralConnect()
				return nil
			case "d":
				s.centralDisconnect()
				return nil
			case "t":
				s.centralRead()
				return nil
			case "w":
				slog.Debug("Firing wake source")
				s.power.wake()
				return nil
			case "q", "Q":
				ossignal <- os.Interrupt
				return nil
			case "r", "R":
				ossignal <- syscall.SIGHUP
				return nil
			}
		case tcell.KeyUp:
			row, col := s.logView.GetScrollOffset()
			s.logView.ScrollTo(row-1, col)
			return nil
		case tcell.KeyDown:
			row, col := s.logView.GetScrollOffset()
			s.logView.ScrollTo(row+1, col)
			return nil
		}
		return event
	})

	// --- Start TUI ---
	go func() {
		if err := s.tviewapp.SetRoot(layout, true).Run(); err != nil {
			slog.Error("Error running TUI", "error", err)
			s.ossignalChan <- os.Interrupt
		}
	}()
}

// pressButton simulates a press-and-release of the given length. The
// press doubles as a wake source, like on the real hardware.
func (s *TUIPlatform) pressButton(id string, held int) {
	slog.Debug("Button released", "id", id, "held", held)
	s.emitTrigger(u.NewTrigger(id, held, time.Now()))
	s.power.wake()
}

// The central handlers run the device callbacks on their own goroutines:
// a disconnect with the powercycle strategy blocks for the restart nap,
// which must not stall the TUI event loop.

func (s *TUIPlatform) centralConnect() {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		slog.Info("Central already connected")
		return
	}
	s.connected = true
	s.mu.Unlock()
	go s.handler.OnConnect(tuiCentralName)
}

func (s *TUIPlatform) centralDisconnect() {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		slog.Info("No central connected")
		return
	}
	s.connected = false
	s.mu.Unlock()
	go s.handler.OnDisconnect(tuiCentralName)
}

func (s *TUIPlatform) centralRead() {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		slog.Info("No central connected, hit n first")
		return
	}
	go func() {
		value := s.handler.OnCharacteristicRead()
		slog.Debug("Central read", "bytes", fmt.Sprintf("%x", value))
	}()
}

// Package monitor implements the session state machine at the heart of
// rbxmon: it reconciles process-table polling, log-line classification,
// chat-transport connectivity and remote commands into session
// transitions and outbound notifications.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbxmon/rbxmon/internal/classify"
	"github.com/rbxmon/rbxmon/internal/core"
	"github.com/rbxmon/rbxmon/internal/logtail"
	"github.com/rbxmon/rbxmon/internal/notify"
	"github.com/rbxmon/rbxmon/internal/store"
)

// State of the monitored session.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "Running"
	}
	return "Idle"
}

// Notification colors, in the chat transport's RGB integer convention.
const (
	ColorGreen  = 0x2ecc71
	ColorRed    = 0xe74c3c
	ColorOrange = 0xe67e22
	ColorBlue   = 0x3498db
	ColorGrey   = 0x95a5a6
)

// sessionStartTTL expires the low-value "Session Started" notice.
const sessionStartTTL = 15 * time.Second

// ProcessController is the process-table surface the state machine
// needs. Satisfied by *procwatch.Watcher.
type ProcessController interface {
	Running() bool
	SessionStartEstimate() time.Time
	KillAll() int
}

// event is one item on the monitor's inbound dispatch queue. All state
// mutation happens on the Run goroutine, which drains this queue.
type event struct {
	kind      eventKind
	line      string    // logLine
	gen       int       // logLine: session generation the line belongs to
	startSnap time.Time // logLine: start_time snapshot taken at tail startup
	cmd       Command
	source    string
	reply     func(string)
}

type eventKind int

const (
	evLogLine eventKind = iota
	evTransportDown
	evTransportUp
	evCommand
)

// Monitor owns the session state machine. Construct with New, feed it
// through TransportDown/TransportUp/Dispatch, and drive it with Run.
type Monitor struct {
	cfg     *core.Configuration
	procs   ProcessController
	tailer  *logtail.Tailer
	outbox  *notify.Outbox
	journal *store.Store // optional
	rules   *classify.Classifier

	pollInterval time.Duration

	events chan event
	stop   chan int // buffered; carries the requested exit code

	// Guards only the dispatch gate; session state is owned by Run.
	mu     sync.Mutex
	closed bool

	// Session state, touched only by the Run goroutine.
	state      State
	startTime  time.Time
	gen        int
	tailCancel context.CancelFunc
	tailDone   chan struct{}

	ignoreNextDisconnect bool
	chatDownAt           time.Time // debounced control-plane disconnect
	lastChatSignal       time.Time
	clientDownAt         time.Time // last observed client disconnect

	startedAt time.Time // monitor process start, for the uptime command
}

// New wires a Monitor. journal may be nil to disable persistence.
func New(cfg *core.Configuration, procs ProcessController, tailer *logtail.Tailer, outbox *notify.Outbox, journal *store.Store) *Monitor {
	return &Monitor{
		cfg:          cfg,
		procs:        procs,
		tailer:       tailer,
		outbox:       outbox,
		journal:      journal,
		rules:        classify.New(cfg.Monitor.DisconnectKeywords, cfg.Monitor.ClosedKeywords),
		pollInterval: time.Second,
		events:       make(chan event, 128),
		stop:         make(chan int, 1),
		startedAt:    time.Now(),
	}
}

// post is the guarded dispatch into the state machine. Drops silently
// once the monitor is shutting down; shutdown races with transport
// callbacks are expected and tolerated.
func (m *Monitor) post(ev event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.events <- ev:
	default:
		slog.Warn("Monitor event queue full, dropping event", "kind", ev.kind)
	}
}

// TransportDown reports that the chat transport lost its connection.
func (m *Monitor) TransportDown() { m.post(event{kind: evTransportDown}) }

// TransportUp reports that the chat transport resumed.
func (m *Monitor) TransportUp() { m.post(event{kind: evTransportUp}) }

// Dispatch hands a remote command to the state machine. reply, when
// non-nil, receives the direct textual response; notifications go
// through the outbox either way.
func (m *Monitor) Dispatch(cmd Command, source string, reply func(string)) {
	m.post(event{kind: evCommand, cmd: cmd, source: source, reply: reply})
}

// Run drives the state machine until ctx is cancelled or a remote
// Shutdown/Restart command arrives. The returned code follows the
// supervisor convention: core.ExitOK for clean stop, core.ExitRestart
// when a restart was requested.
func (m *Monitor) Run(ctx context.Context) int {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	var heartbeat <-chan time.Time
	if m.cfg.Monitor.HeartbeatInterval > 0 {
		ht := time.NewTicker(m.cfg.Monitor.HeartbeatInterval)
		defer ht.Stop()
		heartbeat = ht.C
	}

	m.record("monitor_start", "")
	defer m.teardown()

	for {
		select {
		case <-ctx.Done():
			// Farewell on SIGINT/SIGTERM; the outbox drains on close.
			m.notifyOut(notify.Notification{
				Title: "Monitor Stopped",
				Body:  fmt.Sprintf("Shutting down. %s.", m.statusText()),
				Color: ColorGrey,
			})
			m.record("monitor_stop", "context cancelled")
			return core.ExitOK
		case code := <-m.stop:
			m.record("monitor_stop", fmt.Sprintf("exit code %d", code))
			return code
		case <-ticker.C:
			m.reconcileProcess()
		case <-heartbeat:
			m.emitHeartbeat()
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

func (m *Monitor) teardown() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stopTail()
}

// reconcileProcess compares the process table against the current
// state and performs the Idle<->Running transitions.
func (m *Monitor) reconcileProcess() {
	running := m.procs.Running()
	switch {
	case m.state == Idle && running:
		m.transitionToRunning()
	case m.state == Running && !running:
		m.transitionToIdle("Process Ended",
			fmt.Sprintf("The game client exited after %s.", FormatElapsed(m.elapsed())),
			ColorOrange, false)
	}
}

func (m *Monitor) transitionToRunning() {
	start := m.procs.SessionStartEstimate()
	if start.IsZero() {
		start = time.Now()
	}
	m.state = Running
	m.startTime = start
	m.gen++

	m.notifyOut(notify.Notification{
		Title: "Session Started",
		Body:  "The game client is running.",
		Color: ColorGreen,
		TTL:   sessionStartTTL,
	})
	m.record("session_start", fmt.Sprintf("estimated start %s ago", FormatElapsed(m.elapsed())))
	slog.Info("Session started", "start", start)

	m.startTail(start)
}

// transitionToIdle ends the session. kill requests a defensive
// kill_all after the transition.
func (m *Monitor) transitionToIdle(title, body string, color int, kill bool) {
	m.notifyOut(notify.Notification{Title: title, Body: body, Color: color})
	m.record("session_end", title)
	slog.Info("Session ended", "reason", title, "elapsed", FormatElapsed(m.elapsed()))

	m.state = Idle
	m.startTime = time.Time{}
	m.ignoreNextDisconnect = false
	m.stopTail()

	if kill {
		killed := m.procs.KillAll()
		slog.Info("Killed remaining client processes", "count", killed)
	}
}

// startTail launches the per-session log tailing worker. The worker
// carries the session generation and a snapshot of start_time so lines
// surfacing after the session ended are discarded.
func (m *Monitor) startTail(startSnap time.Time) {
	if m.tailer == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.tailCancel = cancel
	m.tailDone = done
	go m.runTail(ctx, done, m.gen, startSnap)
}

// stopTail cancels the tail worker and waits for it to finish, so a
// new session's worker never overlaps the old one.
func (m *Monitor) stopTail() {
	if m.tailCancel == nil {
		return
	}
	m.tailCancel()
	m.tailCancel = nil
	<-m.tailDone
	m.tailDone = nil
}

// runTail attaches to the session's log file and forwards every line
// to the state machine. Errors here are logged and retried; the worker
// never takes the monitor down.
func (m *Monitor) runTail(ctx context.Context, done chan struct{}, gen int, startSnap time.Time) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Log tail worker panicked", "panic", r, "gen", gen)
		}
	}()

	cursor, err := m.attachLog(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Could not attach to a log file for this session", "error", err)
		}
		return
	}
	defer cursor.Close()
	slog.Debug("Tailing log file", "path", cursor.Path(), "gen", gen)

	for ctx.Err() == nil {
		line, ok := cursor.ReadLine(time.Second)
		if !ok {
			continue
		}
		m.post(event{kind: evLogLine, line: line, gen: gen, startSnap: startSnap})
	}
}

// attachLog picks the log file for the new session: the newest existing
// file when attach_existing_log is set (the client may have been
// running before the monitor), otherwise the next file to appear.
func (m *Monitor) attachLog(ctx context.Context) (*logtail.Cursor, error) {
	if m.cfg.Monitor.AttachExistingLog {
		if path, ok := m.tailer.Latest(); ok {
			return m.tailer.OpenAtEnd(path)
		}
	}
	snap, err := m.tailer.Snapshot()
	if err != nil {
		return nil, err
	}
	path, err := m.tailer.WaitForNewLog(ctx, snap)
	if err != nil {
		return nil, err
	}
	return m.tailer.OpenAtEnd(path)
}

func (m *Monitor) handle(ev event) {
	switch ev.kind {
	case evLogLine:
		m.handleLogLine(ev)
	case evTransportDown:
		m.handleTransportDown()
	case evTransportUp:
		m.handleTransportUp()
	case evCommand:
		m.handleCommand(ev)
	}
}

func (m *Monitor) handleLogLine(ev event) {
	// A stale worker's lines refer to a session that already ended.
	if ev.gen != m.gen || m.state != Running {
		return
	}

	switch m.rules.Classify(ev.line) {
	case classify.Disconnect:
		m.handleDisconnect(ev)
	case classify.Closed:
		m.transitionToIdle("Application Closed",
			fmt.Sprintf("The game client closed after %s.", FormatElapsed(time.Since(ev.startSnap))),
			ColorOrange, true)
	}
}

func (m *Monitor) handleDisconnect(ev event) {
	if m.ignoreNextDisconnect {
		m.ignoreNextDisconnect = false
		m.record("disconnect_ignored", ev.line)
		slog.Info("Disconnect ignored per one-shot flag", "line", ev.line)
		return
	}

	m.clientDownAt = time.Now()
	m.record("disconnect", ev.line)

	body := fmt.Sprintf("Disconnected after %s.\n%s", FormatElapsed(time.Since(ev.startSnap)), ev.line)
	if m.cfg.Monitor.AutoKillOnDisconnect {
		m.transitionToIdle("Disconnect Detected", body, ColorRed, true)
	} else {
		m.notifyOut(notify.Notification{Title: "Disconnect Detected", Body: body, Color: ColorRed})
	}
}

func (m *Monitor) handleTransportDown() {
	now := time.Now()
	if !m.chatDownAt.IsZero() || now.Sub(m.lastChatSignal) < m.cfg.Monitor.DisconnectDebounce {
		// Repeat signal within the debounce window; keep the first.
		// Suppressed signals don't refresh the window, otherwise
		// continuous flapping could starve recording forever.
		return
	}
	m.lastChatSignal = now
	m.chatDownAt = now
	m.record("transport_down", "")
	slog.Warn("Chat transport disconnected")
}

func (m *Monitor) handleTransportUp() {
	if m.chatDownAt.IsZero() {
		return
	}
	downAt := m.chatDownAt
	m.chatDownAt = time.Time{}
	m.record("transport_up", "")

	window := m.cfg.Monitor.CorrelationWindow
	gap := absDuration(m.clientDownAt.Sub(downAt))
	if !m.clientDownAt.IsZero() && gap <= window {
		m.notifyOut(notify.Notification{
			Title: "Bot Disconnected",
			Body: fmt.Sprintf("Chat transport was down; a client disconnect at %s may be related.",
				m.clientDownAt.Format(time.DateTime)),
			Color: ColorRed,
		})
		m.clientDownAt = time.Time{}
		return
	}
	m.notifyOut(notify.Notification{
		Title: "Bot Disconnected",
		Body:  fmt.Sprintf("Chat transport was down; reconnected at %s.", time.Now().Format(time.DateTime)),
		Color: ColorGrey,
	})
}

func (m *Monitor) handleCommand(ev event) {
	reply := func(text string) {
		if ev.reply != nil {
			ev.reply(text)
		}
	}
	m.recordCommand(ev.cmd.String(), ev.source)

	switch ev.cmd {
	case CmdKill:
		killed := m.procs.KillAll()
		text := fmt.Sprintf("Terminated %d process(es).", killed)
		reply(text)
		m.notifyOut(notify.Notification{Title: "Kill Executed", Body: text, Color: ColorOrange})
	case CmdStatus:
		text := m.statusText()
		reply(text)
		m.notifyOut(notify.Notification{Title: "Status", Body: text, Color: ColorBlue})
	case CmdPing:
		reply("Pong")
	case CmdShutdown:
		reply("Shutting down.")
		m.requestExit(core.ExitOK)
	case CmdRestart:
		reply("Restarting.")
		m.requestExit(core.ExitRestart)
	case CmdToggleIgnore:
		m.ignoreNextDisconnect = !m.ignoreNextDisconnect
		if m.ignoreNextDisconnect {
			reply("The next disconnect will be ignored.")
		} else {
			reply("Disconnects are handled normally again.")
		}
	case CmdUptime:
		reply(m.uptimeText())
	case CmdHelp:
		reply(HelpText)
	default:
		reply("Unknown command. Send `help` for the list.")
	}
}

func (m *Monitor) requestExit(code int) {
	select {
	case m.stop <- code:
	default:
	}
}

func (m *Monitor) statusText() string {
	if m.state == Running {
		return fmt.Sprintf("Running, elapsed %s", FormatElapsed(m.elapsed()))
	}
	return "Idle, elapsed N/A"
}

func (m *Monitor) uptimeText() string {
	text := fmt.Sprintf("Monitor up %s", FormatElapsed(time.Since(m.startedAt)))
	if osUp := m.osUptime(); osUp > 0 {
		text += fmt.Sprintf(", host up %s", FormatElapsed(osUp))
	}
	return text
}

// osUptime is overridable for tests via the package hook below.
func (m *Monitor) osUptime() time.Duration { return osUptimeFn() }

var osUptimeFn = func() time.Duration { return 0 }

// SetOSUptimeFunc installs the host-uptime source, normally
// procwatch.OSUptime. Kept injectable so the package does not pull a
// platform dependency into every test.
func SetOSUptimeFunc(f func() time.Duration) {
	if f != nil {
		osUptimeFn = f
	}
}

func (m *Monitor) emitHeartbeat() {
	m.notifyOut(notify.Notification{
		Title: "Heartbeat",
		Body:  m.statusText(),
		Color: ColorGrey,
	})
}

func (m *Monitor) elapsed() time.Duration {
	if m.startTime.IsZero() {
		return 0
	}
	d := time.Since(m.startTime)
	if d < 0 {
		d = 0
	}
	return d
}

func (m *Monitor) notifyOut(n notify.Notification) {
	if m.outbox != nil {
		m.outbox.Enqueue(n)
	}
}

func (m *Monitor) record(eventType, details string) {
	if m.journal == nil {
		return
	}
	if err := m.journal.LogSessionEvent(eventType, details); err != nil {
		slog.Debug("Failed to journal session event", "type", eventType, "error", err)
	}
}

func (m *Monitor) recordCommand(command, source string) {
	if m.journal == nil {
		return
	}
	if err := m.journal.LogCommand(command, source, ""); err != nil {
		slog.Debug("Failed to journal command", "command", command, "error", err)
	}
}

// FormatElapsed renders a duration as zero-padded hours, minutes and
// seconds, e.g. "01h 02m 03s".
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d.Seconds())
	return fmt.Sprintf("%02dh %02dm %02ds", secs/3600, (secs%3600)/60, secs%60)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

package monitor

import "strings"

// Command is a remote operator command, received over the chat
// transport or the HTTP control surface.
type Command int

const (
	CmdUnknown Command = iota
	CmdKill
	CmdStatus
	CmdPing
	CmdShutdown
	CmdRestart
	CmdToggleIgnore
	CmdUptime
	CmdHelp
)

func (c Command) String() string {
	switch c {
	case CmdKill:
		return "kill"
	case CmdStatus:
		return "status"
	case CmdPing:
		return "ping"
	case CmdShutdown:
		return "shutdown"
	case CmdRestart:
		return "restart"
	case CmdToggleIgnore:
		return "flag"
	case CmdUptime:
		return "uptime"
	case CmdHelp:
		return "help"
	}
	return "unknown"
}

// ParseCommand maps operator input to a Command. A leading "!" is
// accepted, matching chat conventions. Unrecognized input yields
// CmdUnknown and ok=false.
func ParseCommand(text string) (Command, bool) {
	word := strings.ToLower(strings.TrimSpace(text))
	word = strings.TrimPrefix(word, "!")
	if i := strings.IndexByte(word, ' '); i >= 0 {
		word = word[:i]
	}

	switch word {
	case "kill", "close":
		return CmdKill, true
	case "status":
		return CmdStatus, true
	case "ping":
		return CmdPing, true
	case "shutdown", "stop":
		return CmdShutdown, true
	case "restart":
		return CmdRestart, true
	case "flag", "setflag":
		return CmdToggleIgnore, true
	case "uptime":
		return CmdUptime, true
	case "help":
		return CmdHelp, true
	}
	return CmdUnknown, false
}

// HelpText lists the commands an operator can send.
const HelpText = `Commands:
  kill      terminate the game client
  status    report session state and elapsed time
  ping      liveness check
  flag      ignore the next disconnect (one-shot toggle)
  uptime    host and monitor uptime
  restart   restart the monitor process
  shutdown  stop the monitor process
  help      this text`

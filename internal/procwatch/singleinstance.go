package procwatch

import (
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// AnotherInstanceRunning reports whether a different process's command
// line references the given identity marker (normally the path of this
// executable plus its subcommand). Used as a startup guard so two
// monitors never tail the same client.
func AnotherInstanceRunning(marker string) bool {
	procs, err := process.Processes()
	if err != nil {
		// Can't tell; let the monitor start rather than refuse.
		return false
	}

	self := int32(os.Getpid())
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			continue
		}
		if strings.Contains(cmdline, marker) {
			return true
		}
	}
	return false
}

// Package browserprocess tracks the browser processes started by navcheck so
// that they can be killed when the program is interrupted.
package browserprocess

import (
	"context"
	"os"
	"sync"

	"github.com/davidnuzik/navcheck/log"
)

type processState struct {
	pid   int
	runID string
}

var (
	browserProcessRegister   = map[int]*processState{} //nolint:gochecknoglobals
	browserProcessRegisterMu = sync.Mutex{}            //nolint:gochecknoglobals
)

// Register records pid under the run ID found in ctx.
func Register(ctx context.Context, logger *log.Logger, pid int) {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	rID := GetRunID(ctx)
	logger.Debugf("BrowserProcess:Register", "registered browser process pid:%d run:%q", pid, rID)

	browserProcessRegister[pid] = &processState{pid: pid, runID: rID}
}

// Deregister forgets pid once its process exited normally.
func Deregister(pid int) {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	delete(browserProcessRegister, pid)
}

// Registered returns the number of tracked processes.
func Registered() int {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	return len(browserProcessRegister)
}

// ForceProcessShutdown kills the processes registered for the run ID in
// ctx, or every registered process if ctx carries no run ID. It is meant
// for interrupts, when the normal session release won't run.
func ForceProcessShutdown(ctx context.Context) {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	rID := GetRunID(ctx)
	for pid, v := range browserProcessRegister {
		if rID != "" && v.runID != rID {
			continue
		}
		Kill(pid)
		delete(browserProcessRegister, pid)
	}
}

// Kill looks for and kills the process with the given pid. Tests replace it
// so that no real process is signalled.
var Kill = func(pid int) { //nolint:gochecknoglobals
	p, err := os.FindProcess(pid)
	if err != nil {
		// optimistically continue and don't kill the process
		return
	}
	// no need to check the error since we're already dying.
	_ = p.Kill()
	_ = p.Release()
}

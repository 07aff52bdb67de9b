package lock

import (
	"os"
	"os/signal"
	"syscall"
)

// InstallCleanup registers signal handlers that remove the lock file on
// SIGINT/SIGTERM and exit with the conventional 128+signal status. The file
// is removed only while this process still owns it. The returned function
// covers the normal-exit path and is safe to call more than once.
func (m *Manager) InstallCleanup() (release func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig, ok := <-ch
		if !ok {
			return
		}
		_ = m.Release()
		code := 1
		if s, isSyscall := sig.(syscall.Signal); isSyscall {
			code = 128 + int(s)
		}
		os.Exit(code)
	}()
	return func() {
		signal.Stop(ch)
		_ = m.Release()
	}
}

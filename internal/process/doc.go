// Package process provides single-shot subprocess supervision.
//
// A Manager spawns one child in its own process group, redirects its output
// to files, reaps it in the background and records how it exited. Shutdown
// signals the whole group: SIGTERM first, SIGKILL after a grace period.
//
// Features:
//   - Process-group signalling (children forked by the daemon die with it)
//   - Output redirected to log files truncated on each start, never the caller's console
//   - KillGroup for children the leader leaves behind
//   - Exit code / signal normalisation
//   - Log tail helper for error reports
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:            "lightningd",
//	    Binary:          "/usr/bin/lightningd",
//	    Args:            []string{"--lightning-dir=/tmp/ln"},
//	    StdoutPath:      "/tmp/ln/stdout.log",
//	    StderrPath:      "/tmp/ln/stderr.log",
//	    GracefulTimeout: 5 * time.Second,
//	})
//
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process

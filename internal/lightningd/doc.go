// Package lightningd launches throwaway lightningd regtest daemons for
// integration tests.
//
// A launch resolves the executable, reserves a free RPC and peer port,
// writes a config file into a fresh (or caller-supplied) lightning
// directory, spawns the daemon in its own process group and polls getinfo
// over the JSON-RPC socket until it answers. The returned Node owns the
// process, the directory and the ports; Node.Stop releases all of them.
//
// Startup failures are distinguished:
//   - ErrNotFound: no executable ($LIGHTNINGD_EXE, download cache, PATH)
//   - *ExitError (errors.Is ErrExitedEarly): daemon died before answering,
//     with the tail of its stderr and stdout
//   - ErrStartupTimeout: daemon still silent when the timeout passed
//   - ErrPortMismatch: daemon bound a different peer port
//
// In every case the process is dead and an owned directory removed by the
// time Launch returns.
//
// Example usage:
//
//	exe, err := lightningd.ExePath()
//	if err != nil {
//	    return err
//	}
//
//	node, err := lightningd.Launch(ctx, exe, lightningd.DefaultConf())
//	if err != nil {
//	    return err
//	}
//	defer node.Stop()
//
//	info, err := node.Client().GetInfo(ctx)
package lightningd

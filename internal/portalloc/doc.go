// Package portalloc reserves ephemeral loopback TCP ports.
//
// Ports are discovered by binding port 0 and reading back the kernel's
// choice, then kept in a process-wide reservation set until the holder
// releases them. Two launches in the same process therefore never receive
// the same port, even though nothing stops an unrelated process from
// grabbing a released port before the daemon binds it.
//
// Usage:
//
//	ports, err := portalloc.Default().Reserve(nodeID, 2)
//	if err != nil {
//	    return err
//	}
//	defer portalloc.Default().Release(nodeID, ports...)
package portalloc

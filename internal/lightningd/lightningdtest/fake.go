package lightningdtest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// FakeDaemonEnv selects the fake daemon mode when the test binary is
// re-executed as lightningd.
const FakeDaemonEnv = "LNHARNESS_FAKE_LIGHTNINGD"

// Fake daemon modes.
const (
	// FakeReady serves getinfo and exits on stop or SIGTERM.
	FakeReady = "ready"

	// FakeExit writes to stderr and exits with code 3 immediately.
	FakeExit = "exit"

	// FakeHang never opens its RPC socket and ignores SIGTERM.
	FakeHang = "hang"

	// FakeStubborn serves getinfo but ignores both stop and SIGTERM.
	FakeStubborn = "stubborn"

	// FakeSlow serves getinfo after a delay.
	FakeSlow = "slow"

	// FakeWrongPort reports a peer binding other than the configured one.
	FakeWrongPort = "wrongport"

	// FakeForeignDir reports a lightning directory other than its own.
	FakeForeignDir = "foreigndir"
)

// FakeExitCode is the exit code of FakeExit.
const FakeExitCode = 3

// fakeSlowDelay is how long FakeSlow waits before serving.
const fakeSlowDelay = 500 * time.Millisecond

// FakeEnv returns the Conf.Env entries that select mode.
func FakeEnv(mode string) []string {
	return []string{FakeDaemonEnv + "=" + mode}
}

// FakeExe returns the path of the running test binary, to be launched as
// lightningd together with FakeEnv.
func FakeExe() (string, error) {
	return os.Executable()
}

// MaybeRunFakeDaemon turns the process into a fake lightningd when
// FakeDaemonEnv is set. Call it first thing in TestMain:
//
//	func TestMain(m *testing.M) {
//	    lightningdtest.MaybeRunFakeDaemon()
//	    os.Exit(m.Run())
//	}
func MaybeRunFakeDaemon() {
	mode := os.Getenv(FakeDaemonEnv)
	if mode == "" {
		return
	}
	os.Exit(runFake(mode, os.Args[1:]))
}

// fakeOptions are the parts of the command line the fake daemon honours.
type fakeOptions struct {
	dir      string
	conf     string
	network  string
	peerAddr string
	offline  bool
}

func parseFakeArgs(args []string) (fakeOptions, error) {
	opts := fakeOptions{network: "bitcoin"}
	for _, arg := range args {
		if arg == "--offline" {
			opts.offline = true
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !ok {
			continue
		}
		switch key {
		case "lightning-dir":
			opts.dir = value
		case "conf":
			opts.conf = value
		case "network":
			opts.network = value
		case "addr", "bind-addr":
			opts.peerAddr = value
		}
	}
	if opts.dir == "" {
		return opts, fmt.Errorf("--lightning-dir is required")
	}

	if opts.conf != "" && opts.peerAddr == "" {
		f, err := os.Open(opts.conf)
		if err != nil {
			return opts, err
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			key, value, ok := strings.Cut(scanner.Text(), "=")
			if ok && key == "addr" {
				opts.peerAddr = value
			}
		}
		if err := scanner.Err(); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

func runFake(mode string, args []string) int {
	opts, err := parseFakeArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fake lightningd:", err)
		return 1
	}

	fmt.Fprintf(os.Stdout, "fake lightningd starting in %s mode\n", mode)

	switch mode {
	case FakeExit:
		fmt.Fprintln(os.Stderr, "fake lightningd: could not connect to bitcoind")
		return FakeExitCode
	case FakeHang:
		signal.Ignore(syscall.SIGTERM)
		time.Sleep(time.Hour)
		return 0
	case FakeSlow:
		time.Sleep(fakeSlowDelay)
	case FakeStubborn:
		signal.Ignore(syscall.SIGTERM)
	case FakeReady, FakeWrongPort, FakeForeignDir:
	default:
		fmt.Fprintln(os.Stderr, "fake lightningd: unknown mode", mode)
		return 1
	}

	return serveFake(mode, opts)
}

func serveFake(mode string, opts fakeOptions) int {
	bindings := []map[string]any{}
	if !opts.offline {
		peer, err := net.Listen("tcp", opts.peerAddr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "fake lightningd: binding peer port:", err)
			return 1
		}
		defer peer.Close()

		bindPort := peer.Addr().(*net.TCPAddr).Port
		if mode == FakeWrongPort {
			bindPort++
		}
		bindings = append(bindings, map[string]any{"type": "ipv4", "address": "127.0.0.1", "port": bindPort})
	}

	networkDir := filepath.Join(opts.dir, opts.network)
	if err := os.MkdirAll(networkDir, 0o700); err != nil {
		fmt.Fprintln(os.Stderr, "fake lightningd:", err)
		return 1
	}
	ln, err := net.Listen("unix", filepath.Join(networkDir, "lightning-rpc"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "fake lightningd: binding rpc socket:", err)
		return 1
	}
	defer ln.Close()

	reportedDir := networkDir
	if mode == FakeForeignDir {
		reportedDir = filepath.Join(os.TempDir(), "another-node", opts.network)
	}

	stop := make(chan struct{})
	var once sync.Once

	handle := func(method string) (any, *rpcError) {
		switch method {
		case "getinfo":
			return map[string]any{
				"id":            "02" + strings.Repeat("ab", 32),
				"alias":         "fake",
				"color":         "02abab",
				"num_peers":     0,
				"version":       "fake",
				"blockheight":   0,
				"network":       opts.network,
				"lightning-dir": reportedDir,
				"binding":       bindings,
				"address":       []map[string]any{},
			}, nil
		case "stop":
			if mode != FakeStubborn {
				once.Do(func() { close(stop) })
			}
			return "Shutdown complete", nil
		default:
			return nil, &rpcError{Code: -32601, Message: "Unknown command '" + method + "'"}
		}
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveFakeConn(conn, handle)
		}
	}()

	sigs := make(chan os.Signal, 1)
	if mode == FakeStubborn {
		signal.Notify(sigs, syscall.SIGINT)
	} else {
		signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	}

	select {
	case <-stop:
		// Give the stop response time to flush.
		time.Sleep(20 * time.Millisecond)
	case <-sigs:
	}
	fmt.Fprintln(os.Stdout, "fake lightningd shutting down")
	return 0
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func serveFakeConn(conn net.Conn, handle func(string) (any, *rpcError)) {
	defer conn.Close()

	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		return
	}

	result, rpcErr := handle(req.Method)
	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	json.NewEncoder(conn).Encode(resp) //nolint:errcheck // peer may be gone
}

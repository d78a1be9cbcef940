package lightningd_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/nerrad567/lightningd-harness/internal/lightningd"
	"github.com/nerrad567/lightningd-harness/internal/lightningd/lightningdtest"
	"github.com/nerrad567/lightningd-harness/internal/portalloc"
)

func TestMain(m *testing.M) {
	lightningdtest.MaybeRunFakeDaemon()
	os.Exit(m.Run())
}

// shortTempDir returns a temp dir with a short path; unix socket paths
// are limited to about 100 bytes.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "lnh")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func fakeExe(t *testing.T) string {
	t.Helper()
	exe, err := lightningdtest.FakeExe()
	if err != nil {
		t.Fatalf("locating test binary: %v", err)
	}
	return exe
}

// fakeConf returns a launch configuration for the fake daemon in mode.
// An empty mode leaves the selection to StartFake.
func fakeConf(t *testing.T, mode string) lightningd.Conf {
	conf := lightningd.Conf{
		TempDirRoot:     shortTempDir(t),
		StartupTimeout:  10 * time.Second,
		PollInterval:    20 * time.Millisecond,
		GracefulTimeout: 3 * time.Second,
	}
	if mode != "" {
		conf.Env = lightningdtest.FakeEnv(mode)
	}
	return conf
}

// writeStub writes an executable shell script and returns its path.
func writeStub(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "stub-lightningd")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// portHeld reports whether port is reserved in the default allocator.
func portHeld(t *testing.T, port int) bool {
	t.Helper()
	alloc := portalloc.Default()
	if err := alloc.Claim("held-check", port); err != nil {
		return errors.Is(err, portalloc.ErrPortReserved)
	}
	if err := alloc.Release("held-check", port); err != nil {
		t.Fatal(err)
	}
	return false
}

func processGone(pid int) bool {
	return errors.Is(unix.Kill(pid, 0), unix.ESRCH)
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading %s: %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestLaunch_ReadyAndStop(t *testing.T) {
	node, err := lightningd.Launch(context.Background(), fakeExe(t), fakeConf(t, lightningdtest.FakeReady))
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	if node.State() != lightningd.StateReady {
		t.Errorf("State() = %s, want ready", node.State())
	}
	info := node.Info()
	if info == nil {
		t.Fatal("Info() = nil after launch")
	}
	if info.Network != lightningd.NetworkRegtest {
		t.Errorf("network = %q, want regtest", info.Network)
	}
	if !info.BindsPort(node.PeerPort()) {
		t.Errorf("binding %v does not include peer port %d", info.Binding, node.PeerPort())
	}
	if node.RPCPort() == node.PeerPort() {
		t.Error("RPC and peer port must differ")
	}
	if !node.OwnsWorkDir() {
		t.Error("auto-created dir should be owned")
	}

	conf, err := os.ReadFile(node.Layout().ConfigPath)
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	if !strings.Contains(string(conf), "addr=127.0.0.1:"+strconv.Itoa(node.PeerPort())) {
		t.Errorf("config missing peer addr:\n%s", conf)
	}

	// The client works independently of readiness polling.
	if _, err := node.Client().GetInfo(context.Background()); err != nil {
		t.Errorf("GetInfo() error = %v", err)
	}

	stdout, err := node.Tail(lightningd.StreamStdout, 1024)
	if err != nil || !strings.Contains(stdout, "starting") {
		t.Errorf("Tail(stdout) = %q, %v", stdout, err)
	}
	if _, err := node.Tail("bogus", 10); !errors.Is(err, lightningd.ErrUnknownStream) {
		t.Errorf("Tail(bogus) error = %v, want ErrUnknownStream", err)
	}

	pid, dir := node.PID(), node.WorkDir()

	if err := node.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if node.State() != lightningd.StateStopped {
		t.Errorf("State() = %s, want stopped", node.State())
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("work dir should be removed, stat err = %v", err)
	}
	if !processGone(pid) {
		t.Errorf("process %d still running after Stop", pid)
	}
	if portHeld(t, node.RPCPort()) || portHeld(t, node.PeerPort()) {
		t.Error("ports should be released after Stop")
	}
}

func TestStop_Idempotent(t *testing.T) {
	node, err := lightningd.Launch(context.Background(), fakeExe(t), fakeConf(t, lightningdtest.FakeReady))
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	if err := node.Stop(); err != nil {
		t.Fatalf("first Stop() error = %v", err)
	}
	if err := node.Stop(); err != nil {
		t.Errorf("second Stop() error = %v, want nil", err)
	}
}

func TestStop_Concurrent(t *testing.T) {
	node, err := lightningd.Launch(context.Background(), fakeExe(t), fakeConf(t, lightningdtest.FakeReady))
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = node.Stop()
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Stop() #%d error = %v", i, err)
		}
	}
}

func TestLaunch_NotFound(t *testing.T) {
	root := shortTempDir(t)
	conf := lightningd.Conf{TempDirRoot: root}

	node, err := lightningd.Launch(context.Background(), filepath.Join(root, "missing"), conf)
	if !errors.Is(err, lightningd.ErrNotFound) {
		t.Fatalf("Launch() error = %v, want ErrNotFound", err)
	}
	if node != nil {
		t.Error("Launch() returned a node on failure")
	}
	if names := dirEntries(t, root); len(names) != 0 {
		t.Errorf("no working directory should be created, found %v", names)
	}
}

func TestLaunch_ExitedEarly(t *testing.T) {
	conf := fakeConf(t, lightningdtest.FakeExit)

	start := time.Now()
	_, err := lightningd.Launch(context.Background(), fakeExe(t), conf)
	if !errors.Is(err, lightningd.ErrExitedEarly) {
		t.Fatalf("Launch() error = %v, want ErrExitedEarly", err)
	}
	if errors.Is(err, lightningd.ErrStartupTimeout) {
		t.Error("early exit must not be reported as a timeout")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("early exit took %v to detect", time.Since(start))
	}

	var exitErr *lightningd.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error %v is not an *ExitError", err)
	}
	if exitErr.ExitCode != lightningdtest.FakeExitCode {
		t.Errorf("ExitCode = %d, want %d", exitErr.ExitCode, lightningdtest.FakeExitCode)
	}
	if !strings.Contains(exitErr.Stderr, "bitcoind") {
		t.Errorf("Stderr = %q, want the daemon's stderr", exitErr.Stderr)
	}

	if names := dirEntries(t, conf.TempDirRoot); len(names) != 0 {
		t.Errorf("owned dir should be removed, found %v", names)
	}
}

func TestLaunch_StartupTimeout(t *testing.T) {
	root := shortTempDir(t)
	pidFile := filepath.Join(root, "stub.pid")
	stub := writeStub(t, root, `echo $$ > "$STUB_PID_FILE"; exec sleep 60`)

	conf := lightningd.Conf{
		Env:            []string{"STUB_PID_FILE=" + pidFile},
		StartupTimeout: 500 * time.Millisecond,
		PollInterval:   50 * time.Millisecond,
	}

	start := time.Now()
	_, err := lightningd.Launch(context.Background(), stub, conf)
	elapsed := time.Since(start)

	if !errors.Is(err, lightningd.ErrStartupTimeout) {
		t.Fatalf("Launch() error = %v, want ErrStartupTimeout", err)
	}
	if elapsed < 500*time.Millisecond {
		t.Errorf("timed out after %v, before the bound", elapsed)
	}
	if elapsed > 10*time.Second {
		t.Errorf("timed out after %v, far beyond the bound", elapsed)
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("stub did not record its pid: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parsing pid: %v", err)
	}
	if !processGone(pid) {
		t.Errorf("stub %d still running after timeout", pid)
	}
}

func TestLaunch_HangIgnoringSIGTERM(t *testing.T) {
	conf := fakeConf(t, lightningdtest.FakeHang)
	conf.StartupTimeout = 300 * time.Millisecond

	_, err := lightningd.Launch(context.Background(), fakeExe(t), conf)
	if !errors.Is(err, lightningd.ErrStartupTimeout) {
		t.Fatalf("Launch() error = %v, want ErrStartupTimeout", err)
	}
	if names := dirEntries(t, conf.TempDirRoot); len(names) != 0 {
		t.Errorf("owned dir should be removed, found %v", names)
	}
}

func TestLaunch_ContextCancelled(t *testing.T) {
	conf := fakeConf(t, lightningdtest.FakeHang)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := lightningd.Launch(ctx, fakeExe(t), conf)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Launch() error = %v, want context.DeadlineExceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("cancellation took %v", time.Since(start))
	}
	if names := dirEntries(t, conf.TempDirRoot); len(names) != 0 {
		t.Errorf("owned dir should be removed, found %v", names)
	}
}

func TestLaunch_Slow(t *testing.T) {
	node, err := lightningd.Launch(context.Background(), fakeExe(t), fakeConf(t, lightningdtest.FakeSlow))
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	defer node.Stop() //nolint:errcheck

	if node.State() != lightningd.StateReady {
		t.Errorf("State() = %s, want ready", node.State())
	}
}

func TestLaunch_ConcurrentDistinctPorts(t *testing.T) {
	const n = 4
	exe := fakeExe(t)

	nodes := make([]*lightningd.Node, n)
	var g errgroup.Group
	for i := range nodes {
		g.Go(func() error {
			node, err := lightningd.Launch(context.Background(), exe, fakeConf(t, lightningdtest.FakeReady))
			nodes[i] = node
			return err
		})
	}
	err := g.Wait()

	t.Cleanup(func() {
		for _, node := range nodes {
			if node != nil {
				node.Stop() //nolint:errcheck
			}
		}
	})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	seen := make(map[int]bool)
	for _, node := range nodes {
		for _, port := range []int{node.RPCPort(), node.PeerPort()} {
			if seen[port] {
				t.Errorf("port %d handed out twice", port)
			}
			seen[port] = true
		}
	}
}

func TestLaunch_CallerWorkDirSurvives(t *testing.T) {
	dir := filepath.Join(shortTempDir(t), "node")

	conf := fakeConf(t, lightningdtest.FakeReady)
	conf.TempDirRoot = ""
	conf.WorkDir = dir

	node, err := lightningd.Launch(context.Background(), fakeExe(t), conf)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if node.OwnsWorkDir() {
		t.Error("caller dir must not be owned")
	}
	if err := node.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "config")); err != nil {
		t.Errorf("caller dir should survive teardown: %v", err)
	}
}

func TestLaunch_BothDirsSpecified(t *testing.T) {
	conf := lightningd.Conf{WorkDir: "/tmp/a", TempDirRoot: "/tmp/b"}
	if _, err := lightningd.Launch(context.Background(), fakeExe(t), conf); !errors.Is(err, lightningd.ErrBothDirsSpecified) {
		t.Errorf("Launch() error = %v, want ErrBothDirsSpecified", err)
	}
}

func TestLaunch_ExplicitPortConflict(t *testing.T) {
	first := lightningdtest.StartFake(t, lightningdtest.FakeReady, fakeConf(t, ""))

	conf := fakeConf(t, lightningdtest.FakeReady)
	conf.RPCPort = first.RPCPort()

	_, err := lightningd.Launch(context.Background(), fakeExe(t), conf)
	if !errors.Is(err, portalloc.ErrPortReserved) {
		t.Fatalf("Launch() error = %v, want ErrPortReserved", err)
	}
	if names := dirEntries(t, conf.TempDirRoot); len(names) != 0 {
		t.Errorf("no working directory should be left, found %v", names)
	}
}

func TestLaunch_PortMismatch(t *testing.T) {
	conf := fakeConf(t, lightningdtest.FakeWrongPort)

	_, err := lightningd.Launch(context.Background(), fakeExe(t), conf)
	if !errors.Is(err, lightningd.ErrPortMismatch) {
		t.Fatalf("Launch() error = %v, want ErrPortMismatch", err)
	}
	if names := dirEntries(t, conf.TempDirRoot); len(names) != 0 {
		t.Errorf("owned dir should be removed, found %v", names)
	}
}

func TestStop_ForcedKill(t *testing.T) {
	conf := fakeConf(t, lightningdtest.FakeStubborn)
	conf.GracefulTimeout = 300 * time.Millisecond

	node, err := lightningd.Launch(context.Background(), fakeExe(t), conf)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	pid, dir := node.PID(), node.WorkDir()

	start := time.Now()
	if err := node.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if time.Since(start) < 300*time.Millisecond {
		t.Errorf("Stop() returned after %v, before the graceful timeout", time.Since(start))
	}
	if !processGone(pid) {
		t.Errorf("process %d survived Stop", pid)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("work dir should be removed, stat err = %v", err)
	}
}

func TestLaunch_NoWait(t *testing.T) {
	conf := fakeConf(t, lightningdtest.FakeSlow)
	conf.NoWait = true

	node, err := lightningd.Launch(context.Background(), fakeExe(t), conf)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	defer node.Stop() //nolint:errcheck

	if node.State() != lightningd.StateSpawned {
		t.Errorf("State() = %s, want spawned", node.State())
	}
	if node.Info() != nil {
		t.Error("Info() should be nil before readiness")
	}

	if err := node.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if node.State() != lightningd.StateReady || node.Info() == nil {
		t.Errorf("State() = %s, Info() = %v", node.State(), node.Info())
	}

	// Waiting again is a no-op.
	if err := node.WaitReady(context.Background()); err != nil {
		t.Errorf("second WaitReady() error = %v", err)
	}
}

func TestLaunch_AttemptsRelaunch(t *testing.T) {
	conf := fakeConf(t, lightningdtest.FakeExit)
	conf.Attempts = 3

	l, err := lightningd.NewLauncher(fakeExe(t), conf)
	if err != nil {
		t.Fatalf("NewLauncher() error = %v", err)
	}

	var mu sync.Mutex
	counts := make(map[lightningd.EventType]int)
	l.SetObserver(lightningd.ObserverFunc(func(e lightningd.Event) {
		mu.Lock()
		counts[e.Type]++
		mu.Unlock()
	}))

	if _, err := l.Launch(context.Background()); !errors.Is(err, lightningd.ErrExitedEarly) {
		t.Fatalf("Launch() error = %v, want ErrExitedEarly", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if counts[lightningd.EventSpawned] != 3 || counts[lightningd.EventExitedEarly] != 3 {
		t.Errorf("events = %v, want 3 spawned and 3 exited_early", counts)
	}
}

func TestLaunch_Events(t *testing.T) {
	l, err := lightningd.NewLauncher(fakeExe(t), fakeConf(t, lightningdtest.FakeReady))
	if err != nil {
		t.Fatalf("NewLauncher() error = %v", err)
	}
	l.SetPortAllocator(portalloc.New())

	var mu sync.Mutex
	var events []lightningd.Event
	l.SetObserver(lightningd.ObserverFunc(func(e lightningd.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}))

	node, err := l.Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if err := node.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	var types []lightningd.EventType
	for _, e := range events {
		types = append(types, e.Type)
		if e.NodeID != node.ID() {
			t.Errorf("event %s has node id %q, want %q", e.Type, e.NodeID, node.ID())
		}
	}
	want := []lightningd.EventType{lightningd.EventSpawned, lightningd.EventReady, lightningd.EventStopped}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestRun_StopsAfterFn(t *testing.T) {
	var dir string
	err := lightningd.Run(context.Background(), fakeExe(t), fakeConf(t, lightningdtest.FakeReady),
		func(ctx context.Context, node *lightningd.Node) error {
			dir = node.WorkDir()
			_, err := node.Client().GetInfo(ctx)
			return err
		})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("work dir should be removed after Run, stat err = %v", err)
	}
}

func TestRun_ReturnsFnError(t *testing.T) {
	sentinel := errors.New("test failed")
	err := lightningd.Run(context.Background(), fakeExe(t), fakeConf(t, lightningdtest.FakeReady),
		func(context.Context, *lightningd.Node) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Errorf("Run() error = %v, want %v", err, sentinel)
	}
}

func TestRun_PanicCleanup(t *testing.T) {
	var dir string
	var pid int

	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Errorf("recovered %v, want boom", r)
			}
		}()
		lightningd.Run(context.Background(), fakeExe(t), fakeConf(t, lightningdtest.FakeReady), //nolint:errcheck
			func(_ context.Context, node *lightningd.Node) error {
				dir, pid = node.WorkDir(), node.PID()
				panic("boom")
			})
	}()

	if dir == "" {
		t.Fatal("fn was not called")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("work dir should be removed after panic, stat err = %v", err)
	}
	if !processGone(pid) {
		t.Errorf("process %d survived the panic", pid)
	}
}

func TestStartFake_RegistersCleanup(t *testing.T) {
	var dir string
	t.Run("inner", func(t *testing.T) {
		node := lightningdtest.StartFake(t, lightningdtest.FakeReady, fakeConf(t, ""))
		dir = node.WorkDir()
	})
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("work dir should be removed by test cleanup, stat err = %v", err)
	}
}

// freePort returns a loopback port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestLaunch_ArgsOverrideListener(t *testing.T) {
	tests := []struct {
		name string
		args func(port int) []string
		// wantPort is whether getinfo should report the port from args.
		wantPort bool
	}{
		{
			name:     "addr",
			args:     func(port int) []string { return []string{"--addr=127.0.0.1:" + strconv.Itoa(port)} },
			wantPort: true,
		},
		{
			name:     "bind-addr",
			args:     func(port int) []string { return []string{"--bind-addr=127.0.0.1:" + strconv.Itoa(port)} },
			wantPort: true,
		},
		{
			name: "offline",
			args: func(int) []string { return []string{"--offline"} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := freePort(t)
			conf := fakeConf(t, lightningdtest.FakeReady)
			conf.Args = tt.args(port)

			node, err := lightningd.Launch(context.Background(), fakeExe(t), conf)
			if err != nil {
				t.Fatalf("Launch() error = %v", err)
			}
			defer node.Stop() //nolint:errcheck

			args := node.Args()
			if last := args[len(args)-1]; last != conf.Args[len(conf.Args)-1] {
				t.Errorf("last arg = %q, want the caller's %q", last, conf.Args[len(conf.Args)-1])
			}

			info := node.Info()
			if tt.wantPort {
				if !info.BindsPort(port) {
					t.Errorf("binding %v does not include %d from args", info.Binding, port)
				}
				if info.BindsPort(node.PeerPort()) {
					t.Errorf("generated peer port %d should have been overridden", node.PeerPort())
				}
			} else if len(info.Binding) != 0 {
				t.Errorf("offline node binds %v", info.Binding)
			}
		})
	}
}

func TestLaunch_ForeignDaemonRejected(t *testing.T) {
	for _, args := range [][]string{nil, {"--offline"}} {
		conf := fakeConf(t, lightningdtest.FakeForeignDir)
		conf.Args = args

		_, err := lightningd.Launch(context.Background(), fakeExe(t), conf)
		if !errors.Is(err, lightningd.ErrPortMismatch) {
			t.Fatalf("Launch(args=%v) error = %v, want ErrPortMismatch", args, err)
		}
		if names := dirEntries(t, conf.TempDirRoot); len(names) != 0 {
			t.Errorf("owned dir should be removed, found %v", names)
		}
	}
}

func TestLaunch_SpawnFailure(t *testing.T) {
	root := shortTempDir(t)
	exe := filepath.Join(shortTempDir(t), "lightningd")
	if err := os.WriteFile(exe, []byte{0x00, 0x13, 0x37, 0xfe, 0xed}, 0o755); err != nil {
		t.Fatal(err)
	}

	node, err := lightningd.Launch(context.Background(), exe, lightningd.Conf{TempDirRoot: root})
	if !errors.Is(err, lightningd.ErrSpawn) {
		t.Fatalf("Launch() error = %v, want ErrSpawn", err)
	}
	if node != nil {
		t.Error("Launch() returned a node on failure")
	}
	if names := dirEntries(t, root); len(names) != 0 {
		t.Errorf("no working directory should be left, found %v", names)
	}
}

func TestStop_RemoveFailureIsShutdownError(t *testing.T) {
	conf := fakeConf(t, lightningdtest.FakeReady)
	root := conf.TempDirRoot

	node, err := lightningd.Launch(context.Background(), fakeExe(t), conf)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	pid := node.PID()

	// Move the working directory away and leave a file where its parent
	// was, so removing the owned directory fails even for root. The stop
	// RPC socket moves too, so Stop falls back to signals.
	moved := filepath.Join(shortTempDir(t), "moved")
	if err := os.Rename(root, moved); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(root, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	err = node.Stop()
	if !errors.Is(err, lightningd.ErrShutdown) {
		t.Fatalf("Stop() error = %v, want ErrShutdown", err)
	}
	if !processGone(pid) {
		t.Errorf("process %d survived Stop", pid)
	}
	if portHeld(t, node.RPCPort()) || portHeld(t, node.PeerPort()) {
		t.Error("ports should be released even when removal fails")
	}

	// The failure is reported once.
	if err := node.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestLaunch_ExitErrorOnlyHasCurrentRun(t *testing.T) {
	dir := filepath.Join(shortTempDir(t), "node")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	stale := "stale output from the previous run"
	if err := os.WriteFile(filepath.Join(dir, "stderr.log"), []byte(stale+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	conf := fakeConf(t, lightningdtest.FakeExit)
	conf.TempDirRoot = ""
	conf.WorkDir = dir

	_, err := lightningd.Launch(context.Background(), fakeExe(t), conf)
	var exitErr *lightningd.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Launch() error = %v, want *ExitError", err)
	}
	if strings.Contains(exitErr.Stderr, stale) {
		t.Errorf("stderr tail includes an earlier run: %q", exitErr.Stderr)
	}
	if !strings.Contains(exitErr.Stderr, "bitcoind") {
		t.Errorf("stderr tail = %q, want this run's output", exitErr.Stderr)
	}
}

func TestLaunch_SnapshotReportsProcess(t *testing.T) {
	node := lightningdtest.StartFake(t, lightningdtest.FakeReady, fakeConf(t, ""))

	snap := node.Snapshot()
	if snap.Process.PID != node.PID() || snap.PID != node.PID() {
		t.Errorf("snapshot pid = %d/%d, want %d", snap.PID, snap.Process.PID, node.PID())
	}
	if snap.Process.Status != "running" {
		t.Errorf("process status = %q, want running", snap.Process.Status)
	}

	if err := node.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	snap = node.Snapshot()
	if snap.Process.Status != "exited" || snap.Process.ExitCode == nil {
		t.Errorf("process after Stop = %+v, want exited with a code", snap.Process)
	}
}

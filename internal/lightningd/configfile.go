package lightningd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nerrad567/lightningd-harness/internal/portalloc"
)

// File names inside the working directory.
const (
	configFileName = "config"
	rpcSocketName  = "lightning-rpc"
	stdoutLogName  = "stdout.log"
	stderrLogName  = "stderr.log"

	// workDirPattern is the MkdirTemp pattern for owned directories.
	workDirPattern = "lightningd-"

	configFileMode = 0o600
	workDirMode    = 0o700
)

// Layout describes the files of one lightning directory.
type Layout struct {
	Dir        string `json:"dir"`
	ConfigPath string `json:"config_path"`
	NetworkDir string `json:"network_dir"`
	RPCSocket  string `json:"rpc_socket"`
	StdoutLog  string `json:"stdout_log"`
	StderrLog  string `json:"stderr_log"`
}

// NewLayout returns the layout rooted at dir.
func NewLayout(dir string) Layout {
	networkDir := filepath.Join(dir, NetworkRegtest)
	return Layout{
		Dir:        dir,
		ConfigPath: filepath.Join(dir, configFileName),
		NetworkDir: networkDir,
		RPCSocket:  filepath.Join(networkDir, rpcSocketName),
		StdoutLog:  filepath.Join(dir, stdoutLogName),
		StderrLog:  filepath.Join(dir, stderrLogName),
	}
}

// prepared is everything needed to spawn one daemon.
type prepared struct {
	layout   Layout
	ownsDir  bool
	rpcPort  int
	peerPort int
	args     []string

	// customListen is set when the caller's Args replace the peer listener.
	customListen bool

	alloc *portalloc.Allocator
	owner string
}

// releasePorts returns the reserved ports to the allocator.
func (p *prepared) releasePorts() error {
	return p.alloc.Release(p.owner, p.rpcPort, p.peerPort)
}

// discard removes an owned working directory and releases the ports.
// It must only be called once no process uses the directory.
func (p *prepared) discard() error {
	var errs []error
	if p.ownsDir {
		if err := os.RemoveAll(p.layout.Dir); err != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", p.layout.Dir, err))
		}
	}
	if err := p.releasePorts(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// build reserves ports, prepares the working directory and writes the
// config file. On failure nothing is left behind.
func build(conf *Conf, alloc *portalloc.Allocator, owner string) (*prepared, error) {
	rpcPort, peerPort, err := assignPorts(conf, alloc, owner)
	if err != nil {
		return nil, err
	}

	p := &prepared{
		rpcPort:  rpcPort,
		peerPort: peerPort,
		alloc:    alloc,
		owner:    owner,
	}

	dir, owned, err := prepareWorkDir(conf)
	if err != nil {
		return nil, errors.Join(err, p.releasePorts())
	}
	p.layout = NewLayout(dir)
	p.ownsDir = owned

	if err := writeConfig(p.layout.ConfigPath, renderConfig(conf, rpcPort, peerPort)); err != nil {
		return nil, errors.Join(err, p.discard())
	}

	p.args = BuildArgs(p.layout, conf.Args)
	p.customListen = overridesListen(conf.Args)
	return p, nil
}

// assignPorts claims explicit ports and reserves free ones for the rest.
func assignPorts(conf *Conf, alloc *portalloc.Allocator, owner string) (rpcPort, peerPort int, err error) {
	rpcPort, peerPort = conf.RPCPort, conf.PeerPort

	var claimed []int
	for _, port := range []int{rpcPort, peerPort} {
		if port == 0 {
			continue
		}
		if err := alloc.Claim(owner, port); err != nil {
			return 0, 0, errors.Join(fmt.Errorf("%w: %w", ErrConfigWrite, err), alloc.Release(owner, claimed...))
		}
		claimed = append(claimed, port)
	}

	missing := 0
	if rpcPort == 0 {
		missing++
	}
	if peerPort == 0 {
		missing++
	}

	free, err := alloc.Reserve(owner, missing)
	if err != nil {
		return 0, 0, errors.Join(fmt.Errorf("%w: choosing ports: %w", ErrConfigWrite, err), alloc.Release(owner, claimed...))
	}
	if rpcPort == 0 {
		rpcPort, free = free[0], free[1:]
	}
	if peerPort == 0 {
		peerPort = free[0]
	}
	return rpcPort, peerPort, nil
}

// prepareWorkDir returns the lightning directory and whether it is owned.
// A caller-supplied directory is created if missing and must be writable.
func prepareWorkDir(conf *Conf) (string, bool, error) {
	if conf.WorkDir != "" {
		dir, err := filepath.Abs(conf.WorkDir)
		if err != nil {
			return "", false, fmt.Errorf("%w: resolving %s: %w", ErrConfigWrite, conf.WorkDir, err)
		}
		if err := os.MkdirAll(dir, workDirMode); err != nil {
			return "", false, fmt.Errorf("%w: creating %s: %w", ErrConfigWrite, dir, err)
		}
		if err := checkWritable(dir); err != nil {
			return "", false, fmt.Errorf("%w: %w", ErrConfigWrite, err)
		}
		return dir, false, nil
	}

	root := conf.tempDirRoot()
	if root != "" {
		if err := os.MkdirAll(root, workDirMode); err != nil {
			return "", false, fmt.Errorf("%w: creating %s: %w", ErrConfigWrite, root, err)
		}
	}
	dir, err := os.MkdirTemp(root, workDirPattern)
	if err != nil {
		return "", false, fmt.Errorf("%w: creating temp dir: %w", ErrConfigWrite, err)
	}
	return dir, true, nil
}

// checkWritable tests dir by creating and removing a file.
func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// renderConfig produces the lightningd config file contents.
func renderConfig(conf *Conf, rpcPort, peerPort int) []byte {
	var b strings.Builder
	line := func(key, value string) {
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(value)
		b.WriteByte('\n')
	}

	line("network", NetworkRegtest)
	line("addr", "127.0.0.1:"+strconv.Itoa(peerPort))
	line("grpc-port", strconv.Itoa(rpcPort))
	line("log-level", conf.LogLevel)
	if conf.Alias != "" {
		line("alias", conf.Alias)
	}
	if bc := conf.Bitcoind; bc != nil {
		if bc.RPCConnect != "" {
			line("bitcoin-rpcconnect", bc.RPCConnect)
		}
		if bc.RPCPort != 0 {
			line("bitcoin-rpcport", strconv.Itoa(bc.RPCPort))
		}
		if bc.RPCUser != "" {
			line("bitcoin-rpcuser", bc.RPCUser)
		}
		if bc.RPCPassword != "" {
			line("bitcoin-rpcpassword", bc.RPCPassword)
		}
	}
	return []byte(b.String())
}

// writeConfig writes data to path via a temp file and rename.
func writeConfig(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigWrite, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(configFileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %w", ErrConfigWrite, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %w", ErrConfigWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %w", ErrConfigWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigWrite, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigWrite, err)
	}
	return nil
}

// BuildArgs returns the daemon arguments for layout.
// The generated arguments come first so that extra ones override them.
func BuildArgs(layout Layout, extra []string) []string {
	args := []string{
		"--lightning-dir=" + layout.Dir,
		"--conf=" + layout.ConfigPath,
		"--network=" + NetworkRegtest,
	}
	return append(args, extra...)
}

// listenOptions change what lightningd binds for peers.
var listenOptions = map[string]bool{
	"addr":      true,
	"bind-addr": true,
	"offline":   true,
}

// overridesListen reports whether args replace the generated peer listener,
// in which case the configured peer port is not expected in getinfo.
func overridesListen(args []string) bool {
	for _, arg := range args {
		name, ok := strings.CutPrefix(arg, "--")
		if !ok {
			continue
		}
		name, _, _ = strings.Cut(name, "=")
		if listenOptions[name] {
			return true
		}
	}
	return false
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/lightningd-harness/internal/api"
	"github.com/nerrad567/lightningd-harness/internal/infrastructure/config"
	"github.com/nerrad567/lightningd-harness/internal/infrastructure/influxdb"
	"github.com/nerrad567/lightningd-harness/internal/infrastructure/logging"
	"github.com/nerrad567/lightningd-harness/internal/infrastructure/mqtt"
	"github.com/nerrad567/lightningd-harness/internal/lightningd"
	"github.com/nerrad567/lightningd-harness/internal/telemetry"
)

// exitTailBytes is how much stderr is quoted when the daemon dies.
const exitTailBytes = 2048

// CommandStop is the only command accepted on a node's command topic.
const CommandStop = "stop"

// nodeCommand is the payload of <prefix>/node/<id>/command.
type nodeCommand struct {
	Command string `json:"command"`
}

// parseNodeCommand accepts {"command":"stop"} or a bare "stop".
func parseNodeCommand(payload []byte) (string, error) {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") {
		var cmd nodeCommand
		if err := json.Unmarshal([]byte(trimmed), &cmd); err != nil {
			return "", fmt.Errorf("decoding command: %w", err)
		}
		trimmed = cmd.Command
	}
	if trimmed != CommandStop {
		return "", fmt.Errorf("unknown command %q", trimmed)
	}
	return trimmed, nil
}

// runFlags override the lightningd and api sections of the config file.
type runFlags struct {
	fetch    bool
	workDir  string
	rpcPort  int
	peerPort int
	api      bool
	apiPort  int
}

func (f runFlags) apply(cfg *config.Config) {
	if f.workDir != "" {
		cfg.Lightningd.WorkDir = f.workDir
	}
	if f.rpcPort != 0 {
		cfg.Lightningd.RPCPort = f.rpcPort
	}
	if f.peerPort != 0 {
		cfg.Lightningd.PeerPort = f.peerPort
	}
	if f.api {
		cfg.API.Enabled = true
	}
	if f.apiPort != 0 {
		cfg.API.Port = f.apiPort
	}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch a lightningd node and keep it running",
		Long: "Launch a regtest lightningd, print its details as JSON and keep it up\n" +
			"until interrupted, stopped over the control API, or stopped with a\n" +
			"\"stop\" command on its MQTT command topic. The node's working directory\n" +
			"and ports are released on the way out.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			local := *cfg
			flags.apply(&local)
			if err := local.Validate(); err != nil {
				return err
			}

			r := &runner{
				cfg:       &local,
				log:       ctx.logger(),
				out:       cmd.OutOrStdout(),
				fetchExe:  flags.fetch,
				stopCmdCh: make(chan string, 1),
			}
			return r.run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&flags.fetch, "fetch", false, "Fetch the configured release first and launch it")
	cmd.Flags().StringVar(&flags.workDir, "workdir", "", "Use this lightning directory (kept after exit)")
	cmd.Flags().IntVar(&flags.rpcPort, "rpc-port", 0, "gRPC port (default: a free port)")
	cmd.Flags().IntVar(&flags.peerPort, "peer-port", 0, "Peer port (default: a free port)")
	cmd.Flags().BoolVar(&flags.api, "api", false, "Serve the control API")
	cmd.Flags().IntVar(&flags.apiPort, "api-port", 0, "Control API port")

	return cmd
}

// runner holds the integrations of one `lnharness run`.
type runner struct {
	cfg      *config.Config
	log      *logging.Logger
	out      io.Writer
	fetchExe bool

	// stopCmdCh receives the source of a remote stop request.
	stopCmdCh chan string
}

// run is the command body, separated out so deferred cleanup runs in a
// fixed order: node first, then exporters, then connections.
func (r *runner) run(ctx context.Context) error {
	exe, err := r.executable(ctx)
	if err != nil {
		return err
	}

	launcher, err := lightningd.NewLauncher(exe, r.cfg.Lightningd.Conf)
	if err != nil {
		return err
	}
	launcher.SetLogger(r.log)

	var observers telemetry.Fanout
	checks := make(map[string]api.HealthChecker)

	var mqttClient *mqtt.Client
	if r.cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(r.cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			r.log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				r.log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(r.log)
		r.log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", r.cfg.MQTT.Broker.Host, r.cfg.MQTT.Broker.Port),
			"client_id", r.cfg.MQTT.Broker.ClientID,
		)

		pub := telemetry.NewMQTTObserver(mqttClient)
		pub.SetLogger(r.log)
		defer pub.Close()
		mqttClient.SetOnConnect(func() {
			r.log.Debug("MQTT (re)connected, publishing retained node state")
			pub.Republish()
		})
		mqttClient.SetOnDisconnect(func(err error) {
			r.log.Warn("MQTT disconnected, lifecycle events will be lost until it returns", "error", err)
		})
		observers = append(observers, pub)
		checks["mqtt"] = mqttClient
	}

	if r.cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, r.cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			r.log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				r.log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			r.log.Error("InfluxDB write error", "error", err)
		})
		r.log.Info("InfluxDB connected", "url", r.cfg.InfluxDB.URL, "bucket", r.cfg.InfluxDB.Bucket)

		points := telemetry.NewInfluxObserver(influxClient)
		points.SetLogger(r.log)
		defer points.Close()
		observers = append(observers, points)
		checks["influxdb"] = influxClient
	}

	launcher.SetObserver(observers)

	node, err := launcher.Launch(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := node.Stop(); stopErr != nil {
			r.log.Error("error stopping lightningd", "node_id", node.ID(), "error", stopErr)
		}
	}()

	if err := writeJSONOutput(r.out, node.Snapshot()); err != nil {
		return err
	}

	if mqttClient != nil {
		topic := mqttClient.Topics().NodeCommand(node.ID())
		if err := mqttClient.Subscribe(topic, mqttClient.QoS(), r.handleCommand); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		r.log.Info("accepting remote commands", "topic", topic)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if r.cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:  r.cfg.API,
			Logger:  r.log,
			Node:    stoppableNode{Node: node, requested: r.stopCmdCh},
			Version: version,
			Checks:  checks,
		})
		if err != nil {
			return err
		}
		if err := srv.Start(gctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			return srv.Close()
		})
	}

	g.Go(func() error {
		defer cancel()
		return r.supervise(gctx, node)
	})

	return g.Wait()
}

// executable fetches the release when --fetch is given, and otherwise
// resolves the executable as exe-path does.
func (r *runner) executable(ctx context.Context) (string, error) {
	if !r.fetchExe {
		return resolveExe(r.cfg)
	}
	artifact, err := runFetch(ctx, r.cfg, r.log)
	if err != nil {
		return "", err
	}
	return artifact.ExePath, nil
}

// supervise blocks until the run should end. Interruption, a remote stop
// and a stop through the API end it cleanly; the daemon dying on its own
// is an error.
func (r *runner) supervise(ctx context.Context, node *lightningd.Node) error {
	select {
	case <-ctx.Done():
		r.log.Info("shutting down", "node_id", node.ID())
		return nil
	case source := <-r.stopCmdCh:
		r.log.Info("stop requested", "node_id", node.ID(), "via", source)
		return nil
	case <-node.Done():
		select {
		case source := <-r.stopCmdCh:
			r.log.Info("stop requested", "node_id", node.ID(), "via", source)
			return nil
		default:
		}
		if node.State() == lightningd.StateStopped {
			return nil
		}
		stderr, _ := node.Tail(lightningd.StreamStderr, exitTailBytes)
		return fmt.Errorf("%w: pid %d: %s", errNodeExited, node.PID(), strings.TrimSpace(stderr))
	}
}

var errNodeExited = errors.New("lightningd exited unexpectedly")

// handleCommand receives messages on the node's command topic.
func (r *runner) handleCommand(_ string, payload []byte) error {
	cmd, err := parseNodeCommand(payload)
	if err != nil {
		return err
	}
	select {
	case r.stopCmdCh <- "mqtt " + cmd:
	default:
	}
	return nil
}

// stoppableNode tells the supervisor about a stop requested through the
// API before the daemon goes away, so the exit is not taken for a crash.
type stoppableNode struct {
	*lightningd.Node
	requested chan<- string
}

func (n stoppableNode) Stop() error {
	select {
	case n.requested <- "api":
	default:
	}
	return n.Node.Stop()
}

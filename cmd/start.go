package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/liveprobe/agent/internal/config"
	"github.com/liveprobe/agent/internal/controller"
	"github.com/liveprobe/agent/internal/debugapi"
	"github.com/liveprobe/agent/internal/debuglet"
	"github.com/liveprobe/agent/internal/logging"
	"github.com/liveprobe/agent/internal/lowlevel"
	"github.com/liveprobe/agent/internal/lowlevel/gdbmi"
	"github.com/liveprobe/agent/internal/lowlevel/inspector"
	"github.com/liveprobe/agent/internal/scanner"
	"github.com/liveprobe/agent/internal/sourcemap"
	"github.com/liveprobe/agent/internal/types"
)

var (
	sourceExtensionFlag string
	mapExtensionFlag    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Register with the Controller and start debugging the target process",
	Run:   runStart,
}

func init() {
	startCmd.Flags().StringVar(&sourceExtensionFlag, "source-extension", ".js", "source file suffix the scanner matches")
	startCmd.Flags().StringVar(&mapExtensionFlag, "map-extension", ".map", "source map file suffix the scanner matches")
	RootCmd.AddCommand(startCmd)
}

func runStart(_ *cobra.Command, _ []string) {
	cfg := config.Load(v)

	if cfg.Uniquifier == "" {
		cfg.Uniquifier = uuid.NewString()
	}

	sourceRe := regexp.MustCompile(regexp.QuoteMeta(sourceExtensionFlag) + "$")
	mapRe := regexp.MustCompile(regexp.QuoteMeta(mapExtensionFlag) + "$")

	sc, err := scanner.New(cfg.WorkingDirectory, sourceRe, mapRe)
	if err != nil {
		logging.Errorln("liveprobe: scanning working directory: ", err)
		os.Exit(1)
	}

	mapFiles := sc.SelectFiles(mapRe, cfg.WorkingDirectory)
	sm, err := sourcemap.New(mapFiles)
	if err != nil {
		logging.Errorln("liveprobe: loading source maps: ", err)
		os.Exit(1)
	}

	dbg, err := buildDebugger(cfg)
	if err != nil {
		logging.Errorln("liveprobe: starting low-level debugger: ", err)
		os.Exit(1)
	}

	api := debugapi.New(cfg, sc, sm, dbg, moduleWrapPrefixLength(context.Background(), dbg))

	client := controller.New(cfg.ControllerURL, nil)

	debuggee := &types.Debuggee{
		Project:      cfg.Project,
		Uniquifier:   cfg.Uniquifier,
		Description:  cfg.Description,
		AgentVersion: cfg.AgentVersion,
	}

	dl := debuglet.New(cfg, client, api, debuggee, nil)

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		logging.Infoln("liveprobe: shutting down")
		api.Disconnect()
		cancel()
	}()

	if err := dl.Run(ctx); err != nil && ctx.Err() == nil {
		logging.Errorln("liveprobe: control loop stopped: ", err)
		os.Exit(1)
	}
}

func buildDebugger(cfg *config.Config) (lowlevel.Debugger, error) {
	switch cfg.LowLevelBackend {
	case "inspector":
		url := v.GetString("inspector-url")
		return inspector.Dial(context.Background(), url)
	case "gdbmi", "":
		return gdbmi.New(v.GetString("gdb-executable"), v.GetString("gdb-target"), v.GetString("gdb-remote-addr"))
	default:
		return nil, fmt.Errorf("unknown low-level-backend %q", cfg.LowLevelBackend)
	}
}

// moduleWrapPrefixLength asks dbg for the host runtime's module-wrapper
// prefix length, if it implements lowlevel.ModuleWrapPrefixLengther.
// A backend that can't answer (no capability, or the runtime doesn't
// wrap modules) contributes no shift.
func moduleWrapPrefixLength(ctx context.Context, dbg lowlevel.Debugger) int {
	q, ok := dbg.(lowlevel.ModuleWrapPrefixLengther)
	if !ok {
		return 0
	}
	n, err := q.ModuleWrapPrefixLength(ctx)
	if err != nil {
		logging.Warnln("liveprobe: querying module wrap prefix length: ", err)
		return 0
	}
	return n
}

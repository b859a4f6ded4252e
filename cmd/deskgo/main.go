package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/cjeanneret/DeskGo/internal/config"
	"github.com/cjeanneret/DeskGo/internal/debug"
	"github.com/cjeanneret/DeskGo/internal/hw/desk"
	"github.com/cjeanneret/DeskGo/internal/hw/usb"
	"github.com/cjeanneret/DeskGo/internal/logic/geometry"
	"github.com/cjeanneret/DeskGo/internal/logic/motion"
	"github.com/cjeanneret/DeskGo/internal/protocol"
	"github.com/cjeanneret/DeskGo/internal/web"
)

const usage = `usage: deskgo [-config path] [-mock] [-v...] <command> [args]

commands:
  status                 print the current height
  move <height>          move to a raw height
  move -cm <centimeters> move to a height in centimeters
  up | down | stop       start moving up, down, or stop
  shell                  interactive shell
  serve [-addr :8080]    HTTP API with a live status stream
`

// errNotReached is returned when a move settles outside the tolerance.
var errNotReached = errors.New("command failed: target not reached")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		debug.Error(err)
		os.Exit(1)
	}
}

// options is the parsed command line.
type options struct {
	configPath string
	mock       bool
	verbosity  int
	command    string
	args       []string
}

func run(argv []string, out io.Writer) error {
	opts, err := parseArgs(argv)
	if err != nil {
		return err
	}

	// Load configuration
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	if opts.mock {
		cfg.Device.Mock = true
	}
	if opts.verbosity > 0 {
		cfg.Defaults.DebugLevel = opts.verbosity
	}

	// Initialize debug system
	debug.SetFormat(cfg.Defaults.LogFormat)
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", opts.configPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Mock USB", cfg.Device.Mock)

	// Arguments are checked before the device is claimed.
	var target uint16
	var addr string
	switch opts.command {
	case "move":
		if target, err = parseMoveArgs(opts.args); err != nil {
			return err
		}
	case "serve":
		if addr, err = parseServeArgs(opts.args, cfg.Web.Addr); err != nil {
			return err
		}
	}

	var broadcaster *web.StatusBroadcaster
	if opts.command == "serve" {
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stderr, web.BroadcastWriter(broadcaster)))
	}

	debug.Step(1, "Opening desk")
	ctrl, session, err := openDesk(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			debug.Error(fmt.Errorf("closing desk failed: %w", err))
		}
	}()

	debug.Step(2, "Running "+opts.command)
	switch opts.command {
	case "status":
		return printHeight(out, ctrl)
	case "move":
		return moveTo(ctrl, target)
	case "up":
		return single(ctrl.MoveUp)
	case "down":
		return single(ctrl.MoveDown)
	case "stop":
		return single(ctrl.Stop)
	case "shell":
		newShell(ctrl).Run()
		return nil
	case "serve":
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		if err := web.NewServer(addr, broadcaster, ctrl).Run(ctx); err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown command %q", opts.command)
}

// openDesk claims the device, runs the handshake and builds the controller.
func openDesk(cfg *config.Config) (*motion.Controller, *desk.Session, error) {
	t, err := usb.NewTransport(usb.Config{
		VendorID:  cfg.Device.VendorID,
		ProductID: cfg.Device.ProductID,
		Timeout:   cfg.Timeout(),
		Mock:      cfg.Device.Mock,
		Simulator: usb.SimulatorConfig{
			Speed:       cfg.Simulator.Speed,
			MinPosition: cfg.Simulator.MinPosition,
			MaxPosition: cfg.Simulator.MaxPosition,
			Start:       cfg.Simulator.Start,
			Ready:       cfg.Simulator.Ready,
		},
	})
	if err != nil {
		return nil, nil, protocol.Transport("open device", err)
	}

	session, err := desk.Open(t, desk.Config{
		ModeSettle: cfg.ModeSettle(),
		InitSettle: cfg.InitSettle(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init desk failed: %w", err)
	}

	mcfg := motion.Config{
		MaxRetry:    cfg.Motion.MaxRetry,
		Epsilon:     cfg.Motion.Epsilon,
		SettleDelay: cfg.SettleDelay(),
	}
	debug.PrintStruct("Motion config", mcfg)
	return motion.NewController(session, mcfg), session, nil
}

func printHeight(out io.Writer, ctrl *motion.Controller) error {
	raw, cm, err := ctrl.Height()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current height is: %d / %.2fcm\n", raw, cm)
	return nil
}

func moveTo(ctrl *motion.Controller, target uint16) error {
	reached, err := ctrl.Move(target)
	if err != nil {
		return err
	}
	if !reached {
		return errNotReached
	}
	debug.Info("Command executed successfully")
	return nil
}

func single(fn func() (bool, error)) error {
	ok, err := fn()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("command not acknowledged by the desk")
	}
	return nil
}

// parseArgs parses the global flags and splits off the command.
func parseArgs(argv []string) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("deskgo", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.configPath, "config", "", "path to config file (optional)")
	fs.BoolVar(&opts.mock, "mock", false, "drive the built-in desk simulator instead of USB")
	fs.Var((*verbosityFlag)(&opts.verbosity), "v", "be verbose; repeat for more (-v -v or -vv)")

	if err := fs.Parse(expandVerbose(argv)); err != nil {
		return nil, fmt.Errorf("%w\n%s", err, usage)
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return nil, errors.New("missing command\n" + usage)
	}
	opts.command, opts.args = rest[0], rest[1:]

	if !commands[opts.command] {
		return nil, fmt.Errorf("unknown command %q\n%s", opts.command, usage)
	}
	if opts.command != "move" && opts.command != "serve" && len(opts.args) > 0 {
		return nil, fmt.Errorf("%s takes no arguments", opts.command)
	}
	return opts, nil
}

// commands lists the subcommands; global flags stop at the first of them.
var commands = map[string]bool{
	"status": true, "move": true, "up": true, "down": true,
	"stop": true, "shell": true, "serve": true,
}

// expandVerbose rewrites "-vvv" as three "-v" flags. Arguments from the
// command on are left alone.
func expandVerbose(argv []string) []string {
	out := make([]string, 0, len(argv))
	for i, a := range argv {
		if commands[a] || a == "--" {
			return append(out, argv[i:]...)
		}
		if len(a) > 2 && a[0] == '-' && strings.Trim(a[1:], "v") == "" {
			for range a[1:] {
				out = append(out, "-v")
			}
			continue
		}
		out = append(out, a)
	}
	return out
}

// verbosityFlag counts occurrences of -v.
type verbosityFlag int

func (v *verbosityFlag) String() string {
	if v == nil {
		return "0"
	}
	return strconv.Itoa(int(*v))
}

func (v *verbosityFlag) Set(s string) error {
	on, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if on {
		*v++
	}
	return nil
}

func (v *verbosityFlag) IsBoolFlag() bool { return true }

// parseMoveArgs reads "<height>" or "-cm <centimeters>".
func parseMoveArgs(args []string) (uint16, error) {
	fs := flag.NewFlagSet("move", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cm := fs.Float64("cm", 0, "target height in centimeters")
	if err := fs.Parse(args); err != nil {
		return 0, fmt.Errorf("move: %w", err)
	}

	cmSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "cm" {
			cmSet = true
		}
	})

	switch {
	case cmSet && fs.NArg() == 0:
		return geometry.RawFromCentimeters(*cm)
	case !cmSet && fs.NArg() == 1:
		return parseHeight(fs.Arg(0))
	}
	return 0, errors.New("usage: move <height> | move -cm <centimeters>")
}

// parseHeight parses a raw height. Sentinel codes have their own commands.
func parseHeight(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid height %q: %w", s, err)
	}
	if protocol.IsSentinel(uint16(v)) {
		return 0, fmt.Errorf("height %d is a motion code; use up, down or stop", v)
	}
	if v > uint64(protocol.MoveEnd) {
		return 0, fmt.Errorf("height %d is out of range", v)
	}
	return uint16(v), nil
}

func parseServeArgs(args []string, defaultAddr string) (string, error) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	addr := fs.String("addr", defaultAddr, "listen address")
	if err := fs.Parse(args); err != nil {
		return "", fmt.Errorf("serve: %w", err)
	}
	if fs.NArg() > 0 {
		return "", fmt.Errorf("serve: unexpected argument %q", fs.Arg(0))
	}
	return *addr, nil
}

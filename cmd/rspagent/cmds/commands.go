package cmds

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/patmos-dbg/rspagent/pkg/config"
	"github.com/patmos-dbg/rspagent/pkg/link"
	"github.com/patmos-dbg/rspagent/pkg/logflags"
	"github.com/patmos-dbg/rspagent/pkg/version"
)

const (
	defaultListen    = "127.0.0.1:3333"
	defaultBaud      = 115200
	defaultImageBase = 0x20000
	defaultDialWait  = 10 * time.Second
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// addr is the address the serve command listens on.
	addr string
	// watch reloads the image between sessions when it changes on disk.
	watch bool
	// baud is the serial link speed.
	baud int
	// loadAddr is where images are placed in target memory.
	loadAddr addrValue
	// entry is the address of the first trap, zero means loadAddr.
	entry addrValue
	// memFile, when set, is mapped and used as target memory.
	memFile string
	// memSize is the number of bytes of memFile to map.
	memSize int
	// memOffset is the file offset of the mapping.
	memOffset int64
	// verbose makes the version command print build information.
	verbose bool
	// saveConfig makes the config command write the config file.
	saveConfig bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config

	saveConfigFile = config.SaveConfig
)

const rspagentCommandLongDesc = `rspagent is the in-target half of a remote debugger.

It speaks the GDB remote serial protocol to a host debugger over a TCP socket
or a serial line. Every time the target executes a trap instruction the agent
reports the stop and serves register reads, memory reads and software
breakpoints until the host continues or detaches.

The target is a word addressed, big endian processor whose instructions may
be issued in two word bundles. Breakpoints requested in the second word of a
bundle are moved past it.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()
	return newCommand(conf, docCall)
}

func newCommand(c *config.Config, docCall bool) *cobra.Command {
	conf = c
	listenDefault := defaultListen
	if conf.Listen != "" {
		listenDefault = conf.Listen
	}
	baudDefault := defaultBaud
	if conf.SerialBaud > 0 {
		baudDefault = conf.SerialBaud
	}
	loadAddr = defaultImageBase
	if conf.ImageBase != 0 {
		loadAddr = addrValue(conf.ImageBase)
	}
	entry = 0

	// Main rspagent root command.
	rootCommand = &cobra.Command{
		Use:          "rspagent",
		Short:        "rspagent is a GDB remote debugging agent.",
		Long:         rspagentCommandLongDesc,
		SilenceUsage: true,
	}
	if docCall {
		rootCommand.DisableAutoGenTag = true
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable agent logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'rspagent help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'rspagent help log').")
	rootCommand.PersistentFlags().Var(&loadAddr, "load-addr", "Address the image is loaded at.")
	rootCommand.PersistentFlags().Var(&entry, "entry", "Address of the first trap executed by the image (default: load address).")
	rootCommand.PersistentFlags().StringVar(&memFile, "mem-file", "", "Map this file and use it as target memory instead of private RAM.")
	rootCommand.PersistentFlags().IntVar(&memSize, "mem-size", 1<<20, "Number of bytes of --mem-file to map.")
	rootCommand.PersistentFlags().Int64Var(&memOffset, "mem-offset", 0, "File offset of the --mem-file mapping.")

	// 'serve' subcommand.
	serveCommand := &cobra.Command{
		Use:   "serve <path/to/image>",
		Short: "Run an image and wait for host debuggers on a TCP port.",
		Long: `Run an image and wait for host debuggers on a TCP port.

Each accepted connection starts a new debug session on a freshly loaded copy
of the image. Sessions are served one at a time.

With --watch the image is reloaded whenever it changes on disk, the new
contents are used starting with the next session.`,
		Args: cobra.ExactArgs(1),
		RunE: serveCmd,
	}
	serveCommand.Flags().StringVarP(&addr, "listen", "l", listenDefault, "Address to accept host debuggers on.")
	serveCommand.Flags().BoolVar(&watch, "watch", false, "Reload the image when it changes.")
	rootCommand.AddCommand(serveCommand)

	// 'dial' subcommand.
	dialCommand := &cobra.Command{
		Use:   "dial <addr> <path/to/image>",
		Short: "Run an image and connect to a waiting host debugger.",
		Long: `Run an image and connect to a host debugger that is waiting on addr.

This is useful when the host side listens, for example behind a terminal
server or with socat.`,
		Args: cobra.ExactArgs(2),
		RunE: dialCmd,
	}
	rootCommand.AddCommand(dialCommand)

	// 'serial' subcommand.
	serialCommand := &cobra.Command{
		Use:   "serial <device> <path/to/image>",
		Short: "Run an image and debug it over a serial line.",
		Long: `Run an image and debug it over a serial line.

The device is opened in raw mode at --baud.`,
		Args: cobra.ExactArgs(2),
		RunE: serialCmd,
	}
	serialCommand.Flags().IntVar(&baud, "baud", baudDefault, "Serial line speed.")
	rootCommand.AddCommand(serialCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rspagent\n%s\n", version.RSPAgentVersion)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "Build Details: %s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	// 'config' subcommand.
	configCommand := &cobra.Command{
		Use:   "config",
		Short: "Prints the effective configuration.",
		Long: `Prints the configuration read from ~/.rspagent/config.yml, with --load-addr
applied when given.

With --save the result replaces the config file, dropping its comments.`,
		Args: cobra.NoArgs,
		RunE: configCmd,
	}
	configCommand.Flags().BoolVar(&saveConfig, "save", false, "Write the configuration back to the config file.")
	rootCommand.AddCommand(configCommand)

	// 'log' help topic.
	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:

	agent		Log packets served and breakpoints changed (default)
	rspwire		Log every byte of the remote serial protocol
	target		Log traps taken by the target
	breakpoints	Log breakpoint table maintenance

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
This option will also redirect the "server listening at" message.`,
	})

	return rootCommand
}

func setupLogging() error {
	if logOutput == "" && conf.LogOutput != "" {
		logOutput = conf.LogOutput
	}
	return logflags.Setup(log, logOutput, logDest)
}

func configCmd(cmd *cobra.Command, args []string) error {
	c := *conf
	if cmd.Flags().Changed("load-addr") {
		c.ImageBase = uint32(loadAddr)
	}
	if saveConfig {
		return saveConfigFile(&c)
	}
	return config.Encode(cmd.OutOrStdout(), &c)
}

func serveCmd(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		return err
	}
	defer logflags.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	img, err := openImage(args[0])
	if err != nil {
		return err
	}
	if watch {
		if err := img.Watch(ctx); err != nil {
			return err
		}
	}
	defer img.Close()

	s, err := newServer(img)
	if err != nil {
		return err
	}
	defer s.Close()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("couldn't start listener: %w", err)
	}
	if logflags.Agent() {
		logflags.AgentLogger().Infof("server listening at: %s", listener.Addr())
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "server listening at: %s\n", listener.Addr())
	}
	return s.Serve(ctx, listener)
}

func dialCmd(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		return err
	}
	defer logflags.Close()

	img, err := openImage(args[1])
	if err != nil {
		return err
	}
	defer img.Close()
	s, err := newServer(img)
	if err != nil {
		return err
	}
	defer s.Close()

	conn, err := link.Dial(args[0], defaultDialWait)
	if err != nil {
		return err
	}
	defer conn.Close()
	return s.Session(conn)
}

func serialCmd(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		return err
	}
	defer logflags.Close()

	if baud <= 0 {
		return errors.New("--baud must be positive")
	}
	img, err := openImage(args[1])
	if err != nil {
		return err
	}
	defer img.Close()
	s, err := newServer(img)
	if err != nil {
		return err
	}
	defer s.Close()

	conn, err := link.OpenSerial(args[0], baud)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", args[0], err)
	}
	defer conn.Close()
	return s.Session(conn)
}

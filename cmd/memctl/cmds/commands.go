package cmds

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/memctl/memctl/cmd/memctl/cmds/helphelpers"
	"github.com/memctl/memctl/pkg/config"
	"github.com/memctl/memctl/pkg/logflags"
	"github.com/memctl/memctl/pkg/terminal"
	"github.com/memctl/memctl/pkg/version"
	"github.com/memctl/memctl/service"
	"github.com/memctl/memctl/service/rpc2"
	"github.com/memctl/memctl/service/rpccommon"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// headless is whether to run without terminal.
	headless bool
	// acceptMulti allows multiple clients to connect to the same server
	acceptMulti bool
	// addr is the server listen address.
	addr string
	// initFile is the path to initialization file.
	initFile string
	// freezeInterval is the delay between two writes of a frozen value.
	freezeInterval time.Duration
	// freezeThreshold is the number of consecutive failed writes after
	// which a value is unfrozen.
	freezeThreshold int
	// verbose prints the build info with the version.
	verbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const memctlCommandLongDesc = `memctl inspects and edits the memory of a running process.

Values are addressed either by absolute address or by pointer path, a list
of offsets starting at a module of the target, for example:

	game.exe!0x10f4d0,0x18,0x2a0

The first offset is added to the base address of the module, every
following offset is added to the pointer read at the previous address.
Values reached through a pointer path can be frozen, memctl then keeps
rewriting them until they are unfrozen.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Config setup and load.
	var err error
	conf, err = config.LoadConfig()
	if err != nil && !docCall {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}

	// Main memctl root command.
	rootCommand = &cobra.Command{
		Use:   "memctl",
		Short: "memctl reads, writes and freezes the memory of running processes.",
		Long:  memctlCommandLongDesc,
	}

	rootCommand.PersistentFlags().StringVarP(&addr, "listen", "l", "127.0.0.1:0", "Server listen address.")

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable server logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'memctl help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'memctl help log').")

	rootCommand.PersistentFlags().BoolVarP(&headless, "headless", "", false, "Run server only, in headless mode.")
	rootCommand.PersistentFlags().BoolVarP(&acceptMulti, "accept-multiclient", "", false, "Allows a headless server to accept multiple client connections.")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")
	rootCommand.PersistentFlags().DurationVar(&freezeInterval, "freeze-interval", conf.FreezeInterval, "Delay between two writes of a frozen value.")
	rootCommand.PersistentFlags().IntVar(&freezeThreshold, "freeze-threshold", conf.FreezeFailureThreshold, "Consecutive failed writes after which a value is unfrozen.")

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach <pid | process name>",
		Short: "Attach to a running process and begin editing its memory.",
		Long: `Attach to an already running process and begin a new session.

When a process name is given instead of a pid memctl attaches to the first
process with that name, the session then survives restarts of the target:
once the process exits memctl attaches again to the next process started
with the same name.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a pid or a process name")
			}
			return nil
		},
		Run: attachCmd,
	}
	rootCommand.AddCommand(attachCommand)

	// 'connect' subcommand.
	connectCommand := &cobra.Command{
		Use:   "connect addr",
		Short: "Connect to a headless memctl server.",
		Long:  "Connect to a running headless memctl server.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide an address as the first argument")
			}
			return nil
		},
		Run: connectCmd,
	}
	rootCommand.AddCommand(connectCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("memctl\n%s\n", version.MemctlVersion)
			if verbose {
				fmt.Printf("Build Details: %s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	memory		Log reads, writes and protection changes
	pointer		Log pointer path resolution
	freeze		Log freeze writers
	attach		Log attaching to and detaching from the target
	rpc		Log all RPC messages

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
This option will also redirect the "server listening at" message in headless
mode.

`,
	})

	usage := rootCommand.UsageFunc()
	rootCommand.SetUsageFunc(func(cmd *cobra.Command) error {
		helphelpers.Prepare(cmd)
		return usage(cmd)
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func attachCmd(cmd *cobra.Command, args []string) {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		os.Exit(execute(0, args[0], conf))
	}
	if pid <= 0 {
		fmt.Fprintf(os.Stderr, "Invalid pid: %s\n", args[0])
		os.Exit(1)
	}
	os.Exit(execute(pid, "", conf))
}

func connectCmd(cmd *cobra.Command, args []string) {
	addr := args[0]
	if addr == "" {
		fmt.Fprint(os.Stderr, "An empty address was provided. You must provide an address as the first argument.\n")
		os.Exit(1)
	}
	os.Exit(connect(addr, nil, conf))
}

// waitForDisconnectSignal is a blocking function that waits for either
// a SIGINT (Ctrl-C) signal from the OS or for disconnectChan to be closed
// by the server when the client disconnects.
func waitForDisconnectSignal(disconnectChan chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)
	if runtime.GOOS == "windows" {
		// Ctrl-C in the console of the target is delivered to memctl
		// as well, only a client disconnecting stops the server.
		go func() {
			for range ch {
			}
		}()
		<-disconnectChan
		return
	}
	select {
	case <-ch:
	case <-disconnectChan:
	}
}

func connect(addr string, clientConn net.Conn, conf *config.Config) int {
	// Create and start a terminal - attach to running instance
	var client *rpc2.RPCClient
	if clientConn != nil {
		client = rpc2.NewClientFromConn(clientConn)
	} else {
		client = rpc2.NewClient(addr)
	}
	term := terminal.New(client, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}

func execute(attachPid int, attachName string, conf *config.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	if headless && (initFile != "") {
		fmt.Fprint(os.Stderr, "Warning: init file ignored with --headless\n")
	}

	if !headless && acceptMulti {
		fmt.Fprint(os.Stderr, "Warning accept-multi: ignored\n")
		// acceptMulti won't work in normal (non-headless) mode because we always
		// call server.Stop after the terminal client exits.
		acceptMulti = false
	}

	var listener net.Listener
	var clientConn net.Conn
	var err error

	// Make a TCP listener
	if headless {
		listener, err = net.Listen("tcp", addr)
	} else {
		listener, clientConn = service.ListenerPipe()
	}
	if err != nil {
		fmt.Printf("couldn't start listener: %s\n", err)
		return 1
	}
	defer listener.Close()

	disconnectChan := make(chan struct{})

	server := rpccommon.NewServer(&service.Config{
		Listener:        listener,
		AttachPid:       attachPid,
		AttachName:      attachName,
		AcceptMulti:     acceptMulti,
		FreezeInterval:  freezeInterval,
		FreezeThreshold: freezeThreshold,
		DisconnectChan:  disconnectChan,
	})

	if err := server.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if headless {
		logflags.WriteAPIListeningMessage(listener.Addr())
		waitForDisconnectSignal(disconnectChan)
		if err := server.Stop(); err != nil {
			fmt.Println(err)
		}
		return 0
	}

	status := connect(listener.Addr().String(), clientConn, conf)
	server.Stop()
	return status
}

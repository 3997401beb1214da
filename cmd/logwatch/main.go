// Package main provides the logwatch CLI application.
//
// Logwatch serves the tail of growing log files to browsers over WebSocket
// and follows them live, reading only what was appended.
package main

import (
	"flag"
	"fmt"
	"os"
)

// version is set during build time.
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run executes the main application logic.
func run(argv []string) error {
	// Define global flags.
	fs := flag.NewFlagSet("logwatch", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	showVersion := fs.Bool("version", false, "show version information")

	if err := fs.Parse(argv); err != nil {
		return err
	}

	// Handle version flag.
	if *showVersion {
		fmt.Printf("logwatch %s\n", version)
		return nil
	}

	// Get command.
	args := fs.Args()
	if len(args) == 0 {
		return showUsage()
	}

	command := args[0]

	switch command {
	case "serve":
		return runServeCommand(*configPath, args[1:])
	case "tail":
		return runTailCommand(*configPath, args[1:])
	case "sessions":
		return runSessionsCommand(*configPath, args[1:])
	case "stats":
		return runStatsCommand(*configPath, args[1:])
	case "config":
		return runConfigCommand(*configPath, args[1:])
	case "help":
		return showUsage()
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runServeCommand runs the serve command.
func runServeCommand(configPath string, args []string) error {
	cmd, err := parseServeArgs(configPath, args)
	if err != nil {
		return err
	}
	return cmd.Execute()
}

// parseServeArgs parses serve flags.
func parseServeArgs(configPath string, args []string) (*serveCommand, error) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", "", "listen address (e.g., :3000)")
	lines := fs.Int("lines", 0, "lines sent to a new viewer")
	db := fs.String("db", "", "session journal path")
	noJournal := fs.Bool("no-journal", false, "keep the session journal in memory")
	var files fileFlags
	fs.Var(&files, "file", "file to serve as name=path or path (repeatable)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return &serveCommand{
		addr:       *addr,
		lines:      *lines,
		dbPath:     *db,
		noJournal:  *noJournal,
		files:      files,
		configPath: configPath,
	}, nil
}

// runTailCommand runs the tail command.
func runTailCommand(configPath string, args []string) error {
	cmd, err := parseTailArgs(configPath, args)
	if err != nil {
		return err
	}
	return cmd.Execute()
}

// parseTailArgs parses tail flags.
func parseTailArgs(configPath string, args []string) (*tailCommand, error) {
	fs := flag.NewFlagSet("tail", flag.ContinueOnError)
	lines := fs.Int("n", 0, "number of lines to show first")
	follow := fs.Bool("f", true, "follow appended lines")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	target := ""
	if fs.NArg() > 0 {
		target = fs.Arg(0)
	}

	return &tailCommand{
		target:     target,
		lines:      *lines,
		follow:     *follow,
		configPath: configPath,
	}, nil
}

// runSessionsCommand runs the sessions command.
func runSessionsCommand(configPath string, args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	addr := fs.String("addr", "", "address of the running server")
	format := fs.String("format", "table", "output format (table, json, simple)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cmd := &sessionsCommand{
		addr:       *addr,
		format:     *format,
		configPath: configPath,
	}
	return cmd.Execute()
}

// runStatsCommand runs the stats command.
func runStatsCommand(configPath string, args []string) error {
	cmd := &statsCommand{
		configPath: configPath,
	}
	return cmd.Execute(args)
}

// runConfigCommand runs the config command.
func runConfigCommand(configPath string, args []string) error {
	cmd := &configCommand{
		configPath: configPath,
	}
	return cmd.Execute(args)
}

// showUsage displays usage information.
func showUsage() error {
	usage := `Logwatch - live log tailing over WebSocket

Usage:
  logwatch [flags] <command> [command flags]

Commands:
  serve       Serve configured files to browsers (viewer at /log)
  tail        Follow a file in the terminal
  sessions    Show live sessions of a running server
  stats       Session journal (list, show, prune, delete)
  config      Configuration management (show, path, reset)
  help        Show this help message

Global Flags:
  -config     Path to configuration file
  -version    Show version information

Serve Command Flags:
  -addr       Listen address (default: :3000)
  -file       File to serve as name=path or path (repeatable)
  -lines      Lines sent to a new viewer (default: 10)
  -db         Session journal path
  -no-journal Keep the session journal in memory

Tail Command Flags:
  -n          Number of lines to show first (default: 10)
  -f          Follow appended lines (default: true)

Sessions Command Flags:
  -addr       Address of the running server
  -format     Output format (table, json, simple)

Examples:
  # Serve ./log.txt on http://localhost:3000/log
  logwatch serve

  # Serve two files
  logwatch serve -file app=/var/log/app.log -file worker=/var/log/worker.log

  # Follow a file in the terminal
  logwatch tail -n 20 /var/log/app.log

  # Show live sessions of a running server
  logwatch sessions

  # Show the session journal
  logwatch stats list

  # Remove journal entries older than 30 days
  logwatch stats prune -older-than 720h

Version: %s
`

	fmt.Printf(usage, version)
	return nil
}

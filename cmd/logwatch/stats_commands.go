package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/0xmhha/logwatch/pkg/display"
	"github.com/0xmhha/logwatch/pkg/logger"
	"github.com/0xmhha/logwatch/pkg/session"
	"github.com/0xmhha/logwatch/pkg/stats"
	"github.com/0xmhha/logwatch/pkg/watcher"
)

// statsCommand handles session journal subcommands.
type statsCommand struct {
	configPath string
}

// Execute runs the stats command with given arguments.
func (c *statsCommand) Execute(args []string) error {
	if len(args) == 0 {
		return c.showHelp()
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "list":
		return c.runList(subargs)
	case "show":
		return c.runShow(subargs)
	case "prune":
		return c.runPrune(subargs)
	case "delete":
		return c.runDelete(subargs)
	case "help":
		return c.showHelp()
	default:
		return fmt.Errorf("unknown stats subcommand: %s", subcommand)
	}
}

// runList prints every journal record.
func (c *statsCommand) runList(args []string) error {
	fs := flag.NewFlagSet("stats list", flag.ContinueOnError)
	format := fs.String("format", "table", "output format (table, json, simple)")
	db := fs.String("db", "", "session journal path")

	if err := fs.Parse(args); err != nil {
		return err
	}

	formatter, err := newFormatter(*format)
	if err != nil {
		return err
	}

	store, ok, err := c.openStore(*db, true)
	if err != nil || !ok {
		return err
	}
	defer store.Close()

	records, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	return formatter.FormatRecords(os.Stdout, records)
}

// runShow prints the record of one file.
func (c *statsCommand) runShow(args []string) error {
	fs := flag.NewFlagSet("stats show", flag.ContinueOnError)
	format := fs.String("format", "table", "output format (table, json, simple)")
	db := fs.String("db", "", "session journal path")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("stats show requires a file path")
	}

	formatter, err := newFormatter(*format)
	if err != nil {
		return err
	}

	path, err := session.NormalizePath(fs.Arg(0))
	if err != nil {
		return err
	}

	store, ok, err := c.openStore(*db, true)
	if err != nil || !ok {
		return err
	}
	defer store.Close()

	record, err := store.Get(path)
	if err != nil {
		return fmt.Errorf("failed to get session for %s: %w", path, err)
	}

	return formatter.FormatRecord(os.Stdout, record)
}

// runPrune removes records idle for longer than -older-than.
func (c *statsCommand) runPrune(args []string) error {
	fs := flag.NewFlagSet("stats prune", flag.ContinueOnError)
	olderThan := fs.Duration("older-than", 30*24*time.Hour, "remove records idle for longer than this")
	db := fs.String("db", "", "session journal path")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *olderThan <= 0 {
		return fmt.Errorf("older-than must be positive")
	}

	store, ok, err := c.openStore(*db, false)
	if err != nil || !ok {
		return err
	}
	defer store.Close()

	removed, err := store.Prune(time.Now().Add(-*olderThan))
	if err != nil {
		return fmt.Errorf("failed to prune sessions: %w", err)
	}

	fmt.Printf("Removed %d session record(s)\n", removed)
	return nil
}

// runDelete removes the record of one file.
func (c *statsCommand) runDelete(args []string) error {
	fs := flag.NewFlagSet("stats delete", flag.ContinueOnError)
	db := fs.String("db", "", "session journal path")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("stats delete requires a file path")
	}

	path, err := session.NormalizePath(fs.Arg(0))
	if err != nil {
		return err
	}

	store, ok, err := c.openStore(*db, false)
	if err != nil || !ok {
		return err
	}
	defer store.Close()

	if err := store.Delete(path); err != nil {
		return fmt.Errorf("failed to delete session for %s: %w", path, err)
	}

	fmt.Printf("Deleted session record for %s\n", path)
	return nil
}

// openStore opens the journal on disk. ok is false when there is nothing
// to open; a message has been printed in that case.
func (c *statsCommand) openStore(dbPath string, readOnly bool) (stats.Store, bool, error) {
	if dbPath == "" {
		cfg, err := loadConfig(c.configPath)
		if err != nil {
			return nil, false, err
		}
		dbPath = cfg.Storage.DBPath
	}
	if dbPath == "" {
		fmt.Println("No session journal: storage.db_path is empty")
		return nil, false, nil
	}

	if _, err := os.Stat(watcher.ExpandHome(dbPath)); err != nil {
		if isNotExist(err) {
			fmt.Printf("No session journal at %s\n", dbPath)
			return nil, false, nil
		}
		return nil, false, err
	}

	store, err := stats.NewBoltStore(stats.Config{
		DBPath:   dbPath,
		ReadOnly: readOnly,
	}, logger.Noop())
	if err != nil {
		return nil, false, fmt.Errorf("failed to open session journal: %w", err)
	}
	return store, true, nil
}

// newFormatter builds a display formatter from a format name.
func newFormatter(name string) (display.Formatter, error) {
	format, err := display.ParseFormat(name)
	if err != nil {
		return nil, err
	}
	return display.New(display.Config{Format: format}), nil
}

// showHelp displays help for stats command.
func (c *statsCommand) showHelp() error {
	help := `Stats - Session journal

Usage:
  logwatch stats <subcommand> [flags]

Subcommands:
  list      List every file that has been watched
  show      Show the record of one file
  prune     Remove records idle for longer than -older-than
  delete    Remove the record of one file

Flags:
  -db           Session journal path (default: storage.db_path)
  -format       Output format for list and show (table, json, simple)
  -older-than   Idle time after which prune removes a record (default: 720h)

Examples:
  logwatch stats list
  logwatch stats show -format json /var/log/app.log
  logwatch stats prune -older-than 168h
  logwatch stats delete ./log.txt
`
	fmt.Print(help)
	return nil
}

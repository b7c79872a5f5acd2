// blockrun - runs a block project headless until its scripts finish
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/blockvm/blocks"
	"github.com/chazu/blockvm/engine"
	"github.com/chazu/blockvm/manifest"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run parses args, runs the project until every thread is done or the
// timeout hits, and prints the final variables to stdout.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("blockrun", flag.ContinueOnError)
	fs.SetOutput(stderr)
	projectDir := fs.String("C", ".", "Project directory (blockvm.toml is looked up from here)")
	docPath := fs.String("doc", "", "Workspace document, overriding the manifest")
	verbose := fs.Int("v", -1, "Log verbosity, overriding the manifest")
	compat := fs.Bool("compat", false, "Run at the 30 ticks/s compatibility rate")
	timeout := fs.Duration("timeout", 30*time.Second, "Stop the run after this long")
	dumpPath := fs.String("dump", "", "Write a CBOR diagnostics snapshot to this file after the run")
	pressFlag := fs.Bool("flag", false, "Press the green flag after starting")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: blockrun [options]\n\n")
		fmt.Fprintf(stderr, "Loads a workspace document and runs its scripts until every thread is done.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  blockrun -C ./demo                # Run the project in ./demo\n")
		fmt.Fprintf(stderr, "  blockrun -doc scripts.xml -flag   # Run a document, pressing the green flag\n")
		fmt.Fprintf(stderr, "  blockrun -dump run.cbor -v 4      # Debug logging and a snapshot afterwards\n")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := manifest.FindAndLoad(*projectDir)
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}
	if m == nil {
		dir, err := filepath.Abs(*projectDir)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", *projectDir, err)
		}
		m = manifest.Default(dir)
	}

	verbosity := m.Log.Verbosity
	if *verbose >= 0 {
		verbosity = *verbose
	}
	commonlog.Configure(verbosity, m.LogFile())

	path := m.DocumentPath()
	if *docPath != "" {
		path = *docPath
	}

	opts := m.EngineOptions()
	if *compat {
		opts.Compatibility = true
	}
	opts.Packages = blocks.Default()
	opts.Workspace = func() ([]byte, error) { return os.ReadFile(path) }

	done := make(chan struct{})
	var once sync.Once
	opts.OnRunStop = func() { once.Do(func() { close(done) }) }
	opts.OnThreadError = func(t *engine.Thread, err error) {
		fmt.Fprintf(stderr, "Script %s failed: %v\n", t.TopBlock(), err)
	}

	rt, err := engine.New(opts)
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	defer rt.Dispose()

	if err := rt.Start(); err != nil {
		return fmt.Errorf("starting: %w", err)
	}
	if *pressFlag {
		if err := rt.GreenFlag(); err != nil {
			return fmt.Errorf("pressing green flag: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	select {
	case <-done:
	case <-ctx.Done():
		fmt.Fprintf(stderr, "Stopping: %v\n", context.Cause(ctx))
		_ = rt.StopAll()
		_ = rt.Stop()
	}

	snap, err := rt.Snapshot()
	if err != nil {
		return fmt.Errorf("taking snapshot: %w", err)
	}
	printVariables(stdout, snap)

	if *dumpPath != "" {
		data, err := engine.MarshalSnapshot(snap)
		if err != nil {
			return fmt.Errorf("encoding snapshot: %w", err)
		}
		if err := os.WriteFile(*dumpPath, data, 0644); err != nil {
			return fmt.Errorf("writing snapshot: %w", err)
		}
	}
	return nil
}

func printVariables(w io.Writer, snap *engine.Snapshot) {
	vars := snap.Variables
	sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
	for _, v := range vars {
		switch v.Type {
		case engine.BroadcastMessageType:
			continue
		case engine.ListType:
			fmt.Fprintf(w, "%s = [%s]\n", v.Name, v.Value)
		default:
			fmt.Fprintf(w, "%s = %s\n", v.Name, v.Value)
		}
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jgivc/modsync/internal/app"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/service/publish"
	"github.com/spf13/pflag"
)

const (
	cmdSync     = "sync"
	cmdManifest = "manifest"
	cmdServe    = "serve"

	exitFailed = 1
	exitUsage  = 2
)

func usage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  %s [-c config.yml] [unit...]\tupdate units and their dependencies\n", cmdSync)
	_, _ = fmt.Fprintf(os.Stderr, "  %s [flags] [root]\t\tgenerate manifest.json for a unit\n", cmdManifest)
	_, _ = fmt.Fprintf(os.Stderr, "  %s [flags]\t\t\tserve a directory as a mirror\n", cmdServe)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var code int
	switch os.Args[1] {
	case cmdSync:
		code = runSync(ctx, os.Args[2:])
	case cmdManifest:
		code = runManifest(os.Args[2:])
	case cmdServe:
		code = runServe(ctx, os.Args[2:])
	default:
		usage()
		code = exitUsage
	}

	cancel()
	os.Exit(code)
}

func newFlagSet(name string) (*pflag.FlagSet, *string) {
	flags := pflag.NewFlagSet(name, pflag.ExitOnError)
	cfgFileName := flags.StringP("config", "c", "config.yml", "Path to config file")
	flags.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage of %s %s:\n", os.Args[0], name)
		flags.PrintDefaults()
	}

	return flags, cfgFileName
}

func runSync(ctx context.Context, args []string) int {
	flags, cfgFileName := newFlagSet(cmdSync)
	_ = flags.Parse(args)

	a := app.New(*cfgFileName)
	defer a.Stop()

	report, err := a.Sync(ctx, flags.Args())
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Cannot print report: %s\n", err)
		}
	}

	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Update failed: %s\n", err)

		return exitFailed
	}

	if len(report.Failed) > 0 || !report.DependenciesOK {
		return exitFailed
	}

	return 0
}

func runManifest(args []string) int {
	flags, cfgFileName := newFlagSet(cmdManifest)
	opts := publish.Options{}
	defs := flags.StringToString("defs", nil, "Definitions the unit requires, NAME=version[;version...] or NAME=raw")
	flags.BoolVar(&opts.ForceClean, "force-clean", false, "Remove local files not listed in the manifest")
	flags.BoolVar(&opts.NoHashVerification, "no-hash-verification", false, "Only fetch files missing locally")
	flags.StringSliceVar(&opts.Keep, "keep", nil, "Files clients must not overwrite once present")
	flags.StringSliceVar(&opts.Skip, "skip", nil, "Names or paths left out of the manifest")
	_ = flags.Parse(args)

	root := "."
	if flags.NArg() > 0 {
		root = flags.Arg(0)
	}

	if len(*defs) > 0 {
		opts.Defs = make(map[string]entity.DefVersions, len(*defs))
		for name, versions := range *defs {
			opts.Defs[name] = strings.Split(versions, ";")
		}
	}

	m, err := app.New(*cfgFileName).Manifest(root, opts)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Cannot generate manifest: %s\n", err)

		return exitFailed
	}

	fmt.Printf("%s: %d files\n", root, len(m.Files))

	return 0
}

func runServe(ctx context.Context, args []string) int {
	flags, cfgFileName := newFlagSet(cmdServe)
	addr := flags.String("addr", ":8080", "Listen address")
	root := flags.String("root", ".", "Directory to serve")
	drmKey := flags.String("drm-key", "", "Require this drmKey query parameter")
	_ = flags.Parse(args)

	a := app.New(*cfgFileName)
	defer a.Stop()

	if err := a.Serve(ctx, *addr, *root, *drmKey); err != nil && !errors.Is(err, context.Canceled) {
		_, _ = fmt.Fprintf(os.Stderr, "%s\n", err)

		return exitFailed
	}

	fmt.Println("done")

	return 0
}

// Command ndctl is the operator CLI for newsdigest maintenance and
// debugging tasks.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/browser"

	"github.com/ibeckermayer/newsdigest/internal/app"
	"github.com/ibeckermayer/newsdigest/internal/collector"
	"github.com/ibeckermayer/newsdigest/internal/config"
	"github.com/ibeckermayer/newsdigest/internal/digest"
	"github.com/ibeckermayer/newsdigest/internal/logging"
	"github.com/ibeckermayer/newsdigest/internal/token"
	"github.com/ibeckermayer/newsdigest/internal/types"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runSlot(os.Args[2:])
	case "link":
		err = runLink(os.Args[2:])
	case "keygen":
		err = runKeygen(os.Args[2:])
	case "open":
		err = runOpen(os.Args[2:])
	case "render":
		err = runRender(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ndctl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: ndctl <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run <slot>          Run the pipeline for a slot now")
	fmt.Println("  link <email>        Print preference and unsubscribe links")
	fmt.Println("  keygen [-bytes N]   Print a random token secret")
	fmt.Println("  open <config|data>  Open the config file or data directory")
	fmt.Println("  render <url>        Fetch a page with the headless browser and print the extracted item")
}

func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, string, error) {
	path := fs.String("config", "", "path to config.toml")
	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(*path)
	if err != nil {
		return nil, "", err
	}
	return cfg, *path, nil
}

func runSlot(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfg, path, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: ndctl run [-config path] <slot>")
	}
	slot := types.Slot(fs.Arg(0))

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	a, err := app.New(cfg, path, app.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	out, err := a.RunSlot(ctx, slot)
	if err != nil {
		return err
	}
	for _, st := range out.Stages {
		line := fmt.Sprintf("%-24s %-10s attempts=%d", st.Name, st.Status, st.Attempts)
		if st.Error != "" {
			line += fmt.Sprintf(" kind=%s error=%s", st.Kind, st.Error)
		}
		fmt.Println(line)
	}
	if !out.Succeeded() {
		return fmt.Errorf("run %s finished with %d failed stages", out.RunID, len(out.Failed()))
	}
	return nil
}

func runLink(args []string) error {
	fs := flag.NewFlagSet("link", flag.ExitOnError)
	cfg, _, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: ndctl link [-config path] <email>")
	}
	tokens, err := token.New([]byte(cfg.Token.Secret))
	if err != nil {
		return err
	}
	links := digest.NewLinks(cfg.Web.BaseURL, tokens)
	fmt.Println("Preferences:", links.Preferences(fs.Arg(0)))
	fmt.Println("Unsubscribe:", links.Unsubscribe(fs.Arg(0)))
	return nil
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	n := fs.Int("bytes", 32, "number of random bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	secret, err := token.GenerateSecret(nil, *n)
	if err != nil {
		return err
	}
	fmt.Println(secret)
	return nil
}

func runOpen(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: ndctl open <config|data>")
	}

	var path string
	var err error
	switch args[0] {
	case "config":
		path, err = config.ConfigPath()
	case "data":
		path, err = config.DataDir()
	default:
		return fmt.Errorf("unknown target: %s", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to get path: %w", err)
	}

	fmt.Println(path)
	return browser.OpenFile(path)
}

func runRender(args []string) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	wait := fs.String("wait", "", "CSS selector to wait for before reading the page")
	show := fs.Bool("show", false, "show the browser window")
	timeout := fs.Duration("timeout", time.Minute, "render timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: ndctl render [-wait selector] [-show] <url>")
	}
	url := fs.Arg(0)

	slog.SetDefault(logging.New("info", "text"))
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fetcher := collector.NewBrowserFetcher(!*show, "", *wait)
	page, err := fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}
	item, err := collector.Extract(page, collector.Source{Name: "render"})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(item)
}

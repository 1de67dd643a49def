package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/astromechza/viewsync/pkg/broadcast"
	"github.com/astromechza/viewsync/pkg/cli"
	"github.com/astromechza/viewsync/pkg/relay"
	"github.com/astromechza/viewsync/pkg/viz"
)

const (
	flagRelay      = "relay"
	flagMediumName = "medium-name"
	flagKey        = "key"
	flagSvg        = "svg"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cmd := &cobra.Command{
		Use:   "inspect [dump-file]",
		Short: "Show the keys and change history of a relay medium",
		Long: "Load a medium document from a dump file written by the relay, or from a running relay " +
			"with --relay, and print its keys and change log. With --key, print that key's history " +
			"and optionally render it as an svg graph.",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE:         run,
	}
	cli.AddCommonFlags(cmd)
	cmd.Flags().String(flagRelay, "", "base url of a running relay to fetch the medium from")
	cmd.Flags().String(flagMediumName, "default", "name of the medium to fetch from the relay")
	cmd.Flags().String(flagKey, "", "key to show the history of")
	cmd.Flags().String(flagSvg, "", "file to render the key history to")
	return cmd.Execute()
}

func load(ctx context.Context, v *viper.Viper, args []string) (*automerge.Doc, error) {
	if len(args) == 1 {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		doc, err := automerge.Load(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to load doc: %w", err)
		}
		return doc, nil
	}
	if base := v.GetString(flagRelay); base != "" {
		return relay.FetchLatest(ctx, &http.Client{Timeout: 30 * time.Second}, base, v.GetString(flagMediumName))
	}
	return nil, errors.New("expected a dump file argument or --relay")
}

func run(cmd *cobra.Command, args []string) error {
	v, logger, err := cli.Setup(cmd)
	if err != nil {
		return err
	}
	doc, err := load(cmd.Context(), v, args)
	if err != nil {
		return err
	}
	logger.Info("loaded doc", "heads", doc.Heads())

	keys, err := doc.Path(relay.KeysRoot).Map().Keys()
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}
	for _, key := range keys {
		kind, channel := broadcast.Classify(key)
		fmt.Printf("%-8s %-40s %s\n", kind, key, channel)
	}

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}
	for i, change := range changes {
		logger.Info("change", "i", fmt.Sprintf("%4d", i), "hash", change.Hash(), "actor", change.ActorID(), "dep", change.Dependencies())
	}

	key := v.GetString(flagKey)
	if key == "" {
		return nil
	}
	entries, err := viz.History(doc, relay.KeysRoot, key)
	if err != nil {
		return err
	}
	for _, e := range entries {
		value := "<absent>"
		if e.Present {
			value = e.Value
		}
		fmt.Printf("%s %s@%d %s\n", e.Hash[:8], e.Actor, e.Seq, value)
	}
	if out := v.GetString(flagSvg); out != "" {
		if err := viz.RenderFile(doc, out, relay.KeysRoot, key); err != nil {
			return err
		}
		logger.Info("rendered", "key", key, "path", "file://"+out)
	}
	return nil
}

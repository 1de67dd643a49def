package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/astromechza/viewsync/pkg/channel"
	"github.com/astromechza/viewsync/pkg/cli"
	"github.com/astromechza/viewsync/pkg/dataservice"
	"github.com/astromechza/viewsync/pkg/location"
	"github.com/astromechza/viewsync/pkg/loop"
	"github.com/astromechza/viewsync/pkg/medium"
	"github.com/astromechza/viewsync/pkg/medium/redismedium"
	"github.com/astromechza/viewsync/pkg/relay"
	"github.com/astromechza/viewsync/pkg/state"
	"github.com/astromechza/viewsync/pkg/viewer"
)

const (
	flagMedium      = "medium"
	flagRelay       = "relay"
	flagMediumName  = "medium-name"
	flagRedisAddr   = "redis-addr"
	flagDataURL     = "data-url"
	flagSession     = "session"
	flagURL         = "url"
	flagJanitorWait = "janitor-wait"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cmd := &cobra.Command{
		Use:   "viewer",
		Short: "Run a headless viewer instance driven by console commands on stdin",
		Long: "Run a headless viewer instance. Each stdin line is a console command, " +
			"see 'help'. State changes are logged as they happen.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         run,
	}
	cli.AddCommonFlags(cmd)
	cmd.Flags().String(flagMedium, "relay", "shared medium to use: relay or redis")
	cmd.Flags().String(flagRelay, "http://localhost:8080", "base url of the relay server")
	cmd.Flags().String(flagMediumName, "default", "name of the medium on the relay, or the redis namespace")
	cmd.Flags().String(flagRedisAddr, "localhost:6379", "address of the redis server")
	cmd.Flags().String(flagDataURL, "http://localhost:2200", "base url of the data service")
	cmd.Flags().String(flagSession, "viewer-session.db", "bolt file remembering this instance's channel")
	cmd.Flags().String(flagURL, "http://viewer/", "initial url of the instance")
	cmd.Flags().Duration(flagJanitorWait, 0, "how long to wait for pongs before sweeping dead channels")
	return cmd.Execute()
}

func connect(ctx context.Context, v *viper.Viper, logger *slog.Logger) (medium.Medium, error) {
	switch kind := v.GetString(flagMedium); kind {
	case "relay":
		return relay.Dial(ctx, v.GetString(flagRelay), v.GetString(flagMediumName))
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: v.GetString(flagRedisAddr)})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		return redismedium.New(redismedium.Params{Client: client, Namespace: v.GetString(flagMediumName), Logger: logger})
	default:
		return nil, fmt.Errorf("unknown medium %q", kind)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	v, logger, err := cli.Setup(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m, err := connect(ctx, v, logger)
	if err != nil {
		return err
	}
	session, err := channel.OpenBoltSession(v.GetString(flagSession))
	if err != nil {
		return err
	}
	defer session.Close()
	data, err := dataservice.NewClient(v.GetString(flagDataURL), &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		return err
	}
	history, err := location.New(v.GetString(flagURL))
	if err != nil {
		return err
	}

	q := loop.New()
	instance := viewer.New(viewer.Params{
		Medium:      m,
		Session:     session,
		History:     history,
		Data:        data,
		Loop:        q,
		JanitorWait: v.GetDuration(flagJanitorWait),
		Logger:      logger,
	})
	q.Post(func() {
		if err := instance.Start(ctx); err != nil {
			logger.Error("failed to start instance", "err", err)
			cancel()
			return
		}
		instance.Store().OnChange(func(change state.Change) {
			logger.Info("state changed", "version", change.Version, "url", history.Current().String())
		})
	})

	go readConsole(ctx, q, instance, cancel)

	err = q.Run(ctx)
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if cerr := instance.Close(closeCtx); cerr != nil {
		logger.Error("failed to close instance", "err", cerr)
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// readConsole feeds stdin lines to the instance loop and stops the instance at EOF.
func readConsole(ctx context.Context, q *loop.Queue, instance *viewer.Instance, stop func()) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		done := make(chan struct{})
		q.Post(func() {
			defer close(done)
			out, err := instance.Exec(line)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			} else if out != "" {
				fmt.Println(out)
			}
		})
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	stop()
}

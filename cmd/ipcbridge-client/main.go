package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mirkobrombin/go-ipcbridge/v1/client"
	"github.com/mirkobrombin/go-ipcbridge/v1/config"
	"github.com/mirkobrombin/go-ipcbridge/v1/logging"
	"github.com/mirkobrombin/go-ipcbridge/v1/pushbus"
)

var (
	baseURL = flag.String("url", "", "Host base URL (overrides IPC_BASE_URL)")
	listen  = flag.String("listen", "", "Comma separated push channels to print; empty prints nothing")
	timeout = flag.Duration("timeout", 30*time.Second, "Timeout of a single invocation")
	publish = flag.Bool("publish", false, "Publish channel and args on the host push bus (PUSHBUS_*) instead of invoking")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [channel [json-arg...]]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *publish {
		if flag.NArg() == 0 {
			flag.Usage()
			os.Exit(2)
		}
		if err := publishTo(ctx, cfg.PushBus, flag.Arg(0), flag.Args()[1:]); err != nil {
			log.Fatalf("publish %s: %v", flag.Arg(0), err)
		}
		return
	}

	if flag.NArg() > 0 {
		if err := invoke(ctx, client.New(cfg.BaseURL, client.WithLogger(logger)), flag.Arg(0), flag.Args()[1:]); err != nil {
			log.Fatalf("%s: %v", flag.Arg(0), err)
		}
	}
	if *listen == "" {
		if flag.NArg() == 0 {
			flag.Usage()
			os.Exit(2)
		}
		return
	}

	u, err := client.SocketURL(cfg.BaseURL)
	if err != nil {
		log.Fatalf("socket url: %v", err)
	}
	sock := client.NewSocket(u,
		client.WithReconnectDelay(cfg.ReconnectDelay),
		client.WithSocketLogger(logger),
		client.OnStateChange(func(s client.State) { logger.Debug("push channel state", "state", s.String()) }),
	)
	for _, ch := range strings.Split(*listen, ",") {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		sock.On(ch, func(args []json.RawMessage) {
			out, _ := json.Marshal(args)
			fmt.Printf("%s %s\n", ch, out)
		})
	}
	if err := sock.Run(ctx); err != nil {
		log.Fatalf("listen: %v", err)
	}
}

// parseArgs decodes each raw argument as JSON, falling back to a plain
// string when it is not valid JSON.
func parseArgs(raw []string) []any {
	args := make([]any, len(raw))
	for i, a := range raw {
		if json.Valid([]byte(a)) {
			args[i] = json.RawMessage(a)
		} else {
			args[i] = a
		}
	}
	return args
}

func invoke(ctx context.Context, c *client.Client, channel string, raw []string) error {
	args := parseArgs(raw)
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	res, err := c.Invoke(ctx, channel, args...)
	if err != nil {
		return err
	}
	fmt.Println(string(res))
	return nil
}

var errProcessLocalBus = errors.New("the memory push bus only reaches producers inside the host process")

func publishTo(ctx context.Context, cfg config.PushBusConfig, channel string, raw []string) error {
	if cfg.Backend == "" || cfg.Backend == "memory" {
		return errProcessLocalBus
	}
	bus, err := pushbus.Open(ctx, cfg, logging.Discard())
	if err != nil {
		return err
	}
	defer bus.Close()
	return emit(ctx, bus, channel, raw)
}

func emit(ctx context.Context, bus pushbus.Bus, channel string, raw []string) error {
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	return pushbus.Emit(ctx, bus, channel, parseArgs(raw)...)
}

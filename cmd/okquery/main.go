// Command okquery queries JSON web services from the command line.
//
//	okquery [flags] URL [URL...]
//
// Each URL is fetched and its body printed. With -key only the value at the
// dotted path is printed; with -next or -rest the URL is paginated and every
// page is printed as one JSON line. -sse and -ws subscribe to an event stream
// and print events until interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Sternrassler/okquery/pkg/cache"
	"github.com/Sternrassler/okquery/pkg/client"
	"github.com/Sternrassler/okquery/pkg/codec"
	"github.com/Sternrassler/okquery/pkg/config"
	"github.com/Sternrassler/okquery/pkg/credentials"
	"github.com/Sternrassler/okquery/pkg/logging"
	"github.com/Sternrassler/okquery/pkg/metrics"
	"github.com/Sternrassler/okquery/pkg/pagination"
	"github.com/Sternrassler/okquery/pkg/transport"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitCancelled = 130
)

type options struct {
	configPath  string
	key         string
	next        string
	rest        string
	pages       int
	warmup      bool
	sse         bool
	ws          bool
	metricsAddr string
	token       string
	urls        []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, envErr)
	stop()
	os.Exit(code)
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("okquery", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "path to a YAML configuration file")
	fs.StringVar(&opts.key, "key", "", "print only the value at this dotted path (a.b.c)")
	fs.StringVar(&opts.next, "next", "", "paginate by following the URL in this top-level field")
	fs.StringVar(&opts.rest, "rest", "", "paginate by fetching the URL list in this top-level field")
	fs.IntVar(&opts.pages, "pages", -1, "maximum number of pages (overrides page_limit)")
	fs.BoolVar(&opts.warmup, "warmup", false, "prefetch all URLs before printing them in order")
	fs.BoolVar(&opts.sse, "sse", false, "subscribe to a server-sent event stream")
	fs.BoolVar(&opts.ws, "ws", false, "subscribe to a WebSocket")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.StringVar(&opts.token, "token", "", `credential name ("none" sends requests unauthenticated)`)

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	opts.urls = fs.Args()

	switch {
	case len(opts.urls) == 0:
		return opts, errors.New("at least one URL is required")
	case opts.next != "" && opts.rest != "":
		return opts, errors.New("-next and -rest are mutually exclusive")
	case opts.sse && opts.ws:
		return opts, errors.New("-sse and -ws are mutually exclusive")
	case (opts.sse || opts.ws) && len(opts.urls) != 1:
		return opts, errors.New("event streams take exactly one URL")
	}
	return opts, nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		cfg := config.Default()
		cfg.ApplyEnv()
		if errs := cfg.Validate(); len(errs) > 0 {
			return cfg, fmt.Errorf("validation errors: %v", errs)
		}
		return cfg, nil
	}
	return config.Load(path)
}

func tokenFor(name string) credentials.Token {
	switch name {
	case "":
		return credentials.DefaultToken
	case "none":
		return credentials.NoToken
	default:
		return credentials.Named(name)
	}
}

// run executes one invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, envErr error) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, "okquery:", err)
		}
		return exitUsage
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintln(stderr, "okquery:", err)
		return exitUsage
	}
	if opts.pages >= 0 {
		cfg.PageLimit = opts.pages
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}

	logCfg := cfg.Log
	logCfg.Output = stderr
	logging.Setup(logCfg)
	logger := logging.NewLogger("okquery")
	if envErr != nil {
		logger.Debug().Err(envErr).Msg(".env file not loaded")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	tok := tokenFor(opts.token)
	ctx = credentials.WithToken(ctx, tok)

	if opts.ws {
		err = subscribeWebSocket(ctx, opts.urls[0], stdout)
		return exitCode(err, stderr, logger)
	}

	var store cache.Store
	if cfg.Cache.Enabled && !opts.sse {
		var closeStore func()
		store, closeStore, err = openStore(ctx, cfg.Cache)
		if err != nil {
			fmt.Fprintln(stderr, "okquery:", err)
			return exitFailure
		}
		defer closeStore()
	}

	tcfg := transport.DefaultConfig(cfg.UserAgent)
	tcfg.Timeout = cfg.Timeout
	tcfg.MaxConcurrency = cfg.MaxConcurrency
	tcfg.Cache = store
	if opts.sse {
		// An event stream is read for as long as it lasts.
		tcfg.Timeout = 0
	}

	t, err := transport.New(tcfg)
	if err != nil {
		fmt.Fprintln(stderr, "okquery:", err)
		return exitUsage
	}
	defer t.Close()

	if opts.sse {
		err = subscribeSSE(ctx, t, opts.urls[0], tok, stdout)
		return exitCode(err, stderr, logger)
	}

	c, err := client.New(client.Config{Transport: t})
	if err != nil {
		fmt.Fprintln(stderr, "okquery:", err)
		return exitFailure
	}

	err = query(ctx, c, opts, cfg, tok, stdout)
	return exitCode(err, stderr, logger)
}

// openStore connects the configured cache backend.
func openStore(ctx context.Context, cfg config.CacheConfig) (cache.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendRedis:
	case config.BackendDisk:
		store, err := cache.NewDiskStore(cfg.Path, cfg.MaxBytes)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		return cache.NewMemoryStore(), func() {}, nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
	}
	return cache.NewManager(redisClient), func() { redisClient.Close() }, nil
}

func query(ctx context.Context, c *client.Client, opts options, cfg config.Config, tok credentials.Token, stdout io.Writer) error {
	if opts.next != "" || opts.rest != "" {
		for _, u := range opts.urls {
			if err := paginate(ctx, c, u, opts, cfg, tok, stdout); err != nil {
				return err
			}
		}
		return nil
	}

	if opts.warmup {
		c.Warmup(ctx, opts.urls...)
	}

	for _, u := range opts.urls {
		req, err := client.NewRequest(ctx, u, tok)
		if err != nil {
			return err
		}

		if opts.key != "" {
			v, err := client.QueryMapValue[json.RawMessage](ctx, c, req, strings.Split(opts.key, ".")...)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, string(v))
			continue
		}

		if err := c.Show(ctx, req, stdout); err != nil {
			return err
		}
	}
	return nil
}

// paginate prints every page of startURL as one JSON line.
func paginate(ctx context.Context, c *client.Client, startURL string, opts options, cfg config.Config, tok credentials.Token, stdout io.Writer) error {
	pcfg := pagination.Config{
		PageLimit:      cfg.PageLimit,
		MaxConcurrency: cfg.MaxConcurrency,
		Token:          tok,
	}

	pages, err := pagination.QueryPages(ctx, c, startURL, fieldPaginator(opts.next, opts.rest), pcfg)
	if err != nil {
		return err
	}

	for _, page := range pages {
		var out any = page
		if opts.key != "" {
			v, ok := lookup(page, strings.Split(opts.key, "."))
			if !ok {
				continue
			}
			out = v
		}
		data, err := codec.Encode(c.Codec(), out)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, string(data))
	}
	return nil
}

// fieldPaginator continues with the URL in the next field, or with the URL
// list in the rest field. A missing or empty field ends pagination.
func fieldPaginator(next, rest string) pagination.Paginator[map[string]json.RawMessage] {
	return func(page map[string]json.RawMessage) pagination.State {
		if next != "" {
			var u string
			if err := json.Unmarshal(page[next], &u); err != nil || u == "" {
				return pagination.End{}
			}
			return pagination.Next{URL: u}
		}

		var urls []string
		if err := json.Unmarshal(page[rest], &urls); err != nil || len(urls) == 0 {
			return pagination.End{}
		}
		return pagination.Rest{URLs: urls}
	}
}

// lookup walks keys through nested objects of page.
func lookup(page map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	obj := page
	for i, k := range keys {
		v, ok := obj[k]
		if !ok {
			return nil, false
		}
		if i == len(keys)-1 {
			return v, true
		}
		obj = nil
		if err := json.Unmarshal(v, &obj); err != nil || obj == nil {
			return nil, false
		}
	}
	return nil, false
}

// exitCode reports err and maps it to an exit code. Cancellation exits quietly.
func exitCode(err error, stderr io.Writer, logger zerolog.Logger) int {
	switch {
	case err == nil:
		return exitOK
	case client.IsCancelled(err) || errors.Is(err, context.Canceled):
		logger.Debug().Msg("Interrupted")
		return exitCancelled
	default:
		fmt.Fprintln(stderr, "okquery:", err)
		return exitFailure
	}
}

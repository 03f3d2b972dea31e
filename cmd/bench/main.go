// README: Bench entrypoint; reads SHARETAXI_BENCH_* defaults, lets flags override them and exits non-zero on failures.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
	StatusSkip Status = "SKIP"
)

// Config drives one bench run. DSN and RedisAddr are optional; their checks skip when empty.
type Config struct {
	BaseURL     string `validate:"required,url"`
	DSN         string
	RedisAddr   string
	Strict      bool
	Timeout     time.Duration `validate:"gt=0"`
	Concurrency int           `validate:"gte=2"`
	// Capacity below Concurrency makes the capacity race oversubscribe the taxi.
	Capacity int           `validate:"gte=1,ltfield=Concurrency"`
	Duration time.Duration `validate:"gt=0,ltfield=Timeout"`
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bench:", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	results := NewRunner(cfg).RunAll(ctx)
	cancel()

	s := summarize(results)
	fmt.Printf("\n== Summary ==\n%s\n", s)
	os.Exit(s.exitCode(cfg.Strict))
}

// parseConfig layers flags over environment defaults and validates the result.
func parseConfig(args []string, getenv func(string) string) (Config, error) {
	env := &envReader{get: getenv}
	cfg := Config{
		BaseURL:     env.str("SHARETAXI_BENCH_BASE_URL", "http://localhost:8080"),
		DSN:         getenv("SHARETAXI_DB_DSN"),
		RedisAddr:   getenv("SHARETAXI_REDIS_ADDR"),
		Strict:      env.boolean("SHARETAXI_BENCH_STRICT"),
		Timeout:     env.duration("SHARETAXI_BENCH_TIMEOUT", time.Minute),
		Concurrency: env.integer("SHARETAXI_BENCH_CONCURRENCY", 20),
		Capacity:    env.integer("SHARETAXI_BENCH_CAPACITY", 4),
		Duration:    env.duration("SHARETAXI_BENCH_DURATION", 10*time.Second),
	}
	if env.bad != nil {
		return Config{}, env.bad
	}

	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "API base URL")
	fs.StringVar(&cfg.DSN, "dsn", cfg.DSN, "Postgres DSN for schema checks")
	fs.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for the connectivity check")
	fs.BoolVar(&cfg.Strict, "strict", cfg.Strict, "treat skipped cases as failures")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "deadline for the whole run")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "competing callers per race")
	fs.IntVar(&cfg.Capacity, "capacity", cfg.Capacity, "seats of the taxi in the capacity race")
	fs.DurationVar(&cfg.Duration, "duration", cfg.Duration, "length of the throughput case")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// envReader reads typed values and keeps the first malformed one.
type envReader struct {
	get func(string) string
	bad error
}

func (r *envReader) fail(key, value string) {
	if r.bad == nil {
		r.bad = fmt.Errorf("%s: cannot parse %q", key, value)
	}
}

func (r *envReader) str(key, def string) string {
	if v := r.get(key); v != "" {
		return v
	}
	return def
}

func (r *envReader) boolean(key string) bool {
	v := r.get(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v)
	}
	return b
}

func (r *envReader) integer(key string, def int) int {
	v := r.get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v)
		return def
	}
	return n
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v := r.get(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v)
		return def
	}
	return d
}

type summary struct {
	pass, fail, skip int
}

func summarize(results []Result) summary {
	var s summary
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			s.pass++
		case StatusFail:
			s.fail++
		case StatusSkip:
			s.skip++
		}
	}
	return s
}

func (s summary) String() string {
	return fmt.Sprintf("PASS=%d FAIL=%d SKIP=%d", s.pass, s.fail, s.skip)
}

func (s summary) exitCode(strict bool) int {
	if s.fail > 0 || (strict && s.skip > 0) {
		return 1
	}
	return 0
}

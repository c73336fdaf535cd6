package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/cronrule/config"
	"github.com/timzifer/cronrule/cron"
	"github.com/timzifer/cronrule/processor"
	"github.com/timzifer/cronrule/rules"
	"github.com/timzifer/cronrule/service"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file")
	healthcheck := flag.Bool("healthcheck", false, "Run a health check and exit")
	configCheck := flag.Bool("config-check", false, "Validate configuration, print upcoming runs and exit")
	listen := flag.String("listen", "", "API listen address, overrides server.listen")
	describe := flag.String("describe", "", "Describe an expression and exit")
	next := flag.String("next", "", "Print the next runs of an expression and exit")
	count := flag.Int("count", 5, "Number of runs printed by -next and -config-check")
	locale := flag.String("locale", "", "Locale used by -describe")
	flag.Parse()

	if *count < 1 {
		fmt.Fprintf(os.Stderr, "invalid -count %d: must be at least 1\n", *count)
		os.Exit(2)
	}

	if *healthcheck {
		if err := executeHealthCheck(*cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if *describe != "" || *next != "" {
		cfg, err := loadOptional(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
			os.Exit(1)
		}
		if *describe != "" {
			executeDescribe(os.Stdout, cfg, *describe, *locale)
		}
		if *next != "" {
			if err := executeNext(os.Stdout, cfg, *next, time.Now(), *count); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				os.Exit(1)
			}
		}
		os.Exit(0)
	}

	if *configCheck {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
			os.Exit(1)
		}
		os.Exit(executeConfigCheck(os.Stdout, cfg, *count))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := []processor.Option{processor.WithConfigPath(*cfgPath, nil)}
	if *listen != "" {
		opts = append(opts, processor.WithListen(*listen))
	}
	proc, err := processor.New(ctx, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create processor")
	}
	defer proc.Close()

	if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("processor stopped with error")
	}
}

func executeHealthCheck(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	return service.Validate(cfg, zerolog.Nop())
}

// loadOptional reads path when it exists and falls back to an empty
// configuration otherwise.
func loadOptional(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

func executeDescribe(w io.Writer, cfg *config.Config, expr, locale string) {
	if locale == "" {
		locale = cfg.Locale
	}
	// A nil humanizer makes the describer fall back.
	humanizer, _ := cron.NewHumanizer()
	desc := cron.NewDescriber(humanizer, zerolog.Nop()).Describe(expr, locale)
	fmt.Fprintf(w, "%s (%s)\n", desc.Text, desc.Regime)
}

func executeNext(w io.Writer, cfg *config.Config, expr string, from time.Time, count int) error {
	resolver, err := service.NewResolver(cfg.Location)
	if err != nil {
		return err
	}
	trig, err := resolver.Resolve(expr)
	if err != nil {
		return err
	}
	runs, err := trig.Next(from.In(resolver.Location), count)
	if err != nil {
		return err
	}
	for _, run := range runs {
		fmt.Fprintln(w, run.Format(time.RFC3339))
	}
	return nil
}

func executeConfigCheck(w io.Writer, cfg *config.Config, count int) int {
	srv, err := service.New(cfg, zerolog.Nop(), service.WithPublisher(rules.NewLogPublisher(zerolog.Nop())))
	if err != nil {
		fmt.Fprintf(w, "configuration invalid: %v\n", err)
		return 1
	}
	defer srv.Close()

	previews, err := srv.Preview(context.Background(), count)
	if err != nil {
		fmt.Fprintf(w, "configuration check aborted: %v\n", err)
		return 1
	}
	if len(previews) == 0 {
		fmt.Fprintln(w, "No rules configured.")
		return 0
	}

	exitCode := 0
	for _, p := range previews {
		fmt.Fprintf(w, "Rule %q\n", p.ID)
		fmt.Fprintf(w, "  Expression: %s (%s)\n", p.Expression, p.Regime)
		if p.Error != "" {
			exitCode = 1
			fmt.Fprintf(w, "  Error: %s\n", p.Error)
		} else {
			fmt.Fprintln(w, "  Next runs:")
			for _, run := range p.Next {
				fmt.Fprintf(w, "    - %s\n", run.Format(time.RFC3339))
			}
		}
		fmt.Fprintln(w)
	}

	if exitCode == 0 {
		fmt.Fprintln(w, "Configuration check completed successfully.")
	} else {
		fmt.Fprintln(w, "Configuration check completed with errors.")
	}
	return exitCode
}

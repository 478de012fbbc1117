// Command flock runs a lead session against scripted provider responses.
//
// Usage:
//
//	flock -script lead.jsonl [-teammate-script team.jsonl] [-followup text] [-dump] prompt...
//
// Scripts use the replay JSONL format, one provider turn per line. Setting NATS_URL moves
// the team bus to NATS and setting TEMPORAL_ADDRESS dispatches sub-agents through a
// Temporal worker started in this process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	// Ensure the environment is loaded
	_ "github.com/joho/godotenv/autoload"

	"github.com/casualjim/flock"
	"github.com/casualjim/flock/bus"
	"github.com/casualjim/flock/internal/config"
	"github.com/casualjim/flock/internal/executor"
	"github.com/casualjim/flock/limiter"
	"github.com/casualjim/flock/loop"
	"github.com/casualjim/flock/pkg/messages"
	"github.com/casualjim/flock/pkg/natsx"
	"github.com/casualjim/flock/pkg/tprl"
	"github.com/casualjim/flock/provider/replay"
	"github.com/casualjim/flock/subagent"
	"github.com/casualjim/flock/team"
	"github.com/fatih/color"
	"github.com/k0kubun/pp/v3"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
)

var (
	log      zerolog.Logger
	logLevel = new(slog.LevelVar)
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log = zerolog.New(output).With().Timestamp().Logger()
	logLevel.Set(slog.LevelWarn)
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: logLevel}),
	))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Error().Err(err).Msg("flock failed")
		stop()
		os.Exit(1)
	}
}

// summary is what -dump prints.
type summary struct {
	Reason     loop.Reason
	Iterations int
	Usage      messages.Usage
	Teammates  []team.Outcome
	Tasks      []team.Task
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("flock", flag.ContinueOnError)
	leadScript := fs.String("script", "", "replay script for the lead (required)")
	mateScript := fs.String("teammate-script", "", "replay script for teammates, the lead script when empty")
	followup := fs.String("followup", "", "prompt sent to the lead once every teammate stopped")
	dump := fs.Bool("dump", false, "print the outcome of the session")
	noColor := fs.Bool("no-color", false, "disable colored output")
	envFile := fs.String("env", "", "additional .env file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if *leadScript == "" || prompt == "" {
		fs.Usage()
		return errors.New("a script and a prompt are required")
	}
	if *noColor {
		color.NoColor = true
	}

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}
	logLevel.Set(cfg.LogLevel)

	lead, err := loadScript(*leadScript)
	if err != nil {
		return err
	}
	mate := lead
	if *mateScript != "" {
		if mate, err = loadScript(*mateScript); err != nil {
			return err
		}
	}

	out := newConsole(stdout, team.DefaultLead)
	lim := limiter.New(cfg.MaxSubAgents)
	options := []flock.Option{
		flock.WithTeammateProvider(mate),
		flock.WithMaxIterations(cfg.MaxIterations),
		flock.WithTeammateMaxIterations(cfg.TeammateMaxIterations),
		flock.WithFlushInterval(cfg.FlushInterval),
		flock.WithLimiter(lim),
		flock.WithObserver(out),
	}

	if cfg.NATSURL != "" {
		conn, err := natsx.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer conn.Close()
		options = append(options, flock.WithBroker(bus.NATS(conn)))
	}

	if cfg.TemporalAddress != "" {
		c, err := tprl.Dial(cfg.TemporalAddress)
		if err != nil {
			return err
		}
		defer c.Close()
		d, err := subagent.NewDispatcher(lead, nil, nil, subagent.WithLimiter(lim))
		if err != nil {
			return err
		}
		w := executor.NewWorker(c, d)
		if err := w.Start(); err != nil {
			return fmt.Errorf("failed to start temporal worker: %w", err)
		}
		defer w.Stop()
		options = append(options, flock.WithSubAgentRunner(executor.NewTemporalRunner(c)))
	}

	s, err := flock.New(lead, nil, options...)
	if err != nil {
		return err
	}
	defer s.Close()

	end := s.Send(ctx, prompt, out.Loop)
	outcomes, err := s.Wait(ctx)
	if err != nil {
		return err
	}
	if *followup != "" && len(outcomes) > 0 {
		end = s.Send(ctx, *followup, out.Loop)
	}

	if *dump {
		printer := pp.New()
		printer.SetOutput(stdout)
		printer.SetColoringEnabled(!color.NoColor)
		printer.Println(summary{
			Reason:     end.Reason,
			Iterations: end.Iterations,
			Usage:      end.Usage,
			Teammates:  outcomes,
			Tasks:      s.Board().List(),
		})
	}
	if end.Reason == loop.ReasonError {
		return end.Err
	}
	return nil
}

func loadScript(path string) (*replay.Provider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open script: %w", err)
	}
	defer f.Close()
	p, err := replay.Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

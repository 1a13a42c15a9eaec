// Command gm-trainer runs a tabletop session where LLM players respond to
// the narration you type as the GM.
//
//	gm-trainer                          # terminal UI, responses logged to logs.db
//	gm-trainer -u web --port 8080       # browser UI
//	gm-trainer --resume Alice=<id>      # continue Alice's conversation
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	gmtrainer "github.com/maxwelljoslyn/gm-trainer"
	"github.com/maxwelljoslyn/gm-trainer/config"
	"github.com/maxwelljoslyn/gm-trainer/session"
	"github.com/maxwelljoslyn/gm-trainer/ui/cli"
	"github.com/maxwelljoslyn/gm-trainer/ui/web"
)

var version = "dev"

// defaultCLILogFile keeps log lines off the terminal UI.
const defaultCLILogFile = "gm-trainer.log"

// resumeFlag collects repeated --resume name=id pairs.
type resumeFlag map[string]string

func (r resumeFlag) String() string {
	pairs := make([]string, 0, len(r))
	for name, id := range r {
		pairs = append(pairs, name+"="+id)
	}
	sort.Strings(pairs)

	return strings.Join(pairs, ",")
}

func (r resumeFlag) Set(v string) error {
	name, id, err := config.ParseResume(v)
	if err != nil {
		return err
	}
	r[name] = id

	return nil
}

type flags struct {
	configPath    string
	databasePath  string
	userInterface string
	port          int
	turnOrder     string
	tries         int
	backoff       time.Duration
	version       bool
	resume        resumeFlag
}

func parseFlags(args []string, output io.Writer) (*flags, *flag.FlagSet, error) {
	f := &flags{resume: resumeFlag{}}

	fs := flag.NewFlagSet("gm-trainer", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&f.configPath, "config", "", "YAML config file")
	fs.StringVar(&f.databasePath, "database-path", "", "response log database (default logs.db)")
	fs.StringVar(&f.databasePath, "d", "", "shorthand for --database-path")
	fs.StringVar(&f.userInterface, "user-interface", "", "front-end: cli or web")
	fs.StringVar(&f.userInterface, "u", "", "shorthand for --user-interface")
	fs.IntVar(&f.port, "port", 0, fmt.Sprintf("web UI port (default %d)", config.DefaultWebPort))
	fs.Var(f.resume, "resume", "resume a player's conversation as name=id (repeatable)")
	fs.StringVar(&f.turnOrder, "turn-order", "", "player order each round: random or fixed")
	fs.IntVar(&f.tries, "tries", 0, "backend attempts per response (default 3)")
	fs.DurationVar(&f.backoff, "backoff", 0, "wait before the first retry, doubling after (default 2s)")
	fs.BoolVar(&f.version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	if fs.NArg() > 0 {
		return nil, nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	return f, fs, nil
}

// applyFlags overrides cfg with the flags that were set explicitly.
func applyFlags(cfg *config.Config, fs *flag.FlagSet, f *flags) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "database-path", "d":
			cfg.Database.Path = f.databasePath
		case "user-interface", "u":
			cfg.UI.Mode = strings.ToLower(f.userInterface)
		case "port":
			cfg.UI.Port = f.port
		case "turn-order":
			cfg.Session.TurnOrder = f.turnOrder
		case "tries":
			cfg.Retry.MaxAttempts = f.tries
		case "backoff":
			cfg.Retry.InitialBackoff = f.backoff
		case "resume":
			if cfg.Resume == nil {
				cfg.Resume = map[string]string{}
			}
			for name, id := range f.resume {
				cfg.Resume[name] = id
			}
		}
	})

	if cfg.UI.Port == 0 {
		cfg.UI.Port = config.DefaultWebPort
	}

	if strings.EqualFold(cfg.UI.Mode, config.UICLI) && cfg.Log.File == "" {
		cfg.Log.File = defaultCLILogFile
	}
}

func loadConfig(args []string, stdout, stderr io.Writer, lookupEnv func(string) (string, bool)) (*config.Config, bool, error) {
	f, fs, err := parseFlags(args, stderr)
	if err != nil {
		return nil, false, err
	}

	if f.version {
		fmt.Fprintf(stdout, "gm-trainer %s\n", version)
		return nil, true, nil
	}

	cfg, err := config.NewLoader().
		WithConfigPath(f.configPath).
		WithLookupEnv(lookupEnv).
		Load()
	if err != nil {
		return nil, false, err
	}

	applyFlags(cfg, fs, f)

	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}

	return cfg, false, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, lookupEnv func(string) (string, bool)) error {
	cfg, done, err := loadConfig(args, stdout, stderr, lookupEnv)
	if err != nil || done {
		return err
	}

	trainer, err := gmtrainer.New(ctx, func(o *gmtrainer.Options) { o.Config = cfg })
	if err != nil {
		return err
	}
	defer trainer.Close()

	sess, err := trainer.NewSession(ctx)
	if err != nil {
		return err
	}

	logger := trainer.Logger()
	logger.Info("session.start", "session_id", sess.ID(), "ui", cfg.UI.Mode)

	switch strings.ToLower(cfg.UI.Mode) {
	case config.UIWeb:
		fmt.Fprintf(stdout, "Serving GM Trainer on http://%s\n", cfg.UI.Addr())
		err = web.New(sess, func(o *web.Options) {
			o.Addr = cfg.UI.Addr()
			o.Metrics = trainer.Metrics()
			o.Logger = logger
			o.TurnContext = ctx
		}).Run(ctx)
	default:
		err = cli.Run(ctx, sess, func(o *cli.Options) { o.Logger = logger })
	}

	printResumeHint(stdout, sess)

	return err
}

func printResumeHint(w io.Writer, sess *session.Session) {
	convs := sess.Conversations()

	names := make([]string, 0, len(convs))
	for name := range convs {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]string, 0, len(names))
	for _, name := range names {
		args = append(args, fmt.Sprintf("--resume %s=%s", name, convs[name]))
	}

	fmt.Fprintf(w, "Session %s. To continue later: gm-trainer %s\n", sess.ID(), strings.Join(args, " "))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.LookupEnv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "gm-trainer: %s\n", gmtrainer.Describe(err))
		os.Exit(1)
	}
}

// Command admin runs one-shot operator actions against the engine's store and
// ledger.
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
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"election_engine/pkg/app"
	"election_engine/pkg/config"
	"election_engine/pkg/merkle"
	"election_engine/pkg/utils"
)

type command struct {
	usage string
	// ledger is set when the command needs the ledger and the engines
	ledger bool
	run    func(ctx context.Context, env *env, args []string) error
}

type env struct {
	app    *app.App
	out    io.Writer
	logger *zap.Logger
}

var commands = map[string]command{
	"finalize":       {"finalize -election ID", true, runFinalize},
	"audit":          {"audit [-election ID]", true, runAudit},
	"proof":          {"proof -election ID -voter VOTER", true, runProof},
	"breaches":       {"breaches [-election ID]", false, runBreaches},
	"resolve-breach": {"resolve-breach -id BREACH_ID", false, runResolveBreach},
	"migrate":        {"migrate", false, runMigrate},
}

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall command timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	// migrations are explicit here
	cfg.Database.MigrateOnStart = false

	logger := utils.NewConsoleLogger(cfg.GetLogLevel())
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := execute(ctx, cfg, cmd, flag.Args()[1:], logger); err != nil {
		logger.Error("Command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		os.Exit(1)
	}
}

func execute(ctx context.Context, cfg *config.Config, cmd command, args []string, logger *zap.Logger) error {
	application := app.New(cfg, logger)
	defer application.Stop(context.Background())

	if cmd.ledger {
		if err := application.Open(ctx); err != nil {
			return err
		}
	} else if err := application.Database().Start(ctx); err != nil {
		return err
	}

	return cmd.run(ctx, &env{app: application, out: os.Stdout, logger: logger}, args)
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: admin [-config FILE] [-timeout D] COMMAND [ARGS]\n\ncommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
}

func runFinalize(ctx context.Context, env *env, args []string) error {
	fs := flag.NewFlagSet("finalize", flag.ContinueOnError)
	electionID := fs.Int64("election", 0, "Election ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *electionID <= 0 {
		return errors.New("-election is required")
	}

	outcome, err := env.app.Engines().Finalizer.Finalize(ctx, *electionID)
	if err != nil {
		return err
	}
	election, err := env.app.Database().Repository().GetElection(ctx, *electionID)
	if err != nil {
		return err
	}
	return writeJSON(env.out, map[string]any{
		"election_id": *electionID,
		"outcome":     outcome,
		"phase":       election.Phase,
		"merkle_root": election.MerkleRoot,
	})
}

func runAudit(ctx context.Context, env *env, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	electionID := fs.Int64("election", 0, "Election ID; all auditable elections when omitted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	auditor := env.app.Engines().Auditor
	if *electionID == 0 {
		res, err := auditor.RunAll(ctx)
		if err != nil {
			return err
		}
		return writeJSON(env.out, res)
	}

	election, err := env.app.Database().Repository().GetElection(ctx, *electionID)
	if err != nil {
		return err
	}
	report, err := auditor.AuditElection(ctx, election)
	if err != nil {
		return err
	}
	return writeJSON(env.out, map[string]any{
		"summary": report.Summary,
		"record":  report.Record,
		"breach":  report.Breach,
	})
}

func runProof(ctx context.Context, env *env, args []string) error {
	fs := flag.NewFlagSet("proof", flag.ContinueOnError)
	electionID := fs.Int64("election", 0, "Election ID")
	voterID := fs.String("voter", "", "Voter identifier")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *electionID <= 0 || *voterID == "" {
		return errors.New("-election and -voter are required")
	}

	proof, root, err := env.app.Engines().Finalizer.VoterProof(ctx, *electionID, *voterID)
	if err != nil {
		return err
	}
	siblings := make([]string, len(proof.Siblings))
	for i, s := range proof.Siblings {
		siblings[i] = merkle.EncodeHex(s)
	}
	return writeJSON(env.out, map[string]any{
		"election_id": *electionID,
		"voter":       *voterID,
		"root":        root,
		"leaf":        merkle.EncodeHex(proof.Leaf),
		"proof":       siblings,
	})
}

func runBreaches(ctx context.Context, env *env, args []string) error {
	fs := flag.NewFlagSet("breaches", flag.ContinueOnError)
	electionID := fs.Int64("election", 0, "Election ID; every election when omitted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	breaches, err := env.app.Database().Repository().ListOpenBreaches(ctx, *electionID)
	if err != nil {
		return err
	}
	return writeJSON(env.out, breaches)
}

func runResolveBreach(ctx context.Context, env *env, args []string) error {
	fs := flag.NewFlagSet("resolve-breach", flag.ContinueOnError)
	id := fs.String("id", "", "Breach ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("-id is required")
	}

	if err := env.app.Database().Repository().ResolveBreach(ctx, *id, time.Now()); err != nil {
		return err
	}
	env.logger.Info("Breach resolved", zap.String("breachID", *id))
	return nil
}

func runMigrate(ctx context.Context, env *env, args []string) error {
	if err := env.app.Database().Migrate(ctx); err != nil {
		return err
	}
	env.logger.Info("Migrations applied")
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

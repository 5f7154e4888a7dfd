package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	cli "github.com/urfave/cli/v3"
	"github.com/vanyastaff/nebulav2/pkg/cmd"
	"github.com/vanyastaff/nebulav2/pkg/config"
	"github.com/vanyastaff/nebulav2/pkg/eventbus"
	"github.com/vanyastaff/nebulav2/pkg/graph"
	"github.com/vanyastaff/nebulav2/pkg/log"
	"github.com/vanyastaff/nebulav2/pkg/models"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
	"github.com/vanyastaff/nebulav2/pkg/queue"
	"github.com/vanyastaff/nebulav2/pkg/registry"
	"github.com/vanyastaff/nebulav2/pkg/runner"
	"github.com/vanyastaff/nebulav2/pkg/services"
	"github.com/vanyastaff/nebulav2/pkg/state"
	"github.com/vanyastaff/nebulav2/pkg/template"
)

var errExecutionFailed = errors.New("execution did not succeed")

// env holds what every subcommand needs. close releases the persistence.
type env struct {
	logger      *slog.Logger
	registry    *registry.Registry
	persistence persistence.Persistence
	states      *state.Manager
	workflows   *services.Workflow
	executions  *services.Execution
	out         io.Writer
}

func open(ctx context.Context, command *cli.Command) (*env, error) {
	log.Setup(command.String("log-level"), "text")

	logger := log.WithModule("nebula")

	reg, err := cmd.NewRegistry(logger)
	if err != nil {
		return nil, err
	}

	p, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, err
	}

	states := state.NewManager(p, logger)

	jobs, err := queue.New(p.JobRepository(), logger, queue.DefaultConfig())
	if err != nil {
		return nil, err
	}

	return &env{
		logger:      logger,
		registry:    reg,
		persistence: p,
		states:      states,
		workflows:   services.NewWorkflow(p, reg, logger),
		executions:  services.NewExecution(states, p.WorkflowRepository(), jobs, eventbus.Nop{}, logger),
		out:         command.Root().Writer,
	}, nil
}

func (e *env) close(ctx context.Context) {
	if err := e.persistence.Close(ctx); err != nil {
		e.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}
}

func (e *env) print(value any) error {
	encoder := json.NewEncoder(e.out)
	encoder.SetIndent("", "  ")

	return encoder.Encode(value)
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check a workflow definition file without deploying it",
		ArgsUsage: "<workflow.yaml>",
		Action: func(_ context.Context, command *cli.Command) error {
			def, err := config.LoadWorkflow(command.Args().First())
			if err != nil {
				return err
			}

			g, err := graph.New(def)
			if err != nil {
				return err
			}

			w := command.Root().Writer

			fmt.Fprintf(w, "%s: %d nodes, %d connections, valid\n",
				def.ID, len(def.Nodes), len(def.Connections))
			fmt.Fprintf(w, "entry: %s\n", strings.Join(g.Roots(), ", "))

			for _, id := range g.Order() {
				targets := make([]string, 0, len(g.Outgoing(id)))
				for _, conn := range g.Outgoing(id) {
					targets = append(targets, conn.ToNode)
				}

				if len(targets) > 0 {
					fmt.Fprintf(w, "  %s -> %s\n", id, strings.Join(targets, ", "))
				}
			}

			return nil
		},
	}
}

func deployCommand() *cli.Command {
	return &cli.Command{
		Name:      "deploy",
		Usage:     "Store a workflow definition as its next version",
		ArgsUsage: "<workflow.yaml>",
		Action: func(ctx context.Context, command *cli.Command) error {
			e, err := open(ctx, command)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			def, err := config.LoadWorkflow(command.Args().First())
			if err != nil {
				return err
			}

			deployed, err := e.workflows.Deploy(ctx, def)
			if err != nil {
				return err
			}

			fmt.Fprintf(e.out, "deployed %s version %d\n", deployed.ID, deployed.Version)

			return nil
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Deploy a workflow file and execute it in this process",
		ArgsUsage: "<workflow.yaml>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "trigger",
				Usage: "YAML or JSON file with the trigger data",
			},
			&cli.IntFlag{
				Name:  "max-concurrent-nodes",
				Usage: "Nodes running at the same time",
				Value: 8,
			},
			&cli.DurationFlag{
				Name:  "node-timeout",
				Usage: "Default timeout of a node attempt",
				Value: 5 * time.Minute,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			e, err := open(ctx, command)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			def, err := config.LoadWorkflow(command.Args().First())
			if err != nil {
				return err
			}

			trigger, err := config.LoadTrigger(command.String("trigger"))
			if err != nil {
				return err
			}

			deployed, err := e.workflows.Deploy(ctx, def)
			if err != nil {
				return err
			}

			exec, err := e.executions.CreateExecution(ctx, deployed.ID, deployed.Version, trigger)
			if err != nil {
				return err
			}

			runnerConfig := runner.DefaultConfig()
			runnerConfig.MaxConcurrentNodes = int(command.Int("max-concurrent-nodes"))
			runnerConfig.NodeTimeout = command.Duration("node-timeout")

			r, err := runner.New(e.states, e.registry, template.NewEvaluator(), e.logger, runnerConfig)
			if err != nil {
				return err
			}

			status, err := runToCompletion(ctx, r, exec.ID)
			if err != nil {
				return err
			}

			report, err := e.executions.GetExecutionStatus(ctx, exec.ID)
			if err != nil {
				return err
			}

			if err := e.print(report); err != nil {
				return err
			}

			if status != models.ExecutionSucceeded {
				return fmt.Errorf("%w: %s", errExecutionFailed, status)
			}

			return nil
		},
	}
}

// runToCompletion drives the execution without a queue, sleeping through
// suspensions caused by long retry backoffs.
func runToCompletion(ctx context.Context, r *runner.Runner, executionID string) (models.ExecutionStatus, error) {
	for {
		outcome, err := r.Run(ctx, executionID, nil)
		if err != nil {
			return "", err
		}

		if outcome.ResumeAt == nil {
			return outcome.Status, nil
		}

		timer := time.NewTimer(time.Until(*outcome.ResumeAt))

		select {
		case <-ctx.Done():
			timer.Stop()

			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Print the report of an execution",
		ArgsUsage: "<execution-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			e, err := open(ctx, command)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			report, err := e.executions.GetExecutionStatus(ctx, command.Args().First())
			if err != nil {
				return err
			}

			return e.print(report)
		},
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel an execution; workers stop it at their next status poll",
		ArgsUsage: "<execution-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			e, err := open(ctx, command)
			if err != nil {
				return err
			}
			defer e.close(ctx)

			id := command.Args().First()

			if err := e.executions.CancelExecution(ctx, id); err != nil {
				return err
			}

			fmt.Fprintf(e.out, "cancelled %s\n", id)

			return nil
		},
	}
}

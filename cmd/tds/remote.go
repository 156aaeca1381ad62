package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	tdssdk "techdebtsim/sdk/go"
)

func remoteCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "remote",
		Short: "Control a running tds serve instance",
	}
	c.PersistentFlags().String("url", "http://127.0.0.1:8080", "server base URL")
	c.PersistentFlags().String("token", "", "bearer token for mutating calls")
	_ = viper.BindPFlag("url", c.PersistentFlags().Lookup("url"))
	_ = viper.BindPFlag("token", c.PersistentFlags().Lookup("token"))

	c.AddCommand(remoteStatusCmd(), remoteStepCmd(), remoteSpeedCmd(), remoteHireCmd(), remoteApproveCmd(), remoteSetCmd())
	for _, action := range []string{"start", "pause", "resume", "stop", "reset"} {
		c.AddCommand(remoteControlCmd(action))
	}
	return c
}

func newClient() *tdssdk.Client {
	client := tdssdk.New(viper.GetString("url"))
	client.BearerToken = viper.GetString("token")
	return client
}

func remoteStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show live metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newClient().Metrics(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(m)
			}
			renderRemoteMetrics(m)
			return nil
		},
	}
}

func renderRemoteMetrics(m tdssdk.Metrics) {
	state := "stopped"
	switch {
	case m.IsRunning && m.IsPaused:
		state = "paused"
	case m.IsRunning:
		state = "running"
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle(fmt.Sprintf("Step %d (%s)", m.Step, state))
	tw.AppendRow(table.Row{"Reputation", m.Product.Reputation})
	tw.AppendRow(table.Row{"Users", m.Product.UserCount})
	tw.AppendRow(table.Row{"Revenue", m.Product.Revenue})
	tw.AppendRow(table.Row{"Code quality", m.Codebase.CodeQuality})
	tw.AppendRow(table.Row{"Failure %", m.Codebase.FailureProbability})
	tw.AppendRow(table.Row{"Maintenance", m.Codebase.MaintenanceCost})
	tw.AppendRow(table.Row{"Developers", m.Team.DeveloperCount})
	tw.AppendRow(table.Row{"Satisfaction", m.Team.AverageSatisfaction})
	tw.AppendRow(table.Row{"Ideas / Todo / WIP / Done", fmt.Sprintf("%d / %d / %d / %d",
		m.Team.IdeaQueueLength, m.Team.TodoListLength, m.Team.InProgressCount, m.Team.CompletedCount)})
	tw.Render()
}

func remoteControlCmd(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: "Send " + action + " to the simulation",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := newClient().Control(cmd.Context(), action)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(state)
			}
			fmt.Printf("%s: changed=%t running=%t paused=%t step=%d\n", action, state.Changed, state.Running, state.Paused, state.Step)
			return nil
		},
	}
}

func remoteStepCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Advance the remote simulation",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newClient().Step(cmd.Context(), count)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			for _, r := range res.Reports {
				if len(r.CompletedProjects) == 0 && len(r.LeavingDevelopers) == 0 {
					continue
				}
				fmt.Printf("step %d: %d completed, %d left\n", r.Step, len(r.CompletedProjects), len(r.LeavingDevelopers))
			}
			renderRemoteMetrics(res.Metrics)
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "steps to run")
	return cmd
}

func remoteSpeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "speed <steps-per-second>",
		Short: "Change the real-time rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid rate %q", args[0])
			}
			state, err := newClient().SetSpeed(cmd.Context(), rate)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(state)
			}
			fmt.Printf("steps per second: %g\n", state.StepsPerSecond)
			return nil
		},
	}
}

func remoteHireCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "hire",
		Short: "Hire a developer",
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := newClient().HireDeveloper(cmd.Context(), name)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(dev)
			}
			fmt.Printf("hired %s (%s) skill=%.1f tolerance=%.1f\n", dev.Name, dev.ID, dev.BaseSkill, dev.TechDebtTolerance)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "developer name; generated when empty")
	return cmd
}

func remoteApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <project-id>",
		Short: "Move an idea to the todo list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().ApproveProject(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("approved", args[0])
			return nil
		},
	}
}

func remoteSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a tuning constant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid value %q", args[1])
			}
			if err := newClient().SetConstant(cmd.Context(), args[0], v); err != nil {
				return err
			}
			fmt.Printf("%s = %g\n", args[0], v)
			return nil
		},
	}
}

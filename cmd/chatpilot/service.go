package main

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/chatpilot/pkg/app"
)

// program adapts the blocking app.Run loop to the service manager's
// Start/Stop callbacks.
type program struct {
	configPath string
	done       chan error
}

func (p *program) Start(service.Service) error {
	p.done = make(chan error, 1)
	go func() {
		p.done <- app.Run(app.RunParams{
			ConfigPath: p.configPath,
			Version:    version,
			Commit:     commit,
			Date:       date,
			LogLevel:   slog.LevelInfo,
		})
	}()
	return nil
}

func (p *program) Stop(service.Service) error {
	// app.Run exits its signal loop on SIGTERM.
	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		return err
	}
	return <-p.done
}

func newService(configPath string) (service.Service, *program, error) {
	prg := &program{configPath: configPath}
	args := []string{"service", "run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	svc, err := service.New(prg, &service.Config{
		Name:        "chatpilot",
		DisplayName: "chatpilot",
		Description: "Self-hosted conversational assistant",
		Arguments:   args,
	})
	if err != nil {
		return nil, nil, err
	}
	return svc, prg, nil
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage chatpilot as a system service",
	}
	cmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file")

	control := func(use, short string, action func(service.Service) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfgPath, _ := cmd.Flags().GetString("config")
				svc, _, err := newService(cfgPath)
				if err != nil {
					return err
				}
				if err := action(svc); err != nil {
					return err
				}
				fmt.Printf("Service %s: done\n", use)
				return nil
			},
		}
	}

	cmd.AddCommand(
		control("install", "Install the system service", service.Service.Install),
		control("uninstall", "Remove the system service", service.Service.Uninstall),
		control("start", "Start the installed service", service.Service.Start),
		control("stop", "Stop the installed service", service.Service.Stop),
		control("restart", "Restart the installed service", service.Service.Restart),
		&cobra.Command{
			Use:   "status",
			Short: "Show the installed service's status",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfgPath, _ := cmd.Flags().GetString("config")
				svc, _, err := newService(cfgPath)
				if err != nil {
					return err
				}
				status, err := svc.Status()
				if err != nil {
					return err
				}
				switch status {
				case service.StatusRunning:
					fmt.Println("running")
				case service.StatusStopped:
					fmt.Println("stopped")
				default:
					fmt.Println("unknown")
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "run",
			Short: "Run under the service manager (used by the installed unit)",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfgPath, _ := cmd.Flags().GetString("config")
				svc, _, err := newService(cfgPath)
				if err != nil {
					return err
				}
				return svc.Run()
			},
		},
	)
	return cmd
}

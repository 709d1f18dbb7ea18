package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/callout/internal/directory"
	"github.com/good-yellow-bee/callout/internal/ledger"
	"github.com/good-yellow-bee/callout/internal/metrics"
	"github.com/good-yellow-bee/callout/internal/monitor"
	"github.com/good-yellow-bee/callout/internal/notifier"
	"github.com/good-yellow-bee/callout/internal/schedule"
	"github.com/good-yellow-bee/callout/internal/zabbix"
	"github.com/good-yellow-bee/callout/pkg/config"
)

var (
	configFile string
	verbose    bool
	shiftDays  int
)

var rootCmd = &cobra.Command{
	Use:   "callout",
	Short: "Callout - incident deduplication and on-call routing engine",
	Long: `Callout polls a Zabbix monitoring source for open problems, posts chat
alerts for new incidents, and escalates critical ones to the on-call
engineer's phone through Asterisk.`,
	RunE: runMonitor,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("callout %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe connectivity to the monitoring source, directory store, and PBX",
	RunE:  runCheck,
}

var shiftsCmd = &cobra.Command{
	Use:   "shifts",
	Short: "Show the upcoming on-call shift assignments",
	RunE:  runShifts,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "callout.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	shiftsCmd.Flags().IntVarP(&shiftDays, "days", "d", 7, "number of days to show")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(shiftsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*Config, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Verbose = verbose
	return cfg, nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.Printf("[callout] %s starting: %s", config.VersionString(), cfg.Summary())

	hours, err := cfg.BusinessHours()
	if err != nil {
		return err
	}

	source, err := zabbix.NewClient(zabbix.Config{
		URL:         cfg.Zabbix.URL,
		Token:       cfg.Zabbix.Token,
		InsecureTLS: cfg.Zabbix.InsecureTLS,
		Timeout:     cfg.Zabbix.Timeout,
	})
	if err != nil {
		return fmt.Errorf("init zabbix client: %w", err)
	}

	chat, err := notifier.NewSlackNotifier(notifier.SlackConfig{
		WebhookURL: cfg.Slack.WebhookURL,
		RateLimit: notifier.RateLimitConfig{
			MaxPerWindow: cfg.Slack.MaxPerMinute,
			Window:       time.Minute,
			Enabled:      cfg.Slack.RateLimit,
		},
	})
	if err != nil {
		return fmt.Errorf("init slack notifier: %w", err)
	}
	defer chat.Close()

	voice, err := notifier.NewAMINotifier(notifier.AMIConfig{
		Host:        cfg.Asterisk.Host,
		Port:        cfg.Asterisk.Port,
		Username:    cfg.Asterisk.Username,
		Secret:      cfg.Asterisk.Secret,
		CallerID:    cfg.Asterisk.CallerID,
		Trunk:       cfg.Asterisk.Trunk,
		RingTimeout: cfg.Asterisk.RingTimeout,
	})
	if err != nil {
		return fmt.Errorf("init AMI notifier: %w", err)
	}
	defer voice.Close()

	dir, err := newDirectoryStore(cfg, hours)
	if err != nil {
		return err
	}
	defer dir.Close()

	store := ledger.NewStore(cfg.Monitor.LedgerPath)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy, err := newPolicySource(ctx, cfg)
	if err != nil {
		return err
	}

	engine, err := monitor.NewEngine(monitor.Options{
		PollInterval:     cfg.Monitor.PollInterval,
		LookbackDays:     cfg.Monitor.LookbackDays,
		FallbackPhone:    cfg.Monitor.FallbackPhone,
		GroupLabel:       cfg.Monitor.GroupLabel,
		NotifyTagKey:     cfg.Tags.NotifyKey,
		NotifyTagChannel: cfg.Tags.NotifyChannel,
		AssigneeTagKey:   cfg.Tags.AssigneeKey,
	}, source, dir, store, chat, voice, policy)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Address)
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Printf("[callout] %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(shutdownCtx)
		}()
	}

	engine.Run(ctx)
	return nil
}

// newPolicySource loads the escalation policy: the watched file when one
// is configured, the built-in policy otherwise.
func newPolicySource(ctx context.Context, cfg *Config) (monitor.PolicySource, error) {
	if cfg.Monitor.PolicyFile == "" {
		return monitor.StaticPolicy{Policy: monitor.DefaultPolicy()}, nil
	}
	watcher, err := monitor.NewPolicyWatcher(cfg.Monitor.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	go watcher.Watch(ctx)
	return watcher, nil
}

func newDirectoryStore(cfg *Config, hours schedule.Hours) (*directory.Store, error) {
	store, err := directory.New(directory.Config{
		Driver:   cfg.Directory.Driver,
		Host:     cfg.Directory.Host,
		Port:     cfg.Directory.Port,
		User:     cfg.Directory.User,
		Password: cfg.Directory.Password,
		Database: cfg.Directory.Database,
		SSLMode:  cfg.Directory.SSLMode,
	}, hours)
	if err != nil {
		return nil, fmt.Errorf("init directory store: %w", err)
	}
	return store, nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	hours, err := cfg.BusinessHours()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failed := false

	source, err := zabbix.NewClient(zabbix.Config{
		URL:         cfg.Zabbix.URL,
		Token:       cfg.Zabbix.Token,
		InsecureTLS: cfg.Zabbix.InsecureTLS,
		Timeout:     cfg.Zabbix.Timeout,
	})
	if err == nil {
		err = source.Ping(ctx)
	}
	failed = report("zabbix", err) || failed

	dir, err := newDirectoryStore(cfg, hours)
	if err == nil {
		defer dir.Close()
		err = dir.Ping(ctx)
	}
	failed = report("directory", err) || failed

	voice, err := notifier.NewAMINotifier(notifier.AMIConfig{
		Host:     cfg.Asterisk.Host,
		Port:     cfg.Asterisk.Port,
		Username: cfg.Asterisk.Username,
		Secret:   cfg.Asterisk.Secret,
		CallerID: cfg.Asterisk.CallerID,
		Trunk:    cfg.Asterisk.Trunk,
	})
	if err == nil {
		err = voice.Ping(ctx)
	}
	failed = report("asterisk", err) || failed

	if failed {
		return fmt.Errorf("one or more probes failed")
	}
	fmt.Println("all probes passed")
	return nil
}

func report(name string, err error) bool {
	if err != nil {
		fmt.Printf("  %-10s FAIL  %v\n", name, err)
		return true
	}
	fmt.Printf("  %-10s OK\n", name)
	return false
}

func runShifts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	hours, err := cfg.BusinessHours()
	if err != nil {
		return err
	}

	dir, err := newDirectoryStore(cfg, hours)
	if err != nil {
		return err
	}
	defer dir.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shifts, err := dir.UpcomingShifts(ctx, time.Now(), shiftDays)
	if err != nil {
		return fmt.Errorf("fetch shifts: %w", err)
	}
	if len(shifts) == 0 {
		fmt.Printf("no shifts registered for the next %d days\n", shiftDays)
		return nil
	}

	fmt.Printf("%-12s %-25s %-12s %s\n", "DATE", "NAME", "PHONE", "AREA")
	for _, s := range shifts {
		fmt.Printf("%-12s %-25s %-12s %s\n",
			s.ShiftDate.Format("2006-01-02"), s.FullName, s.Phone, s.Area)
	}
	return nil
}

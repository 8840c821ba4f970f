package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
	"tinygo.org/x/bluetooth"

	"github.com/lowaak/cable-trainer/internal/backup"
	"github.com/lowaak/cable-trainer/internal/bt"
	"github.com/lowaak/cable-trainer/internal/machine"
	"github.com/lowaak/cable-trainer/internal/plan"
	"github.com/lowaak/cable-trainer/internal/protocol"
	"github.com/lowaak/cable-trainer/internal/store"
)

const (
	scanWindow     = 30 * time.Second
	connectTimeout = 10 * time.Second
)

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".cable-trainer")
}

// loadConfig layers defaults, the YAML config file and command-line flags.
func loadConfig() (*viper.Viper, error) {
	pflag.String("config", "", "config file (default ~/.cable-trainer/config.yaml)")
	pflag.Bool("mock", false, "run against a simulated machine instead of scanning")
	pflag.String("plan", "", "YAML plan file to import and run")
	pflag.String("device-prefix", protocol.DeviceNamePrefix, "advertised name prefix to scan for")
	pflag.String("backup-url", "", "set summary collector URL (empty disables uploads)")
	pflag.Parse()

	v := viper.New()
	v.SetDefault("device-prefix", protocol.DeviceNamePrefix)
	v.SetDefault("monitor-interval", machine.DefaultMonitorInterval)
	v.SetDefault("property-interval", machine.DefaultPropertyInterval)
	v.SetDefault("scan-timeout", 10*time.Second)
	v.SetDefault("db-path", filepath.Join(configDir(), "plans.db"))
	v.SetDefault("log-file", filepath.Join(configDir(), "cable-trainer.log"))
	v.SetDefault("backup-url", "")

	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		return nil, err
	}

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

// newLogger routes everything to a size-rotated file; stdout belongs to
// the dashboard.
func newLogger(path string) *log.Logger {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "cannot create log directory: %v\n", err)
	}
	return log.New(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    5, // MB
		MaxBackups: 3,
	}, "", log.LstdFlags|log.Lmsgprefix)
}

// connectMachine scans for the first matching peripheral and connects.
func connectMachine(logger *log.Logger, prefix string, scanTimeout time.Duration) (bt.Device, func(), error) {
	manager := bt.NewManager(bluetooth.DefaultAdapter, logger, scanTimeout)
	if err := manager.Enable(); err != nil {
		return nil, nil, fmt.Errorf("enable BLE stack: %w", err)
	}
	manager.StartScan(prefix)

	deadline := time.Now().Add(scanWindow)
	var device bt.Device
	for device == nil {
		if time.Now().After(deadline) {
			manager.Shutdown()
			return nil, nil, fmt.Errorf("no machine named %q* found within %v", prefix, scanWindow)
		}
		if devices := manager.GetScanDevices(); len(devices) > 0 {
			device = devices[0]
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err := manager.StopScan(); err != nil {
		logger.Printf("main: stop scan: %v", err)
	}

	logger.Printf("main: connecting to %s (%s)", device.GetLocalName(), device.GetAddressString())
	if err := manager.Connect(device); err != nil {
		manager.Shutdown()
		return nil, nil, err
	}
	if err := device.WaitForConnection(connectTimeout); err != nil {
		manager.Shutdown()
		return nil, nil, err
	}
	return device, manager.Shutdown, nil
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.GetString("log-file"))
	logger.Printf("main: starting")

	var device bt.Device
	cleanup := func() {}
	if cfg.GetBool("mock") {
		mock := machine.NewMockDevice(logger)
		device = mock
		cleanup = mock.Close
	} else {
		var err error
		device, cleanup, err = connectMachine(logger, cfg.GetString("device-prefix"), cfg.GetDuration("scan-timeout"))
		if err != nil {
			return err
		}
	}
	defer cleanup()

	queue := bt.NewOpQueue(device, logger)
	defer queue.Close()

	session := machine.NewSession(queue, logger, machine.SessionConfig{
		MonitorInterval:  cfg.GetDuration("monitor-interval"),
		PropertyInterval: cfg.GetDuration("property-interval"),
	})
	if err := session.Begin(); err != nil {
		return err
	}
	defer session.Close()

	planStore, err := store.Open(cfg.GetString("db-path"), logger)
	if err != nil {
		return err
	}
	defer planStore.Close()

	backupClient := backup.NewClient(cfg.GetString("backup-url"), logger)
	scheduler := plan.NewScheduler(session, logger, func(r plan.SetRecord) {
		backupClient.Submit(backup.NewSummary(r))
	}, nil)
	defer scheduler.Shutdown()

	activePlan, err := resolvePlan(cfg.GetString("plan"), planStore)
	if err != nil {
		return err
	}

	dash := newDashboard(session, scheduler, activePlan, logger)
	return dash.run()
}

// resolvePlan imports the given YAML file (saving it to the store), or
// falls back to the first stored plan.
func resolvePlan(path string, planStore *store.PlanStore) (plan.Plan, error) {
	if path != "" {
		p, err := store.ImportYAML(path)
		if err != nil {
			return plan.Plan{}, err
		}
		if err := planStore.Save(p); err != nil {
			return plan.Plan{}, err
		}
		return p, nil
	}
	names, err := planStore.List()
	if err != nil {
		return plan.Plan{}, err
	}
	if len(names) == 0 {
		return plan.Plan{}, fmt.Errorf("no stored plans; pass --plan <file.yaml>")
	}
	return planStore.Load(names[0])
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cable-trainer: %v\n", err)
		os.Exit(1)
	}
}

package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ParseSchedule validates a 5-field cron expression or a descriptor such
// as "@every 5m" or "@hourly".
func ParseSchedule(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, errors.New("status: schedule is required")
	}
	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "TZ=") {
		return nil, errors.New("status: schedule must not carry a timezone prefix")
	}
	schedule, err := scheduleParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("status: invalid schedule: %w", err)
	}
	return schedule, nil
}

// LoggerConfig configures a Logger.
type LoggerConfig struct {
	Reporter *Reporter
	Schedule string
	Logger   *slog.Logger
}

// Logger writes a status snapshot to the log on a cron schedule.
type Logger struct {
	reporter *Reporter
	schedule cron.Schedule
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewLogger validates cfg and returns a stopped Logger.
func NewLogger(cfg LoggerConfig) (*Logger, error) {
	if cfg.Reporter == nil {
		return nil, errors.New("status: logger requires a reporter")
	}
	schedule, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		reporter: cfg.Reporter,
		schedule: schedule,
		logger:   logger,
	}, nil
}

// LogOnce logs one snapshot now.
func (l *Logger) LogOnce() {
	report := l.reporter.Status()
	names := make([]string, 0, len(report.Tools))
	for _, t := range report.Tools {
		names = append(names, t.Name)
	}
	l.logger.Info("bridge status",
		"status", report.Status,
		"discovered_tools", report.DiscoveredTools,
		"tools", strings.Join(names, ","),
		"subscribers", report.Subscribers,
		"catalog_digest", report.CatalogDigest,
	)
}

// Start begins scheduled logging. Calling Start on a running Logger is a
// no-op.
func (l *Logger) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cron != nil {
		return
	}
	c := cron.New(cron.WithLocation(time.UTC))
	c.Schedule(l.schedule, cron.FuncJob(l.LogOnce))
	c.Start()
	l.cron = c
}

// Stop halts scheduling and waits for a running snapshot to finish or ctx
// to end.
func (l *Logger) Stop(ctx context.Context) error {
	l.mu.Lock()
	c := l.cron
	l.cron = nil
	l.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

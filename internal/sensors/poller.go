// Package sensors holds what the polled sensor drivers share: the cron
// poller, the publishing sinks and the MQTT subscription hook.
package sensors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/genie-bridge/internal/entity"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/mqtt"
)

// StateWriter is the part of the entity registry sensors publish to.
type StateWriter interface {
	Set(ctx context.Context, entityID, state string, attrs entity.Attributes) (*entity.State, error)
}

// ReadingWriter records numeric samples. *influxdb.Client implements it.
type ReadingWriter interface {
	WriteReading(r influxdb.Reading)
}

// Subscriber is the part of the MQTT client gateway sources use.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Logger is the logging interface used by the sensor drivers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NoopLogger drops everything.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}

// Updater is a device refreshed on a schedule.
type Updater interface {
	Update(ctx context.Context)
}

// Poller runs updaters on "@every <interval>" cron schedules.
type Poller struct {
	cron   *cron.Cron
	logger Logger

	ctx     context.Context
	cancel  context.CancelFunc
	initial sync.WaitGroup
}

// NewPoller creates a stopped poller. Overlapping runs of the same job
// are skipped.
func NewPoller(logger Logger) *Poller {
	if logger == nil {
		logger = NoopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger}))),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add schedules u every interval. The first update runs on Start.
func (p *Poller) Add(name string, interval time.Duration, u Updater) error {
	if interval <= 0 {
		return fmt.Errorf("sensors: %s: interval must be positive", name)
	}

	if _, err := p.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		p.logger.Debug("polling sensor", "name", name)
		u.Update(p.ctx)
	}); err != nil {
		return fmt.Errorf("sensors: scheduling %s: %w", name, err)
	}

	p.logger.Info("sensor scheduled", "name", name, "interval", interval.String())
	return nil
}

// Start runs every job once, then starts the schedule.
func (p *Poller) Start() {
	for _, e := range p.cron.Entries() {
		p.initial.Add(1)
		go func() {
			defer p.initial.Done()
			e.WrappedJob.Run()
		}()
	}
	p.cron.Start()
}

// Stop halts the schedule and waits for running jobs.
func (p *Poller) Stop() {
	p.cancel()
	<-p.cron.Stop().Done()
	p.initial.Wait()
}

// Len returns the number of scheduled jobs.
func (p *Poller) Len() int {
	return len(p.cron.Entries())
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct{ l Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

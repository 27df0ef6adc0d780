package oribot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

// messageSender is the slice of the gateway session the reporter needs.
type messageSender interface {
	ChannelMessageSend(
		channelID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
}

// ExceptionReporter delivers error reports to the operations channel.
// Reports that cannot be delivered are queued and retried on a fixed
// interval until they go through.
type ExceptionReporter struct {
	sender    messageSender
	channelID string
	logger    *slog.Logger
	// Throttles channel sends so a failure storm cannot hammer the
	// channel API.
	limiter       *rate.Limiter
	retryInterval time.Duration

	mu      sync.Mutex
	pending []string
}

func NewExceptionReporter(
	sender messageSender,
	channelID string,
	handler slog.Handler,
) *ExceptionReporter {
	return &ExceptionReporter{
		sender:        sender,
		channelID:     channelID,
		logger:        slog.New(handler).With(loggerNameKey, "reporter"),
		limiter:       rate.NewLimiter(rate.Every(2*time.Second), 5),
		retryInterval: DefaultReporterRetry,
	}
}

// ReportContext names where a failure happened, for the ops message.
type ReportContext struct {
	ChannelID string
	// Jump URL of the triggering message, when there is one.
	MessageURL string
}

func (r *ExceptionReporter) format(err error, rc ReportContext, reason string) string {
	report := "There was an error"
	if rc.MessageURL != "" {
		report += " in: " + rc.MessageURL
	} else if rc.ChannelID != "" {
		report += fmt.Sprintf(" in: <#%s>", rc.ChannelID)
	}
	report += fmt.Sprintf("\n**__%T__** %s\n%s", err, reason, err.Error())
	return report
}

// Report sends an error report to the ops channel. Delivery failures
// queue the report for the retry loop; Report itself never fails.
func (r *ExceptionReporter) Report(
	ctx context.Context,
	err error,
	rc ReportContext,
	reason string,
) {
	r.logger.ErrorContext(ctx, reason, tint.Err(err))
	report := r.format(err, rc, reason)
	if sendErr := r.send(ctx, report); sendErr != nil {
		r.logger.WarnContext(
			ctx,
			"couldn't deliver error report, queueing for retry",
			tint.Err(sendErr),
		)
		report += "\n**__This report couldn't be sent previously__** queued at: " +
			time.Now().UTC().Format(time.RFC3339)
		r.mu.Lock()
		r.pending = append(r.pending, report)
		r.mu.Unlock()
	}
}

func (r *ExceptionReporter) send(ctx context.Context, report string) error {
	if r.channelID == "" {
		return nil
	}
	for _, chunk := range chunkMessage(report, discordSafeMessageLen) {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := r.sender.ChannelMessageSend(r.channelID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// Run retries queued reports until ctx is cancelled.
func (r *ExceptionReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

func (r *ExceptionReporter) flush(ctx context.Context) {
	r.mu.Lock()
	queued := r.pending
	r.pending = nil
	r.mu.Unlock()

	for i, report := range queued {
		if err := r.send(ctx, report); err != nil {
			r.logger.WarnContext(
				ctx,
				"retry failed, keeping queued reports",
				tint.Err(err),
			)
			r.mu.Lock()
			r.pending = append(queued[i:], r.pending...)
			r.mu.Unlock()
			return
		}
	}
}

// pendingCount is used by tests.
func (r *ExceptionReporter) pendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// recoverPanic reports a panic from an event handler goroutine. Every
// fire-and-forget handler defers this so a fault never takes down the
// dispatch loop.
func (r *ExceptionReporter) recoverPanic(ctx context.Context, scope string) {
	rv := recover()
	if rv == nil {
		return
	}
	err, ok := rv.(error)
	if !ok {
		err = fmt.Errorf("%v", rv)
	}
	r.logger.ErrorContext(
		ctx,
		"panic in handler",
		"scope", scope,
		"stack", string(debug.Stack()),
		tint.Err(err),
	)
	r.Report(ctx, err, ReportContext{}, "panic in "+scope)
}

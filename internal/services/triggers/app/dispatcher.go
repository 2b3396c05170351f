package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/louisbranch/revents/internal/platform/logging"
	platformotel "github.com/louisbranch/revents/internal/platform/otel"
	"github.com/louisbranch/revents/internal/platform/timeouts"
	"github.com/louisbranch/revents/internal/services/triggers/docstore"
	"github.com/louisbranch/revents/internal/services/triggers/domain"
	"github.com/louisbranch/revents/internal/services/triggers/trigger"
)

const tracerName = "github.com/louisbranch/revents/internal/services/triggers/app"

// Result summarizes one dispatch for the delivery loop.
type Result struct {
	// Handlers names the bindings that ran, in table order.
	Handlers []string
	Err      error
	// Permanent is set when every failing handler failed permanently.
	Permanent bool
}

// Dispatcher runs the handlers bound to a change, each within its own
// execution budget. Handler failures are logged and reported in the Result;
// they never propagate to the writer that produced the change.
type Dispatcher struct {
	table  *trigger.Table
	logger *zap.Logger
	tracer trace.Tracer
	budget time.Duration
}

// NewDispatcher creates a dispatcher; a non-positive budget uses the default.
func NewDispatcher(table *trigger.Table, logger *zap.Logger, budget time.Duration) *Dispatcher {
	logger = logging.OrNop(logger)
	if budget <= 0 {
		budget = timeouts.HandlerBudget
	}
	return &Dispatcher{
		table:  table,
		logger: logger.Named("dispatcher"),
		tracer: platformotel.Tracer(tracerName),
		budget: budget,
	}
}

// Dispatch invokes every binding matching change.
func (d *Dispatcher) Dispatch(ctx context.Context, change docstore.Change) Result {
	matches := d.table.Resolve(change)
	result := Result{Handlers: make([]string, 0, len(matches))}
	if len(matches) == 0 {
		return result
	}

	var errs []error
	permanent := true
	for _, match := range matches {
		result.Handlers = append(result.Handlers, match.Binding.Name)
		err := d.invoke(ctx, match)
		if err == nil {
			continue
		}
		if !domain.IsPermanent(err) {
			permanent = false
		}
		errs = append(errs, fmt.Errorf("%s: %w", match.Binding.Name, err))
	}
	if len(errs) > 0 {
		result.Err = errors.Join(errs...)
		result.Permanent = permanent
	}
	return result
}

func (d *Dispatcher) invoke(ctx context.Context, match trigger.Match) (err error) {
	event := match.Event
	ctx, span := d.tracer.Start(ctx, "trigger."+match.Binding.Name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("trigger.change_id", event.ChangeID),
			attribute.String("trigger.path", event.Path),
			attribute.String("trigger.lifecycle", string(event.Lifecycle)),
			attribute.Int("trigger.attempt", event.Attempt),
		),
	)
	ctx, cancel := context.WithTimeout(ctx, d.budget)
	started := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			err = domain.Permanentf("handler panic: %v", recovered)
		}
		cancel()

		fields := []zap.Field{
			zap.String("handler", match.Binding.Name),
			zap.String("change_id", event.ChangeID),
			zap.String("path", event.Path),
			zap.String("lifecycle", string(event.Lifecycle)),
			zap.Int("attempt", event.Attempt),
			zap.Duration("elapsed", time.Since(started)),
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.logger.Warn("trigger handler failed", append(fields, zap.Bool("permanent", domain.IsPermanent(err)), zap.Error(err))...)
		} else {
			d.logger.Debug("trigger handler completed", fields...)
		}
		span.End()
	}()

	return match.Binding.Handler.Handle(ctx, event)
}

func handlerNames(names []string) string {
	return strings.Join(names, ",")
}

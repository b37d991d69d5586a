package handlers

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/queueflow/internal/runtime/event"
)

const tracerName = "github.com/drblury/queueflow/handlers"

// OutcomeKind classifies a handler run.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetry
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the result of invoking an event's handler chain. HandlerIndex is
// the position of the handler that stopped the chain, or -1 on success.
type Outcome struct {
	Kind         OutcomeKind
	Retry        *RetryDirective
	Err          error
	HandlerIndex int
	HandlerName  string
}

// PanicError carries a recovered handler panic and the goroutine stack.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", p.Value)
}

// Invoke runs handlers sequentially and stops at the first non-success.
// Earlier handlers' effects are not rolled back.
func Invoke(ctx context.Context, evt event.Event, hs []Handler) Outcome {
	tracer := otel.Tracer(tracerName)
	for i, h := range hs {
		name := NameOf(h)
		spanCtx, span := tracer.Start(ctx, "queueflow.handle "+evt.Name(),
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("queueflow.event.id", evt.ID()),
				attribute.String("queueflow.event.name", evt.Name()),
				attribute.String("queueflow.handler", name),
				attribute.Int("queueflow.handler.index", i),
			),
		)
		err := safeHandle(spanCtx, h, evt)
		outcome := classify(err, i, name)
		switch outcome.Kind {
		case OutcomeRetry:
			span.SetAttributes(
				attribute.Bool("queueflow.retry", true),
				attribute.Int64("queueflow.retry.in_ms", outcome.Retry.Delay().Milliseconds()),
			)
		case OutcomeFailure:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if outcome.Kind != OutcomeSuccess {
			return outcome
		}
	}
	return Outcome{Kind: OutcomeSuccess, HandlerIndex: -1}
}

func classify(err error, index int, name string) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeSuccess, HandlerIndex: -1}
	}
	var directive *RetryDirective
	if errors.As(err, &directive) && directive != nil {
		return Outcome{Kind: OutcomeRetry, Retry: directive, Err: err, HandlerIndex: index, HandlerName: name}
	}
	return Outcome{Kind: OutcomeFailure, Err: err, HandlerIndex: index, HandlerName: name}
}

func safeHandle(ctx context.Context, h Handler, evt event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h.Handle(ctx, evt)
}

func typeName(h Handler) string {
	if h == nil {
		return "<nil>"
	}
	v := reflect.ValueOf(h)
	if v.Kind() == reflect.Func {
		if fn := runtime.FuncForPC(v.Pointer()); fn != nil {
			return fn.Name()
		}
		return "func"
	}
	return v.Type().String()
}

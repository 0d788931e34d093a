// pkg/jns_io/context.go

package jns_io

import (
	"context"
	"time"

	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/jns_err"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/logger"
	"github.com/Forcepoint/fp-pta-ansible-jenkins-node-ssh/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RuntimeContext carries the per-run context, logger and span through every step.
type RuntimeContext struct {
	Ctx        context.Context
	Log        *zap.Logger
	Span       trace.Span
	Timestamp  time.Time
	Command    string
	TraceID    string
	Attributes map[string]string
}

// NewContext opens a span named after the command and scopes a logger to it.
func NewContext(parent context.Context, cmdName string) *RuntimeContext {
	ctx, span := telemetry.Start(parent, cmdName)

	traceID := logger.GenerateTraceID()
	if span.SpanContext().HasTraceID() {
		traceID = span.SpanContext().TraceID().String()
	}

	log := logger.L().With(
		zap.String("command", cmdName),
		zap.String("trace_id", traceID),
	).Named(cmdName)

	return &RuntimeContext{
		Ctx:        ctx,
		Log:        log,
		Span:       span,
		Timestamp:  time.Now(),
		Command:    cmdName,
		TraceID:    traceID,
		Attributes: make(map[string]string),
	}
}

// End logs the outcome, records it on the span and closes the span.
func (rc *RuntimeContext) End(errPtr *error) {
	defer rc.Span.End()

	var err error
	if errPtr != nil {
		err = *errPtr
	}
	duration := time.Since(rc.Timestamp)

	if err == nil {
		rc.Log.Info("Command completed", zap.Duration("duration", duration))
	} else {
		rc.Log.Error("Command failed",
			zap.Duration("duration", duration),
			zap.String("error_category", jns_err.CategoryOf(err).String()),
			zap.Error(err))
		rc.Span.RecordError(err)
		rc.Span.SetStatus(codes.Error, err.Error())
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("success", err == nil),
		attribute.Int64("duration_ms", duration.Milliseconds()),
	}
	for k, v := range rc.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	rc.Span.SetAttributes(attrs...)
}

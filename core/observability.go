package core

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

const metricPrefix = "smarthome."

// fields copied from the log line onto metric tags when present
var promotedTagFields = []string{"directive", "event_name", "error_text_code"}

// observer emits one structured log line and a counter plus duration
// histogram per service operation. Every field passes through
// RedactSensitiveMap before it reaches the logger.
type observer struct {
	logger  Logger
	metrics MetricsRecorder
}

func newObserver(logger Logger, metrics MetricsRecorder) *observer {
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return &observer{logger: logger, metrics: metrics}
}

// observe records operation. Metrics are named smarthome.<op>.total and
// smarthome.<op>.duration_ms and tagged with the outcome.
func (o *observer) observe(ctx context.Context, startedAt time.Time, operation string, err error, fields map[string]any) {
	if o == nil {
		return
	}
	op := operationName(operation)
	elapsed := time.Since(startedAt).Milliseconds()
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}

	line := cloneFields(fields)
	line["event_type"] = op
	line["status"] = outcome
	line["duration_ms"] = elapsed
	if err != nil {
		addErrorFields(line, err)
	}

	tags := map[string]string{"operation": op, "status": outcome}
	for _, key := range promotedTagFields {
		if value, ok := line[key]; ok && value != nil {
			if text := strings.TrimSpace(fmt.Sprint(value)); text != "" {
				tags[key] = text
			}
		}
	}
	if o.metrics != nil {
		o.metrics.IncCounter(ctx, metricPrefix+op+".total", 1, cloneTags(tags))
		o.metrics.ObserveHistogram(ctx, metricPrefix+op+".duration_ms", float64(elapsed), cloneTags(tags))
	}

	if err != nil {
		o.logError(ctx, op+" failed", line)
		return
	}
	o.logInfo(ctx, op+" succeeded", line)
}

func addErrorFields(line map[string]any, err error) {
	line["error"] = err.Error()
	rich := richError(err)
	if rich == nil {
		return
	}
	line["error_category"] = fmt.Sprint(rich.Category)
	line["error_text_code"] = rich.TextCode
	if len(rich.Metadata) > 0 {
		line["error_metadata"] = RedactSensitiveMap(rich.Metadata)
	}
}

func (o *observer) logInfo(ctx context.Context, message string, fields map[string]any) {
	o.emit(ctx, Logger.Info, message, fields)
}

func (o *observer) logWarn(ctx context.Context, message string, fields map[string]any) {
	o.emit(ctx, Logger.Warn, message, fields)
}

func (o *observer) logError(ctx context.Context, message string, fields map[string]any) {
	o.emit(ctx, Logger.Error, message, fields)
}

// emit attaches the redacted fields through WithFields when the logger
// supports it and also passes them as sorted key/value args.
func (o *observer) emit(ctx context.Context, level func(Logger, string, ...any), message string, fields map[string]any) {
	if o == nil || o.logger == nil {
		return
	}
	logger := o.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	redacted := RedactSensitiveMap(fields)
	if withFields, ok := logger.(FieldsLogger); ok {
		logger = withFields.WithFields(cloneFields(redacted))
	}
	level(logger, message, keyValues(redacted)...)
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	return maps.Clone(fields)
}

func keyValues(fields map[string]any) []any {
	keys := slices.Sorted(maps.Keys(fields))
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

// operationName lowercases and snake-cases an operation, "unknown" when blank.
func operationName(operation string) string {
	op := strings.ToLower(strings.TrimSpace(operation))
	op = strings.NewReplacer(" ", "_", "-", "_").Replace(op)
	if op == "" {
		return "unknown"
	}
	return op
}

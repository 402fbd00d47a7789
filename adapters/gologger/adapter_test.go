package gologger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
)

func TestResolve_PrefersProviderOverDirectLogger(t *testing.T) {
	var providerOut, directOut bytes.Buffer
	provider := NewSlogProvider(Options{Level: "info", Output: &providerOut})
	direct := NewSlogLogger(slog.New(slog.NewJSONHandler(&directOut, nil)))

	_, resolved := Resolve("smarthome.tokens", provider, direct)
	resolved.Info("token refreshed", "user_id", "u1")
	if !strings.Contains(providerOut.String(), `"logger":"smarthome.tokens"`) || directOut.Len() != 0 {
		t.Fatalf("expected provider logger to win, provider=%q direct=%q", providerOut.String(), directOut.String())
	}

	resolvedProvider, resolved := Resolve("smarthome.tokens", nil, direct)
	resolved.Info("token refreshed", "user_id", "u2")
	if !strings.Contains(directOut.String(), `"user_id":"u2"`) {
		t.Fatalf("expected direct logger without provider, got %q", directOut.String())
	}
	if resolvedProvider == nil {
		t.Fatalf("expected provider wrapper around the direct logger")
	}

	_, resolved = Resolve("smarthome.tokens", nil, nil)
	if resolved == nil {
		t.Fatalf("expected nop logger fallback")
	}
	resolved.Info("dropped")
}

func TestResolveForJob_BridgesWorkerLogsToSlog(t *testing.T) {
	var out bytes.Buffer
	provider := NewSlogProvider(Options{Level: "debug", Service: "smarthome", Output: &out})

	_, _, jobProvider, jobLogger := ResolveForJob("smarthome.outbox", provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job provider and logger bridges")
	}
	jobProvider.GetLogger("outbox-worker").Info("outbox drained", "claimed", 2)

	record := map[string]any{}
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &record); err != nil {
		t.Fatalf("decode record %q: %v", out.String(), err)
	}
	if record["msg"] != "outbox drained" || record["logger"] != "outbox-worker" || record["claimed"] != float64(2) {
		t.Fatalf("unexpected bridged record %#v", record)
	}
	if ToJobProvider(nil) != nil || ToJobLogger(nil) != nil {
		t.Fatalf("expected nil bridges for nil inputs")
	}
}

func TestSlogProvider_WritesJSONWithFields(t *testing.T) {
	var out bytes.Buffer
	provider := NewSlogProvider(Options{Level: "info", Service: "smarthome", Output: &out})
	logger := provider.GetLogger("smarthome.core")

	fieldsLogger, ok := logger.(glog.FieldsLogger)
	if !ok {
		t.Fatalf("expected fields logger support")
	}
	fieldsLogger.WithFields(map[string]any{"endpoint_id": "e1"}).Info("create_endpoint succeeded", "status", "success")
	logger.Debug("filtered out")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record above the level filter, got %d: %q", len(lines), out.String())
	}
	record := map[string]any{}
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record["msg"] != "create_endpoint succeeded" || record["service"] != "smarthome" {
		t.Fatalf("unexpected record %#v", record)
	}
	if record["logger"] != "smarthome.core" || record["endpoint_id"] != "e1" || record["status"] != "success" {
		t.Fatalf("expected name and fields attached, got %#v", record)
	}
}

func TestSlogProvider_TextFormat(t *testing.T) {
	var out bytes.Buffer
	provider := NewSlogProvider(Options{Level: "debug", Format: "text", Output: &out})
	provider.GetLogger("").WithContext(context.Background()).Debug("hello", "k", "v")
	if !strings.Contains(out.String(), "msg=hello") || !strings.Contains(out.String(), "k=v") {
		t.Fatalf("expected text record, got %q", out.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
		"trace":   levelTrace,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

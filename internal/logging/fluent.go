package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fluent/fluent-logger-golang/fluent"
)

// Poster is the subset of the fluent client used for shipping records.
type Poster interface {
	Post(tag string, message interface{}) error
}

// FluentConfig describes the forward endpoint.
type FluentConfig struct {
	Host string
	Port int
	Tag  string
}

// DialFluent creates a fluent client. The connection is established lazily
// so a missing collector only surfaces on the first Post.
func DialFluent(cfg FluentConfig) (*fluent.Fluent, error) {
	if strings.TrimSpace(cfg.Tag) == "" {
		return nil, fmt.Errorf("fluent tag prefix is required")
	}
	client, err := fluent.New(fluent.Config{
		FluentHost: cfg.Host,
		FluentPort: cfg.Port,
		TagPrefix:  cfg.Tag,
		Async:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fluent client: %w", err)
	}
	return client, nil
}

// FluentHandler is a slog.Handler that forwards records to a fluent
// collector, one map per record, tagged with the lower-case level.
type FluentHandler struct {
	poster Poster
	level  slog.Leveler
	attrs  []slog.Attr
	group  string
}

// NewFluentHandler wraps poster. A nil level means INFO.
func NewFluentHandler(poster Poster, level slog.Leveler) *FluentHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &FluentHandler{poster: poster, level: level}
}

// Enabled implements slog.Handler.
func (h *FluentHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler. Post failures are swallowed so a down
// collector never breaks request handling.
func (h *FluentHandler) Handle(_ context.Context, record slog.Record) error {
	data := make(map[string]interface{}, len(h.attrs)+record.NumAttrs()+3)
	for _, attr := range h.attrs {
		flatten(data, "", attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		flatten(data, h.group, attr)
		return true
	})

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	level := strings.ToLower(record.Level.String())
	data["level"] = level
	data["message"] = record.Message
	data["timestamp"] = ts.UTC().Format(time.RFC3339Nano)

	_ = h.poster.Post(level, data)
	return nil
}

// WithAttrs implements slog.Handler.
func (h *FluentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, attr := range attrs {
		if h.group != "" {
			attr.Key = h.group + "." + attr.Key
		}
		clone.attrs = append(clone.attrs, attr)
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *FluentHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if h.group != "" {
		clone.group = h.group + "." + name
	} else {
		clone.group = name
	}
	return &clone
}

func flatten(dst map[string]interface{}, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	key := attr.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	} else if key == "" {
		key = prefix
	}

	switch attr.Value.Kind() {
	case slog.KindGroup:
		for _, nested := range attr.Value.Group() {
			flatten(dst, key, nested)
		}
	case slog.KindTime:
		dst[key] = attr.Value.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindDuration:
		dst[key] = attr.Value.Duration().String()
	case slog.KindAny:
		if err, ok := attr.Value.Any().(error); ok {
			dst[key] = err.Error()
			return
		}
		dst[key] = fmt.Sprint(attr.Value.Any())
	default:
		dst[key] = attr.Value.Any()
	}
}

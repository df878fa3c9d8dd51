package errclass

import (
	"log/slog"
	"sync"
)

// HistoryCapacity bounds the number of retained error records.
const HistoryCapacity = 100

// Hook is a side-effect callback (log, display, report) invoked exactly
// once per handled error. Hooks are injected by the composition root,
// never hardcoded, so the same handler serves UI, CLI, and telemetry
// consumers.
type Hook func(*ErrorInfo)

// Handler classifies failures, merges caller context, and keeps a
// bounded newest-first history of classified records.
type Handler struct {
	logger *slog.Logger
	hooks  []Hook

	mu      sync.Mutex
	history []*ErrorInfo // ring buffer, head is the newest slot
	head    int
	count   int
}

// NewHandler creates an error handler with the given hooks.
func NewHandler(logger *slog.Logger, hooks ...Hook) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:  logger,
		hooks:   hooks,
		history: make([]*ErrorInfo, HistoryCapacity),
	}
}

// Handle classifies the failure, merges the caller-supplied context into
// the record, appends it to the history, and invokes every hook once.
func (h *Handler) Handle(err error, ctx map[string]any) *ErrorInfo {
	info := Classify(err)

	if len(ctx) > 0 {
		merged := make(map[string]any, len(info.Context)+len(ctx))
		for k, v := range info.Context {
			merged[k] = v
		}
		for k, v := range ctx {
			merged[k] = v
		}
		info.Context = merged
	}

	h.mu.Lock()
	h.head = (h.head - 1 + HistoryCapacity) % HistoryCapacity
	h.history[h.head] = info
	if h.count < HistoryCapacity {
		h.count++
	}
	hooks := h.hooks
	h.mu.Unlock()

	h.logger.Debug("error handled",
		"kind", info.Kind,
		"code", info.Code,
		"status", info.Status,
	)

	for _, hook := range hooks {
		hook(info)
	}

	return info
}

// History returns the retained records, newest first. The returned slice
// is a copy; the records themselves are immutable by convention.
func (h *Handler) History() []*ErrorInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*ErrorInfo, 0, h.count)
	for i := 0; i < h.count; i++ {
		out = append(out, h.history[(h.head+i)%HistoryCapacity])
	}
	return out
}

// ClearHistory drops all retained records.
func (h *Handler) ClearHistory() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = make([]*ErrorInfo, HistoryCapacity)
	h.head = 0
	h.count = 0
}

// LogHook returns a hook that writes each record to the logger. Useful
// as the default observability hook in composition roots.
func LogHook(logger *slog.Logger) Hook {
	if logger == nil {
		logger = slog.Default()
	}
	return func(info *ErrorInfo) {
		logger.Error("classified error",
			"kind", info.Kind,
			"code", info.Code,
			"status", info.Status,
			"message", info.Message,
		)
	}
}

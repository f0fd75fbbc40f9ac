package threshold

import (
	"sync/atomic"
	"time"

	"github.com/recoguard/recoguard/internal/pkg/logger"
)

// ReloadHook observes every reload attempt.
type ReloadHook func(err error)

// Holder publishes the current Set. Readers call Load on every check and keep
// the returned pointer for the duration of one evaluation.
type Holder struct {
	current  atomic.Pointer[Set]
	version  atomic.Uint64
	loadedAt atomic.Int64

	path   string
	log    *logger.Logger
	onLoad ReloadHook
	audit  *AuditLog
}

// HolderConfig configures a Holder.
type HolderConfig struct {
	// Path is the YAML document used by Reload. Empty means defaults only.
	Path   string
	Logger *logger.Logger
	OnLoad ReloadHook
	// Audit, when set, receives one entry per swap that changed a value.
	Audit *AuditLog
}

// NewHolder loads the initial set from cfg.Path, or uses Defaults when no
// path is configured.
func NewHolder(cfg HolderConfig) (*Holder, error) {
	h := &Holder{
		path:   cfg.Path,
		log:    logger.OrDefault(cfg.Logger).WithComponent("thresholds"),
		onLoad: cfg.OnLoad,
		audit:  cfg.Audit,
	}

	initial := Defaults()
	if cfg.Path != "" {
		set, err := LoadFile(cfg.Path)
		if err != nil {
			return nil, err
		}
		initial = set
	}
	h.publish(initial, "")
	return h, nil
}

// NewStaticHolder wraps a fixed set. Reload is a no-op without a path.
func NewStaticHolder(set *Set) *Holder {
	h := &Holder{log: logger.Discard()}
	h.publish(set, "")
	return h
}

// Load returns the current set. Never nil.
func (h *Holder) Load() *Set {
	return h.current.Load()
}

// Version increments on every successful swap, starting at 1.
func (h *Holder) Version() uint64 {
	return h.version.Load()
}

// LoadedAt is the time of the last successful swap.
func (h *Holder) LoadedAt() time.Time {
	return time.Unix(0, h.loadedAt.Load())
}

// Path returns the backing document path.
func (h *Holder) Path() string {
	return h.path
}

// Store validates set and swaps it in.
func (h *Holder) Store(set *Set) error {
	if err := set.Validate(); err != nil {
		h.notify(err)
		return err
	}
	h.publish(set.Clone(), "store")
	h.notify(nil)
	return nil
}

// Reload re-reads the backing document. On failure the current set stays.
func (h *Holder) Reload() error {
	if h.path == "" {
		return nil
	}
	set, err := LoadFile(h.path)
	if err != nil {
		h.log.Warn("Threshold reload failed, keeping current set", "path", h.path, "error", err)
		h.notify(err)
		return err
	}
	h.publish(set, "reload")
	h.log.Info("Thresholds reloaded", "path", h.path, "version", h.Version())
	h.notify(nil)
	return nil
}

// publish swaps set in. A non-empty source audits the values that changed.
func (h *Holder) publish(set *Set, source string) {
	old := h.current.Swap(set)
	h.loadedAt.Store(time.Now().UnixNano())
	version := h.version.Add(1)

	if h.audit == nil || old == nil || source == "" {
		return
	}
	changes := Diff(old, set)
	if len(changes) == 0 {
		return
	}
	err := h.audit.Append(AuditEntry{
		Version: version,
		Source:  source,
		Path:    h.path,
		Changes: changes,
	})
	if err != nil {
		h.log.Warn("Threshold audit write failed", "error", err)
	}
}

func (h *Holder) notify(err error) {
	if h.onLoad != nil {
		h.onLoad(err)
	}
}

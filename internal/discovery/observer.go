package discovery

import (
	"github.com/ipsix/plugscan/internal/logging"
	"github.com/ipsix/plugscan/internal/storage"
)

// Observer receives scan progress. Calls arrive on the scan goroutine, in
// scan order, and must not block for long.
type Observer interface {
	CurrentlyScanningPluginChanged(name string)
	ScanningFinished(summary Summary)
}

// ObserverFuncs adapts plain functions; nil fields are skipped.
type ObserverFuncs struct {
	OnScanning func(name string)
	OnFinished func(summary Summary)
}

func (o ObserverFuncs) CurrentlyScanningPluginChanged(name string) {
	if o.OnScanning != nil {
		o.OnScanning(name)
	}
}

func (o ObserverFuncs) ScanningFinished(summary Summary) {
	if o.OnFinished != nil {
		o.OnFinished(summary)
	}
}

// HistoryObserver saves each finished session to the scan history.
type HistoryObserver struct {
	history *storage.HistoryStore
	logger  *logging.Logger
}

func NewHistoryObserver(history *storage.HistoryStore, logger *logging.Logger) *HistoryObserver {
	return &HistoryObserver{history: history, logger: logger}
}

func (h *HistoryObserver) CurrentlyScanningPluginChanged(string) {}

func (h *HistoryObserver) ScanningFinished(summary Summary) {
	if err := h.history.Save(summary.Record()); err != nil {
		h.logger.Error("saving scan history failed", logging.Field{Key: "error", Value: err})
	}
}

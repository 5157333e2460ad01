package cache

import "github.com/star/orbitwatch/internal/metrics"

// cutoverLocked drops every snapshot projected from an older catalog.
// Caller holds h.mu.
//
// Readers holding snapshots from before the cutover keep them; snapshots are
// immutable, so only the window itself is reset.
func (h *History) cutoverLocked(newVersion uint64) {
	dropped := h.count
	for i := range h.ring {
		h.ring[i] = nil
	}
	h.next, h.count = 0, 0
	h.cutovers.Add(1)
	metrics.IncHistoryCutover()

	h.logger.Info("catalog cutover",
		"old_catalog_version", h.version,
		"new_catalog_version", newVersion,
		"entries_dropped", dropped,
	)
}

// Reset empties the window without counting a cutover.
func (h *History) Reset() {
	h.mu.Lock()
	for i := range h.ring {
		h.ring[i] = nil
	}
	h.next, h.count, h.version = 0, 0, 0
	h.mu.Unlock()
	metrics.SetHistoryEntries(0)
}

package discover

import (
	"time"

	"github.com/ledgerwatch/nodecore/enr"
)

// selfLookupLoop periodically looks up the local node id through the
// configured filter to keep k-buckets populated under churn. Cancellation
// is by closing h.closing; no work is in flight between intervals.
func (h *Handle) selfLookupLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.SelfLookupInterval)
	defer ticker.Stop()

	pred := asPredicate(h.cfg.Filter, func(id enr.ID, reason string) {
		h.logger.Trace("self lookup: filter ignored peer", "id", id, "reason", reason)
	})

	for {
		select {
		case <-h.closing:
			return
		case <-ticker.C:
			if _, err := h.FindNodePredicate(h.local.ID(), pred, MaxNodesPerBucket); err != nil {
				h.logger.Trace("self lookup failed", "err", err)
			}
		}
	}
}

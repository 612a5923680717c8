package downgrade

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ledgerwatch/log/v3"

	"github.com/ledgerwatch/nodecore/enr"
	"github.com/ledgerwatch/nodecore/p2p/discover"
)

// handleView adapts a *discover.Handle to V5StateView, so Mirror depends
// only on the narrow capability it needs, not the full v5 Handle.
type handleView struct {
	h *discover.Handle
}

// ViewOf wraps h as a V5StateView for NewMirror.
func ViewOf(h *discover.Handle) V5StateView {
	return handleView{h: h}
}

func (v handleView) ReadV5Keys() mapset.Set[enr.ID] { return v.h.V5Keys() }
func (v handleView) Changed() <-chan struct{}       { return v.h.V5Changed() }

// NewMirrorFor binds a v4 mirror against h and records udpPort as its v4
// port. udpPort must differ from every port h's listen mode binds for v5;
// no socket is opened on it.
func NewMirrorFor(h *discover.Handle, udpPort uint16, logger log.Logger) (*Mirror, error) {
	for _, v5Port := range h.ListenPorts() {
		if udpPort == v5Port {
			return nil, fmt.Errorf("downgrade: v4 udp port %d collides with a v5 listen port", udpPort)
		}
	}
	m := NewMirror(ViewOf(h), logger)
	m.udpPort = udpPort
	return m, nil
}

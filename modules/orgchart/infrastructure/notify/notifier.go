package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/orgchart/modules/orgchart/services"
	"github.com/iota-uz/orgchart/pkg/eventbus"
)

type GraphChanged struct {
	Reason         string    `json:"reason"`
	Op             string    `json:"op,omitempty"`
	NodeID         string    `json:"node_id,omitempty"`
	Version        uint64    `json:"version"`
	RemovedNodeIDs []string  `json:"removed_node_ids,omitempty"`
	At             time.Time `json:"at"`
}

type MutationRolledBack struct {
	Op     string    `json:"op"`
	NodeID string    `json:"node_id,omitempty"`
	Code   string    `json:"code"`
	Error  string    `json:"error"`
	At     time.Time `json:"at"`
}

type StoreFailed struct {
	Op    string    `json:"op"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// Notifier forwards store events to a Publisher so other processes can refresh.
type Notifier struct {
	pub Publisher
	log *logrus.Logger
	now func() time.Time

	bus eventbus.EventBus
}

func NewNotifier(pub Publisher, log *logrus.Logger) *Notifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Notifier{pub: pub, log: log, now: time.Now}
}

// Attach subscribes to bus. Calling it twice re-targets the notifier.
func (n *Notifier) Attach(bus eventbus.EventBus) {
	n.Detach()
	n.bus = bus
	bus.Subscribe(n.onGraphChanged)
	bus.Subscribe(n.onRolledBack)
	bus.Subscribe(n.onStoreFailed)
}

func (n *Notifier) Detach() {
	if n.bus == nil {
		return
	}
	n.bus.Unsubscribe(n.onGraphChanged)
	n.bus.Unsubscribe(n.onRolledBack)
	n.bus.Unsubscribe(n.onStoreFailed)
	n.bus = nil
}

func (n *Notifier) publish(subject string, payload any) {
	if err := n.pub.Publish(context.Background(), subject, payload); err != nil {
		n.log.WithFields(logrus.Fields{
			"subject": subject,
			"error":   err.Error(),
		}).Warn("orgchart.notify.publish_failed")
	}
}

func (n *Notifier) onGraphChanged(e *services.GraphChangedEvent) {
	// Optimistic changes are followed by a reconcile or a rollback; only settled states leave the process.
	if e.Reason == services.ReasonOptimistic {
		return
	}
	n.publish(SubjectGraphChanged, GraphChanged{
		Reason:         string(e.Reason),
		Op:             e.Op,
		NodeID:         e.NodeID,
		Version:        e.Version,
		RemovedNodeIDs: e.RemovedNodeIDs,
		At:             n.now().UTC(),
	})
}

func (n *Notifier) onRolledBack(e *services.MutationRolledBackEvent) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	n.publish(SubjectMutationRolledBack, MutationRolledBack{
		Op:     e.Op,
		NodeID: e.NodeID,
		Code:   services.CodeOf(e.Err),
		Error:  msg,
		At:     n.now().UTC(),
	})
}

func (n *Notifier) onStoreFailed(e *services.StoreFailedEvent) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	n.publish(SubjectStoreFailed, StoreFailed{Op: e.Op, Error: msg, At: n.now().UTC()})
}

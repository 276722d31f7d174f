package mqtt

import (
	"github.com/sweeney/pump-doser/internal/logging"
	"github.com/sweeney/pump-doser/internal/pump"
)

// Notifier forwards device notifications to a Publisher.
type Notifier struct {
	pub Publisher

	// Evaluations controls whether control-loop checks are published.
	Evaluations bool
}

// NewNotifier creates a Notifier that publishes evaluations too.
func NewNotifier(pub Publisher) *Notifier {
	return &Notifier{pub: pub, Evaluations: true}
}

func (n *Notifier) ObserveConfig(device string, cfg pump.Config) {
	doc, err := pump.MarshalConfig(device, cfg)
	if err != nil {
		logging.Error("encode config for mqtt", "device", device, "error", err)
		return
	}
	if err := n.pub.PublishConfig(doc); err != nil {
		logging.Warn("config publish failed", "device", device, "error", err)
	}
}

func (n *Notifier) ObserveDose(ev pump.DoseEvent) {
	if err := n.pub.PublishDose(ev); err != nil {
		logging.Warn("dose publish failed", "device", ev.Device, "id", ev.ID, "error", err)
	}
}

func (n *Notifier) ObserveEvaluation(ev pump.Evaluation) {
	if !n.Evaluations {
		return
	}
	if err := n.pub.PublishEvaluation(ev); err != nil {
		logging.Debug("evaluation publish failed", "device", ev.Device, "error", err)
	}
}

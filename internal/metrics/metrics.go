// Package metrics exposes dose and control-loop counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/pump-doser/internal/pump"
)

const namespace = "pump"

// Recorder implements pump.Observer by updating Prometheus collectors.
type Recorder struct {
	doses           *prometheus.CounterVec
	doseSeconds     *prometheus.CounterVec
	evaluations     *prometheus.CounterVec
	lastMeasurement *prometheus.GaugeVec
	autoEnabled     *prometheus.GaugeVec
	speed           *prometheus.GaugeVec
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		doses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "doses_total",
			Help:      "Completed doses by trigger.",
		}, []string{"device", "trigger"}),
		doseSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dose_seconds_total",
			Help:      "Total time the pump has run.",
		}, []string{"device"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Control-loop checks by result (triggered, idle, missing).",
		}, []string{"device", "result"}),
		lastMeasurement: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_measurement",
			Help:      "Monitored measurement value at the last check.",
		}, []string{"device", "parameter"}),
		autoEnabled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "auto_enabled",
			Help:      "1 when automatic dosing is enabled.",
		}, []string{"device"}),
		speed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "configured_speed",
			Help:      "Configured drive value while dosing.",
		}, []string{"device"}),
	}

	for _, c := range []prometheus.Collector{r.doses, r.doseSeconds, r.evaluations, r.lastMeasurement, r.autoEnabled, r.speed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) ObserveConfig(device string, cfg pump.Config) {
	r.autoEnabled.WithLabelValues(device).Set(boolGauge(cfg.AutoEnabled))
	r.speed.WithLabelValues(device).Set(float64(cfg.PumpSpeed))
}

func (r *Recorder) ObserveDose(ev pump.DoseEvent) {
	r.doses.WithLabelValues(ev.Device, string(ev.Trigger)).Inc()
	r.doseSeconds.WithLabelValues(ev.Device).Add(ev.Duration.Seconds())
}

func (r *Recorder) ObserveEvaluation(ev pump.Evaluation) {
	r.evaluations.WithLabelValues(ev.Device, Result(ev)).Inc()
	if ev.Found {
		r.lastMeasurement.WithLabelValues(ev.Device, ev.Parameter).Set(ev.Value)
	}
}

// Result classifies an evaluation for the result label.
func Result(ev pump.Evaluation) string {
	switch {
	case !ev.Found:
		return "missing"
	case ev.Triggered:
		return "triggered"
	default:
		return "idle"
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

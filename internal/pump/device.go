package pump

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/pump-doser/internal/actuator"
	"github.com/sweeney/pump-doser/internal/logging"
)

// Options configure a Device. Storage and Actuator are required.
type Options struct {
	Name       string
	Pin        int
	ConfigFile string

	Storage      Storage
	Actuator     actuator.Actuator
	Scheduler    TaskScheduler
	Measurements Measurements
	Observer     Observer

	// Sleep blocks for the duration of a dose. Defaults to time.Sleep.
	Sleep func(time.Duration)
	// Now stamps events. Defaults to time.Now.
	Now func() time.Time
}

// Device is a peristaltic pump with a persisted configuration.
type Device struct {
	name       string
	configPath string
	cfg        Config

	storage  Storage
	act      actuator.Actuator
	sched    TaskScheduler
	sensors  Measurements
	observer Observer
	sleep    func(time.Duration)
	now      func() time.Time

	// accumulated is the control loop's running total since the last evaluation.
	accumulated time.Duration
}

// NewDevice creates a device. Nothing is read, bound or scheduled until
// Initialize is called, except registering the control loop (disabled)
// with the scheduler.
func NewDevice(opts Options) *Device {
	d := &Device{
		name:       opts.Name,
		configPath: ConfigPath(opts.ConfigFile),
		cfg:        Config{Pin: opts.Pin},
		storage:    opts.Storage,
		act:        opts.Actuator,
		sched:      opts.Scheduler,
		sensors:    opts.Measurements,
		observer:   opts.Observer,
		sleep:      opts.Sleep,
		now:        opts.Now,
	}
	if d.observer == nil {
		d.observer = Observers(nil)
	}
	if d.sleep == nil {
		d.sleep = time.Sleep
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.sched != nil {
		d.sched.Add(d)
	}
	return d
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// ConfigPath returns the path of the persisted configuration.
func (d *Device) ConfigPath() string { return d.configPath }

// Config returns a copy of the current configuration.
func (d *Device) Config() Config { return d.cfg }

// Description advertises the device's single action.
func (d *Device) Description() Description {
	return Description{
		Name:           d.name,
		Type:           "pump",
		ActionQuantity: 1,
		Actions:        []Action{{Name: "Dose", ID: ActionDose}},
	}
}

// Initialize loads the persisted configuration, or writes the built-in
// defaults when none exists, and applies it.
//
// A missing file is not an error: the defaults are applied and bound first,
// so a failed write only reports ErrPersist. A file that exists but cannot
// be read returns ErrLoad and leaves the device unconfigured.
func (d *Device) Initialize() error {
	if !d.storage.Exists(d.configPath) {
		blob, err := MarshalConfig(d.name, DefaultConfig(d.name, d.cfg.Pin))
		if err != nil {
			return err
		}
		logging.Info("no saved configuration, applying defaults", "device", d.name, "path", d.configPath)
		return d.apply(blob, true)
	}

	blob, err := d.storage.ReadFile(d.configPath)
	if err != nil {
		logging.Error("reading configuration failed", "device", d.name, "path", d.configPath, "error", err)
		return fmt.Errorf("%w: %v", ErrLoad, err)
	}
	logging.Info("loading saved configuration", "device", d.name, "path", d.configPath)
	return d.apply(blob, false)
}

// GetConfig returns the current configuration as JSON, including the
// device name.
func (d *Device) GetConfig() string {
	data, err := MarshalConfig(d.name, d.cfg)
	if err != nil {
		// Config has only scalar fields; this cannot fail.
		panic(err)
	}
	return string(data)
}

// SetConfig replaces the configuration with blob and persists blob verbatim.
//
// Parse and validation failures leave the device untouched. Once the blob
// is accepted it is applied before the actuator is rebound and the file is
// written, so ErrBind and ErrPersist report a device that is running on the
// new configuration but degraded.
func (d *Device) SetConfig(blob string) error {
	return d.apply([]byte(blob), true)
}

func (d *Device) apply(blob []byte, save bool) error {
	cfg, err := ParseConfig(blob)
	if err != nil {
		logging.Warn("configuration rejected", "device", d.name, "error", err)
		return err
	}
	if err := cfg.Validate(); err != nil {
		logging.Warn("configuration rejected", "device", d.name, "error", err)
		return err
	}

	wasEnabled := d.cfg.AutoEnabled
	d.cfg = cfg
	d.cfg.AutoEnabled = wasEnabled
	if cfg.AutoEnabled && cfg.TaskPeriod <= 0 {
		logging.Warn("auto dosing enabled with non-positive period, it will never trigger",
			"device", d.name, "taskPeriod", cfg.TaskPeriod)
	}

	var errs []error
	if err := d.rebind(); err != nil {
		errs = append(errs, err)
	}
	if save {
		if err := d.storage.WriteFile(d.configPath, blob); err != nil {
			logging.Error("saving configuration failed", "device", d.name, "path", d.configPath, "error", err)
			errs = append(errs, fmt.Errorf("%w: %v", ErrPersist, err))
		}
	}
	d.EnableAuto(cfg.AutoEnabled)
	d.observer.ObserveConfig(d.name, d.cfg)

	return errors.Join(errs...)
}

// rebind releases the current pin and attaches to the configured one.
func (d *Device) rebind() error {
	if err := d.act.Detach(); err != nil {
		logging.Warn("actuator detach failed", "device", d.name, "error", err)
	}
	if err := d.act.Attach(d.cfg.Pin); err != nil {
		logging.Error("actuator attach failed", "device", d.name, "pin", d.cfg.Pin, "error", err)
		return fmt.Errorf("%w: pin %d: %v", ErrBind, d.cfg.Pin, err)
	}
	return nil
}

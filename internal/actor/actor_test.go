package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/pump-doser/internal/pump"
)

// serve drains d until ctx ends, like the daemon run loop.
func serve(ctx context.Context, d *Dispatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.Requests():
			req.Run()
		}
	}
}

func startLoop(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		serve(ctx, d)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

type fakeDevice struct {
	cfg     pump.Config
	blob    string
	setErr  error
	actions []int
	doses   []pump.Trigger
}

func (f *fakeDevice) ReceiveAction(action int, payload string) (bool, string) {
	f.actions = append(f.actions, action)
	return action == 0, payload
}

func (f *fakeDevice) GetConfig() string { return f.blob }

func (f *fakeDevice) SetConfig(blob string) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.blob = blob
	return nil
}

func (f *fakeDevice) Config() pump.Config { return f.cfg }

func (f *fakeDevice) Dose(trigger pump.Trigger) pump.DoseEvent {
	f.doses = append(f.doses, trigger)
	return pump.DoseEvent{ID: "d1", Trigger: trigger}
}

func TestDispatcherRunsEveryRequest(t *testing.T) {
	d := NewDispatcher(4)
	startLoop(t, d)

	var (
		mu  sync.Mutex
		got []int
	)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := d.Do(context.Background(), func() {
				mu.Lock()
				got = append(got, i)
				mu.Unlock()
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, got, 20)
}

func TestDispatcherContextCancelled(t *testing.T) {
	d := NewDispatcher(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Do(ctx, func() { t.Error("request ran without a loop") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatcherTimeoutWhileQueued(t *testing.T) {
	d := NewDispatcher(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := d.Do(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, d.Requests(), 1)
}

func TestDispatcherClosed(t *testing.T) {
	d := NewDispatcher(0)
	d.Close()
	d.Close()

	err := d.Do(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClientForwardsCalls(t *testing.T) {
	d := NewDispatcher(1)
	startLoop(t, d)
	dev := &fakeDevice{blob: `{"Name":"alk"}`, cfg: pump.Config{PumpSpeed: 170}}
	c := NewClient(d, dev)
	ctx := context.Background()

	ok, resp, err := c.Action(ctx, 0, "hello")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", resp)

	blob, err := c.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"Name":"alk"}`, blob)

	cfg, err := c.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, 170, cfg.PumpSpeed)

	require.NoError(t, c.SetConfig(ctx, `{"pumpSpeed":1}`))
	assert.Equal(t, `{"pumpSpeed":1}`, dev.blob)

	ev, err := c.Dose(ctx, pump.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, "d1", ev.ID)
	assert.Equal(t, []pump.Trigger{pump.TriggerManual}, dev.doses)
}

func TestClientSetConfigReturnsDeviceError(t *testing.T) {
	d := NewDispatcher(1)
	startLoop(t, d)
	dev := &fakeDevice{setErr: pump.ErrParse}
	c := NewClient(d, dev)

	err := c.SetConfig(context.Background(), "nope")
	assert.True(t, errors.Is(err, pump.ErrParse))
}

func TestSchedulesRejectBadSpec(t *testing.T) {
	s := NewSchedules(NewClient(NewDispatcher(1), &fakeDevice{}), time.Second, time.UTC)

	assert.Error(t, s.Add("bad", "every morning"))
	require.NoError(t, s.Add("morning", "30 8 * * *"))
	assert.Equal(t, 1, s.Len())

	assert.NoError(t, ValidSpec("0 */2 * * *"))
	assert.Error(t, ValidSpec("61 * * * *"))
}

func TestScheduledDoseUsesScheduleTrigger(t *testing.T) {
	d := NewDispatcher(1)
	startLoop(t, d)
	dev := &fakeDevice{}
	s := NewSchedules(NewClient(d, dev), time.Second, time.UTC)

	s.dose("morning")

	assert.Equal(t, []pump.Trigger{pump.TriggerSchedule}, dev.doses)
}

func TestScheduledDoseWithoutLoopTimesOut(t *testing.T) {
	dev := &fakeDevice{}
	s := NewSchedules(NewClient(NewDispatcher(0), dev), 10*time.Millisecond, time.UTC)

	s.dose("morning")

	assert.Empty(t, dev.doses)
}

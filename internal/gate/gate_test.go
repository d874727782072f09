package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/langchou/parkgate/internal/gpio"
	"github.com/langchou/parkgate/internal/models"
)

var testPins = gpio.GatePins{Motor: 23, Direction: gpio.NoPin, SensorOpen: 7, SensorClose: 1}

type write struct {
	pin gpio.Pin
	on  bool
}

type fakePins struct {
	mu       sync.Mutex
	asserted map[gpio.Pin]bool
	readErr  map[gpio.Pin]error
	writes   []write
}

func newFakePins() *fakePins {
	return &fakePins{asserted: make(map[gpio.Pin]bool), readErr: make(map[gpio.Pin]error)}
}

func (f *fakePins) SetAddress(models.FloorID, int) error { return nil }

func (f *fakePins) ReadSensor(pin gpio.Pin) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr[pin]; err != nil {
		return false, err
	}
	return f.asserted[pin], nil
}

func (f *fakePins) WriteActuator(pin gpio.Pin, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, write{pin, on})
	return nil
}

func (f *fakePins) set(pin gpio.Pin, asserted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asserted[pin] = asserted
}

func (f *fakePins) lastWrite(pin gpio.Pin) (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, last := 0, false
	for _, w := range f.writes {
		if w.pin == pin {
			n++
			last = w.on
		}
	}
	return last, n
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestController(t *testing.T, pins gpio.GatePins) (*Controller, *fakePins, *clock, *[]models.GateTransition) {
	t.Helper()
	io := newFakePins()
	clk := &clock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	var transitions []models.GateTransition
	c := NewController(models.GateEntry, pins, io, DefaultTimeout, zaptest.NewLogger(t), func(tr models.GateTransition) {
		transitions = append(transitions, tr)
	})
	c.now = clk.now
	return c, io, clk, &transitions
}

func TestOpenReachesOpenWhenSensorAsserts(t *testing.T) {
	c, io, clk, transitions := newTestController(t, testPins)

	if err := c.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := c.State(); got != models.GateOpening {
		t.Fatalf("state = %s, want opening", got)
	}

	clk.advance(DefaultTickInterval)
	c.Step()
	if on, _ := io.lastWrite(testPins.Motor); !on {
		t.Errorf("motor must be on while opening")
	}

	io.set(testPins.SensorOpen, true)
	clk.advance(DefaultTickInterval)
	c.Step()

	snap := c.Snapshot()
	if snap.State != models.GateOpen {
		t.Fatalf("state = %s, want open", snap.State)
	}
	if snap.OperationCount != 1 || !snap.LastOperation.Equal(clk.t) || !snap.SensorOpen {
		t.Errorf("snapshot = %+v", snap)
	}
	if on, _ := io.lastWrite(testPins.Motor); on {
		t.Errorf("motor must be off once open")
	}

	if len(*transitions) != 2 {
		t.Fatalf("transitions = %+v", *transitions)
	}
	last := (*transitions)[1]
	if last.From != models.GateOpening || last.To != models.GateOpen || last.OperationCount != 1 {
		t.Errorf("last transition = %+v", last)
	}
}

func TestOpenWithSensorAlreadyAssertedTakesOneTick(t *testing.T) {
	c, io, clk, transitions := newTestController(t, testPins)
	if got := c.State(); got != models.GateClosed {
		t.Fatalf("initial state = %s, want closed", got)
	}

	if err := c.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	io.set(testPins.SensorOpen, true)
	clk.advance(DefaultTickInterval)
	c.Step()

	snap := c.Snapshot()
	if snap.State != models.GateOpen {
		t.Fatalf("state after one tick = %s, want open", snap.State)
	}
	if snap.OperationCount != 1 {
		t.Errorf("operation count = %d, want 1", snap.OperationCount)
	}
	if len(*transitions) != 2 {
		t.Errorf("transitions = %+v", *transitions)
	}
}

func TestCloseReachesClosed(t *testing.T) {
	c, io, clk, _ := newTestController(t, testPins)
	_ = c.Open()
	io.set(testPins.SensorOpen, true)
	c.Step()

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	io.set(testPins.SensorOpen, false)
	clk.advance(DefaultTickInterval)
	c.Step()
	if got := c.State(); got != models.GateClosing {
		t.Fatalf("state = %s, want closing", got)
	}

	io.set(testPins.SensorClose, true)
	clk.advance(DefaultTickInterval)
	c.Step()
	if snap := c.Snapshot(); snap.State != models.GateClosed || snap.OperationCount != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestOpeningTimesOutIntoError(t *testing.T) {
	c, io, clk, _ := newTestController(t, testPins)
	_ = c.Open()

	clk.advance(DefaultTimeout)
	c.Step()
	if got := c.State(); got != models.GateOpening {
		t.Fatalf("state at exactly the timeout = %s, want opening", got)
	}

	clk.advance(time.Millisecond)
	c.Step()
	if got := c.State(); got != models.GateError {
		t.Fatalf("state = %s, want error", got)
	}
	if on, _ := io.lastWrite(testPins.Motor); on {
		t.Errorf("motor must be off in error")
	}
	if c.Snapshot().OperationCount != 0 {
		t.Errorf("timeout must not count as an operation")
	}

	if err := c.Open(); !errors.Is(err, ErrGateInError) {
		t.Errorf("open in error: err = %v", err)
	}
	if err := c.Close(); !errors.Is(err, ErrGateInError) {
		t.Errorf("close in error: err = %v", err)
	}
}

func TestClosingTimesOutIntoError(t *testing.T) {
	c, io, clk, _ := newTestController(t, testPins)
	_ = c.Open()
	io.set(testPins.SensorOpen, true)
	c.Step()
	_ = c.Close()

	// 关闭限位始终无效
	clk.advance(DefaultTimeout + time.Millisecond)
	c.Step()
	if got := c.State(); got != models.GateError {
		t.Fatalf("state = %s, want error", got)
	}
}

func TestTimeoutMeasuredFromStateEntry(t *testing.T) {
	c, _, clk, _ := newTestController(t, testPins)

	// 控制器创建后很久才下发命令
	clk.advance(time.Hour)
	_ = c.Open()
	clk.advance(time.Second)
	c.Step()
	if got := c.State(); got != models.GateOpening {
		t.Errorf("state = %s, want opening", got)
	}
}

func TestCommandsAreNoOpsTowardTarget(t *testing.T) {
	c, _, _, transitions := newTestController(t, testPins)

	if err := c.Close(); err != nil {
		t.Fatalf("close when closed: %v", err)
	}
	if len(*transitions) != 0 {
		t.Fatalf("close on a closed gate must not transition")
	}

	_ = c.Open()
	if err := c.Open(); err != nil {
		t.Fatalf("open when opening: %v", err)
	}
	if len(*transitions) != 1 {
		t.Errorf("transitions = %d, want 1", len(*transitions))
	}

	// 反向命令会掉头
	if err := c.Close(); err != nil {
		t.Fatalf("close when opening: %v", err)
	}
	if got := c.State(); got != models.GateClosing {
		t.Errorf("state = %s, want closing", got)
	}
	if err := c.Close(); err != nil || len(*transitions) != 2 {
		t.Errorf("second close: err=%v transitions=%d", err, len(*transitions))
	}
}

func TestResetErrorFollowsSensors(t *testing.T) {
	tests := []struct {
		name   string
		open   bool
		closed bool
		want   models.GateState
	}{
		{"close sensor active", false, true, models.GateClosed},
		{"open sensor active", true, false, models.GateOpen},
		{"both active prefers closed", true, true, models.GateClosed},
		{"none active defaults closed", false, false, models.GateClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, io, clk, _ := newTestController(t, testPins)
			_ = c.Open()
			clk.advance(DefaultTimeout + time.Millisecond)
			c.Step()
			if c.State() != models.GateError {
				t.Fatalf("setup: expected error state")
			}

			io.set(testPins.SensorOpen, tt.open)
			io.set(testPins.SensorClose, tt.closed)
			if err := c.ResetError(); err != nil {
				t.Fatalf("reset: %v", err)
			}
			if got := c.State(); got != tt.want {
				t.Errorf("state = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResetErrorOutsideErrorIsNoOp(t *testing.T) {
	c, io, _, transitions := newTestController(t, testPins)
	io.set(testPins.SensorOpen, true)
	if err := c.ResetError(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if c.State() != models.GateClosed || len(*transitions) != 0 {
		t.Errorf("reset outside error changed state")
	}
}

func TestSensorErrorSkipsTick(t *testing.T) {
	c, io, clk, _ := newTestController(t, testPins)
	_ = c.Open()
	io.readErr[testPins.SensorClose] = errors.New("bus glitch")

	clk.advance(DefaultTimeout + time.Second)
	c.Step()
	if got := c.State(); got != models.GateOpening {
		t.Errorf("state = %s, want opening after skipped tick", got)
	}
	if _, n := io.lastWrite(testPins.Motor); n != 0 {
		t.Errorf("skipped tick wrote the motor %d times", n)
	}
}

func TestMotorWrittenEveryTick(t *testing.T) {
	c, io, _, _ := newTestController(t, testPins)
	for i := 0; i < 3; i++ {
		c.Step()
	}
	on, n := io.lastWrite(testPins.Motor)
	if n != 3 || on {
		t.Errorf("motor writes = %d last=%v, want 3 writes off", n, on)
	}
}

func TestDirectionPinFollowsMovement(t *testing.T) {
	pins := testPins
	pins.Direction = 9
	c, io, _, _ := newTestController(t, pins)

	_ = c.Open()
	c.Step()
	if dir, n := io.lastWrite(pins.Direction); n != 1 || !dir {
		t.Errorf("opening direction = %v (%d writes), want forward", dir, n)
	}

	_ = c.Close()
	c.Step()
	if dir, _ := io.lastWrite(pins.Direction); dir {
		t.Errorf("closing direction must be reverse")
	}
}

func TestSystemEmergencyOpenAll(t *testing.T) {
	io := newFakePins()
	sys := NewSystem(Config{}, gpio.DefaultPinMap(), io, zaptest.NewLogger(t), nil)

	if err := sys.EmergencyOpenAll(); err != nil {
		t.Fatalf("emergency: %v", err)
	}
	for _, id := range models.Gates {
		if st, _ := sys.State(id); st != models.GateOpening {
			t.Errorf("%s state = %s, want opening", id, st)
		}
	}
	if err := sys.Close(models.GateEntry); !errors.Is(err, ErrEmergencyMode) {
		t.Errorf("close in emergency: err = %v", err)
	}

	sys.ClearEmergency()
	if err := sys.Close(models.GateEntry); err != nil {
		t.Errorf("close after clearing emergency: %v", err)
	}
	if _, err := sys.State(models.GateID(5)); !errors.Is(err, ErrUnknownGate) {
		t.Errorf("unknown gate: err = %v", err)
	}
}

func TestSystemRunsAgainstSimulatedGate(t *testing.T) {
	pinMap := gpio.DefaultPinMap()
	sim := gpio.NewSimulator(pinMap, models.DefaultSpotsPerFloor)
	for _, id := range models.Gates {
		sim.AttachGate(pinMap.Gate(id), 100*time.Millisecond)
	}

	sys := NewSystem(Config{TickInterval: 10 * time.Millisecond}, pinMap, gpio.ActiveLow{Driver: sim}, zaptest.NewLogger(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	sys.Start(ctx)
	defer func() {
		cancel()
		sys.Wait()
	}()

	waitFor := func(id models.GateID, want models.GateState) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if st, _ := sys.State(id); st == want {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		st, _ := sys.State(id)
		t.Fatalf("%s state = %s, want %s", id, st, want)
	}

	if err := sys.Open(models.GateExit); err != nil {
		t.Fatal(err)
	}
	waitFor(models.GateExit, models.GateOpen)

	if err := sys.Close(models.GateExit); err != nil {
		t.Fatal(err)
	}
	waitFor(models.GateExit, models.GateClosed)

	if got := sys.TotalOperations(); got != 2 {
		t.Errorf("operations = %d, want 2", got)
	}
	if st, _ := sys.State(models.GateEntry); st != models.GateClosed {
		t.Errorf("entry gate must stay closed, got %s", st)
	}
}

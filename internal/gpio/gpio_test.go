package gpio

import (
	"errors"
	"testing"
	"time"

	"github.com/langchou/parkgate/internal/models"
)

func TestActiveLowSensor(t *testing.T) {
	sim := NewSimulator(DefaultPinMap(), models.DefaultSpotsPerFloor)
	pins := ActiveLow{Driver: sim}

	asserted, err := pins.ReadSensor(7)
	if err != nil {
		t.Fatalf("read sensor: %v", err)
	}
	if asserted {
		t.Errorf("untouched pin should be high (inactive)")
	}

	sim.SetAsserted(7, true)
	asserted, _ = pins.ReadSensor(7)
	if !asserted {
		t.Errorf("pin driven low should read asserted")
	}
	if sim.Level(7) {
		t.Errorf("asserted pin should be low")
	}
}

func TestMuxReadsAddressedSpot(t *testing.T) {
	pinMap := DefaultPinMap()
	sim := NewSimulator(pinMap, models.DefaultSpotsPerFloor)
	sim.SetOccupied(models.FloorFirst, 5, true)

	mux := NewMux(ActiveLow{Driver: sim}, models.FloorFirst, pinMap.Floors[models.FloorFirst].SpotSensor, 0)
	for i := 0; i < 8; i++ {
		occupied, err := mux.ReadSpot(i)
		if err != nil {
			t.Fatalf("read spot %d: %v", i, err)
		}
		if occupied != (i == 5) {
			t.Errorf("spot %d: occupied = %v", i, occupied)
		}
	}

	// 地址 5 = 0b101，对应地址引脚 16 高、20 低、21 高
	if !sim.Level(16) || sim.Level(20) || !sim.Level(21) {
		t.Errorf("address pins not encoding index 5")
	}
}

func TestMuxRejectsOutOfRangeAddress(t *testing.T) {
	pinMap := DefaultPinMap()
	sim := NewSimulator(pinMap, models.DefaultSpotsPerFloor)
	mux := NewMux(ActiveLow{Driver: sim}, models.FloorGround, pinMap.Floors[models.FloorGround].SpotSensor, 0)

	if _, err := mux.ReadSpot(4); err == nil {
		t.Errorf("expected error for spot 4 on a 4-spot floor")
	}
}

func TestSimulatorFailure(t *testing.T) {
	sim := NewSimulator(DefaultPinMap(), models.DefaultSpotsPerFloor)
	boom := errors.New("bus fault")
	sim.Fail(7, boom)

	if _, err := sim.ReadLevel(7); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}
	sim.Fail(7, nil)
	if _, err := sim.ReadLevel(7); err != nil {
		t.Errorf("expected recovery, got %v", err)
	}
}

func TestGatePlantReachesLimits(t *testing.T) {
	pinMap := DefaultPinMap()
	sim := NewSimulator(pinMap, models.DefaultSpotsPerFloor)
	clock := time.Unix(1700000000, 0)
	sim.now = func() time.Time { return clock }
	sim.AttachGate(pinMap.Entry, time.Second)
	pins := ActiveLow{Driver: sim}

	closed, _ := pins.ReadSensor(pinMap.Entry.SensorClose)
	if !closed {
		t.Fatalf("gate should start closed")
	}

	_ = pins.WriteActuator(pinMap.Entry.Motor, true)
	clock = clock.Add(500 * time.Millisecond)
	open, _ := pins.ReadSensor(pinMap.Entry.SensorOpen)
	closed, _ = pins.ReadSensor(pinMap.Entry.SensorClose)
	if open || closed {
		t.Fatalf("half way: open=%v closed=%v", open, closed)
	}

	clock = clock.Add(600 * time.Millisecond)
	open, _ = pins.ReadSensor(pinMap.Entry.SensorOpen)
	if !open {
		t.Fatalf("gate should be open after full travel")
	}

	_ = pins.WriteActuator(pinMap.Entry.Motor, false)
	_ = pins.WriteActuator(pinMap.Entry.Motor, true)
	clock = clock.Add(1100 * time.Millisecond)
	closed, _ = pins.ReadSensor(pinMap.Entry.SensorClose)
	if !closed {
		t.Fatalf("gate should close after reversing")
	}
}

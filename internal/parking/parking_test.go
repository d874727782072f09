package parking

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/langchou/parkgate/internal/models"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func newStatus(t *testing.T) *models.ParkingStatus {
	t.Helper()
	status := New(DefaultLayout(), t0)
	if err := CheckInvariants(&status); err != nil {
		t.Fatalf("fresh status: %v", err)
	}
	return &status
}

func mustPlate(t *testing.T, s string) models.Plate {
	t.Helper()
	p, err := models.ParsePlate(s)
	if err != nil {
		t.Fatalf("parse plate %q: %v", s, err)
	}
	return p
}

func TestNewDefaultLayout(t *testing.T) {
	status := newStatus(t)

	if status.TotalFree != 20 || status.TotalCars != 0 || status.SystemFull {
		t.Fatalf("unexpected totals: free=%d cars=%d full=%v", status.TotalFree, status.TotalCars, status.SystemFull)
	}
	if got := status.Floors[models.FloorGround].FreeByType; got != [3]int{1, 1, 2} {
		t.Errorf("ground free by type = %v", got)
	}
	if got := status.Floors[models.FloorFirst].FreeByType; got != [3]int{2, 2, 4} {
		t.Errorf("floor1 free by type = %v", got)
	}
	if got := status.TotalFreeByType; got != [3]int{5, 5, 10} {
		t.Errorf("total free by type = %v", got)
	}
}

func TestAllocateThenFreeRestoresCounts(t *testing.T) {
	status := newStatus(t)
	before := status.Clone()
	plate := mustPlate(t, "ABC1D23")

	p, err := Allocate(status, plate, models.SpotCommon, models.FloorGround, t0)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if p.Floor != models.FloorGround || p.Spot != 2 || p.Type != models.SpotCommon {
		t.Errorf("placement = %+v, want ground spot 2 common", p)
	}
	ground := status.Floors[models.FloorGround]
	if ground.FreeByType[models.SpotCommon] != 1 || ground.CarsCount != 1 {
		t.Errorf("ground after allocate: free=%v cars=%d", ground.FreeByType, ground.CarsCount)
	}
	if ground.FreeByType[models.SpotPNE] != 1 || ground.FreeByType[models.SpotElderly] != 1 {
		t.Errorf("other counters must not change: %v", ground.FreeByType)
	}
	if status.TotalFree != before.TotalFree-1 || status.TotalCars != 1 {
		t.Errorf("totals after allocate: free=%d cars=%d", status.TotalFree, status.TotalCars)
	}
	if err := CheckInvariants(status); err != nil {
		t.Fatal(err)
	}
	if spot := ground.Spots[2]; spot.Plate != plate || spot.Confidence != 0 || !spot.ChangedAt.Equal(t0) {
		t.Errorf("claimed spot = %+v", spot)
	}

	if _, err := Free(status, plate, t0.Add(time.Minute)); err != nil {
		t.Fatalf("free: %v", err)
	}
	for f := range status.Floors {
		if status.Floors[f].FreeByType != before.Floors[f].FreeByType || status.Floors[f].CarsCount != before.Floors[f].CarsCount {
			t.Errorf("floor %d not restored", f)
		}
	}
	if status.TotalFreeByType != before.TotalFreeByType || status.TotalFree != before.TotalFree || status.TotalCars != 0 {
		t.Errorf("totals not restored")
	}
	if err := CheckInvariants(status); err != nil {
		t.Fatal(err)
	}
}

func TestAllocateFallsBackToOtherTypesOnSameFloor(t *testing.T) {
	status := newStatus(t)
	for i := 0; i < 2; i++ {
		if _, err := Allocate(status, mustPlate(t, fmt.Sprintf("COM%04d", i)), models.SpotCommon, models.FloorGround, t0); err != nil {
			t.Fatalf("allocate common %d: %v", i, err)
		}
	}

	p, err := Allocate(status, mustPlate(t, "NEXT001"), models.SpotCommon, models.FloorGround, t0)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	// 普通位已满，回退顺序为 普通 -> PNE -> 老年，仍在首选楼层
	if p.Floor != models.FloorGround || p.Type != models.SpotPNE || p.Spot != 0 {
		t.Errorf("placement = %+v, want ground spot 0 pne", p)
	}

	p, err = Allocate(status, mustPlate(t, "NEXT002"), models.SpotElderly, models.FloorGround, t0)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if p.Floor != models.FloorGround || p.Type != models.SpotElderly || p.Spot != 1 {
		t.Errorf("placement = %+v, want ground spot 1 elderly", p)
	}

	// 地面层已满，轮转到一层
	p, err = Allocate(status, mustPlate(t, "NEXT003"), models.SpotElderly, models.FloorGround, t0)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if p.Floor != models.FloorFirst || p.Type != models.SpotElderly || p.Spot != 2 {
		t.Errorf("placement = %+v, want floor1 spot 2 elderly", p)
	}
	if err := CheckInvariants(status); err != nil {
		t.Fatal(err)
	}
}

func TestAllocateRoundRobinSkipsBlockedFloor(t *testing.T) {
	status := newStatus(t)
	if err := SetFloorBlocked(status, models.FloorFirst, true); err != nil {
		t.Fatal(err)
	}

	p, err := Allocate(status, mustPlate(t, "BLK0001"), models.SpotCommon, models.FloorFirst, t0)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if p.Floor != models.FloorSecond || p.Spot != 4 {
		t.Errorf("placement = %+v, want floor2 spot 4", p)
	}

	// 从二层开始轮转：二层 -> 地面 -> 一层
	if err := SetFloorBlocked(status, models.FloorSecond, true); err != nil {
		t.Fatal(err)
	}
	p, err = Allocate(status, mustPlate(t, "BLK0002"), models.SpotPNE, models.FloorSecond, t0)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if p.Floor != models.FloorGround || p.Spot != 0 {
		t.Errorf("placement = %+v, want ground spot 0", p)
	}
}

func TestAllocateAllBlockedHasNoSideEffects(t *testing.T) {
	status := newStatus(t)
	for f := 0; f < models.NumFloors; f++ {
		if err := SetFloorBlocked(status, models.FloorID(f), true); err != nil {
			t.Fatal(err)
		}
	}
	before := status.Clone()

	_, err := Allocate(status, mustPlate(t, "NOPE001"), models.SpotCommon, models.FloorGround, t0)
	if !errors.Is(err, ErrNoSpot) {
		t.Fatalf("err = %v, want ErrNoSpot", err)
	}
	if status.TotalFree != before.TotalFree || status.TotalCars != before.TotalCars {
		t.Errorf("failed allocation mutated totals")
	}
}

func TestAllocateWhenFull(t *testing.T) {
	status := newStatus(t)
	for i := 0; i < 20; i++ {
		if _, err := Allocate(status, mustPlate(t, fmt.Sprintf("FUL%04d", i)), models.SpotCommon, models.FloorID(i%3), t0); err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
	}
	if !status.SystemFull || status.TotalFree != 0 || status.TotalCars != 20 {
		t.Fatalf("expected full: full=%v free=%d cars=%d", status.SystemFull, status.TotalFree, status.TotalCars)
	}
	if err := CheckInvariants(status); err != nil {
		t.Fatal(err)
	}

	before := status.Clone()
	if _, err := Allocate(status, mustPlate(t, "LATE001"), models.SpotCommon, models.FloorGround, t0); !errors.Is(err, ErrSystemFull) {
		t.Fatalf("err = %v, want ErrSystemFull", err)
	}
	if status.TotalCars != before.TotalCars {
		t.Errorf("failed allocation mutated state")
	}

	if _, err := Free(status, mustPlate(t, "FUL0007"), t0); err != nil {
		t.Fatalf("free: %v", err)
	}
	if status.SystemFull || status.TotalFree != 1 {
		t.Errorf("system_full should clear after free: full=%v free=%d", status.SystemFull, status.TotalFree)
	}
}

func TestAllocateRejectsInvalidInput(t *testing.T) {
	status := newStatus(t)

	tests := []struct {
		name  string
		plate models.Plate
		typ   models.SpotType
		floor models.FloorID
		want  error
	}{
		{"short plate", "AB12", models.SpotCommon, models.FloorGround, models.ErrInvalidPlate},
		{"long plate", "ABCDEFGHI", models.SpotCommon, models.FloorGround, models.ErrInvalidPlate},
		{"empty plate", "", models.SpotCommon, models.FloorGround, models.ErrInvalidPlate},
		{"bad floor", "ABC1234", models.SpotCommon, models.FloorID(7), ErrInvalidFloor},
		{"bad type", "ABC1234", models.SpotType(9), models.FloorGround, ErrInvalidSpotType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Allocate(status, tt.plate, tt.typ, tt.floor, t0)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if status.TotalCars != 0 {
				t.Errorf("rejected input mutated state")
			}
		})
	}
}

func TestFreeUnknownPlate(t *testing.T) {
	status := newStatus(t)
	if _, err := Free(status, mustPlate(t, "GHOST01"), t0); !errors.Is(err, ErrPlateNotFound) {
		t.Errorf("err = %v, want ErrPlateNotFound", err)
	}
}

func TestAllocateStoresNormalizedPlate(t *testing.T) {
	status := newStatus(t)
	p, err := Allocate(status, " abc1234 ", models.SpotCommon, models.FloorGround, t0)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if p.Plate != "ABC1234" {
		t.Errorf("placement plate = %q, want ABC1234", p.Plate)
	}
	if got := status.Floors[p.Floor].Spots[p.Spot].Plate; got != "ABC1234" {
		t.Errorf("stored plate = %q, want ABC1234", got)
	}
	if _, ok := Locate(status, "abc1234"); !ok {
		t.Errorf("locate with raw input failed")
	}
	if _, err := Free(status, "ABC1234", t0.Add(time.Minute)); err != nil {
		t.Fatalf("free with normalized plate: %v", err)
	}
	if status.TotalCars != 0 {
		t.Errorf("cars after free = %d", status.TotalCars)
	}
}

func TestLocateAndAttachPlate(t *testing.T) {
	status := newStatus(t)
	plate := mustPlate(t, "LOC1234")
	entry := t0.Add(-2 * time.Hour)
	if _, err := Allocate(status, plate, models.SpotCommon, models.FloorSecond, entry); err != nil {
		t.Fatal(err)
	}

	p, ok := Locate(status, plate)
	if !ok || p.Floor != models.FloorSecond || !p.At.Equal(entry) {
		t.Fatalf("locate = %+v, %v", p, ok)
	}

	if err := AttachPlate(status, p.Floor, p.Spot, plate, 93); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if got := status.Floors[p.Floor].Spots[p.Spot].Confidence; got != 93 {
		t.Errorf("confidence = %d", got)
	}
	if err := AttachPlate(status, p.Floor, 0, plate, 90); err == nil {
		t.Errorf("attaching to a free spot should fail")
	}
}

type fakeSensor struct {
	occupied map[int]bool
	failing  map[int]error
}

func (f *fakeSensor) ReadSpot(index int) (bool, error) {
	if err := f.failing[index]; err != nil {
		return false, err
	}
	return f.occupied[index], nil
}

func TestScanFloorCountsChanges(t *testing.T) {
	status := newStatus(t)
	floor := &status.Floors[models.FloorFirst]
	floor.Spots[3].Plate = "OLD1234"
	floor.Spots[3].Confidence = 88
	sensor := &fakeSensor{occupied: map[int]bool{1: true, 3: true}}

	n, err := ScanFloor(floor, models.FloorFirst, sensor, t0)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if n != 2 {
		t.Errorf("changes = %d, want 2", n)
	}
	if floor.CarsCount != 2 || floor.TotalFree != 6 || floor.FreeByType != [3]int{1, 1, 4} {
		t.Errorf("floor after scan: cars=%d free=%d by type=%v", floor.CarsCount, floor.TotalFree, floor.FreeByType)
	}
	if floor.Spots[3].Plate != "" || floor.Spots[3].Confidence != 0 {
		t.Errorf("newly occupied spot must clear plate: %+v", floor.Spots[3])
	}

	n, _ = ScanFloor(floor, models.FloorFirst, sensor, t0.Add(time.Second))
	if n != 0 {
		t.Errorf("second scan changes = %d, want 0", n)
	}
	if !floor.Spots[1].ChangedAt.Equal(t0) {
		t.Errorf("unchanged spot timestamp moved")
	}

	// 读取失败的车位保持原状态
	sensor.occupied = map[int]bool{3: true}
	sensor.failing = map[int]error{1: errors.New("mux glitch")}
	n, _ = ScanFloor(floor, models.FloorFirst, sensor, t0.Add(2*time.Second))
	if n != 0 || !floor.Spots[1].Occupied {
		t.Errorf("failed read should leave spot unchanged: n=%d occupied=%v", n, floor.Spots[1].Occupied)
	}

	RefreshTotals(status)
	if err := CheckInvariants(status); err != nil {
		t.Fatal(err)
	}
}

func TestScanFloorRejectsInvalidInput(t *testing.T) {
	status := newStatus(t)
	if _, err := ScanFloor(nil, models.FloorGround, &fakeSensor{}, t0); !errors.Is(err, ErrInvalidFloor) {
		t.Errorf("nil floor: err = %v", err)
	}
	if _, err := ScanFloor(&status.Floors[0], models.FloorID(-1), &fakeSensor{}, t0); !errors.Is(err, ErrInvalidFloor) {
		t.Errorf("bad floor id: err = %v", err)
	}
	if _, err := ApplyScan(&status.Floors[0], models.FloorGround, make([]SpotReading, 3), t0); !errors.Is(err, ErrInvalidSpot) {
		t.Errorf("short readings: err = %v", err)
	}
}

func TestApplyScanKeepsReservedSpot(t *testing.T) {
	status := newStatus(t)
	plate := mustPlate(t, "RES1234")
	p, err := Allocate(status, plate, models.SpotCommon, models.FloorGround, t0)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := AttachPlate(status, p.Floor, p.Spot, plate, 91); err != nil {
		t.Fatalf("attach: %v", err)
	}
	floor := &status.Floors[p.Floor]
	free := make([]SpotReading, len(floor.Spots))
	parked := make([]SpotReading, len(floor.Spots))
	parked[p.Spot].Occupied = true

	// 车辆还在驶向车位
	changes, err := ApplyScan(floor, p.Floor, free, t0.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Errorf("reserved spot flipped: %+v", changes)
	}
	if _, ok := Locate(status, plate); !ok {
		t.Fatalf("plate lost before the car reached its spot")
	}

	changes, _ = ApplyScan(floor, p.Floor, parked, t0.Add(30*time.Second))
	if len(changes) != 0 {
		t.Errorf("arrival on a reserved spot should not count as a change: %+v", changes)
	}
	spot := floor.Spots[p.Spot]
	if spot.Plate != plate || spot.Confidence != 91 || !spot.ChangedAt.Equal(t0) {
		t.Errorf("arrival must keep plate and entry time: %+v", spot)
	}
	if !spot.ReservedUntil.IsZero() {
		t.Errorf("reservation not cleared on arrival: %v", spot.ReservedUntil)
	}

	// 到位后再读到空闲按正常离开处理
	changes, _ = ApplyScan(floor, p.Floor, free, t0.Add(time.Minute))
	if len(changes) != 1 || floor.Spots[p.Spot].Occupied {
		t.Errorf("departure not detected: changes=%+v spot=%+v", changes, floor.Spots[p.Spot])
	}
	RefreshTotals(status)
	if err := CheckInvariants(status); err != nil {
		t.Fatal(err)
	}
}

func TestApplyScanReleasesExpiredReservation(t *testing.T) {
	status := newStatus(t)
	plate := mustPlate(t, "EXP1234")
	p, err := Allocate(status, plate, models.SpotCommon, models.FloorGround, t0)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	floor := &status.Floors[p.Floor]

	changes, err := ApplyScan(floor, p.Floor, make([]SpotReading, len(floor.Spots)), t0.Add(ReservationHold))
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].Spot != p.Spot || changes[0].Occupied {
		t.Errorf("changes = %+v", changes)
	}
	spot := floor.Spots[p.Spot]
	if spot.Occupied || spot.Plate != "" || !spot.ReservedUntil.IsZero() {
		t.Errorf("expired reservation not released: %+v", spot)
	}
	if _, ok := Locate(status, plate); ok {
		t.Errorf("released plate still located")
	}
	RefreshTotals(status)
	if err := CheckInvariants(status); err != nil {
		t.Fatal(err)
	}
}

func TestCalculateFee(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    int64
		wantErr bool
	}{
		{"one second", time.Second, 15, false},
		{"exactly one minute", time.Minute, 15, false},
		{"ninety seconds", 90 * time.Second, 30, false},
		{"one minute one second", 61 * time.Second, 30, false},
		{"two hours", 2 * time.Hour, 1800, false},
		{"zero", 0, 0, true},
		{"negative", -time.Minute, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateFee(t0, t0.Add(tt.elapsed))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidInterval) {
				t.Errorf("err = %v, want ErrInvalidInterval", err)
			}
			if got != tt.want {
				t.Errorf("fee = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStoreConcurrentAllocateAndFree(t *testing.T) {
	store := NewStore(New(DefaultLayout(), t0), zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			plate := models.Plate(fmt.Sprintf("CON%04d", i))
			if _, err := store.Allocate(plate, models.SpotCommon, models.FloorID(i%3)); err != nil {
				t.Errorf("allocate %s: %v", plate, err)
				return
			}
			if i%2 == 0 {
				if _, err := store.Free(plate); err != nil {
					t.Errorf("free %s: %v", plate, err)
				}
			}
		}(i)
	}
	wg.Wait()

	snap := store.Snapshot()
	if err := CheckInvariants(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.TotalCars != 5 {
		t.Errorf("cars = %d, want 5", snap.TotalCars)
	}
}

func TestStoreSnapshotIsDeepCopy(t *testing.T) {
	store := NewStore(New(DefaultLayout(), t0), zaptest.NewLogger(t))
	snap := store.Snapshot()
	snap.Floors[0].Spots[0].Occupied = true

	store.View(func(status *models.ParkingStatus) {
		if status.Floors[0].Spots[0].Occupied {
			t.Errorf("mutating a snapshot leaked into the store")
		}
	})
}

func TestStoreApplyScan(t *testing.T) {
	store := NewStore(New(DefaultLayout(), t0), zaptest.NewLogger(t))
	readings := []SpotReading{{Occupied: true}, {}, {Err: errors.New("glitch")}, {Occupied: true}}

	changes, err := store.ApplyScan(models.FloorGround, readings)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 || changes[0].Spot != 0 || changes[1].Spot != 3 {
		t.Errorf("changes = %+v", changes)
	}
	snap := store.Snapshot()
	if snap.TotalCars != 2 || snap.TotalFree != 18 {
		t.Errorf("totals after scan: cars=%d free=%d", snap.TotalCars, snap.TotalFree)
	}
	if err := CheckInvariants(&snap); err != nil {
		t.Fatal(err)
	}
}

package parking

import (
	"fmt"
	"strings"

	"github.com/langchou/parkgate/internal/models"
)

// FormatStatus 控制台诊断输出
func FormatStatus(status *models.ParkingStatus) string {
	var b strings.Builder
	b.WriteString("=== PARKING STATUS ===\n")
	fmt.Fprintf(&b, "free: %d/%d (pne=%d elderly=%d common=%d) cars=%d\n",
		status.TotalFree, status.TotalSpots(),
		status.TotalFreeByType[models.SpotPNE],
		status.TotalFreeByType[models.SpotElderly],
		status.TotalFreeByType[models.SpotCommon],
		status.TotalCars)
	fmt.Fprintf(&b, "full: %v  emergency: %v\n", status.SystemFull, status.EmergencyMode)

	for f := range status.Floors {
		floor := &status.Floors[f]
		fmt.Fprintf(&b, "%-7s free %d/%d blocked=%v  ", models.FloorID(f), floor.TotalFree, len(floor.Spots), floor.Blocked)
		for _, spot := range floor.Spots {
			if spot.Occupied {
				b.WriteString("[X]")
			} else {
				b.WriteString("[ ]")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

package parking

import (
	"fmt"
	"time"
)

// DefaultPricePerMinuteCents 每分钟 15 分
const DefaultPricePerMinuteCents = 15

// FeeCalculator 按分钟计费，不足一分钟按一分钟计
type FeeCalculator struct {
	PerMinuteCents int64
}

// Minutes 计费分钟数，向上取整
func Minutes(entry, exit time.Time) (int64, error) {
	if !exit.After(entry) {
		return 0, fmt.Errorf("%w: entry=%s exit=%s", ErrInvalidInterval, entry.Format(time.RFC3339), exit.Format(time.RFC3339))
	}
	elapsed := exit.Sub(entry)
	return int64((elapsed + time.Minute - 1) / time.Minute), nil
}

// Calculate 计算费用（分），出场时间不晚于入场时间时返回 0 和错误
func (c FeeCalculator) Calculate(entry, exit time.Time) (int64, error) {
	minutes, err := Minutes(entry, exit)
	if err != nil {
		return 0, err
	}
	return minutes * c.PerMinuteCents, nil
}

// CalculateFee 使用默认费率计费
func CalculateFee(entry, exit time.Time) (int64, error) {
	return FeeCalculator{PerMinuteCents: DefaultPricePerMinuteCents}.Calculate(entry, exit)
}

// Package rates 根据 DSCR 验证值计算贷款利率档位。
// 注意: 贷前系统有同样的档位逻辑，链上记录以桥这边的计算为准。
package rates

// DSCR 定点档位边界 (实际值 ×1000)
const (
	dscrTierExcellent = 2000 // >= 2.0
	dscrTierStrong    = 1500 // >= 1.5
	dscrTierAdequate  = 1250 // >= 1.25
	dscrTierBreakEven = 1000 // >= 1.0
)

// 对应档位的年化利率 (基点)
const (
	rateBpsExcellent = 600
	rateBpsStrong    = 750
	rateBpsAdequate  = 900
	rateBpsBreakEven = 1100
	rateBpsSubprime  = 1400
)

// RateBpsForDSCR 将 DSCR 定点值映射到利率基点。
// 覆盖率越高利率越低，低于保本线按次级价格。
func RateBpsForDSCR(dscrScaled int64) int64 {
	switch {
	case dscrScaled >= dscrTierExcellent:
		return rateBpsExcellent
	case dscrScaled >= dscrTierStrong:
		return rateBpsStrong
	case dscrScaled >= dscrTierAdequate:
		return rateBpsAdequate
	case dscrScaled >= dscrTierBreakEven:
		return rateBpsBreakEven
	default:
		return rateBpsSubprime
	}
}

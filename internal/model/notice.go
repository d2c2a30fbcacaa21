package model

// FactKind 已验证事实类型
type FactKind int8

const (
	FactKindDscrVerified FactKind = 1 // DSCR 验证结果 (zkfetch)
)

func (k FactKind) String() string {
	switch k {
	case FactKindDscrVerified:
		return "DSCR_VERIFIED"
	default:
		return "UNKNOWN"
	}
}

// OracleNotice 预言机通知源中的一条原始通知
type OracleNotice struct {
	Index      uint64 `json:"index"`
	InputIndex uint64 `json:"input_index"`
	// Payload 0x 前缀的 hex 编码 JSON
	Payload string `json:"payload"`
}

// VerifiedFact 从通知解码出的已验证事实，仅在内存中流转
type VerifiedFact struct {
	FactKind        FactKind
	LoanID          string
	BorrowerAddress string
	// DscrValueScaled DSCR 定点值 (实际值 ×1000，如 1.5 → 1500)
	DscrValueScaled int64
	ProofHash       [32]byte
	Verified        bool
	VerificationSeq uint64
	ProducedAt      int64
}

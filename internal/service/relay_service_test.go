package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvena/solvena-bridge/internal/blockchain"
	"github.com/solvena/solvena-bridge/internal/contract"
	"github.com/solvena/solvena-bridge/internal/ledger"
	"github.com/solvena/solvena-bridge/internal/model"
)

// stubFetcher 固定返回一批通知
type stubFetcher struct {
	notices []model.OracleNotice
	err     error
	calls   int
}

func (f *stubFetcher) FetchLatest(_ context.Context, _ int) ([]model.OracleNotice, error) {
	f.calls++
	return f.notices, f.err
}

// stubExecutor 记录写路径调用
type stubExecutor struct {
	err      error
	result   *blockchain.TxResult
	calls    int
	lastTo   common.Address
	lastData []byte
}

func (e *stubExecutor) Execute(_ context.Context, to common.Address, calldata []byte) (*blockchain.TxResult, error) {
	e.calls++
	e.lastTo = to
	e.lastData = calldata
	if e.err != nil {
		return nil, e.err
	}
	if e.result != nil {
		return e.result, nil
	}
	return &blockchain.TxResult{TxHash: "0xfeed", Succeeded: true}, nil
}

func encodeNoticePayload(t *testing.T, doc map[string]interface{}) string {
	t.Helper()
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	return "0x" + hex.EncodeToString(raw)
}

func dscrNotice(t *testing.T, seq uint64, dscr string) model.OracleNotice {
	return model.OracleNotice{
		Index: seq,
		Payload: encodeNoticePayload(t, map[string]interface{}{
			"type":             "dscr_verified_zkfetch",
			"success":          true,
			"borrower_address": "0x1234567890123456789012345678901234567890",
			"loan_id":          "loan-app-001",
			"dscr_value":       dscr,
			"verification_id":  seq,
			"proof_hash":       "0xabcd000000000000000000000000000000000000000000000000000000000000",
		}),
	}
}

func newTestRelayService(t *testing.T, fetcher *stubFetcher, executor *stubExecutor) (*RelayService, ledger.Ledger) {
	t.Helper()
	pool, err := contract.NewLoanPoolContract(
		common.HexToAddress("0x00000000000000000000000000000000000000aa"), nil)
	require.NoError(t, err)

	idempotency := ledger.NewMemoryLedger()
	svc := NewRelayService(fetcher, pool, executor, idempotency, RelayServiceConfig{
		BatchSize:    10,
		PollInterval: time.Hour,
		RelayPause:   time.Millisecond,
	})
	return svc, idempotency
}

func TestRelayService_RelayVerifiedFact(t *testing.T) {
	fetcher := &stubFetcher{notices: []model.OracleNotice{dscrNotice(t, 1, "1.5000")}}
	executor := &stubExecutor{}
	svc, idempotency := newTestRelayService(t, fetcher, executor)

	svc.RunCycle(context.Background())

	assert.Equal(t, 1, executor.calls)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000aa"), executor.lastTo)
	assert.NotEmpty(t, executor.lastData)

	key := ledger.NoticeKey("0x1234567890123456789012345678901234567890", "loan-app-001", 1)
	processed, err := idempotency.HasProcessed(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestRelayService_DuplicateNoticeRelayedOnce(t *testing.T) {
	notice := dscrNotice(t, 7, "1.8")
	fetcher := &stubFetcher{notices: []model.OracleNotice{notice, notice}}
	executor := &stubExecutor{}
	svc, _ := newTestRelayService(t, fetcher, executor)

	svc.RunCycle(context.Background())
	assert.Equal(t, 1, executor.calls)

	// 下一轮重放同一条通知，仍然只上链一次
	svc.RunCycle(context.Background())
	assert.Equal(t, 1, executor.calls)
}

func TestRelayService_ForeignTypeSkipped(t *testing.T) {
	fetcher := &stubFetcher{notices: []model.OracleNotice{{
		Index: 3,
		Payload: encodeNoticePayload(t, map[string]interface{}{
			"type":    "collateral_price_update",
			"success": true,
		}),
	}}}
	executor := &stubExecutor{}
	svc, _ := newTestRelayService(t, fetcher, executor)

	svc.RunCycle(context.Background())
	assert.Zero(t, executor.calls)
}

func TestRelayService_FailedVerificationSkipped(t *testing.T) {
	fetcher := &stubFetcher{notices: []model.OracleNotice{{
		Index: 4,
		Payload: encodeNoticePayload(t, map[string]interface{}{
			"type":             "dscr_verified_zkfetch",
			"success":          false,
			"borrower_address": "0x1234567890123456789012345678901234567890",
			"loan_id":          "loan-app-002",
			"dscr_value":       "0.8",
		}),
	}}}
	executor := &stubExecutor{}
	svc, _ := newTestRelayService(t, fetcher, executor)

	svc.RunCycle(context.Background())
	assert.Zero(t, executor.calls)
}

func TestRelayService_ExecuteFailureLeavesNoticeUnmarked(t *testing.T) {
	fetcher := &stubFetcher{notices: []model.OracleNotice{dscrNotice(t, 9, "2.1")}}
	executor := &stubExecutor{err: blockchain.ErrGasPriceTooHigh}
	svc, idempotency := newTestRelayService(t, fetcher, executor)

	svc.RunCycle(context.Background())
	assert.Equal(t, 1, executor.calls)

	key := ledger.NoticeKey("0x1234567890123456789012345678901234567890", "loan-app-001", 9)
	processed, err := idempotency.HasProcessed(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, processed)

	// gas 价格恢复后同一条通知被重新中继
	executor.err = nil
	svc.RunCycle(context.Background())
	assert.Equal(t, 2, executor.calls)

	processed, err = idempotency.HasProcessed(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestRelayService_FetchErrorTreatedAsEmptyCycle(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("feed unavailable")}
	executor := &stubExecutor{}
	svc, _ := newTestRelayService(t, fetcher, executor)

	svc.RunCycle(context.Background())
	assert.Zero(t, executor.calls)
}

func TestRelayService_MalformedPayloadIsolated(t *testing.T) {
	fetcher := &stubFetcher{notices: []model.OracleNotice{
		{Index: 1, Payload: "0xzzzz"},
		dscrNotice(t, 2, "1.2"),
	}}
	executor := &stubExecutor{}
	svc, _ := newTestRelayService(t, fetcher, executor)

	// 坏通知不影响同批后续通知
	svc.RunCycle(context.Background())
	assert.Equal(t, 1, executor.calls)
}

func TestRelayService_OnFactRelayedCallback(t *testing.T) {
	fetcher := &stubFetcher{notices: []model.OracleNotice{dscrNotice(t, 5, "1.5000")}}
	executor := &stubExecutor{result: &blockchain.TxResult{TxHash: "0xcafe", Succeeded: true}}
	svc, _ := newTestRelayService(t, fetcher, executor)

	var got *model.FactRelayedEvent
	svc.SetOnFactRelayed(func(_ context.Context, event *model.FactRelayedEvent) error {
		got = event
		return nil
	})

	svc.RunCycle(context.Background())

	require.NotNil(t, got)
	assert.Equal(t, "loan-app-001", got.LoanID)
	assert.Equal(t, int64(1500), got.DscrValueScaled)
	assert.Equal(t, int64(750), got.RateBps)
	assert.Equal(t, uint64(5), got.VerificationSeq)
	assert.Equal(t, "0xcafe", got.TxHash)
}

func TestRelayService_StartStop(t *testing.T) {
	fetcher := &stubFetcher{}
	executor := &stubExecutor{}
	svc, _ := newTestRelayService(t, fetcher, executor)

	require.NoError(t, svc.Start(context.Background()))
	assert.True(t, svc.IsRunning())
	assert.ErrorIs(t, svc.Start(context.Background()), ErrServiceAlreadyRunning)

	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsRunning())
	assert.ErrorIs(t, svc.Stop(), ErrServiceNotRunning)

	// 启动时立即跑了一轮
	assert.GreaterOrEqual(t, fetcher.calls, 1)
}

func TestChainTxStatus(t *testing.T) {
	assert.Equal(t, "aborted", chainTxStatus(blockchain.ErrGasPriceTooHigh))
	assert.Equal(t, "aborted", chainTxStatus(blockchain.ErrSimulationReverted))
	assert.Equal(t, "reverted", chainTxStatus(blockchain.ErrTxReverted))
	assert.Equal(t, "timeout", chainTxStatus(blockchain.ErrReceiptTimeout))
	assert.Equal(t, "error", chainTxStatus(errors.New("boom")))
}

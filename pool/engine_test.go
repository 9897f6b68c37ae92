package pool

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"pawpool/contract"
	"pawpool/gateway"
	"pawpool/payment"
)

func strPtr(s string) *string { return &s }

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newEngine(payments *fakePayments, ledger *fakeLedger, guard *fakeGuard, gw *fakeGateway) (*Engine, *fakePool) {
	p := &fakePool{}
	return NewEngine(p, payments, ledger, guard, gw, nil), p
}

func paidCollateral(id, userID, contractID, amount string) payment.Payment {
	return payment.Payment{
		ID:               id,
		UserID:           userID,
		ContractID:       contractID,
		Type:             payment.TypeCollateral,
		Amount:           dec(amount),
		Status:           payment.StatusPaid,
		PoolStatus:       payment.PoolNotPooled,
		GatewayPaymentID: strPtr("pay_" + id),
	}
}

func TestDepositToPool_BooksLedgerEntry(t *testing.T) {
	payments := newFakePayments(paidCollateral("p1", "u1", "c1", "1000.00"))
	ledger := newFakeLedger()
	eng, pool := newEngine(payments, ledger, &fakeGuard{}, &fakeGateway{})

	result, err := eng.DepositToPool(context.Background(), "p1")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !result.Deposited {
		t.Fatal("expected deposit to happen")
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}

	if got := payments.get("p1").PoolStatus; got != payment.PoolInPool {
		t.Fatalf("expected in_pool, got %s", got)
	}
	if len(ledger.entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(ledger.entries))
	}
	entry := ledger.entries[0]
	if entry.Type != TxDeposit || entry.Status != TxCompleted {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if !entry.Amount.Equal(dec("1000.00")) || !entry.BalanceAfter.Equal(dec("1000.00")) {
		t.Fatalf("unexpected amounts %s / %s", entry.Amount, entry.BalanceAfter)
	}
}

func TestDepositToPool_ReplayIsNoOp(t *testing.T) {
	payments := newFakePayments(paidCollateral("p1", "u1", "c1", "1000.00"))
	ledger := newFakeLedger()
	eng, _ := newEngine(payments, ledger, &fakeGuard{}, &fakeGateway{})

	ctx := context.Background()
	if _, err := eng.DepositToPool(ctx, "p1"); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	result, err := eng.DepositToPool(ctx, "p1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.Deposited {
		t.Fatal("expected replay to be a no-op")
	}
	if len(ledger.entries) != 1 {
		t.Fatalf("expected 1 ledger entry after replay, got %d", len(ledger.entries))
	}
}

func TestDepositToPool_SkipsNonPoolable(t *testing.T) {
	p := paidCollateral("p1", "u1", "c1", "500.00")
	p.Type = payment.TypeSubscription
	payments := newFakePayments(p)
	ledger := newFakeLedger()
	eng, _ := newEngine(payments, ledger, &fakeGuard{}, &fakeGateway{})

	result, err := eng.DepositToPool(context.Background(), "p1")
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if result.Deposited || len(ledger.entries) != 0 {
		t.Fatal("expected subscription payment to be skipped")
	}
}

func TestReleaseCollateral_RefundsAllPooled(t *testing.T) {
	p1 := paidCollateral("p1", "u1", "c1", "1000.00")
	p1.PoolStatus = payment.PoolInPool
	p2 := paidCollateral("p2", "u2", "c1", "1000.00")
	p2.PoolStatus = payment.PoolInPool
	payments := newFakePayments(p1, p2)
	ledger := newFakeLedger()
	gw := &fakeGateway{}
	eng, _ := newEngine(payments, ledger, &fakeGuard{}, gw)

	result, err := eng.ReleaseCollateral(context.Background(), "c1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if result.Released != 2 || result.Failed != 0 {
		t.Fatalf("expected 2 released, got %+v", result)
	}

	for _, id := range []string{"p1", "p2"} {
		p := payments.get(id)
		if p.PoolStatus != payment.PoolRefunded {
			t.Fatalf("payment %s: expected refunded, got %s", id, p.PoolStatus)
		}
		if p.GatewayRefundID == nil {
			t.Fatalf("payment %s: expected refund id recorded", id)
		}
	}
	if len(gw.calls) != 2 {
		t.Fatalf("expected 2 gateway calls, got %d", len(gw.calls))
	}
	for _, entry := range ledger.entries {
		if entry.Type != TxRelease || entry.Status != TxCompleted {
			t.Fatalf("unexpected entry %+v", entry)
		}
		if !entry.BalanceAfter.IsZero() {
			t.Fatalf("expected zero balance_after, got %s", entry.BalanceAfter)
		}
	}
}

func TestReleaseCollateral_BlockedByActiveDispute(t *testing.T) {
	p1 := paidCollateral("p1", "u1", "c1", "1000.00")
	p1.PoolStatus = payment.PoolInPool
	payments := newFakePayments(p1)
	ledger := newFakeLedger()
	gw := &fakeGateway{}
	eng, pool := newEngine(payments, ledger, &fakeGuard{active: true}, gw)

	_, err := eng.ReleaseCollateral(context.Background(), "c1")
	if !errors.Is(err, ErrActiveDispute) {
		t.Fatalf("expected ErrActiveDispute, got %v", err)
	}
	if pool.tx.committed {
		t.Error("expected rollback, not commit")
	}
	if len(gw.calls) != 0 || len(ledger.entries) != 0 {
		t.Error("expected no mutation before the dispute guard")
	}
}

func TestReleaseCollateral_NoGatewayReference(t *testing.T) {
	p1 := paidCollateral("p1", "u1", "c1", "800.00")
	p1.PoolStatus = payment.PoolInPool
	p1.GatewayPaymentID = nil
	payments := newFakePayments(p1)
	ledger := newFakeLedger()
	gw := &fakeGateway{}
	eng, _ := newEngine(payments, ledger, &fakeGuard{}, gw)

	result, err := eng.ReleaseCollateral(context.Background(), "c1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if result.Released != 1 || result.Failed != 0 {
		t.Fatalf("expected manual settlement to count as released, got %+v", result)
	}
	if len(gw.calls) != 0 {
		t.Fatal("expected no gateway call without a payment reference")
	}
	if got := payments.get("p1").PoolStatus; got != payment.PoolReleased {
		t.Fatalf("expected released, got %s", got)
	}
	entry := ledger.entries[0]
	if entry.Type != TxRelease || entry.Status != TxPending {
		t.Fatalf("expected pending release entry, got %+v", entry)
	}
}

func TestReleaseCollateral_GatewayFailureLeavesPaymentRetryable(t *testing.T) {
	p1 := paidCollateral("p1", "u1", "c1", "1000.00")
	p1.PoolStatus = payment.PoolInPool
	payments := newFakePayments(p1)
	ledger := newFakeLedger()
	gw := &fakeGateway{failRefs: map[string]bool{"pay_p1": true}}
	eng, _ := newEngine(payments, ledger, &fakeGuard{}, gw)

	result, err := eng.ReleaseCollateral(context.Background(), "c1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if result.Released != 0 || result.Failed != 1 {
		t.Fatalf("expected 1 failed, got %+v", result)
	}
	if got := payments.get("p1").PoolStatus; got != payment.PoolInPool {
		t.Fatalf("expected payment left in_pool for retry, got %s", got)
	}
	entry := ledger.entries[0]
	if entry.Type != TxRefund || entry.Status != TxPending {
		t.Fatalf("expected pending refund entry, got %+v", entry)
	}
	if !entry.BalanceAfter.Equal(dec("1000.00")) {
		t.Fatalf("pending entry must not move the chain, got %s", entry.BalanceAfter)
	}
}

func TestHandleCancellation_FeeSplit(t *testing.T) {
	p1 := paidCollateral("p1", "owner1", "c1", "1000.00")
	p1.PoolStatus = payment.PoolInPool
	p2 := paidCollateral("p2", "owner2", "c1", "1000.00")
	p2.PoolStatus = payment.PoolInPool
	payments := newFakePayments(p1, p2)
	ledger := newFakeLedger()
	gw := &fakeGateway{}
	eng, _ := newEngine(payments, ledger, &fakeGuard{}, gw)

	c := contract.Contract{
		ID:                        "c1",
		Owner1UserID:              "owner1",
		Owner2UserID:              "owner2",
		CollateralTotal:           dec("2000.00"),
		CollateralPerOwner:        dec("1000.00"),
		CancellationFeePercentage: dec("5.00"),
		Status:                    contract.StatusCancelled,
	}

	result, err := eng.HandleCancellation(context.Background(), c, "owner1")
	if err != nil {
		t.Fatalf("cancellation: %v", err)
	}
	if result.Processed != 2 || result.Failed != 0 {
		t.Fatalf("expected 2 processed, got %+v", result)
	}

	if got := payments.get("p1").PoolStatus; got != payment.PoolPartiallyRefunded {
		t.Fatalf("canceller: expected partially_refunded, got %s", got)
	}
	if got := payments.get("p2").PoolStatus; got != payment.PoolRefunded {
		t.Fatalf("counter-party: expected refunded, got %s", got)
	}

	if !gw.calls[0].amount.Equal(dec("950.00")) {
		t.Fatalf("canceller refund: expected 950.00, got %s", gw.calls[0].amount)
	}
	if !gw.calls[1].amount.Equal(dec("1000.00")) {
		t.Fatalf("counter-party refund: expected 1000.00, got %s", gw.calls[1].amount)
	}

	var penalty *InsertTxParams
	for i := range ledger.entries {
		if ledger.entries[i].Type == TxCancellationPenalty {
			penalty = &ledger.entries[i]
		}
	}
	if penalty == nil {
		t.Fatal("expected a cancellation_penalty entry")
	}
	if !penalty.Amount.Equal(dec("50.00")) || !penalty.BalanceAfter.IsZero() {
		t.Fatalf("unexpected penalty %+v", *penalty)
	}
	if penalty.UserID != "owner1" {
		t.Fatalf("penalty should debit the canceller, got %s", penalty.UserID)
	}
}

func TestHandleCancellation_PenaltyNotBookedOnGatewayFailure(t *testing.T) {
	p1 := paidCollateral("p1", "owner1", "c1", "1000.00")
	p1.PoolStatus = payment.PoolInPool
	payments := newFakePayments(p1)
	ledger := newFakeLedger()
	gw := &fakeGateway{failRefs: map[string]bool{"pay_p1": true}}
	eng, _ := newEngine(payments, ledger, &fakeGuard{}, gw)

	c := contract.Contract{ID: "c1", Owner1UserID: "owner1", Owner2UserID: "owner2", CancellationFeePercentage: dec("5.00")}
	result, err := eng.HandleCancellation(context.Background(), c, "owner1")
	if err != nil {
		t.Fatalf("cancellation: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("expected 1 failed, got %+v", result)
	}
	if got := payments.get("p1").PoolStatus; got != payment.PoolInPool {
		t.Fatalf("expected payment left in_pool for retry, got %s", got)
	}
	for _, entry := range ledger.entries {
		if entry.Type == TxCancellationPenalty {
			t.Fatal("penalty must not be booked when the refund fails")
		}
	}
}

func TestFreezeAndUnfreezeRoundTrip(t *testing.T) {
	p1 := paidCollateral("p1", "u1", "c1", "1000.00")
	p1.PoolStatus = payment.PoolInPool
	p2 := paidCollateral("p2", "u2", "c1", "1000.00")
	p2.PoolStatus = payment.PoolInPool
	payments := newFakePayments(p1, p2)
	ledger := newFakeLedger()
	eng, _ := newEngine(payments, ledger, &fakeGuard{}, &fakeGateway{})

	ctx := context.Background()
	n, err := eng.FreezeFunds(ctx, &fakeTx{}, "c1", "d1")
	if err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 frozen, got %d", n)
	}
	if payments.get("p1").PoolStatus != payment.PoolFrozen || payments.get("p2").PoolStatus != payment.PoolFrozen {
		t.Fatal("expected both payments frozen")
	}

	m, err := eng.UnfreezeContractFunds(ctx, "c1")
	if err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if m != 2 {
		t.Fatalf("expected 2 unfrozen, got %d", m)
	}
	if payments.get("p1").PoolStatus != payment.PoolInPool || payments.get("p2").PoolStatus != payment.PoolInPool {
		t.Fatal("expected both payments back in_pool")
	}
	if ledger.restoredContracts["c1"] != 1 {
		t.Fatal("expected frozen ledger entries restored")
	}
}

func TestExecuteResolution_ForfeitSkipsRaiserRefund(t *testing.T) {
	p1 := paidCollateral("p1", "raiser", "c1", "1000.00")
	p1.PoolStatus = payment.PoolFrozen
	p2 := paidCollateral("p2", "other", "c1", "1000.00")
	p2.PoolStatus = payment.PoolFrozen
	payments := newFakePayments(p1, p2)
	ledger := newFakeLedger()
	gw := &fakeGateway{}
	eng, _ := newEngine(payments, ledger, &fakeGuard{active: true}, gw)

	c := contract.Contract{ID: "c1", Owner1UserID: "raiser", Owner2UserID: "other"}
	outcome, err := eng.ExecuteResolution(context.Background(), &fakeTx{}, c, "d1", "raiser", ResolutionForfeit)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome.Unfrozen != 2 || outcome.Forfeited != 1 || outcome.Refunded != 1 || outcome.Failed != 0 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	if got := payments.get("p1").PoolStatus; got != payment.PoolReleased {
		t.Fatalf("raiser: expected released (stake kept), got %s", got)
	}
	if got := payments.get("p2").PoolStatus; got != payment.PoolRefunded {
		t.Fatalf("other: expected refunded, got %s", got)
	}

	if len(gw.calls) != 1 || gw.calls[0].ref != "pay_p2" {
		t.Fatalf("expected exactly one refund for the counter-party, got %+v", gw.calls)
	}

	var forfeits int
	for _, entry := range ledger.entries {
		if entry.Type == TxFeeDeduction {
			forfeits++
			if entry.UserID != "raiser" || !entry.Amount.Equal(dec("1000.00")) {
				t.Fatalf("unexpected forfeit entry %+v", entry)
			}
		}
	}
	if forfeits != 1 {
		t.Fatalf("expected 1 fee_deduction entry, got %d", forfeits)
	}
}

func TestExecuteResolution_ReleaseFundsOnlyUnfreezes(t *testing.T) {
	p1 := paidCollateral("p1", "raiser", "c1", "1000.00")
	p1.PoolStatus = payment.PoolFrozen
	payments := newFakePayments(p1)
	ledger := newFakeLedger()
	gw := &fakeGateway{}
	eng, _ := newEngine(payments, ledger, &fakeGuard{active: true}, gw)

	c := contract.Contract{ID: "c1", Owner1UserID: "raiser", Owner2UserID: "other"}
	outcome, err := eng.ExecuteResolution(context.Background(), &fakeTx{}, c, "d1", "raiser", ResolutionReleaseFunds)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if outcome.Unfrozen != 1 || outcome.Refunded != 0 || outcome.Forfeited != 0 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if got := payments.get("p1").PoolStatus; got != payment.PoolInPool {
		t.Fatalf("expected in_pool after release_funds, got %s", got)
	}
	if len(gw.calls) != 0 || len(ledger.entries) != 0 {
		t.Fatal("release_funds must not move money")
	}
}

func TestReleaseShooterPayment_SettlesPaymentAndCollateral(t *testing.T) {
	sp := paidCollateral("p1", "shooter", "c1", "3000.00")
	sp.Type = payment.TypeShooterPayment
	sp.PoolStatus = payment.PoolInPool
	sc := paidCollateral("p2", "shooter", "c1", "500.00")
	sc.Type = payment.TypeShooterCollateral
	sc.PoolStatus = payment.PoolInPool
	payments := newFakePayments(sp, sc)
	ledger := newFakeLedger()
	gw := &fakeGateway{}
	eng, _ := newEngine(payments, ledger, &fakeGuard{}, gw)

	result, err := eng.ReleaseShooterPayment(context.Background(), "c1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if result.Released != 2 || result.Failed != 0 {
		t.Fatalf("expected 2 released, got %+v", result)
	}
	if got := payments.get("p1").PoolStatus; got != payment.PoolReleased {
		t.Fatalf("shooter payment: expected released, got %s", got)
	}
	if got := payments.get("p2").PoolStatus; got != payment.PoolRefunded {
		t.Fatalf("shooter collateral: expected refunded, got %s", got)
	}
}

// --- fakes ---

type fakePayments struct {
	order []string
	byID  map[string]*payment.Payment
}

func newFakePayments(ps ...payment.Payment) *fakePayments {
	f := &fakePayments{byID: make(map[string]*payment.Payment)}
	for i := range ps {
		p := ps[i]
		f.order = append(f.order, p.ID)
		f.byID[p.ID] = &p
	}
	return f
}

func (f *fakePayments) get(id string) payment.Payment {
	return *f.byID[id]
}

func (f *fakePayments) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (payment.Payment, error) {
	p, ok := f.byID[id]
	if !ok {
		return payment.Payment{}, payment.ErrNotFound
	}
	return *p, nil
}

func (f *fakePayments) ListPooled(ctx context.Context, tx pgx.Tx, contractID string, types []payment.Type, poolStatus payment.PoolStatus) ([]payment.Payment, error) {
	var out []payment.Payment
	for _, id := range f.order {
		p := f.byID[id]
		if p.ContractID != contractID || p.Status != payment.StatusPaid || p.PoolStatus != poolStatus {
			continue
		}
		for _, t := range types {
			if p.Type == t {
				out = append(out, *p)
				break
			}
		}
	}
	return out, nil
}

func (f *fakePayments) UpdatePoolStatus(ctx context.Context, tx pgx.Tx, id string, from, to payment.PoolStatus) error {
	if !payment.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", payment.ErrInvalidTransition, from, to)
	}
	p, ok := f.byID[id]
	if !ok {
		return payment.ErrNotFound
	}
	if p.PoolStatus != from {
		return payment.ErrStaleStatus
	}
	p.PoolStatus = to
	return nil
}

func (f *fakePayments) SetGatewayRefundID(ctx context.Context, tx pgx.Tx, id, refundID string) error {
	if p, ok := f.byID[id]; ok && refundID != "" {
		p.GatewayRefundID = &refundID
	}
	return nil
}

type fakeLedger struct {
	entries           []InsertTxParams
	frozenPayments    map[string]int
	restoredContracts map[string]int
	nextID            int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		frozenPayments:    make(map[string]int),
		restoredContracts: make(map[string]int),
	}
}

func (f *fakeLedger) Insert(ctx context.Context, tx pgx.Tx, params InsertTxParams) (Transaction, error) {
	f.entries = append(f.entries, params)
	f.nextID++
	return Transaction{
		ID:           fmt.Sprintf("tx-%d", f.nextID),
		PaymentID:    params.PaymentID,
		ContractID:   params.ContractID,
		UserID:       params.UserID,
		Type:         params.Type,
		Amount:       params.Amount,
		BalanceAfter: params.BalanceAfter,
		Status:       params.Status,
		Description:  params.Description,
	}, nil
}

func (f *fakeLedger) FreezeLatestCompleted(ctx context.Context, tx pgx.Tx, paymentID string) (bool, error) {
	f.frozenPayments[paymentID]++
	return true, nil
}

func (f *fakeLedger) RestoreFrozen(ctx context.Context, tx pgx.Tx, contractID string) (int, error) {
	f.restoredContracts[contractID]++
	return len(f.frozenPayments), nil
}

type fakeGuard struct {
	active bool
}

func (f *fakeGuard) ActiveExists(ctx context.Context, tx pgx.Tx, contractID string) (bool, error) {
	return f.active, nil
}

type gatewayCall struct {
	ref    string
	amount decimal.Decimal
}

type fakeGateway struct {
	calls    []gatewayCall
	failRefs map[string]bool
}

func (f *fakeGateway) CreateRefund(ctx context.Context, paymentRef string, amount decimal.Decimal) (gateway.RefundResult, error) {
	if f.failRefs[paymentRef] {
		return gateway.RefundResult{}, &gateway.RefundError{PaymentRef: paymentRef, Reason: "declined"}
	}
	f.calls = append(f.calls, gatewayCall{ref: paymentRef, amount: amount})
	return gateway.RefundResult{RefundID: "ref_" + paymentRef, Status: "succeeded"}, nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

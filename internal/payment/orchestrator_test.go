package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/provider"
	"wallet-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type paymentStore struct {
	payments map[string]*models.Payment
	byKey    map[string]string
}

func newPaymentStore() *paymentStore {
	return &paymentStore{
		payments: make(map[string]*models.Payment),
		byKey:    make(map[string]string),
	}
}

func requestKey(userId, clientRequestId string) string {
	return userId + "/" + clientRequestId
}

func (ps *paymentStore) CreatePayment(_ context.Context, payment *models.Payment) error {
	key := requestKey(payment.UserId, payment.ClientRequestId)
	if _, exists := ps.byKey[key]; exists {
		return store.ErrDuplicatePayment
	}
	if payment.Id == "" {
		payment.Id = uuid.New().String()
	}
	payment.Version = 0
	copied := *payment
	ps.payments[payment.Id] = &copied
	ps.byKey[key] = payment.Id
	return nil
}

func (ps *paymentStore) GetPayment(_ context.Context, paymentId string) (*models.Payment, error) {
	p, ok := ps.payments[paymentId]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (ps *paymentStore) FindPaymentByRequestId(_ context.Context, userId, clientRequestId string) (*models.Payment, error) {
	id, ok := ps.byKey[requestKey(userId, clientRequestId)]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *ps.payments[id]
	return &copied, nil
}

func (ps *paymentStore) UpdatePayment(_ context.Context, upd store.PaymentUpdate) (*models.Payment, error) {
	p, ok := ps.payments[upd.PaymentId]
	if !ok {
		return nil, store.ErrNotFound
	}
	if p.Version != upd.ExpectedVersion {
		return nil, store.ErrConcurrentModification
	}
	p.Status = upd.Status
	p.ExternalTransactionId = upd.ExternalTransactionId
	p.FailureCode = upd.FailureCode
	p.Version++
	copied := *p
	return &copied, nil
}

type walletOp struct {
	op     string
	amount decimal.Decimal
}

// fakeWallets records ledger calls; reserveErr fails Reserve.
type fakeWallets struct {
	wallet     models.Wallet
	reserveErr error
	captureErr error
	ops        []walletOp
}

func (fw *fakeWallets) Reserve(_ context.Context, _ string, amount decimal.Decimal, _ models.ReferenceType, _ string) (*models.Wallet, error) {
	fw.ops = append(fw.ops, walletOp{"reserve", amount})
	if fw.reserveErr != nil {
		return nil, fw.reserveErr
	}
	fw.wallet.Reserved = fw.wallet.Reserved.Add(amount)
	return &fw.wallet, nil
}

func (fw *fakeWallets) Release(_ context.Context, _ string, amount decimal.Decimal, _ models.ReferenceType, _ string) (*models.Wallet, error) {
	fw.ops = append(fw.ops, walletOp{"release", amount})
	fw.wallet.Reserved = fw.wallet.Reserved.Sub(amount)
	return &fw.wallet, nil
}

func (fw *fakeWallets) Capture(_ context.Context, _ string, amount decimal.Decimal, _ models.ReferenceType, _, _ string) (*models.Wallet, error) {
	fw.ops = append(fw.ops, walletOp{"capture", amount})
	if fw.captureErr != nil {
		return nil, fw.captureErr
	}
	fw.wallet.Reserved = fw.wallet.Reserved.Sub(amount)
	fw.wallet.Balance = fw.wallet.Balance.Sub(amount)
	return &fw.wallet, nil
}

func (fw *fakeWallets) GetBalance(context.Context, string) (*models.Wallet, error) {
	copied := fw.wallet
	return &copied, nil
}

// scriptedProvider returns its results in order, repeating the last one.
type scriptedProvider struct {
	results []provider.Result
	calls   int
}

func (sp *scriptedProvider) Name() string { return "acme-pay" }

func (sp *scriptedProvider) Charge(context.Context, provider.ChargeRequest) provider.Result {
	i := sp.calls
	if i >= len(sp.results) {
		i = len(sp.results) - 1
	}
	sp.calls++
	return sp.results[i]
}

type singleRegistry struct {
	p provider.Provider
}

func (r singleRegistry) Get(name string) (provider.Provider, error) {
	if name != r.p.Name() {
		return nil, errors.New("unknown provider: " + name)
	}
	return r.p, nil
}

func newTestOrchestrator(sp *scriptedProvider, fw *fakeWallets) (*Orchestrator, *paymentStore) {
	ps := newPaymentStore()
	o := NewOrchestrator(ps, fw, singleRegistry{sp}, 3, time.Microsecond)
	return o, ps
}

func testWallets() *fakeWallets {
	return &fakeWallets{wallet: models.Wallet{
		Id:       "w1",
		UserId:   "user1",
		Balance:  decimal.NewFromInt(100),
		Currency: "USD",
	}}
}

func initiateParams() InitiateParams {
	return InitiateParams{
		UserId:          "user1",
		WalletId:        "w1",
		Amount:          decimal.NewFromInt(25),
		Currency:        "USD",
		ClientRequestId: "req-1",
		Provider:        "acme-pay",
	}
}

func succeededResult(txId string) provider.Result {
	return provider.Result{
		Status:                provider.StatusSucceeded,
		Provider:              "acme-pay",
		ExternalTransactionId: txId,
	}
}

func failedResult(code provider.FailureCode) provider.Result {
	return provider.Result{
		Status:    provider.StatusFailed,
		Code:      code,
		Retryable: code.Retryable(),
		Provider:  "acme-pay",
	}
}

func TestInitiate_ReservesFunds(t *testing.T) {
	fw := testWallets()
	o, _ := newTestOrchestrator(&scriptedProvider{}, fw)

	payment, created, err := o.Initiate(context.Background(), initiateParams())
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if !created {
		t.Error("Expected created=true")
	}
	if payment.Status != models.PaymentInitiated {
		t.Errorf("Expected INITIATED, got %s", payment.Status)
	}
	if len(fw.ops) != 1 || fw.ops[0].op != "reserve" {
		t.Errorf("Expected one reserve, got %v", fw.ops)
	}
}

func TestInitiate_IdempotentReplay(t *testing.T) {
	fw := testWallets()
	o, _ := newTestOrchestrator(&scriptedProvider{}, fw)
	ctx := context.Background()

	first, _, err := o.Initiate(ctx, initiateParams())
	if err != nil {
		t.Fatalf("First initiate failed: %v", err)
	}

	// Replay with a different amount still returns the original payment.
	params := initiateParams()
	params.Amount = decimal.NewFromInt(999)
	second, created, err := o.Initiate(ctx, params)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if created {
		t.Error("Expected created=false on replay")
	}
	if second.Id != first.Id {
		t.Errorf("Expected payment %s, got %s", first.Id, second.Id)
	}
	if !second.Amount.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Replay changed the stored amount to %s", second.Amount.String())
	}
	// No second hold.
	if len(fw.ops) != 1 {
		t.Errorf("Expected 1 wallet op, got %d", len(fw.ops))
	}
}

func TestInitiate_InsufficientFunds(t *testing.T) {
	fw := testWallets()
	fw.reserveErr = store.ErrInsufficientFunds
	o, ps := newTestOrchestrator(&scriptedProvider{}, fw)

	_, _, err := o.Initiate(context.Background(), initiateParams())
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}

	stored, err := ps.FindPaymentByRequestId(context.Background(), "user1", "req-1")
	if err != nil {
		t.Fatalf("Payment record missing: %v", err)
	}
	if stored.Status != models.PaymentFailed {
		t.Errorf("Expected FAILED, got %s", stored.Status)
	}
	if stored.FailureCode != string(provider.CodeInsufficientFunds) {
		t.Errorf("Expected INSUFFICIENT_FUNDS code, got %s", stored.FailureCode)
	}
}

func TestInitiate_UnknownProvider(t *testing.T) {
	o, _ := newTestOrchestrator(&scriptedProvider{}, testWallets())
	params := initiateParams()
	params.Provider = "nope"
	_, _, err := o.Initiate(context.Background(), params)
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

func TestProcess_Success(t *testing.T) {
	sp := &scriptedProvider{results: []provider.Result{succeededResult("ext-1")}}
	fw := testWallets()
	o, _ := newTestOrchestrator(sp, fw)
	ctx := context.Background()

	payment, _, err := o.Initiate(ctx, initiateParams())
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	result, err := o.Process(ctx, payment.Id, "tok-1", nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Status != models.PaymentSucceeded {
		t.Errorf("Expected SUCCEEDED, got %s", result.Status)
	}
	if result.ExternalTransactionId != "ext-1" {
		t.Errorf("Expected ext-1, got %s", result.ExternalTransactionId)
	}
	// reserve then capture, never release.
	if len(fw.ops) != 2 || fw.ops[1].op != "capture" {
		t.Errorf("Expected reserve+capture, got %v", fw.ops)
	}
}

func TestProcess_TerminalDeclineNeverRetries(t *testing.T) {
	sp := &scriptedProvider{results: []provider.Result{failedResult(provider.CodeCardDeclined)}}
	fw := testWallets()
	o, _ := newTestOrchestrator(sp, fw)
	ctx := context.Background()

	payment, _, _ := o.Initiate(ctx, initiateParams())
	result, err := o.Process(ctx, payment.Id, "tok-1", nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Status != models.PaymentFailed {
		t.Errorf("Expected FAILED, got %s", result.Status)
	}
	if result.FailureCode != string(provider.CodeCardDeclined) {
		t.Errorf("Expected CARD_DECLINED, got %s", result.FailureCode)
	}
	if sp.calls != 1 {
		t.Errorf("Terminal decline must not be retried, got %d calls", sp.calls)
	}
	// The hold was released.
	if fw.ops[len(fw.ops)-1].op != "release" {
		t.Errorf("Expected final release, got %v", fw.ops)
	}
	if !fw.wallet.Reserved.IsZero() {
		t.Errorf("Expected reserved 0, got %s", fw.wallet.Reserved.String())
	}
}

func TestProcess_RetryableFailureRetriesUpToCap(t *testing.T) {
	sp := &scriptedProvider{results: []provider.Result{failedResult(provider.CodeNetworkError)}}
	o, _ := newTestOrchestrator(sp, testWallets())
	ctx := context.Background()

	payment, _, _ := o.Initiate(ctx, initiateParams())
	result, err := o.Process(ctx, payment.Id, "tok-1", nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if sp.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", sp.calls)
	}
	if result.Status != models.PaymentFailed {
		t.Errorf("Expected FAILED after exhaustion, got %s", result.Status)
	}
	if result.FailureCode != string(provider.CodeNetworkError) {
		t.Errorf("Expected NETWORK_ERROR recorded, got %s", result.FailureCode)
	}
}

func TestProcess_RetryableThenSuccess(t *testing.T) {
	sp := &scriptedProvider{results: []provider.Result{
		failedResult(provider.CodeProviderUnavailable),
		succeededResult("ext-2"),
	}}
	o, _ := newTestOrchestrator(sp, testWallets())
	ctx := context.Background()

	payment, _, _ := o.Initiate(ctx, initiateParams())
	result, err := o.Process(ctx, payment.Id, "tok-1", nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Status != models.PaymentSucceeded {
		t.Errorf("Expected SUCCEEDED, got %s", result.Status)
	}
	if sp.calls != 2 {
		t.Errorf("Expected 2 attempts, got %d", sp.calls)
	}
}

func TestProcess_StaleExpectedVersionRejected(t *testing.T) {
	sp := &scriptedProvider{results: []provider.Result{succeededResult("ext-1")}}
	o, _ := newTestOrchestrator(sp, testWallets())
	ctx := context.Background()

	payment, _, _ := o.Initiate(ctx, initiateParams())
	stale := payment.Version + 7
	_, err := o.Process(ctx, payment.Id, "tok-1", &stale)
	if !errors.Is(err, store.ErrConcurrencyConflict) {
		t.Fatalf("Expected ErrConcurrencyConflict, got %v", err)
	}
	if sp.calls != 0 {
		t.Errorf("Provider must not be called for a stale client, got %d calls", sp.calls)
	}
}

func TestProcess_TerminalStatusRejected(t *testing.T) {
	sp := &scriptedProvider{results: []provider.Result{succeededResult("ext-1")}}
	o, _ := newTestOrchestrator(sp, testWallets())
	ctx := context.Background()

	payment, _, _ := o.Initiate(ctx, initiateParams())
	if _, err := o.Process(ctx, payment.Id, "tok-1", nil); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	_, err := o.Process(ctx, payment.Id, "tok-1", nil)
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("Expected ErrValidation on re-process, got %v", err)
	}
	if sp.calls != 1 {
		t.Errorf("Expected no second charge, got %d calls", sp.calls)
	}
}

func TestProcess_CaptureFailureIsReconciliationError(t *testing.T) {
	sp := &scriptedProvider{results: []provider.Result{succeededResult("ext-1")}}
	fw := testWallets()
	fw.captureErr = store.ErrConcurrencyConflict
	o, _ := newTestOrchestrator(sp, fw)
	ctx := context.Background()

	payment, _, _ := o.Initiate(ctx, initiateParams())
	_, err := o.Process(ctx, payment.Id, "tok-1", nil)
	var recErr *store.ReconciliationError
	if !errors.As(err, &recErr) {
		t.Fatalf("Expected ReconciliationError, got %v", err)
	}
	if recErr.ReferenceId != payment.Id {
		t.Errorf("Expected reference %s, got %s", payment.Id, recErr.ReferenceId)
	}
}

func TestProcess_PendingThenConfirm(t *testing.T) {
	sp := &scriptedProvider{results: []provider.Result{{
		Status:                provider.StatusPending,
		Provider:              "acme-pay",
		ExternalTransactionId: "ext-3",
	}}}
	fw := testWallets()
	o, _ := newTestOrchestrator(sp, fw)
	ctx := context.Background()

	payment, _, _ := o.Initiate(ctx, initiateParams())
	result, err := o.Process(ctx, payment.Id, "tok-1", nil)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Status != models.PaymentPending {
		t.Fatalf("Expected PENDING, got %s", result.Status)
	}
	// The hold survives while pending.
	if !fw.wallet.Reserved.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Expected reserved 25, got %s", fw.wallet.Reserved.String())
	}

	confirmed, err := o.Confirm(ctx, payment.Id, true, "")
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if confirmed.Status != models.PaymentSucceeded {
		t.Errorf("Expected SUCCEEDED, got %s", confirmed.Status)
	}
	if confirmed.ExternalTransactionId != "ext-3" {
		t.Errorf("Expected ext-3 retained, got %s", confirmed.ExternalTransactionId)
	}
	if !fw.wallet.Reserved.IsZero() {
		t.Errorf("Expected reserved 0 after capture, got %s", fw.wallet.Reserved.String())
	}
}

func TestConfirm_FailureReleasesHold(t *testing.T) {
	sp := &scriptedProvider{results: []provider.Result{{
		Status:   provider.StatusPending,
		Provider: "acme-pay",
	}}}
	fw := testWallets()
	o, _ := newTestOrchestrator(sp, fw)
	ctx := context.Background()

	payment, _, _ := o.Initiate(ctx, initiateParams())
	if _, err := o.Process(ctx, payment.Id, "tok-1", nil); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	confirmed, err := o.Confirm(ctx, payment.Id, false, "")
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if confirmed.Status != models.PaymentFailed {
		t.Errorf("Expected FAILED, got %s", confirmed.Status)
	}
	if !fw.wallet.Reserved.IsZero() {
		t.Errorf("Expected reserved 0, got %s", fw.wallet.Reserved.String())
	}
}

func TestConfirm_RequiresPending(t *testing.T) {
	o, _ := newTestOrchestrator(&scriptedProvider{}, testWallets())
	ctx := context.Background()

	payment, _, _ := o.Initiate(ctx, initiateParams())
	_, err := o.Confirm(ctx, payment.Id, true, "ext-1")
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

func TestExpire(t *testing.T) {
	fw := testWallets()
	o, ps := newTestOrchestrator(&scriptedProvider{}, fw)
	ctx := context.Background()

	payment, _, _ := o.Initiate(ctx, initiateParams())
	if err := o.Expire(ctx, payment); err != nil {
		t.Fatalf("Expire failed: %v", err)
	}

	stored, _ := ps.GetPayment(ctx, payment.Id)
	if stored.Status != models.PaymentFailed {
		t.Errorf("Expected FAILED, got %s", stored.Status)
	}
	if stored.FailureCode != ExpiredMarker {
		t.Errorf("Expected EXPIRED marker, got %s", stored.FailureCode)
	}
	if !fw.wallet.Reserved.IsZero() {
		t.Errorf("Expected reserved 0, got %s", fw.wallet.Reserved.String())
	}

	// Terminal payments cannot be expired again.
	if err := o.Expire(ctx, stored); !errors.Is(err, store.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

// A sweeper working from a stale listing must not free a hold that a
// concurrent resolution already captured; the damage would land on other
// payments holding reservations on the same wallet.
func TestExpire_StaleSnapshotSkipsResolvedPayment(t *testing.T) {
	sp := &scriptedProvider{results: []provider.Result{succeededResult("ext-1")}}
	fw := testWallets()
	o, _ := newTestOrchestrator(sp, fw)
	ctx := context.Background()

	p1, _, err := o.Initiate(ctx, initiateParams())
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	params := initiateParams()
	params.ClientRequestId = "req-2"
	params.Amount = decimal.NewFromInt(50)
	if _, _, err := o.Initiate(ctx, params); err != nil {
		t.Fatalf("Second initiate failed: %v", err)
	}

	stale := *p1
	if _, err := o.Process(ctx, p1.Id, "tok-1", nil); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !fw.wallet.Reserved.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("Expected only the second hold left, got reserved %s", fw.wallet.Reserved.String())
	}

	if err := o.Expire(ctx, &stale); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("Expected ErrValidation for a resolved payment, got %v", err)
	}
	if !fw.wallet.Reserved.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Stale expiry damaged another payment's hold: reserved %s", fw.wallet.Reserved.String())
	}
	for _, op := range fw.ops {
		if op.op == "release" {
			t.Errorf("Unexpected release, ops %v", fw.ops)
		}
	}
}

// conflictStore loses the next n payment CAS writes.
type conflictStore struct {
	*paymentStore
	conflicts int
}

func (cs *conflictStore) UpdatePayment(ctx context.Context, upd store.PaymentUpdate) (*models.Payment, error) {
	if cs.conflicts > 0 {
		cs.conflicts--
		return nil, store.ErrConcurrentModification
	}
	return cs.paymentStore.UpdatePayment(ctx, upd)
}

func TestExpire_LostRaceSkipsRelease(t *testing.T) {
	fw := testWallets()
	cs := &conflictStore{paymentStore: newPaymentStore()}
	o := NewOrchestrator(cs, fw, singleRegistry{&scriptedProvider{}}, 3, time.Microsecond)
	ctx := context.Background()

	payment, _, err := o.Initiate(ctx, initiateParams())
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}

	cs.conflicts = 1
	if err := o.Expire(ctx, payment); err != nil {
		t.Fatalf("Lost expiry race must be a no-op, got %v", err)
	}
	if !fw.wallet.Reserved.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Lost race released the hold: reserved %s", fw.wallet.Reserved.String())
	}
	stored, _ := cs.GetPayment(ctx, payment.Id)
	if stored.Status != models.PaymentInitiated {
		t.Errorf("Lost race changed the payment to %s", stored.Status)
	}
}

func TestExpire_AbandonedProcessing(t *testing.T) {
	fw := testWallets()
	o, ps := newTestOrchestrator(&scriptedProvider{}, fw)
	ctx := context.Background()

	payment, _, err := o.Initiate(ctx, initiateParams())
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	// A processor that died after claiming the payment leaves it here.
	ps.payments[payment.Id].Status = models.PaymentProcessing

	if err := o.Expire(ctx, payment); err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	stored, _ := ps.GetPayment(ctx, payment.Id)
	if stored.Status != models.PaymentFailed || stored.FailureCode != ExpiredMarker {
		t.Errorf("Expected FAILED/EXPIRED, got %s/%s", stored.Status, stored.FailureCode)
	}
	if !fw.wallet.Reserved.IsZero() {
		t.Errorf("Expected reserved 0, got %s", fw.wallet.Reserved.String())
	}
}

package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/velora-commerce/storefront-backend/pkg/enums"
	pkgerrors "github.com/velora-commerce/storefront-backend/pkg/errors"
)

type stubTxRunner struct {
	db *gorm.DB
}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

type stubStockRestorer struct {
	restored map[uuid.UUID]int
}

func (s *stubStockRestorer) IncrementStock(_ context.Context, id uuid.UUID, qty int) error {
	if s.restored == nil {
		s.restored = map[uuid.UUID]int{}
	}
	s.restored[id] += qty
	return nil
}

func newOrdersFixture(t *testing.T) (Service, Repository, *stubStockRestorer, *gorm.DB) {
	t.Helper()
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	restorer := &stubStockRestorer{}
	svc, err := NewService(repo, &stubTxRunner{db: db}, restorer)
	require.NoError(t, err)
	return svc, repo, restorer, db
}

func assertCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	coded := pkgerrors.As(err)
	require.NotNil(t, coded, "expected coded error, got %v", err)
	assert.Equal(t, code, coded.Code())
}

func TestGetOrderHidesOtherUsersOrders(t *testing.T) {
	svc, repo, _, _ := newOrdersFixture(t)
	ctx := context.Background()

	owner := uuid.New()
	created, err := repo.Create(ctx, buildOrder(owner, 500, enums.PaymentMethodCOD, time.Now().UTC()))
	require.NoError(t, err)

	_, err = svc.GetOrder(ctx, created.ID, Actor{UserID: uuid.New(), Role: enums.UserRoleCustomer})
	assertCode(t, err, pkgerrors.CodeForbidden)

	got, err := svc.GetOrder(ctx, created.ID, Actor{UserID: uuid.New(), Role: enums.UserRoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestCancelOrderRestoresStock(t *testing.T) {
	svc, repo, restorer, _ := newOrdersFixture(t)
	ctx := context.Background()

	owner := uuid.New()
	order := buildOrder(owner, 700, enums.PaymentMethodUPI, time.Now().UTC())
	order.Items[0].Quantity = 3
	created, err := repo.Create(ctx, order)
	require.NoError(t, err)

	cancelled, err := svc.CancelOrder(ctx, created.ID, Actor{UserID: owner, Role: enums.UserRoleCustomer})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.OrderStatus)
	assert.Equal(t, 3, restorer.restored[created.Items[0].ProductID])
}

func TestCancelOrderForbiddenForStrangers(t *testing.T) {
	svc, repo, restorer, _ := newOrdersFixture(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, buildOrder(uuid.New(), 100, enums.PaymentMethodCOD, time.Now().UTC()))
	require.NoError(t, err)

	_, err = svc.CancelOrder(ctx, created.ID, Actor{UserID: uuid.New(), Role: enums.UserRoleCustomer})
	assertCode(t, err, pkgerrors.CodeForbidden)
	assert.Empty(t, restorer.restored)
}

func TestCancelOrderRejectsTerminalStates(t *testing.T) {
	svc, repo, _, _ := newOrdersFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	delivered := buildOrder(owner, 100, enums.PaymentMethodCOD, time.Now().UTC())
	delivered.OrderStatus = enums.OrderStatusDelivered
	createdDelivered, err := repo.Create(ctx, delivered)
	require.NoError(t, err)

	_, err = svc.CancelOrder(ctx, createdDelivered.ID, Actor{UserID: owner, Role: enums.UserRoleCustomer})
	assertCode(t, err, pkgerrors.CodeStateConflict)

	cancelled := buildOrder(owner, 100, enums.PaymentMethodCOD, time.Now().UTC())
	cancelled.OrderStatus = enums.OrderStatusCancelled
	createdCancelled, err := repo.Create(ctx, cancelled)
	require.NoError(t, err)

	_, err = svc.CancelOrder(ctx, createdCancelled.ID, Actor{UserID: owner, Role: enums.UserRoleCustomer})
	assertCode(t, err, pkgerrors.CodeStateConflict)
}

// racingTxRunner mutates the row between the service's initial load and
// the transaction body, standing in for a concurrent writer.
type racingTxRunner struct {
	db     *gorm.DB
	before func(db *gorm.DB)
}

func (s *racingTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.before != nil {
		s.before(s.db)
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func TestCancelOrderLosesRaceToDelivery(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	restorer := &stubStockRestorer{}
	ctx := context.Background()

	owner := uuid.New()
	order := buildOrder(owner, 900, enums.PaymentMethodCard, time.Now().UTC())
	order.Items[0].Quantity = 2
	created, err := repo.Create(ctx, order)
	require.NoError(t, err)

	runner := &racingTxRunner{db: db, before: func(db *gorm.DB) {
		require.NoError(t, db.Exec(
			"UPDATE orders SET order_status = ? WHERE id = ?",
			enums.OrderStatusDelivered, created.ID,
		).Error)
	}}
	svc, err := NewService(repo, runner, restorer)
	require.NoError(t, err)

	_, err = svc.CancelOrder(ctx, created.ID, Actor{UserID: owner, Role: enums.UserRoleCustomer})
	assertCode(t, err, pkgerrors.CodeStateConflict)

	assert.Empty(t, restorer.restored, "stock must not be restored for a delivered order")
	reloaded, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, reloaded.OrderStatus)
}

func TestUpdateStatusRejectsTerminalOrder(t *testing.T) {
	svc, repo, _, _ := newOrdersFixture(t)
	ctx := context.Background()

	delivered := buildOrder(uuid.New(), 100, enums.PaymentMethodCOD, time.Now().UTC())
	delivered.OrderStatus = enums.OrderStatusDelivered
	created, err := repo.Create(ctx, delivered)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, created.ID, UpdateStatusInput{Status: enums.OrderStatusShipped})
	assertCode(t, err, pkgerrors.CodeStateConflict)
}

func TestUpdateStatusStampsDeliveredAt(t *testing.T) {
	svc, repo, _, _ := newOrdersFixture(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, buildOrder(uuid.New(), 100, enums.PaymentMethodCard, time.Now().UTC()))
	require.NoError(t, err)

	tracking := "TRK-9988"
	updated, err := svc.UpdateStatus(ctx, created.ID, UpdateStatusInput{
		Status:         enums.OrderStatusDelivered,
		TrackingNumber: &tracking,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, updated.OrderStatus)
	require.NotNil(t, updated.DeliveredAt)
	require.NotNil(t, updated.TrackingNumber)
	assert.Equal(t, "TRK-9988", *updated.TrackingNumber)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	svc, _, _, _ := newOrdersFixture(t)

	_, err := svc.UpdateStatus(context.Background(), uuid.New(), UpdateStatusInput{Status: "limbo"})
	assertCode(t, err, pkgerrors.CodeValidation)
}

func TestUpdateStatusMissingOrder(t *testing.T) {
	svc, _, _, _ := newOrdersFixture(t)

	_, err := svc.UpdateStatus(context.Background(), uuid.New(), UpdateStatusInput{Status: enums.OrderStatusConfirmed})
	assertCode(t, err, pkgerrors.CodeNotFound)
}

func TestStatsRejectsInvertedRange(t *testing.T) {
	svc, _, _, _ := newOrdersFixture(t)

	from := time.Now()
	to := from.Add(-time.Hour)
	_, err := svc.Stats(context.Background(), &from, &to)
	assertCode(t, err, pkgerrors.CodeValidation)
}

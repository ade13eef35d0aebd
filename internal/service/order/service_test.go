package order

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
	"github.com/vladislavdragonenkov/skyshop/internal/service/payment"
	"github.com/vladislavdragonenkov/skyshop/internal/storage/memory"
)

var fixedNow = time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)

type fixture struct {
	service  *Service
	orders   domain.OrderRepository
	products domain.ProductRepository
	outbox   *memory.OutboxRepository
	timeline domain.TimelineRepository
	gateway  *payment.MockGateway
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()

	ctx := context.Background()
	products := memory.NewProductRepository()
	require.NoError(t, products.Create(ctx, domain.Product{ID: "product-a", Name: "Sandwich", Price: decimal.RequireFromString("10.00")}))
	require.NoError(t, products.Create(ctx, domain.Product{ID: "product-b", Name: "Wine", Price: decimal.RequireFromString("20.00")}))
	require.NoError(t, products.Create(ctx, domain.Product{ID: "product-c", Name: "Gum", Price: decimal.RequireFromString("0.10")}))

	f := fixture{
		orders:   memory.NewOrderRepository(),
		products: products,
		outbox:   memory.NewOutboxRepository(),
		timeline: memory.NewTimelineRepository(),
		gateway:  payment.NewMockGateway(payment.WithLatency(0)),
	}

	var seq atomic.Int64
	base := []Option{
		WithTimeline(f.timeline),
		WithOutbox(f.outbox),
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }),
	}
	f.service = NewService(f.orders, products, f.gateway, append(base, opts...)...)
	return f
}

func validInput() Input {
	return Input{
		BuyerEmail: "buyer@example.com",
		SeatLetter: "A",
		SeatNumber: 14,
		Items: []ItemInput{
			{ProductID: "product-a", Quantity: 2},
			{ProductID: "product-b", Quantity: 1},
		},
	}
}

func TestCreate_ComputesTotalAndInitialState(t *testing.T) {
	f := newFixture(t)

	order, err := f.service.Create(context.Background(), validInput())
	require.NoError(t, err)

	assert.Equal(t, "40.00", order.TotalPrice.StringFixed(2))
	assert.Equal(t, domain.OrderStatusOpen, order.Status)
	assert.Equal(t, domain.PaymentStatusFailed, order.PaymentStatus)
	assert.Equal(t, fixedNow, order.CreatedAt)
	assert.Equal(t, fixedNow, order.UpdatedAt)
	assert.Nil(t, order.PaymentDate)
	assert.Empty(t, order.PaymentGateway)
	require.Len(t, order.Items, 2)
	assert.True(t, order.Items[0].UnitPrice.Equal(decimal.RequireFromString("10.00")))

	stored, err := f.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalPrice.Equal(order.TotalPrice))
	assert.Empty(t, stored.ValidateInvariants())
}

func TestCreate_TotalIndependentOfItemOrder(t *testing.T) {
	f := newFixture(t)

	in := validInput()
	in.Items = append(in.Items, ItemInput{ProductID: "product-c", Quantity: 3})
	first, err := f.service.Create(context.Background(), in)
	require.NoError(t, err)

	reversed := validInput()
	reversed.Items = []ItemInput{
		{ProductID: "product-c", Quantity: 3},
		{ProductID: "product-b", Quantity: 1},
		{ProductID: "product-a", Quantity: 2},
	}
	second, err := f.service.Create(context.Background(), reversed)
	require.NoError(t, err)

	assert.Equal(t, "40.30", first.TotalPrice.StringFixed(2))
	assert.True(t, first.TotalPrice.Equal(second.TotalPrice))
}

// inputRules: ошибки validateInput в порядке проверки.
var inputRules = []error{
	domain.ErrMissingSeat,
	domain.ErrItemsRequired,
	domain.ErrInvalidProductReference,
	domain.ErrNonPositiveQuantity,
	domain.ErrDuplicateProduct,
}

func TestCreate_ValidationRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
		want   error
	}{
		{name: "missing seat letter", mutate: func(in *Input) { in.SeatLetter = "" }, want: domain.ErrMissingSeat},
		{name: "missing seat number", mutate: func(in *Input) { in.SeatNumber = 0 }, want: domain.ErrMissingSeat},
		{name: "seat checked before items", mutate: func(in *Input) { in.SeatLetter = ""; in.Items = nil }, want: domain.ErrMissingSeat},
		{name: "no items", mutate: func(in *Input) { in.Items = nil }, want: domain.ErrItemsRequired},
		{name: "empty product id", mutate: func(in *Input) { in.Items[0].ProductID = " " }, want: domain.ErrInvalidProductReference},
		{name: "unknown product", mutate: func(in *Input) { in.Items[1].ProductID = "ghost" }, want: domain.ErrInvalidProductReference},
		{name: "zero quantity", mutate: func(in *Input) { in.Items[0].Quantity = 0 }, want: domain.ErrNonPositiveQuantity},
		{name: "negative quantity", mutate: func(in *Input) { in.Items[1].Quantity = -1 }, want: domain.ErrNonPositiveQuantity},
		{
			name: "reference checked before quantity",
			mutate: func(in *Input) {
				in.Items[0].Quantity = 0
				in.Items[1].ProductID = "ghost"
			},
			want: domain.ErrInvalidProductReference,
		},
		{
			name: "duplicate product on create",
			mutate: func(in *Input) {
				in.Items = []ItemInput{{ProductID: "product-a", Quantity: 1}, {ProductID: "product-a", Quantity: 2}}
			},
			want: domain.ErrDuplicateProduct,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := validInput()
			tt.mutate(&in)

			_, err := f.service.Create(context.Background(), in)
			require.ErrorIs(t, err, tt.want)
			for _, other := range inputRules {
				if other != tt.want {
					require.NotErrorIs(t, err, other)
				}
			}
			require.Equal(t, domain.ErrInvalidOrder, domain.Kind(err))

			orders, err := f.orders.List(context.Background())
			require.NoError(t, err)
			require.Empty(t, orders)
		})
	}
}

func TestUpdate_ReplacesItemsAndRecomputesTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.Create(ctx, validInput())
	require.NoError(t, err)

	updated, err := f.service.Update(ctx, created.ID, Input{
		BuyerEmail: "other@example.com",
		SeatLetter: "F",
		SeatNumber: 2,
		Items:      []ItemInput{{ProductID: "product-b", Quantity: 1}},
	})
	require.NoError(t, err)

	assert.Equal(t, "20.00", updated.TotalPrice.StringFixed(2))
	assert.Equal(t, "other@example.com", updated.BuyerEmail)
	assert.Equal(t, "F", updated.SeatLetter)
	assert.Equal(t, 2, updated.SeatNumber)
	assert.Equal(t, int64(1), updated.Version)

	stored, err := f.orders.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, int64(1), stored.Version)
}

func TestUpdate_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Update(ctx, "missing", validInput())
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	created, err := f.service.Create(ctx, validInput())
	require.NoError(t, err)

	dup := validInput()
	dup.Items = []ItemInput{{ProductID: "product-b", Quantity: 1}, {ProductID: "product-b", Quantity: 1}}
	_, err = f.service.Update(ctx, created.ID, dup)
	require.ErrorIs(t, err, domain.ErrDuplicateProduct)

	stored, err := f.orders.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "40.00", stored.TotalPrice.StringFixed(2))
}

func TestUpdate_AllowedAfterPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.Create(ctx, validInput())
	require.NoError(t, err)
	_, err = f.service.PayOffline(ctx, created.ID)
	require.NoError(t, err)

	updated, err := f.service.Update(ctx, created.ID, validInput())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFinished, updated.Status)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.Create(ctx, validInput())
	require.NoError(t, err)

	require.NoError(t, f.service.Delete(ctx, created.ID))
	_, err = f.service.Get(ctx, created.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	err = f.service.Delete(ctx, created.ID)
	require.Truef(t, domain.HasKind(err, domain.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func TestPayOnline_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.Create(ctx, validInput())
	require.NoError(t, err)

	paid, err := f.service.PayOnline(ctx, created.ID, "4111-1111-1111-1111")
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusFinished, paid.Status)
	assert.Equal(t, domain.PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, domain.PaymentGatewayOnline, paid.PaymentGateway)
	assert.Equal(t, "4111-1111-1111-1111", paid.CardToken)
	require.NotNil(t, paid.PaymentDate)
	assert.Equal(t, fixedNow, *paid.PaymentDate)

	stored, err := f.orders.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, paid.Version, stored.Version)
	assert.Equal(t, domain.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, int64(1), f.gateway.Calls())
}

func TestPayOnline_GatewayFailurePersistsFailedState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.Create(ctx, validInput())
	require.NoError(t, err)

	_, err = f.service.PayOnline(ctx, created.ID, "9999-0000-0000-0000")
	require.Truef(t, domain.HasKind(err, domain.ErrPaymentProcessingFailed), "expected ErrPaymentProcessingFailed, got %v", err)
	require.ErrorIs(t, err, payment.ErrPaymentDeclined)

	stored, err := f.orders.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, stored.PaymentStatus)
	assert.Equal(t, domain.OrderStatusOpen, stored.Status)
	assert.Equal(t, int64(1), stored.Version, "failed attempt must be persisted")
	assert.Empty(t, stored.CardToken)

	events, err := f.service.Timeline(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventPaymentFailed, events[1].Type)
	assert.Contains(t, events[1].Reason, "declined")
}

func TestPayOnline_InvalidTokenIsProcessingFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.Create(ctx, validInput())
	require.NoError(t, err)

	_, err = f.service.PayOnline(ctx, created.ID, "")
	require.Truef(t, domain.HasKind(err, domain.ErrPaymentProcessingFailed), "expected ErrPaymentProcessingFailed, got %v", err)
	require.ErrorIs(t, err, payment.ErrInvalidToken)
}

func TestPayOnline_AlreadyPaidIsRejectedWithoutMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.Create(ctx, validInput())
	require.NoError(t, err)
	_, err = f.service.PayOnline(ctx, created.ID, "4111")
	require.NoError(t, err)

	before, err := f.orders.Get(ctx, created.ID)
	require.NoError(t, err)

	_, err = f.service.PayOnline(ctx, created.ID, "5555")
	require.ErrorIs(t, err, domain.ErrOrderAlreadyPaid)
	require.Truef(t, domain.HasKind(err, domain.ErrPaymentRejected), "expected ErrPaymentRejected, got %v", err)

	_, err = f.service.PayOffline(ctx, created.ID)
	require.ErrorIs(t, err, domain.ErrOrderAlreadyPaid)

	after, err := f.orders.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.CardToken, after.CardToken)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, int64(1), f.gateway.Calls())
}

func TestPayOnline_OfflineSettledOrderStillPayableByDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.Create(ctx, validInput())
	require.NoError(t, err)
	_, err = f.service.PayOffline(ctx, created.ID)
	require.NoError(t, err)

	paid, err := f.service.PayOnline(ctx, created.ID, "4111")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, paid.PaymentStatus)
}

func TestPayOnline_SettledGuard(t *testing.T) {
	f := newFixture(t, WithSettledGuard())
	ctx := context.Background()

	created, err := f.service.Create(ctx, validInput())
	require.NoError(t, err)
	_, err = f.service.PayOffline(ctx, created.ID)
	require.NoError(t, err)

	_, err = f.service.PayOnline(ctx, created.ID, "4111")
	require.ErrorIs(t, err, domain.ErrOrderAlreadySettled)
	require.Truef(t, domain.HasKind(err, domain.ErrPaymentRejected), "expected ErrPaymentRejected, got %v", err)
	assert.Zero(t, f.gateway.Calls())
}

func TestPayOnline_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.PayOnline(context.Background(), "missing", "4111")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Zero(t, f.gateway.Calls())
}

func TestPayOnline_ConcurrentAttemptsChargeOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gateway := payment.NewMockGateway(payment.WithLatency(20 * time.Millisecond))
	f.service.gateway = gateway

	created, err := f.service.Create(ctx, validInput())
	require.NoError(t, err)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		rejected  atomic.Int32
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.PayOnline(ctx, created.ID, "4111")
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, domain.ErrOrderAlreadyPaid):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(attempts-1), rejected.Load())
	assert.Equal(t, int64(1), gateway.Calls())
}

func TestPayOnline_TimeoutIsProcessingFailure(t *testing.T) {
	f := newFixture(t, WithPaymentTimeout(10*time.Millisecond))
	f.service.gateway = payment.NewMockGateway(payment.WithLatency(time.Second))
	ctx := context.Background()

	created, err := f.service.Create(ctx, validInput())
	require.NoError(t, err)

	_, err = f.service.PayOnline(ctx, created.ID, "4111")
	require.Truef(t, domain.HasKind(err, domain.ErrPaymentProcessingFailed), "expected ErrPaymentProcessingFailed, got %v", err)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	stored, err := f.orders.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, stored.PaymentStatus)
}

// failingSaveRepository отдаёт заданную ошибку на Save.
type failingSaveRepository struct {
	domain.OrderRepository
	err error
}

func (r failingSaveRepository) Save(context.Context, domain.Order) error {
	return r.err
}

func TestPayOnline_FailedStateSaveErrorKeepsGatewayCause(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.Create(ctx, validInput())
	require.NoError(t, err)

	saveErr := errors.New("disk on fire")
	f.service.orders = failingSaveRepository{OrderRepository: f.orders, err: saveErr}

	_, err = f.service.PayOnline(ctx, created.ID, "9999")
	require.ErrorIs(t, err, saveErr)
	assert.False(t, domain.HasKind(err, domain.ErrPaymentProcessingFailed))
	assert.True(t, strings.Contains(fmt.Sprintf("%+v", err), "payment declined by processor"))
}

func TestPayOnline_VersionConflictSurfaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.Create(ctx, validInput())
	require.NoError(t, err)

	f.service.orders = failingSaveRepository{OrderRepository: f.orders, err: domain.ErrOrderVersionConflict}

	_, err = f.service.PayOffline(ctx, created.ID)
	require.True(t, domain.IsVersionConflict(err))
}

func TestPayOffline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.Create(ctx, validInput())
	require.NoError(t, err)

	settled, err := f.service.PayOffline(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusFinished, settled.Status)
	assert.Equal(t, domain.PaymentStatusOffline, settled.PaymentStatus)
	assert.Equal(t, domain.PaymentGatewayOffline, settled.PaymentGateway)
	require.NotNil(t, settled.PaymentDate)
	assert.Zero(t, f.gateway.Calls())

	// Повторная офлайн-оплата не запрещена PAID-guard.
	_, err = f.service.PayOffline(ctx, created.ID)
	require.NoError(t, err)
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.Create(ctx, validInput())
	require.NoError(t, err)

	finished, err := f.service.SetStatus(ctx, created.ID, "FINISHED")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFinished, finished.Status)
	assert.Equal(t, domain.PaymentStatusFailed, finished.PaymentStatus)

	reopened, err := f.service.SetStatus(ctx, created.ID, "OPEN")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, reopened.Status)

	_, err = f.service.SetStatus(ctx, created.ID, "CANCELLED")
	require.ErrorIs(t, err, domain.ErrUnknownOrderStatus)
	require.Truef(t, domain.HasKind(err, domain.ErrInvalidOrder), "expected ErrInvalidOrder, got %v", err)

	_, err = f.service.SetStatus(ctx, "missing", "OPEN")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	events, err := f.service.Timeline(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "OPEN -> FINISHED", events[1].Reason)
}

func TestEventsAreRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.Create(ctx, validInput())
	require.NoError(t, err)
	_, err = f.service.PayOnline(ctx, created.ID, "4111")
	require.NoError(t, err)

	pending := f.outbox.AllPending()
	require.Len(t, pending, 2)
	assert.Equal(t, domain.EventOrderCreated, pending[0].EventType)
	assert.Equal(t, domain.EventPaymentSucceeded, pending[1].EventType)
	assert.Equal(t, created.ID, pending[1].AggregateID)
	assert.Contains(t, string(pending[1].Payload), `"payment_status":"PAID"`)
	assert.Contains(t, string(pending[1].Payload), `"total_price":"40.00"`)

	_, err = f.service.Timeline(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestCreate_RejectsOrderBreakingInvariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Хранилище каталога не проверяет цену, сервис каталога сюда не попадает.
	require.NoError(t, f.products.Create(ctx, domain.Product{ID: "product-bad", Name: "Broken", Price: decimal.RequireFromString("-5.00")}))

	in := validInput()
	in.Items = append(in.Items, ItemInput{ProductID: "product-bad", Quantity: 1})
	_, err := f.service.Create(ctx, in)
	require.Error(t, err)
	assert.True(t, errors.IsAssertionFailure(err))
	assert.Nil(t, domain.Kind(err), "invariant violations are internal errors")
	assert.Contains(t, err.Error(), domain.ErrNegativeUnitPrice.Error())

	orders, err := f.orders.List(ctx)
	require.NoError(t, err)
	require.Empty(t, orders)
	require.Empty(t, f.outbox.AllPending())
}

func TestUpdate_RejectsOrderBreakingInvariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.Create(ctx, validInput())
	require.NoError(t, err)
	require.NoError(t, f.products.Create(ctx, domain.Product{ID: "product-bad", Name: "Broken", Price: decimal.RequireFromString("-1.00")}))

	in := validInput()
	in.Items = []ItemInput{{ProductID: "product-bad", Quantity: 2}}
	_, err = f.service.Update(ctx, created.ID, in)
	require.True(t, errors.IsAssertionFailure(err), "unexpected error: %v", err)

	stored, err := f.orders.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Version, stored.Version)
	assert.True(t, stored.TotalPrice.Equal(created.TotalPrice))
}

func TestCreate_TimestampsMatchStoragePrecision(t *testing.T) {
	moscow := time.FixedZone("MSK", 3*60*60)
	stamp := time.Date(2024, 7, 1, 12, 30, 0, 123456789, moscow)
	f := newFixture(t, WithClock(func() time.Time { return stamp }))

	created, err := f.service.Create(context.Background(), validInput())
	require.NoError(t, err)

	want := time.Date(2024, 7, 1, 9, 30, 0, 123456000, time.UTC)
	for _, got := range []time.Time{created.CreatedAt, created.UpdatedAt, created.Items[0].CreatedAt} {
		assert.Truef(t, want.Equal(got), "expected %s, got %s", want, got)
		assert.Equal(t, time.UTC, got.Location())
	}
}

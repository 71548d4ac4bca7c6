package delivery

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/homedeco-fulfillment/internal/domain/address"
	"github.com/xenking/homedeco-fulfillment/internal/domain/order"
	"github.com/xenking/homedeco-fulfillment/internal/domain/warehouse"
	"github.com/xenking/homedeco-fulfillment/internal/events"
)

// ReserveFunc computes the reservation of an order against a stock snapshot
// that stays locked until the reservation commits.
type ReserveFunc func(ctx context.Context, stock []warehouse.Stocked) (hubID int64, lines []Reservation, err error)

// Snapshot is the state Close reads on the transaction holding the order
// lock: the stocked warehouses, the owner's addresses and the unreleased
// reservation lines of the order.
type Snapshot struct {
	Stock     []warehouse.Stocked
	Addresses []address.Address
	Reserved  []Reservation
}

// CloseFunc vetoes closing the locked order by returning an error. It must
// decide from o and snap alone.
type CloseFunc func(ctx context.Context, o *order.Order, snap Snapshot) error

// Store is the persistence used by the delivery service.
type Store interface {
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	ListStocked(ctx context.Context) ([]warehouse.Stocked, error)
	ListAddresses(ctx context.Context, userID string) ([]address.Address, error)
	ListReservations(ctx context.Context, orderID string) ([]Reservation, error)

	// Reserve moves the order from pending to processing and decrements the
	// lines returned by fn in the same transaction. Only one caller can win
	// the transition; every other caller gets false and fn is not called.
	Reserve(ctx context.Context, orderID string, at time.Time, fn ReserveFunc) (bool, error)
	// Close locks the order, reads a Snapshot in the same transaction, runs
	// check and moves the order to the terminal status to. Closing as cancelled restocks every unreleased reservation
	// line to the warehouse it was taken from.
	Close(ctx context.Context, orderID string, to order.Status, at time.Time, check CloseFunc) (*order.Order, error)
}

// Service computes delivery plans and guards order state transitions.
type Service struct {
	store  Store
	clock  Clock
	alloc  *Allocator
	events events.Publisher
	now    func() time.Time

	tracer       trace.Tracer
	plans        metric.Int64Counter
	reservations metric.Int64Counter
	closures     metric.Int64Counter
}

// Option configures a Service.
type Option func(*options)

type options struct {
	events         events.Publisher
	now            func() time.Time
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// WithEvents sets the lifecycle event publisher.
func WithEvents(p events.Publisher) Option {
	return func(o *options) { o.events = p }
}

// WithNow overrides the time source.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTelemetry sets the meter and tracer providers.
func WithTelemetry(mp metric.MeterProvider, tp trace.TracerProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
		o.tracerProvider = tp
	}
}

// NewService creates a delivery Service.
func NewService(store Store, clock Clock, routes Estimator, opts ...Option) (*Service, error) {
	o := options{
		events:         events.Nop{},
		now:            time.Now,
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	const scope = "github.com/xenking/homedeco-fulfillment/internal/domain/delivery"
	meter := o.meterProvider.Meter(scope)

	s := &Service{
		store:  store,
		clock:  clock,
		alloc:  NewAllocator(routes),
		events: o.events,
		now:    o.now,
		tracer: o.tracerProvider.Tracer(scope),
	}

	var err error
	if s.plans, err = meter.Int64Counter("homedeco.delivery.plans",
		metric.WithDescription("Delivery plans computed"),
	); err != nil {
		return nil, errors.Wrap(err, "plans counter")
	}
	if s.reservations, err = meter.Int64Counter("homedeco.delivery.reservations",
		metric.WithDescription("Inventory reservations committed"),
	); err != nil {
		return nil, errors.Wrap(err, "reservations counter")
	}
	if s.closures, err = meter.Int64Counter("homedeco.delivery.closures",
		metric.WithDescription("Cancel and return attempts by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "closures counter")
	}
	return s, nil
}

// Clock returns the clock the service computes with.
func (s *Service) Clock() Clock { return s.clock }

// Plan returns the delivery plan of an order owned by userID. The first plan
// of a pending order reserves its stock.
func (s *Service) Plan(ctx context.Context, orderID, userID string) (_ *Plan, rerr error) {
	ctx, span := s.tracer.Start(ctx, "delivery.Plan",
		trace.WithAttributes(attribute.String("order.id", orderID)),
	)
	defer func() { endSpan(span, rerr) }()

	o, err := s.owned(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}

	env, err := s.loadEnv(ctx, o.UserID)
	if err != nil {
		return nil, err
	}
	dest := ResolveDestination(env.addrs, o.ShippingAddressID)

	var alloc *Allocation
	if o.Status == order.StatusPending {
		won, a, err := s.reserve(ctx, o, dest)
		if err != nil {
			return nil, err
		}
		if won {
			alloc = a
		} else if o, err = s.store.GetOrder(ctx, o.ID); err != nil {
			return nil, errors.Wrap(err, "reload order")
		}
	}

	if alloc == nil {
		if alloc, err = s.allocation(ctx, o, env, dest); err != nil {
			return nil, err
		}
	}

	p := Assemble(s.clock, o, alloc, dest, s.now())
	s.plans.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(p.Status))))
	span.SetAttributes(attribute.String("delivery.status", string(p.Status)))
	return p, nil
}

// Statuses derives the current status of each of a user's orders without
// reserving anything.
func (s *Service) Statuses(ctx context.Context, userID string, orders []order.Order) ([]Status, error) {
	if len(orders) == 0 {
		return nil, nil
	}
	env, err := s.loadEnv(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]Status, len(orders))
	for i := range orders {
		st, err := s.statusOf(ctx, &orders[i], env, now)
		if err != nil {
			return nil, errors.Wrapf(err, "status of %s", orders[i].ID)
		}
		out[i] = st
	}
	return out, nil
}

// Cancel cancels an order and restocks what it reserved. It is allowed only
// while the freshly derived status is Pending or Preparing.
func (s *Service) Cancel(ctx context.Context, orderID, userID string) (_ *order.Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "delivery.Cancel",
		trace.WithAttributes(attribute.String("order.id", orderID)),
	)
	defer func() { endSpan(span, rerr) }()

	o, err := s.store.Close(ctx, orderID, order.StatusCancelled, s.now(), func(ctx context.Context, o *order.Order, snap Snapshot) error {
		if o.UserID != userID {
			return order.ErrNotFound
		}
		switch o.Status {
		case order.StatusCancelled:
			return ErrAlreadyCancelled
		case order.StatusReturned:
			return ErrAlreadyTerminal
		}
		st, err := s.lockedStatus(ctx, o, snap)
		if err != nil {
			return err
		}
		if !st.Cancellable() {
			return &TooLateError{Status: st}
		}
		return nil
	})
	s.recordClosure(ctx, order.StatusCancelled, err)
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order cancelled", zap.String("order_id", o.ID))
	s.publish(ctx, events.Event{Type: events.OrderCancelled, OrderID: o.ID, UserID: o.UserID, At: closedAt(o)})
	return o, nil
}

// Return marks a delivered order as returned.
func (s *Service) Return(ctx context.Context, orderID, userID string) (_ *order.Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "delivery.Return",
		trace.WithAttributes(attribute.String("order.id", orderID)),
	)
	defer func() { endSpan(span, rerr) }()

	o, err := s.store.Close(ctx, orderID, order.StatusReturned, s.now(), func(ctx context.Context, o *order.Order, snap Snapshot) error {
		if o.UserID != userID {
			return order.ErrNotFound
		}
		if o.Status.Terminal() {
			return ErrAlreadyTerminal
		}
		st, err := s.lockedStatus(ctx, o, snap)
		if err != nil {
			return err
		}
		if !st.Returnable() {
			return &NotReturnableError{Status: st}
		}
		return nil
	})
	s.recordClosure(ctx, order.StatusReturned, err)
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order returned", zap.String("order_id", o.ID))
	s.publish(ctx, events.Event{Type: events.OrderReturned, OrderID: o.ID, UserID: o.UserID, At: closedAt(o)})
	return o, nil
}

type env struct {
	stock []warehouse.Stocked
	addrs []address.Address

	// locked carries the reservation lines read under the order lock.
	locked   bool
	reserved []Reservation
}

func (s *Service) loadEnv(ctx context.Context, userID string) (env, error) {
	stock, err := s.store.ListStocked(ctx)
	if err != nil {
		return env{}, errors.Wrap(err, "list warehouses")
	}
	addrs, err := s.store.ListAddresses(ctx, userID)
	if err != nil {
		return env{}, errors.Wrap(err, "list addresses")
	}
	return env{stock: stock, addrs: addrs}, nil
}

func (s *Service) owned(ctx context.Context, orderID, userID string) (*order.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, order.ErrNotFound
	}
	return o, nil
}

// reserve attempts the one-time pending to processing transition.
func (s *Service) reserve(ctx context.Context, o *order.Order, dest Destination) (bool, *Allocation, error) {
	var alloc *Allocation
	at := s.now()
	won, err := s.store.Reserve(ctx, o.ID, at, func(ctx context.Context, stock []warehouse.Stocked) (int64, []Reservation, error) {
		a, err := s.alloc.Allocate(ctx, OrderSeed(o.ID), demandOf(o), stock, dest.Address)
		if err != nil {
			return 0, nil, err
		}
		alloc = a
		return a.Hub.Warehouse.ID, a.Reservations(), nil
	})
	if err != nil {
		return false, nil, errors.Wrap(err, "reserve inventory")
	}
	if !won {
		return false, nil, nil
	}

	hubID := alloc.Hub.Warehouse.ID
	o.Status = order.StatusProcessing
	o.HubWarehouseID = &hubID
	o.ReservedAt = &at

	s.reservations.Add(ctx, 1, metric.WithAttributes(attribute.String("fulfillment", string(alloc.Status()))))
	zctx.From(ctx).Info("Inventory reserved",
		zap.String("order_id", o.ID),
		zap.Int64("hub_warehouse_id", hubID),
		zap.String("fulfillment", string(alloc.Status())),
		zap.Int("transfers", len(alloc.Transfers)),
	)
	s.publish(ctx, events.Event{Type: events.OrderReserved, OrderID: o.ID, UserID: o.UserID, HubWarehouseID: hubID, At: at})
	return true, alloc, nil
}

// allocation returns the committed allocation of a reserved order, or a
// side-effect free one for orders that never reserved.
func (s *Service) allocation(ctx context.Context, o *order.Order, e env, dest Destination) (*Allocation, error) {
	seed := OrderSeed(o.ID)
	if o.HubWarehouseID == nil {
		return s.alloc.Allocate(ctx, seed, demandOf(o), e.stock, dest.Address)
	}
	reserved := e.reserved
	if !e.locked {
		var err error
		if reserved, err = s.store.ListReservations(ctx, o.ID); err != nil {
			return nil, errors.Wrap(err, "list reservations")
		}
	}
	return s.alloc.Replay(ctx, seed, demandOf(o), e.stock, dest.Address, *o.HubWarehouseID, reserved)
}

func (s *Service) statusOf(ctx context.Context, o *order.Order, e env, now time.Time) (Status, error) {
	switch o.Status {
	case order.StatusCancelled:
		return StatusCancelled, nil
	case order.StatusReturned:
		return StatusReturned, nil
	}
	dest := ResolveDestination(e.addrs, o.ShippingAddressID)
	alloc, err := s.allocation(ctx, o, e, dest)
	if err != nil {
		return "", err
	}
	m := s.clock.Milestones(o.CreatedAt, o.TotalQuantity(), alloc.MaxTransfer, alloc.Hub.Route.Duration)
	return Derive(o.Status, m, now), nil
}

// lockedStatus derives the status of the locked order at this very moment.
// It reads nothing from the store: the transaction holding the lock already
// owns a connection.
func (s *Service) lockedStatus(ctx context.Context, o *order.Order, snap Snapshot) (Status, error) {
	e := env{
		stock:    snap.Stock,
		addrs:    snap.Addresses,
		locked:   true,
		reserved: snap.Reserved,
	}
	return s.statusOf(ctx, o, e, s.now())
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Publish event failed",
			zap.String("type", string(e.Type)),
			zap.String("order_id", e.OrderID),
			zap.Error(err),
		)
	}
}

func (s *Service) recordClosure(ctx context.Context, to order.Status, err error) {
	outcome := "ok"
	var tooLate *TooLateError
	var notReturnable *NotReturnableError
	switch {
	case err == nil:
	case errors.As(err, &tooLate), errors.As(err, &notReturnable):
		outcome = "too_late"
	case errors.Is(err, ErrAlreadyCancelled), errors.Is(err, ErrAlreadyTerminal):
		outcome = "terminal"
	case errors.Is(err, order.ErrNotFound):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	s.closures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("to", string(to)),
		attribute.String("outcome", outcome),
	))
}

func demandOf(o *order.Order) []Line {
	lines := make([]Line, len(o.Items))
	for i, it := range o.Items {
		lines[i] = Line{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return lines
}

func closedAt(o *order.Order) time.Time {
	if o.ClosedAt != nil {
		return *o.ClosedAt
	}
	return time.Now()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrCartNotFound           = fmt.Errorf("cart %w", domain.ErrNotFound)
	ErrCartLineNotFound       = fmt.Errorf("cart line %w", domain.ErrNotFound)
	ErrOrderNotFound          = fmt.Errorf("order %w", domain.ErrNotFound)
	ErrPaymentMethodNotFound  = fmt.Errorf("payment method %w", domain.ErrNotFound)
	ErrDuplicatePaymentMethod = errors.New("payment method already registered")
	ErrDuplicateOrder         = errors.New("order with this id already exists")
	ErrDuplicateCart          = errors.New("user already has a cart")
	ErrUnbalancedOrder        = errors.New("order amount does not equal subtotal plus tax")
	// ErrStaleStatus is returned by a conditional status update that matched no row.
	ErrStaleStatus = errors.New("order status changed concurrently")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type OutboxEvent struct {
	ID          int64
	AggregateId string
	EventType   string
	Payload     json.RawMessage
	CreatedAt   time.Time
	PublishedAt *time.Time
}

type ProcessedEvent struct {
	EventID     string
	EventType   string
	OrderID     uuid.UUID
	ProcessedAt time.Time
}

// Queries is the unit-of-work surface. Inside WithinTx every call runs in the same transaction.
type Queries interface {
	// LockUser serialises cart and checkout work for one user until the transaction ends.
	LockUser(ctx context.Context, userID int64) error
	GetUserRegion(ctx context.Context, userID int64) (string, error)
	SetUserRegion(ctx context.Context, userID int64, region string) error

	GetCart(ctx context.Context, userID int64, status domain.CartStatus) (*domain.Cart, error)
	CreateCart(ctx context.Context, userID int64) (*domain.Cart, error)
	DeleteCarts(ctx context.Context, userID int64, status domain.CartStatus) error
	SetCartStatus(ctx context.Context, cartID int64, status domain.CartStatus) error
	ListCartLines(ctx context.Context, cartID int64) ([]domain.CartLine, error)
	// UpsertCartLine adds quantity to an existing line for the same product and overwrites its price.
	UpsertCartLine(ctx context.Context, line domain.CartLine) (*domain.CartLine, error)
	DeleteCartLine(ctx context.Context, cartID, lineID int64) error

	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	GetOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from, to domain.OrderStatus) error
	SetPaymentRef(ctx context.Context, orderID uuid.UUID, ref string) error
	SetInvoiceRef(ctx context.Context, orderID uuid.UUID, ref string) error
	ListPaidOrdersWithoutInvoice(ctx context.Context, limit int) ([]*domain.Order, error)

	CreatePaymentMethod(ctx context.Context, pm *domain.PaymentMethod) error
	GetPaymentMethod(ctx context.Context, userID int64, methodID string) (*domain.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, userID int64) ([]*domain.PaymentMethod, error)
	DeletePaymentMethod(ctx context.Context, userID int64, methodID string) error
	ClearDefaultPaymentMethod(ctx context.Context, userID int64) error

	// MarkEventProcessed returns false when the event id was already recorded.
	MarkEventProcessed(ctx context.Context, ev ProcessedEvent) (bool, error)
	InsertOutboxEvent(ctx context.Context, ev *OutboxEvent) error
}

type Store interface {
	Queries
	WithinTx(ctx context.Context, fn func(q Queries) error) error
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsPublished(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
	Close() error
}

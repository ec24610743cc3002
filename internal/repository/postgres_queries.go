package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/go_pay/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type pgQueries struct {
	q querier
}

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func isCheckViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == checkViolation && pqErr.Constraint == constraint
}

func (p *pgQueries) LockUser(ctx context.Context, userID int64) error {
	if _, err := p.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
		return fmt.Errorf("lock user %d: %w", userID, err)
	}
	return nil
}

func (p *pgQueries) GetUserRegion(ctx context.Context, userID int64) (string, error) {
	var region sql.NullString
	err := p.q.QueryRowContext(ctx, `SELECT region_code FROM user_profiles WHERE user_id = $1`, userID).Scan(&region)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query user region: %w", err)
	}
	return region.String, nil
}

func (p *pgQueries) SetUserRegion(ctx context.Context, userID int64, region string) error {
	query := `INSERT INTO user_profiles (user_id, region_code, updated_at) VALUES ($1, $2, NOW())
	          ON CONFLICT (user_id) DO UPDATE SET region_code = EXCLUDED.region_code, updated_at = NOW()`
	if _, err := p.q.ExecContext(ctx, query, userID, region); err != nil {
		return fmt.Errorf("upsert user region: %w", err)
	}
	return nil
}

func (p *pgQueries) GetCart(ctx context.Context, userID int64, status domain.CartStatus) (*domain.Cart, error) {
	query := `SELECT id, user_id, status, created_at, updated_at FROM carts WHERE user_id = $1 AND status = $2`

	var cart domain.Cart
	err := p.q.QueryRowContext(ctx, query, userID, status).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.Status,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}
	return &cart, nil
}

func (p *pgQueries) CreateCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	query := `INSERT INTO carts (user_id, status) VALUES ($1, $2) RETURNING id, created_at, updated_at`

	cart := domain.Cart{UserID: userID, Status: domain.CartStatusActive}
	if err := p.q.QueryRowContext(ctx, query, userID, cart.Status).Scan(&cart.ID, &cart.CreatedAt, &cart.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateCart
		}
		return nil, fmt.Errorf("insert cart: %w", err)
	}
	return &cart, nil
}

func (p *pgQueries) DeleteCarts(ctx context.Context, userID int64, status domain.CartStatus) error {
	if _, err := p.q.ExecContext(ctx, `DELETE FROM carts WHERE user_id = $1 AND status = $2`, userID, status); err != nil {
		return fmt.Errorf("delete carts: %w", err)
	}
	return nil
}

func (p *pgQueries) SetCartStatus(ctx context.Context, cartID int64, status domain.CartStatus) error {
	res, err := p.q.ExecContext(ctx, `UPDATE carts SET status = $2, updated_at = NOW() WHERE id = $1`, cartID, status)
	if err != nil {
		return fmt.Errorf("update cart status: %w", err)
	}
	return expectOne(res, ErrCartNotFound)
}

func (p *pgQueries) ListCartLines(ctx context.Context, cartID int64) ([]domain.CartLine, error) {
	query := `SELECT id, cart_id, product_ref, item_type, quantity, unit_price
	          FROM cart_lines WHERE cart_id = $1 ORDER BY id`

	rows, err := p.q.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("query cart lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.CartLine, 0)
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.ID, &l.CartID, &l.ProductRef, &l.ItemType, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return lines, nil
}

func (p *pgQueries) UpsertCartLine(ctx context.Context, line domain.CartLine) (*domain.CartLine, error) {
	query := `INSERT INTO cart_lines (cart_id, product_ref, item_type, quantity, unit_price)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (cart_id, product_ref) DO UPDATE
	          SET quantity   = cart_lines.quantity + EXCLUDED.quantity,
	              unit_price = EXCLUDED.unit_price,
	              item_type  = EXCLUDED.item_type,
	              updated_at = NOW()
	          RETURNING id, quantity`

	err := p.q.QueryRowContext(ctx, query,
		line.CartID,
		line.ProductRef,
		line.ItemType,
		line.Quantity,
		line.UnitPrice,
	).Scan(&line.ID, &line.Quantity)
	if err != nil {
		return nil, fmt.Errorf("upsert cart line: %w", err)
	}

	if _, err := p.q.ExecContext(ctx, `UPDATE carts SET updated_at = NOW() WHERE id = $1`, line.CartID); err != nil {
		return nil, fmt.Errorf("touch cart: %w", err)
	}
	return &line, nil
}

func (p *pgQueries) DeleteCartLine(ctx context.Context, cartID, lineID int64) error {
	res, err := p.q.ExecContext(ctx, `DELETE FROM cart_lines WHERE id = $1 AND cart_id = $2`, lineID, cartID)
	if err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	return expectOne(res, ErrCartLineNotFound)
}

func (p *pgQueries) CreateOrder(ctx context.Context, order *domain.Order) error {
	query := `INSERT INTO orders (order_id, user_id, currency, subtotal, tax_total, tax_percent, tax_name, amount, status)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          RETURNING id, created_at, updated_at`

	err := p.q.QueryRowContext(ctx, query,
		order.OrderID,
		order.UserID,
		order.Currency,
		order.Subtotal,
		order.TaxTotal,
		order.TaxPercent,
		order.TaxName,
		order.Amount,
		order.Status,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateOrder
		}
		if isCheckViolation(err, "orders_amount_balanced") {
			return ErrUnbalancedOrder
		}
		return fmt.Errorf("insert order: %w", err)
	}

	lineQuery := `INSERT INTO order_lines (order_id, item_type, product_ref, quantity, unit_price)
	              VALUES ($1, $2, $3, $4, $5) RETURNING id`
	for i := range order.Lines {
		l := &order.Lines[i]
		l.OrderID = order.ID
		if err := p.q.QueryRowContext(ctx, lineQuery, order.ID, l.ItemType, l.ProductRef, l.Quantity, l.UnitPrice).Scan(&l.ID); err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	return nil
}

const orderColumns = `id, order_id, user_id, currency, subtotal, tax_total, tax_percent, tax_name, amount,
	status, payment_ref, invoice_ref, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o          domain.Order
		paymentRef sql.NullString
		invoiceRef sql.NullString
	)
	err := row.Scan(
		&o.ID,
		&o.OrderID,
		&o.UserID,
		&o.Currency,
		&o.Subtotal,
		&o.TaxTotal,
		&o.TaxPercent,
		&o.TaxName,
		&o.Amount,
		&o.Status,
		&paymentRef,
		&invoiceRef,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.PaymentRef = paymentRef.String
	o.InvoiceRef = invoiceRef.String
	return &o, nil
}

func (p *pgQueries) getOrder(ctx context.Context, query string, orderID uuid.UUID) (*domain.Order, error) {
	order, err := scanOrder(p.q.QueryRowContext(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	if err := p.attachLines(ctx, []*domain.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

func (p *pgQueries) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return p.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, orderID)
}

func (p *pgQueries) GetOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return p.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1 FOR UPDATE`, orderID)
}

func (p *pgQueries) listOrders(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := p.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	if err := p.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (p *pgQueries) ListOrdersByUser(ctx context.Context, userID int64) ([]*domain.Order, error) {
	return p.listOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
}

func (p *pgQueries) ListPaidOrdersWithoutInvoice(ctx context.Context, limit int) ([]*domain.Order, error) {
	return p.listOrders(ctx, `SELECT `+orderColumns+` FROM orders
	                          WHERE status = 'PAID' AND invoice_ref IS NULL ORDER BY id LIMIT $1`, limit)
}

// attachLines loads the lines of all given orders with one query.
func (p *pgQueries) attachLines(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(orders))
	byID := make(map[int64]*domain.Order, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
		byID[o.ID] = o
		o.Lines = make([]domain.OrderLine, 0)
	}

	query := `SELECT id, order_id, item_type, product_ref, quantity, unit_price
	          FROM order_lines WHERE order_id = ANY($1) ORDER BY id`
	rows, err := p.q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ItemType, &l.ProductRef, &l.Quantity, &l.UnitPrice); err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}
		if o, ok := byID[l.OrderID]; ok {
			o.Lines = append(o.Lines, l)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}
	return nil
}

func (p *pgQueries) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, from, to domain.OrderStatus) error {
	res, err := p.q.ExecContext(ctx,
		`UPDATE orders SET status = $3, updated_at = NOW() WHERE order_id = $1 AND status = $2`,
		orderID, from, to)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return expectOne(res, ErrStaleStatus)
}

func (p *pgQueries) SetPaymentRef(ctx context.Context, orderID uuid.UUID, ref string) error {
	res, err := p.q.ExecContext(ctx, `UPDATE orders SET payment_ref = $2, updated_at = NOW() WHERE order_id = $1`, orderID, ref)
	if err != nil {
		return fmt.Errorf("set payment ref: %w", err)
	}
	return expectOne(res, ErrOrderNotFound)
}

func (p *pgQueries) SetInvoiceRef(ctx context.Context, orderID uuid.UUID, ref string) error {
	res, err := p.q.ExecContext(ctx, `UPDATE orders SET invoice_ref = $2, updated_at = NOW() WHERE order_id = $1`, orderID, ref)
	if err != nil {
		return fmt.Errorf("set invoice ref: %w", err)
	}
	return expectOne(res, ErrOrderNotFound)
}

const paymentMethodColumns = `method_id, user_id, provider, provider_ref, brand, last4, exp_month, exp_year, is_default, created_at`

func scanPaymentMethod(row rowScanner) (*domain.PaymentMethod, error) {
	var (
		pm       domain.PaymentMethod
		expMonth sql.NullInt64
		expYear  sql.NullInt64
	)
	if err := row.Scan(
		&pm.MethodID,
		&pm.UserID,
		&pm.Provider,
		&pm.ProviderRef,
		&pm.Brand,
		&pm.Last4,
		&expMonth,
		&expYear,
		&pm.IsDefault,
		&pm.CreatedAt,
	); err != nil {
		return nil, err
	}
	pm.ExpMonth = int(expMonth.Int64)
	pm.ExpYear = int(expYear.Int64)
	return &pm, nil
}

func (p *pgQueries) CreatePaymentMethod(ctx context.Context, pm *domain.PaymentMethod) error {
	query := `INSERT INTO payment_methods (method_id, user_id, provider, provider_ref, brand, last4, exp_month, exp_year, is_default)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING created_at`

	err := p.q.QueryRowContext(ctx, query,
		pm.MethodID,
		pm.UserID,
		pm.Provider,
		pm.ProviderRef,
		pm.Brand,
		pm.Last4,
		pm.ExpMonth,
		pm.ExpYear,
		pm.IsDefault,
	).Scan(&pm.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePaymentMethod
		}
		return fmt.Errorf("insert payment method: %w", err)
	}
	return nil
}

func (p *pgQueries) GetPaymentMethod(ctx context.Context, userID int64, methodID string) (*domain.PaymentMethod, error) {
	query := `SELECT ` + paymentMethodColumns + ` FROM payment_methods WHERE method_id = $1 AND user_id = $2`

	pm, err := scanPaymentMethod(p.q.QueryRowContext(ctx, query, methodID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentMethodNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query payment method: %w", err)
	}
	return pm, nil
}

func (p *pgQueries) ListPaymentMethods(ctx context.Context, userID int64) ([]*domain.PaymentMethod, error) {
	query := `SELECT ` + paymentMethodColumns + ` FROM payment_methods
	          WHERE user_id = $1 ORDER BY is_default DESC, created_at DESC, id DESC`

	rows, err := p.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query payment methods: %w", err)
	}
	defer rows.Close()

	methods := make([]*domain.PaymentMethod, 0)
	for rows.Next() {
		pm, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment method: %w", err)
		}
		methods = append(methods, pm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return methods, nil
}

func (p *pgQueries) DeletePaymentMethod(ctx context.Context, userID int64, methodID string) error {
	res, err := p.q.ExecContext(ctx, `DELETE FROM payment_methods WHERE method_id = $1 AND user_id = $2`, methodID, userID)
	if err != nil {
		return fmt.Errorf("delete payment method: %w", err)
	}
	return expectOne(res, ErrPaymentMethodNotFound)
}

func (p *pgQueries) ClearDefaultPaymentMethod(ctx context.Context, userID int64) error {
	if _, err := p.q.ExecContext(ctx, `UPDATE payment_methods SET is_default = FALSE WHERE user_id = $1 AND is_default`, userID); err != nil {
		return fmt.Errorf("clear default payment method: %w", err)
	}
	return nil
}

func (p *pgQueries) MarkEventProcessed(ctx context.Context, ev ProcessedEvent) (bool, error) {
	res, err := p.q.ExecContext(ctx,
		`INSERT INTO processed_webhook_events (event_id, event_type, order_id) VALUES ($1, $2, $3)
		 ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, ev.EventType, ev.OrderID)
	if err != nil {
		return false, fmt.Errorf("record processed event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (p *pgQueries) InsertOutboxEvent(ctx context.Context, ev *OutboxEvent) error {
	query := `INSERT INTO outbox (aggregate_id, event_type, payload) VALUES ($1, $2, $3) RETURNING id, created_at`
	if err := p.q.QueryRowContext(ctx, query, ev.AggregateId, ev.EventType, string(ev.Payload)).Scan(&ev.ID, &ev.CreatedAt); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/citidesk/internal/config"
	"github.com/citidesk/pkg/models"
)

//go:embed schema.sql
var schema string

// queueLockKey is the advisory lock id taken by LockQueue.
const queueLockKey = 0x71756575

const ticketColumns = `id, service_id, user_id, status, customer_priority, service_priority,
	final_priority, queue_position, agent_id, created_at, updated_at, closed_at`

const agentColumns = `id, name, email, username, max_tickets, created_at`

// Postgres is a Store backed by PostgreSQL through database/sql and pgx.
type Postgres struct {
	pgReader
	db     *sql.DB
	logger *slog.Logger
}

// Connect opens a connection pool for the configured database.
func Connect(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// NewPostgres wraps an open pool.
func NewPostgres(db *sql.DB, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pgReader: pgReader{q: db}, db: db, logger: logger}
}

// Migrate creates the schema if it does not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// InTx runs fn inside a READ COMMITTED transaction. Per-agent and per-ticket
// serialization comes from the row locks taken by LockAgent, LockTicket and
// FindOpenTicketsOrderedBy.
func (p *Postgres) InTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}

	if err := fn(&pgTx{pgReader: pgReader{q: sqlTx}}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			p.logger.Warn("rollback failed", "error", rbErr)
		}
		return classify(err)
	}

	if err := sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// classify maps PostgreSQL error codes onto the store's sentinel errors.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%w: %v", ErrRetryable, err)
	case "23503":
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case "23505", "23514":
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type pgReader struct {
	q querier
}

func scanTicket(row rowScanner) (*models.Ticket, error) {
	var (
		t        models.Ticket
		position sql.NullInt64
		agentID  sql.NullInt64
		closedAt sql.NullTime
	)
	if err := row.Scan(
		&t.ID, &t.ServiceID, &t.UserID, &t.Status, &t.CustomerPriority, &t.ServicePriority,
		&t.FinalPriority, &position, &agentID, &t.CreatedAt, &t.UpdatedAt, &closedAt,
	); err != nil {
		return nil, err
	}
	if position.Valid {
		t.QueuePosition = models.IntPtr(int(position.Int64))
	}
	if agentID.Valid {
		t.AgentID = models.Int64Ptr(agentID.Int64)
	}
	if closedAt.Valid {
		v := closedAt.Time
		t.ClosedAt = &v
	}
	return &t, nil
}

func scanTickets(rows *sql.Rows) ([]*models.Ticket, error) {
	defer rows.Close()

	var tickets []*models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	a := &models.Agent{}
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Username, &a.MaxTickets, &a.CreatedAt); err != nil {
		return nil, err
	}
	return a, nil
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return err
}

func (r pgReader) GetTicket(ctx context.Context, id int64) (*models.Ticket, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	t, err := scanTicket(row)
	if err != nil {
		return nil, notFound(err, "ticket", id)
	}
	return t, nil
}

func (r pgReader) ListTickets(ctx context.Context, filter TicketFilter) ([]*models.Ticket, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != 0 {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.AgentID != 0 {
		args = append(args, filter.AgentID)
		where = append(where, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			args = append(args, string(s))
			marks[i] = fmt.Sprintf("$%d", len(args))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + ticketColumns + ` FROM tickets`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	return scanTickets(rows)
}

func (r pgReader) ListNonTerminalTickets(ctx context.Context) ([]*models.Ticket, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE status IN ('OPEN', 'IN_PROGRESS') ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tickets: %w", err)
	}
	return scanTickets(rows)
}

func (r pgReader) GetAgent(ctx context.Context, id int64) (*models.Agent, error) {
	a, err := scanAgent(r.q.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "agent", id)
	}
	return a, nil
}

func (r pgReader) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (r pgReader) CountActiveTicketsForAgent(ctx context.Context, agentID int64) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tickets WHERE agent_id = $1 AND status IN ('OPEN', 'IN_PROGRESS')`,
		agentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active tickets: %w", err)
	}
	return n, nil
}

func (r pgReader) CountTicketsForAgent(ctx context.Context, agentID int64, status models.TicketStatus) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tickets WHERE agent_id = $1 AND status = $2`,
		agentID, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count tickets: %w", err)
	}
	return n, nil
}

func (r pgReader) GetService(ctx context.Context, id int64) (*models.Service, error) {
	s := &models.Service{}
	err := r.q.QueryRowContext(ctx,
		`SELECT id, name, description, fee, default_priority FROM services WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.Description, &s.Fee, &s.DefaultPriority)
	if err != nil {
		return nil, notFound(err, "service", id)
	}
	return s, nil
}

func (r pgReader) ListServices(ctx context.Context) ([]*models.Service, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, name, description, fee, default_priority FROM services ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var services []*models.Service
	for rows.Next() {
		s := &models.Service{}
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Fee, &s.DefaultPriority); err != nil {
			return nil, err
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

func (r pgReader) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u := &models.User{}
	err := r.q.QueryRowContext(ctx, `SELECT id, name, email FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Email)
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

func (r pgReader) GetPayment(ctx context.Context, ticketID int64) (*models.Payment, error) {
	p := &models.Payment{}
	err := r.q.QueryRowContext(ctx,
		`SELECT id, ticket_id, user_id, amount, status, created_at, updated_at FROM payments WHERE ticket_id = $1`,
		ticketID).Scan(&p.ID, &p.TicketID, &p.UserID, &p.Amount, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "payment for ticket", ticketID)
	}
	return p, nil
}

func (r pgReader) ListPayments(ctx context.Context, limit int) ([]*models.Payment, error) {
	query := `SELECT id, ticket_id, user_id, amount, status, created_at, updated_at FROM payments ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p := &models.Payment{}
		if err := rows.Scan(&p.ID, &p.TicketID, &p.UserID, &p.Amount, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r pgReader) ListLogs(ctx context.Context, limit int) ([]*models.TicketLog, error) {
	query := `SELECT id, ticket_id, message, created_at FROM ticket_logs ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.TicketLog
	for rows.Next() {
		l := &models.TicketLog{}
		if err := rows.Scan(&l.ID, &l.TicketID, &l.Message, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (r pgReader) Stats(ctx context.Context) (*models.Stats, error) {
	st := &models.Stats{}
	err := r.q.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM users),
		(SELECT COUNT(*) FROM tickets),
		(SELECT COUNT(*) FROM tickets WHERE status = 'OPEN'),
		(SELECT COUNT(*) FROM tickets WHERE status = 'IN_PROGRESS'),
		(SELECT COUNT(*) FROM tickets WHERE status = 'COMPLETED'),
		(SELECT COUNT(*) FROM payments WHERE status = 'PENDING'),
		(SELECT COUNT(*) FROM agents)`).Scan(
		&st.TotalUsers, &st.TotalTickets, &st.OpenTickets, &st.InProgress,
		&st.CompletedTickets, &st.PendingPayments, &st.Agents,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return st, nil
}

type pgTx struct {
	pgReader
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func (tx *pgTx) CreateTicket(ctx context.Context, t *models.Ticket) error {
	err := tx.q.QueryRowContext(ctx, `
		INSERT INTO tickets (service_id, user_id, status, customer_priority, service_priority, final_priority, agent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		t.ServiceID, t.UserID, string(t.Status), string(t.CustomerPriority), string(t.ServicePriority),
		t.FinalPriority, nullInt64(t.AgentID),
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ticket: %w", err)
	}
	return nil
}

func (tx *pgTx) LockTicket(ctx context.Context, id int64) (*models.Ticket, error) {
	row := tx.q.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1 FOR UPDATE`, id)
	t, err := scanTicket(row)
	if err != nil {
		return nil, notFound(err, "ticket", id)
	}
	return t, nil
}

// UpdateTicket writes the mutable columns. final_priority is never written.
func (tx *pgTx) UpdateTicket(ctx context.Context, t *models.Ticket) error {
	var closedAt sql.NullTime
	if t.ClosedAt != nil {
		closedAt = sql.NullTime{Time: *t.ClosedAt, Valid: true}
	}
	err := tx.q.QueryRowContext(ctx, `
		UPDATE tickets
		SET status = $2, agent_id = $3, queue_position = $4, closed_at = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, string(t.Status), nullInt64(t.AgentID), nullInt(t.QueuePosition), closedAt,
	).Scan(&t.UpdatedAt)
	if err != nil {
		return notFound(err, "ticket", t.ID)
	}
	return nil
}

func (tx *pgTx) FindOpenTicketsOrderedBy(ctx context.Context, order Ordering, limit int) ([]*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
		WHERE status = 'OPEN' AND agent_id IS NULL
		ORDER BY ` + order.orderBy()
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	query += ` FOR UPDATE SKIP LOCKED`

	rows, err := tx.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to find open tickets: %w", err)
	}
	return scanTickets(rows)
}

func (tx *pgTx) BulkUnassignAgent(ctx context.Context, agentID int64) ([]*models.Ticket, error) {
	rows, err := tx.q.QueryContext(ctx, `
		UPDATE tickets
		SET agent_id = NULL, status = 'OPEN', updated_at = NOW()
		WHERE agent_id = $1 AND status IN ('OPEN', 'IN_PROGRESS')
		RETURNING `+ticketColumns, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to unassign tickets: %w", err)
	}
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, err
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].ID < tickets[j].ID })
	return tickets, nil
}

func (tx *pgTx) SetQueuePosition(ctx context.Context, ticketID int64, pos *int) error {
	// Terminal rows are left alone; they may have been completed since the
	// caller read them.
	_, err := tx.q.ExecContext(ctx, `
		UPDATE tickets SET queue_position = $2
		WHERE id = $1 AND ($2::int IS NULL OR status IN ('OPEN', 'IN_PROGRESS'))`,
		ticketID, nullInt(pos))
	if err != nil {
		return fmt.Errorf("failed to set queue position: %w", err)
	}
	return nil
}

func (tx *pgTx) ClearTerminalQueuePositions(ctx context.Context) (int, error) {
	res, err := tx.q.ExecContext(ctx, `
		UPDATE tickets SET queue_position = NULL
		WHERE status IN ('COMPLETED', 'CLOSED') AND queue_position IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear queue positions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (tx *pgTx) LockQueue(ctx context.Context) error {
	if _, err := tx.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, queueLockKey); err != nil {
		return fmt.Errorf("failed to lock queue: %w", err)
	}
	return nil
}

func (tx *pgTx) CreateAgent(ctx context.Context, a *models.Agent) error {
	err := tx.q.QueryRowContext(ctx, `
		INSERT INTO agents (name, email, username, max_tickets)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		a.Name, a.Email, a.Username, a.MaxTickets,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

func (tx *pgTx) LockAgent(ctx context.Context, id int64) (*models.Agent, error) {
	a, err := scanAgent(tx.q.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "agent", id)
	}
	return a, nil
}

func (tx *pgTx) DeleteAgent(ctx context.Context, id int64) error {
	active, err := tx.CountActiveTicketsForAgent(ctx, id)
	if err != nil {
		return err
	}
	if active > 0 {
		return fmt.Errorf("agent %d still has active tickets: %w", id, ErrConflict)
	}

	res, err := tx.q.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %d: %w", id, ErrNotFound)
	}
	return nil
}

func (tx *pgTx) CreateService(ctx context.Context, s *models.Service) error {
	err := tx.q.QueryRowContext(ctx, `
		INSERT INTO services (name, description, fee, default_priority)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		s.Name, s.Description, s.Fee, string(s.DefaultPriority),
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to insert service: %w", err)
	}
	return nil
}

func (tx *pgTx) DeleteService(ctx context.Context, id int64) error {
	var referenced bool
	err := tx.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM tickets WHERE service_id = $1)`, id).Scan(&referenced)
	if err != nil {
		return fmt.Errorf("failed to check service references: %w", err)
	}
	if referenced {
		return fmt.Errorf("service %d is referenced by tickets: %w", id, ErrConflict)
	}

	res, err := tx.q.ExecContext(ctx, `DELETE FROM services WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("service %d: %w", id, ErrNotFound)
	}
	return nil
}

func (tx *pgTx) CreateUser(ctx context.Context, u *models.User) error {
	err := tx.q.QueryRowContext(ctx,
		`INSERT INTO users (name, email) VALUES ($1, $2) RETURNING id`, u.Name, u.Email).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (tx *pgTx) CreatePayment(ctx context.Context, p *models.Payment) error {
	err := tx.q.QueryRowContext(ctx, `
		INSERT INTO payments (ticket_id, user_id, amount, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		p.TicketID, p.UserID, p.Amount, string(p.Status),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (tx *pgTx) CompletePayment(ctx context.Context, ticketID int64) error {
	_, err := tx.q.ExecContext(ctx,
		`UPDATE payments SET status = 'COMPLETED', updated_at = NOW() WHERE ticket_id = $1`, ticketID)
	if err != nil {
		return fmt.Errorf("failed to complete payment: %w", err)
	}
	return nil
}

func (tx *pgTx) AppendLog(ctx context.Context, ticketID int64, message string) error {
	_, err := tx.q.ExecContext(ctx,
		`INSERT INTO ticket_logs (ticket_id, message) VALUES ($1, $2)`, ticketID, message)
	if err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

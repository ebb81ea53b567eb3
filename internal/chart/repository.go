package chart

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coopbooks/coopbooks/internal/platform/db"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Repository persists the chart of accounts.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

const headerColumns = `id, name, type, parent_id, description, active, full_number, created_at, updated_at`

func scanHeader(row pgx.Row) (Header, error) {
	var h Header
	err := row.Scan(&h.ID, &h.Name, &h.Type, &h.ParentID, &h.Description, &h.Active, &h.FullNumber, &h.CreatedAt, &h.UpdatedAt)
	return h, err
}

const accountColumns = `id, name, type, parent_id, description, balance, reconciled_balance, last_reconciled, bank, active, full_number, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Name, &a.Type, &a.ParentID, &a.Description, &a.Balance, &a.ReconciledBalance,
		&a.LastReconciled, &a.Bank, &a.Active, &a.FullNumber, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *txRepository) ListHeaders(ctx context.Context) ([]Header, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+headerColumns+` FROM headers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var headers []Header
	for rows.Next() {
		h, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	return headers, rows.Err()
}

func (r *txRepository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) GetHeader(ctx context.Context, id int64) (Header, error) {
	h, err := scanHeader(r.tx.QueryRow(ctx, `SELECT `+headerColumns+` FROM headers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Header{}, ErrHeaderNotFound
	}
	return h, err
}

func (r *txRepository) GetAccount(ctx context.Context, id int64) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return a, err
}

func (r *txRepository) InsertHeader(ctx context.Context, h Header) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO headers (name, type, parent_id, description, active, full_number, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, '', $6, $7) RETURNING id`,
		h.Name, h.Type, h.ParentID, h.Description, h.Active, h.CreatedAt, h.UpdatedAt).Scan(&id)
	if isUniqueViolation(err) {
		return 0, ErrNameTaken
	}
	return id, err
}

func (r *txRepository) InsertAccount(ctx context.Context, a Account) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO accounts (name, type, parent_id, description, balance, reconciled_balance, last_reconciled, bank, active, full_number, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', $10, $11) RETURNING id`,
		a.Name, a.Type, a.ParentID, a.Description, a.Balance, a.ReconciledBalance, a.LastReconciled,
		a.Bank, a.Active, a.CreatedAt, a.UpdatedAt).Scan(&id)
	if isUniqueViolation(err) {
		return 0, ErrNameTaken
	}
	return id, err
}

func (r *txRepository) UpdateHeader(ctx context.Context, h Header) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE headers SET name = $2, type = $3, parent_id = $4, description = $5, active = $6, updated_at = $7 WHERE id = $1`,
		h.ID, h.Name, h.Type, h.ParentID, h.Description, h.Active, h.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrNameTaken
	}
	return err
}

func (r *txRepository) UpdateAccount(ctx context.Context, a Account) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE accounts SET name = $2, type = $3, parent_id = $4, description = $5, bank = $6, active = $7, updated_at = $8 WHERE id = $1`,
		a.ID, a.Name, a.Type, a.ParentID, a.Description, a.Bank, a.Active, a.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrNameTaken
	}
	return err
}

func (r *txRepository) DeleteHeader(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM headers WHERE id = $1`, id)
	return err
}

func (r *txRepository) DeleteAccount(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	return err
}

func (r *txRepository) CountChildHeaders(ctx context.Context, headerID int64) (int64, error) {
	var count int64
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM headers WHERE parent_id = $1`, headerID).Scan(&count)
	return count, err
}

func (r *txRepository) CountChildAccounts(ctx context.Context, headerID int64) (int64, error) {
	var count int64
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE parent_id = $1`, headerID).Scan(&count)
	return count, err
}

func (r *txRepository) CountTransactions(ctx context.Context, accountID int64) (int64, error) {
	var count int64
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE account_id = $1`, accountID).Scan(&count)
	return count, err
}

func (r *txRepository) UpdateNumbering(ctx context.Context, n Numbering) error {
	for id, number := range n.HeaderNumbers {
		if _, err := r.tx.Exec(ctx, `UPDATE headers SET full_number = $2 WHERE id = $1`, id, number); err != nil {
			return err
		}
	}
	for id, typ := range n.HeaderTypes {
		if _, err := r.tx.Exec(ctx, `UPDATE headers SET type = $2 WHERE id = $1`, id, typ); err != nil {
			return err
		}
	}
	for id, number := range n.AccountNumbers {
		if _, err := r.tx.Exec(ctx, `UPDATE accounts SET full_number = $2 WHERE id = $1`, id, number); err != nil {
			return err
		}
	}
	for id, typ := range n.AccountTypes {
		if _, err := r.tx.Exec(ctx, `UPDATE accounts SET type = $2 WHERE id = $1`, id, typ); err != nil {
			return err
		}
	}
	return nil
}

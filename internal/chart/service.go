package chart

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the chart operations available within a transaction.
type TxRepository interface {
	ListHeaders(ctx context.Context) ([]Header, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	GetHeader(ctx context.Context, id int64) (Header, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	InsertHeader(ctx context.Context, h Header) (int64, error)
	InsertAccount(ctx context.Context, a Account) (int64, error)
	UpdateHeader(ctx context.Context, h Header) error
	UpdateAccount(ctx context.Context, a Account) error
	DeleteHeader(ctx context.Context, id int64) error
	DeleteAccount(ctx context.Context, id int64) error
	CountChildHeaders(ctx context.Context, headerID int64) (int64, error)
	CountChildAccounts(ctx context.Context, headerID int64) (int64, error)
	CountTransactions(ctx context.Context, accountID int64) (int64, error)
	UpdateNumbering(ctx context.Context, n Numbering) error
}

// Service maintains the chart of accounts and its positional numbering.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService constructs the chart service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateHeader inserts a header node and renumbers its type tree.
func (s *Service) CreateHeader(ctx context.Context, in CreateHeaderInput) (Header, error) {
	if err := in.Validate(); err != nil {
		return Header{}, err
	}
	var header Header
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		typ := in.Type
		if in.ParentID != nil {
			parent, err := tx.GetHeader(ctx, *in.ParentID)
			if err != nil {
				return err
			}
			typ = parent.Type
		}
		now := s.now()
		header = Header{
			Name:        in.Name,
			Type:        typ,
			ParentID:    in.ParentID,
			Description: in.Description,
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		id, err := tx.InsertHeader(ctx, header)
		if err != nil {
			return err
		}
		header.ID = id
		numbering, err := s.renumber(ctx, tx)
		if err != nil {
			return err
		}
		header.FullNumber = numbering.HeaderNumbers[id]
		return nil
	})
	if err != nil {
		return Header{}, err
	}
	return header, nil
}

// CreateAccount inserts an account under a header, inheriting its type.
func (s *Service) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		parent, err := tx.GetHeader(ctx, in.ParentID)
		if err != nil {
			return err
		}
		now := s.now()
		account = Account{
			Name:              in.Name,
			Type:              parent.Type,
			ParentID:          in.ParentID,
			Description:       in.Description,
			Balance:           decimal.Zero,
			ReconciledBalance: decimal.Zero,
			Bank:              in.Bank,
			Active:            true,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		id, err := tx.InsertAccount(ctx, account)
		if err != nil {
			return err
		}
		account.ID = id
		numbering, err := s.renumber(ctx, tx)
		if err != nil {
			return err
		}
		account.FullNumber = numbering.AccountNumbers[id]
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// RenameHeader changes a header's name. Sibling ordering is name-derived, so
// the type tree is renumbered.
func (s *Service) RenameHeader(ctx context.Context, id int64, name string) (Header, error) {
	var header Header
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		header, err = tx.GetHeader(ctx, id)
		if err != nil {
			return err
		}
		header.Name = name
		header.UpdatedAt = s.now()
		if err := tx.UpdateHeader(ctx, header); err != nil {
			return err
		}
		numbering, err := s.renumber(ctx, tx)
		if err != nil {
			return err
		}
		header.FullNumber = numbering.HeaderNumbers[id]
		return nil
	})
	if err != nil {
		return Header{}, err
	}
	return header, nil
}

// MoveHeader re-parents a header subtree. Types are re-inherited from the new
// ancestry and both affected type trees are renumbered.
func (s *Service) MoveHeader(ctx context.Context, id int64, newParentID *int64) (Header, error) {
	var header Header
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		header, err = tx.GetHeader(ctx, id)
		if err != nil {
			return err
		}
		if newParentID != nil {
			if _, err := tx.GetHeader(ctx, *newParentID); err != nil {
				return err
			}
			headers, err := tx.ListHeaders(ctx)
			if err != nil {
				return err
			}
			if NewTree(headers, nil).PathContains(id, *newParentID) {
				return ErrParentCycle
			}
		} else if !header.Type.Valid() {
			return ErrRootTypeRequired
		}
		header.ParentID = newParentID
		header.UpdatedAt = s.now()
		if err := tx.UpdateHeader(ctx, header); err != nil {
			return err
		}
		numbering, err := s.renumber(ctx, tx)
		if err != nil {
			return err
		}
		header.FullNumber = numbering.HeaderNumbers[id]
		header.Type = numbering.HeaderTypes[id]
		return nil
	})
	if err != nil {
		return Header{}, err
	}
	return header, nil
}

// RenameAccount changes an account's name and renumbers its siblings.
func (s *Service) RenameAccount(ctx context.Context, id int64, name string) (Account, error) {
	return s.updateAccount(ctx, id, func(a *Account) error {
		a.Name = name
		return nil
	})
}

// MoveAccount re-parents an account under another header, re-inheriting the
// header's type.
func (s *Service) MoveAccount(ctx context.Context, id, newParentID int64) (Account, error) {
	return s.updateAccount(ctx, id, func(a *Account) error {
		a.ParentID = newParentID
		return nil
	})
}

func (s *Service) updateAccount(ctx context.Context, id int64, mutate func(*Account) error) (Account, error) {
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = tx.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if err := mutate(&account); err != nil {
			return err
		}
		if _, err := tx.GetHeader(ctx, account.ParentID); err != nil {
			return err
		}
		account.UpdatedAt = s.now()
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}
		numbering, err := s.renumber(ctx, tx)
		if err != nil {
			return err
		}
		account.FullNumber = numbering.AccountNumbers[id]
		account.Type = numbering.AccountTypes[id]
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// DeleteHeader removes an empty header and renumbers the remaining tree.
func (s *Service) DeleteHeader(ctx context.Context, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetHeader(ctx, id); err != nil {
			return err
		}
		childHeaders, err := tx.CountChildHeaders(ctx, id)
		if err != nil {
			return err
		}
		childAccounts, err := tx.CountChildAccounts(ctx, id)
		if err != nil {
			return err
		}
		if childHeaders > 0 || childAccounts > 0 {
			return ErrHeaderNotEmpty
		}
		if err := tx.DeleteHeader(ctx, id); err != nil {
			return err
		}
		_, err = s.renumber(ctx, tx)
		return err
	})
}

// DeleteAccount removes an account that has no transactions.
func (s *Service) DeleteAccount(ctx context.Context, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetAccount(ctx, id); err != nil {
			return err
		}
		count, err := tx.CountTransactions(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrAccountInUse
		}
		if err := tx.DeleteAccount(ctx, id); err != nil {
			return err
		}
		_, err = s.renumber(ctx, tx)
		return err
	})
}

// Chart bundles the full tree for display.
type Chart struct {
	Headers  []Header
	Accounts []Account
}

// GetChart returns every header and account with current numbering.
func (s *Service) GetChart(ctx context.Context) (Chart, error) {
	var chart Chart
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		chart.Headers, err = tx.ListHeaders(ctx)
		if err != nil {
			return err
		}
		chart.Accounts, err = tx.ListAccounts(ctx)
		return err
	})
	if err != nil {
		return Chart{}, err
	}
	return chart, nil
}

// HeaderBalance traverses child headers and accounts to produce the rollup
// value balance under a header.
func (s *Service) HeaderBalance(ctx context.Context, headerID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetHeader(ctx, headerID); err != nil {
			return err
		}
		headers, err := tx.ListHeaders(ctx)
		if err != nil {
			return err
		}
		accounts, err := tx.ListAccounts(ctx)
		if err != nil {
			return err
		}
		tree := NewTree(headers, accounts)
		for _, a := range accounts {
			if tree.PathContains(headerID, a.ParentID) {
				total = total.Add(ValueBalance(a.Type, a.Balance))
			}
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// renumber recomputes numbering for the whole chart and persists every node
// whose number or inherited type changed.
func (s *Service) renumber(ctx context.Context, tx TxRepository) (Numbering, error) {
	headers, err := tx.ListHeaders(ctx)
	if err != nil {
		return Numbering{}, err
	}
	accounts, err := tx.ListAccounts(ctx)
	if err != nil {
		return Numbering{}, err
	}
	numbering, err := NewTree(headers, accounts).Renumber()
	if err != nil {
		return Numbering{}, err
	}
	changed := Numbering{
		HeaderNumbers:  make(map[int64]string),
		AccountNumbers: make(map[int64]string),
		HeaderTypes:    make(map[int64]AccountType),
		AccountTypes:   make(map[int64]AccountType),
	}
	for _, h := range headers {
		if numbering.HeaderNumbers[h.ID] != h.FullNumber {
			changed.HeaderNumbers[h.ID] = numbering.HeaderNumbers[h.ID]
		}
		if numbering.HeaderTypes[h.ID] != h.Type {
			changed.HeaderTypes[h.ID] = numbering.HeaderTypes[h.ID]
		}
	}
	for _, a := range accounts {
		if numbering.AccountNumbers[a.ID] != a.FullNumber {
			changed.AccountNumbers[a.ID] = numbering.AccountNumbers[a.ID]
		}
		if numbering.AccountTypes[a.ID] != a.Type {
			changed.AccountTypes[a.ID] = numbering.AccountTypes[a.ID]
		}
	}
	if err := tx.UpdateNumbering(ctx, changed); err != nil {
		return Numbering{}, err
	}
	return numbering, nil
}

package entries

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/coopbooks/coopbooks/internal/chart"
	"github.com/coopbooks/coopbooks/internal/ledger"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the entry operations available within a transaction.
type TxRepository interface {
	ledger.BalanceWriter
	GetAccount(ctx context.Context, id int64) (chart.Account, error)
	GetEntry(ctx context.Context, kind ledger.EntryKind, id int64) (Entry, error)
	InsertEntry(ctx context.Context, e Entry) (int64, error)
	UpdateEntry(ctx context.Context, e Entry) error
	DeleteEntry(ctx context.Context, kind ledger.EntryKind, id int64) error
	GetTransaction(ctx context.Context, id int64) (ledger.Transaction, error)
	InsertTransaction(ctx context.Context, t ledger.Transaction) (int64, error)
	UpdateTransaction(ctx context.Context, t ledger.Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error
	ListEntryTransactions(ctx context.Context, kind ledger.EntryKind, entryID int64) ([]ledger.Transaction, error)
}

// Service creates, edits, voids and deletes entries. Every save validates
// first and then drives the balance primitives inside one transaction, so a
// committed entry always nets to zero and stored balances always agree with
// the transaction rows.
type Service struct {
	repo  RepositoryPort
	cache *ledger.Cache
}

// NewService constructs the entry service. cache may be nil.
func NewService(repo RepositoryPort, cache *ledger.Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// SaveEntry creates or edits a journal or transfer entry.
func (s *Service) SaveEntry(ctx context.Context, in SaveEntryInput) (Entry, error) {
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	var saved Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry := Entry{
			ID:       in.EntryID,
			Kind:     in.Kind,
			Date:     in.Date,
			Memo:     in.Memo,
			Comments: in.Comments,
		}
		if in.EntryID == 0 {
			id, err := tx.InsertEntry(ctx, entry)
			if err != nil {
				return err
			}
			entry.ID = id
		} else {
			existing, err := tx.GetEntry(ctx, in.Kind, in.EntryID)
			if err != nil {
				return err
			}
			entry.CreatedAt = existing.CreatedAt
			if err := tx.UpdateEntry(ctx, entry); err != nil {
				return err
			}
		}
		if err := checkBalance(ctx, tx, entry, in.Lines); err != nil {
			return err
		}
		if err := applyLines(ctx, tx, entry, in.Lines); err != nil {
			return err
		}
		if err := redateTransactions(ctx, tx, entry); err != nil {
			return err
		}
		saved = entry
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	// Stale cached balances expire by TTL if the bump fails.
	_ = s.cache.Bump(ctx)
	return saved, nil
}

// SaveBankEntry creates, edits or voids a bank spending or receiving entry.
// The main transaction mirrors the externally-specified amount against the
// bank account; the sub-transactions net to its negation.
func (s *Service) SaveBankEntry(ctx context.Context, in SaveBankEntryInput) (Entry, error) {
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	var saved Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bankAccount, err := tx.GetAccount(ctx, in.AccountID)
		if err != nil {
			return err
		}
		if !bankAccount.Bank {
			return ErrNotBankAccount
		}
		entry := Entry{
			ID:       in.EntryID,
			Kind:     in.Kind,
			Date:     in.Date,
			Memo:     in.Memo,
			Comments: in.Comments,
			Bank: &BankDetails{
				AccountID:   in.AccountID,
				Amount:      in.Amount,
				CheckNumber: in.CheckNumber,
				ACHPayment:  in.ACHPayment,
				Payee:       in.Payee,
				Payor:       in.Payor,
				Void:        in.Void,
			},
		}
		amount := in.Amount
		if in.Void {
			amount = decimal.Zero
			entry.Bank.Amount = decimal.Zero
			entry.Memo = tagVoid(in.Memo)
		}
		if in.EntryID == 0 {
			id, err := tx.InsertEntry(ctx, entry)
			if err != nil {
				return err
			}
			entry.ID = id
			main := ledger.Transaction{
				AccountID: in.AccountID,
				Entry:     ledger.EntryRef{Kind: in.Kind, ID: entry.ID},
				Main:      true,
				Detail:    in.Memo,
				Delta:     amount,
				Date:      in.Date,
			}
			mainID, err := tx.InsertTransaction(ctx, main)
			if err != nil {
				return err
			}
			entry.Bank.MainTransactionID = mainID
			if err := tx.UpdateEntry(ctx, entry); err != nil {
				return err
			}
			if err := ledger.Apply(ctx, tx, in.AccountID, amount); err != nil {
				return err
			}
		} else {
			existing, err := tx.GetEntry(ctx, in.Kind, in.EntryID)
			if err != nil {
				return err
			}
			if existing.IsVoid() {
				return ErrEntryVoid
			}
			entry.CreatedAt = existing.CreatedAt
			entry.Bank.MainTransactionID = existing.Bank.MainTransactionID
			main, err := tx.GetTransaction(ctx, entry.Bank.MainTransactionID)
			if err != nil {
				return err
			}
			changed := main.AccountID != in.AccountID || !main.Delta.Equal(amount)
			if changed && main.Reconciled {
				return ledger.ErrReconciledTransactionLocked
			}
			if err := ledger.Reassign(ctx, tx, main.AccountID, main.Delta, in.AccountID, amount); err != nil {
				return err
			}
			main.AccountID = in.AccountID
			main.Delta = amount
			main.Detail = in.Memo
			main.Date = in.Date
			if err := tx.UpdateTransaction(ctx, main); err != nil {
				return err
			}
			if err := tx.UpdateEntry(ctx, entry); err != nil {
				return err
			}
		}
		if in.Void {
			if err := releaseSubTransactions(ctx, tx, entry); err != nil {
				return err
			}
		} else {
			if err := checkBalance(ctx, tx, entry, in.Lines); err != nil {
				return err
			}
			if err := applyLines(ctx, tx, entry, in.Lines); err != nil {
				return err
			}
			if err := redateTransactions(ctx, tx, entry); err != nil {
				return err
			}
		}
		saved = entry
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	_ = s.cache.Bump(ctx)
	return saved, nil
}

// DeleteEntry releases every transaction the entry owns, main included, and
// removes the entry. Entries with reconciled transactions refuse deletion
// until the flags are cleared.
func (s *Service) DeleteEntry(ctx context.Context, kind ledger.EntryKind, id int64) error {
	if !kind.Valid() {
		return fmt.Errorf("entries: unknown kind %q", kind)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetEntry(ctx, kind, id); err != nil {
			return err
		}
		transactions, err := tx.ListEntryTransactions(ctx, kind, id)
		if err != nil {
			return err
		}
		for _, t := range transactions {
			if t.Reconciled {
				return ledger.ErrReconciledTransactionLocked
			}
		}
		for _, t := range transactions {
			if err := releaseTransaction(ctx, tx, t); err != nil {
				return err
			}
		}
		return tx.DeleteEntry(ctx, kind, id)
	})
	if err != nil {
		return err
	}
	_ = s.cache.Bump(ctx)
	return nil
}

// GetEntry returns an entry with its transactions in posting order.
func (s *Service) GetEntry(ctx context.Context, kind ledger.EntryKind, id int64) (Entry, []ledger.Transaction, error) {
	var (
		entry        Entry
		transactions []ledger.Transaction
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetEntry(ctx, kind, id)
		if err != nil {
			return err
		}
		transactions, err = tx.ListEntryTransactions(ctx, kind, id)
		return err
	})
	if err != nil {
		return Entry{}, nil, err
	}
	return entry, transactions, nil
}

// checkBalance validates the entry state the proposed lines would produce:
// untouched existing transactions keep their deltas, edited lines replace
// theirs, removed lines drop out and new lines join. The resulting set, main
// transaction included, must be non-empty and net to zero. It runs before
// the lines drive the balance primitives so an unbalancing edit never
// reaches the ledger.
func checkBalance(ctx context.Context, tx TxRepository, entry Entry, lines []LineInput) error {
	ref := ledger.EntryRef{Kind: entry.Kind, ID: entry.ID}
	existing, err := tx.ListEntryTransactions(ctx, entry.Kind, entry.ID)
	if err != nil {
		return err
	}
	deltas := make(map[int64]decimal.Decimal, len(existing))
	for _, t := range existing {
		deltas[t.ID] = t.Delta
	}
	var added []decimal.Decimal
	for _, line := range lines {
		if line.TransactionID == 0 {
			if !line.Remove {
				added = append(added, line.Delta)
			}
			continue
		}
		if _, ok := deltas[line.TransactionID]; !ok {
			t, err := tx.GetTransaction(ctx, line.TransactionID)
			if err != nil {
				return err
			}
			if t.Entry != ref {
				return ErrForeignTransaction
			}
		}
		if line.Remove {
			delete(deltas, line.TransactionID)
			continue
		}
		deltas[line.TransactionID] = line.Delta
	}
	if len(deltas)+len(added) == 0 {
		return ErrEmptyEntry
	}
	debits, credits := decimal.Zero, decimal.Zero
	tally := func(d decimal.Decimal) {
		if d.IsNegative() {
			debits = debits.Add(d)
		} else {
			credits = credits.Add(d)
		}
	}
	for _, d := range deltas {
		tally(d)
	}
	for _, d := range added {
		tally(d)
	}
	net := credits.Add(debits)
	if !net.IsZero() {
		return &OutOfBalanceError{Debits: debits, Credits: credits, Net: net, Target: decimal.Zero}
	}
	return nil
}

// applyLines walks the proposed lines and drives the balance primitives:
// new lines apply, edited lines reassign, removed lines reverse and delete.
func applyLines(ctx context.Context, tx TxRepository, entry Entry, lines []LineInput) error {
	ref := ledger.EntryRef{Kind: entry.Kind, ID: entry.ID}
	for _, line := range lines {
		if line.TransactionID == 0 {
			if line.Remove {
				continue
			}
			if entry.IsVoid() {
				return ErrEntryVoid
			}
			t := ledger.Transaction{
				AccountID: line.AccountID,
				Entry:     ref,
				Detail:    line.Detail,
				Delta:     line.Delta,
				Date:      entry.Date,
			}
			if _, err := tx.InsertTransaction(ctx, t); err != nil {
				return err
			}
			if err := ledger.Apply(ctx, tx, line.AccountID, line.Delta); err != nil {
				return err
			}
			continue
		}
		existing, err := tx.GetTransaction(ctx, line.TransactionID)
		if err != nil {
			return err
		}
		if existing.Entry != ref {
			return ErrForeignTransaction
		}
		if line.Remove {
			if existing.Reconciled {
				return ledger.ErrReconciledTransactionLocked
			}
			if err := releaseTransaction(ctx, tx, existing); err != nil {
				return err
			}
			continue
		}
		changed := existing.AccountID != line.AccountID || !existing.Delta.Equal(line.Delta)
		if changed {
			if existing.Reconciled {
				return ledger.ErrReconciledTransactionLocked
			}
			if err := ledger.Reassign(ctx, tx, existing.AccountID, existing.Delta, line.AccountID, line.Delta); err != nil {
				return err
			}
		}
		existing.AccountID = line.AccountID
		existing.Delta = line.Delta
		existing.Detail = line.Detail
		existing.Date = entry.Date
		if err := tx.UpdateTransaction(ctx, existing); err != nil {
			return err
		}
	}
	return nil
}

// redateTransactions moves transactions the caller's lines did not touch
// onto the entry's date after a date edit.
func redateTransactions(ctx context.Context, tx TxRepository, entry Entry) error {
	transactions, err := tx.ListEntryTransactions(ctx, entry.Kind, entry.ID)
	if err != nil {
		return err
	}
	for _, t := range transactions {
		if t.Date.Equal(entry.Date) {
			continue
		}
		t.Date = entry.Date
		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// releaseSubTransactions reverses and deletes every non-main transaction of
// a voided entry. The main transaction survives at a zero delta so the bank
// register still shows the voided item.
func releaseSubTransactions(ctx context.Context, tx TxRepository, entry Entry) error {
	transactions, err := tx.ListEntryTransactions(ctx, entry.Kind, entry.ID)
	if err != nil {
		return err
	}
	for _, t := range transactions {
		if t.Main {
			continue
		}
		if t.Reconciled {
			return ledger.ErrReconciledTransactionLocked
		}
		if err := releaseTransaction(ctx, tx, t); err != nil {
			return err
		}
	}
	return nil
}

func releaseTransaction(ctx context.Context, tx TxRepository, t ledger.Transaction) error {
	if err := ledger.Reverse(ctx, tx, t.AccountID, t.Delta); err != nil {
		return err
	}
	return tx.DeleteTransaction(ctx, t.ID)
}

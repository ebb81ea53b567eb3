package fiscalyear

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coopbooks/coopbooks/internal/chart"
	"github.com/coopbooks/coopbooks/internal/entries"
	"github.com/coopbooks/coopbooks/internal/ledger"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the closing operations available within a
// transaction.
type TxRepository interface {
	ledger.BalanceWriter
	GetAccountByName(ctx context.Context, name string) (chart.Account, error)
	ListAccounts(ctx context.Context) ([]chart.Account, error)
	SetBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error
	ListFiscalYears(ctx context.Context) ([]FiscalYear, error)
	InsertFiscalYear(ctx context.Context, fy FiscalYear) (int64, error)
	InsertSnapshot(ctx context.Context, h HistoricalAccount) (int64, error)
	CountSnapshots(ctx context.Context, month time.Time) (int64, error)
	SnapshotAmount(ctx context.Context, name string, month time.Time) (decimal.Decimal, bool, error)
	CountTransactionsBetween(ctx context.Context, from, to time.Time) (int64, error)
	ListEntriesThrough(ctx context.Context, date time.Time) ([]ledger.EntryRef, error)
	ListEntryTransactions(ctx context.Context, kind ledger.EntryKind, entryID int64) ([]ledger.Transaction, error)
	InsertJournalEntry(ctx context.Context, date time.Time, memo string) (int64, error)
	DeleteEntry(ctx context.Context, kind ledger.EntryKind, id int64) error
	InsertTransaction(ctx context.Context, t ledger.Transaction) (int64, error)
	DeleteTransaction(ctx context.Context, id int64) error
	SumDeltasAfter(ctx context.Context, accountID int64, date time.Time) (decimal.Decimal, error)
	SumDeltasBetween(ctx context.Context, accountID int64, from, to time.Time) (decimal.Decimal, error)
	SumEarningsThrough(ctx context.Context, date time.Time) (decimal.Decimal, error)
}

const transferMemo = "End of Fiscal Year Adjustment"

// Service closes fiscal years: it archives monthly snapshots, purges the
// closed period's entries, rebuilds stored balances and transfers the
// closed period's earnings into Retained Earnings. The whole close runs in
// one repeatable-read transaction; months already archived by an earlier
// run are skipped, so rerunning a close against partially-closed state is
// safe.
type Service struct {
	repo  RepositoryPort
	cache *ledger.Cache
}

// NewService constructs the closing service. cache may be nil.
func NewService(repo RepositoryPort, cache *ledger.Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Close records the new fiscal year and closes the prior one. With no prior
// fiscal year it records the boundary only.
func (s *Service) Close(ctx context.Context, in CloseInput) (CloseResult, error) {
	if err := in.Validate(); err != nil {
		return CloseResult{}, err
	}
	if in.RunToken == uuid.Nil {
		in.RunToken = uuid.New()
	}
	var result CloseResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		newFY := FiscalYear{Year: in.Year, EndMonth: in.EndMonth, Period: in.Period}
		years, err := tx.ListFiscalYears(ctx)
		if err != nil {
			return err
		}
		if len(years) == 0 {
			id, err := tx.InsertFiscalYear(ctx, newFY)
			if err != nil {
				return err
			}
			newFY.ID = id
			result = CloseResult{FiscalYear: newFY, RunToken: in.RunToken}
			return nil
		}
		prior := years[0]
		if err := checkBoundary(ctx, tx, prior, newFY); err != nil {
			return err
		}
		cye, err := tx.GetAccountByName(ctx, chart.CurrentYearEarnings)
		if err != nil {
			return ErrMissingEquityAccounts
		}
		retained, err := tx.GetAccountByName(ctx, chart.RetainedEarnings)
		if err != nil {
			return ErrMissingEquityAccounts
		}

		// The closed period is the prior fiscal year plus any gap months
		// before the new one starts. With two or more recorded years its
		// first month follows the year before the prior one; with a single
		// recorded year it is derived from the prior year's period.
		stop := newFY.StartDate().AddDate(0, 0, -1)
		from := prior.StartDate()
		if len(years) >= 2 {
			from = years[1].EndDate().AddDate(0, 0, 1)
		}
		accounts, err := tx.ListAccounts(ctx)
		if err != nil {
			return err
		}
		archived, err := archiveMonths(ctx, tx, accounts, from, stop, in.RunToken)
		if err != nil {
			return err
		}

		// Earnings must be read before the purge drops their transactions.
		earnings, err := tx.SumEarningsThrough(ctx, stop)
		if err != nil {
			return err
		}
		purged, err := purgeEntries(ctx, tx, stop, in.ExcludedAccountIDs)
		if err != nil {
			return err
		}
		if err := rebuildBalances(ctx, tx, accounts, stop); err != nil {
			return err
		}
		transferID, err := transferEarnings(ctx, tx, cye, retained, earnings, stop.AddDate(0, 0, 1))
		if err != nil {
			return err
		}

		id, err := tx.InsertFiscalYear(ctx, newFY)
		if err != nil {
			return err
		}
		newFY.ID = id
		result = CloseResult{
			FiscalYear:        newFY,
			RunToken:          in.RunToken,
			ArchivedSnapshots: archived,
			PurgedEntries:     purged,
			TransferEntryID:   transferID,
		}
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}
	// Stale cached balances expire by TTL if the bump fails.
	_ = s.cache.Bump(ctx)
	return result, nil
}

// List returns the recorded fiscal years, newest first.
func (s *Service) List(ctx context.Context) ([]FiscalYear, error) {
	var years []FiscalYear
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		years, err = tx.ListFiscalYears(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return years, nil
}

// checkBoundary enforces the rules relating the new fiscal year to the
// prior one.
func checkBoundary(ctx context.Context, tx TxRepository, prior, next FiscalYear) error {
	priorEnd := prior.EndDate()
	start := next.StartDate()
	if !start.After(priorEnd) {
		return &InvalidBoundaryError{Reason: "the new fiscal year must start after the prior one ends"}
	}
	if months := monthsBetween(priorEnd, start); months > 13 {
		return &InvalidBoundaryError{Reason: "the closed period cannot exceed thirteen months"}
	}
	if prior.Period == 13 && next.Period == 12 {
		// Shrinking the period orphans the prior thirteenth month unless
		// it holds no transactions.
		n, err := tx.CountTransactionsBetween(ctx, monthStart(priorEnd), monthEnd(priorEnd))
		if err != nil {
			return err
		}
		if n > 0 {
			return &InvalidBoundaryError{Reason: "cannot shorten the period while the thirteenth month holds transactions"}
		}
	}
	return nil
}

// monthsBetween counts the whole calendar months strictly after the month
// of from and strictly before the month of to.
func monthsBetween(from, to time.Time) int {
	months := 0
	for m := monthStart(from).AddDate(0, 1, 0); m.Before(monthStart(to)); m = m.AddDate(0, 1, 0) {
		months++
	}
	return months
}

// archiveMonths snapshots every account for every month of the closed
// period. A month with existing snapshots was archived by an earlier run
// and is skipped whole.
func archiveMonths(ctx context.Context, tx TxRepository, accounts []chart.Account, from, stop time.Time, token uuid.UUID) (int, error) {
	archived := 0
	for m := monthStart(from); !m.After(monthStart(stop)); m = m.AddDate(0, 1, 0) {
		n, err := tx.CountSnapshots(ctx, m)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			continue
		}
		for _, account := range accounts {
			amount, err := snapshotAmount(ctx, tx, account, m)
			if err != nil {
				return 0, err
			}
			h := HistoricalAccount{
				Name:     account.Name,
				Number:   account.FullNumber,
				Type:     account.Type,
				Amount:   amount,
				Month:    m,
				RunToken: token,
			}
			if _, err := tx.InsertSnapshot(ctx, h); err != nil {
				return 0, err
			}
			archived++
		}
	}
	return archived, nil
}

// snapshotAmount computes the archival amount for one account and month:
// the end-of-month balance for asset, liability and equity accounts, the
// net monthly change for earnings accounts. Current Year Earnings derives
// its end-of-month balance from the earnings accounts.
func snapshotAmount(ctx context.Context, tx TxRepository, account chart.Account, month time.Time) (decimal.Decimal, error) {
	eom := monthEnd(month)
	if account.Name == chart.CurrentYearEarnings {
		return tx.SumEarningsThrough(ctx, eom)
	}
	if account.Type.IsEarnings() {
		return tx.SumDeltasBetween(ctx, account.ID, month, eom)
	}
	newer, err := tx.SumDeltasAfter(ctx, account.ID, eom)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance.Sub(newer), nil
}

// purgeEntries deletes every entry dated in the closed period through the
// balance reversal path. An entry survives whole when any of its
// transactions, main included, hits an excluded account while unreconciled.
func purgeEntries(ctx context.Context, tx TxRepository, stop time.Time, excludedIDs []int64) (int, error) {
	excluded := make(map[int64]bool, len(excludedIDs))
	for _, id := range excludedIDs {
		excluded[id] = true
	}
	refs, err := tx.ListEntriesThrough(ctx, stop)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, ref := range refs {
		transactions, err := tx.ListEntryTransactions(ctx, ref.Kind, ref.ID)
		if err != nil {
			return 0, err
		}
		if preserved(transactions, excluded) {
			continue
		}
		for _, t := range transactions {
			if err := ledger.Reverse(ctx, tx, t.AccountID, t.Delta); err != nil {
				return 0, err
			}
			if err := tx.DeleteTransaction(ctx, t.ID); err != nil {
				return 0, err
			}
		}
		if err := tx.DeleteEntry(ctx, ref.Kind, ref.ID); err != nil {
			return 0, err
		}
		purged++
	}
	return purged, nil
}

func preserved(transactions []ledger.Transaction, excluded map[int64]bool) bool {
	for _, t := range transactions {
		if excluded[t.AccountID] && !t.Reconciled {
			return true
		}
	}
	return false
}

// rebuildBalances recomputes stored balances after the purge. Asset,
// liability and equity accounts resume from their final snapshot plus the
// surviving newer transactions; earnings accounts restart from the
// surviving newer transactions alone, so accounts whose backing entries
// were purged come out zeroed.
func rebuildBalances(ctx context.Context, tx TxRepository, accounts []chart.Account, stop time.Time) error {
	for _, account := range accounts {
		if account.Name == chart.CurrentYearEarnings {
			if err := tx.SetBalance(ctx, account.ID, decimal.Zero); err != nil {
				return err
			}
			continue
		}
		base := decimal.Zero
		if !account.Type.IsEarnings() {
			snapshot, ok, err := tx.SnapshotAmount(ctx, account.Name, monthStart(stop))
			if err != nil {
				return err
			}
			if ok {
				base = snapshot
			}
		}
		newer, err := tx.SumDeltasAfter(ctx, account.ID, stop)
		if err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, account.ID, base.Add(newer)); err != nil {
			return err
		}
	}
	return nil
}

// transferEarnings posts the closed period's earnings into Retained
// Earnings as a balanced journal entry dated the first day of the new
// fiscal year. A zero earnings balance posts nothing.
func transferEarnings(ctx context.Context, tx TxRepository, cye, retained chart.Account, earnings decimal.Decimal, date time.Time) (int64, error) {
	if earnings.IsZero() {
		return 0, nil
	}
	lines := []entries.LineInput{
		{AccountID: cye.ID, Detail: transferMemo, Delta: earnings.Neg()},
		{AccountID: retained.ID, Detail: transferMemo, Delta: earnings},
	}
	if err := entries.ValidateLines(lines); err != nil {
		return 0, err
	}
	entryID, err := tx.InsertJournalEntry(ctx, date, transferMemo)
	if err != nil {
		return 0, err
	}
	for _, line := range lines {
		t := ledger.Transaction{
			AccountID: line.AccountID,
			Entry:     ledger.EntryRef{Kind: ledger.EntryJournal, ID: entryID},
			Detail:    line.Detail,
			Delta:     line.Delta,
			Date:      date,
		}
		if _, err := tx.InsertTransaction(ctx, t); err != nil {
			return 0, err
		}
		if err := ledger.Apply(ctx, tx, line.AccountID, line.Delta); err != nil {
			return 0, err
		}
	}
	return entryID, nil
}

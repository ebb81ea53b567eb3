package entries

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coopbooks/coopbooks/internal/chart"
	"github.com/coopbooks/coopbooks/internal/ledger"
)

type fakeEntriesRepo struct {
	accounts     map[int64]chart.Account
	entries      map[ledger.EntryRef]Entry
	transactions map[int64]ledger.Transaction
	nextID       int64
}

func newFakeEntriesRepo() *fakeEntriesRepo {
	return &fakeEntriesRepo{
		accounts:     make(map[int64]chart.Account),
		entries:      make(map[ledger.EntryRef]Entry),
		transactions: make(map[int64]ledger.Transaction),
	}
}

func (f *fakeEntriesRepo) addAccount(a chart.Account) chart.Account {
	f.accounts[a.ID] = a
	return a
}

func (f *fakeEntriesRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, f)
}

func (f *fakeEntriesRepo) GetAccountForUpdate(ctx context.Context, id int64) (chart.Account, error) {
	return f.GetAccount(ctx, id)
}

func (f *fakeEntriesRepo) AddToBalance(ctx context.Context, accountID int64, delta decimal.Decimal) error {
	a := f.accounts[accountID]
	a.Balance = a.Balance.Add(delta)
	f.accounts[accountID] = a
	return nil
}

func (f *fakeEntriesRepo) GetAccount(ctx context.Context, id int64) (chart.Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return chart.Account{}, chart.ErrAccountNotFound
	}
	return a, nil
}

func (f *fakeEntriesRepo) GetEntry(ctx context.Context, kind ledger.EntryKind, id int64) (Entry, error) {
	e, ok := f.entries[ledger.EntryRef{Kind: kind, ID: id}]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return e, nil
}

func (f *fakeEntriesRepo) InsertEntry(ctx context.Context, e Entry) (int64, error) {
	f.nextID++
	e.ID = f.nextID
	f.entries[ledger.EntryRef{Kind: e.Kind, ID: e.ID}] = e
	return e.ID, nil
}

func (f *fakeEntriesRepo) UpdateEntry(ctx context.Context, e Entry) error {
	f.entries[ledger.EntryRef{Kind: e.Kind, ID: e.ID}] = e
	return nil
}

func (f *fakeEntriesRepo) DeleteEntry(ctx context.Context, kind ledger.EntryKind, id int64) error {
	delete(f.entries, ledger.EntryRef{Kind: kind, ID: id})
	return nil
}

func (f *fakeEntriesRepo) GetTransaction(ctx context.Context, id int64) (ledger.Transaction, error) {
	t, ok := f.transactions[id]
	if !ok {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return t, nil
}

func (f *fakeEntriesRepo) InsertTransaction(ctx context.Context, t ledger.Transaction) (int64, error) {
	f.nextID++
	t.ID = f.nextID
	f.transactions[t.ID] = t
	return t.ID, nil
}

func (f *fakeEntriesRepo) UpdateTransaction(ctx context.Context, t ledger.Transaction) error {
	f.transactions[t.ID] = t
	return nil
}

func (f *fakeEntriesRepo) DeleteTransaction(ctx context.Context, id int64) error {
	delete(f.transactions, id)
	return nil
}

func (f *fakeEntriesRepo) ListEntryTransactions(ctx context.Context, kind ledger.EntryKind, entryID int64) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for _, t := range f.transactions {
		if t.Entry.Kind == kind && t.Entry.ID == entryID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Main != out[j].Main {
			return out[i].Main
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeEntriesRepo) balance(accountID int64) decimal.Decimal {
	return f.accounts[accountID].Balance
}

func seedJournal(t *testing.T, svc *Service, repo *fakeEntriesRepo) Entry {
	t.Helper()
	repo.addAccount(chart.Account{ID: 1, Name: "Cash", Type: chart.TypeAsset})
	repo.addAccount(chart.Account{ID: 2, Name: "Rent", Type: chart.TypeExpense})
	entry, err := svc.SaveEntry(context.Background(), SaveEntryInput{
		Kind: ledger.EntryJournal,
		Date: date(2012, time.March, 5),
		Memo: "March rent",
		Lines: []LineInput{
			{AccountID: 1, Detail: "rent paid", Delta: amount("20")},
			{AccountID: 2, Detail: "rent paid", Delta: amount("-20")},
		},
	})
	if err != nil {
		t.Fatalf("save journal: %v", err)
	}
	return entry
}

func TestSaveEntryCreatesAndApplies(t *testing.T) {
	repo := newFakeEntriesRepo()
	svc := NewService(repo, nil)
	entry := seedJournal(t, svc, repo)

	transactions, err := repo.ListEntryTransactions(context.Background(), ledger.EntryJournal, entry.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(transactions) != 2 {
		t.Fatalf("transactions = %d, want 2", len(transactions))
	}
	if got := repo.balance(1); !got.Equal(amount("20")) {
		t.Fatalf("cash = %s, want 20", got)
	}
	if got := repo.balance(2); !got.Equal(amount("-20")) {
		t.Fatalf("rent = %s, want -20", got)
	}
}

func TestSaveEntryRejectsOutOfBalance(t *testing.T) {
	repo := newFakeEntriesRepo()
	repo.addAccount(chart.Account{ID: 1, Name: "Cash", Type: chart.TypeAsset})
	svc := NewService(repo, nil)
	_, err := svc.SaveEntry(context.Background(), SaveEntryInput{
		Kind:  ledger.EntryJournal,
		Date:  date(2012, time.March, 5),
		Lines: []LineInput{{AccountID: 1, Delta: amount("20")}},
	})
	if !errors.Is(err, ErrOutOfBalance) {
		t.Fatalf("err = %v, want ErrOutOfBalance", err)
	}
	if len(repo.transactions) != 0 {
		t.Fatal("nothing may be written on validation failure")
	}
}

func TestSaveEntryEditReassignsAndReleases(t *testing.T) {
	repo := newFakeEntriesRepo()
	svc := NewService(repo, nil)
	entry := seedJournal(t, svc, repo)
	repo.addAccount(chart.Account{ID: 3, Name: "Utilities", Type: chart.TypeExpense})

	transactions, _ := repo.ListEntryTransactions(context.Background(), ledger.EntryJournal, entry.ID)
	cashLine, rentLine := transactions[0], transactions[1]
	if cashLine.AccountID != 1 {
		cashLine, rentLine = rentLine, cashLine
	}

	// Move the expense to utilities and reprice both sides.
	_, err := svc.SaveEntry(context.Background(), SaveEntryInput{
		EntryID: entry.ID,
		Kind:    ledger.EntryJournal,
		Date:    entry.Date,
		Lines: []LineInput{
			{TransactionID: cashLine.ID, AccountID: 1, Delta: amount("35")},
			{TransactionID: rentLine.ID, AccountID: 3, Delta: amount("-35")},
		},
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got := repo.balance(1); !got.Equal(amount("35")) {
		t.Fatalf("cash = %s, want 35", got)
	}
	if got := repo.balance(2); !got.IsZero() {
		t.Fatalf("rent = %s, want 0 after reassign", got)
	}
	if got := repo.balance(3); !got.Equal(amount("-35")) {
		t.Fatalf("utilities = %s, want -35", got)
	}
}

func TestSaveEntryRemoveReleasesTransaction(t *testing.T) {
	repo := newFakeEntriesRepo()
	svc := NewService(repo, nil)
	entry := seedJournal(t, svc, repo)
	repo.addAccount(chart.Account{ID: 3, Name: "Utilities", Type: chart.TypeExpense})

	transactions, _ := repo.ListEntryTransactions(context.Background(), ledger.EntryJournal, entry.ID)
	var rentLine ledger.Transaction
	for _, txn := range transactions {
		if txn.AccountID == 2 {
			rentLine = txn
		}
	}

	_, err := svc.SaveEntry(context.Background(), SaveEntryInput{
		EntryID: entry.ID,
		Kind:    ledger.EntryJournal,
		Date:    entry.Date,
		Lines: []LineInput{
			{TransactionID: rentLine.ID, Remove: true},
			{AccountID: 3, Delta: amount("-20")},
		},
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if _, ok := repo.transactions[rentLine.ID]; ok {
		t.Fatal("removed transaction must be deleted")
	}
	if got := repo.balance(2); !got.IsZero() {
		t.Fatalf("rent = %s, want 0 after release", got)
	}
	if got := repo.balance(3); !got.Equal(amount("-20")) {
		t.Fatalf("utilities = %s, want -20", got)
	}
}

func TestSaveEntryEditCannotUnbalanceByRemoval(t *testing.T) {
	repo := newFakeEntriesRepo()
	svc := NewService(repo, nil)
	entry := seedJournal(t, svc, repo)
	repo.addAccount(chart.Account{ID: 3, Name: "Utilities", Type: chart.TypeExpense})

	transactions, _ := repo.ListEntryTransactions(context.Background(), ledger.EntryJournal, entry.ID)
	var rentLine ledger.Transaction
	for _, txn := range transactions {
		if txn.AccountID == 2 {
			rentLine = txn
		}
	}

	// The new lines net to zero among themselves, but removing the -20 rent
	// line leaves the whole entry netting to 20.
	_, err := svc.SaveEntry(context.Background(), SaveEntryInput{
		EntryID: entry.ID,
		Kind:    ledger.EntryJournal,
		Date:    entry.Date,
		Lines: []LineInput{
			{TransactionID: rentLine.ID, Remove: true},
			{AccountID: 3, Delta: amount("5")},
			{AccountID: 3, Delta: amount("-5")},
		},
	})
	if !errors.Is(err, ErrOutOfBalance) {
		t.Fatalf("err = %v, want ErrOutOfBalance", err)
	}
	var oob *OutOfBalanceError
	if !errors.As(err, &oob) || !oob.Net.Equal(amount("20")) {
		t.Fatalf("err = %v, want resulting net 20", err)
	}
	if _, ok := repo.transactions[rentLine.ID]; !ok {
		t.Fatal("rejected edit must not release the removed line")
	}
	if got := repo.balance(1); !got.Equal(amount("20")) {
		t.Fatalf("cash = %s, want 20 untouched", got)
	}
	if got := repo.balance(2); !got.Equal(amount("-20")) {
		t.Fatalf("rent = %s, want -20 untouched", got)
	}
}

func TestSaveEntryReconciledLineLocked(t *testing.T) {
	repo := newFakeEntriesRepo()
	svc := NewService(repo, nil)
	entry := seedJournal(t, svc, repo)

	transactions, _ := repo.ListEntryTransactions(context.Background(), ledger.EntryJournal, entry.ID)
	locked := transactions[0]
	locked.Reconciled = true
	repo.transactions[locked.ID] = locked

	other := transactions[1]
	_, err := svc.SaveEntry(context.Background(), SaveEntryInput{
		EntryID: entry.ID,
		Kind:    ledger.EntryJournal,
		Date:    entry.Date,
		Lines: []LineInput{
			{TransactionID: locked.ID, AccountID: locked.AccountID, Delta: amount("99")},
			{TransactionID: other.ID, AccountID: other.AccountID, Delta: amount("-99")},
		},
	})
	if !errors.Is(err, ledger.ErrReconciledTransactionLocked) {
		t.Fatalf("err = %v, want ErrReconciledTransactionLocked", err)
	}

	// Detail-only edits leave the amount alone and stay legal.
	_, err = svc.SaveEntry(context.Background(), SaveEntryInput{
		EntryID: entry.ID,
		Kind:    ledger.EntryJournal,
		Date:    entry.Date,
		Lines: []LineInput{
			{TransactionID: locked.ID, AccountID: locked.AccountID, Detail: "updated", Delta: locked.Delta},
			{TransactionID: other.ID, AccountID: other.AccountID, Delta: other.Delta},
		},
	})
	if err != nil {
		t.Fatalf("detail edit: %v", err)
	}
}

func saveSpending(t *testing.T, svc *Service, repo *fakeEntriesRepo) Entry {
	t.Helper()
	repo.addAccount(chart.Account{ID: 1, Name: "Checking", Type: chart.TypeAsset, Bank: true})
	repo.addAccount(chart.Account{ID: 2, Name: "Supplies", Type: chart.TypeExpense})
	repo.addAccount(chart.Account{ID: 3, Name: "Postage", Type: chart.TypeExpense})
	entry, err := svc.SaveBankEntry(context.Background(), SaveBankEntryInput{
		Kind:        ledger.EntryBankSpending,
		Date:        date(2012, time.March, 5),
		Memo:        "office supplies",
		AccountID:   1,
		Amount:      amount("20"),
		CheckNumber: "1021",
		Payee:       "Hardware Store",
		Lines: []LineInput{
			{AccountID: 2, Delta: amount("-12")},
			{AccountID: 3, Delta: amount("-8")},
		},
	})
	if err != nil {
		t.Fatalf("save spending: %v", err)
	}
	return entry
}

func TestSaveBankEntryMaintainsMainTransaction(t *testing.T) {
	repo := newFakeEntriesRepo()
	svc := NewService(repo, nil)
	entry := saveSpending(t, svc, repo)

	if entry.Bank == nil || entry.Bank.MainTransactionID == 0 {
		t.Fatal("main transaction must be recorded on the entry")
	}
	main := repo.transactions[entry.Bank.MainTransactionID]
	if !main.Main || main.AccountID != 1 || !main.Delta.Equal(amount("20")) {
		t.Fatalf("main = %+v, want main credit 20 on checking", main)
	}
	if got := repo.balance(1); !got.Equal(amount("20")) {
		t.Fatalf("checking = %s, want stored 20", got)
	}
	if got := repo.balance(2).Add(repo.balance(3)); !got.Equal(amount("-20")) {
		t.Fatalf("expenses = %s, want -20", got)
	}
}

func TestSaveBankEntryRequiresBankAccount(t *testing.T) {
	repo := newFakeEntriesRepo()
	repo.addAccount(chart.Account{ID: 1, Name: "Petty Cash", Type: chart.TypeAsset})
	repo.addAccount(chart.Account{ID: 2, Name: "Supplies", Type: chart.TypeExpense})
	svc := NewService(repo, nil)
	_, err := svc.SaveBankEntry(context.Background(), SaveBankEntryInput{
		Kind:        ledger.EntryBankSpending,
		Date:        date(2012, time.March, 5),
		AccountID:   1,
		Amount:      amount("20"),
		CheckNumber: "1021",
		Lines:       []LineInput{{AccountID: 2, Delta: amount("-20")}},
	})
	if !errors.Is(err, ErrNotBankAccount) {
		t.Fatalf("err = %v, want ErrNotBankAccount", err)
	}
}

func TestSaveBankEntryEditRejectsUnbalancedSubs(t *testing.T) {
	repo := newFakeEntriesRepo()
	svc := NewService(repo, nil)
	entry := saveSpending(t, svc, repo)

	transactions, _ := repo.ListEntryTransactions(context.Background(), ledger.EntryBankSpending, entry.ID)
	var supplies ledger.Transaction
	for _, txn := range transactions {
		if txn.AccountID == 2 {
			supplies = txn
		}
	}

	// Dropping a sub-line with no replacement leaves the subs short of the
	// entry amount.
	_, err := svc.SaveBankEntry(context.Background(), SaveBankEntryInput{
		EntryID:     entry.ID,
		Kind:        ledger.EntryBankSpending,
		Date:        entry.Date,
		Memo:        entry.Memo,
		AccountID:   1,
		Amount:      amount("20"),
		CheckNumber: "1021",
		Lines:       []LineInput{{TransactionID: supplies.ID, Remove: true}},
	})
	if !errors.Is(err, ErrOutOfBalance) {
		t.Fatalf("err = %v, want ErrOutOfBalance", err)
	}
	if _, ok := repo.transactions[supplies.ID]; !ok {
		t.Fatal("rejected edit must not release the sub-transaction")
	}
	if got := repo.balance(2); !got.Equal(amount("-12")) {
		t.Fatalf("supplies = %s, want -12 untouched", got)
	}
}

func TestVoidBankEntry(t *testing.T) {
	repo := newFakeEntriesRepo()
	svc := NewService(repo, nil)
	entry := saveSpending(t, svc, repo)

	voided, err := svc.SaveBankEntry(context.Background(), SaveBankEntryInput{
		EntryID:     entry.ID,
		Kind:        ledger.EntryBankSpending,
		Date:        entry.Date,
		Memo:        entry.Memo,
		AccountID:   1,
		Amount:      entry.Bank.Amount,
		CheckNumber: "1021",
		Void:        true,
	})
	if err != nil {
		t.Fatalf("void: %v", err)
	}
	if !voided.IsVoid() {
		t.Fatal("entry must be void")
	}
	if got := voided.Memo; got != "office supplies VOID" {
		t.Fatalf("memo = %q, want VOID tag", got)
	}

	// Every balance reads as if the entry never happened.
	for id := int64(1); id <= 3; id++ {
		if got := repo.balance(id); !got.IsZero() {
			t.Fatalf("account %d = %s, want 0 after void", id, got)
		}
	}
	transactions, _ := repo.ListEntryTransactions(context.Background(), ledger.EntryBankSpending, entry.ID)
	if len(transactions) != 1 || !transactions[0].Main {
		t.Fatalf("void entry must keep only its main transaction, got %d", len(transactions))
	}
	if !transactions[0].Delta.IsZero() {
		t.Fatalf("main delta = %s, want 0", transactions[0].Delta)
	}

	// A void entry refuses further edits.
	_, err = svc.SaveBankEntry(context.Background(), SaveBankEntryInput{
		EntryID:     entry.ID,
		Kind:        ledger.EntryBankSpending,
		Date:        entry.Date,
		AccountID:   1,
		Amount:      amount("20"),
		CheckNumber: "1021",
		Lines:       []LineInput{{AccountID: 2, Delta: amount("-20")}},
	})
	if !errors.Is(err, ErrEntryVoid) {
		t.Fatalf("err = %v, want ErrEntryVoid", err)
	}
}

func TestDeleteEntryReleasesEverything(t *testing.T) {
	repo := newFakeEntriesRepo()
	svc := NewService(repo, nil)
	entry := saveSpending(t, svc, repo)

	if err := svc.DeleteEntry(context.Background(), ledger.EntryBankSpending, entry.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for id := int64(1); id <= 3; id++ {
		if got := repo.balance(id); !got.IsZero() {
			t.Fatalf("account %d = %s, want 0 after delete", id, got)
		}
	}
	if len(repo.transactions) != 0 {
		t.Fatalf("transactions = %d, want 0", len(repo.transactions))
	}
	if _, _, err := svc.GetEntry(context.Background(), ledger.EntryBankSpending, entry.ID); err == nil {
		t.Fatal("entry must be gone")
	}
}

func TestDeleteEntryWithReconciledTransactionLocked(t *testing.T) {
	repo := newFakeEntriesRepo()
	svc := NewService(repo, nil)
	entry := saveSpending(t, svc, repo)

	main := repo.transactions[entry.Bank.MainTransactionID]
	main.Reconciled = true
	repo.transactions[main.ID] = main

	err := svc.DeleteEntry(context.Background(), ledger.EntryBankSpending, entry.ID)
	if !errors.Is(err, ledger.ErrReconciledTransactionLocked) {
		t.Fatalf("err = %v, want ErrReconciledTransactionLocked", err)
	}
}

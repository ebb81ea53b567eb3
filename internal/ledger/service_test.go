package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/coopbooks/coopbooks/internal/chart"
)

func TestCurrentBalanceFlipsByType(t *testing.T) {
	repo := newFakeLedgerRepo()
	repo.addAccount(chart.Account{ID: 1, Name: "Rent", Type: chart.TypeExpense, Balance: amount("-20")})
	repo.addAccount(chart.Account{ID: 2, Name: "Loan", Type: chart.TypeLiability, Balance: amount("-20")})
	svc := NewService(repo, nil)
	ctx := context.Background()

	// A -20 stored expense balance reads as a positive 20 spent.
	got, err := svc.CurrentBalance(ctx, 1)
	if err != nil {
		t.Fatalf("expense balance: %v", err)
	}
	if !got.Equal(amount("20")) {
		t.Fatalf("expense = %s, want 20", got)
	}

	// Liability balances pass through unflipped.
	got, err = svc.CurrentBalance(ctx, 2)
	if err != nil {
		t.Fatalf("liability balance: %v", err)
	}
	if !got.Equal(amount("-20")) {
		t.Fatalf("liability = %s, want -20", got)
	}
}

func TestCurrentBalanceDerivesCurrentYearEarnings(t *testing.T) {
	repo := newFakeLedgerRepo()
	repo.addAccount(chart.Account{ID: 1, Name: chart.CurrentYearEarnings, Type: chart.TypeEquity})
	repo.addAccount(chart.Account{ID: 2, Name: "Sales", Type: chart.TypeIncome, Balance: amount("500")})
	repo.addAccount(chart.Account{ID: 3, Name: "Rent", Type: chart.TypeExpense, Balance: amount("-120")})
	repo.addAccount(chart.Account{ID: 4, Name: "Cash", Type: chart.TypeAsset, Balance: amount("-380")})
	svc := NewService(repo, nil)

	got, err := svc.CurrentBalance(context.Background(), 1)
	if err != nil {
		t.Fatalf("cye balance: %v", err)
	}
	if !got.Equal(amount("380")) {
		t.Fatalf("cye = %s, want 380 (asset balances excluded)", got)
	}
}

func TestBalanceAsOfPeelsNewerDeltas(t *testing.T) {
	repo := newFakeLedgerRepo()
	// Stored balance includes purged history no surviving transaction covers.
	repo.addAccount(chart.Account{ID: 1, Name: "Loan", Type: chart.TypeLiability, Balance: amount("100")})
	repo.addTransaction(Transaction{AccountID: 1, Delta: amount("30"), Date: date(2012, time.March, 10)})
	repo.addTransaction(Transaction{AccountID: 1, Delta: amount("10"), Date: date(2012, time.April, 2)})
	svc := NewService(repo, nil)

	got, err := svc.BalanceAsOf(context.Background(), 1, date(2012, time.March, 31))
	if err != nil {
		t.Fatalf("balance as of: %v", err)
	}
	if !got.Equal(amount("90")) {
		t.Fatalf("balance = %s, want 90 (100 minus the april delta)", got)
	}
}

func TestBalanceAsOfCurrentYearEarnings(t *testing.T) {
	repo := newFakeLedgerRepo()
	repo.addAccount(chart.Account{ID: 1, Name: chart.CurrentYearEarnings, Type: chart.TypeEquity})
	repo.addAccount(chart.Account{ID: 2, Name: "Sales", Type: chart.TypeIncome})
	repo.addTransaction(Transaction{AccountID: 2, Delta: amount("200"), Date: date(2012, time.March, 5)})
	repo.addTransaction(Transaction{AccountID: 2, Delta: amount("75"), Date: date(2012, time.May, 5)})
	svc := NewService(repo, nil)

	got, err := svc.BalanceAsOf(context.Background(), 1, date(2012, time.April, 30))
	if err != nil {
		t.Fatalf("balance as of: %v", err)
	}
	if !got.Equal(amount("200")) {
		t.Fatalf("cye as of april = %s, want 200", got)
	}
}

func TestChangeForMonth(t *testing.T) {
	repo := newFakeLedgerRepo()
	repo.addAccount(chart.Account{ID: 1, Name: "Rent", Type: chart.TypeExpense})
	repo.addTransaction(Transaction{AccountID: 1, Delta: amount("-40"), Date: date(2012, time.March, 1)})
	repo.addTransaction(Transaction{AccountID: 1, Delta: amount("-10"), Date: date(2012, time.March, 31)})
	repo.addTransaction(Transaction{AccountID: 1, Delta: amount("-99"), Date: date(2012, time.April, 1)})
	svc := NewService(repo, nil)

	got, err := svc.ChangeForMonth(context.Background(), 1, date(2012, time.March, 15))
	if err != nil {
		t.Fatalf("change for month: %v", err)
	}
	if !got.Equal(amount("50")) {
		t.Fatalf("march change = %s, want value 50", got)
	}
}

func TestStatementRunningBalances(t *testing.T) {
	repo := newFakeLedgerRepo()
	repo.addAccount(chart.Account{ID: 1, Name: "Checking", Type: chart.TypeAsset, Bank: true, Balance: amount("-100")})
	repo.addTransaction(Transaction{AccountID: 1, Delta: amount("-60"), Date: date(2012, time.February, 10)})
	repo.addTransaction(Transaction{AccountID: 1, Delta: amount("-30"), Date: date(2012, time.March, 5)})
	repo.addTransaction(Transaction{AccountID: 1, Delta: amount("-10"), Date: date(2012, time.March, 20)})
	svc := NewService(repo, nil)

	lines, err := svc.Statement(context.Background(), 1, date(2012, time.March, 1), date(2012, time.March, 31))
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	// Asset running balances are shown in value convention.
	if !lines[0].RunningBalance.Equal(amount("90")) {
		t.Fatalf("first running = %s, want 90", lines[0].RunningBalance)
	}
	if !lines[1].RunningBalance.Equal(amount("100")) {
		t.Fatalf("second running = %s, want 100", lines[1].RunningBalance)
	}
}

func TestCheckBalanceInvariant(t *testing.T) {
	repo := newFakeLedgerRepo()
	repo.addAccount(chart.Account{ID: 1, Name: "Cash", Type: chart.TypeAsset, Balance: amount("-70")})
	repo.addTransaction(Transaction{AccountID: 1, Delta: amount("-70"), Date: date(2012, time.March, 1)})
	svc := NewService(repo, nil)

	ok, stored, summed, err := svc.CheckBalanceInvariant(context.Background(), 1)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !ok {
		t.Fatalf("invariant should hold: stored %s summed %s", stored, summed)
	}

	repo.addTransaction(Transaction{AccountID: 1, Delta: amount("-5"), Date: date(2012, time.March, 2)})
	ok, _, _, err = svc.CheckBalanceInvariant(context.Background(), 1)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if ok {
		t.Fatal("invariant should be broken by the unapplied transaction")
	}
}

func TestClearReconciled(t *testing.T) {
	repo := newFakeLedgerRepo()
	repo.addAccount(chart.Account{ID: 1, Name: "Checking", Type: chart.TypeAsset, Bank: true})
	txn := repo.addTransaction(Transaction{AccountID: 1, Delta: amount("-10"), Date: date(2012, time.March, 1), Reconciled: true})
	svc := NewService(repo, nil)

	if err := svc.ClearReconciled(context.Background(), txn.ID); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if repo.transactions[txn.ID].Reconciled {
		t.Fatal("transaction should be unlocked")
	}
}

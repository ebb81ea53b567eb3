package entries

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coopbooks/coopbooks/internal/ledger"
)

// Entry is a dated, named group of transactions that must net to zero.
// Kind tags the variant; Bank carries the payload for the bank variants and
// is nil otherwise.
type Entry struct {
	ID        int64
	Kind      ledger.EntryKind
	Date      time.Time
	Memo      string
	Comments  string
	Bank      *BankDetails
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BankDetails is the payload owned by BankSpending and BankReceiving
// entries. The main transaction posts the statement-facing amount against
// the bank account.
type BankDetails struct {
	AccountID         int64
	Amount            decimal.Decimal
	CheckNumber       string
	ACHPayment        bool
	Payee             string
	Payor             string
	Void              bool
	MainTransactionID int64
}

// Number renders the entry's journal number.
func (e Entry) Number() string {
	switch e.Kind {
	case ledger.EntryBankSpending:
		if e.Bank != nil && e.Bank.ACHPayment {
			return "##ACH##"
		}
		if e.Bank != nil && e.Bank.CheckNumber != "" {
			return "CD#" + e.Bank.CheckNumber
		}
		return fmt.Sprintf("CD#%06d", e.ID)
	case ledger.EntryBankReceiving:
		return fmt.Sprintf("CR#%06d", e.ID)
	default:
		return fmt.Sprintf("GJ#%06d", e.ID)
	}
}

// IsVoid reports whether the entry has been voided.
func (e Entry) IsVoid() bool {
	return e.Bank != nil && e.Bank.Void
}

const voidTag = "VOID"

func tagVoid(memo string) string {
	if strings.Contains(memo, voidTag) {
		return memo
	}
	return memo + " " + voidTag
}

var (
	// ErrEntryNotFound indicates a missing entry.
	ErrEntryNotFound = errors.New("entries: entry not found")
	// ErrEmptyEntry indicates an entry with no surviving transactions.
	ErrEmptyEntry = errors.New("entries: entry has no transactions")
	// ErrOutOfBalance indicates transactions that do not net to the target.
	ErrOutOfBalance = errors.New("entries: transactions do not balance")
	// ErrNotBankAccount indicates a bank entry against a non-bank account.
	ErrNotBankAccount = errors.New("entries: main transaction requires a bank account")
	// ErrEntryVoid indicates new transactions proposed for a void entry.
	ErrEntryVoid = errors.New("entries: may not add transactions to a void entry")
	// ErrCheckOrACH indicates neither or both of check number and ACH set.
	ErrCheckOrACH = errors.New("entries: either a check number or ACH status is required")
	// ErrForeignTransaction indicates a line referencing a transaction owned
	// by another entry.
	ErrForeignTransaction = errors.New("entries: transaction belongs to another entry")
)

// OutOfBalanceError carries the totals that failed validation so the caller
// can re-present the candidate set.
type OutOfBalanceError struct {
	Debits  decimal.Decimal
	Credits decimal.Decimal
	Net     decimal.Decimal
	Target  decimal.Decimal
}

func (e *OutOfBalanceError) Error() string {
	return fmt.Sprintf("entries: transactions net to %s, want %s (debits %s, credits %s)",
		e.Net.StringFixed(2), e.Target.StringFixed(2), e.Debits.StringFixed(2), e.Credits.StringFixed(2))
}

// Unwrap lets errors.Is match the sentinel.
func (e *OutOfBalanceError) Unwrap() error {
	return ErrOutOfBalance
}

// LineInput proposes one transaction for an entry. A zero TransactionID
// means a new transaction; Remove releases an existing one.
type LineInput struct {
	TransactionID int64
	AccountID     int64
	Detail        string
	Delta         decimal.Decimal
	Remove        bool
}

// SaveEntryInput groups fields for creating or editing a journal or
// transfer entry.
type SaveEntryInput struct {
	EntryID  int64
	Kind     ledger.EntryKind
	Date     time.Time
	Memo     string
	Comments string
	Lines    []LineInput
}

// Validate checks the kind and date. The balancing invariant depends on the
// entry's existing transactions, so the service checks it against the
// resulting entry state inside the save transaction.
func (in SaveEntryInput) Validate() error {
	if in.Kind != ledger.EntryJournal && in.Kind != ledger.EntryTransfer {
		return fmt.Errorf("entries: kind %q is not a journal variant", in.Kind)
	}
	if in.Date.IsZero() {
		return errors.New("entries: date required")
	}
	return nil
}

// SaveBankEntryInput groups fields for creating or editing a bank spending
// or receiving entry. Amount is signed so spending entries carry a positive
// cash outflow and receiving entries a negative one.
type SaveBankEntryInput struct {
	EntryID     int64
	Kind        ledger.EntryKind
	Date        time.Time
	Memo        string
	Comments    string
	AccountID   int64
	Amount      decimal.Decimal
	CheckNumber string
	ACHPayment  bool
	Payee       string
	Payor       string
	Void        bool
	Lines       []LineInput
}

// Validate checks kind, sign and payload rules. As with SaveEntryInput, the
// balancing invariant is checked against the resulting entry state inside
// the save transaction.
func (in SaveBankEntryInput) Validate() error {
	switch in.Kind {
	case ledger.EntryBankSpending:
		if !in.Void && !in.Amount.IsPositive() {
			return errors.New("entries: spending amount must be positive")
		}
		if in.ACHPayment == (in.CheckNumber != "") {
			return ErrCheckOrACH
		}
	case ledger.EntryBankReceiving:
		if !in.Amount.IsNegative() {
			return errors.New("entries: receiving amount must be negative")
		}
		if in.Payor == "" {
			return errors.New("entries: payor required")
		}
	default:
		return fmt.Errorf("entries: kind %q is not a bank variant", in.Kind)
	}
	if in.Date.IsZero() {
		return errors.New("entries: date required")
	}
	if in.AccountID == 0 {
		return errors.New("entries: bank account required")
	}
	return nil
}

// ValidateLines enforces the journal invariant: at least one surviving
// transaction and a zero net.
func ValidateLines(lines []LineInput) error {
	return validate(decimal.Zero, lines)
}

// ValidateBankLines enforces the bank invariant: the surviving
// sub-transactions must net to the negated entry amount so the whole entry,
// main transaction included, nets to zero.
func ValidateBankLines(amount decimal.Decimal, lines []LineInput) error {
	return validate(amount.Neg(), lines)
}

func validate(target decimal.Decimal, lines []LineInput) error {
	survivors := 0
	debits, credits := decimal.Zero, decimal.Zero
	for _, line := range lines {
		if line.Remove {
			continue
		}
		survivors++
		if line.Delta.IsNegative() {
			debits = debits.Add(line.Delta)
		} else {
			credits = credits.Add(line.Delta)
		}
	}
	if survivors == 0 {
		return ErrEmptyEntry
	}
	net := credits.Add(debits)
	if !net.Equal(target) {
		return &OutOfBalanceError{Debits: debits, Credits: credits, Net: net, Target: target}
	}
	return nil
}

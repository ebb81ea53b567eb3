package chart

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType enumerates chart-of-accounts categories. The numeric codes
// lead every full account number.
type AccountType int16

const (
	TypeAsset AccountType = iota + 1
	TypeLiability
	TypeEquity
	TypeIncome
	TypeCostOfSales
	TypeExpense
	TypeOtherIncome
	TypeOtherExpense
)

var typeNames = map[AccountType]string{
	TypeAsset:        "Asset",
	TypeLiability:    "Liability",
	TypeEquity:       "Equity",
	TypeIncome:       "Income",
	TypeCostOfSales:  "Cost of Sales",
	TypeExpense:      "Expense",
	TypeOtherIncome:  "Other Income",
	TypeOtherExpense: "Other Expense",
}

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

func (t AccountType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// FlipBalance reports whether the stored credit/debit balance must be
// negated to produce the value balance shown to users. Debits increase the
// value of Asset, Cost of Sales, Expense and Other Expense accounts.
func (t AccountType) FlipBalance() bool {
	switch t {
	case TypeAsset, TypeExpense, TypeCostOfSales, TypeOtherExpense:
		return true
	default:
		return false
	}
}

// IsEarnings reports whether t contributes to Current Year Earnings.
func (t AccountType) IsEarnings() bool {
	switch t {
	case TypeIncome, TypeCostOfSales, TypeExpense, TypeOtherIncome, TypeOtherExpense:
		return true
	default:
		return false
	}
}

// EarningsTypes lists the income-statement types in code order.
func EarningsTypes() []AccountType {
	return []AccountType{TypeIncome, TypeCostOfSales, TypeExpense, TypeOtherIncome, TypeOtherExpense}
}

// CurrentYearEarnings is the derived equity account whose balance is always
// computed from the earnings-type accounts rather than stored.
const CurrentYearEarnings = "Current Year Earnings"

// RetainedEarnings receives the closed period's earnings at fiscal year end.
const RetainedEarnings = "Retained Earnings"

// Header is a non-leaf node grouping accounts in the chart of accounts.
type Header struct {
	ID          int64
	Name        string
	Type        AccountType
	ParentID    *int64
	Description string
	Active      bool
	FullNumber  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Account is a leaf node holding a credit/debit balance.
type Account struct {
	ID                int64
	Name              string
	Type              AccountType
	ParentID          int64
	Description       string
	Balance           decimal.Decimal
	ReconciledBalance decimal.Decimal
	LastReconciled    *time.Time
	Bank              bool
	Active            bool
	FullNumber        string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ValueBalance converts a stored credit/debit amount to the value amount
// displayed for the given type. Pure read-side transform.
func ValueBalance(t AccountType, creditDebit decimal.Decimal) decimal.Decimal {
	if t.FlipBalance() {
		return creditDebit.Neg()
	}
	return creditDebit
}

var (
	// ErrHeaderNotFound indicates a missing header node.
	ErrHeaderNotFound = errors.New("chart: header not found")
	// ErrAccountNotFound indicates a missing account node.
	ErrAccountNotFound = errors.New("chart: account not found")
	// ErrNameTaken indicates a duplicate header or account name.
	ErrNameTaken = errors.New("chart: name already in use")
	// ErrRootTypeRequired indicates a root header without an explicit type.
	ErrRootTypeRequired = errors.New("chart: root headers must declare a type")
	// ErrTypeNotInheritable indicates an explicit type on a non-root header.
	ErrTypeNotInheritable = errors.New("chart: type is inherited from the parent header")
	// ErrHeaderNotEmpty indicates a delete on a header that still has children.
	ErrHeaderNotEmpty = errors.New("chart: header still has child headers or accounts")
	// ErrAccountInUse indicates a delete on an account with transactions.
	ErrAccountInUse = errors.New("chart: account has transactions")
	// ErrParentCycle indicates a re-parent that would create a cycle.
	ErrParentCycle = errors.New("chart: header cannot be moved under its own subtree")
)

// CreateHeaderInput groups fields for creating a header node.
type CreateHeaderInput struct {
	Name        string
	Type        AccountType
	ParentID    *int64
	Description string
}

// Validate ensures header input meets the type-inheritance contract.
func (in CreateHeaderInput) Validate() error {
	if in.Name == "" {
		return errors.New("chart: header name required")
	}
	if in.ParentID == nil {
		if !in.Type.Valid() {
			return ErrRootTypeRequired
		}
		return nil
	}
	if in.Type != 0 {
		return ErrTypeNotInheritable
	}
	return nil
}

// CreateAccountInput groups fields for creating an account node.
type CreateAccountInput struct {
	Name        string
	ParentID    int64
	Description string
	Bank        bool
}

// Validate ensures account input is minimally complete.
func (in CreateAccountInput) Validate() error {
	if in.Name == "" {
		return errors.New("chart: account name required")
	}
	if in.ParentID == 0 {
		return errors.New("chart: account requires a parent header")
	}
	return nil
}

package models

import "github.com/shopspring/decimal"

// AccountTransactions pairs an account with its transactions for one run.
// Report slots follow slice order.
type AccountTransactions struct {
	Account      Account
	Transactions []Transaction
}

// Report is the input of the XML form. Totals are derived on demand.
type Report struct {
	Guardian       Guardian
	PeriodStart    string
	PeriodEnd      string
	Accounts       []AccountTransactions
	OpeningBalance decimal.Decimal
}

// Totals holds the derived sums of a report across all accounts.
type Totals struct {
	Income  decimal.Decimal
	Expense decimal.Decimal
	Closing decimal.Decimal
}

// Totals sums income and expense over every account. The closing balance is
// opening + income - expense.
func (r Report) Totals() Totals {
	income, expense := decimal.Zero, decimal.Zero
	for _, at := range r.Accounts {
		for _, t := range at.Transactions {
			switch t.Type {
			case Income:
				income = income.Add(t.Amount)
			case Expense:
				expense = expense.Add(t.Amount)
			}
		}
	}
	return Totals{
		Income:  income,
		Expense: expense,
		Closing: r.OpeningBalance.Add(income).Sub(expense),
	}
}

// AllTransactions flattens the per-account lists in slot order.
func (r Report) AllTransactions() []Transaction {
	var all []Transaction
	for _, at := range r.Accounts {
		all = append(all, at.Transactions...)
	}
	return all
}

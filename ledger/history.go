package ledger

import (
	"sort"
	"time"

	"github.com/splitpot/splitpot/money"
)

// History item types
const (
	ItemTypeExpense    = "expense"
	ItemTypeSettlement = "settlement"
)

// HistorySplit is one member's share of an expense as shown in the history
// feed
type HistorySplit struct {
	UserID    int         `json:"user_id"`
	Owed      money.Money `json:"owed"`
	Paid      money.Money `json:"paid"`
	Remaining money.Money `json:"remaining"`
}

// HistoryItem is a single entry of the merged group activity feed. It
// covers both expenses and settlements, discriminated by Type, so the
// client decodes one shape.
type HistoryItem struct {
	ID          int            `json:"id"`
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	Amount      money.Money    `json:"amount"`
	Date        *time.Time     `json:"date"`
	PaidBy      int            `json:"paid_by"`
	PaidTo      *int           `json:"paid_to,omitempty"`
	GroupID     int            `json:"group_id"`
	Splits      []HistorySplit `json:"splits,omitempty"`
}

// MergeHistory merges a group's expenses and settlements into one feed,
// most recent first. Entries without a date sort after all dated entries,
// in insertion order descending. No business logic beyond sorting; this is
// purely a read projection.
func MergeHistory(expenses []Expense, settlements []Settlement) []HistoryItem {
	items := make([]HistoryItem, 0, len(expenses)+len(settlements))

	for _, expense := range expenses {
		splits := make([]HistorySplit, len(expense.Splits))
		for i, split := range expense.Splits {
			splits[i] = HistorySplit{
				UserID:    split.UserID,
				Owed:      split.Owed,
				Paid:      split.Paid,
				Remaining: split.Remaining(),
			}
		}

		date := expense.CreatedAt
		items = append(items, HistoryItem{
			ID:          expense.ExpenseID,
			Type:        ItemTypeExpense,
			Description: expense.Description,
			Amount:      expense.Amount,
			Date:        &date,
			PaidBy:      expense.PayerID,
			GroupID:     expense.GroupID,
			Splits:      splits,
		})
	}

	for _, settlement := range settlements {
		payee := settlement.PayeeID
		items = append(items, HistoryItem{
			ID:      settlement.SettlementID,
			Type:    ItemTypeSettlement,
			Amount:  settlement.Amount,
			Date:    settlement.CreatedAt,
			PaidBy:  settlement.PayerID,
			PaidTo:  &payee,
			GroupID: settlement.GroupID,
		})
	}

	sort.SliceStable(items, func(a, b int) bool {
		x, y := items[a], items[b]
		switch {
		case x.Date == nil && y.Date == nil:
			return x.ID > y.ID
		case x.Date == nil:
			return false // Undated entries go last
		case y.Date == nil:
			return true
		case x.Date.Equal(*y.Date):
			return x.ID > y.ID
		default:
			return x.Date.After(*y.Date)
		}
	})

	return items
}

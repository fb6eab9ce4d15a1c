package ledger

import (
	"time"

	"github.com/splitpot/splitpot/money"
)

// Expense is a single expense paid for by one group member and shared among
// a set of members according to a split policy. Expenses are immutable once
// recorded; they can only be appended or removed wholesale.
type Expense struct {
	ExpenseID   int         // Id of the expense
	GroupID     int         // Group the expense belongs to
	PayerID     int         // User id who paid for the expense
	Amount      money.Money // Amount the payer paid for
	Description string      // Description, set by the payer
	SplitType   SplitType   // Policy the shares were produced with
	Splits      []Split     // Per-member shares, summing exactly to Amount
	CreatedAt   time.Time   // The time the expense was incurred
}

// Split is one member's share of an expense. Paid is non-zero only for the
// payer's row, where it carries the full expense amount.
type Split struct {
	UserID int         `json:"user_id"`
	Owed   money.Money `json:"owed"`
	Paid   money.Money `json:"paid"`
}

// Remaining is what this member still owes for the expense. Negative means
// the group owes the member back.
func (s Split) Remaining() money.Money {
	return s.Owed - s.Paid
}

// Settlement is a direct payment between two members outside expense
// splitting, recorded to clear balances. Immutable once recorded. CreatedAt
// is nil for settlements recorded without a date.
type Settlement struct {
	SettlementID int
	GroupID      int
	PayerID      int // The member who paid
	PayeeID      int // The member who received the payment
	Amount       money.Money
	CreatedAt    *time.Time
}

// Balance is one member's signed net position in a group. Positive means
// the group owes the member, negative means the member owes the group.
type Balance struct {
	UserID  int         `json:"user_id"`
	Balance money.Money `json:"balance"`
}

// NewExpense validates the inputs, allocates the shares and assembles an
// Expense. The payer always ends up with a split row carrying the full paid
// amount, even when they owe no share themselves.
func NewExpense(groupID int, payerID int, amount money.Money, description string, splitType SplitType, memberIDs []int, shares []Share, createdAt time.Time) (Expense, error) {
	splits, err := Allocate(amount, splitType, memberIDs, shares)
	if err != nil {
		return Expense{}, err
	}

	paidRecorded := false
	for i := range splits {
		if splits[i].UserID == payerID {
			splits[i].Paid = amount
			paidRecorded = true
		}
	}
	if !paidRecorded {
		splits = append(splits, Split{UserID: payerID, Owed: 0, Paid: amount})
	}

	return Expense{
		GroupID:     groupID,
		PayerID:     payerID,
		Amount:      amount,
		Description: description,
		SplitType:   splitType,
		Splits:      splits,
		CreatedAt:   createdAt,
	}, nil
}

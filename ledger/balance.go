package ledger

import (
	"errors"
	"sort"

	"github.com/splitpot/splitpot/money"
)

// ErrConservation means the computed balances do not sum to zero. That can
// only happen when recorded events are corrupt, so it is an internal
// invariant breach, not a caller fault.
var ErrConservation = errors.New("balances do not sum to zero")

// ComputeBalances folds a group's expenses and settlements into a net
// balance per member. This is the heart of the application: balances are
// never stored, only derived from the event history, so they can never
// drift from their source events.
//
// Every current member appears in the result, as does anyone referenced by
// an expense or settlement, members who have since left included. For each
// expense the payer is credited the full amount and every split member is
// debited their owed share. For each settlement the payer is credited and
// the payee debited.
//
// The result is sorted by user id, so repeated calls over the same events
// return identical slices. The sum over all balances is checked to be
// exactly zero and ErrConservation is returned if it is not.
func ComputeBalances(expenses []Expense, settlements []Settlement, memberIDs []int) ([]Balance, error) {
	balances := make(map[int]money.Money)
	for _, id := range memberIDs {
		balances[id] = 0
	}

	for _, expense := range expenses {
		balances[expense.PayerID] += expense.Amount
		for _, split := range expense.Splits {
			balances[split.UserID] -= split.Owed
		}
	}

	for _, settlement := range settlements {
		balances[settlement.PayerID] += settlement.Amount
		balances[settlement.PayeeID] -= settlement.Amount
	}

	var sum money.Money
	result := make([]Balance, 0, len(balances))
	for userID, balance := range balances {
		sum += balance
		result = append(result, Balance{UserID: userID, Balance: balance})
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].UserID < result[b].UserID
	})

	if sum != 0 {
		return nil, ErrConservation
	}
	return result, nil
}

// Transfer is a suggested payment that helps clear the group's balances
type Transfer struct {
	FromUserID int         `json:"from_user_id"` // The member who should pay
	ToUserID   int         `json:"to_user_id"`   // The member who should receive
	Amount     money.Money `json:"amount"`
}

// SuggestSettlements turns a set of net balances into a short list of
// member-to-member payments that would bring everyone to zero. Debtors and
// creditors are matched greedily in user id order; because balances
// conserve to zero the two sides always exhaust together. Integer cents
// throughout, so no float-noise threshold is needed.
func SuggestSettlements(balances []Balance) []Transfer {
	var debtors, creditors []Balance
	for _, b := range balances {
		if b.Balance < 0 {
			debtors = append(debtors, b)
		} else if b.Balance > 0 {
			creditors = append(creditors, b)
		}
	}

	transfers := make([]Transfer, 0)
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		owes := -debtors[i].Balance
		owed := creditors[j].Balance

		amount := owes
		if owed < amount {
			amount = owed
		}

		transfers = append(transfers, Transfer{
			FromUserID: debtors[i].UserID,
			ToUserID:   creditors[j].UserID,
			Amount:     amount,
		})

		debtors[i].Balance += amount
		creditors[j].Balance -= amount
		if debtors[i].Balance == 0 {
			i++
		}
		if creditors[j].Balance == 0 {
			j++
		}
	}

	return transfers
}

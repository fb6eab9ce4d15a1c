package ledger

import (
	"errors"
	"math"
	"sort"

	"github.com/splitpot/splitpot/money"
)

// SplitType selects how an expense is divided among members
type SplitType string

const (
	SplitTypeEqual      SplitType = "equal"      // Everyone owes the same share
	SplitTypeUnequal    SplitType = "unequal"    // Explicit amount per member
	SplitTypePercentage SplitType = "percentage" // Explicit percentage per member
)

// Errors returned by Allocate. These are all caller faults and map to 4xx
// responses at the API boundary.
var (
	ErrEmptyMemberList   = errors.New("member list is empty")
	ErrNonPositiveAmount = errors.New("amount must be positive")
	ErrSplitMismatch     = errors.New("splits do not add up to the expense amount")
	ErrUnknownMember     = errors.New("split references a member not in the member list")
	ErrDuplicateMember   = errors.New("duplicate member in split")
	ErrUnknownSplitType  = errors.New("unknown split type")
)

// Share is one caller-supplied entry of an unequal or percentage split.
// Amount is used by unequal splits, Percentage by percentage splits.
type Share struct {
	UserID     int
	Amount     money.Money
	Percentage float64
}

// Allocate divides amount among members according to splitType and returns
// per-member owed shares that sum to amount exactly, with no leftover or
// overage cent. For equal splits the shares come from memberIDs; unequal
// and percentage splits take their member set from shares, every entry of
// which must reference a member in memberIDs. Pure function, no side
// effects.
func Allocate(amount money.Money, splitType SplitType, memberIDs []int, shares []Share) ([]Split, error) {
	if len(memberIDs) == 0 {
		return nil, ErrEmptyMemberList
	}
	if amount <= 0 {
		return nil, ErrNonPositiveAmount
	}

	members := make(map[int]bool, len(memberIDs))
	for _, id := range memberIDs {
		if members[id] {
			return nil, ErrDuplicateMember
		}
		members[id] = true
	}

	switch splitType {
	case SplitTypeEqual:
		return allocateEqual(amount, memberIDs), nil
	case SplitTypeUnequal:
		return allocateUnequal(amount, members, shares)
	case SplitTypePercentage:
		return allocatePercentage(amount, members, shares)
	default:
		return nil, ErrUnknownSplitType
	}
}

// allocateEqual divides amount evenly in minor units. The remainder cents
// go one at a time to the first members in list order, so no two shares
// differ by more than one cent.
func allocateEqual(amount money.Money, memberIDs []int) []Split {
	n := int64(len(memberIDs))
	base := amount.Cents() / n
	remainder := amount.Cents() % n

	splits := make([]Split, len(memberIDs))
	for i, id := range memberIDs {
		share := base
		if int64(i) < remainder {
			share++
		}
		splits[i] = Split{UserID: id, Owed: money.FromCents(share)}
	}
	return splits
}

// allocateUnequal takes the caller's explicit amounts verbatim. The amounts
// must reconcile with the expense total exactly; there is no silent
// rounding.
func allocateUnequal(amount money.Money, members map[int]bool, shares []Share) ([]Split, error) {
	if len(shares) == 0 {
		return nil, ErrSplitMismatch
	}

	var total money.Money
	splits := make([]Split, len(shares))
	seen := make(map[int]bool, len(shares))
	for i, share := range shares {
		if !members[share.UserID] {
			return nil, ErrUnknownMember
		}
		if seen[share.UserID] {
			return nil, ErrDuplicateMember
		}
		seen[share.UserID] = true
		total += share.Amount
		splits[i] = Split{UserID: share.UserID, Owed: share.Amount}
	}

	if total != amount {
		return nil, ErrSplitMismatch
	}
	return splits, nil
}

// allocatePercentage converts percentages to basis points and requires them
// to sum to exactly 100.00%. Shares are floored to whole cents and the
// leftover cents are handed out largest remainder first, input order
// breaking ties, so the total is always exact.
func allocatePercentage(amount money.Money, members map[int]bool, shares []Share) ([]Split, error) {
	if len(shares) == 0 {
		return nil, ErrSplitMismatch
	}

	var totalBps int64
	bps := make([]int64, len(shares))
	seen := make(map[int]bool, len(shares))
	for i, share := range shares {
		if !members[share.UserID] {
			return nil, ErrUnknownMember
		}
		if seen[share.UserID] {
			return nil, ErrDuplicateMember
		}
		seen[share.UserID] = true

		if share.Percentage < 0 {
			return nil, ErrSplitMismatch
		}
		bps[i] = int64(math.Round(share.Percentage * 100))
		totalBps += bps[i]
	}

	if totalBps != 10000 {
		return nil, ErrSplitMismatch
	}

	// Floor every share, remember the scaled remainders
	splits := make([]Split, len(shares))
	remainders := make([]int64, len(shares))
	var allocated int64
	for i, share := range shares {
		exact := amount.Cents() * bps[i]
		floor := exact / 10000
		remainders[i] = exact % 10000
		allocated += floor
		splits[i] = Split{UserID: share.UserID, Owed: money.FromCents(floor)}
	}

	// Distribute the missing cents largest remainder first
	order := make([]int, len(shares))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]] > remainders[order[b]]
	})

	leftover := amount.Cents() - allocated
	for i := int64(0); i < leftover; i++ {
		splits[order[i]].Owed++
	}

	return splits, nil
}

package database

import (
	"sort"

	"github.com/splitpot/splitpot/ledger"
)

// userWithPassword is a database entry for a user
type userWithPassword struct {
	ID       int
	Email    string
	Password string
}

// membership is a group membership entry. The id preserves join order.
type membership struct {
	ID      int
	GroupID int
	UserID  int
}

// InMemoryDatabase implements the Database interface for an in memory
// database. It backs the tests; semantics mirror the postgres
// implementation. Ids are monotonic like SERIAL columns, so a deleted
// record's id is never handed out again.
type InMemoryDatabase struct {
	users            []userWithPassword
	groups           []Group
	memberships      []membership
	expenses         []ledger.Expense
	settlements      []ledger.Settlement
	nextGroupID      int
	nextMemberID     int
	nextExpenseID    int
	nextSettlementID int
}

// InMemoryHandle implements the Handle interface for an in memory database
type InMemoryHandle struct {
	db *InMemoryDatabase
}

// NewInMemoryDatabase creates an instance of InMemoryDatabase
func NewInMemoryDatabase() Database {
	db := new(InMemoryDatabase)
	db.users = make([]userWithPassword, 0)
	db.groups = make([]Group, 0)
	db.memberships = make([]membership, 0)
	db.expenses = make([]ledger.Expense, 0)
	db.settlements = make([]ledger.Settlement, 0)
	return db
}

// Connect creates a handle for the in memory database
func (d *InMemoryDatabase) Connect() Handle {
	return &InMemoryHandle{db: d}
}

// Close is a noop
func (h *InMemoryHandle) Close() {}

// CreateSchema is a noop
func (h *InMemoryHandle) CreateSchema() {}

// CreateUser adds a user
func (h *InMemoryHandle) CreateUser(email string, password string) (int, error) {
	for _, u := range h.db.users {
		if u.Email == email {
			return 0, ErrDuplicate
		}
	}

	userID := len(h.db.users) + 1
	h.db.users = append(h.db.users, userWithPassword{ID: userID, Email: email, Password: password})
	return userID, nil
}

// AuthenticateUser compares the stored password verbatim. Good enough for
// tests; the postgres implementation does bcrypt.
func (h *InMemoryHandle) AuthenticateUser(email string, password string) (int, error) {
	for _, u := range h.db.users {
		if u.Email == email {
			if u.Password != password {
				return 0, ErrPasswordMismatch
			}
			return u.ID, nil
		}
	}
	return 0, ErrNotFound
}

// GetUsers returns a list of all users, ordered by email
func (h *InMemoryHandle) GetUsers() []User {
	users := make([]User, 0)
	for _, u := range h.db.users {
		users = append(users, User{ID: u.ID, Email: u.Email})
	}
	sort.Slice(users, func(a, b int) bool {
		return users[a].Email < users[b].Email
	})
	return users
}

// CreateGroup creates a group with the creator as the first member
func (h *InMemoryHandle) CreateGroup(name string, createdBy int) (int, error) {
	h.db.nextGroupID++
	groupID := h.db.nextGroupID
	h.db.groups = append(h.db.groups, Group{ID: groupID, Name: name, CreatedBy: createdBy})
	h.addMember(groupID, createdBy)
	return groupID, nil
}

// GetGroup returns a single group by id
func (h *InMemoryHandle) GetGroup(groupID int) (Group, error) {
	for _, g := range h.db.groups {
		if g.ID == groupID {
			return g, nil
		}
	}
	return Group{}, ErrNotFound
}

// DeleteGroup deletes a group and cascades its memberships, expenses and
// settlements
func (h *InMemoryHandle) DeleteGroup(groupID int) error {
	found := false
	groups := h.db.groups[:0]
	for _, g := range h.db.groups {
		if g.ID == groupID {
			found = true
			continue
		}
		groups = append(groups, g)
	}
	if !found {
		return ErrNotFound
	}
	h.db.groups = groups

	memberships := h.db.memberships[:0]
	for _, m := range h.db.memberships {
		if m.GroupID != groupID {
			memberships = append(memberships, m)
		}
	}
	h.db.memberships = memberships

	expenses := h.db.expenses[:0]
	for _, e := range h.db.expenses {
		if e.GroupID != groupID {
			expenses = append(expenses, e)
		}
	}
	h.db.expenses = expenses

	settlements := h.db.settlements[:0]
	for _, s := range h.db.settlements {
		if s.GroupID != groupID {
			settlements = append(settlements, s)
		}
	}
	h.db.settlements = settlements

	return nil
}

func (h *InMemoryHandle) addMember(groupID int, userID int) {
	h.db.nextMemberID++
	h.db.memberships = append(h.db.memberships, membership{ID: h.db.nextMemberID, GroupID: groupID, UserID: userID})
}

// AddGroupMember adds a user to a group
func (h *InMemoryHandle) AddGroupMember(groupID int, userID int) error {
	if h.IsGroupMember(groupID, userID) {
		return ErrDuplicate
	}
	h.addMember(groupID, userID)
	return nil
}

// RemoveGroupMember removes a user from a group
func (h *InMemoryHandle) RemoveGroupMember(groupID int, userID int) error {
	for i, m := range h.db.memberships {
		if m.GroupID == groupID && m.UserID == userID {
			h.db.memberships = append(h.db.memberships[:i], h.db.memberships[i+1:]...)
			return nil
		}
	}
	return ErrNotAMember
}

// GetGroupMembers returns the current member ids of a group in join order
func (h *InMemoryHandle) GetGroupMembers(groupID int) []int {
	members := make([]int, 0)
	for _, m := range h.db.memberships {
		if m.GroupID == groupID {
			members = append(members, m.UserID)
		}
	}
	return members
}

// IsGroupMember checks if a user currently is a member of a group
func (h *InMemoryHandle) IsGroupMember(groupID int, userID int) bool {
	for _, m := range h.db.memberships {
		if m.GroupID == groupID && m.UserID == userID {
			return true
		}
	}
	return false
}

// CreateExpense records an expense with its splits
func (h *InMemoryHandle) CreateExpense(e ledger.Expense) (int, error) {
	h.db.nextExpenseID++
	e.ExpenseID = h.db.nextExpenseID
	h.db.expenses = append(h.db.expenses, e)
	return e.ExpenseID, nil
}

// DeleteExpense removes an expense wholesale
func (h *InMemoryHandle) DeleteExpense(groupID int, expenseID int) error {
	for i, e := range h.db.expenses {
		if e.ExpenseID == expenseID && e.GroupID == groupID {
			h.db.expenses = append(h.db.expenses[:i], h.db.expenses[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// GetExpenses returns a group's expenses in event order: created_at first,
// id as the tie break
func (h *InMemoryHandle) GetExpenses(groupID int) []ledger.Expense {
	expenses := make([]ledger.Expense, 0)
	for _, e := range h.db.expenses {
		if e.GroupID == groupID {
			expenses = append(expenses, e)
		}
	}
	sort.SliceStable(expenses, func(a, b int) bool {
		if expenses[a].CreatedAt.Equal(expenses[b].CreatedAt) {
			return expenses[a].ExpenseID < expenses[b].ExpenseID
		}
		return expenses[a].CreatedAt.Before(expenses[b].CreatedAt)
	})
	return expenses
}

// CreateSettlement records a settlement
func (h *InMemoryHandle) CreateSettlement(s ledger.Settlement) (int, error) {
	h.db.nextSettlementID++
	s.SettlementID = h.db.nextSettlementID
	h.db.settlements = append(h.db.settlements, s)
	return s.SettlementID, nil
}

// GetSettlements returns a group's settlements in event order, undated ones
// last
func (h *InMemoryHandle) GetSettlements(groupID int) []ledger.Settlement {
	settlements := make([]ledger.Settlement, 0)
	for _, s := range h.db.settlements {
		if s.GroupID == groupID {
			settlements = append(settlements, s)
		}
	}
	sort.SliceStable(settlements, func(a, b int) bool {
		x, y := settlements[a], settlements[b]
		switch {
		case x.CreatedAt == nil && y.CreatedAt == nil:
			return x.SettlementID < y.SettlementID
		case x.CreatedAt == nil:
			return false
		case y.CreatedAt == nil:
			return true
		case x.CreatedAt.Equal(*y.CreatedAt):
			return x.SettlementID < y.SettlementID
		default:
			return x.CreatedAt.Before(*y.CreatedAt)
		}
	})
	return settlements
}

package database

import (
	"errors"

	"github.com/splitpot/splitpot/ledger"
)

// ErrDuplicate is returned when a create request fails due to a duplicate entry
var ErrDuplicate = errors.New("duplicate")

// ErrNotFound is returned when an entry could not be found
var ErrNotFound = errors.New("not found")

// ErrPasswordMismatch is returned when authentication fails due to a bad password
var ErrPasswordMismatch = errors.New("password mismatch")

// ErrNotAMember is returned when an operation references a user who is not
// a member of the group
var ErrNotAMember = errors.New("not a group member")

// User represents a user present in the database
type User struct {
	ID    int
	Email string
}

// Group represents an expense-sharing group
type Group struct {
	ID        int
	Name      string
	CreatedBy int
}

// Database is an interface that does nothing more than return a database handle.
// It is used to configure different types of databases.
type Database interface {
	Connect() Handle
}

// Handle is an interface containing methods to manage a database handle and
// perform user, group, expense and settlement queries on it. Writes are
// append-or-reject: an operation either lands completely or not at all.
// Infrastructure failures panic; domain failures are returned as the error
// values above.
type Handle interface {
	Close()        // Close the database handle
	CreateSchema() // Create the database schema

	CreateUser(email string, password string) (int, error)       // Create a user
	AuthenticateUser(email string, password string) (int, error) // Authenticate a user
	GetUsers() []User                                            // Get a slice of all users

	CreateGroup(name string, createdBy int) (int, error) // Create a group, creator becomes a member
	GetGroup(groupID int) (Group, error)                 // Get a single group
	DeleteGroup(groupID int) error                       // Delete a group and cascade its expenses and settlements
	AddGroupMember(groupID int, userID int) error        // Add a member to a group
	RemoveGroupMember(groupID int, userID int) error     // Remove a member from a group
	GetGroupMembers(groupID int) []int                   // Get current member ids in join order
	IsGroupMember(groupID int, userID int) bool          // Check current membership

	CreateExpense(e ledger.Expense) (int, error)           // Record an expense with its splits
	DeleteExpense(groupID int, expenseID int) error        // Remove an expense and its splits
	GetExpenses(groupID int) []ledger.Expense              // Get a group's expenses in event order
	CreateSettlement(s ledger.Settlement) (int, error)     // Record a settlement
	GetSettlements(groupID int) []ledger.Settlement        // Get a group's settlements in event order
}

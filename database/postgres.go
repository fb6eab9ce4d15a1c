package database

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/splitpot/splitpot/ledger"
	"github.com/splitpot/splitpot/money"
)

// Database schema, to be run once. Monetary amounts are stored as BIGINT
// minor units; the application never persists a computed balance.
const schema = `
CREATE TABLE users (
	id 			SERIAL PRIMARY KEY,
	email 		TEXT NOT NULL UNIQUE,
	password 	TEXT
);

CREATE TABLE groups (
	id 			SERIAL PRIMARY KEY,
	name 		TEXT NOT NULL,
	created_by 	INT NOT NULL REFERENCES users
);

CREATE TABLE group_users (
	id 			SERIAL PRIMARY KEY,
	group_id 	INT NOT NULL REFERENCES groups ON DELETE CASCADE,
	user_id 	INT NOT NULL REFERENCES users
);

CREATE UNIQUE INDEX group_users_unique_id ON group_users(group_id, user_id);

CREATE TABLE expenses (
	id 			SERIAL PRIMARY KEY,
	group_id 	INT NOT NULL REFERENCES groups ON DELETE CASCADE,
	paid_by 	INT NOT NULL REFERENCES users,
	description TEXT NOT NULL,
	amount 		BIGINT NOT NULL,
	split_type 	TEXT NOT NULL,
	created_at 	TIMESTAMP NOT NULL
);

CREATE INDEX expenses_group_id ON expenses(group_id);

CREATE TABLE expense_splits (
	expense_id 	INT NOT NULL REFERENCES expenses ON DELETE CASCADE,
	user_id 	INT NOT NULL REFERENCES users,
	owed 		BIGINT NOT NULL,
	paid 		BIGINT NOT NULL
);

CREATE INDEX expense_splits_expense_id ON expense_splits(expense_id);
CREATE UNIQUE INDEX expense_splits_unique_id ON expense_splits(expense_id, user_id);

CREATE TABLE settlements (
	id 			SERIAL PRIMARY KEY,
	group_id 	INT NOT NULL REFERENCES groups ON DELETE CASCADE,
	paid_by 	INT NOT NULL REFERENCES users,
	paid_to 	INT NOT NULL REFERENCES users,
	amount 		BIGINT NOT NULL,
	created_at 	TIMESTAMP
);

CREATE INDEX settlements_group_id ON settlements(group_id);

CREATE TABLE events (
	id 				UUID PRIMARY KEY,
	event_type 		TEXT NOT NULL,
	event_data 		JSONB,
	created_at 		TIMESTAMP NOT NULL
);
`

// Config holds the configuration for the postgresql database
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// PgDatabase implements the Database interface for postgresql
type PgDatabase struct {
	config Config
}

// PgHandle implements the Handle interface for postgresql
type PgHandle struct {
	db *sql.DB
}

// NewPgDatabase creates an instance of PgDatabase
func NewPgDatabase(config Config) PgDatabase {
	return PgDatabase{config: config}
}

// DSN returns the postgres connection string for the configuration
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

// Connect creates a connection to the postgres database
func (d PgDatabase) Connect() Handle {
	db, err := sql.Open("postgres", d.config.DSN())
	if err != nil {
		panic(err)
	}

	err = db.Ping()
	if err != nil {
		panic(err)
	}

	return &PgHandle{db: db}
}

// Close closes the database handle
func (p *PgHandle) Close() {
	p.db.Close()
}

// CreateSchema runs the SQL to create the schema. This is required to
// bootstrap the database.
func (p *PgHandle) CreateSchema() {
	log.Print("Creating database schema")
	_, err := p.db.Exec(schema)
	if err != nil {
		panic(err)
	}
}

// CreateUser inserts a new user into the database. ErrDuplicate is returned
// if another user with the same email already exists.
func (p *PgHandle) CreateUser(email string, password string) (int, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), 8)
	if err != nil {
		panic(err)
	}

	var id int
	err = p.db.QueryRow(`
        INSERT INTO users (email, password)
        VALUES($1, $2)
        RETURNING id
    `, email, hashedPassword).Scan(&id)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return 0, ErrDuplicate
		}
		panic(err)
	}

	return id, nil
}

// AuthenticateUser checks if the user with email/password exists in the
// database and the password matches. ErrNotFound is returned if the user
// doesn't exist, ErrPasswordMismatch if the password mismatches.
func (p *PgHandle) AuthenticateUser(email string, password string) (int, error) {
	var dbID int
	var dbPassword string
	err := p.db.QueryRow("SELECT id, password FROM users WHERE email=$1", email).Scan(&dbID, &dbPassword)
	if err != nil {
		log.Printf("Unknown user '%s'", email)
		return 0, ErrNotFound
	}

	if err = bcrypt.CompareHashAndPassword([]byte(dbPassword), []byte(password)); err != nil {
		return 0, ErrPasswordMismatch
	}

	return dbID, nil
}

// GetUsers returns all users in the database, ordered by email
func (p *PgHandle) GetUsers() []User {
	rows, err := p.db.Query("SELECT id, email FROM users ORDER BY email")
	if err != nil {
		panic(err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Email); err != nil {
			panic(err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		panic(err)
	}

	return users
}

// CreateGroup creates a group. The creator is added as the first member in
// the same transaction.
func (p *PgHandle) CreateGroup(name string, createdBy int) (int, error) {
	txn, err := p.db.Begin()
	if err != nil {
		panic(err)
	}

	var groupID int
	err = txn.QueryRow(`
        INSERT INTO groups (name, created_by)
        VALUES($1, $2)
        RETURNING id
    `, name, createdBy).Scan(&groupID)
	if err != nil {
		txn.Rollback()
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "foreign_key_violation" {
			return 0, ErrNotFound
		}
		panic(err)
	}

	_, err = txn.Exec("INSERT INTO group_users (group_id, user_id) VALUES($1, $2)", groupID, createdBy)
	if err != nil {
		txn.Rollback()
		panic(err)
	}

	if err := txn.Commit(); err != nil {
		panic(err)
	}
	return groupID, nil
}

// GetGroup returns a single group by id
func (p *PgHandle) GetGroup(groupID int) (Group, error) {
	var group Group
	err := p.db.QueryRow("SELECT id, name, created_by FROM groups WHERE id=$1", groupID).
		Scan(&group.ID, &group.Name, &group.CreatedBy)
	if err == sql.ErrNoRows {
		return Group{}, ErrNotFound
	} else if err != nil {
		panic(err)
	}
	return group, nil
}

// DeleteGroup deletes a group. Memberships, expenses with their splits, and
// settlements cascade with it.
func (p *PgHandle) DeleteGroup(groupID int) error {
	result, err := p.db.Exec("DELETE FROM groups WHERE id=$1", groupID)
	if err != nil {
		panic(err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		panic(err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// AddGroupMember adds a user to a group. ErrDuplicate is returned if the
// user already is a member.
func (p *PgHandle) AddGroupMember(groupID int, userID int) error {
	_, err := p.db.Exec("INSERT INTO group_users (group_id, user_id) VALUES($1, $2)", groupID, userID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return ErrDuplicate
			case "foreign_key_violation":
				return ErrNotFound
			}
		}
		panic(err)
	}
	return nil
}

// RemoveGroupMember removes a user from a group. Their historical expenses
// and settlements stay on the books.
func (p *PgHandle) RemoveGroupMember(groupID int, userID int) error {
	result, err := p.db.Exec("DELETE FROM group_users WHERE group_id=$1 AND user_id=$2", groupID, userID)
	if err != nil {
		panic(err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		panic(err)
	}
	if count == 0 {
		return ErrNotAMember
	}
	return nil
}

// GetGroupMembers returns the current member ids of a group in join order
func (p *PgHandle) GetGroupMembers(groupID int) []int {
	rows, err := p.db.Query("SELECT user_id FROM group_users WHERE group_id=$1 ORDER BY id", groupID)
	if err != nil {
		panic(err)
	}
	defer rows.Close()

	members := make([]int, 0)
	for rows.Next() {
		var userID int
		if err := rows.Scan(&userID); err != nil {
			panic(err)
		}
		members = append(members, userID)
	}

	if err := rows.Err(); err != nil {
		panic(err)
	}

	return members
}

// IsGroupMember checks if a user currently is a member of a group
func (p *PgHandle) IsGroupMember(groupID int, userID int) bool {
	var one int
	err := p.db.QueryRow("SELECT 1 FROM group_users WHERE group_id=$1 AND user_id=$2", groupID, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false
	} else if err != nil {
		panic(err)
	}
	return true
}

// CreateExpense creates entries in the expenses and expense_splits tables
// in one transaction, so the expense either lands with all its splits or
// not at all.
func (p *PgHandle) CreateExpense(e ledger.Expense) (int, error) {
	txn, err := p.db.Begin()
	if err != nil {
		panic(err)
	}

	var expenseID int
	err = txn.QueryRow(`
        INSERT INTO expenses (group_id, paid_by, description, amount, split_type, created_at)
        VALUES($1, $2, $3, $4, $5, $6)
        RETURNING id
    `, e.GroupID, e.PayerID, e.Description, e.Amount.Cents(), string(e.SplitType), e.CreatedAt).Scan(&expenseID)
	if err != nil {
		txn.Rollback()
		panic(err)
	}

	stmt, err := txn.Prepare(`
        INSERT INTO expense_splits (expense_id, user_id, owed, paid)
        VALUES($1, $2, $3, $4)
    `)
	if err != nil {
		txn.Rollback()
		panic(err)
	}

	for _, split := range e.Splits {
		if _, err := stmt.Exec(expenseID, split.UserID, split.Owed.Cents(), split.Paid.Cents()); err != nil {
			txn.Rollback()
			panic(err)
		}
	}

	if err := txn.Commit(); err != nil {
		panic(err)
	}

	return expenseID, nil
}

// DeleteExpense removes an expense and its splits. ErrNotFound is returned
// when the expense doesn't exist in the given group.
func (p *PgHandle) DeleteExpense(groupID int, expenseID int) error {
	result, err := p.db.Exec("DELETE FROM expenses WHERE id=$1 AND group_id=$2", expenseID, groupID)
	if err != nil {
		panic(err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		panic(err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// GetExpenses returns all of a group's expenses with their splits, in
// event order: created_at first, id as the tie break.
func (p *PgHandle) GetExpenses(groupID int) []ledger.Expense {
	rows, err := p.db.Query(`
        SELECT e.id, e.group_id, e.paid_by, e.description, e.amount, e.split_type, e.created_at,
               s.user_id, s.owed, s.paid
        FROM expenses e JOIN expense_splits s ON (e.id = s.expense_id)
        WHERE e.group_id = $1
        ORDER BY e.created_at, e.id
    `, groupID)
	if err != nil {
		panic(err)
	}
	defer rows.Close()

	expenses := make([]ledger.Expense, 0)
	index := make(map[int]int)
	for rows.Next() {
		var expenseID, paidBy int
		var description, splitType string
		var amountCents, owedCents, paidCents int64
		var createdAt time.Time
		var splitUserID int
		var gID int
		err := rows.Scan(&expenseID, &gID, &paidBy, &description, &amountCents, &splitType, &createdAt,
			&splitUserID, &owedCents, &paidCents)
		if err != nil {
			panic(err)
		}

		i, exists := index[expenseID]
		if !exists {
			expenses = append(expenses, ledger.Expense{
				ExpenseID:   expenseID,
				GroupID:     gID,
				PayerID:     paidBy,
				Amount:      money.FromCents(amountCents),
				Description: description,
				SplitType:   ledger.SplitType(splitType),
				Splits:      make([]ledger.Split, 0),
				CreatedAt:   createdAt,
			})
			i = len(expenses) - 1
			index[expenseID] = i
		}
		expenses[i].Splits = append(expenses[i].Splits, ledger.Split{
			UserID: splitUserID,
			Owed:   money.FromCents(owedCents),
			Paid:   money.FromCents(paidCents),
		})
	}

	if err := rows.Err(); err != nil {
		panic(err)
	}

	return expenses
}

// CreateSettlement records a settlement between two members
func (p *PgHandle) CreateSettlement(s ledger.Settlement) (int, error) {
	var createdAt sql.NullTime
	if s.CreatedAt != nil {
		createdAt = sql.NullTime{Time: *s.CreatedAt, Valid: true}
	}

	var settlementID int
	err := p.db.QueryRow(`
        INSERT INTO settlements (group_id, paid_by, paid_to, amount, created_at)
        VALUES($1, $2, $3, $4, $5)
        RETURNING id
    `, s.GroupID, s.PayerID, s.PayeeID, s.Amount.Cents(), createdAt).Scan(&settlementID)
	if err != nil {
		panic(err)
	}

	return settlementID, nil
}

// GetSettlements returns all of a group's settlements in event order.
// Undated settlements sort by id among themselves at the end.
func (p *PgHandle) GetSettlements(groupID int) []ledger.Settlement {
	rows, err := p.db.Query(`
        SELECT id, group_id, paid_by, paid_to, amount, created_at
        FROM settlements
        WHERE group_id = $1
        ORDER BY created_at NULLS LAST, id
    `, groupID)
	if err != nil {
		panic(err)
	}
	defer rows.Close()

	settlements := make([]ledger.Settlement, 0)
	for rows.Next() {
		var settlement ledger.Settlement
		var amountCents int64
		var createdAt sql.NullTime
		err := rows.Scan(&settlement.SettlementID, &settlement.GroupID, &settlement.PayerID,
			&settlement.PayeeID, &amountCents, &createdAt)
		if err != nil {
			panic(err)
		}
		settlement.Amount = money.FromCents(amountCents)
		if createdAt.Valid {
			t := createdAt.Time
			settlement.CreatedAt = &t
		}
		settlements = append(settlements, settlement)
	}

	if err := rows.Err(); err != nil {
		panic(err)
	}

	return settlements
}

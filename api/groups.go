package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/splitpot/splitpot/database"
	"github.com/splitpot/splitpot/eventlog"
	"github.com/splitpot/splitpot/ledger"
	"github.com/splitpot/splitpot/money"
)

type createGroupRequest struct {
	Name string `json:"name"`
}

type groupResponse struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	CreatedBy int    `json:"created_by"`
}

type addMemberRequest struct {
	UserID int `json:"user_id"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// shareRequest is one caller-supplied split entry. Amount is used by
// unequal splits, Percentage by percentage splits; for equal splits the
// entry just selects a participant.
type shareRequest struct {
	UserID     int          `json:"user_id"`
	Amount     *money.Money `json:"amount,omitempty"`
	Percentage *float64     `json:"percentage,omitempty"`
}

type createExpenseRequest struct {
	Description string         `json:"description"`
	Amount      money.Money    `json:"amount"`
	PaidBy      int            `json:"paid_by"`
	CreatedAt   string         `json:"created_at"`
	SplitType   string         `json:"split_type"`
	Splits      []shareRequest `json:"splits"`
}

type expenseResponse struct {
	ID          int            `json:"id"`
	GroupID     int            `json:"group_id"`
	Description string         `json:"description"`
	Amount      money.Money    `json:"amount"`
	PaidBy      int            `json:"paid_by"`
	SplitType   string         `json:"split_type"`
	Date        time.Time      `json:"date"`
	Splits      []ledger.Split `json:"splits"`
}

type createSettlementRequest struct {
	Amount    money.Money `json:"amount"`
	PaidBy    int         `json:"paid_by"`
	PaidTo    int         `json:"paid_to"`
	CreatedAt string      `json:"created_at"`
}

type settlementResponse struct {
	ID      int         `json:"id"`
	GroupID int         `json:"group_id"`
	Amount  money.Money `json:"amount"`
	PaidBy  int         `json:"paid_by"`
	PaidTo  int         `json:"paid_to"`
	Date    *time.Time  `json:"date"`
}

type historyResponse struct {
	Items []ledger.HistoryItem `json:"items"`
}

// requireMember resolves the {groupID} URL parameter and checks the
// requester belongs to that group. On failure the response has already
// been written.
func (api *API) requireMember(w http.ResponseWriter, r *http.Request, dbh database.Handle, userID int) (int, bool) {
	groupID, ok := urlID(r, "groupID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid group id")
		return 0, false
	}

	if _, err := dbh.GetGroup(groupID); err != nil {
		writeError(w, http.StatusNotFound, "group not found")
		return 0, false
	}

	if !dbh.IsGroupMember(groupID, userID) {
		log.Printf("User %d is not a member of group %d", userID, groupID)
		writeError(w, http.StatusForbidden, "access denied: you are not a member of this group")
		return 0, false
	}

	return groupID, true
}

// writeSplitError maps allocator validation failures to 400 responses.
// Anything else is an infrastructure bug and panics like the rest of the
// store path.
func writeSplitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrEmptyMemberList),
		errors.Is(err, ledger.ErrNonPositiveAmount),
		errors.Is(err, ledger.ErrSplitMismatch),
		errors.Is(err, ledger.ErrUnknownMember),
		errors.Is(err, ledger.ErrDuplicateMember),
		errors.Is(err, ledger.ErrUnknownSplitType):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		panic(err)
	}
}

// refreshBalances derives the group's balances from the full event history
// and writes them through to the cache. An ErrConservation here means the
// recorded events are corrupt; it is passed up so the request aborts with a
// 500, never silently corrected.
func (api *API) refreshBalances(dbh database.Handle, groupID int) error {
	balances, err := ledger.ComputeBalances(dbh.GetExpenses(groupID), dbh.GetSettlements(groupID), dbh.GetGroupMembers(groupID))
	if err != nil {
		log.Printf("Conservation violation in group %d: %v", groupID, err)
		return err
	}
	api.cache.SetBalances(groupID, balances)
	return nil
}

// sameDay checks whether two timestamps fall on the same calendar day
func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// postGroups creates a group. The creator becomes its first member.
func (api *API) postGroups(w http.ResponseWriter, r *http.Request, userID int) {
	dbh := api.db.Connect()
	defer dbh.Close()

	var g createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		log.Print("Unable to decode and parse json")
		writeError(w, http.StatusBadRequest, "unable to decode and parse json")
		return
	}

	if g.Name == "" {
		writeError(w, http.StatusBadRequest, "name must not be empty")
		return
	}

	log.Printf("Adding group name='%s' created_by=%d", g.Name, userID)
	groupID, err := dbh.CreateGroup(g.Name, userID)
	if err != nil {
		panic(err)
	}

	api.logEvent(eventlog.TypeGroupCreated, map[string]string{
		"group_id": strconv.Itoa(groupID),
		"name":     g.Name,
	})

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, groupResponse{ID: groupID, Name: g.Name, CreatedBy: userID})
}

// deleteGroup deletes a group with all its expenses and settlements
func (api *API) deleteGroup(w http.ResponseWriter, r *http.Request, userID int) {
	dbh := api.db.Connect()
	defer dbh.Close()

	groupID, ok := api.requireMember(w, r, dbh, userID)
	if !ok {
		return
	}

	unlock := api.lockGroup(groupID)
	defer unlock()

	if err := dbh.DeleteGroup(groupID); err != nil {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}

	api.logEvent(eventlog.TypeGroupDeleted, map[string]string{"group_id": strconv.Itoa(groupID)})
	writeJSON(w, messageResponse{"group deleted"})
}

// postMembers adds a user to a group
func (api *API) postMembers(w http.ResponseWriter, r *http.Request, userID int) {
	dbh := api.db.Connect()
	defer dbh.Close()

	groupID, ok := api.requireMember(w, r, dbh, userID)
	if !ok {
		return
	}

	var m addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		log.Print("Unable to decode and parse json")
		writeError(w, http.StatusBadRequest, "unable to decode and parse json")
		return
	}

	unlock := api.lockGroup(groupID)
	defer unlock()

	if err := dbh.AddGroupMember(groupID, m.UserID); err != nil {
		switch err {
		case database.ErrDuplicate:
			writeError(w, http.StatusConflict, "user already is a member of this group")
		case database.ErrNotFound:
			writeError(w, http.StatusNotFound, "user not found")
		default:
			panic(err)
		}
		return
	}

	// Membership changed, so the derived balance set changed too
	if err := api.refreshBalances(dbh, groupID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal inconsistency detected")
		return
	}

	api.logEvent(eventlog.TypeMemberAdded, map[string]string{
		"group_id": strconv.Itoa(groupID),
		"user_id":  strconv.Itoa(m.UserID),
	})
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, messageResponse{"member added"})
}

// deleteMember removes a user from a group. Their recorded expenses and
// settlements stay on the books.
func (api *API) deleteMember(w http.ResponseWriter, r *http.Request, userID int) {
	dbh := api.db.Connect()
	defer dbh.Close()

	groupID, ok := api.requireMember(w, r, dbh, userID)
	if !ok {
		return
	}

	memberID, ok := urlID(r, "userID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	unlock := api.lockGroup(groupID)
	defer unlock()

	if err := dbh.RemoveGroupMember(groupID, memberID); err != nil {
		writeError(w, http.StatusNotFound, "not a group member")
		return
	}

	if err := api.refreshBalances(dbh, groupID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal inconsistency detected")
		return
	}

	api.logEvent(eventlog.TypeMemberRemoved, map[string]string{
		"group_id": strconv.Itoa(groupID),
		"user_id":  strconv.Itoa(memberID),
	})
	writeJSON(w, messageResponse{"member removed"})
}

// makeExpenseResponse converts a ledger expense to its wire shape
func makeExpenseResponse(e ledger.Expense) expenseResponse {
	return expenseResponse{
		ID:          e.ExpenseID,
		GroupID:     e.GroupID,
		Description: e.Description,
		Amount:      e.Amount,
		PaidBy:      e.PayerID,
		SplitType:   string(e.SplitType),
		Date:        e.CreatedAt,
		Splits:      e.Splits,
	}
}

// postExpenses records an expense. The splits are validated and allocated
// before anything is written; the expense is appended completely or not at
// all, and a failed validation leaves the ledger untouched.
func (api *API) postExpenses(w http.ResponseWriter, r *http.Request, userID int) {
	dbh := api.db.Connect()
	defer dbh.Close()

	groupID, ok := api.requireMember(w, r, dbh, userID)
	if !ok {
		return
	}

	var e createExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		log.Print("Unable to decode and parse json")
		writeError(w, http.StatusBadRequest, "unable to decode and parse json")
		return
	}

	if e.Description == "" {
		log.Printf("Invalid description '%s'", e.Description)
		writeError(w, http.StatusBadRequest, "description must not be empty")
		return
	}

	createdAt := time.Now().UTC()
	if e.CreatedAt != "" {
		var err error
		createdAt, err = time.Parse(time.RFC3339, e.CreatedAt)
		if err != nil {
			log.Printf("Unable to parse timestamp '%s'", e.CreatedAt)
			writeError(w, http.StatusBadRequest, "unable to parse created_at")
			return
		}
	}

	splitType := ledger.SplitType(e.SplitType)
	if e.SplitType == "" {
		splitType = ledger.SplitTypeEqual
	}

	unlock := api.lockGroup(groupID)
	defer unlock()

	if !dbh.IsGroupMember(groupID, e.PaidBy) {
		log.Printf("Payer %d is not a member of group %d", e.PaidBy, groupID)
		writeError(w, http.StatusBadRequest, "payer must be a member of the group")
		return
	}

	// Guard against accidental double submissions: an identical expense by
	// the same payer on the same day is almost always a double click
	for _, existing := range dbh.GetExpenses(groupID) {
		if existing.Description == e.Description && existing.Amount == e.Amount &&
			existing.PayerID == e.PaidBy && sameDay(existing.CreatedAt, createdAt) {
			writeError(w, http.StatusConflict, "a similar expense was already created today")
			return
		}
	}

	// Equal splits cover all current members unless the request names a
	// subset of participants; unequal and percentage splits carry their
	// member set in the share entries
	participants := dbh.GetGroupMembers(groupID)
	shares := make([]ledger.Share, len(e.Splits))
	for i, s := range e.Splits {
		shares[i] = ledger.Share{UserID: s.UserID}
		if s.Amount != nil {
			shares[i].Amount = *s.Amount
		}
		if s.Percentage != nil {
			shares[i].Percentage = *s.Percentage
		}
	}
	if splitType == ledger.SplitTypeEqual && len(e.Splits) > 0 {
		subset := make([]int, len(e.Splits))
		members := make(map[int]bool, len(participants))
		for _, id := range participants {
			members[id] = true
		}
		for i, s := range e.Splits {
			if !members[s.UserID] {
				writeSplitError(w, ledger.ErrUnknownMember)
				return
			}
			subset[i] = s.UserID
		}
		participants = subset
	}

	expense, err := ledger.NewExpense(groupID, e.PaidBy, e.Amount, e.Description, splitType, participants, shares, createdAt)
	if err != nil {
		log.Printf("Invalid split for group %d: %v", groupID, err)
		writeSplitError(w, err)
		return
	}

	log.Printf("Adding expense group_id=%d paid_by=%d description='%s' amount=%s split_type=%s",
		groupID, e.PaidBy, e.Description, e.Amount, splitType)

	expenseID, err := dbh.CreateExpense(expense)
	if err != nil {
		panic(err)
	}
	expense.ExpenseID = expenseID

	if err := api.refreshBalances(dbh, groupID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal inconsistency detected")
		return
	}

	api.logEvent(eventlog.TypeExpenseCreated, map[string]string{
		"group_id":   strconv.Itoa(groupID),
		"expense_id": strconv.Itoa(expenseID),
		"paid_by":    strconv.Itoa(e.PaidBy),
		"amount":     e.Amount.String(),
	})

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, makeExpenseResponse(expense))
}

// getExpenses lists a group's expenses in event order
func (api *API) getExpenses(w http.ResponseWriter, r *http.Request, userID int) {
	dbh := api.db.Connect()
	defer dbh.Close()

	groupID, ok := api.requireMember(w, r, dbh, userID)
	if !ok {
		return
	}

	expenses := dbh.GetExpenses(groupID)
	result := make([]expenseResponse, len(expenses))
	for i, e := range expenses {
		result[i] = makeExpenseResponse(e)
	}
	writeJSON(w, result)
}

// deleteExpense removes an expense wholesale. Balances need no
// invalidation beyond the write-through: they are always derived from the
// remaining events.
func (api *API) deleteExpense(w http.ResponseWriter, r *http.Request, userID int) {
	dbh := api.db.Connect()
	defer dbh.Close()

	groupID, ok := api.requireMember(w, r, dbh, userID)
	if !ok {
		return
	}

	expenseID, ok := urlID(r, "expenseID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid expense id")
		return
	}

	unlock := api.lockGroup(groupID)
	defer unlock()

	if err := dbh.DeleteExpense(groupID, expenseID); err != nil {
		writeError(w, http.StatusNotFound, "expense not found")
		return
	}

	if err := api.refreshBalances(dbh, groupID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal inconsistency detected")
		return
	}

	api.logEvent(eventlog.TypeExpenseDeleted, map[string]string{
		"group_id":   strconv.Itoa(groupID),
		"expense_id": strconv.Itoa(expenseID),
	})
	writeJSON(w, messageResponse{"expense deleted"})
}

// postSettlements records a direct payment between two members
func (api *API) postSettlements(w http.ResponseWriter, r *http.Request, userID int) {
	dbh := api.db.Connect()
	defer dbh.Close()

	groupID, ok := api.requireMember(w, r, dbh, userID)
	if !ok {
		return
	}

	var s createSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		log.Print("Unable to decode and parse json")
		writeError(w, http.StatusBadRequest, "unable to decode and parse json")
		return
	}

	if s.PaidBy == s.PaidTo {
		writeError(w, http.StatusBadRequest, "a user cannot settle with themselves")
		return
	}
	if s.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	var createdAt *time.Time
	if s.CreatedAt != "" {
		parsed, err := time.Parse(time.RFC3339, s.CreatedAt)
		if err != nil {
			log.Printf("Unable to parse timestamp '%s'", s.CreatedAt)
			writeError(w, http.StatusBadRequest, "unable to parse created_at")
			return
		}
		createdAt = &parsed
	}

	unlock := api.lockGroup(groupID)
	defer unlock()

	if !dbh.IsGroupMember(groupID, s.PaidBy) || !dbh.IsGroupMember(groupID, s.PaidTo) {
		writeError(w, http.StatusForbidden, "both users must be members of the group")
		return
	}

	settlement := ledger.Settlement{
		GroupID:   groupID,
		PayerID:   s.PaidBy,
		PayeeID:   s.PaidTo,
		Amount:    s.Amount,
		CreatedAt: createdAt,
	}

	log.Printf("Adding settlement group_id=%d paid_by=%d paid_to=%d amount=%s",
		groupID, s.PaidBy, s.PaidTo, s.Amount)

	settlementID, err := dbh.CreateSettlement(settlement)
	if err != nil {
		panic(err)
	}

	if err := api.refreshBalances(dbh, groupID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal inconsistency detected")
		return
	}

	api.logEvent(eventlog.TypeSettlementRecorded, map[string]string{
		"group_id":      strconv.Itoa(groupID),
		"settlement_id": strconv.Itoa(settlementID),
		"paid_by":       strconv.Itoa(s.PaidBy),
		"paid_to":       strconv.Itoa(s.PaidTo),
		"amount":        s.Amount.String(),
	})

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, settlementResponse{
		ID:      settlementID,
		GroupID: groupID,
		Amount:  s.Amount,
		PaidBy:  s.PaidBy,
		PaidTo:  s.PaidTo,
		Date:    createdAt,
	})
}

// getSettlements lists a group's settlements in event order
func (api *API) getSettlements(w http.ResponseWriter, r *http.Request, userID int) {
	dbh := api.db.Connect()
	defer dbh.Close()

	groupID, ok := api.requireMember(w, r, dbh, userID)
	if !ok {
		return
	}

	settlements := dbh.GetSettlements(groupID)
	result := make([]settlementResponse, len(settlements))
	for i, s := range settlements {
		result[i] = settlementResponse{
			ID:      s.SettlementID,
			GroupID: s.GroupID,
			Amount:  s.Amount,
			PaidBy:  s.PayerID,
			PaidTo:  s.PayeeID,
			Date:    s.CreatedAt,
		}
	}
	writeJSON(w, result)
}

// getBalances returns the group's derived net balances
func (api *API) getBalances(w http.ResponseWriter, r *http.Request, userID int) {
	dbh := api.db.Connect()
	defer dbh.Close()

	groupID, ok := api.requireMember(w, r, dbh, userID)
	if !ok {
		return
	}

	balances, err := api.cache.GetBalances(api.db, groupID)
	if err != nil {
		log.Printf("Conservation violation in group %d: %v", groupID, err)
		writeError(w, http.StatusInternalServerError, "internal inconsistency detected")
		return
	}

	log.Printf("Balances for group %d are %+v", groupID, balances)
	writeJSON(w, balances)
}

// getSuggestedSettlements returns payments that would bring every member
// of the group to a zero balance
func (api *API) getSuggestedSettlements(w http.ResponseWriter, r *http.Request, userID int) {
	dbh := api.db.Connect()
	defer dbh.Close()

	groupID, ok := api.requireMember(w, r, dbh, userID)
	if !ok {
		return
	}

	balances, err := api.cache.GetBalances(api.db, groupID)
	if err != nil {
		log.Printf("Conservation violation in group %d: %v", groupID, err)
		writeError(w, http.StatusInternalServerError, "internal inconsistency detected")
		return
	}

	writeJSON(w, ledger.SuggestSettlements(balances))
}

// getHistory returns the merged expense and settlement feed, most recent
// first
func (api *API) getHistory(w http.ResponseWriter, r *http.Request, userID int) {
	dbh := api.db.Connect()
	defer dbh.Close()

	groupID, ok := api.requireMember(w, r, dbh, userID)
	if !ok {
		return
	}

	items := ledger.MergeHistory(dbh.GetExpenses(groupID), dbh.GetSettlements(groupID))
	writeJSON(w, historyResponse{Items: items})
}

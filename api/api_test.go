package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/splitpot/splitpot/cache"
	"github.com/splitpot/splitpot/database"
	"github.com/splitpot/splitpot/eventlog"
	"github.com/splitpot/splitpot/jwt"
	"github.com/splitpot/splitpot/ledger"
	"github.com/splitpot/splitpot/money"
)

// nopStore drops audit events in tests
type nopStore struct{}

func (nopStore) Save(ctx context.Context, e eventlog.Event) error { return nil }

// newTestAPI wires the API against the in memory database and cache and
// returns its router plus a database handle for test fixtures
func newTestAPI() (http.Handler, database.Handle) {
	db := database.NewInMemoryDatabase()
	api := NewAPI(db, cache.NewInMemoryCache(), eventlog.NewWorker(nopStore{}, 100))
	return api.Router(), db.Connect()
}

// doRequest performs a request against the router, authenticated as userID
// unless userID is 0
func doRequest(t *testing.T, router http.Handler, method, path string, body interface{}, userID int) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("unable to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		cookie := jwt.CreateCookie(userID, jwtCookieName)
		request.AddCookie(&cookie)
	}

	response := httptest.NewRecorder()
	router.ServeHTTP(response, request)
	return response
}

// decodeBody decodes a JSON response body
func decodeBody(t *testing.T, response *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	if err := json.NewDecoder(response.Body).Decode(into); err != nil {
		t.Fatalf("unable to parse response from server '%v'", err)
	}
}

// makeGroup creates three users and a group containing all of them,
// returning the group id. User ids are 1, 2 and 3.
func makeGroup(t *testing.T, router http.Handler, dbh database.Handle) int {
	t.Helper()

	for i := 1; i <= 3; i++ {
		if _, err := dbh.CreateUser(fmt.Sprintf("test%d@example.com", i), "secret"); err != nil {
			t.Fatalf("unable to create user: %v", err)
		}
	}

	response := doRequest(t, router, http.MethodPost, "/groups", createGroupRequest{Name: "Flat"}, 1)
	if response.Code != http.StatusCreated {
		t.Fatalf("unable to create group, status %d", response.Code)
	}
	var group groupResponse
	decodeBody(t, response, &group)

	for _, userID := range []int{2, 3} {
		response = doRequest(t, router, http.MethodPost, fmt.Sprintf("/groups/%d/members", group.ID),
			addMemberRequest{UserID: userID}, 1)
		if response.Code != http.StatusCreated {
			t.Fatalf("unable to add member %d, status %d", userID, response.Code)
		}
	}

	return group.ID
}

// getBalances fetches and decodes the balances of a group
func getBalances(t *testing.T, router http.Handler, groupID int, userID int) []ledger.Balance {
	t.Helper()
	response := doRequest(t, router, http.MethodGet, fmt.Sprintf("/groups/%d/balances", groupID), nil, userID)
	if response.Code != http.StatusOK {
		t.Fatalf("unable to get balances, status %d", response.Code)
	}
	var balances []ledger.Balance
	decodeBody(t, response, &balances)
	return balances
}

func TestGetUsers(t *testing.T) {
	// Add users to the database and ensure the API returns them ordered by
	// email
	router, dbh := newTestAPI()

	userID1, _ := dbh.CreateUser("test1@example.com", "secret")
	userID2, _ := dbh.CreateUser("test2@example.com", "secret")

	response := doRequest(t, router, http.MethodGet, "/users", nil, userID1)
	var gotUsers usersResponse
	decodeBody(t, response, &gotUsers)

	wantedUsers := usersResponse{Users: []userResponse{
		{ID: userID1, Email: "test1@example.com"},
		{ID: userID2, Email: "test2@example.com"},
	}}
	if !reflect.DeepEqual(gotUsers, wantedUsers) {
		t.Errorf("wanted %v, got %v", wantedUsers, gotUsers)
	}
}

func TestPostUsers(t *testing.T) {
	// Create a user using the POST users API
	router, dbh := newTestAPI()
	userID, _ := dbh.CreateUser("test1@example.com", "secret")

	response := doRequest(t, router, http.MethodPost, "/users",
		createUserRequest{Email: "test@example.com", Password: "secret"}, userID)

	var got userResponse
	decodeBody(t, response, &got)
	wanted := userResponse{ID: 2, Email: "test@example.com"}
	if !reflect.DeepEqual(wanted, got) {
		t.Errorf("wanted %v, got %v", wanted, got)
	}
}

func TestSignin(t *testing.T) {
	router, dbh := newTestAPI()
	dbh.CreateUser("test1@example.com", "secret")

	response := doRequest(t, router, http.MethodPost, "/signin",
		authRequest{Email: "test1@example.com", Password: "secret"}, 0)
	if response.Code != http.StatusOK {
		t.Fatalf("signin failed with status %d", response.Code)
	}
	cookies := response.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != jwtCookieName || cookies[0].Value == "" {
		t.Errorf("expected a jwt cookie, got %v", cookies)
	}

	response = doRequest(t, router, http.MethodPost, "/signin",
		authRequest{Email: "test1@example.com", Password: "wrong"}, 0)
	if response.Code != http.StatusUnauthorized {
		t.Errorf("bad password: expected 401, got %d", response.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	router, _ := newTestAPI()
	response := doRequest(t, router, http.MethodGet, "/users", nil, 0)
	if response.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", response.Code)
	}
}

func TestExpenseAndSettlementScenario(t *testing.T) {
	// User 1 pays 30.00 split equally between users 1, 2 and 3. User 1 is
	// up 20.00, the others each owe 10.00. User 2 then settles 10.00 to
	// user 1.
	router, dbh := newTestAPI()
	groupID := makeGroup(t, router, dbh)

	response := doRequest(t, router, http.MethodPost, fmt.Sprintf("/groups/%d/expenses", groupID),
		createExpenseRequest{
			Description: "Food",
			Amount:      money.FromCents(3000),
			PaidBy:      1,
			CreatedAt:   "2021-01-01T15:04:05Z",
		}, 1)
	if response.Code != http.StatusCreated {
		t.Fatalf("unable to create expense, status %d: %s", response.Code, response.Body)
	}

	want := []ledger.Balance{
		{UserID: 1, Balance: money.FromCents(2000)},
		{UserID: 2, Balance: money.FromCents(-1000)},
		{UserID: 3, Balance: money.FromCents(-1000)},
	}
	if got := getBalances(t, router, groupID, 1); !reflect.DeepEqual(got, want) {
		t.Errorf("wanted %v, got %v", want, got)
	}

	response = doRequest(t, router, http.MethodPost, fmt.Sprintf("/groups/%d/settlements", groupID),
		createSettlementRequest{Amount: money.FromCents(1000), PaidBy: 2, PaidTo: 1, CreatedAt: "2021-01-02T10:00:00Z"}, 2)
	if response.Code != http.StatusCreated {
		t.Fatalf("unable to create settlement, status %d: %s", response.Code, response.Body)
	}

	want = []ledger.Balance{
		{UserID: 1, Balance: money.FromCents(1000)},
		{UserID: 2, Balance: 0},
		{UserID: 3, Balance: money.FromCents(-1000)},
	}
	if got := getBalances(t, router, groupID, 1); !reflect.DeepEqual(got, want) {
		t.Errorf("after settlement wanted %v, got %v", want, got)
	}
}

func TestSplitMismatchLeavesLedgerUnchanged(t *testing.T) {
	// An unequal split whose amounts don't reconcile is rejected and the
	// balances before and after are identical
	router, dbh := newTestAPI()
	groupID := makeGroup(t, router, dbh)

	before := getBalances(t, router, groupID, 1)

	amount1 := money.FromCents(1500)
	amount2 := money.FromCents(499)
	response := doRequest(t, router, http.MethodPost, fmt.Sprintf("/groups/%d/expenses", groupID),
		createExpenseRequest{
			Description: "Groceries",
			Amount:      money.FromCents(2000),
			PaidBy:      1,
			SplitType:   "unequal",
			Splits: []shareRequest{
				{UserID: 1, Amount: &amount1},
				{UserID: 2, Amount: &amount2},
			},
		}, 1)
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for mismatched split, got %d", response.Code)
	}

	after := getBalances(t, router, groupID, 1)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("ledger changed after rejected expense: %v vs %v", before, after)
	}
}

func TestPercentageSplit(t *testing.T) {
	// 50.00 at 60%/40% lands as exactly 30.00/20.00 owed
	router, dbh := newTestAPI()
	groupID := makeGroup(t, router, dbh)

	p60, p40 := 60.0, 40.0
	response := doRequest(t, router, http.MethodPost, fmt.Sprintf("/groups/%d/expenses", groupID),
		createExpenseRequest{
			Description: "Hotel",
			Amount:      money.FromCents(5000),
			PaidBy:      1,
			SplitType:   "percentage",
			Splits: []shareRequest{
				{UserID: 1, Percentage: &p60},
				{UserID: 2, Percentage: &p40},
			},
		}, 1)
	if response.Code != http.StatusCreated {
		t.Fatalf("unable to create expense, status %d: %s", response.Code, response.Body)
	}

	want := []ledger.Balance{
		{UserID: 1, Balance: money.FromCents(2000)},
		{UserID: 2, Balance: money.FromCents(-2000)},
		{UserID: 3, Balance: 0},
	}
	if got := getBalances(t, router, groupID, 1); !reflect.DeepEqual(got, want) {
		t.Errorf("wanted %v, got %v", want, got)
	}
}

func TestDeleteExpense(t *testing.T) {
	router, dbh := newTestAPI()
	groupID := makeGroup(t, router, dbh)

	response := doRequest(t, router, http.MethodPost, fmt.Sprintf("/groups/%d/expenses", groupID),
		createExpenseRequest{Description: "Food", Amount: money.FromCents(3000), PaidBy: 1}, 1)
	if response.Code != http.StatusCreated {
		t.Fatalf("unable to create expense, status %d", response.Code)
	}
	var expense expenseResponse
	decodeBody(t, response, &expense)

	response = doRequest(t, router, http.MethodDelete,
		fmt.Sprintf("/groups/%d/expenses/%d", groupID, expense.ID), nil, 1)
	if response.Code != http.StatusOK {
		t.Fatalf("unable to delete expense, status %d", response.Code)
	}

	// All balances return to zero once the only expense is gone
	for _, balance := range getBalances(t, router, groupID, 1) {
		if balance.Balance != 0 {
			t.Errorf("user %d balance after delete: expected 0, got %d", balance.UserID, balance.Balance.Cents())
		}
	}

	response = doRequest(t, router, http.MethodDelete,
		fmt.Sprintf("/groups/%d/expenses/%d", groupID, expense.ID), nil, 1)
	if response.Code != http.StatusNotFound {
		t.Errorf("deleting twice: expected 404, got %d", response.Code)
	}
}

func TestDuplicateExpenseGuard(t *testing.T) {
	router, dbh := newTestAPI()
	groupID := makeGroup(t, router, dbh)

	expense := createExpenseRequest{
		Description: "Coffee",
		Amount:      money.FromCents(800),
		PaidBy:      1,
		CreatedAt:   "2021-01-01T15:04:05Z",
	}
	response := doRequest(t, router, http.MethodPost, fmt.Sprintf("/groups/%d/expenses", groupID), expense, 1)
	if response.Code != http.StatusCreated {
		t.Fatalf("unable to create expense, status %d", response.Code)
	}

	response = doRequest(t, router, http.MethodPost, fmt.Sprintf("/groups/%d/expenses", groupID), expense, 1)
	if response.Code != http.StatusConflict {
		t.Errorf("duplicate expense: expected 409, got %d", response.Code)
	}
}

func TestMembershipRequired(t *testing.T) {
	router, dbh := newTestAPI()
	groupID := makeGroup(t, router, dbh)
	outsiderID, _ := dbh.CreateUser("outsider@example.com", "secret")

	response := doRequest(t, router, http.MethodGet, fmt.Sprintf("/groups/%d/balances", groupID), nil, outsiderID)
	if response.Code != http.StatusForbidden {
		t.Errorf("outsider balances: expected 403, got %d", response.Code)
	}

	// A member posting an expense paid by a non-member is a caller fault
	response = doRequest(t, router, http.MethodPost, fmt.Sprintf("/groups/%d/expenses", groupID),
		createExpenseRequest{Description: "Food", Amount: money.FromCents(1000), PaidBy: outsiderID}, 1)
	if response.Code != http.StatusBadRequest {
		t.Errorf("non-member payer: expected 400, got %d", response.Code)
	}

	response = doRequest(t, router, http.MethodPost, fmt.Sprintf("/groups/%d/settlements", groupID),
		createSettlementRequest{Amount: money.FromCents(1000), PaidBy: 1, PaidTo: outsiderID}, 1)
	if response.Code != http.StatusForbidden {
		t.Errorf("non-member settlement party: expected 403, got %d", response.Code)
	}
}

func TestSuggestedSettlements(t *testing.T) {
	router, dbh := newTestAPI()
	groupID := makeGroup(t, router, dbh)

	response := doRequest(t, router, http.MethodPost, fmt.Sprintf("/groups/%d/expenses", groupID),
		createExpenseRequest{Description: "Food", Amount: money.FromCents(3000), PaidBy: 1}, 1)
	if response.Code != http.StatusCreated {
		t.Fatalf("unable to create expense, status %d", response.Code)
	}

	response = doRequest(t, router, http.MethodGet,
		fmt.Sprintf("/groups/%d/suggested-settlements", groupID), nil, 1)
	if response.Code != http.StatusOK {
		t.Fatalf("unable to get suggestions, status %d", response.Code)
	}

	var transfers []ledger.Transfer
	decodeBody(t, response, &transfers)
	want := []ledger.Transfer{
		{FromUserID: 2, ToUserID: 1, Amount: money.FromCents(1000)},
		{FromUserID: 3, ToUserID: 1, Amount: money.FromCents(1000)},
	}
	if !reflect.DeepEqual(transfers, want) {
		t.Errorf("wanted %v, got %v", want, transfers)
	}
}

func TestHistory(t *testing.T) {
	// The history feed merges expenses and settlements, most recent first,
	// with undated settlements at the end
	router, dbh := newTestAPI()
	groupID := makeGroup(t, router, dbh)

	response := doRequest(t, router, http.MethodPost, fmt.Sprintf("/groups/%d/expenses", groupID),
		createExpenseRequest{Description: "Food", Amount: money.FromCents(3000), PaidBy: 1, CreatedAt: "2021-01-01T12:00:00Z"}, 1)
	if response.Code != http.StatusCreated {
		t.Fatalf("unable to create expense, status %d", response.Code)
	}

	// One dated settlement after the expense, one without a date
	response = doRequest(t, router, http.MethodPost, fmt.Sprintf("/groups/%d/settlements", groupID),
		createSettlementRequest{Amount: money.FromCents(1000), PaidBy: 2, PaidTo: 1, CreatedAt: "2021-01-02T12:00:00Z"}, 2)
	if response.Code != http.StatusCreated {
		t.Fatalf("unable to create settlement, status %d", response.Code)
	}
	response = doRequest(t, router, http.MethodPost, fmt.Sprintf("/groups/%d/settlements", groupID),
		createSettlementRequest{Amount: money.FromCents(500), PaidBy: 3, PaidTo: 1}, 3)
	if response.Code != http.StatusCreated {
		t.Fatalf("unable to create settlement, status %d", response.Code)
	}

	response = doRequest(t, router, http.MethodGet, fmt.Sprintf("/groups/%d/history", groupID), nil, 1)
	if response.Code != http.StatusOK {
		t.Fatalf("unable to get history, status %d", response.Code)
	}

	var history historyResponse
	decodeBody(t, response, &history)
	if len(history.Items) != 3 {
		t.Fatalf("expected 3 history items, got %d", len(history.Items))
	}

	wantTypes := []string{ledger.ItemTypeSettlement, ledger.ItemTypeExpense, ledger.ItemTypeSettlement}
	for i, wantType := range wantTypes {
		if history.Items[i].Type != wantType {
			t.Errorf("item %d: expected type %s, got %s", i, wantType, history.Items[i].Type)
		}
	}
	if history.Items[2].Date != nil {
		t.Errorf("undated settlement should sort last, got date %v", history.Items[2].Date)
	}
}

func TestConservationViolationReturns500(t *testing.T) {
	// An expense whose splits don't cover its amount can only come from
	// corrupted storage. Both reads and mutations must fail loudly with a
	// 500 instead of papering over the broken books.
	router, dbh := newTestAPI()
	dbh.CreateUser("test1@example.com", "secret")
	dbh.CreateUser("test2@example.com", "secret")
	groupID, err := dbh.CreateGroup("Flat", 1)
	if err != nil {
		t.Fatalf("unable to create group: %v", err)
	}
	if err := dbh.AddGroupMember(groupID, 2); err != nil {
		t.Fatalf("unable to add member: %v", err)
	}

	corrupt := ledger.Expense{
		GroupID: groupID,
		PayerID: 1,
		Amount:  money.FromCents(1000),
		Splits: []ledger.Split{
			{UserID: 1, Owed: money.FromCents(300), Paid: money.FromCents(1000)},
			{UserID: 2, Owed: money.FromCents(300)},
		},
		CreatedAt: time.Date(2021, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	if _, err := dbh.CreateExpense(corrupt); err != nil {
		t.Fatalf("unable to create expense: %v", err)
	}

	response := doRequest(t, router, http.MethodGet, fmt.Sprintf("/groups/%d/balances", groupID), nil, 1)
	if response.Code != http.StatusInternalServerError {
		t.Errorf("balances over corrupt books: expected 500, got %d", response.Code)
	}

	response = doRequest(t, router, http.MethodPost, fmt.Sprintf("/groups/%d/settlements", groupID),
		createSettlementRequest{Amount: money.FromCents(100), PaidBy: 2, PaidTo: 1}, 2)
	if response.Code != http.StatusInternalServerError {
		t.Errorf("settlement over corrupt books: expected 500, got %d", response.Code)
	}
}

func TestDeleteGroupCascades(t *testing.T) {
	router, dbh := newTestAPI()
	groupID := makeGroup(t, router, dbh)

	response := doRequest(t, router, http.MethodPost, fmt.Sprintf("/groups/%d/expenses", groupID),
		createExpenseRequest{Description: "Food", Amount: money.FromCents(3000), PaidBy: 1}, 1)
	if response.Code != http.StatusCreated {
		t.Fatalf("unable to create expense, status %d", response.Code)
	}

	response = doRequest(t, router, http.MethodDelete, fmt.Sprintf("/groups/%d", groupID), nil, 1)
	if response.Code != http.StatusOK {
		t.Fatalf("unable to delete group, status %d", response.Code)
	}

	response = doRequest(t, router, http.MethodGet, fmt.Sprintf("/groups/%d/balances", groupID), nil, 1)
	if response.Code != http.StatusNotFound {
		t.Errorf("deleted group: expected 404, got %d", response.Code)
	}

	if expenses := dbh.GetExpenses(groupID); len(expenses) != 0 {
		t.Errorf("expected expenses to cascade, got %d left", len(expenses))
	}
}

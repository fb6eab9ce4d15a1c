package api

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/splitpot/splitpot/cache"
	"github.com/splitpot/splitpot/database"
	"github.com/splitpot/splitpot/eventlog"
	"github.com/splitpot/splitpot/jwt"
)

const jwtCookieName = "jwt-token"

type authenticatedHandler func(w http.ResponseWriter, r *http.Request, userID int)

type errorResponse struct {
	Error string `json:"error"`
}

type userResponse struct {
	ID    int    `json:"id"`
	Email string `json:"email"`
}

type usersResponse struct {
	Users []userResponse `json:"users"`
}

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// API holds the config and functionality for the HTTP REST/JSON API of the
// application
type API struct {
	db     database.Database // The authoritative event store
	cache  cache.Cache       // Cache for derived balances
	events *eventlog.Worker  // Background audit trail

	mu         sync.Mutex
	groupLocks map[int]*sync.Mutex // Serializes mutations per group
}

// serverPort is the TCP port the API listens on
var serverPort = flag.Int("server-port", 8080, "web server port")

var emailRegex = regexp.MustCompile("^[a-zA-Z0-9.!#$%&'*+\\/=?^_`{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$")

// NewAPI creates a new instance of the HTTP REST/JSON API for the
// application
func NewAPI(db database.Database, cache cache.Cache, events *eventlog.Worker) *API {
	return &API{
		db:         db,
		cache:      cache,
		events:     events,
		groupLocks: make(map[int]*sync.Mutex),
	}
}

// lockGroup takes the mutation lock for a group and returns the matching
// unlock. All writes to one group's event log go through here, so a write
// never interleaves with another write for the same group.
func (api *API) lockGroup(groupID int) func() {
	api.mu.Lock()
	lock, exists := api.groupLocks[groupID]
	if !exists {
		lock = new(sync.Mutex)
		api.groupLocks[groupID] = lock
	}
	api.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// writeJSON marshalls data into a response with content-type application/json
func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	result, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	io.WriteString(w, string(result))
}

// writeError writes a status code and error message
func writeError(w http.ResponseWriter, code int, message string) {
	w.WriteHeader(code)
	writeJSON(w, errorResponse{message})
}

// urlID parses a numeric URL parameter like {groupID}
func urlID(r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// signin handles user authentication with POST requests to the signin
// endpoint. If the user authenticates successfully, a JWT token is set in a
// cookie.
func (api *API) signin(w http.ResponseWriter, r *http.Request) {
	dbh := api.db.Connect()
	defer dbh.Close()

	var a authRequest
	err := json.NewDecoder(r.Body).Decode(&a)
	if err != nil {
		log.Print("Unable to decode and parse json")
		writeError(w, http.StatusBadRequest, "unable to decode and parse json")
		return
	}

	id, err := dbh.AuthenticateUser(a.Email, a.Password)
	if err != nil {
		switch err {
		case database.ErrNotFound, database.ErrPasswordMismatch:
			log.Printf("Authentication failed for '%s'", a.Email)
			writeError(w, http.StatusUnauthorized, "authorization failed")
			return
		default:
			panic(err)
		}
	}

	cookie := jwt.CreateCookie(id, jwtCookieName)
	http.SetCookie(w, &cookie)
}

// requireAuth is a handler wrapper that ensures a user is authenticated.
// The userID is passed on to the next handler in the chain; handlers only
// ever see an identity the token validation vouched for.
func (api *API) requireAuth(pass authenticatedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := jwt.TokenFromRequest(r, jwtCookieName)
		if token == "" {
			log.Printf("Missing jwt token")
			writeError(w, http.StatusUnauthorized, "authorization failed")
			return
		}

		userID, ok := jwt.VerifyToken(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "authorization failed")
			return
		}

		pass(w, r, userID)
	}
}

// getUsers returns all users in the database
func (api *API) getUsers(w http.ResponseWriter, r *http.Request, userID int) {
	dbh := api.db.Connect()
	defer dbh.Close()

	dbUsers := dbh.GetUsers()
	users := usersResponse{Users: make([]userResponse, len(dbUsers))}
	for i, u := range dbUsers {
		users.Users[i] = userResponse{ID: u.ID, Email: u.Email}
	}

	writeJSON(w, users)
}

// isEmailValid checks if the email provided passes the required structure
// and length
func isEmailValid(e string) bool {
	if len(e) < 3 || len(e) > 254 {
		return false
	}
	return emailRegex.MatchString(e)
}

// postUsers is the user registration endpoint. Some validation is done,
// then the user is added to the database. A 409 (conflict) is returned if
// the user already exists.
func (api *API) postUsers(w http.ResponseWriter, r *http.Request, userID int) {
	dbh := api.db.Connect()
	defer dbh.Close()

	var u createUserRequest
	err := json.NewDecoder(r.Body).Decode(&u)
	if err != nil {
		log.Print("Unable to decode and parse json")
		writeError(w, http.StatusBadRequest, "unable to decode and parse json")
		return
	}

	if len(u.Password) < 6 {
		log.Printf("Invalid password")
		writeError(w, http.StatusBadRequest, "invalid password: it must be at least 6 characters")
		return
	}

	if !isEmailValid(u.Email) {
		log.Printf("Invalid email '%s'", u.Email)
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}

	log.Printf("Adding user email='%s'", u.Email)

	id, err := dbh.CreateUser(u.Email, u.Password)
	if err != nil {
		switch err {
		case database.ErrDuplicate:
			log.Printf("User uniqueness failed for email '%s'", u.Email)
			writeError(w, http.StatusConflict, "a user with that email already exists")
			return
		default:
			panic(err)
		}
	}

	api.logEvent(eventlog.TypeUserCreated, map[string]string{
		"user_id": strconv.Itoa(id),
		"email":   u.Email,
	})

	writeJSON(w, userResponse{ID: id, Email: u.Email})
}

// health is a liveness endpoint
func (api *API) health(w http.ResponseWriter, r *http.Request) {
	api.logEvent(eventlog.TypeHealthRequest, map[string]string{"message": "ok"})
	io.WriteString(w, "ok")
}

// logEvent queues an audit event without blocking the request
func (api *API) logEvent(eventType string, data map[string]string) {
	api.events.Log(eventlog.NewEvent(eventlog.WithType(eventType), eventlog.WithData(data)))
}

// Router builds the HTTP routing table
func (api *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)

	r.Post("/signin", api.signin)
	r.Get("/health", api.health)

	r.Get("/users", api.requireAuth(api.getUsers))
	r.Post("/users", api.requireAuth(api.postUsers))

	r.Route("/groups", func(r chi.Router) {
		r.Post("/", api.requireAuth(api.postGroups))
		r.Route("/{groupID}", func(r chi.Router) {
			r.Delete("/", api.requireAuth(api.deleteGroup))
			r.Post("/members", api.requireAuth(api.postMembers))
			r.Delete("/members/{userID}", api.requireAuth(api.deleteMember))
			r.Get("/expenses", api.requireAuth(api.getExpenses))
			r.Post("/expenses", api.requireAuth(api.postExpenses))
			r.Delete("/expenses/{expenseID}", api.requireAuth(api.deleteExpense))
			r.Get("/settlements", api.requireAuth(api.getSettlements))
			r.Post("/settlements", api.requireAuth(api.postSettlements))
			r.Get("/balances", api.requireAuth(api.getBalances))
			r.Get("/suggested-settlements", api.requireAuth(api.getSuggestedSettlements))
			r.Get("/history", api.requireAuth(api.getHistory))
		})
	})

	return r
}

// Serve starts up the API on serverPort
func (api *API) Serve() {
	log.Printf("Listening on port %d", *serverPort)
	panic(http.ListenAndServe(fmt.Sprintf(":%d", *serverPort), api.Router()))
}

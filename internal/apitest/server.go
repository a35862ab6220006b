// Package apitest runs an in-memory fake of the carpool REST API for
// tests. It mirrors the documented endpoints, status codes and error
// bodies; it is not a server implementation.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atinyakov/carpool/internal/models"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Request is one request observed by the fake.
type Request struct {
	Method        string
	Path          string
	Authorization string
}

type account struct {
	id           int
	loginID      string
	password     string
	nickname     string
	email        string
	typ          models.UserType
	profileImage *string
}

// RouteRecord is the fake's stored form of a route.
type RouteRecord struct {
	ID            int
	DriverID      int
	Date          string
	Time          string
	StartLocation string
	Destination   string
	CarModel      string
	TotalSeats    int
	Available     int
	Description   string
	Passengers    []int
}

type failure struct {
	status int
	body   string
}

type hold struct {
	reached chan struct{}
	release chan struct{}
	once    sync.Once
}

// Server is the fake API. Its zero value is not usable; call NewServer.
type Server struct {
	srv *httptest.Server
	log *zap.Logger

	// AccessTTL and RefreshTTL bound issued tokens.
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	secret []byte

	mu        sync.Mutex
	accounts  map[int]*account
	byLogin   map[string]int
	routes    []*RouteRecord
	nextUser  int
	nextRoute int
	requests  []Request
	failures  map[string][]failure
	holds     map[string][]*hold
}

// NewServer starts the fake and stops it when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		log:        zap.NewNop(),
		AccessTTL:  5 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		secret:     []byte(uuid.NewString()),
		accounts:   make(map[int]*account),
		byLogin:    make(map[string]int),
		nextUser:   1,
		nextRoute:  1,
		failures:   make(map[string][]failure),
		holds:      make(map[string][]*hold),
	}
	s.srv = httptest.NewServer(s.router())
	t.Cleanup(s.srv.Close)
	return s
}

// URL is the API base URL, including the /api prefix.
func (s *Server) URL() string {
	return s.srv.URL + "/api"
}

// Client returns an *http.Client for the fake.
func (s *Server) Client() *http.Client {
	return s.srv.Client()
}

// Close stops the fake early, e.g. to simulate the API being unreachable.
func (s *Server) Close() {
	s.srv.Close()
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(s.withRequestLogging)
	r.Use(s.withInjectedFailures)
	r.Use(s.withHolds)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Post("/auth/register/", s.register)
		r.Post("/auth/token/", s.token)
		r.Post("/auth/token/refresh/", s.refresh)
		r.Get("/routes/", s.listRoutes)
		r.Get("/routes/{id}/", s.getRoute)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Get("/auth/me/", s.me)
			r.Get("/routes/my-bookings/", s.myBookings)
			r.Get("/routes/my-routes/", s.myRoutes)
			r.Post("/routes/", s.createRoute)
			r.Post("/routes/{id}/book/", s.book)
			r.Delete("/routes/{id}/book/", s.cancel)
		})
	})
	return r
}

func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
		})
		s.mu.Unlock()
		s.log.Debug("fake api request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
		)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withInjectedFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		s.mu.Lock()
		queue := s.failures[key]
		var f *failure
		if len(queue) > 0 {
			f = &queue[0]
			s.failures[key] = queue[1:]
		}
		s.mu.Unlock()
		if f != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(f.body))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withHolds(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		s.mu.Lock()
		var h *hold
		if queue := s.holds[key]; len(queue) > 0 {
			h = queue[0]
			s.holds[key] = queue[1:]
		}
		s.mu.Unlock()
		if h == nil {
			next.ServeHTTP(w, r)
			return
		}

		rec := httptest.NewRecorder()
		next.ServeHTTP(rec, r)
		close(h.reached)
		select {
		case <-h.release:
		case <-r.Context().Done():
			return
		}
		for k, v := range rec.Header() {
			w.Header()[k] = v
		}
		w.WriteHeader(rec.Code)
		_, _ = w.Write(rec.Body.Bytes())
	})
}

// HoldNext makes the next request to method and path build its response
// from the state at arrival, then wait for release before sending it.
// reached is closed once the response is built.
func (s *Server) HoldNext(method, path string) (reached <-chan struct{}, release func()) {
	h := &hold{reached: make(chan struct{}), release: make(chan struct{})}
	s.mu.Lock()
	key := method + " " + path
	s.holds[key] = append(s.holds[key], h)
	s.mu.Unlock()
	return h.reached, func() { h.once.Do(func() { close(h.release) }) }
}

// FailNext makes the next request to method and path (e.g. "/api/auth/me/")
// answer with status and body instead of reaching the handler.
func (s *Server) FailNext(method, path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	s.failures[key] = append(s.failures[key], failure{status: status, body: body})
}

// Requests returns every request seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many requests matched method and path.
func (s *Server) Count(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// AddUser seeds an account and returns its public form.
func (s *Server) AddUser(loginID, password string, typ models.UserType) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.addAccountLocked(loginID, password, loginID, loginID+"@example.com", typ, nil)
	return a.public()
}

func (s *Server) addAccountLocked(loginID, password, nickname, email string, typ models.UserType, image *string) *account {
	a := &account{
		id:           s.nextUser,
		loginID:      loginID,
		password:     password,
		nickname:     nickname,
		email:        email,
		typ:          typ,
		profileImage: image,
	}
	s.nextUser++
	s.accounts[a.id] = a
	s.byLogin[loginID] = a.id
	return a
}

// AddRoute seeds a route published by driverID.
func (s *Server) AddRoute(driverID models.ID, r models.NewRoute) models.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := strconv.Atoi(driverID.String())
	rec := s.addRouteLocked(id, r)
	return s.decodeRouteLocked(rec)
}

func (s *Server) addRouteLocked(driverID int, r models.NewRoute) *RouteRecord {
	rec := &RouteRecord{
		ID:            s.nextRoute,
		DriverID:      driverID,
		Date:          r.Date,
		Time:          r.Time,
		StartLocation: r.StartLocation,
		Destination:   r.Destination,
		CarModel:      r.CarModel,
		TotalSeats:    r.TotalSeats,
		Available:     r.TotalSeats,
		Description:   r.Description,
	}
	s.nextRoute++
	s.routes = append(s.routes, rec)
	return rec
}

// EditRoute changes a stored route in place.
func (s *Server) EditRoute(id models.ID, fn func(*RouteRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec := s.findRouteLocked(id.String()); rec != nil {
		fn(rec)
	}
}

// IssueToken signs a token for userID, as the auth service would.
func (s *Server) IssueToken(userID models.ID, tokenType string, ttl time.Duration) string {
	id, _ := strconv.Atoi(userID.String())
	tok, err := s.sign(id, tokenType, ttl)
	if err != nil {
		panic(err)
	}
	return tok
}

func (s *Server) sign(userID int, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id":    strconv.Itoa(userID),
		"token_type": tokenType,
		"jti":        uuid.NewString(),
		"iat":        now.Unix(),
		"exp":        now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) verify(raw, tokenType string) (int, bool) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || claims["token_type"] != tokenType {
		return 0, false
	}
	sub, _ := claims["user_id"].(string)
	id, err := strconv.Atoi(sub)
	if err != nil {
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) findRouteLocked(id string) *RouteRecord {
	n, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil {
		return nil
	}
	for _, r := range s.routes {
		if r.ID == n {
			return r
		}
	}
	return nil
}

// decodeRouteLocked renders rec as the wire payload and decodes it back,
// so seeded values go through the same JSON path as responses.
func (s *Server) decodeRouteLocked(rec *RouteRecord) models.Route {
	b, _ := json.Marshal(s.wireRouteLocked(rec))
	var out models.Route
	if err := json.Unmarshal(b, &out); err != nil {
		panic(fmt.Sprintf("apitest: decode route: %v", err))
	}
	return out
}

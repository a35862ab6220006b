package apitest

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/atinyakov/carpool/internal/models"
	"github.com/go-chi/chi/v5"
)

type ctxKey string

const accountKey ctxKey = "account"

type wireUser struct {
	ID           int     `json:"id"`
	LoginID      string  `json:"loginId"`
	Nickname     string  `json:"nickname"`
	Email        string  `json:"email"`
	Type         string  `json:"type"`
	ProfileImage *string `json:"profileImage"`
}

type wireRoute struct {
	ID               int        `json:"id"`
	DriverID         int        `json:"driverId"`
	DriverName       string     `json:"driverName"`
	DriverAvatar     *string    `json:"driverAvatar"`
	Date             string     `json:"date"`
	Time             string     `json:"time"`
	StartLocation    string     `json:"startLocation"`
	Destination      string     `json:"destination"`
	CarModel         string     `json:"carModel"`
	TotalSeats       int        `json:"totalSeats"`
	AvailableSeats   int        `json:"availableSeats"`
	Description      string     `json:"description"`
	Passengers       []int      `json:"passengers"`
	PassengerDetails []wireUser `json:"passengerDetails"`
}

func (a *account) wire() wireUser {
	return wireUser{
		ID:           a.id,
		LoginID:      a.loginID,
		Nickname:     a.nickname,
		Email:        a.email,
		Type:         string(a.typ),
		ProfileImage: a.profileImage,
	}
}

func (a *account) public() models.User {
	b, _ := json.Marshal(a.wire())
	var u models.User
	_ = json.Unmarshal(b, &u)
	return u
}

func (s *Server) wireRouteLocked(rec *RouteRecord) wireRoute {
	out := wireRoute{
		ID:               rec.ID,
		DriverID:         rec.DriverID,
		Date:             rec.Date,
		Time:             rec.Time,
		StartLocation:    rec.StartLocation,
		Destination:      rec.Destination,
		CarModel:         rec.CarModel,
		TotalSeats:       rec.TotalSeats,
		AvailableSeats:   rec.Available,
		Description:      rec.Description,
		Passengers:       append([]int{}, rec.Passengers...),
		PassengerDetails: []wireUser{},
	}
	if d := s.accounts[rec.DriverID]; d != nil {
		out.DriverName = d.nickname
		out.DriverAvatar = d.profileImage
	}
	for _, pid := range rec.Passengers {
		if p := s.accounts[pid]; p != nil {
			out.PassengerDetails = append(out.PassengerDetails, p.wire())
		}
	}
	return out
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || raw == "" {
			writeDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		id, ok := s.verify(raw, "access")
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "Given token not valid for any token type")
			return
		}
		s.mu.Lock()
		a := s.accounts[id]
		s.mu.Unlock()
		if a == nil {
			writeDetail(w, http.StatusUnauthorized, "User not found")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey, a)))
	})
}

func currentAccount(r *http.Request) *account {
	a, _ := r.Context().Value(accountKey).(*account)
	return a
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LoginID      string  `json:"loginId"`
		Nickname     string  `json:"nickname"`
		Email        string  `json:"email"`
		Type         string  `json:"type"`
		ProfileImage *string `json:"profileImage"`
		Password     string  `json:"password"`
		Password2    string  `json:"password2"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "JSON parse error")
		return
	}

	fields := map[string][]string{}
	if req.LoginID == "" {
		fields["loginId"] = []string{"This field is required."}
	}
	if !models.UserType(req.Type).Valid() {
		fields["type"] = []string{`"` + req.Type + `" is not a valid choice.`}
	}
	if req.Password != req.Password2 {
		fields["password2"] = []string{"Passwords do not match"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byLogin[req.LoginID]; taken && req.LoginID != "" {
		fields["loginId"] = []string{"A user with that username already exists."}
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, fields)
		return
	}

	a := s.addAccountLocked(req.LoginID, req.Password, req.Nickname, req.Email, models.UserType(req.Type), req.ProfileImage)
	writeJSON(w, http.StatusCreated, a.wire())
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "JSON parse error")
		return
	}
	s.mu.Lock()
	id, ok := s.byLogin[req.Username]
	var a *account
	if ok {
		a = s.accounts[id]
	}
	s.mu.Unlock()
	if a == nil || a.password != req.Password {
		writeDetail(w, http.StatusUnauthorized, "No active account found with the given credentials")
		return
	}

	access, err := s.sign(a.id, "access", s.AccessTTL)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	refresh, err := s.sign(a.id, "refresh", s.RefreshTTL)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "JSON parse error")
		return
	}
	id, ok := s.verify(req.Refresh, "refresh")
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "Token is invalid or expired",
			"code":   "token_not_valid",
		})
		return
	}
	access, err := s.sign(id, "access", s.AccessTTL)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": access})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentAccount(r).wire())
}

func (s *Server) listWhere(w http.ResponseWriter, keep func(*RouteRecord) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []wireRoute{}
	for _, rec := range s.routes {
		if keep(rec) {
			out = append(out, s.wireRouteLocked(rec))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listRoutes(w http.ResponseWriter, _ *http.Request) {
	s.listWhere(w, func(*RouteRecord) bool { return true })
}

func (s *Server) myRoutes(w http.ResponseWriter, r *http.Request) {
	me := currentAccount(r)
	s.listWhere(w, func(rec *RouteRecord) bool { return rec.DriverID == me.id })
}

func (s *Server) myBookings(w http.ResponseWriter, r *http.Request) {
	me := currentAccount(r)
	s.listWhere(w, func(rec *RouteRecord) bool {
		for _, p := range rec.Passengers {
			if p == me.id {
				return true
			}
		}
		return false
	})
}

func (s *Server) getRoute(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.findRouteLocked(chi.URLParam(r, "id"))
	if rec == nil {
		writeDetail(w, http.StatusNotFound, "No Route matches the given query.")
		return
	}
	writeJSON(w, http.StatusOK, s.wireRouteLocked(rec))
}

func (s *Server) createRoute(w http.ResponseWriter, r *http.Request) {
	me := currentAccount(r)
	if me.typ != models.Driver {
		writeDetail(w, http.StatusForbidden, "Only drivers can publish routes")
		return
	}
	var req models.NewRoute
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "JSON parse error")
		return
	}
	if req.TotalSeats <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string][]string{
			"totalSeats": {"Ensure this value is greater than or equal to 1."},
		})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.addRouteLocked(me.id, req)
	writeJSON(w, http.StatusCreated, s.wireRouteLocked(rec))
}

func (s *Server) book(w http.ResponseWriter, r *http.Request) {
	me := currentAccount(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.findRouteLocked(chi.URLParam(r, "id"))
	if rec == nil {
		writeDetail(w, http.StatusNotFound, "No Route matches the given query.")
		return
	}
	if me.typ != models.Passenger {
		writeDetail(w, http.StatusForbidden, "Only passengers can book routes")
		return
	}
	if rec.Available <= 0 {
		writeDetail(w, http.StatusBadRequest, "No seats available")
		return
	}
	for _, p := range rec.Passengers {
		if p == me.id {
			writeDetail(w, http.StatusBadRequest, "You already booked this route")
			return
		}
	}
	rec.Passengers = append(rec.Passengers, me.id)
	rec.Available--
	writeJSON(w, http.StatusOK, s.wireRouteLocked(rec))
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	me := currentAccount(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.findRouteLocked(chi.URLParam(r, "id"))
	if rec == nil {
		writeDetail(w, http.StatusNotFound, "No Route matches the given query.")
		return
	}
	if me.typ != models.Passenger {
		writeDetail(w, http.StatusForbidden, "Only passengers can book routes")
		return
	}
	kept := rec.Passengers[:0]
	found := false
	for _, p := range rec.Passengers {
		if p == me.id {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		writeDetail(w, http.StatusBadRequest, "Booking not found")
		return
	}
	rec.Passengers = kept
	rec.Available++
	writeJSON(w, http.StatusOK, s.wireRouteLocked(rec))
}

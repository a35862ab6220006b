package shell

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/atinyakov/carpool/internal/models"
	"github.com/oapi-codegen/nullable"
)

// prompt prints label and reads one trimmed line. ok is false on EOF.
func (s *Shell) prompt(label string) (string, bool) {
	s.printf("%s: ", label)
	if !s.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.in.Text()), true
}

type field struct {
	label string
	dst   *string
}

func (s *Shell) promptAll(fields ...field) bool {
	for _, f := range fields {
		v, ok := s.prompt(f.label)
		if !ok {
			return false
		}
		*f.dst = v
	}
	return true
}

func (s *Shell) register(ctx context.Context) error {
	var p models.Profile
	var typ, image, password, confirm string
	if !s.promptAll(
		field{"Login", &p.LoginID},
		field{"Nickname", &p.Nickname},
		field{"Email", &p.Email},
		field{"Type (passenger/driver)", &typ},
		field{"Profile image URL (empty for none)", &image},
		field{"Password", &password},
		field{"Repeat password", &confirm},
	) {
		return nil
	}
	p.Type = models.UserType(strings.ToLower(typ))
	if image == "" {
		p.ProfileImage = nullable.NewNullNullable[string]()
	} else {
		p.ProfileImage = nullable.NewNullableWithValue(image)
	}

	if err := s.app.Session.Register(ctx, p, password, confirm); err != nil {
		return err
	}
	u, _ := s.app.Session.CurrentUser()
	s.printf("Welcome, %s!\n", u.Nickname)
	return nil
}

func (s *Shell) login(ctx context.Context) error {
	var loginID, password, remember string
	if !s.promptAll(
		field{"Login", &loginID},
		field{"Password", &password},
		field{"Remember me? (y/N)", &remember},
	) {
		return nil
	}
	rememberMe := strings.EqualFold(remember, "y") || strings.EqualFold(remember, "yes")

	if err := s.app.Session.Login(ctx, loginID, password, rememberMe); err != nil {
		return err
	}
	u, _ := s.app.Session.CurrentUser()
	s.printf("Logged in as %s (%s)\n", u.Nickname, u.Type)
	return nil
}

func (s *Shell) promptRoute() (models.NewRoute, bool) {
	var r models.NewRoute
	var seats string
	if !s.promptAll(
		field{"Date (YYYY-MM-DD)", &r.Date},
		field{"Time (HH:MM)", &r.Time},
		field{"From", &r.StartLocation},
		field{"To", &r.Destination},
		field{"Car model", &r.CarModel},
		field{"Seats", &seats},
		field{"Description", &r.Description},
	) {
		return models.NewRoute{}, false
	}
	n, err := strconv.Atoi(seats)
	if err != nil || n <= 0 {
		s.println("Seats must be a positive number")
		return models.NewRoute{}, false
	}
	r.TotalSeats = n
	return r, true
}

func formatSeats(r models.Route) string {
	return fmt.Sprintf("%d/%d seats", r.AvailableSeats, r.TotalSeats)
}

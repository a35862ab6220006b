// Package shell is the interactive terminal front end. It only reads state
// and calls core operations; every view goes through the navigation guard.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/atinyakov/carpool/internal/client/api"
	"github.com/atinyakov/carpool/internal/client/app"
	"github.com/atinyakov/carpool/internal/client/guard"
	"github.com/atinyakov/carpool/internal/client/session"
	"github.com/atinyakov/carpool/internal/models"
	"go.uber.org/zap"
)

const helpText = `Available commands:
  help                 show this help
  register             create an account and log in
  login                log in
  logout               log out
  whoami               show the current user
  health               check the API
  routes               list all routes
  route <id>           show one route
  my-bookings          list routes you booked (passengers)
  my-routes            list routes you published (drivers)
  publish              publish a route (drivers)
  book <id>            book a seat
  cancel <id>          cancel a booking
  open <path>          open a page, e.g. /routes/42
  refresh              renew the access token
  token                show when the access token expires
  exit                 quit`

// Shell reads commands from in and writes to out.
type Shell struct {
	app *app.App
	in  *bufio.Scanner
	out io.Writer
	log *zap.Logger

	views map[string]func(ctx context.Context, t guard.Target) error
}

// New returns a Shell over a.
func New(a *app.App, in io.Reader, out io.Writer, log *zap.Logger) *Shell {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Shell{
		app: a,
		in:  bufio.NewScanner(in),
		out: out,
		log: log,
	}
	s.views = map[string]func(context.Context, guard.Target) error{
		"home":         s.viewHome,
		"auth":         s.viewAuth,
		"publish":      s.viewPublish,
		"my-bookings":  s.viewMyBookings,
		"my-routes":    s.viewMyRoutes,
		"route-detail": s.viewRouteDetail,
	}
	return s
}

func (s *Shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *Shell) println(args ...any) {
	fmt.Fprintln(s.out, args...)
}

// Run processes commands until exit, EOF or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.printf("carpool> ")
		if !s.in.Scan() {
			s.println()
			return s.in.Err()
		}
		args := strings.Fields(s.in.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			s.println("Bye")
			return nil
		}
		if err := s.dispatch(ctx, args); err != nil {
			s.report(err)
		}
	}
}

func (s *Shell) dispatch(ctx context.Context, args []string) error {
	switch args[0] {
	case "help":
		s.println(helpText)
	case "register":
		return s.register(ctx)
	case "login":
		return s.login(ctx)
	case "logout":
		if err := s.app.Session.Logout(ctx); err != nil {
			return err
		}
		s.app.Cache.Reset()
		s.println("Logged out")
	case "whoami":
		u, ok := s.app.Session.CurrentUser()
		if !ok {
			s.println("Not logged in")
			return nil
		}
		s.printf("%s (%s) <%s> %s\n", u.Nickname, u.LoginID, u.Email, u.Type)
		if img := models.Image(u.ProfileImage); img != "" {
			s.printf("  avatar %s\n", img)
		}
		tiers, err := s.app.Vault.Holding(ctx)
		if err != nil {
			return err
		}
		for _, t := range tiers {
			s.printf("  token stored in %s tier\n", t)
		}
	case "health":
		status, err := s.app.API.Health(ctx)
		if err != nil {
			return err
		}
		s.printf("API status: %s\n", status)
	case "routes":
		return s.open(ctx, "/")
	case "my-bookings", "my-routes", "publish":
		return s.open(ctx, "/"+args[0])
	case "route":
		if len(args) < 2 {
			s.println("Usage: route <id>")
			return nil
		}
		return s.open(ctx, "/routes/"+args[1])
	case "open":
		if len(args) < 2 {
			s.println("Usage: open <path>")
			return nil
		}
		return s.open(ctx, args[1])
	case "book", "cancel":
		if len(args) < 2 {
			s.printf("Usage: %s <id>\n", args[0])
			return nil
		}
		return s.booking(ctx, args[0], models.ID(args[1]))
	case "refresh":
		if err := s.app.Session.Refresh(ctx); err != nil {
			return err
		}
		s.println("Token refreshed")
	case "token":
		exp, err := s.app.Session.TokenExpiry(ctx)
		if err != nil {
			return err
		}
		s.printf("Access token expires at %s\n", exp.Local().Format("2006-01-02 15:04:05"))
	default:
		s.println("Unknown command. Type 'help' for a list of commands.")
	}
	return nil
}

// open navigates to path and renders the page the guard lands on.
func (s *Shell) open(ctx context.Context, path string) error {
	res, err := s.app.Guard.Navigate(ctx, path)
	if errors.Is(err, guard.ErrUnknownRoute) {
		s.printf("No page at %s\n", path)
		return nil
	}
	if err != nil {
		return err
	}
	if res.Decision != guard.Allow {
		switch res.Decision {
		case guard.RedirectLogin:
			s.println("Please log in first.")
		case guard.RedirectHome:
			s.println("This page is not available for your account type.")
		}
		return s.open(ctx, res.Redirect)
	}
	view, ok := s.views[res.Target.Name]
	if !ok {
		s.printf("No page at %s\n", path)
		return nil
	}
	return view(ctx, res.Target)
}

func (s *Shell) booking(ctx context.Context, action string, id models.ID) error {
	var (
		r   models.Route
		err error
	)
	if action == "book" {
		r, err = s.app.Cache.BookRoute(ctx, id)
	} else {
		r, err = s.app.Cache.CancelBooking(ctx, id)
	}
	if err != nil {
		return err
	}
	if action == "book" {
		s.printf("Booked route #%s, %d seats left\n", r.ID, r.AvailableSeats)
	} else {
		s.printf("Cancelled booking on route #%s, %d seats left\n", r.ID, r.AvailableSeats)
	}
	return nil
}

func (s *Shell) report(err error) {
	s.log.Debug("command failed", zap.Error(err))

	var authErr *session.AuthenticationError
	var valErr *session.ValidationError
	var te *api.TransportError
	switch {
	case errors.As(err, &authErr):
		s.printf("Login failed: %s\n", orDefault(authErr.Detail, "invalid credentials"))
	case errors.As(err, &valErr):
		s.println("Registration failed:")
		if len(valErr.Fields) == 0 {
			s.printf("  %s\n", orDefault(valErr.Detail, "rejected by server"))
		}
		for _, line := range strings.Split(api.FormatFields(valErr.Fields), "; ") {
			if line != "" {
				s.printf("  %s\n", line)
			}
		}
	case errors.Is(err, session.ErrNoToken):
		s.println("Not logged in")
	case errors.As(err, &te) && te.Status != 0:
		msg := te.Detail
		if fields := te.Fields(); msg == "" && len(fields) > 0 {
			msg = api.FormatFields(fields)
		}
		s.printf("Error (%d): %s\n", te.Status, orDefault(msg, "request failed"))
	default:
		s.printf("Error: %v\n", err)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

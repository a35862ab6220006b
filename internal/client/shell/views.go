package shell

import (
	"context"

	"github.com/atinyakov/carpool/internal/client/guard"
	"github.com/atinyakov/carpool/internal/models"
)

func (s *Shell) list(title string, routes []models.Route) {
	if len(routes) == 0 {
		s.printf("%s: none\n", title)
		return
	}
	s.printf("%s:\n", title)
	for _, r := range routes {
		s.printf("  #%s %s %s  %s -> %s  %s  driver %s\n",
			r.ID, r.Date, r.Time, r.StartLocation, r.Destination, formatSeats(r), r.DriverName)
	}
}

func (s *Shell) viewHome(ctx context.Context, _ guard.Target) error {
	if err := s.app.Cache.FetchRoutes(ctx); err != nil {
		return err
	}
	s.list("Routes", s.app.Cache.Routes())
	return nil
}

func (s *Shell) viewAuth(context.Context, guard.Target) error {
	s.println("Use 'login' or 'register' to continue.")
	return nil
}

func (s *Shell) viewMyBookings(ctx context.Context, _ guard.Target) error {
	if err := s.app.Cache.FetchMyBookings(ctx); err != nil {
		return err
	}
	s.list("My bookings", s.app.Cache.MyBookings())
	return nil
}

func (s *Shell) viewMyRoutes(ctx context.Context, _ guard.Target) error {
	if err := s.app.Cache.FetchMyRoutes(ctx); err != nil {
		return err
	}
	s.list("My routes", s.app.Cache.MyRoutes())
	return nil
}

func (s *Shell) viewPublish(ctx context.Context, _ guard.Target) error {
	data, ok := s.promptRoute()
	if !ok {
		return nil
	}
	r, err := s.app.Cache.AddRoute(ctx, data)
	if err != nil {
		return err
	}
	s.printf("Published route #%s\n", r.ID)
	return nil
}

func (s *Shell) viewRouteDetail(ctx context.Context, t guard.Target) error {
	r, err := s.app.Cache.FetchRouteByID(ctx, models.ID(t.Params["id"]))
	if err != nil {
		return err
	}
	s.printf("Route #%s\n", r.ID)
	s.printf("  %s %s  %s -> %s\n", r.Date, r.Time, r.StartLocation, r.Destination)
	s.printf("  car %s, %s\n", orDefault(r.CarModel, "unknown"), formatSeats(r))

	driver := r.DriverName
	if u, ok := s.app.Session.UserByID(r.DriverID); ok && u.Nickname != "" {
		driver = u.Nickname
	}
	s.printf("  driver %s\n", orDefault(driver, string(r.DriverID)))
	if r.Description != "" {
		s.printf("  %s\n", r.Description)
	}
	if len(r.PassengerDetails) > 0 {
		s.println("  passengers:")
		for _, p := range r.PassengerDetails {
			s.printf("    %s\n", p.Nickname)
		}
	}
	if me, ok := s.app.Session.CurrentUser(); ok && me.Type == models.Passenger {
		for _, p := range r.Passengers {
			if p == me.ID {
				s.println("  you have booked this route")
				break
			}
		}
	}
	return nil
}

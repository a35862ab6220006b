// Package cache holds the normalized route collections and fans the
// identities found in route payloads out to the shared user cache.
package cache

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/atinyakov/carpool/internal/client/api"
	"github.com/atinyakov/carpool/internal/models"
	"go.uber.org/zap"
)

// TokenSource supplies the stored access token for authenticated calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, bool)
}

// UserSink receives the users revealed by route payloads.
type UserSink interface {
	CacheUsers(users ...models.User)
}

// Store is the entity cache. routes, myBookings and myRoutes are
// independent views and may hold the same route id.
type Store struct {
	api    *api.Client
	tokens TokenSource
	users  UserSink
	log    *zap.Logger

	mu         sync.RWMutex
	routes     []models.Route
	myBookings []models.Route
	myRoutes   []models.Route
}

// NewStore returns an empty Store. tokens and users may be nil.
func NewStore(client *api.Client, tokens TokenSource, users UserSink, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		api:    client,
		tokens: tokens,
		users:  users,
		log:    log,
	}
}

func routePath(id models.ID, suffix string) string {
	return "/routes/" + url.PathEscape(id.Canonical().String()) + "/" + suffix
}

func (s *Store) authOpts(ctx context.Context) []api.RequestOption {
	if s.tokens == nil {
		return nil
	}
	if tok, ok := s.tokens.AccessToken(ctx); ok {
		return []api.RequestOption{api.WithBearer(tok)}
	}
	return nil
}

func (s *Store) fetchList(ctx context.Context, path string, auth bool) ([]models.Route, error) {
	var opts []api.RequestOption
	if auth {
		opts = s.authOpts(ctx)
	}
	var raw []models.Route
	if err := s.api.Get(ctx, path, &raw, opts...); err != nil {
		return nil, err
	}
	out := make([]models.Route, 0, len(raw))
	for _, r := range raw {
		out = append(out, models.NormalizeRoute(r))
	}
	s.fanOut(out...)
	return out, nil
}

func (s *Store) fanOut(routes ...models.Route) {
	if s.users == nil {
		return
	}
	for _, r := range routes {
		s.users.CacheUsers(models.UsersFromRoute(r)...)
	}
}

// FetchRoutes replaces the catalog with the server listing.
func (s *Store) FetchRoutes(ctx context.Context) error {
	routes, err := s.fetchList(ctx, "/routes/", false)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.routes = routes
	s.mu.Unlock()
	return nil
}

// FetchMyBookings replaces the bookings view.
func (s *Store) FetchMyBookings(ctx context.Context) error {
	routes, err := s.fetchList(ctx, "/routes/my-bookings/", true)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.myBookings = routes
	s.mu.Unlock()
	return nil
}

// FetchMyRoutes replaces the published-routes view.
func (s *Store) FetchMyRoutes(ctx context.Context) error {
	routes, err := s.fetchList(ctx, "/routes/my-routes/", true)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.myRoutes = routes
	s.mu.Unlock()
	return nil
}

// FetchRouteByID loads one route and merges it into the catalog.
func (s *Store) FetchRouteByID(ctx context.Context, id models.ID) (models.Route, error) {
	var r models.Route
	if err := s.api.Get(ctx, routePath(id, ""), &r); err != nil {
		return models.Route{}, err
	}
	merged := s.MergeRoute(r)
	s.fanOut(merged)
	return merged, nil
}

// AddRoute publishes a route. The result is merged into the catalog and
// prepended to myRoutes.
func (s *Store) AddRoute(ctx context.Context, data models.NewRoute) (models.Route, error) {
	var r models.Route
	if err := s.api.Post(ctx, "/routes/", data, &r, s.authOpts(ctx)...); err != nil {
		return models.Route{}, err
	}
	merged := s.MergeRoute(r)

	s.mu.Lock()
	s.myRoutes = append([]models.Route{models.NormalizeRoute(merged)}, s.myRoutes...)
	s.mu.Unlock()

	s.log.Info("route published", zap.String("route_id", merged.ID.String()))
	return merged, nil
}

// BookRoute books a seat, merges the updated route and refetches
// myBookings.
func (s *Store) BookRoute(ctx context.Context, id models.ID) (models.Route, error) {
	var r models.Route
	if err := s.api.Post(ctx, routePath(id, "book/"), struct{}{}, &r, s.authOpts(ctx)...); err != nil {
		return models.Route{}, err
	}
	return s.afterBooking(ctx, r)
}

// CancelBooking cancels a booking, merges the updated route and refetches
// myBookings.
func (s *Store) CancelBooking(ctx context.Context, id models.ID) (models.Route, error) {
	var r models.Route
	if err := s.api.Delete(ctx, routePath(id, "book/"), &r, s.authOpts(ctx)...); err != nil {
		return models.Route{}, err
	}
	return s.afterBooking(ctx, r)
}

// afterBooking merges r and refetches myBookings. The merged route is
// returned even when the refetch fails.
func (s *Store) afterBooking(ctx context.Context, r models.Route) (models.Route, error) {
	merged := s.MergeRoute(r)
	if err := s.FetchMyBookings(ctx); err != nil {
		return merged, err
	}
	return merged, nil
}

// MergeRoute normalizes r, replaces the catalog entry with the same id in
// place, or inserts it at the front.
func (s *Store) MergeRoute(r models.Route) models.Route {
	n := models.NormalizeRoute(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.routes {
		if s.routes[i].ID == n.ID {
			s.routes[i] = n
			return models.NormalizeRoute(n)
		}
	}
	s.routes = append([]models.Route{n}, s.routes...)
	return models.NormalizeRoute(n)
}

// RouteByID searches routes, then myRoutes, then myBookings.
func (s *Store) RouteByID(id models.ID) (models.Route, bool) {
	id = id.Canonical()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, coll := range [][]models.Route{s.routes, s.myRoutes, s.myBookings} {
		for _, r := range coll {
			if r.ID == id {
				return models.NormalizeRoute(r), true
			}
		}
	}
	return models.Route{}, false
}

// Routes returns a copy of the catalog.
func (s *Store) Routes() []models.Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.routes)
}

// MyBookings returns a copy of the bookings view.
func (s *Store) MyBookings() []models.Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.myBookings)
}

// MyRoutes returns a copy of the published-routes view.
func (s *Store) MyRoutes() []models.Route {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.myRoutes)
}

// Reset empties every collection.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = nil
	s.myBookings = nil
	s.myRoutes = nil
}

// StartAutoRefresh refetches the catalog every interval until ctx is done.
// A non-positive interval disables it.
func (s *Store) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.FetchRoutes(ctx); err != nil {
					if ctx.Err() != nil {
						return
					}
					s.log.Error("failed to refresh routes", zap.Error(err))
					continue
				}
				s.log.Debug("routes refreshed")
			}
		}
	}()
}

// clone copies rs so callers cannot reach the cached slices. Routes are
// already normalized, so NormalizeRoute only copies.
func clone(rs []models.Route) []models.Route {
	out := make([]models.Route, 0, len(rs))
	for _, r := range rs {
		out = append(out, models.NormalizeRoute(r))
	}
	return out
}

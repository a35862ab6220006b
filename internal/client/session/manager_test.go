package session

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/atinyakov/carpool/internal/apitest"
	"github.com/atinyakov/carpool/internal/client/api"
	"github.com/atinyakov/carpool/internal/client/storage"
	"github.com/atinyakov/carpool/internal/models"
	"github.com/oapi-codegen/nullable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv      *apitest.Server
	client   *api.Client
	durable  *storage.MemoryStore
	volatile *storage.MemoryStore
	vault    *storage.Vault
	mgr      *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		srv:      apitest.NewServer(t),
		durable:  storage.NewMemoryStore(),
		volatile: storage.NewMemoryStore(),
	}
	f.vault = storage.NewVault(f.durable, f.volatile)
	f.reload()
	return f
}

// reload builds a fresh client and manager over the same storage, as a page
// reload would.
func (f *fixture) reload() {
	f.client = api.New(f.srv.URL(), f.srv.Client(), nil)
	f.mgr = NewManager(f.client, f.vault, nil)
}

func (f *fixture) holding(t *testing.T) []storage.Tier {
	t.Helper()
	tiers, err := f.vault.Holding(context.Background())
	require.NoError(t, err)
	return tiers
}

func TestLogin_RememberMeSelectsTier(t *testing.T) {
	f := newFixture(t)
	f.srv.AddUser("kim", "pw", models.Driver)
	ctx := context.Background()

	require.NoError(t, f.mgr.Login(ctx, "kim", "pw", true))
	assert.Equal(t, []storage.Tier{storage.TierDurable}, f.holding(t))
	assert.True(t, f.mgr.IsAuthenticated())

	require.NoError(t, f.mgr.Login(ctx, "kim", "pw", false))
	assert.Equal(t, []storage.Tier{storage.TierVolatile}, f.holding(t))

	require.NoError(t, f.mgr.Login(ctx, "kim", "pw", true))
	assert.Equal(t, []storage.Tier{storage.TierDurable}, f.holding(t))

	require.NoError(t, f.mgr.Logout(ctx))
	assert.Empty(t, f.holding(t))
}

func TestLogin_SetsHeaderBeforeProfileFetch(t *testing.T) {
	f := newFixture(t)
	f.srv.AddUser("kim", "pw", models.Passenger)
	ctx := context.Background()

	require.NoError(t, f.mgr.Login(ctx, "kim", "pw", false))

	snap := f.mgr.Snapshot()
	require.NotNil(t, snap.Tokens)
	require.NotNil(t, snap.User)
	assert.Equal(t, snap.Tokens.Access, f.client.AuthToken())

	reqs := f.srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/api/auth/token/", reqs[0].Path)
	assert.Equal(t, "/api/auth/me/", reqs[1].Path)
	assert.Equal(t, "Bearer "+snap.Tokens.Access, reqs[1].Authorization)

	u, ok := f.mgr.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "kim", u.LoginID)
	assert.Equal(t, models.Passenger, u.Type)
	assert.True(t, u.ProfileImage.IsNull())

	cached, ok := f.mgr.UserByID(u.ID)
	require.True(t, ok)
	assert.Equal(t, u, cached)
}

func TestLogin_BadCredentials(t *testing.T) {
	f := newFixture(t)
	f.srv.AddUser("kim", "pw", models.Driver)

	err := f.mgr.Login(context.Background(), "kim", "wrong", true)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Error(), "No active account")
	assert.Equal(t, http.StatusUnauthorized, api.StatusOf(err))

	assert.False(t, f.mgr.IsAuthenticated())
	assert.Empty(t, f.holding(t))
	assert.Empty(t, f.client.AuthToken())
}

func TestLogin_ProfileFetchFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.srv.AddUser("kim", "pw", models.Driver)
	f.srv.FailNext(http.MethodGet, "/api/auth/me/", http.StatusInternalServerError, `{"detail":"boom"}`)

	err := f.mgr.Login(context.Background(), "kim", "pw", true)
	var te *api.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusInternalServerError, te.Status)
	assert.False(t, f.mgr.IsAuthenticated())
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := models.Profile{
		LoginID:      "lee",
		Nickname:     "Lee",
		Email:        "lee@example.com",
		Type:         models.Passenger,
		ProfileImage: nullable.NewNullableWithValue("lee.png"),
	}

	require.NoError(t, f.mgr.Register(ctx, profile, "pw", "pw"))
	u, ok := f.mgr.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "Lee", u.Nickname)
	assert.Equal(t, "lee.png", models.Image(u.ProfileImage))
	assert.Equal(t, []storage.Tier{storage.TierDurable}, f.holding(t), "registration logs in with rememberMe")

	err := f.mgr.Register(ctx, profile, "pw", "pw")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "loginId")
}

func TestRegister_PasswordMismatch(t *testing.T) {
	f := newFixture(t)
	profile := models.Profile{LoginID: "lee", Nickname: "Lee", Type: models.Passenger}

	err := f.mgr.Register(context.Background(), profile, "pw", "other")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"Passwords do not match"}, verr.Fields["password2"])
	assert.Equal(t, "registration rejected: password2: Passwords do not match", verr.Error())
	assert.Equal(t, 0, f.srv.Count(http.MethodPost, "/api/auth/token/"))
	assert.False(t, f.mgr.IsAuthenticated())
}

func TestFetchMe_NoToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.FetchMe(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
	assert.Equal(t, 0, f.srv.Count(http.MethodGet, "/api/auth/me/"))
}

func TestCheckAuth_NoTokenIsSilent(t *testing.T) {
	f := newFixture(t)
	f.client.SetAuthToken("stale")

	f.mgr.CheckAuth(context.Background())

	assert.False(t, f.mgr.IsAuthenticated())
	assert.Empty(t, f.client.AuthToken())
	assert.Empty(t, f.srv.Requests())
}

func TestCheckAuth_RestoresAfterReload(t *testing.T) {
	f := newFixture(t)
	f.srv.AddUser("kim", "pw", models.Passenger)
	ctx := context.Background()

	require.NoError(t, f.mgr.Login(ctx, "kim", "pw", false))
	access := f.client.AuthToken()

	f.reload()
	assert.False(t, f.mgr.IsAuthenticated())
	assert.Empty(t, f.client.AuthToken())

	f.mgr.CheckAuth(ctx)
	assert.True(t, f.mgr.IsAuthenticated())
	assert.Equal(t, access, f.client.AuthToken())
	assert.Equal(t, []storage.Tier{storage.TierVolatile}, f.holding(t))
	assert.Equal(t, 1, f.srv.Count(http.MethodPost, "/api/auth/token/"), "no second credential exchange")
}

func TestCheckAuth_FailureLogsOut(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture)
	}{
		{
			name: "rejected token",
			setup: func(t *testing.T, f *fixture) {
				f.srv.FailNext(http.MethodGet, "/api/auth/me/", http.StatusUnauthorized, `{"detail":"Token is invalid or expired"}`)
			},
		},
		{
			name: "expired token",
			setup: func(t *testing.T, f *fixture) {
				u, _ := f.mgr.CurrentUser()
				expired := f.srv.IssueToken(u.ID, "access", -time.Minute)
				require.NoError(t, f.vault.Save(context.Background(), models.TokenPair{Access: expired, Refresh: "r"}, true))
			},
		},
		{
			name: "network error",
			setup: func(t *testing.T, f *fixture) {
				f.srv.Close()
			},
		},
		{
			name: "corrupt record",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.durable.Set(context.Background(), storage.TokenKey, []byte("{")))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.srv.AddUser("kim", "pw", models.Driver)
			ctx := context.Background()
			require.NoError(t, f.mgr.Login(ctx, "kim", "pw", true))

			tt.setup(t, f)
			f.reload()
			f.client.SetAuthToken("left-over")

			assert.NotPanics(t, func() { f.mgr.CheckAuth(ctx) })
			assert.False(t, f.mgr.IsAuthenticated())
			assert.Empty(t, f.client.AuthToken())
			assert.Empty(t, f.holding(t))
		})
	}
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	f.srv.AddUser("kim", "pw", models.Driver)
	ctx := context.Background()
	require.NoError(t, f.mgr.Login(ctx, "kim", "pw", false))
	// A stale durable record from an older login must go too.
	require.NoError(t, f.durable.Set(ctx, storage.TokenKey, []byte(`{"access":"old"}`)))

	require.NoError(t, f.mgr.Logout(ctx))

	assert.False(t, f.mgr.IsAuthenticated())
	assert.Nil(t, f.mgr.Snapshot().Tokens)
	assert.Empty(t, f.client.AuthToken())
	assert.Empty(t, f.holding(t))
}

type brokenStore struct{ storage.Store }

func (brokenStore) Delete(context.Context, string) error { return errors.New("disk gone") }

func TestLogout_StorageErrorStillClearsMemory(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddUser("kim", "pw", models.Driver)
	client := api.New(srv.URL(), srv.Client(), nil)
	mgr := NewManager(client, storage.NewVault(storage.NewMemoryStore(), brokenStore{storage.NewMemoryStore()}), nil)
	ctx := context.Background()

	// Save deletes from the volatile tier, so login itself fails on this store.
	err := mgr.Login(ctx, "kim", "pw", true)
	require.ErrorContains(t, err, "disk gone")

	client.SetAuthToken("x")
	err = mgr.Logout(ctx)
	require.ErrorContains(t, err, "disk gone")
	assert.False(t, mgr.IsAuthenticated())
	assert.Empty(t, client.AuthToken())
}

func TestCacheUsers(t *testing.T) {
	f := newFixture(t)

	f.mgr.CacheUsers(
		models.User{ID: " 7 ", Nickname: "first", Type: models.Driver, ProfileImage: nullable.NewNullableWithValue("")},
		models.User{ID: "8", Nickname: "other", Type: models.Passenger},
	)
	u, ok := f.mgr.UserByID("7")
	require.True(t, ok)
	assert.Equal(t, models.ID("7"), u.ID)
	assert.True(t, u.ProfileImage.IsNull())

	f.mgr.CacheUsers(models.User{ID: "7", Nickname: "second", Type: models.Driver})
	u, _ = f.mgr.UserByID("7")
	assert.Equal(t, "second", u.Nickname, "last write wins")

	_, ok = f.mgr.UserByID("404")
	assert.False(t, ok)

	f.mgr.Reset()
	_, ok = f.mgr.UserByID("7")
	assert.False(t, ok)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	f.srv.AddUser("kim", "pw", models.Driver)
	ctx := context.Background()

	assert.ErrorIs(t, f.mgr.Refresh(ctx), ErrNoToken)

	require.NoError(t, f.mgr.Login(ctx, "kim", "pw", false))
	before := *f.mgr.Snapshot().Tokens

	require.NoError(t, f.mgr.Refresh(ctx))
	after := *f.mgr.Snapshot().Tokens
	assert.NotEqual(t, before.Access, after.Access)
	assert.Equal(t, before.Refresh, after.Refresh)
	assert.Equal(t, after.Access, f.client.AuthToken())

	stored, tier, err := f.vault.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, after, stored)
	assert.Equal(t, storage.TierVolatile, tier)

	_, err = f.mgr.FetchMe(ctx)
	assert.NoError(t, err, "refreshed token must be accepted")
}

func TestRefresh_Rejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.vault.Save(context.Background(), models.TokenPair{Access: "a", Refresh: "garbage"}, true))

	err := f.mgr.Refresh(context.Background())
	assert.Equal(t, http.StatusUnauthorized, api.StatusOf(err))
}

func TestTokenExpiry(t *testing.T) {
	f := newFixture(t)
	f.srv.AddUser("kim", "pw", models.Driver)
	ctx := context.Background()

	_, err := f.mgr.TokenExpiry(ctx)
	assert.ErrorIs(t, err, ErrNoToken)

	require.NoError(t, f.mgr.Login(ctx, "kim", "pw", true))
	exp, err := f.mgr.TokenExpiry(ctx)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(f.srv.AccessTTL), exp, 5*time.Second)

	require.NoError(t, f.vault.Save(ctx, models.TokenPair{Access: "opaque", Refresh: "r"}, true))
	_, err = f.mgr.TokenExpiry(ctx)
	assert.ErrorContains(t, err, "decode access token")
}

func TestAccessToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, ok := f.mgr.AccessToken(ctx)
	assert.False(t, ok)

	require.NoError(t, f.vault.Save(ctx, models.TokenPair{Access: "a", Refresh: "r"}, false))
	tok, ok := f.mgr.AccessToken(ctx)
	assert.True(t, ok)
	assert.Equal(t, "a", tok)
}

func TestCheckAuth_CancelledKeepsStoredToken(t *testing.T) {
	f := newFixture(t)
	f.srv.AddUser("kim", "pw", models.Driver)
	require.NoError(t, f.mgr.Login(context.Background(), "kim", "pw", true))

	f.reload()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.mgr.CheckAuth(ctx)

	assert.False(t, f.mgr.IsAuthenticated())
	assert.Empty(t, f.client.AuthToken())
	assert.Equal(t, []storage.Tier{storage.TierDurable}, f.holding(t), "remembered token survives an interrupted restore")

	f.mgr.CheckAuth(context.Background())
	assert.True(t, f.mgr.IsAuthenticated())
}

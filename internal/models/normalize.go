package models

import "github.com/oapi-codegen/nullable"

// NormalizeUser canonicalizes the id and turns a missing or empty profile
// image into an explicit null.
func NormalizeUser(u User) User {
	u.ID = u.ID.Canonical()
	u.ProfileImage = normalizeImage(u.ProfileImage)
	return u
}

// NormalizeRoute canonicalizes every id in the route, nulls missing avatars
// and replaces nil passenger lists with empty ones. The input is not
// modified; slices in the result are fresh copies.
func NormalizeRoute(r Route) Route {
	r.ID = r.ID.Canonical()
	r.DriverID = r.DriverID.Canonical()
	r.DriverAvatar = normalizeImage(r.DriverAvatar)

	passengers := make([]ID, 0, len(r.Passengers))
	for _, p := range r.Passengers {
		passengers = append(passengers, p.Canonical())
	}
	r.Passengers = passengers

	details := make([]PassengerDetail, 0, len(r.PassengerDetails))
	for _, d := range r.PassengerDetails {
		d.ID = d.ID.Canonical()
		d.ProfileImage = normalizeImage(d.ProfileImage)
		details = append(details, d)
	}
	r.PassengerDetails = details
	return r
}

// UsersFromRoute derives the user records a route payload reveals: the
// driver and every passenger detail. Login ids and emails are not part of
// route payloads and are left empty.
func UsersFromRoute(r Route) []User {
	users := make([]User, 0, 1+len(r.PassengerDetails))
	users = append(users, User{
		ID:           r.DriverID,
		Nickname:     r.DriverName,
		Type:         Driver,
		ProfileImage: r.DriverAvatar,
	})
	for _, p := range r.PassengerDetails {
		users = append(users, User{
			ID:           p.ID,
			Nickname:     p.Nickname,
			Type:         Passenger,
			ProfileImage: p.ProfileImage,
		})
	}
	return users
}

func normalizeImage(n nullable.Nullable[string]) nullable.Nullable[string] {
	v, err := n.Get()
	if err != nil || v == "" {
		return nullable.NewNullNullable[string]()
	}
	return nullable.NewNullableWithValue(v)
}

package access

import (
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestParseBackdoors(t *testing.T) {
	assert.Equal(t, map[string]string{"please": "admin-id", "pretty": "other-id"},
		ParseBackdoors(" please=admin-id; pretty=other-id;broken;=x;y="))
	assert.Empty(t, ParseBackdoors(""))
}

func TestBackdoorMiddleware(t *testing.T) {
	router := identityRouter(&JwtMiddlewareBuilder{Secret: testSecret})
	router.Use(NewBackdoorMiddleware(&BackdoorMiddlewareBuilder{Backdoors: map[string]string{"please": "vip"}}))

	rec := whoami(router, func(r *http.Request) { r.Header.Set("Authorization", "Bearer please") })
	assert.Equal(t, "vip", rec.Body.String())

	rec = whoami(router, func(r *http.Request) { r.AddCookie(&http.Cookie{Name: JwtCookieName, Value: "please"}) })
	assert.Equal(t, "vip", rec.Body.String())

	rec = whoami(router, func(r *http.Request) { r.Header.Set("Authorization", "Bearer pretty please") })
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// a verified token wins
	rec = whoami(router, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+signed(t, Claims{ID: "jwt-id"}, testSecret))
	})
	assert.Equal(t, "jwt-id", rec.Body.String())
}

func TestBackdoorMiddlewareNeedsBackdoors(t *testing.T) {
	assert.Panics(t, func() {
		mux.NewRouter().Use(NewBackdoorMiddleware(&BackdoorMiddlewareBuilder{}))
	})
}

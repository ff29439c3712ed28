package cvr

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"cvrarchive/lib/telemetry"

	"github.com/stretchr/testify/require"
)

const loginFormHtml = `
<html><body>
<form method="post" action="/accounts/login/">
	<input type="hidden" name="csrfmiddlewaretoken" value="tok-123">
	<input type="text" name="username">
	<input type="password" name="password">
</form>
</body></html>`

const archivePageHtml = `
<html><body>
<table>
	<tr><th>Name</th><th>Date</th></tr>
	<tr><td>Fall Qualifier</td><td>2023-10-14</td><td><a href="/event/101/">View</a></td></tr>
</table>
</body></html>`

const eventPageHtml = `
<html><body>
<div class="content">
Location: Lincoln High School Gym
</div>
</body></html>`

// fakePlatform serves a login form and an archive page guarded by a session
// cookie. Sessions can be invalidated out from under the client to exercise
// expiry detection.
type fakePlatform struct {
	mux      *http.ServeMux
	session  atomic.Int64
	mu       sync.Mutex
	loggedIn map[string]bool
	password string
}

func newFakePlatform(password string) *fakePlatform {
	p := &fakePlatform{
		mux:      http.NewServeMux(),
		loggedIn: map[string]bool{},
		password: password,
	}
	p.mux.HandleFunc("GET /accounts/login/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, loginFormHtml)
	})
	p.mux.HandleFunc("POST /accounts/login/", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if r.FormValue("csrfmiddlewaretoken") != "tok-123" || r.FormValue("password") != p.password {
			fmt.Fprint(w, loginFormHtml)
			return
		}
		id := fmt.Sprint(p.session.Add(1))
		p.loggedIn[id] = true
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: id, Path: "/"})
		fmt.Fprint(w, "<html><body>ok</body></html>")
	})
	p.mux.HandleFunc("GET /event/archive/", p.guarded(archivePageHtml))
	p.mux.HandleFunc("GET /event/101/", p.guarded(eventPageHtml))
	return p
}

// guarded serves html only to a live session, everyone else gets the login
// form like the real platform does.
func (p *fakePlatform) guarded(html string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		cookie, err := r.Cookie("sessionid")
		if err != nil || !p.loggedIn[cookie.Value] {
			fmt.Fprint(w, loginFormHtml)
			return
		}
		fmt.Fprint(w, html)
	}
}

// expireAll invalidates every session the platform handed out.
func (p *fakePlatform) expireAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.loggedIn {
		p.loggedIn[id] = false
	}
}

func newTestClient(t *testing.T, p *fakePlatform) (*Client, *httptest.Server) {
	server := httptest.NewServer(p.mux)
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)
	return client, server
}

func TestLoginAndFetch(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/cvr/client")
	defer cleanup()
	ctx := context.Background()

	platform := newFakePlatform("hunter2")
	client, _ := newTestClient(t, platform)

	err := client.Login(ctx, Credentials{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)

	body, err := client.FetchPage(ctx, "/event/archive/")
	require.NoError(t, err)
	require.Contains(t, string(body), "Fall Qualifier")
}

func TestLoginRejected(t *testing.T) {
	ctx := context.Background()

	platform := newFakePlatform("hunter2")
	client, _ := newTestClient(t, platform)

	err := client.Login(ctx, Credentials{Username: "alice", Password: "wrong"})
	require.ErrorIs(t, err, ErrLoginFailed)
}

func TestFetchReauthenticatesOnExpiry(t *testing.T) {
	ctx := context.Background()

	platform := newFakePlatform("hunter2")
	client, _ := newTestClient(t, platform)

	err := client.Login(ctx, Credentials{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)

	platform.expireAll()

	body, err := client.FetchPage(ctx, "/event/archive/")
	require.NoError(t, err)
	require.Contains(t, string(body), "Fall Qualifier")
}

func TestFetchFatalAfterSecondExpiry(t *testing.T) {
	ctx := context.Background()

	platform := newFakePlatform("hunter2")
	client, _ := newTestClient(t, platform)

	err := client.Login(ctx, Credentials{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)

	// rotating the password makes the automatic re-login land back on the
	// login page, same as a session that expires again immediately
	platform.mu.Lock()
	platform.password = "rotated"
	platform.mu.Unlock()
	platform.expireAll()

	_, err = client.FetchPage(ctx, "/event/archive/")
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestFetchPropagatesHttpErrors(t *testing.T) {
	ctx := context.Background()

	platform := newFakePlatform("hunter2")
	platform.mux.HandleFunc("GET /event/500/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	client, _ := newTestClient(t, platform)

	err := client.Login(ctx, Credentials{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)

	_, err = client.FetchPage(ctx, "/event/500/")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrSessionExpired)
}

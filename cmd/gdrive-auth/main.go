// Command gdrive-auth runs the OAuth consent flow once and prints the refresh
// token to put in GDRIVE_REFRESH_TOKEN.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"scenegen/internal/config"
	"scenegen/internal/pkg/errors"
	"scenegen/internal/pkg/logger"
	"scenegen/internal/storage"
)

const consentTimeout = 3 * time.Minute

func main() {
	log := logger.New(logger.Config{Level: "info", Format: "text", ServiceName: "gdrive-auth"})

	cfg, _, err := config.Load()
	if err != nil {
		log.LogFatal("invalid configuration", err)
	}
	gd := cfg.Storage.GDrive
	if gd.ClientID == "" {
		log.LogFatal("missing client id", errors.MissingConfig("GDRIVE_CLIENT_ID"))
	}
	if gd.ClientSecret == "" {
		log.LogFatal("missing client secret", errors.MissingConfig("GDRIVE_CLIENT_SECRET"))
	}

	token, err := authorize(context.Background(), gd.ClientID, gd.ClientSecret)
	if err != nil {
		log.LogFatal("authorization failed", err)
	}

	if strings.TrimSpace(token.RefreshToken) == "" {
		fmt.Println("\nNo refresh token was returned.")
		fmt.Println("Revoke the app's previous access at https://myaccount.google.com/permissions and run this again.")
		return
	}

	fmt.Println("\nGDRIVE_REFRESH_TOKEN:")
	fmt.Println(token.RefreshToken)
}

// authorize serves the OAuth callback on a free loopback port and exchanges
// the returned code for tokens.
func authorize(ctx context.Context, clientID, clientSecret string) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.Wrap(err, "gdrive-auth.listen", "open callback listener")
	}
	defer ln.Close()

	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", ln.Addr().(*net.TCPAddr).Port)
	conf := storage.OAuthConfig(clientID, clientSecret, redirectURL)
	state := randomState()

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "invalid state", http.StatusBadRequest)
			errCh <- errors.New(errors.CodeBadRequest, "invalid state")
		case q.Get("error") != "":
			http.Error(w, "authorization error: "+q.Get("error"), http.StatusBadRequest)
			errCh <- errors.New(errors.CodeUpstream, "authorization error: "+q.Get("error"))
		case q.Get("code") == "":
			http.Error(w, "missing code", http.StatusBadRequest)
			errCh <- errors.New(errors.CodeBadRequest, "missing code")
		default:
			fmt.Fprintln(w, "Done. You can close this window and return to the terminal.")
			codeCh <- q.Get("code")
		}
	})

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	// prompt=consent makes Google return a refresh token on every run.
	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))

	fmt.Println("\nOpen this URL in your browser:")
	fmt.Println(authURL)
	fmt.Println("\nWaiting for authorization on", redirectURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, err
	case <-time.After(consentTimeout):
		return nil, errors.Timeout("authorization")
	}

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUpstream, "gdrive-auth.exchange", "exchange authorization code")
	}
	return token, nil
}

func randomState() string {
	b := make([]byte, 18)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// Command gdrive-auth runs the OAuth consent flow once and prints the refresh
// token renderd needs for GDRIVE_REFRESH_TOKEN.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"

	"pyro/internal/pkg/errors"
	"pyro/internal/pkg/logger"
)

type options struct {
	ClientID     string        `long:"client-id" env:"GDRIVE_CLIENT_ID" required:"true"`
	ClientSecret string        `long:"client-secret" env:"GDRIVE_CLIENT_SECRET" required:"true"`
	Wait         time.Duration `long:"wait" default:"3m" description:"how long to wait for the browser callback"`
}

func main() {
	log := logger.New(logger.Config{Format: "text", ServiceName: "gdrive-auth"})

	_ = godotenv.Load()
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		log.LogFatal("invalid arguments", err)
	}

	token, err := authorize(context.Background(), opts, os.Stdout)
	if err != nil {
		log.LogFatal("authorization failed", err)
	}
	if strings.TrimSpace(token.RefreshToken) == "" {
		log.Warn("no refresh token returned; revoke the app at https://myaccount.google.com/permissions and run again")
		os.Exit(1)
	}

	fmt.Println("\nGDRIVE_REFRESH_TOKEN=" + token.RefreshToken)
}

func authorize(ctx context.Context, opts options, out *os.File) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.Wrap(err, "gdrive-auth", "listen for callback")
	}
	defer ln.Close()

	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", ln.Addr().(*net.TCPAddr).Port)
	conf := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
		RedirectURL:  redirectURL,
	}

	state := randomState()
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "invalid state", http.StatusBadRequest)
			send[error](errCh, errors.Validation("callback state mismatch"))
		case q.Get("error") != "":
			http.Error(w, "auth error: "+q.Get("error"), http.StatusBadRequest)
			send[error](errCh, errors.Newf(errors.CodeBadRequest, "auth error: %s", q.Get("error")))
		case q.Get("code") == "":
			http.Error(w, "missing code", http.StatusBadRequest)
			send[error](errCh, errors.Validation("callback without code"))
		default:
			fmt.Fprintln(w, "Authorized. You can close this window.")
			send(codeCh, q.Get("code"))
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Fprintf(out, "\nOpen this URL in your browser:\n\n%s\n\nWaiting for the callback on %s\n", authURL, redirectURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, err
	case <-time.After(opts.Wait):
		return nil, errors.Timeout("gdrive-auth callback")
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "gdrive-auth", "exchange code")
	}
	return tok, nil
}

// send drops v when a result was already delivered.
func send[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func randomState() string {
	b := make([]byte, 18)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/torfstack/smog/internal/logging"
	"golang.org/x/oauth2"
)

type callback struct {
	code string
	err  error
}

func getTokenFromWeb(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	callbacks, port, err := startOAuthCallbackServer(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not start OAuth callback server: %w", err)
	}

	config.RedirectURL = fmt.Sprintf("http://localhost:%d", port)
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)

	logging.Infof("Trying to open your browser to visit the URL to authorize this application: %s", authURL)
	openBrowser(authURL)

	code, err := waitForAuthCode(ctx, callbacks, 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("could not complete OAuth flow: %w", err)
	}

	tok, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("could not exchange auth code: %w", err)
	}

	logging.Info("Login successful!")
	return tok, nil
}

// startOAuthCallbackServer serves the OAuth redirect on a free local port.
// Exactly one callback is delivered: the first redirect, a serve failure, or
// the context error.
func startOAuthCallbackServer(ctx context.Context) (<-chan callback, int, error) {
	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return nil, 0, fmt.Errorf("could not create listener: %w", err)
	}

	callbacks := make(chan callback, 1)
	var once sync.Once
	deliver := func(c callback) {
		once.Do(func() {
			callbacks <- c
			close(callbacks)
		})
	}

	port := listener.Addr().(*net.TCPAddr).Port
	mux := http.NewServeMux()
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if errMsg := r.FormValue("error"); errMsg != "" {
			http.Error(w, errMsg, http.StatusBadRequest)
			deliver(callback{err: fmt.Errorf("authorization denied: %s", errMsg)})
			return
		}
		code := r.FormValue("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			deliver(callback{err: errors.New("no authorization code received")})
			return
		}
		if _, err := fmt.Fprintln(w, "Authorization successful! You can close this window now."); err != nil {
			logging.Infof("Could not write response to client: %s", err)
		}
		deliver(callback{code: code})
		go func() { _ = srv.Shutdown(context.Background()) }()
	})

	go func() {
		if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			deliver(callback{err: fmt.Errorf("callback server failed: %w", err)})
		}
	}()

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
		deliver(callback{err: ctx.Err()})
	}()

	return callbacks, port, nil
}

func waitForAuthCode(ctx context.Context, callbacks <-chan callback, timeout time.Duration) (string, error) {
	logging.Info("Waiting for successful login... ")
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case c := <-callbacks:
		return c.code, c.err
	case <-time.After(timeout):
		return "", fmt.Errorf("timed out waiting for authorization code")
	}
}

func openBrowser(url string) {
	var err error

	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	default:
		fmt.Printf("Please open the following URL manually: %s\n", url)
	}

	if err != nil {
		fmt.Printf("Failed to open browser automatically: %v\n", err)
		fmt.Printf("Visit this URL manually: %s\n", url)
	}
}

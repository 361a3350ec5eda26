package spc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"spc2mqtt/internal/config"
	"spc2mqtt/internal/logger"
)

const sectorFormPage = `<html><body>
spc42
<table>
<tr><td></td><td>Secteur 2 : Garage</td><td>MHS</td></tr>
</table>
<form action="/secure.htm?session=abc123&page=spc_home" method="post">
<input type="hidden" name="sector_id" value="2">
<input type="submit" name="do_mes" value="MES Totale">
<input type="submit" name="do_mhs" value="MHS">
<input type="submit" name="do_parta" value="MES Partielle A">
<input type="submit" name="do_partb" value="MES Partielle B">
</form>
</body></html>`

func newExecutorFixture(t *testing.T) (*CommandExecutor, *httptest.Server, chan url.Values) {
	t.Helper()
	posted := make(chan url.Values, 4)

	mux := http.NewServeMux()
	mux.HandleFunc("/login.htm", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			http.Redirect(w, r, "/secure.htm?session=abc123&page=spc_home", http.StatusFound)
			return
		}
		w.Write([]byte("<html>login</html>"))
	})
	mux.HandleFunc("/secure.htm", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if err := r.ParseForm(); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			posted <- r.PostForm
			w.Write([]byte("ok"))
			return
		}
		w.Write([]byte(sectorFormPage))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	log := logger.Nop()
	client, err := NewClient(srv.URL, t.TempDir(), log)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	session := NewSessionManager(client, config.SPCConfig{
		Host:                srv.URL,
		User:                "user",
		Pin:                 "1234",
		Language:            253,
		SessionCacheDir:     t.TempDir(),
		MinLoginIntervalSec: 0,
	}, nil, log)
	return NewCommandExecutor(client, session, log), srv, posted
}

func TestExecuteSectorArm(t *testing.T) {
	exec, _, posted := newExecutorFixture(t)

	if err := exec.Execute(context.Background(), config.CategorySecteurs, "2", "mes"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	select {
	case form := <-posted:
		if got := form.Get("sector_id"); got != "2" {
			t.Errorf("sector_id = %q", got)
		}
		if got := form.Get("do_mes"); got != "MES Totale" {
			t.Errorf("do_mes = %q, form: %v", got, form)
		}
		if form.Get("do_mhs") != "" {
			t.Errorf("unpressed button submitted: %v", form)
		}
	default:
		t.Fatal("panel received no POST")
	}
}

func TestExecutePartialPrecedence(t *testing.T) {
	exec, _, posted := newExecutorFixture(t)

	if err := exec.Execute(context.Background(), config.CategorySecteurs, "2", "partb"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	form := <-posted
	if form.Get("do_partb") == "" || form.Get("do_parta") != "" {
		t.Errorf("partb pressed the wrong button: %v", form)
	}

	if err := exec.Execute(context.Background(), config.CategorySecteurs, "2", "part"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	form = <-posted
	if form.Get("do_parta") == "" || form.Get("do_partb") != "" {
		t.Errorf("part pressed the wrong button: %v", form)
	}
}

func TestExecuteUnknownEntity(t *testing.T) {
	exec, _, posted := newExecutorFixture(t)

	err := exec.Execute(context.Background(), config.CategorySecteurs, "99", "mes")
	if !errors.Is(err, ErrActionUnavailable) {
		t.Fatalf("expected ErrActionUnavailable, got %v", err)
	}
	select {
	case form := <-posted:
		t.Fatalf("panel received a POST for an unknown entity: %v", form)
	default:
	}
}

func TestExecuteNoSession(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	log := logger.Nop()
	client, err := NewClient(srv.URL, t.TempDir(), log)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	session := NewSessionManager(client, config.SPCConfig{
		Host:            srv.URL,
		SessionCacheDir: t.TempDir(),
	}, nil, log)
	exec := NewCommandExecutor(client, session, log)

	err = exec.Execute(context.Background(), config.CategorySecteurs, "2", "mes")
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

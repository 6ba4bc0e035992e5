package genie

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func TestHTTPDirectory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /placelist", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":["客厅","卧室"]}`))
	})
	mux.HandleFunc("GET /aliaslist", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"key":"灯","value":["灯泡","吊灯"]}]}`))
	})
	mux.HandleFunc("GET /broken", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := NewHTTPDirectory(srv.URL+"/placelist", srv.URL+"/aliaslist", time.Second)

	places, err := dir.Places(context.Background())
	if err != nil {
		t.Fatalf("Places() error = %v", err)
	}
	if !reflect.DeepEqual(places, []string{"客厅", "卧室"}) {
		t.Errorf("Places() = %v", places)
	}

	aliases, err := dir.Aliases(context.Background())
	if err != nil {
		t.Fatalf("Aliases() error = %v", err)
	}
	want := []Alias{{Key: "灯", Value: []string{"灯泡", "吊灯"}}, {Key: "电视", Value: []string{"电视机"}}}
	if !reflect.DeepEqual(aliases, want) {
		t.Errorf("Aliases() = %v, want %v", aliases, want)
	}

	broken := NewHTTPDirectory(srv.URL+"/broken", srv.URL+"/broken", time.Second)
	if _, err := broken.Places(context.Background()); !errors.Is(err, ErrDirectory) {
		t.Errorf("Places() error = %v, want ErrDirectory", err)
	}
}

func TestHandle_DirectoryFailureIsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	handler := New(Options{
		Connector: &fakeConnector{token: testToken, host: newFakeHost()},
		Directory: NewHTTPDirectory(srv.URL, srv.URL, time.Second),
	})
	resp := handler.Handle(context.Background(), request(NamespaceDiscovery, "DiscoveryDevices", Payload{}))
	if resp.Payload["errorCode"] != string(ErrServiceError) {
		t.Errorf("Payload = %v, want SERVICE_ERROR", resp.Payload)
	}
}

package authcore

import (
	"errors"
	"net/http"
	"testing"
)

func noopHandler(rc *RequestContext) (*Response, error) {
	return JSONResponse(map[string]bool{"ok": true}), nil
}

func TestRegistryExactMatch(t *testing.T) {
	r := newRegistry()
	if err := r.register(Endpoint{Method: http.MethodPost, Path: "/sign-in/email", Handler: noopHandler}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	ep, params, ok := r.match("post", "/sign-in/email")
	if !ok || ep == nil || params != nil {
		t.Fatalf("exact match failed: ok=%v params=%v", ok, params)
	}
	if _, _, ok := r.match(http.MethodGet, "/sign-in/email"); ok {
		t.Fatal("method must participate in matching")
	}
	if _, _, ok := r.match(http.MethodPost, "/sign-in"); ok {
		t.Fatal("prefix must not match")
	}
}

func TestRegistryParamRoute(t *testing.T) {
	r := newRegistry()
	if err := r.register(Endpoint{Method: http.MethodGet, Path: "/callback/:provider", Handler: noopHandler}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	ep, params, ok := r.match(http.MethodGet, "/callback/github")
	if !ok || ep == nil {
		t.Fatal("param route must match")
	}
	if params["provider"] != "github" {
		t.Fatalf("expected provider capture, got %v", params)
	}

	if _, _, ok := r.match(http.MethodGet, "/callback"); ok {
		t.Fatal("missing segment must not match")
	}
	if _, _, ok := r.match(http.MethodGet, "/callback/github/extra"); ok {
		t.Fatal("extra segment must not match")
	}
	if _, _, ok := r.match(http.MethodGet, "/callback/"); ok {
		t.Fatal("empty capture must not match")
	}
}

func TestRegistryExactWinsOverParam(t *testing.T) {
	r := newRegistry()
	r.register(Endpoint{Method: http.MethodGet, Path: "/sign-in/:provider", Handler: noopHandler})
	exact := Endpoint{Method: http.MethodGet, Path: "/sign-in/email", Handler: func(rc *RequestContext) (*Response, error) {
		return JSONResponse("exact"), nil
	}}
	if err := r.register(exact); err != nil {
		t.Fatalf("register exact failed: %v", err)
	}

	ep, params, ok := r.match(http.MethodGet, "/sign-in/email")
	if !ok || params != nil {
		t.Fatalf("expected exact route, got params=%v", params)
	}
	if ep.Path != "/sign-in/email" {
		t.Fatalf("expected exact endpoint, got %q", ep.Path)
	}

	// Other values still fall through to the param route.
	ep, params, ok = r.match(http.MethodGet, "/sign-in/github")
	if !ok || params["provider"] != "github" {
		t.Fatalf("param fallback failed: ok=%v params=%v", ok, params)
	}
}

func TestRegistryCollisions(t *testing.T) {
	r := newRegistry()
	r.register(Endpoint{Method: http.MethodGet, Path: "/a", Handler: noopHandler})
	if err := r.register(Endpoint{Method: http.MethodGet, Path: "/a", Handler: noopHandler}); !errors.Is(err, ErrEndpointCollision) {
		t.Fatalf("expected ErrEndpointCollision, got %v", err)
	}

	r.register(Endpoint{Method: http.MethodGet, Path: "/x/:a", Handler: noopHandler})
	if err := r.register(Endpoint{Method: http.MethodGet, Path: "/x/:b", Handler: noopHandler}); !errors.Is(err, ErrEndpointCollision) {
		t.Fatalf("expected param collision, got %v", err)
	}
}

func TestRegistryRejectsInvalidEndpoints(t *testing.T) {
	r := newRegistry()

	if err := r.register(Endpoint{Method: http.MethodGet, Path: "/a/:x/:y", Handler: noopHandler}); err == nil {
		t.Fatal("two path parameters must be rejected")
	}
	if err := r.register(Endpoint{Method: http.MethodGet, Path: "no-slash", Handler: noopHandler}); err == nil {
		t.Fatal("path without leading slash must be rejected")
	}
	if err := r.register(Endpoint{Method: http.MethodGet, Path: "/a"}); err == nil {
		t.Fatal("nil handler must be rejected")
	}
	if err := r.register(Endpoint{Path: "/a", Handler: noopHandler}); err == nil {
		t.Fatal("empty method must be rejected")
	}
}

package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/packfinderz-serials/pkg/errors"
)

type sampleBody struct {
	Serial  string   `json:"serial" validate:"required,max=8"`
	UnitIDs []string `json:"unit_ids" validate:"required,min=1,dive,uuid"`
}

func TestDecodeJSONBodyValidates(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"serial":"","unit_ids":["nope"]}`))
	var body sampleBody
	err := DecodeJSONBody(req, &body)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %T", typed.Details())
	}
	if details["serial"] != "is required" {
		t.Fatalf("unexpected serial detail %q", details["serial"])
	}
	if details["unit_ids[0]"] != "must be a valid uuid" {
		t.Fatalf("unexpected unit id detail %v", details)
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"serial":"A","unit_ids":["`+uuid.NewString()+`"],"extra":1}`))
	var body sampleBody
	if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseQueryHelpers(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/?limit=10&product_id="+id.String()+"&bad=x", nil)

	limit, err := ParseQueryInt(req, "limit", 50, 1, 100)
	if err != nil || limit != 10 {
		t.Fatalf("unexpected limit %d err %v", limit, err)
	}
	if _, err := ParseQueryInt(req, "bad", 0, 0, 1); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	got, err := ParseQueryUUID(req, "product_id")
	if err != nil || got == nil || *got != id {
		t.Fatalf("unexpected product id %v err %v", got, err)
	}
	missing, err := ParseQueryUUID(req, "dealer_id")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing param, got %v err %v", missing, err)
	}
	if _, err := ParseQueryUUID(req, "bad"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rc := chi.NewRouteContext()
	rc.URLParams.Add("unitId", id.String())
	rc.URLParams.Add("broken", "123")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	got, err := ParseUUIDParam(req, "unitId")
	if err != nil || got != id {
		t.Fatalf("unexpected id %s err %v", got, err)
	}
	if _, err := ParseUUIDParam(req, "broken"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := ParseUUIDParam(req, "missing"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type stateBody struct {
	Status string `json:"status" validate:"required,serial_status"`
	Serial string `json:"serial" validate:"required,serial"`
}

func TestDecodeJSONBodyCustomTags(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"lost","serial":" SN-1"}`))
	var body stateBody
	typed := pkgerrors.As(DecodeJSONBody(req, &body))
	if typed == nil {
		t.Fatal("expected validation error")
	}
	details := typed.Details().(map[string]string)
	if details["status"] != "must be a known serial status" {
		t.Fatalf("unexpected status detail %v", details)
	}
	if _, ok := details["serial"]; !ok {
		t.Fatalf("expected serial detail, got %v", details)
	}

	ok := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"reserved_for_order","serial":"SN-1"}`))
	if err := DecodeJSONBody(ok, &body); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestDecodeJSONBodyRejectsTrailingAndEmpty(t *testing.T) {
	var body stateBody
	trailing := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"sold","serial":"A"}{"x":1}`))
	if err := DecodeJSONBody(trailing, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for trailing data, got %v", err)
	}
	empty := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := DecodeJSONBody(empty, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for empty body, got %v", err)
	}
}

func TestIsSerialNumber(t *testing.T) {
	cases := map[string]bool{"SN-0001": true, "": false, " SN": false, "SN\t1": false, "ÄBC": false}
	for in, want := range cases {
		if got := IsSerialNumber(in); got != want {
			t.Fatalf("IsSerialNumber(%q) = %v, want %v", in, got, want)
		}
	}
}

package responses

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
)

func TestWriteErrorMapsCodeToStatusAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeNotFound, "state record not found")

	WriteError(context.Background(), nil, rec, err)

	if rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeNotFound) {
		t.Fatalf("unexpected code: %s", envelope.Error.Code)
	}
	if envelope.Error.Message != "state record not found" {
		t.Fatalf("unexpected message: %s", envelope.Error.Message)
	}
}

func TestWriteErrorHidesStorageDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeStorage, "disk exploded").WithDetails(map[string]string{"path": "/secret"})

	WriteError(context.Background(), nil, rec, err)

	if rec.Code != 503 {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	body := rec.Body.String()
	if want := "state persistence failed"; !strings.Contains(body, want) {
		t.Fatalf("expected public message %q, got %s", want, body)
	}
	if strings.Contains(body, "/secret") {
		t.Fatalf("storage details must not leak: %s", body)
	}
}

func TestWriteSuccessWrapsDataEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, map[string]string{"status": "ok"})
	var envelope struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if envelope.Data["status"] != "ok" {
		t.Fatalf("unexpected payload: %v", envelope.Data)
	}
}

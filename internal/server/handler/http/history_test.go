package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atinyakov/GophStego/internal/models"
	handler "github.com/atinyakov/GophStego/internal/server/handler/http"
)

// fakeHistory records the filter it received and returns preconfigured records.
type fakeHistory struct {
	filter  models.HistoryFilter
	records []models.OperationRecord
	err     error
}

func (f *fakeHistory) List(_ context.Context, filter models.HistoryFilter) ([]models.OperationRecord, error) {
	f.filter = filter
	return f.records, f.err
}

func TestHistoryHandler_List(t *testing.T) {
	fake := &fakeHistory{records: []models.OperationRecord{{ID: "1", Operation: models.OpPeek, Result: models.ResultSuccess}}}
	h := &handler.HistoryHandler{History: fake}

	req := httptest.NewRequest(http.MethodGet, "/api/history?limit=5&operation=peek,%20embed", nil)
	w := httptest.NewRecorder()
	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d", w.Code, http.StatusOK)
	}
	var got []models.OperationRecord
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("records = %+v", got)
	}
	if fake.filter.Limit != 5 {
		t.Errorf("limit = %d; want 5", fake.filter.Limit)
	}
	if len(fake.filter.Operations) != 2 || fake.filter.Operations[1] != models.OpEmbed {
		t.Errorf("operations = %v", fake.filter.Operations)
	}
	if fake.filter.Actor != "anonymous" {
		t.Errorf("actor = %q; want anonymous", fake.filter.Actor)
	}
}

func TestHistoryHandler_DetectFilter(t *testing.T) {
	fake := &fakeHistory{}
	h := &handler.HistoryHandler{History: fake}
	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/history?operation=detect,keygen", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want %d", w.Code, http.StatusOK)
	}
	if len(fake.filter.Operations) != 2 || fake.filter.Operations[0] != models.OpDetect {
		t.Errorf("operations = %v", fake.filter.Operations)
	}
}

func TestHistoryHandler_BadQuery(t *testing.T) {
	for _, q := range []string{"?limit=0", "?limit=ten", "?operation=delete"} {
		h := &handler.HistoryHandler{History: &fakeHistory{}}
		w := httptest.NewRecorder()
		h.List(w, httptest.NewRequest(http.MethodGet, "/api/history"+q, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d; want %d", q, w.Code, http.StatusBadRequest)
		}
	}
}

func TestHistoryHandler_StoreError(t *testing.T) {
	h := &handler.HistoryHandler{History: &fakeHistory{err: errors.New("db down")}}
	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d; want %d", w.Code, http.StatusInternalServerError)
	}
}

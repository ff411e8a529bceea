package bitrix

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetDeal_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/rest/1/secret/crm.deal.get" {
			t.Fatalf("path = %s, want /rest/1/secret/crm.deal.get", r.URL.Path)
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["id"] != "9001" {
			t.Fatalf("deal id = %v, want 9001", req["id"])
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"ID":"9001","TITLE":"Заказ #42","STAGE_ID":"C1:EXECUTING"}}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL + "/rest/1/secret/")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	deal, err := client.GetDeal(ctx, "9001")
	if err != nil {
		t.Fatalf("GetDeal error: %v", err)
	}
	if deal.ID != "9001" || deal.StageID != "C1:EXECUTING" {
		t.Fatalf("unexpected deal: %+v", deal)
	}
}

func TestGetDeal_APIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":"NOT_FOUND","error_description":"Not found"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.GetDeal(ctx, "404")
	if err == nil {
		t.Fatalf("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Code != "NOT_FOUND" {
		t.Fatalf("code = %s, want NOT_FOUND", apiErr.Code)
	}
}

func TestCreateDeal_ReturnsNumericID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/crm.deal.add" {
			t.Fatalf("path = %s, want /crm.deal.add", r.URL.Path)
		}

		var req struct {
			Fields DealFields `json:"fields"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Fields.Title == "" {
			t.Fatalf("empty deal title")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":12345}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	id, err := client.CreateDeal(ctx, DealFields{Title: "Заказ #42", Opportunity: "150000"})
	if err != nil {
		t.Fatalf("CreateDeal error: %v", err)
	}
	if id != "12345" {
		t.Fatalf("deal id = %s, want 12345", id)
	}
}

func TestListProducts_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":[
			{"ID":"1","NAME":"Товар А","PRICE":"150000","CURRENCY_ID":"UZS","SECTION_ID":"7"},
			{"ID":"2","NAME":"Товар Б","PRICE":"90000","CURRENCY_ID":"UZS","SECTION_ID":"7"}
		]}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	products, err := client.ListProducts(ctx, 7)
	if err != nil {
		t.Fatalf("ListProducts error: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("len(products) = %d, want 2", len(products))
	}
	if products[0].Name != "Товар А" {
		t.Fatalf("unexpected product: %+v", products[0])
	}
}

func TestRegisterDealUpdateHandler(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/event.bind" {
			t.Fatalf("path = %s, want /event.bind", r.URL.Path)
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["event"] != "ONCRMDEALUPDATE" {
			t.Fatalf("event = %v, want ONCRMDEALUPDATE", req["event"])
		}
		if req["handler"] != "https://shop.example.uz/api/webhook/bitrix/deal" {
			t.Fatalf("handler = %v", req["handler"])
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":true}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.RegisterDealUpdateHandler(ctx, "https://shop.example.uz/api/webhook/bitrix/deal"); err != nil {
		t.Fatalf("RegisterDealUpdateHandler error: %v", err)
	}
}

func TestCall_RetriesTransientFailure(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"ID":"1","STAGE_ID":"NEW"}}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	deal, err := client.GetDeal(ctx, "1")
	if err != nil {
		t.Fatalf("GetDeal error: %v", err)
	}
	if attempts < 2 {
		t.Fatalf("attempts = %d, want at least 2", attempts)
	}
	if deal.StageID != "NEW" {
		t.Fatalf("unexpected deal: %+v", deal)
	}
}

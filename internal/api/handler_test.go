package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/insightdelivered/betreuung-xml/internal/models"
	"github.com/insightdelivered/betreuung-xml/internal/store"
)

const export = "Kontoauszug\n" +
	"Buchungstag;Empfaenger;Verwendungszweck;Betrag\n" +
	"20.01.2024;Vermieter;Miete;-850,50\n" +
	"03.01.2024;Rentenkasse;Rente;1500,00\n"

var testGuardian = models.Guardian{
	ID:         "g1",
	LastName:   "Mustermann",
	FirstName:  "Erika",
	CaseNumber: "XVII 123/24",
	Accounts: []models.Account{
		{ID: "a1", IBAN: "DE89370400440532013000", BankName: "Sparkasse", DefaultMappingID: "sparkasse"},
	},
}

var testProfile = models.MappingProfile{
	ID:   "sparkasse",
	Name: "Sparkasse",
	Columns: models.ColumnMapping{
		models.FieldDate:    "Buchungstag",
		models.FieldPayee:   "Empfaenger",
		models.FieldPurpose: "Verwendungszweck",
		models.FieldExpense: "Betrag",
		models.FieldIncome:  "Betrag",
	},
}

func setupTestApp(h *Handler) *fiber.App {
	if h == nil {
		h = &Handler{}
	}
	h.Log = zerolog.Nop()
	h.Now = func() time.Time { return time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC) }
	return NewApp(h)
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for field, content := range files {
		fw, err := mw.CreateFormFile(field, field+".csv")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(fw, content); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func convertPayload(t *testing.T, cr ConvertRequest) string {
	t.Helper()
	data, err := json.Marshal(cr)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestHealthEndpoint(t *testing.T) {
	app := setupTestApp(nil)

	req := httptest.NewRequest("GET", "/api/health", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var result map[string]string
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if result["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", result["status"])
	}

	if result["engine"] != "fiber" {
		t.Errorf("expected engine=fiber, got %q", result["engine"])
	}
}

func TestInspectEndpoint(t *testing.T) {
	app := setupTestApp(nil)

	req := multipartRequest(t, "/api/inspect", nil, map[string]string{"file": export})
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result InspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Format.Delimiter != ";" || result.Format.HeaderRow != 1 {
		t.Errorf("format: %+v", result.Format)
	}
	if len(result.Headers) != 4 || result.RowCount != 2 {
		t.Errorf("headers %v, rows %d", result.Headers, result.RowCount)
	}
	if result.Preview[0]["Empfaenger"] != "Vermieter" {
		t.Errorf("preview: %v", result.Preview[0])
	}
	if len(result.CentsColumns) != 0 {
		t.Errorf("cents columns: %v", result.CentsColumns)
	}
}

func TestInspectEndpointRequiresFile(t *testing.T) {
	app := setupTestApp(nil)

	req := multipartRequest(t, "/api/inspect", map[string]string{"other": "x"}, nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestConvertEndpointRequiresFile(t *testing.T) {
	app := setupTestApp(nil)

	req := httptest.NewRequest("POST", "/api/convert", nil)
	req.Header.Set("Content-Type", "multipart/form-data; boundary=----test")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	// Should fail because no file in the body
	if resp.StatusCode == fiber.StatusOK {
		t.Error("expected non-200 for missing file")
	}
}

func TestConvertEndpoint(t *testing.T) {
	app := setupTestApp(nil)

	profile := testProfile
	payload := convertPayload(t, ConvertRequest{
		Guardian:       &testGuardian,
		Sources:        []SourceRequest{{AccountID: "a1", File: "statement", Profile: &profile}},
		Rules:          []models.Rule{},
		PeriodStart:    "01.01.2024",
		PeriodEnd:      "31.01.2024",
		OpeningBalance: "1.000,00",
	})
	req := multipartRequest(t, "/api/convert", map[string]string{"request": payload}, map[string]string{"statement": export})

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Errorf("content type: %q", ct)
	}
	for _, want := range []string{
		`<element id="Summe">1649.50</element>`,
		`<element id="aktdate">01.02.2024 12:00:00</element>`,
		`<element id="NameBank1">Sparkasse</element>`,
	} {
		if !bytes.Contains(body, []byte(want)) {
			t.Errorf("response missing %s", want)
		}
	}
}

func TestConvertEndpointOutOfPeriod(t *testing.T) {
	app := setupTestApp(nil)

	profile := testProfile
	payload := convertPayload(t, ConvertRequest{
		Guardian:    &testGuardian,
		Sources:     []SourceRequest{{AccountID: "a1", File: "statement", Profile: &profile}},
		PeriodStart: "01.01.2024",
		PeriodEnd:   "15.01.2024",
	})
	req := multipartRequest(t, "/api/convert", map[string]string{"request": payload}, map[string]string{"statement": export})

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	var result ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Validation == nil || len(result.Validation.Offending) != 1 {
		t.Fatalf("validation: %+v", result.Validation)
	}
	if !strings.Contains(result.Error, "außerhalb des Zeitraums") {
		t.Errorf("error: %q", result.Error)
	}
}

func TestConvertEndpointBadInput(t *testing.T) {
	profile := testProfile
	invalid := testGuardian
	invalid.LastName = ""

	tests := []struct {
		name    string
		request ConvertRequest
		status  int
	}{
		{"unknown account", ConvertRequest{Guardian: &testGuardian, Sources: []SourceRequest{{AccountID: "x", File: "statement", Profile: &profile}}}, fiber.StatusBadRequest},
		{"missing upload", ConvertRequest{Guardian: &testGuardian, Sources: []SourceRequest{{AccountID: "a1", File: "other", Profile: &profile}}}, fiber.StatusBadRequest},
		{"no guardian", ConvertRequest{Sources: []SourceRequest{{AccountID: "a1", File: "statement"}}}, fiber.StatusBadRequest},
		{"no sources", ConvertRequest{Guardian: &testGuardian}, fiber.StatusBadRequest},
		{"invalid guardian", ConvertRequest{Guardian: &invalid, Sources: []SourceRequest{{AccountID: "a1", File: "statement", Profile: &profile}}}, fiber.StatusBadRequest},
		{"profile not found", ConvertRequest{Guardian: &testGuardian, Sources: []SourceRequest{{AccountID: "a1", File: "statement"}}}, fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := setupTestApp(nil)
			req := multipartRequest(t, "/api/convert",
				map[string]string{"request": convertPayload(t, tt.request)},
				map[string]string{"statement": export})
			resp, err := app.Test(req, -1)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tt.status {
				body, _ := io.ReadAll(resp.Body)
				t.Errorf("expected %d, got %d: %s", tt.status, resp.StatusCode, body)
			}
		})
	}
}

func TestConvertEndpointUsesStore(t *testing.T) {
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	password := []byte("geheim")
	if err := s.SaveGuardians([]models.Guardian{testGuardian}, password); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveProfiles([]models.MappingProfile{testProfile}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRules([]models.Rule{{
		ID:        "r1",
		Name:      "Vermieter",
		Scope:     models.Global(),
		Condition: models.Condition{Field: models.FieldPayee, Operator: models.Equals, Pattern: "vermieter"},
		Action:    models.Action{Target: models.FieldPayee, Template: "Wohnungsbau {nachname}"},
		Active:    true,
	}}); err != nil {
		t.Fatal(err)
	}

	app := setupTestApp(&Handler{Store: s, Password: password})
	payload := convertPayload(t, ConvertRequest{
		GuardianID:  "g1",
		Sources:     []SourceRequest{{AccountID: "a1", File: "statement"}},
		PeriodStart: "01.01.2024",
		PeriodEnd:   "31.01.2024",
	})
	req := multipartRequest(t, "/api/convert", map[string]string{"request": payload}, map[string]string{"statement": export})

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if !bytes.Contains(body, []byte(`<element id="BezeichnungPos3">Wohnungsbau</element>`)) {
		t.Errorf("stored rule not applied:\n%s", body)
	}

	wrong := setupTestApp(&Handler{Store: s, Password: []byte("falsch")})
	req = multipartRequest(t, "/api/convert", map[string]string{"request": payload}, map[string]string{"statement": export})
	resp, err = wrong.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

// Package api is the local HTTP backend for the report UI. It only wraps the
// conversion pipeline; all processing happens in-process.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/insightdelivered/betreuung-xml/internal/extractor"
	"github.com/insightdelivered/betreuung-xml/internal/logger"
	"github.com/insightdelivered/betreuung-xml/internal/models"
	"github.com/insightdelivered/betreuung-xml/internal/parser"
	"github.com/insightdelivered/betreuung-xml/internal/pipeline"
	"github.com/insightdelivered/betreuung-xml/internal/store"
	"github.com/insightdelivered/betreuung-xml/internal/validate"
	"github.com/insightdelivered/betreuung-xml/internal/writer"
)

const (
	version     = "1.0.0"
	maxUpload   = 32 << 20
	previewRows = 10
)

// Handler holds the HTTP handlers for the API.
type Handler struct {
	StaticDir string
	// Store is optional; without it requests must carry profiles, rules and
	// the guardian inline.
	Store    *store.Store
	Password []byte
	Log      zerolog.Logger
	// Now stamps generated reports; time.Now when nil.
	Now func() time.Time
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Success    bool                   `json:"success"`
	Error      string                 `json:"error"`
	Fields     validate.Errors        `json:"fields,omitempty"`
	Validation *validate.Result       `json:"validation,omitempty"`
	Stats      []pipeline.SourceStats `json:"stats,omitempty"`
}

// FormatInfo describes a detected file layout.
type FormatInfo struct {
	Source    string `json:"source"`
	Charset   string `json:"charset"`
	Delimiter string `json:"delimiter"`
	HeaderRow int    `json:"headerRow"`
}

// InspectResponse is returned by /api/inspect.
type InspectResponse struct {
	Success      bool                `json:"success"`
	Format       FormatInfo          `json:"format"`
	Headers      []string            `json:"headers"`
	Preview      []map[string]string `json:"preview"`
	RowCount     int                 `json:"rowCount"`
	CentsColumns []string            `json:"centsColumns"`
}

// ConvertRequest is the JSON document in the "request" form field of
// /api/convert. Each source names the multipart field carrying its file.
type ConvertRequest struct {
	GuardianID     string           `json:"guardianId,omitempty"`
	Guardian       *models.Guardian `json:"guardian,omitempty"`
	Sources        []SourceRequest  `json:"sources"`
	Rules          []models.Rule    `json:"rules"`
	PeriodStart    string           `json:"periodStart"`
	PeriodEnd      string           `json:"periodEnd"`
	OpeningBalance string           `json:"openingBalance"`
}

// SourceRequest binds an uploaded file to an account.
type SourceRequest struct {
	AccountID string                 `json:"accountId"`
	File      string                 `json:"file"`
	ProfileID string                 `json:"profileId,omitempty"`
	Profile   *models.MappingProfile `json:"profile,omitempty"`
}

// NewApp builds the fiber app with middleware and routes.
func NewApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "betreuung-xml",
		BodyLimit:             maxUpload,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(fiberrecover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type",
	}))
	app.Use(requestLogger(h.Log))
	h.RegisterRoutes(app)
	return app
}

// RegisterRoutes sets up the HTTP routes.
func (h *Handler) RegisterRoutes(app *fiber.App) {
	app.Get("/api/health", h.HandleHealth)
	app.Post("/api/inspect", h.HandleInspect)
	app.Post("/api/convert", h.HandleConvert)

	// Serve the UI build, falling back to index.html for client routes
	if h.StaticDir != "" {
		app.Static("/", h.StaticDir)
		app.Get("/*", func(c *fiber.Ctx) error {
			return c.SendFile(filepath.Join(h.StaticDir, "index.html"))
		})
	}
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"version": version,
		"engine":  "fiber",
	})
}

// HandleInspect detects the layout of an uploaded export and previews it.
func (h *Handler) HandleInspect(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "No file uploaded. Use form field 'file'.")
	}
	data, err := readUpload(fh)
	if err != nil {
		return err
	}

	table, err := extractor.DecodeAuto(data)
	if err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, fmt.Sprintf("Could not read file: %v", err))
	}

	resp := InspectResponse{
		Success: true,
		Format: FormatInfo{
			Source:    table.Format.Source,
			Charset:   table.Format.Charset,
			Delimiter: string(table.Format.Delimiter),
			HeaderRow: table.Format.HeaderRow,
		},
		Headers:      table.Headers,
		Preview:      []map[string]string{},
		RowCount:     len(table.Rows),
		CentsColumns: parser.CentsColumns(table.Headers, table.Rows),
	}
	for i, row := range table.Rows {
		if i == previewRows {
			break
		}
		resp.Preview = append(resp.Preview, row.Map())
	}
	return c.JSON(resp)
}

// HandleConvert runs the pipeline and returns the XML report.
func (h *Handler) HandleConvert(c *fiber.Ctx) error {
	ctx := logger.WithContext(c.UserContext(), h.Log)

	var cr ConvertRequest
	if err := json.Unmarshal([]byte(c.FormValue("request")), &cr); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Invalid 'request' field: %v", err))
	}

	req, err := h.buildRequest(c, cr)
	if err != nil {
		return err
	}

	res, err := pipeline.Build(ctx, req)
	if err != nil {
		var fields validate.Errors
		if errors.As(err, &fields) {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "Invalid guardian record.", Fields: fields})
		}
		if errors.Is(err, pipeline.ErrNoSources) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}
	if !res.Validation.Valid {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse{
			Error:      res.Validation.Message,
			Validation: &res.Validation,
			Stats:      res.Stats,
		})
	}

	var buf bytes.Buffer
	w := &writer.XMLWriter{Now: h.Now}
	if err := w.Write(&buf, res.Report); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("XML generation failed: %v", err))
	}

	c.Set(fiber.HeaderContentType, "application/xml; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="report.xml"`)
	return c.Send(buf.Bytes())
}

func (h *Handler) buildRequest(c *fiber.Ctx, cr ConvertRequest) (pipeline.Request, error) {
	guardian, err := h.guardian(cr)
	if err != nil {
		return pipeline.Request{}, err
	}

	var profiles []models.MappingProfile
	if h.Store != nil {
		if profiles, err = h.Store.LoadProfiles(); err != nil {
			return pipeline.Request{}, err
		}
	}

	rules := cr.Rules
	if rules == nil && h.Store != nil {
		if rules, err = h.Store.LoadRules(); err != nil {
			return pipeline.Request{}, err
		}
	}

	req := pipeline.Request{
		Guardian:       guardian,
		Rules:          rules,
		PeriodStart:    cr.PeriodStart,
		PeriodEnd:      cr.PeriodEnd,
		OpeningBalance: parser.ParseAmount(cr.OpeningBalance),
	}

	for _, sr := range cr.Sources {
		account, ok := guardian.Account(sr.AccountID)
		if !ok {
			return pipeline.Request{}, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Unknown account %q.", sr.AccountID))
		}

		profile := models.MappingProfile{}
		if sr.Profile != nil {
			profile = *sr.Profile
		} else if profile, err = pipeline.ProfileFor(account, sr.ProfileID, profiles); err != nil {
			return pipeline.Request{}, fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		fh, err := c.FormFile(sr.File)
		if err != nil {
			return pipeline.Request{}, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Missing upload %q for account %q.", sr.File, sr.AccountID))
		}
		data, err := readUpload(fh)
		if err != nil {
			return pipeline.Request{}, err
		}

		req.Sources = append(req.Sources, pipeline.Source{
			Account: account,
			Name:    fh.Filename,
			Data:    data,
			Profile: profile,
		})
	}
	return req, nil
}

func (h *Handler) guardian(cr ConvertRequest) (models.Guardian, error) {
	if cr.Guardian != nil {
		return *cr.Guardian, nil
	}
	if cr.GuardianID == "" || h.Store == nil {
		return models.Guardian{}, fiber.NewError(fiber.StatusBadRequest, "Request needs a guardian or a guardianId.")
	}
	g, err := h.Store.Guardian(cr.GuardianID, h.Password)
	switch {
	case errors.Is(err, store.ErrWrongPassword):
		return models.Guardian{}, fiber.NewError(fiber.StatusUnauthorized, "Wrong password for the guardian store.")
	case errors.Is(err, os.ErrNotExist):
		return models.Guardian{}, fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("Unknown guardian %q.", cr.GuardianID))
	case err != nil:
		return models.Guardian{}, err
	}
	return g, nil
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Failed to open upload: %v", err))
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Failed to read upload: %v", err))
	}
	return data, nil
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
}

func requestLogger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		log.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
		return err
	}
}

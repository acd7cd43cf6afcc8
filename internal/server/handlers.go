package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/danki-amsterdam/witvis/internal/auth"
	errordefs "github.com/danki-amsterdam/witvis/internal/errors"
	"github.com/danki-amsterdam/witvis/internal/intake"
	"github.com/danki-amsterdam/witvis/internal/model"
	"github.com/danki-amsterdam/witvis/internal/schema"
	"github.com/danki-amsterdam/witvis/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "witvis/server"

// handleUpload handles POST /upload.
func (m *Mux) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleUpload")
	defer span.End()
	cid := correlationID(r)

	r.Body = http.MaxBytesReader(w, r.Body, m.maxUploadSize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			span.SetStatus(codes.Error, "payload too large")
			m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_PAYLOAD_TOO_LARGE, "payload too large", cid))
			return
		}
		m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_BAD_REQUEST, "failed to read request body", cid))
		return
	}

	if !json.Valid(body) {
		span.SetStatus(codes.Error, "invalid JSON")
		m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_BAD_REQUEST, "invalid JSON", cid))
		return
	}
	if err := m.validator.Validate(schema.Upload, body); err != nil {
		span.SetStatus(codes.Error, "schema validation failed")
		m.writeErrorDef(w, errordefs.NewWithDetails(errordefs.WITVIS_VALIDATION, "Invalid request body", cid, err.Error()))
		return
	}

	var raw model.RawSubmission
	if err := json.Unmarshal(body, &raw); err != nil {
		m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_BAD_REQUEST, "invalid JSON", cid))
		return
	}
	span.SetAttributes(
		attribute.String("witvis.file_name", raw.FileName),
		attribute.Int("witvis.payload_bytes", len(raw.FileBase64)),
	)

	res, err := m.intake.Submit(ctx, raw)
	if err != nil {
		var ve *intake.ValidationError
		switch {
		case errors.As(err, &ve):
			m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_VALIDATION, ve.Reason, cid))
		case errors.Is(err, intake.ErrDuplicate):
			m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_DUPLICATE, intake.ErrDuplicate.Error(), cid))
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "upload failed")
			m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_UPLOAD_FAILED, intake.ErrUpload.Error(), cid))
		}
		return
	}

	writeJSON(w, http.StatusOK, model.UploadResponse{Success: true, ImageURL: res.ImageURL})
}

// handleListPublished handles GET /submissions. Only approved rows with an
// uploaded image are listed, newest first.
func (m *Mux) handleListPublished(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleListPublished")
	defer span.End()

	q := r.URL.Query()
	query := model.PublishedQuery{Theme: q.Get("theme"), Location: q.Get("location")}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_BAD_REQUEST, "invalid limit", correlationID(r)))
			return
		}
		query.Limit = limit
	}

	subs, err := m.store.ListPublished(ctx, query)
	if err != nil {
		span.RecordError(err)
		m.logger.Error("list published submissions failed", "error", err)
		m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_INTERNAL, "failed to list submissions", correlationID(r)))
		return
	}
	out := make([]model.PublishedSubmission, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub.Public())
	}
	writeJSON(w, http.StatusOK, out)
}

// handleVibe handles GET /v1/vibe?theme=&location=.
func (m *Mux) handleVibe(w http.ResponseWriter, r *http.Request) {
	q := model.Query{
		Theme:    r.URL.Query().Get("theme"),
		Location: r.URL.Query().Get("location"),
	}.WithDefaults(m.defaultQuery.Theme, m.defaultQuery.Location)

	images := m.resolver.Resolve(r.Context(), q)
	writeJSON(w, http.StatusOK, model.VibeResponse{Data: model.VibeData{
		Theme:    q.Theme,
		Location: q.Location,
		Images:   images,
	}})
}

// requireModerator admits requests bearing a valid moderator token.
func (m *Mux) requireModerator(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cid := correlationID(r)
		if m.verifier == nil || m.moderation == nil {
			m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_UNAVAILABLE, "moderation is not configured", cid))
			return
		}

		token := auth.BearerToken(r.Header.Get("Authorization"))
		claims, err := m.verifier.Authorize(r.Context(), token, auth.RoleModerator)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrMissingToken):
				m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_AUTHN, "missing bearer token", cid))
			case errors.Is(err, auth.ErrExpiredToken):
				m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_JWT_EXPIRED, "JWT token expired", cid))
			case errors.Is(err, auth.ErrForbidden):
				m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_AUTHZ, "moderator role required", cid))
			default:
				m.logger.Debug("token rejected", "error", err, "correlation_id", cid)
				m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_JWT_INVALID, "invalid token", cid))
			}
			return
		}

		if sub, _ := claims.GetSubject(); sub != "" {
			setSubject(r, sub)
		}
		h(w, r)
	}
}

// handleListPending handles GET /admin/submissions.
func (m *Mux) handleListPending(w http.ResponseWriter, r *http.Request) {
	subs, err := m.moderation.ListPending(r.Context())
	if err != nil {
		m.logger.Error("list pending submissions failed", "error", err)
		m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_INTERNAL, "failed to list submissions", correlationID(r)))
		return
	}
	m.writeSuccess(w, http.StatusOK, subs)
}

// handleApprove handles POST /admin/submissions/{id}/approve.
func (m *Mux) handleApprove(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleApprove")
	defer span.End()
	cid := correlationID(r)

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_BAD_REQUEST, "invalid submission id", cid))
		return
	}
	span.SetAttributes(attribute.Int64("witvis.submission_id", id))

	sub, err := m.moderation.Approve(ctx, id)
	switch {
	case err == nil:
		m.writeSuccess(w, http.StatusOK, sub)
	case errors.Is(err, storage.ErrNotFound):
		m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_NOT_FOUND, "submission not found", cid))
	case errors.Is(err, storage.ErrNotMaterialized):
		m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_NOT_MATERIALIZED, "submission has no uploaded image", cid))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "approve failed")
		m.logger.Error("approve submission failed", "id", id, "error", err)
		m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_INTERNAL, "failed to approve submission", cid))
	}
}

// handleListOrphans handles GET /admin/orphans.
func (m *Mux) handleListOrphans(w http.ResponseWriter, r *http.Request) {
	subs, err := m.moderation.ListOrphans(r.Context())
	if err != nil {
		m.logger.Error("list orphans failed", "error", err)
		m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_INTERNAL, "failed to list orphans", correlationID(r)))
		return
	}
	m.writeSuccess(w, http.StatusOK, subs)
}

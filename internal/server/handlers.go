package server

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"medquote/internal/apperr"
	"medquote/internal/auth"
	"medquote/internal/middleware"
	"medquote/internal/models"
	"medquote/internal/repository"
	"medquote/internal/service"
)

func (s *Server) handleRegisterCustomer(w http.ResponseWriter, r *http.Request) {
	var in auth.CustomerRegistration
	if err := decodeJSON(r, &in); err != nil {
		jsonError(w, err)
		return
	}
	c, err := s.svc.Auth.RegisterCustomer(r.Context(), in)
	if err != nil {
		jsonError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleRegisterPharmacy(w http.ResponseWriter, r *http.Request) {
	var in auth.PharmacyRegistration
	if err := decodeJSON(r, &in); err != nil {
		jsonError(w, err)
		return
	}
	p, err := s.svc.Auth.RegisterPharmacy(r.Context(), in)
	if err != nil {
		jsonError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type loginBody struct {
	Email    string          `json:"email"`
	Password string          `json:"password"`
	UserType models.UserType `json:"user_type"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginBody
	if err := decodeJSON(r, &in); err != nil {
		jsonError(w, err)
		return
	}
	token, u, err := s.svc.Auth.Login(r.Context(), in.Email, in.Password, in.UserType)
	if err != nil {
		jsonError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: u})
}

type createRequestBody struct {
	PrescriptionImageURL string            `json:"prescription_image_url"`
	Medicines            []models.Medicine `json:"medicines"`
	Radius               models.Radius     `json:"radius"`
	Address              string            `json:"address"`
	Latitude             *float64          `json:"latitude"`
	Longitude            *float64          `json:"longitude"`
}

func (b createRequestBody) input() service.CreateRequestInput {
	return service.CreateRequestInput{
		PrescriptionImageURL: b.PrescriptionImageURL,
		Medicines:            b.Medicines,
		Radius:               b.Radius,
		Address:              b.Address,
		Latitude:             b.Latitude,
		Longitude:            b.Longitude,
	}
}

// handleCreateRequest takes either a JSON body or a multipart form with a
// "payload" JSON part and an optional "prescription" file part.
func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	var file io.Reader
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			jsonError(w, apperr.Validation("bad multipart form: %v", err))
			return
		}
		defer r.MultipartForm.RemoveAll()
		if err := json.Unmarshal([]byte(r.FormValue("payload")), &body); err != nil {
			jsonError(w, apperr.Validation("bad payload part: %v", err))
			return
		}
		f, err := prescriptionPart(r.MultipartForm)
		if err != nil {
			jsonError(w, err)
			return
		}
		if f != nil {
			defer f.Close()
			file = f
		}
	} else if err := decodeJSON(r, &body); err != nil {
		jsonError(w, err)
		return
	}

	in := body.input()
	in.Prescription = file
	req, err := s.svc.Customers.CreateRequest(r.Context(), middleware.CallerFrom(r.Context()), in)
	if err != nil {
		jsonError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// prescriptionPart opens the single "prescription" file of form, or returns
// nil when the form carries none.
func prescriptionPart(form *multipart.Form) (multipart.File, error) {
	parts := form.File["prescription"]
	switch len(parts) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, apperr.Validation("expected one prescription file, got %d", len(parts))
	}
	f, err := parts[0].Open()
	if err != nil {
		return nil, apperr.Validation("read prescription part %q: %v", parts[0].Filename, err)
	}
	return f, nil
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Customers.ListRequests(r.Context(), middleware.CallerFrom(r.Context()))
	if err != nil {
		jsonError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.svc.Customers.GetRequest(r.Context(), middleware.CallerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.svc.Customers.CancelRequest(r.Context(), middleware.CallerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleListQuotes(w http.ResponseWriter, r *http.Request) {
	quotes, err := s.svc.Customers.ListQuotes(r.Context(), middleware.CallerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quotes)
}

type acceptBody struct {
	Channel models.Channel `json:"channel"`
}

func (s *Server) handleAcceptQuote(w http.ResponseWriter, r *http.Request) {
	var in acceptBody
	if err := decodeJSON(r, &in); err != nil {
		jsonError(w, err)
		return
	}
	req, err := s.svc.Customers.AcceptQuote(r.Context(), middleware.CallerFrom(r.Context()), chi.URLParam(r, "id"), in.Channel)
	if err != nil {
		jsonError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleVisibleRequests(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Pharmacies.ListVisibleRequests(r.Context(), middleware.CallerFrom(r.Context()))
	if err != nil {
		jsonError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type quoteBody struct {
	DeliveryPrice         decimal.Decimal `json:"delivery_price"`
	PickupPrice           decimal.Decimal `json:"pickup_price"`
	EstimatedDeliveryTime string          `json:"estimated_delivery_time"`
	Notes                 string          `json:"notes"`
}

func (s *Server) handleSubmitQuote(w http.ResponseWriter, r *http.Request) {
	var in quoteBody
	if err := decodeJSON(r, &in); err != nil {
		jsonError(w, err)
		return
	}
	q, err := s.svc.Pharmacies.SubmitQuote(r.Context(), middleware.CallerFrom(r.Context()), chi.URLParam(r, "id"), service.QuoteInput{
		DeliveryPrice: in.DeliveryPrice,
		PickupPrice:   in.PickupPrice,
		EstimatedTime: in.EstimatedDeliveryTime,
		Notes:         in.Notes,
	})
	if err != nil {
		jsonError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (s *Server) handleMyQuotes(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Pharmacies.ListMyQuotes(r.Context(), middleware.CallerFrom(r.Context()))
	if err != nil {
		jsonError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAdminPharmacies(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Operator.ListPharmacies(r.Context())
	if err != nil {
		jsonError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type verifyBody struct {
	Verified *bool `json:"verified"`
}

// handleVerifyPharmacy verifies by default; {"verified": false} revokes.
func (s *Server) handleVerifyPharmacy(w http.ResponseWriter, r *http.Request) {
	var in verifyBody
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &in); err != nil {
			jsonError(w, err)
			return
		}
	}
	verified := in.Verified == nil || *in.Verified
	p, err := s.svc.Operator.VerifyPharmacy(r.Context(), chi.URLParam(r, "id"), verified)
	if err != nil {
		jsonError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAdminRequests(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Operator.ListRequests(r.Context())
	if err != nil {
		jsonError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCompleteRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.svc.Operator.CompleteRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	tasks, err := s.svc.Operator.Outbox(r.Context(), limit)
	if err != nil {
		jsonError(w, err)
		return
	}
	res := make([]outboxTask, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, outboxTask{
			ID: t.ID, Key: t.Key, Status: t.Status, AttemptCount: t.AttemptCount,
			CreatedAt: t.CreatedAt, Event: json.RawMessage(t.Payload),
		})
	}
	writeJSON(w, http.StatusOK, res)
}

type outboxTask struct {
	ID           int64                 `json:"id"`
	Key          string                `json:"key"`
	Status       repository.TaskStatus `json:"status"`
	AttemptCount int                   `json:"attempt_count"`
	CreatedAt    time.Time             `json:"created_at"`
	Event        json.RawMessage       `json:"event"`
}

// Package gateway provides the HTTP edge of the exchange. Handlers never
// touch engine state directly: each request is encoded as a command, pushed
// onto the queue, and the handler blocks until the correlated reply comes
// back from the processor.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opinex/exchange-engine/internal/bus"
	"github.com/opinex/exchange-engine/internal/command"
	"github.com/opinex/exchange-engine/internal/correlation"
	"github.com/opinex/exchange-engine/internal/model"
)

// Service exposes the exchange API over HTTP.
type Service struct {
	queue   bus.CommandQueue
	tracker *correlation.Tracker
}

// NewService creates the HTTP service. The tracker must already be running
// against the same bus the processor replies on.
func NewService(queue bus.CommandQueue, tracker *correlation.Tracker) *Service {
	return &Service{queue: queue, tracker: tracker}
}

// Routes mounts the API routes on the given router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/user/create/{userID}", s.RegisterUser)
	r.Post("/event/create/{eventID}", s.CreateEvent)
	r.Post("/deposit", s.Deposit)
	r.Post("/trade/mint", s.MintPair)
	r.Post("/order/buy", s.PlaceBuy)
	r.Post("/order/sell", s.PlaceSell)
	r.Post("/order/cancel", s.Cancel)
	r.Post("/reset", s.Reset)
	r.Get("/balance/cash/{userID}", s.GetBalance)
	r.Get("/balance/positions/{userID}", s.GetPositions)
	r.Get("/orderbook/{eventID}", s.GetBook)
}

func (s *Service) RegisterUser(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, command.RegisterUser{UserID: chi.URLParam(r, "userID")})
}

func (s *Service) CreateEvent(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, command.CreateEvent{EventID: chi.URLParam(r, "eventID")})
}

func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req command.Deposit
	if !decodeBody(w, r, &req) {
		return
	}
	s.dispatch(w, r, req)
}

func (s *Service) MintPair(w http.ResponseWriter, r *http.Request) {
	var req command.MintPair
	if !decodeBody(w, r, &req) {
		return
	}
	s.dispatch(w, r, req)
}

// OrderRequest is the JSON body shared by buy, sell, and cancel.
type OrderRequest struct {
	UserID   string     `json:"userId"`
	EventID  string     `json:"eventId"`
	Side     model.Side `json:"side"`
	Price    int64      `json:"price"`
	Quantity int64      `json:"quantity"`
}

func (s *Service) PlaceBuy(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeOrder(w, r)
	if !ok {
		return
	}
	s.dispatch(w, r, command.PlaceBuy(req))
}

func (s *Service) PlaceSell(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeOrder(w, r)
	if !ok {
		return
	}
	s.dispatch(w, r, command.PlaceSell(req))
}

func (s *Service) Cancel(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeOrder(w, r)
	if !ok {
		return
	}
	s.dispatch(w, r, command.Cancel(req))
}

func (s *Service) Reset(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, command.ResetAll{})
}

func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, command.GetBalance{UserID: chi.URLParam(r, "userID")})
}

func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, command.GetPositions{UserID: chi.URLParam(r, "userID")})
}

func (s *Service) GetBook(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, command.GetBook{EventID: chi.URLParam(r, "eventID")})
}

// dispatch pushes the operation onto the command queue and relays the
// engine's reply. The waiter registers before the push so a reply can never
// race past an unregistered listener.
func (s *Service) dispatch(w http.ResponseWriter, r *http.Request, op command.Op) {
	requestID := uuid.New().String()
	waiter, err := s.tracker.Expect(requestID)
	if err != nil {
		writeError(w, "request correlation failed", http.StatusInternalServerError)
		return
	}

	payload, err := command.Encode(requestID, op)
	if err != nil {
		waiter.Cancel()
		writeError(w, "command encoding failed", http.StatusInternalServerError)
		return
	}
	if err := s.queue.Push(r.Context(), payload); err != nil {
		waiter.Cancel()
		writeError(w, "engine unavailable", http.StatusServiceUnavailable)
		return
	}

	reply, err := waiter.Wait(r.Context())
	if err != nil {
		if errors.Is(err, correlation.ErrTimeout) {
			writeError(w, "engine reply timed out", http.StatusGatewayTimeout)
			return
		}
		writeError(w, "request canceled", http.StatusServiceUnavailable)
		return
	}

	if reply.Error {
		writeError(w, reply.Msg, statusFor(reply.Msg))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if reply.Msg == "" {
		w.Write([]byte(`{}`))
		return
	}
	w.Write([]byte(reply.Msg))
}

// statusFor maps an engine rejection to an HTTP status. The reply carries
// only the error text, so the mapping keys off the sentinel wording.
func statusFor(errMsg string) int {
	if strings.Contains(errMsg, "not found") {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

func decodeOrder(w http.ResponseWriter, r *http.Request) (OrderRequest, bool) {
	var req OrderRequest
	if !decodeBody(w, r, &req) {
		return OrderRequest{}, false
	}
	return req, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

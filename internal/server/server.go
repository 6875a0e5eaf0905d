package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"feedstream/internal/database"
	"feedstream/internal/domain"
	"feedstream/internal/ingest"
	"feedstream/internal/websub"
)

const (
	maxDeliverySize  = 10 << 20
	maxAdminFormSize = 64 << 10
)

type Ingestor interface {
	AddSubscription(ctx context.Context, input, subscriber string) (*domain.Subscription, error)
	DeleteSubscription(ctx context.Context, url string) (int, error)
	HandleDelivery(ctx context.Context, body []byte, signature string) (int, error)
}

type ChallengeVerifier interface {
	Verify(ctx context.Context, ch websub.Challenge) (string, error)
}

type Reader interface {
	ListSubscriptions(ctx context.Context) ([]domain.Subscription, error)
	LatestPosts(ctx context.Context, limit uint64) ([]domain.Post, error)
}

type StateReader interface {
	State(topic string) domain.SubscriptionState
}

// Server is the HTTP surface: /posts is both the hub callback and the post
// stream, /subscriptions is the admin collection.
type Server struct {
	ingestor      Ingestor
	verifier      ChallengeVerifier
	reader        Reader
	states        StateReader
	postsPageSize uint64
	log           *slog.Logger
}

type subscriptionView struct {
	domain.Subscription

	State domain.SubscriptionState `json:"state"`
}

func New(
	ingestor Ingestor,
	verifier ChallengeVerifier,
	reader Reader,
	states StateReader,
	postsPageSize uint64,
	log *slog.Logger,
) *Server {
	return &Server{
		ingestor:      ingestor,
		verifier:      verifier,
		reader:        reader,
		states:        states,
		postsPageSize: postsPageSize,
		log:           log,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /posts", s.getPosts)
	mux.HandleFunc("POST /posts", s.postPosts)
	mux.HandleFunc("GET /subscriptions", s.getSubscriptions)
	mux.HandleFunc("POST /subscriptions", s.postSubscriptions)
	mux.HandleFunc("DELETE /subscriptions", s.deleteSubscriptions)

	return mux
}

// getPosts answers hub verification requests and otherwise lists the
// latest posts.
func (s *Server) getPosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if ch, ok := websub.ChallengeFromQuery(r.URL.Query()); ok {
		s.verify(ctx, w, ch)
		return
	}

	posts, err := s.reader.LatestPosts(ctx, s.postsPageSize)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to list posts",
			"error", err)
		http.Error(w, "Failed to list posts", http.StatusInternalServerError)
		return
	}

	s.writeJSON(ctx, w, http.StatusOK, posts)
}

func (s *Server) verify(ctx context.Context, w http.ResponseWriter, ch websub.Challenge) {
	challenge, err := s.verifier.Verify(ctx, ch)
	if errors.Is(err, websub.ErrChallengeFailed) {
		s.log.WarnContext(ctx, "Challenge is refused",
			"error", err,
			"mode", ch.Mode,
			"topic", ch.Topic)
		http.Error(w, "Challenge failed", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to verify challenge",
			"error", err,
			"topic", ch.Topic)
		http.Error(w, "Failed to verify challenge", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

func (s *Server) postPosts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDeliverySize))
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to read delivery body",
			"error", err)
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	_, err = s.ingestor.HandleDelivery(ctx, body, r.Header.Get(websub.SignatureHeader))

	var invalid *ingest.InvalidFeedError

	switch {
	case err == nil:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "accepted")
	case errors.Is(err, websub.ErrInvalidSignature):
		s.log.WarnContext(ctx, "Delivery signature is rejected",
			"error", err,
			"remoteAddr", r.RemoteAddr)
		http.Error(w, "", http.StatusForbidden)
	case errors.Is(err, ingest.ErrUnknownFeed):
		s.log.WarnContext(ctx, "Delivery for unknown feed",
			"error", err)
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &invalid):
		http.Error(w, "Bad entries: "+invalid.Diagnostic, http.StatusBadRequest)
	default:
		s.log.ErrorContext(ctx, "Failed to handle delivery",
			"error", err)
		http.Error(w, "Failed to handle delivery", http.StatusInternalServerError)
	}
}

func (s *Server) getSubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subs, err := s.reader.ListSubscriptions(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to list subscriptions",
			"error", err)
		http.Error(w, "Failed to list subscriptions", http.StatusInternalServerError)
		return
	}

	views := make([]subscriptionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, subscriptionView{
			Subscription: sub,
			State:        s.states.State(sub.URL),
		})
	}

	s.writeJSON(ctx, w, http.StatusOK, views)
}

func (s *Server) postSubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxAdminFormSize)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	sub, err := s.ingestor.AddSubscription(ctx, r.PostForm.Get("url"), r.PostForm.Get("subscriber"))

	var invalid *ingest.InvalidFeedError

	switch {
	case err == nil:
		s.writeJSON(ctx, w, http.StatusCreated, subscriptionView{
			Subscription: *sub,
			State:        s.states.State(sub.URL),
		})
	case errors.Is(err, ingest.ErrDuplicateSubscription):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ingest.ErrInvalidURL):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &invalid):
		http.Error(w, "Bad entries: "+invalid.Diagnostic, http.StatusUnprocessableEntity)
	case errors.Is(err, ingest.ErrFeedUnavailable):
		s.log.WarnContext(ctx, "Failed to fetch submitted feed",
			"error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		s.log.ErrorContext(ctx, "Failed to add subscription",
			"error", err)
		http.Error(w, "Failed to add subscription", http.StatusInternalServerError)
	}
}

func (s *Server) deleteSubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	deleted, err := s.ingestor.DeleteSubscription(ctx, url)

	switch {
	case err == nil:
		s.writeJSON(ctx, w, http.StatusOK, map[string]int{"deletedPosts": deleted})
	case errors.Is(err, database.ErrSubscriptionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		s.log.ErrorContext(ctx, "Failed to delete subscription",
			"error", err,
			"url", url,
			"deletedPosts", deleted)
		http.Error(w, "Failed to delete subscription", http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.ErrorContext(ctx, "Failed to write response",
			"error", err)
	}
}

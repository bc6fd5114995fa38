package microservice

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/illmade-knight/go-queryflow/pkg/query"
	"github.com/rs/zerolog"
)

// StateView is the JSON rendering of a query entry.
type StateView struct {
	Key       query.Key    `json:"key"`
	Status    query.Status `json:"status"`
	Version   uint64       `json:"version"`
	Data      any          `json:"data,omitempty"`
	Error     string       `json:"error,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewStateView renders entry for key.
func NewStateView(key query.Key, e query.Entry) StateView {
	v := StateView{
		Key:       key,
		Status:    e.Status,
		Version:   e.Version,
		UpdatedAt: e.UpdatedAt,
	}
	if e.HasData {
		v.Data = e.Data
	}
	if e.Err != nil {
		v.Error = e.Err.Error()
	}
	return v
}

// TriggerResponse is returned by the fetch endpoint.
type TriggerResponse struct {
	Started bool      `json:"started"`
	State   StateView `json:"state"`
}

// QueryService exposes the query store over HTTP.
type QueryService struct {
	*BaseServer
	store   *query.Store
	queries map[query.Key]query.Query
	logger  zerolog.Logger
}

// NewQueryService registers the query routes on a new BaseServer. metrics may
// be nil, in which case /metrics is not served.
func NewQueryService(
	httpPort string,
	store *query.Store,
	queries []query.Query,
	metrics http.Handler,
	logger zerolog.Logger,
) *QueryService {
	s := &QueryService{
		BaseServer: NewBaseServer(logger, httpPort),
		store:      store,
		queries:    make(map[query.Key]query.Query, len(queries)),
		logger:     logger.With().Str("component", "QueryService").Logger(),
	}
	for _, q := range queries {
		s.queries[q.Key()] = q
		// Registered keys are listed even before their first fetch.
		store.GetEntry(q.Key())
	}

	r := s.Router()
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Route("/queries", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Route("/{key}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Post("/fetch", s.handleTrigger)
			r.Get("/events", s.handleEvents)
		})
	})
	return s
}

func (s *QueryService) lookup(w http.ResponseWriter, r *http.Request) (query.Query, bool) {
	key := query.Key(chi.URLParam(r, "key"))
	q, ok := s.queries[key]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown query %q", key)})
		return nil, false
	}
	return q, true
}

func (s *QueryService) handleList(w http.ResponseWriter, _ *http.Request) {
	views := make([]StateView, 0, len(s.queries))
	for _, key := range s.store.Keys() {
		if _, ok := s.queries[key]; ok {
			views = append(views, NewStateView(key, s.store.GetEntry(key)))
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *QueryService) handleGet(w http.ResponseWriter, r *http.Request) {
	q, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, NewStateView(q.Key(), s.store.GetEntry(q.Key())))
}

func (s *QueryService) handleTrigger(w http.ResponseWriter, r *http.Request) {
	q, ok := s.lookup(w, r)
	if !ok {
		return
	}
	started := q.Trigger(r.Context())
	writeJSON(w, http.StatusAccepted, TriggerResponse{
		Started: started,
		State:   NewStateView(q.Key(), s.store.GetEntry(q.Key())),
	})
}

// handleEvents streams a "state" event for the current entry and then one per
// transition until the client goes away.
func (s *QueryService) handleEvents(w http.ResponseWriter, r *http.Request) {
	q, ok := s.lookup(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	key := q.Key()
	updates := make(chan query.Entry, 16)
	unsubscribe := s.store.Subscribe(key, func() {
		// Never block the goroutine performing the transition.
		select {
		case updates <- s.store.GetEntry(key):
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(e query.Entry) bool {
		payload, err := json.Marshal(NewStateView(key, e))
		if err != nil {
			s.logger.Error().Err(err).Str("key", string(key)).Msg("Failed to encode state event.")
			return false
		}
		if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(s.store.GetEntry(key)) {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-updates:
			if !send(e) {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

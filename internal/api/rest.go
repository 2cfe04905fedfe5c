// Package api exposes the alarm runtime over HTTP: a REST query/admin
// surface and a WebSocket event stream, built on net/http mux handlers
// and a gorilla/websocket hub.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"alarmist/internal/alarmid"
	"alarmist/internal/compiler"
	"alarmist/internal/handler"
	"alarmist/internal/matcher"
	"alarmist/internal/store"
)

const apiBase = "/api/v1"

// Metrics is the instrumentation surface Server drives. Nil-safe: a Server
// with no Metrics simply skips recording.
type Metrics interface {
	SetWebSocketClients(count float64)
}

// Server wires the REST and WebSocket surfaces to a Handler/Store pair.
type Server struct {
	handler *handler.Handler
	store   *store.Store
	hub     *Hub
}

// NewServer creates a Server. Call Routes to obtain the http.Handler.
func NewServer(h *handler.Handler, st *store.Store) *Server {
	return &Server{handler: h, store: st, hub: newHub(st)}
}

// SetMetrics attaches the connected-client gauge. Optional.
func (s *Server) SetMetrics(m Metrics) {
	if m == nil {
		s.hub.OnClientCountChanged = nil
		return
	}
	s.hub.OnClientCountChanged = func(count int) {
		m.SetWebSocketClients(float64(count))
	}
}

// Routes registers every endpoint on router.
func (s *Server) Routes(router *http.ServeMux) {
	router.HandleFunc(apiBase+"/alarms", s.handleAlarmList)
	router.HandleFunc(apiBase+"/alarms/", s.handleAlarmByID)
	router.HandleFunc(apiBase+"/managed-alarms", s.handleManagedAlarmList)
	router.HandleFunc(apiBase+"/managed-alarms/", s.handleManagedAlarmByID)
	router.HandleFunc("/ws", s.hub.ServeHTTP)
}

// Run starts the Hub's register/unregister/broadcast loop; call once before
// serving traffic.
func (s *Server) Run() {
	go s.hub.run()
}

// Close tears down every connected WebSocket client.
func (s *Server) Close() {
	s.hub.close()
}

// handleAlarmList implements GET /alarms?level= -> get_alarms(level_filter)
// and get_alarm_ids via ?ids_only=1.
func (s *Server) handleAlarmList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var filter *alarmid.Level
	if lv := r.URL.Query().Get("level"); lv != "" {
		parsed, err := alarmid.ParseLevel(lv)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid level: %v", err), http.StatusBadRequest)
			return
		}
		filter = &parsed
	}

	idsOnly := r.URL.Query().Get("ids_only") != ""

	var ids []string
	var records []alarmView
	s.store.GetAll(func(id alarmid.ID, rec store.Record) bool {
		if filter != nil && rec.Level != *filter {
			return true
		}
		if idsOnly {
			ids = append(ids, id.String())
		} else {
			records = append(records, viewOf(id, rec))
		}
		return true
	})

	if idsOnly {
		writeJSON(w, map[string]interface{}{"ids": ids})
		return
	}
	writeJSON(w, map[string]interface{}{"alarms": records})
}

// handleAlarmByID dispatches GET/PUT/DELETE on /alarms/{id} and the
// set/clear/level sub-paths.
func (s *Server) handleAlarmByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, apiBase+"/alarms/")
	parts := strings.SplitN(rest, "/", 2)
	idStr := parts[0]
	id, err := ParseID(idStr)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid alarm id: %v", err), http.StatusBadRequest)
		return
	}

	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		s.handleAlarmState(w, id)
	case sub == "set" && r.Method == http.MethodPost:
		s.handleSetAlarm(w, r, id)
	case sub == "clear" && r.Method == http.MethodPost:
		s.handleClearAlarm(w, id)
	case sub == "level" && r.Method == http.MethodPut:
		s.handleSetLevel(w, r, id)
	case sub == "level" && r.Method == http.MethodDelete:
		s.handleClearLevel(w, id)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleAlarmState(w http.ResponseWriter, id alarmid.ID) {
	rec, ok := s.lookup(id)
	if !ok {
		http.Error(w, "alarm not found", http.StatusNotFound)
		return
	}
	writeJSON(w, viewOf(id, rec))
}

// lookup reports whether id has ever been observed, distinguishing a
// genuinely Unknown (Forgotten) record, which carries a real Timestamp,
// from one never seen at all.
func (s *Server) lookup(id alarmid.ID) (store.Record, bool) {
	def := store.Record{State: alarmid.Unknown}
	rec := s.store.Get(id, def)
	known := rec.State != alarmid.Unknown || !rec.Timestamp.IsZero()
	return rec, known
}

func (s *Server) handleSetAlarm(w http.ResponseWriter, r *http.Request, id alarmid.ID) {
	var body struct {
		Description interface{} `json:"description"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if err := s.handler.SetAlarm(id, body.Description); err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleClearAlarm(w http.ResponseWriter, id alarmid.ID) {
	if err := s.handler.ClearAlarm(id); err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleSetLevel(w http.ResponseWriter, r *http.Request, id alarmid.ID) {
	var body struct {
		Level string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	level, err := alarmid.ParseLevel(body.Level)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid level: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.handler.SetAlarmLevel(id, level); err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleClearLevel(w http.ResponseWriter, id alarmid.ID) {
	if err := s.handler.ClearAlarmLevel(id); err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "ok"})
}

// handleManagedAlarmList implements GET /managed-alarms -> managed_alarm_ids().
func (s *Server) handleManagedAlarmList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ids, err := s.handler.ManagedAlarmIDs()
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	writeJSON(w, map[string]interface{}{"managed_alarms": out})
}

// managedAlarmWire mirrors the compiler's JSON wire format for a compiled
// condition.
type managedAlarmWire struct {
	Level       string                 `json:"level"`
	Rules       []compiler.WireRule    `json:"rules"`
	Temporaries []compiler.WireIDExpr  `json:"temporaries"`
	Options     compiler.WireOptions   `json:"options"`
}

// handleManagedAlarmByID implements POST (add_managed_alarm) and DELETE
// (remove_managed_alarm) on /managed-alarms/{id}.
func (s *Server) handleManagedAlarmByID(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, apiBase+"/managed-alarms/")
	id, err := ParseID(idStr)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid alarm id: %v", err), http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPost:
		var wire managedAlarmWire
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		level, err := alarmid.ParseLevel(wire.Level)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid level: %v", err), http.StatusBadRequest)
			return
		}
		cc, err := compiler.FromWire(wire.Rules, wire.Temporaries, wire.Options)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid compiled condition: %v", err), http.StatusBadRequest)
			return
		}
		if err := s.handler.AddManagedAlarm(id, cc, level); err != nil {
			writeHandlerError(w, err)
			return
		}
		writeJSON(w, map[string]interface{}{"status": "ok"})

	case http.MethodDelete:
		if err := s.handler.RemoveManagedAlarm(id); err != nil {
			writeHandlerError(w, err)
			return
		}
		writeJSON(w, map[string]interface{}{"status": "ok"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type alarmView struct {
	ID          string `json:"id"`
	State       string `json:"state"`
	Description interface{} `json:"description,omitempty"`
	Level       string `json:"level"`
	Timestamp   string `json:"timestamp"`
}

func viewOf(id alarmid.ID, rec store.Record) alarmView {
	return alarmView{
		ID:          id.String(),
		State:       rec.State.String(),
		Description: rec.Description,
		Level:       rec.Level.String(),
		Timestamp:   strconv.FormatInt(rec.Timestamp.UnixNano(), 10),
	}
}

// writeHandlerError maps a Handler error to an HTTP status code.
func writeHandlerError(w http.ResponseWriter, err error) {
	switch {
	case err == handler.ErrHandlerUnavailable:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// ParseID parses a wire alarm id: "tag(p1,p2,...)" for a tagged tuple, or a
// bare atom otherwise, matching config.ParseID.
func ParseID(s string) (alarmid.ID, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return alarmid.Leaf(alarmid.Atom(s)), nil
	}
	if !strings.HasSuffix(s, ")") {
		return alarmid.ID{}, fmt.Errorf("api: malformed tagged id %q", s)
	}
	tag := alarmid.Atom(s[:open])
	inner := s[open+1 : len(s)-1]
	var params []interface{}
	if inner != "" {
		for _, p := range strings.Split(inner, ",") {
			params = append(params, strings.TrimSpace(p))
		}
	}
	return alarmid.Tagged(tag, params...), nil
}

// ParsePattern parses a wire subscription pattern: "_" anywhere denotes a
// wildcard element.
func ParsePattern(s string) (matcher.Pattern, error) {
	if s == "" || s == matcher.Wildcard {
		return matcher.All(), nil
	}
	open := strings.IndexByte(s, '(')
	if open < 0 {
		if s == matcher.Wildcard {
			return matcher.All(), nil
		}
		return matcher.Leaf(alarmid.Atom(s)), nil
	}
	if !strings.HasSuffix(s, ")") {
		return matcher.Pattern{}, fmt.Errorf("api: malformed tagged pattern %q", s)
	}
	tagStr := s[:open]
	inner := s[open+1 : len(s)-1]
	var params []matcher.ParamPattern
	if inner != "" {
		for _, p := range strings.Split(inner, ",") {
			p = strings.TrimSpace(p)
			if p == matcher.Wildcard {
				params = append(params, matcher.WildParam())
			} else {
				params = append(params, matcher.Value(p))
			}
		}
	}
	if tagStr == matcher.Wildcard {
		return matcher.TaggedWild(len(params)), nil
	}
	return matcher.Tagged(alarmid.Atom(tagStr), params...), nil
}

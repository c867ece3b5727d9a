package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/small-frappuccino/teamlists/pkg/log"
	"github.com/small-frappuccino/teamlists/pkg/metrics"
	"github.com/small-frappuccino/teamlists/pkg/render"
	"github.com/small-frappuccino/teamlists/pkg/teamlist"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ManualSweepInterval is the minimum spacing of POST /v1/sweep calls.
const ManualSweepInterval = 30 * time.Second

// ListSource is the read side of the registry.
type ListSource interface {
	Lists() []teamlist.ListEntity
	ListsInGuild(guildID string) []teamlist.ListEntity
}

// Sweeper runs an on-demand sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (render.SweepStats, error)
	LastSweep() time.Time
}

// Health reports gateway readiness for /healthz.
type Health func() (ready bool, guilds int)

// Server exposes operational endpoints for a running bot.
type Server struct {
	addr       string
	lists      ListSource
	sweeper    Sweeper
	health     Health
	started    time.Time
	httpServer *http.Server
	listener   net.Listener
	sweepLimit *rate.Limiter
}

// NewServer returns nil if addr is empty.
func NewServer(addr string, lists ListSource, sweeper Sweeper, health Health) *Server {
	addr = strings.TrimSpace(addr)
	if addr == "" || lists == nil {
		return nil
	}

	s := &Server{
		addr:    addr,
		lists:   lists,
		sweeper: sweeper,
		health:  health,
		started: time.Now(),
		// Scheduled sweeps do not draw from this limiter.
		sweepLimit: rate.NewLimiter(rate.Every(ManualSweepInterval), 1),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/lists", s.handleLists)
	mux.HandleFunc("/v1/sweep", s.handleSweep)
	return mux
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start opens the listening socket and serves in the background.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bind control server: %w", err)
	}
	s.listener = ln

	log.ApplicationLogger().Info("Control server listening", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ApplicationLogger().Error("Control server stopped unexpectedly", "err", err)
		}
	}()

	return nil
}

// Stop shuts down the control server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown control server: %w", err)
	}

	log.ApplicationLogger().Info("Control server stopped", "addr", s.addr)
	return nil
}

type healthResponse struct {
	Status        string     `json:"status"`
	Ready         bool       `json:"ready"`
	Guilds        int        `json:"guilds"`
	TrackedLists  int        `json:"tracked_lists"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	LastSweep     *time.Time `json:"last_sweep,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := healthResponse{
		Status:        "ok",
		Ready:         true,
		TrackedLists:  len(s.lists.Lists()),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if s.health != nil {
		resp.Ready, resp.Guilds = s.health()
	}
	if s.sweeper != nil {
		if last := s.sweeper.LastSweep(); !last.IsZero() {
			resp.LastSweep = &last
		}
	}
	status := http.StatusOK
	if !resp.Ready {
		resp.Status = "starting"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

type listView struct {
	GuildID        string     `json:"guild_id"`
	ChannelID      string     `json:"channel_id"`
	TeamRoleID     string     `json:"team_role_id"`
	HiddenRoles    []string   `json:"hidden_roles"`
	MessageID      string     `json:"message_id,omitempty"`
	State          string     `json:"state"`
	CreatedAt      time.Time  `json:"created_at"`
	LastRenderedAt *time.Time `json:"last_rendered_at,omitempty"`
}

func newListView(e teamlist.ListEntity) listView {
	v := listView{
		GuildID:     e.GuildID,
		ChannelID:   e.ChannelID,
		TeamRoleID:  e.TeamRoleID,
		HiddenRoles: append([]string{}, e.HiddenRoles...),
		MessageID:   e.MessageID,
		State:       "unrendered",
		CreatedAt:   e.CreatedAt,
	}
	if e.MessageID != "" {
		v.State = "rendered"
	}
	if !e.LastRenderedAt.IsZero() {
		at := e.LastRenderedAt
		v.LastRenderedAt = &at
	}
	return v
}

func (s *Server) handleLists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var entities []teamlist.ListEntity
	if guildID := strings.TrimSpace(r.URL.Query().Get("guild_id")); guildID != "" {
		entities = s.lists.ListsInGuild(guildID)
	} else {
		entities = s.lists.Lists()
	}
	out := make([]listView, 0, len(entities))
	for _, e := range entities {
		out = append(out, newListView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"lists": out})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.sweeper == nil {
		http.Error(w, "sweeper unavailable", http.StatusServiceUnavailable)
		return
	}

	if res := s.sweepLimit.Reserve(); res.Delay() > 0 {
		retry := res.Delay()
		res.Cancel()
		w.Header().Set("Retry-After", strconv.Itoa(int(retry.Round(time.Second)/time.Second)+1))
		http.Error(w, "sweep requested too recently", http.StatusTooManyRequests)
		return
	}

	stats, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("sweep failed: %v", err), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"rendered": stats.Rendered,
		"skipped":  stats.Skipped,
		"fresh":    stats.Fresh,
		"failed":   stats.Failed,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.ApplicationLogger().Error("Failed to encode control response", "err", err)
	}
}

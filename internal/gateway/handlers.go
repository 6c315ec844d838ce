package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/terminal-bench/blasttap/internal/history"
	"github.com/terminal-bench/blasttap/internal/pipeline"
	"github.com/terminal-bench/blasttap/internal/session"
	"github.com/terminal-bench/blasttap/pkg/messaging"
	"go.uber.org/zap"
)

const evictTimeout = 5 * time.Second

type createSessionRequest struct {
	Name string `json:"name"`
}

type sessionResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt string    `json:"created_at"`
	Entries   int       `json:"entries"`
	Capacity  int       `json:"capacity"`
}

func (g *Gateway) healthCheck(c *gin.Context) {
	resp := gin.H{"status": "healthy", "sessions": g.deps.Registry.Len()}
	if d := g.deps.Dispatcher; d != nil {
		breakers := make(map[string]gin.H)
		for name, snap := range d.Breakers() {
			breakers[name] = gin.H{"state": snap.State.String(), "failures": snap.Failures}
		}
		resp["sinks"] = d.Names()
		resp["breakers"] = breakers
	}
	if b := g.deps.Broker; b != nil {
		resp["broker"] = gin.H{"connected": b.IsConnected(), "reconnects": b.Reconnects()}
	}
	c.JSON(http.StatusOK, resp)
}

func (g *Gateway) resetSink(c *gin.Context) {
	if g.deps.Dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no sinks configured"})
		return
	}
	name := c.Param("name")
	if !g.deps.Dispatcher.ResetBreaker(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown sink"})
		return
	}
	g.deps.Logger.Info("sink breaker reset by operator", zap.String("sink", name), zap.String("operator", Operator(c)))
	c.JSON(http.StatusOK, gin.H{"sink": name, "state": "closed"})
}

func (g *Gateway) createSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	if req.Name == "" {
		req.Name = Operator(c)
	}

	s := g.deps.Registry.Create(req.Name, g.deps.Now())
	g.deps.Logger.Info("session created",
		zap.String("session_id", s.ID.String()),
		zap.String("name", s.Name),
		zap.String("operator", Operator(c)),
	)
	c.JSON(http.StatusCreated, describe(s))
}

func (g *Gateway) getSession(c *gin.Context) {
	s, ok := g.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, describe(s))
}

func (g *Gateway) deleteSession(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := g.deps.Registry.Delete(id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// endSession runs when a session is deleted or expires.
func (g *Gateway) endSession(s *session.Session) {
	seq := s.Reset()
	if g.deps.Cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), evictTimeout)
		defer cancel()
		if err := g.deps.Cache.Evict(ctx, s.ID.String(), seq); err != nil {
			g.deps.Logger.Warn("cache eviction failed", zap.String("session_id", s.ID.String()), zap.Error(err))
		}
	}
	if g.deps.Hub != nil {
		g.deps.Hub.CloseSession(s.ID)
	}
	g.deps.Logger.Info("session ended", zap.String("session_id", s.ID.String()))
}

func (g *Gateway) resetSession(c *gin.Context) {
	s, ok := g.lookup(c)
	if !ok {
		return
	}
	seq := s.Reset()
	if g.deps.Cache != nil {
		if err := g.deps.Cache.Evict(c.Request.Context(), s.ID.String(), seq); err != nil {
			g.deps.Logger.Warn("cache eviction failed", zap.Error(err))
		}
	}
	if g.deps.Hub != nil {
		g.deps.Hub.Fence(s.ID, seq)
	}
	c.JSON(http.StatusOK, describe(s))
}

func (g *Gateway) evaluateSession(c *gin.Context) {
	s, ok := g.lookup(c)
	if !ok {
		return
	}
	req, ok := bindRequest(c)
	if !ok {
		return
	}

	out, err := s.Evaluate(req, g.deps.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	g.logWarnings(s.ID, out.Result.Warnings)
	if g.deps.Alerts != nil {
		g.deps.Alerts.Record(out)
	}

	if g.deps.Dispatcher != nil {
		// Sinks outlive a client that hangs up mid-request.
		_ = g.deps.Dispatcher.Dispatch(context.WithoutCancel(c.Request.Context()), out)
	}
	c.JSON(http.StatusOK, out.Result)
}

func (g *Gateway) evaluateStateless(c *gin.Context) {
	req, ok := bindRequest(c)
	if !ok {
		return
	}
	if err := pipeline.Validate(req); err != nil {
		writeError(c, err)
		return
	}
	res := pipeline.Evaluate(g.deps.Registry.Options(), req, g.deps.Now())
	c.JSON(http.StatusOK, res)
}

func (g *Gateway) latest(c *gin.Context) {
	s, ok := g.lookup(c)
	if !ok {
		return
	}
	if g.deps.Cache != nil {
		res, hit, err := g.deps.Cache.Get(c.Request.Context(), s.ID.String())
		if err != nil {
			g.deps.Logger.Warn("cache read failed", zap.Error(err))
		}
		if hit {
			c.JSON(http.StatusOK, res)
			return
		}
	}
	res, ok := s.LatestResult()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no evaluation yet"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (g *Gateway) historyJSON(c *gin.Context) {
	s, ok := g.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": history.Rows(s.History())})
}

// archived serves a session's archived history, which outlives the session.
func (g *Gateway) archived(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if g.deps.Archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive not configured"})
		return
	}
	limit := history.MaxCapacity
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, history.MaxCapacity)
	}

	entries, err := g.deps.Archive.List(c.Request.Context(), id, limit)
	if err != nil {
		g.deps.Logger.Error("archive read failed", zap.String("session_id", id.String()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "archive unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": history.Rows(entries)})
}

func (g *Gateway) historyCSV(c *gin.Context) {
	s, ok := g.lookup(c)
	if !ok {
		return
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="melt_balance_`+s.ID.String()+`.csv"`)
	c.Status(http.StatusOK)
	if err := history.WriteCSV(c.Writer, s.History()); err != nil {
		g.deps.Logger.Warn("csv export failed", zap.Error(err))
	}
}

func (g *Gateway) exportHistory(c *gin.Context) {
	s, ok := g.lookup(c)
	if !ok {
		return
	}
	if g.deps.Exporter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "export storage not configured"})
		return
	}
	key, err := g.deps.Exporter.Upload(c.Request.Context(), s.ID, s.History(), g.deps.Now())
	if err != nil {
		g.deps.Logger.Error("export upload failed", zap.String("session_id", s.ID.String()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "export upload failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"key": key})
}

func (g *Gateway) listAlerts(c *gin.Context) {
	alerts := []messaging.StatusAlertEvent{}
	if g.deps.Alerts != nil {
		alerts = g.deps.Alerts.Recent()
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (g *Gateway) stream(c *gin.Context) {
	s, ok := g.lookup(c)
	if !ok {
		return
	}
	if g.ws == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live stream not configured"})
		return
	}
	g.ws.ServeHTTP(c.Request.Context(), c.Writer, c.Request, s.ID)
}

func (g *Gateway) lookup(c *gin.Context) (*session.Session, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}
	s, err := g.deps.Registry.Get(id)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return s, true
}

func (g *Gateway) logWarnings(id uuid.UUID, warnings []string) {
	for _, w := range warnings {
		g.deps.Logger.Warn("efficiency out of band", zap.String("session_id", id.String()), zap.String("detail", w))
	}
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return uuid.Nil, false
	}
	return id, true
}

// bindRequest decodes a request body over the reference operating point,
// so omitted inputs keep their default values.
func bindRequest(c *gin.Context) (pipeline.Request, bool) {
	req := pipeline.Request{Inputs: pipeline.DefaultInputs()}
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return req, false
	}
	return req, true
}

func writeError(c *gin.Context, err error) {
	var verr *pipeline.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": pipeline.ErrInvalidInput.Error(), "fields": verr.Fields})
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func describe(s *session.Session) sessionResponse {
	return sessionResponse{
		ID:        s.ID,
		Name:      s.Name,
		CreatedAt: s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Entries:   len(s.History()),
		Capacity:  s.Capacity(),
	}
}

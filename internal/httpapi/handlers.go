package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"cronkeeper/internal/crontab"
	"cronkeeper/internal/invoke"
	"cronkeeper/internal/runtime/supervisor"
	"cronkeeper/internal/storage"
)

type jobRequest struct {
	Target  string `json:"target"`
	Handler string `json:"handler"`
	Cron    string `json:"cron"`
}

type executeRequest struct {
	ID   int64 `json:"id"`
	Tick int64 `json:"tick"`
}

type checkRequest struct {
	Cron  string `json:"cron"`
	From  int64  `json:"from,omitempty"`  // default: now
	Count int    `json:"count,omitempty"` // default 5, max 100
}

type checkResponse struct {
	Canonical string            `json:"canonical"`
	Fields    map[string]string `json:"fields"`
	From      int64             `json:"from"`
	Prev      int64             `json:"prev,omitempty"`
	Next      []int64           `json:"next"`
}

type healthResponse struct {
	OK         bool                 `json:"ok"`
	Jobs       int                  `json:"jobs"`
	Now        int64                `json:"now"`
	Circuits   *invoke.CircuitStats `json:"circuits,omitempty"`
	Goroutines *supervisor.Snapshot `json:"goroutines,omitempty"`
}

func (s *Server) healthz(c echo.Context) error {
	resp := healthResponse{OK: true, Jobs: s.deps.Registry.Len(), Now: s.deps.Keeper.Now()}
	if s.deps.Circuits != nil {
		st := s.deps.Circuits.Stats()
		resp.Circuits = &st
	}
	if s.deps.Runtime != nil {
		snap := s.deps.Runtime.Snapshot()
		// A recorded fatal error means the process is shutting down.
		resp.OK = snap.FirstError == ""
		resp.Goroutines = &snap
	}
	code := http.StatusOK
	if !resp.OK {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

func (s *Server) listJobs(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Registry.List())
}

func (s *Server) getJob(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	j, err := s.deps.Registry.Get(id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, j)
}

func (s *Server) createJob(c echo.Context) error {
	var req jobRequest
	if err := s.bindJob(c, &req); err != nil {
		return err
	}
	j, err := s.deps.Registry.Create(c.Request().Context(), req.Target, req.Handler, req.Cron)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, j)
}

func (s *Server) updateJob(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req jobRequest
	if err := s.bindJob(c, &req); err != nil {
		return err
	}
	j, err := s.deps.Registry.Update(c.Request().Context(), id, req.Target, req.Handler, req.Cron)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, j)
}

func (s *Server) deleteJob(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.deps.Registry.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) bindJob(c echo.Context, req *jobRequest) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body").SetInternal(err)
	}
	req.Target = strings.TrimSpace(req.Target)
	if s.deps.Targets != nil && req.Target != "" {
		if err := s.deps.Targets.Check(req.Target); err != nil {
			return err
		}
	}
	return nil
}

// poll answers 200 with {"id","tick"} or 204 when nothing is due.
func (s *Server) poll(c echo.Context) error {
	now, err := queryInt(c, "now", s.deps.Keeper.Now())
	if err != nil {
		return err
	}
	seed, err := queryInt(c, "seed", 0)
	if err != nil {
		return err
	}
	d, ok := s.deps.Keeper.Poll(now, uint64(seed))
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) dueAll(c echo.Context) error {
	now, err := queryInt(c, "now", s.deps.Keeper.Now())
	if err != nil {
		return err
	}
	due := s.deps.Keeper.DueJobs(now)
	if due == nil {
		return c.JSONBlob(http.StatusOK, []byte("[]"))
	}
	return c.JSON(http.StatusOK, due)
}

// execute answers 200 with the Result even when the callback failed; only
// a rejected claim is an error.
func (s *Server) execute(c echo.Context) error {
	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body").SetInternal(err)
	}
	// The callback outlives a client that hangs up once the tick is claimed.
	ctx := context.WithoutCancel(c.Request().Context())
	res, err := s.deps.Keeper.Execute(ctx, req.ID, req.Tick)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) check(c echo.Context) error {
	var req checkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body").SetInternal(err)
	}
	spec, err := crontab.Compile(req.Cron)
	if err != nil {
		return err
	}
	if req.From == 0 {
		req.From = s.deps.Keeper.Now()
	}
	if req.Count <= 0 {
		req.Count = 5
	}
	if req.Count > 100 {
		req.Count = 100
	}

	resp := checkResponse{
		Canonical: spec.String(),
		Fields:    map[string]string{},
		From:      req.From,
		Next:      make([]int64, 0, req.Count),
	}
	parts := strings.Fields(resp.Canonical)
	for f := crontab.Minute; f <= crontab.DayOfWeek; f++ {
		resp.Fields[f.String()] = parts[int(f)]
	}
	if p, err := spec.Prev(req.From); err == nil {
		resp.Prev = p
	}
	at := req.From
	for i := 0; i < req.Count; i++ {
		n, err := spec.Next(at)
		if err != nil {
			if len(resp.Next) == 0 {
				return err
			}
			break
		}
		resp.Next = append(resp.Next, n)
		at = n
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) runs(c echo.Context) error {
	if s.deps.Store == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "run history requires storage")
	}
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		return err
	}
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	jobID, err := queryInt(c, "job_id", 0)
	if err != nil {
		return err
	}
	fetch := int(limit)
	if jobID != 0 {
		// Filter after the fact; over-fetch so a busy neighbour does not
		// crowd the job out entirely.
		fetch = 500
	}
	runs, err := s.deps.Store.RecentRuns(c.Request().Context(), fetch)
	if err != nil {
		return err
	}
	out := make([]storage.RunRecord, 0, len(runs))
	for _, r := range runs {
		if jobID != 0 && r.JobID != jobID {
			continue
		}
		out = append(out, r)
		if len(out) == int(limit) {
			break
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) agentSnapshot(c echo.Context) error {
	if s.deps.Agent == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "agent disabled")
	}
	return c.JSON(http.StatusOK, s.deps.Agent.Snapshot())
}

func (s *Server) agentPass(c echo.Context) error {
	if s.deps.Agent == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "agent disabled")
	}
	rep := s.deps.Agent.RunPass(context.WithoutCancel(c.Request().Context()))
	return c.JSON(http.StatusOK, rep)
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}
	return id, nil
}

func queryInt(c echo.Context, name string, def int64) (int64, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return v, nil
}

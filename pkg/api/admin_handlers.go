package api

import (
	"net/http"
	"time"

	"github.com/spectraline/partner-portal/pkg/activity"
	"github.com/spectraline/partner-portal/pkg/httputil"
)

// parseReportWindow reads the from/to query bounds, defaulting to the
// trailing 30 days
func parseReportWindow(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	if raw := httputil.ParseQueryString(r, "from", ""); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}
	if raw := httputil.ParseQueryString(r, "to", ""); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}
	return from, to, nil
}

func (s *Server) handleActivityRecent(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	from, to, err := parseReportWindow(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid date, expected YYYY-MM-DD")
		return
	}

	filter := activity.ReportFilter{
		UserID: httputil.ParseQueryString(r, "user_id", ""),
		Type:   activity.Type(httputil.ParseQueryString(r, "type", "")),
		From:   from,
		To:     to,
		Limit:  limit,
	}

	records, err := s.deps.Reports.Recent(r.Context(), filter)
	if err != nil {
		s.logger.FromContext(r.Context()).WithError(err).Error("activity report failed")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"records": records})
}

func (s *Server) handleActivityDaily(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseReportWindow(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid date, expected YYYY-MM-DD")
		return
	}

	counts, err := s.deps.Reports.DailyCounts(r.Context(), from, to)
	if err != nil {
		s.logger.FromContext(r.Context()).WithError(err).Error("daily counts report failed")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"counts": counts})
}

func (s *Server) handleActivityTop(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseReportWindow(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid date, expected YYYY-MM-DD")
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 10)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	top, err := s.deps.Reports.TopResources(r.Context(), from, to, limit)
	if err != nil {
		s.logger.FromContext(r.Context()).WithError(err).Error("top resources report failed")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"resources": top})
}

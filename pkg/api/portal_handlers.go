package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/spectraline/partner-portal/pkg/activity"
	"github.com/spectraline/partner-portal/pkg/httputil"
	"github.com/spectraline/partner-portal/pkg/middleware"
	"github.com/spectraline/partner-portal/pkg/portal"
)

// parseListFilter reads the uniform list-view query parameters
func parseListFilter(r *http.Request) (portal.ListFilter, error) {
	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil {
		return portal.ListFilter{}, err
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		return portal.ListFilter{}, err
	}
	desc, err := httputil.ParseQueryBool(r, "sort_desc", false)
	if err != nil {
		return portal.ListFilter{}, err
	}
	return portal.ListFilter{
		Status:    httputil.ParseQueryString(r, "status", ""),
		Category:  httputil.ParseQueryString(r, "category", ""),
		Product:   httputil.ParseQueryString(r, "product", ""),
		Search:    httputil.ParseQueryString(r, "search", ""),
		SortField: httputil.ParseQueryString(r, "sort", ""),
		SortDesc:  desc,
		Limit:     limit,
		Offset:    offset,
	}, nil
}

// libraryKind validates the {kind} path segment against the known tables
func libraryKind(w http.ResponseWriter, r *http.Request) (portal.LibraryKind, bool) {
	raw, ok := httputil.ParsePathStringOrError(w, r, "kind")
	if !ok {
		return "", false
	}
	kind := portal.LibraryKind(raw)
	switch kind {
	case portal.KindDocuments, portal.KindTrainingMaterials, portal.KindMarketingAssets:
		return kind, true
	}
	httputil.WriteNotFoundError(w, "unknown library kind: "+raw)
	return "", false
}

// writeListError maps data-view errors onto HTTP statuses
func (s *Server) writeListError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, portal.ErrNotFound):
		httputil.WriteNotFoundError(w, "record not found")
	case errors.Is(err, portal.ErrPermissionDenied):
		httputil.WriteForbidden(w, "permission denied")
	case errors.Is(err, portal.ErrUnknownSortField):
		httputil.WriteBadRequest(w, err.Error())
	default:
		s.logger.FromContext(ctx).WithError(err).Error("data view query failed")
		httputil.WriteInternalError(w, errors.New("query failed"))
	}
}

func (s *Server) handleLibraryList(w http.ResponseWriter, r *http.Request) {
	kind, ok := libraryKind(w, r)
	if !ok {
		return
	}
	filter, err := parseListFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	authCtx := middleware.GetAuthContext(r)
	items, err := s.deps.Library.List(r.Context(), kind, authCtx.Scope(), filter)
	if err != nil {
		s.writeListError(r.Context(), w, err)
		return
	}

	if filter.Search != "" {
		s.deps.Activity.Track(r.Context(), authCtx.Session.User.ID, activity.TypeSearch, "",
			map[string]interface{}{"kind": string(kind), "query": filter.Search})
	}
	httputil.WriteSuccess(w, map[string]interface{}{"items": items})
}

func (s *Server) handleLibraryGet(w http.ResponseWriter, r *http.Request) {
	kind, ok := libraryKind(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	authCtx := middleware.GetAuthContext(r)
	item, err := s.deps.Library.Get(r.Context(), kind, authCtx.Scope(), id)
	if err != nil {
		s.writeListError(r.Context(), w, err)
		return
	}

	s.deps.Library.RecordView(r.Context(), kind, id)
	s.deps.Activity.Track(r.Context(), authCtx.Session.User.ID, activity.TypePageView, id,
		map[string]interface{}{"kind": string(kind)})
	httputil.WriteSuccess(w, item)
}

func (s *Server) handleLibraryDownload(w http.ResponseWriter, r *http.Request) {
	kind, ok := libraryKind(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	authCtx := middleware.GetAuthContext(r)
	url, err := s.deps.Library.RecordDownload(r.Context(), kind, authCtx.Scope(), id)
	if err != nil {
		s.writeListError(r.Context(), w, err)
		return
	}

	s.countDownload(string(kind))
	s.deps.Activity.Track(r.Context(), authCtx.Session.User.ID, activity.TypeDownload, id,
		map[string]interface{}{"kind": string(kind)})
	httputil.WriteSuccess(w, map[string]string{"url": url})
}

func (s *Server) handleLibraryCreate(w http.ResponseWriter, r *http.Request) {
	kind, ok := libraryKind(w, r)
	if !ok {
		return
	}
	var item portal.Item
	if !httputil.ParseJSONOrError(w, r, &item) {
		return
	}
	if !httputil.RequireNonEmpty(w, item.Title, "title") {
		return
	}

	authCtx := middleware.GetAuthContext(r)
	if err := s.deps.Library.Create(r.Context(), kind, authCtx.Scope(), &item); err != nil {
		s.writeListError(r.Context(), w, err)
		return
	}
	httputil.WriteCreated(w, item)
}

func (s *Server) handleLibraryUpdate(w http.ResponseWriter, r *http.Request) {
	kind, ok := libraryKind(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var item portal.Item
	if !httputil.ParseJSONOrError(w, r, &item) {
		return
	}
	item.ID = id

	if err := s.deps.Library.Update(r.Context(), kind, &item); err != nil {
		s.writeListError(r.Context(), w, err)
		return
	}
	httputil.WriteSuccess(w, item)
}

func (s *Server) handleLibraryDelete(w http.ResponseWriter, r *http.Request) {
	kind, ok := libraryKind(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.deps.Library.Delete(r.Context(), kind, id); err != nil {
		s.writeListError(r.Context(), w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleReleaseList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	authCtx := middleware.GetAuthContext(r)
	releases, err := s.deps.Releases.List(r.Context(), authCtx.Scope(), filter)
	if err != nil {
		s.writeListError(r.Context(), w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"releases": releases})
}

func (s *Server) handleReleaseDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	authCtx := middleware.GetAuthContext(r)
	url, err := s.deps.Releases.RecordDownload(r.Context(), authCtx.Scope(), id)
	if err != nil {
		s.writeListError(r.Context(), w, err)
		return
	}

	s.countDownload("software_releases")
	s.deps.Activity.Track(r.Context(), authCtx.Session.User.ID, activity.TypeDownload, id,
		map[string]interface{}{"kind": "software_releases"})
	httputil.WriteSuccess(w, map[string]string{"url": url})
}

func (s *Server) handleReleaseCreate(w http.ResponseWriter, r *http.Request) {
	var rel portal.Release
	if !httputil.ParseJSONOrError(w, r, &rel) {
		return
	}
	if !httputil.RequireNonEmpty(w, rel.Product, "product") {
		return
	}
	if !httputil.RequireNonEmpty(w, rel.Version, "version") {
		return
	}

	if err := s.deps.Releases.Create(r.Context(), &rel); err != nil {
		s.writeListError(r.Context(), w, err)
		return
	}
	httputil.WriteCreated(w, rel)
}

func (s *Server) handleReleaseUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var rel portal.Release
	if !httputil.ParseJSONOrError(w, r, &rel) {
		return
	}
	rel.ID = id

	if err := s.deps.Releases.Update(r.Context(), &rel); err != nil {
		s.writeListError(r.Context(), w, err)
		return
	}
	httputil.WriteSuccess(w, rel)
}

func (s *Server) handleReleaseDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.deps.Releases.Delete(r.Context(), id); err != nil {
		s.writeListError(r.Context(), w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleCustomerList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	authCtx := middleware.GetAuthContext(r)
	customers, err := s.deps.Customers.List(r.Context(), authCtx.Scope(), filter)
	if err != nil {
		s.writeListError(r.Context(), w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"customers": customers})
}

func (s *Server) handleCustomerGet(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	authCtx := middleware.GetAuthContext(r)
	cust, err := s.deps.Customers.Get(r.Context(), authCtx.Scope(), id)
	if err != nil {
		s.writeListError(r.Context(), w, err)
		return
	}
	httputil.WriteSuccess(w, cust)
}

func (s *Server) handleCustomerCreate(w http.ResponseWriter, r *http.Request) {
	var cust portal.Customer
	if !httputil.ParseJSONOrError(w, r, &cust) {
		return
	}
	if !httputil.RequireNonEmpty(w, cust.CompanyName, "company_name") {
		return
	}

	authCtx := middleware.GetAuthContext(r)
	if err := s.deps.Customers.Create(r.Context(), authCtx.Scope(), &cust); err != nil {
		s.writeListError(r.Context(), w, err)
		return
	}
	httputil.WriteCreated(w, cust)
}

func (s *Server) handleCustomerUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var cust portal.Customer
	if !httputil.ParseJSONOrError(w, r, &cust) {
		return
	}
	cust.ID = id

	authCtx := middleware.GetAuthContext(r)
	if err := s.deps.Customers.Update(r.Context(), authCtx.Scope(), &cust); err != nil {
		s.writeListError(r.Context(), w, err)
		return
	}
	httputil.WriteSuccess(w, cust)
}

func (s *Server) handleCustomerDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	authCtx := middleware.GetAuthContext(r)
	if err := s.deps.Customers.Delete(r.Context(), authCtx.Scope(), id); err != nil {
		s.writeListError(r.Context(), w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	customerID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	authCtx := middleware.GetAuthContext(r)
	devices, err := s.deps.Customers.ListDevices(r.Context(), authCtx.Scope(), customerID)
	if err != nil {
		s.writeListError(r.Context(), w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"devices": devices})
}

func (s *Server) handleDeviceAdd(w http.ResponseWriter, r *http.Request) {
	customerID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var device portal.Device
	if !httputil.ParseJSONOrError(w, r, &device) {
		return
	}
	device.CustomerID = customerID
	if !httputil.RequireNonEmpty(w, device.SerialNumber, "serial_number") {
		return
	}

	authCtx := middleware.GetAuthContext(r)
	if err := s.deps.Customers.AddDevice(r.Context(), authCtx.Scope(), &device); err != nil {
		s.writeListError(r.Context(), w, err)
		return
	}
	httputil.WriteCreated(w, device)
}

func (s *Server) countDownload(kind string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.DownloadsTotal.WithLabelValues(kind).Inc()
	}
}

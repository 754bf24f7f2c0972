package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/authgrid/authgrid/pkg/audit"
	"github.com/authgrid/authgrid/pkg/auth"
	"github.com/authgrid/authgrid/pkg/httputil"
	"github.com/authgrid/authgrid/pkg/middleware"
	"github.com/authgrid/authgrid/pkg/observability"
	"github.com/authgrid/authgrid/pkg/orgs"
)

// OrgService is the subset of organization operations the HTTP surface
// needs. Mutations that change a member's effective permissions bump the
// organization's ACL version internally.
type OrgService interface {
	CreateOrganization(ctx context.Context, org *orgs.Organization) error
	GetOrganization(ctx context.Context, id int64) (*orgs.Organization, error)
	AddMember(ctx context.Context, orgID, userID int64) (*orgs.Member, error)
	RemoveMember(ctx context.Context, orgID, userID int64) error
	CreateRole(ctx context.Context, orgID int64, name string) (*orgs.Role, error)
	DeleteRole(ctx context.Context, orgID, roleID int64) error
	AssignRole(ctx context.Context, orgID, memberID, roleID int64) error
	RemoveRoleAssignment(ctx context.Context, orgID, memberID, roleID int64) error
	GrantPermission(ctx context.Context, orgID, roleID int64, perm *orgs.Permission) error
	RevokePermission(ctx context.Context, orgID, roleID, permissionID int64) error
}

// OrgHandlers serves organization, membership, role, and permission
// administration.
type OrgHandlers struct {
	orgs   OrgService
	logger *observability.Logger
	audit  audit.Recorder
}

// NewOrgHandlers creates the handler set
func NewOrgHandlers(service OrgService, logger *observability.Logger, recorder audit.Recorder) *OrgHandlers {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &OrgHandlers{orgs: service, logger: logger, audit: recorder}
}

// RegisterRoutes registers the organization routes. Creating an
// organization needs only a session; everything inside one additionally
// requires the manage capability on Organization, which the creation
// flow grants to the owner via the admin role.
func (h *OrgHandlers) RegisterRoutes(router *mux.Router, protected, manage func(http.Handler) http.Handler) {
	router.Handle("/orgs", protected(http.HandlerFunc(h.create))).Methods("POST")
	router.Handle("/orgs/{id}", manage(http.HandlerFunc(h.get))).Methods("GET")
	router.Handle("/orgs/{id}/members", manage(http.HandlerFunc(h.addMember))).Methods("POST")
	router.Handle("/orgs/{id}/members/{userID}", manage(http.HandlerFunc(h.removeMember))).Methods("DELETE")
	router.Handle("/orgs/{id}/roles", manage(http.HandlerFunc(h.createRole))).Methods("POST")
	router.Handle("/orgs/{id}/roles/{roleID}", manage(http.HandlerFunc(h.deleteRole))).Methods("DELETE")
	router.Handle("/orgs/{id}/roles/{roleID}/assignments", manage(http.HandlerFunc(h.assignRole))).Methods("POST")
	router.Handle("/orgs/{id}/roles/{roleID}/assignments/{memberID}", manage(http.HandlerFunc(h.removeAssignment))).Methods("DELETE")
	router.Handle("/orgs/{id}/roles/{roleID}/permissions", manage(http.HandlerFunc(h.grantPermission))).Methods("POST")
	router.Handle("/orgs/{id}/roles/{roleID}/permissions/{permissionID}", manage(http.HandlerFunc(h.revokePermission))).Methods("DELETE")
}

// requireOrg resolves the path organization ID and confirms the caller
// belongs to that tenant. The capability check on the route only proves
// manage:Organization somewhere; this pins it to the organization in
// the path. Super admins administer any tenant.
func (h *OrgHandlers) requireOrg(w http.ResponseWriter, r *http.Request) (int64, bool) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return 0, false
	}
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return 0, false
	}
	principal := authCtx.Principal
	if principal.SystemRole == auth.SystemRoleSuperAdmin {
		return orgID, true
	}
	if principal.OrganizationID == nil || *principal.OrganizationID != orgID {
		httputil.WriteForbidden(w, "not a member of this organization")
		return 0, false
	}
	return orgID, true
}

func (h *OrgHandlers) create(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req struct {
		Name string `json:"name"`
		Slug string `json:"slug,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	org := &orgs.Organization{Name: req.Name, Slug: req.Slug, OwnerID: authCtx.Principal.SubjectID}
	if err := h.orgs.CreateOrganization(r.Context(), org); err != nil {
		writeAuthError(w, err)
		return
	}
	httputil.WriteCreated(w, org)
}

func (h *OrgHandlers) get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	org, err := h.orgs.GetOrganization(r.Context(), orgID)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

func (h *OrgHandlers) addMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	var req struct {
		UserID int64 `json:"user_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == 0 {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}
	member, err := h.orgs.AddMember(r.Context(), orgID, req.UserID)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	httputil.WriteCreated(w, member)
}

func (h *OrgHandlers) removeMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}
	if err := h.orgs.RemoveMember(r.Context(), orgID, userID); err != nil {
		writeAuthError(w, err)
		return
	}
	h.recordChange(r, audit.EventRoleChange, orgID, map[string]interface{}{
		"removed_user_id": userID,
	})
	httputil.WriteNoContent(w)
}

func (h *OrgHandlers) createRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}
	role, err := h.orgs.CreateRole(r.Context(), orgID, req.Name)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	httputil.WriteCreated(w, role)
}

func (h *OrgHandlers) deleteRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.orgs.DeleteRole(r.Context(), orgID, roleID); err != nil {
		writeAuthError(w, err)
		return
	}
	h.recordChange(r, audit.EventRoleChange, orgID, map[string]interface{}{
		"deleted_role_id": roleID,
	})
	httputil.WriteNoContent(w)
}

func (h *OrgHandlers) assignRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}
	var req struct {
		MemberID int64 `json:"member_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.MemberID == 0 {
		httputil.WriteBadRequest(w, "member_id is required")
		return
	}
	if err := h.orgs.AssignRole(r.Context(), orgID, req.MemberID, roleID); err != nil {
		writeAuthError(w, err)
		return
	}
	h.recordChange(r, audit.EventRoleChange, orgID, map[string]interface{}{
		"member_id": req.MemberID,
		"role_id":   roleID,
		"assigned":  true,
	})
	httputil.WriteNoContent(w)
}

func (h *OrgHandlers) removeAssignment(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}
	memberID, ok := httputil.ParsePathInt64OrError(w, r, "memberID")
	if !ok {
		return
	}
	if err := h.orgs.RemoveRoleAssignment(r.Context(), orgID, memberID, roleID); err != nil {
		writeAuthError(w, err)
		return
	}
	h.recordChange(r, audit.EventRoleChange, orgID, map[string]interface{}{
		"member_id": memberID,
		"role_id":   roleID,
		"assigned":  false,
	})
	httputil.WriteNoContent(w)
}

func (h *OrgHandlers) grantPermission(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}
	var req struct {
		Action     string                 `json:"action"`
		Subject    string                 `json:"subject"`
		Conditions map[string]interface{} `json:"conditions,omitempty"`
		Fields     []string               `json:"fields,omitempty"`
		Inverted   bool                   `json:"inverted,omitempty"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Action == "" || req.Subject == "" {
		httputil.WriteBadRequest(w, "action and subject are required")
		return
	}

	perm := &orgs.Permission{
		Action:     req.Action,
		Subject:    req.Subject,
		Conditions: req.Conditions,
		Fields:     req.Fields,
		Inverted:   req.Inverted,
	}
	if err := h.orgs.GrantPermission(r.Context(), orgID, roleID, perm); err != nil {
		writeAuthError(w, err)
		return
	}
	h.recordChange(r, audit.EventPermissionGrant, orgID, map[string]interface{}{
		"permission_id": perm.ID,
		"role_id":       roleID,
		"action":        perm.Action,
		"subject":       perm.Subject,
	})
	httputil.WriteCreated(w, perm)
}

func (h *OrgHandlers) revokePermission(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.requireOrg(w, r)
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}
	permissionID, ok := httputil.ParsePathInt64OrError(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.orgs.RevokePermission(r.Context(), orgID, roleID, permissionID); err != nil {
		writeAuthError(w, err)
		return
	}
	h.recordChange(r, audit.EventPermissionRevoke, orgID, map[string]interface{}{
		"permission_id": permissionID,
		"role_id":       roleID,
	})
	httputil.WriteNoContent(w)
}

func (h *OrgHandlers) recordChange(r *http.Request, eventType audit.EventType, orgID int64, metadata map[string]interface{}) {
	event := &audit.Event{
		Type:           eventType,
		Status:         audit.StatusSuccess,
		OrganizationID: &orgID,
		IPAddress:      httputil.ClientIP(r),
		UserAgent:      r.UserAgent(),
		Metadata:       metadata,
	}
	if authCtx := middleware.GetAuthContext(r); authCtx != nil {
		event.SubjectID = &authCtx.Principal.SubjectID
		event.Identity = authCtx.Principal.Email
	}
	h.audit.Record(r.Context(), event)
}

package authz

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/nicktill/campuspulse/pkg/docstore"
	"github.com/nicktill/campuspulse/pkg/metrics"
	"github.com/nicktill/campuspulse/pkg/records"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// selfObject replaces the caller's uid in enforced objects.
const selfObject = "self"

// ownerFields name the record fields that carry the owning uid.
var ownerFields = []string{"studentId", "userId"}

// Policy enforces the embedded RBAC rules. It implements docstore.Policy.
type Policy struct {
	enforcer *casbin.SyncedEnforcer
}

// NewPolicy loads the embedded model and rules.
func NewPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	if err := loadPolicy(enforcer, embeddedPolicy); err != nil {
		return nil, err
	}
	return &Policy{enforcer: enforcer}, nil
}

func loadPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch {
		case parts[0] == "p" && len(parts) == 4:
			if _, err := enforcer.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
				return fmt.Errorf("failed to add policy %v: %w", parts[1:], err)
			}
		case parts[0] == "g" && len(parts) == 3:
			if _, err := enforcer.AddGroupingPolicy(parts[1], parts[2]); err != nil {
				return fmt.Errorf("failed to add grouping policy %v: %w", parts[1:], err)
			}
		default:
			return fmt.Errorf("malformed policy line %q", line)
		}
	}
	return nil
}

// Authorize implements docstore.Policy.
func (p *Policy) Authorize(ctx context.Context, req docstore.Request) error {
	role := req.Subject.Role
	if role == "" {
		role = RoleAnonymous
	}
	obj := Object(req)

	allowed, err := p.enforcer.Enforce(role, obj, string(req.Action))
	if err != nil {
		return fmt.Errorf("enforcement failed: %w", err)
	}
	if !allowed {
		metrics.PermissionDenials.WithLabelValues(string(req.Action)).Inc()
		return fmt.Errorf("%w: %s may not %s %s", docstore.ErrPermissionDenied, role, req.Action, obj)
	}
	return nil
}

// Object maps a request onto the policy object it is enforced against.
//
// Paths inside the caller's profile become userProfile/self/... . A list
// constrained to studentId == caller becomes <collection>/self, as does a
// write to a record the caller owns. Ownership of an existing record is
// read from the stored fields and a write may not hand it to anyone else. Reading one's own roles_admin entry
// becomes roles_admin/self.
func Object(req docstore.Request) string {
	uid := req.Subject.ID
	path := req.Collection
	if req.ID != "" {
		path = docstore.JoinPath(req.Collection, req.ID)
	}
	if uid == "" {
		return path
	}

	profile := docstore.JoinPath(records.UserProfileCollection, uid)
	if path == profile || strings.HasPrefix(path, profile+"/") {
		return docstore.JoinPath(records.UserProfileCollection, selfObject) + strings.TrimPrefix(path, profile)
	}

	if req.Collection == records.AdminRolesCollection && req.ID == uid {
		return docstore.JoinPath(req.Collection, selfObject)
	}

	if ownedBy(req, uid) {
		return docstore.JoinPath(req.Collection, selfObject)
	}
	return path
}

func ownedBy(req docstore.Request, uid string) bool {
	if req.Action == docstore.ActionRead {
		if req.ID != "" {
			return false
		}
		for _, p := range req.Where {
			if p.Field == "studentId" && p.Op == docstore.Eq && p.Value == uid {
				return true
			}
		}
		return false
	}
	if req.Existing == nil {
		return ownerIs(req.Fields, uid)
	}
	if !ownerIs(req.Existing, uid) {
		return false
	}
	for _, f := range ownerFields {
		if v, ok := req.Fields[f]; ok && v != uid {
			return false
		}
	}
	return true
}

func ownerIs(fields docstore.Fields, uid string) bool {
	for _, f := range ownerFields {
		if v, ok := fields[f]; ok && v == uid {
			return true
		}
	}
	return false
}

package policy

import (
	"log/slog"
	"sort"
	"strings"

	"cleartitle/internal/apperr"
	"cleartitle/internal/models"
)

const (
	FieldApprovalStatus  = "approvalStatus"
	FieldIsFeatured      = "isFeatured"
	FieldIsVerified      = "isVerified"
	FieldRejectionReason = "rejectionReason"
)

// SensitiveFields lists, per entity type, the fields only an admin may set.
var SensitiveFields = map[models.EntityType][]string{
	models.EntityProperty:     {FieldApprovalStatus, FieldIsFeatured, FieldIsVerified, FieldRejectionReason},
	models.EntityPropertyUnit: {FieldApprovalStatus, FieldIsFeatured, FieldIsVerified, FieldRejectionReason},
}

var safeDefaults = map[string]any{
	FieldApprovalStatus:  string(models.StatusPending),
	FieldIsFeatured:      false,
	FieldIsVerified:      false,
	FieldRejectionReason: "",
}

// ActionPrivilegedFieldsStripped is the audit action written when a
// non-admin payload carried privileged fields.
const ActionPrivilegedFieldsStripped = "PRIVILEGED_FIELDS_STRIPPED"

// Auditor receives security-relevant events.
type Auditor interface {
	LogAction(actorID *string, action string, entityType string, entityID string, details interface{}, ip string)
}

type Guard struct {
	logger *slog.Logger
	audit  Auditor
}

func NewGuard(logger *slog.Logger, audit Auditor) *Guard {
	return &Guard{logger: logger, audit: audit}
}

// Sanitize returns the fields the actor is allowed to write to an entity of
// the given type. The actor's role must already be resolved with For.
//
// Anonymous actors are refused. Owners have every privileged field forced to
// its safe default whatever they sent; the attempt is logged but not
// reported back. Admin payloads are kept and normalised so the stored record
// still satisfies the review invariants.
func (g *Guard) Sanitize(actor Actor, fields map[string]any, kind models.EntityType, entityID string) (map[string]any, error) {
	if actor.Role != RoleOwner && actor.Role != RoleAdmin {
		return nil, apperr.Forbidden("you are not allowed to modify this " + humanKind(kind))
	}

	sensitive := SensitiveFields[kind]
	out := make(map[string]any, len(fields)+len(sensitive))
	for k, v := range fields {
		out[k] = v
	}

	if actor.Role == RoleAdmin {
		if len(sensitive) == 0 {
			return out, nil
		}
		if err := normalizeReview(out); err != nil {
			return nil, err
		}
		return out, nil
	}

	var attempted []string
	for _, f := range sensitive {
		if _, ok := fields[f]; ok {
			attempted = append(attempted, f)
		}
		out[f] = safeDefaults[f]
	}
	if len(attempted) > 0 {
		sort.Strings(attempted)
		g.logger.Warn("Privileged fields stripped from non-admin mutation",
			"actor_id", actor.ID,
			"role", actor.Role,
			"entity_type", kind,
			"entity_id", entityID,
			"fields", attempted,
		)
		if g.audit != nil {
			g.audit.LogAction(actor.IDPtr(), ActionPrivilegedFieldsStripped, string(kind), entityID,
				map[string]interface{}{"fields": attempted}, actor.IP)
		}
	}
	return out, nil
}

// normalizeReview enforces the review invariants on an admin payload:
// only rejected records carry a reason, and only approved records may be
// featured. A featured flag without an explicit status is left for the
// store to check against the current status.
func normalizeReview(fields map[string]any) error {
	for _, f := range []string{FieldIsFeatured, FieldIsVerified} {
		if v, ok := fields[f]; ok {
			if _, isBool := v.(bool); !isBool {
				return apperr.Validation("%s must be a boolean", f)
			}
		}
	}
	reason, hasReason := fields[FieldRejectionReason]
	if hasReason {
		s, ok := reason.(string)
		if !ok {
			return apperr.Validation("%s must be a string", FieldRejectionReason)
		}
		reason = strings.TrimSpace(s)
		fields[FieldRejectionReason] = reason
	}

	rawStatus, hasStatus := fields[FieldApprovalStatus]
	if !hasStatus {
		if hasReason && reason != "" {
			return apperr.Validation("%s can only be set together with %s=rejected", FieldRejectionReason, FieldApprovalStatus)
		}
		return nil
	}

	s, ok := rawStatus.(string)
	status := models.ApprovalStatus(s)
	if !ok || (status != models.StatusPending && status != models.StatusApproved && status != models.StatusRejected) {
		return apperr.Validation("%s must be one of pending, approved, rejected", FieldApprovalStatus)
	}
	fields[FieldApprovalStatus] = s

	if status == models.StatusRejected {
		if !hasReason || reason == "" {
			return apperr.Validation("a rejection reason is required")
		}
	} else {
		fields[FieldRejectionReason] = ""
	}

	if status != models.StatusApproved {
		if featured, _ := fields[FieldIsFeatured].(bool); featured {
			return apperr.PreconditionFailed("only approved listings can be featured")
		}
		fields[FieldIsFeatured] = false
	}
	return nil
}

func humanKind(kind models.EntityType) string {
	return strings.ReplaceAll(string(kind), "_", " ")
}

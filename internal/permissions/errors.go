package permissions

import "github.com/unigate/unigate/internal/shared"

var (
	ErrDuplicateOrInvalidName = shared.NewError(shared.ErrValidation, "permission name is invalid or already defined")
	ErrPermissionNotFound     = shared.NewError(shared.ErrNotFound, "Permission not found")
	ErrTargetNotFound         = shared.NewError(shared.ErrNotFound, "Target user not found")
	ErrAdminOnly              = shared.NewError(shared.ErrAuthorization, "only the system admin may manage permission definitions")
	ErrNotOwner               = shared.NewError(shared.ErrAuthorization, "only the permission owner may perform this change")
	ErrNotDeleted             = shared.NewError(shared.ErrValidation, "Permission is not deleted")
	ErrAlreadyDeleted         = shared.NewError(shared.ErrValidation, "Permission is already deleted")
	ErrRoleAlreadyPresent     = shared.NewError(shared.ErrValidation, "role already present")
	ErrRoleNotPresent         = shared.NewError(shared.ErrValidation, "role not present")
	ErrGranterRoleNotEmployee = shared.NewError(shared.ErrValidation, "granter roles must be employee roles")
	ErrGranterNotEmployee     = shared.NewError(shared.ErrValidation, "Only employees can be assigned as granters")
	ErrNotEligible            = shared.NewError(shared.ErrAuthorization, "This user cannot be assigned as a granter")
	ErrAlreadyGranter         = shared.NewError(shared.ErrAuthorization, "User is already a granter for this permission")
	ErrNotAGranter            = shared.NewError(shared.ErrAuthorization, "User is not a granter for this permission")
	ErrAlreadyGranted         = shared.NewError(shared.ErrAuthorization, "The target user already has this permission")
	ErrNotAuthorized          = shared.NewError(shared.ErrAuthorization, "You do not have the ability to grant/revoke this permission")
	ErrRoleNotEligible        = shared.NewError(shared.ErrAuthorization, "This permission cannot be granted to the target user")
	ErrNotGranted             = shared.NewError(shared.ErrAuthorization, "The target user does not have this permission")
	ErrEndDateInPast          = shared.NewError(shared.ErrValidation, "end date must be in the future")
)

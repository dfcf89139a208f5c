package permissions

import (
	"net/http"

	apperrors "github.com/charlesng35/campusgate/pkg/errors"
)

var (
	ErrPermissionNotFound  = apperrors.NewNotFound("PERMISSION_NOT_FOUND", "Permission not found")
	ErrPermissionNameTaken = apperrors.NewConflict("PERMISSION_NAME_TAKEN", "A permission with this name already exists")
	ErrGrantNotFound       = apperrors.NewNotFound("GRANT_NOT_FOUND", "No active grant found")
	ErrGrantAlreadyActive  = apperrors.NewConflict("GRANT_ALREADY_ACTIVE", "Permission is already granted")
	ErrPageNotFound        = apperrors.NewNotFound("PAGE_NOT_FOUND", "Unknown page")
	ErrModeNotFound        = apperrors.NewNotFound("CUSTOM_MODE_NOT_FOUND", "Unknown custom mode")
	ErrEditNotSupported    = apperrors.New("EDIT_MODE_NOT_SUPPORTED", "Page does not support edit access", http.StatusBadRequest)
	ErrInvalidPageAction   = apperrors.NewValidation("action must be view or edit")
)

package identity

import "github.com/unigate/unigate/internal/shared"

var (
	ErrUserNotFound      = shared.NewError(shared.ErrNotFound, "User not found")
	ErrEmailTaken        = shared.NewError(shared.ErrValidation, "email already registered")
	ErrNotEmployee       = shared.NewError(shared.ErrValidation, "user is not an employee")
	ErrKindMismatch      = shared.NewError(shared.ErrValidation, "user kind does not match")
	ErrInvalidTitle      = shared.NewError(shared.ErrValidation, "unknown position title")
	ErrNoOpenPosition    = shared.NewError(shared.ErrNotFound, "employee has no open position")
	ErrWrongPassword     = shared.NewError(shared.ErrAuthentication, "current password is incorrect")
	ErrPasswordTooShort  = shared.NewError(shared.ErrValidation, "password must be at least 8 characters")
	ErrResetTokenInvalid = shared.NewError(shared.ErrValidation, "Invalid or expired reset token")
)

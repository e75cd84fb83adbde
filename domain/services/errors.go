package services

import "errors"

// Sentinel errors the API layer maps to status codes.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserInactive       = errors.New("user account is disabled")
	ErrEmailTaken         = errors.New("email is already registered")

	ErrEventNotFound    = errors.New("event not found")
	ErrEventNotReady    = errors.New("event is still processing images")
	ErrInvalidDriveLink = errors.New("invalid google drive folder link")
	ErrMissingDriveKey  = errors.New("google drive api key is not configured")

	ErrJobNotFound   = errors.New("job not found")
	ErrQueryNotFound = errors.New("guest query not found")

	ErrInvalidGuestCode = errors.New("invalid guest code")
	ErrInvalidSelfie    = errors.New("selfie must be a non-empty image file")
	ErrNoFaceInSelfie   = errors.New("no clear face found in selfie")

	ErrForbidden = errors.New("access denied")
)

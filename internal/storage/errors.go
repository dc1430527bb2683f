package storage

import "errors"

var (
	// ErrAbuseLogNotFound is returned when an abuse log entry is not found
	ErrAbuseLogNotFound = errors.New("abuse log entry not found")

	// ErrRefundNotFound is returned when a refund request is not found
	ErrRefundNotFound = errors.New("refund request not found")

	// ErrRefundAlreadyDecided is returned when deciding a refund request
	// that is no longer pending
	ErrRefundAlreadyDecided = errors.New("refund request already decided")

	// ErrUsagePeriodNotFound is returned when a usage period is not found
	ErrUsagePeriodNotFound = errors.New("usage period not found")

	// ErrAdminUserNotFound is returned when an admin user is not found
	ErrAdminUserNotFound = errors.New("admin user not found")
)

package retrieval

import "github.com/vallancelee/biomcp/internal/errors"

var (
	errEmptyQuery   = errors.Validationf("query must not be empty")
	errQueryTooLong = errors.Validationf("query exceeds %d characters", maxQueryLen)
)

package db

import (
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	namespaceNotFoundErrCode = 26
	namespaceExistsErrCode   = 48
)

func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}

	if mongo.IsDuplicateKeyError(errors.Cause(err)) {
		return true
	}

	if strings.Contains(errors.Cause(err).Error(), "duplicate key") {
		return true
	}

	return false
}

func IsDocumentLimit(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(errors.Cause(err).Error(), "an inserted document is too large")
}

// IsNamespaceExists reports whether err is the server's answer to creating
// a collection that already exists.
func IsNamespaceExists(err error) bool {
	return hasErrorCode(err, namespaceExistsErrCode)
}

// IsNamespaceNotFound reports whether err is the server's answer to a
// command on a collection that does not exist.
func IsNamespaceNotFound(err error) bool {
	if hasErrorCode(err, namespaceNotFoundErrCode) {
		return true
	}
	return err != nil && strings.Contains(errors.Cause(err).Error(), "ns not found")
}

func hasErrorCode(err error, code int) bool {
	if err == nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(errors.Cause(err), &cmdErr) {
		return cmdErr.HasErrorCode(code)
	}
	return false
}

// Package errors defines the engine-level error taxonomy shared by every
// service engine, and the translation tables adapters use to render it onto
// the wire in each of the three supported error formats.
package errors

import "fmt"

// Code identifies an error category, independent of wire format.
type Code string

const (
	CodeNotFound         Code = "NotFound"
	CodeAlreadyExists     Code = "AlreadyExists"
	CodeValidation        Code = "Validation"
	CodeConditionFailed   Code = "ConditionFailed"
	CodeThrottled         Code = "Throttled"
	CodePermissionDenied  Code = "PermissionDenied"
	CodeTimeout           Code = "Timeout"
	CodeInternal          Code = "Internal"
)

// ServiceError is the error type every engine returns. Adapters translate it
// into the service's native wire format using Type and the central
// error-name-to-status table.
type ServiceError struct {
	Code    Code
	Type    string // native AWS-style error name, e.g. "ResourceNotFoundException"
	Message string
	Status  int // HTTP status; 0 means "look up Type in the status table"
	Details map[string]interface{}
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails returns a copy of the error with additional structured detail
// fields merged in.
func (e *ServiceError) WithDetails(details map[string]interface{}) *ServiceError {
	merged := make(map[string]interface{}, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	cp := *e
	cp.Details = merged
	return &cp
}

func newErr(code Code, typ, message string) *ServiceError {
	return &ServiceError{Code: code, Type: typ, Message: message}
}

// NotFound builds a NotFound error for the named resource kind/name.
func NotFound(typ, message string) *ServiceError {
	return newErr(CodeNotFound, typ, message)
}

// AlreadyExists builds an AlreadyExists error.
func AlreadyExists(typ, message string) *ServiceError {
	return newErr(CodeAlreadyExists, typ, message)
}

// Validation builds a Validation error for malformed input.
func Validation(typ, message string) *ServiceError {
	return newErr(CodeValidation, typ, message)
}

// ConditionFailed builds a ConditionFailed error for a failed conditional
// write predicate.
func ConditionFailed(typ, message string) *ServiceError {
	return newErr(CodeConditionFailed, typ, message)
}

// Throttled builds a Throttled error.
func Throttled(typ, message string) *ServiceError {
	return newErr(CodeThrottled, typ, message)
}

// PermissionDenied builds a PermissionDenied error.
func PermissionDenied(typ, message string) *ServiceError {
	return newErr(CodePermissionDenied, typ, message)
}

// Timeout builds a Timeout error.
func Timeout(typ, message string) *ServiceError {
	return newErr(CodeTimeout, typ, message)
}

// Internal builds an Internal error, optionally wrapping a cause.
func Internal(typ, message string, cause error) *ServiceError {
	e := newErr(CodeInternal, typ, message)
	e.Err = cause
	return e
}

// Wrap converts an arbitrary error into an Internal ServiceError, passing
// through ServiceErrors unchanged.
func Wrap(err error) *ServiceError {
	if err == nil {
		return nil
	}
	if se, ok := err.(*ServiceError); ok {
		return se
	}
	return Internal("InternalServerError", err.Error(), err)
}

// AWSErrorStatusCodes is the central error-type to HTTP-status registry,
// spanning every emulated service, used by adapters whose ServiceError
// doesn't set an explicit Status.
var AWSErrorStatusCodes = map[string]int{
	// Generic
	"AccessDeniedException":         403,
	"InvalidParameterException":     400,
	"InvalidParameterValueException": 400,
	"ValidationException":           400,
	"DuplicateResourceException":    409,
	"LimitExceededException":        429,
	"ResourceNotFoundException":     404,
	"ResourceNotFoundFault":         404,
	"InvalidStateException":         409,
	"ServiceUnavailableException":   503,
	"InternalServerError":           500,
	"ThrottlingException":           429,
	// IAM / STS
	"NoSuchEntityException":             404,
	"NoSuchEntity":                      404,
	"MalformedPolicyDocumentException":  400,
	"MalformedPolicyDocument":           400,
	"EntityAlreadyExistsException":      409,
	"EntityAlreadyExists":               409,
	"PasswordPolicyViolationException":  400,
	// S3
	"NoSuchKey":               404,
	"NoSuchBucket":            404,
	"BucketAlreadyExists":     409,
	"BucketAlreadyOwnedByYou": 409,
	"AccessDenied":            403,
	// DynamoDB
	"ConditionalCheckFailedException":         400,
	"ProvisionedThroughputExceededException":  400,
	"ItemCollectionSizeLimitExceededException": 400,
	// SQS
	"QueueDoesNotExist": 400,
	"QueueNameExists":   400,
	// Cognito-style identity tokens
	"UserNotFoundException":    404,
	"UsernameExistsException":  400,
	"NotAuthorizedException":   401,
	// Step Functions
	"StateMachineDoesNotExist": 400,
	"ExecutionDoesNotExist":    400,
	// SNS
	"NotFoundException": 404,
	// EventBridge
	"ResourceAlreadyExistsException": 409,
	// S3 Tables
	"ConflictException":   409,
	"BadRequestException": 400,
}

// StatusFor resolves the HTTP status for a ServiceError: its own Status if
// set, else a lookup in AWSErrorStatusCodes, else 400.
func StatusFor(e *ServiceError) int {
	if e.Status != 0 {
		return e.Status
	}
	if status, ok := AWSErrorStatusCodes[e.Type]; ok {
		return status
	}
	return 400
}

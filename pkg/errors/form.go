// pkg/errors/form.go
package errors

// Form error codes
const (
	// FormErrEmptyField indicates a required form field is empty
	FormErrEmptyField = "FORM_EMPTY_FIELD"
	// FormErrNotPrepared indicates no prepared transaction config is available
	FormErrNotPrepared = "FORM_NOT_PREPARED"
	// FormErrSubmitPending indicates a submission is already awaiting confirmation
	FormErrSubmitPending = "FORM_SUBMIT_PENDING"
	// FormErrUnknownField indicates an unrecognized form field name
	FormErrUnknownField = "FORM_UNKNOWN_FIELD"
	// FormErrSessionNotFound indicates the form session does not exist
	FormErrSessionNotFound = "FORM_SESSION_NOT_FOUND"
	// FormErrSessionLimit indicates the session limit has been reached
	FormErrSessionLimit = "FORM_SESSION_LIMIT"
	// FormErrSubmissionFailed indicates the submission service rejected the transaction
	FormErrSubmissionFailed = "FORM_SUBMISSION_FAILED"
)

// Form domain name
const FormDomain = "form"

// Form operations
const (
	OpSetField       = "SetField"
	OpSubmit         = "Submit"
	OpOnConfirmation = "OnConfirmation"
	OpNewSession     = "NewSession"
	OpGetSession     = "GetSession"
	OpCloseSession   = "CloseSession"
)

// NewFormError creates a new form error
func NewFormError(code string, message string, err error) error {
	return &Error{
		Domain:   FormDomain,
		Code:     code,
		Message:  message,
		Original: err,
	}
}

// FormErrorf creates a new form error with formatted message
func FormErrorf(code string, format string, args ...interface{}) error {
	return &Error{
		Domain:  FormDomain,
		Code:    code,
		Message: Sprintf(format, args...),
	}
}

// FormWrap wraps an error with form domain
func FormWrap(err error, operation string, message string) error {
	if err == nil {
		return nil
	}

	return &Error{
		Domain:    FormDomain,
		Operation: operation,
		Message:   message,
		Original:  err,
	}
}

package coolfhir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/SanteonNL/orca/smarthost/lib/to"
	"github.com/rs/zerolog/log"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// SanitizeOperationOutcome removes security-related information from an OperationOutcome, replacing it with a generic message,
// so that it can be safely returned to the client.
// It follows the code list from the FHIR specification: https://www.hl7.org/fhir/codesystem-issue-type.html#issue-type-security
func SanitizeOperationOutcome(in fhir.OperationOutcome) fhir.OperationOutcome {
	result := in
	result.Issue = nil
	for _, issue := range in.Issue {
		switch issue.Code {
		case fhir.IssueTypeSecurity, fhir.IssueTypeLogin, fhir.IssueTypeUnknown,
			fhir.IssueTypeExpired, fhir.IssueTypeForbidden, fhir.IssueTypeSuppressed:
			result.Issue = append(result.Issue, fhir.OperationOutcomeIssue{
				Severity:    issue.Severity,
				Code:        fhir.IssueTypeProcessing,
				Diagnostics: to.Ptr("upstream FHIR server error"),
			})
		default:
			result.Issue = append(result.Issue, issue)
		}
	}
	return result
}

// ErrorWithCode is a wrapped error struct that can take an error message as well as an HTTP status code
type ErrorWithCode struct {
	Message    string
	StatusCode int
}

func (e ErrorWithCode) Error() string {
	return e.Message
}

func NewErrorWithCode(message string, statusCode int) error {
	return &ErrorWithCode{
		Message:    message,
		StatusCode: statusCode,
	}
}

// BadRequest creates an error with a status code of 400
func BadRequest(msg string, args ...any) error {
	return &ErrorWithCode{
		Message:    fmt.Sprintf(msg, args...),
		StatusCode: http.StatusBadRequest,
	}
}

// NotFound creates an error with a status code of 404
func NotFound(msg string, args ...any) error {
	return &ErrorWithCode{
		Message:    fmt.Sprintf(msg, args...),
		StatusCode: http.StatusNotFound,
	}
}

// StatusCode returns the HTTP status code carried by the error, or 500 if it doesn't carry one.
func StatusCode(err error) int {
	if operationOutcomeErr, ok := asOperationOutcomeError(err); ok && operationOutcomeErr.HttpStatusCode > 0 {
		return operationOutcomeErr.HttpStatusCode
	}
	var errorWithCode *ErrorWithCode
	if errors.As(err, &errorWithCode) && errorWithCode.StatusCode > 0 {
		return errorWithCode.StatusCode
	}
	return http.StatusInternalServerError
}

// asOperationOutcomeError unwraps an OperationOutcomeError, which the FHIR client returns both by value and by pointer.
func asOperationOutcomeError(err error) (*fhirclient.OperationOutcomeError, bool) {
	var value fhirclient.OperationOutcomeError
	if errors.As(err, &value) {
		return &value, true
	}
	var ptr *fhirclient.OperationOutcomeError
	if errors.As(err, &ptr) && ptr != nil {
		return ptr, true
	}
	return nil, false
}

// WriteOperationOutcomeFromError writes an OperationOutcome based on the given error as HTTP response.
// The status code is taken from the error (see StatusCode), diagnostics of upstream OperationOutcomes are sanitized
// unless they describe a bad request.
func WriteOperationOutcomeFromError(ctx context.Context, err error, desc string, httpResponse http.ResponseWriter) {
	log.Ctx(ctx).Error().Err(err).Msgf("%s failed", desc)

	statusCode := StatusCode(err)
	var operationOutcome fhir.OperationOutcome
	if operationOutcomeErr, ok := asOperationOutcomeError(err); ok {
		operationOutcome = operationOutcomeErr.OperationOutcome
		if statusCode != http.StatusBadRequest {
			operationOutcome = SanitizeOperationOutcome(operationOutcome)
		}
	} else {
		diagnostics := http.StatusText(statusCode)
		if statusCode == http.StatusBadRequest || statusCode == http.StatusNotFound {
			diagnostics = err.Error()
		}
		operationOutcome = fhir.OperationOutcome{
			Issue: []fhir.OperationOutcomeIssue{
				{
					Severity:    fhir.IssueSeverityError,
					Code:        fhir.IssueTypeProcessing,
					Diagnostics: to.Ptr(fmt.Sprintf("%s failed: %s", desc, diagnostics)),
				},
			},
		}
	}
	SendResponse(httpResponse, statusCode, operationOutcome)
}

// SendResponse writes the given resource as FHIR JSON response.
func SendResponse(httpResponse http.ResponseWriter, httpStatus int, resource interface{}) {
	data, err := json.Marshal(resource)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		httpResponse.WriteHeader(http.StatusInternalServerError)
		return
	}
	httpResponse.Header().Set("Content-Type", FHIRContentType)
	httpResponse.WriteHeader(httpStatus)
	if _, err = httpResponse.Write(data); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

const FHIRContentType = "application/fhir+json"

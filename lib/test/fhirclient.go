package test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/SanteonNL/orca/smarthost/lib/must"
	"github.com/SanteonNL/orca/smarthost/lib/to"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

type baseResource struct {
	Id         string            `json:"id"`
	Identifier []fhir.Identifier `json:"identifier"`
	Type       string            `json:"resourceType"`
}

var _ fhirclient.Client = &StubFHIRClient{}

// StubFHIRClient is an in-memory FHIR client that supports reading resources by path and searching by identifier.
type StubFHIRClient struct {
	Resources []any
	// Error is an error that will be returned by all methods of this client.
	Error error
}

func (s *StubFHIRClient) Read(path string, target any, opts ...fhirclient.Option) error {
	return s.ReadWithContext(context.Background(), path, target, opts...)
}

func (s *StubFHIRClient) ReadWithContext(_ context.Context, path string, target any, _ ...fhirclient.Option) error {
	if s.Error != nil {
		return s.Error
	}
	for _, resource := range s.Resources {
		data, base := describe(resource)
		if path == base.Type+"/"+base.Id {
			return json.Unmarshal(data, target)
		}
	}
	return fhirclient.OperationOutcomeError{
		OperationOutcome: fhir.OperationOutcome{
			Issue: []fhir.OperationOutcomeIssue{{
				Severity:    fhir.IssueSeverityError,
				Code:        fhir.IssueTypeNotFound,
				Diagnostics: to.Ptr("Resource " + path + " is not known"),
			}},
		},
		HttpStatusCode: http.StatusNotFound,
	}
}

func (s *StubFHIRClient) Search(resourceType string, query url.Values, target any, opts ...fhirclient.Option) error {
	return s.SearchWithContext(context.Background(), resourceType, query, target, opts...)
}

// SearchWithContext only supports the identifier search parameter (system|value).
func (s *StubFHIRClient) SearchWithContext(_ context.Context, resourceType string, query url.Values, target any, _ ...fhirclient.Option) error {
	if s.Error != nil {
		return s.Error
	}
	bundle := fhir.Bundle{Type: fhir.BundleTypeSearchset}
	token := strings.SplitN(query.Get("identifier"), "|", 2)
	for _, resource := range s.Resources {
		data, base := describe(resource)
		if base.Type != resourceType {
			continue
		}
		if query.Has("identifier") && !matchesIdentifier(base.Identifier, token) {
			continue
		}
		bundle.Entry = append(bundle.Entry, fhir.BundleEntry{Resource: data})
	}
	bundle.Total = to.Ptr(len(bundle.Entry))
	data, _ := json.Marshal(bundle)
	return json.Unmarshal(data, target)
}

func matchesIdentifier(identifiers []fhir.Identifier, token []string) bool {
	system, value := "", token[0]
	if len(token) == 2 {
		system, value = token[0], token[1]
	}
	for _, identifier := range identifiers {
		if (system == "" || to.EmptyString(identifier.System) == system) && to.EmptyString(identifier.Value) == value {
			return true
		}
	}
	return false
}

func describe(resource any) ([]byte, baseResource) {
	data, err := json.Marshal(resource)
	if err != nil {
		panic(err)
	}
	var result baseResource
	if err := json.Unmarshal(data, &result); err != nil {
		panic(err)
	}
	return data, result
}

var errNotSupported = errors.New("not supported by stub FHIR client")

func (s *StubFHIRClient) Create(resource any, result any, opts ...fhirclient.Option) error {
	return errNotSupported
}

func (s *StubFHIRClient) CreateWithContext(ctx context.Context, resource any, result any, opts ...fhirclient.Option) error {
	return errNotSupported
}

func (s *StubFHIRClient) Update(path string, resource any, result any, opts ...fhirclient.Option) error {
	return errNotSupported
}

func (s *StubFHIRClient) UpdateWithContext(ctx context.Context, path string, resource any, result any, opts ...fhirclient.Option) error {
	return errNotSupported
}

func (s *StubFHIRClient) Delete(path string, opts ...fhirclient.Option) error {
	return errNotSupported
}

func (s *StubFHIRClient) DeleteWithContext(ctx context.Context, path string, opts ...fhirclient.Option) error {
	return errNotSupported
}

func (s *StubFHIRClient) Path(path ...string) *url.URL {
	return must.ParseURL("http://example.com/fhir").JoinPath(path...)
}

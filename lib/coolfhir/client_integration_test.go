//go:build slowtests

package coolfhir

import (
	"context"
	"testing"

	"github.com/SanteonNL/orca/smarthost/lib/test"
	"github.com/SanteonNL/orca/smarthost/lib/to"
	"github.com/stretchr/testify/require"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

func TestNewClient_HAPI(t *testing.T) {
	ctx := context.Background()
	baseURL := test.SetupHAPI(t)
	client, err := NewClient(ctx, ClientConfig{BaseURL: baseURL.String()})
	require.NoError(t, err)

	patient := fhir.Patient{
		Id: to.Ptr("p1"),
		Name: []fhir.HumanName{
			{
				Given:  []string{"Jan"},
				Family: to.Ptr("Jansen"),
			},
		},
	}
	require.NoError(t, client.UpdateWithContext(ctx, "Patient/p1", patient, &patient))

	t.Run("read patient", func(t *testing.T) {
		var actual fhir.Patient
		require.NoError(t, client.ReadWithContext(ctx, "Patient/p1", &actual))
		require.Equal(t, "Jansen, Jan", FormatPatientName(actual))
	})
	t.Run("unknown patient", func(t *testing.T) {
		var actual fhir.Patient
		err := client.ReadWithContext(ctx, "Patient/unknown", &actual)
		require.Error(t, err)
	})
}

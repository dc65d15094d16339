//go:build slowtests

package messaging

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SanteonNL/orca/smarthost/lib/to"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"
)

const emulatorSQLPassword = "Z4perS3!cr3!t"

func TestAzureServiceBusBroker(t *testing.T) {
	ctx := context.Background()
	requests := Entity{Name: "smart-requests"}
	responses := Entity{Name: "smart-responses"}
	missing := Entity{Name: "smart-missing"}
	broker, err := newAzureServiceBusBroker(AzureServiceBusConfig{
		ConnectionString: startServiceBusEmulator(t),
	}, []Entity{requests, responses, missing}, "")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = broker.Close(ctx)
	})

	received := make(chan Message, 1)
	require.NoError(t, broker.ReceiveFromQueue(requests, func(_ context.Context, message Message) error {
		received <- message
		return nil
	}))
	var failedAttempts atomic.Int32
	require.NoError(t, broker.ReceiveFromQueue(responses, func(_ context.Context, _ Message) error {
		failedAttempts.Add(1)
		return errors.New("recipient is gone")
	}))

	t.Run("SMART request is delivered", func(t *testing.T) {
		err := broker.SendMessage(ctx, requests, &Message{
			Body:          []byte(`{"desktopId":"d1","request":{"messageId":"m1","messageType":"status"}}`),
			ContentType:   "application/json",
			CorrelationID: to.Ptr("m1"),
			TimeToLive:    time.Minute,
		})
		require.NoError(t, err)

		select {
		case message := <-received:
			require.JSONEq(t, `{"desktopId":"d1","request":{"messageId":"m1","messageType":"status"}}`, string(message.Body))
			require.Equal(t, "application/json", message.ContentType)
			require.Equal(t, "m1", to.EmptyString(message.CorrelationID))
		case <-time.After(10 * time.Second):
			t.Fatal("timeout waiting for SMART request")
		}
	})
	t.Run("message is dead-lettered after repeated handler failures", func(t *testing.T) {
		err := broker.SendMessage(ctx, responses, &Message{
			Body:        []byte(`{"desktopId":"d1","response":{"responseToMessageId":"m1"}}`),
			ContentType: "application/json",
		})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return failedAttempts.Load() == maxDeliveryAttempts
		}, 30*time.Second, 100*time.Millisecond)
		time.Sleep(2 * time.Second)
		require.Equal(t, int32(maxDeliveryAttempts), failedAttempts.Load())
	})
	t.Run("entity without sender", func(t *testing.T) {
		err := broker.SendMessage(ctx, Entity{Name: "smart-unknown"}, &Message{Body: []byte(`{}`)})
		require.EqualError(t, err, "azure service bus: no sender for entity smart-unknown")
	})
	t.Run("queue that doesn't exist", func(t *testing.T) {
		err := broker.SendMessage(ctx, missing, &Message{Body: []byte(`{}`)})
		require.ErrorContains(t, err, "azure service bus: send to queue smart-missing")
		require.ErrorContains(t, err, "amqp:not-found")
	})
	t.Run("close", func(t *testing.T) {
		require.NoError(t, broker.Close(ctx))
	})
}

// startServiceBusEmulator starts the Azure Service Bus emulator (and the SQL Server it requires) with the queues
// of servicebus-emulator.json, and returns the connection string.
func startServiceBusEmulator(t *testing.T) string {
	ctx := context.Background()
	dockerNetwork, err := network.New(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = dockerNetwork.Remove(ctx)
	})

	t.Log("Starting SQL Server...")
	sqlServer := startContainer(t, tc.ContainerRequest{
		Image:        "mcr.microsoft.com/mssql/server:2022-latest",
		ExposedPorts: []string{"1433/tcp"},
		Networks:     []string{dockerNetwork.Name},
		Env: map[string]string{
			"ACCEPT_EULA":       "Y",
			"MSSQL_SA_PASSWORD": emulatorSQLPassword,
		},
	})
	sqlServerName, err := sqlServer.Name(ctx)
	require.NoError(t, err)

	t.Log("Starting Azure Service Bus emulator...")
	const amqpPort = "5672/tcp"
	const healthPort = "5300/tcp"
	emulator := startContainer(t, tc.ContainerRequest{
		Image:        "mcr.microsoft.com/azure-messaging/servicebus-emulator:1.1.2",
		ExposedPorts: []string{amqpPort, healthPort},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(amqpPort),
			wait.ForHTTP("/health").WithPort(healthPort),
		),
		Networks: []string{dockerNetwork.Name},
		Files: []tc.ContainerFile{{
			HostFilePath:      "servicebus-emulator.json",
			ContainerFilePath: "/ServiceBus_Emulator/ConfigFiles/Config.json",
			FileMode:          0444,
		}},
		Env: map[string]string{
			"SQL_SERVER":        strings.TrimPrefix(sqlServerName, "/"),
			"MSSQL_SA_PASSWORD": emulatorSQLPassword,
			"ACCEPT_EULA":       "Y",
			"SQL_WAIT_INTERVAL": "0",
		},
	})
	endpoint, err := emulator.PortEndpoint(ctx, amqpPort, "")
	require.NoError(t, err)
	// The emulator reports healthy before its queues accept connections.
	// See https://github.com/Azure/azure-service-bus-emulator-installer/issues/35
	time.Sleep(3 * time.Second)
	return "Endpoint=sb://" + endpoint + ";SharedAccessKeyName=RootManageSharedAccessKey;SharedAccessKey=SAS_KEY_VALUE;UseDevelopmentEmulator=true;"
}

func startContainer(t *testing.T, request tc.ContainerRequest) tc.Container {
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: request,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})
	return container
}

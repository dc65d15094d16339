package shell

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SanteonNL/orca/smarthost/events"
	"github.com/SanteonNL/orca/smarthost/lib/must"
	"github.com/SanteonNL/orca/smarthost/lib/test"
	"github.com/SanteonNL/orca/smarthost/lib/to"
	"github.com/SanteonNL/orca/smarthost/messaging"
	"github.com/SanteonNL/orca/smarthost/smart/broker"
	"github.com/SanteonNL/orca/smarthost/smart/container"
	"github.com/SanteonNL/orca/smarthost/smart/handler"
	"github.com/SanteonNL/orca/smarthost/smart/launch"
	"github.com/SanteonNL/orca/smarthost/smart/manifest"
	"github.com/SanteonNL/orca/smarthost/sse"
	"github.com/SanteonNL/orca/smarthost/user"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

type testShell struct {
	config   Config
	server   *httptest.Server
	client   *http.Client
	sessions *user.SessionManager[Desktop]
	events   *sse.Service
}

func setupShell(t *testing.T) *testShell {
	plugins := manifest.NewRegistry()
	plugins.Register(&manifest.PluginDefinition{
		ID:   "smart_growth_chart",
		Name: "Growth Chart",
		Manifest: manifest.Manifest{
			"client_id":  "growth_chart",
			"launch_uri": "http://app/launch.html",
			"scope":      "patient",
		},
	})
	plugins.Register(&manifest.PluginDefinition{
		ID:       "smart_broken",
		Name:     "Broken",
		Manifest: manifest.Manifest{"launch_uri": "http://app/launch.html", "scope": "encounter"},
	})
	store := launch.NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	contextService := launch.NewContextService("", "http://fhir", "", launch.NewStoreBinder(store))

	eventManager := events.NewManager(messaging.NewMemoryBroker())
	messageBroker := broker.New(eventManager, time.Minute)
	require.NoError(t, messageBroker.Start())
	t.Cleanup(messageBroker.Stop)
	dispatcher := handler.NewDispatcher(eventManager, time.Minute)
	cds := handler.NewCdsHookHandler(dispatcher)
	dispatcher.Register(cds)
	require.NoError(t, dispatcher.Start())

	fhirClient := &test.StubFHIRClient{
		Resources: []any{
			fhir.Patient{
				Id: to.Ptr("p1"),
				Name: []fhir.HumanName{{
					Given:  []string{"Jan"},
					Family: to.Ptr("Jansen"),
				}},
			},
		},
	}
	sessions := user.NewSessionManager[Desktop](time.Hour)
	eventService := sse.New()
	config := Config{Username: "clinician", Password: "secret"}
	service := New(config, sessions, plugins, contextService, messageBroker, eventService, cds, fhirClient, must.ParseURL("http://shell"))
	mux := http.NewServeMux()
	service.RegisterHandlers(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	t.Cleanup(service.DestroyAll)

	jar, _ := cookiejar.New(nil)
	return &testShell{
		config:   config,
		server:   server,
		client:   &http.Client{Jar: jar},
		sessions: sessions,
		events:   eventService,
	}
}

func (s *testShell) do(t *testing.T, method, path string, body string) (int, []byte) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	request, err := http.NewRequest(method, s.server.URL+path, reader)
	require.NoError(t, err)
	request.SetBasicAuth(s.config.Username, s.config.Password)
	response, err := s.client.Do(request)
	require.NoError(t, err)
	defer response.Body.Close()
	data, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	return response.StatusCode, data
}

func (s *testShell) createSession(t *testing.T) string {
	status, data := s.do(t, http.MethodPost, "/shell/session", "")
	require.Equal(t, http.StatusCreated, status)
	var response sessionResponse
	require.NoError(t, json.Unmarshal(data, &response))
	return response.Desktop
}

func (s *testShell) createContainer(t *testing.T, plugin string) container.State {
	status, data := s.do(t, http.MethodPost, "/shell/containers", `{"plugin":"`+plugin+`"}`)
	require.Equal(t, http.StatusCreated, status, string(data))
	var state container.State
	require.NoError(t, json.Unmarshal(data, &state))
	return state
}

func (s *testShell) getContainer(t *testing.T, id string) container.State {
	status, data := s.do(t, http.MethodGet, "/shell/containers/"+id, "")
	require.Equal(t, http.StatusOK, status)
	var state container.State
	require.NoError(t, json.Unmarshal(data, &state))
	return state
}

func receive(t *testing.T, messages <-chan string) map[string]any {
	select {
	case msg := <-messages:
		var result map[string]any
		require.NoError(t, json.Unmarshal([]byte(msg), &result))
		return result
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for container event")
		return nil
	}
}

func TestService_Session(t *testing.T) {
	t.Run("endpoints require a session", func(t *testing.T) {
		shell := setupShell(t)
		for _, path := range []string{"/shell/plugins", "/shell/containers/1"} {
			status, _ := shell.do(t, http.MethodGet, path, "")
			require.Equal(t, http.StatusUnauthorized, status, path)
		}
	})
	t.Run("create and destroy", func(t *testing.T) {
		shell := setupShell(t)
		require.NotEmpty(t, shell.createSession(t))
		require.Equal(t, 1, shell.sessions.SessionCount())
		shell.createContainer(t, "smart_growth_chart")

		status, _ := shell.do(t, http.MethodDelete, "/shell/session", "")

		require.Equal(t, http.StatusNoContent, status)
		require.Equal(t, 0, shell.sessions.SessionCount())
		status, _ = shell.do(t, http.MethodGet, "/shell/plugins", "")
		require.Equal(t, http.StatusUnauthorized, status)
	})
	t.Run("session holds the desktop", func(t *testing.T) {
		shell := setupShell(t)
		request, err := http.NewRequest(http.MethodPost, shell.server.URL+"/shell/session", nil)
		require.NoError(t, err)
		request.SetBasicAuth(shell.config.Username, shell.config.Password)
		response, err := shell.client.Do(request)
		require.NoError(t, err)
		defer response.Body.Close()
		var created sessionResponse
		require.NoError(t, json.NewDecoder(response.Body).Decode(&created))

		desktop := user.SessionFromHttpResponse(shell.sessions, response)

		require.NotNil(t, desktop)
		require.Equal(t, created.Desktop, desktop.ID())
	})
	t.Run("creating a session requires credentials", func(t *testing.T) {
		shell := setupShell(t)
		for _, password := range []string{"", "wrong"} {
			request, err := http.NewRequest(http.MethodPost, shell.server.URL+"/shell/session", nil)
			require.NoError(t, err)
			if password != "" {
				request.SetBasicAuth(shell.config.Username, password)
			}
			response, err := shell.client.Do(request)
			require.NoError(t, err)
			_ = response.Body.Close()

			require.Equal(t, http.StatusUnauthorized, response.StatusCode)
			require.Equal(t, `Basic realm="shell"`, response.Header.Get("WWW-Authenticate"))
		}
		require.Equal(t, 0, shell.sessions.SessionCount())
	})
	t.Run("creating a session replaces the existing one", func(t *testing.T) {
		shell := setupShell(t)
		first := shell.createSession(t)
		second := shell.createSession(t)
		require.NotEqual(t, first, second)
		require.Equal(t, 1, shell.sessions.SessionCount())
	})
}

func TestService_Plugins(t *testing.T) {
	shell := setupShell(t)
	shell.createSession(t)

	status, data := shell.do(t, http.MethodGet, "/shell/plugins", "")

	require.Equal(t, http.StatusOK, status)
	var plugins []manifest.PluginDefinition
	require.NoError(t, json.Unmarshal(data, &plugins))
	require.Len(t, plugins, 2)
	require.Equal(t, "smart_broken", plugins[0].ID)
	require.Equal(t, "smart_growth_chart", plugins[1].ID)
}

func TestService_Containers(t *testing.T) {
	shell := setupShell(t)
	shell.createSession(t)

	t.Run("launch URL follows the active patient", func(t *testing.T) {
		state := shell.createContainer(t, "smart_growth_chart")
		require.Equal(t, "smart_growth_chart", state.Plugin)
		require.Empty(t, state.Src)

		status, data := shell.do(t, http.MethodPut, "/shell/context/patient", `{"id":"p1"}`)
		require.Equal(t, http.StatusOK, status)
		require.JSONEq(t, `{"scope":"patient","id":"p1","display":"Jansen, Jan"}`, string(data))

		src := shell.getContainer(t, state.ID).Src
		require.True(t, strings.HasPrefix(src, "http://app/launch.html?iss=http%3A%2F%2Ffhir&launch="), src)

		status, _ = shell.do(t, http.MethodDelete, "/shell/context/patient", "")
		require.Equal(t, http.StatusNoContent, status)
		require.Empty(t, shell.getContainer(t, state.ID).Src)
	})
	t.Run("unknown patient", func(t *testing.T) {
		status, _ := shell.do(t, http.MethodPut, "/shell/context/patient", `{"id":"p2"}`)
		require.Equal(t, http.StatusNotFound, status)
	})
	t.Run("user context", func(t *testing.T) {
		status, _ := shell.do(t, http.MethodPut, "/shell/context/user", `{"id":"u1"}`)
		require.Equal(t, http.StatusOK, status)
	})
	t.Run("unknown context scope", func(t *testing.T) {
		status, _ := shell.do(t, http.MethodPut, "/shell/context/encounter", `{"id":"e1"}`)
		require.Equal(t, http.StatusNotFound, status)
	})
	t.Run("unknown plugin", func(t *testing.T) {
		status, _ := shell.do(t, http.MethodPost, "/shell/containers", `{"plugin":"smart_unknown"}`)
		require.Equal(t, http.StatusNotFound, status)
	})
	t.Run("plugin requiring unknown context", func(t *testing.T) {
		status, _ := shell.do(t, http.MethodPost, "/shell/containers", `{"plugin":"smart_broken"}`)
		require.Equal(t, http.StatusInternalServerError, status)
	})
	t.Run("activation", func(t *testing.T) {
		state := shell.createContainer(t, "smart_growth_chart")

		status, data := shell.do(t, http.MethodPut, "/shell/containers/"+state.ID+"/active", `{"active":true}`)
		require.Equal(t, http.StatusOK, status)
		require.Contains(t, string(data), `"active":true`)
		require.True(t, shell.getContainer(t, state.ID).Active)

		status, _ = shell.do(t, http.MethodPut, "/shell/containers/"+state.ID+"/active", `{}`)
		require.Equal(t, http.StatusBadRequest, status)
	})
	t.Run("destroy", func(t *testing.T) {
		state := shell.createContainer(t, "smart_growth_chart")

		status, _ := shell.do(t, http.MethodDelete, "/shell/containers/"+state.ID, "")
		require.Equal(t, http.StatusNoContent, status)

		status, _ = shell.do(t, http.MethodGet, "/shell/containers/"+state.ID, "")
		require.Equal(t, http.StatusNotFound, status)
	})
}

func TestService_Messages(t *testing.T) {
	shell := setupShell(t)
	desktopID := shell.createSession(t)
	state := shell.createContainer(t, "smart_growth_chart")
	messages, unsubscribe := shell.events.Subscribe(desktopID + "/" + state.ID)
	defer unsubscribe()

	t.Run("CDS hook response is relayed to the app", func(t *testing.T) {
		status, _ := shell.do(t, http.MethodPost, "/shell/containers/"+state.ID+"/messages",
			`{"messageId":"m1","messageType":"cdshook.listen","payload":{"cdshook":"growth-advisor"}}`)
		require.Equal(t, http.StatusAccepted, status)

		status, _ = shell.do(t, http.MethodPut, "/shell/cdshooks/patient-view/growth-advisor", `{"cards":[]}`)
		require.Equal(t, http.StatusNoContent, status)

		event := receive(t, messages)
		require.Equal(t, broker.EventResponse, event["type"])
		data := event["data"].(map[string]any)
		require.Equal(t, "m1", data["responseToMessageId"])
		require.NotEmpty(t, data["messageId"])
		require.Equal(t, map[string]any{"cards": []any{}}, data["payload"].(map[string]any)["response"])
	})
	t.Run("cleared CDS hook response", func(t *testing.T) {
		status, _ := shell.do(t, http.MethodDelete, "/shell/cdshooks/patient-view/growth-advisor", "")
		require.Equal(t, http.StatusNoContent, status)
		status, _ = shell.do(t, http.MethodPut, "/shell/cdshooks/patient-view/growth-advisor", `null`)
		require.Equal(t, http.StatusBadRequest, status)
	})
	t.Run("trigger", func(t *testing.T) {
		status, _ := shell.do(t, http.MethodPost, "/shell/cdshooks/trigger", "")
		require.Equal(t, http.StatusNoContent, status)
		status, _ = shell.do(t, http.MethodPost, "/shell/cdshooks/trigger?hook=patient-view", "")
		require.Equal(t, http.StatusNoContent, status)
	})
	t.Run("refresh", func(t *testing.T) {
		status, _ := shell.do(t, http.MethodPost, "/shell/refresh", "")
		require.Equal(t, http.StatusNoContent, status)
	})
	t.Run("missing message ID", func(t *testing.T) {
		status, data := shell.do(t, http.MethodPost, "/shell/containers/"+state.ID+"/messages", `{"messageType":"cdshook.listen"}`)
		require.Equal(t, http.StatusBadRequest, status)
		require.Contains(t, string(data), "SMART request requires a messageId")
	})
	t.Run("missing message type", func(t *testing.T) {
		status, data := shell.do(t, http.MethodPost, "/shell/containers/"+state.ID+"/messages", `{"messageId":"m2"}`)
		require.Equal(t, http.StatusBadRequest, status)
		require.Contains(t, string(data), "SMART request requires a messageType")
	})
}

func TestService_WebSocket(t *testing.T) {
	shell := setupShell(t)
	desktopID := shell.createSession(t)
	state := shell.createContainer(t, "smart_growth_chart")

	wsURL := "ws" + strings.TrimPrefix(shell.server.URL, "http") + "/shell/containers/" + state.ID + "/ws"
	header := http.Header{}
	for _, cookie := range shell.client.Jar.Cookies(must.ParseURL(shell.server.URL)) {
		header.Add("Cookie", cookie.String())
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool {
		return shell.events.ClientCount(desktopID+"/"+state.ID) == 1
	}, 5*time.Second, 10*time.Millisecond)

	read := func() map[string]any {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var result map[string]any
		require.NoError(t, conn.ReadJSON(&result))
		return result
	}

	t.Run("invalid request", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(map[string]any{"messageId": "m1"}))
		require.Equal(t, map[string]any{"type": "error", "error": "SMART request requires a messageType"}, read())
	})
	t.Run("request and response", func(t *testing.T) {
		status, _ := shell.do(t, http.MethodPut, "/shell/cdshooks/patient-view/growth-advisor", `{"cards":[]}`)
		require.Equal(t, http.StatusNoContent, status)

		require.NoError(t, conn.WriteJSON(map[string]any{
			"messageId":   "m2",
			"messageType": "cdshook.listen",
			"payload":     map[string]any{"cdshook": "growth-advisor"},
		}))

		event := read()
		require.Equal(t, broker.EventResponse, event["type"])
		require.Equal(t, "m2", event["data"].(map[string]any)["responseToMessageId"])
	})
	t.Run("closed when the container is destroyed", func(t *testing.T) {
		status, _ := shell.do(t, http.MethodDelete, "/shell/containers/"+state.ID, "")
		require.Equal(t, http.StatusNoContent, status)

		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, err := conn.ReadMessage()
		require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
	})
}

func TestService_SessionExpiry(t *testing.T) {
	ctx := context.Background()
	sessions := user.NewSessionManager[Desktop](-time.Minute)
	eventService := sse.New()
	New(Config{}, sessions, manifest.NewRegistry(), nil, nil, eventService, nil, nil, nil)
	desktop := newDesktop(ctx, nil, nil, eventService, nil)
	sessions.Create(httptest.NewRecorder(), desktop)

	sessions.PruneSessions()

	require.Equal(t, 0, sessions.SessionCount())
	_, err := desktop.CreateContainer(ctx, &manifest.PluginDefinition{}, "")
	require.ErrorIs(t, err, errDesktopDestroyed)
}

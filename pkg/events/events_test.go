package events

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() *LifecycleEvent {
	return &LifecycleEvent{
		EventID:     "e1",
		DataPlaneID: "dp1",
		MessageType: EventCreate,
		Body: &ResourceSpec{
			ResourceName: "example",
			ResourceType: ResourceTypeCoreDB,
			CPU:          "1",
			Memory:       "2Gi",
			Storage:      "1Gi",
		},
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"event_id": "e1",
		"data_plane_id": "dp1",
		"message_type": "Create",
		"body": {
			"resource_name": "example",
			"resource_type": "CoreDB",
			"cpu": "1",
			"memory": "2Gi",
			"storage": "1Gi"
		}
	}`)

	evt, err := Parse(payload)
	require.NoError(t, err)
	assert.Equal(t, "e1", evt.EventID)
	assert.Equal(t, "dp1", evt.DataPlaneID)
	assert.Equal(t, EventCreate, evt.MessageType)
	require.NotNil(t, evt.Body)
	assert.Equal(t, "example", evt.Body.ResourceName)
	assert.Equal(t, "2Gi", evt.Body.Memory)
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`{not json`))
	require.Error(t, err)
}

func TestRecoverEventID(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		payload string
		want    string
	}{
		"event_id present despite unknown shape": {
			payload: `{"event_id": "e9", "body": "not-an-object"}`,
			want:    "e9",
		},
		"no event_id field": {
			payload: `{"something": "else"}`,
			want:    "",
		},
		"not json at all": {
			payload: `garbage`,
			want:    "",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, RecoverEventID([]byte(tc.payload)))
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		mutate  func(*LifecycleEvent)
		wantErr string
	}{
		"valid create": {
			mutate: func(*LifecycleEvent) {},
		},
		"valid delete without sizing": {
			mutate: func(e *LifecycleEvent) {
				e.MessageType = EventDelete
				e.Body = &ResourceSpec{ResourceName: "example", ResourceType: ResourceTypeCoreDB}
			},
		},
		"missing event_id": {
			mutate:  func(e *LifecycleEvent) { e.EventID = "" },
			wantErr: "invalid lifecycle event",
		},
		"missing data_plane_id": {
			mutate:  func(e *LifecycleEvent) { e.DataPlaneID = "" },
			wantErr: "invalid lifecycle event",
		},
		"unknown message_type": {
			mutate:  func(e *LifecycleEvent) { e.MessageType = "Promote" },
			wantErr: `unknown message_type "Promote"`,
		},
		"report type as request": {
			mutate:  func(e *LifecycleEvent) { e.MessageType = EventCreated },
			wantErr: `unknown message_type "Created"`,
		},
		"missing body": {
			mutate:  func(e *LifecycleEvent) { e.Body = nil },
			wantErr: "has no body",
		},
		"unknown resource_type": {
			mutate:  func(e *LifecycleEvent) { e.Body.ResourceType = "MySQL" },
			wantErr: `unknown resource_type "MySQL"`,
		},
		"resource name not a dns label": {
			mutate:  func(e *LifecycleEvent) { e.Body.ResourceName = "Not_A_Label!" },
			wantErr: "invalid resource spec",
		},
		"resource name too long": {
			mutate: func(e *LifecycleEvent) {
				e.Body.ResourceName = "a-very-long-name-that-exceeds-the-fifty-three-character-limit"
			},
			wantErr: "invalid resource spec",
		},
		"organization within namespace budget": {
			mutate: func(e *LifecycleEvent) {
				e.Body.Organization = "acme"
			},
		},
		"derived namespace too long": {
			// Each part fits its own limit, but org-<org>-inst-<name> does
			// not fit a DNS label.
			mutate: func(e *LifecycleEvent) {
				e.Body.Organization = strings.Repeat("a", 30)
				e.Body.ResourceName = strings.Repeat("b", 30)
			},
			wantErr: "derived namespace",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			evt := validEvent()
			tc.mutate(evt)
			err := evt.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNamespace(t *testing.T) {
	t.Parallel()

	withOrg := &ResourceSpec{ResourceName: "example", Organization: "acme"}
	assert.Equal(t, "org-acme-inst-example", withOrg.Namespace())

	withoutOrg := &ResourceSpec{ResourceName: "example"}
	assert.Equal(t, "example", withoutOrg.Namespace())
}

func TestKey(t *testing.T) {
	t.Parallel()

	evt := validEvent()
	assert.Equal(t, "dp1/example", evt.Key())

	evt.Body = nil
	assert.Equal(t, "dp1/", evt.Key())
}

func TestReportType(t *testing.T) {
	t.Parallel()

	tests := map[EventType]EventType{
		EventCreate:  EventCreated,
		EventUpdate:  EventUpdated,
		EventRestart: EventRestarted,
		EventDelete:  EventDeleted,
	}
	for request, want := range tests {
		assert.Equal(t, want, request.ReportType(), "request %q", request)
	}

	assert.Equal(t, EventError, EventType("bogus").ReportType())
}

package signal

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncTag(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		wantTag string
		wantOK  bool
	}{
		{"simple tag", "offlinekit.sync.contact-form", "contact-form", true},
		{"tag with dots", "offlinekit.sync.forms.contact", "forms.contact", true},
		{"missing tag", "offlinekit.sync.", "", false},
		{"bare sync subject", "offlinekit.sync", "", false},
		{"wrong prefix", "other.sync.contact-form", "", false},
		{"control subject", "offlinekit.control.skipwaiting", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, ok := syncTag("offlinekit", tt.subject)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantTag, tag)
		})
	}
}

func TestSyncTag_CustomPrefix(t *testing.T) {
	tag, ok := syncTag("myapp", "myapp.sync.newsletter")
	require.True(t, ok)
	assert.Equal(t, "newsletter", tag)

	_, ok = syncTag("myapp", "offlinekit.sync.newsletter")
	assert.False(t, ok)
}

func TestSyncSubscribeSubject_MatchesDottedTags(t *testing.T) {
	// The multi-token wildcard is load-bearing: published subjects carry the
	// tag verbatim, and tags may contain dots.
	assert.Equal(t, "offlinekit.sync.>", syncSubscribeSubject("offlinekit"))
	assert.Equal(t, "myapp.sync.>", syncSubscribeSubject("myapp"))

	tag, ok := syncTag("offlinekit", "offlinekit.sync.forms.contact")
	require.True(t, ok)
	assert.Equal(t, "forms.contact", tag)
}

func TestWarmReply_RunsHandlerAndEncodesResults(t *testing.T) {
	var got []string
	warm := func(_ context.Context, urls []string) []WarmResult {
		got = urls
		return []WarmResult{
			{URL: "https://example.com/a", OK: true},
			{URL: "https://example.com/b", OK: false, Error: "connection refused"},
		}
	}

	req, err := json.Marshal(WarmRequest{URLs: []string{"https://example.com/a", "https://example.com/b"}})
	require.NoError(t, err)

	raw := warmReply(context.Background(), warm, req)

	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, got)

	var reply WarmReply
	require.NoError(t, json.Unmarshal(raw, &reply))
	require.Len(t, reply.Results, 2)
	assert.True(t, reply.Results[0].OK)
	assert.False(t, reply.Results[1].OK)
	assert.Equal(t, "connection refused", reply.Results[1].Error)
}

func TestWarmReply_MalformedRequestStillReplies(t *testing.T) {
	warm := func(_ context.Context, urls []string) []WarmResult {
		t.Fatal("handler must not run for malformed requests")
		return nil
	}

	raw := warmReply(context.Background(), warm, []byte("{not json"))

	var reply WarmReply
	require.NoError(t, json.Unmarshal(raw, &reply))
	assert.Empty(t, reply.Results)
}

func TestWarmReply_EmptyRequest(t *testing.T) {
	warm := func(_ context.Context, urls []string) []WarmResult {
		assert.Empty(t, urls)
		return nil
	}

	raw := warmReply(context.Background(), warm, nil)

	var reply WarmReply
	require.NoError(t, json.Unmarshal(raw, &reply))
	assert.NotNil(t, reply.Results, "nil handler results encode as an empty list")
	assert.Empty(t, reply.Results)
}

func TestNewBus_Validation(t *testing.T) {
	_, err := NewBus("")
	assert.Error(t, err)

	bus, err := NewBus("nats://localhost:4222")
	require.NoError(t, err)
	assert.NotNil(t, bus)
}

func TestBus_SubscribeRequiresConnection(t *testing.T) {
	bus, err := NewBus("nats://localhost:4222")
	require.NoError(t, err)

	err = bus.SubscribeSync(context.Background(), func(context.Context, string) {})
	assert.Error(t, err)

	err = bus.PublishSync("contact-form")
	assert.Error(t, err)
}

func TestBus_SubscribeRejectsNilHandlers(t *testing.T) {
	bus, err := NewBus("nats://localhost:4222")
	require.NoError(t, err)

	assert.Error(t, bus.SubscribeSync(context.Background(), nil))
	assert.Error(t, bus.SubscribeControl(context.Background(), nil, nil))
}

func TestBus_CloseWithoutConnectIsNoop(t *testing.T) {
	bus, err := NewBus("nats://localhost:4222")
	require.NoError(t, err)
	assert.NoError(t, bus.Close())
}

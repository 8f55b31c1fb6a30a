package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/grc-api/pkg/audit"
	"github.com/platinummonkey/grc-api/pkg/auth"
)

type fakeKeyAdmin struct {
	revokeErr error
	revoked   []string
}

func (f *fakeKeyAdmin) Create(ctx context.Context, orgID, name string, expiresAt *time.Time) (*auth.APIKey, string, error) {
	return &auth.APIKey{ID: "apk_1", OrganizationID: orgID, Name: name, KeyPrefix: "grc_abcd"}, "grc_abcdsecret", nil
}

func (f *fakeKeyAdmin) Revoke(ctx context.Context, orgID, id string) error {
	if f.revokeErr != nil {
		return f.revokeErr
	}
	f.revoked = append(f.revoked, orgID+"/"+id)
	return nil
}

type eventSink struct {
	events []*audit.AuditEvent
	err    error
}

func (s *eventSink) Log(ctx context.Context, event *audit.AuditEvent) error {
	s.events = append(s.events, event)
	return s.err
}

func (s *eventSink) Close() error { return nil }

func TestMintAPIKey(t *testing.T) {
	var out bytes.Buffer
	sink := &eventSink{}

	require.NoError(t, mintAPIKey(context.Background(), &out, &fakeKeyAdmin{}, sink, "org_1", "ci"))
	assert.Contains(t, out.String(), "Created API key apk_1 (grc_abcd) for organization org_1")
	assert.Contains(t, out.String(), "grc_abcdsecret")

	require.Len(t, sink.events, 1)
	assert.Equal(t, audit.EventTypeAPIKeyCreate, sink.events[0].EventType)
	assert.Equal(t, "ci", sink.events[0].ResourceName)
}

func TestRevokeAPIKey(t *testing.T) {
	t.Run("revoked", func(t *testing.T) {
		store := &fakeKeyAdmin{}
		sink := &eventSink{}

		require.NoError(t, revokeAPIKey(context.Background(), store, sink, "org_1", "apk_1"))
		assert.Equal(t, []string{"org_1/apk_1"}, store.revoked)
		require.Len(t, sink.events, 1)
		assert.Equal(t, audit.EventTypeAPIKeyRevoke, sink.events[0].EventType)
		assert.Equal(t, audit.EventStatusSuccess, sink.events[0].Status)
		assert.Equal(t, "apk_1", sink.events[0].ResourceID)
	})

	t.Run("unknown key is audited as a failure", func(t *testing.T) {
		store := &fakeKeyAdmin{revokeErr: errors.New("api key not found")}
		sink := &eventSink{}

		err := revokeAPIKey(context.Background(), store, sink, "org_2", "apk_1")
		assert.EqualError(t, err, "api key not found")
		require.Len(t, sink.events, 1)
		assert.Equal(t, audit.EventStatusFailure, sink.events[0].Status)
		assert.Equal(t, "api key not found", sink.events[0].ErrorMessage)
	})

	t.Run("audit failure is reported", func(t *testing.T) {
		sink := &eventSink{err: errors.New("sink down")}

		err := revokeAPIKey(context.Background(), &fakeKeyAdmin{}, sink, "org_1", "apk_1")
		assert.ErrorContains(t, err, "sink down")
	})
}

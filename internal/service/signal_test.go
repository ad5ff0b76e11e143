package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/appforge"
)

func TestChannelsFor(t *testing.T) {
	channels := channelsFor([]string{"a", "", "b", "a"})
	assert.Equal(t, []string{"application:a", "application:b"}, channels)
	assert.Empty(t, channelsFor(nil))
}

func TestDecodeEvent(t *testing.T) {
	sent := appforge.Event{
		Type:           appforge.EventApplicationPublished,
		ApplicationID:  "a1",
		OrganizationID: "org1",
		Timestamp:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(sent)
	require.NoError(t, err)

	got, err := decodeEvent(string(payload))
	require.NoError(t, err)
	assert.Equal(t, sent, got)

	_, err = decodeEvent("not json")
	assert.Error(t, err)
}

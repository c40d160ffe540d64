package mail_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billflowhq/billflow/pkg/mail"
)

func TestDevSender_Send(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sender := mail.NewDevSender(dir)

	err := sender.Send(context.Background(), mail.SendParams{
		To:       "user@example.com",
		Subject:  "Payment failed for invoice INV-202503-000001",
		BodyHTML: "<p>Please update your payment method.</p>",
		Tag:      "dunning-retry",
	})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var htmlFile, jsonFile string
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".html"):
			htmlFile = e.Name()
		case strings.HasSuffix(e.Name(), ".json"):
			jsonFile = e.Name()
		}
	}
	require.NotEmpty(t, htmlFile)
	require.NotEmpty(t, jsonFile)
	assert.Contains(t, htmlFile, "dunning-retry")

	body, err := os.ReadFile(filepath.Join(dir, htmlFile))
	require.NoError(t, err)
	assert.Contains(t, string(body), "update your payment method")

	metaRaw, err := os.ReadFile(filepath.Join(dir, jsonFile))
	require.NoError(t, err)

	var meta map[string]string
	require.NoError(t, json.Unmarshal(metaRaw, &meta))
	assert.Equal(t, "user@example.com", meta["to"])
	assert.Equal(t, "dunning-retry", meta["tag"])
}

func TestDevSender_RejectsInvalidParams(t *testing.T) {
	t.Parallel()

	sender := mail.NewDevSender(t.TempDir())

	err := sender.Send(context.Background(), mail.SendParams{To: "user@example.com"})
	assert.ErrorIs(t, err, mail.ErrInvalidParams)
}

package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/pkg/logger"
)

func TestKey(t *testing.T) {
	d := &model.Digest{
		ID:        "0192a3b4",
		ClientID:  "acme",
		PeriodEnd: time.Date(2026, 10, 1, 23, 30, 0, 0, time.FixedZone("EST", -5*3600)),
	}
	key, err := Key(d)
	require.NoError(t, err)
	assert.Equal(t, "acme/2026-10-02/0192a3b4.json", key)
}

func TestKeyEscapesSegments(t *testing.T) {
	key, err := Key(&model.Digest{ID: "x", ClientID: "../acme/eu", PeriodEnd: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, "__acme_eu/2026-01-02/x.json", key)
}

func TestKeyRequiresID(t *testing.T) {
	_, err := Key(&model.Digest{ClientID: "acme"})
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestNewRejectsBadConnectionString(t *testing.T) {
	_, err := New(Config{ConnectionString: "not a connection string"}, logger.NewNop())
	assert.Error(t, err)
}

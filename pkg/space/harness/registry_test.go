package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asp/pkg/space"
)

type stubAdapter struct{ id string }

func (s *stubAdapter) Metadata() space.AdapterMetadata {
	return space.AdapterMetadata{Id: s.id, Version: "1"}
}
func (s *stubAdapter) MaterializeSpace(ctx context.Context, input space.MaterializeInput) (*space.MaterializedSpace, error) {
	return nil, nil
}
func (s *stubAdapter) ComposeTarget(ctx context.Context, inputs []space.MaterializeInput, outputDir string) (*space.TargetBundle, error) {
	return nil, nil
}
func (s *stubAdapter) Validate(bundle *space.TargetBundle) []space.Warning { return nil }

var _ space.Adapter = (*stubAdapter)(nil)

func TestRegisterAndGet(t *testing.T) {
	Register("test-harness", &stubAdapter{id: "test-harness"})

	got, err := Get("test-harness")
	require.NoError(t, err)
	assert.Equal(t, "test-harness", got.Metadata().Id)
}

func TestGet_EmptyIdFallsBackToDefault(t *testing.T) {
	Register(DefaultId, &stubAdapter{id: DefaultId})

	got, err := Get("")
	require.NoError(t, err)
	assert.Equal(t, DefaultId, got.Metadata().Id)
}

func TestGet_UnknownIdFails(t *testing.T) {
	_, err := Get("nonexistent-harness-xyz")
	require.Error(t, err)
	var herr *space.HarnessError
	assert.ErrorAs(t, err, &herr)
}

func TestIds_IncludesRegistered(t *testing.T) {
	Register("another-harness", &stubAdapter{id: "another-harness"})
	assert.Contains(t, Ids(), "another-harness")
}

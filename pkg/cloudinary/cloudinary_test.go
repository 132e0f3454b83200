package cloudinary

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestDocumentPublicID(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	require.Equal(t, "session-4-alice-20260314T093000.txt", documentPublicID("session-4-alice.txt", at))
	require.Equal(t, "bob_smith-20260314T093000.md", documentPublicID("nested/bob_smith.MD", at))
	require.Equal(t, "carol-jones-20260314T093000.txt", documentPublicID("carol jones", at))
	require.Equal(t, "document-20260314T093000.txt", documentPublicID("???", at))
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{CloudName: "demo"}, zerolog.Nop())
	require.Error(t, err)
	require.False(t, Config{CloudName: "demo", APIKey: "key"}.Enabled())

	archive, err := New(Config{CloudName: "demo", APIKey: "key", APISecret: "secret", Folder: "/gema/exams/"}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "gema/exams", archive.folder)
}

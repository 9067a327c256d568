package cloudinary

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBuildPublicIDKeepsExtension(t *testing.T) {
	at := time.Unix(1717200000, 0)

	require.Equal(t, "relatorio-financeiro-2024-06-1717200000.xlsx", BuildPublicID("relatorio financeiro 2024-06.XLSX", at))
	require.Equal(t, "report-1717200000.xlsx", BuildPublicID("../ .xlsx", at))
	require.Equal(t, "Turma-A-1717200000", BuildPublicID("Turma A", at))
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{CloudName: "demo"}, zerolog.Nop())
	require.Error(t, err)
}

package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPONumber(t *testing.T) {
	issued := time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		template string
		seq      int64
		want     string
		wantErr  bool
	}{
		{name: "default", template: DefaultPONumberTemplate, seq: 1, want: "PO-2025-0001"},
		{name: "wider than pad", template: DefaultPONumberTemplate, seq: 12345, want: "PO-2025-12345"},
		{name: "date tokens", template: "PO{YY}{MM}{DD}-{SEQ}", seq: 42, want: "PO250307-42"},
		{name: "empty template", template: "", seq: 1, wantErr: true},
		{name: "zero sequence", template: DefaultPONumberTemplate, seq: 0, wantErr: true},
		{name: "unknown token", template: "PO-{QQ}-{SEQ4}", seq: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatPONumber(tt.template, issued, tt.seq)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

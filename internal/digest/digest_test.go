package digest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSum(t *testing.T) {
	require.Equal(t, Hash("4b3a6218bb3e3a7303e8a171a60fcf92"), Sum([]byte("bytes")))

	h, err := SumReader(strings.NewReader("bytes"))
	require.NoError(t, err)
	require.Equal(t, Sum([]byte("bytes")), h)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Hash
		wantErr bool
	}{
		{name: "lowercase", in: "4b3a6218bb3e3a7303e8a171a60fcf92", want: "4b3a6218bb3e3a7303e8a171a60fcf92"},
		{name: "uppercase is normalized", in: "4B3A6218BB3E3A7303E8A171A60FCF92", want: "4b3a6218bb3e3a7303e8a171a60fcf92"},
		{name: "not hex", in: "zz3a6218bb3e3a7303e8a171a60fcf92", wantErr: true},
		{name: "too short", in: "4b3a", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
